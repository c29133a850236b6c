package domain

import "github.com/google/uuid"

// Table names the durable tables whose changes this client observes.
type Table string

const (
	TableLikes    Table = "likes"
	TableComments Table = "comments"
	TableShares   Table = "shares"
	TableContent  Table = "content"
)

// ChangeKind is the kind of row change a push event describes.
type ChangeKind int

const (
	ChangeInsert ChangeKind = iota
	ChangeUpdate
	ChangeDelete
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeInsert:
		return "insert"
	case ChangeUpdate:
		return "update"
	case ChangeDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Row is the changed-row payload of a push event. OpID is the
// client-generated operation id embedded in the row at write time; it is
// uuid.Nil for rows written by clients that do not send one and for
// server-side denormalized updates. Counters is set only for content-table
// Update events.
type Row struct {
	ActorID     string
	ContentID   string
	ContentType ContentType
	OpID        uuid.UUID
	Counters    *CounterColumns
}

// Change is a single push event. Kind and Table form the tagged union the
// reconciler switches over exhaustively; anything that does not validate is
// discarded as malformed without touching state.
type Change struct {
	Kind  ChangeKind
	Table Table
	Row   Row
}

// Key returns the content key the change applies to.
func (c Change) Key() ContentKey {
	return ContentKey{Type: c.Row.ContentType, ID: c.Row.ContentID}
}

// Validate rejects payloads missing the fields the reconciler depends on.
func (c Change) Validate() error {
	switch c.Table {
	case TableLikes, TableComments, TableShares:
		if c.Row.ActorID == "" {
			return ErrMalformedPayload
		}
	case TableContent:
		if c.Kind == ChangeUpdate && c.Row.Counters == nil {
			return ErrMalformedPayload
		}
	default:
		return ErrMalformedPayload
	}

	switch c.Kind {
	case ChangeInsert, ChangeUpdate, ChangeDelete:
	default:
		return ErrMalformedPayload
	}

	if c.Row.ContentID == "" || !c.Row.ContentType.Valid() {
		return ErrMalformedPayload
	}
	return nil
}
