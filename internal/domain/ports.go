package domain

import (
	"context"

	"github.com/google/uuid"
)

// InteractionRow is the row written for a like, comment, or share.
// OpID is generated per mutation and persisted in the row so that the
// push-event echo can be matched back to the operation that caused it.
type InteractionRow struct {
	OpID     uuid.UUID
	ViewerID string
	Key      ContentKey
	Body     string
}

// RowStore is the durable persistence collaborator. Implementations map
// their backend's duplicate-row condition to ErrDuplicateKey and transport
// failures to ErrStoreUnavailable (wrapped).
type RowStore interface {
	// InsertRow writes an interaction row. Inserting a row that already
	// exists returns ErrDuplicateKey.
	InsertRow(ctx context.Context, table Table, row InteractionRow) error

	// DeleteRow removes the viewer's interaction row. Deleting an absent
	// row is not an error. The row carries the mutation's op id so the
	// delete's push-event echo is matchable like an insert's.
	DeleteRow(ctx context.Context, table Table, row InteractionRow) error

	// FetchCounters reads the authoritative counters and the viewer's like
	// membership for a content item.
	FetchCounters(ctx context.Context, viewerID string, key ContentKey) (Counters, error)
}

// Topic identifies one push channel: changes to one table, filtered
// server-side to one content item.
type Topic struct {
	Table Table
	Key   ContentKey
}

func (t Topic) String() string {
	return string(t.Table) + "/" + t.Key.String()
}

// TransportHandle is an active transport-level subscription.
type TransportHandle interface {
	Unsubscribe() error
}

// Transport is the push-notification collaborator. Delivery is
// at-least-once: events may be delayed, duplicated, or reordered.
type Transport interface {
	// Subscribe opens a channel of row changes for a topic. onEvent is
	// called from a transport goroutine; it must not block for long.
	Subscribe(ctx context.Context, topic Topic, onEvent func(Change)) (TransportHandle, error)

	// Broadcast publishes an ephemeral, non-persisted payload. Nothing
	// delivered this way is ever folded into counters.
	Broadcast(ctx context.Context, channel string, payload []byte) error

	// OnBroadcast subscribes to an ephemeral channel.
	OnBroadcast(ctx context.Context, channel string, onPayload func([]byte)) (TransportHandle, error)
}

// Suppressor is an optional cross-instance double-submission guard checked
// before an outbound write is issued. A false result means an identical
// submission was just made elsewhere (another tab or instance) and the
// write is skipped as already satisfied.
type Suppressor interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// SnapshotBroadcaster receives every new snapshot the engine produces, for
// fan-out to attached UI clients.
type SnapshotBroadcaster interface {
	BroadcastSnapshot(snapshot InteractionSnapshot)
}
