package redis

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/pulsegram/pulsegram/internal/domain"
)

// wireChange is the JSON shape of a row-change event on the wire.
type wireChange struct {
	Kind        string        `json:"kind"`
	Table       string        `json:"table"`
	ActorID     string        `json:"actor_id,omitempty"`
	ContentType string        `json:"content_type"`
	ContentID   string        `json:"content_id"`
	OpID        string        `json:"op_id,omitempty"`
	Counters    *wireCounters `json:"counters,omitempty"`
}

type wireCounters struct {
	Likes    int64 `json:"likes"`
	Comments int64 `json:"comments"`
	Shares   int64 `json:"shares"`
}

func encodeChange(ch domain.Change) ([]byte, error) {
	w := wireChange{
		Kind:        ch.Kind.String(),
		Table:       string(ch.Table),
		ActorID:     ch.Row.ActorID,
		ContentType: string(ch.Row.ContentType),
		ContentID:   ch.Row.ContentID,
	}
	if ch.Row.OpID != uuid.Nil {
		w.OpID = ch.Row.OpID.String()
	}
	if ch.Row.Counters != nil {
		w.Counters = &wireCounters{
			Likes:    ch.Row.Counters.Likes,
			Comments: ch.Row.Counters.Comments,
			Shares:   ch.Row.Counters.Shares,
		}
	}
	return json.Marshal(w)
}

func decodeChange(payload []byte) (domain.Change, error) {
	var w wireChange
	if err := json.Unmarshal(payload, &w); err != nil {
		return domain.Change{}, fmt.Errorf("unmarshal change: %w", err)
	}

	ch := domain.Change{
		Table: domain.Table(w.Table),
		Row: domain.Row{
			ActorID:     w.ActorID,
			ContentID:   w.ContentID,
			ContentType: domain.ContentType(w.ContentType),
		},
	}

	switch w.Kind {
	case domain.ChangeInsert.String():
		ch.Kind = domain.ChangeInsert
	case domain.ChangeUpdate.String():
		ch.Kind = domain.ChangeUpdate
	case domain.ChangeDelete.String():
		ch.Kind = domain.ChangeDelete
	default:
		return domain.Change{}, fmt.Errorf("unknown change kind %q", w.Kind)
	}

	if w.OpID != "" {
		opID, err := uuid.Parse(w.OpID)
		if err != nil {
			return domain.Change{}, fmt.Errorf("parse op id: %w", err)
		}
		ch.Row.OpID = opID
	}
	if w.Counters != nil {
		ch.Row.Counters = &domain.CounterColumns{
			Likes:    w.Counters.Likes,
			Comments: w.Counters.Comments,
			Shares:   w.Counters.Shares,
		}
	}
	return ch, nil
}
