package store

import (
	"context"
	"log/slog"

	"github.com/pulsegram/pulsegram/internal/domain"
)

// ChangePublisher fans a row change out to every subscribed client.
type ChangePublisher interface {
	PublishChange(ctx context.Context, ch domain.Change) error
}

// PublishingStore decorates a RowStore so every successful durable write
// emits the matching push event. Publish failures are logged, not
// returned: the row is durable, and subscribers converge on their next
// authoritative fetch.
type PublishingStore struct {
	inner     domain.RowStore
	publisher ChangePublisher
}

var _ domain.RowStore = (*PublishingStore)(nil)

func NewPublishingStore(inner domain.RowStore, publisher ChangePublisher) *PublishingStore {
	return &PublishingStore{inner: inner, publisher: publisher}
}

func (s *PublishingStore) InsertRow(ctx context.Context, table domain.Table, row domain.InteractionRow) error {
	if err := s.inner.InsertRow(ctx, table, row); err != nil {
		return err
	}
	s.publish(ctx, domain.Change{
		Kind:  domain.ChangeInsert,
		Table: table,
		Row: domain.Row{
			ActorID:     row.ViewerID,
			ContentID:   row.Key.ID,
			ContentType: row.Key.Type,
			OpID:        row.OpID,
		},
	})
	return nil
}

func (s *PublishingStore) DeleteRow(ctx context.Context, table domain.Table, row domain.InteractionRow) error {
	if err := s.inner.DeleteRow(ctx, table, row); err != nil {
		return err
	}
	s.publish(ctx, domain.Change{
		Kind:  domain.ChangeDelete,
		Table: table,
		Row: domain.Row{
			ActorID:     row.ViewerID,
			ContentID:   row.Key.ID,
			ContentType: row.Key.Type,
			OpID:        row.OpID,
		},
	})
	return nil
}

func (s *PublishingStore) FetchCounters(ctx context.Context, viewerID string, key domain.ContentKey) (domain.Counters, error) {
	return s.inner.FetchCounters(ctx, viewerID, key)
}

func (s *PublishingStore) publish(ctx context.Context, ch domain.Change) {
	if err := s.publisher.PublishChange(ctx, ch); err != nil {
		slog.Warn("Failed to publish row change",
			"table", string(ch.Table), "kind", ch.Kind.String(), "error", err)
	}
}
