package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pulsegram/pulsegram/internal/domain"
)

const uniqueViolationCode = "23505"

// RowStore persists interaction rows in PostgreSQL. Duplicate inserts map
// to ErrDuplicateKey; anything that never reached the server maps to
// ErrStoreUnavailable so callers can tell outages from rejections.
type RowStore struct {
	pool *pgxpool.Pool
}

var _ domain.RowStore = (*RowStore)(nil)

func NewRowStore(pool *pgxpool.Pool) *RowStore {
	return &RowStore{pool: pool}
}

func (s *RowStore) InsertRow(ctx context.Context, table domain.Table, row domain.InteractionRow) error {
	var err error
	switch table {
	case domain.TableLikes:
		_, err = s.pool.Exec(ctx,
			`INSERT INTO likes (viewer_id, content_type, content_id, op_id) VALUES ($1, $2, $3, $4)`,
			row.ViewerID, string(row.Key.Type), row.Key.ID, nullableOpID(row.OpID))
	case domain.TableComments:
		_, err = s.pool.Exec(ctx,
			`INSERT INTO comments (viewer_id, content_type, content_id, body, op_id) VALUES ($1, $2, $3, $4, $5)`,
			row.ViewerID, string(row.Key.Type), row.Key.ID, row.Body, nullableOpID(row.OpID))
	case domain.TableShares:
		_, err = s.pool.Exec(ctx,
			`INSERT INTO shares (viewer_id, content_type, content_id, op_id) VALUES ($1, $2, $3, $4)`,
			row.ViewerID, string(row.Key.Type), row.Key.ID, nullableOpID(row.OpID))
	default:
		return fmt.Errorf("insert into unsupported table %q", table)
	}
	if err != nil {
		return mapError("insert row", err)
	}
	return nil
}

func (s *RowStore) DeleteRow(ctx context.Context, table domain.Table, row domain.InteractionRow) error {
	if table != domain.TableLikes {
		return fmt.Errorf("delete from unsupported table %q", table)
	}

	// Deleting an absent row is not an error: the desired state (no like
	// from this viewer) already holds. The row's op id travels only in
	// the published change event; the database row it names is gone.
	_, err := s.pool.Exec(ctx,
		`DELETE FROM likes WHERE viewer_id = $1 AND content_type = $2 AND content_id = $3`,
		row.ViewerID, string(row.Key.Type), row.Key.ID)
	if err != nil {
		return mapError("delete row", err)
	}
	return nil
}

func (s *RowStore) FetchCounters(ctx context.Context, viewerID string, key domain.ContentKey) (domain.Counters, error) {
	// The left join keeps unknown content items readable: they simply
	// have zero counters.
	const query = `
		SELECT COALESCE(c.likes_count, 0),
		       COALESCE(c.comments_count, 0),
		       COALESCE(c.shares_count, 0),
		       EXISTS (
		           SELECT 1 FROM likes l
		           WHERE l.viewer_id = $1 AND l.content_type = $2 AND l.content_id = $3
		       )
		FROM (SELECT 1) one
		LEFT JOIN content c ON c.content_type = $2 AND c.content_id = $3`

	var counters domain.Counters
	err := s.pool.QueryRow(ctx, query, viewerID, string(key.Type), key.ID).
		Scan(&counters.Likes, &counters.Comments, &counters.Shares, &counters.LikedByViewer)
	if err != nil {
		return domain.Counters{}, mapError("fetch counters", err)
	}
	return counters, nil
}

func nullableOpID(id uuid.UUID) any {
	if id == uuid.Nil {
		return nil
	}
	return id
}

// mapError translates pgx failures into the domain sentinels. A PgError
// means the server processed and rejected the statement; everything else
// (dial failures, timeouts, closed pools) is an availability problem.
func mapError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == uniqueViolationCode {
			return fmt.Errorf("%s: %w", op, domain.ErrDuplicateKey)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, domain.ErrStoreUnavailable, err)
}
