package postgres

import (
	"context"
	"flag"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pulsegram/pulsegram/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	flag.Parse()

	// Skip container setup if running in short mode
	if testing.Short() {
		os.Exit(m.Run())
	}

	ctx := context.Background()

	postgresContainer, err := tcpostgres.Run(ctx,
		"postgres:17-alpine",
		tcpostgres.WithDatabase("testdb"),
		tcpostgres.WithUsername("testuser"),
		tcpostgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start postgres container: %v\n", err)
		os.Exit(1)
	}

	defer func() {
		if err := postgresContainer.Terminate(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to terminate postgres container: %v\n", err)
		}
	}()

	connStr, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to get connection string: %v\n", err)
		os.Exit(1)
	}

	testPool, err = Connect(ctx, connStr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to test database: %v\n", err)
		os.Exit(1)
	}
	defer testPool.Close()

	if err := RunMigrationsWithLock(ctx, testPool); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to run migrations: %v\n", err)
		os.Exit(1)
	}

	os.Exit(m.Run())
}

// setupStore truncates the interaction tables and returns a fresh store.
func setupStore(t *testing.T) *RowStore {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	_, err := testPool.Exec(context.Background(), "TRUNCATE likes, comments, shares, content")
	require.NoError(t, err)
	return NewRowStore(testPool)
}

func testContentKey() domain.ContentKey {
	return domain.ContentKey{Type: domain.ContentPost, ID: uuid.NewString()}
}

func TestInsertRow_LikeBumpsCounters(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	key := testContentKey()

	err := store.InsertRow(ctx, domain.TableLikes, domain.InteractionRow{
		OpID:     uuid.New(),
		ViewerID: "viewer-1",
		Key:      key,
	})
	require.NoError(t, err)

	counters, err := store.FetchCounters(ctx, "viewer-1", key)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counters.Likes)
	assert.True(t, counters.LikedByViewer)

	// Another viewer sees the count but not the membership.
	counters, err = store.FetchCounters(ctx, "viewer-2", key)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counters.Likes)
	assert.False(t, counters.LikedByViewer)
}

func TestInsertRow_DuplicateLike(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	key := testContentKey()
	row := domain.InteractionRow{OpID: uuid.New(), ViewerID: "viewer-1", Key: key}

	require.NoError(t, store.InsertRow(ctx, domain.TableLikes, row))

	err := store.InsertRow(ctx, domain.TableLikes, row)
	assert.ErrorIs(t, err, domain.ErrDuplicateKey)

	// The duplicate must not bump the counter.
	counters, err := store.FetchCounters(ctx, "viewer-1", key)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counters.Likes)
}

func TestDeleteRow_RemovesLike(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	key := testContentKey()

	require.NoError(t, store.InsertRow(ctx, domain.TableLikes, domain.InteractionRow{
		OpID: uuid.New(), ViewerID: "viewer-1", Key: key,
	}))
	require.NoError(t, store.DeleteRow(ctx, domain.TableLikes, domain.InteractionRow{
		OpID: uuid.New(), ViewerID: "viewer-1", Key: key,
	}))

	counters, err := store.FetchCounters(ctx, "viewer-1", key)
	require.NoError(t, err)
	assert.Equal(t, int64(0), counters.Likes)
	assert.False(t, counters.LikedByViewer)
}

func TestDeleteRow_AbsentRowIsNoop(t *testing.T) {
	store := setupStore(t)

	err := store.DeleteRow(context.Background(), domain.TableLikes, domain.InteractionRow{
		ViewerID: "viewer-1", Key: testContentKey(),
	})
	assert.NoError(t, err)
}

func TestInsertRow_CommentsAndShares(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	key := testContentKey()

	for i := range 3 {
		err := store.InsertRow(ctx, domain.TableComments, domain.InteractionRow{
			OpID:     uuid.New(),
			ViewerID: "viewer-1",
			Key:      key,
			Body:     fmt.Sprintf("comment %d", i),
		})
		require.NoError(t, err)
	}
	require.NoError(t, store.InsertRow(ctx, domain.TableShares, domain.InteractionRow{
		OpID: uuid.New(), ViewerID: "viewer-1", Key: key,
	}))

	counters, err := store.FetchCounters(ctx, "viewer-1", key)
	require.NoError(t, err)
	assert.Equal(t, int64(3), counters.Comments)
	assert.Equal(t, int64(1), counters.Shares)
}

func TestFetchCounters_UnknownContent(t *testing.T) {
	store := setupStore(t)

	counters, err := store.FetchCounters(context.Background(), "viewer-1", testContentKey())
	require.NoError(t, err)
	assert.Equal(t, domain.Counters{}, counters)
}

func TestInsertRow_UnsupportedTable(t *testing.T) {
	store := setupStore(t)

	err := store.InsertRow(context.Background(), domain.TableContent, domain.InteractionRow{ViewerID: "v"})
	assert.Error(t, err)
}
