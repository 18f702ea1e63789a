package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/ayo6706/referral-commerce/internal/db"
	"github.com/ayo6706/referral-commerce/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	_ = godotenv.Load("../../.env") // Load from root
}

func openTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("Skipping integration test: DATABASE_URL not set")
	}
	require.NoError(t, db.Migrate(dbURL))
	pool, err := db.Connect(context.Background(), dbURL)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func insertTestMember(t *testing.T, q *Queries, sponsor *uuid.UUID) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := q.CreateMember(context.Background(), CreateMemberParams{
		ID:        id,
		Username:  "m_" + id.String()[:8],
		Email:     id.String()[:8] + "@example.com",
		Role:      domain.RoleDistributor,
		SponsorID: sponsor,
	})
	require.NoError(t, err)
	return id
}

func TestClosureTableQueries(t *testing.T) {
	pool := openTestPool(t)
	ctx := context.Background()
	store := NewStore(pool, 0)

	var root, child, grandchild uuid.UUID
	err := store.RunInTx(ctx, func(q *Queries) error {
		root = insertTestMember(t, q, nil)
		child = insertTestMember(t, q, &root)
		grandchild = insertTestMember(t, q, &child)

		if err := q.InsertSelfEdge(ctx, root); err != nil {
			return err
		}
		for _, pair := range [][2]uuid.UUID{{child, root}, {grandchild, child}} {
			if err := q.InsertSelfEdge(ctx, pair[0]); err != nil {
				return err
			}
			if _, err := q.InsertAncestorEdges(ctx, pair[0], pair[1]); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	q := store.Queries()
	upline, err := q.GetUpline(ctx, GetUplineParams{MemberID: grandchild})
	require.NoError(t, err)
	require.Len(t, upline, 2)
	assert.Equal(t, child, upline[0].MemberID)
	assert.Equal(t, 1, upline[0].Level)
	assert.Equal(t, root, upline[1].MemberID)
	assert.Equal(t, 2, upline[1].Level)

	capped, err := q.GetUpline(ctx, GetUplineParams{MemberID: grandchild, MaxLevel: 1})
	require.NoError(t, err)
	assert.Len(t, capped, 1)

	downline, err := q.GetDownline(ctx, root)
	require.NoError(t, err)
	assert.Len(t, downline, 2)

	attached, err := q.ShareLockSelfEdge(ctx, child)
	require.NoError(t, err)
	assert.True(t, attached)

	detached, err := q.ShareLockSelfEdge(ctx, uuid.New())
	require.NoError(t, err)
	assert.False(t, detached)
}

func TestStoreTimeoutBoundsEveryStatement(t *testing.T) {
	pool := openTestPool(t)
	store := NewStore(pool, 50*time.Millisecond)
	sleep := func(q *Queries) error {
		// The query's own context has no deadline; the store's does.
		_, err := q.db.Exec(context.Background(), "SELECT pg_sleep(1)")
		return err
	}

	err := store.Read(context.Background(), sleep)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTransient)

	err = store.RunInTx(context.Background(), sleep)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTransient)
}

func TestRunInTx_ClassifiesUniqueViolation(t *testing.T) {
	pool := openTestPool(t)
	ctx := context.Background()
	store := NewStore(pool, 0)

	member := insertTestMember(t, store.Queries(), nil)
	require.NoError(t, store.Queries().InsertSelfEdge(ctx, member))

	err := store.RunInTx(ctx, func(q *Queries) error {
		return q.InsertSelfEdge(ctx, member)
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConflict)
}
