package repository

import (
	"context"

	"github.com/ayo6706/referral-commerce/internal/models"
	"github.com/google/uuid"
)

const insertSelfEdge = `INSERT INTO tree_edges (ancestor_id, descendant_id, level) VALUES ($1, $1, 0)`

func (q *Queries) InsertSelfEdge(ctx context.Context, memberID uuid.UUID) error {
	_, err := q.db.Exec(ctx, insertSelfEdge, memberID)
	return err
}

// InsertAncestorEdges copies the sponsor's upline (self-edge included) one level down onto the new member.
const insertAncestorEdges = `INSERT INTO tree_edges (ancestor_id, descendant_id, level)
SELECT ancestor_id, $1, level + 1
FROM tree_edges
WHERE descendant_id = $2`

func (q *Queries) InsertAncestorEdges(ctx context.Context, memberID, sponsorID uuid.UUID) (int64, error) {
	tag, err := q.db.Exec(ctx, insertAncestorEdges, memberID, sponsorID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ShareLockSelfEdge reports whether the member is attached and holds its self-edge against a
// concurrent detach until the transaction ends.
const shareLockSelfEdge = `SELECT level FROM tree_edges WHERE ancestor_id = $1 AND descendant_id = $1 FOR SHARE`

func (q *Queries) ShareLockSelfEdge(ctx context.Context, memberID uuid.UUID) (bool, error) {
	var level int
	err := q.db.QueryRow(ctx, shareLockSelfEdge, memberID).Scan(&level)
	if IsNoRows(err) {
		return false, nil
	}
	return err == nil, err
}

const countDescendants = `SELECT COUNT(*) FROM tree_edges WHERE ancestor_id = $1 AND level > 0`

func (q *Queries) CountDescendants(ctx context.Context, memberID uuid.UUID) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, countDescendants, memberID).Scan(&n)
	return n, err
}

const countEdgesForMember = `SELECT COUNT(*) FROM tree_edges WHERE descendant_id = $1 OR ancestor_id = $1`

func (q *Queries) CountEdgesForMember(ctx context.Context, memberID uuid.UUID) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, countEdgesForMember, memberID).Scan(&n)
	return n, err
}

type GetUplineParams struct {
	MemberID uuid.UUID
	MaxLevel int32
}

// GetUpline is a single range scan on (descendant_id, level). MaxLevel <= 0 means unbounded.
const getUpline = `SELECT e.ancestor_id, m.username, m.role, m.status, e.level, m.sponsor_id
FROM tree_edges e
JOIN members m ON m.id = e.ancestor_id
WHERE e.descendant_id = $1 AND e.level > 0 AND ($2 <= 0 OR e.level <= $2)
ORDER BY e.level`

func (q *Queries) GetUpline(ctx context.Context, arg GetUplineParams) ([]models.GraphMember, error) {
	return q.queryGraph(ctx, getUpline, arg.MemberID, arg.MaxLevel)
}

const getDownline = `SELECT e.descendant_id, m.username, m.role, m.status, e.level, m.sponsor_id
FROM tree_edges e
JOIN members m ON m.id = e.descendant_id
WHERE e.ancestor_id = $1 AND e.level > 0
ORDER BY e.level, m.created_at, m.id`

func (q *Queries) GetDownline(ctx context.Context, memberID uuid.UUID) ([]models.GraphMember, error) {
	return q.queryGraph(ctx, getDownline, memberID)
}

func (q *Queries) queryGraph(ctx context.Context, query string, args ...interface{}) ([]models.GraphMember, error) {
	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []models.GraphMember
	for rows.Next() {
		var g models.GraphMember
		if err := rows.Scan(&g.MemberID, &g.Username, &g.Role, &g.Status, &g.Level, &g.SponsorID); err != nil {
			return nil, err
		}
		items = append(items, g)
	}
	return items, rows.Err()
}

// LockEdgesForMember takes row locks on every edge touching the member and returns them.
const lockEdgesForMember = `SELECT ancestor_id, descendant_id, level
FROM tree_edges
WHERE ancestor_id = $1 OR descendant_id = $1
ORDER BY ancestor_id, descendant_id
FOR UPDATE`

func (q *Queries) LockEdgesForMember(ctx context.Context, memberID uuid.UUID) ([]models.TreeEdge, error) {
	rows, err := q.db.Query(ctx, lockEdgesForMember, memberID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []models.TreeEdge
	for rows.Next() {
		var e models.TreeEdge
		if err := rows.Scan(&e.AncestorID, &e.DescendantID, &e.Level); err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

const deleteEdgesForMember = `DELETE FROM tree_edges WHERE ancestor_id = $1 OR descendant_id = $1`

func (q *Queries) DeleteEdgesForMember(ctx context.Context, memberID uuid.UUID) (int64, error) {
	tag, err := q.db.Exec(ctx, deleteEdgesForMember, memberID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
