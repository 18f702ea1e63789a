package repository

import (
	"context"
	"time"

	"github.com/ayo6706/referral-commerce/internal/domain"
	"github.com/ayo6706/referral-commerce/internal/models"
	"github.com/google/uuid"
)

const memberColumns = `id, username, email, role, sponsor_id, status, approved_at, created_at, updated_at`

func scanMember(row interface{ Scan(...any) error }) (models.Member, error) {
	var m models.Member
	err := row.Scan(&m.ID, &m.Username, &m.Email, &m.Role, &m.SponsorID, &m.Status, &m.ApprovedAt, &m.CreatedAt, &m.UpdatedAt)
	return m, err
}

type CreateMemberParams struct {
	ID        uuid.UUID
	Username  string
	Email     string
	Role      domain.MemberRole
	SponsorID *uuid.UUID
}

const createMember = `INSERT INTO members (id, username, email, role, sponsor_id, status)
VALUES ($1, $2, $3, $4, $5, 'PENDING')
RETURNING ` + memberColumns

func (q *Queries) CreateMember(ctx context.Context, arg CreateMemberParams) (models.Member, error) {
	return scanMember(q.db.QueryRow(ctx, createMember, arg.ID, arg.Username, arg.Email, arg.Role, arg.SponsorID))
}

const getMember = `SELECT ` + memberColumns + ` FROM members WHERE id = $1`

func (q *Queries) GetMember(ctx context.Context, id uuid.UUID) (models.Member, error) {
	return scanMember(q.db.QueryRow(ctx, getMember, id))
}

const getMemberForUpdate = getMember + ` FOR UPDATE`

func (q *Queries) GetMemberForUpdate(ctx context.Context, id uuid.UUID) (models.Member, error) {
	return scanMember(q.db.QueryRow(ctx, getMemberForUpdate, id))
}

type ListMembersParams struct {
	Status domain.MemberStatus
	Limit  int32
	Offset int32
}

const listMembers = `SELECT ` + memberColumns + ` FROM members
WHERE ($1 = '' OR status = $1)
ORDER BY created_at, id
LIMIT $2 OFFSET $3`

func (q *Queries) ListMembers(ctx context.Context, arg ListMembersParams) ([]models.Member, error) {
	rows, err := q.db.Query(ctx, listMembers, string(arg.Status), arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []models.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

type UpdateMemberStatusParams struct {
	ID         uuid.UUID
	Status     domain.MemberStatus
	PrevStatus domain.MemberStatus
	ApprovedAt *time.Time
}

// UpdateMemberStatus is guarded by the previous status; zero rows means the member moved on.
const updateMemberStatus = `UPDATE members
SET status = $2, approved_at = COALESCE($4, approved_at), updated_at = NOW()
WHERE id = $1 AND status = $3`

func (q *Queries) UpdateMemberStatus(ctx context.Context, arg UpdateMemberStatusParams) (int64, error) {
	tag, err := q.db.Exec(ctx, updateMemberStatus, arg.ID, arg.Status, arg.PrevStatus, arg.ApprovedAt)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
