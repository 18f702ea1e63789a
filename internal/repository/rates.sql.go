package repository

import (
	"context"

	"github.com/ayo6706/referral-commerce/internal/domain"
	"github.com/google/uuid"
)

type InsertRateVersionParams struct {
	MaxLevel  int32
	Rates     []byte
	CreatedBy *uuid.UUID
}

const insertRateVersion = `INSERT INTO commission_rate_versions (max_level, rates, created_by)
VALUES ($1, $2, $3)
RETURNING version, max_level, rates`

func (q *Queries) InsertRateVersion(ctx context.Context, arg InsertRateVersionParams) (domain.RateTable, error) {
	return scanRateTable(q.db.QueryRow(ctx, insertRateVersion, arg.MaxLevel, arg.Rates, arg.CreatedBy))
}

const getLatestRateVersion = `SELECT version, max_level, rates FROM commission_rate_versions ORDER BY version DESC LIMIT 1`

func (q *Queries) GetLatestRateVersion(ctx context.Context) (domain.RateTable, error) {
	return scanRateTable(q.db.QueryRow(ctx, getLatestRateVersion))
}

const getRateVersion = `SELECT version, max_level, rates FROM commission_rate_versions WHERE version = $1`

func (q *Queries) GetRateVersion(ctx context.Context, version int32) (domain.RateTable, error) {
	return scanRateTable(q.db.QueryRow(ctx, getRateVersion, version))
}

func scanRateTable(row interface{ Scan(...any) error }) (domain.RateTable, error) {
	var t domain.RateTable
	var raw []byte
	if err := row.Scan(&t.Version, &t.MaxLevel, &raw); err != nil {
		return t, err
	}
	rates, err := domain.UnmarshalRates(raw)
	if err != nil {
		return t, err
	}
	t.Rates = rates
	return t, nil
}
