package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/ayo6706/referral-commerce/internal/domain"
	"github.com/ayo6706/referral-commerce/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// RateProvider supplies the commission rate table a distribution runs with.
type RateProvider interface {
	CurrentRates(ctx context.Context) (domain.RateTable, error)
}

// RateService keeps commission rates as immutable versions. Updating rates inserts a new
// version; commissions already written keep the version they were computed with.
type RateService struct {
	store QueryStore
	audit *AuditService
}

func NewRateService(store QueryStore) *RateService {
	return &RateService{store: store, audit: NewAuditService(store)}
}

func (s *RateService) CurrentRates(ctx context.Context) (domain.RateTable, error) {
	table, err := read(ctx, s.store, func(q *repository.Queries) (domain.RateTable, error) {
		return q.GetLatestRateVersion(ctx)
	})
	if err != nil {
		return domain.RateTable{}, notFound(err, domain.ErrRatesNotConfigured, "get latest rate version")
	}
	return table, nil
}

func (s *RateService) RatesAt(ctx context.Context, version int) (domain.RateTable, error) {
	table, err := read(ctx, s.store, func(q *repository.Queries) (domain.RateTable, error) {
		return q.GetRateVersion(ctx, int32(version))
	})
	if err != nil {
		return domain.RateTable{}, notFound(err, domain.ErrRatesNotConfigured, "get rate version")
	}
	return table, nil
}

// UpdateRates validates and stores a new rate version.
func (s *RateService) UpdateRates(ctx context.Context, maxLevel int, rates map[int]decimal.Decimal, actorID *uuid.UUID) (domain.RateTable, error) {
	candidate := domain.RateTable{MaxLevel: maxLevel, Rates: rates}
	if err := candidate.Validate(); err != nil {
		return domain.RateTable{}, err
	}
	raw, err := domain.MarshalRates(rates)
	if err != nil {
		return domain.RateTable{}, fmt.Errorf("encode rates: %w", err)
	}

	var stored domain.RateTable
	err = s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		var err error
		stored, err = qtx.InsertRateVersion(ctx, repository.InsertRateVersionParams{
			MaxLevel:  int32(maxLevel),
			Rates:     raw,
			CreatedBy: actorID,
		})
		if err != nil {
			return fmt.Errorf("insert rate version: %w", err)
		}
		return s.audit.Write(ctx, qtx, domain.EntityRateTable, rateTableEntityID, actorID, "rates.updated",
			"", fmt.Sprintf("v%d", stored.Version), raw)
	})
	if err != nil {
		return domain.RateTable{}, err
	}
	zap.L().Info("commission rates updated", zap.Int("version", stored.Version), zap.Int("max_level", stored.MaxLevel))
	return stored, nil
}

// EnsureSeeded stores the configured defaults as version 1 when no version exists yet.
func (s *RateService) EnsureSeeded(ctx context.Context, maxLevel int, rates map[int]decimal.Decimal) (domain.RateTable, error) {
	current, err := s.CurrentRates(ctx)
	if err == nil {
		return current, nil
	}
	if !errors.Is(err, domain.ErrRatesNotConfigured) {
		return domain.RateTable{}, err
	}
	return s.UpdateRates(ctx, maxLevel, rates, nil)
}

// rateTableEntityID anchors rate-table audit rows, which have no uuid of their own.
var rateTableEntityID = uuid.NewSHA1(uuid.NameSpaceOID, []byte(domain.EntityRateTable))

// StaticRates serves a fixed table. Used by tests and tools that run without a store.
type StaticRates struct {
	Table domain.RateTable
}

func (s StaticRates) CurrentRates(context.Context) (domain.RateTable, error) {
	if len(s.Table.Rates) == 0 {
		return domain.RateTable{}, domain.ErrRatesNotConfigured
	}
	return s.Table, nil
}
