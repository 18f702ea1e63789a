package service

import (
	"context"

	"github.com/ayo6706/referral-commerce/internal/repository"
)

// QueryStore defines the minimal data access contract required by services.
type QueryStore interface {
	Read(ctx context.Context, fn func(q *repository.Queries) error) error
	RunInTx(ctx context.Context, fn func(q *repository.Queries) error) error
}

// read runs a single query through the store's read path.
func read[T any](ctx context.Context, store QueryStore, fn func(q *repository.Queries) (T, error)) (T, error) {
	var out T
	err := store.Read(ctx, func(q *repository.Queries) error {
		var err error
		out, err = fn(q)
		return err
	})
	return out, err
}
