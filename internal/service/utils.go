package service

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/ayo6706/referral-commerce/internal/domain"
	"github.com/ayo6706/referral-commerce/internal/repository"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// requireExactlyOne turns a lost status-guarded update into a Conflict.
func requireExactlyOne(rows int64, operation string) error {
	if rows != 1 {
		return fmt.Errorf("%s affected %d rows: %w", operation, rows, domain.ErrConflict)
	}
	return nil
}

// notFound maps pgx.ErrNoRows to the given sentinel and wraps everything else.
func notFound(err error, sentinel error, operation string) error {
	if repository.IsNoRows(err) {
		return sentinel
	}
	return fmt.Errorf("%s: %w", operation, err)
}

// pageWindow converts a 1-based page into LIMIT/OFFSET. Pages past the int32 offset range
// clamp to the last representable one, which is simply empty.
func pageWindow(page, pageSize int) (limit, offset int32) {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	page = min(max(page, 1), math.MaxInt32/pageSize+1)
	return int32(pageSize), int32((page - 1) * pageSize)
}

func marshalMetadata(fields map[string]any) ([]byte, error) {
	if len(fields) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return data, nil
}
