package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/megayours/pfp-inventory/internal/domain"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("record not found")

type TabRepository interface {
	Create(ctx context.Context, tab *domain.Tab) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Tab, error)
	Touch(ctx context.Context, id uuid.UUID, at time.Time) error
	Delete(ctx context.Context, id uuid.UUID) error
	DeleteIdleSince(ctx context.Context, cutoff time.Time) (int64, error)
}

type LoginKeyRepository interface {
	Get(ctx context.Context, tabID uuid.UUID, chain domain.ChainName, accountID string) (*domain.LoginKey, error)
	Upsert(ctx context.Context, key *domain.LoginKey) error
	Delete(ctx context.Context, tabID uuid.UUID, chain domain.ChainName, accountID string) error
	DeleteByTab(ctx context.Context, tabID uuid.UUID, chain domain.ChainName) error
	ListByTab(ctx context.Context, tabID uuid.UUID) ([]*domain.LoginKey, error)
}

type Repositories struct {
	Tab      TabRepository
	LoginKey LoginKeyRepository
}
