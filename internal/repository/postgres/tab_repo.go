package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/megayours/pfp-inventory/internal/domain"
	"github.com/megayours/pfp-inventory/internal/repository"
)

type tabRepository struct {
	db *gorm.DB
}

func NewTabRepository(db *gorm.DB) *tabRepository {
	return &tabRepository{db: db}
}

func (r *tabRepository) Create(ctx context.Context, tab *domain.Tab) error {
	return r.db.WithContext(ctx).Create(tab).Error
}

func (r *tabRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Tab, error) {
	var tab domain.Tab
	err := r.db.WithContext(ctx).First(&tab, "id = ?", id).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &tab, nil
}

func (r *tabRepository) Touch(ctx context.Context, id uuid.UUID, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&domain.Tab{}).Where("id = ?", id).Update("last_seen_at", at)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// Delete removes the tab together with its persisted login keys.
func (r *tabRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&domain.LoginKey{}, "tab_id = ?", id).Error; err != nil {
			return err
		}
		res := tx.Delete(&domain.Tab{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return repository.ErrNotFound
		}
		return nil
	})
}

func (r *tabRepository) DeleteIdleSince(ctx context.Context, cutoff time.Time) (int64, error) {
	var removed int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		idle := tx.Model(&domain.Tab{}).Select("id").Where("last_seen_at < ?", cutoff)
		if err := tx.Where("tab_id IN (?)", idle).Delete(&domain.LoginKey{}).Error; err != nil {
			return err
		}
		res := tx.Where("last_seen_at < ?", cutoff).Delete(&domain.Tab{})
		removed = res.RowsAffected
		return res.Error
	})
	return removed, err
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return repository.ErrNotFound
	}
	return err
}
