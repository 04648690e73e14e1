package postgres

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/megayours/pfp-inventory/internal/domain"
)

type loginKeyRepository struct {
	db *gorm.DB
}

func NewLoginKeyRepository(db *gorm.DB) *loginKeyRepository {
	return &loginKeyRepository{db: db}
}

func (r *loginKeyRepository) Get(ctx context.Context, tabID uuid.UUID, chain domain.ChainName, accountID string) (*domain.LoginKey, error) {
	var key domain.LoginKey
	err := r.db.WithContext(ctx).
		Where("tab_id = ? AND chain = ? AND account_id = ?", tabID, chain, accountID).
		First(&key).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &key, nil
}

// Upsert stores the key, replacing any key already held for the same tab, chain and account.
func (r *loginKeyRepository) Upsert(ctx context.Context, key *domain.LoginKey) error {
	if key.ID == uuid.Nil {
		key.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tab_id"}, {Name: "chain"}, {Name: "account_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"private_key", "flags", "created_at"}),
	}).Create(key).Error
}

func (r *loginKeyRepository) Delete(ctx context.Context, tabID uuid.UUID, chain domain.ChainName, accountID string) error {
	return r.db.WithContext(ctx).
		Where("tab_id = ? AND chain = ? AND account_id = ?", tabID, chain, accountID).
		Delete(&domain.LoginKey{}).Error
}

func (r *loginKeyRepository) DeleteByTab(ctx context.Context, tabID uuid.UUID, chain domain.ChainName) error {
	return r.db.WithContext(ctx).
		Where("tab_id = ? AND chain = ?", tabID, chain).
		Delete(&domain.LoginKey{}).Error
}

func (r *loginKeyRepository) ListByTab(ctx context.Context, tabID uuid.UUID) ([]*domain.LoginKey, error) {
	var keys []*domain.LoginKey
	err := r.db.WithContext(ctx).
		Where("tab_id = ?", tabID).
		Order("created_at ASC").
		Find(&keys).Error
	if err != nil {
		return nil, err
	}
	return keys, nil
}
