package repository

import (
	"context"
	"errors"
	"time"

	"postpilot/internal/model"

	"gorm.io/gorm"
)

type AccountInterface interface {
	Create(ctx context.Context, account *model.LinkedAccount) error
	GetByID(ctx context.Context, id string) (*model.LinkedAccount, error)
	ListByUser(ctx context.Context, userID string) ([]model.LinkedAccount, error)
	Save(ctx context.Context, account *model.LinkedAccount) error
	Delete(ctx context.Context, id string) error
	TouchLastUsed(ctx context.Context, id string, at time.Time) error
}

type AccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) Create(ctx context.Context, account *model.LinkedAccount) error {
	return r.db.WithContext(ctx).Create(account).Error
}

func (r *AccountRepository) GetByID(ctx context.Context, id string) (*model.LinkedAccount, error) {
	var account model.LinkedAccount
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

func (r *AccountRepository) ListByUser(ctx context.Context, userID string) ([]model.LinkedAccount, error) {
	var accounts []model.LinkedAccount
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").Find(&accounts).Error
	return accounts, err
}

func (r *AccountRepository) Save(ctx context.Context, account *model.LinkedAccount) error {
	return r.db.WithContext(ctx).Save(account).Error
}

func (r *AccountRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.LinkedAccount{}).Error
}

func (r *AccountRepository) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&model.LinkedAccount{}).Where("id = ?", id).Update("last_used_at", at).Error
}

// Models lists every table the repositories own, for AutoMigrate.
func Models() []any {
	return []any{&model.Project{}, &model.Post{}, &model.LinkedAccount{}}
}
