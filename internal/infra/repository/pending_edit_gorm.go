package repository

import (
	"context"
	"errors"

	"cartsync/internal/domain/model"
	repo "cartsync/internal/repository"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PendingEditGormRepository struct {
	db *gorm.DB
}

// DI
func NewPendingEditGormRepository(db *gorm.DB) *PendingEditGormRepository {
	return &PendingEditGormRepository{db: db}
}

// 同一 (session, product) は上書き（last-write-wins）
func (r *PendingEditGormRepository) Put(ctx context.Context, edit model.PendingEdit) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "session_id"}, {Name: "product_id"}},
			UpdateAll: true,
		}).
		Create(&edit).Error
}

func (r *PendingEditGormRepository) Get(ctx context.Context, sessionID string, productID int64) (model.PendingEdit, error) {
	var edit model.PendingEdit

	err := r.db.WithContext(ctx).
		Where("session_id = ? AND product_id = ?", sessionID, productID).
		First(&edit).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.PendingEdit{}, repo.ErrNotFound
	}
	if err != nil {
		return model.PendingEdit{}, err
	}
	return edit, nil
}

// 無くてもエラーにしない
func (r *PendingEditGormRepository) Delete(ctx context.Context, sessionID string, productID int64) error {
	return r.db.WithContext(ctx).
		Where("session_id = ? AND product_id = ?", sessionID, productID).
		Delete(&model.PendingEdit{}).Error
}

// セッションの未確定編集を全件取得（復旧用）
func (r *PendingEditGormRepository) ListBySession(ctx context.Context, sessionID string) ([]model.PendingEdit, error) {
	var edits []model.PendingEdit

	if err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("product_id asc").
		Find(&edits).Error; err != nil {
		return []model.PendingEdit{}, err
	}

	return edits, nil
}
