package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/rl1809/flash-sale/internal/core/domain"
)

// PromoModel maps the promos table.
type PromoModel struct {
	ID        string `gorm:"primaryKey;size:64"`
	ItemID    string `gorm:"size:64;index"`
	Name      string `gorm:"size:128"`
	StartAt   time.Time
	EndAt     time.Time
	Status    int             `gorm:"type:tinyint;default:1"`
	Price     decimal.Decimal `gorm:"type:decimal(12,2)"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (PromoModel) TableName() string {
	return "promos"
}

func ToDomainPromo(model *PromoModel) *domain.PromoContext {
	if model == nil {
		return nil
	}
	return &domain.PromoContext{
		ID:      model.ID,
		ItemID:  model.ItemID,
		Name:    model.Name,
		StartAt: model.StartAt,
		EndAt:   model.EndAt,
		Status:  domain.PromoStatus(model.Status),
		Price:   model.Price,
	}
}

func FromDomainPromo(p *domain.PromoContext) *PromoModel {
	if p == nil {
		return nil
	}
	return &PromoModel{
		ID:      p.ID,
		ItemID:  p.ItemID,
		Name:    p.Name,
		StartAt: p.StartAt,
		EndAt:   p.EndAt,
		Status:  int(p.Status),
		Price:   p.Price,
	}
}

// GormPromoCatalog reads promotions through gorm.
type GormPromoCatalog struct {
	db *gorm.DB
}

func NewGormPromoCatalog(db *gorm.DB) *GormPromoCatalog {
	return &GormPromoCatalog{db: db}
}

// AutoMigrate creates or updates the promos table.
func (r *GormPromoCatalog) AutoMigrate() error {
	return r.db.AutoMigrate(&PromoModel{})
}

// FindByItem returns the most recently started promotion for the item that
// has not been invalidated, or the latest one if all are invalid.
func (r *GormPromoCatalog) FindByItem(ctx context.Context, itemID string) (*domain.PromoContext, error) {
	var model PromoModel
	err := r.db.WithContext(ctx).
		Where("item_id = ?", itemID).
		Order(fmt.Sprintf("CASE WHEN status = %d THEN 1 ELSE 0 END", domain.PromoStatusInvalid)).
		Order("start_at DESC").
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find promo for item %s: %w", itemID, err)
	}
	return ToDomainPromo(&model), nil
}

// Save inserts or replaces a promotion.
func (r *GormPromoCatalog) Save(ctx context.Context, promo domain.PromoContext) error {
	if err := r.db.WithContext(ctx).Save(FromDomainPromo(&promo)).Error; err != nil {
		return fmt.Errorf("save promo %s: %w", promo.ID, err)
	}
	return nil
}
