package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"webtoapp/internal/model"
)

type SubscriptionRepository struct {
	db *gorm.DB
}

func NewSubscriptionRepository(db *gorm.DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

// GetActive 查询用户当前 active 订阅，未找到返回 (nil, nil)
func (r *SubscriptionRepository) GetActive(ctx context.Context, userID int64) (*model.Subscription, error) {
	var sub model.Subscription
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, model.SubscriptionStatusActive).
		First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

// Upsert 按 (user_id, status) 插入或覆盖订阅行
// 唯一索引保证每个用户至多一条 active、一条 pending
func (r *SubscriptionRepository) Upsert(ctx context.Context, tx *gorm.DB, sub *model.Subscription) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}, {Name: "status"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"plan", "period", "provider_order_id", "started_at", "expires_at",
			}),
		}).
		Create(sub).Error
}

// DeletePending 清除用户的排队降级行（降级已应用或被新购买覆盖时）
func (r *SubscriptionRepository) DeletePending(ctx context.Context, tx *gorm.DB, userID int64) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, model.SubscriptionStatusPending).
		Delete(&model.Subscription{}).Error
}
