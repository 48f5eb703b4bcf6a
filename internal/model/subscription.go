package model

import (
	"time"
)

const (
	SubscriptionStatusActive  = "active"
	SubscriptionStatusPending = "pending" // 已排队的降级（生效日未到）
)

// Subscription 用户订阅表
// 每个用户至多一条 active、至多一条 pending（排队降级）记录
// expires_at 始终是当前已付费周期的结束时间
type Subscription struct {
	ID              int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID          int64     `gorm:"uniqueIndex:uk_user_status;not null" json:"user_id"`
	Status          string    `gorm:"type:varchar(10);uniqueIndex:uk_user_status;not null;default:active" json:"status"`
	Plan            string    `gorm:"type:varchar(20);not null" json:"plan"`
	Period          string    `gorm:"type:varchar(10);not null" json:"period"`
	ProviderOrderID string    `gorm:"type:varchar(64)" json:"provider_order_id"` // 最近一次生效的支付单号
	StartedAt       time.Time `gorm:"not null" json:"started_at"`
	ExpiresAt       time.Time `gorm:"index;not null" json:"expires_at"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Subscription) TableName() string {
	return "subscription"
}
