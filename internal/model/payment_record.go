package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================================
// 支付记录状态常量
// ============================================================================

const (
	PaymentStatusPending    = "PENDING"    // 已创建购买意向，等待支付确认
	PaymentStatusProcessing = "PROCESSING" // 某个确认方已认领，正在发放订阅
	PaymentStatusCompleted  = "COMPLETED"  // 终态：订阅已发放，不可再变更
	PaymentStatusFailed     = "FAILED"     // 终态：超时关闭或确认失败
)

// ValidStatusTransitions 支付记录状态机
// PROCESSING -> PENDING 是认领失败后的回滚路径（见 ClaimLedger.Rollback）
var ValidStatusTransitions = map[string][]string{
	PaymentStatusPending:    {PaymentStatusProcessing, PaymentStatusFailed},
	PaymentStatusProcessing: {PaymentStatusCompleted, PaymentStatusPending, PaymentStatusProcessing},
}

func CanTransitionTo(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := ValidStatusTransitions[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowedStatuses {
		if s == targetStatus {
			return true
		}
	}
	return false
}

// ============================================================================
// 支付渠道常量
// ============================================================================

const (
	ProviderStripe = "stripe"
	ProviderAlipay = "alipay"
	ProviderWechat = "wechat"
)

func IsValidProvider(provider string) bool {
	switch provider {
	case ProviderStripe, ProviderAlipay, ProviderWechat:
		return true
	}
	return false
}

// ============================================================================
// 订阅周期常量
// ============================================================================

const (
	PeriodMonthly = "monthly"
	PeriodAnnual  = "annual"
)

// PeriodMonths 周期对应的自然月数
func PeriodMonths(period string) int {
	if period == PeriodAnnual {
		return 12
	}
	return 1
}

// PaymentRecord 支付记录表
// 每次购买意向创建一条，状态只向前推进，永不删除（审计依据）
// (provider, provider_order_id) 全局唯一，是确认请求的幂等键
type PaymentRecord struct {
	ID              int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	Provider        string          `gorm:"type:varchar(16);uniqueIndex:uk_provider_order;not null" json:"provider"`
	ProviderOrderID string          `gorm:"type:varchar(64);uniqueIndex:uk_provider_order;not null" json:"provider_order_id"`
	UserID          int64           `gorm:"index;not null" json:"user_id"`
	Amount          decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"amount"`
	Currency        string          `gorm:"type:varchar(8);not null;default:USD" json:"currency"`
	Status          string          `gorm:"type:varchar(20);index;not null;default:PENDING" json:"status"`
	Plan            string          `gorm:"type:varchar(20);not null" json:"plan"`
	Period          string          `gorm:"type:varchar(10);not null" json:"period"`
	Metadata        string          `gorm:"type:text" json:"metadata"` // JSON: days/is_upgrade/original_amount/billing_cycle
	TransactionID   string          `gorm:"type:varchar(128)" json:"transaction_id"`
	CreatedAt       time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"index" json:"updated_at"` // 认领协议的 CAS 条件之一，由代码显式维护
}

func (PaymentRecord) TableName() string {
	return "payment_record"
}

// PaymentMetadata 支付记录附加信息
// 升级单的折算天数由上游改价计算器写入，确认侧只读
type PaymentMetadata struct {
	Days           int             `json:"days,omitempty"`
	IsUpgrade      bool            `json:"is_upgrade,omitempty"`
	OriginalAmount decimal.Decimal `json:"original_amount,omitempty"`
	BillingCycle   string          `json:"billing_cycle,omitempty"`
}
