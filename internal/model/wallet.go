package model

import (
	"encoding/json"
	"time"
)

// Wallet 用户额度表
// 套餐状态的快速读镜像，打包侧每次构建前都会读它
// 本核心只在套餐变更时重置 daily_builds_used，额度扣减由打包侧负责
type Wallet struct {
	ID                 int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID             int64      `gorm:"uniqueIndex;not null" json:"user_id"`
	Plan               string     `gorm:"type:varchar(20);not null;default:free" json:"plan"`
	PlanExpiresAt      *time.Time `json:"plan_expires_at"`
	DailyBuildsLimit   int        `gorm:"not null;default:3" json:"daily_builds_limit"`
	DailyBuildsUsed    int        `gorm:"not null;default:0" json:"daily_builds_used"`
	DailyBuildsResetAt *time.Time `json:"daily_builds_reset_at"`
	FileRetentionDays  int        `gorm:"not null;default:7" json:"file_retention_days"`
	BatchBuildEnabled  bool       `gorm:"not null;default:false" json:"batch_build_enabled"`
	BillingCycleAnchor int        `gorm:"not null;default:1" json:"billing_cycle_anchor"` // 账单锚定日 1-31
	PendingDowngrade   string     `gorm:"type:text" json:"pending_downgrade"`             // JSON，空串表示无排队降级
	CreatedAt          time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Wallet) TableName() string {
	return "wallet"
}

// PendingDowngrade 排队中的未来降级
// 到 effective_at 之前钱包保持原（高）套餐，由读路径或定时任务惰性应用
type PendingDowngrade struct {
	TargetPlan  string    `json:"target_plan"`
	Period      string    `json:"period"`
	EffectiveAt time.Time `json:"effective_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// GetPendingDowngrade 解析排队降级，无或损坏时返回 nil
func (w *Wallet) GetPendingDowngrade() *PendingDowngrade {
	if w.PendingDowngrade == "" {
		return nil
	}
	var pd PendingDowngrade
	if err := json.Unmarshal([]byte(w.PendingDowngrade), &pd); err != nil {
		return nil
	}
	if pd.TargetPlan == "" {
		return nil
	}
	return &pd
}

// SetPendingDowngrade 写入排队降级，传 nil 表示清除
func (w *Wallet) SetPendingDowngrade(pd *PendingDowngrade) {
	if pd == nil {
		w.PendingDowngrade = ""
		return
	}
	data, _ := json.Marshal(pd)
	w.PendingDowngrade = string(data)
}
