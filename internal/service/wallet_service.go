package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"webtoapp/internal/billing"
	"webtoapp/internal/model"
	"webtoapp/internal/repository"
)

var ErrQuotaExceeded = errors.New("今日构建额度已用完")

// ApplyDueTransitions 把到期的套餐变化结清到钱包上
//
// 所有读取套餐状态的入口（钱包查询、确认流程、额度校验、定时任务）
// 都先经过这一个函数，到期降级和套餐过期只在这一条路径上生效，
// 而不是散落在各个调用点各自判断。
// 只修改内存中的结构，返回是否需要落库；写入由调用方通过钱包仓库完成。
//
// 依次处理：
//  1. 排队降级到了生效日：切到目标套餐并重置用量
//  2. 套餐到期：回落到免费套餐
//  3. 跨过账单锚定日：重置每日构建用量
func ApplyDueTransitions(wallet *model.Wallet, now time.Time) bool {
	changed := false

	if pd := wallet.GetPendingDowngrade(); pd != nil && !now.Before(pd.EffectiveAt) {
		quota := billing.QuotaFor(pd.TargetPlan)
		wallet.Plan = pd.TargetPlan
		expiresAt := pd.ExpiresAt
		wallet.PlanExpiresAt = &expiresAt
		wallet.DailyBuildsLimit = quota.DailyBuildsLimit
		wallet.FileRetentionDays = quota.FileRetentionDays
		wallet.BatchBuildEnabled = quota.BatchBuildEnabled
		wallet.DailyBuildsUsed = 0
		resetAt := now
		wallet.DailyBuildsResetAt = &resetAt
		wallet.SetPendingDowngrade(nil)
		changed = true
	}

	if wallet.Plan != billing.PlanFree && wallet.PlanExpiresAt != nil && wallet.PlanExpiresAt.Before(now) {
		quota := billing.QuotaFor(billing.PlanFree)
		wallet.Plan = billing.PlanFree
		wallet.PlanExpiresAt = nil
		wallet.DailyBuildsLimit = quota.DailyBuildsLimit
		wallet.FileRetentionDays = quota.FileRetentionDays
		wallet.BatchBuildEnabled = quota.BatchBuildEnabled
		wallet.DailyBuildsUsed = 0
		resetAt := now
		wallet.DailyBuildsResetAt = &resetAt
		changed = true
	}

	lastReset := ""
	if wallet.DailyBuildsResetAt != nil {
		lastReset = wallet.DailyBuildsResetAt.Format(time.RFC3339)
	}
	if check := billing.IsResetDue(lastReset, wallet.BillingCycleAnchor, now); check.Due {
		wallet.DailyBuildsUsed = 0
		resetAt := now
		wallet.DailyBuildsResetAt = &resetAt
		changed = true
	}

	return changed
}

// walletPlanPatch 钱包套餐相关字段的落库补丁
func walletPlanPatch(wallet *model.Wallet) map[string]interface{} {
	return map[string]interface{}{
		"plan":                  wallet.Plan,
		"plan_expires_at":       wallet.PlanExpiresAt,
		"daily_builds_limit":    wallet.DailyBuildsLimit,
		"daily_builds_used":     wallet.DailyBuildsUsed,
		"daily_builds_reset_at": wallet.DailyBuildsResetAt,
		"file_retention_days":   wallet.FileRetentionDays,
		"batch_build_enabled":   wallet.BatchBuildEnabled,
		"billing_cycle_anchor":  wallet.BillingCycleAnchor,
		"pending_downgrade":     wallet.PendingDowngrade,
	}
}

// WalletService 钱包读路径
type WalletService struct {
	walletStore WalletStore
	subStore    SubscriptionStore
	locker      UserLocker
	runInTx     func(ctx context.Context, fn func(tx *gorm.DB) error) error
	now         func() time.Time
}

func NewWalletService(db *gorm.DB, redisClient *redis.Client) *WalletService {
	return &WalletService{
		walletStore: repository.NewWalletRepository(db),
		subStore:    repository.NewSubscriptionRepository(db),
		locker:      NewRedisUserLocker(redisClient),
		runInTx: func(ctx context.Context, fn func(tx *gorm.DB) error) error {
			return db.WithContext(ctx).Transaction(fn)
		},
		now: time.Now,
	}
}

// GetWallet 读取钱包并结清到期变化
//
// 结清要落库时和确认流程抢同一把用户锁：两边都是对钱包的
// 读-改-写，不串行化的话惰性结清可能盖掉确认刚写入的套餐。
// 锁内重读重算，等锁期间别人已经改过的话以新状态为准。
func (s *WalletService) GetWallet(ctx context.Context, userID int64) (*model.Wallet, error) {
	wallet, err := s.walletStore.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("获取钱包失败: %w", err)
	}

	// 锁外先试算，没有到期变化的读不值得拿锁
	scratch := *wallet
	if !ApplyDueTransitions(&scratch, s.now()) {
		return wallet, nil
	}

	var settled *model.Wallet
	err = s.locker.WithLock(ctx, userID, uuid.NewString(), func() error {
		current, err := s.walletStore.GetOrCreate(ctx, userID)
		if err != nil {
			return err
		}

		now := s.now()
		queued := current.GetPendingDowngrade()
		if !ApplyDueTransitions(current, now) {
			settled = current
			return nil
		}

		err = s.runInTx(ctx, func(tx *gorm.DB) error {
			if err := s.walletStore.Update(ctx, tx, userID, walletPlanPatch(current)); err != nil {
				return err
			}
			// 降级已生效：订阅表同步切换，清掉 pending 行
			if queued != nil && current.GetPendingDowngrade() == nil {
				if err := s.subStore.DeletePending(ctx, tx, userID); err != nil {
					return err
				}
				if current.Plan != billing.PlanFree && current.PlanExpiresAt != nil {
					sub := &model.Subscription{
						UserID:    userID,
						Status:    model.SubscriptionStatusActive,
						Plan:      current.Plan,
						Period:    queued.Period,
						StartedAt: queued.EffectiveAt,
						ExpiresAt: *current.PlanExpiresAt,
					}
					if err := s.subStore.Upsert(ctx, tx, sub); err != nil {
						return err
					}
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		settled = current
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("结清钱包状态失败: %w", err)
	}

	return settled, nil
}

// ConsumeBuild 额度校验并占用一次构建
func (s *WalletService) ConsumeBuild(ctx context.Context, userID int64) (*model.Wallet, error) {
	wallet, err := s.GetWallet(ctx, userID)
	if err != nil {
		return nil, err
	}

	if wallet.DailyBuildsUsed >= wallet.DailyBuildsLimit {
		return wallet, ErrQuotaExceeded
	}

	wallet.DailyBuildsUsed++
	if err := s.walletStore.Update(ctx, nil, userID, map[string]interface{}{
		"daily_builds_used": gorm.Expr("daily_builds_used + 1"),
	}); err != nil {
		return nil, fmt.Errorf("占用构建额度失败: %w", err)
	}

	return wallet, nil
}
