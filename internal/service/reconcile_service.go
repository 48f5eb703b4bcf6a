package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"

	"webtoapp/internal/billing"
	"webtoapp/internal/config"
	"webtoapp/internal/gateway"
	"webtoapp/internal/model"
	"webtoapp/internal/repository"
)

// 确认请求的对外状态，原始错误不会透给调用方
const (
	ConfirmCompleted        = "COMPLETED"         // 本次请求完成了发放
	ConfirmAlreadyProcessed = "already_processed" // 别的确认方已完成，幂等成功
	ConfirmProcessing       = "processing"        // 正在处理中，客户端应稍后再查
	ConfirmFailed           = "failed"
)

// ConfirmResult 确认结果
type ConfirmResult struct {
	Status           string                  `json:"status"`
	Plan             string                  `json:"plan,omitempty"`
	ExpiresAt        *time.Time              `json:"expires_at,omitempty"`
	PendingDowngrade *model.PendingDowngrade `json:"pending_downgrade,omitempty"`
	Message          string                  `json:"message,omitempty"`
}

// SubscriptionStore 订阅存取接口，由 repository.SubscriptionRepository 实现
type SubscriptionStore interface {
	GetActive(ctx context.Context, userID int64) (*model.Subscription, error)
	Upsert(ctx context.Context, tx *gorm.DB, sub *model.Subscription) error
	DeletePending(ctx context.Context, tx *gorm.DB, userID int64) error
}

// WalletStore 钱包存取接口，由 repository.WalletRepository 实现
type WalletStore interface {
	GetOrCreate(ctx context.Context, userID int64) (*model.Wallet, error)
	Update(ctx context.Context, tx *gorm.DB, userID int64, patch map[string]interface{}) error
}

// OutboxStore 事务性消息接口，由 repository.OutboxRepository 实现
type OutboxStore interface {
	Create(ctx context.Context, tx *gorm.DB, msg *model.OutboxMessage) error
}

// ============================================================================
// 支付确认编排
// ============================================================================
//
// 渠道回调、客户端轮询、手动查单三方可能并发确认同一笔支付。
// 流程：查本地记录 -> 查渠道权威状态 -> 校验金额 -> 认领 ->
// 套餐变更判定 -> 订阅/钱包/outbox 事务写入 -> 终态。
// 认领成功之后的任何失败走 Rollback 补偿，订阅是否已写入决定
// 回滚方向（已写入则推进到 COMPLETED，防止重复发放）。

type ReconcileService struct {
	cfg         *config.Config
	ledger      Ledger
	claims      *ClaimLedger
	gateways    *gateway.Registry
	subStore    SubscriptionStore
	walletStore WalletStore
	outboxStore OutboxStore
	locker      UserLocker
	runInTx     func(ctx context.Context, fn func(tx *gorm.DB) error) error
	now         func() time.Time
}

func NewReconcileService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config, gateways *gateway.Registry) *ReconcileService {
	paymentRepo := repository.NewPaymentRepository(db)
	staleAfter := time.Duration(cfg.Business.StaleClaimMinutes) * time.Minute

	return &ReconcileService{
		cfg:         cfg,
		ledger:      paymentRepo,
		claims:      NewClaimLedger(paymentRepo, staleAfter),
		gateways:    gateways,
		subStore:    repository.NewSubscriptionRepository(db),
		walletStore: repository.NewWalletRepository(db),
		outboxStore: repository.NewOutboxRepository(db),
		locker:      NewRedisUserLocker(redisClient),
		runInTx: func(ctx context.Context, fn func(tx *gorm.DB) error) error {
			return db.WithContext(ctx).Transaction(fn)
		},
		now: time.Now,
	}
}

// Confirm 处理一次支付确认请求
func (s *ReconcileService) Confirm(ctx context.Context, provider, providerOrderID string) (*ConfirmResult, error) {
	// 1. 查本地记录，已完成的直接幂等返回
	record, err := s.ledger.Get(ctx, provider, providerOrderID)
	if err != nil {
		return nil, fmt.Errorf("查询支付记录失败: %w", err)
	}
	if record == nil {
		return nil, ErrPaymentNotFound
	}
	if record.Status == model.PaymentStatusCompleted {
		return s.completedResult(record), nil
	}

	// 2. 查渠道权威状态，未支付不做任何变更
	gw, err := s.gateways.Get(provider)
	if err != nil {
		return nil, err
	}
	payStatus, err := gw.QueryPayment(ctx, providerOrderID)
	if err != nil {
		// 渠道侧瞬时故障，调用方可重试，本地状态未动
		return nil, fmt.Errorf("查询渠道支付状态失败: %w", err)
	}
	if !payStatus.Paid {
		return &ConfirmResult{Status: ConfirmFailed, Message: "渠道侧未支付"}, nil
	}

	// 3. 金额校验（认领之前），不符的记录保持原样留给人工核查
	if err := s.validateAmount(record, payStatus); err != nil {
		return nil, err
	}

	// 4. 认领独占处理权
	claim, err := s.claims.Claim(ctx, provider, providerOrderID)
	if err != nil {
		return nil, fmt.Errorf("认领支付记录失败: %w", err)
	}
	if !claim.Claimed {
		switch claim.Reason {
		case ReasonCompleted:
			return s.completedResult(claim.Record), nil
		case ReasonProcessing, ReasonRace:
			// 不是错误：别的确认方在干活，客户端稍后再查即可
			return &ConfirmResult{Status: ConfirmProcessing, Message: "正在处理中"}, nil
		case ReasonNotFound:
			return nil, ErrPaymentNotFound
		default:
			return &ConfirmResult{Status: ConfirmFailed, Message: "支付记录已关闭"}, nil
		}
	}
	record = claim.Record

	// 4b. 接管残留认领时先看订阅表：前一个认领方可能在订阅写入提交之后、
	// 写终态之前崩溃。active 行已经挂着这笔订单号就说明发放早已完成，
	// 只补写终态（roll-forward），绝不再跑一遍发放
	if claim.Reclaimed {
		sub, subErr := s.subStore.GetActive(ctx, record.UserID)
		if subErr != nil {
			if rbErr := s.claims.Rollback(ctx, record, false); rbErr != nil {
				log.Printf("[Reconcile] 接管后回滚失败: provider=%s, orderID=%s, err=%v",
					provider, providerOrderID, rbErr)
			}
			return nil, fmt.Errorf("查询订阅失败: %w", subErr)
		}
		if sub != nil && sub.ProviderOrderID == record.ProviderOrderID {
			if err := s.claims.Finalize(ctx, record, payStatus.TransactionID); err != nil {
				return nil, fmt.Errorf("写入终态失败: %w", err)
			}
			expiresAt := sub.ExpiresAt
			log.Printf("[Reconcile] 接管残留认领，订阅已生效，补写终态: provider=%s, orderID=%s, userID=%d",
				provider, providerOrderID, record.UserID)
			return &ConfirmResult{Status: ConfirmCompleted, Plan: sub.Plan, ExpiresAt: &expiresAt}, nil
		}
	}

	// 5-6. 套餐变更判定 + 订阅/钱包写入
	subscriptionApplied := false
	result, err := s.applySubscription(ctx, record, &subscriptionApplied)
	if err != nil {
		// 8. 认领后的失败走补偿：订阅已写入的推进到 COMPLETED，否则退回 PENDING
		if rbErr := s.claims.Rollback(ctx, record, subscriptionApplied); rbErr != nil {
			log.Printf("[Reconcile] 回滚失败: provider=%s, orderID=%s, applied=%v, err=%v",
				provider, providerOrderID, subscriptionApplied, rbErr)
		}
		return nil, err
	}

	// 7. 终态
	if err := s.claims.Finalize(ctx, record, payStatus.TransactionID); err != nil {
		if rbErr := s.claims.Rollback(ctx, record, true); rbErr != nil {
			log.Printf("[Reconcile] 终态写入回滚失败: provider=%s, orderID=%s, err=%v",
				provider, providerOrderID, rbErr)
		}
		return nil, fmt.Errorf("写入终态失败: %w", err)
	}

	log.Printf("[Reconcile] 确认完成: provider=%s, orderID=%s, userID=%d, plan=%s, kind=%s",
		provider, providerOrderID, record.UserID, record.Plan, result.Status)
	return result, nil
}

func (s *ReconcileService) validateAmount(record *model.PaymentRecord, payStatus *gateway.PaymentStatus) error {
	if !billing.ValidatePaymentAmount(record.Amount, payStatus.PaidAmount) {
		log.Printf("[Reconcile] 金额不符（疑似欺诈，留待人工核查）: provider=%s, orderID=%s, 应付=%s, 实付=%s",
			record.Provider, record.ProviderOrderID, record.Amount, payStatus.PaidAmount)
		return ErrAmountMismatch
	}
	if record.Currency != "" && payStatus.Currency != "" &&
		!strings.EqualFold(record.Currency, payStatus.Currency) {
		log.Printf("[Reconcile] 币种不符: provider=%s, orderID=%s, 应付=%s, 实付=%s",
			record.Provider, record.ProviderOrderID, record.Currency, payStatus.Currency)
		return ErrAmountMismatch
	}
	return nil
}

// applySubscription 认领成功后的发放：判定变更并事务写入订阅/钱包/outbox
// 同一用户的写入用分布式锁串行化，防止两笔不同订单的写入交错
func (s *ReconcileService) applySubscription(ctx context.Context, record *model.PaymentRecord, applied *bool) (*ConfirmResult, error) {
	var result *ConfirmResult

	err := s.locker.WithLock(ctx, record.UserID, record.ProviderOrderID, func() error {
		now := s.now()

		wallet, err := s.walletStore.GetOrCreate(ctx, record.UserID)
		if err != nil {
			return fmt.Errorf("获取钱包失败: %w", err)
		}
		// 先把已到期的排队变化结清，再做本次判定
		ApplyDueTransitions(wallet, now)

		var meta *model.PaymentMetadata
		if record.Metadata != "" {
			meta = &model.PaymentMetadata{}
			if err := json.Unmarshal([]byte(record.Metadata), meta); err != nil {
				meta = nil
			}
		}

		transition := billing.Classify(
			billing.CurrentState{
				Plan:      wallet.Plan,
				ExpiresAt: wallet.PlanExpiresAt,
				AnchorDay: wallet.BillingCycleAnchor,
			},
			billing.Purchase{Plan: record.Plan, Period: record.Period, Metadata: meta},
			now,
		)

		err = s.runInTx(ctx, func(tx *gorm.DB) error {
			if transition.Kind == billing.TransitionDowngrade {
				// 降级只排队：钱包保持高套餐，pending 行记录未来的低套餐
				wallet.SetPendingDowngrade(transition.PendingDowngrade)
				if err := s.subStore.Upsert(ctx, tx, &model.Subscription{
					UserID:          record.UserID,
					Status:          model.SubscriptionStatusPending,
					Plan:            record.Plan,
					Period:          record.Period,
					ProviderOrderID: record.ProviderOrderID,
					StartedAt:       transition.PendingDowngrade.EffectiveAt,
					ExpiresAt:       transition.PendingDowngrade.ExpiresAt,
				}); err != nil {
					return fmt.Errorf("写入排队降级失败: %w", err)
				}
			} else {
				expiresAt := transition.ExpiresAt
				quota := billing.QuotaFor(record.Plan)
				wallet.Plan = record.Plan
				wallet.PlanExpiresAt = &expiresAt
				wallet.BillingCycleAnchor = transition.AnchorDay
				wallet.DailyBuildsLimit = quota.DailyBuildsLimit
				wallet.FileRetentionDays = quota.FileRetentionDays
				wallet.BatchBuildEnabled = quota.BatchBuildEnabled
				if transition.ForceReset {
					wallet.DailyBuildsUsed = 0
					resetAt := now
					wallet.DailyBuildsResetAt = &resetAt
				}
				// 新购/续费/升级取代任何已排队的降级
				wallet.SetPendingDowngrade(nil)
				if err := s.subStore.DeletePending(ctx, tx, record.UserID); err != nil {
					return fmt.Errorf("清除排队降级失败: %w", err)
				}
				if err := s.subStore.Upsert(ctx, tx, &model.Subscription{
					UserID:          record.UserID,
					Status:          model.SubscriptionStatusActive,
					Plan:            record.Plan,
					Period:          record.Period,
					ProviderOrderID: record.ProviderOrderID,
					StartedAt:       transition.StartedAt,
					ExpiresAt:       transition.ExpiresAt,
				}); err != nil {
					return fmt.Errorf("写入订阅失败: %w", err)
				}
			}

			if err := s.walletStore.Update(ctx, tx, record.UserID, walletPlanPatch(wallet)); err != nil {
				return fmt.Errorf("更新钱包失败: %w", err)
			}

			payload, _ := json.Marshal(map[string]interface{}{
				"provider":          record.Provider,
				"provider_order_id": record.ProviderOrderID,
				"user_id":           record.UserID,
				"plan":              record.Plan,
				"period":            record.Period,
				"amount":            record.Amount,
				"transition":        transition.Kind,
				"completed_at":      now.Format(time.RFC3339),
			})
			if err := s.outboxStore.Create(ctx, tx, &model.OutboxMessage{
				MessageKey: record.ProviderOrderID,
				Topic:      s.cfg.Kafka.Topic.PaymentCompleted,
				Payload:    string(payload),
				Status:     model.OutboxStatusPending,
			}); err != nil {
				return fmt.Errorf("写入消息失败: %w", err)
			}

			return nil
		})
		if err != nil {
			return err
		}

		// 订阅写入已提交：从这里起任何失败都不能再退回 PENDING
		*applied = true

		result = &ConfirmResult{
			Status:           ConfirmCompleted,
			Plan:             wallet.Plan,
			ExpiresAt:        wallet.PlanExpiresAt,
			PendingDowngrade: wallet.GetPendingDowngrade(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *ReconcileService) completedResult(record *model.PaymentRecord) *ConfirmResult {
	return &ConfirmResult{
		Status:  ConfirmAlreadyProcessed,
		Plan:    record.Plan,
		Message: "该笔支付已处理",
	}
}
