package job

import (
	"context"
	"log"
	"time"

	"gorm.io/gorm"

	"webtoapp/internal/config"
	"webtoapp/internal/model"
	"webtoapp/internal/repository"
)

// PendingExpiryJob 关闭长时间未支付确认的购买意向
//
// 只碰 PENDING 记录，PROCESSING 和终态记录一律不动：
// PROCESSING 说明有确认方正在处理，陈旧认领由认领协议自己回收。
// 关闭动作走和认领一样的条件更新，期间被并发确认抢走就放弃本条。
type PendingExpiryJob struct {
	db          *gorm.DB
	paymentRepo *repository.PaymentRepository
	cfg         *config.Config
	stopCh      chan struct{}
	interval    time.Duration
	batchSize   int
}

func NewPendingExpiryJob(db *gorm.DB, cfg *config.Config) *PendingExpiryJob {
	return &PendingExpiryJob{
		db:          db,
		paymentRepo: repository.NewPaymentRepository(db),
		cfg:         cfg,
		stopCh:      make(chan struct{}),
		interval:    time.Minute,
		batchSize:   100,
	}
}

func (j *PendingExpiryJob) Start(ctx context.Context) {
	log.Println("[PendingExpiryJob] 超时关单任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[PendingExpiryJob] 收到停止信号，任务退出")
			return
		case <-j.stopCh:
			log.Println("[PendingExpiryJob] 任务停止")
			return
		case <-ticker.C:
			j.closeExpiredRecords(ctx)
		}
	}
}

func (j *PendingExpiryJob) Stop() {
	close(j.stopCh)
}

func (j *PendingExpiryJob) closeExpiredRecords(ctx context.Context) {
	timeout := time.Duration(j.cfg.Business.PendingOrderTimeoutMinutes) * time.Minute
	before := time.Now().Add(-timeout)

	records, err := j.paymentRepo.GetExpiredPending(ctx, before, j.batchSize)
	if err != nil {
		log.Printf("[PendingExpiryJob] 查询超时记录失败: %v", err)
		return
	}

	if len(records) == 0 {
		return
	}

	closedCount := 0
	for _, record := range records {
		affected, err := j.paymentRepo.ConditionalUpdate(ctx, record.ID, model.PaymentStatusPending, record.UpdatedAt,
			map[string]interface{}{
				"status":     model.PaymentStatusFailed,
				"updated_at": time.Now(),
			})
		if err != nil {
			log.Printf("[PendingExpiryJob] 关闭记录失败: orderID=%s, err=%v", record.ProviderOrderID, err)
			continue
		}
		if affected == 0 {
			// 查询和关闭之间被确认流程认领了，放弃
			continue
		}
		closedCount++
		log.Printf("[PendingExpiryJob] 记录已超时关闭: provider=%s, orderID=%s, userID=%d",
			record.Provider, record.ProviderOrderID, record.UserID)
	}

	if closedCount > 0 {
		log.Printf("[PendingExpiryJob] 本次关闭 %d 条超时记录", closedCount)
	}
}
