package job

import (
	"context"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"

	"webtoapp/internal/repository"
	"webtoapp/internal/service"
)

// DowngradeApplyJob 兜底应用到期的套餐变化
//
// 降级和过期正常情况下在用户下次访问时惰性结清，
// 这个任务保证长期不活跃的用户也会在生效日之后被结清，
// 下游（构建额度统计、订阅表）不会一直看到旧套餐。
// 结清复用钱包读路径，和惰性路径走同一段代码（含用户锁下的落库）。
type DowngradeApplyJob struct {
	db         *gorm.DB
	walletRepo *repository.WalletRepository
	walletSvc  *service.WalletService
	stopCh     chan struct{}
	interval   time.Duration
	batchSize  int
}

func NewDowngradeApplyJob(db *gorm.DB, redisClient *redis.Client) *DowngradeApplyJob {
	return &DowngradeApplyJob{
		db:         db,
		walletRepo: repository.NewWalletRepository(db),
		walletSvc:  service.NewWalletService(db, redisClient),
		stopCh:     make(chan struct{}),
		interval:   time.Hour,
		batchSize:  200,
	}
}

func (j *DowngradeApplyJob) Start(ctx context.Context) {
	log.Println("[DowngradeApplyJob] 套餐结清任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[DowngradeApplyJob] 收到停止信号，任务退出")
			return
		case <-j.stopCh:
			log.Println("[DowngradeApplyJob] 任务停止")
			return
		case <-ticker.C:
			j.applyDueDowngrades(ctx)
		}
	}
}

func (j *DowngradeApplyJob) Stop() {
	close(j.stopCh)
}

func (j *DowngradeApplyJob) applyDueDowngrades(ctx context.Context) {
	wallets, err := j.walletRepo.GetDueDowngrades(ctx, j.batchSize)
	if err != nil {
		log.Printf("[DowngradeApplyJob] 查询排队降级失败: %v", err)
		return
	}

	for _, wallet := range wallets {
		// GetWallet 内部结清到期变化并落库，未到生效日的会原样返回
		if _, err := j.walletSvc.GetWallet(ctx, wallet.UserID); err != nil {
			log.Printf("[DowngradeApplyJob] 结清钱包失败: userID=%d, err=%v", wallet.UserID, err)
		}
	}
}
