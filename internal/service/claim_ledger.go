package service

import (
	"context"
	"fmt"
	"time"

	"webtoapp/internal/model"
)

// Ledger 支付记录存取接口，由 repository.PaymentRepository 实现
// ConditionalUpdate 必须是存储层原子的单行比较并交换
type Ledger interface {
	Get(ctx context.Context, provider, providerOrderID string) (*model.PaymentRecord, error)
	ConditionalUpdate(ctx context.Context, id int64, expectedStatus string, expectedUpdatedAt time.Time, patch map[string]interface{}) (int64, error)
	Put(ctx context.Context, id int64, patch map[string]interface{}) error
}

// 认领失败原因
const (
	ReasonNotFound   = "not_found"  // 无此支付记录
	ReasonCompleted  = "completed"  // 已完成，调用方应当作成功返回（幂等短路）
	ReasonProcessing = "processing" // 另一个确认方正在处理
	ReasonRace       = "race"       // 读取和写入之间被别人抢先认领
	ReasonFailed     = "failed"     // 记录已被超时关闭
)

// ClaimResult 认领结果
type ClaimResult struct {
	Claimed   bool
	Reclaimed bool // 从残留的 PROCESSING 接管；前一个认领方可能已写入订阅但没来得及写终态
	Reason    string
	Record    *model.PaymentRecord
}

// ============================================================================
// 认领协议
// ============================================================================
//
// 同一笔支付最多有三个物理上独立的确认方几乎同时到达：渠道回调、
// 客户端轮询、手动查单。进程内没有锁，唯一的协调点是支付记录上的
// 条件更新：UPDATE ... WHERE id=? AND status=? AND updated_at=?。
// 对同一个 (status, updated_at) 观察值，最多一个写入命中 1 行，
// 命中者获得独占处理权，其余观察到 race 或 processing，不得产生副作用。

// ClaimLedger 支付确认的认领账本
type ClaimLedger struct {
	ledger     Ledger
	staleAfter time.Duration    // PROCESSING 超过该时长视为认领方已崩溃，可重新认领
	now        func() time.Time // 便于测试注入
}

func NewClaimLedger(ledger Ledger, staleAfter time.Duration) *ClaimLedger {
	if staleAfter <= 0 {
		staleAfter = 15 * time.Minute
	}
	return &ClaimLedger{
		ledger:     ledger,
		staleAfter: staleAfter,
		now:        time.Now,
	}
}

// Claim 尝试获取独占处理权
func (c *ClaimLedger) Claim(ctx context.Context, provider, providerOrderID string) (*ClaimResult, error) {
	record, err := c.ledger.Get(ctx, provider, providerOrderID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return &ClaimResult{Claimed: false, Reason: ReasonNotFound}, nil
	}

	now := c.now()

	switch record.Status {
	case model.PaymentStatusCompleted:
		// 终态，幂等短路
		return &ClaimResult{Claimed: false, Reason: ReasonCompleted, Record: record}, nil

	case model.PaymentStatusFailed:
		return &ClaimResult{Claimed: false, Reason: ReasonFailed, Record: record}, nil

	case model.PaymentStatusProcessing:
		if now.Sub(record.UpdatedAt) < c.staleAfter {
			// 另一个确认方还在处理中，不要重试发放
			return &ClaimResult{Claimed: false, Reason: ReasonProcessing, Record: record}, nil
		}
		// 残留的 PROCESSING：上一个认领方崩溃了，由当前请求接管恢复。
		// 渠道回调会重试数小时，总会有下一个确认请求到达，无需后台清扫
	}

	reclaimed := record.Status == model.PaymentStatusProcessing

	// 比较并交换：条件带上读取时观察到的 status 和 updated_at，
	// 并发认领中只有一个能命中
	rows, err := c.ledger.ConditionalUpdate(ctx, record.ID,
		record.Status, record.UpdatedAt,
		map[string]interface{}{
			"status":     model.PaymentStatusProcessing,
			"updated_at": now,
		})
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		// 读取和写入之间别人赢了，调用方不要盲目重试发放
		return &ClaimResult{Claimed: false, Reason: ReasonRace, Record: record}, nil
	}

	record.Status = model.PaymentStatusProcessing
	record.UpdatedAt = now
	return &ClaimResult{Claimed: true, Reclaimed: reclaimed, Record: record}, nil
}

// Finalize 订阅/钱包写入全部成功后写终态
// 此时当前请求独占处理权，无条件写入即可，但目标状态必须是状态机允许的
func (c *ClaimLedger) Finalize(ctx context.Context, record *model.PaymentRecord, transactionID string) error {
	if !model.CanTransitionTo(record.Status, model.PaymentStatusCompleted) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, record.Status, model.PaymentStatusCompleted)
	}
	return c.ledger.Put(ctx, record.ID, map[string]interface{}{
		"status":         model.PaymentStatusCompleted,
		"transaction_id": transactionID,
		"updated_at":     c.now(),
	})
}

// Rollback 认领成功之后出错时的补偿
// 订阅已经写入的（影响钱的副作用已发生）直接推进到 COMPLETED，
// 防止之后的重试重复发放；否则退回 PENDING，可以安全地从头重试
func (c *ClaimLedger) Rollback(ctx context.Context, record *model.PaymentRecord, subscriptionApplied bool) error {
	status := model.PaymentStatusPending
	if subscriptionApplied {
		status = model.PaymentStatusCompleted
	}
	if !model.CanTransitionTo(record.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, record.Status, status)
	}
	return c.ledger.Put(ctx, record.ID, map[string]interface{}{
		"status":     status,
		"updated_at": c.now(),
	})
}
