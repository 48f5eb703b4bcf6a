package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webtoapp/internal/model"
)

func newTestClaimLedger(ledger Ledger, now time.Time) *ClaimLedger {
	c := NewClaimLedger(ledger, 15*time.Minute)
	c.now = func() time.Time { return now }
	return c
}

func pendingRecord(ledger *fakeLedger, orderID string) *model.PaymentRecord {
	return ledger.add(&model.PaymentRecord{
		Provider:        model.ProviderStripe,
		ProviderOrderID: orderID,
		UserID:          42,
		Status:          model.PaymentStatusPending,
		UpdatedAt:       time.Now().Add(-time.Minute),
	})
}

func TestClaimPending(t *testing.T) {
	ledger := newFakeLedger()
	record := pendingRecord(ledger, "ord-1")
	now := time.Now()

	claims := newTestClaimLedger(ledger, now)
	result, err := claims.Claim(context.Background(), model.ProviderStripe, "ord-1")

	require.NoError(t, err)
	assert.True(t, result.Claimed)
	assert.Equal(t, model.PaymentStatusProcessing, result.Record.Status)

	stored := ledger.snapshot(record.ID)
	assert.Equal(t, model.PaymentStatusProcessing, stored.Status)
	assert.True(t, stored.UpdatedAt.Equal(now))
}

func TestClaimNotFound(t *testing.T) {
	claims := newTestClaimLedger(newFakeLedger(), time.Now())
	result, err := claims.Claim(context.Background(), model.ProviderStripe, "missing")

	require.NoError(t, err)
	assert.False(t, result.Claimed)
	assert.Equal(t, ReasonNotFound, result.Reason)
}

func TestClaimCompletedIsIdempotentShortCircuit(t *testing.T) {
	ledger := newFakeLedger()
	ledger.add(&model.PaymentRecord{
		Provider:        model.ProviderAlipay,
		ProviderOrderID: "ord-2",
		Status:          model.PaymentStatusCompleted,
		UpdatedAt:       time.Now(),
	})

	claims := newTestClaimLedger(ledger, time.Now())
	result, err := claims.Claim(context.Background(), model.ProviderAlipay, "ord-2")

	require.NoError(t, err)
	assert.False(t, result.Claimed)
	assert.Equal(t, ReasonCompleted, result.Reason)
}

func TestClaimFreshProcessingIsBusy(t *testing.T) {
	ledger := newFakeLedger()
	now := time.Now()
	ledger.add(&model.PaymentRecord{
		Provider:        model.ProviderWechat,
		ProviderOrderID: "ord-3",
		Status:          model.PaymentStatusProcessing,
		UpdatedAt:       now.Add(-5 * time.Minute),
	})

	claims := newTestClaimLedger(ledger, now)
	result, err := claims.Claim(context.Background(), model.ProviderWechat, "ord-3")

	require.NoError(t, err)
	assert.False(t, result.Claimed)
	assert.Equal(t, ReasonProcessing, result.Reason)
}

func TestClaimStaleProcessingIsReclaimable(t *testing.T) {
	ledger := newFakeLedger()
	now := time.Now()
	record := ledger.add(&model.PaymentRecord{
		Provider:        model.ProviderWechat,
		ProviderOrderID: "ord-4",
		Status:          model.PaymentStatusProcessing,
		UpdatedAt:       now.Add(-16 * time.Minute),
	})

	claims := newTestClaimLedger(ledger, now)
	result, err := claims.Claim(context.Background(), model.ProviderWechat, "ord-4")

	require.NoError(t, err)
	assert.True(t, result.Claimed, "超过 15 分钟的 PROCESSING 应可被接管")
	assert.True(t, result.Reclaimed, "接管要带标记，调用方据此先检查发放是否已完成")

	stored := ledger.snapshot(record.ID)
	assert.True(t, stored.UpdatedAt.Equal(now))
}

func TestClaimFromPendingIsNotTakeover(t *testing.T) {
	ledger := newFakeLedger()
	pendingRecord(ledger, "ord-fresh")

	claims := newTestClaimLedger(ledger, time.Now())
	result, err := claims.Claim(context.Background(), model.ProviderStripe, "ord-fresh")

	require.NoError(t, err)
	require.True(t, result.Claimed)
	assert.False(t, result.Reclaimed)
}

func TestClaimExactlyAtStaleBoundaryIsReclaimable(t *testing.T) {
	ledger := newFakeLedger()
	now := time.Now()
	ledger.add(&model.PaymentRecord{
		Provider:        model.ProviderStripe,
		ProviderOrderID: "ord-5",
		Status:          model.PaymentStatusProcessing,
		UpdatedAt:       now.Add(-15 * time.Minute),
	})

	claims := newTestClaimLedger(ledger, now)
	result, err := claims.Claim(context.Background(), model.ProviderStripe, "ord-5")

	require.NoError(t, err)
	assert.True(t, result.Claimed, "恰好 15 分钟按残留处理")
}

func TestClaimFailedRecord(t *testing.T) {
	ledger := newFakeLedger()
	ledger.add(&model.PaymentRecord{
		Provider:        model.ProviderStripe,
		ProviderOrderID: "ord-6",
		Status:          model.PaymentStatusFailed,
		UpdatedAt:       time.Now(),
	})

	claims := newTestClaimLedger(ledger, time.Now())
	result, err := claims.Claim(context.Background(), model.ProviderStripe, "ord-6")

	require.NoError(t, err)
	assert.False(t, result.Claimed)
	assert.Equal(t, ReasonFailed, result.Reason)
}

// 并发认领互斥：同一初始状态下 N 个并发认领只有一个成功
func TestClaimConcurrentExclusivity(t *testing.T) {
	ledger := newFakeLedger()
	pendingRecord(ledger, "ord-race")

	const n = 16
	claims := NewClaimLedger(ledger, 15*time.Minute)

	var wg sync.WaitGroup
	results := make([]*ClaimResult, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := claims.Claim(context.Background(), model.ProviderStripe, "ord-race")
			assert.NoError(t, err)
			results[i] = result
		}(i)
	}
	wg.Wait()

	claimed := 0
	for _, r := range results {
		if r.Claimed {
			claimed++
		} else {
			assert.Contains(t, []string{ReasonRace, ReasonProcessing}, r.Reason)
		}
	}
	assert.Equal(t, 1, claimed, "恰好一个认领方成功")
}

func TestFinalizeWritesTerminalState(t *testing.T) {
	ledger := newFakeLedger()
	record := pendingRecord(ledger, "ord-7")
	now := time.Now()

	claims := newTestClaimLedger(ledger, now)
	result, err := claims.Claim(context.Background(), model.ProviderStripe, "ord-7")
	require.NoError(t, err)
	require.True(t, result.Claimed)

	require.NoError(t, claims.Finalize(context.Background(), result.Record, "txn-abc"))

	stored := ledger.snapshot(record.ID)
	assert.Equal(t, model.PaymentStatusCompleted, stored.Status)
	assert.Equal(t, "txn-abc", stored.TransactionID)
}

func TestFinalizeRejectsUnclaimedRecord(t *testing.T) {
	ledger := newFakeLedger()
	record := pendingRecord(ledger, "ord-10")
	claims := newTestClaimLedger(ledger, time.Now())

	// 没有先认领就写终态：PENDING -> COMPLETED 不在状态机里
	err := claims.Finalize(context.Background(), record, "txn-x")
	require.ErrorIs(t, err, ErrInvalidStatusTransition)
	assert.Equal(t, model.PaymentStatusPending, ledger.snapshot(record.ID).Status)
}

func TestRollbackRejectsTerminalRecord(t *testing.T) {
	ledger := newFakeLedger()
	record := ledger.add(&model.PaymentRecord{
		Provider:        model.ProviderStripe,
		ProviderOrderID: "ord-11",
		Status:          model.PaymentStatusCompleted,
		UpdatedAt:       time.Now(),
	})
	claims := newTestClaimLedger(ledger, time.Now())

	err := claims.Rollback(context.Background(), record, false)
	require.ErrorIs(t, err, ErrInvalidStatusTransition)
	assert.Equal(t, model.PaymentStatusCompleted, ledger.snapshot(record.ID).Status)
}

func TestRollbackDirectionDependsOnSideEffect(t *testing.T) {
	ctx := context.Background()

	t.Run("订阅未写入退回PENDING", func(t *testing.T) {
		ledger := newFakeLedger()
		record := pendingRecord(ledger, "ord-8")
		claims := newTestClaimLedger(ledger, time.Now())

		result, err := claims.Claim(ctx, model.ProviderStripe, "ord-8")
		require.NoError(t, err)
		require.True(t, result.Claimed)

		require.NoError(t, claims.Rollback(ctx, result.Record, false))
		assert.Equal(t, model.PaymentStatusPending, ledger.snapshot(record.ID).Status)
	})

	t.Run("订阅已写入推进到COMPLETED防止重复发放", func(t *testing.T) {
		ledger := newFakeLedger()
		record := pendingRecord(ledger, "ord-9")
		claims := newTestClaimLedger(ledger, time.Now())

		result, err := claims.Claim(ctx, model.ProviderStripe, "ord-9")
		require.NoError(t, err)
		require.True(t, result.Claimed)

		require.NoError(t, claims.Rollback(ctx, result.Record, true))
		assert.Equal(t, model.PaymentStatusCompleted, ledger.snapshot(record.ID).Status)
	})
}
