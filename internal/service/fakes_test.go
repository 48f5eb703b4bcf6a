package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"

	"webtoapp/internal/gateway"
	"webtoapp/internal/model"
)

// ============================================================================
// 内存假实现，模拟存储层的单行 CAS 语义
// ============================================================================

type fakeLedger struct {
	mu      sync.Mutex
	nextID  int64
	records map[int64]*model.PaymentRecord
	getErr  error
	putErr  error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{records: make(map[int64]*model.PaymentRecord)}
}

func (f *fakeLedger) add(record *model.PaymentRecord) *model.PaymentRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	record.ID = f.nextID
	clone := *record
	f.records[record.ID] = &clone
	return record
}

// snapshot 返回存储中的当前状态（副本）
func (f *fakeLedger) snapshot(id int64) *model.PaymentRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.records[id]; ok {
		clone := *r
		return &clone
	}
	return nil
}

func (f *fakeLedger) Get(ctx context.Context, provider, providerOrderID string) (*model.PaymentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	for _, r := range f.records {
		if r.Provider == provider && r.ProviderOrderID == providerOrderID {
			clone := *r
			return &clone, nil
		}
	}
	return nil, nil
}

func (f *fakeLedger) ConditionalUpdate(ctx context.Context, id int64, expectedStatus string, expectedUpdatedAt time.Time, patch map[string]interface{}) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[id]
	if !ok {
		return 0, nil
	}
	if r.Status != expectedStatus || !r.UpdatedAt.Equal(expectedUpdatedAt) {
		return 0, nil
	}
	applyRecordPatch(r, patch)
	return 1, nil
}

func (f *fakeLedger) Put(ctx context.Context, id int64, patch map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return f.putErr
	}
	r, ok := f.records[id]
	if !ok {
		return fmt.Errorf("记录不存在: %d", id)
	}
	applyRecordPatch(r, patch)
	return nil
}

func applyRecordPatch(r *model.PaymentRecord, patch map[string]interface{}) {
	if v, ok := patch["status"].(string); ok {
		r.Status = v
	}
	if v, ok := patch["updated_at"].(time.Time); ok {
		r.UpdatedAt = v
	}
	if v, ok := patch["transaction_id"].(string); ok {
		r.TransactionID = v
	}
}

// recordingLocker 记录加锁次数；before 在临界区执行前运行，
// 用来模拟等锁期间另一个持锁方完成的写入
type recordingLocker struct {
	mu     sync.Mutex
	calls  int
	before func()
}

func (l *recordingLocker) WithLock(ctx context.Context, userID int64, providerOrderID string, fn func() error) error {
	l.mu.Lock()
	l.calls++
	before := l.before
	l.mu.Unlock()
	if before != nil {
		before()
	}
	return fn()
}

func (l *recordingLocker) lockCalls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

type fakeSubStore struct {
	mu          sync.Mutex
	subs        map[string]*model.Subscription // key: userID|status
	upsertCalls int
	upsertErr   error
}

// seed 直接放入订阅行，不计入 upsertCalls
func (f *fakeSubStore) seed(sub *model.Subscription) {
	f.mu.Lock()
	defer f.mu.Unlock()
	clone := *sub
	f.subs[subKey(sub.UserID, sub.Status)] = &clone
}

func newFakeSubStore() *fakeSubStore {
	return &fakeSubStore{subs: make(map[string]*model.Subscription)}
}

func subKey(userID int64, status string) string {
	return fmt.Sprintf("%d|%s", userID, status)
}

func (f *fakeSubStore) get(userID int64, status string) *model.Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.subs[subKey(userID, status)]; ok {
		clone := *s
		return &clone
	}
	return nil
}

func (f *fakeSubStore) GetActive(ctx context.Context, userID int64) (*model.Subscription, error) {
	return f.get(userID, model.SubscriptionStatusActive), nil
}

func (f *fakeSubStore) Upsert(ctx context.Context, tx *gorm.DB, sub *model.Subscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.upsertCalls++
	clone := *sub
	f.subs[subKey(sub.UserID, sub.Status)] = &clone
	return nil
}

func (f *fakeSubStore) DeletePending(ctx context.Context, tx *gorm.DB, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subs, subKey(userID, model.SubscriptionStatusPending))
	return nil
}

type fakeWalletStore struct {
	mu          sync.Mutex
	wallets     map[int64]*model.Wallet
	updateCalls int
	updateErr   error
}

func newFakeWalletStore() *fakeWalletStore {
	return &fakeWalletStore{wallets: make(map[int64]*model.Wallet)}
}

func (f *fakeWalletStore) put(w *model.Wallet) {
	f.mu.Lock()
	defer f.mu.Unlock()
	clone := *w
	f.wallets[w.UserID] = &clone
}

func (f *fakeWalletStore) snapshot(userID int64) *model.Wallet {
	f.mu.Lock()
	defer f.mu.Unlock()
	if w, ok := f.wallets[userID]; ok {
		clone := *w
		return &clone
	}
	return nil
}

func (f *fakeWalletStore) GetOrCreate(ctx context.Context, userID int64) (*model.Wallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if w, ok := f.wallets[userID]; ok {
		clone := *w
		return &clone, nil
	}
	w := &model.Wallet{UserID: userID, Plan: "free", DailyBuildsLimit: 3, FileRetentionDays: 7, BillingCycleAnchor: 1}
	f.wallets[userID] = w
	clone := *w
	return &clone, nil
}

func (f *fakeWalletStore) Update(ctx context.Context, tx *gorm.DB, userID int64, patch map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	w, ok := f.wallets[userID]
	if !ok {
		return fmt.Errorf("钱包不存在: %d", userID)
	}
	f.updateCalls++
	if v, ok := patch["plan"].(string); ok {
		w.Plan = v
	}
	if v, ok := patch["plan_expires_at"].(*time.Time); ok {
		w.PlanExpiresAt = v
	}
	if v, ok := patch["daily_builds_limit"].(int); ok {
		w.DailyBuildsLimit = v
	}
	if v, ok := patch["daily_builds_used"].(int); ok {
		w.DailyBuildsUsed = v
	}
	if v, ok := patch["daily_builds_reset_at"].(*time.Time); ok {
		w.DailyBuildsResetAt = v
	}
	if v, ok := patch["file_retention_days"].(int); ok {
		w.FileRetentionDays = v
	}
	if v, ok := patch["batch_build_enabled"].(bool); ok {
		w.BatchBuildEnabled = v
	}
	if v, ok := patch["billing_cycle_anchor"].(int); ok {
		w.BillingCycleAnchor = v
	}
	if v, ok := patch["pending_downgrade"].(string); ok {
		w.PendingDowngrade = v
	}
	return nil
}

type fakeOutbox struct {
	mu       sync.Mutex
	messages []*model.OutboxMessage
}

func (f *fakeOutbox) Create(ctx context.Context, tx *gorm.DB, msg *model.OutboxMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	clone := *msg
	f.messages = append(f.messages, &clone)
	return nil
}

func (f *fakeOutbox) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

type fakeGateway struct {
	status *gateway.PaymentStatus
	err    error
}

func (f *fakeGateway) QueryPayment(ctx context.Context, providerOrderID string) (*gateway.PaymentStatus, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.status, nil
}
