package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"webtoapp/internal/model"
)

var (
	ErrPaymentNotFound      = errors.New("支付记录不存在")
	ErrPaymentStatusInvalid = errors.New("支付记录状态不合法")
	ErrDuplicateOrder       = errors.New("重复的支付单号")
)

type PaymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) Create(ctx context.Context, tx *gorm.DB, record *model.PaymentRecord) error {
	if tx == nil {
		tx = r.db
	}
	record.UpdatedAt = time.Now()
	return tx.WithContext(ctx).Create(record).Error
}

// Get 按 (provider, providerOrderID) 查询，未找到返回 (nil, nil)
func (r *PaymentRepository) Get(ctx context.Context, provider, providerOrderID string) (*model.PaymentRecord, error) {
	var record model.PaymentRecord
	err := r.db.WithContext(ctx).
		Where("provider = ? AND provider_order_id = ?", provider, providerOrderID).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// ConditionalUpdate 认领协议的核心：比较并交换
//
// 只有当记录的 status 和 updated_at 仍然等于调用方读取时观察到的值，
// 更新才会命中。存储层不要求多文档事务，这个单行条件更新就是锁本身：
// 两个并发调用方中最多一个能命中 1 行。
// 返回命中的行数（0 表示在读取和写入之间有别人抢先改了记录）
func (r *PaymentRepository) ConditionalUpdate(
	ctx context.Context,
	id int64,
	expectedStatus string,
	expectedUpdatedAt time.Time,
	patch map[string]interface{},
) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&model.PaymentRecord{}).
		Where("id = ? AND status = ? AND updated_at = ?", id, expectedStatus, expectedUpdatedAt).
		Updates(patch)

	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// Put 无条件更新指定字段（只用于已持有认领权之后的终态写入）
func (r *PaymentRepository) Put(ctx context.Context, id int64, patch map[string]interface{}) error {
	result := r.db.WithContext(ctx).
		Model(&model.PaymentRecord{}).
		Where("id = ?", id).
		Updates(patch)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

// GetExpiredPending 查询超时未支付的 PENDING 记录（供超时关闭任务使用）
func (r *PaymentRepository) GetExpiredPending(ctx context.Context, before time.Time, limit int) ([]*model.PaymentRecord, error) {
	var records []*model.PaymentRecord
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", model.PaymentStatusPending, before).
		Limit(limit).
		Find(&records).Error
	return records, err
}

// ListByUserID 用户支付记录分页
func (r *PaymentRepository) ListByUserID(ctx context.Context, userID int64, page, pageSize int) ([]*model.PaymentRecord, int64, error) {
	var records []*model.PaymentRecord
	var total int64

	query := r.db.WithContext(ctx).Model(&model.PaymentRecord{}).Where("user_id = ?", userID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&records).Error

	return records, total, err
}
