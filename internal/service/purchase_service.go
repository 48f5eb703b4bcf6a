package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"webtoapp/internal/billing"
	"webtoapp/internal/config"
	"webtoapp/internal/model"
	"webtoapp/internal/repository"
	"webtoapp/pkg/idgen"
)

// PurchaseService 购买意向：创建 PENDING 支付记录
// 跳转/扫码等支付执行动作由上游负责，这里只落记录
type PurchaseService struct {
	db          *gorm.DB
	cfg         *config.Config
	paymentRepo *repository.PaymentRepository
}

func NewPurchaseService(db *gorm.DB, cfg *config.Config) *PurchaseService {
	return &PurchaseService{
		db:          db,
		cfg:         cfg,
		paymentRepo: repository.NewPaymentRepository(db),
	}
}

type CreateOrderRequest struct {
	RequestID string `json:"request_id"` // 客户端幂等键，可选
	UserID    int64  `json:"user_id" binding:"required"`
	Provider  string `json:"provider" binding:"required"`
	Plan      string `json:"plan" binding:"required"`
	Period    string `json:"period" binding:"required"`
	// 升级单专用：由上游改价计算器算出的折算天数和折后价
	UpgradeDays    int             `json:"upgrade_days"`
	ProratedAmount decimal.Decimal `json:"prorated_amount"`
}

type CreateOrderResponse struct {
	ProviderOrderID string          `json:"provider_order_id"`
	Provider        string          `json:"provider"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	Status          string          `json:"status"`
	Message         string          `json:"message,omitempty"`
}

func (s *PurchaseService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*CreateOrderResponse, error) {
	if !model.IsValidProvider(req.Provider) {
		return nil, fmt.Errorf("不支持的支付渠道: %s", req.Provider)
	}
	if !billing.IsValidPlan(req.Plan) || req.Plan == billing.PlanFree {
		return nil, fmt.Errorf("不支持购买的套餐: %s", req.Plan)
	}
	if req.Period != model.PeriodMonthly && req.Period != model.PeriodAnnual {
		return nil, fmt.Errorf("不支持的订阅周期: %s", req.Period)
	}

	// 幂等：带 request_id 的重复提交复用同一订单号
	orderID := idgen.GenerateOrderNo()
	if req.RequestID != "" {
		orderID = "W2A" + req.RequestID
		existing, err := s.paymentRepo.Get(ctx, req.Provider, orderID)
		if err != nil {
			return nil, fmt.Errorf("查询支付记录失败: %w", err)
		}
		if existing != nil {
			return &CreateOrderResponse{
				ProviderOrderID: existing.ProviderOrderID,
				Provider:        existing.Provider,
				Amount:          existing.Amount,
				Currency:        existing.Currency,
				Status:          existing.Status,
				Message:         "订单已存在",
			}, nil
		}
	}

	amount := billing.PriceFor(req.Plan, req.Period)
	metadata := ""
	if req.UpgradeDays > 0 && req.ProratedAmount.IsPositive() {
		// 升级单：上游已把旧套餐剩余价值折算进价格和天数
		meta := model.PaymentMetadata{
			Days:           req.UpgradeDays,
			IsUpgrade:      true,
			OriginalAmount: amount,
			BillingCycle:   req.Period,
		}
		data, _ := json.Marshal(meta)
		metadata = string(data)
		amount = req.ProratedAmount
	}

	record := &model.PaymentRecord{
		Provider:        req.Provider,
		ProviderOrderID: orderID,
		UserID:          req.UserID,
		Amount:          amount,
		Currency:        "USD",
		Status:          model.PaymentStatusPending,
		Plan:            req.Plan,
		Period:          req.Period,
		Metadata:        metadata,
		CreatedAt:       time.Now(),
	}
	if err := s.paymentRepo.Create(ctx, nil, record); err != nil {
		return nil, fmt.Errorf("创建支付记录失败: %w", err)
	}

	return &CreateOrderResponse{
		ProviderOrderID: record.ProviderOrderID,
		Provider:        record.Provider,
		Amount:          record.Amount,
		Currency:        record.Currency,
		Status:          record.Status,
	}, nil
}

// GetOrder 查询支付记录
func (s *PurchaseService) GetOrder(ctx context.Context, provider, providerOrderID string) (*model.PaymentRecord, error) {
	record, err := s.paymentRepo.Get(ctx, provider, providerOrderID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, ErrPaymentNotFound
	}
	return record, nil
}

// ListOrders 用户支付记录分页
func (s *PurchaseService) ListOrders(ctx context.Context, userID int64, page, pageSize int) ([]*model.PaymentRecord, int64, error) {
	return s.paymentRepo.ListByUserID(ctx, userID, page, pageSize)
}
