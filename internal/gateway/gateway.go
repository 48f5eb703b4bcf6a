package gateway

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	ErrProviderUnavailable = errors.New("支付渠道查询失败")
	ErrUnknownProvider     = errors.New("未知的支付渠道")
)

// PaymentStatus 渠道侧的权威支付状态
type PaymentStatus struct {
	Paid          bool            `json:"paid"`
	TransactionID string          `json:"transaction_id"`
	PaidAmount    decimal.Decimal `json:"paid_amount"`
	Currency      string          `json:"currency"`
}

// ProviderGateway 支付渠道查单接口
// 每个渠道（Stripe session / 支付宝 trade query / 微信 order query）各有实现，
// 确认流程只依赖这个形状，不关心渠道细节
type ProviderGateway interface {
	QueryPayment(ctx context.Context, providerOrderID string) (*PaymentStatus, error)
}

// Registry 按渠道名分发的网关注册表，进程启动时装配一次
type Registry struct {
	gateways map[string]ProviderGateway
}

func NewRegistry() *Registry {
	return &Registry{gateways: make(map[string]ProviderGateway)}
}

func (r *Registry) Register(provider string, gw ProviderGateway) {
	r.gateways[provider] = gw
}

func (r *Registry) Get(provider string) (ProviderGateway, error) {
	gw, ok := r.gateways[provider]
	if !ok {
		return nil, ErrUnknownProvider
	}
	return gw, nil
}
