package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"webtoapp/internal/config"
)

// HTTPGateway 通过内部支付代理查单的默认实现
// 代理把各渠道的原始响应归一化为 PaymentStatus 的形状返回
type HTTPGateway struct {
	provider string
	endpoint config.ProviderEndpoint
	client   *http.Client
}

func NewHTTPGateway(provider string, endpoint config.ProviderEndpoint) *HTTPGateway {
	timeout := time.Duration(endpoint.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPGateway{
		provider: provider,
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

type queryRequest struct {
	AppID   string `json:"app_id"`
	OrderID string `json:"order_id"`
}

func (g *HTTPGateway) QueryPayment(ctx context.Context, providerOrderID string) (*PaymentStatus, error) {
	body, err := json.Marshal(queryRequest{AppID: g.endpoint.AppID, OrderID: providerOrderID})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint.QueryURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s 返回 %d", ErrProviderUnavailable, g.provider, resp.StatusCode)
	}

	var status PaymentStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("%w: 解析响应失败: %v", ErrProviderUnavailable, err)
	}

	return &status, nil
}
