package handler

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"

	"webtoapp/internal/build"
	"webtoapp/internal/config"
	"webtoapp/internal/gateway"
	"webtoapp/internal/service"
	"webtoapp/pkg/response"
)

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	purchaseService  *service.PurchaseService
	reconcileService *service.ReconcileService
	walletService    *service.WalletService
	buildQueue       *build.Queue
}

// NewHandler 创建处理器实例
func NewHandler(db *gorm.DB, rdb *redis.Client, cfg *config.Config, gateways *gateway.Registry, queue *build.Queue) *Handler {
	return &Handler{
		purchaseService:  service.NewPurchaseService(db, cfg),
		reconcileService: service.NewReconcileService(db, rdb, cfg, gateways),
		walletService:    service.NewWalletService(db, rdb),
		buildQueue:       queue,
	}
}

// userIDFromHeader 网关层注入的用户身份
func userIDFromHeader(c *gin.Context) (int64, bool) {
	userID, err := strconv.ParseInt(c.GetHeader("X-User-ID"), 10, 64)
	if err != nil || userID <= 0 {
		return 0, false
	}
	return userID, true
}

// ============================================================
// 订单相关接口
// ============================================================

// CreateOrder 创建购买意向
// POST /api/v1/order/create
func (h *Handler) CreateOrder(c *gin.Context) {
	var req service.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	resp, err := h.purchaseService.CreateOrder(c.Request.Context(), &req)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, resp)
}

// GetOrder 查询订单详情
// GET /api/v1/order/detail?provider=xxx&order_id=xxx
func (h *Handler) GetOrder(c *gin.Context) {
	provider := c.Query("provider")
	orderID := c.Query("order_id")
	if provider == "" || orderID == "" {
		response.ParamError(c, "provider 和 order_id 参数不能为空")
		return
	}

	record, err := h.purchaseService.GetOrder(c.Request.Context(), provider, orderID)
	if err != nil {
		if errors.Is(err, service.ErrPaymentNotFound) {
			response.BusinessError(c, response.CodePaymentNotFound, "支付记录不存在")
			return
		}
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, record)
}

// ListOrders 查询用户订单列表
// GET /api/v1/order/list?page=1&page_size=10
func (h *Handler) ListOrders(c *gin.Context) {
	userID, ok := userIDFromHeader(c)
	if !ok {
		response.Error(c, response.CodeUnauthorized, "缺少用户身份")
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))

	records, total, err := h.purchaseService.ListOrders(c.Request.Context(), userID, page, pageSize)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"list":      records,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// ============================================================
// 支付确认相关接口
// ============================================================

// ConfirmRequest 主动确认请求（客户端支付完成后轮询）
type ConfirmRequest struct {
	Provider        string `json:"provider" binding:"required"`
	ProviderOrderID string `json:"provider_order_id" binding:"required"`
}

// ConfirmPayment 主动确认
// POST /api/v1/pay/confirm
func (h *Handler) ConfirmPayment(c *gin.Context) {
	var req ConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	h.confirm(c, req.Provider, req.ProviderOrderID)
}

// NotifyRequest 渠道回调载荷
// 回调内容只当作触发信号，支付结果以查单接口为准
type NotifyRequest struct {
	OrderID string `json:"order_id" binding:"required"`
}

// ProviderNotify 渠道异步回调
// POST /api/v1/pay/notify/:provider
func (h *Handler) ProviderNotify(c *gin.Context) {
	provider := c.Param("provider")

	var req NotifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	h.confirm(c, provider, req.OrderID)
}

func (h *Handler) confirm(c *gin.Context, provider, orderID string) {
	result, err := h.reconcileService.Confirm(c.Request.Context(), provider, orderID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrPaymentNotFound):
			response.BusinessError(c, response.CodePaymentNotFound, "支付记录不存在")
		case errors.Is(err, service.ErrAmountMismatch):
			response.BusinessError(c, response.CodeAmountMismatch, "支付金额不符，请联系客服")
		default:
			response.BusinessError(c, response.CodeProviderError, "确认暂时失败，请稍后重试")
		}
		return
	}

	response.Success(c, result)
}

// ============================================================
// 钱包相关接口
// ============================================================

// GetWallet 查询钱包（套餐、额度、排队降级）
// GET /api/v1/wallet
func (h *Handler) GetWallet(c *gin.Context) {
	userID, ok := userIDFromHeader(c)
	if !ok {
		response.Error(c, response.CodeUnauthorized, "缺少用户身份")
		return
	}

	wallet, err := h.walletService.GetWallet(c.Request.Context(), userID)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"user_id":              wallet.UserID,
		"plan":                 wallet.Plan,
		"plan_expires_at":      wallet.PlanExpiresAt,
		"daily_builds_limit":   wallet.DailyBuildsLimit,
		"daily_builds_used":    wallet.DailyBuildsUsed,
		"file_retention_days":  wallet.FileRetentionDays,
		"batch_build_enabled":  wallet.BatchBuildEnabled,
		"billing_cycle_anchor": wallet.BillingCycleAnchor,
		"pending_downgrade":    wallet.GetPendingDowngrade(),
	})
}

// ============================================================
// 打包相关接口
// ============================================================

// SubmitBuildRequest 提交打包
type SubmitBuildRequest struct {
	URL      string `json:"url" binding:"required"`
	AppName  string `json:"app_name" binding:"required"`
	Platform string `json:"platform" binding:"required,oneof=android ios"`
}

// SubmitBuild 提交打包任务
// POST /api/v1/build/submit
// 先扣当日额度再入队，队列满时额度已经占用，客户端重试即可
func (h *Handler) SubmitBuild(c *gin.Context) {
	userID, ok := userIDFromHeader(c)
	if !ok {
		response.Error(c, response.CodeUnauthorized, "缺少用户身份")
		return
	}

	var req SubmitBuildRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	if _, err := h.walletService.ConsumeBuild(c.Request.Context(), userID); err != nil {
		if errors.Is(err, service.ErrQuotaExceeded) {
			response.BusinessError(c, response.CodeQuotaExceeded, "今日构建额度已用完")
			return
		}
		response.ServerError(c, err.Error())
		return
	}

	task, err := h.buildQueue.Submit(build.Request{
		UserID:   userID,
		URL:      req.URL,
		AppName:  req.AppName,
		Platform: req.Platform,
	})
	if err != nil {
		response.BusinessError(c, response.CodeBusinessError, err.Error())
		return
	}

	response.Success(c, gin.H{
		"task_id": task.ID,
		"status":  task.Status,
	})
}

// GetBuildStatus 查询打包任务状态
// GET /api/v1/build/status?task_id=xxx
func (h *Handler) GetBuildStatus(c *gin.Context) {
	taskID := c.Query("task_id")
	if taskID == "" {
		response.ParamError(c, "task_id 参数不能为空")
		return
	}

	task, err := h.buildQueue.Get(taskID)
	if err != nil {
		response.BusinessError(c, response.CodeTaskNotFound, "构建任务不存在")
		return
	}

	response.Success(c, task)
}
