package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"

	"webtoapp/internal/build"
	"webtoapp/internal/config"
	"webtoapp/internal/gateway"
	"webtoapp/internal/ratelimit"
)

// SetupRouter 配置路由
func SetupRouter(db *gorm.DB, rdb *redis.Client, cfg *config.Config, gateways *gateway.Registry, queue *build.Queue, confirmLimiter *ratelimit.Limiter) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())

	h := NewHandler(db, rdb, cfg, gateways, queue)

	api := r.Group("/api/v1")
	{
		order := api.Group("/order")
		{
			order.POST("/create", h.CreateOrder)
			order.GET("/detail", h.GetOrder)
			order.GET("/list", h.ListOrders)
		}

		pay := api.Group("/pay")
		pay.Use(RateLimitMiddleware(confirmLimiter))
		{
			pay.POST("/confirm", h.ConfirmPayment)
			pay.POST("/notify/:provider", h.ProviderNotify)
		}

		api.GET("/wallet", h.GetWallet)

		buildGroup := api.Group("/build")
		{
			buildGroup.POST("/submit", h.SubmitBuild)
			buildGroup.GET("/status", h.GetBuildStatus)
		}
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
