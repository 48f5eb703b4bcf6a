package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"webtoapp/internal/build"
	"webtoapp/internal/config"
	"webtoapp/internal/gateway"
	"webtoapp/internal/handler"
	"webtoapp/internal/infrastructure/cache"
	"webtoapp/internal/infrastructure/database"
	"webtoapp/internal/infrastructure/mq"
	"webtoapp/internal/job"
	"webtoapp/internal/model"
	"webtoapp/internal/ratelimit"
	"webtoapp/pkg/idgen"
)

func main() {
	// 加载配置
	cfg := config.LoadConfig("config/config.yaml")

	// 初始化 ID 生成器
	idgen.Init(1)

	// 初始化 MySQL
	db := database.InitMySQL(&cfg.MySQL)

	// 初始化 Redis
	redisClient := cache.InitRedis(&cfg.Redis)

	// 初始化 Kafka
	mq.InitKafka(&cfg.Kafka)
	defer mq.CloseKafka()

	// 注册支付渠道查单网关
	gateways := gateway.NewRegistry()
	gateways.Register(model.ProviderStripe, gateway.NewHTTPGateway(model.ProviderStripe, cfg.Providers.Stripe))
	gateways.Register(model.ProviderAlipay, gateway.NewHTTPGateway(model.ProviderAlipay, cfg.Providers.Alipay))
	gateways.Register(model.ProviderWechat, gateway.NewHTTPGateway(model.ProviderWechat, cfg.Providers.Wechat))

	// 创建上下文（用于优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 启动打包队列
	buildQueue := build.NewQueue(cfg.Business.BuildWorkers, cfg.Business.BuildQueueSize, packageURL)
	buildQueue.Start()
	defer buildQueue.Stop()

	// 启动后台任务
	outboxSender := job.NewOutboxSender(db, cfg)
	go outboxSender.Start(ctx)

	pendingExpiryJob := job.NewPendingExpiryJob(db, cfg)
	go pendingExpiryJob.Start(ctx)

	downgradeApplyJob := job.NewDowngradeApplyJob(db, redisClient)
	go downgradeApplyJob.Start(ctx)

	// 确认接口限流器，过期窗口定期回收
	confirmLimiter := ratelimit.New(cfg.Business.ConfirmRateLimitPerMinute, time.Minute)
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				confirmLimiter.Prune()
			}
		}
	}()

	// 设置路由
	router := handler.SetupRouter(db, redisClient, cfg, gateways, buildQueue, confirmLimiter)

	// 启动 HTTP 服务
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("服务启动，监听端口: %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("服务启动失败: %v", err)
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("正在关闭服务...")

	// 取消上下文，停止后台任务
	cancel()

	// 关闭 HTTP 服务（等待最多5秒）
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("服务关闭异常: %v", err)
	}

	log.Println("服务已关闭")
}

// packageURL 占位的打包实现
// 真正的抓取和打包由独立的构建集群完成，这里模拟其耗时和产物地址
// TODO: 替换为构建集群的 RPC 调用
func packageURL(ctx context.Context, req build.Request) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(2 * time.Second):
	}
	ext := "apk"
	if req.Platform == "ios" {
		ext = "ipa"
	}
	return fmt.Sprintf("https://artifacts.webtoapp.dev/%s/%s.%s", req.Platform, idgen.GenerateTaskNo(), ext), nil
}
