package config

import (
	"log"

	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	MySQL     MySQLConfig     `mapstructure:"mysql"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Business  BusinessConfig  `mapstructure:"business"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	PaymentCompleted string `mapstructure:"payment_completed"`
}

// ProvidersConfig 各支付渠道的查单端点
type ProvidersConfig struct {
	Stripe ProviderEndpoint `mapstructure:"stripe"`
	Alipay ProviderEndpoint `mapstructure:"alipay"`
	Wechat ProviderEndpoint `mapstructure:"wechat"`
}

type ProviderEndpoint struct {
	QueryURL  string `mapstructure:"query_url"`
	AppID     string `mapstructure:"app_id"`
	TimeoutMS int    `mapstructure:"timeout_ms"`
}

type BusinessConfig struct {
	PendingOrderTimeoutMinutes int `mapstructure:"pending_order_timeout_minutes"` // PENDING 订单超时关闭时间
	StaleClaimMinutes          int `mapstructure:"stale_claim_minutes"`           // PROCESSING 记录多久视为残留、可重新认领
	MaxRetryCount              int `mapstructure:"max_retry_count"`
	ConfirmRateLimitPerMinute  int `mapstructure:"confirm_rate_limit_per_minute"` // 确认接口每分钟限流
	BuildWorkers               int `mapstructure:"build_workers"`                 // 打包任务并发数
	BuildQueueSize             int `mapstructure:"build_queue_size"`
}

var GlobalConfig *Config

// LoadConfig 加载配置文件
func LoadConfig(configPath string) *Config {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		log.Fatalf("读取配置文件失败: %v", err)
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		log.Fatalf("解析配置文件失败: %v", err)
	}

	GlobalConfig = config
	return config
}
