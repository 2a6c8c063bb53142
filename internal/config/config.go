package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// App 聚合运行时配置，全部通过环境变量注入，避免硬编码。
type App struct {
	HTTPAddr string `envconfig:"HTTP_ADDR" default:":8080"`
	DBPath   string `envconfig:"DB_PATH" default:"marketplace.db"`

	RedisAddr string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisDB   int    `envconfig:"REDIS_DB" default:"0"`

	// Kafka 集群地址（逗号分隔）、Topic、消费者组
	KafkaBrokers []string `envconfig:"KAFKA_BROKERS" default:"localhost:9092"`
	KafkaTopic   string   `envconfig:"KAFKA_TOPIC" default:"marketplace-orders"`
	KafkaGroupID string   `envconfig:"KAFKA_GROUP_ID" default:"marketplace-order-confirmer"`

	// Redis Stream outbox（API 入流，Relay 异步转 Kafka）
	OrderEventStream   string `envconfig:"ORDER_EVENT_STREAM" default:"marketplace:order_events"`
	OrderEventGroup    string `envconfig:"ORDER_EVENT_GROUP" default:"marketplace-relay-group"`
	OrderEventConsumer string `envconfig:"ORDER_EVENT_CONSUMER" default:"marketplace-relay-1"`

	// 保留窗口与清扫节奏
	HoldWindowMinutes   int `envconfig:"HOLD_WINDOW_MIN" default:"10"`
	WinnerHoldMinutes   int `envconfig:"WINNER_HOLD_MIN" default:"60"`
	SweepIntervalSecond int `envconfig:"SWEEP_INTERVAL_SEC" default:"5"`

	// 出价接口限流与展示缓存策略
	BidRateLimit        int `envconfig:"BID_RATE_LIMIT" default:"30"`
	BidRateWindowSecond int `envconfig:"BID_RATE_WINDOW_SEC" default:"10"`
	StockCacheTTLSecond int `envconfig:"STOCK_CACHE_TTL_SEC" default:"5"`
	SnapshotTTLSecond   int `envconfig:"AUCTION_SNAPSHOT_TTL_SEC" default:"2"`

	// 播种接口的简单管理员令牌（demo 级别保护）
	AdminToken string `envconfig:"ADMIN_TOKEN" default:"dev-admin-token"`
}

// Load 读取并校验配置，缺失时使用默认值。
func Load() (App, error) {
	var cfg App
	if err := envconfig.Process("", &cfg); err != nil {
		return App{}, err
	}
	if err := cfg.validate(); err != nil {
		return App{}, err
	}
	return cfg, nil
}

func (c App) validate() error {
	if len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS must not be empty")
	}
	if c.KafkaTopic == "" {
		return fmt.Errorf("KAFKA_TOPIC must not be empty")
	}
	if c.KafkaGroupID == "" {
		return fmt.Errorf("KAFKA_GROUP_ID must not be empty")
	}
	if c.OrderEventStream == "" {
		return fmt.Errorf("ORDER_EVENT_STREAM must not be empty")
	}
	if c.OrderEventGroup == "" {
		return fmt.Errorf("ORDER_EVENT_GROUP must not be empty")
	}
	if c.OrderEventConsumer == "" {
		return fmt.Errorf("ORDER_EVENT_CONSUMER must not be empty")
	}
	if c.HoldWindowMinutes <= 0 {
		return fmt.Errorf("HOLD_WINDOW_MIN must be > 0")
	}
	if c.WinnerHoldMinutes <= 0 {
		return fmt.Errorf("WINNER_HOLD_MIN must be > 0")
	}
	if c.SweepIntervalSecond <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL_SEC must be > 0")
	}
	if c.BidRateLimit <= 0 {
		return fmt.Errorf("BID_RATE_LIMIT must be > 0")
	}
	if c.BidRateWindowSecond <= 0 {
		return fmt.Errorf("BID_RATE_WINDOW_SEC must be > 0")
	}
	if c.StockCacheTTLSecond <= 0 {
		return fmt.Errorf("STOCK_CACHE_TTL_SEC must be > 0")
	}
	if c.SnapshotTTLSecond <= 0 {
		return fmt.Errorf("AUCTION_SNAPSHOT_TTL_SEC must be > 0")
	}
	return nil
}

// HoldWindow 普通结账保留窗口。
func (c App) HoldWindow() time.Duration {
	return time.Duration(c.HoldWindowMinutes) * time.Minute
}

// WinnerHold 拍卖中标保留的结算窗口。
func (c App) WinnerHold() time.Duration {
	return time.Duration(c.WinnerHoldMinutes) * time.Minute
}

// SweepInterval 后台清扫间隔。
func (c App) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSecond) * time.Second
}

// BidRateWindow 出价接口限流窗口。
func (c App) BidRateWindow() time.Duration {
	return time.Duration(c.BidRateWindowSecond) * time.Second
}

// StockCacheTTL 展示可售量缓存时长。
func (c App) StockCacheTTL() time.Duration {
	return time.Duration(c.StockCacheTTLSecond) * time.Second
}

// SnapshotTTL 拍卖轮询快照缓存时长。
func (c App) SnapshotTTL() time.Duration {
	return time.Duration(c.SnapshotTTLSecond) * time.Second
}
