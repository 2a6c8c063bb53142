package queue

import (
	"context"
	"encoding/json"

	"webfiresale/internal/model"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"gorm.io/gorm"
)

// Consumer 订单确认 worker：消费下单事件，把订单从 placed 推到 confirmed。
// 条件更新天然幂等，重复消息是无害空操作。
type Consumer struct {
	r   *kafka.Reader
	db  *gorm.DB
	log zerolog.Logger
}

func NewConsumer(brokers []string, topic, groupID string, db *gorm.DB, log zerolog.Logger) *Consumer {
	return &Consumer{
		r: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 1e3,
			MaxBytes: 1e6,
		}),
		db:  db,
		log: log.With().Str("component", "order_confirmer").Logger(),
	}
}

func (c *Consumer) Close() error { return c.r.Close() }

func (c *Consumer) Run(ctx context.Context) {
	for {
		m, err := c.r.ReadMessage(ctx)
		if err != nil {
			return // ctx cancel / 连接断开等
		}

		var ev OrderPlacedEvent
		if err := json.Unmarshal(m.Value, &ev); err != nil {
			c.log.Warn().Err(err).Msg("consumer unmarshal")
			continue
		}
		if err := ev.Validate(); err != nil {
			c.log.Warn().Err(err).Msg("consumer drop dirty event")
			continue
		}

		if err := c.confirm(ev); err != nil {
			c.log.Error().Err(err).Str("order_no", ev.OrderNo).Msg("consumer confirm order")
		}
	}
}

// confirm 把订单从 placed 推到 confirmed。条件更新，重复消息是无害空操作。
func (c *Consumer) confirm(ev OrderPlacedEvent) error {
	res := c.db.Model(&model.Order{}).
		Where("order_no = ? AND status = ?", ev.OrderNo, model.OrderPlaced).
		Update("status", model.OrderConfirmed)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		c.log.Info().Str("order_no", ev.OrderNo).Msg("order confirmed")
	}
	return nil
}
