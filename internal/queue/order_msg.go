package queue

import "fmt"

// OrderPlacedEvent 下单成功事件：订单与保留提交已同事务落库后发出，
// 经 Redis Stream outbox 中转进 Kafka，由确认 worker 消费。
type OrderPlacedEvent struct {
	OrderNo         string `json:"order_no"`
	HolderSessionID string `json:"holder_session_id"`
	Amount          int64  `json:"amount"` // 分
	LineCount       int    `json:"line_count"`
}

// Validate 做最小字段校验，防止消费者处理脏消息。
func (e OrderPlacedEvent) Validate() error {
	if e.OrderNo == "" {
		return fmt.Errorf("order_no is required")
	}
	if e.HolderSessionID == "" {
		return fmt.Errorf("holder_session_id is required")
	}
	if e.Amount <= 0 {
		return fmt.Errorf("amount must be > 0")
	}
	if e.LineCount <= 0 {
		return fmt.Errorf("line_count must be > 0")
	}
	return nil
}
