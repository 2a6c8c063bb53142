package queue

import (
	"context"
	"fmt"
	"strconv"

	rd "github.com/redis/go-redis/v9"
)

// Outbox 是下单事件的 Redis Stream 出口：
// API 在订单事务提交后把事件追加进流，Relay 异步转发 Kafka。
// 追加失败只影响下游确认的及时性，不影响订单本身的正确性。
type Outbox struct {
	rdb    *rd.Client
	stream string
}

func NewOutbox(rdb *rd.Client, stream string) *Outbox {
	return &Outbox{rdb: rdb, stream: stream}
}

// Append 把下单事件写入流。
func (o *Outbox) Append(ctx context.Context, ev OrderPlacedEvent) error {
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("invalid order event: %w", err)
	}
	return o.rdb.XAdd(ctx, &rd.XAddArgs{
		Stream: o.stream,
		Values: map[string]any{
			"order_no":          ev.OrderNo,
			"holder_session_id": ev.HolderSessionID,
			"amount":            strconv.FormatInt(ev.Amount, 10),
			"line_count":        strconv.Itoa(ev.LineCount),
		},
	}).Err()
}
