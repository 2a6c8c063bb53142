package router

import (
	"errors"
	"net/http"

	"webfiresale/internal/checkout"
	"webfiresale/internal/inventory"
	"webfiresale/internal/queue"

	"github.com/gin-gonic/gin"
)

// placeOrder 下单入口：订单创建与全部保留的 commit 同事务执行，
// 任一保留已过期/已释放则整单失败，客户端需重新保留后再下单。
func placeOrder(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			SessionID      string   `json:"session_id" binding:"required"`
			ReservationIDs []string `json:"reservation_ids" binding:"required,min=1"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
			return
		}

		ctx := c.Request.Context()
		order, err := d.Checkout.PlaceOrder(ctx, req.SessionID, req.ReservationIDs)
		if err != nil {
			switch {
			case errors.Is(err, inventory.ErrReservationNotFound):
				c.JSON(http.StatusNotFound, gin.H{"code": 404, "reason": "ReservationNotFound"})
			case errors.Is(err, inventory.ErrReservationNotActive):
				c.JSON(http.StatusConflict, gin.H{"code": 409, "reason": "ReservationNotActive"})
			case errors.Is(err, checkout.ErrSessionMismatch):
				c.JSON(http.StatusForbidden, gin.H{"code": 403, "msg": "保留单不属于该会话"})
			default:
				c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			}
			return
		}

		// 订单已落库；事件入流失败只延迟确认，由 Relay 的重试链路兜底。
		ev := queue.OrderPlacedEvent{
			OrderNo:         order.OrderNo,
			HolderSessionID: order.HolderSessionID,
			Amount:          order.Amount,
			LineCount:       len(req.ReservationIDs),
		}
		if err := d.Outbox.Append(ctx, ev); err != nil {
			d.Log.Warn().Err(err).Str("order_no", order.OrderNo).Msg("order event enqueue failed")
		}

		c.JSON(http.StatusOK, gin.H{
			"code": 0,
			"data": gin.H{
				"order_no": order.OrderNo,
				"amount":   order.Amount,
				"status":   order.Status,
			},
		})
	}
}
