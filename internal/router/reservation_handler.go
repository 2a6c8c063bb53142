package router

import (
	"errors"
	"net/http"
	"time"

	"webfiresale/internal/inventory"
	"webfiresale/internal/model"
	rediskey "webfiresale/pkg/redis"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// createReservation 结账入口：为购物车一行创建限时保留。
// 关键流程：
// 1. 参数与（秒杀）时间窗校验
// 2. 保留管理器原子占用库存（台账条件更新）
// 3. 会话守卫（Redis SETNX）拦住同会话重复点击，输的那次自动释放
func createReservation(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Type      string `json:"type" binding:"required"`
			SubjectID uint   `json:"subject_id" binding:"required,min=1"`
			Quantity  int64  `json:"quantity" binding:"omitempty,min=1"`
			SessionID string `json:"session_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
			return
		}
		st, ok := parseSubjectType(req.Type)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "主体类型无效"})
			return
		}
		if req.Quantity <= 0 {
			req.Quantity = 1
		}

		ctx := c.Request.Context()
		if st == model.SubjectFlashSale {
			var f model.FlashSale
			if err := d.DB.First(&f, req.SubjectID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					c.JSON(http.StatusNotFound, gin.H{"code": 404, "msg": "秒杀场次不存在"})
					return
				}
				c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
				return
			}
			now := time.Now()
			if now.Before(f.StartTime) || now.After(f.EndTime) {
				c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "不在秒杀时间段内"})
				return
			}
		}

		r, err := d.Reservations.Reserve(ctx, st, req.SubjectID, req.Quantity, req.SessionID)
		if err != nil {
			switch {
			case errors.Is(err, inventory.ErrInsufficientStock):
				c.JSON(http.StatusConflict, gin.H{"code": 409, "reason": "InsufficientStock"})
			case errors.Is(err, inventory.ErrSubjectNotFound):
				c.JSON(http.StatusNotFound, gin.H{"code": 404, "msg": "主体不存在"})
			case errors.Is(err, inventory.ErrInvalidQuantity):
				c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "数量无效"})
			case errors.Is(err, inventory.ErrAuctionQuantity):
				c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "拍卖保留数量恒为 1"})
			default:
				c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			}
			return
		}

		// 会话守卫：同会话在同一主体上已有未完成保留时，这次占用立即退回。
		// 守卫只是尽力而为的防重复点击，正确性由台账保证。
		acquired, gerr := rediskey.AcquireSessionGuard(ctx, d.RDB, string(st), req.SubjectID, req.SessionID, r.ID, time.Until(r.ExpiresAt))
		if gerr == nil && !acquired {
			_ = d.Reservations.Release(ctx, r.ID)
			c.JSON(http.StatusConflict, gin.H{"code": 409, "msg": "该商品已有进行中的保留"})
			return
		}

		rediskey.DropAvailability(ctx, d.RDB, string(st), req.SubjectID)
		c.JSON(http.StatusOK, gin.H{
			"code": 0,
			"data": gin.H{
				"reservation_id": r.ID,
				"expires_at":     r.ExpiresAt.Format(time.RFC3339),
			},
		})
	}
}

// releaseReservation 幂等释放：页面卸载 beacon 也会打这个口，
// 任何终态/不存在都按成功返回，绝不让客户端重试。
func releaseReservation(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Query("id")
		if id == "" {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "id 必填"})
			return
		}

		ctx := c.Request.Context()
		var r model.Reservation
		err := d.DB.First(&r, "id = ?", id).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusOK, gin.H{"code": 0})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}

		if err := d.Reservations.Release(ctx, id); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		_ = rediskey.ReleaseSessionGuardIfMatch(ctx, d.RDB, string(r.SubjectType), r.SubjectID, r.HolderSessionID, r.ID)
		rediskey.DropAvailability(ctx, d.RDB, string(r.SubjectType), r.SubjectID)
		c.JSON(http.StatusOK, gin.H{"code": 0})
	}
}
