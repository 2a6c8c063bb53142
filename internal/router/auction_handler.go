package router

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"webfiresale/internal/auction"
	rediskey "webfiresale/pkg/redis"

	"github.com/gin-gonic/gin"
)

// bidRejection 把引擎的拒绝原因映射为 HTTP 状态码 + reason 码。
// 校验失败是客户端可纠正错误，服务端绝不代为重试。
func bidRejection(err error) (int, string, bool) {
	switch {
	case errors.Is(err, auction.ErrAuctionNotFound):
		return http.StatusNotFound, "AuctionNotFound", true
	case errors.Is(err, auction.ErrAuctionClosed):
		return http.StatusConflict, "AuctionClosed", true
	case errors.Is(err, auction.ErrInvalidAmount):
		return http.StatusBadRequest, "InvalidAmount", true
	case errors.Is(err, auction.ErrBidTooLow):
		return http.StatusBadRequest, "BidTooLow", true
	case errors.Is(err, auction.ErrAlreadyHighestBidder):
		return http.StatusConflict, "AlreadyHighestBidder", true
	case errors.Is(err, auction.ErrRateLimited):
		return http.StatusTooManyRequests, "RateLimited", true
	case errors.Is(err, auction.ErrBuyNowUnavailable):
		return http.StatusBadRequest, "BuyNowUnavailable", true
	case errors.Is(err, auction.ErrBuyNowMismatch):
		return http.StatusBadRequest, "BuyNowMismatch", true
	default:
		return 0, "", false
	}
}

// placeBid 出价入口。引擎内部已对单个拍卖串行化并自动重试版本冲突，
// 这里只负责参数绑定和 reason 映射。
func placeBid(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "拍卖ID无效"})
			return
		}
		var req struct {
			BidderID int64 `json:"bidder_id" binding:"required,min=1"`
			Amount   int64 `json:"amount" binding:"required,min=1"`
			IsBuyNow bool  `json:"is_buy_now"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
			return
		}

		res, err := d.Engine.PlaceBid(c.Request.Context(), uint(id), req.BidderID, req.Amount, req.IsBuyNow)
		if err != nil {
			if status, reason, ok := bidRejection(err); ok {
				c.JSON(status, gin.H{"code": status, "reason": reason})
				return
			}
			c.JSON(http.StatusServiceUnavailable, gin.H{"code": 503, "msg": "出价繁忙，请重试"})
			return
		}

		// 新价落地后失效轮询快照，让买家尽快看到。
		rediskey.DropAuctionSnapshot(c.Request.Context(), d.RDB, uint(id))
		c.JSON(http.StatusOK, gin.H{
			"code": 0,
			"data": gin.H{
				"accepted":     res.Accepted,
				"was_extended": res.WasExtended,
				"auction":      res.Auction,
			},
		})
	}
}

// getAuction 轮询接口：返回拍卖当前状态与完整出价历史。
// 快照缓存吸收高频轮询；未命中时惰性推进生命周期后回源。
func getAuction(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "拍卖ID无效"})
			return
		}
		auctionID := uint(id)
		ctx := c.Request.Context()

		if body, hit, err := rediskey.GetAuctionSnapshot(ctx, d.RDB, auctionID); err == nil && hit {
			c.Data(http.StatusOK, "application/json; charset=utf-8", body)
			return
		}

		a, bids, err := d.Engine.Auction(ctx, auctionID)
		if err != nil {
			if errors.Is(err, auction.ErrAuctionNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"code": 404, "msg": "拍卖不存在"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}

		body, err := json.Marshal(gin.H{
			"code": 0,
			"data": gin.H{"auction": a, "bids": bids},
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		_ = rediskey.PutAuctionSnapshot(ctx, d.RDB, auctionID, body, d.Cfg.SnapshotTTL())
		c.Data(http.StatusOK, "application/json; charset=utf-8", body)
	}
}
