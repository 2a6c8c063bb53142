package router

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"webfiresale/internal/auction"
	"webfiresale/internal/checkout"
	"webfiresale/internal/config"
	"webfiresale/internal/inventory"
	"webfiresale/internal/middleware"
	"webfiresale/internal/model"
	"webfiresale/internal/queue"
	rediskey "webfiresale/pkg/redis"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// Deps 聚合路由层依赖。
type Deps struct {
	DB           *gorm.DB
	RDB          *rd.Client
	Engine       *auction.Engine
	Reservations *inventory.Manager
	Ledger       *inventory.Ledger
	Checkout     *checkout.Service
	Outbox       *queue.Outbox
	Cfg          config.App
	Log          zerolog.Logger
}

// Setup 注册全部 HTTP 路由。
func Setup(r *gin.Engine, d Deps) {
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"msg": "pong"})
	})

	// 商品 / 秒杀 / 拍卖播种（管理口，简单 token 保护）
	r.GET("/api/products", listProducts(d.DB))
	r.POST("/api/products", createProduct(d))
	r.POST("/api/flash_sales", createFlashSale(d))
	r.POST("/api/auctions", createAuction(d))

	// 竞价核心
	r.GET("/api/auctions/:id", getAuction(d))
	r.POST("/api/auctions/:id/bids",
		middleware.BidRateLimit(d.RDB, d.Cfg.BidRateLimit, d.Cfg.BidRateWindow()),
		placeBid(d))

	// 保留与下单核心
	r.POST("/api/reservations", createReservation(d))
	r.DELETE("/api/reservations", releaseReservation(d))
	r.POST("/api/orders", placeOrder(d))

	// 展示可售量（轮询口，允许滞后）
	r.GET("/api/stock/:type/:id", getStock(d))
}

// listProducts 查询商品列表。
func listProducts(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var list []model.Product
		if err := db.Find(&list).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": list})
	}
}

func requireAdmin(c *gin.Context, token string) bool {
	if c.GetHeader("X-Admin-Token") != token {
		c.JSON(http.StatusUnauthorized, gin.H{"code": 401, "msg": "admin token 无效"})
		return false
	}
	return true
}

// createProduct 创建商品并播种库存台账。
func createProduct(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireAdmin(c, d.Cfg.AdminToken) {
			return
		}
		var req struct {
			Name      string `json:"name" binding:"required"`
			Stock     int64  `json:"stock" binding:"required,min=1"`
			SalePrice int64  `json:"sale_price" binding:"required,min=1"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
			return
		}
		p := &model.Product{Name: req.Name, Stock: req.Stock, SalePrice: req.SalePrice}
		if err := d.DB.Create(p).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		if err := d.Ledger.EnsureSubject(c.Request.Context(), model.SubjectProduct, p.ID, p.Stock); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": p})
	}
}

// createFlashSale 创建秒杀场次（含时间窗校验）并播种配额台账。
func createFlashSale(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireAdmin(c, d.Cfg.AdminToken) {
			return
		}
		var req struct {
			ProductID  uint   `json:"product_id" binding:"required,min=1"`
			Allocation int64  `json:"allocation" binding:"required,min=1"`
			SalePrice  int64  `json:"sale_price" binding:"required,min=1"`
			StartTime  string `json:"start_time" binding:"required"`
			EndTime    string `json:"end_time" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
			return
		}
		start, end, ok := parseWindow(c, req.StartTime, req.EndTime)
		if !ok {
			return
		}
		var p model.Product
		if err := d.DB.First(&p, req.ProductID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"code": 404, "msg": "商品不存在"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		f := &model.FlashSale{
			ProductID:  req.ProductID,
			Allocation: req.Allocation,
			SalePrice:  req.SalePrice,
			StartTime:  start,
			EndTime:    end,
		}
		if err := d.DB.Create(f).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		if err := d.Ledger.EnsureSubject(c.Request.Context(), model.SubjectFlashSale, f.ID, f.Allocation); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": f})
	}
}

// createAuction 创建拍卖（scheduled，起拍时间到了由清扫或首次读写激活）。
func createAuction(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireAdmin(c, d.Cfg.AdminToken) {
			return
		}
		var req struct {
			ProductID   uint   `json:"product_id" binding:"required,min=1"`
			Title       string `json:"title" binding:"required"`
			MinBid      int64  `json:"min_bid" binding:"required,min=1"`
			BuyNowPrice *int64 `json:"buy_now_price"`
			StartTime   string `json:"start_time" binding:"required"`
			EndTime     string `json:"end_time" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
			return
		}
		start, end, ok := parseWindow(c, req.StartTime, req.EndTime)
		if !ok {
			return
		}
		if req.BuyNowPrice != nil && *req.BuyNowPrice <= req.MinBid {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "buy_now_price 必须高于 min_bid"})
			return
		}
		a := &model.Auction{
			ProductID:   req.ProductID,
			Title:       req.Title,
			MinBid:      req.MinBid,
			BuyNowPrice: req.BuyNowPrice,
			StartTime:   start,
			EndTime:     end,
			Status:      model.AuctionScheduled,
		}
		if err := d.DB.Create(a).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": a})
	}
}

func parseWindow(c *gin.Context, startStr, endStr string) (time.Time, time.Time, bool) {
	start, err := time.Parse(time.RFC3339, startStr)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "start_time 格式错误，请用 RFC3339"})
		return time.Time{}, time.Time{}, false
	}
	end, err := time.Parse(time.RFC3339, endStr)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "end_time 格式错误，请用 RFC3339"})
		return time.Time{}, time.Time{}, false
	}
	if !end.After(start) {
		c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "end_time 必须晚于 start_time"})
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}

// getStock 查询主体展示可售量：先走 Redis 缓存，未命中回源台账并回填。
func getStock(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		st, ok := parseSubjectType(c.Param("type"))
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "主体类型无效"})
			return
		}
		id, err := strconv.ParseUint(c.Param("id"), 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "主体ID无效"})
			return
		}
		subjectID := uint(id)

		ctx := c.Request.Context()
		if v, hit, err := rediskey.CachedAvailability(ctx, d.RDB, string(st), subjectID); err == nil && hit {
			c.JSON(http.StatusOK, gin.H{"code": 0, "data": gin.H{"available": v}})
			return
		}
		avail, err := d.Reservations.Availability(ctx, st, subjectID)
		if err != nil {
			if errors.Is(err, inventory.ErrSubjectNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"code": 404, "msg": "主体不存在"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		// 回填失败只影响下一次命中率，不影响响应。
		_ = rediskey.PutAvailability(ctx, d.RDB, string(st), subjectID, avail, d.Cfg.StockCacheTTL())
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": gin.H{"available": avail}})
	}
}

func parseSubjectType(s string) (model.SubjectType, bool) {
	switch model.SubjectType(s) {
	case model.SubjectProduct, model.SubjectFlashSale, model.SubjectAuction:
		return model.SubjectType(s), true
	default:
		return "", false
	}
}
