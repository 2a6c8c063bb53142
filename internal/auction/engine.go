package auction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"webfiresale/internal/keylock"
	"webfiresale/internal/model"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// 出价被拒绝的原因，HTTP 层按 errors.Is 映射为 4xx reason。
var (
	ErrAuctionNotFound      = errors.New("AuctionNotFound")
	ErrAuctionClosed        = errors.New("AuctionClosed")
	ErrInvalidAmount        = errors.New("InvalidAmount")
	ErrBidTooLow            = errors.New("BidTooLow")
	ErrAlreadyHighestBidder = errors.New("AlreadyHighestBidder")
	ErrRateLimited          = errors.New("RateLimited")
	ErrBuyNowUnavailable    = errors.New("BuyNowUnavailable")
	ErrBuyNowMismatch       = errors.New("BuyNowMismatch")
)

// errVersionConflict 乐观锁没抢到，引擎内部重读重验，调用方看不到。
var errVersionConflict = errors.New("auction version conflict")

const (
	// 最低加价 = max(当前价 × 5%, 1000 分)，向上取整。
	minIncrementFloorCents = 1000
	minIncrementPercent    = 5

	// 防狙击：收盘前 5 分钟内接受的出价把钟延后 3 分钟。
	// 每笔满足条件的出价都重新延长，次数不设上限——这是刻意保留的
	// 产品语义（两个较劲的买家可以把拍卖拖得很长），不是漏洞。
	snipeWindow    = 5 * time.Minute
	snipeExtension = 3 * time.Minute

	// 频控：同一买家对同一拍卖 60 分钟内至多 20 笔已接受出价。
	// 被拒绝的出价（含 AlreadyHighestBidder）不计入。
	bidRateLimit  = 20
	bidRateWindow = 60 * time.Minute

	// 乐观锁冲突的重试上限。keyed 锁已在进程内串行化，
	// 重试只兜跨进程竞争。
	casMaxAttempts = 5
)

// BidResult 一次被接受的出价结果。
type BidResult struct {
	Accepted    bool          `json:"accepted"`
	WasExtended bool          `json:"was_extended"`
	Auction     model.Auction `json:"auction"`
}

// Engine 竞价引擎：校验并原子落地出价、计算最低加价、触发防狙击延时。
// 单个拍卖上的并发出价被恰好串行：先过 keyed 锁，事务内再用
// version 条件更新复核，没抢到的重读新状态重新校验。
type Engine struct {
	db        *gorm.DB
	lifecycle *Lifecycle
	locks     *keylock.KeyedMutex
	log       zerolog.Logger
	now       func() time.Time
}

func NewEngine(db *gorm.DB, lifecycle *Lifecycle, log zerolog.Logger) *Engine {
	return &Engine{
		db:        db,
		lifecycle: lifecycle,
		locks:     keylock.New(),
		log:       log.With().Str("component", "bid_engine").Logger(),
		now:       time.Now,
	}
}

// WithClock 注入时钟，便于对收盘/延时行为做确定性测试。
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

func auctionLockKey(auctionID uint) string {
	return fmt.Sprintf("auction:%d", auctionID)
}

// minimumBid 在当前价之上的最低可接受出价。
func minimumBid(currentBid int64) int64 {
	inc := (currentBid*minIncrementPercent + 99) / 100 // 向上取整
	if inc < minIncrementFloorCents {
		inc = minIncrementFloorCents
	}
	return currentBid + inc
}

// PlaceBid 校验并落地一笔出价。
// 校验顺序：拍卖可出价 → 金额合法 → 一口价/最低加价 → 非当前最高出价者
// → 频控；通过后在同一事务内「version 条件更新拍卖行 + 追加出价记录」。
func (e *Engine) PlaceBid(ctx context.Context, auctionID uint, bidderID, amount int64, isBuyNow bool) (BidResult, error) {
	var out BidResult
	err := e.locks.WithLock(auctionLockKey(auctionID), func() error {
		for attempt := 0; attempt < casMaxAttempts; attempt++ {
			r, err := e.tryPlaceBid(ctx, auctionID, bidderID, amount, isBuyNow)
			if errors.Is(err, errVersionConflict) {
				continue
			}
			out = r
			return err
		}
		return fmt.Errorf("place bid on auction %d: contention unresolved after %d attempts", auctionID, casMaxAttempts)
	})
	if err != nil {
		return BidResult{}, err
	}
	return out, nil
}

func (e *Engine) tryPlaceBid(ctx context.Context, auctionID uint, bidderID, amount int64, isBuyNow bool) (BidResult, error) {
	now := e.now()
	a, err := e.loadAdvanced(ctx, auctionID, now)
	if err != nil {
		return BidResult{}, err
	}
	if a.Status != model.AuctionActive || !now.Before(a.EndTime) {
		return BidResult{}, ErrAuctionClosed
	}
	// 金额校验排在拍卖可出价之后：对不存在/已收盘的拍卖，
	// 客户端先看到 NotFound/Closed 而不是 InvalidAmount。
	if amount <= 0 {
		return BidResult{}, ErrInvalidAmount
	}

	if isBuyNow {
		if a.BuyNowPrice == nil {
			return BidResult{}, ErrBuyNowUnavailable
		}
		if amount != *a.BuyNowPrice {
			return BidResult{}, ErrBuyNowMismatch
		}
	} else {
		min := a.MinBid
		if a.CurrentBid != nil {
			min = minimumBid(*a.CurrentBid)
		}
		if amount < min {
			return BidResult{}, ErrBidTooLow
		}
		if a.CurrentBidderID != nil && *a.CurrentBidderID == bidderID {
			return BidResult{}, ErrAlreadyHighestBidder
		}
		var recent int64
		err := e.db.WithContext(ctx).Model(&model.Bid{}).
			Where("auction_id = ? AND bidder_id = ? AND accepted_at > ?", a.ID, bidderID, now.Add(-bidRateWindow)).
			Count(&recent).Error
		if err != nil {
			return BidResult{}, fmt.Errorf("count recent bids: %w", err)
		}
		if recent >= bidRateLimit {
			return BidResult{}, ErrRateLimited
		}
	}

	updates := map[string]any{
		"current_bid":       amount,
		"current_bidder_id": bidderID,
		"bid_count":         gorm.Expr("bid_count + 1"),
		"version":           gorm.Expr("version + 1"),
	}
	wasExtended := false
	newEnd := a.EndTime
	if isBuyNow {
		// 一口价即成交：本笔出价直接把拍卖置为 sold。
		updates["status"] = model.AuctionSold
	} else if a.EndTime.Sub(now) <= snipeWindow {
		newEnd = a.EndTime.Add(snipeExtension)
		updates["end_time"] = newEnd
		wasExtended = true
	}

	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Auction{}).
			Where("id = ? AND version = ? AND status = ?", a.ID, a.Version, model.AuctionActive).
			Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("apply bid: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return errVersionConflict
		}
		b := model.Bid{
			AuctionID:  a.ID,
			BidderID:   bidderID,
			Amount:     amount,
			AcceptedAt: now,
		}
		if err := tx.Create(&b).Error; err != nil {
			return fmt.Errorf("append bid: %w", err)
		}
		return nil
	})
	if err != nil {
		return BidResult{}, err
	}

	a.CurrentBid = &amount
	a.CurrentBidderID = &bidderID
	a.BidCount++
	a.EndTime = newEnd
	a.Version++
	if isBuyNow {
		a.Status = model.AuctionSold
	}

	e.log.Info().Uint("auction_id", a.ID).Int64("bidder_id", bidderID).
		Int64("amount", amount).Bool("buy_now", isBuyNow).Bool("extended", wasExtended).
		Msg("bid accepted")

	if isBuyNow {
		// 赢下 active→sold 迁移的只有这笔出价，中标交接恰好执行一次。
		if err := e.lifecycle.grantWinnerHold(ctx, a); err != nil {
			e.log.Error().Err(err).Uint("auction_id", a.ID).Msg("buy-now winner hold failed")
		}
	}
	return BidResult{Accepted: true, WasExtended: wasExtended, Auction: a}, nil
}

// Auction 返回拍卖当前状态与完整出价历史（轮询接口）。
// 读之前惰性推进生命周期：到点未激活/未收盘的先推进。
func (e *Engine) Auction(ctx context.Context, auctionID uint) (model.Auction, []model.Bid, error) {
	a, err := e.loadAdvanced(ctx, auctionID, e.now())
	if err != nil {
		return model.Auction{}, nil, err
	}
	var bids []model.Bid
	err = e.db.WithContext(ctx).
		Where("auction_id = ?", auctionID).
		Order("id ASC").
		Find(&bids).Error
	if err != nil {
		return model.Auction{}, nil, fmt.Errorf("load bids: %w", err)
	}
	return a, bids, nil
}

// loadAdvanced 读取拍卖并惰性推进到点的生命周期迁移。
func (e *Engine) loadAdvanced(ctx context.Context, auctionID uint, now time.Time) (model.Auction, error) {
	var a model.Auction
	err := e.db.WithContext(ctx).First(&a, auctionID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.Auction{}, ErrAuctionNotFound
		}
		return model.Auction{}, fmt.Errorf("load auction %d: %w", auctionID, err)
	}

	if a.Status == model.AuctionScheduled && !now.Before(a.StartTime) {
		if err := e.lifecycle.Activate(ctx, a.ID); err != nil {
			return model.Auction{}, err
		}
		if err := e.db.WithContext(ctx).First(&a, auctionID).Error; err != nil {
			return model.Auction{}, fmt.Errorf("reload auction %d: %w", auctionID, err)
		}
	}
	if a.Status == model.AuctionActive && !now.Before(a.EndTime) {
		if err := e.lifecycle.Close(ctx, a.ID); err != nil {
			return model.Auction{}, err
		}
		if err := e.db.WithContext(ctx).First(&a, auctionID).Error; err != nil {
			return model.Auction{}, fmt.Errorf("reload auction %d: %w", auctionID, err)
		}
	}
	return a, nil
}
