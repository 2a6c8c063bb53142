package auction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"webfiresale/internal/inventory"
	"webfiresale/internal/model"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// Lifecycle 负责拍卖的 scheduled→active→{ended|sold} 推进。
// 收盘是幂等条件更新：只有赢下 active→终态那次 UPDATE 的调用方
// 才执行中标交接（播种台账 + 创建中标保留），因此与一口价、
// 与周期清扫并发调用也不会重复产生副作用。
type Lifecycle struct {
	db           *gorm.DB
	reservations *inventory.Manager
	ledger       *inventory.Ledger

	// winnerHold 中标保留的结算窗口，明显长于普通结账窗口。
	winnerHold time.Duration
	log        zerolog.Logger
	now        func() time.Time
}

func NewLifecycle(db *gorm.DB, reservations *inventory.Manager, ledger *inventory.Ledger, winnerHold time.Duration, log zerolog.Logger) *Lifecycle {
	return &Lifecycle{
		db:           db,
		reservations: reservations,
		ledger:       ledger,
		winnerHold:   winnerHold,
		log:          log.With().Str("component", "auction_lifecycle").Logger(),
		now:          time.Now,
	}
}

// WithClock 注入时钟，便于对收盘时机做确定性测试。
func (l *Lifecycle) WithClock(now func() time.Time) *Lifecycle {
	l.now = now
	return l
}

// WinnerSessionID 中标保留的持有者标识，结账时由下单接口引用。
func WinnerSessionID(auctionID uint, bidderID int64) string {
	return fmt.Sprintf("auction-winner:%d:%d", auctionID, bidderID)
}

// Activate 把到点的 scheduled 拍卖推进为 active。条件更新，天然幂等。
func (l *Lifecycle) Activate(ctx context.Context, auctionID uint) error {
	res := l.db.WithContext(ctx).Model(&model.Auction{}).
		Where("id = ? AND status = ? AND start_time <= ?", auctionID, model.AuctionScheduled, l.now()).
		Updates(map[string]any{
			"status":  model.AuctionActive,
			"version": gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return fmt.Errorf("activate auction %d: %w", auctionID, res.Error)
	}
	if res.RowsAffected == 1 {
		l.log.Info().Uint("auction_id", auctionID).Msg("auction activated")
	}
	return nil
}

// Close 幂等收盘：now >= end_time 且仍 active 时，有出价则 sold，
// 否则 ended。赢下状态迁移的调用方为中标者创建保留。
func (l *Lifecycle) Close(ctx context.Context, auctionID uint) error {
	now := l.now()
	var a model.Auction
	err := l.db.WithContext(ctx).First(&a, auctionID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrAuctionNotFound
		}
		return fmt.Errorf("load auction %d: %w", auctionID, err)
	}
	if a.Status != model.AuctionActive || now.Before(a.EndTime) {
		return nil
	}

	target := model.AuctionEnded
	if a.BidCount > 0 {
		target = model.AuctionSold
	}
	// end_time <= now 在 WHERE 里复核：若读后又有压哨出价延长了钟，
	// 这次收盘自动落空。
	res := l.db.WithContext(ctx).Model(&model.Auction{}).
		Where("id = ? AND status = ? AND end_time <= ?", a.ID, model.AuctionActive, now).
		Updates(map[string]any{
			"status":  target,
			"version": gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return fmt.Errorf("close auction %d: %w", a.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil
	}

	l.log.Info().Uint("auction_id", a.ID).Str("status", string(target)).Msg("auction closed")
	if target != model.AuctionSold {
		return nil
	}
	// 重新读取终值：收盘窗口内最后一笔出价才是成交价。
	if err := l.db.WithContext(ctx).First(&a, a.ID).Error; err != nil {
		return fmt.Errorf("reload auction %d: %w", a.ID, err)
	}
	return l.grantWinnerHold(ctx, a)
}

// grantWinnerHold 把成交拍卖交接给保留管理器：
// 播种 total=1 的拍卖台账并为中标者创建保留。
// 台账只有一件，重复调用拿到 InsufficientStock，即天然幂等。
func (l *Lifecycle) grantWinnerHold(ctx context.Context, a model.Auction) error {
	if a.CurrentBidderID == nil {
		return fmt.Errorf("auction %d sold without bidder", a.ID)
	}
	if err := l.ledger.EnsureSubject(ctx, model.SubjectAuction, a.ID, 1); err != nil {
		return err
	}
	r, err := l.reservations.Reserve(ctx, model.SubjectAuction, a.ID, 1, WinnerSessionID(a.ID, *a.CurrentBidderID))
	if err != nil {
		if errors.Is(err, inventory.ErrInsufficientStock) {
			return nil
		}
		return fmt.Errorf("grant winner hold for auction %d: %w", a.ID, err)
	}
	if err := l.extendWinnerHold(ctx, r.ID); err != nil {
		return err
	}
	l.log.Info().Uint("auction_id", a.ID).Int64("bidder_id", *a.CurrentBidderID).
		Str("reservation_id", r.ID).Msg("winner hold granted")
	return nil
}

// extendWinnerHold 把中标保留的到期时间改成结算窗口：
// Reserve 先用管理器缺省窗口创建，这里统一延长。
func (l *Lifecycle) extendWinnerHold(ctx context.Context, reservationID string) error {
	res := l.db.WithContext(ctx).Model(&model.Reservation{}).
		Where("id = ? AND status = ?", reservationID, model.ReservationActive).
		Update("expires_at", l.now().Add(l.winnerHold))
	if res.Error != nil {
		return fmt.Errorf("extend winner hold %s: %w", reservationID, res.Error)
	}
	return nil
}

// Sweep 周期推进：激活到点的 scheduled，收盘过期的 active。
func (l *Lifecycle) Sweep(ctx context.Context) error {
	now := l.now()
	res := l.db.WithContext(ctx).Model(&model.Auction{}).
		Where("status = ? AND start_time <= ?", model.AuctionScheduled, now).
		Updates(map[string]any{
			"status":  model.AuctionActive,
			"version": gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return fmt.Errorf("activate due auctions: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		l.log.Info().Int64("activated", res.RowsAffected).Msg("auctions activated")
	}

	var due []uint
	err := l.db.WithContext(ctx).Model(&model.Auction{}).
		Where("status = ? AND end_time <= ?", model.AuctionActive, now).
		Limit(256).
		Pluck("id", &due).Error
	if err != nil {
		return fmt.Errorf("list due auctions: %w", err)
	}
	for _, id := range due {
		if err := l.Close(ctx, id); err != nil {
			l.log.Warn().Err(err).Uint("auction_id", id).Msg("close skip")
		}
	}
	return l.recoverWinnerHolds(ctx)
}

// recoverWinnerHolds 补偿中标交接：状态迁移提交后、保留落库前
// 进程挂掉（或 Reserve 出错）会留下 sold 且无任何拍卖保留单的行。
// 保留单从不删除，存在任何状态的保留即视为交接已发生；
// grantWinnerHold 本身幂等，补跑是安全的。
func (l *Lifecycle) recoverWinnerHolds(ctx context.Context) error {
	var orphans []model.Auction
	err := l.db.WithContext(ctx).
		Where("status = ?", model.AuctionSold).
		Where("NOT EXISTS (SELECT 1 FROM reservations WHERE reservations.subject_type = ? AND reservations.subject_id = auctions.id)",
			model.SubjectAuction).
		Limit(64).
		Find(&orphans).Error
	if err != nil {
		return fmt.Errorf("list sold auctions without winner hold: %w", err)
	}
	for _, a := range orphans {
		if err := l.grantWinnerHold(ctx, a); err != nil {
			l.log.Warn().Err(err).Uint("auction_id", a.ID).Msg("winner hold recovery skip")
		}
	}
	return nil
}
