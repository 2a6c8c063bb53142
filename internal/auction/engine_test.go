package auction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"webfiresale/internal/inventory"
	"webfiresale/internal/model"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type testEnv struct {
	db           *gorm.DB
	clock        *fakeClock
	ledger       *inventory.Ledger
	reservations *inventory.Manager
	lifecycle    *Lifecycle
	engine       *Engine
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(
		&model.Auction{},
		&model.Bid{},
		&model.Reservation{},
		&model.StockSubject{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	log := zerolog.Nop()
	ledger := inventory.NewLedger(db)
	reservations := inventory.NewManager(db, ledger, 10*time.Minute, log).WithClock(clock.Now)
	lifecycle := NewLifecycle(db, reservations, ledger, time.Hour, log).WithClock(clock.Now)
	engine := NewEngine(db, lifecycle, log).WithClock(clock.Now)
	return &testEnv{db: db, clock: clock, ledger: ledger, reservations: reservations, lifecycle: lifecycle, engine: engine}
}

// seedAuction 建一场已开拍一小时、还剩一小时的拍卖，起拍价 1000.00 元。
func (env *testEnv) seedAuction(t *testing.T, mutate func(*model.Auction)) model.Auction {
	t.Helper()
	now := env.clock.Now()
	a := model.Auction{
		ProductID: 1,
		Title:     "vintage lens",
		MinBid:    100000,
		StartTime: now.Add(-time.Hour),
		EndTime:   now.Add(time.Hour),
		Status:    model.AuctionActive,
	}
	if mutate != nil {
		mutate(&a)
	}
	if err := env.db.Create(&a).Error; err != nil {
		t.Fatalf("seed auction: %v", err)
	}
	return a
}

func (env *testEnv) reload(t *testing.T, id uint) model.Auction {
	t.Helper()
	var a model.Auction
	if err := env.db.First(&a, id).Error; err != nil {
		t.Fatalf("reload auction: %v", err)
	}
	return a
}

func int64p(v int64) *int64 { return &v }

func TestMinimumBid(t *testing.T) {
	cases := []struct {
		current int64
		want    int64
	}{
		{100000, 105000},  // 5% 超过下限
		{105000, 110250},  // 5250 再叠加
		{10000, 11000},    // 5% = 500，被 1000 分下限托住
		{19999, 20999},    // 向上取整前 999.95
		{20000, 21000},    // 恰好 1000
		{1, 1001},
	}
	for _, c := range cases {
		if got := minimumBid(c.current); got != c.want {
			t.Errorf("minimumBid(%d) = %d, want %d", c.current, got, c.want)
		}
	}
}

func TestPlaceBidIncrementScenario(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.seedAuction(t, nil)

	// 首笔出价只需达到起拍价。
	if _, err := env.engine.PlaceBid(ctx, a.ID, 11, 100000, false); err != nil {
		t.Fatalf("opening bid: %v", err)
	}
	if _, err := env.engine.PlaceBid(ctx, a.ID, 12, 105000, false); err != nil {
		t.Fatalf("bid 105000: %v", err)
	}
	// 当前价 1050.00，最低加价 52.50 → 1055.00 不够。
	if _, err := env.engine.PlaceBid(ctx, a.ID, 13, 105500, false); !errors.Is(err, ErrBidTooLow) {
		t.Fatalf("bid 105500 err = %v, want ErrBidTooLow", err)
	}
	r, err := env.engine.PlaceBid(ctx, a.ID, 13, 110250, false)
	if err != nil {
		t.Fatalf("bid 110250: %v", err)
	}
	if !r.Accepted || *r.Auction.CurrentBid != 110250 || *r.Auction.CurrentBidderID != 13 {
		t.Fatalf("result = %+v", r)
	}
}

func TestPlaceBidBelowMinBid(t *testing.T) {
	env := newTestEnv(t)
	a := env.seedAuction(t, nil)
	if _, err := env.engine.PlaceBid(context.Background(), a.ID, 1, 99999, false); !errors.Is(err, ErrBidTooLow) {
		t.Fatalf("err = %v, want ErrBidTooLow", err)
	}
}

func TestPlaceBidInvalidAmount(t *testing.T) {
	env := newTestEnv(t)
	a := env.seedAuction(t, nil)
	if _, err := env.engine.PlaceBid(context.Background(), a.ID, 1, 0, false); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("zero amount err = %v, want ErrInvalidAmount", err)
	}
	if _, err := env.engine.PlaceBid(context.Background(), a.ID, 1, -5, false); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("negative amount err = %v, want ErrInvalidAmount", err)
	}
}

func TestPlaceBidUnknownAuction(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.engine.PlaceBid(context.Background(), 404, 1, 100000, false); !errors.Is(err, ErrAuctionNotFound) {
		t.Fatalf("err = %v, want ErrAuctionNotFound", err)
	}
}

// 金额校验排在拍卖可出价之后：坏金额打在不存在/已收盘的拍卖上时，
// 返回的是 NotFound/Closed 而不是 InvalidAmount。
func TestPlaceBidChecksAuctionBeforeAmount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.engine.PlaceBid(ctx, 404, 1, 0, false); !errors.Is(err, ErrAuctionNotFound) {
		t.Fatalf("unknown auction err = %v, want ErrAuctionNotFound", err)
	}

	a := env.seedAuction(t, func(a *model.Auction) {
		a.Status = model.AuctionEnded
	})
	if _, err := env.engine.PlaceBid(ctx, a.ID, 1, 0, false); !errors.Is(err, ErrAuctionClosed) {
		t.Fatalf("closed auction err = %v, want ErrAuctionClosed", err)
	}
}

func TestAlreadyHighestBidder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.seedAuction(t, nil)

	if _, err := env.engine.PlaceBid(ctx, a.ID, 7, 100000, false); err != nil {
		t.Fatalf("bid: %v", err)
	}
	if _, err := env.engine.PlaceBid(ctx, a.ID, 7, 200000, false); !errors.Is(err, ErrAlreadyHighestBidder) {
		t.Fatalf("err = %v, want ErrAlreadyHighestBidder", err)
	}
	// 被拒绝的自抬价不产生出价记录。
	var n int64
	env.db.Model(&model.Bid{}).Where("auction_id = ?", a.ID).Count(&n)
	if n != 1 {
		t.Fatalf("bid count = %d, want 1", n)
	}
}

func TestAntiSnipeExtension(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.seedAuction(t, nil)
	end := a.EndTime

	// 离收盘 4 分钟：出价把钟从原 end 延后 3 分钟。
	env.clock.Advance(56 * time.Minute)
	r, err := env.engine.PlaceBid(ctx, a.ID, 1, 100000, false)
	if err != nil {
		t.Fatalf("snipe bid: %v", err)
	}
	if !r.WasExtended {
		t.Fatal("bid inside snipe window was not extended")
	}
	wantEnd := end.Add(3 * time.Minute)
	if !r.Auction.EndTime.Equal(wantEnd) {
		t.Fatalf("end = %v, want %v", r.Auction.EndTime, wantEnd)
	}

	// 时间推进到离延长后的 end 还剩 3 分钟，窗口内再来一笔，
	// 再延 3 分钟，次数不设上限。
	env.clock.Advance(3 * time.Minute)
	r, err = env.engine.PlaceBid(ctx, a.ID, 2, 105000, false)
	if err != nil {
		t.Fatalf("second snipe bid: %v", err)
	}
	if !r.WasExtended || !r.Auction.EndTime.Equal(wantEnd.Add(3*time.Minute)) {
		t.Fatalf("second extension: extended=%v end=%v", r.WasExtended, r.Auction.EndTime)
	}
}

func TestNoExtensionOutsideWindow(t *testing.T) {
	env := newTestEnv(t)
	a := env.seedAuction(t, nil)
	r, err := env.engine.PlaceBid(context.Background(), a.ID, 1, 100000, false)
	if err != nil {
		t.Fatalf("bid: %v", err)
	}
	if r.WasExtended || !r.Auction.EndTime.Equal(a.EndTime) {
		t.Fatalf("extended=%v end=%v, want unchanged %v", r.WasExtended, r.Auction.EndTime, a.EndTime)
	}
}

func TestBidAfterEndLazilyCloses(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.seedAuction(t, nil)
	if _, err := env.engine.PlaceBid(ctx, a.ID, 5, 100000, false); err != nil {
		t.Fatalf("bid: %v", err)
	}

	env.clock.Advance(2 * time.Hour)
	if _, err := env.engine.PlaceBid(ctx, a.ID, 6, 200000, false); !errors.Is(err, ErrAuctionClosed) {
		t.Fatalf("err = %v, want ErrAuctionClosed", err)
	}
	// 迟到的出价触发惰性收盘：有出价 → sold，中标保留已建好。
	got := env.reload(t, a.ID)
	if got.Status != model.AuctionSold {
		t.Fatalf("status = %s, want sold", got.Status)
	}
	var n int64
	env.db.Model(&model.Reservation{}).
		Where("subject_type = ? AND subject_id = ?", model.SubjectAuction, a.ID).
		Count(&n)
	if n != 1 {
		t.Fatalf("winner reservations = %d, want 1", n)
	}
}

func TestBidActivatesScheduledAuction(t *testing.T) {
	env := newTestEnv(t)
	a := env.seedAuction(t, func(a *model.Auction) {
		a.Status = model.AuctionScheduled
		a.StartTime = env.clock.Now().Add(-time.Minute)
	})
	r, err := env.engine.PlaceBid(context.Background(), a.ID, 1, 100000, false)
	if err != nil {
		t.Fatalf("bid on due scheduled auction: %v", err)
	}
	if r.Auction.Status != model.AuctionActive {
		t.Fatalf("status = %s, want active", r.Auction.Status)
	}
}

func TestBidBeforeStart(t *testing.T) {
	env := newTestEnv(t)
	a := env.seedAuction(t, func(a *model.Auction) {
		a.Status = model.AuctionScheduled
		a.StartTime = env.clock.Now().Add(time.Hour)
		a.EndTime = env.clock.Now().Add(2 * time.Hour)
	})
	if _, err := env.engine.PlaceBid(context.Background(), a.ID, 1, 100000, false); !errors.Is(err, ErrAuctionClosed) {
		t.Fatalf("err = %v, want ErrAuctionClosed", err)
	}
}

func TestBuyNow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.seedAuction(t, func(a *model.Auction) {
		a.BuyNowPrice = int64p(500000)
	})

	if _, err := env.engine.PlaceBid(ctx, a.ID, 9, 499999, true); !errors.Is(err, ErrBuyNowMismatch) {
		t.Fatalf("mismatch err = %v, want ErrBuyNowMismatch", err)
	}

	r, err := env.engine.PlaceBid(ctx, a.ID, 9, 500000, true)
	if err != nil {
		t.Fatalf("buy now: %v", err)
	}
	if r.Auction.Status != model.AuctionSold {
		t.Fatalf("status = %s, want sold", r.Auction.Status)
	}

	// 成交即终态：后续出价与二次一口价都被拒。
	if _, err := env.engine.PlaceBid(ctx, a.ID, 10, 600000, false); !errors.Is(err, ErrAuctionClosed) {
		t.Fatalf("bid after sale err = %v, want ErrAuctionClosed", err)
	}
	if _, err := env.engine.PlaceBid(ctx, a.ID, 10, 500000, true); !errors.Is(err, ErrAuctionClosed) {
		t.Fatalf("buy now after sale err = %v, want ErrAuctionClosed", err)
	}

	var hold model.Reservation
	err = env.db.Where("subject_type = ? AND subject_id = ?", model.SubjectAuction, a.ID).First(&hold).Error
	if err != nil {
		t.Fatalf("winner reservation: %v", err)
	}
	if hold.HolderSessionID != WinnerSessionID(a.ID, 9) {
		t.Fatalf("holder = %s, want %s", hold.HolderSessionID, WinnerSessionID(a.ID, 9))
	}
	if !hold.ExpiresAt.Equal(env.clock.Now().Add(time.Hour)) {
		t.Fatalf("winner hold expires %v, want settlement window %v", hold.ExpiresAt, env.clock.Now().Add(time.Hour))
	}
}

func TestBuyNowUnavailable(t *testing.T) {
	env := newTestEnv(t)
	a := env.seedAuction(t, nil)
	if _, err := env.engine.PlaceBid(context.Background(), a.ID, 1, 100000, true); !errors.Is(err, ErrBuyNowUnavailable) {
		t.Fatalf("err = %v, want ErrBuyNowUnavailable", err)
	}
}

func TestBidRateLimit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.seedAuction(t, func(a *model.Auction) {
		a.CurrentBid = int64p(100000)
		a.CurrentBidderID = int64p(99)
		a.BidCount = 1
	})

	// 直接播种 20 笔窗口内的已接受出价。
	now := env.clock.Now()
	for i := 0; i < bidRateLimit; i++ {
		b := model.Bid{AuctionID: a.ID, BidderID: 7, Amount: int64(100000 + i), AcceptedAt: now.Add(-time.Duration(i) * time.Minute)}
		if err := env.db.Create(&b).Error; err != nil {
			t.Fatalf("seed bid: %v", err)
		}
	}

	if _, err := env.engine.PlaceBid(ctx, a.ID, 7, 200000, false); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}

	// 窗口滑过后放行。
	env.clock.Advance(45 * time.Minute)
	if _, err := env.engine.PlaceBid(ctx, a.ID, 7, 200000, false); err != nil {
		t.Fatalf("bid after window: %v", err)
	}
}

// 被拒绝的出价不计入频控配额。
func TestRejectedBidsDoNotConsumeQuota(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.seedAuction(t, nil)

	for i := 0; i < 30; i++ {
		if _, err := env.engine.PlaceBid(ctx, a.ID, 7, 1, false); !errors.Is(err, ErrBidTooLow) {
			t.Fatalf("err = %v, want ErrBidTooLow", err)
		}
	}
	if _, err := env.engine.PlaceBid(ctx, a.ID, 7, 100000, false); err != nil {
		t.Fatalf("bid after rejections: %v", err)
	}
}

// 并发出价之后，历史必须严格满足最低加价规则且无人连续领先。
func TestConcurrentBidsKeepHistoryConsistent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.seedAuction(t, nil)

	const bidders = 16
	var wg sync.WaitGroup
	for i := 0; i < bidders; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			amount := int64(100000 + idx*20000)
			// 被拒绝是正常结局，接受与否由引擎定。
			_, _ = env.engine.PlaceBid(ctx, a.ID, int64(idx+1), amount, false)
		}(i)
	}
	wg.Wait()

	var bids []model.Bid
	if err := env.db.Where("auction_id = ?", a.ID).Order("id ASC").Find(&bids).Error; err != nil {
		t.Fatalf("load bids: %v", err)
	}
	if len(bids) == 0 {
		t.Fatal("no bids accepted")
	}
	for i, b := range bids {
		if i == 0 {
			if b.Amount < a.MinBid {
				t.Fatalf("opening bid %d below min bid %d", b.Amount, a.MinBid)
			}
			continue
		}
		prev := bids[i-1]
		if b.Amount < minimumBid(prev.Amount) {
			t.Fatalf("bid %d (%d) violates increment over %d", i, b.Amount, prev.Amount)
		}
		if b.BidderID == prev.BidderID {
			t.Fatalf("bidder %d holds two consecutive bids", b.BidderID)
		}
	}

	got := env.reload(t, a.ID)
	last := bids[len(bids)-1]
	if *got.CurrentBid != last.Amount || *got.CurrentBidderID != last.BidderID {
		t.Fatalf("auction row (%d by %d) out of sync with history tail (%d by %d)",
			*got.CurrentBid, *got.CurrentBidderID, last.Amount, last.BidderID)
	}
	if got.BidCount != len(bids) {
		t.Fatalf("bid_count = %d, history length = %d", got.BidCount, len(bids))
	}
}

func TestCloseWithoutBids(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.seedAuction(t, nil)

	env.clock.Advance(2 * time.Hour)
	if err := env.lifecycle.Close(ctx, a.ID); err != nil {
		t.Fatalf("close: %v", err)
	}
	got := env.reload(t, a.ID)
	if got.Status != model.AuctionEnded {
		t.Fatalf("status = %s, want ended", got.Status)
	}
	// 无人出价，不产生中标保留。
	var n int64
	env.db.Model(&model.Reservation{}).Count(&n)
	if n != 0 {
		t.Fatalf("reservations = %d, want 0", n)
	}
}

func TestCloseBeforeEndIsNoop(t *testing.T) {
	env := newTestEnv(t)
	a := env.seedAuction(t, nil)
	if err := env.lifecycle.Close(context.Background(), a.ID); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := env.reload(t, a.ID); got.Status != model.AuctionActive {
		t.Fatalf("status = %s, want still active", got.Status)
	}
}

// 并发重复收盘只产生一份中标保留。
func TestCloseExactlyOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.seedAuction(t, nil)
	if _, err := env.engine.PlaceBid(ctx, a.ID, 3, 100000, false); err != nil {
		t.Fatalf("bid: %v", err)
	}

	env.clock.Advance(2 * time.Hour)
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := env.lifecycle.Close(ctx, a.ID); err != nil {
				t.Errorf("close: %v", err)
			}
		}()
	}
	wg.Wait()
	// 再补一次显式收盘，依旧无副作用。
	if err := env.lifecycle.Close(ctx, a.ID); err != nil {
		t.Fatalf("repeat close: %v", err)
	}

	got := env.reload(t, a.ID)
	if got.Status != model.AuctionSold {
		t.Fatalf("status = %s, want sold", got.Status)
	}
	var holds []model.Reservation
	env.db.Where("subject_type = ? AND subject_id = ?", model.SubjectAuction, a.ID).Find(&holds)
	if len(holds) != 1 {
		t.Fatalf("winner reservations = %d, want 1", len(holds))
	}
	if holds[0].HolderSessionID != WinnerSessionID(a.ID, 3) {
		t.Fatalf("holder = %s", holds[0].HolderSessionID)
	}
}

func TestSweepActivatesAndCloses(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	now := env.clock.Now()

	due := env.seedAuction(t, func(a *model.Auction) {
		a.Status = model.AuctionScheduled
		a.StartTime = now.Add(-time.Minute)
	})
	overdue := env.seedAuction(t, func(a *model.Auction) {
		a.EndTime = now.Add(-time.Minute)
		a.CurrentBid = int64p(120000)
		a.CurrentBidderID = int64p(5)
		a.BidCount = 3
	})
	future := env.seedAuction(t, func(a *model.Auction) {
		a.Status = model.AuctionScheduled
		a.StartTime = now.Add(time.Hour)
		a.EndTime = now.Add(2 * time.Hour)
	})

	if err := env.lifecycle.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	if got := env.reload(t, due.ID); got.Status != model.AuctionActive {
		t.Fatalf("due auction status = %s, want active", got.Status)
	}
	if got := env.reload(t, overdue.ID); got.Status != model.AuctionSold {
		t.Fatalf("overdue auction status = %s, want sold", got.Status)
	}
	if got := env.reload(t, future.ID); got.Status != model.AuctionScheduled {
		t.Fatalf("future auction status = %s, want scheduled", got.Status)
	}
}

// sold 落库后、保留落库前挂掉的交接由清扫补偿：恰好补出一张中标保留。
func TestSweepRecoversLostWinnerHold(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.seedAuction(t, func(a *model.Auction) {
		a.Status = model.AuctionSold
		a.CurrentBid = int64p(130000)
		a.CurrentBidderID = int64p(8)
		a.BidCount = 2
		a.EndTime = env.clock.Now().Add(-time.Hour)
	})

	if err := env.lifecycle.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	var holds []model.Reservation
	env.db.Where("subject_type = ? AND subject_id = ?", model.SubjectAuction, a.ID).Find(&holds)
	if len(holds) != 1 {
		t.Fatalf("winner reservations = %d, want 1", len(holds))
	}
	if holds[0].HolderSessionID != WinnerSessionID(a.ID, 8) {
		t.Fatalf("holder = %s, want %s", holds[0].HolderSessionID, WinnerSessionID(a.ID, 8))
	}

	// 再扫一轮不得重复补偿。
	if err := env.lifecycle.Sweep(ctx); err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	env.db.Where("subject_type = ? AND subject_id = ?", model.SubjectAuction, a.ID).Find(&holds)
	if len(holds) != 1 {
		t.Fatalf("winner reservations after second sweep = %d, want 1", len(holds))
	}
}

// 中标保留已过期（买家弃标）不是丢失的交接，清扫不得重新补发。
func TestSweepDoesNotRegrantForfeitedWinnerHold(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.seedAuction(t, nil)
	if _, err := env.engine.PlaceBid(ctx, a.ID, 4, 100000, false); err != nil {
		t.Fatalf("bid: %v", err)
	}
	env.clock.Advance(2 * time.Hour)
	if err := env.lifecycle.Close(ctx, a.ID); err != nil {
		t.Fatalf("close: %v", err)
	}

	// 中标保留过了结算窗口被清成 expired。
	env.clock.Advance(2 * time.Hour)
	if _, err := env.reservations.Sweep(ctx); err != nil {
		t.Fatalf("reservation sweep: %v", err)
	}
	var hold model.Reservation
	if err := env.db.Where("subject_type = ? AND subject_id = ?", model.SubjectAuction, a.ID).First(&hold).Error; err != nil {
		t.Fatalf("load hold: %v", err)
	}
	if hold.Status != model.ReservationExpired {
		t.Fatalf("hold status = %s, want expired", hold.Status)
	}

	if err := env.lifecycle.Sweep(ctx); err != nil {
		t.Fatalf("lifecycle sweep: %v", err)
	}
	var n int64
	env.db.Model(&model.Reservation{}).
		Where("subject_type = ? AND subject_id = ?", model.SubjectAuction, a.ID).
		Count(&n)
	if n != 1 {
		t.Fatalf("winner reservations = %d, want still 1", n)
	}
}

// 收盘读取后若有压哨出价延长了钟，条件更新复核 end_time 让这次收盘落空。
func TestCloseRespectsExtendedEnd(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.seedAuction(t, nil)

	// 压哨出价把钟延到收盘判定点之后。
	env.clock.Advance(57 * time.Minute)
	if _, err := env.engine.PlaceBid(ctx, a.ID, 1, 100000, false); err != nil {
		t.Fatalf("snipe bid: %v", err)
	}
	env.clock.Advance(4 * time.Minute) // 原 end 已过，延长后的 end 未到

	if err := env.lifecycle.Close(ctx, a.ID); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := env.reload(t, a.ID); got.Status != model.AuctionActive {
		t.Fatalf("status = %s, want still active under extension", got.Status)
	}
}
