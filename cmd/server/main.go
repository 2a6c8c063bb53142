package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"webfiresale/internal/auction"
	"webfiresale/internal/checkout"
	"webfiresale/internal/config"
	"webfiresale/internal/inventory"
	"webfiresale/internal/logging"
	"webfiresale/internal/model"
	"webfiresale/internal/queue"
	"webfiresale/internal/router"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func main() {
	log := logging.New("marketplace-api")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	db, err := gorm.Open(sqlite.Open(cfg.DBPath+"?_busy_timeout=5000"), &gorm.Config{})
	if err != nil {
		log.Fatal().Err(err).Msg("db open")
	}
	if err := db.AutoMigrate(
		&model.Product{},
		&model.FlashSale{},
		&model.Auction{},
		&model.Bid{},
		&model.Reservation{},
		&model.StockSubject{},
		&model.Order{},
		&model.OrderLine{},
	); err != nil {
		log.Fatal().Err(err).Msg("db migrate")
	}

	rdb := rd.NewClient(&rd.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})

	ledger := inventory.NewLedger(db)
	reservations := inventory.NewManager(db, ledger, cfg.HoldWindow(), log)
	lifecycle := auction.NewLifecycle(db, reservations, ledger, cfg.WinnerHold(), log)
	engine := auction.NewEngine(db, lifecycle, log)
	checkoutSvc := checkout.NewService(db, reservations, log)

	producer := queue.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
	defer producer.Close()
	outbox := queue.NewOutbox(rdb, cfg.OrderEventStream)
	relay := queue.NewRelay(rdb, producer, cfg.OrderEventStream, cfg.OrderEventGroup, cfg.OrderEventConsumer, log)

	r := gin.Default()
	router.Setup(r, router.Deps{
		DB:           db,
		RDB:          rdb,
		Engine:       engine,
		Reservations: reservations,
		Ledger:       ledger,
		Checkout:     checkoutSvc,
		Outbox:       outbox,
		Cfg:          cfg,
		Log:          log,
	})

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("http server start")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	// 周期清扫：过期保留归还库存，到点拍卖激活/收盘。
	g.Go(func() error {
		ticker := time.NewTicker(cfg.SweepInterval())
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if _, err := reservations.Sweep(ctx); err != nil && ctx.Err() == nil {
					log.Warn().Err(err).Msg("reservation sweep")
				}
				if err := lifecycle.Sweep(ctx); err != nil && ctx.Err() == nil {
					log.Warn().Err(err).Msg("auction sweep")
				}
			}
		}
	})
	// 出口中继：Redis Stream → Kafka。
	g.Go(func() error {
		relay.Run(ctx)
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("server exit")
	}
	log.Info().Msg("server stopped")
}
