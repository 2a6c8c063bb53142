package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"webfiresale/internal/inventory"
	"webfiresale/internal/model"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

var (
	// ErrNoReservations 下单至少要引用一张保留单。
	ErrNoReservations = errors.New("no reservations")
	// ErrSessionMismatch 保留单不属于下单会话。
	ErrSessionMismatch = errors.New("reservation held by another session")
)

// Service 把一组保留单原子地转成订单：
// 订单头、订单行与每张保留的 commit 在同一个数据库事务里，
// 任一保留已过期/已释放则整单回滚——commit 恰好随订单创建发生。
type Service struct {
	db           *gorm.DB
	reservations *inventory.Manager
	log          zerolog.Logger
}

func NewService(db *gorm.DB, reservations *inventory.Manager, log zerolog.Logger) *Service {
	return &Service{
		db:           db,
		reservations: reservations,
		log:          log.With().Str("component", "checkout").Logger(),
	}
}

// PlaceOrder 创建订单并提交全部保留单。
func (s *Service) PlaceOrder(ctx context.Context, sessionID string, reservationIDs []string) (model.Order, error) {
	if len(reservationIDs) == 0 {
		return model.Order{}, ErrNoReservations
	}

	orderNo := newOrderNo()
	var order model.Order
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var total int64
		lines := make([]model.OrderLine, 0, len(reservationIDs))
		for _, rid := range reservationIDs {
			var r model.Reservation
			if err := tx.First(&r, "id = ?", rid).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return inventory.ErrReservationNotFound
				}
				return fmt.Errorf("load reservation %s: %w", rid, err)
			}
			// 中标保留的持有者是 auction-winner:{auctionID}:{bidderID}，
			// 下单时客户端原样引用该串。
			if r.HolderSessionID != sessionID {
				return ErrSessionMismatch
			}
			amount, err := s.lineAmount(tx, r)
			if err != nil {
				return err
			}
			if err := s.reservations.Commit(tx, r.ID, orderNo); err != nil {
				return err
			}
			lines = append(lines, model.OrderLine{
				OrderNo:       orderNo,
				ReservationID: r.ID,
				SubjectType:   r.SubjectType,
				SubjectID:     r.SubjectID,
				Quantity:      r.Quantity,
				Amount:        amount,
			})
			total += amount
		}

		order = model.Order{
			OrderNo:         orderNo,
			HolderSessionID: sessionID,
			Amount:          total,
			Status:          model.OrderPlaced,
		}
		if err := tx.Create(&order).Error; err != nil {
			return fmt.Errorf("create order: %w", err)
		}
		if err := tx.Create(&lines).Error; err != nil {
			return fmt.Errorf("create order lines: %w", err)
		}
		return nil
	})
	if err != nil {
		return model.Order{}, err
	}

	s.log.Info().Str("order_no", order.OrderNo).Int64("amount", order.Amount).
		Int("lines", len(reservationIDs)).Msg("order placed")
	return order, nil
}

// lineAmount 按主体种类定价：商品/秒杀取对应售价×数量，拍卖取成交价。
func (s *Service) lineAmount(tx *gorm.DB, r model.Reservation) (int64, error) {
	switch r.SubjectType {
	case model.SubjectProduct:
		var p model.Product
		if err := tx.First(&p, r.SubjectID).Error; err != nil {
			return 0, fmt.Errorf("load product %d: %w", r.SubjectID, err)
		}
		return p.SalePrice * r.Quantity, nil
	case model.SubjectFlashSale:
		var f model.FlashSale
		if err := tx.First(&f, r.SubjectID).Error; err != nil {
			return 0, fmt.Errorf("load flash sale %d: %w", r.SubjectID, err)
		}
		return f.SalePrice * r.Quantity, nil
	case model.SubjectAuction:
		var a model.Auction
		if err := tx.First(&a, r.SubjectID).Error; err != nil {
			return 0, fmt.Errorf("load auction %d: %w", r.SubjectID, err)
		}
		if a.CurrentBid == nil {
			return 0, fmt.Errorf("auction %d has no winning bid", r.SubjectID)
		}
		return *a.CurrentBid, nil
	default:
		return 0, fmt.Errorf("unknown subject type %q", r.SubjectType)
	}
}

func newOrderNo() string {
	return "WF" + strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", ""))[:20]
}
