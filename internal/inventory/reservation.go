package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"webfiresale/internal/keylock"
	"webfiresale/internal/model"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

var (
	// ErrInvalidQuantity 保留数量必须为正。
	ErrInvalidQuantity = errors.New("quantity must be positive")
	// ErrAuctionQuantity 拍卖中标保留恒为 1 件。
	ErrAuctionQuantity = errors.New("auction reservation quantity must be 1")
	// ErrReservationNotFound 保留单不存在。
	ErrReservationNotFound = errors.New("reservation not found")
	// ErrReservationNotActive commit 只能作用于 active 的保留单；
	// 已过期/已释放的保留导致整单失败。
	ErrReservationNotActive = errors.New("reservation not active")
)

// Manager 管理限时保留：reserve / release / commit / sweep。
// 每个主体的占用走「进程内 keyed 锁 + 事务内条件 UPDATE」，
// 清扫只做条件写，输给并发 commit/release 时是安全空操作。
type Manager struct {
	db     *gorm.DB
	ledger *Ledger
	locks  *keylock.KeyedMutex

	holdWindow time.Duration
	log        zerolog.Logger
	now        func() time.Time
}

func NewManager(db *gorm.DB, ledger *Ledger, holdWindow time.Duration, log zerolog.Logger) *Manager {
	return &Manager{
		db:         db,
		ledger:     ledger,
		locks:      keylock.New(),
		holdWindow: holdWindow,
		log:        log.With().Str("component", "reservation").Logger(),
		now:        time.Now,
	}
}

// WithClock 注入时钟，便于对到期/清扫行为做确定性测试。
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

func subjectKey(st model.SubjectType, subjectID uint) string {
	return fmt.Sprintf("%s:%d", st, subjectID)
}

// Reserve 创建一张限时保留单。
// 同一主体上的并发保留先被 keyed 锁串行化，事务内再走台账条件扣占，
// 临界库存下两个并发请求恰好一个拿到保留。
func (m *Manager) Reserve(ctx context.Context, st model.SubjectType, subjectID uint, quantity int64, sessionID string) (model.Reservation, error) {
	if quantity <= 0 {
		return model.Reservation{}, ErrInvalidQuantity
	}
	if st == model.SubjectAuction && quantity != 1 {
		return model.Reservation{}, ErrAuctionQuantity
	}

	var out model.Reservation
	err := m.locks.WithLock(subjectKey(st, subjectID), func() error {
		now := m.now()
		return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			// 惰性清扫：先让本主体已到期的保留归还库存，再判断余量。
			if err := m.sweepSubject(tx, st, subjectID, now); err != nil {
				return err
			}
			if err := m.ledger.hold(tx, st, subjectID, quantity); err != nil {
				return err
			}
			r := model.Reservation{
				ID:              uuid.New().String(),
				SubjectType:     st,
				SubjectID:       subjectID,
				Quantity:        quantity,
				HolderSessionID: sessionID,
				Status:          model.ReservationActive,
				ExpiresAt:       now.Add(m.holdWindow),
			}
			if err := tx.Create(&r).Error; err != nil {
				return fmt.Errorf("create reservation: %w", err)
			}
			out = r
			return nil
		})
	})
	if err != nil {
		return model.Reservation{}, err
	}
	m.log.Info().Str("reservation_id", out.ID).Str("subject", subjectKey(st, subjectID)).
		Int64("quantity", out.Quantity).Time("expires_at", out.ExpiresAt).Msg("reserved")
	return out, nil
}

// Release 显式释放保留（页面卸载 beacon 等）。
// 幂等：已 committed/released/expired 或不存在时为无害空操作。
func (m *Manager) Release(ctx context.Context, reservationID string) error {
	var r model.Reservation
	err := m.db.WithContext(ctx).First(&r, "id = ?", reservationID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return fmt.Errorf("load reservation %s: %w", reservationID, err)
	}
	if r.Status != model.ReservationActive {
		return nil
	}

	return m.locks.WithLock(subjectKey(r.SubjectType, r.SubjectID), func() error {
		return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			res := tx.Model(&model.Reservation{}).
				Where("id = ? AND status = ?", r.ID, model.ReservationActive).
				Update("status", model.ReservationReleased)
			if res.Error != nil {
				return fmt.Errorf("release reservation %s: %w", r.ID, res.Error)
			}
			if res.RowsAffected == 0 {
				// 已被并发 commit/sweep 收走，保持幂等。
				return nil
			}
			if err := m.ledger.unhold(tx, r.SubjectType, r.SubjectID, r.Quantity); err != nil {
				return err
			}
			m.log.Info().Str("reservation_id", r.ID).Msg("released")
			return nil
		})
	})
}

// Commit 在调用方的事务内把保留单转为永久扣减。
// 与订单创建共用同一 tx：订单不落库则 commit 一并回滚，
// 反之任一保留已失效则整个订单事务失败。
func (m *Manager) Commit(tx *gorm.DB, reservationID, orderNo string) error {
	var r model.Reservation
	err := tx.First(&r, "id = ?", reservationID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrReservationNotFound
		}
		return fmt.Errorf("load reservation %s: %w", reservationID, err)
	}

	res := tx.Model(&model.Reservation{}).
		Where("id = ? AND status = ?", r.ID, model.ReservationActive).
		Updates(map[string]any{
			"status":   model.ReservationCommitted,
			"order_no": orderNo,
		})
	if res.Error != nil {
		return fmt.Errorf("commit reservation %s: %w", r.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrReservationNotActive
	}
	return m.ledger.commitHold(tx, r.SubjectType, r.SubjectID, r.Quantity)
}

// Sweep 周期清扫：把所有到期未终结的保留置为 expired 并归还库存。
// 每张单独立事务，条件更新只在 status 仍为 active 时生效，
// 并发的 commit/release 永远赢过清扫。
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	now := m.now()
	var overdue []model.Reservation
	err := m.db.WithContext(ctx).
		Where("status = ? AND expires_at <= ?", model.ReservationActive, now).
		Limit(256).
		Find(&overdue).Error
	if err != nil {
		return 0, fmt.Errorf("list overdue reservations: %w", err)
	}

	expired := 0
	for _, r := range overdue {
		r := r
		err := m.locks.WithLock(subjectKey(r.SubjectType, r.SubjectID), func() error {
			return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
				return m.expireOne(tx, r, now, &expired)
			})
		})
		if err != nil {
			m.log.Warn().Err(err).Str("reservation_id", r.ID).Msg("sweep skip")
		}
	}
	if expired > 0 {
		m.log.Info().Int("expired", expired).Msg("sweep done")
	}
	return expired, nil
}

// Availability 返回主体当前可售量，计算前先做一次惰性清扫。
func (m *Manager) Availability(ctx context.Context, st model.SubjectType, subjectID uint) (int64, error) {
	var avail int64
	err := m.locks.WithLock(subjectKey(st, subjectID), func() error {
		now := m.now()
		return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := m.sweepSubject(tx, st, subjectID, now); err != nil {
				return err
			}
			var row model.StockSubject
			if err := tx.Where("subject_type = ? AND subject_id = ?", st, subjectID).
				First(&row).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return ErrSubjectNotFound
				}
				return fmt.Errorf("load subject %s/%d: %w", st, subjectID, err)
			}
			avail = row.Total - row.Held - row.Committed
			return nil
		})
	})
	return avail, err
}

// sweepSubject 在既有事务内过期某主体所有到期保留。
func (m *Manager) sweepSubject(tx *gorm.DB, st model.SubjectType, subjectID uint, now time.Time) error {
	var overdue []model.Reservation
	err := tx.Where("subject_type = ? AND subject_id = ? AND status = ? AND expires_at <= ?",
		st, subjectID, model.ReservationActive, now).
		Find(&overdue).Error
	if err != nil {
		return fmt.Errorf("list overdue for %s/%d: %w", st, subjectID, err)
	}
	for _, r := range overdue {
		if err := m.expireOne(tx, r, now, nil); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) expireOne(tx *gorm.DB, r model.Reservation, now time.Time, counter *int) error {
	res := tx.Model(&model.Reservation{}).
		Where("id = ? AND status = ? AND expires_at <= ?", r.ID, model.ReservationActive, now).
		Update("status", model.ReservationExpired)
	if res.Error != nil {
		return fmt.Errorf("expire reservation %s: %w", r.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		// 清扫输给了并发 commit/release，安全空操作。
		return nil
	}
	if err := m.ledger.unhold(tx, r.SubjectType, r.SubjectID, r.Quantity); err != nil {
		return err
	}
	if counter != nil {
		*counter++
	}
	return nil
}
