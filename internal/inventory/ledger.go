package inventory

import (
	"context"
	"errors"
	"fmt"

	"webfiresale/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrSubjectNotFound 主体尚未播种台账。
	ErrSubjectNotFound = errors.New("subject not found")
	// ErrInsufficientStock 可售量不足，保留被拒绝。
	ErrInsufficientStock = errors.New("insufficient stock")
)

// Ledger 是库存台账：每个主体一行 total/held/committed 计数。
// 所有计数变化都是针对主体行的单条条件 UPDATE，
// 两个并发结账在临界库存上恰好一个成功。
type Ledger struct {
	db *gorm.DB
}

func NewLedger(db *gorm.DB) *Ledger {
	return &Ledger{db: db}
}

// EnsureSubject 播种主体台账，已存在则不动（total 归管理方所有，这里不覆盖）。
func (l *Ledger) EnsureSubject(ctx context.Context, st model.SubjectType, subjectID uint, total int64) error {
	row := model.StockSubject{SubjectType: st, SubjectID: subjectID, Total: total}
	err := l.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("ensure subject %s/%d: %w", st, subjectID, err)
	}
	return nil
}

// SetTotal 管理方调整主体总量（只写 total 列，held/committed 不动）。
func (l *Ledger) SetTotal(ctx context.Context, st model.SubjectType, subjectID uint, total int64) error {
	res := l.db.WithContext(ctx).Model(&model.StockSubject{}).
		Where("subject_type = ? AND subject_id = ?", st, subjectID).
		Update("total", total)
	if res.Error != nil {
		return fmt.Errorf("set total %s/%d: %w", st, subjectID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrSubjectNotFound
	}
	return nil
}

// Subject 读取台账行。
func (l *Ledger) Subject(ctx context.Context, st model.SubjectType, subjectID uint) (model.StockSubject, error) {
	var row model.StockSubject
	err := l.db.WithContext(ctx).
		Where("subject_type = ? AND subject_id = ?", st, subjectID).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.StockSubject{}, ErrSubjectNotFound
		}
		return model.StockSubject{}, fmt.Errorf("load subject %s/%d: %w", st, subjectID, err)
	}
	return row, nil
}

// hold 占用 quantity 件：仅当 total - held - committed >= quantity 时生效。
// 条件落在 UPDATE 的 WHERE 里，读-判-写是同一条语句。
func (l *Ledger) hold(tx *gorm.DB, st model.SubjectType, subjectID uint, quantity int64) error {
	res := tx.Model(&model.StockSubject{}).
		Where("subject_type = ? AND subject_id = ? AND total - held - committed >= ?", st, subjectID, quantity).
		Update("held", gorm.Expr("held + ?", quantity))
	if res.Error != nil {
		return fmt.Errorf("hold %s/%d: %w", st, subjectID, res.Error)
	}
	if res.RowsAffected == 0 {
		// 区分「没有台账」与「余量不足」
		var n int64
		if err := tx.Model(&model.StockSubject{}).
			Where("subject_type = ? AND subject_id = ?", st, subjectID).
			Count(&n).Error; err != nil {
			return fmt.Errorf("hold %s/%d: %w", st, subjectID, err)
		}
		if n == 0 {
			return ErrSubjectNotFound
		}
		return ErrInsufficientStock
	}
	return nil
}

// unhold 归还 quantity 件占用（释放或过期）。
func (l *Ledger) unhold(tx *gorm.DB, st model.SubjectType, subjectID uint, quantity int64) error {
	res := tx.Model(&model.StockSubject{}).
		Where("subject_type = ? AND subject_id = ? AND held >= ?", st, subjectID, quantity).
		Update("held", gorm.Expr("held - ?", quantity))
	if res.Error != nil {
		return fmt.Errorf("unhold %s/%d: %w", st, subjectID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("unhold %s/%d: held counter out of sync", st, subjectID)
	}
	return nil
}

// commitHold 把占用转为永久扣减。
func (l *Ledger) commitHold(tx *gorm.DB, st model.SubjectType, subjectID uint, quantity int64) error {
	res := tx.Model(&model.StockSubject{}).
		Where("subject_type = ? AND subject_id = ? AND held >= ?", st, subjectID, quantity).
		Updates(map[string]any{
			"held":      gorm.Expr("held - ?", quantity),
			"committed": gorm.Expr("committed + ?", quantity),
		})
	if res.Error != nil {
		return fmt.Errorf("commit hold %s/%d: %w", st, subjectID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("commit hold %s/%d: held counter out of sync", st, subjectID)
	}
	return nil
}
