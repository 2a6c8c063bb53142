package model

import "time"

// SubjectType 标识可售卖主体的种类：普通商品、秒杀配额、拍卖中标。
type SubjectType string

const (
	SubjectProduct   SubjectType = "product"
	SubjectFlashSale SubjectType = "flashsale"
	SubjectAuction   SubjectType = "auction"
)

// ReservationStatus 保留单状态机：active 恰好迁移到
// committed（随订单创建）或 released/expired 之一，终态不可逆。
type ReservationStatus string

const (
	ReservationActive    ReservationStatus = "active"
	ReservationCommitted ReservationStatus = "committed"
	ReservationReleased  ReservationStatus = "released"
	ReservationExpired   ReservationStatus = "expired"
)

// Reservation 结账期间对库存的限时占用。
// 对任意主体恒有 sum(active 保留量) + committed ≤ total（见 StockSubject）。
type Reservation struct {
	ID        string    `gorm:"size:64;primarykey" json:"id"` // uuid
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	SubjectType SubjectType `gorm:"size:16;not null;index:idx_resv_subject" json:"subject_type"`
	SubjectID   uint        `gorm:"not null;index:idx_resv_subject" json:"subject_id"`
	Quantity    int64       `gorm:"not null;default:1" json:"quantity"` // 拍卖恒为 1

	HolderSessionID string            `gorm:"size:128;not null;index" json:"holder_session_id"`
	Status          ReservationStatus `gorm:"size:16;not null;default:active;index" json:"status"`
	ExpiresAt       time.Time         `gorm:"not null;index" json:"expires_at"`

	// OrderNo 仅在 committed 后填充。
	OrderNo string `gorm:"size:64;index" json:"order_no,omitempty"`
}

func (Reservation) TableName() string { return "reservations" }

// StockSubject 是库存台账行：每个主体一行，Total 由商品/秒杀管理方
// 写入（本核心只读），Held/Committed 只通过条件更新变化，
// 不变式 Held + Committed ≤ Total 由条件更新本身保证。
type StockSubject struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	SubjectType SubjectType `gorm:"size:16;not null;uniqueIndex:idx_subject_key" json:"subject_type"`
	SubjectID   uint        `gorm:"not null;uniqueIndex:idx_subject_key" json:"subject_id"`

	Total     int64 `gorm:"not null;default:0" json:"total"`
	Held      int64 `gorm:"not null;default:0" json:"held"`
	Committed int64 `gorm:"not null;default:0" json:"committed"`
}

func (StockSubject) TableName() string { return "stock_subjects" }
