package model

import (
	"time"

	"gorm.io/gorm"
)

// OrderStatus 订单状态：下单成功即 placed，确认 worker 消费事件后置 confirmed。
type OrderStatus int

const (
	OrderPlaced    OrderStatus = iota // 订单与保留提交已在同一事务落库
	OrderConfirmed                    // 确认 worker 已处理下单事件
)

// Order 订单头。订单创建与其引用保留单的 commit 在同一个数据库事务内完成：
// 要么订单落库且全部保留转为 committed，要么整体回滚。
type Order struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	OrderNo         string      `gorm:"size:64;uniqueIndex;not null" json:"order_no"`
	HolderSessionID string      `gorm:"size:128;not null;index" json:"holder_session_id"`
	Amount          int64       `gorm:"not null" json:"amount"` // 总金额，单位分
	Status          OrderStatus `gorm:"not null;default:0" json:"status"`
}

func (Order) TableName() string { return "orders" }

// OrderLine 订单行：每行对应一张已 commit 的保留单。
type OrderLine struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	OrderNo       string      `gorm:"size:64;not null;index" json:"order_no"`
	ReservationID string      `gorm:"size:64;uniqueIndex;not null" json:"reservation_id"`
	SubjectType   SubjectType `gorm:"size:16;not null" json:"subject_type"`
	SubjectID     uint        `gorm:"not null" json:"subject_id"`
	Quantity      int64       `gorm:"not null;default:1" json:"quantity"`
	Amount        int64       `gorm:"not null" json:"amount"` // 行金额，单位分
}

func (OrderLine) TableName() string { return "order_lines" }
