package model

import (
	"time"

	"gorm.io/gorm"
)

// Product 普通商品：名称、总库存、售价。
// Stock 是商品管理方维护的总量，核心只在台账播种时读取一次；
// 实时可售量一律走库存台账（total - held - committed）。
type Product struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Name      string `gorm:"size:128;not null" json:"name"`
	Stock     int64  `gorm:"not null;default:0" json:"stock"`
	SalePrice int64  `gorm:"not null" json:"sale_price"` // 单位：分
}

func (Product) TableName() string { return "products" }

// FlashSale 秒杀场次：在时间窗内以秒杀价售卖某商品的独立配额。
// 配额播种为 subject_type=flashsale 的台账行，与商品本身的库存互不挤占。
type FlashSale struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	ProductID  uint      `gorm:"not null;index" json:"product_id"`
	Allocation int64     `gorm:"not null" json:"allocation"`
	SalePrice  int64     `gorm:"not null" json:"sale_price"` // 单位：分
	StartTime  time.Time `gorm:"not null" json:"start_time"`
	EndTime    time.Time `gorm:"not null" json:"end_time"`
}

func (FlashSale) TableName() string { return "flash_sales" }
