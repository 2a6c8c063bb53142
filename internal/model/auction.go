package model

import (
	"time"

	"gorm.io/gorm"
)

// AuctionStatus 描述拍卖状态机：scheduled → active → {ended | sold}。
// ended/sold 为终态，进入后不再接受任何出价。
type AuctionStatus string

const (
	AuctionScheduled AuctionStatus = "scheduled"
	AuctionActive    AuctionStatus = "active"
	AuctionEnded     AuctionStatus = "ended"
	AuctionSold      AuctionStatus = "sold"
)

// Auction 限时拍卖：起拍价、一口价、当前最高出价、拍卖时间段。
// Version 是乐观锁计数器，所有写入都以 version 条件更新方式执行，
// 保证并发出价对同一行的读-改-写被串行化。
type Auction struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	ProductID uint   `gorm:"not null;index" json:"product_id"`
	Title     string `gorm:"size:128;not null" json:"title"`

	// 金额单位：分。BuyNowPrice 为空表示未配置一口价。
	MinBid      int64  `gorm:"not null" json:"min_bid"`
	BuyNowPrice *int64 `json:"buy_now_price,omitempty"`

	// CurrentBid/CurrentBidderID 在第一笔出价前为空。
	CurrentBid      *int64 `json:"current_bid,omitempty"`
	CurrentBidderID *int64 `json:"current_bidder_id,omitempty"`
	BidCount        int    `gorm:"not null;default:0" json:"bid_count"`

	StartTime time.Time     `gorm:"not null" json:"start_time"`
	// EndTime 只会被防狙击延长，从不缩短。
	EndTime   time.Time     `gorm:"not null;index" json:"end_time"`
	Status    AuctionStatus `gorm:"size:16;not null;default:scheduled;index" json:"status"`

	Version int64 `gorm:"not null;default:0" json:"-"`
}

func (Auction) TableName() string { return "auctions" }

// Bid 出价记录，仅追加。AcceptedAt 即引擎接受该出价的时刻，
// 列表按 (auction_id, id) 自然有序，金额严格递增。
type Bid struct {
	ID        uint  `gorm:"primarykey" json:"id"`
	AuctionID uint  `gorm:"not null;index" json:"auction_id"`
	BidderID  int64 `gorm:"not null;index:idx_bids_bidder" json:"bidder_id"`
	Amount    int64 `gorm:"not null" json:"amount"`

	AcceptedAt time.Time `gorm:"not null;index:idx_bids_bidder" json:"accepted_at"`
}

func (Bid) TableName() string { return "bids" }
