package redis

import (
	"context"
	"time"

	rd "github.com/redis/go-redis/v9"
)

// GetAuctionSnapshot 读取拍卖轮询快照（序列化后的响应体）。
// found=false 表示缓存未命中。
func GetAuctionSnapshot(ctx context.Context, rdb *rd.Client, auctionID uint) ([]byte, bool, error) {
	key := AuctionSnapshotKey(auctionID)
	b, err := rdb.Get(ctx, key).Bytes()
	if err != nil {
		if err == rd.Nil {
			return nil, false, nil
		}
		return nil, false, err
	}
	return b, true, nil
}

// PutAuctionSnapshot 写入轮询快照。TTL 取轮询间隔量级（秒级），
// 让高频轮询命中缓存而状态仍「最终可见」。
func PutAuctionSnapshot(ctx context.Context, rdb *rd.Client, auctionID uint, body []byte, ttl time.Duration) error {
	return rdb.Set(ctx, AuctionSnapshotKey(auctionID), body, ttl).Err()
}

// DropAuctionSnapshot 出价被接受后尽力失效快照，让新价尽快可见。
func DropAuctionSnapshot(ctx context.Context, rdb *rd.Client, auctionID uint) {
	_ = rdb.Del(ctx, AuctionSnapshotKey(auctionID)).Err()
}
