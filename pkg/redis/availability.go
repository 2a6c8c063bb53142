package redis

import (
	"context"
	"time"

	rd "github.com/redis/go-redis/v9"
)

// CachedAvailability 读取主体可售量的展示缓存。found=false 表示缓存未命中。
// 展示可售量允许滞后（轮询语义），真实判定永远走库存台账。
func CachedAvailability(ctx context.Context, rdb *rd.Client, subjectType string, subjectID uint) (int64, bool, error) {
	key := AvailabilityKey(subjectType, subjectID)
	v, err := rdb.Get(ctx, key).Int64()
	if err != nil {
		if err == rd.Nil {
			return 0, false, nil
		}
		return 0, false, err
	}
	return v, true, nil
}

// PutAvailability 回填展示缓存，TTL 较短即可，过期自然回源。
func PutAvailability(ctx context.Context, rdb *rd.Client, subjectType string, subjectID uint, available int64, ttl time.Duration) error {
	return rdb.Set(ctx, AvailabilityKey(subjectType, subjectID), available, ttl).Err()
}

// DropAvailability 保留/释放成功后尽力让缓存失效，加快展示收敛。
func DropAvailability(ctx context.Context, rdb *rd.Client, subjectType string, subjectID uint) {
	_ = rdb.Del(ctx, AvailabilityKey(subjectType, subjectID)).Err()
}
