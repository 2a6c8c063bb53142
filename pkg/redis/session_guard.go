package redis

import (
	"context"
	"time"

	rd "github.com/redis/go-redis/v9"
)

// luaReleaseGuardIfMatch 仅当守卫值匹配 reservation_id 时才删除，
// 避免误删同会话后续保留的守卫。
const luaReleaseGuardIfMatch = `
local guardKey = KEYS[1]
local reservationID = ARGV[1]
if redis.call('GET', guardKey) == reservationID then
  return redis.call('DEL', guardKey)
end
return 0
`

// AcquireSessionGuard 尝试为「会话 × 主体」占一个守卫位，
// 防止同一会话在结账页反复点击堆出多张保留。
// 这是尽力而为的优化：守卫失效或 Redis 不可用时，
// 台账条件更新仍然保证正确性。
// 返回 false 表示该会话已有进行中的保留。
func AcquireSessionGuard(ctx context.Context, rdb *rd.Client, subjectType string, subjectID uint, sessionID, reservationID string, ttl time.Duration) (bool, error) {
	key := SessionGuardKey(subjectType, subjectID, sessionID)
	return rdb.SetNX(ctx, key, reservationID, ttl).Result()
}

// ReleaseSessionGuardIfMatch 安全释放会话守卫。
func ReleaseSessionGuardIfMatch(ctx context.Context, rdb *rd.Client, subjectType string, subjectID uint, sessionID, reservationID string) error {
	key := SessionGuardKey(subjectType, subjectID, sessionID)
	_, err := rdb.Eval(ctx, luaReleaseGuardIfMatch, []string{key}, reservationID).Int()
	return err
}
