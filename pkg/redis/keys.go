package redis

import "fmt"

// AvailabilityKey 主体可售量的展示缓存键。
func AvailabilityKey(subjectType string, subjectID uint) string {
	return fmt.Sprintf("marketplace:availability:%s:%d", subjectType, subjectID)
}

// AuctionSnapshotKey 拍卖轮询快照缓存键。
func AuctionSnapshotKey(auctionID uint) string {
	return fmt.Sprintf("marketplace:auction:snapshot:%d", auctionID)
}

// SessionGuardKey 标记某会话在某主体上已有进行中的保留。
func SessionGuardKey(subjectType string, subjectID uint, sessionID string) string {
	return fmt.Sprintf("marketplace:reserve:guard:%s:%d:%s", subjectType, subjectID, sessionID)
}

// BidRateLimitKey 出价接口的滑动窗口限流键（按出价人）。
func BidRateLimitKey(bidderID int64) string {
	return fmt.Sprintf("rate_limit:bids:user:%d", bidderID)
}

// BidRateLimitIPKey 出价接口限流的 IP 降级键。
func BidRateLimitIPKey(ip string) string {
	return fmt.Sprintf("rate_limit:bids:ip:%s", ip)
}
