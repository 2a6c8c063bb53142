package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// Result 记录单次请求的 HTTP 结果，便于聚合统计。
type Result struct {
	Status int
	Body   string
	Err    error
}

func main() {
	baseURL := flag.String("base", "http://localhost:8080", "server base url")
	productID := flag.Int("product", 1, "product id for reserve test")
	auctionID := flag.Int("auction", 1, "auction id for bid test")
	minBid := flag.Int64("min-bid", 100000, "auction min bid (cents)")

	// 超卖测试参数：200 个会话并发抢有限库存
	nSessions := flag.Int("sessions", 200, "distinct checkout sessions")
	nBidders := flag.Int("bidders", 50, "distinct bidders")
	concurrency := flag.Int("c", 50, "max concurrency")
	flag.Parse()

	client := &http.Client{Timeout: 5 * time.Second}

	// 1) 不超卖测试：不同会话并发保留同一商品
	fmt.Printf("start oversell test: product=%d sessions=%d concurrency=%d\n", *productID, *nSessions, *concurrency)
	results := runReserve(client, *baseURL, *productID, *nSessions, *concurrency)
	printSummary("oversell", results)

	if avail, err := getAvailability(client, *baseURL, *productID); err != nil {
		fmt.Println("availability check err:", err)
	} else {
		fmt.Println("final availability:", avail)
	}

	// 2) 竞价串行化测试：不同买家对同一拍卖并发抬价，
	// 事后由 GET /api/auctions/:id 的出价历史验证严格递增。
	fmt.Printf("\nstart bid race test: auction=%d bidders=%d concurrency=%d\n", *auctionID, *nBidders, *concurrency)
	results2 := runBids(client, *baseURL, *auctionID, *minBid, *nBidders, *concurrency)
	printSummary("bid_race", results2)
}

func runReserve(client *http.Client, baseURL string, productID, nSessions, concurrency int) []Result {
	type Req struct {
		Type      string `json:"type"`
		SubjectID int    `json:"subject_id"`
		Quantity  int    `json:"quantity"`
		SessionID string `json:"session_id"`
	}

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	results := make([]Result, nSessions)

	for i := 0; i < nSessions; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()

			req := Req{
				Type:      "product",
				SubjectID: productID,
				Quantity:  1,
				SessionID: fmt.Sprintf("loadtest-session-%d", idx+1),
			}
			results[idx] = doJSON(client, http.MethodPost, baseURL+"/api/reservations", req)
		}(i)
	}

	wg.Wait()
	return results
}

func runBids(client *http.Client, baseURL string, auctionID int, minBid int64, nBidders, concurrency int) []Result {
	type Req struct {
		BidderID int64 `json:"bidder_id"`
		Amount   int64 `json:"amount"`
	}

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	results := make([]Result, nBidders)

	for i := 0; i < nBidders; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()

			// 出价金额错开，保证大部分满足最低加价规则。
			req := Req{
				BidderID: int64(idx + 1),
				Amount:   minBid + int64(idx)*10000,
			}
			url := fmt.Sprintf("%s/api/auctions/%d/bids", baseURL, auctionID)
			results[idx] = doJSON(client, http.MethodPost, url, req)
		}(i)
	}

	wg.Wait()
	return results
}

func doJSON(client *http.Client, method, url string, body any) Result {
	b, _ := json.Marshal(body)
	httpReq, _ := http.NewRequest(method, url, bytes.NewReader(b))
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return Result{Err: err}
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)
	return Result{Status: resp.StatusCode, Body: string(respBody)}
}

// printSummary 聚合输出不同状态码分布。
func printSummary(name string, results []Result) {
	count := map[int]int{}
	errCount := 0
	for _, r := range results {
		if r.Err != nil {
			errCount++
			continue
		}
		count[r.Status]++
	}
	fmt.Printf("[%s] http status summary:\n", name)
	for _, code := range []int{200, 400, 403, 404, 409, 429, 500, 503} {
		if count[code] > 0 {
			fmt.Printf("  %d -> %d\n", code, count[code])
		}
	}
	if errCount > 0 {
		fmt.Printf("  errors -> %d\n", errCount)
	}
}

// getAvailability 压测后查询展示可售量，校验是否出现超卖。
func getAvailability(client *http.Client, baseURL string, productID int) (int64, error) {
	url := fmt.Sprintf("%s/api/stock/product/%d", baseURL, productID)
	resp, err := client.Get(url)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return 0, fmt.Errorf("status=%d body=%s", resp.StatusCode, string(b))
	}

	var out struct {
		Code int `json:"code"`
		Data struct {
			Available int64 `json:"available"`
		} `json:"data"`
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return 0, err
	}
	return out.Data.Available, nil
}
