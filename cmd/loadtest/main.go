package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

type Config struct {
	BaseURL     string
	Index       string
	Concurrency int
	Duration    time.Duration
	PageSize    int
	Queries     []string
}

// Stats aggregates the outcome of every query sent.
type Stats struct {
	total     atomic.Int64
	success   atomic.Int64
	errors    atomic.Int64
	cacheHits atomic.Int64
	skipped   atomic.Int64

	mu        sync.Mutex
	latencies []time.Duration
	codes     map[int]int64
}

func NewStats() *Stats {
	return &Stats{
		latencies: make([]time.Duration, 0, 100000),
		codes:     make(map[int]int64),
	}
}

type queryResponse struct {
	TotalResults   int  `json:"totalResults"`
	SkippedResults int  `json:"skippedResults"`
	CacheHit       bool `json:"cacheHit"`
}

func (s *Stats) Record(took time.Duration, code int, resp *queryResponse, err error) {
	s.total.Add(1)
	if err != nil {
		s.errors.Add(1)
		return
	}
	if code >= 200 && code < 300 {
		s.success.Add(1)
	} else {
		s.errors.Add(1)
	}
	if resp != nil {
		if resp.CacheHit {
			s.cacheHits.Add(1)
		}
		s.skipped.Add(int64(resp.SkippedResults))
	}
	s.mu.Lock()
	s.latencies = append(s.latencies, took)
	s.codes[code]++
	s.mu.Unlock()
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "base URL of the index engine")
	indexName := flag.String("index", "Articles/ByTitle", "index to query")
	concurrency := flag.Int("concurrency", 10, "number of concurrent workers")
	duration := flag.Duration("duration", 30*time.Second, "test duration")
	pageSize := flag.Int("page-size", 10, "results per query")
	queries := flag.String("queries", "", "comma separated queries; defaults to a built-in set")
	flag.Parse()

	cfg := Config{
		BaseURL:     strings.TrimSuffix(*baseURL, "/"),
		Index:       *indexName,
		Concurrency: *concurrency,
		Duration:    *duration,
		PageSize:    *pageSize,
		Queries: []string{
			"Title:search",
			"Body:index AND Body:query",
			"Title:\"inverted index\"",
			"Body:snapshot*",
			"Category:databases",
			"Category:[a TO m]",
			"Body:reduce -Body:map",
			"Title:search INTERSECT Category:databases",
			"Rating_Range:[3 TO 5]",
			"Body:merg~",
		},
	}
	if *queries != "" {
		cfg.Queries = strings.Split(*queries, ",")
	}

	fmt.Println("=== Index Engine Load Test ===")
	fmt.Printf("Target:      %s\n", cfg.BaseURL)
	fmt.Printf("Index:       %s\n", cfg.Index)
	fmt.Printf("Concurrency: %d\n", cfg.Concurrency)
	fmt.Printf("Duration:    %s\n", cfg.Duration)
	fmt.Printf("Queries:     %d unique\n", len(cfg.Queries))
	fmt.Println()

	stats := run(cfg)
	if !report(stats, cfg.Duration) {
		os.Exit(1)
	}
}

func run(cfg Config) *Stats {
	stats := NewStats()
	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        cfg.Concurrency * 2,
			MaxIdleConnsPerHost: cfg.Concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	for w := range cfg.Concurrency {
		g.Go(func() error {
			for n := w; ctx.Err() == nil; n++ {
				q := cfg.Queries[n%len(cfg.Queries)]
				start := time.Now()
				code, resp, err := query(ctx, client, cfg, q)
				if ctx.Err() != nil {
					return nil
				}
				stats.Record(time.Since(start), code, resp, err)
			}
			return nil
		})
	}

	fmt.Print("Running")
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fmt.Print(".")
			}
		}
	}()

	g.Wait()
	fmt.Println(" done!")
	fmt.Println()
	return stats
}

func query(ctx context.Context, client *http.Client, cfg Config, q string) (int, *queryResponse, error) {
	params := url.Values{}
	params.Set("query", q)
	params.Set("pageSize", fmt.Sprint(cfg.PageSize))
	target := fmt.Sprintf("%s/indexes/%s/query?%s", cfg.BaseURL, cfg.Index, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil, nil
	}
	var body queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return resp.StatusCode, nil, fmt.Errorf("decoding response: %w", err)
	}
	return resp.StatusCode, &body, nil
}

// report prints the summary and reports whether any query completed.
func report(stats *Stats, duration time.Duration) bool {
	total := stats.total.Load()
	errors := stats.errors.Load()

	fmt.Println("=== Results ===")
	fmt.Printf("Total Queries:   %d\n", total)
	fmt.Printf("Successful:      %d\n", stats.success.Load())
	fmt.Printf("Errors:          %d\n", errors)
	fmt.Printf("Cache Hits:      %d\n", stats.cacheHits.Load())
	fmt.Printf("Skipped Results: %d\n", stats.skipped.Load())
	if total > 0 {
		fmt.Printf("Error Rate:      %.2f%%\n", float64(errors)/float64(total)*100)
		fmt.Printf("Queries/sec:     %.2f\n", float64(total)/duration.Seconds())
	}

	stats.mu.Lock()
	latencies := slices.Clone(stats.latencies)
	codes := make(map[int]int64, len(stats.codes))
	for code, n := range stats.codes {
		codes[code] = n
	}
	stats.mu.Unlock()

	if len(latencies) > 0 {
		slices.Sort(latencies)
		var sum time.Duration
		for _, l := range latencies {
			sum += l
		}
		avg := sum / time.Duration(len(latencies))

		fmt.Println()
		fmt.Println("=== Latency ===")
		fmt.Printf("Min:    %s\n", latencies[0])
		fmt.Printf("Avg:    %s\n", avg)
		fmt.Printf("P50:    %s\n", percentile(latencies, 50))
		fmt.Printf("P90:    %s\n", percentile(latencies, 90))
		fmt.Printf("P99:    %s\n", percentile(latencies, 99))
		fmt.Printf("Max:    %s\n", latencies[len(latencies)-1])
	}

	fmt.Println()
	fmt.Println("=== Status Codes ===")
	keys := make([]int, 0, len(codes))
	for code := range codes {
		keys = append(keys, code)
	}
	slices.Sort(keys)
	for _, code := range keys {
		fmt.Printf("  %d: %d\n", code, codes[code])
	}

	if total == 0 {
		fmt.Println()
		fmt.Println("WARNING: No queries completed. Is the engine running?")
		return false
	}
	return true
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	return sorted[max(0, min(idx, len(sorted)-1))]
}
