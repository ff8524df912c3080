package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/punchamoorthee/tcr/internal/auth"
	"github.com/punchamoorthee/tcr/internal/domain"
	"github.com/punchamoorthee/tcr/internal/registry"
)

// Config holds the benchmark settings
var (
	targetURL   string
	concurrency int
	duration    time.Duration
	workload    string
	secret      string
	accounts    int
)

// Metrics
var (
	totalRequests uint64
	success200    uint64 // Applied (or idempotent replays)
	success201    uint64 // Listings and challenges created
	fail409       uint64 // Rejected by a precondition
	failOther     uint64
)

var tokens []string

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "uniform", "Workload type: uniform | hotspot | registry")
	flag.StringVar(&secret, "secret", "dev-secret-change-me", "JWT signing secret of the node")
	flag.IntVar(&accounts, "accounts", 1000, "Number of seeded accounts (acct-1..acct-N)")
}

func main() {
	flag.Parse()
	if accounts < 2 {
		log.Fatal("at least two accounts are required")
	}
	log.Printf("Starting Benchmark: %s | Workers: %d | Duration: %s", workload, concurrency, duration)

	// Sign one token per account up front so workers only send requests.
	svc := auth.NewTokenService(secret)
	tokens = make([]string, accounts+1)
	for i := 1; i <= accounts; i++ {
		tok, err := svc.Issue(accountID(i), duration+time.Hour)
		if err != nil {
			log.Fatalf("issue token: %v", err)
		}
		tokens[i] = tok
	}

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)

	for i := 0; i < concurrency; i++ {
		go worker(&wg, start, i)
	}

	wg.Wait()
	printResults(time.Since(start))
}

func worker(wg *sync.WaitGroup, start time.Time, id int) {
	defer wg.Done()
	client := &http.Client{Timeout: 5 * time.Second}

	for n := 0; time.Since(start) < duration; n++ {
		from, path, payload := nextRequest(id, n)
		body, _ := json.Marshal(payload)

		// Unique keys: every request is a new transition.
		key := fmt.Sprintf("bench-%d-%d-%d", id, n, time.Now().UnixNano())

		req, _ := http.NewRequest("POST", targetURL+path, bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+tokens[from])
		req.Header.Set("Idempotency-Key", key)

		resp, err := client.Do(req)
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}

		atomic.AddUint64(&totalRequests, 1)
		switch resp.StatusCode {
		case 201:
			atomic.AddUint64(&success201, 1)
		case 200:
			atomic.AddUint64(&success200, 1)
		case 409:
			atomic.AddUint64(&fail409, 1)
		default:
			atomic.AddUint64(&failOther, 1)
		}
		resp.Body.Close()
	}
}

// nextRequest returns the signing account, the route and the body of the
// next call a worker sends.
func nextRequest(id, n int) (int, string, map[string]interface{}) {
	if workload == "registry" {
		from := rand.Intn(accounts) + 1
		data := fmt.Sprintf("bench-listing-%d-%d", id, n)
		if n%2 == 1 {
			// Challenge the listing proposed on the previous iteration.
			prev := registry.HashData([]byte(fmt.Sprintf("bench-listing-%d-%d", id, n-1)))
			return from, "/api/v1/listings/" + prev.String() + "/challenge", map[string]interface{}{"deposit": 50}
		}
		return from, "/api/v1/listings", map[string]interface{}{"data": data, "deposit": 50}
	}

	from, to := generateAccounts()
	return from, "/api/v1/transfers", map[string]interface{}{
		"to":     accountID(to),
		"amount": 100,
	}
}

func generateAccounts() (int, int) {
	if workload == "hotspot" {
		// Hotspot: 90% of traffic goes to Account 1 & 2
		if rand.Float32() < 0.90 {
			if rand.Float32() < 0.5 {
				return 1, 2
			}
			return 2, 1
		}
	}

	// Uniform Random
	a := rand.Intn(accounts) + 1
	b := rand.Intn(accounts) + 1
	for a == b {
		b = rand.Intn(accounts) + 1
	}
	return a, b
}

func accountID(i int) domain.AccountID {
	return domain.AccountID(fmt.Sprintf("acct-%d", i))
}

func printResults(d time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	s201 := atomic.LoadUint64(&success201)
	s200 := atomic.LoadUint64(&success200)
	f409 := atomic.LoadUint64(&fail409)
	fErr := atomic.LoadUint64(&failOther)

	tps := float64(total) / d.Seconds()
	var rejectRate float64
	if total > 0 {
		rejectRate = float64(f409) / float64(total) * 100
	}

	results := map[string]interface{}{
		"workload":        workload,
		"duration_sec":    d.Seconds(),
		"total_requests":  total,
		"throughput_tps":  tps,
		"success_applied": s200,
		"success_created": s201,
		"rejected_409":    f409,
		"reject_rate_pct": rejectRate,
		"errors":          fErr,
	}

	// Print JSON for the python plotter to consume
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	// Also save to file
	filename := fmt.Sprintf("results_%s.json", workload)
	file, err := os.Create(filename)
	if err != nil {
		log.Printf("write results: %v", err)
		return
	}
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}
