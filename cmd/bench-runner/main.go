// bench-runner hammers the reservation-service to measure how the
// two-write submission behaves under load.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type benchResult struct {
	Timestamp          string         `json:"timestamp"`
	BaseURL            string         `json:"base_url"`
	Scenario           string         `json:"scenario"`
	Reservations       int            `json:"reservations"`
	Concurrency        int            `json:"concurrency"`
	TotalRequests      int            `json:"total_requests"`
	SuccessfulFlows    int            `json:"successful_flows"`
	ErrorFlows         int            `json:"error_flows"`
	OrphanedPending    int            `json:"orphaned_pending"`
	DurationSeconds    float64        `json:"duration_seconds"`
	AvgLatencyMs       float64        `json:"avg_latency_ms"`
	MinLatencyMs       float64        `json:"min_latency_ms"`
	MaxLatencyMs       float64        `json:"max_latency_ms"`
	P50LatencyMs       float64        `json:"p50_latency_ms"`
	P90LatencyMs       float64        `json:"p90_latency_ms"`
	P95LatencyMs       float64        `json:"p95_latency_ms"`
	P99LatencyMs       float64        `json:"p99_latency_ms"`
	ThroughputFlowsSec float64        `json:"throughput_flows_per_sec"`
	StatusCounts       map[string]int `json:"status_counts"`
	FirstError         string         `json:"first_error"`
}

type metrics struct {
	mu           sync.Mutex
	success      int
	errors       int
	orphans      int
	requests     int
	total        time.Duration
	minLatency   time.Duration
	maxLatency   time.Duration
	latenciesMs  []float64
	statusCounts map[string]int
	firstError   string
}

func newMetrics() *metrics {
	return &metrics{statusCounts: make(map[string]int)}
}

func (m *metrics) recordFlow(latency time.Duration, orphan bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if orphan {
		m.orphans++
	}
	if err != nil {
		m.errors++
		if m.firstError == "" {
			m.firstError = err.Error()
		}
		return
	}
	m.success++
	m.total += latency
	if m.minLatency == 0 || latency < m.minLatency {
		m.minLatency = latency
	}
	if latency > m.maxLatency {
		m.maxLatency = latency
	}
	m.latenciesMs = append(m.latenciesMs, float64(latency.Milliseconds()))
}

func (m *metrics) recordStatus(status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests++
	m.statusCounts[strconv.Itoa(status)]++
}

func main() {
	baseURL := flag.String("base-url", getenv("RESERVATION_BASE_URL", "http://localhost:8080"), "reservation-service base URL")
	scenario := flag.String("scenario", "full", "scenario to run: reserve|full")
	total := flag.Int("total", 1000, "total number of reservation flows")
	concurrency := flag.Int("concurrency", 10, "number of concurrent workers")
	timeout := flag.Duration("timeout", 10*time.Second, "per-request timeout")
	output := flag.String("output", "", "optional output path for JSON result")
	flag.Parse()

	if *total <= 0 {
		fmt.Fprintln(os.Stderr, "total must be > 0")
		os.Exit(1)
	}
	if *concurrency <= 0 {
		fmt.Fprintln(os.Stderr, "concurrency must be > 0")
		os.Exit(1)
	}
	if *scenario != "reserve" && *scenario != "full" {
		fmt.Fprintf(os.Stderr, "unknown scenario: %s\n", *scenario)
		os.Exit(1)
	}

	tasks := make(chan struct{})
	var wg sync.WaitGroup
	m := newMetrics()
	client := &http.Client{Timeout: *timeout}

	start := time.Now()
	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range tasks {
				latency, orphan, err := runFlow(client, *baseURL, *scenario, m)
				m.recordFlow(latency, orphan, err)
			}
		}()
	}

	for i := 0; i < *total; i++ {
		tasks <- struct{}{}
	}
	close(tasks)
	wg.Wait()

	duration := time.Since(start)
	avgLatency := 0.0
	minLatency := 0.0
	maxLatency := 0.0
	if m.success > 0 {
		avgLatency = float64(m.total.Milliseconds()) / float64(m.success)
		minLatency = float64(m.minLatency.Milliseconds())
		maxLatency = float64(m.maxLatency.Milliseconds())
	}
	p50, p90, p95, p99 := calcPercentiles(m.latenciesMs)

	result := benchResult{
		Timestamp:          time.Now().UTC().Format(time.RFC3339),
		BaseURL:            *baseURL,
		Scenario:           *scenario,
		Reservations:       *total,
		Concurrency:        *concurrency,
		TotalRequests:      m.requests,
		SuccessfulFlows:    m.success,
		ErrorFlows:         m.errors,
		OrphanedPending:    m.orphans,
		DurationSeconds:    duration.Seconds(),
		AvgLatencyMs:       avgLatency,
		MinLatencyMs:       minLatency,
		MaxLatencyMs:       maxLatency,
		P50LatencyMs:       p50,
		P90LatencyMs:       p90,
		P95LatencyMs:       p95,
		P99LatencyMs:       p99,
		ThroughputFlowsSec: float64(m.success) / duration.Seconds(),
		StatusCounts:       m.statusCounts,
		FirstError:         m.firstError,
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(result); err != nil {
		fmt.Fprintf(os.Stderr, "failed to encode result: %v\n", err)
		os.Exit(1)
	}

	if *output != "" {
		if err := writeResult(*output, result); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write output: %v\n", err)
			os.Exit(1)
		}
	}
}

// runFlow performs one reservation flow: the pending insert, and for
// the full scenario the item insert as well. An item-insert failure
// after a successful reservation insert counts as an orphan.
func runFlow(client *http.Client, baseURL, scenario string, m *metrics) (time.Duration, bool, error) {
	start := time.Now()

	reservationBody := map[string]any{
		"store_id":      "store-center",
		"pickup_at":     time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
		"customer_name": "bench " + uuid.NewString()[:8],
		"total_cents":   1740,
	}
	var created struct {
		ReservationID string `json:"reservation_id"`
	}
	if err := postJSON(client, baseURL+"/reservations", reservationBody, m, &created); err != nil {
		return time.Since(start), false, err
	}

	if scenario == "reserve" {
		return time.Since(start), false, nil
	}

	itemsBody := map[string]any{
		"items": []map[string]any{
			{
				"reservation_id":   created.ReservationID,
				"product_id":       "donut-glazed",
				"kind":             "donut",
				"name":             "Glazed",
				"quantity":         3,
				"unit_price_cents": 180,
			},
			{
				"reservation_id":   created.ReservationID,
				"product_id":       "box-6",
				"kind":             "box",
				"name":             "Half Dozen Box",
				"quantity":         1,
				"unit_price_cents": 1200,
				"box_payload":      map[string]any{"box_size": 6, "donuts": []map[string]any{{"donut_id": "donut-glazed", "qty": 6}}},
			},
		},
	}
	if err := postJSON(client, baseURL+"/reservation-items", itemsBody, m, nil); err != nil {
		return time.Since(start), true, err
	}

	return time.Since(start), false, nil
}

func postJSON(client *http.Client, url string, body any, m *metrics, out any) error {
	data, _ := json.Marshal(body)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", uuid.NewString())
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	m.recordStatus(resp.StatusCode)
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func calcPercentiles(latencies []float64) (p50, p90, p95, p99 float64) {
	if len(latencies) == 0 {
		return 0, 0, 0, 0
	}
	sorted := make([]float64, len(latencies))
	copy(sorted, latencies)
	sort.Float64s(sorted)
	return percentile(sorted, 50), percentile(sorted, 90), percentile(sorted, 95), percentile(sorted, 99)
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := p / 100 * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}
	weight := rank - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}

func writeResult(path string, result benchResult) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	encoder := json.NewEncoder(f)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func getenv(k, def string) string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	return v
}
