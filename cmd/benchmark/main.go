// Benchmark tool for load-testing Paygrid against a CSV of employee records.
//
// Usage:
//
//	go run ./cmd/benchmark -csv employees.csv -config kenya-2025 -url http://localhost:8080
//
// This tool:
//  1. Reads employee records from a CSV file, one record per row
//  2. Sends each record to Paygrid for a payslip
//  3. Compares the computed net pay with an expected_net column when present
//  4. Reports throughput, latency percentiles and mismatches
package main

import (
	"bytes"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
)

// expectedColumn holds the reference net pay; it is not sent to the server.
const expectedColumn = "expected_net"

// Employee is one CSV row.
type Employee struct {
	Row         int
	Record      map[string]any
	ExpectedNet *float64
}

// PayslipRequest is the Paygrid API request format
type PayslipRequest struct {
	Record map[string]any `json:"record"`
}

// PayslipResponse is the subset of the payslip the benchmark reads
type PayslipResponse struct {
	ID            string  `json:"id"`
	GrossEarnings float64 `json:"grossEarnings"`
	Tax           float64 `json:"tax"`
	NetPay        float64 `json:"netPay"`
}

// Metrics tracks benchmark results
type Metrics struct {
	TotalProcessed int64
	TotalErrors    int64
	Checked        int64 // rows with an expected net
	Mismatches     int64

	mu        sync.Mutex
	latencies []time.Duration
}

func (m *Metrics) observe(d time.Duration) {
	m.mu.Lock()
	m.latencies = append(m.latencies, d)
	m.mu.Unlock()
}

// percentile returns the p-th percentile (0-100) of the observed latencies.
func (m *Metrics) percentile(p float64) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.latencies) == 0 {
		return 0
	}
	sorted := slices.Clone(m.latencies)
	slices.Sort(sorted)
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	return sorted[idx]
}

func main() {
	// Parse flags
	csvPath := flag.String("csv", "", "Path to employee CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "Paygrid base URL")
	tenantID := flag.String("tenant", "benchmark-test", "Tenant ID for requests")
	configID := flag.String("config", "", "Payroll configuration ID")
	limit := flag.Int("limit", 10000, "Maximum records to process (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	tolerance := flag.Float64("tolerance", 0.01, "Allowed difference from expected_net")
	verbose := flag.Bool("verbose", false, "Print each payslip result")
	flag.Parse()

	if *csvPath == "" || *configID == "" {
		fmt.Println("Usage: benchmark -csv employees.csv -config <id> [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("+---------------------------------------------------------------+")
	fmt.Println("|              PAYGRID BENCHMARK - Payslip Load                 |")
	fmt.Println("+---------------------------------------------------------------+")
	fmt.Printf("\nCSV File:      %s\n", *csvPath)
	fmt.Printf("Paygrid URL:   %s\n", *baseURL)
	fmt.Printf("Tenant ID:     %s\n", *tenantID)
	fmt.Printf("Configuration: %s\n", *configID)
	fmt.Printf("Workers:       %d\n", *workers)
	fmt.Printf("Limit:         %d\n", *limit)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Paygrid not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Paygrid is running:")
		fmt.Println("  go run ./cmd/paygrid")
		os.Exit(1)
	}
	fmt.Println("✓ Paygrid is healthy")

	file, err := os.Open(*csvPath)
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
	employees, err := readEmployees(file, *limit)
	file.Close()
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ Loaded %d records\n", len(employees))

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	path := fmt.Sprintf("%s/configurations/%s/payslips", *baseURL, *configID)
	startTime := time.Now()
	metrics := runBenchmark(employees, path, *tenantID, *workers, *tolerance, *verbose)
	duration := time.Since(startTime)

	printResults(metrics, duration)
	if metrics.Mismatches > 0 || metrics.TotalErrors > 0 {
		os.Exit(2)
	}
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// readEmployees turns CSV rows into records. Numeric cells become numbers,
// everything else stays text. Empty cells are left out of the record.
func readEmployees(r io.Reader, limit int) ([]Employee, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	for i := range header {
		header[i] = strings.ToLower(strings.TrimSpace(header[i]))
	}

	var employees []Employee
	row := 1
	for {
		cells, err := reader.Read()
		if err == io.EOF {
			break
		}
		row++
		if err != nil {
			continue // Skip malformed rows
		}

		emp := Employee{Row: row, Record: make(map[string]any, len(cells))}
		for i, cell := range cells {
			if i >= len(header) || cell == "" {
				continue
			}
			n, numErr := strconv.ParseFloat(cell, 64)
			if header[i] == expectedColumn {
				if numErr == nil {
					emp.ExpectedNet = &n
				}
				continue
			}
			if numErr == nil {
				emp.Record[header[i]] = n
			} else {
				emp.Record[header[i]] = cell
			}
		}
		employees = append(employees, emp)

		if limit > 0 && len(employees) >= limit {
			break
		}
	}

	return employees, nil
}

func runBenchmark(employees []Employee, url, tenantID string, numWorkers int, tolerance float64, verbose bool) *Metrics {
	metrics := &Metrics{latencies: make([]time.Duration, 0, len(employees))}

	work := make(chan Employee, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for emp := range work {
				start := time.Now()
				slip, err := computePayslip(client, url, tenantID, emp)
				metrics.observe(time.Since(start))
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: row %d -> %v\n", emp.Row, err)
					}
					continue
				}

				status := " "
				if emp.ExpectedNet != nil {
					atomic.AddInt64(&metrics.Checked, 1)
					status = "✓"
					if math.Abs(slip.NetPay-*emp.ExpectedNet) > tolerance {
						atomic.AddInt64(&metrics.Mismatches, 1)
						status = "✗"
					}
				}

				if verbose {
					fmt.Printf("%s row %-6d | Gross: %12.2f | Tax: %12.2f | Net: %12.2f\n",
						status, emp.Row, slip.GrossEarnings, slip.Tax, slip.NetPay)
				}
			}
		}()
	}

	for _, emp := range employees {
		work <- emp
	}
	close(work)

	wg.Wait()

	return metrics
}

func computePayslip(client *http.Client, url, tenantID string, emp Employee) (*PayslipResponse, error) {
	body, err := json.Marshal(PayslipRequest{Record: emp.Record})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Tenant-ID", tenantID)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var result PayslipResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &result, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n+---------------------------------------------------------------+")
	fmt.Println("|                      BENCHMARK RESULTS                        |")
	fmt.Println("+---------------------------------------------------------------+")

	fmt.Printf("\nDATASET\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\nACCURACY\n")
	if m.Checked > 0 {
		matched := m.Checked - m.Mismatches
		fmt.Printf("   Matched:          %d / %d (%.2f%%)\n", matched, m.Checked, 100*float64(matched)/float64(m.Checked))
		fmt.Printf("   Mismatched:       %d\n", m.Mismatches)
	} else {
		fmt.Printf("   No %s column, nothing to compare\n", expectedColumn)
	}

	fmt.Printf("\nPERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		fmt.Printf("   p50 Latency:      %v\n", m.percentile(50).Round(time.Microsecond))
		fmt.Printf("   p95 Latency:      %v\n", m.percentile(95).Round(time.Microsecond))
		fmt.Printf("   p99 Latency:      %v\n", m.percentile(99).Round(time.Microsecond))
		fmt.Printf("   Throughput:       %.2f payslips/sec\n", float64(m.TotalProcessed)/duration.Seconds())
	}

	fmt.Println()
}
