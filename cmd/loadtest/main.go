package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/app"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/order"
)

const defaultQty = int32(1)

type loadMode string

const (
	modePlace           loadMode = "place"
	modePlaceIdempotent loadMode = "place-idempotent"
	modePlaceRestock    loadMode = "place-restock"
)

// outcome классифицирует результат операции для отчёта.
type outcome string

const (
	outcomeOK                outcome = "ok"
	outcomeInsufficientStock outcome = "insufficient_stock"
	outcomeNotFound          outcome = "not_found"
	outcomeConflict          outcome = "conflict"
	outcomeError             outcome = "error"
)

type config struct {
	total       int
	totalSet    bool
	duration    time.Duration
	concurrency int
	qty         int
	mode        loadMode
	restockRate int
	outputPath  string
}

type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type methodReport struct {
	Calls     int64            `json:"calls"`
	Success   int64            `json:"success"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Outcomes  map[string]int64 `json:"outcomes"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

type report struct {
	StartedAt         time.Time               `json:"started_at"`
	DurationSeconds   float64                 `json:"duration_seconds"`
	TotalScenarios    int64                   `json:"total_scenarios"`
	SuccessScenarios  int64                   `json:"success_scenarios"`
	FailedScenarios   int64                   `json:"failed_scenarios"`
	ErrorRate         float64                 `json:"error_rate"`
	RPS               float64                 `json:"rps"`
	ScenarioLatencyMs latencySummary          `json:"scenario_latency_ms"`
	Methods           map[string]methodReport `json:"methods"`
}

type methodStats struct {
	calls     int64
	success   int64
	failed    int64
	outcomes  map[string]int64
	latencies []float64
}

type collector struct {
	mu      sync.Mutex
	methods map[string]*methodStats
}

func newCollector() *collector {
	return &collector{
		methods: make(map[string]*methodStats),
	}
}

func (c *collector) record(method string, latency time.Duration, result outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, ok := c.methods[method]
	if !ok {
		stats = &methodStats{
			outcomes: make(map[string]int64),
		}
		c.methods[method] = stats
	}

	stats.calls++
	if result == outcomeOK {
		stats.success++
	} else {
		stats.failed++
	}
	stats.outcomes[string(result)]++
	stats.latencies = append(stats.latencies, float64(latency.Microseconds())/1000.0)
}

func (c *collector) snapshot(name string) (methodReport, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, ok := c.methods[name]
	if !ok {
		return methodReport{}, false
	}

	outcomesCopy := make(map[string]int64, len(stats.outcomes))
	for result, count := range stats.outcomes {
		outcomesCopy[result] = count
	}

	return methodReport{
		Calls:     stats.calls,
		Success:   stats.success,
		Failed:    stats.failed,
		ErrorRate: ratio(stats.failed, stats.calls),
		Outcomes:  outcomesCopy,
		LatencyMs: buildLatencySummary(stats.latencies),
	}, true
}

func (c *collector) buildReport(startedAt time.Time, duration time.Duration) report {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: duration.Seconds(),
		Methods:         make(map[string]methodReport, len(c.methods)),
	}

	scenarioStats := c.methods["scenario"]
	if scenarioStats != nil {
		result.TotalScenarios = scenarioStats.calls
		result.SuccessScenarios = scenarioStats.success
		result.FailedScenarios = scenarioStats.failed
		result.ErrorRate = ratio(scenarioStats.failed, scenarioStats.calls)
		result.ScenarioLatencyMs = buildLatencySummary(scenarioStats.latencies)
	}
	if duration > 0 {
		result.RPS = float64(result.TotalScenarios) / duration.Seconds()
	}

	for name, stats := range c.methods {
		outcomesCopy := make(map[string]int64, len(stats.outcomes))
		for key, count := range stats.outcomes {
			outcomesCopy[key] = count
		}
		result.Methods[name] = methodReport{
			Calls:     stats.calls,
			Success:   stats.success,
			Failed:    stats.failed,
			ErrorRate: ratio(stats.failed, stats.calls),
			Outcomes:  outcomesCopy,
			LatencyMs: buildLatencySummary(stats.latencies),
		}
	}

	return result
}

func parseConfig() (config, error) {
	var cfg config
	var modeValue string
	var durationValue string

	flag.IntVar(&cfg.total, "total", 400, "total scenarios to execute in count mode; in duration mode only used when explicitly set")
	flag.StringVar(&durationValue, "duration", "0s", "optional time-based run duration (e.g. 10m, 15m)")
	flag.IntVar(&cfg.concurrency, "concurrency", 40, "number of concurrent workers")
	flag.IntVar(&cfg.qty, "qty", int(defaultQty), "line quantity per placement")
	flag.StringVar(&modeValue, "mode", string(modePlace), "load mode: place | place-idempotent | place-restock")
	flag.IntVar(&cfg.restockRate, "restock-rate", 10, "restock probability in percent for place-restock mode (0..100)")
	flag.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	flag.Parse()

	duration, err := time.ParseDuration(strings.TrimSpace(durationValue))
	if err != nil {
		return cfg, fmt.Errorf("parse duration: %w", err)
	}
	cfg.duration = duration

	flag.CommandLine.Visit(func(f *flag.Flag) {
		if f.Name == "total" {
			cfg.totalSet = true
		}
	})

	mode, err := parseMode(modeValue)
	if err != nil {
		return cfg, err
	}
	cfg.mode = mode

	if cfg.duration < 0 {
		return cfg, errors.New("duration must be >= 0")
	}
	if cfg.duration == 0 && cfg.total <= 0 {
		return cfg, errors.New("total must be > 0 when duration is not set")
	}
	if cfg.duration > 0 && cfg.totalSet && cfg.total <= 0 {
		return cfg, errors.New("total must be > 0 when explicitly set with duration")
	}
	if cfg.concurrency <= 0 {
		return cfg, errors.New("concurrency must be > 0")
	}
	if cfg.qty <= 0 {
		return cfg, errors.New("qty must be > 0")
	}
	if cfg.restockRate < 0 || cfg.restockRate > 100 {
		return cfg, errors.New("restock-rate must be between 0 and 100")
	}

	return cfg, nil
}

func parseMode(value string) (loadMode, error) {
	switch loadMode(strings.TrimSpace(value)) {
	case modePlace:
		return modePlace, nil
	case modePlaceIdempotent:
		return modePlaceIdempotent, nil
	case modePlaceRestock:
		return modePlaceRestock, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
}

func main() {
	cfg, err := parseConfig()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	appCfg := app.DefaultConfig()
	appCfg.StorageDriver = app.StorageDriverMemory
	runtime, err := app.Initialize(context.Background(), appCfg)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "failed to initialize runtime: %v\n", err)
		os.Exit(1)
	}
	defer runtime.Close()

	startedAt := time.Now()
	runID := fmt.Sprintf("%d-%d", startedAt.UnixNano(), os.Getpid())
	col := newCollector()

	jobs := make(chan int, cfg.concurrency*2)
	var failures int64
	var wg sync.WaitGroup

	for workerID := 0; workerID < cfg.concurrency; workerID++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				if runErr := runScenario(runtime.Placement, runtime.Demo, cfg, id, runID, col); runErr != nil {
					atomic.AddInt64(&failures, 1)
				}
			}
		}()
	}

	dispatchJobs(jobs, cfg)
	wg.Wait()

	duration := time.Since(startedAt)
	result := col.buildReport(startedAt, duration)
	if result.FailedScenarios == 0 && failures > 0 {
		result.FailedScenarios = failures
		result.ErrorRate = ratio(result.FailedScenarios, result.TotalScenarios)
	}

	printReport(result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			os.Exit(1)
		}
	}

	if result.FailedScenarios > 0 {
		os.Exit(1)
	}
}

func dispatchJobs(jobs chan<- int, cfg config) {
	defer close(jobs)

	if cfg.duration <= 0 {
		for i := 0; i < cfg.total; i++ {
			jobs <- i
		}
		return
	}

	timer := time.NewTimer(cfg.duration)
	defer timer.Stop()

	for i := 0; ; i++ {
		if cfg.totalSet && i >= cfg.total {
			return
		}

		select {
		case <-timer.C:
			return
		case jobs <- i:
		}
	}
}

func runScenario(
	placement *order.Service,
	demo *app.DemoCatalog,
	cfg config,
	index int,
	runID string,
	col *collector,
) error {
	scenarioStart := time.Now()
	scenarioOutcome := outcomeOK
	defer func() {
		col.record("scenario", time.Since(scenarioStart), scenarioOutcome)
	}()

	product := demo.Products[index%len(demo.Products)]
	req := demo.PlaceRequest(product.ID, int32(cfg.qty))

	switch cfg.mode {
	case modePlaceIdempotent:
		key := fmt.Sprintf("lt-%s-%d", runID, index)
		if err := callPlaceIdempotent(placement, key, req, col); err != nil {
			scenarioOutcome = classifyOutcome(err)
			return err
		}
		// Повторный вызов с тем же ключом проверяет replay-путь.
		if err := callReplay(placement, key, req, col); err != nil {
			scenarioOutcome = classifyOutcome(err)
			return err
		}
	default:
		if err := callPlace(placement, req, col); err != nil {
			scenarioOutcome = classifyOutcome(err)
			return err
		}
	}

	if cfg.mode == modePlaceRestock && shouldRestockScenario(index, cfg.restockRate) {
		if err := callRestock(placement, product.ID, demo.Store.ID, int32(cfg.qty), col); err != nil {
			scenarioOutcome = classifyOutcome(err)
			return err
		}
	}

	return nil
}

func callPlace(placement *order.Service, req order.PlaceRequest, col *collector) error {
	start := time.Now()
	placed, err := placement.Place(req)
	col.record("Place", time.Since(start), classifyOutcome(err))
	if err != nil {
		return err
	}
	if placed.ID == "" {
		return errors.New("place returned empty order id")
	}
	return nil
}

func callPlaceIdempotent(placement *order.Service, key string, req order.PlaceRequest, col *collector) error {
	start := time.Now()
	placed, err := placement.PlaceIdempotent(key, req)
	col.record("PlaceIdempotent", time.Since(start), classifyOutcome(err))
	if err != nil {
		return err
	}
	if placed.ID == "" {
		return errors.New("idempotent place returned empty order id")
	}
	return nil
}

func callReplay(placement *order.Service, key string, req order.PlaceRequest, col *collector) error {
	start := time.Now()
	_, err := placement.PlaceIdempotent(key, req)
	col.record("Replay", time.Since(start), classifyOutcome(err))
	return err
}

func callRestock(placement *order.Service, productID, storeID int64, qty int32, col *collector) error {
	start := time.Now()
	err := placement.Restock(productID, storeID, qty)
	col.record("Restock", time.Since(start), classifyOutcome(err))
	return err
}

// classifyOutcome сводит ошибку размещения к категории отчёта.
func classifyOutcome(err error) outcome {
	switch {
	case err == nil:
		return outcomeOK
	case domain.IsInsufficientStock(err):
		return outcomeInsufficientStock
	case errors.Is(err, domain.ErrCustomerNotFound),
		errors.Is(err, domain.ErrStoreNotFound),
		errors.Is(err, domain.ErrProductNotFound),
		errors.Is(err, domain.ErrInventoryNotFound),
		errors.Is(err, domain.ErrOrderNotFound):
		return outcomeNotFound
	case domain.IsIdempotencyConflict(err):
		return outcomeConflict
	default:
		return outcomeError
	}
}

func shouldRestockScenario(index, restockRate int) bool {
	if restockRate <= 0 {
		return false
	}
	if restockRate >= 100 {
		return true
	}
	return index%100 < restockRate
}

func writeJSONReport(path string, result report) error {
	cleanPath := filepath.Clean(path)
	if cleanPath == "." || cleanPath == string(filepath.Separator) {
		return errors.New("output path must point to a file")
	}
	if cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) {
		return fmt.Errorf("output path must be inside current directory: %s", path)
	}

	// #nosec G304 -- path is an explicit CLI output parameter for local load-test reports.
	file, err := os.Create(cleanPath)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func printReport(result report, cfg config) {
	fmt.Println("Load test summary")
	fmt.Printf("mode=%s run=%s total=%d success=%d failed=%d error_rate=%.4f\n",
		cfg.mode,
		runTarget(cfg),
		result.TotalScenarios,
		result.SuccessScenarios,
		result.FailedScenarios,
		result.ErrorRate,
	)
	fmt.Printf("duration=%.2fs rps=%.2f\n", result.DurationSeconds, result.RPS)
	fmt.Printf("scenario latency ms: min=%.2f avg=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f\n",
		result.ScenarioLatencyMs.Min,
		result.ScenarioLatencyMs.Avg,
		result.ScenarioLatencyMs.P50,
		result.ScenarioLatencyMs.P95,
		result.ScenarioLatencyMs.P99,
		result.ScenarioLatencyMs.Max,
	)

	methodNames := make([]string, 0, len(result.Methods))
	for name := range result.Methods {
		if name == "scenario" {
			continue
		}
		methodNames = append(methodNames, name)
	}
	sort.Strings(methodNames)
	for _, name := range methodNames {
		stats := result.Methods[name]
		fmt.Printf(
			"%s: calls=%d success=%d failed=%d error_rate=%.4f p95=%.2fms\n",
			name,
			stats.Calls,
			stats.Success,
			stats.Failed,
			stats.ErrorRate,
			stats.LatencyMs.P95,
		)
	}
}

func runTarget(cfg config) string {
	if cfg.duration <= 0 {
		return fmt.Sprintf("count:%d", cfg.total)
	}
	if cfg.totalSet {
		return fmt.Sprintf("duration:%s,max-total:%d", cfg.duration, cfg.total)
	}
	return fmt.Sprintf("duration:%s", cfg.duration)
}

func buildLatencySummary(values []float64) latencySummary {
	if len(values) == 0 {
		return latencySummary{}
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	var sum float64
	for _, value := range sorted {
		sum += value
	}

	return latencySummary{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		Avg: sum / float64(len(sorted)),
		P50: percentile(sorted, 50),
		P95: percentile(sorted, 95),
		P99: percentile(sorted, 99),
	}
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}

	rank := (p / 100.0) * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}

	weight := rank - float64(lower)
	return sorted[lower] + (sorted[upper]-sorted[lower])*weight
}

func ratio(failed, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(failed) / float64(total)
}
