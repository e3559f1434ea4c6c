package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PlacementMetrics содержит метрики размещения заказов.
type PlacementMetrics struct {
	// Счётчики исходов размещения
	placementsStarted    prometheus.Counter
	placementsCommitted  prometheus.Counter
	placementsRolledBack *prometheus.CounterVec
	insufficientStock    prometheus.Counter

	// Гистограммы времени выполнения
	placementDuration prometheus.Histogram
	stepDuration      *prometheus.HistogramVec

	// Счётчики событий timeline/outbox
	timelineEvents prometheus.Counter
	outboxEvents   prometheus.Counter

	// Gauge для активных размещений
	activePlacements prometheus.Gauge
}

// NewPlacementMetrics создаёт новый экземпляр метрик размещения.
func NewPlacementMetrics() *PlacementMetrics {
	return newPlacementMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func newPlacementMetricsWithRegisterer(registerer prometheus.Registerer) *PlacementMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &PlacementMetrics{
		placementsStarted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_placements_started_total",
			Help: "Total number of order placements started",
		}),
		placementsCommitted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_placements_committed_total",
			Help: "Total number of order placements committed successfully",
		}),
		placementsRolledBack: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_placements_rolled_back_total",
			Help: "Total number of order placements rolled back grouped by reason",
		}, []string{"reason"}),
		insufficientStock: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_insufficient_stock_total",
			Help: "Total number of reservations rejected due to insufficient stock",
		}),
		placementDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "storefront_placement_duration_seconds",
			Help:    "Duration of order placements in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		stepDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "storefront_placement_step_duration_seconds",
			Help:    "Duration of individual placement steps in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"step"}),
		timelineEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_timeline_events_total",
			Help: "Total number of timeline events recorded",
		}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_outbox_events_total",
			Help: "Total number of outbox events enqueued",
		}),
		activePlacements: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "storefront_active_placements",
			Help: "Number of currently active order placements",
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	collector := prometheus.NewHistogram(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Histogram)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}

// RecordPlacementStarted увеличивает счётчик начатых размещений.
func (m *PlacementMetrics) RecordPlacementStarted() {
	m.placementsStarted.Inc()
	m.activePlacements.Inc()
}

// RecordPlacementCommitted увеличивает счётчик успешно закоммиченных размещений.
func (m *PlacementMetrics) RecordPlacementCommitted() {
	m.placementsCommitted.Inc()
}

// RecordPlacementRolledBack увеличивает счётчик откатов с указанием причины.
func (m *PlacementMetrics) RecordPlacementRolledBack(reason string) {
	m.placementsRolledBack.WithLabelValues(reason).Inc()
}

// RecordInsufficientStock увеличивает счётчик отказов из-за нехватки стока.
func (m *PlacementMetrics) RecordInsufficientStock() {
	m.insufficientStock.Inc()
}

// RecordPlacementFinished уменьшает количество активных размещений.
func (m *PlacementMetrics) RecordPlacementFinished() {
	m.activePlacements.Dec()
}

// RecordPlacementDuration записывает время выполнения размещения.
func (m *PlacementMetrics) RecordPlacementDuration(duration time.Duration) {
	m.placementDuration.Observe(duration.Seconds())
}

// RecordStepDuration записывает время выполнения шага размещения.
func (m *PlacementMetrics) RecordStepDuration(step string, duration time.Duration) {
	m.stepDuration.WithLabelValues(step).Observe(duration.Seconds())
}

// RecordTimelineEvent увеличивает счётчик событий timeline.
func (m *PlacementMetrics) RecordTimelineEvent() {
	m.timelineEvents.Inc()
}

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *PlacementMetrics) RecordOutboxEvent() {
	m.outboxEvents.Inc()
}
