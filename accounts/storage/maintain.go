package storage

import (
	"context"
	"sync"
	"time"

	"github.com/valcore/valcore/log"
	"github.com/valcore/valcore/metrics"
)

// MaintainConfig configures a Maintainer's background cadence.
type MaintainConfig struct {
	CleanInterval  time.Duration
	ShrinkInterval time.Duration
}

// DefaultMaintainConfig returns the default Maintainer configuration.
func DefaultMaintainConfig() MaintainConfig {
	return MaintainConfig{
		CleanInterval:  10 * time.Second,
		ShrinkInterval: time.Minute,
	}
}

// Maintainer drives periodic Clean and ShrinkAll passes against a DB on a
// background goroutine, and tracks the reclaim rate via an EWMA-backed
// Meter so operators can see whether background cleanup is keeping up with
// write churn.
type Maintainer struct {
	db        *DB
	cfg       MaintainConfig
	meter     *metrics.Meter
	cpu       *metrics.CPUTracker
	reporter  *metrics.MetricsReporter
	collector *metrics.MetricsCollector
	log       *log.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewMaintainer creates a Maintainer for db. Call Start to begin the
// background loop.
func NewMaintainer(db *DB, cfg MaintainConfig) *Maintainer {
	reporter := metrics.NewMetricsReporter(cfg.CleanInterval)
	reporter.RegisterBackend("log", logReportBackend{log: db.log})
	reporter.RegisterBackend("cpu_saturation", &metrics.ThresholdBackend{
		Metric:    "accountsdb.maintainer_cpu_pct",
		Threshold: 90,
		Above:     true,
		Alert: func(metric string, value float64) {
			db.log.Warn("maintainer CPU usage crossed threshold", "metric", metric, "pct", value)
		},
	})
	collector := metrics.NewMetricsCollector(metrics.CollectorConfig{
		EnableHistograms: true,
	})
	return &Maintainer{
		db:        db,
		cfg:       cfg,
		meter:     metrics.NewMeter(),
		cpu:       metrics.NewCPUTracker(),
		reporter:  reporter,
		collector: collector,
		log:       db.log,
	}
}

// Start launches the clean and shrink loops. Calling Start on an already
// running Maintainer is a no-op.
func (m *Maintainer) Start() {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	m.mu.Unlock()

	m.reporter.Start()
	go m.loop(ctx)
}

// Stop halts the background loop and blocks until it exits. Safe to call
// on a Maintainer that was never started.
func (m *Maintainer) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	done := m.done
	m.cancel = nil
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	m.reporter.Stop()
}

func (m *Maintainer) loop(ctx context.Context) {
	defer close(m.done)

	cleanTicker := time.NewTicker(m.cfg.CleanInterval)
	defer cleanTicker.Stop()
	shrinkTicker := time.NewTicker(m.cfg.ShrinkInterval)
	defer shrinkTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-cleanTicker.C:
			tickStart := time.Now()
			n := m.db.Clean()
			m.meter.Mark(int64(n))
			m.cpu.RecordCPU()
			snap := m.meter.Snapshot()
			m.reporter.RecordMetric("accountsdb.clean_reclaims", float64(n))
			m.reporter.RecordMetric("accountsdb.reclaim_rate1", snap.Rate1)
			m.reporter.RecordMetric("accountsdb.reclaim_rate15", snap.Rate15)
			m.reporter.RecordMetric("accountsdb.maintainer_cpu_pct", m.cpu.UsagePercentOfTotal())
			m.collector.Record("accountsdb.clean_reclaims", float64(n), map[string]string{"pass": "clean"})
			m.collector.RecordHistogram("accountsdb.clean_duration_ms", float64(time.Since(tickStart).Milliseconds()))
			if m.meter.Lagging() {
				m.log.Warn("reclaim rate lagging its 15-minute average", "rate1", snap.Rate1, "rate15", snap.Rate15)
			}
		case <-shrinkTicker.C:
			tickStart := time.Now()
			carried, err := m.db.ShrinkAll()
			if err != nil {
				m.log.Warn("shrink pass failed", "error", err)
				continue
			}
			m.reporter.RecordMetric("accountsdb.shrink_carried", float64(carried))
			m.collector.Record("accountsdb.shrink_carried", float64(carried), map[string]string{"pass": "shrink"})
			m.collector.RecordHistogram("accountsdb.shrink_duration_ms", float64(time.Since(tickStart).Milliseconds()))
		}
	}
}

// ReclaimRate1 returns the 1-minute EWMA rate of reclaimed entries per
// second.
func (m *Maintainer) ReclaimRate1() float64 {
	return m.meter.Rate1()
}

// ReclaimCount returns the total number of entries reclaimed by this
// Maintainer since it started.
func (m *Maintainer) ReclaimCount() int64 {
	return m.meter.Count()
}

// Metrics returns the collector accumulating per-pass clean/shrink
// observations, for operators who want percentile latency (via
// HistogramPercentile) or a raw dump (via GetAll) rather than the
// rolling rates exposed by ReclaimRate1/ReclaimCount.
func (m *Maintainer) Metrics() *metrics.MetricsCollector {
	return m.collector
}

// logReportBackend is the simplest MetricsReporter backend: it logs each
// snapshot at debug level. A deployment that wants Prometheus scraping
// registers the gauges directly via metrics.Bridge instead; this backend
// exists for environments without a scrape endpoint.
type logReportBackend struct {
	log *log.Logger
}

func (b logReportBackend) Report(snap map[string]float64) error {
	args := make([]any, 0, len(snap)*2)
	for k, v := range snap {
		args = append(args, k, v)
	}
	b.log.Debug("metrics_snapshot", args...)
	return nil
}
