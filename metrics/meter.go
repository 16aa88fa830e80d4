package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Meter tracks the rate of events over time using 1-, 5-, and 15-minute
// exponentially weighted moving averages, similar to Unix load averages.
type Meter struct {
	count     atomic.Int64
	rate1     *EWMA
	rate5     *EWMA
	rate15    *EWMA
	startTime time.Time

	mu       sync.Mutex
	lastTick time.Time
}

// NewMeter creates a new Meter and initializes its start time.
func NewMeter() *Meter {
	now := time.Now()
	return &Meter{
		rate1:     NewEWMA1(),
		rate5:     NewEWMA5(),
		rate15:    NewEWMA15(),
		startTime: now,
		lastTick:  now,
	}
}

// Mark records n events.
func (m *Meter) Mark(n int64) {
	m.count.Add(n)
	m.rate1.Update(n)
	m.rate5.Update(n)
	m.rate15.Update(n)
	m.tickIfNeeded()
}

// tickIfNeeded ticks the EWMAs if 5 seconds have elapsed since the last tick.
func (m *Meter) tickIfNeeded() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(m.lastTick)
	// Tick every 5 seconds.
	for elapsed >= 5*time.Second {
		m.rate1.Tick()
		m.rate5.Tick()
		m.rate15.Tick()
		m.lastTick = m.lastTick.Add(5 * time.Second)
		elapsed = now.Sub(m.lastTick)
	}
}

// Count returns the total number of events recorded.
func (m *Meter) Count() int64 {
	return m.count.Load()
}

// Rate1 returns the 1-minute EWMA rate per second.
func (m *Meter) Rate1() float64 {
	m.tickIfNeeded()
	return m.rate1.Rate()
}

// Rate5 returns the 5-minute EWMA rate per second.
func (m *Meter) Rate5() float64 {
	m.tickIfNeeded()
	return m.rate5.Rate()
}

// Rate15 returns the 15-minute EWMA rate per second.
func (m *Meter) Rate15() float64 {
	m.tickIfNeeded()
	return m.rate15.Rate()
}

// RateMean returns the mean rate since the meter was created.
func (m *Meter) RateMean() float64 {
	elapsed := time.Since(m.startTime).Seconds()
	if elapsed == 0 {
		return 0
	}
	return float64(m.count.Load()) / elapsed
}

// MeterSnapshot is a point-in-time read of all of a Meter's rates, so a
// caller that wants more than Rate1 (e.g. a Maintainer reporting its full
// reclaim-rate picture to the metrics collector) can take one without three
// separate locked calls racing against concurrent Mark calls.
type MeterSnapshot struct {
	Count    int64
	Rate1    float64
	Rate5    float64
	Rate15   float64
	RateMean float64
}

// Snapshot returns the current count and all three EWMA rates together.
func (m *Meter) Snapshot() MeterSnapshot {
	m.tickIfNeeded()
	// Ticks run only under m.mu, so holding it keeps all three rates from
	// the same tick.
	m.mu.Lock()
	defer m.mu.Unlock()
	return MeterSnapshot{
		Count:    m.Count(),
		Rate1:    m.rate1.Rate(),
		Rate5:    m.rate5.Rate(),
		Rate15:   m.rate15.Rate(),
		RateMean: m.RateMean(),
	}
}

// Lagging reports whether the 1-minute reclaim rate has collapsed relative
// to the 15-minute rate, i.e. Clean/ShrinkAll was keeping up over the last
// quarter hour but has stalled recently (backlog growing right now).
func (m *Meter) Lagging() bool {
	s := m.Snapshot()
	if s.Rate15 <= 0 {
		return false
	}
	return s.Rate1 < s.Rate15*0.25
}
