// Package monitor implements FiberDB's performance monitor: rolling
// capped sample buffers, hourly snapshot aggregation, and cooldown-gated
// alert rules fired through an injected sink.
package monitor

import (
	"sync"
	"time"

	"github.com/fiberdb/fiberdb/internal/logging"
)

const (
	defaultBufferCapacity = 10000
	defaultRetention      = 24 * time.Hour
	snapshotWindow        = time.Hour
)

// Timestamped is satisfied by every sample kind, letting one ring buffer
// implementation serve all three.
type Timestamped interface {
	SampleTime() time.Time
}

// QuerySample records one query execution's outcome.
type QuerySample struct {
	Timestamp time.Time
	Duration  time.Duration
	Success   bool
	CacheHit  bool
}

// SampleTime implements Timestamped.
func (s QuerySample) SampleTime() time.Time { return s.Timestamp }

// StorageSample records a point-in-time WAL/entity-store measurement.
type StorageSample struct {
	Timestamp    time.Time
	WALSizeBytes int64
	EntityCount  int
}

// SampleTime implements Timestamped.
func (s StorageSample) SampleTime() time.Time { return s.Timestamp }

// SystemSample records a point-in-time process resource measurement.
type SystemSample struct {
	Timestamp        time.Time
	MemoryBytes      uint64
	MemoryLimitBytes uint64
}

// SampleTime implements Timestamped.
func (s SystemSample) SampleTime() time.Time { return s.Timestamp }

// ring is a fixed-capacity circular buffer: once full, the oldest sample
// is overwritten by the newest.
type ring[T Timestamped] struct {
	mu    sync.Mutex
	items []T
	next  int
	full  bool
}

func newRing[T Timestamped](capacity int) *ring[T] {
	return &ring[T]{items: make([]T, capacity)}
}

func (r *ring[T]) add(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[r.next] = v
	r.next++
	if r.next == len(r.items) {
		r.next = 0
		r.full = true
	}
}

// since returns every sample with SampleTime() within retention of now,
// in chronological order.
func (r *ring[T]) since(now time.Time, retention time.Duration) []T {
	r.mu.Lock()
	ordered := make([]T, 0, len(r.items))
	if r.full {
		ordered = append(ordered, r.items[r.next:]...)
		ordered = append(ordered, r.items[:r.next]...)
	} else {
		ordered = append(ordered, r.items[:r.next]...)
	}
	r.mu.Unlock()

	out := ordered[:0]
	for _, v := range ordered {
		if now.Sub(v.SampleTime()) <= retention {
			out = append(out, v)
		}
	}
	return out
}

// Snapshot aggregates the last hour's retained samples into averages
// and rates.
type Snapshot struct {
	WindowStart time.Time
	WindowEnd   time.Time

	QueryCount   int
	ErrorRate    float64
	AvgQueryTime time.Duration
	CacheHitRate float64

	AvgMemoryUtilization float64

	LatestWALSizeBytes int64
	LatestEntityCount  int
}

// AlertRule is a user-registered predicate over a Snapshot, gated by a
// cooldown so a persistently-failing condition doesn't re-fire on every
// evaluation.
type AlertRule struct {
	Name      string
	Predicate func(Snapshot) bool
	Cooldown  time.Duration
	Message   func(Snapshot) string
}

// AlertEvent is emitted to the Sink when a rule fires.
type AlertEvent struct {
	Rule      string
	Timestamp time.Time
	Snapshot  Snapshot
	Message   string
}

// Sink receives fired alert events via an injected callback, narrowed
// to a single alert-delivery method.
type Sink interface {
	Alert(event AlertEvent)
}

type registeredRule struct {
	rule      AlertRule
	lastFired time.Time
}

// Manager accumulates samples and evaluates registered AlertRules
// against rolling snapshots.
type Manager struct {
	mu        sync.Mutex
	log       *logging.Logger
	queries   *ring[QuerySample]
	storage   *ring[StorageSample]
	system    *ring[SystemSample]
	retention time.Duration
	rules     []*registeredRule
	sink      Sink
}

// NewManager returns a Manager with the default buffer capacity and
// retention, pre-registered with the default alert rules.
func NewManager(sink Sink) *Manager {
	m := &Manager{
		log:       logging.New("monitor"),
		queries:   newRing[QuerySample](defaultBufferCapacity),
		storage:   newRing[StorageSample](defaultBufferCapacity),
		system:    newRing[SystemSample](defaultBufferCapacity),
		retention: defaultRetention,
		sink:      sink,
	}
	for _, rule := range DefaultRules() {
		m.RegisterRule(rule)
	}
	return m
}

// RecordQuery records one query execution sample.
func (m *Manager) RecordQuery(s QuerySample) { m.queries.add(s) }

// RecordStorage records one storage measurement sample.
func (m *Manager) RecordStorage(s StorageSample) { m.storage.add(s) }

// RecordSystem records one system resource measurement sample.
func (m *Manager) RecordSystem(s SystemSample) { m.system.add(s) }

// RegisterRule adds an alert rule to be checked on every Evaluate call.
func (m *Manager) RegisterRule(rule AlertRule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, &registeredRule{rule: rule})
}

// SetSink replaces the alert delivery target. Recorded samples and
// registered rules are unaffected.
func (m *Manager) SetSink(sink Sink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sink = sink
}

// Snapshot aggregates samples from the last hour.
func (m *Manager) Snapshot(now time.Time) Snapshot {
	queries := m.queries.since(now, m.retention)
	storage := m.storage.since(now, m.retention)
	system := m.system.since(now, m.retention)

	windowStart := now.Add(-snapshotWindow)
	snap := Snapshot{WindowStart: windowStart, WindowEnd: now}

	var totalDuration time.Duration
	var failures, cacheHits, inWindow int
	for _, q := range queries {
		if q.Timestamp.Before(windowStart) {
			continue
		}
		inWindow++
		totalDuration += q.Duration
		if !q.Success {
			failures++
		}
		if q.CacheHit {
			cacheHits++
		}
	}
	snap.QueryCount = inWindow
	if inWindow > 0 {
		snap.ErrorRate = float64(failures) / float64(inWindow)
		snap.AvgQueryTime = totalDuration / time.Duration(inWindow)
		snap.CacheHitRate = float64(cacheHits) / float64(inWindow)
	}

	var memUtilSum float64
	var memSamples int
	for _, s := range system {
		if s.Timestamp.Before(windowStart) {
			continue
		}
		if s.MemoryLimitBytes > 0 {
			memUtilSum += float64(s.MemoryBytes) / float64(s.MemoryLimitBytes)
			memSamples++
		}
	}
	if memSamples > 0 {
		snap.AvgMemoryUtilization = memUtilSum / float64(memSamples)
	}

	if len(storage) > 0 {
		latest := storage[len(storage)-1]
		snap.LatestWALSizeBytes = latest.WALSizeBytes
		snap.LatestEntityCount = latest.EntityCount
	}

	return snap
}

// Evaluate computes a fresh snapshot and fires every rule whose
// predicate matches and whose cooldown has elapsed, delivering each to
// the Sink. Returns the events fired this call.
func (m *Manager) Evaluate(now time.Time) []AlertEvent {
	snap := m.Snapshot(now)

	m.mu.Lock()
	defer m.mu.Unlock()

	var fired []AlertEvent
	for _, rr := range m.rules {
		if !rr.rule.Predicate(snap) {
			continue
		}
		if !rr.lastFired.IsZero() && now.Sub(rr.lastFired) < rr.rule.Cooldown {
			continue
		}
		rr.lastFired = now
		msg := rr.rule.Name
		if rr.rule.Message != nil {
			msg = rr.rule.Message(snap)
		}
		event := AlertEvent{Rule: rr.rule.Name, Timestamp: now, Snapshot: snap, Message: msg}
		fired = append(fired, event)
		if m.sink != nil {
			m.sink.Alert(event)
		} else {
			m.log.Warnf("alert fired with no sink configured: %s", msg)
		}
	}
	return fired
}

// DefaultRules returns the four default alert rules: error rate > 5%,
// average query time > 1s, memory > 90%, cache hit rate < 70%.
func DefaultRules() []AlertRule {
	return []AlertRule{
		{
			Name:     "high-error-rate",
			Cooldown: 5 * time.Minute,
			Predicate: func(s Snapshot) bool {
				return s.QueryCount > 0 && s.ErrorRate > 0.05
			},
			Message: func(s Snapshot) string {
				return "query error rate exceeds 5%"
			},
		},
		{
			Name:     "slow-queries",
			Cooldown: 5 * time.Minute,
			Predicate: func(s Snapshot) bool {
				return s.QueryCount > 0 && s.AvgQueryTime > time.Second
			},
			Message: func(s Snapshot) string {
				return "average query time exceeds 1s"
			},
		},
		{
			Name:     "high-memory",
			Cooldown: 5 * time.Minute,
			Predicate: func(s Snapshot) bool {
				return s.AvgMemoryUtilization > 0.90
			},
			Message: func(s Snapshot) string {
				return "memory utilization exceeds 90%"
			},
		},
		{
			Name:     "low-cache-hit-rate",
			Cooldown: 5 * time.Minute,
			Predicate: func(s Snapshot) bool {
				return s.QueryCount > 0 && s.CacheHitRate < 0.70
			},
			Message: func(s Snapshot) string {
				return "cache hit rate below 70%"
			},
		},
	}
}
