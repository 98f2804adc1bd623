package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type collectingSink struct {
	events []AlertEvent
}

func (s *collectingSink) Alert(event AlertEvent) {
	s.events = append(s.events, event)
}

func TestSnapshotAggregatesLastHour(t *testing.T) {
	m := NewManager(nil)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	m.RecordQuery(QuerySample{Timestamp: now.Add(-10 * time.Minute), Duration: 100 * time.Millisecond, Success: true, CacheHit: true})
	m.RecordQuery(QuerySample{Timestamp: now.Add(-5 * time.Minute), Duration: 300 * time.Millisecond, Success: false, CacheHit: false})
	m.RecordQuery(QuerySample{Timestamp: now.Add(-2 * time.Hour), Duration: time.Second, Success: true, CacheHit: true})

	snap := m.Snapshot(now)
	require.Equal(t, 2, snap.QueryCount)
	require.InDelta(t, 0.5, snap.ErrorRate, 0.001)
	require.InDelta(t, 0.5, snap.CacheHitRate, 0.001)
	require.Equal(t, 200*time.Millisecond, snap.AvgQueryTime)
}

func TestRingBufferHardCapOverwritesOldest(t *testing.T) {
	m := NewManager(nil)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < defaultBufferCapacity+10; i++ {
		m.RecordQuery(QuerySample{Timestamp: now.Add(-time.Duration(i) * time.Second), Duration: time.Millisecond, Success: true})
	}

	samples := m.queries.since(now, defaultRetention)
	require.Len(t, samples, defaultBufferCapacity)
}

func TestRetentionDropsSamplesOlderThan24Hours(t *testing.T) {
	m := NewManager(nil)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	m.RecordQuery(QuerySample{Timestamp: now.Add(-23 * time.Hour), Success: true})
	m.RecordQuery(QuerySample{Timestamp: now.Add(-25 * time.Hour), Success: true})

	samples := m.queries.since(now, defaultRetention)
	require.Len(t, samples, 1)
}

func TestEvaluateFiresHighErrorRateRule(t *testing.T) {
	sink := &collectingSink{}
	m := NewManager(sink)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 10; i++ {
		m.RecordQuery(QuerySample{Timestamp: now.Add(-time.Duration(i) * time.Minute), Duration: time.Millisecond, Success: i > 1})
	}

	fired := m.Evaluate(now)
	require.NotEmpty(t, fired)
	var names []string
	for _, e := range fired {
		names = append(names, e.Rule)
	}
	require.Contains(t, names, "high-error-rate")
	require.Len(t, sink.events, len(fired))
}

func TestEvaluateRespectsCooldown(t *testing.T) {
	sink := &collectingSink{}
	m := NewManager(sink)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		m.RecordQuery(QuerySample{Timestamp: now.Add(-time.Duration(i) * time.Minute), Duration: 2 * time.Second, Success: true})
	}

	first := m.Evaluate(now)
	require.NotEmpty(t, first)

	second := m.Evaluate(now.Add(time.Minute))
	require.Empty(t, second)

	third := m.Evaluate(now.Add(10 * time.Minute))
	require.NotEmpty(t, third)
}

func TestEvaluateNoSinkDoesNotPanic(t *testing.T) {
	m := NewManager(nil)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	m.RecordSystem(SystemSample{Timestamp: now, MemoryBytes: 95, MemoryLimitBytes: 100})

	require.NotPanics(t, func() {
		m.Evaluate(now)
	})
}

func TestSnapshotReportsLatestStorageSample(t *testing.T) {
	m := NewManager(nil)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	m.RecordStorage(StorageSample{Timestamp: now.Add(-30 * time.Minute), WALSizeBytes: 100, EntityCount: 5})
	m.RecordStorage(StorageSample{Timestamp: now.Add(-10 * time.Minute), WALSizeBytes: 200, EntityCount: 10})

	snap := m.Snapshot(now)
	require.Equal(t, int64(200), snap.LatestWALSizeBytes)
	require.Equal(t, 10, snap.LatestEntityCount)
}
