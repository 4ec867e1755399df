package render

import (
	"slices"
	"sync"
	"time"
)

// Latency keeps durations recorded within a rolling window and summarizes
// them on demand. It is safe for concurrent use and may be shared between
// schedulers.
type Latency struct {
	mu     sync.Mutex
	window time.Duration
	at     []time.Time
	ms     []int64
}

// LatencySnapshot summarizes the samples inside the window.
type LatencySnapshot struct {
	Count  int     `json:"count"`
	MinMs  int64   `json:"min_ms"`
	MaxMs  int64   `json:"max_ms"`
	MeanMs float64 `json:"mean_ms"`
	P50Ms  float64 `json:"p50_ms"`
	P95Ms  float64 `json:"p95_ms"`
}

func NewLatency(window time.Duration) *Latency {
	if window <= 0 {
		window = time.Hour
	}
	return &Latency{window: window}
}

// Record adds one sample. Negative durations count as zero.
func (l *Latency) Record(d time.Duration) {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.expire(now)
	l.at = append(l.at, now)
	l.ms = append(l.ms, max(d.Milliseconds(), 0))
}

func (l *Latency) Snapshot() LatencySnapshot {
	l.mu.Lock()
	l.expire(time.Now())
	vals := slices.Clone(l.ms)
	l.mu.Unlock()

	if len(vals) == 0 {
		return LatencySnapshot{}
	}
	slices.Sort(vals)
	var sum int64
	for _, v := range vals {
		sum += v
	}
	return LatencySnapshot{
		Count:  len(vals),
		MinMs:  vals[0],
		MaxMs:  vals[len(vals)-1],
		MeanMs: float64(sum) / float64(len(vals)),
		P50Ms:  quantile(vals, 0.50),
		P95Ms:  quantile(vals, 0.95),
	}
}

// expire drops samples older than the window. Samples are appended in time
// order, so the expired ones form a prefix.
func (l *Latency) expire(now time.Time) {
	cutoff := now.Add(-l.window)
	n := 0
	for n < len(l.at) && l.at[n].Before(cutoff) {
		n++
	}
	if n > 0 {
		l.at = slices.Delete(l.at, 0, n)
		l.ms = slices.Delete(l.ms, 0, n)
	}
}

// quantile interpolates linearly between the two nearest ranks of sorted.
func quantile(sorted []int64, q float64) float64 {
	pos := float64(len(sorted)-1) * q
	i := int(pos)
	if i+1 >= len(sorted) {
		return float64(sorted[len(sorted)-1])
	}
	frac := pos - float64(i)
	return float64(sorted[i]) + frac*float64(sorted[i+1]-sorted[i])
}
