package hub

import (
	"sync"
	"time"

	"github.com/eclesh/welford"

	"github.com/driftsync/hub/internal/counter"
)

// Stats records hub activity: monotonic counters written wherever the
// event happens, welford distributions and the last-connection time
// guarded by their own mutex. The active-connection gauge is derived
// from the connection index at report time.
type Stats struct {
	totalConnections *counter.Counter
	messagesSent     *counter.Counter

	mu       sync.RWMutex
	lastConn time.Time
	bytes    *welford.Stats
	fanout   *welford.Stats
}

func newStats() *Stats {
	return &Stats{
		totalConnections: counter.New(),
		messagesSent:     counter.New(),
		bytes:            welford.New(),
		fanout:           welford.New(),
	}
}

func (s *Stats) connected() {
	s.totalConnections.Increment()
	s.mu.Lock()
	s.lastConn = time.Now()
	s.mu.Unlock()
}

func (s *Stats) delivered(reached int, size int, took time.Duration) {
	if reached > 0 {
		s.messagesSent.Add(reached)
	}
	s.mu.Lock()
	s.bytes.Add(float64(size))
	s.fanout.Add(took.Seconds())
	s.mu.Unlock()
}

// WelfordReport represents statistical values for one distribution
type WelfordReport struct {
	Count  uint64  `json:"count"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	Stddev float64 `json:"stddev"`
}

func newWelfordReport(w *welford.Stats) WelfordReport {
	return WelfordReport{
		Count:  w.Count(),
		Min:    w.Min(),
		Max:    w.Max(),
		Mean:   w.Mean(),
		Stddev: w.Stddev(),
	}
}

// Report is the externally-visible snapshot of hub statistics
type Report struct {
	TotalConnections  int           `json:"total_connections"`
	ActiveConnections int           `json:"active_connections"`
	MessagesSent      int           `json:"messages_sent"`
	LastConnection    string        `json:"last_connection,omitempty"`
	MessageBytes      WelfordReport `json:"message_bytes"`
	FanoutSeconds     WelfordReport `json:"fanout_seconds"`
}

func (s *Stats) report(active int) Report {
	s.mu.RLock()
	defer s.mu.RUnlock()

	last := ""
	if !s.lastConn.IsZero() {
		last = s.lastConn.Format(time.RFC3339)
	}

	return Report{
		TotalConnections:  s.totalConnections.Read(),
		ActiveConnections: active,
		MessagesSent:      s.messagesSent.Read(),
		LastConnection:    last,
		MessageBytes:      newWelfordReport(s.bytes),
		FanoutSeconds:     newWelfordReport(s.fanout),
	}
}
