// Package monitor keeps a device session alive by issuing periodic
// global.keepAlive calls and records how each probe went.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/devicerpc/rpc2ctl/internal/logging"
	"github.com/devicerpc/rpc2ctl/internal/protocol"
)

// KeepAliver issues one keep-alive call. *device.Commands implements it.
type KeepAliver interface {
	KeepAlive(ctx context.Context, timeout int, active bool) error
}

// Probe statuses.
const (
	StatusAlive   = "alive"
	StatusExpired = "expired"
	StatusOffline = "offline"
	StatusError   = "error"
)

// ErrSessionLost is returned by Run once the failure threshold is reached.
var ErrSessionLost = errors.New("keep-alive failure threshold reached")

// Snapshot is the outcome of one keep-alive probe.
type Snapshot struct {
	Timestamp    time.Time     `json:"timestamp"`
	Status       string        `json:"status"`
	ResponseTime time.Duration `json:"responseTime"`
	Error        string        `json:"error,omitempty"`
}

// Trends summarises recent probes.
type Trends struct {
	Period              time.Duration `json:"period"`
	SampleCount         int           `json:"sampleCount"`
	UptimePercentage    float64       `json:"uptimePercentage"`
	AverageResponseTime time.Duration `json:"averageResponseTime"`
	Trend               string        `json:"trend"` // "improving", "degrading", "stable"
}

// Config controls probing.
type Config struct {
	Interval time.Duration
	// Timeout is the session lifetime in seconds requested on every probe.
	Timeout int
	// Active marks the probes as user activity.
	Active bool
	// MaxHistory bounds the number of kept snapshots.
	MaxHistory int
	// FailureThreshold stops Run after that many consecutive failures; zero
	// never stops.
	FailureThreshold int
	// OnSnapshot is called after every probe, outside the monitor's lock.
	OnSnapshot func(Snapshot)
}

// DefaultConfig probes once a minute for a five minute lifetime.
func DefaultConfig() Config {
	return Config{
		Interval:         time.Minute,
		Timeout:          300,
		MaxHistory:       100,
		FailureThreshold: 3,
	}
}

// Monitor runs keep-alive probes against one session.
type Monitor struct {
	keeper KeepAliver
	config Config
	logger *logging.Logger
	now    func() time.Time

	mutex       sync.RWMutex
	history     []Snapshot
	consecutive int
}

// New creates a monitor. Zero config fields take their defaults.
func New(keeper KeepAliver, config Config) (*Monitor, error) {
	if keeper == nil {
		return nil, fmt.Errorf("keep-aliver cannot be nil")
	}
	def := DefaultConfig()
	if config.Interval <= 0 {
		config.Interval = def.Interval
	}
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	if config.MaxHistory <= 0 {
		config.MaxHistory = def.MaxHistory
	}
	if config.FailureThreshold < 0 {
		config.FailureThreshold = 0
	}
	return &Monitor{
		keeper: keeper,
		config: config,
		logger: logging.GetMonitorLogger(),
		now:    time.Now,
	}, nil
}

// Run probes immediately and then every interval until ctx ends or the
// failure threshold is reached.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	for {
		m.Check(ctx)
		if t := m.config.FailureThreshold; t > 0 && m.ConsecutiveFailures() >= t {
			return ErrSessionLost
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Check runs one probe and records it.
func (m *Monitor) Check(ctx context.Context) Snapshot {
	start := m.now()
	err := m.keeper.KeepAlive(ctx, m.config.Timeout, m.config.Active)
	snap := Snapshot{
		Timestamp:    start,
		Status:       classify(err),
		ResponseTime: m.now().Sub(start),
	}
	if err != nil {
		snap.Error = err.Error()
	}

	m.record(snap)
	m.logger.LogKeepAlive(snap.Status, snap.ResponseTime, err)
	if m.config.OnSnapshot != nil {
		m.config.OnSnapshot(snap)
	}
	return snap
}

func classify(err error) string {
	switch {
	case err == nil:
		return StatusAlive
	case errors.Is(err, protocol.ErrTransport), errors.Is(err, context.DeadlineExceeded):
		return StatusOffline
	case errors.Is(err, protocol.ErrRemoteOperation):
		return StatusExpired
	default:
		return StatusError
	}
}

func (m *Monitor) record(snap Snapshot) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.history = append(m.history, snap)
	if len(m.history) > m.config.MaxHistory {
		m.history = m.history[len(m.history)-m.config.MaxHistory:]
	}
	if snap.Status == StatusAlive {
		m.consecutive = 0
	} else {
		m.consecutive++
	}
}

// ConsecutiveFailures counts failed probes since the last success.
func (m *Monitor) ConsecutiveFailures() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.consecutive
}

// Last returns the most recent snapshot.
func (m *Monitor) Last() (Snapshot, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	if len(m.history) == 0 {
		return Snapshot{}, false
	}
	return m.history[len(m.history)-1], true
}

// History returns up to limit most recent snapshots, oldest first. A
// non-positive limit returns all of them.
func (m *Monitor) History(limit int) []Snapshot {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	start := 0
	if limit > 0 && len(m.history) > limit {
		start = len(m.history) - limit
	}
	out := make([]Snapshot, len(m.history[start:]))
	copy(out, m.history[start:])
	return out
}

// Trends analyses the snapshots taken within period.
func (m *Monitor) Trends(period time.Duration) Trends {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	cutoff := m.now().Add(-period)
	var recent []Snapshot
	for _, s := range m.history {
		if s.Timestamp.After(cutoff) {
			recent = append(recent, s)
		}
	}

	trends := Trends{Period: period, SampleCount: len(recent), Trend: "stable"}
	if len(recent) == 0 {
		return trends
	}

	var total time.Duration
	for _, s := range recent {
		total += s.ResponseTime
	}
	trends.UptimePercentage = uptime(recent)
	trends.AverageResponseTime = total / time.Duration(len(recent))

	if len(recent) >= 2 {
		first := uptime(recent[:len(recent)/2])
		second := uptime(recent[len(recent)/2:])
		switch {
		case second > first:
			trends.Trend = "improving"
		case second < first:
			trends.Trend = "degrading"
		}
	}
	return trends
}

func uptime(snaps []Snapshot) float64 {
	alive := 0
	for _, s := range snaps {
		if s.Status == StatusAlive {
			alive++
		}
	}
	return float64(alive) / float64(len(snaps)) * 100
}
