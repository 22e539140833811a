// Package netmon passively samples transfer throughput and connection hints,
// classifies link quality into four tiers, and tracks backend reachability.
package netmon

import (
	"context"
	"sync"
	"time"

	"github.com/talefeed/talefeed/internal/logger"
)

// Quality is the classified link quality tier
type Quality string

// Quality tiers, best first
const (
	QualityExcellent Quality = "excellent"
	QualityGood      Quality = "good"
	QualityFair      Quality = "fair"
	QualityPoor      Quality = "poor"
)

// Classification thresholds against the rolling throughput average (bytes/sec)
const (
	excellentThreshold = 1_000_000
	goodThreshold      = 500_000
	fairThreshold      = 200_000
)

// Effective connection type hints, mirroring platform connection APIs
const (
	EffectiveTypeTop = "4g"
	EffectiveTypeMid = "3g"
)

const (
	sampleWindowSize           = 10
	reassessInterval           = 15 * time.Second
	excellentDownlinkMbpsFloor = 2.0
)

// ConnectionInfo is a platform connection hint
type ConnectionInfo struct {
	EffectiveType string  `json:"effective_type"`
	DownlinkMbps  float64 `json:"downlink_mbps"`
}

// QualityChange is emitted when the classification changes
type QualityChange struct {
	Quality    Quality        `json:"quality"`
	AvgRate    float64        `json:"avg_rate"` // bytes/sec rolling average
	Connection ConnectionInfo `json:"connection"`
}

// ReachabilityProbe reports whether the backend is currently reachable
type ReachabilityProbe func(ctx context.Context) bool

// Monitor samples throughput, reassesses quality on a timer and on hint
// changes, and watches backend reachability. Purely advisory for playback;
// the reconnect signal drives progress queue drains and version re-checks.
type Monitor struct {
	samples    []float64 // bytes/sec, newest last, bounded window
	connection ConnectionInfo
	quality    Quality
	online     bool
	probe      ReachabilityProbe

	onQualityChange []func(QualityChange)
	onReconnect     []func()

	ticker   *time.Ticker
	stopChan chan struct{}
	done     chan struct{}
	started  bool
	mu       sync.RWMutex
}

// NewMonitor creates a monitor. probe may be nil, in which case the monitor
// assumes the backend is always reachable.
func NewMonitor(probe ReachabilityProbe) *Monitor {
	return &Monitor{
		samples:  make([]float64, 0, sampleWindowSize),
		quality:  QualityGood,
		online:   true,
		probe:    probe,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the periodic reassessment loop
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.ticker = time.NewTicker(reassessInterval)
	m.mu.Unlock()

	go m.run()
}

// Stop halts the reassessment loop
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	m.mu.Unlock()

	close(m.stopChan)
	<-m.done
	m.ticker.Stop()
}

func (m *Monitor) run() {
	defer close(m.done)
	for {
		select {
		case <-m.stopChan:
			return
		case <-m.ticker.C:
			m.Reassess()
			m.checkReachability()
		}
	}
}

// RecordSample records one per-fragment throughput measurement
func (m *Monitor) RecordSample(bytes int64, elapsed time.Duration) {
	if bytes <= 0 || elapsed <= 0 {
		return
	}
	rate := float64(bytes) / elapsed.Seconds()

	m.mu.Lock()
	m.samples = append(m.samples, rate)
	if len(m.samples) > sampleWindowSize {
		m.samples = m.samples[len(m.samples)-sampleWindowSize:]
	}
	m.mu.Unlock()
}

// SetConnectionHint updates the platform connection hint and reassesses
func (m *Monitor) SetConnectionHint(info ConnectionInfo) {
	m.mu.Lock()
	m.connection = info
	m.mu.Unlock()
	m.Reassess()
}

// OnQualityChange registers a quality-change listener
func (m *Monitor) OnQualityChange(fn func(QualityChange)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onQualityChange = append(m.onQualityChange, fn)
}

// OnReconnect registers a listener fired when the backend becomes reachable
// again after having been offline
func (m *Monitor) OnReconnect(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReconnect = append(m.onReconnect, fn)
}

// Quality returns the current classification
func (m *Monitor) Quality() Quality {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.quality
}

// AverageRate returns the rolling throughput average in bytes/sec, 0 when
// no samples have been recorded
func (m *Monitor) AverageRate() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.averageLocked()
}

// Online reports whether the backend was reachable at the last probe
func (m *Monitor) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// SetOnline overrides the reachability flag, emitting the reconnect signal
// on an offline-to-online transition
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	wasOnline := m.online
	m.online = online
	listeners := append([]func(){}, m.onReconnect...)
	m.mu.Unlock()

	if online && !wasOnline {
		logger.Log.Info().Msg("Backend reachable again")
		for _, fn := range listeners {
			fn()
		}
	}
}

// Reassess reclassifies link quality and notifies listeners on change
func (m *Monitor) Reassess() {
	m.mu.Lock()
	avg := m.averageLocked()
	newQuality := classify(avg, m.connection)
	changed := newQuality != m.quality
	m.quality = newQuality
	change := QualityChange{
		Quality:    newQuality,
		AvgRate:    avg,
		Connection: m.connection,
	}
	listeners := append([]func(QualityChange){}, m.onQualityChange...)
	m.mu.Unlock()

	if changed {
		logger.Log.Debug().
			Str("quality", string(newQuality)).
			Float64("avg_rate", avg).
			Msg("Network quality changed")
		for _, fn := range listeners {
			fn(change)
		}
	}
}

func (m *Monitor) checkReachability() {
	if m.probe == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), reassessInterval)
	defer cancel()
	m.SetOnline(m.probe(ctx))
}

func (m *Monitor) averageLocked() float64 {
	if len(m.samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range m.samples {
		sum += s
	}
	return sum / float64(len(m.samples))
}

// classify evaluates the tiers in order against the rolling average and the
// reported effective connection type
func classify(avg float64, conn ConnectionInfo) Quality {
	switch {
	case avg > excellentThreshold,
		conn.EffectiveType == EffectiveTypeTop && conn.DownlinkMbps > excellentDownlinkMbpsFloor:
		return QualityExcellent
	case avg > goodThreshold, conn.EffectiveType == EffectiveTypeTop:
		return QualityGood
	case avg > fairThreshold, conn.EffectiveType == EffectiveTypeMid:
		return QualityFair
	default:
		return QualityPoor
	}
}
