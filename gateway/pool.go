package gateway

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Kojaewoong0504/VibeMusic-sub000/config"
	"github.com/Kojaewoong0504/VibeMusic-sub000/event"
	"github.com/Kojaewoong0504/VibeMusic-sub000/metric"
	"github.com/Kojaewoong0504/VibeMusic-sub000/wire"
)

// trafficStats accumulates frame and byte totals across every connection
// the pool has ever held, so disconnects do not lose traffic history.
type trafficStats struct {
	framesIn  atomic.Uint64
	bytesIn   atomic.Uint64
	framesOut atomic.Uint64
	bytesOut  atomic.Uint64
}

// PoolMetrics is a point-in-time traffic summary of the connection pool.
// Rates cover the interval since the previous summary.
type PoolMetrics struct {
	Connections     int     `json:"connections"`
	MessagesPerSec  float64 `json:"messages_per_sec"`
	AvgLatencyMS    float64 `json:"avg_latency_ms"`
	BytesInPerSec   float64 `json:"bytes_in_per_sec"`
	BytesOutPerSec  float64 `json:"bytes_out_per_sec"`
	FramesReceived  uint64  `json:"frames_received"`
	FramesDelivered uint64  `json:"frames_delivered"`
}

// connPool tracks live connections grouped by session and owns the
// liveness sweep: heartbeats after inbound silence, closes after the idle
// timeout. Closing a connection never touches session state; buffers and
// emotion slots outlive their connections.
type connPool struct {
	mu       sync.RWMutex
	bySess   map[string]map[string]*conn
	total    int
	qos      config.QoSConfig
	logger   *slog.Logger
	metrics  *Metrics
	core     *metric.CoreMetrics
	onClosed func(*conn)

	traffic trafficStats

	// previous summary snapshot, guarded by sampleMu
	sampleMu      sync.Mutex
	lastSample    time.Time
	lastFramesIn  uint64
	lastBytesIn   uint64
	lastBytesOut  uint64
	lastFramesOut uint64
}

func newConnPool(qos config.QoSConfig, logger *slog.Logger, metrics *Metrics, core *metric.CoreMetrics) *connPool {
	return &connPool{
		bySess:     make(map[string]map[string]*conn),
		qos:        qos,
		logger:     logger,
		metrics:    metrics,
		core:       core,
		lastSample: time.Now(),
	}
}

func (p *connPool) add(c *conn) {
	p.mu.Lock()
	defer p.mu.Unlock()

	conns, ok := p.bySess[c.sessionID]
	if !ok {
		conns = make(map[string]*conn)
		p.bySess[c.sessionID] = conns
	}
	conns[c.id] = c
	p.total++

	if p.metrics != nil {
		p.metrics.connectionsActive.Inc()
		p.metrics.connectionsTotal.Inc()
	}
	if p.core != nil {
		p.core.ActiveConnections.Inc()
	}
}

// remove unregisters and closes the connection. Idempotent.
func (p *connPool) remove(c *conn) {
	p.mu.Lock()
	conns, ok := p.bySess[c.sessionID]
	if ok {
		if _, present := conns[c.id]; present {
			delete(conns, c.id)
			p.total--
			if len(conns) == 0 {
				delete(p.bySess, c.sessionID)
			}
			if p.metrics != nil {
				p.metrics.connectionsActive.Dec()
			}
			if p.core != nil {
				p.core.ActiveConnections.Dec()
			}
		} else {
			ok = false
		}
	}
	p.mu.Unlock()

	c.close()
	if ok && p.onClosed != nil {
		p.onClosed(c)
	}
}

func (p *connPool) count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.total
}

// snapshot returns the session's live connections.
func (p *connPool) snapshot(sessionID string) []*conn {
	p.mu.RLock()
	defer p.mu.RUnlock()

	conns := p.bySess[sessionID]
	out := make([]*conn, 0, len(conns))
	for _, c := range conns {
		if !c.closed.Load() {
			out = append(out, c)
		}
	}
	return out
}

func (p *connPool) snapshotAll() []*conn {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*conn, 0, p.total)
	for _, conns := range p.bySess {
		for _, c := range conns {
			if !c.closed.Load() {
				out = append(out, c)
			}
		}
	}
	return out
}

// BroadcastPatternUpdate fans the frame out to every live connection of
// the session concurrently. A session with no connections is a no-op; a
// dead connection is skipped and removed without blocking the rest.
func (p *connPool) BroadcastPatternUpdate(sessionID string, stats event.TypingStatistics, vec event.EmotionVector) {
	conns := p.snapshot(sessionID)
	if len(conns) == 0 {
		return
	}

	frame := wire.PatternUpdate{
		Type:    wire.KindPatternUpdate,
		Pattern: stats,
		Emotion: vec,
	}

	start := time.Now()
	var wg sync.WaitGroup
	for _, c := range conns {
		wg.Add(1)
		go func(c *conn) {
			defer wg.Done()
			if err := c.send(frame, p.qos.CompressionThreshold); err != nil {
				p.logger.Debug("broadcast send failed, dropping connection",
					"connection_id", c.id, "session_id", sessionID, "error", err)
				p.remove(c)
			}
		}(c)
	}
	wg.Wait()

	if p.metrics != nil {
		p.metrics.broadcastsTotal.Inc()
		p.metrics.broadcastDuration.Observe(time.Since(start).Seconds())
	}
}

// summary reports connection count, traffic rates since the previous
// summary, and the mean latency EMA across live connections.
func (p *connPool) summary() PoolMetrics {
	framesIn := p.traffic.framesIn.Load()
	bytesIn := p.traffic.bytesIn.Load()
	framesOut := p.traffic.framesOut.Load()
	bytesOut := p.traffic.bytesOut.Load()

	p.sampleMu.Lock()
	now := time.Now()
	elapsed := now.Sub(p.lastSample).Seconds()
	m := PoolMetrics{
		FramesReceived:  framesIn,
		FramesDelivered: framesOut,
	}
	if elapsed > 0 {
		m.MessagesPerSec = float64(framesIn-p.lastFramesIn) / elapsed
		m.BytesInPerSec = float64(bytesIn-p.lastBytesIn) / elapsed
		m.BytesOutPerSec = float64(bytesOut-p.lastBytesOut) / elapsed
	}
	p.lastSample = now
	p.lastFramesIn = framesIn
	p.lastBytesIn = bytesIn
	p.lastBytesOut = bytesOut
	p.lastFramesOut = framesOut
	p.sampleMu.Unlock()

	var latencySum float64
	var latencyN int
	for _, c := range p.snapshotAll() {
		if ema, ok := c.latency(); ok {
			latencySum += ema
			latencyN++
		}
	}
	m.Connections = p.count()
	if latencyN > 0 {
		m.AvgLatencyMS = latencySum / float64(latencyN)
	}
	return m
}

// sweep sends heartbeats to quiet connections and closes those past the
// idle timeout.
func (p *connPool) sweep() {
	heartbeatAfter := p.qos.HeartbeatAfter()
	idleTimeout := p.qos.IdleTimeout()

	for _, c := range p.snapshotAll() {
		idle := c.idleFor()
		switch {
		case idleTimeout > 0 && idle >= idleTimeout:
			p.logger.Info("closing idle connection",
				"connection_id", c.id, "session_id", c.sessionID, "idle", idle)
			if p.metrics != nil {
				p.metrics.idleClosuresTotal.Inc()
			}
			p.remove(c)
		case heartbeatAfter > 0 && idle >= heartbeatAfter:
			if err := c.ping(); err != nil {
				p.remove(c)
			}
		}
	}
}

// runReaper sweeps on the configured interval until ctx is done.
func (p *connPool) runReaper(ctx context.Context) error {
	interval := p.qos.ReapInterval()
	if interval <= 0 {
		interval = 30 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.sweep()
		}
	}
}

// closeAll tears down every connection, used at shutdown.
func (p *connPool) closeAll() {
	for _, c := range p.snapshotAll() {
		p.remove(c)
	}
}
