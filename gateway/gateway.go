// Package gateway is the WebSocket front door of the pipeline. It
// validates the handshake token, normalizes inbound keystroke frames into
// the session store, answers pattern queries, and fans analysis results
// back out to every live connection of a session.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Kojaewoong0504/VibeMusic-sub000/component"
	"github.com/Kojaewoong0504/VibeMusic-sub000/config"
	"github.com/Kojaewoong0504/VibeMusic-sub000/downstream"
	verrors "github.com/Kojaewoong0504/VibeMusic-sub000/errors"
	"github.com/Kojaewoong0504/VibeMusic-sub000/event"
	"github.com/Kojaewoong0504/VibeMusic-sub000/metric"
	"github.com/Kojaewoong0504/VibeMusic-sub000/wire"
)

// ServerVersion is announced in the connection handshake.
const ServerVersion = "1.0.0"

// EventSink receives normalized keystrokes. Satisfied by session.Store.
type EventSink interface {
	Append(sessionID string, ev event.Normalized) error
	Len(sessionID string) int
}

// PatternSource answers get_pattern queries. Satisfied by the scheduler.
type PatternSource interface {
	Query(sessionID string) (event.TypingStatistics, *event.EmotionVector, error)
	MinEvents() int
}

// Gateway is the WebSocket server component.
type Gateway struct {
	name string
	cfg  config.ServerConfig
	qos  config.QoSConfig

	sink      EventSink
	patterns  PatternSource
	validator downstream.Validator

	pool     *connPool
	upgrader websocket.Upgrader

	httpServer *http.Server
	mux        *http.ServeMux
	batchMS    int

	logger  *slog.Logger
	metrics *Metrics
	core    *metric.CoreMetrics

	lifecycleMu  sync.Mutex
	started      atomic.Bool
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	shutdown     chan struct{}
	shutdownOnce sync.Once

	startTime      time.Time
	framesReceived atomic.Int64
	errorCount     atomic.Int64
	lastError      atomic.Value // string
	lastActivity   atomic.Int64 // unix nanos
}

// Deps bundles the gateway's collaborators.
type Deps struct {
	Sink      EventSink
	Patterns  PatternSource
	Validator downstream.Validator
	Logger    *slog.Logger
	Registry  *metric.MetricsRegistry
	// Mux receives the WebSocket route. When nil the gateway owns its
	// own HTTP server on ServerConfig.HTTPPort.
	Mux *http.ServeMux
	// BatchIntervalMS is the scheduler tick announced in the handshake.
	BatchIntervalMS int
}

// New creates the gateway component.
func New(cfg config.ServerConfig, qos config.QoSConfig, deps Deps) (*Gateway, error) {
	if deps.Sink == nil {
		return nil, fmt.Errorf("gateway: event sink is required")
	}
	if deps.Patterns == nil {
		return nil, fmt.Errorf("gateway: pattern source is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "gateway")

	validator := deps.Validator
	if validator == nil {
		validator = downstream.LocalValidator{}
	}

	metrics, err := newMetrics(deps.Registry, "gateway")
	if err != nil {
		return nil, err
	}
	var core *metric.CoreMetrics
	if deps.Registry != nil {
		core = deps.Registry.Core
	}

	g := &Gateway{
		name:      "gateway",
		cfg:       cfg,
		qos:       qos,
		sink:      deps.Sink,
		patterns:  deps.Patterns,
		validator: validator,
		pool:      newConnPool(qos, logger, metrics, core),
		mux:       deps.Mux,
		batchMS:   deps.BatchIntervalMS,
		logger:    logger,
		metrics:   metrics,
		core:      core,
		shutdown:  make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			// session identity comes from the token, not the Origin
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	g.lastError.Store("")
	return g, nil
}

// BroadcastPatternUpdate fans an analysis result out to the session's
// live connections. Satisfies the scheduler's Broadcaster.
func (g *Gateway) BroadcastPatternUpdate(sessionID string, stats event.TypingStatistics, vec event.EmotionVector) {
	g.pool.BroadcastPatternUpdate(sessionID, stats, vec)
}

// ConnectionCount reports live connections, used by health checks.
func (g *Gateway) ConnectionCount() int {
	return g.pool.count()
}

// PoolMetrics reports the connection pool's traffic summary: live
// connections, message and byte rates since the previous call, and the
// mean per-connection latency EMA.
func (g *Gateway) PoolMetrics() PoolMetrics {
	return g.pool.summary()
}

// Meta implements component.Discoverable.
func (g *Gateway) Meta() component.Metadata {
	return component.Metadata{
		Name:        g.name,
		Type:        "gateway",
		Description: "WebSocket keystroke ingestion and result fan-out",
		Version:     ServerVersion,
	}
}

// Health implements component.Discoverable.
func (g *Gateway) Health() component.HealthStatus {
	return component.HealthStatus{
		Healthy:    g.started.Load(),
		LastCheck:  time.Now(),
		ErrorCount: int(g.errorCount.Load()),
		LastError:  g.lastError.Load().(string),
		Uptime:     time.Since(g.startTime),
	}
}

// DataFlow implements component.Discoverable.
func (g *Gateway) DataFlow() component.FlowMetrics {
	uptime := time.Since(g.startTime).Seconds()
	flow := component.FlowMetrics{
		LastActivity: time.Unix(0, g.lastActivity.Load()),
	}
	if uptime > 0 {
		flow.MessagesPerSecond = float64(g.framesReceived.Load()) / uptime
		flow.BytesPerSecond = float64(g.pool.traffic.bytesIn.Load()+g.pool.traffic.bytesOut.Load()) / uptime
		flow.ErrorRate = float64(g.errorCount.Load()) / uptime
	}
	return flow
}

// Initialize implements component.LifecycleComponent.
func (g *Gateway) Initialize() error {
	return nil
}

// Start brings up the WebSocket route, the idle reaper and, when no
// shared mux was provided, the HTTP listener.
func (g *Gateway) Start(ctx context.Context) error {
	g.lifecycleMu.Lock()
	defer g.lifecycleMu.Unlock()

	if g.started.Load() {
		return verrors.WrapFatal(verrors.ErrAlreadyStarted, "gateway", "Start", "check started state")
	}

	componentCtx, cancel := context.WithCancel(ctx)
	g.cancel = cancel

	path := g.cfg.WSPath
	if path == "" {
		path = "/ws"
	}

	mux := g.mux
	if mux == nil {
		mux = http.NewServeMux()
	}
	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		g.handleWebSocket(componentCtx, w, r)
	})

	if g.mux == nil {
		g.httpServer = &http.Server{
			Addr:    fmt.Sprintf(":%d", g.cfg.HTTPPort),
			Handler: mux,
		}
		g.wg.Add(1)
		go func() {
			defer g.wg.Done()
			if err := g.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				g.trackError(err)
				g.logger.Error("listener failed", "error", err)
			}
		}()
	}

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		_ = g.pool.runReaper(componentCtx)
	}()

	g.startTime = time.Now()
	g.started.Store(true)
	g.logger.Info("gateway started", "path", path, "port", g.cfg.HTTPPort)
	return nil
}

// Stop closes the listener and every live connection.
func (g *Gateway) Stop(timeout time.Duration) error {
	g.lifecycleMu.Lock()
	defer g.lifecycleMu.Unlock()

	if !g.started.Load() {
		return nil
	}

	g.shutdownOnce.Do(func() { close(g.shutdown) })
	g.cancel()

	if g.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		_ = g.httpServer.Shutdown(ctx)
	}
	g.pool.closeAll()

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		return verrors.WrapTransient(
			fmt.Errorf("shutdown timeout after %v", timeout),
			"gateway", "Stop", "wait for goroutines")
	}

	g.started.Store(false)
	return nil
}

// handleWebSocket authenticates, upgrades, and hands the connection to
// its read loop.
func (g *Gateway) handleWebSocket(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = r.Header.Get("Authorization")
	}

	sessionID, err := g.validator.Validate(r.Context(), token)
	if err != nil {
		g.trackError(err)
		g.logger.Warn("handshake rejected", "error", err, "remote", r.RemoteAddr)
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.trackError(err)
		return
	}

	c := newConn(uuid.NewString(), sessionID, ws, g.qos.RateLimitPerSec, &g.pool.traffic)
	g.pool.add(c)

	if err := c.send(g.handshakeFrame(c), 0); err != nil {
		g.pool.remove(c)
		return
	}

	g.wg.Add(1)
	go g.readLoop(ctx, c)
}

func (g *Gateway) handshakeFrame(c *conn) wire.ConnectionEstablished {
	return wire.ConnectionEstablished{
		Type:          wire.KindConnectionEstablished,
		ConnectionID:  c.id,
		SessionID:     c.sessionID,
		ServerVersion: ServerVersion,
		QoSConfig: wire.QoSInfo{
			RateLimitPerSec:      g.qos.RateLimitPerSec,
			BatchIntervalMS:      g.batchMS,
			CompressionThreshold: g.qos.CompressionThreshold,
			MaxLatencyMS:         g.qos.MaxLatencyMS,
		},
		Timestamp: time.Now().UnixMilli(),
	}
}

// readLoop consumes frames until the connection dies. Pong handling and
// the reaper cover liveness; the loop itself only reads.
func (g *Gateway) readLoop(ctx context.Context, c *conn) {
	defer g.wg.Done()
	defer g.pool.remove(c)

	c.ws.SetPongHandler(func(string) error {
		c.touch()
		return nil
	})

	for {
		select {
		case <-g.shutdown:
			return
		case <-ctx.Done():
			return
		default:
		}

		c.ws.SetReadDeadline(time.Now().Add(time.Second))
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if isTimeout(err) {
				continue
			}
			return
		}

		c.touch()
		g.lastActivity.Store(time.Now().UnixNano())
		g.framesReceived.Add(1)
		g.pool.traffic.framesIn.Add(1)
		g.pool.traffic.bytesIn.Add(uint64(len(data)))

		g.dispatch(c, data)
	}
}

// dispatch handles one inbound frame. Panics in handlers are recovered
// here: they surface as a generic internal_error frame and the loop
// survives.
func (g *Gateway) dispatch(c *conn, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			g.trackError(fmt.Errorf("panic: %v", r))
			if g.metrics != nil {
				g.metrics.panicsRecovered.Inc()
			}
			g.logger.Error("recovered panic in frame handler",
				"connection_id", c.id,
				"session_id", c.sessionID,
				"panic", r,
				"stack", string(debug.Stack()))
			g.sendError(c, verrors.WrapFatal(fmt.Errorf("handler panic"), "gateway", "dispatch", "handle frame"))
		}
	}()

	if err := c.admit(); err != nil {
		g.reject(c, err)
		return
	}

	start := time.Now()

	frame, err := wire.Decode(data)
	if err != nil {
		g.reject(c, err)
		return
	}

	switch f := frame.(type) {
	case wire.TypingEvent:
		g.countFrame(wire.KindTypingEvent)
		g.handleTypingEvent(c, f, start)
	case wire.BatchTypingEvents:
		g.countFrame(wire.KindBatchTypingEvents)
		g.handleBatch(c, f, start)
	case wire.GetPattern:
		g.countFrame(wire.KindGetPattern)
		g.handleGetPattern(c)
	case wire.Ping:
		g.countFrame(wire.KindPing)
		_ = c.send(wire.NewPong(), 0)
	}
}

func (g *Gateway) handleTypingEvent(c *conn, f wire.TypingEvent, start time.Time) {
	ev, err := f.Event.Normalize()
	if err != nil {
		g.reject(c, err)
		return
	}
	if err := c.checkMonotonic(ev.Timestamp); err != nil {
		g.reject(c, err)
		return
	}
	if err := g.sink.Append(c.sessionID, ev); err != nil {
		g.trackError(err)
		g.sendError(c, err)
		return
	}
	if g.metrics != nil {
		g.metrics.eventsBuffered.Inc()
	}

	latency := g.observeLatency(c, start)
	_ = c.send(wire.EventProcessed{
		Type:      wire.KindEventProcessed,
		Status:    "buffered",
		LatencyMS: latency,
	}, 0)
}

// handleBatch buffers what it can and reports the split. A bad event in
// the middle does not poison the rest of the batch.
func (g *Gateway) handleBatch(c *conn, f wire.BatchTypingEvents, start time.Time) {
	processed := 0
	for _, raw := range f.Events {
		ev, err := raw.Normalize()
		if err != nil {
			continue
		}
		if err := c.checkMonotonic(ev.Timestamp); err != nil {
			continue
		}
		if err := g.sink.Append(c.sessionID, ev); err != nil {
			g.trackError(err)
			continue
		}
		processed++
	}
	if g.metrics != nil && processed > 0 {
		g.metrics.eventsBuffered.Add(float64(processed))
	}

	latency := g.observeLatency(c, start)
	_ = c.send(wire.BatchProcessed{
		Type:           wire.KindBatchProcessed,
		ProcessedCount: processed,
		TotalCount:     len(f.Events),
		LatencyMS:      latency,
	}, g.qos.CompressionThreshold)
}

func (g *Gateway) handleGetPattern(c *conn) {
	stats, vec, err := g.patterns.Query(c.sessionID)
	if err != nil {
		if verrors.WireCode(err) == verrors.CodePatternNotReady {
			_ = c.send(wire.PatternNotReady{
				Type:     wire.KindPatternNotReady,
				Reason:   "insufficient buffered events",
				Buffered: g.sink.Len(c.sessionID),
				Required: g.patterns.MinEvents(),
			}, 0)
			return
		}
		g.trackError(err)
		g.sendError(c, err)
		return
	}

	_ = c.send(wire.PatternData{
		Type:    wire.KindPatternData,
		Pattern: stats,
		Emotion: vec,
	}, g.qos.CompressionThreshold)
}

// observeLatency folds the sample into the connection's EMA and logs
// budget breaches. The budget is advisory: nothing is throttled.
func (g *Gateway) observeLatency(c *conn, start time.Time) float64 {
	sample := float64(time.Since(start).Microseconds()) / 1000.0
	ema := c.observeLatency(sample, g.qos.LatencySmoothing)

	if g.qos.MaxLatencyMS > 0 && ema > float64(g.qos.MaxLatencyMS) {
		if g.metrics != nil {
			g.metrics.latencyBudget.Inc()
		}
		g.logger.Warn("latency budget exceeded",
			"connection_id", c.id,
			"ema_ms", ema,
			"budget_ms", g.qos.MaxLatencyMS)
	}
	return ema
}

// reject reports a recoverable protocol violation back to the client.
func (g *Gateway) reject(c *conn, err error) {
	code := verrors.WireCode(err)
	if g.metrics != nil {
		g.metrics.framesRejected.WithLabelValues(code).Inc()
	}
	g.sendError(c, err)
}

func (g *Gateway) sendError(c *conn, err error) {
	_ = c.send(wire.NewErrorFrame(err), 0)
}

func (g *Gateway) countFrame(kind string) {
	if g.metrics != nil {
		g.metrics.framesReceived.WithLabelValues(kind).Inc()
	}
	if g.core != nil {
		g.core.MessagesReceived.WithLabelValues(g.name, kind).Inc()
	}
}

func (g *Gateway) trackError(err error) {
	g.errorCount.Add(1)
	g.lastError.Store(err.Error())
	if g.core != nil {
		g.core.ErrorsTotal.WithLabelValues(g.name, verrors.Classify(err).String()).Inc()
	}
}

func isTimeout(err error) bool {
	type timeout interface{ Timeout() bool }
	te, ok := err.(timeout)
	return ok && te.Timeout()
}
