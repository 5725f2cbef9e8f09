// Package natsclient wraps the NATS connection the collaborator layer
// rides on. It adds a small circuit breaker so a dead broker degrades the
// collaborator path instead of stalling it: after a run of failures the
// circuit opens and every call fails fast until the reset window passes.
package natsclient

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/Kojaewoong0504/VibeMusic-sub000/errors"
	"github.com/Kojaewoong0504/VibeMusic-sub000/metric"
)

const (
	defaultTimeout        = 5 * time.Second
	defaultReconnectWait  = 2 * time.Second
	defaultMaxReconnects  = 60
	defaultCircuitTrip    = 5
	defaultCircuitReset   = 30 * time.Second
	defaultRequestTimeout = 5 * time.Second
)

// Client manages one NATS connection.
type Client struct {
	url    string
	name   string
	logger *slog.Logger

	mu   sync.RWMutex
	conn *nats.Conn
	js   jetstream.JetStream

	metrics *metric.CoreMetrics

	// circuit breaker
	failures    atomic.Int32
	tripAfter   int32
	openedAt    atomic.Int64 // unix nanos, 0 = closed
	resetWindow time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithName sets the connection name reported to the server.
func WithName(name string) Option {
	return func(c *Client) { c.name = name }
}

// WithMetrics wires connection gauges and reconnect counters.
func WithMetrics(m *metric.CoreMetrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithCircuitBreaker overrides the failure threshold and reset window.
func WithCircuitBreaker(tripAfter int, resetWindow time.Duration) Option {
	return func(c *Client) {
		if tripAfter > 0 {
			c.tripAfter = int32(tripAfter)
		}
		if resetWindow > 0 {
			c.resetWindow = resetWindow
		}
	}
}

// NewClient creates a client for the given server URL. Connect must be
// called before use.
func NewClient(url string, opts ...Option) *Client {
	c := &Client{
		url:         url,
		name:        "vibemusic",
		logger:      slog.Default(),
		tripAfter:   defaultCircuitTrip,
		resetWindow: defaultCircuitReset,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "natsclient")
	return c
}

// URL returns the configured server URL.
func (c *Client) URL() string { return c.url }

// Connect establishes the connection and initializes JetStream.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.checkCircuit(); err != nil {
		return err
	}

	opts := []nats.Option{
		nats.Name(c.name),
		nats.Timeout(defaultTimeout),
		nats.MaxReconnects(defaultMaxReconnects),
		nats.ReconnectWait(defaultReconnectWait),
		nats.DisconnectErrHandler(c.handleDisconnect),
		nats.ReconnectHandler(c.handleReconnect),
		nats.ClosedHandler(c.handleClosed),
	}

	type result struct {
		conn *nats.Conn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		conn, err := nats.Connect(c.url, opts...)
		done <- result{conn: conn, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			c.recordFailure()
			return errors.WrapTransient(r.err, "Client", "Connect", "establish connection")
		}
		js, err := jetstream.New(r.conn)
		if err != nil {
			r.conn.Close()
			c.recordFailure()
			return errors.WrapTransient(err, "Client", "Connect", "initialize jetstream")
		}

		c.mu.Lock()
		c.conn = r.conn
		c.js = js
		c.mu.Unlock()

		c.resetCircuit()
		if c.metrics != nil {
			c.metrics.NATSConnected.Set(1)
		}
		c.logger.Info("connected to NATS", "url", c.url)
		return nil
	case <-ctx.Done():
		c.recordFailure()
		return errors.WrapTransient(ctx.Err(), "Client", "Connect", "wait for connection")
	}
}

// Close drains and closes the connection.
func (c *Client) Close() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.js = nil
	c.mu.Unlock()

	if conn == nil {
		return
	}
	if err := conn.Drain(); err != nil {
		c.logger.Warn("drain failed, closing hard", "error", err)
		conn.Close()
	}
	if c.metrics != nil {
		c.metrics.NATSConnected.Set(0)
	}
}

// IsConnected reports whether the underlying connection is up.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil && c.conn.IsConnected()
}

// Publish sends a fire-and-forget message on a core NATS subject.
func (c *Client) Publish(subject string, data []byte) error {
	conn, err := c.liveConn()
	if err != nil {
		return err
	}
	if err := conn.Publish(subject, data); err != nil {
		c.recordFailure()
		return errors.WrapTransient(err, "Client", "Publish", subject)
	}
	c.resetCircuit()
	return nil
}

// Request performs a request-reply exchange, bounded by ctx.
func (c *Client) Request(ctx context.Context, subject string, data []byte) ([]byte, error) {
	conn, err := c.liveConn()
	if err != nil {
		return nil, err
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultRequestTimeout)
		defer cancel()
	}

	msg, err := conn.RequestWithContext(ctx, subject, data)
	if err != nil {
		c.recordFailure()
		return nil, errors.WrapTransient(err, "Client", "Request", subject)
	}
	c.resetCircuit()
	return msg.Data, nil
}

// Subscribe registers a handler for a core NATS subject.
func (c *Client) Subscribe(subject string, handler func([]byte)) (*nats.Subscription, error) {
	conn, err := c.liveConn()
	if err != nil {
		return nil, err
	}
	sub, err := conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "Client", "Subscribe", subject)
	}
	return sub, nil
}

// PublishToStream publishes to a JetStream subject with acknowledgement.
func (c *Client) PublishToStream(ctx context.Context, subject string, data []byte) error {
	c.mu.RLock()
	js := c.js
	c.mu.RUnlock()

	if js == nil {
		return errors.ErrNotConnected
	}
	if err := c.checkCircuit(); err != nil {
		return err
	}

	if _, err := js.Publish(ctx, subject, data); err != nil {
		c.recordFailure()
		return errors.WrapTransient(err, "Client", "PublishToStream", subject)
	}
	c.resetCircuit()
	return nil
}

// EnsureStream creates the stream if it does not exist.
func (c *Client) EnsureStream(ctx context.Context, cfg jetstream.StreamConfig) error {
	c.mu.RLock()
	js := c.js
	c.mu.RUnlock()

	if js == nil {
		return errors.ErrNotConnected
	}
	if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
		return errors.WrapTransient(err, "Client", "EnsureStream", cfg.Name)
	}
	return nil
}

func (c *Client) liveConn() (*nats.Conn, error) {
	if err := c.checkCircuit(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return nil, errors.ErrNotConnected
	}
	return conn, nil
}

// checkCircuit fails fast while the circuit is open, closing it again
// once the reset window has elapsed.
func (c *Client) checkCircuit() error {
	opened := c.openedAt.Load()
	if opened == 0 {
		return nil
	}
	if time.Since(time.Unix(0, opened)) >= c.resetWindow {
		// half-open: let the next call probe the broker
		c.openedAt.Store(0)
		c.failures.Store(0)
		c.logger.Info("circuit breaker reset window elapsed, retrying")
		return nil
	}
	return errors.ErrCircuitOpen
}

func (c *Client) recordFailure() {
	if c.failures.Add(1) < c.tripAfter {
		return
	}
	if c.openedAt.CompareAndSwap(0, time.Now().UnixNano()) {
		c.logger.Warn("circuit breaker opened",
			"failures", c.failures.Load(),
			"reset_window", c.resetWindow)
	}
}

func (c *Client) resetCircuit() {
	c.failures.Store(0)
	c.openedAt.Store(0)
}

func (c *Client) handleDisconnect(_ *nats.Conn, err error) {
	if c.metrics != nil {
		c.metrics.NATSConnected.Set(0)
	}
	c.logger.Warn("NATS disconnected", "error", err)
}

func (c *Client) handleReconnect(conn *nats.Conn) {
	if c.metrics != nil {
		c.metrics.NATSConnected.Set(1)
		c.metrics.NATSReconnects.Inc()
	}
	c.logger.Info("NATS reconnected", "url", conn.ConnectedUrl())
}

func (c *Client) handleClosed(_ *nats.Conn) {
	if c.metrics != nil {
		c.metrics.NATSConnected.Set(0)
	}
	c.logger.Info("NATS connection closed")
}
