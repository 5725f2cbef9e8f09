package gateway

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	verrors "github.com/Kojaewoong0504/VibeMusic-sub000/errors"
	"github.com/Kojaewoong0504/VibeMusic-sub000/wire"
)

// conn is one live WebSocket connection bound to a session. Writes are
// serialized through writeMu; gorilla connections allow one concurrent
// writer only.
type conn struct {
	id        string
	sessionID string
	ws        *websocket.Conn

	limiter *slidingLimiter
	traffic *trafficStats

	writeMu sync.Mutex
	closed  atomic.Bool

	lastInbound   atomic.Int64 // unix nanos
	lastHeartbeat atomic.Int64 // unix nanos of last server ping

	// monotonic guard: client timestamps may never move backwards
	lastTimestamp atomic.Int64

	// latency EMA in milliseconds, guarded by latencyMu
	latencyMu  sync.Mutex
	latencyEMA float64
	latencySet bool

	connectedAt time.Time
}

func newConn(id, sessionID string, ws *websocket.Conn, limit int, traffic *trafficStats) *conn {
	c := &conn{
		id:          id,
		sessionID:   sessionID,
		ws:          ws,
		limiter:     newSlidingLimiter(limit, time.Second),
		traffic:     traffic,
		connectedAt: time.Now(),
	}
	c.touch()
	return c
}

// touch records inbound activity.
func (c *conn) touch() {
	c.lastInbound.Store(time.Now().UnixNano())
}

func (c *conn) idleFor() time.Duration {
	return time.Since(time.Unix(0, c.lastInbound.Load()))
}

// admit charges one inbound frame against the sliding one-second window.
func (c *conn) admit() error {
	if !c.limiter.allow(time.Now()) {
		return verrors.ErrRateLimited
	}
	return nil
}

// checkMonotonic enforces non-decreasing client timestamps. Equal
// timestamps are allowed; keyup and keydown of a fast tap may share one.
func (c *conn) checkMonotonic(ts int64) error {
	for {
		last := c.lastTimestamp.Load()
		if ts < last {
			return verrors.ErrTimestampRegressed
		}
		if c.lastTimestamp.CompareAndSwap(last, ts) {
			return nil
		}
	}
}

// observeLatency folds a processing latency sample into the EMA and
// returns the new value.
func (c *conn) observeLatency(sample float64, alpha float64) float64 {
	c.latencyMu.Lock()
	defer c.latencyMu.Unlock()

	if !c.latencySet {
		c.latencyEMA = sample
		c.latencySet = true
	} else {
		c.latencyEMA = alpha*sample + (1-alpha)*c.latencyEMA
	}
	return c.latencyEMA
}

// latency returns the connection's current latency EMA and whether any
// sample has been folded in yet.
func (c *conn) latency() (float64, bool) {
	c.latencyMu.Lock()
	defer c.latencyMu.Unlock()
	return c.latencyEMA, c.latencySet
}

// send encodes and writes one frame, compressing large payloads.
func (c *conn) send(frame any, compressThreshold int) error {
	if c.closed.Load() {
		return verrors.ErrConnectionLost
	}

	payload, compressed, err := wire.Encode(frame, compressThreshold)
	if err != nil {
		return err
	}
	msgType := websocket.TextMessage
	if compressed {
		msgType = websocket.BinaryMessage
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := c.ws.WriteMessage(msgType, payload); err != nil {
		return err
	}
	if c.traffic != nil {
		c.traffic.framesOut.Add(1)
		c.traffic.bytesOut.Add(uint64(len(payload)))
	}
	return nil
}

// ping sends a control ping. Used by the heartbeat sweep.
func (c *conn) ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.lastHeartbeat.Store(time.Now().UnixNano())
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(2*time.Second))
}

// close marks the connection dead and closes the socket. Safe to call
// more than once.
func (c *conn) close() {
	if c.closed.CompareAndSwap(false, true) {
		_ = c.ws.Close()
	}
}
