// Package session owns the per-session event buffers and the dirty
// registry the scheduler drains. All state lives behind one mutex; every
// operation is a short critical section so the gateway's hot path never
// waits on analysis.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Kojaewoong0504/VibeMusic-sub000/config"
	"github.com/Kojaewoong0504/VibeMusic-sub000/event"
	"github.com/Kojaewoong0504/VibeMusic-sub000/metric"
	"github.com/Kojaewoong0504/VibeMusic-sub000/pkg/ring"
)

// AnalysisState tracks where a session sits in the analysis cycle.
type AnalysisState int

const (
	// StateIdle means no unprocessed events since the last analysis.
	StateIdle AnalysisState = iota
	// StateDirty means new events arrived and the session awaits dispatch.
	StateDirty
	// StateProcessing means an analysis is in flight for the session.
	StateProcessing
)

func (s AnalysisState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDirty:
		return "dirty"
	case StateProcessing:
		return "processing"
	default:
		return "unknown"
	}
}

// record pairs a buffered event with its server-side arrival time. Client
// timestamps are relative to an arbitrary client epoch and only order the
// extractor's deltas; windowing and age eviction use arrival time.
type record struct {
	ev event.Normalized
	at int64 // arrival, unix milliseconds
}

type entry struct {
	buf        *ring.Ring[record]
	state      AnalysisState
	redirty    bool
	lastActive time.Time
	emotion    *event.EmotionVector
}

// Store holds one bounded buffer and one emotion slot per session, capped
// at a global session count with least-recently-active eviction.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*entry

	cfg     config.BufferConfig
	logger  *slog.Logger
	metrics *metric.CoreMetrics

	now func() time.Time // swapped in tests

	evictions uint64
	drops     uint64
}

// NewStore creates a session store. metrics may be nil.
func NewStore(cfg config.BufferConfig, logger *slog.Logger, metrics *metric.CoreMetrics) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		sessions: make(map[string]*entry),
		cfg:      cfg,
		logger:   logger.With("component", "session-store"),
		metrics:  metrics,
		now:      time.Now,
	}
}

// Append adds an event to the session's buffer, creating the buffer on
// first use, and marks the session dirty. Overflow drops the oldest event.
func (s *Store) Append(sessionID string, ev event.Normalized) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[sessionID]
	if !ok {
		var err error
		e, err = s.createLocked(sessionID)
		if err != nil {
			return err
		}
	}

	now := s.now()
	if evicted := e.buf.Append(record{ev: ev, at: now.UnixMilli()}); evicted {
		s.drops++
	}
	e.lastActive = now

	switch e.state {
	case StateIdle:
		e.state = StateDirty
	case StateProcessing:
		e.redirty = true
	}
	return nil
}

// createLocked allocates a new entry, evicting the least-recently-active
// session when the global cap is reached. Caller holds s.mu.
func (s *Store) createLocked(sessionID string) (*entry, error) {
	if s.cfg.MaxSessions > 0 && len(s.sessions) >= s.cfg.MaxSessions {
		s.evictOldestLocked()
	}

	buf, err := ring.New[record](s.cfg.Capacity)
	if err != nil {
		return nil, err
	}
	e := &entry{buf: buf, lastActive: s.now()}
	s.sessions[sessionID] = e
	if s.metrics != nil {
		s.metrics.ActiveSessions.Set(float64(len(s.sessions)))
	}
	return e, nil
}

func (s *Store) evictOldestLocked() {
	var oldestID string
	var oldest time.Time
	for id, e := range s.sessions {
		if oldestID == "" || e.lastActive.Before(oldest) {
			oldestID = id
			oldest = e.lastActive
		}
	}
	if oldestID == "" {
		return
	}
	delete(s.sessions, oldestID)
	s.evictions++
	s.logger.Info("evicted least-recently-active session",
		"session_id", oldestID,
		"last_active", oldest,
		"sessions", len(s.sessions))
}

// Window returns a copy of the session's events that arrived within the
// last dur, oldest first. A dur of zero returns the whole buffer. Unknown
// sessions return nil.
func (s *Store) Window(sessionID string, dur time.Duration) []event.Normalized {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[sessionID]
	if !ok {
		return nil
	}
	if dur <= 0 {
		return eventsOf(e.buf.Snapshot())
	}

	cutoff := s.now().Add(-dur).UnixMilli()
	return eventsOf(e.buf.TailWhile(func(r record) bool {
		return r.at >= cutoff
	}))
}

func eventsOf(recs []record) []event.Normalized {
	if recs == nil {
		return nil
	}
	out := make([]event.Normalized, len(recs))
	for i, r := range recs {
		out[i] = r.ev
	}
	return out
}

// Len returns the number of buffered events for the session.
func (s *Store) Len(sessionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.sessions[sessionID]; ok {
		return e.buf.Len()
	}
	return 0
}

// ClaimDirty transitions up to max dirty sessions to processing and
// returns their IDs. Each claimed session must be handed back with
// Release; until then no second analysis can be claimed for it.
func (s *Store) ClaimDirty(max int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var claimed []string
	for id, e := range s.sessions {
		if len(claimed) >= max {
			break
		}
		if e.state != StateDirty {
			continue
		}
		e.state = StateProcessing
		e.redirty = false
		claimed = append(claimed, id)
	}
	return claimed
}

// Release finishes a claim. Sessions that received events while
// processing go straight back to dirty, everything else returns to idle.
func (s *Store) Release(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[sessionID]
	if !ok || e.state != StateProcessing {
		return
	}
	if e.redirty {
		e.state = StateDirty
		e.redirty = false
	} else {
		e.state = StateIdle
	}
}

// Requeue puts a claimed session straight back to dirty, used when its
// analysis could not be dispatched.
func (s *Store) Requeue(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[sessionID]
	if !ok || e.state != StateProcessing {
		return
	}
	e.state = StateDirty
	e.redirty = false
}

// State reports the session's analysis state.
func (s *Store) State(sessionID string) AnalysisState {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.sessions[sessionID]; ok {
		return e.state
	}
	return StateIdle
}

// PreviousEmotion returns the session's last computed vector, if any.
func (s *Store) PreviousEmotion(sessionID string) (*event.EmotionVector, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[sessionID]
	if !ok || e.emotion == nil {
		return nil, false
	}
	v := *e.emotion
	return &v, true
}

// SetEmotion stores the session's latest vector. No-op for unknown
// sessions: the slot must not outlive the buffer.
func (s *Store) SetEmotion(sessionID string, v event.EmotionVector) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.sessions[sessionID]; ok {
		e.emotion = &v
	}
}

// Teardown drops the session's buffer and emotion slot.
func (s *Store) Teardown(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return
	}
	delete(s.sessions, sessionID)
	if s.metrics != nil {
		s.metrics.ActiveSessions.Set(float64(len(s.sessions)))
	}
}

// Count returns the number of live sessions.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Stats returns lifetime eviction and overflow-drop counts.
func (s *Store) Stats() (evictions, drops uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evictions, s.drops
}

// Sweep trims events whose arrival is older than the configured max age
// from every buffer and tears down sessions idle past the session TTL,
// emotion slot included. It returns the number of events removed.
func (s *Store) Sweep() int {
	maxAge := s.cfg.MaxEventAge()
	ttl := s.cfg.SessionTTL()

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0

	if maxAge > 0 {
		cutoff := now.Add(-maxAge).UnixMilli()
		for _, e := range s.sessions {
			removed += e.buf.TrimHead(func(r record) bool {
				return r.at < cutoff
			})
		}
	}

	if ttl > 0 {
		for id, e := range s.sessions {
			if now.Sub(e.lastActive) < ttl {
				continue
			}
			delete(s.sessions, id)
			s.logger.Info("tore down idle session",
				"session_id", id,
				"last_active", e.lastActive,
				"sessions", len(s.sessions))
		}
		if s.metrics != nil {
			s.metrics.ActiveSessions.Set(float64(len(s.sessions)))
		}
	}

	return removed
}

// RunGC sweeps aged events on the configured interval until ctx is done.
func (s *Store) RunGC(ctx context.Context) error {
	interval := s.cfg.GCInterval()
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if removed := s.Sweep(); removed > 0 {
				s.logger.Debug("swept aged events", "removed", removed)
			}
		}
	}
}
