// Package scheduler drives the batch analysis loop: every tick it claims
// dirty sessions from the store, pushes them through the extractor and
// emotion mapper on a bounded worker pool, and fans results out to live
// connections and downstream collaborators.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/Kojaewoong0504/VibeMusic-sub000/analyzer"
	"github.com/Kojaewoong0504/VibeMusic-sub000/config"
	"github.com/Kojaewoong0504/VibeMusic-sub000/downstream"
	"github.com/Kojaewoong0504/VibeMusic-sub000/emotion"
	verrors "github.com/Kojaewoong0504/VibeMusic-sub000/errors"
	"github.com/Kojaewoong0504/VibeMusic-sub000/event"
	"github.com/Kojaewoong0504/VibeMusic-sub000/metric"
	"github.com/Kojaewoong0504/VibeMusic-sub000/pkg/worker"
	"github.com/Kojaewoong0504/VibeMusic-sub000/session"
)

// Broadcaster delivers a pattern_update to every live connection of a
// session. Sessions with no connections are a no-op.
type Broadcaster interface {
	BroadcastPatternUpdate(sessionID string, stats event.TypingStatistics, vec event.EmotionVector)
}

// Scheduler owns the tick loop and the analysis worker pool.
type Scheduler struct {
	cfg       config.SchedulerConfig
	store     *session.Store
	extractor *analyzer.Extractor
	mapper    *emotion.Mapper

	pool *worker.Pool[string]

	broadcaster Broadcaster
	persistence downstream.Persistence
	music       downstream.MusicTrigger

	logger  *slog.Logger
	metrics *metric.CoreMetrics
}

// Deps bundles the scheduler's collaborators.
type Deps struct {
	Store       *session.Store
	Extractor   *analyzer.Extractor
	Mapper      *emotion.Mapper
	Broadcaster Broadcaster
	Persistence downstream.Persistence
	Music       downstream.MusicTrigger
	Logger      *slog.Logger
	Metrics     *metric.CoreMetrics
	Registry    *metric.MetricsRegistry
}

// New creates a scheduler. Broadcaster, Persistence and Music may be nil;
// the corresponding fan-out steps are skipped.
func New(cfg config.SchedulerConfig, deps Deps) *Scheduler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Scheduler{
		cfg:         cfg,
		store:       deps.Store,
		extractor:   deps.Extractor,
		mapper:      deps.Mapper,
		broadcaster: deps.Broadcaster,
		persistence: deps.Persistence,
		music:       deps.Music,
		logger:      logger.With("component", "scheduler"),
		metrics:     deps.Metrics,
	}

	var poolOpts []worker.Option[string]
	if deps.Registry != nil {
		poolOpts = append(poolOpts, worker.WithMetrics[string](deps.Registry, "scheduler"))
	}
	s.pool = worker.NewPool(cfg.EffectiveWorkers(), cfg.QueueSize, s.process, poolOpts...)
	return s
}

// SetBroadcaster installs the broadcast sink. The gateway is built after
// the scheduler, so the engine wires it in here before Start.
func (s *Scheduler) SetBroadcaster(bc Broadcaster) {
	s.broadcaster = bc
}

// Start brings up the worker pool.
func (s *Scheduler) Start(ctx context.Context) error {
	return s.pool.Start(ctx)
}

// Stop drains and stops the worker pool.
func (s *Scheduler) Stop(timeout time.Duration) error {
	return s.pool.Stop(timeout)
}

// Run executes the tick loop until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.TickInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Tick()
		}
	}
}

// Tick claims up to one batch of dirty sessions and dispatches them.
// Exported so tests can drive the loop deterministically.
func (s *Scheduler) Tick() {
	start := time.Now()
	claimed := s.store.ClaimDirty(s.cfg.BatchSize)

	for _, id := range claimed {
		if s.store.Len(id) < s.cfg.MinEvents {
			// below the sample gate: go back to idle until more
			// events arrive and re-dirty the session
			s.store.Release(id)
			continue
		}
		if err := s.pool.Submit(id); err != nil {
			// pool saturated: keep the session dirty for the next tick
			s.store.Requeue(id)
			s.logger.Warn("analysis dispatch deferred", "session_id", id, "error", err)
		}
	}

	if s.metrics != nil && len(claimed) > 0 {
		s.metrics.AnalysisDuration.WithLabelValues("tick").Observe(time.Since(start).Seconds())
	}
}

// process runs one analysis pass for a session on a pool worker.
func (s *Scheduler) process(ctx context.Context, sessionID string) error {
	defer s.store.Release(sessionID)

	window := s.store.Window(sessionID, s.cfg.Window())

	start := time.Now()
	stats, err := s.extractor.Extract(window)
	if s.metrics != nil {
		s.metrics.AnalysisDuration.WithLabelValues("extract").Observe(time.Since(start).Seconds())
	}
	if err != nil {
		if verrors.IsAnalysisStatus(err) {
			if s.metrics != nil {
				s.metrics.MessagesProcessed.WithLabelValues("scheduler", "analysis", "skipped").Inc()
			}
			s.logger.Debug("analysis skipped", "session_id", sessionID, "reason", err)
			return nil
		}
		if s.metrics != nil {
			s.metrics.MessagesProcessed.WithLabelValues("scheduler", "analysis", "failed").Inc()
			s.metrics.ErrorsTotal.WithLabelValues("scheduler", verrors.Classify(err).String()).Inc()
		}
		s.logger.Error("pattern extraction failed", "session_id", sessionID, "error", err)
		return err
	}

	start = time.Now()
	prev, _ := s.store.PreviousEmotion(sessionID)
	vec := s.mapper.Map(stats, prev)
	s.store.SetEmotion(sessionID, vec)
	if s.metrics != nil {
		s.metrics.AnalysisDuration.WithLabelValues("map").Observe(time.Since(start).Seconds())
	}

	if s.broadcaster != nil {
		s.broadcaster.BroadcastPatternUpdate(sessionID, stats, vec)
	}
	s.fanOut(ctx, sessionID, stats, vec)

	if s.metrics != nil {
		s.metrics.MessagesProcessed.WithLabelValues("scheduler", "analysis", "success").Inc()
	}
	return nil
}

// fanOut performs the fire-and-forget collaborator calls. Failures are
// logged and never reach a live connection.
func (s *Scheduler) fanOut(ctx context.Context, sessionID string, stats event.TypingStatistics, vec event.EmotionVector) {
	if s.persistence != nil {
		if err := s.persistence.SaveTypingPattern(ctx, sessionID, stats); err != nil {
			s.logger.Warn("pattern persistence failed", "session_id", sessionID, "error", err)
		}
		if err := s.persistence.SaveEmotionProfile(ctx, sessionID, vec); err != nil {
			s.logger.Warn("emotion persistence failed", "session_id", sessionID, "error", err)
		}
	}
	if s.music != nil {
		if err := s.music.NotifyEmotion(ctx, sessionID, vec); err != nil {
			s.logger.Warn("music trigger failed", "session_id", sessionID, "error", err)
		}
	}
}

// Query answers a get_pattern request synchronously. Sessions below the
// sample gate get ErrPatternNotReady. The read is side-effect free: the
// emotion slot is not updated.
func (s *Scheduler) Query(sessionID string) (event.TypingStatistics, *event.EmotionVector, error) {
	if s.store.Len(sessionID) < s.cfg.MinEvents {
		return event.TypingStatistics{}, nil, verrors.ErrPatternNotReady
	}

	window := s.store.Window(sessionID, s.cfg.Window())
	stats, err := s.extractor.Extract(window)
	if err != nil {
		if verrors.IsAnalysisStatus(err) {
			return event.TypingStatistics{}, nil, verrors.ErrPatternNotReady
		}
		return event.TypingStatistics{}, nil, err
	}

	prev, _ := s.store.PreviousEmotion(sessionID)
	return stats, prev, nil
}

// MinEvents exposes the sample gate for protocol replies.
func (s *Scheduler) MinEvents() int { return s.cfg.MinEvents }
