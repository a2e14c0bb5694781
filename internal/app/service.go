// Package service provides the core business service that implements
// the dependencies required by the HTTP API.
package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	repository "github.com/okian/stint/internal/adapters/repository"
	"github.com/okian/stint/internal/domain/detect"
	"github.com/okian/stint/internal/domain/model"
	"github.com/okian/stint/internal/domain/priority"
	"github.com/okian/stint/internal/pipeline/dispatch"
	"github.com/okian/stint/internal/pipeline/enrich"
	"github.com/okian/stint/internal/pipeline/sched"
	"github.com/okian/stint/internal/pipeline/sink"
	"github.com/okian/stint/internal/pipeline/window"
	"github.com/okian/stint/pkg/logger"
	"github.com/okian/stint/pkg/metrics"
)

// drainTimeout bounds how long teardown waits for in-flight events.
const drainTimeout = 5 * time.Second

// sessionPipeline holds the per-session processing chain. Updates for one
// session are serialized through mu so arrival order is preserved end to end.
type sessionPipeline struct {
	mu         sync.Mutex
	detector   *detect.Detector
	window     *window.Window
	scheduler  *sched.Scheduler
	dispatcher *dispatch.Dispatcher
	cancel     context.CancelFunc
	closing    bool
}

// Service implements the API dependencies for the race event pipeline.
type Service struct {
	mu sync.RWMutex

	// Core components
	store    repository.Store
	budgets  *priority.Budgets
	enricher *enrich.Enricher
	out      sink.Sink
	sessions map[string]*sessionPipeline

	// Configuration
	schedCapacity int
	dropPolicy    sched.DropPolicy
	enrichTimeout time.Duration
	gapThreshold  float64
	tempThreshold float64
	shardCount    int
	history       enrich.HistoryProvider

	// State
	started bool
	runCtx  context.Context
	stop    context.CancelFunc

	// Logging
	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithSchedulerCapacity bounds each session's priority scheduler.
func WithSchedulerCapacity(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.schedCapacity = n
		}
	}
}

// WithDropPolicy selects overflow handling for the scheduler.
func WithDropPolicy(p sched.DropPolicy) Option {
	return func(s *Service) {
		s.dropPolicy = p
	}
}

// WithEnrichTimeout bounds historical context lookups per event.
func WithEnrichTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.enrichTimeout = d
		}
	}
}

// WithGapThreshold sets the minimum gap delta (seconds) worth an event.
func WithGapThreshold(seconds float64) Option {
	return func(s *Service) {
		if seconds > 0 {
			s.gapThreshold = seconds
		}
	}
}

// WithTempThreshold sets the minimum track temperature delta (celsius)
// worth an event.
func WithTempThreshold(celsius float64) Option {
	return func(s *Service) {
		if celsius > 0 {
			s.tempThreshold = celsius
		}
	}
}

// WithShardCount configures the snapshot store sharding.
func WithShardCount(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.shardCount = n
		}
	}
}

// WithBudgets overrides the per-tier latency budgets and batching windows.
func WithBudgets(b *priority.Budgets) Option {
	return func(s *Service) {
		if b != nil {
			s.budgets = b
		}
	}
}

// WithHistoryProvider attaches an external historical context source.
func WithHistoryProvider(p enrich.HistoryProvider) Option {
	return func(s *Service) {
		s.history = p
	}
}

// WithSink sets the destination for enriched events.
func WithSink(out sink.Sink) Option {
	return func(s *Service) {
		if out != nil {
			s.out = out
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		sessions:      make(map[string]*sessionPipeline),
		schedCapacity: 10_000,
		dropPolicy:    sched.DropNone,
		enrichTimeout: 200 * time.Millisecond,
		gapThreshold:  0.3,
		tempThreshold: 2.0,
		shardCount:    8,
		out:           sink.Func(func(context.Context, model.EnrichedRaceEvent) error { return nil }),
		logger:        nil, // Will be replaced when service starts
	}

	// Apply all options
	for _, opt := range opts {
		opt(s)
	}

	if s.budgets == nil {
		s.budgets = priority.NewBudgets()
	}
	return s
}

// Start initializes and starts the service components.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	// Initialize logger if not already set
	if s.logger == nil {
		s.logger = logger.Get()
	}

	s.logger.Info(ctx, "starting race event service...")

	s.runCtx, s.stop = context.WithCancel(context.WithoutCancel(ctx))
	s.store = repository.NewSnapshotStore(s.runCtx,
		repository.WithShardCount(s.shardCount),
	)

	enrichOpts := []enrich.Option{
		enrich.WithTimeout(s.enrichTimeout),
		enrich.WithLogger(s.logger.Named("enrich")),
	}
	if s.history != nil {
		enrichOpts = append(enrichOpts, enrich.WithHistoryProvider(s.history))
	}
	s.enricher = enrich.New(s.store, enrichOpts...)

	s.started = true
	s.logger.Info(ctx, "race event service started",
		logger.Int("schedulerCapacity", s.schedCapacity),
		logger.String("dropPolicy", string(s.dropPolicy)),
		logger.Int("shardCount", s.shardCount),
	)

	return nil
}

// Stop gracefully shuts down the service, tearing down active sessions.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	keys := make([]string, 0, len(s.sessions))
	for k := range s.sessions {
		keys = append(keys, k)
	}
	s.mu.Unlock()

	ctx := context.Background()
	s.logger.Info(ctx, "stopping race event service...")

	for _, key := range keys {
		if err := s.TeardownSession(ctx, key); err != nil {
			s.logger.Warn(ctx, "session teardown during shutdown failed",
				logger.String("session", key),
				logger.Error(err),
			)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if closer, ok := s.store.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
	s.stop()
	s.started = false
	s.logger.Info(ctx, "race event service stopped")
}

// BeginSession registers a new session and spins up its pipeline.
func (s *Service) BeginSession(ctx context.Context, key string, totalLaps int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return ErrNotStarted
	}
	if _, ok := s.sessions[key]; ok {
		return fmt.Errorf("session %q: %w", key, ErrSessionExists)
	}

	now := time.Now()
	if err := s.store.PutSession(ctx, model.SessionState{
		SessionKey: key,
		TotalLaps:  totalLaps,
		Flag:       model.FlagGreen,
		StartedAt:  now,
		UpdatedAt:  now,
	}); err != nil {
		return err
	}

	p := &sessionPipeline{}
	p.detector = detect.New(key, s.store,
		detect.WithGapThreshold(s.gapThreshold),
		detect.WithTempThreshold(s.tempThreshold),
	)
	p.scheduler = sched.New(s.budgets,
		sched.WithCapacity(s.schedCapacity),
		sched.WithDropPolicy(s.dropPolicy),
	)
	p.window = window.New(s.budgets, p.scheduler,
		window.WithLogger(s.logger.Named("window")),
	)
	p.dispatcher = dispatch.New(key, p.scheduler, s.enricher, s.out,
		dispatch.WithLogger(s.logger.Named("dispatch")),
	)

	pipeCtx, cancel := context.WithCancel(s.runCtx)
	p.cancel = cancel
	go p.window.Run(pipeCtx)
	go p.dispatcher.Run(pipeCtx)

	s.sessions[key] = p
	metrics.UpdateActiveSessions(len(s.sessions))
	s.logger.Info(ctx, "session started",
		logger.String("session", key),
		logger.Int("totalLaps", totalLaps),
	)
	return nil
}

// SubmitUpdate runs one raw update through its session's pipeline.
// Updates for the same session are processed in arrival order.
func (s *Service) SubmitUpdate(ctx context.Context, u *model.Update) error {
	s.mu.RLock()
	p, ok := s.sessions[u.SessionKey]
	started := s.started
	s.mu.RUnlock()

	if !started {
		return ErrNotStarted
	}
	if !ok {
		metrics.RecordUpdateRejected(string(u.Kind), "unknown_session")
		return fmt.Errorf("session %q: %w", u.SessionKey, repository.ErrSessionNotFound)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closing {
		metrics.RecordUpdateRejected(string(u.Kind), "closed")
		return fmt.Errorf("session %q: %w", u.SessionKey, repository.ErrSessionClosed)
	}
	if p.scheduler.Len() >= s.schedCapacity {
		metrics.RecordUpdateRejected(string(u.Kind), "backpressure")
		return fmt.Errorf("session %q: %w", u.SessionKey, ErrBackpressure)
	}

	events, err := p.detector.Process(ctx, u)
	if err != nil {
		return err
	}

	for i := range events {
		tier := priority.Classify(&events[i])
		p.window.Add(ctx, events[i], tier)
	}
	return nil
}

// TeardownSession flushes and stops one session's pipeline, then clears its
// driver state. In-flight events are delivered, not dropped.
func (s *Service) TeardownSession(ctx context.Context, key string) error {
	s.mu.Lock()
	p, ok := s.sessions[key]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("session %q: %w", key, repository.ErrSessionNotFound)
	}
	delete(s.sessions, key)
	metrics.UpdateActiveSessions(len(s.sessions))
	s.mu.Unlock()

	// Stop intake first so the flush below is the last word.
	p.mu.Lock()
	p.closing = true
	p.mu.Unlock()

	s.logger.Info(ctx, "tearing down session", logger.String("session", key))

	// Pending windowed events go to the scheduler, the scheduler drains to
	// the dispatcher, and the dispatcher finishes when the channel closes.
	p.window.FlushAll(ctx)
	p.window.Close()
	p.scheduler.Close()

	// Wait for the dispatcher to finish the drained items rather than
	// cutting it off with Shutdown.
	var terr error
	select {
	case <-p.dispatcher.Done():
	case <-time.After(drainTimeout):
		terr = fmt.Errorf("%w: dispatcher drain timed out", ErrTeardownFailed)
	}
	p.cancel()

	if rl, ok := s.out.(*sink.RateLimited); ok {
		rl.Forget(key)
	}
	if err := s.store.Teardown(ctx, key); err != nil && terr == nil {
		terr = fmt.Errorf("%w: %w", ErrTeardownFailed, err)
	}

	s.logger.Info(ctx, "session torn down", logger.String("session", key))
	return terr
}

// Sessions lists the active session keys in stable order.
func (s *Service) Sessions(ctx context.Context) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.sessions))
	for k := range s.sessions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Session returns the session snapshot for a key (active or torn down).
func (s *Service) Session(ctx context.Context, key string) (model.SessionState, error) {
	return s.store.GetSession(ctx, key)
}

// Drivers returns driver snapshots for a session sorted by position.
func (s *Service) Drivers(ctx context.Context, key string) ([]model.DriverState, error) {
	drivers, err := s.store.Drivers(ctx, key)
	if err != nil {
		return nil, err
	}
	sort.Slice(drivers, func(i, j int) bool { return drivers[i].Position < drivers[j].Position })
	return drivers, nil
}

// Driver returns one driver snapshot.
func (s *Service) Driver(ctx context.Context, key, driverID string) (model.DriverState, error) {
	return s.store.Get(ctx, key, driverID)
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := context.Background()
	stats := map[string]interface{}{
		"started":           s.started,
		"schedulerCapacity": s.schedCapacity,
		"dropPolicy":        string(s.dropPolicy),
		"activeSessions":    len(s.sessions),
	}

	if s.started {
		sessionCount, driverCount := s.store.Counts(ctx)
		stats["storedSessions"] = sessionCount
		stats["trackedDrivers"] = driverCount

		pending := 0
		queued := 0
		for _, p := range s.sessions {
			pending += p.window.Pending()
			queued += p.scheduler.Len()
		}
		stats["windowPending"] = pending
		stats["schedulerQueued"] = queued

		// Update metrics
		metrics.UpdateActiveSessions(len(s.sessions))
		metrics.UpdateDriversTracked(driverCount)
	}

	return stats
}
