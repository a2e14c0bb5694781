package repository

import (
	"context"
	"fmt"
	"hash/fnv"
	"strconv"
	"sync"
	"time"

	"github.com/okian/stint/internal/domain/model"
	"github.com/okian/stint/pkg/metrics"
)

// Default snapshot store configuration constants.
const (
	defaultShardCount            = 8
	defaultMetricsUpdateInterval = 10 * time.Second
)

// sessionEntry groups a session's state with its driver snapshots.
type sessionEntry struct {
	state   model.SessionState
	drivers map[string]model.DriverState
}

// shard holds a slice of the session keyspace under one lock.
type shard struct {
	mu       sync.RWMutex
	sessions map[string]*sessionEntry
}

// SnapshotStore implements Store with sharded in-memory maps. All
// operations are O(1) expected; values are copied on read and write so a
// reader never observes a partially written DriverState.
type SnapshotStore struct {
	shards     []*shard
	shardCount int

	metricsUpdateInterval time.Duration
	stopMetrics           chan struct{}
	stopOnce              sync.Once
}

// NewSnapshotStore creates a snapshot store and starts its background
// metrics updater, which runs until ctx is canceled or Close is called.
func NewSnapshotStore(ctx context.Context, opts ...Option) *SnapshotStore {
	s := &SnapshotStore{
		shardCount:            defaultShardCount,
		metricsUpdateInterval: defaultMetricsUpdateInterval,
		stopMetrics:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.shards = make([]*shard, s.shardCount)
	for i := range s.shards {
		s.shards[i] = &shard{sessions: make(map[string]*sessionEntry)}
	}

	metrics.UpdateStoreShardCount(s.shardCount)
	go s.metricsLoop(ctx)

	return s
}

func (s *SnapshotStore) shardFor(session string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(session))
	return s.shards[int(h.Sum32())%s.shardCount]
}

// Get returns a copy of the driver state.
func (s *SnapshotStore) Get(ctx context.Context, session, driver string) (model.DriverState, error) {
	sh := s.shardFor(session)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	entry, ok := sh.sessions[session]
	if !ok {
		return model.DriverState{}, fmt.Errorf("get %s/%s: %w", session, driver, ErrSessionNotFound)
	}
	st, ok := entry.drivers[driver]
	if !ok {
		return model.DriverState{}, fmt.Errorf("get %s/%s: %w", session, driver, ErrDriverNotFound)
	}
	return copyDriver(st), nil
}

// Upsert writes the driver state for an open session.
func (s *SnapshotStore) Upsert(ctx context.Context, session string, st model.DriverState) error {
	sh := s.shardFor(session)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	entry, ok := sh.sessions[session]
	if !ok {
		return fmt.Errorf("upsert %s/%s: %w", session, st.DriverID, ErrSessionNotFound)
	}
	if entry.state.Closed {
		return fmt.Errorf("upsert %s/%s: %w", session, st.DriverID, ErrSessionClosed)
	}
	entry.drivers[st.DriverID] = copyDriver(st)
	return nil
}

// Drivers returns copies of all driver states in a session.
func (s *SnapshotStore) Drivers(ctx context.Context, session string) ([]model.DriverState, error) {
	sh := s.shardFor(session)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	entry, ok := sh.sessions[session]
	if !ok {
		return nil, fmt.Errorf("drivers %s: %w", session, ErrSessionNotFound)
	}
	out := make([]model.DriverState, 0, len(entry.drivers))
	for _, st := range entry.drivers {
		out = append(out, copyDriver(st))
	}
	return out, nil
}

// GetSession returns a copy of the session state.
func (s *SnapshotStore) GetSession(ctx context.Context, session string) (model.SessionState, error) {
	sh := s.shardFor(session)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	entry, ok := sh.sessions[session]
	if !ok {
		return model.SessionState{}, fmt.Errorf("get session %s: %w", session, ErrSessionNotFound)
	}
	return entry.state, nil
}

// PutSession creates or updates a session. Writes to a closed session are
// rejected; the closed state is read-only.
func (s *SnapshotStore) PutSession(ctx context.Context, st model.SessionState) error {
	sh := s.shardFor(st.SessionKey)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	entry, ok := sh.sessions[st.SessionKey]
	if !ok {
		sh.sessions[st.SessionKey] = &sessionEntry{
			state:   st,
			drivers: make(map[string]model.DriverState),
		}
		return nil
	}
	if entry.state.Closed {
		return fmt.Errorf("put session %s: %w", st.SessionKey, ErrSessionClosed)
	}
	entry.state = st
	return nil
}

// Teardown drops a session's driver states and marks it closed.
func (s *SnapshotStore) Teardown(ctx context.Context, session string) error {
	sh := s.shardFor(session)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	entry, ok := sh.sessions[session]
	if !ok {
		return fmt.Errorf("teardown %s: %w", session, ErrSessionNotFound)
	}
	entry.drivers = make(map[string]model.DriverState)
	entry.state.Closed = true
	entry.state.UpdatedAt = time.Now()
	return nil
}

// Counts returns the number of open sessions and tracked drivers.
func (s *SnapshotStore) Counts(ctx context.Context) (int, int) {
	var sessions, drivers int
	for _, sh := range s.shards {
		sh.mu.RLock()
		for _, entry := range sh.sessions {
			if !entry.state.Closed {
				sessions++
			}
			drivers += len(entry.drivers)
		}
		sh.mu.RUnlock()
	}
	return sessions, drivers
}

// Close stops the background metrics updater.
func (s *SnapshotStore) Close() error {
	s.stopOnce.Do(func() { close(s.stopMetrics) })
	return nil
}

func (s *SnapshotStore) metricsLoop(ctx context.Context) {
	ticker := time.NewTicker(s.metricsUpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopMetrics:
			return
		case <-ticker.C:
			s.updateMetrics(ctx)
		}
	}
}

func (s *SnapshotStore) updateMetrics(ctx context.Context) {
	sessions, drivers := s.Counts(ctx)
	metrics.UpdateActiveSessions(sessions)
	metrics.UpdateDriversTracked(drivers)
	for i, sh := range s.shards {
		sh.mu.RLock()
		n := len(sh.sessions)
		sh.mu.RUnlock()
		metrics.UpdateStoreSessionsPerShard(strconv.Itoa(i), n)
	}
}

// copyDriver returns a deep copy so callers never share the gap pointer.
func copyDriver(st model.DriverState) model.DriverState {
	out := st
	if st.GapToLeader != nil {
		gap := *st.GapToLeader
		out.GapToLeader = &gap
	}
	return out
}
