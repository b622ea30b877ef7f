package relay

import (
	"fmt"
	"log/slog"
	"sync"
)

// Supervisor tracks the live relays so monitoring endpoints can list them and
// shutdown can tear them all down. Sessions are otherwise fully independent.
type Supervisor struct {
	mu      sync.RWMutex
	relays  map[uint64]*Relay
	nextID  uint64
	maxSize int
	logger  *slog.Logger
}

// NewSupervisor creates a supervisor with a concurrent session limit
func NewSupervisor(maxSessions int, logger *slog.Logger) *Supervisor {
	return &Supervisor{
		relays:  make(map[uint64]*Relay),
		maxSize: maxSessions,
		logger:  logger,
	}
}

// Add registers a relay and returns its handle id. Fails when the concurrent
// session limit is reached.
func (s *Supervisor) Add(r *Relay) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.relays) >= s.maxSize {
		return 0, fmt.Errorf("session limit reached (%d)", s.maxSize)
	}

	s.nextID++
	id := s.nextID
	s.relays[id] = r

	s.logger.Debug("Session registered",
		slog.Uint64("session_id", id),
		slog.Int("active", len(s.relays)),
	)

	return id, nil
}

// Remove unregisters a finished relay
func (s *Supervisor) Remove(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.relays, id)
}

// Count returns the number of live sessions
func (s *Supervisor) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.relays)
}

// Get returns the monitoring snapshot for one session
func (s *Supervisor) Get(id uint64) (SessionInfo, bool) {
	s.mu.RLock()
	r, ok := s.relays[id]
	s.mu.RUnlock()

	if !ok {
		return SessionInfo{}, false
	}
	return r.Info(), true
}

// Snapshot returns monitoring views of all live sessions keyed by handle id
func (s *Supervisor) Snapshot() map[uint64]SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make(map[uint64]SessionInfo, len(s.relays))
	for id, r := range s.relays {
		infos[id] = r.Info()
	}
	return infos
}

// Stop tears down every live session. Each relay's Run unwinds on its own
// once both ports close.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	relays := make([]*Relay, 0, len(s.relays))
	for _, r := range s.relays {
		relays = append(relays, r)
	}
	s.mu.Unlock()

	if len(relays) > 0 {
		s.logger.Info("Closing active sessions", slog.Int("count", len(relays)))
	}

	for _, r := range relays {
		r.closeBoth()
	}
}
