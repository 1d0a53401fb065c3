package state

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/MrSnakeDoc/relaybridge/internal/domain"
)

// Store holds the endpoint registry, the last-known text per endpoint and
// the aggregate counters. It is shared by every connection's relay loop
// and by the command dispatcher, so all access goes through the mutex.
type Store struct {
	mu        sync.RWMutex
	clock     clock.Clock
	order     []string
	endpoints map[string]*domain.Endpoint
	lastText  map[string]*string
	stats     domain.Stats
	active    int
	running   bool
}

// New builds the store for exactly two endpoints. Endpoint order is
// kept as given and is the order the relay loop polls them in.
func New(descs []domain.Descriptor, clk clock.Clock) (*Store, error) {
	if err := domain.ValidatePair(descs); err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.New()
	}

	s := &Store{
		clock:     clk,
		order:     make([]string, 0, len(descs)),
		endpoints: make(map[string]*domain.Endpoint, len(descs)),
		lastText:  make(map[string]*string, len(descs)),
		stats:     domain.Stats{StartTime: clk.Now()},
		running:   true,
	}
	for _, d := range descs {
		d.ScrapeSelectors = append([]string(nil), d.ScrapeSelectors...)
		d.InputSelectors = append([]string(nil), d.InputSelectors...)
		s.order = append(s.order, d.ID)
		s.endpoints[d.ID] = &domain.Endpoint{Descriptor: d, Status: domain.StatusDisconnected}
		s.lastText[d.ID] = nil
	}
	return s, nil
}

// Order returns the endpoint ids in polling order.
func (s *Store) Order() []string {
	return append([]string(nil), s.order...)
}

// Descriptor returns the immutable description of an endpoint.
func (s *Store) Descriptor(id string) (domain.Descriptor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ep, ok := s.endpoints[id]
	if !ok {
		return domain.Descriptor{}, false
	}
	return ep.Descriptor, true
}

// Peer returns the counterpart of id. With exactly two endpoints the
// mapping is total and fixed.
func (s *Store) Peer(id string) (string, bool) {
	switch id {
	case s.order[0]:
		return s.order[1], true
	case s.order[1]:
		return s.order[0], true
	default:
		return "", false
	}
}

// Endpoint returns a copy of the endpoint with its runtime status.
func (s *Store) Endpoint(id string) (domain.Endpoint, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ep, ok := s.endpoints[id]
	if !ok {
		return domain.Endpoint{}, false
	}
	return copyEndpoint(ep), true
}

// Endpoints returns copies of all endpoints in polling order.
func (s *Store) Endpoints() []domain.Endpoint {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.endpointsLocked()
}

func (s *Store) endpointsLocked() []domain.Endpoint {
	out := make([]domain.Endpoint, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, copyEndpoint(s.endpoints[id]))
	}
	return out
}

// SetStatus updates the status of a known endpoint.
func (s *Store) SetStatus(id string, status domain.Status) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	ep, ok := s.endpoints[id]
	if !ok {
		return false
	}
	ep.Status = status
	return true
}

// NoteMessage counts one journaled message for the endpoint.
func (s *Store) NoteMessage(id string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ep, ok := s.endpoints[id]
	if !ok {
		return
	}
	ep.MessageCount++
	seen := at
	ep.LastSeen = &seen
}

// LastText returns the last-known text of an endpoint, if any.
func (s *Store) LastText(id string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t := s.lastText[id]
	if t == nil {
		return "", false
	}
	return *t, true
}

// Claim marks text as the last-known text of id when it is non-empty and
// differs from the stored value. It returns the previous value so a
// caller that fails before the message is journaled can Release it.
// Claiming is atomic, so two relay loops never both see the same text
// as new.
func (s *Store) Claim(id, text string) (prev *string, claimed bool) {
	if text == "" {
		return nil, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.endpoints[id]; !ok {
		return nil, false
	}
	prev = s.lastText[id]
	if prev != nil && *prev == text {
		return prev, false
	}
	t := text
	s.lastText[id] = &t
	return prev, true
}

// Release undoes a Claim, unless another writer already moved on.
func (s *Store) Release(id, text string, prev *string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.lastText[id]
	if cur != nil && *cur == text {
		s.lastText[id] = prev
	}
}

// CountRelay increments the relay counter and returns its new value.
func (s *Store) CountRelay() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats.MessagesRelayed++
	return s.stats.MessagesRelayed
}

// RestoreLastText seeds last-known texts, e.g. from a previous backup.
// Unknown ids are skipped. It returns how many slots were restored.
func (s *Store) RestoreLastText(texts map[string]*string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, t := range texts {
		if _, ok := s.endpoints[id]; !ok || t == nil {
			continue
		}
		v := *t
		s.lastText[id] = &v
		n++
	}
	return n
}

// ConnectionOpened records an accepted client connection.
func (s *Store) ConnectionOpened() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats.ConnectionsAccepted++
	s.active++
	return s.active
}

// ConnectionClosed records a client connection leaving the active set.
func (s *Store) ConnectionClosed() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active > 0 {
		s.active--
	}
	return s.active
}

// Active returns the number of connected clients.
func (s *Store) Active() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.active
}

// RecordEmergency increments the emergencies-handled counter.
func (s *Store) RecordEmergency() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats.EmergenciesHandled++
	return s.stats.EmergenciesHandled
}

// MarkBackup records the time of the last successful full snapshot.
func (s *Store) MarkBackup(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := at
	s.stats.LastBackup = &t
}

// SetRunning flips the running flag reported in status snapshots.
func (s *Store) SetRunning(running bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.running = running
}

// Stats returns a copy of the aggregate counters.
func (s *Store) Stats() domain.Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.statsLocked()
}

func (s *Store) statsLocked() domain.Stats {
	st := s.stats
	if st.LastBackup != nil {
		t := *st.LastBackup
		st.LastBackup = &t
	}
	return st
}

// Uptime is the time since the store was created.
func (s *Store) Uptime() time.Duration {
	return s.clock.Since(s.stats.StartTime)
}

// Backup builds a full snapshot of the current state.
func (s *Store) Backup() domain.Backup {
	s.mu.RLock()
	defer s.mu.RUnlock()

	last := make(map[string]*string, len(s.lastText))
	for id, t := range s.lastText {
		if t == nil {
			last[id] = nil
			continue
		}
		v := *t
		last[id] = &v
	}

	return domain.Backup{
		Timestamp:         s.clock.Now(),
		Endpoints:         s.endpointsLocked(),
		Stats:             s.statsLocked(),
		LastMessages:      last,
		ActiveConnections: s.active,
	}
}

// StatusReport builds the lightweight status snapshot.
func (s *Store) StatusReport() domain.StatusReport {
	s.mu.RLock()
	defer s.mu.RUnlock()

	statuses := make(map[string]domain.Status, len(s.endpoints))
	for id, ep := range s.endpoints {
		statuses[id] = ep.Status
	}

	return domain.StatusReport{
		Timestamp:         s.clock.Now(),
		EndpointStatuses:  statuses,
		ActiveConnections: s.active,
		Stats:             s.statsLocked(),
		Running:           s.running,
	}
}

func copyEndpoint(ep *domain.Endpoint) domain.Endpoint {
	c := *ep
	if ep.LastSeen != nil {
		t := *ep.LastSeen
		c.LastSeen = &t
	}
	return c
}
