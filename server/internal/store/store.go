package store

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/markbook/markbook/pkg/transport"
)

// Entry is a tenant's latest report together with the time it was received.
type Entry struct {
	Report    *transport.Report
	UpdatedAt time.Time
}

// Store is a thread-safe in-memory report store, keyed by tenant ID.
// A background goroutine (Run) periodically evicts entries that have not
// been updated within the configured TTL.
type Store struct {
	mu   sync.RWMutex
	data map[string]*Entry
	ttl  time.Duration
	now  func() time.Time // injectable for deterministic tests
}

// New creates a Store with the given TTL.
func New(ttl time.Duration) *Store {
	return &Store{
		data: make(map[string]*Entry),
		ttl:  ttl,
		now:  time.Now,
	}
}

// Put stores rep as its tenant's latest report. A report generated before the
// one already held is ignored and Put returns false. Callers must not modify
// rep after calling Put.
func (s *Store) Put(rep *transport.Report) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.data[rep.TenantID]; ok && rep.GeneratedAt.Before(cur.Report.GeneratedAt) {
		return false
	}
	s.data[rep.TenantID] = &Entry{
		Report:    rep,
		UpdatedAt: s.now(),
	}
	return true
}

// fresh reports whether e was received within the TTL ending at now.
func (s *Store) fresh(e *Entry, now time.Time) bool {
	return now.Sub(e.UpdatedAt) < s.ttl
}

// Get returns the live Entry for tenantID. An expired entry counts as missing
// whether or not eviction has caught up with it.
func (s *Store) Get(tenantID string) (*Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.data[tenantID]; ok && s.fresh(e, s.now()) {
		return e, true
	}
	return nil, false
}

// List returns the live entries sorted by tenant ID.
func (s *Store) List() []*Entry {
	now := s.now()
	s.mu.RLock()
	out := make([]*Entry, 0, len(s.data))
	for _, e := range s.data {
		if s.fresh(e, now) {
			out = append(out, e)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Report.TenantID < out[j].Report.TenantID })
	return out
}

// Count returns how many tenants are held, expired ones included.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Evict drops every entry that has expired as of now and returns how many
// went.
func (s *Store) Evict(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.data)
	for tenant, e := range s.data {
		if !s.fresh(e, now) {
			delete(s.data, tenant)
		}
	}
	return n - len(s.data)
}

// Run evicts expired tenants every ttl/2 (at least once a second) until ctx
// is done.
func (s *Store) Run(ctx context.Context) {
	every := max(s.ttl/2, time.Second)
	tick := time.NewTicker(every)
	defer tick.Stop()
	for {
		select {
		case now := <-tick.C:
			if n := s.Evict(now); n > 0 {
				slog.Debug("store: evicted expired reports", "count", n)
			}
		case <-ctx.Done():
			return
		}
	}
}
