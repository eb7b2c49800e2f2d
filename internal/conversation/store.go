package conversation

import (
	"sync"
	"time"

	"cmgdl/internal/components/chrono"
	"cmgdl/internal/components/telemetry"
)

const (
	DefaultIdleTimeout = 5 * time.Minute

	report_store_sweep = "store.sweep"
)

// Key identifies the conversation of one user in one chat.
type Key struct {
	Chat int64
	User int64
}

type entry struct {
	conversation *Conversation
	lastActive   time.Time
}

// Store keeps the live conversations. A conversation that has not been
// touched for longer than the idle timeout is treated as abandoned.
type Store struct {
	clock   chrono.API
	timeout time.Duration

	mutex   sync.Mutex
	entries map[Key]entry
}

func NewStore(clock chrono.API, timeout time.Duration) *Store {
	if timeout <= 0 {
		timeout = DefaultIdleTimeout
	}
	return &Store{
		clock:   clock,
		timeout: timeout,
		entries: map[Key]entry{},
	}
}

// Put registers a conversation, replacing whatever conversation the key had.
func (s *Store) Put(key Key, c *Conversation) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.entries[key] = entry{conversation: c, lastActive: s.clock.Now()}
}

// Get returns the live conversation of the key and marks it active.
func (s *Store) Get(key Key) (*Conversation, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	now := s.clock.Now()
	if s.expired(e, now) {
		delete(s.entries, key)
		return nil, false
	}
	e.lastActive = now
	s.entries[key] = e
	return e.conversation, true
}

func (s *Store) Delete(key Key) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	delete(s.entries, key)
}

func (s *Store) Len() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.entries)
}

func (s *Store) expired(e entry, now time.Time) bool {
	return now.Sub(e.lastActive) > s.timeout
}

// Sweep drops expired conversations and returns how many were dropped.
func (s *Store) Sweep() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	now := s.clock.Now()
	dropped := 0
	for key, e := range s.entries {
		if s.expired(e, now) {
			delete(s.entries, key)
			dropped++
		}
	}
	return dropped
}

// ScheduleSweep runs Sweep every minute on `cron`.
func (s *Store) ScheduleSweep(cron chrono.CronAPI, tel telemetry.API) error {
	return cron.Cron("@every 1m", func() {
		dropped := s.Sweep()
		if dropped > 0 {
			tel.ReportDebug(report_store_sweep, dropped)
		}
		tel.ReportCount(report_store_sweep, int64(s.Len()))
	})
}
