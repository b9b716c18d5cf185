// Package store holds the authoritative, process-local state for active calls.
package store

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/veilcall/morph/internal/domain"
)

// SessionStore is the only state shared across coordinator tasks.
// Implementations must serialize mutations per session id.
type SessionStore interface {
	// Create is idempotent: a repeat join by a known participant returns the
	// session unchanged, a second participant activates it, a third is
	// rejected with domain.ErrCapacityExceeded.
	Create(id domain.SessionID, p domain.ParticipantID) (domain.Session, error)
	Get(id domain.SessionID) (domain.Session, error)
	SetConfig(id domain.SessionID, p domain.ParticipantID, cfg domain.TransformConfig) error
	// End is idempotent; ending an ended session is a no-op.
	End(id domain.SessionID) error
	// Touch records signaling or frame traffic for idle sweeping.
	Touch(id domain.SessionID) error
	// SweepIdle ends sessions with no traffic for longer than idleThreshold
	// and returns their ids. Called by an external scheduler.
	SweepIdle(idleThreshold time.Duration) []domain.SessionID
	List() []domain.Session
}

// entry carries its own lock so mutations of one session never block
// reads or writes of another.
type entry struct {
	mu   sync.Mutex
	sess domain.Session
}

type Memory struct {
	mu      sync.RWMutex
	entries map[domain.SessionID]*entry

	now func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		entries: make(map[domain.SessionID]*entry),
		now:     time.Now,
	}
}

func (m *Memory) lookup(id domain.SessionID) (*entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[id]
	return e, ok
}

func (m *Memory) Create(id domain.SessionID, p domain.ParticipantID) (domain.Session, error) {
	if err := domain.ValidateSessionID(id); err != nil {
		return domain.Session{}, err
	}

	e, ok := m.lookup(id)
	if !ok {
		m.mu.Lock()
		if e, ok = m.entries[id]; !ok {
			now := m.now()
			e = &entry{sess: domain.Session{
				ID:           id,
				Participants: []domain.ParticipantID{p},
				State:        domain.SessionPending,
				CreatedAt:    now,
				LastActivity: now,
			}}
			// The entry is visible to lookups as soon as the map lock drops,
			// so take its lock before publishing.
			e.mu.Lock()
			m.entries[id] = e
			m.mu.Unlock()
			s := snapshot(e)
			e.mu.Unlock()
			log.Info().Str("module", "store").Str("session", string(id)).Str("participant", string(p)).Msg("session created")
			return s, nil
		}
		m.mu.Unlock()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess.State == domain.SessionEnded {
		return domain.Session{}, domain.ErrSessionEnded
	}
	if e.sess.Has(p) {
		return snapshot(e), nil
	}
	if len(e.sess.Participants) >= domain.SessionCapacity {
		return domain.Session{}, domain.ErrCapacityExceeded
	}
	e.sess.Participants = append(e.sess.Participants, p)
	e.sess.State = domain.SessionActive
	e.sess.LastActivity = m.now()
	log.Info().Str("module", "store").Str("session", string(id)).Str("participant", string(p)).Msg("participant joined")
	return snapshot(e), nil
}

func (m *Memory) Get(id domain.SessionID) (domain.Session, error) {
	e, ok := m.lookup(id)
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return snapshot(e), nil
}

func (m *Memory) SetConfig(id domain.SessionID, p domain.ParticipantID, cfg domain.TransformConfig) error {
	e, ok := m.lookup(id)
	if !ok {
		return domain.ErrSessionNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess.State == domain.SessionEnded {
		return domain.ErrSessionEnded
	}
	if !e.sess.Has(p) {
		return domain.ErrNotParticipant
	}
	e.sess.Config = cfg
	e.sess.LastActivity = m.now()
	log.Info().Str("module", "store").Str("session", string(id)).
		Str("face", string(cfg.Face)).Str("voice", string(cfg.Voice)).Msg("transform config updated")
	return nil
}

func (m *Memory) End(id domain.SessionID) error {
	e, ok := m.lookup(id)
	if !ok {
		return domain.ErrSessionNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	m.endLocked(e)
	return nil
}

// endLocked requires e.mu held.
func (m *Memory) endLocked(e *entry) {
	if e.sess.State == domain.SessionEnded {
		return
	}
	e.sess.State = domain.SessionEnded
	e.sess.EndedAt = m.now()
	log.Info().Str("module", "store").Str("session", string(e.sess.ID)).Msg("session ended")
}

func (m *Memory) Touch(id domain.SessionID) error {
	e, ok := m.lookup(id)
	if !ok {
		return domain.ErrSessionNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess.State == domain.SessionEnded {
		return domain.ErrSessionEnded
	}
	e.sess.LastActivity = m.now()
	return nil
}

func (m *Memory) SweepIdle(idleThreshold time.Duration) []domain.SessionID {
	m.mu.RLock()
	candidates := make([]*entry, 0, len(m.entries))
	for _, e := range m.entries {
		candidates = append(candidates, e)
	}
	m.mu.RUnlock()

	cutoff := m.now().Add(-idleThreshold)
	var ended []domain.SessionID
	for _, e := range candidates {
		e.mu.Lock()
		if e.sess.State != domain.SessionEnded && e.sess.LastActivity.Before(cutoff) {
			m.endLocked(e)
			ended = append(ended, e.sess.ID)
		}
		e.mu.Unlock()
	}
	if len(ended) > 0 {
		log.Info().Str("module", "store").Int("count", len(ended)).Msg("idle sessions swept")
	}
	return ended
}

func (m *Memory) List() []domain.Session {
	m.mu.RLock()
	entries := make([]*entry, 0, len(m.entries))
	for _, e := range m.entries {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	out := make([]domain.Session, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, snapshot(e))
		e.mu.Unlock()
	}
	return out
}

// snapshot copies the session so callers never alias store-owned slices.
func snapshot(e *entry) domain.Session {
	s := e.sess
	s.Participants = append([]domain.ParticipantID(nil), e.sess.Participants...)
	return s
}
