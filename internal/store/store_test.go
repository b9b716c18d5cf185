package store

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veilcall/morph/internal/domain"
)

func TestCreateFirstParticipantPending(t *testing.T) {
	t.Parallel()
	m := NewMemory()

	sess, err := m.Create("r1", "P1")
	require.NoError(t, err)
	assert.Equal(t, domain.SessionPending, sess.State)
	assert.Equal(t, []domain.ParticipantID{"P1"}, sess.Participants)
	assert.False(t, sess.CreatedAt.IsZero())
	assert.True(t, sess.EndedAt.IsZero())
}

func TestCreateSecondParticipantActivates(t *testing.T) {
	t.Parallel()
	m := NewMemory()

	_, err := m.Create("r1", "P1")
	require.NoError(t, err)
	sess, err := m.Create("r1", "P2")
	require.NoError(t, err)
	assert.Equal(t, domain.SessionActive, sess.State)
	assert.ElementsMatch(t, []domain.ParticipantID{"P1", "P2"}, sess.Participants)
}

func TestCreateThirdParticipantRejected(t *testing.T) {
	t.Parallel()
	m := NewMemory()

	_, err := m.Create("r1", "P1")
	require.NoError(t, err)
	_, err = m.Create("r1", "P2")
	require.NoError(t, err)

	_, err = m.Create("r1", "P3")
	assert.ErrorIs(t, err, domain.ErrCapacityExceeded)

	// The rejected join must not mutate state.
	sess, err := m.Get("r1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []domain.ParticipantID{"P1", "P2"}, sess.Participants)
	assert.Equal(t, domain.SessionActive, sess.State)
}

func TestCreateRejoinIsIdempotent(t *testing.T) {
	t.Parallel()
	m := NewMemory()

	first, err := m.Create("r1", "P1")
	require.NoError(t, err)
	again, err := m.Create("r1", "P1")
	require.NoError(t, err)
	assert.Equal(t, first.Participants, again.Participants)
	assert.Equal(t, first.State, again.State)
}

func TestCreateConcurrentJoinsSameSession(t *testing.T) {
	t.Parallel()
	m := NewMemory()

	// Two participants race to create the same room; each must get back a
	// consistent snapshot and the final state must hold both.
	var wg sync.WaitGroup
	for _, p := range []domain.ParticipantID{"P1", "P2"} {
		p := p
		wg.Add(1)
		go func() {
			defer wg.Done()
			sess, err := m.Create("r1", p)
			require.NoError(t, err)
			assert.True(t, sess.Has(p))
			assert.LessOrEqual(t, len(sess.Participants), domain.SessionCapacity)
		}()
	}
	wg.Wait()

	sess, err := m.Get("r1")
	require.NoError(t, err)
	assert.Equal(t, domain.SessionActive, sess.State)
	assert.ElementsMatch(t, []domain.ParticipantID{"P1", "P2"}, sess.Participants)
}

func TestCreateValidatesID(t *testing.T) {
	t.Parallel()
	m := NewMemory()

	_, err := m.Create("", "P1")
	assert.ErrorIs(t, err, domain.ErrSessionIDInvalid)
}

func TestGetUnknown(t *testing.T) {
	t.Parallel()
	m := NewMemory()

	_, err := m.Get("nope")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestEndIsIdempotent(t *testing.T) {
	t.Parallel()
	m := NewMemory()

	_, err := m.Create("r1", "P1")
	require.NoError(t, err)
	require.NoError(t, m.End("r1"))

	sess, err := m.Get("r1")
	require.NoError(t, err)
	endedAt := sess.EndedAt
	require.False(t, endedAt.IsZero())

	require.NoError(t, m.End("r1"))
	sess, err = m.Get("r1")
	require.NoError(t, err)
	assert.Equal(t, endedAt, sess.EndedAt)
	assert.Equal(t, domain.SessionEnded, sess.State)
}

func TestSetConfig(t *testing.T) {
	t.Parallel()
	m := NewMemory()

	_, err := m.Create("r1", "P1")
	require.NoError(t, err)

	cfg := domain.TransformConfig{Face: "face-v2", Voice: "voice-lo"}
	require.NoError(t, m.SetConfig("r1", "P1", cfg))

	sess, err := m.Get("r1")
	require.NoError(t, err)
	assert.Equal(t, cfg, sess.Config)

	assert.ErrorIs(t, m.SetConfig("r1", "P9", cfg), domain.ErrNotParticipant)
	assert.ErrorIs(t, m.SetConfig("nope", "P1", cfg), domain.ErrSessionNotFound)

	require.NoError(t, m.End("r1"))
	assert.ErrorIs(t, m.SetConfig("r1", "P1", cfg), domain.ErrSessionEnded)
}

func TestTouchEnded(t *testing.T) {
	t.Parallel()
	m := NewMemory()

	_, err := m.Create("r1", "P1")
	require.NoError(t, err)
	require.NoError(t, m.Touch("r1"))
	require.NoError(t, m.End("r1"))
	assert.ErrorIs(t, m.Touch("r1"), domain.ErrSessionEnded)
}

func TestSweepIdle(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	m.now = func() time.Time { return base }

	_, err := m.Create("stale", "P1")
	require.NoError(t, err)
	_, err = m.Create("fresh", "P1")
	require.NoError(t, err)
	_, err = m.Create("done", "P1")
	require.NoError(t, err)
	require.NoError(t, m.End("done"))

	// Advance the clock and refresh only the fresh session.
	m.now = func() time.Time { return base.Add(90 * time.Second) }
	require.NoError(t, m.Touch("fresh"))

	m.now = func() time.Time { return base.Add(2 * time.Minute) }
	ended := m.SweepIdle(time.Minute)
	assert.Equal(t, []domain.SessionID{"stale"}, ended)

	sess, err := m.Get("stale")
	require.NoError(t, err)
	assert.Equal(t, domain.SessionEnded, sess.State)

	sess, err = m.Get("fresh")
	require.NoError(t, err)
	assert.NotEqual(t, domain.SessionEnded, sess.State)

	// Already-ended sessions are not reported again.
	assert.NotContains(t, ended, domain.SessionID("done"))
}

func TestSnapshotDoesNotAliasStore(t *testing.T) {
	t.Parallel()
	m := NewMemory()

	_, err := m.Create("r1", "P1")
	require.NoError(t, err)
	sess, err := m.Get("r1")
	require.NoError(t, err)
	sess.Participants[0] = "evil"

	fresh, err := m.Get("r1")
	require.NoError(t, err)
	assert.Equal(t, []domain.ParticipantID{"P1"}, fresh.Participants)
}
