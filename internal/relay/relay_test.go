package relay

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veilcall/morph/internal/domain"
	"github.com/veilcall/morph/internal/store"
)

type fakeConn struct {
	mu       sync.Mutex
	received []Message
	closed   bool
}

func (c *fakeConn) TrySend(data domain.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}
	c.received = append(c.received, msg)
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConn) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.received))
	for _, m := range c.received {
		out = append(out, m.Type)
	}
	return out
}

func TestJoinNotifiesExistingPeer(t *testing.T) {
	t.Parallel()
	r := New(store.NewMemory())
	c1, c2 := &fakeConn{}, &fakeConn{}

	sess, err := r.Join("r1", "P1", c1)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionPending, sess.State)

	sess, err = r.Join("r1", "P2", c2)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionActive, sess.State)

	assert.Equal(t, []string{"peer-joined"}, c1.types())
	assert.Empty(t, c2.types())
}

func TestJoinThirdParticipantRejected(t *testing.T) {
	t.Parallel()
	r := New(store.NewMemory())
	_, err := r.Join("r1", "P1", &fakeConn{})
	require.NoError(t, err)
	_, err = r.Join("r1", "P2", &fakeConn{})
	require.NoError(t, err)

	_, err = r.Join("r1", "P3", &fakeConn{})
	assert.ErrorIs(t, err, domain.ErrCapacityExceeded)
}

func TestSendForwardsVerbatimToPeerOnly(t *testing.T) {
	t.Parallel()
	st := store.NewMemory()
	r := New(st)
	c1, c2 := &fakeConn{}, &fakeConn{}
	other := &fakeConn{}

	_, err := r.Join("r1", "P1", c1)
	require.NoError(t, err)
	_, err = r.Join("r1", "P2", c2)
	require.NoError(t, err)
	_, err = r.Join("r2", "P3", other)
	require.NoError(t, err)

	payload := json.RawMessage(`{"sdp":"v=0..."}`)
	require.NoError(t, r.Send("r1", "P1", Message{Type: "offer", Room: "r1", Payload: payload}))
	require.NoError(t, r.Send("r1", "P1", Message{Type: "candidate", Room: "r1"}))

	// Sender-ordered delivery to the peer, nothing back to the sender,
	// nothing across rooms.
	assert.Equal(t, []string{"offer", "candidate"}, c2.types())
	c2.mu.Lock()
	assert.JSONEq(t, string(payload), string(c2.received[0].Payload))
	c2.mu.Unlock()
	assert.Equal(t, []string{"peer-joined"}, c1.types())
	assert.Empty(t, other.types())
}

func TestSendWithoutPeerDropsSilently(t *testing.T) {
	t.Parallel()
	r := New(store.NewMemory())
	c1 := &fakeConn{}
	_, err := r.Join("r1", "P1", c1)
	require.NoError(t, err)

	assert.NoError(t, r.Send("r1", "P1", Message{Type: "offer", Room: "r1"}))
	assert.Empty(t, c1.types())
}

func TestSendUnknownRoom(t *testing.T) {
	t.Parallel()
	r := New(store.NewMemory())
	err := r.Send("nope", "P1", Message{Type: "offer"})
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestLeaveNotifiesPeer(t *testing.T) {
	t.Parallel()
	st := store.NewMemory()
	r := New(st)
	c1, c2 := &fakeConn{}, &fakeConn{}
	_, err := r.Join("r1", "P1", c1)
	require.NoError(t, err)
	_, err = r.Join("r1", "P2", c2)
	require.NoError(t, err)

	r.Leave("r1", "P1")
	assert.Equal(t, []string{"peer-left"}, c2.types())

	// Session is still alive while one participant remains.
	sess, err := st.Get("r1")
	require.NoError(t, err)
	assert.NotEqual(t, domain.SessionEnded, sess.State)
}

func TestLeaveEmptyingRoomEndsSession(t *testing.T) {
	t.Parallel()
	st := store.NewMemory()
	r := New(st)
	_, err := r.Join("r1", "P1", &fakeConn{})
	require.NoError(t, err)
	_, err = r.Join("r1", "P2", &fakeConn{})
	require.NoError(t, err)

	r.Leave("r1", "P1")
	r.Leave("r1", "P2")

	sess, err := st.Get("r1")
	require.NoError(t, err)
	assert.Equal(t, domain.SessionEnded, sess.State)
	assert.False(t, sess.EndedAt.IsZero())

	// The room is gone; further relay traffic has nowhere to go.
	err = r.Send("r1", "P1", Message{Type: "offer", Room: "r1"})
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}
