package signal

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/veilcall/morph/internal/domain"
)

func TestConnStateMachine(t *testing.T) {
	t.Parallel()
	c := &wsConn{}

	_, ok := c.room()
	assert.False(t, ok)
	_, ok = c.left()
	assert.False(t, ok, "cannot leave before joining")

	assert.True(t, c.joined("r1"))
	assert.False(t, c.joined("r2"), "a connection joins at most one room")

	id, ok := c.room()
	assert.True(t, ok)
	assert.Equal(t, domain.SessionID("r1"), id)

	id, ok = c.left()
	assert.True(t, ok)
	assert.Equal(t, domain.SessionID("r1"), id)

	_, ok = c.left()
	assert.False(t, ok, "leave is one-way")
	assert.False(t, c.joined("r1"), "no rejoin after leaving")
}

func TestErrorCodes(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "room_full", joinErrorCode(domain.ErrCapacityExceeded))
	assert.Equal(t, "call_ended", joinErrorCode(domain.ErrSessionEnded))
	assert.Equal(t, "bad_room_id", joinErrorCode(domain.ErrSessionIDInvalid))

	assert.Equal(t, "call_ended", sessionErrorCode(domain.ErrSessionNotFound))
	assert.Equal(t, "call_ended", sessionErrorCode(domain.ErrSessionEnded))
	assert.Equal(t, "not_joined", sessionErrorCode(domain.ErrNotParticipant))
}
