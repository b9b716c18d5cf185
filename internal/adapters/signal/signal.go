// Package signal is the WebSocket transport adapter for the signaling relay.
package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/veilcall/morph/internal/adapters/rtc"
	"github.com/veilcall/morph/internal/domain"
	"github.com/veilcall/morph/internal/relay"
	"github.com/veilcall/morph/internal/store"
)

// connState is the per-connection lifecycle: a connection joins at most
// one room and never rejoins after leaving.
type connState int

const (
	stateConnected connState = iota
	stateJoined
	stateLeft
)

type Controller struct {
	Relay     *relay.Relay
	Store     store.SessionStore
	Media     *rtc.Bridge
	ReadLimit int64
}

func NewController(rel *relay.Relay, st store.SessionStore, media *rtc.Bridge, readLimit int64) *Controller {
	return &Controller{Relay: rel, Store: st, Media: media, ReadLimit: readLimit}
}

// wsConn implements relay.Conn over a gorilla websocket.
type wsConn struct {
	conn *websocket.Conn
	send chan domain.Frame

	mu      sync.RWMutex
	closed  bool
	state   connState
	session domain.SessionID
}

func (c *wsConn) TrySend(f domain.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return relay.ErrBackpressure
	}
	return nil
}

func (c *wsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// joined marks the transition Connected -> Joined. It fails once the
// connection has joined before or already left.
func (c *wsConn) joined(id domain.SessionID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateConnected {
		return false
	}
	c.state = stateJoined
	c.session = id
	return true
}

// left marks the transition Joined -> Left and reports the room to leave.
func (c *wsConn) left() (domain.SessionID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateJoined {
		return "", false
	}
	c.state = stateLeft
	return c.session, true
}

func (c *wsConn) room() (domain.SessionID, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session, c.state == stateJoined
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and runs the connection's pumps.
// The participant id is the client token set by the router middleware.
func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	pid := domain.ParticipantID(c.GetString("client_token"))
	log.Info().Str("module", "signal").Str("participant", string(pid)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	if ctl.ReadLimit > 0 {
		ws.SetReadLimit(ctl.ReadLimit)
	}

	conn := &wsConn{
		conn: ws,
		send: make(chan domain.Frame, 32),
	}

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	go func() {
		defer cancel()
		ctl.readPump(ctx, pid, conn)
		ctl.disconnect(pid, conn)
	}()
}

// disconnect tears down room membership when the socket goes away.
func (ctl *Controller) disconnect(pid domain.ParticipantID, conn *wsConn) {
	if id, ok := conn.left(); ok {
		if ctl.Media != nil {
			ctl.Media.Unregister(id, pid)
		}
		ctl.Relay.Leave(id, pid)
	}
}
