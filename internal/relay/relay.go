// Package relay delivers call-setup and control messages between the
// participants of one session, and nothing else.
package relay

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/veilcall/morph/internal/domain"
	"github.com/veilcall/morph/internal/store"
)

var ErrBackpressure = errors.New("backpressure")

// Conn is the per-participant signaling transport endpoint.
// Owned by the adapter; the adapter must Close() it.
type Conn interface {
	TrySend(domain.Frame) error
	Close()
}

// Message is the opaque envelope the relay forwards. Payload is never
// interpreted here.
type Message struct {
	Type    string           `json:"type"`
	Room    domain.SessionID `json:"roomId"`
	From    string           `json:"from,omitempty"`
	Payload json.RawMessage  `json:"payload,omitempty"`
}

// Relay tracks which connection speaks for which participant per session.
// Membership truth lives in the session store; the relay only owns transports.
type Relay struct {
	store store.SessionStore

	mu    sync.RWMutex
	rooms map[domain.SessionID]map[domain.ParticipantID]Conn
}

func New(st store.SessionStore) *Relay {
	return &Relay{
		store: st,
		rooms: make(map[domain.SessionID]map[domain.ParticipantID]Conn),
	}
}

// Join registers conn as the transport for p in the session, creating or
// joining the session in the store, and notifies the existing peer.
func (r *Relay) Join(id domain.SessionID, p domain.ParticipantID, conn Conn) (domain.Session, error) {
	sess, err := r.store.Create(id, p)
	if err != nil {
		return domain.Session{}, err
	}

	r.mu.Lock()
	room, ok := r.rooms[id]
	if !ok {
		room = make(map[domain.ParticipantID]Conn, domain.SessionCapacity)
		r.rooms[id] = room
	}
	room[p] = conn
	r.mu.Unlock()

	log.Info().Str("module", "relay").Str("session", string(id)).Str("participant", string(p)).Msg("joined")

	r.notifyPeers(id, p, Message{Type: "peer-joined", Room: id, From: string(p)})
	return sess, nil
}

// Send forwards msg verbatim to every other participant in the room.
// A room with no peer yet drops the message silently (logged only): early
// signaling is expected to be retried by the caller's negotiation logic.
func (r *Relay) Send(id domain.SessionID, from domain.ParticipantID, msg Message) error {
	r.mu.RLock()
	room, ok := r.rooms[id]
	var peers []Conn
	if ok {
		for p, c := range room {
			if p != from {
				peers = append(peers, c)
			}
		}
	}
	r.mu.RUnlock()

	if !ok {
		return domain.ErrSessionNotFound
	}

	sess, err := r.store.Get(id)
	if err != nil {
		return err
	}
	if sess.State == domain.SessionEnded {
		return domain.ErrSessionEnded
	}
	_ = r.store.Touch(id)

	if len(peers) == 0 {
		log.Debug().Str("module", "relay").Str("session", string(id)).Str("type", msg.Type).Msg("no peer yet, message dropped")
		return nil
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	for _, c := range peers {
		if err := c.TrySend(data); err != nil {
			// Not retried here; the sender's negotiation logic owns retries.
			log.Warn().Err(err).Str("module", "relay").Str("session", string(id)).Str("type", msg.Type).Msg("peer send failed")
		}
	}
	return nil
}

// Leave deregisters p's connection. Emptying the room ends the session.
func (r *Relay) Leave(id domain.SessionID, p domain.ParticipantID) {
	r.mu.Lock()
	room, ok := r.rooms[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(room, p)
	empty := len(room) == 0
	if empty {
		delete(r.rooms, id)
	}
	r.mu.Unlock()

	log.Info().Str("module", "relay").Str("session", string(id)).Str("participant", string(p)).Msg("left")

	if empty {
		_ = r.store.End(id)
		return
	}
	r.notifyPeers(id, p, Message{Type: "peer-left", Room: id, From: string(p)})
}

// Notify sends a control message to every participant of a session.
// Used for server-originated events like degradation warnings.
func (r *Relay) Notify(id domain.SessionID, msg Message) {
	r.notifyPeers(id, "", msg)
}

func (r *Relay) notifyPeers(id domain.SessionID, from domain.ParticipantID, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for p, c := range r.rooms[id] {
		if p == from {
			continue
		}
		if err := c.TrySend(data); err != nil {
			log.Warn().Err(err).Str("module", "relay").Str("session", string(id)).Str("type", msg.Type).Msg("notify failed")
		}
	}
}
