package signal

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/veilcall/morph/internal/domain"
	"github.com/veilcall/morph/internal/relay"
)

func (ctl *Controller) handleMessage(ctx context.Context, pid domain.ParticipantID, c *wsConn, data []byte) {
	var env relay.Message
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		ctl.sendError(c, "bad_payload")
		return
	}

	switch env.Type {
	case "join":
		ctl.handleJoin(pid, c, env)
	case "leave":
		ctl.handleLeave(pid, c)
	case "ping":
		ctl.sendJSON(c, map[string]string{"type": "pong"})
	case "whoami":
		ctl.handleWhoAmI(pid, c)
	case "config-changed":
		ctl.handleConfigChanged(pid, c, env)
	case "offer", "answer", "candidate":
		ctl.relayVerbatim(pid, c, env)
	case "process-offer":
		ctl.handleProcessOffer(ctx, pid, c, env)
	case "process-candidate":
		ctl.handleProcessCandidate(pid, c, env)
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown signal")
	}
}

func (ctl *Controller) handleJoin(pid domain.ParticipantID, c *wsConn, env relay.Message) {
	if _, joined := c.room(); joined {
		ctl.sendError(c, "already_joined")
		return
	}

	sess, err := ctl.Relay.Join(env.Room, pid, c)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("session", string(env.Room)).Msg("join rejected")
		ctl.sendError(c, joinErrorCode(err))
		return
	}
	if !c.joined(env.Room) {
		// Lost the race against a concurrent join on the same socket.
		ctl.Relay.Leave(env.Room, pid)
		ctl.sendError(c, "already_joined")
		return
	}

	ctl.sendJSON(c, roomState(sess))
}

func (ctl *Controller) handleLeave(pid domain.ParticipantID, c *wsConn) {
	id, ok := c.left()
	if !ok {
		ctl.sendError(c, "not_joined")
		return
	}
	if ctl.Media != nil {
		ctl.Media.Unregister(id, pid)
	}
	ctl.Relay.Leave(id, pid)
	ctl.sendJSON(c, map[string]string{"type": "left"})
}

func (ctl *Controller) handleWhoAmI(pid domain.ParticipantID, c *wsConn) {
	resp := struct {
		Type        string           `json:"type"`
		Participant string           `json:"participant"`
		Room        domain.SessionID `json:"roomId,omitempty"`
	}{
		Type:        "whoami",
		Participant: string(pid),
	}
	if id, ok := c.room(); ok {
		resp.Room = id
	}
	ctl.sendJSON(c, resp)
}

// handleConfigChanged updates the session's transform config, then relays
// the event so the peer's UI can reflect the swap. Frames dispatched after
// this point use the new config; in-flight jobs keep their snapshot.
func (ctl *Controller) handleConfigChanged(pid domain.ParticipantID, c *wsConn, env relay.Message) {
	id, ok := c.room()
	if !ok {
		ctl.sendError(c, "not_joined")
		return
	}

	var cfg domain.TransformConfig
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &cfg); err != nil {
			log.Error().Err(err).Str("module", "signal").Msg("bad config payload")
			ctl.sendError(c, "bad_payload")
			return
		}
	}

	if err := ctl.Store.SetConfig(id, pid, cfg); err != nil {
		ctl.sendError(c, sessionErrorCode(err))
		return
	}
	env.Room = id
	env.From = string(pid)
	if err := ctl.Relay.Send(id, pid, env); err != nil {
		ctl.sendError(c, sessionErrorCode(err))
	}
}

// relayVerbatim forwards call-setup messages unmodified to the peer.
func (ctl *Controller) relayVerbatim(pid domain.ParticipantID, c *wsConn, env relay.Message) {
	id, ok := c.room()
	if !ok {
		ctl.sendError(c, "not_joined")
		return
	}
	env.Room = id
	env.From = string(pid)
	if err := ctl.Relay.Send(id, pid, env); err != nil {
		ctl.sendError(c, sessionErrorCode(err))
	}
}

func roomState(sess domain.Session) any {
	participants := make([]string, 0, len(sess.Participants))
	for _, p := range sess.Participants {
		participants = append(participants, string(p))
	}
	return struct {
		Type         string                 `json:"type"`
		Room         domain.SessionID       `json:"roomId"`
		State        string                 `json:"state"`
		Participants []string               `json:"participants"`
		Config       domain.TransformConfig `json:"config"`
	}{
		Type:         "room-state",
		Room:         sess.ID,
		State:        sess.State.String(),
		Participants: participants,
		Config:       sess.Config,
	}
}

func joinErrorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrCapacityExceeded):
		return "room_full"
	case errors.Is(err, domain.ErrSessionEnded):
		return "call_ended"
	case errors.Is(err, domain.ErrSessionIDInvalid):
		return "bad_room_id"
	}
	return "join_failed"
}

func sessionErrorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound), errors.Is(err, domain.ErrSessionEnded):
		return "call_ended"
	case errors.Is(err, domain.ErrNotParticipant):
		return "not_joined"
	}
	return "internal"
}
