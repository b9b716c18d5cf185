package signal

import (
	"context"
	"encoding/json"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/veilcall/morph/internal/adapters/rtc"
	"github.com/veilcall/morph/internal/domain"
	"github.com/veilcall/morph/internal/relay"
)

// handleProcessOffer sets up the server-processed media mode: the client
// sends its media to us, each track runs through the transform pipeline,
// and the result is pushed to the peer's connection.
func (ctl *Controller) handleProcessOffer(ctx context.Context, pid domain.ParticipantID, c *wsConn, env relay.Message) {
	if ctl.Media == nil {
		ctl.sendError(c, "media_disabled")
		return
	}
	id, ok := c.room()
	if !ok {
		ctl.sendError(c, "not_joined")
		return
	}

	var p struct {
		SDP string `json:"sdp"`
	}
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad process-offer payload")
		ctl.sendError(c, "bad_payload")
		return
	}

	pc, err := rtc.NewPeerConn(rtc.DefaultWebRTCConfig(), pid)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("webrtc new pc")
		ctl.sendError(c, "internal")
		return
	}

	pc.OnICECandidate(func(ci webrtc.ICECandidateInit) {
		ctl.sendCandidate(c, ci)
	})
	pc.OnTrack(func(trackCtx context.Context, track *webrtc.TrackRemote) {
		ctl.Media.OnTrack(trackCtx, id, pid, track)
	})
	pc.OnClosed(func() {
		ctl.Media.Unregister(id, pid)
	})

	if err := pc.Start(ctx); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("webrtc start")
		pc.Close()
		ctl.sendError(c, "internal")
		return
	}

	answer, err := pc.ApplyOfferAndCreateAnswer(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  p.SDP,
	})
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("webrtc apply offer")
		pc.Close()
		ctl.sendError(c, "internal")
		return
	}

	ctl.Media.Register(id, pid, pc)

	ctl.sendJSON(c, map[string]string{
		"type": "process-answer",
		"sdp":  answer.SDP,
	})
}

func (ctl *Controller) handleProcessCandidate(pid domain.ParticipantID, c *wsConn, env relay.Message) {
	if ctl.Media == nil {
		ctl.sendError(c, "media_disabled")
		return
	}
	id, ok := c.room()
	if !ok {
		ctl.sendError(c, "not_joined")
		return
	}

	var p struct {
		Candidate     string `json:"candidate"`
		SDPMid        string `json:"sdpMid"`
		SDPMLineIndex uint16 `json:"sdpMLineIndex"`
	}
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad process-candidate payload")
		return
	}

	cand := webrtc.ICECandidateInit{Candidate: p.Candidate}
	if p.SDPMid != "" {
		cand.SDPMid = &p.SDPMid
	}
	cand.SDPMLineIndex = &p.SDPMLineIndex

	pc, ok := ctl.Media.Conn(id, pid)
	if !ok {
		log.Warn().Str("module", "signal").Str("participant", string(pid)).Msg("candidate: no media connection")
		return
	}
	if err := pc.AddICECandidate(cand); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("add ice candidate")
	}
}

func (ctl *Controller) sendCandidate(c *wsConn, ci webrtc.ICECandidateInit) {
	resp := struct {
		Type          string `json:"type"`
		Candidate     string `json:"candidate"`
		SDPMid        string `json:"sdpMid,omitempty"`
		SDPMLineIndex uint16 `json:"sdpMLineIndex,omitempty"`
	}{
		Type:      "process-candidate",
		Candidate: ci.Candidate,
	}
	if ci.SDPMid != nil {
		resp.SDPMid = *ci.SDPMid
	}
	if ci.SDPMLineIndex != nil {
		resp.SDPMLineIndex = *ci.SDPMLineIndex
	}
	ctl.sendJSON(c, resp)
}
