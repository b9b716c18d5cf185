package rtc

import (
	"context"
	"sync"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/veilcall/morph/internal/domain"
	"github.com/veilcall/morph/internal/pipeline"
	"github.com/veilcall/morph/internal/store"
	"github.com/veilcall/morph/internal/transform"
)

// TrackSource adapts a remote RTP track to pipeline.Source.
// One coordinator is the only reader, so no locking is needed.
type TrackSource struct {
	track *webrtc.TrackRemote
}

func NewTrackSource(track *webrtc.TrackRemote) *TrackSource {
	return &TrackSource{track: track}
}

func (s *TrackSource) Next(ctx context.Context) (domain.Frame, time.Time, error) {
	if err := ctx.Err(); err != nil {
		return nil, time.Time{}, err
	}
	pkt, _, err := s.track.ReadRTP()
	if err != nil {
		return nil, time.Time{}, err
	}
	return domain.Frame(pkt.Payload), time.Now(), nil
}

// TrackSink writes transformed payloads to a local static track, rewriting
// RTP sequencing since the pipeline owns its own sequence space. The gate
// drops anything a late or duplicate job tries to slip through.
type TrackSink struct {
	track  *webrtc.TrackLocalStaticRTP
	gate   *pipeline.Gate
	tsStep uint32

	mu  sync.Mutex
	seq uint16
	ts  uint32
}

// Timestamp increments per frame at the usual clock rates: 90kHz video at
// 60fps, 48kHz audio in 20ms chunks.
const (
	videoTimestampStep = 90000 / 60
	audioTimestampStep = 48000 / 50
)

func NewTrackSink(track *webrtc.TrackLocalStaticRTP, stream domain.StreamKind) *TrackSink {
	step := uint32(videoTimestampStep)
	if stream == domain.StreamAudio {
		step = audioTimestampStep
	}
	return &TrackSink{track: track, gate: pipeline.NewGate(), tsStep: step}
}

func (s *TrackSink) Forward(job domain.FrameJob, payload domain.Frame) error {
	if !s.gate.Admit(job.Stream, job.Seq) {
		return nil
	}
	s.mu.Lock()
	s.seq++
	s.ts += s.tsStep
	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			SequenceNumber: s.seq,
			Timestamp:      s.ts,
		},
		Payload: payload,
	}
	s.mu.Unlock()
	return s.track.WriteRTP(pkt)
}

// Bridge wires remote tracks into per-stream coordinators and pairs each
// participant's media with its peer's outbound track.
type Bridge struct {
	Store         store.SessionStore
	Registry      transform.Resolver
	Transformer   transform.Transformer
	Budget        time.Duration
	DropThreshold int
	OnDegraded    func(domain.SessionID, domain.StreamKind)

	mu    sync.RWMutex
	conns map[domain.SessionID]map[domain.ParticipantID]*PeerConn
}

func NewBridge(st store.SessionStore, reg transform.Resolver, tr transform.Transformer, budget time.Duration, dropThreshold int) *Bridge {
	return &Bridge{
		Store:         st,
		Registry:      reg,
		Transformer:   tr,
		Budget:        budget,
		DropThreshold: dropThreshold,
		conns:         make(map[domain.SessionID]map[domain.ParticipantID]*PeerConn),
	}
}

func (b *Bridge) Register(id domain.SessionID, p domain.ParticipantID, pc *PeerConn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	room, ok := b.conns[id]
	if !ok {
		room = make(map[domain.ParticipantID]*PeerConn, domain.SessionCapacity)
		b.conns[id] = room
	}
	if old, ok := room[p]; ok {
		old.Close()
	}
	room[p] = pc
}

func (b *Bridge) Unregister(id domain.SessionID, p domain.ParticipantID) {
	b.mu.Lock()
	pc, ok := b.conns[id][p]
	if ok {
		delete(b.conns[id], p)
		if len(b.conns[id]) == 0 {
			delete(b.conns, id)
		}
	}
	b.mu.Unlock()
	if ok {
		pc.Close()
	}
}

func (b *Bridge) Conn(id domain.SessionID, p domain.ParticipantID) (*PeerConn, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	pc, ok := b.conns[id][p]
	return pc, ok
}

func (b *Bridge) peerOf(id domain.SessionID, p domain.ParticipantID) (*PeerConn, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for other, pc := range b.conns[id] {
		if other != p {
			return pc, true
		}
	}
	return nil, false
}

// OnTrack starts the transform loop for a newly arrived remote track and
// attaches its output to the peer's connection. Without a peer yet the
// track is ignored; the client renegotiates once the peer joins.
func (b *Bridge) OnTrack(ctx context.Context, id domain.SessionID, from domain.ParticipantID, track *webrtc.TrackRemote) {
	logger := log.With().
		Str("module", "rtc").
		Str("session", string(id)).
		Str("participant", string(from)).
		Str("kind", track.Kind().String()).
		Logger()

	peer, ok := b.peerOf(id, from)
	if !ok {
		logger.Info().Msg("no peer connection yet, track ignored")
		return
	}

	out, err := webrtc.NewTrackLocalStaticRTP(track.Codec().RTPCodecCapability, track.ID(), track.StreamID())
	if err != nil {
		logger.Error().Err(err).Msg("create out track")
		return
	}
	if _, err := peer.AddOutTrack(out); err != nil {
		logger.Error().Err(err).Msg("attach out track")
		return
	}

	stream := domain.StreamVideo
	if track.Kind() == webrtc.RTPCodecTypeAudio {
		stream = domain.StreamAudio
	}

	coord := pipeline.NewCoordinator(pipeline.Options{
		Store:         b.Store,
		Registry:      b.Registry,
		Transformer:   b.Transformer,
		Session:       id,
		Stream:        stream,
		Budget:        b.Budget,
		DropThreshold: b.DropThreshold,
		OnDegraded:    b.OnDegraded,
	})

	go func() {
		err := coord.Run(ctx, NewTrackSource(track), NewTrackSink(out, stream))
		if err != nil {
			logger.Info().Err(err).Msg("stream loop ended")
		}
	}()
}
