// Package pipeline runs the per-stream real-time loop:
// capture, transform under a frame budget, forward or drop.
package pipeline

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/veilcall/morph/internal/domain"
	"github.com/veilcall/morph/internal/store"
	"github.com/veilcall/morph/internal/transform"
)

// Source produces captured frames. The coordinator pulls, never the
// other way around. Next blocks until a frame is available, the source
// is exhausted (io.EOF or any other error), or ctx is done.
type Source interface {
	Next(ctx context.Context) (domain.Frame, time.Time, error)
}

// Sink receives transformed frames for best-effort delivery to the peer.
type Sink interface {
	Forward(job domain.FrameJob, payload domain.Frame) error
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context) (domain.Frame, time.Time, error)

func (f SourceFunc) Next(ctx context.Context) (domain.Frame, time.Time, error) { return f(ctx) }

// Coordinator owns one (session, stream) loop. Frames of one stream are
// processed strictly sequentially; memory is bounded to one in-flight job.
type Coordinator struct {
	store       store.SessionStore
	registry    transform.Resolver
	transformer transform.Transformer

	session domain.SessionID
	stream  domain.StreamKind

	budget        time.Duration
	dropThreshold int
	// onDegraded fires once each time consecutive drops reach the threshold.
	onDegraded func(domain.SessionID, domain.StreamKind)

	seq         uint64
	lastGood    domain.Frame
	consecutive int
	dropped     atomic.Uint64
	forwarded   atomic.Uint64

	logger zerolog.Logger
}

type Options struct {
	Store         store.SessionStore
	Registry      transform.Resolver
	Transformer   transform.Transformer
	Session       domain.SessionID
	Stream        domain.StreamKind
	Budget        time.Duration
	DropThreshold int
	OnDegraded    func(domain.SessionID, domain.StreamKind)
}

func NewCoordinator(opts Options) *Coordinator {
	return &Coordinator{
		store:         opts.Store,
		registry:      opts.Registry,
		transformer:   opts.Transformer,
		session:       opts.Session,
		stream:        opts.Stream,
		budget:        opts.Budget,
		dropThreshold: opts.DropThreshold,
		onDegraded:    opts.OnDegraded,
		logger: log.With().
			Str("module", "pipeline").
			Str("session", string(opts.Session)).
			Str("stream", opts.Stream.String()).
			Logger(),
	}
}

// Dropped returns the number of frames that missed their deadline or
// failed to transform.
func (c *Coordinator) Dropped() uint64 { return c.dropped.Load() }

// Forwarded returns the number of freshly transformed frames delivered to
// the sink; repeated frames count as drops, not forwards.
func (c *Coordinator) Forwarded() uint64 { return c.forwarded.Load() }

// Run drives the loop until ctx is done, the source is exhausted, or the
// session ends. Per-frame errors never terminate it; only session
// lifecycle errors do, and those are returned to the caller.
func (c *Coordinator) Run(ctx context.Context, src Source, sink Sink) error {
	c.logger.Info().Msg("coordinator started")
	defer c.logger.Info().
		Uint64("forwarded", c.forwarded.Load()).
		Uint64("dropped", c.dropped.Load()).
		Msg("coordinator stopped")

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		payload, capturedAt, err := src.Next(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			c.logger.Info().Err(err).Msg("capture source exhausted")
			return nil
		}

		if err := c.tick(ctx, sink, payload, capturedAt); err != nil {
			return err
		}
	}
}

// tick handles exactly one captured frame.
func (c *Coordinator) tick(ctx context.Context, sink Sink, payload domain.Frame, capturedAt time.Time) error {
	c.seq++
	job := domain.FrameJob{
		SessionID:   c.session,
		Stream:      c.stream,
		Seq:         c.seq,
		Payload:     payload,
		SubmittedAt: capturedAt,
		Deadline:    capturedAt.Add(c.budget),
	}

	// Config is snapshotted here; a swap mid-flight never affects this job.
	sess, err := c.store.Get(c.session)
	if err != nil {
		return err
	}
	if sess.State == domain.SessionEnded {
		return domain.ErrSessionEnded
	}

	repeated := false
	out, err := c.process(ctx, job, sess.Config)
	if err != nil {
		out = c.drop(job, err)
		if out == nil {
			// Nothing good to repeat yet; skip the tick entirely.
			return nil
		}
		repeated = true
	} else {
		c.consecutive = 0
		c.lastGood = out
	}

	_ = c.store.Touch(c.session)
	if err := sink.Forward(job, out); err != nil {
		// Delivery is fire-and-forget; the next tick supersedes this frame.
		c.logger.Debug().Err(err).Uint64("seq", job.Seq).Msg("forward failed")
		return nil
	}
	if !repeated {
		c.forwarded.Add(1)
	}
	return nil
}

// process runs the registry lookup and the transform under one deadline;
// a slow resolver misses the frame budget the same way a slow transform does.
func (c *Coordinator) process(ctx context.Context, job domain.FrameJob, cfg domain.TransformConfig) (domain.Frame, error) {
	ctx, cancel := context.WithDeadline(ctx, job.Deadline)
	defer cancel()

	params, err := c.registry.Resolve(ctx, cfg)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, transform.ErrDeadline
		}
		return nil, err
	}
	return transform.Dispatch(ctx, c.transformer, job, params)
}

// drop applies the drop policy: repeat the last good frame, count the
// miss, and surface a degradation warning after enough misses in a row.
func (c *Coordinator) drop(job domain.FrameJob, cause error) domain.Frame {
	c.dropped.Add(1)
	c.consecutive++

	evt := c.logger.Debug().Uint64("seq", job.Seq)
	if errors.Is(cause, transform.ErrDeadline) {
		evt.Msg("frame missed deadline, repeating last good")
	} else {
		evt.Err(cause).Msg("transform failed, repeating last good")
	}

	if c.dropThreshold > 0 && c.consecutive == c.dropThreshold && c.onDegraded != nil {
		c.logger.Warn().Int("consecutive", c.consecutive).Msg("connection degraded")
		c.onDegraded(c.session, c.stream)
	}
	return c.lastGood
}
