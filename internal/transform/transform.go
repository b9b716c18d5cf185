// Package transform is the pluggable per-frame processing boundary.
// The pipeline only depends on the contracts here; the actual
// transformation algorithm lives behind the Transformer interface.
package transform

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/veilcall/morph/internal/domain"
)

var (
	// ErrDeadline means the frame budget elapsed before the transform finished.
	ErrDeadline = errors.New("transform deadline exceeded")
	// ErrTransform wraps internal transform failures; the pipeline treats it
	// like ErrDeadline but it is logged distinctly for diagnosis.
	ErrTransform = errors.New("transform failed")
)

// Transformer turns one frame into its transformed counterpart.
// Implementations must be pure functions of (payload, params): no shared
// mutable state, safe for concurrent calls across sessions. They must
// observe ctx and abandon work once it is done.
type Transformer interface {
	Transform(ctx context.Context, job domain.FrameJob, params ModelParams) (domain.Frame, error)
}

// Passthrough returns the input unchanged. It is the trivial Transformer
// used for loopback testing and as the default until a real model is wired.
type Passthrough struct{}

func (Passthrough) Transform(ctx context.Context, job domain.FrameJob, _ ModelParams) (domain.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return job.Payload, nil
}

// Dispatch runs t under the job's deadline and never returns a late result.
// A result arriving after the deadline is discarded and ErrDeadline is
// returned instead; the abandoned goroutine drains into the buffered channel.
func Dispatch(ctx context.Context, t Transformer, job domain.FrameJob, params ModelParams) (domain.Frame, error) {
	ctx, cancel := context.WithDeadline(ctx, job.Deadline)
	defer cancel()

	type result struct {
		out domain.Frame
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := t.Transform(ctx, job, params)
		done <- result{out: out, err: err}
	}()

	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrDeadline
		}
		return nil, ctx.Err()
	case r := <-done:
		if r.err != nil {
			if errors.Is(r.err, context.DeadlineExceeded) {
				return nil, ErrDeadline
			}
			if errors.Is(r.err, context.Canceled) {
				return nil, r.err
			}
			return nil, fmt.Errorf("%w: %w", ErrTransform, r.err)
		}
		if job.Late(time.Now()) {
			return nil, ErrDeadline
		}
		return r.out, nil
	}
}
