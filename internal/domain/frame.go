package domain

import "time"

// Frame is a raw media payload (one video frame or audio chunk).
type Frame []byte

type StreamKind int

const (
	StreamVideo StreamKind = iota
	StreamAudio
)

func (k StreamKind) String() string {
	if k == StreamAudio {
		return "audio"
	}
	return "video"
}

// FrameJob is one in-flight unit of pipeline work. It lives for a single
// coordinator tick and is never persisted.
type FrameJob struct {
	SessionID   SessionID
	Stream      StreamKind
	Seq         uint64
	Payload     Frame
	SubmittedAt time.Time
	Deadline    time.Time
}

// Late reports whether the job's deadline has already passed.
func (j FrameJob) Late(now time.Time) bool {
	return now.After(j.Deadline)
}
