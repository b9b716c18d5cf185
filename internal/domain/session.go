// Package domain contains entities without logic, just meta-data.
package domain

import (
	"errors"
	"slices"
	"time"
)

const (
	// SessionCapacity is the participant limit of a 1:1 call.
	SessionCapacity = 2

	MaxSessionIDLen = 64
)

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionEnded     = errors.New("session ended")
	ErrCapacityExceeded = errors.New("session capacity exceeded")
	ErrNotParticipant   = errors.New("not a session participant")
	ErrSessionIDInvalid = errors.New("session id empty or too long")
)

type (
	SessionID     string
	ParticipantID string
)

type SessionState int

const (
	SessionPending SessionState = iota
	SessionActive
	SessionEnded
)

func (s SessionState) String() string {
	switch s {
	case SessionPending:
		return "pending"
	case SessionActive:
		return "active"
	case SessionEnded:
		return "ended"
	}
	return "unknown"
}

// ModelRef is an opaque reference into the external model registry.
type ModelRef string

// TransformConfig is the currently selected model pair for a session.
// A zero ref means "no transformation" for that stream.
type TransformConfig struct {
	Face  ModelRef `json:"face,omitempty"`
	Voice ModelRef `json:"voice,omitempty"`
}

// Session represents one active or past call.
// EndedAt is set if and only if State == SessionEnded.
type Session struct {
	ID           SessionID
	Participants []ParticipantID
	State        SessionState
	Config       TransformConfig
	CreatedAt    time.Time
	EndedAt      time.Time
	LastActivity time.Time
}

func (s *Session) Has(p ParticipantID) bool {
	return slices.Contains(s.Participants, p)
}

// ValidateSessionID keeps ids bounded; they come straight off the wire.
func ValidateSessionID(id SessionID) error {
	if len(id) == 0 || len(id) > MaxSessionIDLen {
		return ErrSessionIDInvalid
	}
	return nil
}
