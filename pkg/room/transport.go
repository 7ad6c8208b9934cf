// Package room delivers data channel messages to participants of a
// real-time room.
//
// Hub is the in-process room service. Participants attach either over a
// websocket or over a WebRTC data channel; both look the same to senders.
package room

import (
	"context"
	"errors"
	"fmt"
)

// Transport sends a payload to named participants of a room.
type Transport interface {
	SendData(ctx context.Context, room string, payload []byte, identities []string) error
}

// Sentinel errors.
var (
	// ErrParticipantNotFound matches any *ParticipantNotFoundError.
	ErrParticipantNotFound = errors.New("room: participant not found")

	// ErrNoIdentities is returned when SendData gets no destination.
	ErrNoIdentities = errors.New("room: no destination identities")

	// ErrParticipantClosed is returned when writing to a closed participant.
	ErrParticipantClosed = errors.New("room: participant connection closed")
)

// ParticipantNotFoundError names the missing participant.
type ParticipantNotFoundError struct {
	Room     string
	Identity string
}

func (e *ParticipantNotFoundError) Error() string {
	return fmt.Sprintf("participant %q not in room %q", e.Identity, e.Room)
}

func (e *ParticipantNotFoundError) Is(target error) bool { return target == ErrParticipantNotFound }
