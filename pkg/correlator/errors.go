package correlator

import (
	"errors"
	"fmt"
	"time"

	"github.com/teslashibe/go-tradeschool/pkg/protocol"
)

// Sentinel errors.
var (
	// ErrDuplicateRequest is returned when registering an id that is already pending.
	ErrDuplicateRequest = errors.New("correlator: request already pending")

	// ErrEmptyID is returned when registering an empty correlation id.
	ErrEmptyID = errors.New("correlator: empty request id")

	// ErrClosed is the rejection cause for requests pending at shutdown.
	ErrClosed = errors.New("correlator: closed")

	// ErrTimeout matches any *TimeoutError via errors.Is.
	ErrTimeout = errors.New("correlator: timed out waiting for result")

	// ErrNoSuchRequest matches any *NoSuchRequestError via errors.Is.
	ErrNoSuchRequest = errors.New("correlator: no pending request")
)

// TimeoutError reports that no result arrived before the deadline.
type TimeoutError struct {
	RequestID protocol.RequestID
	After     time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s waiting for result of request %s", e.After, e.RequestID)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// NoSuchRequestError reports a delivery for an id that is not pending,
// because it was never registered or has already settled.
type NoSuchRequestError struct {
	RequestID protocol.RequestID
}

func (e *NoSuchRequestError) Error() string {
	return fmt.Sprintf("no pending request %s", e.RequestID)
}

func (e *NoSuchRequestError) Is(target error) bool { return target == ErrNoSuchRequest }
