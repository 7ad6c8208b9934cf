package room

import (
	"context"
	"sync"
)

// Sent is one recorded SendData call.
type Sent struct {
	Room       string
	Payload    []byte
	Identities []string
}

// Recorder is an in-memory Transport for tests. It records every send and
// can fail or react to sends on demand.
type Recorder struct {
	mu   sync.Mutex
	sent []Sent

	// Err, when set, is returned from SendData and nothing is recorded.
	Err error

	// OnSend runs after a successful send, outside the lock.
	OnSend func(s Sent)
}

var _ Transport = (*Recorder)(nil)

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// SendData implements Transport.
func (r *Recorder) SendData(ctx context.Context, room string, payload []byte, identities []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	if r.Err != nil {
		err := r.Err
		r.mu.Unlock()
		return err
	}
	s := Sent{
		Room:       room,
		Payload:    append([]byte(nil), payload...),
		Identities: append([]string(nil), identities...),
	}
	r.sent = append(r.sent, s)
	onSend := r.OnSend
	r.mu.Unlock()

	if onSend != nil {
		onSend(s)
	}
	return nil
}

// SetErr changes the injected error.
func (r *Recorder) SetErr(err error) {
	r.mu.Lock()
	r.Err = err
	r.mu.Unlock()
}

// Sent returns a copy of the recorded sends.
func (r *Recorder) Sent() []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Sent, len(r.sent))
	copy(out, r.sent)
	return out
}

// Count returns the number of recorded sends.
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}
