// Package correlator joins outbound commands to the results that later
// arrive for them on an unrelated channel.
//
// A caller registers a correlation id and waits on the returned Handle. The
// result is handed over by Deliver from whatever goroutine receives it. Every
// pending request ends exactly once: delivered, timed out, rejected, or
// closed. The entry is removed from the registry under the lock before its
// outcome is published, so a delivery racing the deadline has one winner and
// the loser observes an unknown id.
package correlator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-tradeschool/internal/log"
	"github.com/teslashibe/go-tradeschool/pkg/protocol"
)

// DefaultTimeout is used when Register is given a non-positive timeout.
const DefaultTimeout = 25 * time.Second

// OutcomeKind tags how a pending request ended.
type OutcomeKind int

const (
	OutcomeDelivered OutcomeKind = iota
	OutcomeTimedOut
	OutcomeRejected
	// OutcomeCanceled is only observed by a waiter whose context ended; the
	// request itself stays pending until delivery or timeout.
	OutcomeCanceled
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeDelivered:
		return "delivered"
	case OutcomeTimedOut:
		return "timed_out"
	case OutcomeRejected:
		return "rejected"
	case OutcomeCanceled:
		return "canceled"
	default:
		return fmt.Sprintf("outcome(%d)", int(k))
	}
}

// Outcome is the terminal state of a pending request.
type Outcome struct {
	Kind   OutcomeKind
	Result *protocol.ScreenshotResult
	Err    error
}

// Observer is notified of registry changes. Callbacks run outside the
// registry lock on the goroutine that caused the change.
type Observer interface {
	Registered(id protocol.RequestID, deadline time.Time)
	Settled(id protocol.RequestID, kind OutcomeKind)
}

// Stats are cumulative counters.
type Stats struct {
	Pending    int    `json:"pending"`
	Registered uint64 `json:"registered"`
	Delivered  uint64 `json:"delivered"`
	TimedOut   uint64 `json:"timed_out"`
	Rejected   uint64 `json:"rejected"`
	Missed     uint64 `json:"missed"`
}

type pending struct {
	id       protocol.RequestID
	done     chan Outcome
	timer    *time.Timer
	deadline time.Time
}

// Handle is returned by Register and resolves once.
type Handle struct {
	id       protocol.RequestID
	deadline time.Time
	done     <-chan Outcome
}

// ID returns the correlation id.
func (h *Handle) ID() protocol.RequestID { return h.id }

// Deadline returns when the request times out.
func (h *Handle) Deadline() time.Time { return h.deadline }

// Wait parks until the request settles or ctx ends.
func (h *Handle) Wait(ctx context.Context) Outcome {
	select {
	case o := <-h.done:
		return o
	case <-ctx.Done():
		return Outcome{Kind: OutcomeCanceled, Err: ctx.Err()}
	}
}

// Option configures a Correlator.
type Option func(*Correlator)

// WithDefaultTimeout sets the timeout used when Register gets none.
func WithDefaultTimeout(d time.Duration) Option {
	return func(c *Correlator) {
		if d > 0 {
			c.defaultTimeout = d
		}
	}
}

// WithObserver adds an observer.
func WithObserver(o Observer) Option {
	return func(c *Correlator) { c.observers = append(c.observers, o) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Correlator) { c.logger = l }
}

// Correlator is the registry of pending requests. It is safe for concurrent
// use. The zero value is not usable; call New.
type Correlator struct {
	mu      sync.Mutex
	pending map[protocol.RequestID]*pending
	closed  bool

	obsMu     sync.RWMutex
	observers []Observer

	defaultTimeout time.Duration
	logger         *slog.Logger

	registered atomic.Uint64
	delivered  atomic.Uint64
	timedOut   atomic.Uint64
	rejected   atomic.Uint64
	missed     atomic.Uint64
}

// New creates an empty registry.
func New(opts ...Option) *Correlator {
	c := &Correlator{
		pending:        make(map[protocol.RequestID]*pending),
		defaultTimeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = log.Component("correlator")
	}
	return c
}

// NewID returns a fresh time-ordered correlation id.
func NewID() protocol.RequestID {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return protocol.RequestID(id.String())
}

// AddObserver registers an observer after construction.
func (c *Correlator) AddObserver(o Observer) {
	c.obsMu.Lock()
	c.observers = append(c.observers, o)
	c.obsMu.Unlock()
}

// DefaultTimeout returns the timeout used for non-positive Register timeouts.
func (c *Correlator) DefaultTimeout() time.Duration { return c.defaultTimeout }

// Register creates a pending request and starts its deadline.
func (c *Correlator) Register(id protocol.RequestID, timeout time.Duration) (*Handle, error) {
	if id == "" {
		return nil, ErrEmptyID
	}
	if timeout <= 0 {
		timeout = c.defaultTimeout
	}

	p := &pending{
		id:       id,
		done:     make(chan Outcome, 1),
		deadline: time.Now().Add(timeout),
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if _, exists := c.pending[id]; exists {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateRequest, id)
	}
	c.pending[id] = p
	p.timer = time.AfterFunc(timeout, func() { c.expire(p, timeout) })
	c.mu.Unlock()

	c.registered.Add(1)
	c.logger.Debug("request registered", "request_id", id, "timeout", timeout)
	c.forEachObserver(func(o Observer) { o.Registered(id, p.deadline) })

	return &Handle{id: id, deadline: p.deadline, done: p.done}, nil
}

// Deliver hands result to the waiter for id. It returns false when id is
// not pending.
func (c *Correlator) Deliver(id protocol.RequestID, result *protocol.ScreenshotResult) bool {
	p := c.take(id)
	if p == nil {
		c.missed.Add(1)
		c.logger.Debug("delivery for unknown request", "request_id", id)
		return false
	}
	c.delivered.Add(1)
	c.settle(p, Outcome{Kind: OutcomeDelivered, Result: result})
	return true
}

// Reject ends the pending request with err. It returns false when id is
// not pending.
func (c *Correlator) Reject(id protocol.RequestID, err error) bool {
	p := c.take(id)
	if p == nil {
		return false
	}
	c.rejected.Add(1)
	c.settle(p, Outcome{Kind: OutcomeRejected, Err: err})
	return true
}

// Pending reports whether id is currently awaiting a result.
func (c *Correlator) Pending(id protocol.RequestID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[id]
	return ok
}

// Len returns the number of pending requests.
func (c *Correlator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Stats returns a snapshot of the counters.
func (c *Correlator) Stats() Stats {
	return Stats{
		Pending:    c.Len(),
		Registered: c.registered.Load(),
		Delivered:  c.delivered.Load(),
		TimedOut:   c.timedOut.Load(),
		Rejected:   c.rejected.Load(),
		Missed:     c.missed.Load(),
	}
}

// Close rejects every pending request with ErrClosed and refuses new ones.
func (c *Correlator) Close() {
	c.mu.Lock()
	c.closed = true
	drained := make([]*pending, 0, len(c.pending))
	for id, p := range c.pending {
		delete(c.pending, id)
		p.timer.Stop()
		drained = append(drained, p)
	}
	c.mu.Unlock()

	for _, p := range drained {
		c.rejected.Add(1)
		c.settle(p, Outcome{Kind: OutcomeRejected, Err: ErrClosed})
	}
	if len(drained) > 0 {
		c.logger.Info("correlator closed", "rejected", len(drained))
	}
}

// take removes id from the registry and stops its timer.
func (c *Correlator) take(id protocol.RequestID) *pending {
	c.mu.Lock()
	p, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
		p.timer.Stop()
	}
	c.mu.Unlock()
	if !ok {
		return nil
	}
	return p
}

func (c *Correlator) expire(p *pending, after time.Duration) {
	c.mu.Lock()
	cur, ok := c.pending[p.id]
	if !ok || cur != p {
		c.mu.Unlock()
		return
	}
	delete(c.pending, p.id)
	c.mu.Unlock()

	c.timedOut.Add(1)
	c.logger.Info("request timed out", "request_id", p.id, "after", after)
	c.settle(p, Outcome{Kind: OutcomeTimedOut, Err: &TimeoutError{RequestID: p.id, After: after}})
}

// settle publishes the outcome. Callers must have removed p from the map,
// which guarantees a single send on the buffered channel.
func (c *Correlator) settle(p *pending, o Outcome) {
	p.done <- o
	c.forEachObserver(func(obs Observer) { obs.Settled(p.id, o.Kind) })
}

func (c *Correlator) forEachObserver(fn func(Observer)) {
	c.obsMu.RLock()
	observers := c.observers
	c.obsMu.RUnlock()
	for _, o := range observers {
		fn(o)
	}
}
