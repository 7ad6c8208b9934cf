// Package relay lets several server instances share one logical pending
// registry. Each instance subscribes to a NATS subject per request it is
// waiting on; a result that arrives at the wrong instance is forwarded
// with request/reply to whichever instance holds the waiter.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/teslashibe/go-tradeschool/internal/log"
	"github.com/teslashibe/go-tradeschool/pkg/correlator"
	"github.com/teslashibe/go-tradeschool/pkg/protocol"
)

// DefaultSubjectPrefix prefixes every per-request subject.
const DefaultSubjectPrefix = "tradeschool.results."

// Replies sent by the owning instance.
const (
	replyDelivered = "ok"
	replyGone      = "gone"
)

// DefaultForwardTimeout bounds one Forward round trip.
const DefaultForwardTimeout = 2 * time.Second

// Relay forwards results between instances. It is a correlator.Observer.
type Relay struct {
	nc     *nats.Conn
	corr   *correlator.Correlator
	prefix string
	logger *slog.Logger

	mu   sync.Mutex
	subs map[protocol.RequestID]*nats.Subscription
}

var _ correlator.Observer = (*Relay)(nil)

// New creates a Relay over nc and attaches it to corr.
func New(nc *nats.Conn, corr *correlator.Correlator, prefix string) *Relay {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	r := &Relay{
		nc:     nc,
		corr:   corr,
		prefix: prefix,
		logger: log.Component("relay"),
		subs:   make(map[protocol.RequestID]*nats.Subscription),
	}
	corr.AddObserver(r)
	return r
}

// Connect dials url and returns a Relay attached to corr.
func Connect(url string, corr *correlator.Correlator) (*Relay, error) {
	nc, err := nats.Connect(url,
		nats.Name("tradeschool"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Component("relay").Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Component("relay").Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return New(nc, corr, ""), nil
}

// Subject returns the subject for id.
func (r *Relay) Subject(id protocol.RequestID) string {
	return r.prefix + string(id)
}

// Registered subscribes to the subject of a newly pending request.
func (r *Relay) Registered(id protocol.RequestID, _ time.Time) {
	sub, err := r.nc.Subscribe(r.Subject(id), func(msg *nats.Msg) {
		r.handle(id, msg)
	})
	if err != nil {
		r.logger.Warn("subscribe failed", "request_id", id, "error", err)
		return
	}
	if err := r.nc.Flush(); err != nil {
		r.logger.Debug("flush failed", "request_id", id, "error", err)
	}

	r.mu.Lock()
	r.subs[id] = sub
	r.mu.Unlock()

	// The request may have settled before the subscription was stored.
	if !r.corr.Pending(id) {
		r.drop(id)
	}
}

// Settled drops the subscription of a request that is no longer pending.
func (r *Relay) Settled(id protocol.RequestID, _ correlator.OutcomeKind) {
	r.drop(id)
}

// drop unsubscribes id and flushes so the server stops routing to this
// connection. The subscription is forgotten only after the flush.
func (r *Relay) drop(id protocol.RequestID) {
	r.mu.Lock()
	sub, ok := r.subs[id]
	r.mu.Unlock()
	if !ok {
		return
	}

	if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) && !errors.Is(err, nats.ErrBadSubscription) {
		r.logger.Debug("unsubscribe failed", "request_id", id, "error", err)
	}
	if err := r.nc.Flush(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		r.logger.Debug("flush failed", "request_id", id, "error", err)
	}

	r.mu.Lock()
	if r.subs[id] == sub {
		delete(r.subs, id)
	}
	r.mu.Unlock()
}

func (r *Relay) handle(id protocol.RequestID, msg *nats.Msg) {
	var res protocol.ScreenshotResult
	if err := json.Unmarshal(msg.Data, &res); err != nil {
		r.logger.Warn("bad relayed result", "request_id", id, "error", err)
		msg.Respond([]byte(replyGone))
		return
	}
	res.RequestID = id

	reply := replyGone
	if r.corr.Deliver(id, &res) {
		reply = replyDelivered
		r.logger.Info("relayed result delivered", "request_id", id)
	}
	if err := msg.Respond([]byte(reply)); err != nil {
		r.logger.Debug("relay reply failed", "request_id", id, "error", err)
	}
}

// Forward offers res to the instance waiting on its request id. It reports
// whether some instance accepted it; no responders means nobody is waiting.
func (r *Relay) Forward(ctx context.Context, res *protocol.ScreenshotResult) (bool, error) {
	if res == nil || res.RequestID == "" {
		return false, errors.New("relay: result without request id")
	}
	data, err := json.Marshal(res)
	if err != nil {
		return false, err
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultForwardTimeout)
		defer cancel()
	}

	msg, err := r.nc.RequestWithContext(ctx, r.Subject(res.RequestID), data)
	if errors.Is(err, nats.ErrNoResponders) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("relay forward %s: %w", res.RequestID, err)
	}
	return string(msg.Data) == replyDelivered, nil
}

// Subscriptions returns the number of live per-request subscriptions.
func (r *Relay) Subscriptions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// Close unsubscribes everything and closes the connection.
func (r *Relay) Close() {
	r.mu.Lock()
	subs := r.subs
	r.subs = make(map[protocol.RequestID]*nats.Subscription)
	r.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
	r.nc.Close()
}
