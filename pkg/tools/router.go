// Package tools routes agent tool invocations to participants of a room.
//
// The Router validates an Invocation, resolves which participant should
// run it, sends the matching data channel command and, for tools that
// produce a result, waits on the correlator for the participant's answer.
package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/segmentio/ksuid"

	"github.com/teslashibe/go-tradeschool/internal/log"
	"github.com/teslashibe/go-tradeschool/pkg/correlator"
	"github.com/teslashibe/go-tradeschool/pkg/protocol"
	"github.com/teslashibe/go-tradeschool/pkg/room"
)

// Answerer turns a delivered screenshot into answer text.
type Answerer interface {
	Answer(ctx context.Context, res *protocol.ScreenshotResult) (string, error)
}

// EventSink receives dashboard events.
type EventSink interface {
	Publish(ev protocol.Event)
}

// Config wires a Router. Transport, Correlator and Vision are required.
type Config struct {
	Transport  room.Transport
	Correlator *correlator.Correlator
	Vision     Answerer

	// Dedupe suppresses retried tool calls. Optional.
	Dedupe Dedupe

	// Events receives invocation events. Optional.
	Events EventSink

	// Metrics records per-tool latency. A fresh collector is used if nil.
	Metrics *MetricsCollector

	// Timeout is the default wait for results. Zero uses the correlator default.
	Timeout time.Duration

	Logger *slog.Logger
}

// Router dispatches invocations to tools.
type Router struct {
	transport  room.Transport
	correlator *correlator.Correlator
	vision     Answerer
	dedupe     Dedupe
	events     EventSink
	metrics    *MetricsCollector
	timeout    time.Duration
	logger     *slog.Logger

	mu    sync.RWMutex
	tools map[string]*Tool
	order []*Tool
}

// NewRouter creates a Router serving captureScreenshot and markStepComplete.
func NewRouter(cfg Config) (*Router, error) {
	if cfg.Transport == nil {
		return nil, errors.New("tools: transport required")
	}
	if cfg.Correlator == nil {
		return nil, errors.New("tools: correlator required")
	}
	if cfg.Vision == nil {
		return nil, errors.New("tools: vision adapter required")
	}

	r := &Router{
		transport:  cfg.Transport,
		correlator: cfg.Correlator,
		vision:     cfg.Vision,
		dedupe:     cfg.Dedupe,
		events:     cfg.Events,
		metrics:    cfg.Metrics,
		timeout:    cfg.Timeout,
		logger:     cfg.Logger,
		tools:      make(map[string]*Tool),
	}
	if r.metrics == nil {
		r.metrics = NewMetricsCollector()
	}
	if r.timeout <= 0 {
		r.timeout = cfg.Correlator.DefaultTimeout()
	}
	if r.logger == nil {
		r.logger = log.Component("tools")
	}

	for _, t := range []*Tool{r.captureScreenshotTool(), r.markStepCompleteTool()} {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a tool under its name and aliases.
func (r *Router) Register(t *Tool) error {
	if t.Name == "" || t.Handler == nil {
		return errors.New("tools: tool needs a name and a handler")
	}
	if err := t.compile(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	names := append([]string{t.Name}, t.Aliases...)
	for _, n := range names {
		if _, exists := r.tools[n]; exists {
			return fmt.Errorf("tools: %q already registered", n)
		}
	}
	for _, n := range names {
		r.tools[n] = t
	}
	r.order = append(r.order, t)
	return nil
}

// Lookup finds a tool by exact name or alias.
func (r *Router) Lookup(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Definitions lists the registered tools in registration order.
func (r *Router) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]Definition, 0, len(r.order))
	for _, t := range r.order {
		defs = append(defs, Definition{
			Name:        t.Name,
			Aliases:     t.Aliases,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}
	return defs
}

// Names returns every served name, aliases included, sorted.
func (r *Router) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Metrics returns the router's collector.
func (r *Router) Metrics() *MetricsCollector { return r.metrics }

// Dispatch runs one invocation and returns the text for the agent.
//
// No command is sent unless the tool exists and the invocation validates.
func (r *Router) Dispatch(ctx context.Context, inv *Invocation) (string, error) {
	start := time.Now()

	t, ok := r.Lookup(inv.Name)
	if !ok {
		err := &UnknownToolError{Name: inv.Name}
		r.logger.Warn("unknown tool", "tool", inv.Name, "tool_call_id", inv.CallID)
		r.metrics.Record(CallMetrics{Tool: inv.Name, ToolCallID: inv.CallID, Started: start, Latency: time.Since(start), Outcome: OutcomeError})
		return "", err
	}

	cc, err := ResolveCallContext(inv)
	if err == nil {
		err = t.validate(inv.Parameters)
	}
	if err != nil {
		r.logger.Warn("invalid tool call", "tool", t.Name, "tool_call_id", inv.CallID, "error", err)
		r.metrics.Record(CallMetrics{Tool: t.Name, ToolCallID: inv.CallID, Started: start, Latency: time.Since(start), Outcome: OutcomeError})
		return "", err
	}

	if inv.CallID == "" {
		inv.CallID = protocol.ToolCallID(ksuid.New().String())
	}

	if r.dedupe != nil {
		claim, err := r.dedupe.Claim(ctx, inv.CallID)
		if err != nil {
			// A broken dedupe store must not block tool calls.
			r.logger.Warn("dedupe claim failed", "tool_call_id", inv.CallID, "error", err)
		} else {
			switch claim.State {
			case ClaimDone:
				r.logger.Info("replaying completed tool call", "tool", t.Name, "tool_call_id", inv.CallID)
				return claim.Result, nil
			case ClaimInFlight:
				return "", &DuplicateToolCallError{ToolCallID: inv.CallID}
			}
		}
	}

	r.publish(protocol.Event{
		Kind:       protocol.EventInvoked,
		Tool:       t.Name,
		ToolCallID: inv.CallID,
		Room:       cc.Room,
		Identity:   cc.Identity,
	})
	r.logger.Info("dispatching tool",
		"tool", t.Name,
		"tool_call_id", inv.CallID,
		"room", cc.Room,
		"identity", cc.Identity,
	)

	result, err := t.Handler(ctx, &Call{
		Invocation: inv,
		Context:    cc,
		Timeout:    callTimeout(inv.Parameters, r.timeout),
	})
	latency := time.Since(start)

	m := CallMetrics{Tool: t.Name, ToolCallID: inv.CallID, Started: start, Latency: latency, Outcome: OutcomeOK}
	ev := protocol.Event{
		Kind:       protocol.EventCompleted,
		Tool:       t.Name,
		ToolCallID: inv.CallID,
		Room:       cc.Room,
		Identity:   cc.Identity,
		LatencyMs:  latency.Milliseconds(),
	}

	if err != nil {
		m.Outcome = OutcomeError
		if errors.Is(err, correlator.ErrTimeout) {
			m.Outcome = OutcomeTimeout
		}
		ev.Kind = protocol.EventFailed
		ev.Detail = err.Error()
		r.logger.Warn("tool failed", "tool", t.Name, "tool_call_id", inv.CallID, "latency", latency, "error", err)
		if r.dedupe != nil {
			if rerr := r.dedupe.Release(context.WithoutCancel(ctx), inv.CallID); rerr != nil {
				r.logger.Warn("dedupe release failed", "tool_call_id", inv.CallID, "error", rerr)
			}
		}
	} else {
		ev.Detail = result
		r.logger.Info("tool completed", "tool", t.Name, "tool_call_id", inv.CallID, "latency", latency)
		if r.dedupe != nil {
			if cerr := r.dedupe.Complete(context.WithoutCancel(ctx), inv.CallID, result); cerr != nil {
				r.logger.Warn("dedupe complete failed", "tool_call_id", inv.CallID, "error", cerr)
			}
		}
	}

	r.metrics.Record(m)
	r.publish(ev)
	return result, err
}

// Result is the outcome of one invocation in a batch.
type Result struct {
	Invocation *Invocation
	Text       string
	Err        error
}

// DispatchAll runs invocations concurrently and returns results in input
// order.
func (r *Router) DispatchAll(ctx context.Context, invs []*Invocation) []Result {
	results := make([]Result, len(invs))
	var wg sync.WaitGroup
	for i, inv := range invs {
		wg.Add(1)
		go func(i int, inv *Invocation) {
			defer wg.Done()
			text, err := r.Dispatch(ctx, inv)
			results[i] = Result{Invocation: inv, Text: text, Err: err}
		}(i, inv)
	}
	wg.Wait()
	return results
}

func (r *Router) publish(ev protocol.Event) {
	if r.events == nil {
		return
	}
	ev.ID = ksuid.New().String()
	ev.Time = time.Now()
	r.events.Publish(ev)
}
