package tools

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/teslashibe/go-tradeschool/pkg/protocol"
)

// ClaimState is the result of claiming a tool call id.
type ClaimState int

const (
	// ClaimNew means the caller owns the call and should run it.
	ClaimNew ClaimState = iota
	// ClaimInFlight means another attempt is still running.
	ClaimInFlight
	// ClaimDone means the call finished; Result holds its answer.
	ClaimDone
)

// Claim is returned by Dedupe.Claim.
type Claim struct {
	State  ClaimState
	Result string
}

// Dedupe remembers tool call ids so platform retries do not send a second
// command to the participant.
type Dedupe interface {
	Claim(ctx context.Context, id protocol.ToolCallID) (Claim, error)
	Complete(ctx context.Context, id protocol.ToolCallID, result string) error
	Release(ctx context.Context, id protocol.ToolCallID) error
}

// MemoryDedupe is a process-local Dedupe.
type MemoryDedupe struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[protocol.ToolCallID]memoryEntry
}

type memoryEntry struct {
	done    bool
	result  string
	expires time.Time
}

var _ Dedupe = (*MemoryDedupe)(nil)

// NewMemoryDedupe creates a MemoryDedupe whose entries live for ttl.
func NewMemoryDedupe(ttl time.Duration) *MemoryDedupe {
	return &MemoryDedupe{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[protocol.ToolCallID]memoryEntry),
	}
}

// Claim implements Dedupe.
func (m *MemoryDedupe) Claim(_ context.Context, id protocol.ToolCallID) (Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.sweep(now)

	if e, ok := m.entries[id]; ok {
		if e.done {
			return Claim{State: ClaimDone, Result: e.result}, nil
		}
		return Claim{State: ClaimInFlight}, nil
	}
	m.entries[id] = memoryEntry{expires: now.Add(m.ttl)}
	return Claim{State: ClaimNew}, nil
}

// Complete implements Dedupe.
func (m *MemoryDedupe) Complete(_ context.Context, id protocol.ToolCallID, result string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[id] = memoryEntry{done: true, result: result, expires: m.now().Add(m.ttl)}
	return nil
}

// Release implements Dedupe.
func (m *MemoryDedupe) Release(_ context.Context, id protocol.ToolCallID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
	return nil
}

// Len returns the number of live entries.
func (m *MemoryDedupe) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweep(m.now())
	return len(m.entries)
}

// sweep drops expired entries. Caller holds mu.
func (m *MemoryDedupe) sweep(now time.Time) {
	for id, e := range m.entries {
		if now.After(e.expires) {
			delete(m.entries, id)
		}
	}
}

// RedisDedupe shares claims between server instances.
type RedisDedupe struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

var _ Dedupe = (*RedisDedupe)(nil)

const (
	redisInFlight   = "pending"
	redisDonePrefix = "done:"
)

// NewRedisDedupe creates a Redis-backed Dedupe. Keys are prefix+id.
func NewRedisDedupe(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisDedupe {
	if prefix == "" {
		prefix = "tradeschool:toolcall:"
	}
	return &RedisDedupe{client: client, prefix: prefix, ttl: ttl}
}

func (d *RedisDedupe) key(id protocol.ToolCallID) string {
	return d.prefix + string(id)
}

// Claim implements Dedupe.
func (d *RedisDedupe) Claim(ctx context.Context, id protocol.ToolCallID) (Claim, error) {
	ok, err := d.client.SetNX(ctx, d.key(id), redisInFlight, d.ttl).Result()
	if err != nil {
		return Claim{}, err
	}
	if ok {
		return Claim{State: ClaimNew}, nil
	}

	val, err := d.client.Get(ctx, d.key(id)).Result()
	if errors.Is(err, redis.Nil) {
		// Expired between SETNX and GET; try once more.
		ok, err = d.client.SetNX(ctx, d.key(id), redisInFlight, d.ttl).Result()
		if err != nil {
			return Claim{}, err
		}
		if ok {
			return Claim{State: ClaimNew}, nil
		}
		return Claim{State: ClaimInFlight}, nil
	}
	if err != nil {
		return Claim{}, err
	}
	if result, done := strings.CutPrefix(val, redisDonePrefix); done {
		return Claim{State: ClaimDone, Result: result}, nil
	}
	return Claim{State: ClaimInFlight}, nil
}

// Complete implements Dedupe.
func (d *RedisDedupe) Complete(ctx context.Context, id protocol.ToolCallID, result string) error {
	return d.client.Set(ctx, d.key(id), redisDonePrefix+result, d.ttl).Err()
}

// Release implements Dedupe.
func (d *RedisDedupe) Release(ctx context.Context, id protocol.ToolCallID) error {
	return d.client.Del(ctx, d.key(id)).Err()
}
