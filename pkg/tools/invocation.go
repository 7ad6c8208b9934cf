package tools

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/teslashibe/go-tradeschool/pkg/protocol"
)

// Parameter names shared by every tool.
const (
	ParamRoomName       = "roomName"
	ParamTargetIdentity = "targetIdentity"
	ParamTimeoutMs      = "timeoutMs"
)

// Invocation is one tool call from the agent platform, whatever webhook
// dialect it arrived in.
type Invocation struct {
	Name       string
	CallID     protocol.ToolCallID
	Parameters map[string]any
	Call       protocol.CallMeta
}

// CallContext addresses the participant that should run the tool.
type CallContext struct {
	Room     string
	Identity string
}

// ResolveCallContext determines the room and target participant.
//
// If either roomName or targetIdentity is given in the parameters, both
// must be. Otherwise the room is the call id and the identity is the call
// user id.
func ResolveCallContext(inv *Invocation) (CallContext, error) {
	room, hasRoom, err := stringParam(inv.Parameters, ParamRoomName)
	if err != nil {
		return CallContext{}, err
	}
	identity, hasIdentity, err := stringParam(inv.Parameters, ParamTargetIdentity)
	if err != nil {
		return CallContext{}, err
	}

	if hasRoom || hasIdentity {
		if !hasRoom {
			return CallContext{}, &ValidationError{Field: ParamRoomName, Reason: "required when targetIdentity is given"}
		}
		if !hasIdentity {
			return CallContext{}, &ValidationError{Field: ParamTargetIdentity, Reason: "required when roomName is given"}
		}
		return CallContext{Room: room, Identity: identity}, nil
	}

	cc := CallContext{Room: strings.TrimSpace(inv.Call.ID)}
	if inv.Call.User != nil {
		cc.Identity = strings.TrimSpace(inv.Call.User.ID)
	}
	if cc.Room == "" {
		return CallContext{}, &ValidationError{Field: ParamRoomName, Reason: "missing and no call id to derive it from"}
	}
	if cc.Identity == "" {
		return CallContext{}, &ValidationError{Field: ParamTargetIdentity, Reason: "missing and no call user id to derive it from"}
	}
	return cc, nil
}

// callTimeout returns the timeoutMs override or def.
func callTimeout(params map[string]any, def time.Duration) time.Duration {
	ms, ok := intParam(params, ParamTimeoutMs)
	if !ok || ms <= 0 {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}

// stringParam returns a trimmed non-empty string parameter. A present but
// non-string value is a validation error.
func stringParam(params map[string]any, key string) (string, bool, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return "", false, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", false, &ValidationError{Field: key, Reason: "must be a string"}
	}
	s = strings.TrimSpace(s)
	return s, s != "", nil
}

func intParam(params map[string]any, key string) (int, bool) {
	switch v := params[key].(type) {
	case float64:
		if v != math.Trunc(v) || v < math.MinInt32 || v > math.MaxInt32 {
			return 0, false
		}
		return int(v), true
	case int:
		return v, true
	case int64:
		if v < math.MinInt32 || v > math.MaxInt32 {
			return 0, false
		}
		return int(v), true
	case json.Number:
		n, err := strconv.Atoi(v.String())
		return n, err == nil
	default:
		return 0, false
	}
}
