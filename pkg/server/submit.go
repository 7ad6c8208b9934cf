package server

import (
	"context"

	"github.com/teslashibe/go-tradeschool/pkg/correlator"
	"github.com/teslashibe/go-tradeschool/pkg/protocol"
	"github.com/teslashibe/go-tradeschool/pkg/room"
	"github.com/teslashibe/go-tradeschool/pkg/tools"
)

// SubmitResult accepts a result body from HTTP or a participant's data
// channel.
//
// A body carrying a stepCompleted key is acknowledged without touching the
// registry. Anything else is delivered to the waiting invocation; when no
// invocation is waiting here, the relay gets a chance to find the instance
// that owns it before *correlator.NoSuchRequestError is returned.
func (s *Server) SubmitResult(ctx context.Context, body []byte) (*protocol.Submission, error) {
	sub, err := protocol.ParseSubmission(body)
	if err != nil {
		return nil, &tools.ValidationError{Field: "body", Reason: err.Error()}
	}
	if sub.RequestID == "" {
		return nil, &tools.ValidationError{Field: "requestId", Reason: "required"}
	}
	s.submissions.Add(1)

	if sub.IsStepCompletion() {
		s.stepAcks.Add(1)
		s.logger.Info("step completion acknowledged",
			"request_id", sub.RequestID,
			"step", sub.Step.StepCompleted,
			"success", sub.Step.Success,
		)
		s.publish(protocol.Event{Kind: protocol.EventStepAcked, RequestID: sub.RequestID})
		return sub, nil
	}

	res := sub.Screenshot
	res.RequestID = sub.RequestID
	if s.cfg.Correlator.Deliver(res.RequestID, res) {
		return sub, nil
	}

	if s.cfg.Relay != nil {
		ok, err := s.cfg.Relay.Forward(ctx, res)
		if err != nil {
			s.logger.Warn("relay forward failed", "request_id", res.RequestID, "error", err)
		}
		if ok {
			s.forwarded.Add(1)
			return sub, nil
		}
	}

	s.notFound.Add(1)
	s.logger.Warn("result for unknown request", "request_id", res.RequestID)
	s.publish(protocol.Event{Kind: protocol.EventResultMissed, RequestID: res.RequestID})
	return nil, &correlator.NoSuchRequestError{RequestID: res.RequestID}
}

// handleParticipantMessage routes result envelopes that arrive over a
// participant's data channel.
func (s *Server) handleParticipantMessage(p *room.Participant, env *protocol.Envelope) {
	if env.Type != protocol.TypeResult {
		s.logger.Debug("ignoring participant message", "type", env.Type, "identity", p.Identity)
		return
	}
	if _, err := s.SubmitResult(context.Background(), env.Raw); err != nil {
		s.logger.Warn("participant result rejected",
			"room", p.Room,
			"identity", p.Identity,
			"error", err,
		)
	}
}
