package server

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-tradeschool/pkg/correlator"
	"github.com/teslashibe/go-tradeschool/pkg/protocol"
	"github.com/teslashibe/go-tradeschool/pkg/tools"
)

// handleWebhook dispatches agent platform tool calls.
func (s *Server) handleWebhook(c *fiber.Ctx) error {
	s.webhooks.Add(1)

	invs, dialect, err := tools.ParseInvocations(c.Body())
	if err != nil {
		s.webhookFailures.Add(1)
		return s.fail(c, err)
	}
	ctx := c.UserContext()

	if dialect.Batched() {
		results := s.cfg.Router.DispatchAll(ctx, invs)
		resp := protocol.BatchResponse{Results: make([]protocol.BatchResult, 0, len(results))}
		for _, r := range results {
			br := protocol.BatchResult{ToolCallID: r.Invocation.CallID}
			if r.Err != nil {
				s.webhookFailures.Add(1)
				br.Error = r.Err.Error()
			} else {
				br.Result = r.Text
			}
			resp.Results = append(resp.Results, br)
		}
		return c.JSON(resp)
	}

	inv := invs[0]
	text, err := s.cfg.Router.Dispatch(ctx, inv)
	if err != nil {
		s.webhookFailures.Add(1)
		return s.fail(c, err)
	}
	return c.JSON(protocol.ToolResponse{Success: true, Result: text, ToolCallID: inv.CallID})
}

// handleToolResult is the result submission endpoint.
func (s *Server) handleToolResult(c *fiber.Ctx) error {
	_, err := s.SubmitResult(c.UserContext(), c.Body())
	if errors.Is(err, correlator.ErrNoSuchRequest) {
		return c.Status(fiber.StatusNotFound).JSON(protocol.ErrorResponse{Error: NoPendingRequest})
	}
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(fiber.Map{"success": true})
}

// handleListTools returns the tool catalogue and per-tool totals.
func (s *Server) handleListTools(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"tools":   s.cfg.Router.Definitions(),
		"metrics": s.cfg.Router.Metrics().Totals(),
	})
}

// TriggerToolRequest is the body for triggering a tool by hand. Without a
// call block, args must carry roomName and targetIdentity.
type TriggerToolRequest struct {
	Args       map[string]any      `json:"args"`
	ToolCallID protocol.ToolCallID `json:"toolCallId,omitempty"`
}

// handleTriggerTool dispatches one tool outside any agent call.
func (s *Server) handleTriggerTool(c *fiber.Ctx) error {
	name := c.Params("name")

	var req TriggerToolRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return s.fail(c, &tools.ValidationError{Field: "body", Reason: err.Error()})
		}
	}
	if req.Args == nil {
		req.Args = make(map[string]any)
	}

	inv := &tools.Invocation{Name: name, CallID: req.ToolCallID, Parameters: req.Args}
	result, err := s.cfg.Router.Dispatch(c.UserContext(), inv)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(fiber.Map{
		"tool":       name,
		"result":     result,
		"toolCallId": inv.CallID,
	})
}

// handleRequestStats returns correlator counters.
func (s *Server) handleRequestStats(c *fiber.Ctx) error {
	return c.JSON(s.cfg.Correlator.Stats())
}

// handleHealth reports liveness and a short summary.
func (s *Server) handleHealth(c *fiber.Ctx) error {
	resp := fiber.Map{
		"status":  "ok",
		"version": s.cfg.Version,
		"pending": s.cfg.Correlator.Len(),
		"vision":  s.cfg.VisionMode,
		"tools":   s.cfg.Router.Names(),
	}
	if s.cfg.Rooms != nil {
		resp["participants"] = s.cfg.Rooms.ParticipantCount()
	}
	return c.JSON(resp)
}

// handleMetrics writes Prometheus text exposition.
func (s *Server) handleMetrics(c *fiber.Ctx) error {
	var b strings.Builder
	gauge := func(name, help string, v any) {
		fmt.Fprintf(&b, "# HELP %s %s\n# TYPE %s gauge\n%s %v\n\n", name, help, name, name, v)
	}
	counter := func(name, help string, v any) {
		fmt.Fprintf(&b, "# HELP %s %s\n# TYPE %s counter\n%s %v\n\n", name, help, name, name, v)
	}

	cs := s.cfg.Correlator.Stats()
	gauge("tradeschool_pending_requests", "Requests awaiting a participant result", cs.Pending)
	counter("tradeschool_requests_registered_total", "Requests registered", cs.Registered)
	counter("tradeschool_requests_delivered_total", "Requests resolved by a delivered result", cs.Delivered)
	counter("tradeschool_requests_timed_out_total", "Requests that hit their deadline", cs.TimedOut)
	counter("tradeschool_requests_rejected_total", "Requests rejected before a result arrived", cs.Rejected)
	counter("tradeschool_deliveries_missed_total", "Deliveries for ids that were not pending", cs.Missed)

	st := s.GetStats()
	counter("tradeschool_webhooks_total", "Webhook requests received", st.Webhooks)
	counter("tradeschool_webhook_failures_total", "Webhook tool calls that failed", st.WebhookFailures)
	counter("tradeschool_submissions_total", "Result submissions accepted for processing", st.Submissions)
	counter("tradeschool_step_acks_total", "Step completion acknowledgements", st.StepAcks)
	counter("tradeschool_results_forwarded_total", "Results forwarded to another instance", st.Forwarded)

	if s.cfg.Rooms != nil {
		rs := s.cfg.Rooms.GetStats()
		gauge("tradeschool_room_participants", "Attached room participants", rs.Participants)
		counter("tradeschool_room_messages_sent_total", "Data channel messages sent", rs.MessagesSent)
		counter("tradeschool_room_messages_received_total", "Data channel messages received", rs.MessagesReceived)
	}

	totals := s.cfg.Router.Metrics().Totals()
	if len(totals) > 0 {
		b.WriteString("# HELP tradeschool_tool_calls_total Tool calls by tool\n# TYPE tradeschool_tool_calls_total counter\n")
		for _, t := range totals {
			fmt.Fprintf(&b, "tradeschool_tool_calls_total{tool=%q} %d\n", t.Tool, t.Calls)
		}
		b.WriteString("\n# HELP tradeschool_tool_errors_total Failed tool calls by tool\n# TYPE tradeschool_tool_errors_total counter\n")
		for _, t := range totals {
			fmt.Fprintf(&b, "tradeschool_tool_errors_total{tool=%q} %d\n", t.Tool, t.Errors)
		}
		b.WriteString("\n# HELP tradeschool_tool_latency_avg_seconds Mean tool latency\n# TYPE tradeschool_tool_latency_avg_seconds gauge\n")
		for _, t := range totals {
			fmt.Fprintf(&b, "tradeschool_tool_latency_avg_seconds{tool=%q} %g\n", t.Tool, t.AverageLatency().Seconds())
		}
	}

	c.Set(fiber.HeaderContentType, "text/plain; version=0.0.4")
	return c.SendString(b.String())
}
