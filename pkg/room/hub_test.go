package room

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-tradeschool/pkg/protocol"
)

// sink collects writes made to a participant.
type sink struct {
	mu     sync.Mutex
	msgs   [][]byte
	err    error
	closed bool
}

func (s *sink) write(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.msgs = append(s.msgs, append([]byte(nil), data...))
	return nil
}

func (s *sink) close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *sink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

func (s *sink) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func join(t *testing.T, h *Hub, room, identity string) (*Participant, *sink) {
	t.Helper()
	s := &sink{}
	p, err := h.Join(room, identity, KindWebSocket, s.write, s.close)
	require.NoError(t, err)
	return p, s
}

func TestSendData(t *testing.T) {
	h := NewHub()
	_, a := join(t, h, "lab", "alice")
	_, b := join(t, h, "lab", "bob")

	require.NoError(t, h.SendData(context.Background(), "lab", []byte(`{"type":"ping"}`), []string{"alice"}))
	assert.Equal(t, 1, a.count())
	assert.Equal(t, 0, b.count())

	require.NoError(t, h.SendData(context.Background(), "lab", []byte(`{}`), []string{"alice", "bob"}))
	assert.Equal(t, 2, a.count())
	assert.Equal(t, 1, b.count())
	assert.Equal(t, uint64(3), h.GetStats().MessagesSent)
}

func TestSendDataParticipantNotFound(t *testing.T) {
	h := NewHub()
	_, a := join(t, h, "lab", "alice")

	err := h.SendData(context.Background(), "lab", []byte(`{}`), []string{"alice", "carol"})
	require.ErrorIs(t, err, ErrParticipantNotFound)
	var pnf *ParticipantNotFoundError
	require.True(t, errors.As(err, &pnf))
	assert.Equal(t, "carol", pnf.Identity)
	assert.Equal(t, 0, a.count(), "nothing is sent when any identity is missing")

	err = h.SendData(context.Background(), "other-room", []byte(`{}`), []string{"alice"})
	assert.ErrorIs(t, err, ErrParticipantNotFound)
}

func TestSendDataErrors(t *testing.T) {
	h := NewHub()
	_, a := join(t, h, "lab", "alice")

	assert.ErrorIs(t, h.SendData(context.Background(), "lab", []byte(`{}`), nil), ErrNoIdentities)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, h.SendData(ctx, "lab", []byte(`{}`), []string{"alice"}), context.Canceled)

	a.mu.Lock()
	a.err = errors.New("broken pipe")
	a.mu.Unlock()
	err := h.SendData(context.Background(), "lab", []byte(`{}`), []string{"alice"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken pipe")
	assert.Equal(t, uint64(1), h.GetStats().SendErrors)
}

func TestRejoinReplacesParticipant(t *testing.T) {
	h := NewHub()
	first, oldSink := join(t, h, "lab", "alice")
	second, newSink := join(t, h, "lab", "alice")

	assert.True(t, oldSink.isClosed())
	assert.ErrorIs(t, first.Send([]byte(`{}`)), ErrParticipantClosed)

	// The old connection's teardown must not remove the new one.
	h.Leave(first)
	current, ok := h.Participant("lab", "alice")
	require.True(t, ok)
	assert.Same(t, second, current)

	require.NoError(t, h.SendData(context.Background(), "lab", []byte(`{}`), []string{"alice"}))
	assert.Equal(t, 1, newSink.count())

	h.Leave(second)
	_, ok = h.Participant("lab", "alice")
	assert.False(t, ok)
	assert.Empty(t, h.Rooms())
}

func TestJoinRequiresNames(t *testing.T) {
	h := NewHub()
	_, err := h.Join("", "alice", KindWebSocket, (&sink{}).write, nil)
	assert.Error(t, err)
	_, err = h.Join("lab", "", KindWebSocket, (&sink{}).write, nil)
	assert.Error(t, err)
}

func TestInboundMessages(t *testing.T) {
	h := NewHub()
	p, s := join(t, h, "lab", "alice")

	var got []*protocol.Envelope
	h.OnMessage(func(from *Participant, env *protocol.Envelope) {
		assert.Same(t, p, from)
		got = append(got, env)
	})

	h.handleInbound(p, []byte(`{"type":"result","requestId":"r1","answer":"42"}`))
	h.handleInbound(p, []byte(`not json`))
	h.handleInbound(p, []byte(`{"type":"ping","id":"x"}`))

	require.Len(t, got, 1)
	assert.Equal(t, protocol.TypeResult, got[0].Type)

	require.Equal(t, 1, s.count(), "ping is answered")
	var pong protocol.PingData
	require.NoError(t, json.Unmarshal(s.msgs[0], &pong))
	assert.Equal(t, protocol.TypePong, pong.Type)
	assert.Equal(t, "x", pong.ID)
	assert.Equal(t, uint64(3), h.GetStats().MessagesReceived)
}

func TestHubClose(t *testing.T) {
	h := NewHub()
	_, a := join(t, h, "lab", "alice")
	_, b := join(t, h, "yard", "bob")

	h.Close()
	assert.True(t, a.isClosed())
	assert.True(t, b.isClosed())
	assert.Equal(t, 0, h.ParticipantCount())
}

func TestAPIRoutes(t *testing.T) {
	h := NewHub()
	join(t, h, "lab", "bob")
	join(t, h, "lab", "alice")

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	h.RegisterAPIRoutes(app.Group("/api"))

	resp, err := app.Test(httptest.NewRequest("GET", "/api/rooms/", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), `"count":1`)

	resp, err = app.Test(httptest.NewRequest("GET", "/api/rooms/lab", nil))
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)
	var info RoomInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	require.Len(t, info.Participants, 2)
	assert.Equal(t, "alice", info.Participants[0].Identity)

	resp, err = app.Test(httptest.NewRequest("GET", "/api/rooms/nowhere", nil))
	require.NoError(t, err)
	assert.Equal(t, 404, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest("GET", "/api/rooms/stats", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	req := httptest.NewRequest("POST", "/api/rooms/lab/alice/offer", strings.NewReader(`{"type":"answer","sdp":"v=0"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, 400, resp.StatusCode)
}

func startApp(t *testing.T, h *Hub) string {
	t.Helper()
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	h.RegisterRoutes(app)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go app.Listener(ln)
	t.Cleanup(func() { app.Shutdown() })
	return ln.Addr().String()
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocketParticipant(t *testing.T) {
	h := NewHub()
	addr := startApp(t, h)

	inbound := make(chan *protocol.Envelope, 1)
	h.OnMessage(func(_ *Participant, env *protocol.Envelope) { inbound <- env })

	ws, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws/rooms/lab/browser", nil)
	require.NoError(t, err)
	defer ws.Close()

	waitFor(t, func() bool { _, ok := h.Participant("lab", "browser"); return ok })

	cmd, err := protocol.NewMarkStepComplete(2, "req-1").Bytes()
	require.NoError(t, err)
	require.NoError(t, h.SendData(context.Background(), "lab", cmd, []string{"browser"}))

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	got, err := protocol.ParseCommand(data)
	require.NoError(t, err)
	assert.Equal(t, protocol.TypeMarkStepComplete, got.Type)
	assert.Equal(t, 2, got.StepID)
	assert.Equal(t, protocol.RequestID("req-1"), got.RequestID)

	msg, err := protocol.NewStepResultMessage(protocol.StepCompletion{RequestID: "req-1", StepCompleted: 2, Success: true})
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, msg))

	select {
	case env := <-inbound:
		assert.Equal(t, protocol.TypeResult, env.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("inbound result not surfaced")
	}

	ws.Close()
	waitFor(t, func() bool { return h.ParticipantCount() == 0 })
}

func TestWebSocketRequiresUpgrade(t *testing.T) {
	h := NewHub()
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	h.RegisterRoutes(app)

	resp, err := app.Test(httptest.NewRequest("GET", "/ws/rooms/lab/browser", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUpgradeRequired, resp.StatusCode)
}
