package capclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-tradeschool/pkg/correlator"
	"github.com/teslashibe/go-tradeschool/pkg/room"
	"github.com/teslashibe/go-tradeschool/pkg/server"
	"github.com/teslashibe/go-tradeschool/pkg/tools"
	"github.com/teslashibe/go-tradeschool/pkg/vision"
)

// A 1x1 transparent PNG.
const tinyPNG = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAQAAAC1HAwCAAAAC0lEQVR42mNkYAAAAAYAAjCB0C8AAAAASUVORK5CYII="

func pngBytes(t *testing.T) []byte {
	t.Helper()
	b, err := base64.StdEncoding.DecodeString(tinyPNG)
	require.NoError(t, err)
	return b
}

type stack struct {
	base  string
	rooms *room.Hub
	corr  *correlator.Correlator
}

func startServer(t *testing.T) *stack {
	t.Helper()
	st := &stack{
		rooms: room.NewHub(),
		corr:  correlator.New(correlator.WithDefaultTimeout(3 * time.Second)),
	}
	t.Cleanup(st.corr.Close)
	t.Cleanup(st.rooms.Close)

	router, err := tools.NewRouter(tools.Config{
		Transport:  st.rooms,
		Correlator: st.corr,
		Vision:     vision.NewAdapter(nil),
	})
	require.NoError(t, err)

	srv, err := server.New(server.Config{Router: router, Correlator: st.corr, Rooms: st.rooms})
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go srv.App().Listener(ln)
	t.Cleanup(func() { srv.App().Shutdown() })

	st.base = "http://" + ln.Addr().String()
	return st
}

func (st *stack) join(t *testing.T, cfg Config) *Client {
	t.Helper()
	cfg.ServerURL = st.base
	c, err := New(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, c.Connect(ctx))
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	require.Eventually(t, func() bool {
		_, ok := st.rooms.Participant(cfg.Room, cfg.Identity)
		return ok
	}, 2*time.Second, 10*time.Millisecond)
	return c
}

func (st *stack) webhook(t *testing.T, roomName, identity, tool, params string) map[string]any {
	t.Helper()
	body := fmt.Sprintf(`{"type":"tool-call-attempt","tool_call":{"name":%q,"id":"call_1","parameters":%s},"call":{"id":%q,"user":{"id":%q}}}`,
		tool, params, roomName, identity)
	resp, err := http.Post(st.base+"/api/tools/webhook", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))

	out := map[string]any{}
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestClientAnswersScreenshot(t *testing.T) {
	for _, overChannel := range []bool{false, true} {
		t.Run(fmt.Sprintf("overChannel=%v", overChannel), func(t *testing.T) {
			st := startServer(t)
			st.join(t, Config{
				Room:               "lab-1",
				Identity:           "trainee",
				Frames:             NewStaticFrame(pngBytes(t)),
				ResultsOverChannel: overChannel,
			})

			out := st.webhook(t, "lab-1", "trainee", "captureScreenshot", `{"question":"What gauge is showing?"}`)
			assert.Equal(t, true, out["success"])
			assert.Equal(t, "Mock vision answer to: What gauge is showing?", out["result"])
			assert.Equal(t, 0, st.corr.Len())
		})
	}
}

func TestClientMarksStep(t *testing.T) {
	st := startServer(t)
	steps := NewStepTracker()
	changed := make(chan int, 1)
	steps.OnChange(func(step int) { changed <- step })

	c := st.join(t, Config{
		Room:     "lab-1",
		Identity: "trainee",
		Frames:   NewStaticFrame(pngBytes(t)),
		Steps:    steps,
	})

	out := st.webhook(t, "lab-1", "trainee", "markStepComplete", `{"stepId":4}`)
	assert.Equal(t, "Step 4 marked complete", out["result"])

	select {
	case step := <-changed:
		assert.Equal(t, 4, step)
	case <-time.After(2 * time.Second):
		t.Fatal("step tracker not updated")
	}
	assert.Equal(t, []int{4}, c.Steps().Completed())
}

func TestHandleWithoutFrame(t *testing.T) {
	c, err := New(Config{ServerURL: "http://127.0.0.1:1", Room: "r", Identity: "i", Frames: &StaticFrame{}})
	require.NoError(t, err)

	err = c.Handle(context.Background(), []byte(`{"type":"capture_screenshot","question":"q","requestId":"abc"}`))
	assert.ErrorIs(t, err, ErrNoFrame)

	err = c.Handle(context.Background(), []byte(`{"type":"self_destruct"}`))
	assert.Error(t, err)

	// Pongs from the server are ignored.
	assert.NoError(t, c.Handle(context.Background(), []byte(`{"type":"pong"}`)))
}

func TestNewValidates(t *testing.T) {
	frames := &StaticFrame{}
	_, err := New(Config{Room: "r", Identity: "i", Frames: frames})
	assert.Error(t, err)
	_, err = New(Config{ServerURL: "http://x", Identity: "i", Frames: frames})
	assert.Error(t, err)
	_, err = New(Config{ServerURL: "http://x", Room: "r", Identity: "i"})
	assert.Error(t, err)
}

func TestRoomURL(t *testing.T) {
	tests := []struct {
		server string
		want   string
	}{
		{"http://localhost:8080", "ws://localhost:8080/ws/rooms/lab%201/trainee"},
		{"https://tools.example.com/", "wss://tools.example.com/ws/rooms/lab%201/trainee"},
		{"ws://10.0.0.2:9000/base", "ws://10.0.0.2:9000/base/ws/rooms/lab%201/trainee"},
	}
	for _, tt := range tests {
		c, err := New(Config{ServerURL: tt.server, Room: "lab 1", Identity: "trainee", Frames: &StaticFrame{}})
		require.NoError(t, err)
		got, err := c.RoomURL()
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	c, err := New(Config{ServerURL: "ftp://x", Room: "r", Identity: "i", Frames: &StaticFrame{}})
	require.NoError(t, err)
	_, err = c.RoomURL()
	assert.Error(t, err)
}

func TestFrameSources(t *testing.T) {
	img := pngBytes(t)
	assert.Equal(t, "data:image/png;base64,"+tinyPNG, EncodeDataURL(img))

	s := NewStaticFrame(nil)
	_, err := s.Capture(context.Background())
	assert.ErrorIs(t, err, ErrNoFrame)
	s.Set(img)
	got, err := s.Capture(context.Background())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(got, "data:image/png;base64,"))

	path := filepath.Join(t.TempDir(), "frame.png")
	f := &FileFrame{Path: path}
	_, err = f.Capture(context.Background())
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, img, 0o644))
	got, err = f.Capture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, EncodeDataURL(img), got)

	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(path, old, old))
	f.MaxAge = time.Minute
	_, err = f.Capture(context.Background())
	assert.ErrorIs(t, err, ErrNoFrame)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = FrameFunc(func(context.Context) (string, error) { return "x", nil }).Capture(ctx)
	assert.NoError(t, err)
	_, err = s.Capture(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStepTracker(t *testing.T) {
	s := NewStepTracker()
	var fired []int
	s.OnChange(func(step int) { fired = append(fired, step) })

	assert.True(t, s.Complete(3))
	assert.True(t, s.Complete(1))
	assert.False(t, s.Complete(3))
	assert.True(t, s.IsComplete(1))
	assert.False(t, s.IsComplete(2))
	assert.Equal(t, []int{1, 3}, s.Completed())
	assert.Equal(t, []int{3, 1}, fired)
}

func TestEncodeDataURLUnknownDefaultsToPNG(t *testing.T) {
	got := EncodeDataURL(bytes.Repeat([]byte{0x01}, 8))
	assert.True(t, strings.HasPrefix(got, "data:image/png;base64,"))
}
