// Package capclient is a capability client: a room participant that
// answers the tool server's data channel commands. It captures frames for
// capture_screenshot, tracks steps for mark_step_complete and submits each
// result exactly once, with no retries.
package capclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-tradeschool/internal/httpc"
	"github.com/teslashibe/go-tradeschool/internal/log"
	"github.com/teslashibe/go-tradeschool/pkg/protocol"
)

// Config configures a Client.
type Config struct {
	// ServerURL is the tool server base URL, e.g. http://localhost:8080.
	ServerURL string
	Room      string
	Identity  string

	Frames FrameSource
	Steps  *StepTracker

	// ResultsOverChannel sends results as data channel "result" messages
	// instead of HTTP PUTs.
	ResultsOverChannel bool

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client is a connected capability client.
type Client struct {
	cfg    Config
	logger *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn

	wg sync.WaitGroup
}

// New validates cfg and returns an unconnected Client.
func New(cfg Config) (*Client, error) {
	if cfg.ServerURL == "" {
		return nil, errors.New("capclient: server URL required")
	}
	if cfg.Room == "" || cfg.Identity == "" {
		return nil, errors.New("capclient: room and identity required")
	}
	if cfg.Frames == nil {
		return nil, errors.New("capclient: frame source required")
	}
	if cfg.Steps == nil {
		cfg.Steps = NewStepTracker()
	}
	cfg.ServerURL = strings.TrimRight(cfg.ServerURL, "/")
	l := cfg.Logger
	if l == nil {
		l = log.Component("capclient")
	}
	return &Client{cfg: cfg, logger: l.With("room", cfg.Room, "identity", cfg.Identity)}, nil
}

// Steps returns the client's step tracker.
func (c *Client) Steps() *StepTracker { return c.cfg.Steps }

// RoomURL returns the websocket URL the client joins.
func (c *Client) RoomURL() (string, error) {
	u, err := url.Parse(c.cfg.ServerURL)
	if err != nil {
		return "", fmt.Errorf("capclient: bad server URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("capclient: unsupported scheme %q", u.Scheme)
	}
	base := strings.TrimRight(u.Path, "/")
	u.Path = base + "/ws/rooms/" + c.cfg.Room + "/" + c.cfg.Identity
	u.RawPath = base + "/ws/rooms/" + url.PathEscape(c.cfg.Room) + "/" + url.PathEscape(c.cfg.Identity)
	return u.String(), nil
}

// Connect joins the room.
func (c *Client) Connect(ctx context.Context) error {
	target, err := c.RoomURL()
	if err != nil {
		return err
	}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("capclient: join room: %w", err)
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.logger.Info("joined room", "url", target)
	return nil
}

// Run reads commands until ctx is done or the connection drops. Each
// command is handled on its own goroutine.
func (c *Client) Run(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errors.New("capclient: not connected")
	}

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	defer c.wg.Wait()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("capclient: read: %w", err)
		}
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			if err := c.Handle(ctx, data); err != nil {
				c.logger.Warn("command failed", "error", err)
			}
		}()
	}
}

// Handle answers one command.
func (c *Client) Handle(ctx context.Context, data []byte) error {
	cmd, err := protocol.ParseCommand(data)
	if err != nil {
		return err
	}

	switch cmd.Type {
	case protocol.TypeCaptureScreenshot:
		return c.captureScreenshot(ctx, cmd)
	case protocol.TypeMarkStepComplete:
		return c.markStepComplete(ctx, cmd)
	case protocol.TypePing:
		pong, err := protocol.NewPong(protocol.PingData{Type: protocol.TypePing})
		if err != nil {
			return err
		}
		return c.write(pong)
	default:
		return nil
	}
}

func (c *Client) captureScreenshot(ctx context.Context, cmd *protocol.Command) error {
	image, err := c.cfg.Frames.Capture(ctx)
	if err != nil {
		return fmt.Errorf("capture for %s: %w", cmd.RequestID, err)
	}
	res := protocol.ScreenshotResult{
		RequestID:   cmd.RequestID,
		ImageBase64: image,
		Question:    cmd.Question,
	}
	c.logger.Info("submitting screenshot", "request_id", cmd.RequestID, "bytes", len(image))

	if c.cfg.ResultsOverChannel {
		msg, err := protocol.NewScreenshotResultMessage(res)
		if err != nil {
			return err
		}
		return c.write(msg)
	}
	return c.put(ctx, res)
}

func (c *Client) markStepComplete(ctx context.Context, cmd *protocol.Command) error {
	c.cfg.Steps.Complete(cmd.StepID)
	ack := protocol.StepCompletion{
		RequestID:     cmd.RequestID,
		StepCompleted: cmd.StepID,
		Success:       true,
	}
	c.logger.Info("step marked complete", "request_id", cmd.RequestID, "step", cmd.StepID)

	if c.cfg.ResultsOverChannel {
		msg, err := protocol.NewStepResultMessage(ack)
		if err != nil {
			return err
		}
		return c.write(msg)
	}
	return c.put(ctx, ack)
}

func (c *Client) put(ctx context.Context, body any) error {
	return httpc.DoJSON(ctx, c.cfg.HTTPClient, http.MethodPut, c.cfg.ServerURL+"/api/tool-results", body, nil)
}

func (c *Client) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return errors.New("capclient: not connected")
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Close leaves the room.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}
