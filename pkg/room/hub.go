package room

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/pion/webrtc/v3"

	"github.com/teslashibe/go-tradeschool/internal/log"
	"github.com/teslashibe/go-tradeschool/pkg/protocol"
)

// Kind is how a participant is attached to the hub.
type Kind string

const (
	KindWebSocket Kind = "websocket"
	KindWebRTC    Kind = "webrtc"
)

// Participant is one attached identity in a room.
type Participant struct {
	Room     string
	Identity string
	Kind     Kind
	Joined   time.Time

	mu       sync.Mutex
	lastSeen time.Time
	closed   bool
	write    func([]byte) error
	closeFn  func() error
}

// Send writes one message to the participant.
func (p *Participant) Send(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrParticipantClosed
	}
	return p.write(data)
}

// Close detaches the underlying connection. It is safe to call twice.
func (p *Participant) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	closeFn := p.closeFn
	p.mu.Unlock()

	// Teardown may call back into Leave.
	if closeFn == nil {
		return nil
	}
	return closeFn()
}

// LastSeen returns when the participant last sent anything.
func (p *Participant) LastSeen() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastSeen
}

func (p *Participant) touch() {
	p.mu.Lock()
	p.lastSeen = time.Now()
	p.mu.Unlock()
}

// MessageHandler receives inbound participant messages other than ping.
type MessageHandler func(p *Participant, env *protocol.Envelope)

// Hub is the in-process room service. Each (room, identity) pair maps to at
// most one participant; a rejoin replaces and closes the previous one.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[string]*Participant

	onMessage MessageHandler

	api    *webrtc.API
	ice    []webrtc.ICEServer
	logger *slog.Logger

	// Stats
	messagesReceived atomic.Uint64
	messagesSent     atomic.Uint64
	sendErrors       atomic.Uint64
}

var _ Transport = (*Hub)(nil)

// Option configures a Hub.
type Option func(*Hub)

// WithICEServers sets STUN/TURN urls offered to WebRTC participants.
func WithICEServers(urls ...string) Option {
	return func(h *Hub) {
		if len(urls) > 0 {
			h.ice = append(h.ice, webrtc.ICEServer{URLs: urls})
		}
	}
}

// WithSettingEngine builds WebRTC peers from se.
func WithSettingEngine(se webrtc.SettingEngine) Option {
	return func(h *Hub) {
		h.api = webrtc.NewAPI(webrtc.WithSettingEngine(se))
	}
}

// WithLogger sets the hub logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) {
		if l != nil {
			h.logger = l
		}
	}
}

// NewHub creates an empty hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		rooms:  make(map[string]map[string]*Participant),
		api:    webrtc.NewAPI(),
		logger: log.Component("room"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// OnMessage sets the callback for inbound participant messages.
func (h *Hub) OnMessage(fn MessageHandler) {
	h.mu.Lock()
	h.onMessage = fn
	h.mu.Unlock()
}

// Join attaches a participant. write must be safe to call under the
// participant's own lock; closeFn tears the connection down.
func (h *Hub) Join(room, identity string, kind Kind, write func([]byte) error, closeFn func() error) (*Participant, error) {
	if room == "" || identity == "" {
		return nil, fmt.Errorf("room: room and identity are required")
	}
	now := time.Now()
	p := &Participant{
		Room:     room,
		Identity: identity,
		Kind:     kind,
		Joined:   now,
		lastSeen: now,
		write:    write,
		closeFn:  closeFn,
	}

	h.mu.Lock()
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]*Participant)
		h.rooms[room] = members
	}
	old := members[identity]
	members[identity] = p
	count := len(members)
	h.mu.Unlock()

	if old != nil {
		h.logger.Info("participant replaced", "room", room, "identity", identity, "kind", kind)
		old.Close()
	}
	h.logger.Info("participant joined", "room", room, "identity", identity, "kind", kind, "participants", count)
	return p, nil
}

// Leave detaches p if it is still the current participant for its identity.
func (h *Hub) Leave(p *Participant) {
	h.mu.Lock()
	members := h.rooms[p.Room]
	current := members[p.Identity] == p
	if current {
		delete(members, p.Identity)
		if len(members) == 0 {
			delete(h.rooms, p.Room)
		}
	}
	h.mu.Unlock()

	p.Close()
	if current {
		h.logger.Info("participant left", "room", p.Room, "identity", p.Identity, "kind", p.Kind)
	}
}

// Participant returns the current participant for identity in room.
func (h *Hub) Participant(room, identity string) (*Participant, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	p, ok := h.rooms[room][identity]
	return p, ok
}

// SendData implements Transport. Every identity must be present before
// anything is written.
func (h *Hub) SendData(ctx context.Context, room string, payload []byte, identities []string) error {
	if len(identities) == 0 {
		return ErrNoIdentities
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	targets := make([]*Participant, 0, len(identities))
	h.mu.RLock()
	for _, id := range identities {
		p, ok := h.rooms[room][id]
		if !ok {
			h.mu.RUnlock()
			return &ParticipantNotFoundError{Room: room, Identity: id}
		}
		targets = append(targets, p)
	}
	h.mu.RUnlock()

	for _, p := range targets {
		if err := p.Send(payload); err != nil {
			h.sendErrors.Add(1)
			return fmt.Errorf("send to %s/%s: %w", room, p.Identity, err)
		}
		h.messagesSent.Add(1)
	}
	return nil
}

// handleInbound routes one message received from p.
func (h *Hub) handleInbound(p *Participant, data []byte) {
	p.touch()
	h.messagesReceived.Add(1)

	env, err := protocol.ParseEnvelope(data)
	if err != nil {
		h.logger.Debug("dropping unparseable message", "room", p.Room, "identity", p.Identity, "error", err)
		return
	}

	if env.Type == protocol.TypePing {
		var ping protocol.PingData
		_ = json.Unmarshal(data, &ping)
		pong, err := protocol.NewPong(ping)
		if err == nil {
			if err := p.Send(pong); err != nil {
				h.logger.Debug("pong failed", "identity", p.Identity, "error", err)
			}
		}
		return
	}

	h.mu.RLock()
	cb := h.onMessage
	h.mu.RUnlock()
	if cb != nil {
		cb(p, env)
	}
}

// Close detaches every participant.
func (h *Hub) Close() {
	h.mu.Lock()
	var all []*Participant
	for _, members := range h.rooms {
		for _, p := range members {
			all = append(all, p)
		}
	}
	h.rooms = make(map[string]map[string]*Participant)
	h.mu.Unlock()

	for _, p := range all {
		p.Close()
	}
}

// ParticipantInfo describes an attached participant.
type ParticipantInfo struct {
	Identity string    `json:"identity"`
	Kind     Kind      `json:"kind"`
	Joined   time.Time `json:"joined"`
	LastSeen time.Time `json:"last_seen"`
}

// RoomInfo describes a room and its participants.
type RoomInfo struct {
	Name         string            `json:"name"`
	Participants []ParticipantInfo `json:"participants"`
}

// Rooms returns every non-empty room sorted by name.
func (h *Hub) Rooms() []RoomInfo {
	h.mu.RLock()
	names := make([]string, 0, len(h.rooms))
	for name := range h.rooms {
		names = append(names, name)
	}
	h.mu.RUnlock()
	sort.Strings(names)

	out := make([]RoomInfo, 0, len(names))
	for _, name := range names {
		if info, ok := h.Room(name); ok {
			out = append(out, info)
		}
	}
	return out
}

// Room describes one room.
func (h *Hub) Room(name string) (RoomInfo, bool) {
	h.mu.RLock()
	members, ok := h.rooms[name]
	ps := make([]*Participant, 0, len(members))
	for _, p := range members {
		ps = append(ps, p)
	}
	h.mu.RUnlock()
	if !ok {
		return RoomInfo{}, false
	}

	info := RoomInfo{Name: name, Participants: make([]ParticipantInfo, 0, len(ps))}
	for _, p := range ps {
		info.Participants = append(info.Participants, ParticipantInfo{
			Identity: p.Identity,
			Kind:     p.Kind,
			Joined:   p.Joined,
			LastSeen: p.LastSeen(),
		})
	}
	sort.Slice(info.Participants, func(i, j int) bool {
		return info.Participants[i].Identity < info.Participants[j].Identity
	})
	return info, true
}

// ParticipantCount returns the number of attached participants.
func (h *Hub) ParticipantCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, members := range h.rooms {
		n += len(members)
	}
	return n
}

// Stats contains hub statistics.
type Stats struct {
	Rooms            int    `json:"rooms"`
	Participants     int    `json:"participants"`
	MessagesReceived uint64 `json:"messages_received"`
	MessagesSent     uint64 `json:"messages_sent"`
	SendErrors       uint64 `json:"send_errors"`
}

// GetStats returns hub statistics.
func (h *Hub) GetStats() Stats {
	h.mu.RLock()
	rooms := len(h.rooms)
	h.mu.RUnlock()
	return Stats{
		Rooms:            rooms,
		Participants:     h.ParticipantCount(),
		MessagesReceived: h.messagesReceived.Load(),
		MessagesSent:     h.messagesSent.Load(),
		SendErrors:       h.sendErrors.Load(),
	}
}

// RegisterRoutes registers the participant websocket endpoint.
func (h *Hub) RegisterRoutes(app *fiber.App) {
	app.Use("/ws/rooms", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/rooms/:room/:identity", websocket.New(h.handleWebSocket))
}

func (h *Hub) handleWebSocket(c *websocket.Conn) {
	room := c.Params("room")
	identity := c.Params("identity")

	p, err := h.Join(room, identity, KindWebSocket,
		func(data []byte) error { return c.WriteMessage(websocket.TextMessage, data) },
		c.Close,
	)
	if err != nil {
		h.logger.Warn("websocket join rejected", "error", err)
		return
	}
	defer h.Leave(p)

	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			h.logger.Debug("websocket read ended", "room", room, "identity", identity, "error", err)
			return
		}
		h.handleInbound(p, data)
	}
}

// RegisterAPIRoutes registers room inspection and WebRTC signalling routes.
func (h *Hub) RegisterAPIRoutes(api fiber.Router) {
	rooms := api.Group("/rooms")

	rooms.Get("/", func(c *fiber.Ctx) error {
		list := h.Rooms()
		return c.JSON(fiber.Map{
			"rooms": list,
			"count": len(list),
		})
	})

	rooms.Get("/stats", func(c *fiber.Ctx) error {
		return c.JSON(h.GetStats())
	})

	rooms.Get("/:room", func(c *fiber.Ctx) error {
		info, ok := h.Room(c.Params("room"))
		if !ok {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "room not found"})
		}
		return c.JSON(info)
	})

	rooms.Post("/:room/:identity/offer", func(c *fiber.Ctx) error {
		var offer webrtc.SessionDescription
		if err := c.BodyParser(&offer); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		if offer.Type != webrtc.SDPTypeOffer || offer.SDP == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "expected an SDP offer"})
		}

		answer, err := h.AcceptOffer(c.UserContext(), c.Params("room"), c.Params("identity"), offer)
		if err != nil {
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(answer)
	})
}
