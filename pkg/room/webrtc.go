package room

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/pion/webrtc/v3"
)

// DataChannelLabel is the data channel a WebRTC participant must open.
const DataChannelLabel = "tools"

// AcceptOffer answers a participant's SDP offer. The participant joins room
// once its "tools" data channel opens and leaves when the peer connection
// fails or closes. The answer carries every gathered candidate, so no
// trickle ICE exchange is needed.
func (h *Hub) AcceptOffer(ctx context.Context, room, identity string, offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	if room == "" || identity == "" {
		return nil, fmt.Errorf("room: room and identity are required")
	}

	pc, err := h.api.NewPeerConnection(webrtc.Configuration{ICEServers: h.ice})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	var joined atomic.Pointer[Participant]
	leave := func() {
		if p := joined.Load(); p != nil {
			h.Leave(p)
		}
	}

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != DataChannelLabel {
			h.logger.Debug("ignoring data channel", "label", dc.Label(), "identity", identity)
			return
		}

		dc.OnOpen(func() {
			p, err := h.Join(room, identity, KindWebRTC,
				func(data []byte) error { return dc.SendText(string(data)) },
				pc.Close,
			)
			if err != nil {
				h.logger.Warn("webrtc join rejected", "error", err)
				return
			}
			joined.Store(p)
		})

		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			if p := joined.Load(); p != nil {
				h.handleInbound(p, msg.Data)
			}
		})

		dc.OnClose(leave)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		h.logger.Debug("peer connection state", "room", room, "identity", identity, "state", state.String())
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			leave()
		}
	})

	if err := pc.SetRemoteDescription(offer); err != nil {
		pc.Close()
		return nil, fmt.Errorf("set remote description: %w", err)
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("create answer: %w", err)
	}

	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		return nil, fmt.Errorf("set local description: %w", err)
	}

	select {
	case <-gathered:
	case <-ctx.Done():
		pc.Close()
		return nil, ctx.Err()
	}

	return pc.LocalDescription(), nil
}
