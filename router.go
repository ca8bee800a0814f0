package peerchef

import (
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/raskyld/peerchef/pkg/protocol"
)

// ActionKind is what the event loop must do with an inbound message.
type ActionKind uint8

const (
	ActionIgnore ActionKind = iota
	ActionLogResponse
	ActionServeAll
	ActionServeTargeted
)

func (k ActionKind) String() string {
	switch k {
	case ActionLogResponse:
		return "log_response"
	case ActionServeAll:
		return "serve_all"
	case ActionServeTargeted:
		return "serve_targeted"
	default:
		return "ignore"
	}
}

// InboundMessage is a raw pub/sub payload and its author.
type InboundMessage struct {
	Source  peer.ID
	Payload []byte
}

// Action is the outcome of `Route`.
//
// Source is set for every action but `ActionIgnore`. Response is only set
// for `ActionLogResponse`, Mode only for the serve actions.
type Action struct {
	Kind     ActionKind
	Source   peer.ID
	Response *protocol.ListResponse
	Mode     protocol.ListMode
}

// Route classifies an inbound message from the point of view of `self`.
// It has no side effect.
//
// Responses are broadcast on the topic but addressed to a single receiver,
// those meant for other peers are ignored. Requests are served when they
// target everyone or `self`.
func Route(msg InboundMessage, self peer.ID) Action {
	decoded := protocol.Decode(msg.Payload)
	switch decoded.Kind {
	case protocol.KindResponse:
		if decoded.Response.Receiver != self.String() {
			return Action{Kind: ActionIgnore}
		}
		return Action{
			Kind:     ActionLogResponse,
			Source:   msg.Source,
			Response: decoded.Response,
		}
	case protocol.KindRequest:
		mode := decoded.Request.Mode
		if mode.IsAll() {
			return Action{Kind: ActionServeAll, Source: msg.Source, Mode: mode}
		}
		if target, _ := mode.Target(); target == self.String() {
			return Action{Kind: ActionServeTargeted, Source: msg.Source, Mode: mode}
		}
		return Action{Kind: ActionIgnore}
	default:
		return Action{Kind: ActionIgnore}
	}
}
