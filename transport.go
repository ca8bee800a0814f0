package peerchef

import (
	"context"
	"fmt"
	"io"

	"github.com/libp2p/go-libp2p/core/peer"
)

// EventKind classifies what the transport reports to the event loop.
type EventKind uint8

const (
	// EventOther is any transport notification the loop does not act upon,
	// such as connections being opened or closed.
	EventOther EventKind = iota
	// EventMessage is an inbound pub/sub message on the node topic.
	EventMessage
	// EventDiscovered is emitted for every new live discovery record.
	EventDiscovered
	// EventExpired is emitted for every discovery record which lapsed.
	EventExpired
)

func (k EventKind) String() string {
	switch k {
	case EventMessage:
		return "message"
	case EventDiscovered:
		return "discovered"
	case EventExpired:
		return "expired"
	default:
		return "other"
	}
}

// Event is a notification from the transport layer.
// Peer is the author for messages and the subject for discovery events.
type Event struct {
	Kind   EventKind
	Peer   peer.ID
	Data   []byte
	Detail string
}

func (e Event) String() string {
	return fmt.Sprintf("%s(%s)", e.Kind, e.Peer)
}

// Discovery answers which peers are currently reported live.
type Discovery interface {
	// HasPeer is true as long as at least one live record of the peer exists.
	HasPeer(peer.ID) bool
	// DiscoveredPeers lists every live peer. It may contain duplicates when
	// a peer is known through several records.
	DiscoveredPeers() []peer.ID
}

// PartialView is the effector behind the membership view: the transport
// relays pub/sub traffic with the peers it has been told about.
type PartialView interface {
	AddPeer(peer.ID)
	RemovePeer(peer.ID)
}

// Transport is everything the event loop needs from the network.
type Transport interface {
	Discovery
	PartialView
	io.Closer

	// Listen binds the listening addresses and starts discovery.
	Listen() error
	// Subscribe joins a topic, its messages are then reported as
	// `EventMessage`. Messages published by the node itself are not.
	Subscribe(topic Topic) error
	// Publish sends a payload to every subscriber of the topic.
	Publish(ctx context.Context, topic Topic, data []byte) error
	// Events is the single notification channel consumed by the loop.
	Events() <-chan Event
}
