package peerchef

import (
	"log/slog"
	"slices"

	"github.com/hashicorp/go-metrics"
	"github.com/libp2p/go-libp2p/core/peer"
)

// Membership keeps the partial view of the topic in sync with discovery.
//
// It is owned by the event loop: it is not safe for concurrent use.
type Membership struct {
	self      peer.ID
	view      map[peer.ID]struct{}
	discovery Discovery
	effector  PartialView

	logger       *slog.Logger
	msink        metrics.MetricSink
	metricLabels []metrics.Label
}

func NewMembership(nc NodeContext, discovery Discovery, effector PartialView, logger *slog.Logger, msink metrics.MetricSink, labels []metrics.Label) *Membership {
	if logger == nil {
		logger = slog.Default()
	}
	if msink == nil {
		msink = &metrics.BlackholeSink{}
	}
	return &Membership{
		self:         nc.Identity.ID(),
		view:         make(map[peer.ID]struct{}),
		discovery:    discovery,
		effector:     effector,
		logger:       logger,
		msink:        msink,
		metricLabels: labels,
	}
}

// OnPeerDiscovered adds the peer to the view. Adding a member again has no
// effect.
func (m *Membership) OnPeerDiscovered(p peer.ID) {
	if p == m.self {
		return
	}
	if _, has := m.view[p]; has {
		return
	}

	m.view[p] = struct{}{}
	if m.effector != nil {
		m.effector.AddPeer(p)
	}
	m.logger.Info("peer joined partial view", LabelPeer.L(p))
	m.reportSize()
}

// OnPeerExpired removes the peer from the view unless discovery still
// holds another live record of it.
func (m *Membership) OnPeerExpired(p peer.ID) {
	if m.discovery != nil && m.discovery.HasPeer(p) {
		m.logger.Debug("expired peer still discovered, keeping it", LabelPeer.L(p))
		return
	}
	if _, has := m.view[p]; !has {
		return
	}

	delete(m.view, p)
	if m.effector != nil {
		m.effector.RemovePeer(p)
	}
	m.logger.Info("peer left partial view", LabelPeer.L(p))
	m.reportSize()
}

func (m *Membership) Contains(p peer.ID) bool {
	_, has := m.view[p]
	return has
}

// Peers returns the members of the view, sorted.
func (m *Membership) Peers() []peer.ID {
	peers := make([]peer.ID, 0, len(m.view))
	for p := range m.view {
		peers = append(peers, p)
	}
	slices.Sort(peers)
	return peers
}

func (m *Membership) Len() int {
	return len(m.view)
}

func (m *Membership) reportSize() {
	m.msink.SetGaugeWithLabels(MetricViewSize, float32(len(m.view)), m.metricLabels)
}
