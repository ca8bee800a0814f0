package peerchef

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	leg_metrics "github.com/armon/go-metrics"
	"github.com/hashicorp/go-metrics"
	"github.com/hashicorp/memberlist"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/peerstore"
	"github.com/multiformats/go-multiaddr"
)

const gossipLeaveTimeout = 5 * time.Second

// gossipMeta is advertised by every member so others can dial its libp2p
// host.
type gossipMeta struct {
	Peer  string   `json:"peer"`
	Addrs []string `json:"addrs,omitempty"`
}

// encodeGossipMeta drops trailing addresses until the metadata fits in
// limit bytes.
func encodeGossipMeta(id peer.ID, addrs []multiaddr.Multiaddr, limit int) []byte {
	meta := gossipMeta{Peer: id.String()}
	for _, addr := range addrs {
		meta.Addrs = append(meta.Addrs, addr.String())
	}

	for {
		buf, err := json.Marshal(meta)
		if err != nil {
			panic(fmt.Sprintf("unexpected fail to marshal: %s", err))
		}
		if len(buf) <= limit || len(meta.Addrs) == 0 {
			return buf
		}
		meta.Addrs = meta.Addrs[:len(meta.Addrs)-1]
	}
}

func decodeGossipMeta(buf []byte) (peer.AddrInfo, error) {
	var meta gossipMeta
	if err := json.Unmarshal(buf, &meta); err != nil {
		return peer.AddrInfo{}, fmt.Errorf("%w: %w", ErrGossipMeta, err)
	}

	id, err := peer.Decode(meta.Peer)
	if err != nil {
		return peer.AddrInfo{}, fmt.Errorf("%w: %w", ErrGossipMeta, err)
	}

	info := peer.AddrInfo{ID: id}
	for _, raw := range meta.Addrs {
		addr, err := multiaddr.NewMultiaddr(raw)
		if err != nil {
			return peer.AddrInfo{}, fmt.Errorf("%w: %w", ErrGossipMeta, err)
		}
		info.Addrs = append(info.Addrs, addr)
	}
	return info, nil
}

// gossip discovers peers through memberlist, for networks where multicast
// does not reach. Members advertise their libp2p peer ID and addresses in
// their node metadata.
type gossip struct {
	logger    *slog.Logger
	ml        *memberlist.Memberlist
	local     peer.ID
	localAddr func() []multiaddr.Multiaddr
	table     *discoveryTable
	peerstore peerstore.Peerstore
}

var (
	_ memberlist.EventDelegate = (*gossip)(nil)
	_ memberlist.Delegate      = (*gossip)(nil)
)

type gossipConfig struct {
	bindAddr     string
	bindPort     int
	neighbours   []string
	logHandler   slog.Handler
	metricLabels []metrics.Label
}

func startGossip(
	cfg gossipConfig,
	local peer.ID,
	localAddr func() []multiaddr.Multiaddr,
	table *discoveryTable,
	ps peerstore.Peerstore,
	logger *slog.Logger,
) (*gossip, error) {
	g := &gossip{
		logger:    logger,
		local:     local,
		localAddr: localAddr,
		table:     table,
		peerstore: ps,
	}

	mlCfg := memberlist.DefaultLANConfig()
	mlCfg.Name = local.String()
	mlCfg.BindAddr = cfg.bindAddr
	mlCfg.BindPort = cfg.bindPort
	mlCfg.AdvertisePort = cfg.bindPort
	mlCfg.Events = g
	mlCfg.Delegate = g
	mlCfg.LogOutput = nil
	if cfg.logHandler != nil {
		mlCfg.Logger = slog.NewLogLogger(cfg.logHandler, slog.LevelDebug)
	} else {
		mlCfg.Logger = slog.NewLogLogger(slog.Default().Handler(), slog.LevelDebug)
	}

	// TODO(raskyld): drop the translation once memberlist emits through
	// hashicorp/go-metrics.
	mlCfg.MetricLabels = make([]leg_metrics.Label, len(cfg.metricLabels))
	for i, label := range cfg.metricLabels {
		mlCfg.MetricLabels[i] = leg_metrics.Label{
			Name:  label.Name,
			Value: label.Value,
		}
	}

	ml, err := memberlist.Create(mlCfg)
	if err != nil {
		return nil, err
	}
	g.ml = ml

	if len(cfg.neighbours) > 0 {
		joined, err := ml.Join(cfg.neighbours)
		if err != nil {
			ml.Shutdown()
			return nil, fmt.Errorf("%w: %w", ErrJoinGossip, err)
		}
		if joined != len(cfg.neighbours) {
			logger.Warn(
				"not all neighbours are reachable",
				"joined", joined,
				"expected", len(cfg.neighbours),
			)
		}
	}
	return g, nil
}

func (g *gossip) shutdown() {
	if err := g.ml.Leave(gossipLeaveTimeout); err != nil {
		g.logger.Warn("failed to leave gossip gracefully", LabelError.L(err))
	}
	g.ml.Shutdown()
}

func (g *gossip) NotifyJoin(node *memberlist.Node) {
	info, err := decodeGossipMeta(node.Meta)
	if err != nil {
		g.logger.Warn("ignoring gossip member", "member", node.Name, LabelError.L(err))
		return
	}
	if info.ID == g.local {
		return
	}

	g.logger.Info("peer joined gossip", LabelPeer.L(info.ID), LabelAddr.L(node.Address()))
	g.peerstore.AddAddrs(info.ID, info.Addrs, peerstore.RecentlyConnectedAddrTTL)
	g.table.found(info.ID, "gossip:"+node.Name, 0)
}

func (g *gossip) NotifyLeave(node *memberlist.Node) {
	info, err := decodeGossipMeta(node.Meta)
	if err != nil || info.ID == g.local {
		return
	}

	g.logger.Info("peer left gossip", LabelPeer.L(info.ID))
	g.table.lost(info.ID, "gossip:"+node.Name)
}

func (g *gossip) NotifyUpdate(node *memberlist.Node) {
	info, err := decodeGossipMeta(node.Meta)
	if err != nil || info.ID == g.local {
		return
	}

	g.logger.Debug("peer updated", LabelPeer.L(info.ID))
	g.peerstore.AddAddrs(info.ID, info.Addrs, peerstore.RecentlyConnectedAddrTTL)
}

func (g *gossip) NodeMeta(limit int) []byte {
	return encodeGossipMeta(g.local, g.localAddr(), limit)
}

// The recipes protocol runs over pub/sub, memberlist only carries
// membership.
func (g *gossip) NotifyMsg([]byte)                           {}
func (g *gossip) GetBroadcasts(overhead, limit int) [][]byte { return nil }
func (g *gossip) LocalState(join bool) []byte                { return nil }
func (g *gossip) MergeRemoteState(buf []byte, join bool)     {}
