package peerchef

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/hashicorp/go-metrics"
	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/libp2p/go-libp2p/p2p/muxer/yamux"
	"github.com/libp2p/go-libp2p/p2p/net/connmgr"
	"github.com/libp2p/go-libp2p/p2p/security/noise"
	"github.com/libp2p/go-libp2p/p2p/transport/tcp"
	"github.com/multiformats/go-multiaddr"
)

const (
	// protectTag marks the connections of partial view members so the
	// connection manager never trims them.
	protectTag = "peerchef-view"

	eventBufferSize = 512
	dialMaxTries    = 5
)

var errNoAddrs = errors.New("no known address")

// Libp2pTransport runs the node over a libp2p host: TCP, Noise, yamux,
// floodsub on the node topic, and mDNS (plus optional memberlist gossip)
// for discovery.
type Libp2pTransport struct {
	cfg          *config
	logger       *slog.Logger
	msink        metrics.MetricSink
	metricLabels []metrics.Label

	host  host.Host
	cm    *connmgr.BasicConnMgr
	ps    *pubsub.PubSub
	table *discoveryTable

	mdns   mdns.Service
	gossip *gossip

	topics map[Topic]*pubsub.Topic
	subs   []*pubsub.Subscription
	lk     sync.Mutex

	eventCh chan Event
	closed  atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// pub/sub outlives ctx until topic handles are released.
	psCancel context.CancelFunc
}

var _ Transport = (*Libp2pTransport)(nil)

func NewLibp2pTransport(nc NodeContext, cfg *config, logger *slog.Logger, msink metrics.MetricSink) (*Libp2pTransport, error) {
	ctx, cancel := context.WithCancel(context.Background())
	t := &Libp2pTransport{
		cfg:          cfg,
		logger:       logger,
		msink:        msink,
		metricLabels: cfg.metricLabels,
		topics:       make(map[Topic]*pubsub.Topic),
		eventCh:      make(chan Event, eventBufferSize),
		ctx:          ctx,
		cancel:       cancel,
	}
	t.table = newDiscoveryTable(t.emit)

	var err error
	defer func() {
		if err != nil {
			t.Close()
		}
	}()

	t.cm, err = connmgr.NewConnManager(cfg.connLow, cfg.connHigh)
	if err != nil {
		return nil, fmt.Errorf("connmgr: %w", err)
	}

	// Nothing listens until `Listen`.
	t.host, err = libp2p.New(
		libp2p.Identity(nc.Identity.PrivKey()),
		libp2p.NoListenAddrs,
		libp2p.Transport(tcp.NewTCPTransport),
		libp2p.Security(noise.ID, noise.New),
		libp2p.Muxer(yamux.ID, yamux.DefaultTransport),
		libp2p.ConnectionManager(t.cm),
	)
	if err != nil {
		return nil, fmt.Errorf("libp2p host: %w", err)
	}
	t.table.keep = t.connected

	psCtx, psCancel := context.WithCancel(context.Background())
	t.psCancel = psCancel
	t.ps, err = pubsub.NewFloodSub(psCtx, t.host,
		pubsub.WithMessageSigning(true),
		pubsub.WithStrictSignatureVerification(true),
	)
	if err != nil {
		return nil, fmt.Errorf("floodsub: %w", err)
	}

	t.host.Network().Notify(&network.NotifyBundle{
		ConnectedF: func(_ network.Network, c network.Conn) {
			t.tryEmit(Event{
				Kind:   EventOther,
				Peer:   c.RemotePeer(),
				Detail: "connected " + c.RemoteMultiaddr().String(),
			})
		},
		DisconnectedF: func(_ network.Network, c network.Conn) {
			t.tryEmit(Event{
				Kind:   EventOther,
				Peer:   c.RemotePeer(),
				Detail: "disconnected " + c.RemoteMultiaddr().String(),
			})
		},
	})

	return t, nil
}

func (t *Libp2pTransport) connected(p peer.ID) bool {
	return t.host.Network().Connectedness(p) == network.Connected
}

func (t *Libp2pTransport) Host() host.Host {
	return t.host
}

func (t *Libp2pTransport) Listen() error {
	if t.closed.Load() {
		return ErrTransportClosed
	}

	addrs := make([]multiaddr.Multiaddr, 0, len(t.cfg.listenAddrs))
	for _, raw := range t.cfg.listenAddrs {
		addr, err := multiaddr.NewMultiaddr(raw)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrListen, err)
		}
		addrs = append(addrs, addr)
	}

	if err := t.host.Network().Listen(addrs...); err != nil {
		return fmt.Errorf("%w: %w", ErrListen, err)
	}
	for _, addr := range t.host.Addrs() {
		t.logger.Info("listening", LabelAddr.L(addr.String()))
	}

	if !t.cfg.mdnsDisabled {
		t.mdns = mdns.NewMdnsService(t.host, t.cfg.mdnsService, &mdnsNotifee{
			self:      t.host.ID(),
			peerstore: t.host.Peerstore(),
			table:     t.table,
			ttl:       t.cfg.discoveryTTL,
			logger:    t.logger,
		})
		if err := t.mdns.Start(); err != nil {
			return fmt.Errorf("%w: mdns: %w", ErrDiscovery, err)
		}
		t.logger.Info("mDNS discovery started", "service", t.cfg.mdnsService)
	}

	if t.cfg.gossipEnabled {
		g, err := startGossip(gossipConfig{
			bindAddr:     t.cfg.gossipBindAddr,
			bindPort:     t.cfg.gossipBindPort,
			neighbours:   t.cfg.neighbours,
			logHandler:   t.cfg.logHandler,
			metricLabels: t.cfg.metricLabels,
		}, t.host.ID(), t.host.Addrs, t.table, t.host.Peerstore(), t.logger)
		if err != nil {
			return fmt.Errorf("%w: gossip: %w", ErrDiscovery, err)
		}
		t.gossip = g
		t.logger.Info("gossip discovery started", LabelAddr.L(t.cfg.gossipBindAddr), "port", t.cfg.gossipBindPort)
	}

	t.wg.Add(1)
	go t.sweepDiscovery()
	return nil
}

func (t *Libp2pTransport) Subscribe(topic Topic) error {
	t.lk.Lock()
	defer t.lk.Unlock()
	if t.closed.Load() {
		return ErrTransportClosed
	}
	if _, has := t.topics[topic]; has {
		return nil
	}

	handle, err := t.ps.Join(topic.String())
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSubscribe, err)
	}
	sub, err := handle.Subscribe()
	if err != nil {
		handle.Close()
		return fmt.Errorf("%w: %w", ErrSubscribe, err)
	}
	t.topics[topic] = handle
	t.subs = append(t.subs, sub)

	t.wg.Add(1)
	go t.readSubscription(topic, sub)
	return nil
}

func (t *Libp2pTransport) Publish(ctx context.Context, topic Topic, data []byte) error {
	t.lk.Lock()
	handle, has := t.topics[topic]
	t.lk.Unlock()
	if !has {
		return fmt.Errorf("%w: %s", ErrNotSubscribed, topic)
	}

	if err := handle.Publish(ctx, data); err != nil {
		return fmt.Errorf("%w: %w", ErrPublish, err)
	}
	return nil
}

func (t *Libp2pTransport) Events() <-chan Event {
	return t.eventCh
}

func (t *Libp2pTransport) HasPeer(p peer.ID) bool {
	return t.table.HasPeer(p)
}

func (t *Libp2pTransport) DiscoveredPeers() []peer.ID {
	return t.table.DiscoveredPeers()
}

// AddPeer protects the connections to p and dials it in the background.
func (t *Libp2pTransport) AddPeer(p peer.ID) {
	if t.closed.Load() {
		return
	}
	t.cm.Protect(p, protectTag)

	t.wg.Add(1)
	go t.dial(p)
}

// RemovePeer stops relaying with p and closes its connections.
func (t *Libp2pTransport) RemovePeer(p peer.ID) {
	if t.closed.Load() {
		return
	}
	t.cm.Unprotect(p, protectTag)
	if err := t.host.Network().ClosePeer(p); err != nil {
		t.logger.Debug("failed to close connections", LabelPeer.L(p), LabelError.L(err))
	}
}

func (t *Libp2pTransport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		// no-op because it was already closed
		return nil
	}

	start := time.Now()
	t.cancel()

	var errs []error
	if t.mdns != nil {
		errs = append(errs, t.mdns.Close())
	}
	if t.gossip != nil {
		t.gossip.shutdown()
	}

	t.lk.Lock()
	for _, sub := range t.subs {
		sub.Cancel()
	}
	for _, handle := range t.topics {
		errs = append(errs, handle.Close())
	}
	t.lk.Unlock()
	if t.psCancel != nil {
		t.psCancel()
	}

	// The host owns the connection manager once created.
	if t.host != nil {
		errs = append(errs, t.host.Close())
	} else if t.cm != nil {
		errs = append(errs, t.cm.Close())
	}

	t.wg.Wait()
	t.logger.Info("transport closed", LabelDuration.L(time.Since(start)))
	return errors.Join(errs...)
}

// emit blocks until the loop accepts the event or the transport closes.
func (t *Libp2pTransport) emit(event Event) {
	select {
	case t.eventCh <- event:
	case <-t.ctx.Done():
	}
}

// tryEmit drops the event when the loop lags behind, it is used for
// notifications which must not stall the swarm.
func (t *Libp2pTransport) tryEmit(event Event) {
	select {
	case t.eventCh <- event:
	default:
		t.logger.Debug("dropped transport event", "event", event.String())
	}
}

func (t *Libp2pTransport) readSubscription(topic Topic, sub *pubsub.Subscription) {
	defer t.wg.Done()
	self := t.host.ID()
	for {
		msg, err := sub.Next(t.ctx)
		if err != nil {
			if t.ctx.Err() == nil {
				t.logger.Error("subscription broken", LabelTopic.L(topic), LabelError.L(err))
			}
			return
		}
		if msg.ReceivedFrom == self {
			continue
		}
		t.emit(Event{
			Kind: EventMessage,
			Peer: msg.GetFrom(),
			Data: msg.Data,
		})
	}
}

func (t *Libp2pTransport) sweepDiscovery() {
	defer t.wg.Done()
	interval := t.cfg.discoveryTTL / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.table.sweep()
		case <-t.ctx.Done():
			return
		}
	}
}

func (t *Libp2pTransport) dial(p peer.ID) {
	defer t.wg.Done()

	_, err := backoff.Retry(t.ctx, func() (struct{}, error) {
		if t.host.Network().Connectedness(p) == network.Connected {
			return struct{}{}, nil
		}
		addrs := t.host.Peerstore().Addrs(p)
		if len(addrs) == 0 {
			return struct{}{}, backoff.Permanent(errNoAddrs)
		}

		ctx, cancel := context.WithTimeout(t.ctx, t.cfg.dialTimeout)
		defer cancel()
		return struct{}{}, t.host.Connect(ctx, peer.AddrInfo{ID: p, Addrs: addrs})
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(dialMaxTries),
	)
	if err != nil && t.ctx.Err() == nil {
		t.msink.IncrCounterWithLabels(MetricDialErrorCount, 1.0,
			withLabels(t.metricLabels, LabelPeer.M(p.String())))
		t.logger.Warn("could not reach discovered peer", LabelPeer.L(p), LabelError.L(err))
	}
}
