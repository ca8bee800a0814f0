package peerchef

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-metrics"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/raskyld/peerchef/pkg/protocol"
	"github.com/raskyld/peerchef/pkg/recipe"
)

// State of the event loop.
type State uint32

const (
	StateStarting State = iota
	StateListening
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateListening:
		return "listening"
	case StateStopped:
		return "stopped"
	default:
		return "starting"
	}
}

// Node drives a single peer: it merges operator input, queued responses
// and transport events and handles them one at a time.
type Node struct {
	nc      NodeContext
	tr      Transport
	store   recipe.Store
	members *Membership
	out     io.Writer

	logger         *slog.Logger
	msink          metrics.MetricSink
	metricLabels   []metrics.Label
	publishTimeout time.Duration

	// responses produced by storage readers, waiting to be published.
	responseCh chan protocol.ListResponse

	state         atomic.Uint32
	started       atomic.Bool
	ownsTransport bool

	ctx    context.Context
	cancel context.CancelFunc
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// Create builds a node on top of a libp2p host, with a freshly generated
// identity unless `WithIdentity` is given. The host does not listen until
// `Node.Run` is called.
func Create(opts ...Option) (*Node, error) {
	cfg, err := buildConfig(opts)
	if err != nil {
		return nil, err
	}

	id := cfg.identity
	if id == nil {
		id = NewIdentity()
	}
	nc := NodeContext{Identity: id, Topic: cfg.topic}

	logger, msink := cfg.telemetry()
	tr, err := NewLibp2pTransport(nc, &cfg, logger, msink)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCfg, err)
	}

	n := newNode(nc, tr, &cfg)
	n.ownsTransport = true
	return n, nil
}

// New builds a node on top of any `Transport`. The caller keeps ownership
// of the transport. Transport related options are ignored.
func New(nc NodeContext, tr Transport, opts ...Option) (*Node, error) {
	if nc.Identity == nil {
		return nil, fmt.Errorf("%w: node context has no identity", ErrInvalidCfg)
	}
	if nc.Topic == "" {
		nc.Topic = RecipesTopic
	}
	if tr == nil {
		return nil, fmt.Errorf("%w: nil transport", ErrInvalidCfg)
	}

	cfg, err := buildConfig(opts)
	if err != nil {
		return nil, err
	}
	return newNode(nc, tr, &cfg), nil
}

func buildConfig(opts []Option) (config, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return cfg, fmt.Errorf("%w: %w", ErrInvalidCfg, err)
		}
	}
	return cfg, nil
}

func (cfg *config) telemetry() (*slog.Logger, metrics.MetricSink) {
	logger := slog.Default()
	if cfg.logHandler != nil {
		logger = slog.New(cfg.logHandler)
	}

	if cfg.msink == nil {
		cfg.msink = metrics.Default()
	}
	return logger, cfg.msink
}

func newNode(nc NodeContext, tr Transport, cfg *config) *Node {
	logger, msink := cfg.telemetry()
	ctx, cancel := context.WithCancel(context.Background())

	n := &Node{
		nc:             nc,
		tr:             tr,
		store:          cfg.store,
		out:            cfg.out,
		logger:         logger,
		msink:          msink,
		metricLabels:   cfg.metricLabels,
		publishTimeout: cfg.publishTimeout,
		responseCh:     make(chan protocol.ListResponse, 64),
		ctx:            ctx,
		cancel:         cancel,
		stopCh:         make(chan struct{}),
	}
	if n.store == nil {
		n.store = recipe.NewFileStore("")
	}
	if n.out == nil {
		n.out = os.Stdout
	}
	n.members = NewMembership(nc, tr, tr, logger, msink, cfg.metricLabels)
	return n
}

func (n *Node) ID() peer.ID {
	return n.nc.Identity.ID()
}

func (n *Node) Context() NodeContext {
	return n.nc
}

func (n *Node) State() State {
	return State(n.state.Load())
}

// Members returns the current partial view. It must not be called
// concurrently with `Run`.
func (n *Node) Members() []peer.ID {
	return n.members.Peers()
}

// Run starts listening, subscribes to the node topic, then handles events
// until the operator says "exit" or closes its input. Errors before the
// loop starts are wrapped in `ErrStartup`.
func (n *Node) Run(input <-chan string) error {
	if !n.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer n.stop()

	n.logger.Info("starting node", LabelPeer.L(n.nc.Identity), LabelTopic.L(n.nc.Topic))
	if err := n.tr.Listen(); err != nil {
		return fmt.Errorf("%w: %w", ErrStartup, err)
	}
	if err := n.tr.Subscribe(n.nc.Topic); err != nil {
		return fmt.Errorf("%w: %w", ErrStartup, err)
	}

	n.state.Store(uint32(StateListening))
	n.logger.Info("listening")

	events := n.tr.Events()
	for {
		select {
		case line, ok := <-input:
			if !ok {
				n.logger.Info("operator input closed, stopping")
				return nil
			}
			if exit := n.handleLine(line); exit {
				n.logger.Info("exit requested by operator")
				return nil
			}
		case resp := <-n.responseCh:
			n.publishResponse(resp)
		case event, ok := <-events:
			if !ok {
				return ErrTransportClosed
			}
			n.handleEvent(event)
		}
	}
}

func (n *Node) stop() {
	n.state.Store(uint32(StateStopped))
	close(n.stopCh)
	n.cancel()
	n.wg.Wait()
}

// Close releases the transport if the node created it.
func (n *Node) Close() error {
	if n.ownsTransport {
		return n.tr.Close()
	}
	return nil
}

func (n *Node) handleEvent(event Event) {
	switch event.Kind {
	case EventMessage:
		n.handleMessage(InboundMessage{Source: event.Peer, Payload: event.Data})
	case EventDiscovered:
		n.msink.IncrCounterWithLabels(MetricDiscoveryEvents, 1.0,
			withLabels(n.metricLabels, LabelKind.M(event.Kind.String())))
		n.members.OnPeerDiscovered(event.Peer)
	case EventExpired:
		n.msink.IncrCounterWithLabels(MetricDiscoveryEvents, 1.0,
			withLabels(n.metricLabels, LabelKind.M(event.Kind.String())))
		n.members.OnPeerExpired(event.Peer)
	default:
		n.logger.Debug("transport event", LabelPeer.L(event.Peer), "detail", event.Detail)
	}
}

func (n *Node) handleMessage(msg InboundMessage) {
	action := Route(msg, n.ID())
	n.msink.IncrCounterWithLabels(MetricMessagesIn, 1.0,
		withLabels(n.metricLabels, LabelAction.M(action.Kind.String())))

	switch action.Kind {
	case ActionLogResponse:
		n.logger.Info("received recipes",
			LabelPeer.L(action.Source),
			LabelCount.L(len(action.Response.Data)),
		)
		fmt.Fprintf(n.out, "Response from %s:\n", action.Source)
		printRecipes(n.out, action.Response.Data)
	case ActionServeAll, ActionServeTargeted:
		n.logger.Info("received list request",
			LabelPeer.L(action.Source),
			LabelMode.L(action.Mode.String()),
		)
		n.serve(action)
	default:
		n.logger.Debug("ignored message", LabelPeer.L(msg.Source))
	}
}

// serve reads the local storage off the loop and queues the public
// recipes for the requester.
func (n *Node) serve(action Action) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		recipes, err := n.store.ReadAll()
		if err != nil {
			n.msink.IncrCounterWithLabels(MetricServeErrorCount, 1.0, n.metricLabels)
			n.logger.Error("failed to read local recipes, dropping request",
				LabelPeer.L(action.Source),
				LabelError.L(err),
			)
			return
		}

		resp := protocol.ListResponse{
			Mode:     action.Mode,
			Data:     recipe.Public(recipes),
			Receiver: action.Source.String(),
		}

		select {
		case n.responseCh <- resp:
		case <-n.stopCh:
		}
	}()
}

func (n *Node) publishResponse(resp protocol.ListResponse) {
	err := n.publish(protocol.EncodeResponse(resp))
	if err != nil {
		n.logger.Error("failed to publish response",
			LabelPeer.L(resp.Receiver),
			LabelError.L(err),
		)
		return
	}
	n.msink.IncrCounterWithLabels(MetricResponsesOut, 1.0, n.metricLabels)
	n.logger.Debug("published response",
		LabelPeer.L(resp.Receiver),
		LabelCount.L(len(resp.Data)),
	)
}

func (n *Node) publishRequest(req protocol.ListRequest) {
	err := n.publish(protocol.EncodeRequest(req))
	if err != nil {
		n.logger.Error("failed to publish request", LabelMode.L(req.Mode.String()), LabelError.L(err))
		fmt.Fprintf(n.out, "could not send request: %s\n", err)
		return
	}
	n.msink.IncrCounterWithLabels(MetricRequestsOut, 1.0, n.metricLabels)
	n.logger.Info("published list request", LabelMode.L(req.Mode.String()))
}

func (n *Node) publish(data []byte) error {
	ctx, cancel := context.WithTimeout(n.ctx, n.publishTimeout)
	defer cancel()

	err := n.tr.Publish(ctx, n.nc.Topic, data)
	if err != nil {
		n.msink.IncrCounterWithLabels(MetricPublishErrorCount, 1.0, n.metricLabels)
	}
	return err
}

// handleLine runs an operator command and reports whether the loop must
// stop.
func (n *Node) handleLine(line string) bool {
	cmd, err := ParseCommand(line)
	n.msink.IncrCounterWithLabels(MetricCommandCount, 1.0,
		withLabels(n.metricLabels, LabelCommand.M(cmd.Kind.String())))
	if err != nil {
		n.logger.Error("invalid operator command", LabelCommand.L(line), LabelError.L(err))
		fmt.Fprintf(n.out, "%s\n", err)
		return false
	}

	switch cmd.Kind {
	case CmdExit:
		return true
	case CmdListPeers:
		fmt.Fprintln(n.out, "Discovered Peers:")
		for _, p := range uniquePeers(n.tr.DiscoveredPeers()) {
			fmt.Fprintln(n.out, p)
		}
	case CmdListMembers:
		fmt.Fprintln(n.out, "Partial View:")
		for _, p := range n.members.Peers() {
			fmt.Fprintln(n.out, p)
		}
	case CmdListRecipes:
		recipes, err := n.store.ReadAll()
		if err != nil {
			n.logger.Error("failed to read local recipes", LabelError.L(err))
			fmt.Fprintf(n.out, "could not read local recipes: %s\n", err)
			return false
		}
		fmt.Fprintln(n.out, "Local Recipes:")
		printRecipes(n.out, recipes)
	case CmdRequestAll:
		n.publishRequest(protocol.ListRequest{Mode: protocol.All()})
	case CmdRequestPeer:
		n.publishRequest(protocol.ListRequest{Mode: protocol.TargetedAt(cmd.Target.String())})
	}
	return false
}

func uniquePeers(peers []peer.ID) []peer.ID {
	unique := slices.Clone(peers)
	slices.Sort(unique)
	return slices.Compact(unique)
}

func printRecipes(out io.Writer, recipes []recipe.Recipe) {
	for _, r := range recipes {
		visibility := "private"
		if r.Public {
			visibility = "public"
		}
		fmt.Fprintf(out, "%d: %s [%s]\n  ingredients: %s\n  instructions: %s\n",
			r.ID, r.Name, visibility, r.Ingredients, r.Instructions)
	}
}
