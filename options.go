package peerchef

import (
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/hashicorp/go-metrics"
	"github.com/multiformats/go-multiaddr"
	"github.com/raskyld/peerchef/pkg/recipe"
)

const (
	DefaultListenAddr  = "/ip4/0.0.0.0/tcp/0"
	DefaultMDNSService = "peerchef-recipes"
	// DefaultDiscoveryTTL matches the TTL of the records announced by
	// libp2p's mDNS service, which re-delivers a peer only once it lapsed.
	DefaultDiscoveryTTL   = 3200 * time.Second
	DefaultDialTimeout    = 10 * time.Second
	DefaultPublishTimeout = 10 * time.Second
	DefaultGossipPort     = 7946
)

type config struct {
	identity     *Identity
	topic        Topic
	store        recipe.Store
	out          io.Writer
	logHandler   slog.Handler
	msink        metrics.MetricSink
	metricLabels []metrics.Label

	publishTimeout time.Duration

	// libp2p transport
	listenAddrs  []string
	mdnsDisabled bool
	mdnsService  string
	discoveryTTL time.Duration
	dialTimeout  time.Duration
	connLow      int
	connHigh     int

	// memberlist discovery, disabled unless a bind port is given.
	gossipEnabled  bool
	gossipBindAddr string
	gossipBindPort int
	neighbours     []string
}

func defaultConfig() config {
	return config{
		topic:          RecipesTopic,
		publishTimeout: DefaultPublishTimeout,
		listenAddrs:    []string{DefaultListenAddr},
		mdnsService:    DefaultMDNSService,
		discoveryTTL:   DefaultDiscoveryTTL,
		dialTimeout:    DefaultDialTimeout,
		connLow:        16,
		connHigh:       64,
		gossipBindAddr: "0.0.0.0",
		gossipBindPort: DefaultGossipPort,
	}
}

// Option to pass to `Create` or `New`.
type Option func(*config) error

// WithIdentity makes the node use an existing identity instead of
// generating a fresh one.
func WithIdentity(id *Identity) Option {
	return func(c *config) error {
		if id == nil {
			return errors.New("identity must not be nil")
		}
		c.identity = id
		return nil
	}
}

// WithTopic overrides the pub/sub topic. Nodes only talk to nodes sharing
// the same topic.
func WithTopic(topic Topic) Option {
	return func(c *config) error {
		if topic == "" {
			return errors.New("topic must not be empty")
		}
		c.topic = topic
		return nil
	}
}

// WithStoragePath reads local recipes from a JSON file.
func WithStoragePath(path string) Option {
	return func(c *config) error {
		c.store = recipe.NewFileStore(path)
		return nil
	}
}

// WithStore plugs a custom recipe store.
func WithStore(store recipe.Store) Option {
	return func(c *config) error {
		if store == nil {
			return errors.New("store must not be nil")
		}
		c.store = store
		return nil
	}
}

// WithOutput sets where answers to operator commands are written.
// Defaults to `os.Stdout`.
func WithOutput(out io.Writer) Option {
	return func(c *config) error {
		c.out = out
		return nil
	}
}

// WithLog specifies which `slog.Handler` to use.
func WithLog(handler slog.Handler) Option {
	return func(c *config) error {
		c.logHandler = handler
		return nil
	}
}

// WithMetricSink allows you to chose how to collect the metrics emitted by
// your node.
func WithMetricSink(ms metrics.MetricSink) Option {
	return func(c *config) error {
		if ms == nil {
			ms = &metrics.BlackholeSink{}
		}
		c.msink = ms
		return nil
	}
}

// WithMetricLabels adds static labels to all metrics produced by the node.
func WithMetricLabels(labels []metrics.Label) Option {
	return func(c *config) error {
		c.metricLabels = labels
		return nil
	}
}

// WithPublishTimeout bounds how long a single publication may take.
func WithPublishTimeout(timeout time.Duration) Option {
	return func(c *config) error {
		if timeout == 0 {
			timeout = DefaultPublishTimeout
		}
		c.publishTimeout = timeout
		return nil
	}
}

// WithListenAddrs specifies the multiaddrs the libp2p host binds on
// when the node starts.
func WithListenAddrs(addrs ...string) Option {
	return func(c *config) error {
		if len(addrs) == 0 {
			return errors.New("at least one listen address is required")
		}
		for _, addr := range addrs {
			if _, err := multiaddr.NewMultiaddr(addr); err != nil {
				return err
			}
		}
		c.listenAddrs = addrs
		return nil
	}
}

// WithMDNS sets the service name advertised on the local network.
// Only nodes using the same service name discover each other.
func WithMDNS(service string) Option {
	return func(c *config) error {
		if service == "" {
			service = DefaultMDNSService
		}
		c.mdnsService = service
		c.mdnsDisabled = false
		return nil
	}
}

// WithoutMDNS disables multicast discovery, usually in favour of
// `WithGossip`.
func WithoutMDNS() Option {
	return func(c *config) error {
		c.mdnsDisabled = true
		return nil
	}
}

// WithDiscoveryTTL controls how long an mDNS record stays live without
// being announced again. Records of connected peers are renewed instead of
// expired.
func WithDiscoveryTTL(ttl time.Duration) Option {
	return func(c *config) error {
		if ttl == 0 {
			ttl = DefaultDiscoveryTTL
		}
		c.discoveryTTL = ttl
		return nil
	}
}

// WithDialTimeout controls how much time we are willing to spend dialing
// a discovered peer.
func WithDialTimeout(timeout time.Duration) Option {
	return func(c *config) error {
		if timeout == 0 {
			timeout = DefaultDialTimeout
		}
		c.dialTimeout = timeout
		return nil
	}
}

// WithConnLimits sets the low and high watermarks of the connection
// manager. Members of the partial view are never trimmed.
func WithConnLimits(low, high int) Option {
	return func(c *config) error {
		if low <= 0 || high <= low {
			return errors.New("connection limits must satisfy 0 < low < high")
		}
		c.connLow = low
		c.connHigh = high
		return nil
	}
}

// WithGossip enables discovery through a UDP gossip protocol, for peers
// which cannot be reached by multicast.
func WithGossip(addr string, port int) Option {
	return func(c *config) error {
		if addr != "" {
			c.gossipBindAddr = addr
		}
		if port != 0 {
			c.gossipBindPort = port
		}
		c.gossipEnabled = true
		return nil
	}
}

// WithNeighbours controls which gossip peers are tried initially.
// It has no effect unless `WithGossip` is set.
func WithNeighbours(neighbours []string) Option {
	return func(c *config) error {
		c.neighbours = neighbours
		return nil
	}
}
