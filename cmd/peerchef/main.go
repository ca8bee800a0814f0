package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	logging "github.com/ipfs/go-log/v2"
	"github.com/raskyld/peerchef"
	"github.com/raskyld/peerchef/pkg/config"
)

var (
	ConfigPath  = flag.String("config", "", "YAML configuration file")
	StoragePath = flag.String("recipes", "", "JSON file holding the local recipes")
	Listen      = flag.String("listen", "", "comma-separated list of multiaddrs to listen on")
	GossipPort  = flag.Int("gossip-port", 0, "enable gossip discovery on this UDP/TCP port")
	Neighbours  = flag.String("neighbours", "", "comma-separated list of gossip neighbours")
	NoMDNS      = flag.Bool("no-mdns", false, "disable mDNS discovery")
	Debug       = flag.Bool("debug", false, "log at debug level")
)

func main() {
	flag.Parse()

	cfg := config.Default()
	if *ConfigPath != "" {
		var err error
		cfg, err = config.Load(*ConfigPath)
		if err != nil {
			slog.Error("failed to load configuration", "error", err)
			os.Exit(1)
		}
	}
	applyFlags(cfg)
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	handler := setupLogging(cfg)

	node, err := peerchef.Create(options(cfg, handler)...)
	if err != nil {
		slog.Error("failed to create node", "error", err)
		os.Exit(2)
	}
	slog.Info("node created", "peer", node.ID())

	// SIGINT and SIGTERM close the operator input, which stops the node.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = node.Run(peerchef.ReadLines(ctx, os.Stdin))
	stop()
	if cerr := node.Close(); cerr != nil {
		slog.Warn("failed to close transport", "error", cerr)
	}
	if err != nil {
		slog.Error("node stopped", "error", err)
		os.Exit(3)
	}
}

func applyFlags(cfg *config.Config) {
	if *StoragePath != "" {
		cfg.StoragePath = *StoragePath
	}
	if *Listen != "" {
		cfg.ListenAddrs = strings.Split(*Listen, ",")
	}
	if *GossipPort != 0 {
		cfg.Gossip.Enabled = true
		cfg.Gossip.BindPort = *GossipPort
	}
	if *Neighbours != "" {
		cfg.Gossip.Neighbours = strings.Split(*Neighbours, ",")
	}
	if *NoMDNS {
		cfg.MDNS.Disabled = true
	}
	if *Debug {
		cfg.LogLevel = "debug"
	}
}

func setupLogging(cfg *config.Config) slog.Handler {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))

	// libp2p logs through go-log, keep it quiet unless asked.
	if lvl, err := logging.LevelFromString(cfg.Libp2pLogLevel); err == nil {
		logging.SetAllLoggers(lvl)
	}
	return handler
}

func options(cfg *config.Config, handler slog.Handler) []peerchef.Option {
	opts := []peerchef.Option{
		peerchef.WithLog(handler),
		peerchef.WithStoragePath(cfg.StoragePath),
		peerchef.WithPublishTimeout(cfg.PublishTimeout),
		peerchef.WithDiscoveryTTL(cfg.MDNS.TTL),
	}
	if cfg.Topic != "" {
		opts = append(opts, peerchef.WithTopic(peerchef.Topic(cfg.Topic)))
	}
	if len(cfg.ListenAddrs) > 0 {
		opts = append(opts, peerchef.WithListenAddrs(cfg.ListenAddrs...))
	}
	if cfg.MDNS.Disabled {
		opts = append(opts, peerchef.WithoutMDNS())
	} else {
		opts = append(opts, peerchef.WithMDNS(cfg.MDNS.Service))
	}
	if cfg.Gossip.Enabled {
		opts = append(opts,
			peerchef.WithGossip(cfg.Gossip.BindAddr, cfg.Gossip.BindPort),
			peerchef.WithNeighbours(cfg.Gossip.Neighbours),
		)
	}
	return opts
}
