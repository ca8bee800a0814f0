package peerchef

import (
	"errors"
)

var (
	ErrInvalidCfg     = errors.New("node: invalid options")
	ErrStartup        = errors.New("node: could not start")
	ErrAlreadyRunning = errors.New("node: event loop already started")
	ErrUnknownCommand = errors.New("node: unknown command")
	ErrInvalidPeer    = errors.New("node: invalid peer id")

	ErrTransportClosed = errors.New("transport: closed")
	ErrNotSubscribed   = errors.New("transport: not subscribed to topic")
	ErrListen          = errors.New("transport: could not listen")
	ErrSubscribe       = errors.New("transport: could not subscribe")
	ErrPublish         = errors.New("transport: could not publish")
	ErrDiscovery       = errors.New("transport: could not start discovery")

	ErrGossipMeta = errors.New("gossip: invalid node metadata")
	ErrJoinGossip = errors.New("gossip: could not join neighbours")
)
