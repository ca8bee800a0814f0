// Package peerchef runs a node of a peer-to-peer recipe sharing network.
//
// Every node keeps its recipes in a local JSON file and joins a single
// pub/sub topic. An operator drives the node with one-line commands
// (see `ParseCommand`) and can ask every peer, or a single one, for the
// recipes they marked as public.
//
// ## How it works
//
// A `Node` is built with `Create`, which sets up a libp2p host (TCP, Noise,
// yamux) with floodsub on top. Nothing listens until `Node.Run` is called.
//
// Peers are discovered through mDNS on the local network and, optionally,
// through a UDP gossip protocol for networks where multicast does not
// reach. Discovered peers are added to the *partial view*: the set of
// peers the node relays pub/sub traffic with. A peer leaves the view when
// its last discovery record lapses.
//
// Requests and responses share the topic:
//
//	{"mode":"ALL"}
//	{"mode":{"One":"12D3KooW..."}}
//	{"mode":"ALL","data":[...],"receiver":"12D3KooW..."}
//
// Responses are broadcast but carry their receiver, other nodes ignore
// them. A node never answers with private recipes.
//
// ## Event loop
//
// `Node.Run` merges operator lines, transport events and responses ready to
// be published, and handles them one at a time. Reading the storage to
// answer a request happens off the loop so a slow disk never stalls it.
// Errors that only affect one message are logged and the loop carries on,
// only failures before the loop starts are returned (wrapped in
// `ErrStartup`).
//
// `New` accepts any `Transport`, which is how several nodes can share a
// process, for instance in tests.
package peerchef
