package peerchef

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"slices"
	"sync"
	"testing"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/raskyld/peerchef/pkg/recipe"
)

// memHub delivers publications between in-process transports.
type memHub struct {
	lk    sync.Mutex
	nodes map[peer.ID]*memTransport
}

func newMemHub() *memHub {
	return &memHub{nodes: make(map[peer.ID]*memTransport)}
}

func (h *memHub) transport(id peer.ID) *memTransport {
	h.lk.Lock()
	defer h.lk.Unlock()
	tr := &memTransport{
		hub:    h,
		self:   id,
		topics: make(map[Topic]bool),
		events: make(chan Event, eventBufferSize),
	}
	h.nodes[id] = tr
	return tr
}

func (h *memHub) broadcast(from peer.ID, topic Topic, data []byte) {
	h.lk.Lock()
	defer h.lk.Unlock()
	for id, tr := range h.nodes {
		if id == from || !tr.subscribed(topic) {
			continue
		}
		tr.events <- Event{Kind: EventMessage, Peer: from, Data: slices.Clone(data)}
	}
}

type memTransport struct {
	hub  *memHub
	self peer.ID

	lk         sync.Mutex
	topics     map[Topic]bool
	discovered []peer.ID
	added      []peer.ID
	removed    []peer.ID
	published  int
	closed     bool

	listenErr  error
	publishErr error

	events chan Event
}

var _ Transport = (*memTransport)(nil)

func (m *memTransport) Listen() error {
	return m.listenErr
}

func (m *memTransport) Subscribe(topic Topic) error {
	m.lk.Lock()
	defer m.lk.Unlock()
	m.topics[topic] = true
	return nil
}

func (m *memTransport) subscribed(topic Topic) bool {
	m.lk.Lock()
	defer m.lk.Unlock()
	return m.topics[topic]
}

func (m *memTransport) Publish(ctx context.Context, topic Topic, data []byte) error {
	m.lk.Lock()
	if m.publishErr != nil {
		m.lk.Unlock()
		return m.publishErr
	}
	m.published++
	m.lk.Unlock()

	m.hub.broadcast(m.self, topic, data)
	return nil
}

func (m *memTransport) Events() <-chan Event {
	return m.events
}

func (m *memTransport) HasPeer(p peer.ID) bool {
	m.lk.Lock()
	defer m.lk.Unlock()
	return slices.Contains(m.discovered, p)
}

func (m *memTransport) DiscoveredPeers() []peer.ID {
	m.lk.Lock()
	defer m.lk.Unlock()
	return slices.Clone(m.discovered)
}

func (m *memTransport) AddPeer(p peer.ID) {
	m.lk.Lock()
	defer m.lk.Unlock()
	m.added = append(m.added, p)
}

func (m *memTransport) RemovePeer(p peer.ID) {
	m.lk.Lock()
	defer m.lk.Unlock()
	m.removed = append(m.removed, p)
}

func (m *memTransport) Close() error {
	m.lk.Lock()
	defer m.lk.Unlock()
	m.closed = true
	return nil
}

// discover records p as live and notifies the loop.
func (m *memTransport) discover(p peer.ID) {
	m.lk.Lock()
	m.discovered = append(m.discovered, p)
	m.lk.Unlock()
	m.events <- Event{Kind: EventDiscovered, Peer: p}
}

// expire drops one record of p and notifies the loop.
func (m *memTransport) expire(p peer.ID) {
	m.lk.Lock()
	if i := slices.Index(m.discovered, p); i >= 0 {
		m.discovered = slices.Delete(m.discovered, i, i+1)
	}
	m.lk.Unlock()
	m.events <- Event{Kind: EventExpired, Peer: p}
}

func (m *memTransport) addedPeers() []peer.ID {
	m.lk.Lock()
	defer m.lk.Unlock()
	return slices.Clone(m.added)
}

func (m *memTransport) removedPeers() []peer.ID {
	m.lk.Lock()
	defer m.lk.Unlock()
	return slices.Clone(m.removed)
}

func (m *memTransport) publishedCount() int {
	m.lk.Lock()
	defer m.lk.Unlock()
	return m.published
}

type memStore struct {
	recipes []recipe.Recipe
	err     error
}

func (s *memStore) ReadAll() ([]recipe.Recipe, error) {
	if s.err != nil {
		return nil, s.err
	}
	return slices.Clone(s.recipes), nil
}

var errStorageDown = errors.New("disk on fire")

// syncBuffer is written by the loop and read by the test.
type syncBuffer struct {
	lk  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.lk.Lock()
	defer b.lk.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.lk.Lock()
	defer b.lk.Unlock()
	return b.buf.String()
}

var _ io.Writer = (*syncBuffer)(nil)

func testHandler(name string) slog.Handler {
	return slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level:     slog.LevelDebug,
		AddSource: true,
	}).WithAttrs([]slog.Attr{
		{Key: "emitter", Value: slog.StringValue(name)},
	})
}

type testNode struct {
	*Node
	tr    *memTransport
	out   *syncBuffer
	input chan string
	done  chan error
}

func newTestNode(t *testing.T, hub *memHub, name string, store recipe.Store) *testNode {
	t.Helper()
	nc := NewNodeContext(NewIdentity())
	tr := hub.transport(nc.Identity.ID())
	out := &syncBuffer{}

	n, err := New(nc, tr,
		WithStore(store),
		WithOutput(out),
		WithLog(testHandler(name)),
		WithMetricSink(nil),
	)
	if err != nil {
		t.Fatalf("failed to create node %s: %s", name, err)
	}

	return &testNode{
		Node:  n,
		tr:    tr,
		out:   out,
		input: make(chan string),
		done:  make(chan error, 1),
	}
}

func (tn *testNode) start() {
	go func() {
		tn.done <- tn.Run(tn.input)
	}()
}
