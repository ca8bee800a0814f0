package peerchef

import (
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/host/peerstore/pstoremem"
	"github.com/multiformats/go-multiaddr"
	"github.com/stretchr/testify/require"
)

type eventRecorder struct {
	lk     sync.Mutex
	events []Event
}

func (r *eventRecorder) emit(e Event) {
	r.lk.Lock()
	defer r.lk.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) kinds() []EventKind {
	r.lk.Lock()
	defer r.lk.Unlock()
	kinds := make([]EventKind, len(r.events))
	for i, e := range r.events {
		kinds[i] = e.Kind
	}
	return kinds
}

func newTestTable() (*discoveryTable, *eventRecorder, *time.Time) {
	rec := &eventRecorder{}
	table := newDiscoveryTable(rec.emit)
	now := time.Unix(1_700_000_000, 0)
	table.now = func() time.Time { return now }
	return table, rec, &now
}

func TestDiscoveryTable_FoundOnce(t *testing.T) {
	table, rec, _ := newTestTable()
	x := NewIdentity().ID()

	table.found(x, "mdns:/ip4/10.0.0.1/tcp/4001", time.Minute)
	table.found(x, "mdns:/ip4/10.0.0.1/tcp/4001", time.Minute)

	require.True(t, table.HasPeer(x))
	require.Equal(t, []EventKind{EventDiscovered}, rec.kinds())
}

func TestDiscoveryTable_SeveralRecords(t *testing.T) {
	table, rec, _ := newTestTable()
	x := NewIdentity().ID()

	table.found(x, "mdns:/ip4/10.0.0.1/tcp/4001", time.Minute)
	table.found(x, "gossip:x", 0)
	require.Len(t, table.DiscoveredPeers(), 2)

	table.lost(x, "gossip:x")
	require.True(t, table.HasPeer(x), "mdns record is still live")

	table.lost(x, "mdns:/ip4/10.0.0.1/tcp/4001")
	require.False(t, table.HasPeer(x))
	require.Empty(t, table.DiscoveredPeers())

	require.Equal(t, []EventKind{
		EventDiscovered, EventDiscovered, EventExpired, EventExpired,
	}, rec.kinds())
}

func TestDiscoveryTable_LostUnknown(t *testing.T) {
	table, rec, _ := newTestTable()
	table.lost(NewIdentity().ID(), "gossip:y")
	require.Empty(t, rec.kinds())
}

func TestDiscoveryTable_Sweep(t *testing.T) {
	table, rec, now := newTestTable()
	x := NewIdentity().ID()
	y := NewIdentity().ID()

	table.found(x, "mdns", time.Minute)
	table.found(y, "gossip:y", 0)

	*now = now.Add(30 * time.Second)
	table.sweep()
	require.True(t, table.HasPeer(x))

	// refreshing pushes the deadline
	table.found(x, "mdns", time.Minute)
	*now = now.Add(45 * time.Second)
	table.sweep()
	require.True(t, table.HasPeer(x))

	*now = now.Add(time.Minute)
	table.sweep()
	require.False(t, table.HasPeer(x))
	require.True(t, table.HasPeer(y), "records without ttl never lapse")

	require.Equal(t, []EventKind{
		EventDiscovered, EventDiscovered, EventExpired,
	}, rec.kinds())
}

func TestDiscoveryTable_SweepRenewsKeptPeers(t *testing.T) {
	table, rec, now := newTestTable()
	x := NewIdentity().ID()
	y := NewIdentity().ID()
	table.keep = func(p peer.ID) bool { return p == x }

	table.found(x, "mdns", time.Minute)
	table.found(y, "mdns", time.Minute)

	*now = now.Add(2 * time.Minute)
	table.sweep()
	require.True(t, table.HasPeer(x))
	require.False(t, table.HasPeer(y))

	// x stops being reachable, its renewed record lapses
	table.keep = func(peer.ID) bool { return false }
	*now = now.Add(30 * time.Second)
	table.sweep()
	require.True(t, table.HasPeer(x), "renewed for a full ttl")
	*now = now.Add(time.Minute)
	table.sweep()
	require.False(t, table.HasPeer(x))

	require.Equal(t, []EventKind{
		EventDiscovered, EventDiscovered, EventExpired, EventExpired,
	}, rec.kinds())
}

func newTestNotifee(t *testing.T, self peer.ID, ttl time.Duration) (*mdnsNotifee, *eventRecorder, *time.Time) {
	t.Helper()
	ps, err := pstoremem.NewPeerstore()
	require.NoError(t, err)
	t.Cleanup(func() { ps.Close() })

	table, rec, now := newTestTable()
	return &mdnsNotifee{
		self:      self,
		peerstore: ps,
		table:     table,
		ttl:       ttl,
		logger:    slog.New(testHandler("mdns")),
	}, rec, now
}

func TestMDNSNotifee_ConnectedPeerOutlivesTTL(t *testing.T) {
	x := NewIdentity().ID()
	notifee, rec, now := newTestNotifee(t, NewIdentity().ID(), 4*time.Second)
	connected := true
	notifee.table.keep = func(p peer.ID) bool { return p == x && connected }

	// mDNS delivers a peer once per record TTL
	notifee.HandlePeerFound(peer.AddrInfo{
		ID:    x,
		Addrs: []multiaddr.Multiaddr{multiaddr.StringCast("/ip4/127.0.0.1/tcp/39101")},
	})
	require.True(t, notifee.table.HasPeer(x))
	require.NotEmpty(t, notifee.peerstore.Addrs(x))

	for range 6 {
		*now = now.Add(5 * time.Second)
		notifee.table.sweep()
		require.True(t, notifee.table.HasPeer(x))
	}
	require.Equal(t, []EventKind{EventDiscovered}, rec.kinds())

	connected = false
	*now = now.Add(5 * time.Second)
	notifee.table.sweep()
	require.False(t, notifee.table.HasPeer(x))
	require.Equal(t, []EventKind{EventDiscovered, EventExpired}, rec.kinds())
}

func TestMDNSNotifee_IgnoresSelf(t *testing.T) {
	self := NewIdentity().ID()
	notifee, rec, _ := newTestNotifee(t, self, time.Minute)

	notifee.HandlePeerFound(peer.AddrInfo{ID: self})
	require.False(t, notifee.table.HasPeer(self))
	require.Empty(t, rec.kinds())
}

func TestDefaultDiscoveryTTL_CoversMDNSRecords(t *testing.T) {
	// libp2p's mDNS announces records for 3200s
	require.GreaterOrEqual(t, defaultConfig().discoveryTTL, 3200*time.Second)
}
