package peerchef

import (
	"log/slog"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/peerstore"
)

// discoveryTable keeps every live discovery record. A peer may be known
// through several records (one per mDNS address, one per gossip member),
// it is live as long as one of them is.
//
// Each new record is reported as `EventDiscovered` and each removed one as
// `EventExpired`, in mutation order.
type discoveryTable struct {
	records map[peer.ID]map[string]discoveryRecord
	lk      sync.RWMutex

	// keep, when set, renews the lapsed records of a peer it reports as
	// still reachable. mDNS announces a peer once per record TTL, a peer
	// we are connected to must not expire in between.
	keep func(peer.ID) bool

	// emitLk serialises mutation+emission so events reach the loop in the
	// order the table changed, without holding lk while blocked on emit.
	emitLk sync.Mutex
	emit   func(Event)
	now    func() time.Time
}

// A zero deadline never lapses.
type discoveryRecord struct {
	deadline time.Time
	ttl      time.Duration
}

func newDiscoveryTable(emit func(Event)) *discoveryTable {
	return &discoveryTable{
		records: make(map[peer.ID]map[string]discoveryRecord),
		emit:    emit,
		now:     time.Now,
	}
}

// found creates or refreshes a record. A zero ttl never expires, the
// record must then be removed with `lost`.
func (d *discoveryTable) found(p peer.ID, key string, ttl time.Duration) {
	d.emitLk.Lock()
	defer d.emitLk.Unlock()

	rec := discoveryRecord{ttl: ttl}
	if ttl > 0 {
		rec.deadline = d.now().Add(ttl)
	}

	d.lk.Lock()
	recs, ok := d.records[p]
	if !ok {
		recs = make(map[string]discoveryRecord)
		d.records[p] = recs
	}
	_, existed := recs[key]
	recs[key] = rec
	d.lk.Unlock()

	if !existed {
		d.emit(Event{Kind: EventDiscovered, Peer: p, Detail: key})
	}
}

func (d *discoveryTable) lost(p peer.ID, key string) {
	d.emitLk.Lock()
	defer d.emitLk.Unlock()

	d.lk.Lock()
	_, existed := d.records[p][key]
	d.removeLocked(p, key)
	d.lk.Unlock()

	if existed {
		d.emit(Event{Kind: EventExpired, Peer: p, Detail: key})
	}
}

// sweep drops every lapsed record, unless `keep` vouches for its peer in
// which case the record is renewed for another ttl.
func (d *discoveryTable) sweep() {
	d.emitLk.Lock()
	defer d.emitLk.Unlock()

	type lapsed struct {
		p   peer.ID
		key string
	}
	var expired []lapsed
	now := d.now()

	d.lk.Lock()
	for p, recs := range d.records {
		kept := false
		checked := false
		for key, rec := range recs {
			if rec.deadline.IsZero() || now.Before(rec.deadline) {
				continue
			}
			if !checked {
				kept = d.keep != nil && d.keep(p)
				checked = true
			}
			if kept {
				rec.deadline = now.Add(rec.ttl)
				recs[key] = rec
				continue
			}
			expired = append(expired, lapsed{p: p, key: key})
		}
	}
	for _, e := range expired {
		d.removeLocked(e.p, e.key)
	}
	d.lk.Unlock()

	for _, e := range expired {
		d.emit(Event{Kind: EventExpired, Peer: e.p, Detail: e.key})
	}
}

// must be called by an holder of the write lock.
func (d *discoveryTable) removeLocked(p peer.ID, key string) {
	recs, ok := d.records[p]
	if !ok {
		return
	}
	delete(recs, key)
	if len(recs) == 0 {
		delete(d.records, p)
	}
}

func (d *discoveryTable) HasPeer(p peer.ID) bool {
	d.lk.RLock()
	defer d.lk.RUnlock()
	return len(d.records[p]) > 0
}

// DiscoveredPeers returns one entry per live record.
func (d *discoveryTable) DiscoveredPeers() []peer.ID {
	d.lk.RLock()
	defer d.lk.RUnlock()
	var peers []peer.ID
	for p, recs := range d.records {
		for range recs {
			peers = append(peers, p)
		}
	}
	return peers
}

// mdnsNotifee turns mDNS announcements into discovery records, one per
// advertised address.
type mdnsNotifee struct {
	self      peer.ID
	peerstore peerstore.Peerstore
	table     *discoveryTable
	ttl       time.Duration
	logger    *slog.Logger
}

func (m *mdnsNotifee) HandlePeerFound(pi peer.AddrInfo) {
	if pi.ID == m.self {
		return
	}

	m.logger.Debug("mDNS announcement", LabelPeer.L(pi.ID), LabelCount.L(len(pi.Addrs)))
	m.peerstore.AddAddrs(pi.ID, pi.Addrs, m.ttl)
	if len(pi.Addrs) == 0 {
		m.table.found(pi.ID, "mdns", m.ttl)
		return
	}
	for _, addr := range pi.Addrs {
		m.table.found(pi.ID, "mdns:"+addr.String(), m.ttl)
	}
}
