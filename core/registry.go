package core

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ipmsg-go/ipmsg/logger"
)

// ErrRegistryBusy is returned by the sweep methods when the registry lock
// could not be acquired; the caller is expected to skip the cycle.
var ErrRegistryBusy = errors.New("registry busy")

// Registry owns every known Peer, keyed by IP address, including the
// permanent sentinel entry for the local node. The mutex guards only map
// and field mutation; events are always emitted after it is released.
type Registry struct {
	mu    sync.Mutex
	peers map[string]*Peer
	local string

	dispatch *Dispatcher
	log      logger.Logger
	now      func() time.Time
}

func NewRegistry(local *Peer, dispatch *Dispatcher, log logger.Logger) *Registry {
	if local.Groups == nil {
		local.Groups = make(map[string]struct{})
	}
	local.Presence = PresenceOnline
	local.LastSeen = time.Now()

	return &Registry{
		peers:    map[string]*Peer{local.Addr: local},
		local:    local.Addr,
		dispatch: dispatch,
		log:      log,
		now:      time.Now,
	}
}

// LocalAddr returns the sentinel's address.
func (r *Registry) LocalAddr() string { return r.local }

// OnPacket folds one decoded packet into the registry. Optional fields
// merge idempotently: blank values never blank out known ones. Packets
// whose source is the local address are ignored.
func (r *Registry) OnPacket(pkt *Packet, srcAddr string, srcPort int) {
	if srcAddr == r.local {
		return
	}

	var events []Event

	r.mu.Lock()
	peer, known := r.peers[srcAddr]
	if !known {
		peer = &Peer{
			Addr:     srcAddr,
			Groups:   make(map[string]struct{}),
			Presence: PresenceOffline,
		}
		r.peers[srcAddr] = peer
	}

	wasOffline := !known || peer.Presence == PresenceOffline

	peer.LastSeen = r.now()
	if srcPort > 0 {
		peer.Port = srcPort
	}
	if pkt.SenderName != "" {
		peer.Username = pkt.SenderName
	}
	if pkt.SenderHost != "" {
		peer.Hostname = pkt.SenderHost
	}
	if !pkt.HasOpt(OptUTF8) {
		peer.LegacyEncoding = true
	}

	switch pkt.Mode() {
	case CmdBrEntry, CmdAnsEntry:
		r.mergeEntryPayload(peer, pkt.Content)
		peer.Presence = PresenceOnline
	case CmdBrAbsence:
		r.mergeEntryPayload(peer, pkt.Content)
		peer.Presence = PresenceAway
	case CmdBrExit:
		if peer.Presence != PresenceOffline {
			peer.Presence = PresenceOffline
			peer.OfflineSince = r.now()
			events = append(events, PeerOffline{
				Addr:        peer.Addr,
				DisplayName: peer.DisplayName(),
				Reason:      ReasonExplicit,
				At:          peer.OfflineSince,
			})
		}
	default:
		// Any other traffic from an offline peer counts as re-entry,
		// but never downgrades a self-reported Away.
		if peer.Presence == PresenceOffline {
			peer.Presence = PresenceOnline
		}
	}

	if wasOffline && peer.Presence != PresenceOffline {
		events = append(events, PeerOnline{
			Addr:        peer.Addr,
			DisplayName: peer.DisplayName(),
			At:          peer.LastSeen,
		})
	}
	r.mu.Unlock()

	for _, ev := range events {
		r.dispatch.Emit(ev)
	}
}

// Entry payloads carry "nickname\x00group", the legacy presence format.
func (r *Registry) mergeEntryPayload(peer *Peer, content string) {
	nick, group, _ := strings.Cut(content, "\x00")
	if nick != "" {
		peer.Nickname = nick
	}
	if group != "" {
		peer.Groups[group] = struct{}{}
	}
}

// MarkExit transitions a peer to Offline with the given reason. The local
// sentinel is exempt.
func (r *Registry) MarkExit(addr, reason string) {
	if addr == r.local {
		return
	}

	var ev Event

	r.mu.Lock()
	if peer, ok := r.peers[addr]; ok && peer.Presence != PresenceOffline {
		peer.Presence = PresenceOffline
		peer.OfflineSince = r.now()
		ev = PeerOffline{
			Addr:        peer.Addr,
			DisplayName: peer.DisplayName(),
			Reason:      reason,
			At:          peer.OfflineSince,
		}
	}
	r.mu.Unlock()

	if ev != nil {
		r.dispatch.Emit(ev)
	}
}

// Get returns a copy of the peer at addr.
func (r *Registry) Get(addr string) (*Peer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	peer, ok := r.peers[addr]
	if !ok {
		return nil, false
	}
	return peer.clone(), true
}

// Snapshot returns copies of all peers, sentinel included, ordered by
// address.
func (r *Registry) Snapshot() []*Peer {
	r.mu.Lock()
	peers := make([]*Peer, 0, len(r.peers))
	for _, p := range r.peers {
		peers = append(peers, p.clone())
	}
	r.mu.Unlock()

	sort.Slice(peers, func(i, j int) bool { return peers[i].Addr < peers[j].Addr })
	return peers
}

// TouchLocal refreshes the sentinel's LastSeen; called on every heartbeat
// tick.
func (r *Registry) TouchLocal() {
	r.mu.Lock()
	r.peers[r.local].LastSeen = r.now()
	r.mu.Unlock()
}

// SweepTimeouts marks every non-local peer not heard from within timeout
// as Offline. It refuses to wait on a contended lock and returns
// ErrRegistryBusy so the supervisor can skip the cycle.
func (r *Registry) SweepTimeouts(timeout time.Duration) error {
	if !r.mu.TryLock() {
		return ErrRegistryBusy
	}

	now := r.now()
	var events []Event
	for addr, peer := range r.peers {
		if addr == r.local || peer.Presence == PresenceOffline {
			continue
		}
		if now.Sub(peer.LastSeen) > timeout {
			peer.Presence = PresenceOffline
			peer.OfflineSince = now
			events = append(events, PeerOffline{
				Addr:        peer.Addr,
				DisplayName: peer.DisplayName(),
				Reason:      ReasonTimeout,
				At:          now,
			})
		}
	}
	r.mu.Unlock()

	for _, ev := range events {
		r.dispatch.Emit(ev)
	}
	return nil
}

// SweepOffline evicts peers that have been Offline longer than retention.
// The local sentinel is never evicted.
func (r *Registry) SweepOffline(retention time.Duration) error {
	if !r.mu.TryLock() {
		return ErrRegistryBusy
	}

	now := r.now()
	evicted := 0
	for addr, peer := range r.peers {
		if addr == r.local || peer.Presence != PresenceOffline {
			continue
		}
		if now.Sub(peer.OfflineSince) > retention {
			delete(r.peers, addr)
			evicted++
		}
	}
	r.mu.Unlock()

	if evicted > 0 {
		r.log.WithInt("evicted", evicted).Info("evicted long-offline peers")
	}
	return nil
}
