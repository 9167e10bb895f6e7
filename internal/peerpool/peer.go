// Package peerpool tracks every peer a node knows about and its
// replication-relevant state, generalizing the teacher's cluster.Membership
// (a flat map of host:port nodes backed by a consistent-hash ring) into
// the four-state peer lifecycle of §4.4 driven by the governor.
package peerpool

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"cordelia/internal/config"
)

// State is a peer's position in the Cold/Warm/Hot/Banned lifecycle (§4.5).
type State int

const (
	Cold State = iota
	Warm
	Hot
	Banned
)

func (s State) String() string {
	switch s {
	case Cold:
		return "cold"
	case Warm:
		return "warm"
	case Hot:
		return "hot"
	case Banned:
		return "banned"
	default:
		return "unknown"
	}
}

// IsActive reports whether a peer in this state participates in normal
// traffic (§4.4's active_peers_for_group_or_relays).
func (s State) IsActive() bool {
	return s == Warm || s == Hot
}

// Peer is an entry in the pool (§3 Peer).
type Peer struct {
	PeerID           string
	Addresses        []string
	State            State
	LastSeen         time.Time
	RTT              time.Duration
	ItemsDelivered   int64
	IsRelay          bool
	GroupsAdvertised map[string]bool
	GroupIntersect   map[string]bool

	// StateSince marks the last transition, used by the governor's
	// staleness (30 min) check and by Score; the inactivity (90 s) check
	// uses LastSeen.
	StateSince time.Time

	// BanCount is the escalation counter for ban-backoff doubling (§4.5).
	BanCount   int
	BannedAt   time.Time
	BanExpiry  time.Time
	LastViolationFree time.Time
}

func newPeer(id string, addrs []string) *Peer {
	now := time.Now().UTC()
	return &Peer{
		PeerID:           id,
		Addresses:        addrs,
		State:            Cold,
		LastSeen:         now,
		StateSince:       now,
		GroupsAdvertised: make(map[string]bool),
		GroupIntersect:   make(map[string]bool),
	}
}

// Score implements §4.5's promotion scoring function.
func (p *Peer) Score() float64 {
	elapsed := time.Since(p.StateSince).Seconds()
	if elapsed < 0.001 {
		elapsed = 0.001
	}
	rttMs := float64(p.RTT / time.Millisecond)
	return (float64(p.ItemsDelivered) / elapsed) * (1.0 / (1.0 + rttMs/100.0))
}

// Pool is the node's peer_id → peer record map (§4.4), with a bounded
// Cold tier backed by an LRU cache so an unauthenticated flood of
// peer-share gossip can't grow memory without limit.
type Pool struct {
	hotWarm map[string]*Peer
	banned  map[string]*Peer
	cold    *lru.Cache[string, *Peer]

	role          config.Role
	relayPosture  config.RelayPosture
	caps          config.Governor

	sharedGroups      map[string]bool
	relayLearnedGroups map[string]bool
}

// New constructs a Pool honoring the governor caps and role/posture that
// shape effective_groups() (§4.4).
func New(role config.Role, posture config.RelayPosture, caps config.Governor) (*Pool, error) {
	coldCap := caps.ColdMax
	if coldCap <= 0 {
		coldCap = 256
	}
	cache, err := lru.New[string, *Peer](coldCap)
	if err != nil {
		return nil, err
	}
	return &Pool{
		hotWarm:            make(map[string]*Peer),
		banned:             make(map[string]*Peer),
		cold:               cache,
		role:               role,
		relayPosture:       posture,
		caps:               caps,
		sharedGroups:       make(map[string]bool),
		relayLearnedGroups: make(map[string]bool),
	}, nil
}

// SetSharedGroups replaces the node's own group membership set.
func (p *Pool) SetSharedGroups(groups []string) {
	m := make(map[string]bool, len(groups))
	for _, g := range groups {
		m[g] = true
	}
	p.sharedGroups = m
}

// LearnRelayGroup records a group learned via group-exchange from a
// non-relay peer, durable for a dynamic relay (§4.6).
func (p *Pool) LearnRelayGroup(groupID string) {
	p.relayLearnedGroups[groupID] = true
}

// ForgetRelayGroup drops a learned group, e.g. on culture tombstone.
func (p *Pool) ForgetRelayGroup(groupID string) {
	delete(p.relayLearnedGroups, groupID)
}

// RelayLearnedGroupIDs returns every group a dynamic relay has learned
// about via group-exchange (§4.6 step 3), independent of shared_groups
// and of whatever it happens to have stored items for.
func (p *Pool) RelayLearnedGroupIDs() []string {
	out := make([]string, 0, len(p.relayLearnedGroups))
	for g := range p.relayLearnedGroups {
		out = append(out, g)
	}
	return out
}

// EffectiveGroups implements §4.4's effective_groups().
func (p *Pool) EffectiveGroups() map[string]bool {
	out := make(map[string]bool, len(p.sharedGroups))
	for g := range p.sharedGroups {
		out[g] = true
	}
	if p.role == config.RoleRelay && p.relayPosture == config.PostureDynamic {
		for g := range p.relayLearnedGroups {
			out[g] = true
		}
	}
	return out
}

// find returns the peer record regardless of which tier holds it.
func (p *Pool) find(peerID string) (*Peer, bool) {
	if pr, ok := p.hotWarm[peerID]; ok {
		return pr, true
	}
	if pr, ok := p.banned[peerID]; ok {
		return pr, true
	}
	if pr, ok := p.cold.Get(peerID); ok {
		return pr, true
	}
	return nil, false
}

// Get returns a peer by id.
func (p *Pool) Get(peerID string) (*Peer, bool) {
	return p.find(peerID)
}

// Insert adds a new peer in the Cold state, computing its group
// intersection against the current effective set (§4.4 insert).
func (p *Pool) Insert(peerID string, addrs []string, isRelay bool) *Peer {
	if pr, ok := p.find(peerID); ok {
		return pr
	}
	pr := newPeer(peerID, addrs)
	pr.IsRelay = isRelay
	p.recomputeIntersection(pr)
	p.cold.Add(peerID, pr)
	return pr
}

// UpdatePeerGroups replaces a peer's advertised set and recomputes its
// intersection (§4.4 update_peer_groups).
func (p *Pool) UpdatePeerGroups(peerID string, groups []string) {
	pr, ok := p.find(peerID)
	if !ok {
		return
	}
	m := make(map[string]bool, len(groups))
	for _, g := range groups {
		m[g] = true
	}
	pr.GroupsAdvertised = m
	p.recomputeIntersection(pr)
}

func (p *Pool) recomputeIntersection(pr *Peer) {
	effective := p.EffectiveGroups()
	intersect := make(map[string]bool)
	for g := range pr.GroupsAdvertised {
		if effective[g] {
			intersect[g] = true
		}
	}
	pr.GroupIntersect = intersect
}

// ActivePeersForGroupOrRelays implements §4.4's
// active_peers_for_group_or_relays.
func (p *Pool) ActivePeersForGroupOrRelays(groupID string) []*Peer {
	var out []*Peer
	for _, pr := range p.hotWarm {
		if !pr.State.IsActive() {
			continue
		}
		if pr.IsRelay || pr.GroupIntersect[groupID] {
			out = append(out, pr)
		}
	}
	return out
}

// RandomHotPeerForGroupOrRelays implements §4.4's priority-ordered
// selection: hot&intersection → warm&intersection → hot relay → warm relay.
func (p *Pool) RandomHotPeerForGroupOrRelays(groupID string) (*Peer, bool) {
	tiers := [][]*Peer{{}, {}, {}, {}}
	for _, pr := range p.hotWarm {
		switch {
		case pr.State == Hot && pr.GroupIntersect[groupID]:
			tiers[0] = append(tiers[0], pr)
		case pr.State == Warm && pr.GroupIntersect[groupID]:
			tiers[1] = append(tiers[1], pr)
		case pr.State == Hot && pr.IsRelay:
			tiers[2] = append(tiers[2], pr)
		case pr.State == Warm && pr.IsRelay:
			tiers[3] = append(tiers[3], pr)
		}
	}
	for _, tier := range tiers {
		if len(tier) > 0 {
			return tier[0], true
		}
	}
	return nil, false
}

// All returns every Warm, Hot and Banned peer; Cold peers are not
// included (used by the governor tick and group-exchange fan-out).
func (p *Pool) All() []*Peer {
	out := make([]*Peer, 0, len(p.hotWarm)+len(p.banned))
	for _, pr := range p.hotWarm {
		out = append(out, pr)
	}
	for _, pr := range p.banned {
		out = append(out, pr)
	}
	return out
}

// HotPeers returns every Hot peer.
func (p *Pool) HotPeers() []*Peer {
	var out []*Peer
	for _, pr := range p.hotWarm {
		if pr.State == Hot {
			out = append(out, pr)
		}
	}
	return out
}

// CountByState reports how many peers currently sit in each of
// Cold/Warm/Hot/Banned, used by the governor to enforce caps.
func (p *Pool) CountByState() (cold, warm, hot, banned int) {
	cold = p.cold.Len()
	banned = len(p.banned)
	for _, pr := range p.hotWarm {
		if pr.State == Warm {
			warm++
		} else if pr.State == Hot {
			hot++
		}
	}
	return
}

// Transition moves a peer between tiers, relocating the backing map as
// its state changes (cold uses the LRU, warm/hot the plain map, banned
// its own map so it never competes with the Cold LRU for space).
func (p *Pool) Transition(peerID string, to State) {
	pr, ok := p.find(peerID)
	if !ok {
		return
	}
	from := pr.State
	pr.State = to
	pr.StateSince = time.Now().UTC()

	if from == to {
		return
	}

	p.cold.Remove(peerID)
	delete(p.hotWarm, peerID)
	delete(p.banned, peerID)

	switch to {
	case Cold:
		p.cold.Add(peerID, pr)
	case Warm, Hot:
		p.hotWarm[peerID] = pr
	case Banned:
		p.banned[peerID] = pr
	}
}

// Remove evicts a peer entirely, e.g. after a group tombstone removes the
// last reason to keep contact.
func (p *Pool) Remove(peerID string) {
	p.cold.Remove(peerID)
	delete(p.hotWarm, peerID)
	delete(p.banned, peerID)
}
