// Package governor implements the periodic peer-lifecycle state machine
// of §4.5: a decision function over the peer pool that updates peer
// states in the pool and emits a list of actions for the swarm layer to
// execute. It performs no I/O itself,
// generalizing the teacher's cluster package (which folds membership
// change directly into Join/Leave) into an explicit tick-driven policy
// the caller can unit test without a network.
package governor

import (
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"cordelia/internal/config"
	"cordelia/internal/peerpool"
)

// ActionKind enumerates the effects a tick can request.
type ActionKind int

const (
	ActionConnect ActionKind = iota
	ActionDisconnect
	ActionSendGroupExchange
	ActionPromote
	ActionDemote
	ActionBan
	ActionUnban
)

func (a ActionKind) String() string {
	switch a {
	case ActionConnect:
		return "connect"
	case ActionDisconnect:
		return "disconnect"
	case ActionSendGroupExchange:
		return "send_group_exchange"
	case ActionPromote:
		return "promote"
	case ActionDemote:
		return "demote"
	case ActionBan:
		return "ban"
	case ActionUnban:
		return "unban"
	default:
		return "unknown"
	}
}

// Action is one instruction emitted by a tick.
type Action struct {
	Kind   ActionKind
	PeerID string
	Reason string
}

// Violation identifies why a peer is being banned (§4.5's ban triggers).
type Violation int

const (
	ViolationProtocol Violation = iota
	ViolationSyncFailure
	ViolationOversizeFrame
	ViolationIntegrity
)

const (
	// StaleAfter is how long a Hot peer can go without useful traffic
	// before it is demoted back to Warm.
	StaleAfter = 30 * time.Minute
	// InactiveAfter moves any state to Cold.
	InactiveAfter = 90 * time.Second
	// PromotionThreshold is the minimum score (§4.5) required for
	// Warm → Hot promotion.
	PromotionThreshold = 0.5
	// BaseBan is the initial ban duration before any escalation doubling.
	BaseBan = 5 * time.Minute
	// MaxBan caps the doubled ban duration.
	MaxBan = 24 * time.Hour
	// EscalationDecayAfter resets a peer's ban escalation counter once it
	// has gone this long without a fresh violation.
	EscalationDecayAfter = 7 * 24 * time.Hour
)

// Governor evaluates the pool against §4.5's transition rules.
type Governor struct {
	pool   *peerpool.Pool
	caps   config.Governor
	log    *logrus.Entry

	lastChurn time.Time
}

// New constructs a Governor bound to a pool and its caps.
func New(pool *peerpool.Pool, caps config.Governor) *Governor {
	return &Governor{
		pool:      pool,
		caps:      caps,
		log:       logrus.WithField("component", "governor"),
		lastChurn: time.Now().UTC(),
	}
}

// Tick evaluates every peer against the lifecycle rules and returns the
// resulting actions. It mutates peer state directly (promote/demote/ban
// are pure bookkeeping); the caller is responsible for the I/O side
// effects (dialing, sending GroupExchange, closing connections).
func (g *Governor) Tick(now time.Time) []Action {
	var actions []Action

	for _, p := range g.pool.All() {
		if p.State != peerpool.Banned && now.Sub(p.LastSeen) > InactiveAfter {
			g.pool.Transition(p.PeerID, peerpool.Cold)
			actions = append(actions, Action{Kind: ActionDisconnect, PeerID: p.PeerID, Reason: "inactive"})
			continue
		}

		switch p.State {
		case peerpool.Hot:
			if now.Sub(p.StateSince) > StaleAfter && !g.hasRecentTraffic(p, now) {
				g.pool.Transition(p.PeerID, peerpool.Warm)
				actions = append(actions, Action{Kind: ActionDemote, PeerID: p.PeerID, Reason: "stale"})
			}
		case peerpool.Warm:
			_, _, hot, _ := g.pool.CountByState()
			if p.Score() >= PromotionThreshold && hot < g.hotMax() {
				g.pool.Transition(p.PeerID, peerpool.Hot)
				actions = append(actions, Action{Kind: ActionPromote, PeerID: p.PeerID, Reason: "score"})
				actions = append(actions, Action{Kind: ActionSendGroupExchange, PeerID: p.PeerID, Reason: "promoted_to_hot"})
			}
		}
	}

	for id, p := range g.bannedSnapshot() {
		if now.After(p.BanExpiry) {
			g.pool.Transition(id, peerpool.Cold)
			p.BanExpiry = time.Time{}
			actions = append(actions, Action{Kind: ActionUnban, PeerID: id, Reason: "ban_expired"})
		}
	}

	if g.caps.ChurnInterval() > 0 && now.Sub(g.lastChurn) >= g.caps.ChurnInterval() {
		actions = append(actions, g.churn(now)...)
		g.lastChurn = now
	}

	return actions
}

func (g *Governor) hasRecentTraffic(p *peerpool.Peer, now time.Time) bool {
	return now.Sub(p.LastSeen) < StaleAfter
}

func (g *Governor) hotMax() int {
	if g.caps.HotMax <= 0 {
		return math.MaxInt32
	}
	return g.caps.HotMax
}

func (g *Governor) bannedSnapshot() map[string]*peerpool.Peer {
	out := make(map[string]*peerpool.Peer)
	for _, p := range g.pool.All() {
		if p.State == peerpool.Banned {
			out[p.PeerID] = p
		}
	}
	return out
}

// churn demotes churn_fraction of Hot peers to Warm every churn_interval,
// to break eclipse patterns (§4.5).
func (g *Governor) churn(now time.Time) []Action {
	hot := g.pool.HotPeers()
	if len(hot) == 0 {
		return nil
	}
	n := int(math.Ceil(float64(len(hot)) * g.caps.ChurnFraction))
	if n <= 0 {
		return nil
	}
	var actions []Action
	for i := 0; i < n && i < len(hot); i++ {
		p := hot[i]
		g.pool.Transition(p.PeerID, peerpool.Warm)
		actions = append(actions, Action{Kind: ActionDemote, PeerID: p.PeerID, Reason: "churn"})
	}
	return actions
}

// Ban transitions a peer to Banned, doubling its backoff per escalation
// and capping at MaxBan (§4.5). A peer whose escalation counter has
// decayed (no violation in EscalationDecayAfter) restarts from BaseBan.
func (g *Governor) Ban(peerID string, v Violation, now time.Time) Action {
	p, ok := g.pool.Get(peerID)
	if !ok {
		return Action{Kind: ActionBan, PeerID: peerID, Reason: "unknown_peer"}
	}

	if !p.LastViolationFree.IsZero() && now.Sub(p.LastViolationFree) > EscalationDecayAfter {
		p.BanCount = 0
	}
	p.BanCount++

	dur := time.Duration(float64(BaseBan) * math.Pow(2, float64(p.BanCount-1)))
	if dur > MaxBan {
		dur = MaxBan
	}

	p.BannedAt = now
	p.BanExpiry = now.Add(dur)
	p.LastViolationFree = now
	g.pool.Transition(peerID, peerpool.Banned)

	return Action{Kind: ActionBan, PeerID: peerID, Reason: violationReason(v)}
}

func violationReason(v Violation) string {
	switch v {
	case ViolationProtocol:
		return "protocol_violation"
	case ViolationSyncFailure:
		return "sync_failure"
	case ViolationOversizeFrame:
		return "oversize_frame"
	case ViolationIntegrity:
		return "integrity_failure"
	default:
		return "violation"
	}
}

// OnHandshakeSuccess implements Cold → Warm.
func (g *Governor) OnHandshakeSuccess(peerID string) Action {
	g.pool.Transition(peerID, peerpool.Warm)
	return Action{Kind: ActionPromote, PeerID: peerID, Reason: "handshake"}
}

// RecordDelivery updates a peer's score inputs after a successful
// MemoryPush/Ack round trip.
func (g *Governor) RecordDelivery(peerID string, rtt time.Duration, now time.Time) {
	p, ok := g.pool.Get(peerID)
	if !ok {
		return
	}
	p.ItemsDelivered++
	p.RTT = rtt
	p.LastSeen = now
}

// UpdateLiveness records a successful keep-alive round trip without
// counting it as a delivered item — Ping/Pong proves the peer is alive
// and updates RTT, but only MemoryPush acks feed the delivery score.
func (g *Governor) UpdateLiveness(peerID string, rtt time.Duration, now time.Time) {
	p, ok := g.pool.Get(peerID)
	if !ok {
		return
	}
	p.RTT = rtt
	p.LastSeen = now
}
