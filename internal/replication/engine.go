package replication

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"cordelia/internal/config"
	"cordelia/internal/corderr"
	"cordelia/internal/governor"
	"cordelia/internal/metrics"
	"cordelia/internal/peerpool"
	"cordelia/internal/storage"
)

// EffectiveSyncTick is §6.1's default eager-push/sync tick interval.
const EffectiveSyncTick = 60 * time.Second

const (
	pushRetryBase = 250 * time.Millisecond
	pushRetryCap  = 30 * time.Second
	pushMaxAttempts = 5
	fetchBatchMax   = 100
)

// PeerClient is the I/O boundary the swarm task implements: the engine
// calls it to actually move bytes, but never touches a transport or
// codec type directly, keeping the engine testable with a fake.
type PeerClient interface {
	Push(ctx context.Context, peerID string, items []storage.Item) (stored, duplicate, rejected []string, err error)
	Sync(ctx context.Context, peerID, groupID string, since time.Time, limit int) (headers []storage.ItemHeader, hasMore bool, err error)
	Fetch(ctx context.Context, peerID string, itemIDs []string) ([]storage.Item, error)
}

// poolAdapter satisfies replication.PeerTargets over a real peerpool.Pool.
type poolAdapter struct{ pool *peerpool.Pool }

func (a poolAdapter) ActivePeerIDsForGroupOrRelays(groupID string) []string {
	peers := a.pool.ActivePeersForGroupOrRelays(groupID)
	ids := make([]string, 0, len(peers))
	for _, p := range peers {
		ids = append(ids, p.PeerID)
	}
	return ids
}

// Engine is the replication core (§4.7).
type Engine struct {
	store  storage.Driver
	pool   *peerpool.Pool
	client PeerClient
	gov    *governor.Governor
	met    *metrics.Metrics
	log    *logrus.Entry

	role       config.Role
	replCfg    config.Replication
	relayCfg   config.Relay

	mu             sync.Mutex
	syncDeadlines  map[string]time.Time
	syncWatermarks map[string]time.Time
}

// New constructs an Engine. gov may be nil (e.g. in tests); the engine
// only uses it to decide whether to log transport push failures and
// issues no bans itself, so push and sync failures do not escalate to a
// ban here.
func New(store storage.Driver, pool *peerpool.Pool, client PeerClient, gov *governor.Governor, met *metrics.Metrics, role config.Role, replCfg config.Replication, relayCfg config.Relay) *Engine {
	return &Engine{
		store:         store,
		pool:          pool,
		client:        client,
		gov:           gov,
		met:           met,
		log:           logrus.WithField("component", "replication"),
		role:          role,
		replCfg:       replCfg,
		relayCfg:      relayCfg,
		syncDeadlines:  make(map[string]time.Time),
		syncWatermarks: make(map[string]time.Time),
	}
}

// SetClient binds the swarm transport after construction, breaking the
// Engine/Swarm constructor cycle (the swarm needs an Engine to dispatch
// inbound pushes into, the engine needs the swarm as its PeerClient).
func (e *Engine) SetClient(c PeerClient) {
	e.client = c
}

// OnLocalWrite computes and returns the OutboundAction for a just
// persisted item (§4.7.A); the caller (the API adapter) should pass the
// result to Dispatch without blocking the write path on it.
func (e *Engine) OnLocalWrite(item storage.Item, group storage.Group) OutboundAction {
	return OnLocalWrite(item, group.Culture, poolAdapter{e.pool})
}

// Dispatch executes an OutboundAction, performing eager push with
// exponential backoff retries (§4.7.7): 250ms·2^attempt capped at 30s,
// up to 5 attempts. Exhaustion increments a counter but never fails the
// original write — Dispatch is always called out-of-band from the write
// path itself. Targets are pushed to concurrently since a slow or dead
// peer's retry backoff must not delay delivery to the others.
func (e *Engine) Dispatch(ctx context.Context, action OutboundAction) {
	if action.Kind != ActionEagerPush {
		return
	}
	var g errgroup.Group
	for _, peerID := range action.Targets {
		peerID := peerID
		g.Go(func() error {
			e.pushWithRetry(ctx, peerID, []storage.Item{action.Item})
			return nil
		})
	}
	_ = g.Wait()
}

func (e *Engine) pushWithRetry(ctx context.Context, peerID string, items []storage.Item) {
	var lastErr error
	for attempt := 0; attempt < pushMaxAttempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(float64(pushRetryBase) * math.Pow(2, float64(attempt)))
			if backoff > pushRetryCap {
				backoff = pushRetryCap
			}
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
		}

		_, _, _, err := e.client.Push(ctx, peerID, items)
		if err == nil {
			return
		}
		lastErr = err
		if e.gov != nil && corderr.Is(err, corderr.KindTransport) {
			e.log.WithError(err).WithField("peer", peerID).Debug("push attempt failed")
		}
	}

	e.log.WithError(lastErr).WithField("peer", peerID).Warn("push retries exhausted")
	if e.met != nil {
		e.met.PushRetriesExhausted.Inc()
	}
}

// AcceptPush runs every inbound item through the destination-side gates
// (§4.7.1), stores accepted items, and — for relay nodes — re-pushes
// newly stored items to every other active peer (§4.7.2). It returns the
// per-item outcome the caller encodes as a MemoryPushAck.
func (e *Engine) AcceptPush(ctx context.Context, items []storage.Item, fromPeerID string) (stored, duplicate, rejected []string) {
	sharedGroups, _ := e.store.SharedGroupIDs(ctx)
	sharedSet := toSet(sharedGroups)

	var toRepush []storage.Item

	for _, item := range items {
		decision := e.gateDecision(ctx, item.GroupID, sharedSet)
		if decision == Deny {
			rejected = append(rejected, item.ItemID)
			if e.met != nil {
				e.met.ItemsRejected.Inc()
			}
			continue
		}

		res, err := e.store.PutItem(ctx, item)
		if err != nil {
			rejected = append(rejected, item.ItemID)
			if e.met != nil {
				e.met.ItemsRejected.Inc()
			}
			e.log.WithError(err).WithField("item", item.ItemID).Warn("put_item failed")
			continue
		}

		switch res {
		case storage.Stored:
			stored = append(stored, item.ItemID)
			toRepush = append(toRepush, item)
			if e.met != nil {
				e.met.ItemsStored.Inc()
			}
		case storage.Duplicate:
			duplicate = append(duplicate, item.ItemID)
			if e.met != nil {
				e.met.ItemsDuplicate.Inc()
			}
		case storage.Rejected:
			rejected = append(rejected, item.ItemID)
			if e.met != nil {
				e.met.ItemsRejected.Inc()
			}
		}
	}

	if e.role == config.RoleRelay && len(toRepush) > 0 {
		go e.relayRepush(context.Background(), toRepush, fromPeerID)
	}

	return stored, duplicate, rejected
}

// gateDecision applies gate 2 for relay nodes and gate 3 otherwise
// (§4.7.1). Gate 2's relay_accepted_groups for a dynamic relay is
// relay_learned_groups (populated only by GroupExchange, tracked in the
// peer pool) unioned with shared_groups — never stored_group_ids, which
// is a distinct set (§4.7.B) that would make "has it already arrived"
// a precondition for "will the next one be accepted".
func (e *Engine) gateDecision(ctx context.Context, groupID string, sharedGroups map[string]bool) GateDecision {
	if e.role != config.RoleRelay {
		return Gate3(groupID, sharedGroups)
	}

	accepted := toSet(e.pool.RelayLearnedGroupIDs())
	for g := range sharedGroups {
		accepted[g] = true
	}
	return Gate2(e.relayCfg.Posture, groupID, accepted, toSet(e.relayCfg.AllowedGroups), toSet(e.relayCfg.BlockedGroups))
}

// relayRepush implements §4.7.2: a relay that stores an item re-pushes
// it to every active peer except the one it arrived from. A peer that
// already holds an identical (item_id, checksum) answers stored=0,
// which is the sole loop terminator per §9 — no hop counters.
func (e *Engine) relayRepush(ctx context.Context, items []storage.Item, exceptPeerID string) {
	byGroup := make(map[string][]storage.Item)
	for _, it := range items {
		byGroup[it.GroupID] = append(byGroup[it.GroupID], it)
	}
	adapter := poolAdapter{e.pool}
	for groupID, groupItems := range byGroup {
		for _, peerID := range adapter.ActivePeerIDsForGroupOrRelays(groupID) {
			if peerID == exceptPeerID {
				continue
			}
			e.pushWithRetry(ctx, peerID, groupItems)
		}
	}
}

func toSet(ss []string) map[string]bool {
	m := make(map[string]bool, len(ss))
	for _, s := range ss {
		m[s] = true
	}
	return m
}
