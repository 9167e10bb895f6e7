package replication

import (
	"context"
	"time"

	"cordelia/internal/config"
	"cordelia/internal/storage"
)

// syncGroupIDs returns the set of groups this node should run
// anti-entropy for. Dynamic relays additionally sync groups learned via
// group-exchange (tracked in the peer pool) and groups they merely
// happen to store items for, as three distinct sets unioned together
// (§4.7.B: shared_groups ∪ relay_learned_groups ∪ stored_group_ids).
func (e *Engine) syncGroupIDs(ctx context.Context) ([]string, error) {
	shared, err := e.store.SharedGroupIDs(ctx)
	if err != nil {
		return nil, err
	}
	set := toSet(shared)

	if e.role == config.RoleRelay {
		for _, g := range e.pool.RelayLearnedGroupIDs() {
			set[g] = true
		}
		if stored, err := e.store.RelayKnownGroupIDs(ctx); err == nil {
			for _, g := range stored {
				set[g] = true
			}
		}
	}

	out := make([]string, 0, len(set))
	for g := range set {
		out = append(out, g)
	}
	return out, nil
}

// RunSyncTick evaluates every group's sync deadline and runs one
// anti-entropy round for each group whose deadline has passed (§4.7.B).
func (e *Engine) RunSyncTick(ctx context.Context, now time.Time) {
	groups, err := e.syncGroupIDs(ctx)
	if err != nil {
		e.log.WithError(err).Warn("sync tick: list groups failed")
		return
	}

	for _, groupID := range groups {
		if !e.deadlineDue(groupID, now) {
			continue
		}

		peer, ok := e.pool.RandomHotPeerForGroupOrRelays(groupID)
		e.scheduleNext(ctx, groupID, now)
		if !ok {
			continue
		}

		if err := e.runSyncRound(ctx, peer.PeerID, groupID); err != nil {
			e.log.WithError(err).WithField("group", groupID).WithField("peer", peer.PeerID).Warn("sync round failed")
			if e.met != nil {
				e.met.SyncErrors.Inc()
			}
		}
	}
}

func (e *Engine) deadlineDue(groupID string, now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	deadline, ok := e.syncDeadlines[groupID]
	return !ok || !now.Before(deadline)
}

// scheduleNext sets the next anti-entropy deadline for groupID. The
// baseline tick is EffectiveSyncTick (60s, §4.7.B); only taciturn groups
// additionally honor the longer sync_interval_taciturn_secs — applying
// that interval to every group regardless of culture would stretch a
// chatty group's anti-entropy backstop far past what eager push relies
// on for partition recovery (§9 scenario 6). A group that can't be
// looked up (e.g. learned-but-not-yet-fetched) defaults to the taciturn
// interval, the conservative choice.
func (e *Engine) scheduleNext(ctx context.Context, groupID string, now time.Time) {
	interval := EffectiveSyncTick
	group, ok, err := e.store.GetGroup(ctx, groupID)
	if err != nil || !ok || !group.Culture.Normalize().IsEager() {
		if e.replCfg.SyncIntervalTaciturn() > interval {
			interval = e.replCfg.SyncIntervalTaciturn()
		}
	}
	e.mu.Lock()
	e.syncDeadlines[groupID] = now.Add(interval)
	e.mu.Unlock()
}

// runSyncRound implements §4.7.3's six-step anti-entropy exchange.
// Anti-entropy is pull-only: items move from responder to initiator.
func (e *Engine) runSyncRound(ctx context.Context, peerID, groupID string) error {
	since := e.lastSyncedAt(groupID)
	limit := e.replCfg.MaxBatchSize
	if limit <= 0 {
		limit = 100
	}

	for {
		headers, hasMore, err := e.client.Sync(ctx, peerID, groupID, since, limit)
		if err != nil {
			return err
		}

		var wantIDs []string
		for _, h := range headers {
			local, ok, _ := e.store.GetItem(ctx, h.ItemID)
			if ok && local.Checksum == h.Checksum {
				continue
			}
			wantIDs = append(wantIDs, h.ItemID)
			if len(wantIDs) >= fetchBatchMax {
				break
			}
		}

		if len(wantIDs) > 0 {
			items, err := e.client.Fetch(ctx, peerID, wantIDs)
			if err != nil {
				return err
			}
			e.AcceptPush(ctx, items, peerID)
		}

		if len(headers) > 0 {
			since = latestUpdatedAt(headers, since)
		}
		if !hasMore {
			break
		}
	}

	e.setLastSyncedAt(groupID, since)
	return nil
}

func latestUpdatedAt(headers []storage.ItemHeader, fallback time.Time) time.Time {
	latest := fallback
	for _, h := range headers {
		if h.UpdatedAt.After(latest) {
			latest = h.UpdatedAt
		}
	}
	return latest
}

func (e *Engine) lastSyncedAt(groupID string) time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t, ok := e.syncWatermarks[groupID]; ok {
		return t
	}
	return time.Time{}
}

func (e *Engine) setLastSyncedAt(groupID string, t time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.syncWatermarks[groupID] = t
}

// RunGC purges tombstones past retention (§4.7.5) and should be called
// on a slow periodic timer by the node daemon.
func (e *Engine) RunGC(ctx context.Context) (itemsGCed, groupsGCed int, err error) {
	return e.store.GCTombstones(ctx, e.replCfg.TombstoneRetention())
}
