package replication

import (
	"context"
	"os"
	"testing"
	"time"

	"cordelia/internal/config"
	"cordelia/internal/peerpool"
	"cordelia/internal/storage"
)

func newSyncTestEngine(t *testing.T) (*Engine, storage.Driver) {
	t.Helper()
	dir, err := os.MkdirTemp("", "cordelia-sync-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	store, err := storage.New(dir)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	pool, err := peerpool.New(config.RolePersonal, config.PostureTransparent, config.Governor{ColdMax: 16})
	if err != nil {
		t.Fatal(err)
	}

	e := New(store, pool, &fakeClient{}, nil, nil, config.RolePersonal, config.Replication{MaxBatchSize: 100, SyncIntervalTaciturnSecs: 900}, config.Relay{})
	return e, store
}

// TestScheduleNextHonorsPerGroupCulture checks that a chatty group's
// anti-entropy backstop stays at the 60s baseline even when the
// configured taciturn interval is much longer, while a taciturn group
// uses the longer interval.
func TestScheduleNextHonorsPerGroupCulture(t *testing.T) {
	e, store := newSyncTestEngine(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := store.PutGroup(ctx, storage.Group{GroupID: "chatty-g", Culture: storage.Culture{BroadcastEagerness: storage.Chatty}, UpdatedAt: now}); err != nil {
		t.Fatal(err)
	}
	if err := store.PutGroup(ctx, storage.Group{GroupID: "taciturn-g", Culture: storage.Culture{BroadcastEagerness: storage.Taciturn}, UpdatedAt: now}); err != nil {
		t.Fatal(err)
	}

	e.scheduleNext(ctx, "chatty-g", now)
	e.scheduleNext(ctx, "taciturn-g", now)

	chattyDeadline := e.syncDeadlines["chatty-g"]
	taciturnDeadline := e.syncDeadlines["taciturn-g"]

	if !chattyDeadline.Equal(now.Add(EffectiveSyncTick)) {
		t.Fatalf("chatty group must keep the 60s baseline backstop, got deadline %v (now=%v)", chattyDeadline, now)
	}
	if !taciturnDeadline.Equal(now.Add(e.replCfg.SyncIntervalTaciturn())) {
		t.Fatalf("taciturn group must use the taciturn interval, got deadline %v (now=%v)", taciturnDeadline, now)
	}
}

// TestSyncGroupIDsUnionsThreeDistinctSets checks a dynamic relay's sync
// group set is shared_groups ∪ relay_learned_groups ∪ stored_group_ids,
// each contributed by a group present in only one of the three sets.
func TestSyncGroupIDsUnionsThreeDistinctSets(t *testing.T) {
	dir, err := os.MkdirTemp("", "cordelia-sync-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	store, err := storage.New(dir)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	pool, err := peerpool.New(config.RoleRelay, config.PostureDynamic, config.Governor{ColdMax: 16})
	if err != nil {
		t.Fatal(err)
	}
	pool.LearnRelayGroup("learned-only")

	ctx := context.Background()
	if err := store.PutGroup(ctx, storage.Group{GroupID: "shared-only", UpdatedAt: time.Now().UTC()}); err != nil {
		t.Fatal(err)
	}
	pool.SetSharedGroups([]string{"shared-only"})

	payload := []byte("x")
	item := storage.Item{ItemID: "i1", GroupID: "stored-only", Checksum: storage.Checksum(payload), EncryptedPayload: payload, UpdatedAt: time.Now().UTC()}
	if _, err := store.PutItem(ctx, item); err != nil {
		t.Fatal(err)
	}

	e := New(store, pool, &fakeClient{}, nil, nil, config.RoleRelay, config.Replication{MaxBatchSize: 100}, config.Relay{Posture: config.PostureDynamic})

	groups, err := e.syncGroupIDs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	set := toSet(groups)
	for _, want := range []string{"shared-only", "learned-only", "stored-only"} {
		if !set[want] {
			t.Fatalf("sync group set missing %q, got %v", want, groups)
		}
	}
}
