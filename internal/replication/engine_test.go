package replication

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"cordelia/internal/config"
	"cordelia/internal/peerpool"
	"cordelia/internal/storage"
)

type fakeTargets struct{ ids []string }

func (f fakeTargets) ActivePeerIDsForGroupOrRelays(groupID string) []string { return f.ids }

func TestOnLocalWriteChattyProducesEagerPush(t *testing.T) {
	culture := storage.Culture{BroadcastEagerness: storage.Chatty}
	item := storage.Item{ItemID: "i1", GroupID: "g1"}

	action := OnLocalWrite(item, culture, fakeTargets{ids: []string{"p1", "p2"}})
	if action.Kind != ActionEagerPush {
		t.Fatalf("want eager push, got %v", action.Kind)
	}
	if len(action.Targets) != 2 {
		t.Fatalf("want 2 targets, got %d", len(action.Targets))
	}
}

func TestOnLocalWriteTaciturnIsNone(t *testing.T) {
	culture := storage.Culture{BroadcastEagerness: storage.Taciturn}
	item := storage.Item{ItemID: "i1", GroupID: "g1"}

	action := OnLocalWrite(item, culture, fakeTargets{ids: []string{"p1"}})
	if action.Kind != ActionNone {
		t.Fatalf("taciturn must not eager push, got %v", action.Kind)
	}
}

func TestOnLocalWriteGrouplessIsLocalOnly(t *testing.T) {
	culture := storage.Culture{BroadcastEagerness: storage.Chatty}
	item := storage.Item{ItemID: "i1"}

	action := OnLocalWrite(item, culture, fakeTargets{ids: []string{"p1"}})
	if action.Kind != ActionNone {
		t.Fatalf("group-less item must be local-only, got %v", action.Kind)
	}
}

func TestOnLocalWriteModerateMapsToChatty(t *testing.T) {
	culture := storage.Culture{BroadcastEagerness: storage.Moderate}
	item := storage.Item{ItemID: "i1", GroupID: "g1"}

	action := OnLocalWrite(item, culture, fakeTargets{ids: []string{"p1"}})
	if action.Kind != ActionEagerPush {
		t.Fatalf("moderate must behave as chatty, got %v", action.Kind)
	}
}

// fakeClient is an in-memory PeerClient double letting engine tests run
// without a real transport. Dispatch now pushes to targets concurrently,
// so its bookkeeping is mutex-guarded.
type fakeClient struct {
	mu        sync.Mutex
	pushCalls int
	failCount int
	lastItems []storage.Item
}

func (f *fakeClient) Push(ctx context.Context, peerID string, items []storage.Item) ([]string, []string, []string, error) {
	f.mu.Lock()
	f.pushCalls++
	calls := f.pushCalls
	f.lastItems = items
	f.mu.Unlock()

	if calls <= f.failCount {
		return nil, nil, nil, context.DeadlineExceeded
	}
	var stored []string
	for _, it := range items {
		stored = append(stored, it.ItemID)
	}
	return stored, nil, nil, nil
}

func (f *fakeClient) Sync(ctx context.Context, peerID, groupID string, since time.Time, limit int) ([]storage.ItemHeader, bool, error) {
	return nil, false, nil
}

func (f *fakeClient) Fetch(ctx context.Context, peerID string, itemIDs []string) ([]storage.Item, error) {
	return nil, nil
}

func newTestEngine(t *testing.T, client PeerClient) (*Engine, storage.Driver) {
	t.Helper()
	dir, err := os.MkdirTemp("", "cordelia-engine-*")
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

	e := New(store, pool, client, nil, nil, config.RolePersonal, config.Replication{MaxBatchSize: 100, SyncIntervalTaciturnSecs: 900}, config.Relay{})
	return e, store
}

func TestDispatchPushesToAllTargets(t *testing.T) {
	client := &fakeClient{}
	e, _ := newTestEngine(t, client)

	action := OutboundAction{Kind: ActionEagerPush, Item: storage.Item{ItemID: "i1"}, Targets: []string{"p1", "p2"}}
	e.Dispatch(context.Background(), action)

	if client.pushCalls != 2 {
		t.Fatalf("want 2 push calls, got %d", client.pushCalls)
	}
}

// TestAcceptPushDynamicRelayGate2UsesPoolLearnedGroups exercises gate 2
// for a dynamic relay through the real peer pool: a group the relay has
// only just learned via group-exchange (never stored an item for, never
// in shared_groups) must still accept the first push for that group.
func TestAcceptPushDynamicRelayGate2UsesPoolLearnedGroups(t *testing.T) {
	dir, err := os.MkdirTemp("", "cordelia-engine-*")
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
	pool.LearnRelayGroup("learned-group")

	e := New(store, pool, &fakeClient{}, nil, nil, config.RoleRelay, config.Replication{MaxBatchSize: 100}, config.Relay{Posture: config.PostureDynamic})

	payload := []byte("hello")
	item := storage.Item{ItemID: "i1", GroupID: "learned-group", Checksum: storage.Checksum(payload), EncryptedPayload: payload, UpdatedAt: time.Now().UTC()}

	stored, _, rejected := e.AcceptPush(context.Background(), []storage.Item{item}, "peer-x")
	if len(rejected) != 0 {
		t.Fatalf("a group learned via group-exchange must pass gate 2 on first push, got rejected=%v", rejected)
	}
	if len(stored) != 1 || stored[0] != "i1" {
		t.Fatalf("want i1 stored, got stored=%v", stored)
	}
}

func TestAcceptPushDestinationGate3(t *testing.T) {
	client := &fakeClient{}
	e, store := newTestEngine(t, client)

	if err := store.PutGroup(context.Background(), storage.Group{GroupID: "g1", UpdatedAt: time.Now().UTC()}); err != nil {
		t.Fatal(err)
	}
	if err := store.AddMember(context.Background(), storage.Member{GroupID: "g1", EntityID: "me", Role: storage.RoleOwner}); err != nil {
		t.Fatal(err)
	}

	payload := []byte("hello")
	known := storage.Item{ItemID: "i1", GroupID: "g1", Checksum: storage.Checksum(payload), EncryptedPayload: payload, UpdatedAt: time.Now().UTC()}
	unknown := storage.Item{ItemID: "i2", GroupID: "g-unknown", Checksum: storage.Checksum(payload), EncryptedPayload: payload, UpdatedAt: time.Now().UTC()}

	stored, _, rejected := e.AcceptPush(context.Background(), []storage.Item{known, unknown}, "peer-x")
	if len(stored) != 1 || stored[0] != "i1" {
		t.Fatalf("item for a shared group should pass gate 3, got stored=%v", stored)
	}
	if len(rejected) != 1 || rejected[0] != "i2" {
		t.Fatalf("item for a non-shared group must be rejected by gate 3, got rejected=%v", rejected)
	}
}
