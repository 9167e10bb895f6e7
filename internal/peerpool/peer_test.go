package peerpool

import (
	"testing"

	"cordelia/internal/config"
)

func newTestPool(t *testing.T) *Pool {
	t.Helper()
	p, err := New(config.RolePersonal, config.PostureTransparent, config.Governor{ColdMax: 16})
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestInsertComputesIntersection(t *testing.T) {
	p := newTestPool(t)
	p.SetSharedGroups([]string{"g1", "g2"})

	pr := p.Insert("peer-a", []string{"1.2.3.4:9000"}, false)
	if pr.State != Cold {
		t.Fatalf("new peer must start Cold, got %v", pr.State)
	}

	p.UpdatePeerGroups("peer-a", []string{"g1", "g3"})
	got, _ := p.Get("peer-a")
	if !got.GroupIntersect["g1"] || got.GroupIntersect["g3"] {
		t.Fatalf("intersection wrong: %v", got.GroupIntersect)
	}
}

func TestActivePeersForGroupOrRelays(t *testing.T) {
	p := newTestPool(t)
	p.SetSharedGroups([]string{"g1"})

	p.Insert("relay-peer", nil, true)
	p.Transition("relay-peer", Hot)

	p.Insert("group-peer", nil, false)
	p.UpdatePeerGroups("group-peer", []string{"g1"})
	p.Transition("group-peer", Warm)

	p.Insert("unrelated-peer", nil, false)
	p.UpdatePeerGroups("unrelated-peer", []string{"g9"})
	p.Transition("unrelated-peer", Hot)

	active := p.ActivePeersForGroupOrRelays("g1")
	if len(active) != 2 {
		t.Fatalf("want 2 active peers (relay + intersecting), got %d", len(active))
	}
}

func TestRandomHotPeerPriorityOrder(t *testing.T) {
	p := newTestPool(t)
	p.SetSharedGroups([]string{"g1"})

	p.Insert("warm-relay", nil, true)
	p.Transition("warm-relay", Warm)

	p.Insert("hot-intersect", nil, false)
	p.UpdatePeerGroups("hot-intersect", []string{"g1"})
	p.Transition("hot-intersect", Hot)

	chosen, ok := p.RandomHotPeerForGroupOrRelays("g1")
	if !ok || chosen.PeerID != "hot-intersect" {
		t.Fatalf("want hot-intersect as top priority, got %v ok=%v", chosen, ok)
	}
}

func TestEffectiveGroupsForDynamicRelay(t *testing.T) {
	p, err := New(config.RoleRelay, config.PostureDynamic, config.Governor{ColdMax: 16})
	if err != nil {
		t.Fatal(err)
	}
	p.SetSharedGroups([]string{"g1"})
	p.LearnRelayGroup("g2")

	eff := p.EffectiveGroups()
	if !eff["g1"] || !eff["g2"] {
		t.Fatalf("dynamic relay must union shared and learned groups: %v", eff)
	}
}

func TestEffectiveGroupsForTransparentRelayExcludesLearned(t *testing.T) {
	p, err := New(config.RoleRelay, config.PostureTransparent, config.Governor{ColdMax: 16})
	if err != nil {
		t.Fatal(err)
	}
	p.SetSharedGroups([]string{"g1"})
	p.LearnRelayGroup("g2")

	eff := p.EffectiveGroups()
	if eff["g2"] {
		t.Fatalf("transparent relay must not advertise learned groups")
	}
}

func TestTransitionMovesBetweenTiers(t *testing.T) {
	p := newTestPool(t)
	p.Insert("peer-a", nil, false)
	p.Transition("peer-a", Warm)

	cold, warm, hot, banned := p.CountByState()
	if cold != 0 || warm != 1 || hot != 0 || banned != 0 {
		t.Fatalf("unexpected tier counts: cold=%d warm=%d hot=%d banned=%d", cold, warm, hot, banned)
	}

	p.Transition("peer-a", Banned)
	_, warm2, _, banned2 := p.CountByState()
	if warm2 != 0 || banned2 != 1 {
		t.Fatalf("peer should have moved from warm to banned")
	}
}
