package governor

import (
	"testing"
	"time"

	"cordelia/internal/config"
	"cordelia/internal/peerpool"
)

func newTestGovernor(t *testing.T) (*Governor, *peerpool.Pool) {
	t.Helper()
	caps := config.Governor{
		HotMin: 1, HotMax: 4,
		WarmMin: 1, WarmMax: 8,
		ColdMax: 16,
		ChurnIntervalSecs: 300,
		ChurnFraction:     0.5,
	}
	pool, err := peerpool.New(config.RolePersonal, config.PostureTransparent, caps)
	if err != nil {
		t.Fatal(err)
	}
	return New(pool, caps), pool
}

func TestColdToWarmOnHandshake(t *testing.T) {
	g, pool := newTestGovernor(t)
	pool.Insert("peer-a", nil, false)

	action := g.OnHandshakeSuccess("peer-a")
	if action.Kind != ActionPromote {
		t.Fatalf("want promote action, got %v", action.Kind)
	}
	pr, _ := pool.Get("peer-a")
	if pr.State != peerpool.Warm {
		t.Fatalf("want Warm, got %v", pr.State)
	}
}

func TestWarmToHotOnScore(t *testing.T) {
	g, pool := newTestGovernor(t)
	pool.Insert("peer-a", nil, false)
	pool.Transition("peer-a", peerpool.Warm)

	pr, _ := pool.Get("peer-a")
	pr.ItemsDelivered = 1000
	pr.StateSince = time.Now().UTC().Add(-time.Second)
	pr.RTT = 10 * time.Millisecond

	actions := g.Tick(time.Now().UTC())
	var promoted bool
	for _, a := range actions {
		if a.Kind == ActionPromote && a.PeerID == "peer-a" {
			promoted = true
		}
	}
	if !promoted {
		t.Fatalf("expected promotion action, got %+v", actions)
	}
	if pr2, _ := pool.Get("peer-a"); pr2.State != peerpool.Hot {
		t.Fatalf("want Hot, got %v", pr2.State)
	}
}

func TestInactivityDemotesToCold(t *testing.T) {
	g, pool := newTestGovernor(t)
	pool.Insert("peer-a", nil, false)
	pool.Transition("peer-a", peerpool.Hot)

	pr, _ := pool.Get("peer-a")
	pr.LastSeen = time.Now().UTC().Add(-2 * time.Minute)

	g.Tick(time.Now().UTC())

	pr2, _ := pool.Get("peer-a")
	if pr2.State != peerpool.Cold {
		t.Fatalf("want Cold after 90s inactivity, got %v", pr2.State)
	}
}

func TestBanDoublesBackoff(t *testing.T) {
	g, pool := newTestGovernor(t)
	pool.Insert("peer-a", nil, false)
	now := time.Now().UTC()

	g.Ban("peer-a", ViolationProtocol, now)
	pr, _ := pool.Get("peer-a")
	first := pr.BanExpiry.Sub(pr.BannedAt)
	if first != BaseBan {
		t.Fatalf("first ban should equal BaseBan, got %v", first)
	}

	pool.Transition("peer-a", peerpool.Warm)
	g.Ban("peer-a", ViolationProtocol, now.Add(time.Minute))
	pr2, _ := pool.Get("peer-a")
	second := pr2.BanExpiry.Sub(pr2.BannedAt)
	if second != BaseBan*2 {
		t.Fatalf("second ban should double, got %v", second)
	}
}

func TestBanCapsAtMax(t *testing.T) {
	g, pool := newTestGovernor(t)
	pool.Insert("peer-a", nil, false)
	now := time.Now().UTC()

	for i := 0; i < 10; i++ {
		pool.Transition("peer-a", peerpool.Warm)
		g.Ban("peer-a", ViolationIntegrity, now.Add(time.Duration(i)*time.Minute))
	}
	pr, _ := pool.Get("peer-a")
	dur := pr.BanExpiry.Sub(pr.BannedAt)
	if dur != MaxBan {
		t.Fatalf("want capped at MaxBan, got %v", dur)
	}
}

func TestChurnDemotesFractionOfHotPeers(t *testing.T) {
	g, pool := newTestGovernor(t)
	for _, id := range []string{"a", "b", "c", "d"} {
		pool.Insert(id, nil, false)
		pool.Transition(id, peerpool.Hot)
	}

	actions := g.churn(time.Now().UTC())
	demoted := 0
	for _, a := range actions {
		if a.Kind == ActionDemote {
			demoted++
		}
	}
	if demoted != 2 {
		t.Fatalf("want 2 of 4 hot peers churned (fraction 0.5), got %d", demoted)
	}
}
