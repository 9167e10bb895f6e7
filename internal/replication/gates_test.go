package replication

import (
	"testing"

	"cordelia/internal/config"
)

func TestGate1RequiresActiveAndRelayOrIntersection(t *testing.T) {
	if Gate1(false, true, true) {
		t.Fatalf("inactive target must never pass gate 1")
	}
	if !Gate1(true, true, false) {
		t.Fatalf("active relay target should pass gate 1")
	}
	if !Gate1(true, false, true) {
		t.Fatalf("active target with group intersection should pass gate 1")
	}
	if Gate1(true, false, false) {
		t.Fatalf("active non-relay target without intersection must fail gate 1")
	}
}

func TestGate2Transparent(t *testing.T) {
	if Gate2(config.PostureTransparent, "g1", nil, nil, nil) != Accept {
		t.Fatalf("transparent relay should accept by default")
	}
	blocked := map[string]bool{"g1": true}
	if Gate2(config.PostureTransparent, "g1", nil, nil, blocked) != Deny {
		t.Fatalf("blocked group must always deny, even transparent")
	}
}

func TestGate2Dynamic(t *testing.T) {
	accepted := map[string]bool{"g1": true}
	if Gate2(config.PostureDynamic, "g1", accepted, nil, nil) != Accept {
		t.Fatalf("dynamic relay should accept learned/shared group")
	}
	if Gate2(config.PostureDynamic, "g2", accepted, nil, nil) != Deny {
		t.Fatalf("dynamic relay should deny unknown group")
	}
}

func TestGate2Explicit(t *testing.T) {
	allowed := map[string]bool{"g1": true}
	if Gate2(config.PostureExplicit, "g1", nil, allowed, nil) != Accept {
		t.Fatalf("explicit relay should accept allowed group")
	}
	if Gate2(config.PostureExplicit, "g2", nil, allowed, nil) != Deny {
		t.Fatalf("explicit relay should deny non-allowed group")
	}
}

func TestGate3DestinationRequiresSharedGroup(t *testing.T) {
	shared := map[string]bool{"g1": true}
	if Gate3("g1", shared) != Accept {
		t.Fatalf("shared group should be accepted")
	}
	if Gate3("g2", shared) != Deny {
		t.Fatalf("non-shared group should be denied")
	}
}
