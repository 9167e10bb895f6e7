package replication

import "cordelia/internal/storage"

// OutboundActionKind classifies what, if anything, a just-persisted
// write should trigger on the wire (§4.7.A).
type OutboundActionKind int

const (
	ActionNone OutboundActionKind = iota
	ActionEagerPush
)

// OutboundAction is the pure result of evaluating a local write against
// its group's culture and the current peer pool.
type OutboundAction struct {
	Kind    OutboundActionKind
	Item    storage.Item
	Targets []string
}

// PeerTargets abstracts the peer pool lookup OnLocalWrite needs, so this
// file stays pure and unit-testable without constructing a real pool.
type PeerTargets interface {
	ActivePeerIDsForGroupOrRelays(groupID string) []string
}

// OnLocalWrite computes the OutboundAction for a just-persisted item
// (§4.7.A). A group-less item is local-only. Eager push targets every
// active peer or relay for the group; taciturn groups rely solely on
// anti-entropy.
func OnLocalWrite(item storage.Item, culture storage.Culture, targets PeerTargets) OutboundAction {
	if item.GroupID == "" {
		return OutboundAction{Kind: ActionNone, Item: item}
	}

	if !culture.Normalize().IsEager() {
		return OutboundAction{Kind: ActionNone, Item: item}
	}

	return OutboundAction{
		Kind:    ActionEagerPush,
		Item:    item,
		Targets: targets.ActivePeerIDsForGroupOrRelays(item.GroupID),
	}
}
