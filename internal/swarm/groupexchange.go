package swarm

import (
	"context"

	"cordelia/internal/codec"
	"cordelia/internal/config"
	"cordelia/internal/transport"
)

// advertisedGroups computes §4.6's advertised set: personal/keeper and
// non-dynamic relays advertise shared_groups only; a dynamic relay
// additionally advertises relay_learned_groups.
// peerpool.Pool.EffectiveGroups already encodes this exact union (it
// was constructed with this node's own role and relay posture), so it
// is reused directly rather than recomputed here.
func (s *Swarm) advertisedGroups() []string {
	effective := s.pool.EffectiveGroups()
	out := make([]string, 0, len(effective))
	for g := range effective {
		out = append(out, g)
	}
	if len(out) > GroupExchangeMax {
		out = out[:GroupExchangeMax]
	}
	return out
}

// handleGroupExchangeRequest implements the receiving side of §4.6:
// record the sender's advertised groups, recompute intersection, learn
// groups if this node is a dynamic relay and the sender is not a relay,
// then reply symmetrically.
func (s *Swarm) handleGroupExchangeRequest(ctx context.Context, stream transport.Stream, peerID string, body []byte) {
	var req codec.GroupExchangeRequest
	if err := codec.DecodeBody(body, &req); err != nil {
		return
	}

	groupIDs := req.GroupIDs
	if len(groupIDs) > GroupExchangeMax {
		groupIDs = groupIDs[:GroupExchangeMax]
	}
	s.pool.UpdatePeerGroups(peerID, groupIDs)

	if s.role == config.RoleRelay {
		peer, ok := s.pool.Get(peerID)
		if ok && !peer.IsRelay {
			for _, g := range groupIDs {
				s.pool.LearnRelayGroup(g)
			}
		}
	}

	resp := codec.GroupExchangeResponse{GroupIDs: s.advertisedGroups()}
	_ = codec.Encode(stream, codec.KindGroupExchangeResponse, resp)
}

// SendGroupExchange is the initiating side of §4.6, invoked when the
// governor promotes a peer to Hot and by NotifyGroupCreated. There is no
// periodic re-exchange every group_exchange_interval.
func (s *Swarm) SendGroupExchange(ctx context.Context, peerID string) error {
	req := codec.GroupExchangeRequest{GroupIDs: s.advertisedGroups()}
	var resp codec.GroupExchangeResponse
	if err := s.request(ctx, peerID, codec.KindGroupExchangeRequest, req, codec.KindGroupExchangeResponse, &resp); err != nil {
		return err
	}

	groupIDs := resp.GroupIDs
	if len(groupIDs) > GroupExchangeMax {
		groupIDs = groupIDs[:GroupExchangeMax]
	}
	s.pool.UpdatePeerGroups(peerID, groupIDs)

	if s.role == config.RoleRelay {
		peer, ok := s.pool.Get(peerID)
		if ok && !peer.IsRelay {
			for _, g := range groupIDs {
				s.pool.LearnRelayGroup(g)
			}
		}
	}
	return nil
}

// NotifyGroupCreated implements the api package's group-exchange
// notifier: groups/create (§6.2) "schedules an immediate GroupExchange"
// with every active peer. Failures are logged and otherwise ignored; a
// peer that missed it receives the new advertisement at its next
// exchange (on its next promotion to Hot or the next groups/create).
func (s *Swarm) NotifyGroupCreated(ctx context.Context, groupID string) {
	s.pool.SetSharedGroups(appendUnique(s.sharedGroupIDs(ctx), groupID))
	for _, p := range s.pool.All() {
		if !p.State.IsActive() {
			continue
		}
		if err := s.SendGroupExchange(ctx, p.PeerID); err != nil {
			s.log.WithError(err).WithField("peer", p.PeerID).Debug("immediate group exchange failed")
		}
	}
}

func (s *Swarm) sharedGroupIDs(ctx context.Context) []string {
	ids, err := s.store.SharedGroupIDs(ctx)
	if err != nil {
		return nil
	}
	return ids
}

func appendUnique(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}
