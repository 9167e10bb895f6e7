package swarm

import (
	"context"

	"cordelia/internal/codec"
	"cordelia/internal/transport"
)

// handlePeerShareRequest replies with up to PeerShareLimit known peers
// (§4.8).
func (s *Swarm) handlePeerShareRequest(stream transport.Stream, body []byte) {
	var req codec.PeerShareRequest
	if err := codec.DecodeBody(body, &req); err != nil {
		return
	}
	limit := req.Limit
	if limit <= 0 || limit > PeerShareLimit {
		limit = PeerShareLimit
	}

	var entries []codec.PeerShareEntry
	for _, p := range s.pool.All() {
		if len(entries) >= limit {
			break
		}
		entries = append(entries, codec.PeerShareEntry{
			PeerID: p.PeerID, Addresses: p.Addresses, IsRelay: p.IsRelay,
		})
	}
	_ = codec.Encode(stream, codec.KindPeerShareResponse, codec.PeerShareResponse{Peers: entries})
}

// RequestPeerShare asks peerID for its known peers and inserts any new
// ones into the local pool in the Cold state.
func (s *Swarm) RequestPeerShare(ctx context.Context, peerID string, limit int) error {
	var resp codec.PeerShareResponse
	req := codec.PeerShareRequest{Limit: limit}
	if err := s.request(ctx, peerID, codec.KindPeerShareRequest, req, codec.KindPeerShareResponse, &resp); err != nil {
		return err
	}
	for _, entry := range resp.Peers {
		if entry.PeerID == s.selfPeerID {
			continue
		}
		s.pool.Insert(entry.PeerID, entry.Addresses, entry.IsRelay)
	}
	return nil
}
