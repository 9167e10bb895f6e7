package swarm

import (
	"context"
	"time"

	"cordelia/internal/codec"
	"cordelia/internal/governor"
	"cordelia/internal/storage"
	"cordelia/internal/transport"
)

// dispatchStream decodes one inbound request from stream and routes it
// to the matching handler (§4.8: "dispatches inbound MemoryPush,
// SyncRequest, FetchRequest, GroupExchange").
func (s *Swarm) dispatchStream(ctx context.Context, peerID string, stream transport.Stream) {
	defer stream.Close()

	kind, body, err := codec.Decode(stream)
	if err != nil {
		s.log.WithError(err).WithField("peer", peerID).Debug("decode failed")
		if s.gov != nil {
			s.gov.Ban(peerID, governor.ViolationProtocol, time.Now().UTC())
		}
		s.Disconnect(peerID)
		return
	}

	switch kind {
	case codec.KindPing:
		s.handlePing(stream, body)
	case codec.KindMemoryPush:
		s.handleMemoryPush(ctx, stream, peerID, body)
	case codec.KindSyncRequest:
		if !s.allowSyncRequest(peerID) {
			s.log.WithField("peer", peerID).Debug("sync request throttled")
			return
		}
		s.handleSyncRequest(ctx, stream, body)
	case codec.KindFetchRequest:
		s.handleFetchRequest(ctx, stream, body)
	case codec.KindPeerShareRequest:
		s.handlePeerShareRequest(stream, body)
	case codec.KindGroupExchangeRequest:
		s.handleGroupExchangeRequest(ctx, stream, peerID, body)
	default:
		s.log.WithField("kind", kind.String()).WithField("peer", peerID).Debug("unhandled inbound kind")
	}
}

func (s *Swarm) handlePing(stream transport.Stream, body []byte) {
	var ping codec.Ping
	if err := codec.DecodeBody(body, &ping); err != nil {
		return
	}
	_ = codec.Encode(stream, codec.KindPong, codec.Pong{Nonce: ping.Nonce})
}

func (s *Swarm) handleMemoryPush(ctx context.Context, stream transport.Stream, peerID string, body []byte) {
	var push codec.MemoryPush
	if err := codec.DecodeBody(body, &push); err != nil {
		return
	}

	items := make([]storage.Item, 0, len(push.Items))
	for _, wi := range push.Items {
		items = append(items, wireToItem(wi))
	}

	stored, duplicate, rejected := s.engine.AcceptPush(ctx, items, peerID)
	_ = codec.Encode(stream, codec.KindMemoryPushAck, codec.MemoryPushAck{
		Stored: stored, Duplicate: duplicate, Rejected: rejected,
	})
}

func (s *Swarm) handleSyncRequest(ctx context.Context, stream transport.Stream, body []byte) {
	var req codec.SyncRequest
	if err := codec.DecodeBody(body, &req); err != nil {
		return
	}

	headers, hasMore, err := s.store.ItemHeaders(ctx, req.GroupID, req.Since, req.Limit)
	if err != nil {
		return
	}

	wire := make([]codec.SyncItemHeader, 0, len(headers))
	for _, h := range headers {
		wire = append(wire, codec.SyncItemHeader{
			ItemID: h.ItemID, ItemType: h.ItemType, Checksum: h.Checksum,
			UpdatedAt: h.UpdatedAt, AuthorID: h.AuthorID, IsDeletion: h.IsDeletion,
		})
	}
	_ = codec.Encode(stream, codec.KindSyncResponse, codec.SyncResponse{Headers: wire, HasMore: hasMore})
}

func (s *Swarm) handleFetchRequest(ctx context.Context, stream transport.Stream, body []byte) {
	var req codec.FetchRequest
	if err := codec.DecodeBody(body, &req); err != nil {
		return
	}

	var items []codec.WireItem
	for _, id := range req.ItemIDs {
		it, ok, err := s.store.GetItem(ctx, id)
		if err != nil || !ok {
			continue
		}
		items = append(items, itemToWire(it))
	}
	_ = codec.Encode(stream, codec.KindFetchResponse, codec.FetchResponse{Items: items})
}

func wireToItem(wi codec.WireItem) storage.Item {
	return storage.Item{
		ItemID: wi.ItemID, ItemType: wi.ItemType, GroupID: wi.GroupID,
		AuthorID: wi.AuthorID, Checksum: wi.Checksum, EncryptedPayload: wi.EncryptedPayload,
		KeyVersion: wi.KeyVersion, ParentID: wi.ParentID, IsCopy: wi.IsCopy,
		IsDeletion: wi.IsDeletion, UpdatedAt: wi.UpdatedAt,
	}
}

func itemToWire(it storage.Item) codec.WireItem {
	return codec.WireItem{
		ItemID: it.ItemID, ItemType: it.ItemType, GroupID: it.GroupID,
		AuthorID: it.AuthorID, Checksum: it.Checksum, UpdatedAt: it.UpdatedAt,
		KeyVersion: it.KeyVersion, ParentID: it.ParentID, IsCopy: it.IsCopy,
		IsDeletion: it.IsDeletion, EncryptedPayload: it.EncryptedPayload,
	}
}

// Push implements replication.PeerClient.
func (s *Swarm) Push(ctx context.Context, peerID string, items []storage.Item) ([]string, []string, []string, error) {
	wire := make([]codec.WireItem, 0, len(items))
	for _, it := range items {
		wire = append(wire, itemToWire(it))
	}

	var ack codec.MemoryPushAck
	if err := s.request(ctx, peerID, codec.KindMemoryPush, codec.MemoryPush{Items: wire}, codec.KindMemoryPushAck, &ack); err != nil {
		return nil, nil, nil, err
	}
	return ack.Stored, ack.Duplicate, ack.Rejected, nil
}

// Sync implements replication.PeerClient.
func (s *Swarm) Sync(ctx context.Context, peerID, groupID string, since time.Time, limit int) ([]storage.ItemHeader, bool, error) {
	var resp codec.SyncResponse
	req := codec.SyncRequest{GroupID: groupID, Since: since, Limit: limit}
	if err := s.request(ctx, peerID, codec.KindSyncRequest, req, codec.KindSyncResponse, &resp); err != nil {
		return nil, false, err
	}

	headers := make([]storage.ItemHeader, 0, len(resp.Headers))
	for _, h := range resp.Headers {
		headers = append(headers, storage.ItemHeader{
			ItemID: h.ItemID, ItemType: h.ItemType, Checksum: h.Checksum,
			UpdatedAt: h.UpdatedAt, AuthorID: h.AuthorID, IsDeletion: h.IsDeletion,
		})
	}
	return headers, resp.HasMore, nil
}

// Fetch implements replication.PeerClient.
func (s *Swarm) Fetch(ctx context.Context, peerID string, itemIDs []string) ([]storage.Item, error) {
	var resp codec.FetchResponse
	req := codec.FetchRequest{ItemIDs: itemIDs}
	if err := s.request(ctx, peerID, codec.KindFetchRequest, req, codec.KindFetchResponse, &resp); err != nil {
		return nil, err
	}

	items := make([]storage.Item, 0, len(resp.Items))
	for _, wi := range resp.Items {
		items = append(items, wireToItem(wi))
	}
	return items, nil
}
