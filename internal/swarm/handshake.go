package swarm

import (
	"context"

	"cordelia/internal/codec"
	"cordelia/internal/config"
	"cordelia/internal/corderr"
	"cordelia/internal/transport"
)

// proposeHandshake is the initiating side of §4.8's handshake: send
// HandshakePropose, await Accept or Reject.
func (s *Swarm) proposeHandshake(ctx context.Context, conn transport.Connection) (string, error) {
	stream, err := conn.OpenStream(ctx)
	if err != nil {
		return "", corderr.Transport("propose_handshake", err)
	}
	defer stream.Close()

	propose := codec.HandshakePropose{
		Magic:    codec.ProtocolMagic,
		PeerID:   s.selfPeerID,
		Versions: s.versions,
		Role:     string(s.role),
		IsRelay:  s.role == config.RoleRelay,
	}
	if err := codec.Encode(stream, codec.KindHandshakePropose, propose); err != nil {
		return "", err
	}

	kind, body, err := codec.Decode(stream)
	if err != nil {
		return "", err
	}

	switch kind {
	case codec.KindHandshakeAccept:
		var accept codec.HandshakeAccept
		if err := codec.DecodeBody(body, &accept); err != nil {
			return "", err
		}
		return accept.PeerID, nil
	case codec.KindHandshakeReject:
		var reject codec.HandshakeReject
		_ = codec.DecodeBody(body, &reject)
		return "", corderr.Protocol("propose_handshake", errHandshakeRejected)
	default:
		return "", corderr.Protocol("propose_handshake", errUnexpectedKind)
	}
}

// acceptHandshake is the receiving side: read HandshakePropose, check
// magic and negotiate a version, reply Accept or Reject.
func (s *Swarm) acceptHandshake(ctx context.Context, conn transport.Connection) (string, error) {
	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		return "", corderr.Transport("accept_handshake", err)
	}
	defer stream.Close()

	kind, body, err := codec.Decode(stream)
	if err != nil {
		return "", err
	}
	if kind != codec.KindHandshakePropose {
		return "", corderr.Protocol("accept_handshake", errUnexpectedKind)
	}

	var propose codec.HandshakePropose
	if err := codec.DecodeBody(body, &propose); err != nil {
		return "", err
	}

	if propose.Magic != codec.ProtocolMagic {
		reject := codec.HandshakeReject{Reason: "bad_magic"}
		_ = codec.Encode(stream, codec.KindHandshakeReject, reject)
		return "", corderr.Protocol("accept_handshake", errHandshakeRejected)
	}

	version, ok := codec.NegotiateVersion(s.versions, propose.Versions)
	if !ok {
		reject := codec.HandshakeReject{Reason: "no_overlapping_version"}
		_ = codec.Encode(stream, codec.KindHandshakeReject, reject)
		return "", corderr.Protocol("accept_handshake", errVersionMismatch)
	}

	accept := codec.HandshakeAccept{PeerID: s.selfPeerID, Version: version}
	if err := codec.Encode(stream, codec.KindHandshakeAccept, accept); err != nil {
		return "", err
	}

	s.pool.Insert(propose.PeerID, nil, propose.IsRelay)
	return propose.PeerID, nil
}
