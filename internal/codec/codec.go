// Package codec implements the wire envelope of §4.1: a 4-byte
// big-endian length prefix followed by a one-byte message kind tag and a
// JSON body. The teacher's nodes speak JSON-over-HTTP with no explicit
// framing; this package generalizes that same "JSON body, trust
// encoding/json" style to the length-prefixed, multiplexed-stream
// framing a peer-to-peer transport needs, rather than reaching for a
// code-generated schema (see DESIGN.md for why protobuf was passed
// over).
package codec

import (
	"encoding/binary"
	"encoding/json"
	"io"
	"time"

	"cordelia/internal/corderr"
)

// ProtocolMagic is sent in the first handshake message (§4.1); a
// mismatch causes immediate rejection.
const ProtocolMagic uint32 = 0xC0DE11A1

// MaxFrameSize is the hard ceiling on an encoded frame; larger frames are
// rejected and the connection closed (§4.1).
const MaxFrameSize = 512 * 1024

// Kind tags a message on the wire.
type Kind byte

const (
	KindHandshakePropose Kind = iota + 1
	KindHandshakeAccept
	KindHandshakeReject
	KindPing
	KindPong
	KindPeerShareRequest
	KindPeerShareResponse
	KindGroupExchangeRequest
	KindGroupExchangeResponse
	KindSyncRequest
	KindSyncResponse
	KindFetchRequest
	KindFetchResponse
	KindMemoryPush
	KindMemoryPushAck
)

func (k Kind) String() string {
	switch k {
	case KindHandshakePropose:
		return "handshake_propose"
	case KindHandshakeAccept:
		return "handshake_accept"
	case KindHandshakeReject:
		return "handshake_reject"
	case KindPing:
		return "ping"
	case KindPong:
		return "pong"
	case KindPeerShareRequest:
		return "peer_share_request"
	case KindPeerShareResponse:
		return "peer_share_response"
	case KindGroupExchangeRequest:
		return "group_exchange_request"
	case KindGroupExchangeResponse:
		return "group_exchange_response"
	case KindSyncRequest:
		return "sync_request"
	case KindSyncResponse:
		return "sync_response"
	case KindFetchRequest:
		return "fetch_request"
	case KindFetchResponse:
		return "fetch_response"
	case KindMemoryPush:
		return "memory_push"
	case KindMemoryPushAck:
		return "memory_push_ack"
	default:
		return "unknown"
	}
}

// WireItem is the routing-necessary projection of storage.Item carried
// over the wire (§4.1); the encrypted payload is opaque to the codec.
type WireItem struct {
	ItemID           string    `json:"item_id"`
	ItemType         string    `json:"item_type"`
	GroupID          string    `json:"group_id,omitempty"`
	AuthorID         string    `json:"author_id"`
	Checksum         string    `json:"checksum"`
	UpdatedAt        time.Time `json:"updated_at"`
	KeyVersion       int       `json:"key_version"`
	ParentID         string    `json:"parent_id,omitempty"`
	IsCopy           bool      `json:"is_copy,omitempty"`
	IsDeletion       bool      `json:"is_deletion,omitempty"`
	EncryptedPayload []byte    `json:"encrypted_payload"`
}

// VersionRange is the advertised [min, max] protocol version an endpoint
// supports, used for negotiation during handshake.
type VersionRange struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// NegotiateVersion picks the largest integer version both ranges
// support, or false if there is no overlap (§4.1: "no overlap ⇒ reject
// with reason").
func NegotiateVersion(local, remote VersionRange) (int, bool) {
	lo := local.Min
	if remote.Min > lo {
		lo = remote.Min
	}
	hi := local.Max
	if remote.Max < hi {
		hi = remote.Max
	}
	if lo > hi {
		return 0, false
	}
	return hi, true
}

type HandshakePropose struct {
	Magic     uint32       `json:"magic"`
	PeerID    string       `json:"peer_id"`
	Versions  VersionRange `json:"versions"`
	Role      string       `json:"role"`
	IsRelay   bool         `json:"is_relay"`
}

type HandshakeAccept struct {
	PeerID  string `json:"peer_id"`
	Version int    `json:"version"`
}

type HandshakeReject struct {
	Reason string `json:"reason"`
}

type Ping struct{ Nonce uint64 `json:"nonce"` }
type Pong struct{ Nonce uint64 `json:"nonce"` }

type PeerShareRequest struct{ Limit int `json:"limit"` }

type PeerShareEntry struct {
	PeerID    string   `json:"peer_id"`
	Addresses []string `json:"addresses"`
	IsRelay   bool     `json:"is_relay"`
}

type PeerShareResponse struct {
	Peers []PeerShareEntry `json:"peers"`
}

type GroupExchangeRequest struct {
	GroupIDs []string `json:"group_ids"`
}

type GroupExchangeResponse struct {
	GroupIDs []string `json:"group_ids"`
}

type SyncRequest struct {
	GroupID string    `json:"group_id"`
	Since   time.Time `json:"since"`
	Limit   int       `json:"limit"`
}

// SyncItemHeader is the lightweight projection exchanged during
// anti-entropy (§4.7.3), mirroring storage.ItemHeader.
type SyncItemHeader struct {
	ItemID     string    `json:"item_id"`
	ItemType   string    `json:"item_type"`
	Checksum   string    `json:"checksum"`
	UpdatedAt  time.Time `json:"updated_at"`
	AuthorID   string    `json:"author_id"`
	IsDeletion bool      `json:"is_deletion"`
}

type SyncResponse struct {
	Headers []SyncItemHeader `json:"headers"`
	HasMore bool             `json:"has_more"`
}

type FetchRequest struct {
	ItemIDs []string `json:"item_ids"`
}

type FetchResponse struct {
	Items []WireItem `json:"items"`
}

type MemoryPush struct {
	Items []WireItem `json:"items"`
}

type MemoryPushAck struct {
	Stored    []string `json:"stored"`
	Duplicate []string `json:"duplicate"`
	Rejected  []string `json:"rejected"`
}

// Encode frames body under the given kind as [4-byte length][1-byte
// kind][json body] and writes it to w.
func Encode(w io.Writer, kind Kind, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return corderr.Protocol("encode", err)
	}
	frame := make([]byte, 4, 5+len(payload))
	binary.BigEndian.PutUint32(frame, uint32(1+len(payload)))
	frame = append(frame, byte(kind))
	frame = append(frame, payload...)

	if len(frame)-4 > MaxFrameSize {
		return corderr.Protocol("encode", errFrameTooLarge)
	}
	_, err = w.Write(frame)
	if err != nil {
		return corderr.Transport("encode", err)
	}
	return nil
}

// Decode reads one framed message from r, returning its kind and raw
// JSON body for the caller to unmarshal into the matching struct.
func Decode(r io.Reader) (Kind, []byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return 0, nil, corderr.Transport("decode", err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n == 0 || int(n) > MaxFrameSize {
		return 0, nil, corderr.Protocol("decode", errFrameTooLarge)
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, nil, corderr.Transport("decode", err)
	}
	return Kind(buf[0]), buf[1:], nil
}

// DecodeBody unmarshals a previously-decoded frame body into dst.
func DecodeBody(body []byte, dst any) error {
	if err := json.Unmarshal(body, dst); err != nil {
		return corderr.Protocol("decode_body", err)
	}
	return nil
}

var errFrameTooLarge = frameTooLargeError{}

type frameTooLargeError struct{}

func (frameTooLargeError) Error() string { return "frame exceeds maximum size" }
