// Package storage defines the data model of §3 (items, groups, members,
// devices) and the storage driver contract the replication engine
// consumes, generalizing the teacher's flat key→Value map
// (internal/store in the teacher repo) into the item/group/member
// schema this engine actually needs.
package storage

import "time"

// MaxPayloadBytes is the hard ceiling on encrypted_payload length (§3).
const MaxPayloadBytes = 16 * 1024

// BroadcastEagerness selects eager push vs anti-entropy-only for a group.
type BroadcastEagerness string

const (
	Chatty   BroadcastEagerness = "chatty"
	Taciturn BroadcastEagerness = "taciturn"
	// Moderate is accepted for compatibility and is normalized to Chatty
	// by Culture.Normalize — see the open question in spec.md §9.
	Moderate BroadcastEagerness = "moderate"
)

// DeparturePolicy governs what happens to a departing member's writes.
type DeparturePolicy string

const (
	DeparturePermissive  DeparturePolicy = "permissive"
	DepartureStandard    DeparturePolicy = "standard"
	DepartureRestrictive DeparturePolicy = "restrictive"
)

// TombstoneCulture is the sentinel culture value marking a deleted group.
const TombstoneCulture = "__deleted__"

// TombstoneItemType marks a deletion record.
const TombstoneItemType = "__tombstone__"

// Culture is a group's self-describing replication policy. Unknown keys
// default to safe values per §3.
type Culture struct {
	BroadcastEagerness BroadcastEagerness `json:"broadcast_eagerness"`
	// TTLDefault is seconds; zero means no default TTL.
	TTLDefault       int64           `json:"ttl_default,omitempty"`
	DeparturePolicy  DeparturePolicy `json:"departure_policy"`
}

// Normalize maps the compatibility "moderate" value onto "chatty" and
// fills in safe defaults for empty fields.
func (c Culture) Normalize() Culture {
	switch c.BroadcastEagerness {
	case Moderate:
		c.BroadcastEagerness = Chatty
	case Chatty, Taciturn:
	default:
		c.BroadcastEagerness = Taciturn
	}
	switch c.DeparturePolicy {
	case DeparturePermissive, DepartureStandard, DepartureRestrictive:
	default:
		c.DeparturePolicy = DepartureStandard
	}
	return c
}

// IsEager reports whether a just-persisted item in this culture should
// trigger an eager push (§4.7.A).
func (c Culture) IsEager() bool {
	return c.Normalize().BroadcastEagerness == Chatty
}

// Item is an opaque L2 entry with routing metadata (§3).
type Item struct {
	ItemID    string `json:"item_id"`
	ItemType  string `json:"item_type"`
	GroupID   string `json:"group_id,omitempty"`
	AuthorID  string `json:"author_id"`
	Checksum  string `json:"checksum"`
	// EncryptedPayload is never interpreted by the core.
	EncryptedPayload []byte    `json:"encrypted_payload"`
	KeyVersion       int       `json:"key_version"`
	ParentID         string    `json:"parent_id,omitempty"`
	IsCopy           bool      `json:"is_copy,omitempty"`
	IsDeletion       bool      `json:"is_deletion,omitempty"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// IsTombstone reports whether this item is a deletion record.
func (it Item) IsTombstone() bool {
	return it.IsDeletion || it.ItemType == TombstoneItemType
}

// ItemHeader is the lightweight projection of an Item used by sync
// responses (§4.7.3).
type ItemHeader struct {
	ItemID     string    `json:"item_id"`
	ItemType   string    `json:"item_type"`
	Checksum   string    `json:"checksum"`
	UpdatedAt  time.Time `json:"updated_at"`
	AuthorID   string    `json:"author_id"`
	IsDeletion bool      `json:"is_deletion"`
}

func (it Item) Header() ItemHeader {
	return ItemHeader{
		ItemID:     it.ItemID,
		ItemType:   it.ItemType,
		Checksum:   it.Checksum,
		UpdatedAt:  it.UpdatedAt,
		AuthorID:   it.AuthorID,
		IsDeletion: it.IsDeletion,
	}
}

// Group is policy metadata for a shared or personal group (§3).
type Group struct {
	GroupID      string    `json:"group_id"`
	Name         string    `json:"name"`
	Culture      Culture   `json:"culture"`
	CultureRaw   string    `json:"culture_raw,omitempty"` // holds "__deleted__" tombstone marker
	OwnerID      string    `json:"owner_id"`
	OwnerPubkey  []byte    `json:"owner_pubkey"`
	Signature    []byte    `json:"signature"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Checksum     string    `json:"checksum"`
}

// IsTombstoned reports whether the group descriptor has been deleted.
func (g Group) IsTombstoned() bool {
	return g.CultureRaw == TombstoneCulture
}

// MemberRole is a group member's privilege level.
type MemberRole string

const (
	RoleOwner  MemberRole = "owner"
	RoleAdmin  MemberRole = "admin"
	RoleMember MemberRole = "member"
	RoleViewer MemberRole = "viewer"
)

// MemberPosture is a member's (or node's) transmission policy.
type MemberPosture string

const (
	PostureActive  MemberPosture = "active"
	PostureSilent  MemberPosture = "silent"
	PostureEmcon   MemberPosture = "emcon"
	PostureRemoved MemberPosture = "removed"
)

// Member is a local-only (group_id, entity_id) -> role/posture record.
type Member struct {
	GroupID  string        `json:"group_id"`
	EntityID string        `json:"entity_id"`
	Role     MemberRole    `json:"role"`
	Posture  MemberPosture `json:"posture"`
}

// Device is a registered bearer-credentialed client of the API adapter
// (§6.2, §6.4) — a minimal supplement since spec.md names the devices/*
// operations without specifying their data model.
type Device struct {
	DeviceID       string     `json:"device_id"`
	EntityID       string     `json:"entity_id"`
	CredentialHash string     `json:"credential_hash"`
	CreatedAt      time.Time  `json:"created_at"`
	RevokedAt      *time.Time `json:"revoked_at,omitempty"`
}

// PutResult reports the outcome of an atomic item upsert (§4.3).
type PutResult int

const (
	Stored PutResult = iota
	Duplicate
	Rejected
)
