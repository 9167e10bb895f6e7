package storage

import (
	"context"
	"time"
)

// Driver is the storage contract consumed by the replication engine
// (§4.3). The core treats it as an abstract key/value + index; FTS
// indexing of encrypted_payload is explicitly not required.
type Driver interface {
	PutItem(ctx context.Context, item Item) (PutResult, error)
	GetItem(ctx context.Context, itemID string) (Item, bool, error)
	DeleteItem(ctx context.Context, itemID, groupID, authorID string, at time.Time) error
	ItemHeaders(ctx context.Context, groupID string, since time.Time, limit int) ([]ItemHeader, bool, error)

	PutGroup(ctx context.Context, g Group) error
	GetGroup(ctx context.Context, groupID string) (Group, bool, error)
	ListGroups(ctx context.Context) ([]Group, error)

	AddMember(ctx context.Context, m Member) error
	RemoveMember(ctx context.Context, groupID, entityID string) error
	ListMembers(ctx context.Context, groupID string) ([]Member, error)

	SharedGroupIDs(ctx context.Context) ([]string, error)
	RelayKnownGroupIDs(ctx context.Context) ([]string, error)

	// SearchItems is the supplemented l2/search operation (§6.2.1):
	// substring match over item_type/author_id/group_id metadata only,
	// never over encrypted_payload.
	SearchItems(ctx context.Context, groupID, query string, limit int) ([]ItemHeader, error)

	PutDevice(ctx context.Context, d Device) error
	GetDevice(ctx context.Context, deviceID string) (Device, bool, error)
	ListDevices(ctx context.Context, entityID string) ([]Device, error)
	RevokeDevice(ctx context.Context, deviceID string, at time.Time) error

	GCTombstones(ctx context.Context, retention time.Duration) (itemsGCed, groupsGCed int, err error)

	Close() error
}
