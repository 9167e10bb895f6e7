// Package storage's WALStore is the reference Driver implementation: an
// in-memory index durably backed by a write-ahead log and periodic
// zstd-compressed snapshots, generalizing the teacher's store.Store
// (WAL-first-then-memory, RWMutex-guarded map) from a flat key→Value
// store to items/groups/members/devices.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"cordelia/internal/corderr"
)

// Checksum computes the content hash used for §3's checksum invariant
// and §4.7.6's conflict tiebreak. Hashing is one of the few places this
// module reaches for crypto/sha256 directly rather than a pack library:
// it is a fixed-output integrity digest over an opaque blob, not a
// domain concern any example repo wraps a library around (see
// DESIGN.md).
func Checksum(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

type memberKey struct {
	groupID  string
	entityID string
}

func (k memberKey) String() string { return k.groupID + "\x00" + k.entityID }

// WALStore is the reference storage driver.
type WALStore struct {
	mu sync.RWMutex

	dataDir string
	wal     *wal
	log     *logrus.Entry

	items   map[string]Item
	groups  map[string]Group
	members map[memberKey]Member
	devices map[string]Device
}

// New opens or creates a WALStore rooted at dataDir, replaying any
// snapshot + WAL tail found there (teacher's New() recovery sequence,
// generalized).
func New(dataDir string) (*WALStore, error) {
	log := logrus.WithField("component", "storage")

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	s := &WALStore{
		dataDir: dataDir,
		log:     log,
		items:   make(map[string]Item),
		groups:  make(map[string]Group),
		members: make(map[memberKey]Member),
		devices: make(map[string]Device),
	}

	snap, ok, err := loadSnapshot(filepath.Join(dataDir, "snapshot.zst"))
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	if ok {
		for k, v := range snap.Items {
			s.items[k] = v
		}
		for k, v := range snap.Groups {
			s.groups[k] = v
		}
		for k, v := range snap.Members {
			parts := strings.SplitN(k, "\x00", 2)
			if len(parts) == 2 {
				s.members[memberKey{parts[0], parts[1]}] = v
			}
		}
		for k, v := range snap.Devices {
			s.devices[k] = v
		}
	}

	w, err := newWAL(filepath.Join(dataDir, "wal.log"), log)
	if err != nil {
		return nil, fmt.Errorf("open wal: %w", err)
	}
	s.wal = w

	if err := s.replay(); err != nil {
		return nil, fmt.Errorf("replay wal: %w", err)
	}

	return s, nil
}

func (s *WALStore) replay() error {
	entries, err := s.wal.readAll()
	if err != nil {
		return err
	}
	for _, e := range entries {
		switch e.Op {
		case opPutItem:
			if e.Item != nil {
				s.items[e.Item.ItemID] = *e.Item
			}
		case opPutGroup:
			if e.Group != nil {
				s.groups[e.Group.GroupID] = *e.Group
			}
		case opPutMember:
			if e.Member != nil {
				s.members[memberKey{e.Member.GroupID, e.Member.EntityID}] = *e.Member
			}
		case opRemoveMember:
			parts := strings.SplitN(e.Key, "\x00", 2)
			if len(parts) == 2 {
				if m, ok := s.members[memberKey{parts[0], parts[1]}]; ok {
					m.Posture = PostureRemoved
					s.members[memberKey{parts[0], parts[1]}] = m
				}
			}
		case opPutDevice:
			if e.Device != nil {
				s.devices[e.Device.DeviceID] = *e.Device
			}
		case opRevokeDevice:
			if d, ok := s.devices[e.Key]; ok {
				t := time.Now().UTC()
				d.RevokedAt = &t
				s.devices[e.Key] = d
			}
		}
	}
	return nil
}

// ─── Items ──────────────────────────────────────────────────────────────

// PutItem performs the atomic upsert of §4.3 with last-writer-wins
// conflict resolution (§4.7.6): greater updated_at wins, ties broken by
// lexicographically greater checksum. Re-delivery of an identical
// (item_id, checksum) pair is a Duplicate — the engine's loop-stopper.
func (s *WALStore) PutItem(ctx context.Context, item Item) (PutResult, error) {
	if len(item.EncryptedPayload) > MaxPayloadBytes {
		return Rejected, corderr.Policy("put_item", fmt.Errorf("payload %d bytes exceeds max %d", len(item.EncryptedPayload), MaxPayloadBytes))
	}
	if want := Checksum(item.EncryptedPayload); want != item.Checksum {
		return Rejected, corderr.Integrity("put_item", fmt.Errorf("checksum mismatch: have %s want %s", item.Checksum, want))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.items[item.ItemID]
	if ok {
		if existing.ItemID == item.ItemID && existing.Checksum == item.Checksum {
			return Duplicate, nil
		}
		if !lwwWins(item, existing) {
			return Rejected, nil
		}
	}

	if err := s.wal.append(walEntry{Op: opPutItem, Item: &item}); err != nil {
		return Rejected, corderr.Storage("put_item", err)
	}
	s.items[item.ItemID] = item
	return Stored, nil
}

// lwwWins reports whether candidate supersedes incumbent under §4.7.6's
// rule: greater updated_at wins; on a tie, greater checksum wins.
// Tombstones participate in the same rule, so an older non-tombstone
// cannot resurrect a previously-installed tombstone.
func lwwWins(candidate, incumbent Item) bool {
	if !candidate.UpdatedAt.Equal(incumbent.UpdatedAt) {
		return candidate.UpdatedAt.After(incumbent.UpdatedAt)
	}
	return candidate.Checksum > incumbent.Checksum
}

func (s *WALStore) GetItem(ctx context.Context, itemID string) (Item, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	it, ok := s.items[itemID]
	return it, ok, nil
}

// DeleteItem writes a tombstone item rather than physically removing the
// row (§4.3, §4.7.5).
func (s *WALStore) DeleteItem(ctx context.Context, itemID, groupID, authorID string, at time.Time) error {
	s.mu.Lock()
	existing, ok := s.items[itemID]
	s.mu.Unlock()

	tomb := Item{
		ItemID:     itemID,
		ItemType:   TombstoneItemType,
		GroupID:    groupID,
		AuthorID:   authorID,
		IsDeletion: true,
		UpdatedAt:  at,
	}
	if ok {
		tomb.GroupID = existing.GroupID
		tomb.AuthorID = existing.AuthorID
	}
	tomb.Checksum = Checksum(tomb.EncryptedPayload)

	_, err := s.PutItem(context.Background(), tomb)
	return err
}

// ItemHeaders returns ordered headers for sync (§4.7.3), honoring the
// pagination contract: when limit is reached, has_more is true and the
// caller should resume from the last returned updated_at.
func (s *WALStore) ItemHeaders(ctx context.Context, groupID string, since time.Time, limit int) ([]ItemHeader, bool, error) {
	if limit <= 0 {
		limit = 100
	}

	s.mu.RLock()
	matched := make([]Item, 0)
	for _, it := range s.items {
		if it.GroupID != groupID {
			continue
		}
		if !it.UpdatedAt.After(since) {
			continue
		}
		matched = append(matched, it)
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].UpdatedAt.Equal(matched[j].UpdatedAt) {
			return matched[i].UpdatedAt.Before(matched[j].UpdatedAt)
		}
		return matched[i].ItemID < matched[j].ItemID
	})

	hasMore := len(matched) > limit
	if hasMore {
		matched = matched[:limit]
	}
	headers := make([]ItemHeader, 0, len(matched))
	for _, it := range matched {
		headers = append(headers, it.Header())
	}
	return headers, hasMore, nil
}

func (s *WALStore) SearchItems(ctx context.Context, groupID, query string, limit int) ([]ItemHeader, error) {
	if limit <= 0 {
		limit = 50
	}
	q := strings.ToLower(query)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []ItemHeader
	for _, it := range s.items {
		if groupID != "" && it.GroupID != groupID {
			continue
		}
		if it.IsTombstone() {
			continue
		}
		haystack := strings.ToLower(it.ItemType + " " + it.AuthorID + " " + it.GroupID)
		if strings.Contains(haystack, q) {
			out = append(out, it.Header())
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

// ─── Groups ─────────────────────────────────────────────────────────────

func (s *WALStore) PutGroup(ctx context.Context, g Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.wal.append(walEntry{Op: opPutGroup, Group: &g}); err != nil {
		return corderr.Storage("put_group", err)
	}
	s.groups[g.GroupID] = g
	return nil
}

func (s *WALStore) GetGroup(ctx context.Context, groupID string) (Group, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[groupID]
	return g, ok, nil
}

func (s *WALStore) ListGroups(ctx context.Context) ([]Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Group, 0, len(s.groups))
	for _, g := range s.groups {
		out = append(out, g)
	}
	return out, nil
}

// ─── Members ────────────────────────────────────────────────────────────

func (s *WALStore) AddMember(ctx context.Context, m Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.wal.append(walEntry{Op: opPutMember, Member: &m}); err != nil {
		return corderr.Storage("add_member", err)
	}
	s.members[memberKey{m.GroupID, m.EntityID}] = m
	return nil
}

// RemoveMember is a soft mark (posture=removed), never a physical delete
// (§3 Group Member).
func (s *WALStore) RemoveMember(ctx context.Context, groupID, entityID string) error {
	key := memberKey{groupID, entityID}.String()
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.wal.append(walEntry{Op: opRemoveMember, Key: key}); err != nil {
		return corderr.Storage("remove_member", err)
	}
	if m, ok := s.members[memberKey{groupID, entityID}]; ok {
		m.Posture = PostureRemoved
		s.members[memberKey{groupID, entityID}] = m
	}
	return nil
}

func (s *WALStore) ListMembers(ctx context.Context, groupID string) ([]Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Member
	for k, m := range s.members {
		if k.groupID == groupID {
			out = append(out, m)
		}
	}
	return out, nil
}

// ─── Groups used for engine bookkeeping ─────────────────────────────────

func (s *WALStore) SharedGroupIDs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for id, g := range s.groups {
		if !g.IsTombstoned() {
			out = append(out, id)
		}
	}
	return out, nil
}

// RelayKnownGroupIDs returns every group_id this node has items for,
// independent of shared_groups membership — used by dynamic relays to
// compute stored_group_ids (§4.7.B).
func (s *WALStore) RelayKnownGroupIDs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]bool)
	for _, it := range s.items {
		if it.GroupID != "" {
			seen[it.GroupID] = true
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	return out, nil
}

// ─── Devices ────────────────────────────────────────────────────────────

func (s *WALStore) PutDevice(ctx context.Context, d Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.wal.append(walEntry{Op: opPutDevice, Device: &d}); err != nil {
		return corderr.Storage("put_device", err)
	}
	s.devices[d.DeviceID] = d
	return nil
}

func (s *WALStore) GetDevice(ctx context.Context, deviceID string) (Device, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.devices[deviceID]
	return d, ok, nil
}

func (s *WALStore) ListDevices(ctx context.Context, entityID string) ([]Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Device
	for _, d := range s.devices {
		if d.EntityID == entityID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *WALStore) RevokeDevice(ctx context.Context, deviceID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.wal.append(walEntry{Op: opRevokeDevice, Key: deviceID}); err != nil {
		return corderr.Storage("revoke_device", err)
	}
	if d, ok := s.devices[deviceID]; ok {
		t := at
		d.RevokedAt = &t
		s.devices[deviceID] = d
	}
	return nil
}

// ─── Maintenance ────────────────────────────────────────────────────────

// GCTombstones purges item and group tombstones past retention (§4.7.5,
// §3 Group lifecycle).
func (s *WALStore) GCTombstones(ctx context.Context, retention time.Duration) (int, int, error) {
	cutoff := time.Now().UTC().Add(-retention)

	s.mu.Lock()
	defer s.mu.Unlock()

	itemsGCed := 0
	for id, it := range s.items {
		if it.IsTombstone() && it.UpdatedAt.Before(cutoff) {
			delete(s.items, id)
			itemsGCed++
		}
	}
	groupsGCed := 0
	for id, g := range s.groups {
		if g.IsTombstoned() && g.UpdatedAt.Before(cutoff) {
			delete(s.groups, id)
			groupsGCed++
			for k := range s.members {
				if k.groupID == id {
					delete(s.members, k)
				}
			}
		}
	}
	return itemsGCed, groupsGCed, nil
}

// Snapshot persists a point-in-time image of every index and truncates
// the WAL, matching the teacher's Snapshot()'s atomic-rename approach.
func (s *WALStore) Snapshot() error {
	s.mu.RLock()
	snap := snapshotFile{
		Items:   make(map[string]Item, len(s.items)),
		Groups:  make(map[string]Group, len(s.groups)),
		Members: make(map[string]Member, len(s.members)),
		Devices: make(map[string]Device, len(s.devices)),
	}
	for k, v := range s.items {
		snap.Items[k] = v
	}
	for k, v := range s.groups {
		snap.Groups[k] = v
	}
	for k, v := range s.members {
		snap.Members[k.String()] = v
	}
	for k, v := range s.devices {
		snap.Devices[k] = v
	}
	s.mu.RUnlock()

	if err := saveSnapshot(filepath.Join(s.dataDir, "snapshot.zst"), snap); err != nil {
		return err
	}
	return s.wal.truncate()
}

func (s *WALStore) Close() error {
	return s.wal.close()
}

var _ Driver = (*WALStore)(nil)
