package storage

import (
	"context"
	"os"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *WALStore {
	t.Helper()
	dir, err := os.MkdirTemp("", "cordelia-store-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	s, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mkItem(id string, at time.Time, payload []byte) Item {
	return Item{
		ItemID:           id,
		ItemType:         "note",
		GroupID:          "g1",
		AuthorID:         "author-1",
		EncryptedPayload: payload,
		Checksum:         Checksum(payload),
		UpdatedAt:        at,
	}
}

func TestPutItemNewStores(t *testing.T) {
	s := newTestStore(t)
	it := mkItem("i1", time.Now().UTC(), []byte("hello"))

	res, err := s.PutItem(context.Background(), it)
	if err != nil {
		t.Fatalf("PutItem: %v", err)
	}
	if res != Stored {
		t.Fatalf("want Stored, got %v", res)
	}

	got, ok, err := s.GetItem(context.Background(), "i1")
	if err != nil || !ok {
		t.Fatalf("GetItem: %v ok=%v", err, ok)
	}
	if got.Checksum != it.Checksum {
		t.Fatalf("checksum mismatch")
	}
}

func TestPutItemDuplicateIsLoopStopper(t *testing.T) {
	s := newTestStore(t)
	at := time.Now().UTC()
	it := mkItem("i1", at, []byte("hello"))

	if _, err := s.PutItem(context.Background(), it); err != nil {
		t.Fatal(err)
	}
	res, err := s.PutItem(context.Background(), it)
	if err != nil {
		t.Fatal(err)
	}
	if res != Duplicate {
		t.Fatalf("want Duplicate, got %v", res)
	}
}

func TestPutItemOlderLosesLWW(t *testing.T) {
	s := newTestStore(t)
	base := time.Now().UTC()

	newer := mkItem("i1", base.Add(time.Minute), []byte("v2"))
	if _, err := s.PutItem(context.Background(), newer); err != nil {
		t.Fatal(err)
	}

	older := mkItem("i1", base, []byte("v1"))
	res, err := s.PutItem(context.Background(), older)
	if err != nil {
		t.Fatal(err)
	}
	if res != Rejected {
		t.Fatalf("want Rejected, got %v", res)
	}

	got, _, _ := s.GetItem(context.Background(), "i1")
	if got.Checksum != newer.Checksum {
		t.Fatalf("older write must not clobber newer item")
	}
}

func TestPutItemTieBrokenByChecksum(t *testing.T) {
	s := newTestStore(t)
	at := time.Now().UTC()

	low := mkItem("i1", at, []byte("a"))
	high := mkItem("i1", at, []byte("zzzzzzzzzz"))
	if low.Checksum > high.Checksum {
		low, high = high, low
	}

	if _, err := s.PutItem(context.Background(), low); err != nil {
		t.Fatal(err)
	}
	res, err := s.PutItem(context.Background(), high)
	if err != nil {
		t.Fatal(err)
	}
	if res != Stored {
		t.Fatalf("higher checksum at same updated_at must win, got %v", res)
	}
}

func TestPutItemRejectsOversizePayload(t *testing.T) {
	s := newTestStore(t)
	payload := make([]byte, MaxPayloadBytes+1)
	it := mkItem("big", time.Now().UTC(), payload)

	res, err := s.PutItem(context.Background(), it)
	if err == nil || res != Rejected {
		t.Fatalf("want Rejected+error for oversize payload, got %v %v", res, err)
	}
}

func TestPutItemRejectsChecksumMismatch(t *testing.T) {
	s := newTestStore(t)
	it := mkItem("i1", time.Now().UTC(), []byte("hello"))
	it.Checksum = "not-the-real-checksum"

	res, err := s.PutItem(context.Background(), it)
	if err == nil || res != Rejected {
		t.Fatalf("want Rejected+error for checksum mismatch, got %v %v", res, err)
	}
}

func TestDeleteItemWritesTombstone(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	it := mkItem("i1", time.Now().UTC(), []byte("hello"))
	if _, err := s.PutItem(ctx, it); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteItem(ctx, "i1", "g1", "author-1", time.Now().UTC().Add(time.Minute)); err != nil {
		t.Fatal(err)
	}

	got, ok, err := s.GetItem(ctx, "i1")
	if err != nil || !ok {
		t.Fatalf("tombstone should still be retrievable by id: %v %v", err, ok)
	}
	if !got.IsTombstone() {
		t.Fatalf("expected tombstone")
	}
}

func TestItemHeadersPaginates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		it := mkItem(string(rune('a'+i)), base.Add(time.Duration(i)*time.Second), []byte{byte(i)})
		if _, err := s.PutItem(ctx, it); err != nil {
			t.Fatal(err)
		}
	}

	headers, hasMore, err := s.ItemHeaders(ctx, "g1", time.Time{}, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(headers) != 3 {
		t.Fatalf("want 3 headers, got %d", len(headers))
	}
	if !hasMore {
		t.Fatalf("want has_more=true")
	}
}

func TestGCTombstonesPurgesPastRetention(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	old := mkItem("i1", time.Now().UTC().Add(-48*time.Hour), nil)
	old.IsDeletion = true
	old.ItemType = TombstoneItemType
	old.Checksum = Checksum(nil)
	if _, err := s.PutItem(ctx, old); err != nil {
		t.Fatal(err)
	}

	itemsGCed, _, err := s.GCTombstones(ctx, 24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if itemsGCed != 1 {
		t.Fatalf("want 1 gced, got %d", itemsGCed)
	}
	if _, ok, _ := s.GetItem(ctx, "i1"); ok {
		t.Fatalf("tombstone should be gone")
	}
}

func TestSnapshotAndReopenPreservesState(t *testing.T) {
	dir, err := os.MkdirTemp("", "cordelia-store-*")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	s, err := New(dir)
	if err != nil {
		t.Fatal(err)
	}
	it := mkItem("i1", time.Now().UTC(), []byte("hello"))
	if _, err := s.PutItem(context.Background(), it); err != nil {
		t.Fatal(err)
	}
	if err := s.Snapshot(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := New(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()

	got, ok, err := reopened.GetItem(context.Background(), "i1")
	if err != nil || !ok {
		t.Fatalf("item should survive snapshot+reopen: %v %v", err, ok)
	}
	if got.Checksum != it.Checksum {
		t.Fatalf("checksum mismatch after reopen")
	}
}

func TestSearchItemsIsMetadataOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	it := mkItem("i1", time.Now().UTC(), []byte("super-secret-plaintext"))
	it.ItemType = "journal-entry"
	it.Checksum = Checksum(it.EncryptedPayload)
	if _, err := s.PutItem(ctx, it); err != nil {
		t.Fatal(err)
	}

	results, err := s.SearchItems(ctx, "g1", "journal", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("want 1 result by item_type match, got %d", len(results))
	}

	none, err := s.SearchItems(ctx, "g1", "super-secret-plaintext", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(none) != 0 {
		t.Fatalf("search must never match encrypted_payload content")
	}
}
