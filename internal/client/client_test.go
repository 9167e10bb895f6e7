package client_test

import (
	"context"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"cordelia/internal/api"
	"cordelia/internal/client"
	"cordelia/internal/config"
	"cordelia/internal/storage"
)

func newTestServer(t *testing.T) (*httptest.Server, storage.Driver) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir, err := os.MkdirTemp("", "cordelia-client-test")
	if err != nil {
		t.Fatalf("mkdir temp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	store, err := storage.New(dir)
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	h := api.NewHandler(store, nil, nil, nil, nil, "node-1", config.RolePersonal)
	r := gin.New()
	h.Register(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, store
}

func TestClientWriteReadRoundTrip(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	bootstrap := client.New(srv.URL, "", time.Second)
	reg, err := bootstrap.DevicesRegister(ctx, "alice")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	c := client.New(srv.URL, reg.Token, time.Second)
	payload := []byte("hello cordelia")
	_, err = c.L2Write(ctx, client.WriteItemRequest{
		ItemID: "i1", ItemType: "note", AuthorID: "alice",
		Checksum: storage.Checksum(payload), EncryptedPayload: payload,
	})
	if err != nil {
		t.Fatalf("l2 write: %v", err)
	}

	item, err := c.L2Read(ctx, "i1")
	if err != nil {
		t.Fatalf("l2 read: %v", err)
	}
	if string(item.EncryptedPayload) != string(payload) {
		t.Fatalf("payload mismatch: got %q", item.EncryptedPayload)
	}
}

func TestClientReadMissingIsErrNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	bootstrap := client.New(srv.URL, "", time.Second)
	reg, err := bootstrap.DevicesRegister(ctx, "alice")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	c := client.New(srv.URL, reg.Token, time.Second)

	_, err = c.L2Read(ctx, "nope")
	if err != client.ErrNotFound {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestClientUnauthorizedWithoutToken(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	c := client.New(srv.URL, "", time.Second)
	_, err := c.L2Read(ctx, "anything")
	if err != client.ErrUnauthorized {
		t.Fatalf("want ErrUnauthorized, got %v", err)
	}
}

func TestClientGroupsLifecycle(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	bootstrap := client.New(srv.URL, "", time.Second)
	reg, err := bootstrap.DevicesRegister(ctx, "alice")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	c := client.New(srv.URL, reg.Token, time.Second)

	g, err := c.GroupsCreate(ctx, "family", "alice", client.Culture{BroadcastEagerness: "chatty"})
	if err != nil {
		t.Fatalf("groups create: %v", err)
	}

	if _, err := c.GroupsAddMember(ctx, g.GroupID, "bob", "member", "active"); err != nil {
		t.Fatalf("add member: %v", err)
	}

	if err := c.GroupsDelete(ctx, g.GroupID); err != nil {
		t.Fatalf("groups delete: %v", err)
	}
	if _, err := c.GroupsRead(ctx, g.GroupID); err != client.ErrNotFound {
		t.Fatalf("want ErrNotFound after delete, got %v", err)
	}
}
