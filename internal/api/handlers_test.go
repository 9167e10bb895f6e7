package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/gin-gonic/gin"

	"cordelia/internal/config"
	"cordelia/internal/storage"
)

func newTestHandler(t *testing.T) (*Handler, *gin.Engine, storage.Driver) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir, err := os.MkdirTemp("", "cordelia-api-test")
	if err != nil {
		t.Fatalf("mkdir temp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	store, err := storage.New(dir)
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	h := NewHandler(store, nil, nil, nil, nil, "self-node", config.RolePersonal)
	r := gin.New()
	h.Register(r)
	return h, r, store
}

// registerDevice seeds a credential through the DevicesRegister handler on
// a standalone router, returning the bearer token a client would present.
func registerDevice(t *testing.T, store storage.Driver, entityID string) string {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := &Handler{store: store}
	r.POST("/devices/register", h.DevicesRegister)

	body, _ := json.Marshal(registerDeviceRequest{EntityID: entityID})
	req := httptest.NewRequest(http.MethodPost, "/devices/register", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("register device: status %d body %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode register response: %v", err)
	}
	return resp.Token
}

func doJSON(r *gin.Engine, method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestAuthRejectsMissingCredential(t *testing.T) {
	_, r, _ := newTestHandler(t)
	rec := doJSON(r, http.MethodPost, "/l2/read", "", readItemRequest{ItemID: "x"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("want 401, got %d", rec.Code)
	}
}

func TestAuthRejectsBadSecret(t *testing.T) {
	_, r, store := newTestHandler(t)
	token := registerDevice(t, store, "alice")
	bad := token[:len(token)-1] + "0"
	rec := doJSON(r, http.MethodPost, "/l2/read", bad, readItemRequest{ItemID: "x"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("want 401, got %d", rec.Code)
	}
}

func TestL2WriteThenReadRoundTrip(t *testing.T) {
	_, r, store := newTestHandler(t)
	token := registerDevice(t, store, "alice")

	payload := []byte("hello world")
	req := writeItemRequest{
		ItemID: "i1", ItemType: "note", AuthorID: "alice",
		Checksum: storage.Checksum(payload), EncryptedPayload: payload,
	}
	rec := doJSON(r, http.MethodPost, "/l2/write", token, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("write: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(r, http.MethodPost, "/l2/read", token, readItemRequest{ItemID: "i1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("read: status %d body %s", rec.Code, rec.Body.String())
	}
	var item storage.Item
	if err := json.Unmarshal(rec.Body.Bytes(), &item); err != nil {
		t.Fatalf("decode item: %v", err)
	}
	if string(item.EncryptedPayload) != string(payload) {
		t.Fatalf("payload mismatch: got %q", item.EncryptedPayload)
	}
}

func TestL2ReadMissingIs404(t *testing.T) {
	_, r, store := newTestHandler(t)
	token := registerDevice(t, store, "alice")
	rec := doJSON(r, http.MethodPost, "/l2/read", token, readItemRequest{ItemID: "nope"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("want 404, got %d", rec.Code)
	}
}

func TestL2WriteOversizeIs413(t *testing.T) {
	_, r, store := newTestHandler(t)
	token := registerDevice(t, store, "alice")

	oversized := make([]byte, storage.MaxPayloadBytes+1)
	req := writeItemRequest{
		ItemID: "big", ItemType: "note", AuthorID: "alice",
		Checksum: storage.Checksum(oversized), EncryptedPayload: oversized,
	}
	rec := doJSON(r, http.MethodPost, "/l2/write", token, req)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("want 413, got %d", rec.Code)
	}
}

func TestL2WriteChecksumMismatchIs400(t *testing.T) {
	_, r, store := newTestHandler(t)
	token := registerDevice(t, store, "alice")

	req := writeItemRequest{
		ItemID: "bad", ItemType: "note", AuthorID: "alice",
		Checksum: "not-the-real-checksum", EncryptedPayload: []byte("x"),
	}
	rec := doJSON(r, http.MethodPost, "/l2/write", token, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("want 400, got %d", rec.Code)
	}
}

func TestGroupsCreateAndDelete(t *testing.T) {
	_, r, store := newTestHandler(t)
	token := registerDevice(t, store, "alice")

	rec := doJSON(r, http.MethodPost, "/groups/create", token, createGroupRequest{
		Name: "family", OwnerID: "alice",
		Culture: storage.Culture{BroadcastEagerness: storage.Chatty},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("create: status %d body %s", rec.Code, rec.Body.String())
	}
	var g storage.Group
	if err := json.Unmarshal(rec.Body.Bytes(), &g); err != nil {
		t.Fatalf("decode group: %v", err)
	}

	rec = doJSON(r, http.MethodPost, "/groups/delete", token, groupIDRequest{GroupID: g.GroupID})
	if rec.Code != http.StatusOK {
		t.Fatalf("delete: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(r, http.MethodPost, "/groups/read", token, groupIDRequest{GroupID: g.GroupID})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("want 404 after tombstone, got %d", rec.Code)
	}
}

func TestDevicesRevokeBlocksFurtherAuth(t *testing.T) {
	_, r, store := newTestHandler(t)
	token := registerDevice(t, store, "alice")
	deviceID := token[:bytes.IndexByte([]byte(token), '.')]

	rec := doJSON(r, http.MethodPost, "/devices/revoke", token, revokeDeviceRequest{DeviceID: deviceID})
	if rec.Code != http.StatusOK {
		t.Fatalf("revoke: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(r, http.MethodPost, "/l2/read", token, readItemRequest{ItemID: "x"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("want 401 after revoke, got %d", rec.Code)
	}
}
