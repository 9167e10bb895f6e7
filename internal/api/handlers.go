// Package api is the external-proxy-facing request/response surface of
// §6.2: a single bearer-authenticated endpoint family grouped by prefix
// (l2, groups, devices, diagnostics), in the teacher's
// Register(r *gin.Engine) style.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"cordelia/internal/config"
	"cordelia/internal/corderr"
	"cordelia/internal/peerpool"
	"cordelia/internal/replication"
	"cordelia/internal/storage"
)

// GroupExchangeNotifier lets the API adapter kick off an immediate
// GroupExchange on groups/create (§6.2: "schedules an immediate
// GroupExchange") without importing the swarm package directly. May be
// nil (e.g. in tests), in which case the notification is skipped.
type GroupExchangeNotifier interface {
	NotifyGroupCreated(ctx context.Context, groupID string)
}

// metricsSnapshotter is the subset of *metrics.Metrics the diagnostics
// handler needs, kept as an interface so handler tests don't need a
// live Prometheus registry.
type metricsSnapshotter interface {
	Snapshot() map[string]float64
}

// Handler holds every dependency injected from cmd/cordelia's main.
type Handler struct {
	store    storage.Driver
	engine   *replication.Engine
	pool     *peerpool.Pool
	met      metricsSnapshotter
	notifier GroupExchangeNotifier

	selfID    string
	role      config.Role
	startedAt time.Time
	log       *logrus.Entry
}

// NewHandler constructs a Handler. met and notifier may be nil.
func NewHandler(store storage.Driver, engine *replication.Engine, pool *peerpool.Pool, met metricsSnapshotter, notifier GroupExchangeNotifier, selfID string, role config.Role) *Handler {
	return &Handler{
		store:     store,
		engine:    engine,
		pool:      pool,
		met:       met,
		notifier:  notifier,
		selfID:    selfID,
		role:      role,
		startedAt: time.Now().UTC(),
		log:       logrus.WithField("component", "api"),
	}
}

// Register mounts every route; all of them except devices/register sit
// behind the bearer-auth middleware.
func (h *Handler) Register(r *gin.Engine) {
	l2 := r.Group("/l2", h.Auth())
	l2.POST("/read", h.L2Read)
	l2.POST("/write", h.L2Write)
	l2.POST("/delete", h.L2Delete)
	l2.POST("/search", h.L2Search)

	groups := r.Group("/groups", h.Auth())
	groups.POST("/create", h.GroupsCreate)
	groups.POST("/list", h.GroupsList)
	groups.POST("/read", h.GroupsRead)
	groups.POST("/delete", h.GroupsDelete)
	groups.POST("/items", h.GroupsItems)
	groups.POST("/add_member", h.GroupsAddMember)
	groups.POST("/remove_member", h.GroupsRemoveMember)
	groups.POST("/update_posture", h.GroupsUpdatePosture)

	// Registration is deliberately unauthenticated: a device has no
	// credential until this call returns one. Operators fronting a node
	// with an open registration endpoint should gate it at the network
	// layer (allowlist, invite token) if that is a concern for their
	// deployment; §6.2 specifies the credential model, not enrollment
	// policy.
	r.POST("/devices/register", h.DevicesRegister)

	devices := r.Group("/devices", h.Auth())
	devices.POST("/list", h.DevicesList)
	devices.POST("/revoke", h.DevicesRevoke)

	diag := r.Group("/", h.Auth())
	diag.GET("/status", h.Status)
	diag.GET("/peers", h.Peers)
	diag.GET("/diagnostics", h.Diagnostics)
}

// ─── l2/* — item operations ───────────────────────────────────────────

type writeItemRequest struct {
	ItemID           string `json:"item_id" binding:"required"`
	ItemType         string `json:"item_type" binding:"required"`
	GroupID          string `json:"group_id"`
	AuthorID         string `json:"author_id" binding:"required"`
	Checksum         string `json:"checksum" binding:"required"`
	EncryptedPayload []byte `json:"encrypted_payload"`
	KeyVersion       int    `json:"key_version"`
	ParentID         string `json:"parent_id"`
	IsCopy           bool   `json:"is_copy"`
}

// L2Write handles l2/write. Persistence is synchronous; eager-push
// replication (when the item belongs to a chatty group) is dispatched in
// the background so the write path is never blocked on peer I/O (§6.2).
func (h *Handler) L2Write(c *gin.Context) {
	var req writeItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(req.EncryptedPayload) > storage.MaxPayloadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "encrypted_payload exceeds max item size"})
		return
	}

	item := storage.Item{
		ItemID:           req.ItemID,
		ItemType:         req.ItemType,
		GroupID:          req.GroupID,
		AuthorID:         req.AuthorID,
		Checksum:         req.Checksum,
		EncryptedPayload: req.EncryptedPayload,
		KeyVersion:       req.KeyVersion,
		ParentID:         req.ParentID,
		IsCopy:           req.IsCopy,
		UpdatedAt:        time.Now().UTC(),
	}

	res, err := h.store.PutItem(c.Request.Context(), item)
	if err != nil {
		h.writeStorageError(c, "l2_write", err)
		return
	}

	h.dispatchIfGrouped(item)
	c.JSON(http.StatusOK, gin.H{"item_id": item.ItemID, "result": putResultString(res)})
}

type readItemRequest struct {
	ItemID string `json:"item_id" binding:"required"`
}

// L2Read handles l2/read. Returns 404 on missing (§7).
func (h *Handler) L2Read(c *gin.Context) {
	var req readItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	item, ok, err := h.store.GetItem(c.Request.Context(), req.ItemID)
	if err != nil {
		h.writeStorageError(c, "l2_read", err)
		return
	}
	if !ok || item.IsTombstone() {
		c.JSON(http.StatusNotFound, gin.H{"error": "item not found"})
		return
	}
	c.JSON(http.StatusOK, item)
}

type deleteItemRequest struct {
	ItemID   string `json:"item_id" binding:"required"`
	GroupID  string `json:"group_id"`
	AuthorID string `json:"author_id" binding:"required"`
}

// L2Delete handles l2/delete. Writes a tombstone; double-delete is
// absorbed silently (§6.2) since the tombstone write goes through the
// same LWW/duplicate path as any other put_item.
func (h *Handler) L2Delete(c *gin.Context) {
	var req deleteItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	now := time.Now().UTC()
	if err := h.store.DeleteItem(c.Request.Context(), req.ItemID, req.GroupID, req.AuthorID, now); err != nil {
		h.writeStorageError(c, "l2_delete", err)
		return
	}

	if tomb, ok, _ := h.store.GetItem(c.Request.Context(), req.ItemID); ok {
		h.dispatchIfGrouped(tomb)
	}
	c.JSON(http.StatusOK, gin.H{"item_id": req.ItemID, "deleted": true})
}

type searchRequest struct {
	GroupID string `json:"group_id"`
	Query   string `json:"query"`
	Limit   int    `json:"limit"`
}

// L2Search handles l2/search — the supplemented best-effort metadata
// search of §6.2.1.
func (h *Handler) L2Search(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	limit := req.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	headers, err := h.store.SearchItems(c.Request.Context(), req.GroupID, req.Query, limit)
	if err != nil {
		h.writeStorageError(c, "l2_search", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": headers})
}

// dispatchIfGrouped fires replication for a just-written item in the
// background; a group-less item is stored but never replicated (§6.2).
func (h *Handler) dispatchIfGrouped(item storage.Item) {
	if item.GroupID == "" || h.engine == nil {
		return
	}
	group, ok, err := h.store.GetGroup(context.Background(), item.GroupID)
	if err != nil || !ok {
		return
	}
	action := h.engine.OnLocalWrite(item, group)
	go h.engine.Dispatch(context.Background(), action)
}

func putResultString(r storage.PutResult) string {
	switch r {
	case storage.Stored:
		return "stored"
	case storage.Duplicate:
		return "duplicate"
	default:
		return "rejected"
	}
}

// writeStorageError maps a corderr-classified failure onto the HTTP
// status codes §7 specifies: integrity failures are the caller's fault
// (mismatched checksum), everything else storage-side is a 500.
func (h *Handler) writeStorageError(c *gin.Context, op string, err error) {
	h.log.WithError(err).WithField("op", op).Error("storage operation failed")
	if corderr.Is(err, corderr.KindIntegrity) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
