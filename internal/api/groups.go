package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"cordelia/internal/storage"
)

type createGroupRequest struct {
	Name     string           `json:"name" binding:"required"`
	OwnerID  string           `json:"owner_id" binding:"required"`
	Culture  storage.Culture  `json:"culture"`
}

// GroupsCreate handles groups/create: enters the group into
// shared_groups and schedules an immediate GroupExchange (§6.2).
func (h *Handler) GroupsCreate(c *gin.Context) {
	var req createGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	now := time.Now().UTC()
	g := storage.Group{
		GroupID:   uuid.NewString(),
		Name:      req.Name,
		OwnerID:   req.OwnerID,
		Culture:   req.Culture.Normalize(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	g.Checksum = storage.Checksum([]byte(g.GroupID + g.Name + string(g.Culture.BroadcastEagerness)))

	if err := h.store.PutGroup(c.Request.Context(), g); err != nil {
		h.writeStorageError(c, "groups_create", err)
		return
	}
	if h.pool != nil {
		shared, _ := h.store.SharedGroupIDs(c.Request.Context())
		h.pool.SetSharedGroups(shared)
	}
	if h.notifier != nil {
		go h.notifier.NotifyGroupCreated(context.Background(), g.GroupID)
	}
	c.JSON(http.StatusOK, g)
}

// GroupsList handles groups/list, excluding tombstoned descriptors.
func (h *Handler) GroupsList(c *gin.Context) {
	groups, err := h.store.ListGroups(c.Request.Context())
	if err != nil {
		h.writeStorageError(c, "groups_list", err)
		return
	}
	out := make([]storage.Group, 0, len(groups))
	for _, g := range groups {
		if !g.IsTombstoned() {
			out = append(out, g)
		}
	}
	c.JSON(http.StatusOK, gin.H{"groups": out})
}

type groupIDRequest struct {
	GroupID string `json:"group_id" binding:"required"`
}

// GroupsRead handles groups/read.
func (h *Handler) GroupsRead(c *gin.Context) {
	var req groupIDRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	g, ok, err := h.store.GetGroup(c.Request.Context(), req.GroupID)
	if err != nil {
		h.writeStorageError(c, "groups_read", err)
		return
	}
	if !ok || g.IsTombstoned() {
		c.JSON(http.StatusNotFound, gin.H{"error": "group not found"})
		return
	}
	c.JSON(http.StatusOK, g)
}

// GroupsDelete handles groups/delete: tombstones the descriptor
// (culture = "__deleted__"), removes it from shared_groups, and
// soft-removes every member (§6.2). GC happens later, by retention.
func (h *Handler) GroupsDelete(c *gin.Context) {
	var req groupIDRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()
	g, ok, err := h.store.GetGroup(ctx, req.GroupID)
	if err != nil {
		h.writeStorageError(c, "groups_delete", err)
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "group not found"})
		return
	}

	g.CultureRaw = storage.TombstoneCulture
	g.UpdatedAt = time.Now().UTC()
	g.Checksum = storage.Checksum([]byte(g.GroupID + storage.TombstoneCulture))
	if err := h.store.PutGroup(ctx, g); err != nil {
		h.writeStorageError(c, "groups_delete", err)
		return
	}

	members, _ := h.store.ListMembers(ctx, req.GroupID)
	for _, m := range members {
		_ = h.store.RemoveMember(ctx, m.GroupID, m.EntityID)
	}

	if h.pool != nil {
		shared, _ := h.store.SharedGroupIDs(ctx)
		h.pool.SetSharedGroups(shared)
		h.pool.ForgetRelayGroup(req.GroupID)
	}
	c.JSON(http.StatusOK, gin.H{"group_id": req.GroupID, "deleted": true})
}

type groupItemsRequest struct {
	GroupID string    `json:"group_id" binding:"required"`
	Since   time.Time `json:"since"`
	Limit   int       `json:"limit"`
}

// GroupsItems handles groups/items: a thin read-only projection over
// storage.ItemHeaders for sync debugging, not a general query surface
// (§6.2).
func (h *Handler) GroupsItems(c *gin.Context) {
	var req groupItemsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	limit := req.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	headers, hasMore, err := h.store.ItemHeaders(c.Request.Context(), req.GroupID, req.Since, limit)
	if err != nil {
		h.writeStorageError(c, "groups_items", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"headers": headers, "has_more": hasMore})
}

type addMemberRequest struct {
	GroupID  string                `json:"group_id" binding:"required"`
	EntityID string                `json:"entity_id" binding:"required"`
	Role     storage.MemberRole    `json:"role"`
	Posture  storage.MemberPosture `json:"posture"`
}

// GroupsAddMember handles groups/add_member.
func (h *Handler) GroupsAddMember(c *gin.Context) {
	var req addMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	m := storage.Member{
		GroupID:  req.GroupID,
		EntityID: req.EntityID,
		Role:     req.Role,
		Posture:  req.Posture,
	}
	if m.Role == "" {
		m.Role = storage.RoleMember
	}
	if m.Posture == "" {
		m.Posture = storage.PostureActive
	}
	if err := h.store.AddMember(c.Request.Context(), m); err != nil {
		h.writeStorageError(c, "groups_add_member", err)
		return
	}
	c.JSON(http.StatusOK, m)
}

type removeMemberRequest struct {
	GroupID  string `json:"group_id" binding:"required"`
	EntityID string `json:"entity_id" binding:"required"`
}

// GroupsRemoveMember handles groups/remove_member — a soft mark
// (posture=removed), never a physical delete (§3).
func (h *Handler) GroupsRemoveMember(c *gin.Context) {
	var req removeMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.store.RemoveMember(c.Request.Context(), req.GroupID, req.EntityID); err != nil {
		h.writeStorageError(c, "groups_remove_member", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"group_id": req.GroupID, "entity_id": req.EntityID, "removed": true})
}

type updatePostureRequest struct {
	GroupID  string                `json:"group_id" binding:"required"`
	EntityID string                `json:"entity_id" binding:"required"`
	Posture  storage.MemberPosture `json:"posture" binding:"required"`
}

// GroupsUpdatePosture handles groups/update_posture: updates a single
// member's transmission posture (active/silent/emcon/removed) without
// disturbing their role. Members is a local-only table with no direct
// update method, so this upserts via AddMember with the role carried
// forward from the existing record.
func (h *Handler) GroupsUpdatePosture(c *gin.Context) {
	var req updatePostureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()

	role := storage.RoleMember
	members, _ := h.store.ListMembers(ctx, req.GroupID)
	for _, m := range members {
		if m.EntityID == req.EntityID {
			role = m.Role
			break
		}
	}

	m := storage.Member{GroupID: req.GroupID, EntityID: req.EntityID, Role: role, Posture: req.Posture}
	if err := h.store.AddMember(ctx, m); err != nil {
		h.writeStorageError(c, "groups_update_posture", err)
		return
	}
	c.JSON(http.StatusOK, m)
}
