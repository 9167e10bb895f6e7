package client

import (
	"context"
	"net/http"
	"time"
)

// Culture mirrors storage.Culture.
type Culture struct {
	BroadcastEagerness string `json:"broadcast_eagerness"`
	TTLDefault         int64  `json:"ttl_default,omitempty"`
	DeparturePolicy    string `json:"departure_policy,omitempty"`
}

// Group mirrors storage.Group's JSON shape.
type Group struct {
	GroupID    string    `json:"group_id"`
	Name       string    `json:"name"`
	Culture    Culture   `json:"culture"`
	CultureRaw string    `json:"culture_raw,omitempty"`
	OwnerID    string    `json:"owner_id"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	Checksum   string    `json:"checksum"`
}

// Member mirrors storage.Member.
type Member struct {
	GroupID  string `json:"group_id"`
	EntityID string `json:"entity_id"`
	Role     string `json:"role"`
	Posture  string `json:"posture"`
}

// GroupsCreate creates a group and triggers an immediate GroupExchange
// on the node (§6.2).
func (c *Client) GroupsCreate(ctx context.Context, name, ownerID string, culture Culture) (*Group, error) {
	req := map[string]any{"name": name, "owner_id": ownerID, "culture": culture}
	var out Group
	return &out, c.do(ctx, http.MethodPost, "/groups/create", req, &out)
}

// GroupsList lists every non-tombstoned group descriptor.
func (c *Client) GroupsList(ctx context.Context) ([]Group, error) {
	var out struct {
		Groups []Group `json:"groups"`
	}
	if err := c.do(ctx, http.MethodPost, "/groups/list", map[string]any{}, &out); err != nil {
		return nil, err
	}
	return out.Groups, nil
}

// GroupsRead fetches one group descriptor. Returns ErrNotFound if
// missing or tombstoned.
func (c *Client) GroupsRead(ctx context.Context, groupID string) (*Group, error) {
	var out Group
	if err := c.do(ctx, http.MethodPost, "/groups/read", map[string]string{"group_id": groupID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GroupsDelete tombstones a group descriptor and soft-removes its
// members.
func (c *Client) GroupsDelete(ctx context.Context, groupID string) error {
	return c.do(ctx, http.MethodPost, "/groups/delete", map[string]string{"group_id": groupID}, nil)
}

// GroupsItems fetches the header list for a group since the given
// watermark, for sync debugging (§6.2, not a general query surface).
func (c *Client) GroupsItems(ctx context.Context, groupID string, since time.Time, limit int) (headers []ItemHeader, hasMore bool, err error) {
	req := map[string]any{"group_id": groupID, "since": since, "limit": limit}
	var out struct {
		Headers []ItemHeader `json:"headers"`
		HasMore bool         `json:"has_more"`
	}
	if err := c.do(ctx, http.MethodPost, "/groups/items", req, &out); err != nil {
		return nil, false, err
	}
	return out.Headers, out.HasMore, nil
}

// GroupsAddMember adds or replaces a member record.
func (c *Client) GroupsAddMember(ctx context.Context, groupID, entityID, role, posture string) (*Member, error) {
	req := map[string]string{"group_id": groupID, "entity_id": entityID, "role": role, "posture": posture}
	var out Member
	return &out, c.do(ctx, http.MethodPost, "/groups/add_member", req, &out)
}

// GroupsRemoveMember soft-removes a member (posture=removed).
func (c *Client) GroupsRemoveMember(ctx context.Context, groupID, entityID string) error {
	req := map[string]string{"group_id": groupID, "entity_id": entityID}
	return c.do(ctx, http.MethodPost, "/groups/remove_member", req, nil)
}

// GroupsUpdatePosture changes a member's transmission posture without
// touching their role.
func (c *Client) GroupsUpdatePosture(ctx context.Context, groupID, entityID, posture string) (*Member, error) {
	req := map[string]string{"group_id": groupID, "entity_id": entityID, "posture": posture}
	var out Member
	return &out, c.do(ctx, http.MethodPost, "/groups/update_posture", req, &out)
}
