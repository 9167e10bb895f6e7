package client

import (
	"context"
	"net/http"
	"time"
)

// Item mirrors storage.Item's JSON shape for the SDK's callers, kept as
// its own type (rather than importing internal/storage) so this package
// stays a standalone client any external proxy process can vendor.
type Item struct {
	ItemID           string    `json:"item_id"`
	ItemType         string    `json:"item_type"`
	GroupID          string    `json:"group_id,omitempty"`
	AuthorID         string    `json:"author_id"`
	Checksum         string    `json:"checksum"`
	EncryptedPayload []byte    `json:"encrypted_payload"`
	KeyVersion       int       `json:"key_version"`
	ParentID         string    `json:"parent_id,omitempty"`
	IsCopy           bool      `json:"is_copy,omitempty"`
	IsDeletion       bool      `json:"is_deletion,omitempty"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// ItemHeader mirrors storage.ItemHeader.
type ItemHeader struct {
	ItemID     string    `json:"item_id"`
	ItemType   string    `json:"item_type"`
	Checksum   string    `json:"checksum"`
	UpdatedAt  time.Time `json:"updated_at"`
	AuthorID   string    `json:"author_id"`
	IsDeletion bool      `json:"is_deletion"`
}

// WriteItemRequest is the l2/write request body.
type WriteItemRequest struct {
	ItemID           string `json:"item_id"`
	ItemType         string `json:"item_type"`
	GroupID          string `json:"group_id,omitempty"`
	AuthorID         string `json:"author_id"`
	Checksum         string `json:"checksum"`
	EncryptedPayload []byte `json:"encrypted_payload"`
	KeyVersion       int    `json:"key_version"`
	ParentID         string `json:"parent_id,omitempty"`
	IsCopy           bool   `json:"is_copy,omitempty"`
}

// WriteItemResponse is the l2/write response body.
type WriteItemResponse struct {
	ItemID string `json:"item_id"`
	Result string `json:"result"`
}

// L2Write stores an item. Payload over 16 KiB comes back as an
// *APIError with Status 413; a checksum mismatch comes back as a 400.
func (c *Client) L2Write(ctx context.Context, req WriteItemRequest) (*WriteItemResponse, error) {
	var out WriteItemResponse
	return &out, c.do(ctx, http.MethodPost, "/l2/write", req, &out)
}

// L2Read fetches one item by id. Returns ErrNotFound if missing or
// tombstoned.
func (c *Client) L2Read(ctx context.Context, itemID string) (*Item, error) {
	var out Item
	if err := c.do(ctx, http.MethodPost, "/l2/read", map[string]string{"item_id": itemID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// L2Delete writes a tombstone for itemID. Double-delete is absorbed
// silently by the node, so this never surfaces a "not found" on repeat
// calls.
func (c *Client) L2Delete(ctx context.Context, itemID, groupID, authorID string) error {
	req := map[string]string{"item_id": itemID, "group_id": groupID, "author_id": authorID}
	return c.do(ctx, http.MethodPost, "/l2/delete", req, nil)
}

// L2Search runs the best-effort metadata search of §6.2.1.
func (c *Client) L2Search(ctx context.Context, groupID, query string, limit int) ([]ItemHeader, error) {
	req := map[string]any{"group_id": groupID, "query": query, "limit": limit}
	var out struct {
		Items []ItemHeader `json:"items"`
	}
	if err := c.do(ctx, http.MethodPost, "/l2/search", req, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}
