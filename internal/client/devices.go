package client

import (
	"context"
	"net/http"
	"time"
)

// Device mirrors storage.Device's JSON shape, minus the credential
// hash (the server never returns it).
type Device struct {
	DeviceID  string     `json:"device_id"`
	EntityID  string     `json:"entity_id"`
	CreatedAt time.Time  `json:"created_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

// RegisterDeviceResponse carries the bearer token. It is returned once,
// at registration time; only its hash is ever persisted server-side.
type RegisterDeviceResponse struct {
	DeviceID string `json:"device_id"`
	EntityID string `json:"entity_id"`
	Token    string `json:"token"`
}

// DevicesRegister enrolls a new device for entityID and returns its
// bearer token. Callers typically pass the token straight into a new
// Client via New.
func (c *Client) DevicesRegister(ctx context.Context, entityID string) (*RegisterDeviceResponse, error) {
	var out RegisterDeviceResponse
	req := map[string]string{"entity_id": entityID}
	return &out, c.do(ctx, http.MethodPost, "/devices/register", req, &out)
}

// DevicesList lists every device registered for entityID.
func (c *Client) DevicesList(ctx context.Context, entityID string) ([]Device, error) {
	var out struct {
		Devices []Device `json:"devices"`
	}
	req := map[string]string{"entity_id": entityID}
	if err := c.do(ctx, http.MethodPost, "/devices/list", req, &out); err != nil {
		return nil, err
	}
	return out.Devices, nil
}

// DevicesRevoke revokes a device's credential; subsequent requests
// bearing its token fail with ErrUnauthorized.
func (c *Client) DevicesRevoke(ctx context.Context, deviceID string) error {
	req := map[string]string{"device_id": deviceID}
	return c.do(ctx, http.MethodPost, "/devices/revoke", req, nil)
}
