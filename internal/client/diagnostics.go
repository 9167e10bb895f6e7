package client

import (
	"context"
	"net/http"
	"time"
)

// StatusResponse mirrors api.Handler.Status's JSON body.
type StatusResponse struct {
	SelfID    string    `json:"self_id"`
	Role      string    `json:"role"`
	StartedAt time.Time `json:"started_at"`
	UptimeSec float64   `json:"uptime_sec"`
}

// Status calls GET status.
func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	var out StatusResponse
	return &out, c.do(ctx, http.MethodGet, "/status", nil, &out)
}

// PeerView mirrors api.peerView — the wire projection of a peer record.
type PeerView struct {
	PeerID           string   `json:"peer_id"`
	Addresses        []string `json:"addresses"`
	State            string   `json:"state"`
	IsRelay          bool     `json:"is_relay"`
	ItemsDelivered   int64    `json:"items_delivered"`
	RTTMillis        float64  `json:"rtt_millis"`
	GroupIntersect   int      `json:"group_intersect_count"`
	GroupsAdvertised int      `json:"groups_advertised_count"`
}

// PeersResponse mirrors GET peers.
type PeersResponse struct {
	Peers  []PeerView     `json:"peers"`
	Counts map[string]int `json:"counts"`
}

// Peers calls GET peers.
func (c *Client) Peers(ctx context.Context) (*PeersResponse, error) {
	var out PeersResponse
	return &out, c.do(ctx, http.MethodGet, "/peers", nil, &out)
}

// DiagnosticsResponse mirrors GET diagnostics.
type DiagnosticsResponse struct {
	SelfID       string             `json:"self_id"`
	Role         string             `json:"role"`
	Counters     map[string]float64 `json:"counters"`
	PeersByState map[string]int     `json:"peers_by_state"`
}

// Diagnostics calls GET diagnostics — replication counters an operator
// uses to detect stalls without observing individual errors (§7).
func (c *Client) Diagnostics(ctx context.Context) (*DiagnosticsResponse, error) {
	var out DiagnosticsResponse
	return &out, c.do(ctx, http.MethodGet, "/diagnostics", nil, &out)
}
