package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"cordelia/internal/peerpool"
)

// Status handles GET status: basic node identity and uptime (§6.2).
func (h *Handler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"self_id":    h.selfID,
		"role":       h.role,
		"started_at": h.startedAt,
		"uptime_sec": time.Since(h.startedAt).Seconds(),
	})
}

// peerView is the wire-friendly projection of a peerpool.Peer —
// peerpool.State is an int with a String() method, so we render it as
// text rather than leaking the raw enum value.
type peerView struct {
	PeerID           string   `json:"peer_id"`
	Addresses        []string `json:"addresses"`
	State            string   `json:"state"`
	IsRelay          bool     `json:"is_relay"`
	ItemsDelivered   int64    `json:"items_delivered"`
	RTTMillis        float64  `json:"rtt_millis"`
	GroupIntersect   int      `json:"group_intersect_count"`
	GroupsAdvertised int      `json:"groups_advertised_count"`
}

func toPeerView(p *peerpool.Peer) peerView {
	return peerView{
		PeerID:           p.PeerID,
		Addresses:        p.Addresses,
		State:            p.State.String(),
		IsRelay:          p.IsRelay,
		ItemsDelivered:   p.ItemsDelivered,
		RTTMillis:        float64(p.RTT.Microseconds()) / 1000.0,
		GroupIntersect:   len(p.GroupIntersect),
		GroupsAdvertised: len(p.GroupsAdvertised),
	}
}

// Peers handles GET peers: every known Warm/Hot/Banned peer and the
// pool's tier population (§6.2).
func (h *Handler) Peers(c *gin.Context) {
	if h.pool == nil {
		c.JSON(http.StatusOK, gin.H{"peers": []peerView{}})
		return
	}
	all := h.pool.All()
	views := make([]peerView, 0, len(all))
	for _, p := range all {
		views = append(views, toPeerView(p))
	}
	cold, warm, hot, banned := h.pool.CountByState()
	c.JSON(http.StatusOK, gin.H{
		"peers": views,
		"counts": gin.H{"cold": cold, "warm": warm, "hot": hot, "banned": banned},
	})
}

// Diagnostics handles GET diagnostics: replication counters so
// operators can detect stalls without observing individual errors (§7).
func (h *Handler) Diagnostics(c *gin.Context) {
	resp := gin.H{"self_id": h.selfID, "role": h.role}
	if h.met != nil {
		resp["counters"] = h.met.Snapshot()
	}
	if h.pool != nil {
		cold, warm, hot, banned := h.pool.CountByState()
		resp["peers_by_state"] = gin.H{"cold": cold, "warm": warm, "hot": hot, "banned": banned}
	}
	c.JSON(http.StatusOK, resp)
}
