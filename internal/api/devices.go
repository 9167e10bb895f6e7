package api

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"cordelia/internal/storage"
)

// credentialSecretBytes is the length of the random secret half of a
// bearer token; the device_id half is a UUID so lookups stay O(1).
const credentialSecretBytes = 32

type registerDeviceRequest struct {
	EntityID string `json:"entity_id" binding:"required"`
}

// DevicesRegister handles devices/register. Returns the bearer token
// exactly once — only its sha256 hash is persisted (§6.2.2).
func (h *Handler) DevicesRegister(c *gin.Context) {
	var req registerDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	secret := make([]byte, credentialSecretBytes)
	if _, err := rand.Read(secret); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate credential"})
		return
	}
	secretHex := hex.EncodeToString(secret)
	sum := sha256.Sum256(secret)

	d := storage.Device{
		DeviceID:       uuid.NewString(),
		EntityID:       req.EntityID,
		CredentialHash: hex.EncodeToString(sum[:]),
		CreatedAt:      time.Now().UTC(),
	}
	if err := h.store.PutDevice(c.Request.Context(), d); err != nil {
		h.writeStorageError(c, "devices_register", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"device_id": d.DeviceID,
		"entity_id": d.EntityID,
		"token":     d.DeviceID + "." + secretHex,
	})
}

type listDevicesRequest struct {
	EntityID string `json:"entity_id" binding:"required"`
}

// DevicesList handles devices/list.
func (h *Handler) DevicesList(c *gin.Context) {
	var req listDevicesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	devices, err := h.store.ListDevices(c.Request.Context(), req.EntityID)
	if err != nil {
		h.writeStorageError(c, "devices_list", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"devices": devices})
}

type revokeDeviceRequest struct {
	DeviceID string `json:"device_id" binding:"required"`
}

// DevicesRevoke handles devices/revoke.
func (h *Handler) DevicesRevoke(c *gin.Context) {
	var req revokeDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.store.RevokeDevice(c.Request.Context(), req.DeviceID, time.Now().UTC()); err != nil {
		h.writeStorageError(c, "devices_revoke", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"device_id": req.DeviceID, "revoked": true})
}
