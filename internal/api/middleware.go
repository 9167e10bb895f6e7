package api

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Logger is a Gin middleware that logs every request with method, path,
// status code, and latency, matching the teacher's request-logging
// middleware but through logrus so it joins the rest of the node's
// structured log stream.
func Logger() gin.HandlerFunc {
	log := logrus.WithField("component", "api")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"client":  c.ClientIP(),
			"status":  c.Writer.Status(),
			"latency": time.Since(start),
		}).Info("request")
	}
}

// Recovery wraps Gin's default recovery but logs panics in a structured way.
func Recovery() gin.HandlerFunc {
	log := logrus.WithField("component", "api")
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.WithField("panic", err).Error("recovered from panic")
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			}
		}()
		c.Next()
	}
}

// Auth implements the bearer-credential authentication §6.2 requires on
// every operation. A token has the form "<device_id>.<secret>"; the
// device_id half gives an O(1) lookup, and the secret half is compared
// against the stored sha256 hash (never the plaintext) in constant time.
func (h *Handler) Auth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		deviceID, secret, ok := splitToken(token)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or malformed bearer credential"})
			return
		}

		device, found, err := h.store.GetDevice(c.Request.Context(), deviceID)
		if err != nil || !found || device.RevokedAt != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or revoked credential"})
			return
		}

		sum := sha256.Sum256([]byte(secret))
		if subtle.ConstantTimeCompare([]byte(hex.EncodeToString(sum[:])), []byte(device.CredentialHash)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or revoked credential"})
			return
		}

		c.Set("entity_id", device.EntityID)
		c.Set("device_id", device.DeviceID)
		c.Next()
	}
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimPrefix(header, prefix)
}

func splitToken(token string) (deviceID, secret string, ok bool) {
	parts := strings.SplitN(token, ".", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
