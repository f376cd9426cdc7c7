// Package auth verifies the static per-device credential carried on
// every submission from the field.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stafftrack/attendance-platform/internal/models"
)

// DeviceIDKey is the gin context key holding the authenticated device's
// device_id.
const DeviceIDKey = "device_id"

// Device is the authenticated device identity.
type Device struct {
	ID       string
	Name     string
	Location string
}

// DeviceVerifier resolves an API key to a device identity.
type DeviceVerifier interface {
	VerifyAPIKey(ctx context.Context, apiKey string) (*Device, error)
}

// PostgresDeviceVerifier looks devices up by the SHA-256 digest of
// their API key. The raw key is never stored.
type PostgresDeviceVerifier struct {
	pool *pgxpool.Pool
}

// NewPostgresDeviceVerifier creates a verifier over the shared pool.
func NewPostgresDeviceVerifier(pool *pgxpool.Pool) *PostgresDeviceVerifier {
	return &PostgresDeviceVerifier{pool: pool}
}

// HashAPIKey returns the hex SHA-256 digest under which a device key is
// stored.
func HashAPIKey(apiKey string) string {
	digest := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(digest[:])
}

// VerifyAPIKey resolves the key to its device, or nil when unknown.
func (v *PostgresDeviceVerifier) VerifyAPIKey(ctx context.Context, apiKey string) (*Device, error) {
	var device Device
	err := v.pool.QueryRow(ctx,
		`SELECT device_id, name, location FROM devices WHERE api_key_hash = $1`,
		HashAPIKey(apiKey),
	).Scan(&device.ID, &device.Name, &device.Location)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to verify device key: %w", err)
	}
	return &device, nil
}

// RequireDevice is gin middleware that validates the X-API-Key header
// and attaches the authenticated device_id to the context. Submissions
// without a valid key never reach the ingest path.
func RequireDevice(verifier DeviceVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := c.GetHeader("X-API-Key")
		if apiKey == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, models.ErrorResponse{
				Error: "Missing X-API-Key header",
				Code:  models.ErrCodeUnauthorized,
			})
			return
		}

		device, err := verifier.VerifyAPIKey(c.Request.Context(), apiKey)
		if err != nil {
			log.Printf(`{"level":"error","message":"Device key verification failed","error":"%v"}`, err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, models.ErrorResponse{
				Error: "Failed to verify credentials",
				Code:  models.ErrCodeInternalError,
			})
			return
		}
		if device == nil {
			log.Printf(`{"level":"warn","message":"Invalid device API key","path":"%s"}`, c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusUnauthorized, models.ErrorResponse{
				Error: "Invalid API key",
				Code:  models.ErrCodeUnauthorized,
			})
			return
		}

		c.Set(DeviceIDKey, device.ID)
		c.Next()
	}
}
