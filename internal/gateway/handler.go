// Package gateway is the HTTP surface of the ingestion service.
package gateway

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/stafftrack/attendance-platform/internal/auth"
	"github.com/stafftrack/attendance-platform/internal/ingest"
	"github.com/stafftrack/attendance-platform/internal/models"
)

// Ingestor is the slice of the ingestion service the gateway calls.
type Ingestor interface {
	Ingest(ctx context.Context, submission models.EventSubmission) (*ingest.Result, error)
	IngestPIN(ctx context.Context, submission models.PINSubmission) (*ingest.Result, error)
}

// Handler handles HTTP requests for the gateway layer
type Handler struct {
	ingestor   Ingestor
	scanBuffer *ingest.ScanBuffer
	feedHub    *FeedHub
}

// NewHandler creates a new gateway handler
func NewHandler(ingestor Ingestor, scanBuffer *ingest.ScanBuffer, feedHub *FeedHub) *Handler {
	return &Handler{
		ingestor:   ingestor,
		scanBuffer: scanBuffer,
		feedHub:    feedHub,
	}
}

// RecordAttendanceEvent godoc
// @Summary Record an attendance event
// @Description Record a token tap from a capture device. Unassigned tokens are parked for enrollment and answered with 202.
// @Tags attendance
// @Accept json
// @Produce json
// @Param X-API-Key header string true "Device API key"
// @Param request body models.EventSubmission true "Event submission"
// @Success 200 {object} models.AttendanceEventResponse "Idempotent redelivery of an existing event"
// @Success 201 {object} models.AttendanceEventResponse
// @Success 202 {object} models.ScanModeResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 401 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse
// @Router /attendance-events [post]
func (h *Handler) RecordAttendanceEvent(c *gin.Context) {
	var submission models.EventSubmission
	if err := c.ShouldBindJSON(&submission); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error: "Invalid request body",
			Code:  models.ErrCodeInvalidRequest,
		})
		return
	}

	// The payload must name the device the credential is bound to;
	// a borrowed key cannot report for another gate.
	deviceID := c.GetString(auth.DeviceIDKey)
	if submission.DeviceID != deviceID {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error: "Device ID does not match authenticated device",
			Code:  models.ErrCodeDeviceMismatch,
		})
		return
	}

	result, err := h.ingestor.Ingest(c.Request.Context(), submission)
	if err != nil {
		h.renderIngestError(c, err, submission.TokenID)
		return
	}

	h.broadcast(result)

	status := http.StatusCreated
	if result.Existing {
		status = http.StatusOK
	}
	c.JSON(status, eventResponse(result))
}

// RecordPINAttendance godoc
// @Summary Record a self-service attendance event
// @Description Clock in or out with an employee number and PIN instead of a token.
// @Tags attendance
// @Accept json
// @Produce json
// @Param X-API-Key header string true "Device API key"
// @Param request body models.PINSubmission true "PIN submission"
// @Success 201 {object} models.AttendanceEventResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 401 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse
// @Router /attendance/pin [post]
func (h *Handler) RecordPINAttendance(c *gin.Context) {
	var submission models.PINSubmission
	if err := c.ShouldBindJSON(&submission); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error: "Invalid request body",
			Code:  models.ErrCodeInvalidRequest,
		})
		return
	}

	deviceID := c.GetString(auth.DeviceIDKey)
	if submission.DeviceID != deviceID {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error: "Device ID does not match authenticated device",
			Code:  models.ErrCodeDeviceMismatch,
		})
		return
	}

	result, err := h.ingestor.IngestPIN(c.Request.Context(), submission)
	if err != nil {
		h.renderIngestError(c, err, "")
		return
	}

	h.broadcast(result)
	c.JSON(http.StatusCreated, eventResponse(result))
}

// GetScanBuffer godoc
// @Summary Read the scan buffer
// @Description Returns the most recently tapped unassigned token, if still fresh. Polled by the enrollment wizard.
// @Tags cards
// @Produce json
// @Success 200 {object} ingest.DetectedToken
// @Success 204 "Buffer empty"
// @Router /cards/scan-buffer [get]
func (h *Handler) GetScanBuffer(c *gin.Context) {
	detected := h.scanBuffer.Get()
	if detected == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, detected)
}

// ClearScanBuffer godoc
// @Summary Clear the scan buffer
// @Tags cards
// @Success 204 "Cleared"
// @Router /cards/scan-buffer [delete]
func (h *Handler) ClearScanBuffer(c *gin.Context) {
	h.scanBuffer.Clear()
	c.Status(http.StatusNoContent)
}

func (h *Handler) renderIngestError(c *gin.Context, err error, tokenID string) {
	switch {
	case errors.Is(err, ingest.ErrTokenUnassigned):
		// Not a failure: the tap was parked for the enrollment wizard.
		c.JSON(http.StatusAccepted, models.ScanModeResponse{
			Status:     models.ScanModeStatus,
			Message:    "Token detected and queued for assignment",
			TokenID:    ingest.NormalizeTokenUID(tokenID),
			DetectedAt: time.Now().UTC(),
		})
	case errors.Is(err, ingest.ErrTokenInactive):
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error: "Token is not active",
			Code:  models.ErrCodeTokenInactive,
		})
	case errors.Is(err, ingest.ErrSubjectInactive):
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error: "Employee is not active",
			Code:  models.ErrCodeSubjectInactive,
		})
	case errors.Is(err, ingest.ErrDuplicateEvent):
		c.JSON(http.StatusConflict, models.ErrorResponse{
			Error: "Duplicate event detected. Please wait before tapping again.",
			Code:  models.ErrCodeDuplicateEvent,
		})
	case errors.Is(err, ingest.ErrInvalidPIN):
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error: "Invalid employee number or PIN",
			Code:  models.ErrCodeInvalidPIN,
		})
	case errors.Is(err, ingest.ErrInvalidClientEventID):
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error: "client_event_id must be a valid UUID",
			Code:  models.ErrCodeInvalidRequest,
		})
	default:
		log.Printf(`{"level":"error","message":"Ingest failed","error":"%v"}`, err)
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error: "Failed to record attendance event",
			Code:  models.ErrCodeInternalError,
		})
	}
}

func (h *Handler) broadcast(result *ingest.Result) {
	if h.feedHub == nil || result.Existing {
		return
	}
	h.feedHub.Broadcast(models.AttendanceFeedEvent{
		Direction:    result.Event.Direction,
		EmployeeName: result.EmployeeName,
		EmployeeNo:   result.EmployeeNo,
		Department:   result.Department,
		Timestamp:    result.Event.EventTimestamp,
		DeviceID:     result.Event.DeviceID,
		Message:      result.Message,
		EntryOrigin:  result.Event.EntryOrigin,
	})
}

// eventResponse builds the wire response field by field. Internal
// record fields that are not part of the contract never leak.
func eventResponse(result *ingest.Result) models.AttendanceEventResponse {
	return models.AttendanceEventResponse{
		ID:             result.Event.ID.String(),
		EmployeeID:     result.Event.EmployeeID.String(),
		EmployeeName:   result.EmployeeName,
		EmployeeNo:     result.EmployeeNo,
		Direction:      result.Event.Direction,
		EventTimestamp: result.Event.EventTimestamp,
		DeviceID:       result.Event.DeviceID,
		EntryOrigin:    result.Event.EntryOrigin,
		Message:        result.Message,
	}
}
