package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/cbt-backend/internal/model"
	"github.com/stemsi/cbt-backend/internal/response"
	"github.com/stemsi/cbt-backend/internal/service"
)

const (
	refreshInterval   = 15 * time.Second
	keepAliveInterval = 30 * time.Second
	refreshTimeout    = 5 * time.Second // prevent slow queries from blocking the SSE loop
)

type MonitorHandler struct {
	monitorService *service.MonitorService
	log            zerolog.Logger
}

func NewMonitorHandler(monitorService *service.MonitorService, log zerolog.Logger) *MonitorHandler {
	return &MonitorHandler{
		monitorService: monitorService,
		log:            log.With().Str("component", "monitor_handler").Logger(),
	}
}

// GetSnapshot godoc
// GET /api/v1/admin/exams/:exam_id/monitor
// Returns the live state of every attempt. Polled by dashboards that do
// not hold an SSE connection.
func (h *MonitorHandler) GetSnapshot(c *gin.Context) {
	examID, ok := paramUUID(c, "exam_id")
	if !ok {
		return
	}

	snap, err := h.monitorService.Snapshot(c.Request.Context(), examID)
	if err != nil {
		failWith(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, snap)
}

// StreamSSE godoc
// GET /api/v1/admin/exams/:exam_id/monitor/stream
// Sends a snapshot, then forwards monitor channel events as they happen and
// a fresh snapshot every refreshInterval while anything is happening.
func (h *MonitorHandler) StreamSSE(c *gin.Context) {
	examID, ok := paramUUID(c, "exam_id")
	if !ok {
		return
	}
	reqCtx := c.Request.Context()

	snap, err := h.monitorService.Snapshot(reqCtx, examID)
	if err != nil {
		failWith(c, h.log, err)
		return
	}

	pubsub := h.monitorService.Subscribe(reqCtx, examID)
	defer pubsub.Close()
	ch := pubsub.Channel()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	c.SSEvent("snapshot", snap)
	c.Writer.Flush()

	keepAliveTicker := time.NewTicker(keepAliveInterval)
	defer keepAliveTicker.Stop()
	refreshTicker := time.NewTicker(refreshInterval)
	defer refreshTicker.Stop()

	// Skip refreshes while nothing happens; any event proves activity.
	active := snap.Totals[model.AttemptInProgress] > 0

	h.log.Info().Str("exam_id", examID.String()).Msg("Supervisor attached to live monitor")

	for {
		select {
		case <-reqCtx.Done():
			h.log.Info().Str("exam_id", examID.String()).Msg("Supervisor detached from live monitor")
			return

		case msg, open := <-ch:
			if !open {
				return
			}
			// Payloads are already JSON; forward without decoding.
			c.SSEvent("event", json.RawMessage(msg.Payload))
			c.Writer.Flush()
			active = true

		case <-refreshTicker.C:
			if !active {
				continue
			}
			next, ok := h.refresh(reqCtx, examID)
			if !ok {
				continue
			}
			snap = next
			c.SSEvent("snapshot", snap)
			c.Writer.Flush()
			active = snap.Totals[model.AttemptInProgress] > 0

		case <-keepAliveTicker.C:
			c.SSEvent("ping", gin.H{"at": time.Now().UTC()})
			c.Writer.Flush()
		}
	}
}

func (h *MonitorHandler) refresh(parent context.Context, examID uuid.UUID) (*model.MonitorSnapshot, bool) {
	ctx, cancel := context.WithTimeout(parent, refreshTimeout)
	defer cancel()

	s, err := h.monitorService.Snapshot(ctx, examID)
	if err != nil {
		h.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Monitor refresh failed")
		return nil, false
	}
	return s, true
}
