package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/cbt-backend/internal/middleware"
	"github.com/stemsi/cbt-backend/internal/model"
	"github.com/stemsi/cbt-backend/internal/response"
	"github.com/stemsi/cbt-backend/internal/service"
	ws "github.com/stemsi/cbt-backend/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler handles the realtime exam stream.
type WSHandler struct {
	attemptService    *service.AttemptService
	proctoringService *service.ProctoringService
	monitorService    *service.MonitorService
	log               zerolog.Logger
	upgrader          websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(
	attemptService *service.AttemptService,
	proctoringService *service.ProctoringService,
	monitorService *service.MonitorService,
	log zerolog.Logger,
	allowedOrigins []string,
) *WSHandler {
	return &WSHandler{
		attemptService:    attemptService,
		proctoringService: proctoringService,
		monitorService:    monitorService,
		log:               log.With().Str("component", "ws_handler").Logger(),
		upgrader:          buildUpgrader(allowedOrigins),
	}
}

// ExamStream godoc
// WS /ws/v1/student/attempts/:attempt_id/stream
// Carries autosave, submit and proctoring messages for a running attempt and
// pushes time extensions and finalization to the client.
func (h *WSHandler) ExamStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	attemptID, ok := paramUUID(c, "attempt_id")
	if !ok {
		return
	}
	studentID := claims.UserID

	// Refuse before upgrading so the client gets a normal HTTP error.
	meta, err := h.attemptService.LiveMeta(c.Request.Context(), attemptID)
	if err != nil {
		failWith(c, h.log, err)
		return
	}
	if meta.StudentID != studentID {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		return
	}
	if meta.Status != model.AttemptInProgress {
		response.Fail(c, http.StatusConflict, response.ErrAttemptNotActive)
		return
	}

	raw, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	conn := ws.NewConn(raw)

	wsLog := h.log.With().
		Int("student_id", studentID).
		Str("attempt_id", attemptID.String()).
		Logger()
	wsLog.Info().Msg("Student connected")

	ctx, cancel := context.WithCancel(c.Request.Context())
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
		_ = conn.Close(websocket.CloseNormalClosure, "")
		wsLog.Info().Msg("Student disconnected")
	}()

	wg.Add(2)
	go func() {
		defer wg.Done()
		h.pushAttemptEvents(ctx, conn, meta.ExamID, attemptID, wsLog)
	}()
	go func() {
		defer wg.Done()
		keepAlive(ctx, conn)
	}()

	for {
		var req ws.Request
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			}
			return
		}

		switch req.Action {
		case ws.ActionAutosave:
			h.handleAutosave(c, ctx, conn, attemptID, studentID, &req)
		case ws.ActionProctor:
			h.handleProctor(c, ctx, conn, attemptID, studentID, &req)
		case ws.ActionPing:
			h.handlePing(c, ctx, conn, attemptID, studentID, &req)
		case ws.ActionSubmit:
			if h.handleSubmit(c, ctx, conn, attemptID, studentID, &req, wsLog) {
				return
			}
		default:
			wsLog.Warn().Str("action", string(req.Action)).Msg("Unknown action")
			_ = conn.WriteError(req.Seq, string(response.ErrInvalidPayload), "unknown action: "+string(req.Action))
		}
	}
}

// handleAutosave buffers one answer exactly like the REST endpoint.
func (h *WSHandler) handleAutosave(c *gin.Context, ctx context.Context, conn *ws.Conn, attemptID uuid.UUID, studentID int, req *ws.Request) {
	qid, err := uuid.Parse(req.QuestionID)
	if err != nil {
		_ = conn.WriteError(req.Seq, string(response.ErrInvalidID), response.GetMessage(c, response.ErrInvalidID))
		return
	}

	savedAt, err := h.attemptService.SaveAnswer(ctx, attemptID, studentID, &model.SaveAnswerRequest{QuestionID: qid, Answer: req.Answer})
	if err != nil {
		h.writeServiceError(c, conn, req.Seq, err)
		return
	}
	_ = conn.WriteEvent(ws.EventSaved, req.Seq, ws.SavedData{
		QuestionID: req.QuestionID,
		SavedAt:    savedAt.Format(time.RFC3339Nano),
	})
}

func (h *WSHandler) handleProctor(c *gin.Context, ctx context.Context, conn *ws.Conn, attemptID uuid.UUID, studentID int, req *ws.Request) {
	eventType := model.ProctoringEventType(req.EventType)
	if !eventType.Valid() {
		_ = conn.WriteError(req.Seq, string(response.ErrValidation), response.GetMessage(c, response.ErrValidation))
		return
	}

	verdict, err := h.proctoringService.RecordEvent(ctx, attemptID, studentID, &model.RecordEventRequest{
		EventType: req.EventType,
		Detail:    req.Detail,
	})
	if err != nil {
		h.writeServiceError(c, conn, req.Seq, err)
		return
	}
	_ = conn.WriteEvent(ws.EventProctoring, req.Seq, verdict)
}

// handlePing doubles as the presence heartbeat.
func (h *WSHandler) handlePing(c *gin.Context, ctx context.Context, conn *ws.Conn, attemptID uuid.UUID, studentID int, req *ws.Request) {
	_, err := h.proctoringService.RecordEvent(ctx, attemptID, studentID, &model.RecordEventRequest{
		EventType: string(model.EventHeartbeat),
	})
	if err != nil {
		h.writeServiceError(c, conn, req.Seq, err)
		return
	}
	_ = conn.WriteEvent(ws.EventPong, req.Seq, gin.H{"server_time": time.Now().UTC()})
}

// handleSubmit finalizes the attempt. It reports whether the stream is done.
func (h *WSHandler) handleSubmit(c *gin.Context, ctx context.Context, conn *ws.Conn, attemptID uuid.UUID, studentID int, req *ws.Request, wsLog zerolog.Logger) bool {
	a, err := h.attemptService.Submit(ctx, attemptID, studentID)
	if err != nil {
		h.writeServiceError(c, conn, req.Seq, err)
		return false
	}
	wsLog.Info().Str("status", string(a.Status)).Str("grading_status", string(a.GradingStatus)).Msg("Attempt submitted")

	_ = conn.WriteEvent(ws.EventSubmitted, req.Seq, gin.H{
		"attempt_id":     a.ID,
		"status":         a.Status,
		"grading_status": a.GradingStatus,
	})
	return true
}

func (h *WSHandler) writeServiceError(c *gin.Context, conn *ws.Conn, seq int64, err error) {
	status, code := lookupError(err)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Msg("WebSocket action failed")
	}
	_ = conn.WriteError(seq, string(code), response.GetMessage(c, code))
}

// pushAttemptEvents forwards monitor channel events about this attempt.
// Finalization closes the socket, which ends the read loop.
func (h *WSHandler) pushAttemptEvents(ctx context.Context, conn *ws.Conn, examID, attemptID uuid.UUID, wsLog zerolog.Logger) {
	pubsub := h.monitorService.Subscribe(ctx, examID)
	defer pubsub.Close()
	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, open := <-ch:
			if !open {
				return
			}
			var ev model.MonitorEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil || ev.AttemptID != attemptID {
				continue
			}
			switch ev.Type {
			case "time_extended":
				_ = conn.WriteEvent(ws.EventTimeExtended, 0, ev.Data)
			case "attempt_finalized":
				_ = conn.WriteEvent(ws.EventFinalized, 0, ev.Data)
				wsLog.Info().Msg("Attempt finalized, closing stream")
				_ = conn.Close(websocket.CloseNormalClosure, "attempt finalized")
				return
			}
		}
	}
}

func keepAlive(ctx context.Context, conn *ws.Conn) {
	t := time.NewTicker(ws.PingPeriod)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := conn.Ping(); err != nil {
				return
			}
		}
	}
}
