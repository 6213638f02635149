package handler

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/cbt-backend/internal/config"
	"github.com/stemsi/cbt-backend/internal/response"
	"golang.org/x/sync/errgroup"
)

const healthTimeout = 2 * time.Second

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SystemHandler reports liveness and worker backlog.
type SystemHandler struct {
	db        Pinger
	rdb       *redis.Client
	startTime time.Time
	log       zerolog.Logger
}

func NewSystemHandler(db Pinger, rdb *redis.Client, log zerolog.Logger) *SystemHandler {
	return &SystemHandler{
		db:        db,
		rdb:       rdb,
		startTime: time.Now(),
		log:       log.With().Str("component", "system_handler").Logger(),
	}
}

// Health godoc
// GET /healthz
// Pings PostgreSQL and Redis. Returns 503 when either is unreachable.
func (h *SystemHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	status := gin.H{"postgres": "ok", "redis": "ok"}
	healthy := true
	if err := h.db.Ping(ctx); err != nil {
		status["postgres"] = err.Error()
		healthy = false
	}
	if err := h.rdb.Ping(ctx).Err(); err != nil {
		status["redis"] = err.Error()
		healthy = false
	}

	if !healthy {
		h.log.Warn().Interface("status", status).Msg("Health check failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "checks": status})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "checks": status})
}

type systemStats struct {
	Uptime     string `json:"uptime"`
	GoVersion  string `json:"go_version"`
	NumCPU     int    `json:"num_cpu"`
	Goroutines int    `json:"goroutines"`
	HeapAlloc  uint64 `json:"heap_alloc"`
	HeapSys    uint64 `json:"heap_sys"`
	NumGC      uint32 `json:"num_gc"`

	// Worker queues
	QueueAnswers    int64 `json:"queue_answers"`
	QueueProctoring int64 `json:"queue_proctoring"`
	QueueFinalize   int64 `json:"queue_finalize"`
}

// Stats godoc
// GET /api/v1/admin/system/stats
// Returns runtime figures and the depth of each worker queue.
func (h *SystemHandler) Stats(c *gin.Context) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	out := systemStats{
		Uptime:     time.Since(h.startTime).Round(time.Second).String(),
		GoVersion:  runtime.Version(),
		NumCPU:     runtime.NumCPU(),
		Goroutines: runtime.NumGoroutine(),
		HeapAlloc:  m.HeapAlloc,
		HeapSys:    m.HeapSys,
		NumGC:      m.NumGC,
	}

	g, ctx := errgroup.WithContext(c.Request.Context())
	queues := []struct {
		name string
		dst  *int64
	}{
		{config.WorkerKey.PersistAnswersQueue, &out.QueueAnswers},
		{config.WorkerKey.PersistProctoringQueue, &out.QueueProctoring},
		{config.WorkerKey.FinalizeAttemptsQueue, &out.QueueFinalize},
	}
	for _, q := range queues {
		g.Go(func() error {
			n, err := h.rdb.LLen(ctx, q.name).Result()
			*q.dst = n
			return err
		})
	}
	if err := g.Wait(); err != nil {
		failWith(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, out)
}
