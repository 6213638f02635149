package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/cbt-backend/internal/config"
	"github.com/stemsi/cbt-backend/internal/database"
	"github.com/stemsi/cbt-backend/internal/handler"
	"github.com/stemsi/cbt-backend/internal/i18n"
	"github.com/stemsi/cbt-backend/internal/logger"
	"github.com/stemsi/cbt-backend/internal/repository"
	"github.com/stemsi/cbt-backend/internal/router"
	"github.com/stemsi/cbt-backend/internal/service"
	"github.com/stemsi/cbt-backend/internal/validator"
	"github.com/stemsi/cbt-backend/internal/worker"
)

// finalizeConsumers is the number of parallel finalize job consumers.
const finalizeConsumers = 4

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Msg("Starting CBT Backend")

	// ─── Initialize Validator and Locales ──────────────────────────────
	validator.Setup()
	if err := i18n.Init(cfg.DefaultLocale); err != nil {
		log.Fatal().Err(err).Str("locale", cfg.DefaultLocale).Msg("Failed to load locales")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Initialize Repositories ───────────────────────────────────────
	tx := repository.NewTxRunner(pool)
	studentRepo := repository.NewStudentRepository(pool)
	adminRepo := repository.NewAdminRepository(pool)
	examRepo := repository.NewExamRepository(pool)
	questionRepo := repository.NewQuestionRepository(pool)
	attemptRepo := repository.NewAttemptRepository(pool)
	answerRepo := repository.NewAnswerRepository(pool)
	rubricRepo := repository.NewRubricRepository(pool)
	proctorRepo := repository.NewProctoringRepository(pool)
	monitorRepo := repository.NewMonitorRepository(pool, rdb)
	dashboardRepo := repository.NewDashboardRepository(pool)

	// ─── Initialize Services ──────────────────────────────────────────
	examCache := service.NewExamCache(rdb)
	attemptCache := service.NewAttemptCache(rdb)

	authService := service.NewAuthService(cfg, rdb)
	studentService := service.NewStudentService(studentRepo, authService, log)
	adminService := service.NewAdminService(adminRepo, authService)
	examService := service.NewExamService(examRepo, questionRepo, examCache, log)
	questionService := service.NewQuestionService(examService, questionRepo, rubricRepo, tx)
	attemptService := service.NewAttemptService(cfg, examRepo, questionRepo, attemptRepo, answerRepo, proctorRepo, tx, examCache, attemptCache, log)
	gradingService := service.NewGradingService(examService, rubricRepo, answerRepo, attemptRepo, questionRepo, tx, log)
	proctoringService := service.NewProctoringService(attemptService, examService, proctorRepo, attemptCache, rdb, log)
	monitorService := service.NewMonitorService(examService, monitorRepo, rdb, log)
	reportService := service.NewReportService(examService, attemptRepo, answerRepo, log)
	mediaService := service.NewMediaService(cfg)
	dashboardService := service.NewDashboardService(dashboardRepo, log)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Auth:          handler.NewAuthHandler(authService, studentService, adminService, log),
		StudentPortal: handler.NewStudentPortalHandler(attemptService, log),
		StudentMgmt:   handler.NewStudentManagementHandler(studentService, authService, log),
		Exam:          handler.NewExamHandler(examService, log),
		Question:      handler.NewQuestionHandler(questionService, log),
		Attempt:       handler.NewAttemptHandler(attemptService, log),
		Grading:       handler.NewGradingHandler(gradingService, log),
		Proctoring:    handler.NewProctoringHandler(proctoringService, log),
		Monitor:       handler.NewMonitorHandler(monitorService, log),
		Report:        handler.NewReportHandler(reportService, log),
		Media:         handler.NewMediaHandler(mediaService, log),
		Dashboard:     handler.NewDashboardHandler(dashboardService, log),
		WS:            handler.NewWSHandler(attemptService, proctoringService, monitorService, log, cfg.AllowedOrigins),
		System:        handler.NewSystemHandler(pool, rdb, log),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	var workers sync.WaitGroup

	starters := []func(context.Context){
		worker.NewAutosaveWorker(answerRepo, rdb, log).Start,
		worker.NewProctoringWorker(proctorRepo, attemptCache, rdb, log).Start,
		worker.NewFinalizeWorker(attemptService, rdb, finalizeConsumers, log).Start,
		worker.NewExpiryWorker(attemptService, cfg.ExpirySweep, log).Start,
	}
	for _, start := range starters {
		workers.Add(1)
		go func() {
			defer workers.Done()
			start(workerCtx)
		}()
	}

	// ─── Prewarm Redis Caches ─────────────────────────────────────────
	// Load all published exams into Redis BEFORE accepting traffic.
	if err := examService.PrewarmAllCaches(ctx); err != nil {
		log.Warn().Err(err).Msg("Cache prewarm failed")
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(ctx, authService, handlers, cfg, log)

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop background workers; each drains its in-flight batch.
	workerCancel()
	done := make(chan struct{})
	go func() {
		workers.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		log.Warn().Msg("Workers did not stop before the shutdown deadline")
	}

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
