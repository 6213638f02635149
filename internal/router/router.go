package router

import (
	"context"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/cbt-backend/internal/config"
	"github.com/stemsi/cbt-backend/internal/handler"
	"github.com/stemsi/cbt-backend/internal/i18n"
	"github.com/stemsi/cbt-backend/internal/middleware"
	"github.com/stemsi/cbt-backend/internal/model"
	"github.com/stemsi/cbt-backend/internal/response"
	"github.com/stemsi/cbt-backend/internal/service"
)

// uploadMaxAge is the browser cache lifetime of uploaded media.
const uploadMaxAge = 365 * 24 * time.Hour

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Auth          *handler.AuthHandler
	StudentPortal *handler.StudentPortalHandler
	StudentMgmt   *handler.StudentManagementHandler
	Exam          *handler.ExamHandler
	Question      *handler.QuestionHandler
	Attempt       *handler.AttemptHandler
	Grading       *handler.GradingHandler
	Proctoring    *handler.ProctoringHandler
	Monitor       *handler.MonitorHandler
	Report        *handler.ReportHandler
	Media         *handler.MediaHandler
	Dashboard     *handler.DashboardHandler
	WS            *handler.WSHandler
	System        *handler.SystemHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
// ctx bounds background work owned by the router such as the login limiter.
func SetupRouter(
	ctx context.Context,
	authService *service.AuthService,
	handlers *Handlers,
	cfg *config.Config,
	log zerolog.Logger,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "Accept-Language", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID", "Retry-After", "Content-Disposition"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	router.Use(
		response.RequestIDMiddleware(),
		i18n.Middleware(),
		middleware.AccessLog(log),
		middleware.Brotli(),
	)

	uploads := router.Group("/uploads")
	uploads.Use(middleware.CacheControl(uploadMaxAge))
	{
		uploads.Static("/", cfg.UploadDir)
	}

	router.GET("/healthz", handlers.System.Health)

	// ─── 1. Auth Group (Public, Rate Limited) ──────────────────────────
	loginLimiter := middleware.NewRateLimiter(ctx, cfg.LoginRate, time.Minute)

	auth := router.Group("/api/v1/auth")
	{
		auth.POST("/student/login", loginLimiter.Middleware(), handlers.Auth.StudentLogin)
		auth.POST("/admin/login", loginLimiter.Middleware(), handlers.Auth.AdminLogin)

		auth.POST("/student/logout", middleware.RequireStudentJWT(authService), handlers.Auth.StudentLogout)
		auth.GET("/student/me",
			middleware.RequireStudentJWT(authService),
			middleware.CheckSingleDeviceSession(authService, log),
			handlers.Auth.GetStudentProfile,
		)
		auth.GET("/admin/me", middleware.RequireAdminJWT(authService), handlers.Auth.GetAdminProfile)
	}

	// ─── 2. Student Group (JWT + Single Device) ────────────────────────
	studentAPI := router.Group("/api/v1/student")
	studentAPI.Use(
		middleware.RequireStudentJWT(authService),
		middleware.CheckSingleDeviceSession(authService, log),
	)
	{
		studentAPI.GET("/lobby", handlers.StudentPortal.GetLobby)
		studentAPI.POST("/exams/:exam_id/join", handlers.StudentPortal.JoinExam)

		attempts := studentAPI.Group("/attempts/:attempt_id")
		{
			attempts.POST("/start", handlers.StudentPortal.StartAttempt)
			attempts.GET("/paper", middleware.NoStore(), handlers.StudentPortal.GetPaper)
			attempts.GET("/state", middleware.NoStore(), handlers.StudentPortal.GetState)
			attempts.PUT("/answers", handlers.StudentPortal.SaveAnswer)
			attempts.POST("/submit", handlers.StudentPortal.SubmitAttempt)
			attempts.GET("/result", middleware.NoStore(), handlers.StudentPortal.GetResult)
			attempts.POST("/events", handlers.Proctoring.RecordEvent)
		}
	}

	// ─── 3. WebSocket Group (Student WS Auth) ──────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireStudentWSAuth(authService))
	{
		ws.GET("/student/attempts/:attempt_id/stream", handlers.WS.ExamStream)
	}

	// ─── 4. Admin Group (JWT + RBAC) ───────────────────────────────────
	adminAPI := router.Group("/api/v1/admin")
	adminAPI.Use(middleware.RequireAdminJWT(authService))
	{
		writeExams := middleware.RequireAnyPermission(model.PermissionExamsWriteOwn, model.PermissionExamsWriteAll)

		adminAPI.POST("/media/upload",
			middleware.RequirePermission(model.PermissionMediaUpload),
			handlers.Media.UploadMedia,
		)

		// Student management
		adminAPI.GET("/students",
			middleware.RequirePermission(model.PermissionStudentsRead),
			handlers.StudentMgmt.ListStudents,
		)
		adminAPI.GET("/students/:id",
			middleware.RequirePermission(model.PermissionStudentsRead),
			handlers.StudentMgmt.GetStudent,
		)
		adminAPI.POST("/students",
			middleware.RequirePermission(model.PermissionStudentsWrite),
			handlers.StudentMgmt.CreateStudent,
		)
		adminAPI.POST("/students/import",
			middleware.RequirePermission(model.PermissionStudentsWrite),
			handlers.StudentMgmt.ImportStudents,
		)
		adminAPI.PUT("/students/:id",
			middleware.RequirePermission(model.PermissionStudentsWrite),
			handlers.StudentMgmt.UpdateStudent,
		)
		adminAPI.DELETE("/students/:id",
			middleware.RequirePermission(model.PermissionStudentsWrite),
			handlers.StudentMgmt.DeleteStudent,
		)
		adminAPI.POST("/students/:id/reset-session",
			middleware.RequirePermission(model.PermissionStudentsResetSession),
			handlers.StudentMgmt.ResetStudentSession,
		)

		// Exam management
		adminAPI.GET("/exams",
			middleware.RequirePermission(model.PermissionExamsRead),
			handlers.Exam.ListExams,
		)
		adminAPI.POST("/exams", writeExams, handlers.Exam.CreateExam)
		adminAPI.GET("/exams/:exam_id",
			middleware.RequirePermission(model.PermissionExamsRead),
			handlers.Exam.GetExam,
		)
		adminAPI.PATCH("/exams/:exam_id", writeExams, handlers.Exam.UpdateExam)
		adminAPI.DELETE("/exams/:exam_id", writeExams, handlers.Exam.DeleteExam)
		adminAPI.POST("/exams/:exam_id/publish",
			middleware.RequirePermission(model.PermissionExamsPublish),
			handlers.Exam.PublishExam,
		)
		adminAPI.POST("/exams/:exam_id/archive",
			middleware.RequirePermission(model.PermissionExamsPublish),
			handlers.Exam.ArchiveExam,
		)
		adminAPI.POST("/exams/:exam_id/refresh-cache",
			middleware.RequirePermission(model.PermissionExamsPublish),
			handlers.Exam.RefreshExamCache,
		)

		// Question management
		adminAPI.GET("/exams/:exam_id/questions",
			middleware.RequirePermission(model.PermissionExamsRead),
			handlers.Question.ListQuestions,
		)
		adminAPI.POST("/exams/:exam_id/questions", writeExams, handlers.Question.AddQuestion)
		adminAPI.PUT("/exams/:exam_id/questions", writeExams, handlers.Question.ReplaceQuestions)
		adminAPI.PUT("/exams/:exam_id/questions/:question_id", writeExams, handlers.Question.UpdateQuestion)
		adminAPI.DELETE("/exams/:exam_id/questions/:question_id", writeExams, handlers.Question.DeleteQuestion)

		// Rubrics and grading
		adminAPI.GET("/exams/:exam_id/rubrics",
			middleware.RequireAnyPermission(model.PermissionGradingWrite, model.PermissionExamsRead),
			handlers.Grading.ListRubrics,
		)
		adminAPI.GET("/exams/:exam_id/rubrics/:rubric_id",
			middleware.RequireAnyPermission(model.PermissionGradingWrite, model.PermissionExamsRead),
			handlers.Grading.GetRubric,
		)
		adminAPI.POST("/exams/:exam_id/rubrics",
			middleware.RequirePermission(model.PermissionGradingWrite),
			handlers.Grading.CreateRubric,
		)
		adminAPI.PUT("/exams/:exam_id/rubrics/:rubric_id",
			middleware.RequirePermission(model.PermissionGradingWrite),
			handlers.Grading.ReplaceRubric,
		)
		adminAPI.DELETE("/exams/:exam_id/rubrics/:rubric_id",
			middleware.RequirePermission(model.PermissionGradingWrite),
			handlers.Grading.DeleteRubric,
		)
		adminAPI.GET("/exams/:exam_id/grading/pending",
			middleware.RequirePermission(model.PermissionGradingWrite),
			handlers.Grading.PendingAnswers,
		)
		adminAPI.GET("/attempts/:attempt_id/answers",
			middleware.RequireAnyPermission(model.PermissionGradingWrite, model.PermissionResultsRead),
			handlers.Grading.AttemptGrades,
		)
		adminAPI.PUT("/answers/:answer_id/grade",
			middleware.RequirePermission(model.PermissionGradingWrite),
			handlers.Grading.GradeAnswer,
		)

		// Results and reports
		adminAPI.GET("/exams/:exam_id/results",
			middleware.RequirePermission(model.PermissionResultsRead),
			handlers.Attempt.ListResults,
		)
		adminAPI.GET("/exams/:exam_id/results/export",
			middleware.RequirePermission(model.PermissionResultsRead),
			handlers.Report.ExportResults,
		)
		adminAPI.GET("/attempts/:attempt_id",
			middleware.RequireAnyPermission(model.PermissionResultsRead, model.PermissionMonitorRead),
			handlers.Attempt.GetAttempt,
		)
		adminAPI.GET("/attempts/:attempt_id/slip",
			middleware.RequirePermission(model.PermissionResultsRead),
			handlers.Report.AttemptSlip,
		)

		// Live supervision
		adminAPI.GET("/exams/:exam_id/monitor",
			middleware.RequirePermission(model.PermissionMonitorRead),
			handlers.Monitor.GetSnapshot,
		)
		adminAPI.GET("/exams/:exam_id/monitor/stream",
			middleware.RequirePermission(model.PermissionMonitorRead),
			handlers.Monitor.StreamSSE,
		)
		adminAPI.POST("/attempts/:attempt_id/extend",
			middleware.RequirePermission(model.PermissionAttemptsControl),
			handlers.Attempt.ExtendTime,
		)
		adminAPI.POST("/attempts/:attempt_id/terminate",
			middleware.RequirePermission(model.PermissionAttemptsControl),
			handlers.Attempt.Terminate,
		)
		adminAPI.GET("/attempts/:attempt_id/proctoring",
			middleware.RequirePermission(model.PermissionProctoringRead),
			handlers.Proctoring.GetSession,
		)
		adminAPI.GET("/attempts/:attempt_id/proctoring/events",
			middleware.RequirePermission(model.PermissionProctoringRead),
			handlers.Proctoring.ListEvents,
		)

		// Open to all staff.
		adminAPI.GET("/dashboard", handlers.Dashboard.GetDashboard)

		// System
		adminAPI.GET("/system/stats",
			middleware.RequireAnyPermission(model.PermissionMonitorRead, model.PermissionExamsWriteAll),
			handlers.System.Stats,
		)
	}

	return router
}
