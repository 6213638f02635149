package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/andybalholm/brotli"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/cbt-backend/internal/config"
	"github.com/stemsi/cbt-backend/internal/i18n"
	"github.com/stemsi/cbt-backend/internal/model"
	"github.com/stemsi/cbt-backend/internal/response"
	"github.com/stemsi/cbt-backend/internal/service"
)

func newAuth(t *testing.T) (*service.AuthService, *config.Config) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	cfg := &config.Config{JWTSecret: "middleware-secret", JWTExpiry: time.Hour, BcryptCost: 4}
	return service.NewAuthService(cfg, rdb), cfg
}

func newEngine(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	if err := i18n.Init("en"); err != nil {
		t.Fatal(err)
	}
	r := gin.New()
	r.Use(response.RequestIDMiddleware(), i18n.Middleware())
	return r
}

func errCode(t *testing.T, w *httptest.ResponseRecorder) response.ErrCode {
	t.Helper()
	var body response.Response
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	if body.Error == nil {
		return ""
	}
	return body.Error.Code
}

func get(r http.Handler, path string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func ok(c *gin.Context) { response.Success(c, http.StatusOK, gin.H{"user": GetClaims(c).UserID}) }

func TestRequireStudentJWT(t *testing.T) {
	auth, cfg := newAuth(t)
	r := newEngine(t)
	r.GET("/student", RequireStudentJWT(auth), CheckSingleDeviceSession(auth, zerolog.Nop()), ok)

	studentToken, err := auth.GenerateStudentToken(context.Background(), 11)
	if err != nil {
		t.Fatal(err)
	}
	adminToken, _, err := auth.GenerateAdminToken(3, model.RoleTeacher)
	if err != nil {
		t.Fatal(err)
	}
	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, service.Claims{
		RegisteredClaims: jwt.RegisteredClaims{ID: "x", ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute))},
		TokenType:        service.TokenTypeStudent,
		UserID:           11,
	}).SignedString([]byte(cfg.JWTSecret))
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		header map[string]string
		query  string
		status int
		code   response.ErrCode
	}{
		{"no token", nil, "", http.StatusUnauthorized, response.ErrTokenRequired},
		{"garbage", map[string]string{"Authorization": "Bearer nope"}, "", http.StatusUnauthorized, response.ErrTokenInvalid},
		{"expired", map[string]string{"Authorization": "Bearer " + expired}, "", http.StatusUnauthorized, response.ErrTokenExpired},
		{"staff token", map[string]string{"Authorization": "Bearer " + adminToken}, "", http.StatusForbidden, response.ErrStudentAccessOnly},
		{"header", map[string]string{"Authorization": "bearer " + studentToken}, "", http.StatusOK, ""},
		{"query fallback", nil, "?token=" + studentToken, http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := get(r, "/student"+tt.query, tt.header)
			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tt.status, w.Body.String())
			}
			if tt.code != "" && errCode(t, w) != tt.code {
				t.Errorf("code = %s, want %s", errCode(t, w), tt.code)
			}
		})
	}

	t.Run("reset session is rejected", func(t *testing.T) {
		if err := auth.ResetStudentSession(context.Background(), 11); err != nil {
			t.Fatal(err)
		}
		w := get(r, "/student", map[string]string{"Authorization": "Bearer " + studentToken})
		if w.Code != http.StatusUnauthorized || errCode(t, w) != response.ErrSessionInvalidated {
			t.Errorf("status = %d, body = %s", w.Code, w.Body.String())
		}
	})
}

func TestRequireStudentWSAuth(t *testing.T) {
	auth, _ := newAuth(t)
	r := newEngine(t)
	r.GET("/ws", RequireStudentWSAuth(auth), ok)

	token, err := auth.GenerateStudentToken(context.Background(), 5)
	if err != nil {
		t.Fatal(err)
	}

	if w := get(r, "/ws", map[string]string{"Authorization": "Bearer " + token}); errCode(t, w) != response.ErrTokenRequired {
		t.Errorf("header token accepted on ws: %s", w.Body.String())
	}
	if w := get(r, "/ws?token="+token, nil); w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	_ = auth.ResetStudentSession(context.Background(), 5)
	if w := get(r, "/ws?token="+token, nil); errCode(t, w) != response.ErrSessionInvalidated {
		t.Errorf("reset session accepted on ws: %s", w.Body.String())
	}
}

func TestRequirePermission(t *testing.T) {
	auth, _ := newAuth(t)
	r := newEngine(t)
	r.GET("/monitor", RequireAdminJWT(auth), RequirePermission(model.PermissionMonitorRead), ok)
	r.GET("/results", RequireAdminJWT(auth), RequireAnyPermission(model.PermissionStudentsWrite, model.PermissionResultsRead), ok)
	r.GET("/scope", RequireAdminJWT(auth), func(c *gin.Context) {
		response.Success(c, http.StatusOK, AuthorScope(c))
	})

	teacher, _, _ := auth.GenerateAdminToken(8, model.RoleTeacher)
	supervisor, _, _ := auth.GenerateAdminToken(9, model.RoleSupervisor)
	admin, _, _ := auth.GenerateAdminToken(1, model.RoleAdmin)
	bearer := func(tok string) map[string]string { return map[string]string{"Authorization": "Bearer " + tok} }

	if w := get(r, "/monitor", bearer(teacher)); w.Code != http.StatusForbidden || errCode(t, w) != response.ErrPermissionDenied {
		t.Errorf("teacher on monitor: %d %s", w.Code, w.Body.String())
	}
	if w := get(r, "/monitor", bearer(supervisor)); w.Code != http.StatusOK {
		t.Errorf("supervisor on monitor: %d", w.Code)
	}
	if w := get(r, "/results", bearer(teacher)); w.Code != http.StatusOK {
		t.Errorf("teacher on results: %d", w.Code)
	}

	scope := func(tok string) string {
		var body struct {
			Data json.Number `json:"data"`
		}
		_ = json.Unmarshal(get(r, "/scope", bearer(tok)).Body.Bytes(), &body)
		return body.Data.String()
	}
	if got := scope(teacher); got != "8" {
		t.Errorf("teacher scope = %s, want own id", got)
	}
	if got := scope(admin); got != "0" {
		t.Errorf("admin scope = %s, want 0", got)
	}
}

func TestRateLimiter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rl := NewRateLimiter(ctx, 2, time.Minute)
	now := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		if ok, _ := rl.Allow("10.0.0.1"); !ok {
			t.Fatalf("request %d rejected", i+1)
		}
	}
	ok, wait := rl.Allow("10.0.0.1")
	if ok || wait != time.Minute {
		t.Errorf("third request = %v, wait %v", ok, wait)
	}
	if ok, _ := rl.Allow("10.0.0.2"); !ok {
		t.Error("other visitor limited")
	}

	now = now.Add(61 * time.Second)
	if ok, _ := rl.Allow("10.0.0.1"); !ok {
		t.Error("bucket not refilled after interval")
	}

	r := newEngine(t)
	r.POST("/login", rl.Middleware(), func(c *gin.Context) { c.Status(http.StatusNoContent) })
	for i := 0; i < 2; i++ {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/login", nil))
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/login", nil))
	if w.Code != http.StatusTooManyRequests || w.Header().Get("Retry-After") == "" {
		t.Errorf("status = %d, retry-after = %q", w.Code, w.Header().Get("Retry-After"))
	}
}

func TestBrotli(t *testing.T) {
	r := newEngine(t)
	r.Use(BrotliWithConfig(BrotliConfig{MinLength: 64}))
	big := strings.Repeat("soal ujian ", 200)
	r.GET("/big", func(c *gin.Context) { c.String(http.StatusOK, big) })
	r.GET("/small", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/png", func(c *gin.Context) { c.Data(http.StatusOK, "image/png", bytes.Repeat([]byte{1}, 500)) })

	accept := map[string]string{"Accept-Encoding": "gzip, br;q=0.9"}

	w := get(r, "/big", accept)
	if w.Header().Get("Content-Encoding") != "br" {
		t.Fatalf("big response not compressed: %v", w.Header())
	}
	plain, err := io.ReadAll(brotli.NewReader(w.Body))
	if err != nil || string(plain) != big {
		t.Errorf("decompressed %d bytes (%v), want %d", len(plain), err, len(big))
	}

	if w := get(r, "/small", accept); w.Header().Get("Content-Encoding") != "" || w.Body.String() != "ok" {
		t.Errorf("small response = %q %v", w.Body.String(), w.Header())
	}
	if w := get(r, "/png", accept); w.Header().Get("Content-Encoding") != "" || w.Body.Len() != 500 {
		t.Errorf("image compressed or truncated: %d bytes %v", w.Body.Len(), w.Header())
	}
	if w := get(r, "/big", nil); w.Header().Get("Content-Encoding") != "" || w.Body.String() != big {
		t.Error("compressed without Accept-Encoding")
	}
}

func TestCacheHeaders(t *testing.T) {
	r := newEngine(t)
	r.GET("/media", CacheControl(24*time.Hour), func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/paper", NoStore(), func(c *gin.Context) { c.Status(http.StatusOK) })

	if got := get(r, "/media", nil).Header().Get("Cache-Control"); got != "public, max-age=86400, immutable" {
		t.Errorf("media cache-control = %q", got)
	}
	if got := get(r, "/paper", nil).Header().Get("Cache-Control"); got != "no-store" {
		t.Errorf("paper cache-control = %q", got)
	}
}

func TestAccessLog(t *testing.T) {
	var buf bytes.Buffer
	r := newEngine(t)
	r.Use(AccessLog(zerolog.New(&buf).Level(zerolog.DebugLevel)))
	r.GET("/exams/:id", func(c *gin.Context) { c.Status(http.StatusNotFound) })

	get(r, "/exams/42", nil)

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line %q: %v", buf.String(), err)
	}
	if line["route"] != "/exams/:id" || line["status"] != float64(404) || line["level"] != "warn" {
		t.Errorf("log = %v", line)
	}
}
