package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/cbt-backend/internal/config"
	"github.com/stemsi/cbt-backend/internal/model"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return mr, rdb
}

func testConfig() *config.Config {
	return &config.Config{
		JWTSecret:   "test-secret",
		JWTExpiry:   time.Hour,
		BcryptCost:  4,
		SubmitGrace: 30 * time.Second,
	}
}

func TestAuthService_HashAndCheckPassword(t *testing.T) {
	s := NewAuthService(testConfig(), nil)

	hash, err := s.HashPassword("rahasia123")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if err := s.CheckPassword(hash, "rahasia123"); err != nil {
		t.Errorf("CheckPassword(correct) = %v, want nil", err)
	}
	if err := s.CheckPassword(hash, "salah"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("CheckPassword(wrong) = %v, want ErrInvalidCredentials", err)
	}
}

func TestAuthService_StudentSingleSession(t *testing.T) {
	mr, rdb := newTestRedis(t)
	s := NewAuthService(testConfig(), rdb)
	ctx := context.Background()

	token, err := s.GenerateStudentToken(ctx, 42)
	if err != nil {
		t.Fatalf("first login: %v", err)
	}

	if _, err := s.GenerateStudentToken(ctx, 42); !errors.Is(err, ErrSessionAlreadyActive) {
		t.Fatalf("second login = %v, want ErrSessionAlreadyActive", err)
	}

	claims, err := s.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.TokenType != TokenTypeStudent || claims.UserID != 42 {
		t.Errorf("claims = %+v", claims)
	}
	if err := s.ValidateStudentSession(ctx, 42, claims.ID); err != nil {
		t.Errorf("ValidateStudentSession: %v", err)
	}
	if err := s.ValidateStudentSession(ctx, 42, "other-jti"); !errors.Is(err, ErrSessionInvalidated) {
		t.Errorf("ValidateStudentSession(other jti) = %v, want ErrSessionInvalidated", err)
	}

	ttl := mr.TTL(config.CacheKey.StudentSessionKey(42))
	if ttl <= 0 || ttl > time.Hour {
		t.Errorf("session ttl = %v, want (0, 1h]", ttl)
	}

	if err := s.ResetStudentSession(ctx, 42); err != nil {
		t.Fatalf("ResetStudentSession: %v", err)
	}
	if err := s.ValidateStudentSession(ctx, 42, claims.ID); !errors.Is(err, ErrSessionInvalidated) {
		t.Errorf("after reset = %v, want ErrSessionInvalidated", err)
	}
	if _, err := s.GenerateStudentToken(ctx, 42); err != nil {
		t.Errorf("login after reset: %v", err)
	}
}

func TestAuthService_AdminTokenCarriesRolePermissions(t *testing.T) {
	s := NewAuthService(testConfig(), nil)

	token, perms, err := s.GenerateAdminToken(7, model.RoleSupervisor)
	if err != nil {
		t.Fatalf("GenerateAdminToken: %v", err)
	}
	claims, err := s.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.TokenType != TokenTypeAdmin || claims.Role != model.RoleSupervisor {
		t.Errorf("claims = %+v", claims)
	}
	if len(perms) != len(claims.Permissions) {
		t.Errorf("returned %d permissions, token has %d", len(perms), len(claims.Permissions))
	}
	if !claims.HasPermission(model.PermissionAttemptsControl) {
		t.Error("supervisor token should grant attempts:control")
	}
	if claims.HasPermission(model.PermissionExamsWriteOwn) {
		t.Error("supervisor token should not grant exams:write_own")
	}

	if _, _, err := s.GenerateAdminToken(7, model.Role("janitor")); !errors.Is(err, ErrUnknownRole) {
		t.Errorf("unknown role = %v, want ErrUnknownRole", err)
	}
}

func TestAuthService_ValidateTokenRejectsForeignSecret(t *testing.T) {
	s := NewAuthService(testConfig(), nil)
	token, _, err := s.GenerateAdminToken(1, model.RoleAdmin)
	if err != nil {
		t.Fatal(err)
	}

	other := testConfig()
	other.JWTSecret = "another-secret"
	if _, err := NewAuthService(other, nil).ValidateToken(token); err == nil {
		t.Error("token signed with a different secret must not validate")
	}
}
