package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/cbt-backend/internal/config"
	"github.com/stemsi/cbt-backend/internal/model"
	"golang.org/x/crypto/bcrypt"
)

// Common auth errors.
var (
	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrSessionAlreadyActive = errors.New("another session is already active, please contact a supervisor to reset")
	ErrSessionInvalidated   = errors.New("session invalidated")
	ErrUnknownRole          = errors.New("unknown staff role")
)

// TokenType distinguishes student vs admin tokens.
type TokenType string

const (
	TokenTypeStudent TokenType = "student"
	TokenTypeAdmin   TokenType = "admin"
)

// Claims extends JWT standard claims with app-specific fields.
type Claims struct {
	jwt.RegisteredClaims
	TokenType   TokenType  `json:"token_type"`
	UserID      int        `json:"user_id"`
	Role        model.Role `json:"role,omitempty"`        // Admin only
	Permissions []string   `json:"permissions,omitempty"` // Admin only
}

// HasPermission reports whether the token grants code.
func (c *Claims) HasPermission(code model.Permission) bool {
	for _, p := range c.Permissions {
		if p == string(code) {
			return true
		}
	}
	return false
}

// AuthService handles authentication, JWT, and session management.
type AuthService struct {
	cfg *config.Config
	rdb *redis.Client
}

// NewAuthService creates a new AuthService.
func NewAuthService(cfg *config.Config, rdb *redis.Client) *AuthService {
	return &AuthService{cfg: cfg, rdb: rdb}
}

// HashPassword hashes a password with the configured bcrypt cost.
func (s *AuthService) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cfg.BcryptCost)
	return string(hash), err
}

// CheckPassword compares a plaintext password against a bcrypt hash.
func (s *AuthService) CheckPassword(hash, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// GenerateStudentToken creates a JWT for a student and registers the session in Redis.
// A second login while a session is registered is rejected.
func (s *AuthService) GenerateStudentToken(ctx context.Context, studentID int) (string, error) {
	jti := uuid.New().String()
	now := time.Now()

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   strconv.Itoa(studentID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.JWTExpiry)),
		},
		TokenType: TokenTypeStudent,
		UserID:    studentID,
	}

	signed, err := s.sign(claims)
	if err != nil {
		return "", err
	}

	// SETNX makes check-and-register a single step so two parallel logins
	// cannot both win.
	ok, err := s.rdb.SetNX(ctx, config.CacheKey.StudentSessionKey(studentID), jti, s.cfg.JWTExpiry).Result()
	if err != nil {
		return "", fmt.Errorf("store session: %w", err)
	}
	if !ok {
		return "", ErrSessionAlreadyActive
	}

	return signed, nil
}

// GenerateAdminToken creates a JWT for a staff member with the role's permissions embedded.
func (s *AuthService) GenerateAdminToken(adminID int, role model.Role) (string, []string, error) {
	if !role.Valid() {
		return "", nil, fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
	now := time.Now()
	permissions := role.Permissions()

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   strconv.Itoa(adminID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.JWTExpiry)),
		},
		TokenType:   TokenTypeAdmin,
		UserID:      adminID,
		Role:        role,
		Permissions: permissions,
	}

	signed, err := s.sign(claims)
	if err != nil {
		return "", nil, err
	}
	return signed, permissions, nil
}

func (s *AuthService) sign(claims Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses and validates a JWT, returning the claims.
func (s *AuthService) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}

	return claims, nil
}

// ValidateStudentSession checks that the token's JTI matches the active session in Redis.
func (s *AuthService) ValidateStudentSession(ctx context.Context, studentID int, jti string) error {
	stored, err := s.rdb.Get(ctx, config.CacheKey.StudentSessionKey(studentID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrSessionInvalidated
		}
		return fmt.Errorf("check session: %w", err)
	}
	if stored != jti {
		return ErrSessionInvalidated
	}
	return nil
}

// ResetStudentSession removes a student's session from Redis, allowing a new login.
func (s *AuthService) ResetStudentSession(ctx context.Context, studentID int) error {
	return s.rdb.Del(ctx, config.CacheKey.StudentSessionKey(studentID)).Err()
}
