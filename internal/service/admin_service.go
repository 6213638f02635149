package service

import (
	"context"
	"errors"
	"strings"

	"github.com/stemsi/cbt-backend/internal/model"
	"github.com/stemsi/cbt-backend/internal/repository"
)

// ErrDuplicateEmail is returned when a staff email is already registered.
var ErrDuplicateEmail = errors.New("email already registered")

// AdminService handles staff accounts.
type AdminService struct {
	adminRepo *repository.AdminRepository
	auth      *AuthService
}

// NewAdminService creates a new AdminService.
func NewAdminService(adminRepo *repository.AdminRepository, auth *AuthService) *AdminService {
	return &AdminService{adminRepo: adminRepo, auth: auth}
}

// GetByEmail retrieves a staff account by email.
func (s *AdminService) GetByEmail(ctx context.Context, email string) (*model.Admin, error) {
	a, err := s.adminRepo.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	return a, notFound(err)
}

// GetByID retrieves a staff account by ID.
func (s *AdminService) GetByID(ctx context.Context, id int) (*model.Admin, error) {
	a, err := s.adminRepo.GetByID(ctx, id)
	return a, notFound(err)
}

// Create registers a staff account with a hashed password.
func (s *AdminService) Create(ctx context.Context, email, name, password string, role model.Role) (*model.Admin, error) {
	if !role.Valid() {
		return nil, ErrUnknownRole
	}
	hash, err := s.auth.HashPassword(password)
	if err != nil {
		return nil, err
	}
	a := &model.Admin{
		Email:        strings.ToLower(strings.TrimSpace(email)),
		Name:         strings.TrimSpace(name),
		PasswordHash: hash,
		Role:         role,
	}
	if err := s.adminRepo.Create(ctx, a); err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, ErrDuplicateEmail
		}
		return nil, err
	}
	return a, nil
}
