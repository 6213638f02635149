package service

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/rs/zerolog"
	"github.com/stemsi/cbt-backend/internal/model"
	"github.com/stemsi/cbt-backend/internal/repository"
	"github.com/stemsi/cbt-backend/internal/response"
	"github.com/stemsi/cbt-backend/internal/validator"
)

// ErrDuplicateNISN is returned when another student already uses the NISN.
var ErrDuplicateNISN = errors.New("nisn already registered")

// StudentService handles student account management.
type StudentService struct {
	studentRepo *repository.StudentRepository
	auth        *AuthService
	log         zerolog.Logger
}

// NewStudentService creates a new StudentService.
func NewStudentService(studentRepo *repository.StudentRepository, auth *AuthService, log zerolog.Logger) *StudentService {
	return &StudentService{
		studentRepo: studentRepo,
		auth:        auth,
		log:         log.With().Str("component", "student_service").Logger(),
	}
}

// GetByNISN retrieves a student by their NISN.
func (s *StudentService) GetByNISN(ctx context.Context, nisn string) (*model.Student, error) {
	st, err := s.studentRepo.GetByNISN(ctx, nisn)
	return st, notFound(err)
}

// GetByID retrieves a student by ID.
func (s *StudentService) GetByID(ctx context.Context, id int) (*model.Student, error) {
	st, err := s.studentRepo.GetByID(ctx, id)
	return st, notFound(err)
}

// List retrieves students with pagination and optional filters.
func (s *StudentService) List(ctx context.Context, f model.StudentFilter) ([]model.Student, *response.Pagination, error) {
	page, perPage := pageBounds(f.Page, f.PerPage, 100)

	students, total, err := s.studentRepo.ListPaginated(ctx, f, page, perPage)
	if err != nil {
		return nil, nil, err
	}
	return students, response.NewPagination(page, perPage, total), nil
}

// Create registers a student with a hashed password.
func (s *StudentService) Create(ctx context.Context, req *model.CreateStudentRequest) (*model.Student, error) {
	hash, err := s.auth.HashPassword(req.Password)
	if err != nil {
		return nil, err
	}
	st := &model.Student{
		NISN:         strings.TrimSpace(req.NISN),
		Name:         strings.TrimSpace(req.Name),
		ClassName:    strings.TrimSpace(req.ClassName),
		PasswordHash: hash,
	}
	if err := s.studentRepo.Create(ctx, st); err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, ErrDuplicateNISN
		}
		return nil, err
	}
	return st, nil
}

// Update modifies a student's profile. An empty password keeps the current one.
func (s *StudentService) Update(ctx context.Context, id int, req *model.UpdateStudentRequest) (*model.Student, error) {
	st := &model.Student{
		ID:        id,
		NISN:      strings.TrimSpace(req.NISN),
		Name:      strings.TrimSpace(req.Name),
		ClassName: strings.TrimSpace(req.ClassName),
	}
	if req.Password != "" {
		hash, err := s.auth.HashPassword(req.Password)
		if err != nil {
			return nil, err
		}
		st.PasswordHash = hash
	}
	if err := s.studentRepo.Update(ctx, st); err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, ErrDuplicateNISN
		}
		return nil, notFound(err)
	}
	return st, nil
}

// Delete removes a student. Students with attempts cannot be removed.
func (s *StudentService) Delete(ctx context.Context, id int) error {
	err := s.studentRepo.Delete(ctx, id)
	if repository.IsForeignKeyViolation(err) {
		return ErrHasDependents
	}
	return notFound(err)
}

// ImportResult summarises a CSV import.
type ImportResult struct {
	Created int      `json:"created"`
	Updated int      `json:"updated"`
	Skipped []string `json:"skipped"`
}

// ImportCSV upserts students from CSV rows of nisn,name,class_name,password.
// A header row is detected and skipped. Rows that are incomplete or break
// the rules of a single create are reported in Skipped and do not stop the
// import.
func (s *StudentService) ImportCSV(ctx context.Context, r io.Reader) (*ImportResult, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	res := &ImportResult{Skipped: []string{}}
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return res, fmt.Errorf("line %d: %w", line, err)
		}
		if line == 1 && len(rec) > 0 && strings.EqualFold(strings.TrimSpace(rec[0]), "nisn") {
			continue
		}
		req, reason := parseStudentRecord(rec)
		if reason != "" {
			res.Skipped = append(res.Skipped, fmt.Sprintf("line %d: %s", line, reason))
			continue
		}
		st := &model.Student{NISN: req.NISN, Name: req.Name, ClassName: req.ClassName}
		if st.PasswordHash, err = s.auth.HashPassword(req.Password); err != nil {
			return res, err
		}
		inserted, err := s.studentRepo.Upsert(ctx, st)
		if err != nil {
			return res, fmt.Errorf("line %d: %w", line, err)
		}
		if inserted {
			res.Created++
		} else {
			res.Updated++
		}
	}

	s.log.Info().Int("created", res.Created).Int("updated", res.Updated).Int("skipped", len(res.Skipped)).Msg("Students imported")
	return res, nil
}

// parseStudentRecord turns a CSV row into a create request held to the same
// rules as the REST endpoint. A non-empty reason means the row is skipped.
func parseStudentRecord(rec []string) (*model.CreateStudentRequest, string) {
	if len(rec) < 4 {
		return nil, "expected nisn,name,class_name,password"
	}
	for i := range rec {
		rec[i] = strings.TrimSpace(rec[i])
	}
	req := &model.CreateStudentRequest{NISN: rec[0], Name: rec[1], ClassName: rec[2], Password: rec[3]}
	if fields := validator.Struct(req, "en"); fields != nil {
		msgs := make([]string, 0, len(fields))
		for _, f := range slices.Sorted(maps.Keys(fields)) {
			msgs = append(msgs, fields[f])
		}
		return nil, strings.Join(msgs, "; ")
	}
	return req, ""
}
