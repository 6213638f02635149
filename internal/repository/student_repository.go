package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/cbt-backend/internal/model"
)

// StudentRepository handles student data access.
type StudentRepository struct {
	pool *pgxpool.Pool
}

// NewStudentRepository creates a new StudentRepository.
func NewStudentRepository(pool *pgxpool.Pool) *StudentRepository {
	return &StudentRepository{pool: pool}
}

const studentColumns = `id, nisn, name, class_name, password_hash, created_at, updated_at`

func scanStudent(row pgx.Row) (*model.Student, error) {
	s := &model.Student{}
	if err := row.Scan(&s.ID, &s.NISN, &s.Name, &s.ClassName, &s.PasswordHash, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	return s, nil
}

// GetByID retrieves a student by ID.
func (r *StudentRepository) GetByID(ctx context.Context, id int) (*model.Student, error) {
	return scanStudent(r.pool.QueryRow(ctx, `SELECT `+studentColumns+` FROM students WHERE id = $1`, id))
}

// GetByNISN retrieves a student by NISN (used for login).
func (r *StudentRepository) GetByNISN(ctx context.Context, nisn string) (*model.Student, error) {
	return scanStudent(r.pool.QueryRow(ctx, `SELECT `+studentColumns+` FROM students WHERE nisn = $1`, nisn))
}

// ListPaginated retrieves students matching the filter, ordered by class and name.
func (r *StudentRepository) ListPaginated(ctx context.Context, f model.StudentFilter, page, perPage int) ([]model.Student, int, error) {
	where := ` WHERE 1=1`
	var args []any
	if f.ClassName != "" {
		args = append(args, f.ClassName)
		where += fmt.Sprintf(" AND class_name = $%d", len(args))
	}
	if f.Search != "" {
		args = append(args, "%"+f.Search+"%")
		where += fmt.Sprintf(" AND (name ILIKE $%d OR nisn ILIKE $%d)", len(args), len(args))
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM students`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, perPage, offset(page, perPage))
	rows, err := r.pool.Query(ctx,
		`SELECT `+studentColumns+` FROM students`+where+
			fmt.Sprintf(" ORDER BY class_name, name LIMIT $%d OFFSET $%d", len(args)-1, len(args)),
		args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	students := []model.Student{}
	for rows.Next() {
		s, err := scanStudent(rows)
		if err != nil {
			return nil, 0, err
		}
		students = append(students, *s)
	}
	return students, total, rows.Err()
}

// Create inserts a new student.
func (r *StudentRepository) Create(ctx context.Context, s *model.Student) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO students (nisn, name, class_name, password_hash)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at, updated_at`,
		s.NISN, s.Name, s.ClassName, s.PasswordHash,
	).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
}

// Upsert inserts a student or updates name, class and password by NISN.
// Returns true when a new row was created.
func (r *StudentRepository) Upsert(ctx context.Context, s *model.Student) (bool, error) {
	var inserted bool
	err := r.pool.QueryRow(ctx,
		`INSERT INTO students (nisn, name, class_name, password_hash)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (nisn) DO UPDATE
		 SET name = EXCLUDED.name, class_name = EXCLUDED.class_name,
		     password_hash = EXCLUDED.password_hash, updated_at = NOW()
		 RETURNING id, created_at, updated_at, (xmax = 0)`,
		s.NISN, s.Name, s.ClassName, s.PasswordHash,
	).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt, &inserted)
	return inserted, err
}

// Update modifies an existing student's profile. An empty PasswordHash keeps
// the stored one.
func (r *StudentRepository) Update(ctx context.Context, s *model.Student) error {
	return r.pool.QueryRow(ctx,
		`UPDATE students
		 SET nisn = $2, name = $3, class_name = $4,
		     password_hash = COALESCE(NULLIF($5, ''), password_hash),
		     updated_at = NOW()
		 WHERE id = $1
		 RETURNING created_at, updated_at`,
		s.ID, s.NISN, s.Name, s.ClassName, s.PasswordHash,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
}

// Delete removes a student.
func (r *StudentRepository) Delete(ctx context.Context, id int) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM students WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
