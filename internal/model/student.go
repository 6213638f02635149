package model

import "time"

// Student represents a student user.
type Student struct {
	ID           int       `json:"id"`
	NISN         string    `json:"nisn"`
	Name         string    `json:"name"`
	ClassName    string    `json:"class_name"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// StudentLoginRequest is the payload for student authentication.
type StudentLoginRequest struct {
	NISN     string `json:"nisn" binding:"required,min=4,max=20"`
	Password string `json:"password" binding:"required,min=4,max=128"`
}

// StudentLoginResponse is returned after successful student login.
type StudentLoginResponse struct {
	Token   string  `json:"token"`
	Student Student `json:"student"`
}

// CreateStudentRequest is the payload for creating a new student account.
type CreateStudentRequest struct {
	NISN      string `json:"nisn" binding:"required,min=4,max=20"`
	Name      string `json:"name" binding:"required,min=2,max=100"`
	ClassName string `json:"class_name" binding:"omitempty,max=50"`
	Password  string `json:"password" binding:"required,min=6,max=128"`
}

// UpdateStudentRequest is the payload for updating an existing student.
// An empty password keeps the current one.
type UpdateStudentRequest struct {
	NISN      string `json:"nisn" binding:"required,min=4,max=20"`
	Name      string `json:"name" binding:"required,min=2,max=100"`
	ClassName string `json:"class_name" binding:"omitempty,max=50"`
	Password  string `json:"password" binding:"omitempty,min=6,max=128"`
}

// StudentFilter narrows student listings.
type StudentFilter struct {
	Search    string `form:"search" binding:"omitempty,max=100"`
	ClassName string `form:"class_name" binding:"omitempty,max=50"`
	Page      int    `form:"page" binding:"omitempty,min=1"`
	PerPage   int    `form:"per_page" binding:"omitempty,min=1,max=100"`
}
