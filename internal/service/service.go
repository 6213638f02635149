package service

import (
	"errors"

	"github.com/jackc/pgx/v5"
)

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrHasDependents is returned when a record is still referenced elsewhere.
	ErrHasDependents = errors.New("record is still referenced")
)

// notFound maps pgx.ErrNoRows to ErrNotFound and passes other errors through.
func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// pageBounds clamps the page parameters of a listing.
func pageBounds(page, perPage, maxPerPage int) (int, int) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 10
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}
	return page, perPage
}
