// Package repository persists companies, campaigns and delivery bookkeeping.
// The raw SQL repositories run on pgx; the profile store runs on GORM.
package repository

import (
	"errors"

	"github.com/jackc/pgx/v5"
)

// ErrNotFound is returned when a lookup by id matches no row.
var ErrNotFound = errors.New("not found")

func notFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
