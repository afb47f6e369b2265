package db

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	// PostgreSQL (error code 23505)
	if strings.Contains(err.Error(), "duplicate key value violates unique constraint") {
		return true
	}

	// SQLite (error code 2067)
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return true
	}

	return false
}

// IsMissingColumnErr reports whether err indicates a referenced column
// does not exist, which means the read model schema drifted from what
// this binary was built against.
func IsMissingColumnErr(err error) bool {
	if err == nil {
		return false
	}

	msg := err.Error()

	// PostgreSQL (error code 42703)
	if strings.Contains(msg, "does not exist") && strings.Contains(msg, "column") {
		return true
	}

	// SQLite
	if strings.Contains(msg, "no such column") {
		return true
	}

	return false
}
