package db

import "strings"

// IsUniqueViolation reports whether err is a unique-index violation. With a
// constraintName it matches that specific index; without one it matches the
// generic duplicate-key wording of Postgres and SQLite.
func IsUniqueViolation(err error, constraintName string) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	if constraintName != "" {
		return strings.Contains(msg, constraintName)
	}
	return strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "UNIQUE constraint failed")
}
