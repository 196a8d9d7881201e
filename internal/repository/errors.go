package repository

import (
	"errors"
	"strings"

	"github.com/lib/pq"
)

// pgUniqueViolation - SQLSTATE нарушения уникальности
const pgUniqueViolation = "23505"

// rowScanner - общий интерфейс *sql.Row и *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

// isUniqueViolation проверяет нарушение уникального ограничения
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pgUniqueViolation
	}
	errStr := err.Error()
	return strings.Contains(errStr, "duplicate key") || strings.Contains(errStr, pgUniqueViolation)
}
