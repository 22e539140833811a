package store

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

// Custom store errors
var (
	ErrNotFound      = errors.New("record not found")
	ErrDuplicate     = errors.New("duplicate record")
	ErrSchemaVersion = errors.New("unsupported session schema version")
	ErrInvalidInput  = errors.New("invalid input")
)

// IsNotFound checks if error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, gorm.ErrRecordNotFound)
}

// MapGormError maps GORM errors to store domain errors
func MapGormError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}

	errMsg := err.Error()
	if strings.Contains(errMsg, "UNIQUE constraint") || strings.Contains(errMsg, "unique constraint") {
		return ErrDuplicate
	}

	return err
}
