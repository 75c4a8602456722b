package datastore

import (
	"context"
	"fmt"
	"regexp"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/mattn/go-sqlite3"

	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/errors"
)

// Sentinel errors for the record store.
var (
	// ErrRecordNotFound is returned when a processid matches no record.
	ErrRecordNotFound = errors.NewStd("record not found")
	// ErrInvalidColumn is returned for column names that are not plain identifiers.
	ErrInvalidColumn = errors.NewStd("invalid column name")
	// ErrStoreClosed is returned when the store has been closed.
	ErrStoreClosed = errors.NewStd("store is closed")
)

// MySQL server error numbers used for classification.
const (
	mysqlErrDuplicateEntry = 1062
	mysqlErrLockWait       = 1205
	mysqlErrDeadlock       = 1213
)

// Error type labels used in logs and metrics.
const (
	errTypeBusy      = "busy"
	errTypeDuplicate = "duplicate"
	errTypeCanceled  = "canceled"
	errTypeOther     = "other"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidColumnName reports whether name can be used as a column identifier.
func ValidColumnName(name string) bool {
	return identifierPattern.MatchString(name)
}

// classifyError maps driver errors to a small set of labels.
func classifyError(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return errTypeCanceled
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return errTypeBusy
		case sqlite3.ErrConstraint:
			return errTypeDuplicate
		}
		return errTypeOther
	}

	var mysqlErr *gomysql.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case mysqlErrDuplicateEntry:
			return errTypeDuplicate
		case mysqlErrLockWait, mysqlErrDeadlock:
			return errTypeBusy
		}
	}
	return errTypeOther
}

// IsBusy reports whether err is a lock or busy condition of the database.
func IsBusy(err error) bool {
	return classifyError(err) == errTypeBusy
}

// dbError creates a properly categorized database error with context
func dbError(err error, operation string, kv ...any) error {
	priority := errors.PriorityMedium
	if classifyError(err) == errTypeBusy {
		priority = errors.PriorityHigh
	}

	builder := errors.New(err).
		Component("datastore").
		Category(errors.CategoryDatabase).
		Priority(priority).
		Context("operation", operation).
		Context("error_type", classifyError(err))

	for i := 0; i < len(kv)-1; i += 2 {
		if key, ok := kv[i].(string); ok {
			builder = builder.Context(key, kv[i+1])
		}
	}

	return builder.Build()
}

// validationError creates a validation error for rejected input.
func validationError(err error, field string, value any) error {
	return errors.New(err).
		Component("datastore").
		Category(errors.CategoryValidation).
		Context("field", field).
		Context("value", fmt.Sprintf("%v", value)).
		Build()
}

// notFoundError wraps ErrRecordNotFound with the record identifier.
func notFoundError(processID string) error {
	return errors.New(ErrRecordNotFound).
		Component("datastore").
		Category(errors.CategoryNotFound).
		Context("processid", processID).
		Build()
}
