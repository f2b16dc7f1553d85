// Package errors provides the error taxonomy and retry helpers used across
// deltasync.
//
// Client-facing failures fall into three kinds, each with a sentinel that
// typed errors match through errors.Is:
//   - NotFound: unknown checkpoint or user
//   - Validation: bad arguments or a checkpoint whose sync has not started
//   - Storage: any failure of the underlying database
//
// Storage failures are further categorized as transient or permanent so the
// capture buffer can decide whether a failed flush is worth retrying.
package errors

import (
	"errors"
	"fmt"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Category tells a retry loop whether trying again can help.
type Category int

const (
	// CategoryTransient covers a busy or locked database file.
	CategoryTransient Category = iota

	// CategoryPermanent covers everything else: unknown checkpoints, bad
	// arguments, a corrupt schema.
	CategoryPermanent
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryTransient:
		return "transient"
	case CategoryPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// CategorizedError is what a retry loop gives up with.
type CategorizedError struct {
	Err      error
	Category Category

	// Retries counts the attempts made before giving up.
	Retries int

	// Context names the operation, or why the loop stopped.
	Context string
}

// Error implements the error interface.
func (e *CategorizedError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("%s: %s (category: %s, attempts: %d)",
			e.Context, e.Err, e.Category, e.Retries)
	}
	return fmt.Sprintf("%s (category: %s, attempts: %d)",
		e.Err, e.Category, e.Retries)
}

// Unwrap returns the underlying error.
func (e *CategorizedError) Unwrap() error {
	return e.Err
}

// NewCategorized wraps err with a category.
func NewCategorized(err error, category Category, context string) *CategorizedError {
	return &CategorizedError{
		Err:      err,
		Category: category,
		Context:  context,
	}
}

// Transient marks err as worth retrying.
func Transient(err error, context string) *CategorizedError {
	return NewCategorized(err, CategoryTransient, context)
}

// Permanent marks err as not worth retrying.
func Permanent(err error, context string) *CategorizedError {
	return NewCategorized(err, CategoryPermanent, context)
}

// Categorize classifies err. Explicitly categorized errors keep their
// category; SQLite BUSY and LOCKED results are transient; everything else,
// nil included, is permanent.
func Categorize(err error) Category {
	if err == nil {
		return CategoryPermanent
	}

	var catErr *CategorizedError
	if errors.As(err, &catErr) {
		return catErr.Category
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		// Extended result codes keep the primary code in the low byte.
		switch liteErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return CategoryTransient
		}
		return CategoryPermanent
	}

	return CategoryPermanent
}

// IsRetryable reports whether err is transient.
func IsRetryable(err error) bool {
	return Categorize(err) == CategoryTransient
}
