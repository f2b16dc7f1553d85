package delta

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/randalmurphal/deltasync/pkg/deltasync/catalog"
	syncerrors "github.com/randalmurphal/deltasync/pkg/deltasync/errors"
	"github.com/randalmurphal/deltasync/pkg/deltasync/store"
)

// ItemQuery requests one page of updated or removed items of a checkpoint.
type ItemQuery struct {
	CheckpointID string `validate:"required"`

	// Kinds restricts the page to these kinds; empty means all.
	Kinds []catalog.Kind `validate:"dive,gt=0"`

	// Fields lists the extra item fields the caller wants rendered. It is
	// normalized and passed through untouched.
	Fields []string

	Offset int `validate:"gte=0"`

	// Limit caps the page size; zero means unlimited.
	Limit int `validate:"gte=0"`
}

// UserDataQuery requests one page of user data changes of a checkpoint.
type UserDataQuery struct {
	CheckpointID string         `validate:"required"`
	Kinds        []catalog.Kind `validate:"dive,gt=0"`
	Offset       int            `validate:"gte=0"`
	Limit        int            `validate:"gte=0"`
}

// Page is one slice of a windowed result with the total match count.
type Page[T any] struct {
	Items      []T `json:"items"`
	Total      int `json:"total_record_count"`
	StartIndex int `json:"start_index"`
}

// ItemPage is a page of updated items plus the normalized field set.
type ItemPage struct {
	Page[store.ItemChange]
	Fields []string `json:"fields,omitempty"`
}

// RemovedItem identifies a removed item. Seasons carry their series and
// number so clients can drop them without a lookup.
type RemovedItem struct {
	ItemID       string `json:"item_id"`
	SeriesID     string `json:"series_id,omitempty"`
	SeasonNumber *int   `json:"season,omitempty"`
}

// ErrSyncNotStarted is returned by checkpoint-scoped queries before the
// checkpoint's window has been closed.
var ErrSyncNotStarted = syncerrors.Invalid("checkpoint_id",
	"sync session should be started before using the checkpoint")

var validate = validator.New(validator.WithRequiredStructEnabled())

// validateStruct maps the first constraint violation to a ValidationError.
func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return syncerrors.Invalid("", err.Error())
	}

	fe := fieldErrs[0]
	return syncerrors.Invalid(fieldName(fe.Field()), fieldMessage(fe))
}

func fieldName(name string) string {
	switch name {
	case "CheckpointID":
		return "checkpoint_id"
	case "UserID":
		return "user_id"
	default:
		return strings.ToLower(name)
	}
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "must not be empty"
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", fe.Param())
	case "gt":
		return "must be a known kind"
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}

// checkPage validates pagination arguments of the low-level queries.
func checkPage(window store.Window, offset, limit int) error {
	if window.End.Before(window.Start) {
		return syncerrors.Invalid("window", "end must not precede start")
	}
	if offset < 0 {
		return syncerrors.Invalid("offset", "must be greater than or equal to 0")
	}
	if limit < 0 {
		return syncerrors.Invalid("limit", "must be greater than or equal to 0")
	}
	return nil
}

// NormalizeFields splits comma separated field lists, trims entries and
// drops blanks and case-insensitive duplicates, keeping first-seen order.
func NormalizeFields(raw ...string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, r := range raw {
		for _, f := range strings.Split(r, ",") {
			f = strings.TrimSpace(f)
			key := strings.ToLower(f)
			if f == "" || seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, f)
		}
	}
	return out
}
