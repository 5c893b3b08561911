// Package errors is the application error taxonomy.
//
// It re-exports github.com/cockroachdb/errors so callers get stack traces
// and hints from one import, and defines the four failure classes the bot
// distinguishes when talking to users:
//   - ErrInvalidInput: the user typed something unusable, ask again
//   - ErrNotFound: a stale or unknown reference, nothing to retry
//   - ErrRemote: the CI server failed or timed out
//   - ErrStore: the database failed
//
// User-facing text travels as hints; UserMessage renders them.
package errors

import (
	"context"
	"strings"

	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New         = crdb.New
	Newf        = crdb.Newf
	Wrap        = crdb.Wrap
	Wrapf       = crdb.Wrapf
	WithStack   = crdb.WithStack
	WithMessage = crdb.WithMessage
)

// User-facing messages and details
var (
	WithHint    = crdb.WithHint
	WithHintf   = crdb.WithHintf
	WithDetail  = crdb.WithDetail
	WithDetailf = crdb.WithDetailf
)

// Error inspection
var (
	Is             = crdb.Is
	IsAny          = crdb.IsAny
	As             = crdb.As
	Unwrap         = crdb.Unwrap
	UnwrapAll      = crdb.UnwrapAll
	GetAllHints    = crdb.GetAllHints
	GetAllDetails  = crdb.GetAllDetails
	FlattenHints   = crdb.FlattenHints
	FlattenDetails = crdb.FlattenDetails
)

// Failure classes.
var (
	// ErrInvalidInput indicates malformed user input.
	ErrInvalidInput = New("invalid input")

	// ErrNotFound indicates a missing or expired reference.
	ErrNotFound = New("not found")

	// ErrRemote indicates the CI server failed.
	ErrRemote = New("remote system failure")

	// ErrStore indicates a persistence failure.
	ErrStore = New("store failure")

	// ErrForbidden indicates the user may not perform the action.
	ErrForbidden = New("forbidden")

	// ErrInternal indicates a bug or unexpected state.
	ErrInternal = New("internal error")
)

// GenericMessage is shown when an error carries no hint.
const GenericMessage = "❌ Đã xảy ra lỗi, vui lòng thử lại sau."

// mark attaches class to err so Is(err, class) holds while the original
// chain stays intact.
func mark(err error, class error, hint string) error {
	if err == nil {
		err = New(class.Error())
	}
	err = crdb.Mark(err, class)
	if hint != "" {
		err = WithHint(err, hint)
	}
	return err
}

// NewValidationError reports bad user input with a corrective hint.
func NewValidationError(hint string) error {
	return mark(New("invalid input"), ErrInvalidInput, hint)
}

// NewNotFoundError reports a missing reference.
func NewNotFoundError(what string, hint string) error {
	return mark(Newf("%s not found", what), ErrNotFound, hint)
}

// NewForbiddenError reports a permission failure.
func NewForbiddenError(hint string) error {
	return mark(New("forbidden"), ErrForbidden, hint)
}

// NewExternalServiceError reports a CI failure without an underlying error.
func NewExternalServiceError(msg string) error {
	return mark(New(msg), ErrRemote, "")
}

// WrapRemote classifies err as a CI failure.
func WrapRemote(err error, msg string, hint string) error {
	return mark(Wrap(err, msg), ErrRemote, hint)
}

// WrapStore classifies err as a persistence failure.
func WrapStore(err error, msg string, hint string) error {
	return mark(Wrap(err, msg), ErrStore, hint)
}

// WrapNotFound classifies err as a missing reference.
func WrapNotFound(err error, msg string, hint string) error {
	return mark(Wrap(err, msg), ErrNotFound, hint)
}

// WrapInternal classifies err as unexpected. Cancellation is kept visible
// so callers can tell shutdown from failure.
func WrapInternal(ctx context.Context, err error, msg string) error {
	if ctx != nil && ctx.Err() != nil && Is(err, ctx.Err()) {
		return Wrap(err, msg)
	}
	return mark(Wrap(err, msg), ErrInternal, "")
}

// IsInvalidInput reports whether err is malformed user input.
func IsInvalidInput(err error) bool { return err != nil && Is(err, ErrInvalidInput) }

// IsNotFound reports whether err is a missing reference.
func IsNotFound(err error) bool { return err != nil && Is(err, ErrNotFound) }

// IsRemote reports whether err is a CI failure.
func IsRemote(err error) bool { return err != nil && Is(err, ErrRemote) }

// IsStore reports whether err is a persistence failure.
func IsStore(err error) bool { return err != nil && Is(err, ErrStore) }

// IsForbidden reports whether err is a permission failure.
func IsForbidden(err error) bool { return err != nil && Is(err, ErrForbidden) }

// UserMessage renders err for a chat reply: its hints joined by newlines,
// or GenericMessage when it has none.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	hints := GetAllHints(err)
	if len(hints) == 0 {
		return GenericMessage
	}
	return strings.Join(hints, "\n")
}
