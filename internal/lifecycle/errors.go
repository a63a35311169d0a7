package lifecycle

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("validation failed")
	ErrPrecondition = errors.New("precondition failed")
)

type ValidationErrorItem struct {
	Code    string `json:"code"`
	Path    string `json:"path"`
	Message string `json:"message"`
}

// ValidationError reports malformed or incomplete input. It matches
// ErrValidation under errors.Is.
type ValidationError struct {
	Errors []ValidationErrorItem `json:"errors"`
}

func (e ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, item := range e.Errors {
		msgs = append(msgs, fmt.Sprintf("%s: %s", item.Path, item.Message))
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

func (e ValidationError) Unwrap() error { return ErrValidation }

// PreconditionReason names the state-machine guard that rejected an operation.
type PreconditionReason string

const (
	ReasonWorkflowComplete    PreconditionReason = "WORKFLOW_COMPLETE"
	ReasonStageMismatch       PreconditionReason = "STAGE_MISMATCH"
	ReasonSignatureNotNeeded  PreconditionReason = "SIGNATURE_NOT_REQUIRED"
	ReasonSignerNotEnabled    PreconditionReason = "SIGNER_CANNOT_SIGN"
	ReasonRoleMismatch        PreconditionReason = "ROLE_MISMATCH"
	ReasonPasscodeTooShort    PreconditionReason = "PASSCODE_TOO_SHORT"
	ReasonAlreadySigned       PreconditionReason = "ALREADY_SIGNED"
	ReasonSignatureMissing    PreconditionReason = "SIGNATURE_MISSING"
	ReasonNotArchiveAuthority PreconditionReason = "NOT_ARCHIVE_AUTHORITY"
	ReasonAlreadySuperseded   PreconditionReason = "ALREADY_SUPERSEDED"
	ReasonDocumentArchived    PreconditionReason = "DOCUMENT_ARCHIVED"
)

// PreconditionErr is returned when a guard rejects an operation. It matches
// ErrPrecondition under errors.Is.
type PreconditionErr struct {
	Reason  PreconditionReason
	Message string
}

func (e PreconditionErr) Error() string {
	return fmt.Sprintf("precondition failed (%s): %s", e.Reason, e.Message)
}

func (e PreconditionErr) Unwrap() error { return ErrPrecondition }

func precondition(reason PreconditionReason, format string, args ...any) error {
	return PreconditionErr{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %q: %w", kind, id, ErrNotFound)
}

// ReasonOf extracts the precondition reason from err, if any.
func ReasonOf(err error) (PreconditionReason, bool) {
	var pe PreconditionErr
	if errors.As(err, &pe) {
		return pe.Reason, true
	}
	return "", false
}
