package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrTransient           = errors.New("transient failure")
	ErrValidation          = errors.New("validation error")
	ErrConfiguration       = errors.New("configuration error")
	ErrNotFound            = errors.New("not found")
	ErrTimeout             = errors.New("timeout")
	ErrQuotaExceeded       = errors.New("quota exceeded")
	ErrLedgerInconsistency = errors.New("ledger inconsistency")
)

// Kind is the coarse failure classification the orchestrator acts on.
type Kind string

const (
	KindTransient     Kind = "transient"
	KindValidation    Kind = "validation"
	KindConfiguration Kind = "configuration"
	KindNotFound      Kind = "not_found"
	KindTimeout       Kind = "timeout"
	KindQuota         Kind = "quota_exceeded"
	KindLedger        Kind = "ledger_inconsistency"
	KindCanceled      Kind = "canceled"
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	wrapped := &stageError{marker: marker, stage: stage, operation: operation, message: strings.TrimSpace(message), cause: err}
	if err != nil {
		wrapped.text = fmt.Sprintf("%s: %s: %s", marker.Error(), detail, err.Error())
	} else {
		wrapped.text = fmt.Sprintf("%s: %s", marker.Error(), detail)
	}
	return wrapped
}

type stageError struct {
	marker    error
	stage     string
	operation string
	message   string
	cause     error
	text      string
}

func (e *stageError) Error() string { return e.text }

func (e *stageError) Unwrap() []error {
	if e.cause == nil {
		return []error{e.marker}
	}
	return []error{e.marker, e.cause}
}

// ErrorDetails is the report-friendly breakdown of a classified error.
type ErrorDetails struct {
	Kind      Kind
	Stage     string
	Operation string
	Message   string
}

// Details extracts the stage context recorded by Wrap. Errors that were not
// produced by Wrap report their full text as the message.
func Details(err error) ErrorDetails {
	if err == nil {
		return ErrorDetails{}
	}
	details := ErrorDetails{Kind: Classify(err)}
	var se *stageError
	if errors.As(err, &se) {
		details.Stage = se.stage
		details.Operation = se.operation
		details.Message = se.message
		if details.Message == "" && se.cause != nil {
			details.Message = strings.TrimSpace(se.cause.Error())
		}
	}
	if details.Message == "" {
		details.Message = strings.TrimSpace(err.Error())
	}
	return details
}

// Classify maps an error onto the failure taxonomy. Unmarked errors are
// considered transient so they consume retry budget rather than halting work.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrQuotaExceeded):
		return KindQuota
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrLedgerInconsistency):
		return KindLedger
	case errors.Is(err, ErrTransient):
		return KindTransient
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	}
	return KindTransient
}

// Retryable reports whether the orchestrator may spend another attempt on err.
func Retryable(err error) bool {
	return Classify(err) == KindTransient
}

// Terminal reports whether err halts the article without further attempts.
func Terminal(err error) bool {
	switch Classify(err) {
	case KindValidation, KindConfiguration, KindNotFound:
		return true
	default:
		return false
	}
}

// ClassifyHTTP picks the sentinel for a vendor HTTP status. The body is
// inspected for quota wording because several vendors reuse 401/429 for
// exhausted credit.
func ClassifyHTTP(status int, body string) error {
	lower := strings.ToLower(body)
	quota := strings.Contains(lower, "quota") || strings.Contains(lower, "insufficient_credits") || strings.Contains(lower, "credit balance")
	switch {
	case status == http.StatusPaymentRequired:
		return ErrQuotaExceeded
	case quota && (status == http.StatusTooManyRequests || status == http.StatusUnauthorized || status == http.StatusForbidden):
		return ErrQuotaExceeded
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests, status >= http.StatusInternalServerError:
		return ErrTransient
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return ErrConfiguration
	case status == http.StatusNotFound, status == http.StatusGone:
		return ErrNotFound
	case status >= http.StatusBadRequest:
		return ErrValidation
	default:
		return ErrTransient
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
