package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrLockUnavailable = errors.New("already being processed")
	ErrProducer        = errors.New("producer failure")
	ErrWrite           = errors.New("write failure")
	ErrValidation      = errors.New("validation failure")
	ErrNotFound        = errors.New("not found")
	ErrConfiguration   = errors.New("configuration error")
	ErrTransient       = errors.New("transient failure")
)

// Error kinds reported in operation results and API payloads.
const (
	KindLocked        = "locked"
	KindProducer      = "producer_failure"
	KindWrite         = "write_failure"
	KindValidation    = "validation_failure"
	KindNotFound      = "not_found"
	KindConfiguration = "configuration"
	KindTransient     = "transient"
	KindCanceled      = "canceled"
)

// Wrap builds an error message that includes component context while tagging it with
// the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Kind maps an error to the short classification string exposed to callers.
// Unclassified errors report as transient.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrLockUnavailable):
		return KindLocked
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrWrite):
		return KindWrite
	case errors.Is(err, ErrProducer):
		return KindProducer
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	default:
		return KindTransient
	}
}

// IsTerminal reports whether retrying the failed operation cannot help.
// A missing target and a broken configuration stay broken on the next attempt.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrConfiguration)
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
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
