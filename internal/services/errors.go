package services

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrInvalidInput  = errors.New("invalid input")
	ErrEngineLoad    = errors.New("engine load failed")
	ErrStaging       = errors.New("staging failed")
	ErrProcessing    = errors.New("processing failed")
	ErrOutputMissing = errors.New("output missing")
	ErrJobInProgress = errors.New("job in progress")

	ErrExternalTool  = errors.New("external tool error")
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
)

// Kind classifies a failure for callers that surface it to users.
type Kind string

const (
	KindInvalidInput  Kind = "invalid_input"
	KindEngineLoad    Kind = "engine_load"
	KindStaging       Kind = "staging"
	KindProcessing    Kind = "processing"
	KindOutputMissing Kind = "output_missing"
	KindJobInProgress Kind = "job_in_progress"
	KindNotFound      Kind = "not_found"
	KindConfiguration Kind = "configuration"
	KindInternal      Kind = "internal"
)

var kindMarkers = []struct {
	marker error
	kind   Kind
}{
	{ErrInvalidInput, KindInvalidInput},
	{ErrEngineLoad, KindEngineLoad},
	{ErrStaging, KindStaging},
	{ErrOutputMissing, KindOutputMissing},
	{ErrProcessing, KindProcessing},
	{ErrJobInProgress, KindJobInProgress},
	{ErrNotFound, KindNotFound},
	{ErrConfiguration, KindConfiguration},
}

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrProcessing
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// KindOf maps an error onto the failure taxonomy. Errors carrying no known
// marker are internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var classified interface{ ErrorKind() Kind }
	if errors.As(err, &classified) {
		return classified.ErrorKind()
	}
	for _, entry := range kindMarkers {
		if errors.Is(err, entry.marker) {
			return entry.kind
		}
	}
	return KindInternal
}

// Retryable reports whether the same request may succeed later without the
// caller changing its input.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindEngineLoad, KindJobInProgress, KindStaging:
		return true
	default:
		return false
	}
}

// HTTPStatus maps a classified error to the response code used by the API.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case "":
		return http.StatusOK
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindJobInProgress:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	case KindEngineLoad:
		return http.StatusServiceUnavailable
	case KindProcessing, KindOutputMissing:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
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
