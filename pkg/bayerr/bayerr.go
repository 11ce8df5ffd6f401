/*
Package bayerr defines Bay's error kinds — classified by cause, not by
transport — and the HTTP status each maps to at the API layer. The
Allocator wraps its own failures and those of the Store and ContainerDriver
with these kinds; the API layer's uniform translator is the only place that converts
a Kind into an HTTP status and JSON body.
*/
package bayerr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies why an operation failed.
type Kind int

const (
	// Unauthorized covers a missing or invalid bearer token.
	Unauthorized Kind = iota
	// BadRequest covers validation failures, missing headers, and
	// pre-check size limits.
	BadRequest
	// NotFound covers a Ship absent from the store or already deleted.
	NotFound
	// CapacityExceeded covers admission refused under the reject policy.
	CapacityExceeded
	// CapacityTimeout covers admission refused after the wait policy's
	// 300s ceiling.
	CapacityTimeout
	// ProvisionError covers a container runtime failure during create.
	ProvisionError
	// ReadinessTimeout covers a Ship that never answered /health.
	ReadinessTimeout
	// ForwardError covers a transport failure while forwarding to a Ship.
	ForwardError
	// PayloadTooLarge covers an upload exceeding max_upload_size.
	PayloadTooLarge
	// SchedulerError covers TTL-cleanup failures; always swallowed and
	// logged, never surfaced to a client, but classified here for
	// completeness and for Scheduler-level logging symmetry.
	SchedulerError
)

func (k Kind) String() string {
	switch k {
	case Unauthorized:
		return "Unauthorized"
	case BadRequest:
		return "BadRequest"
	case NotFound:
		return "NotFound"
	case CapacityExceeded:
		return "CapacityExceeded"
	case CapacityTimeout:
		return "CapacityTimeout"
	case ProvisionError:
		return "ProvisionError"
	case ReadinessTimeout:
		return "ReadinessTimeout"
	case ForwardError:
		return "ForwardError"
	case PayloadTooLarge:
		return "PayloadTooLarge"
	case SchedulerError:
		return "SchedulerError"
	default:
		return "Unknown"
	}
}

// HTTPStatus returns the status code the API layer's translator uses for
// this kind. ForwardError defaults to 400; callers that have a Ship upload
// error message to inspect should use UploadStatusFromMessage instead.
func (k Kind) HTTPStatus() int {
	switch k {
	case Unauthorized:
		return http.StatusUnauthorized
	case BadRequest:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case CapacityExceeded, CapacityTimeout:
		return http.StatusRequestTimeout
	case ProvisionError, ReadinessTimeout:
		return http.StatusInternalServerError
	case ForwardError:
		return http.StatusBadRequest
	case PayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

// Error is a Bay error carrying a Kind alongside the usual wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New builds an *Error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error that wraps cause, or returns nil if cause is nil.
func Wrap(kind Kind, message string, cause error) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the Kind from err if it (or something it wraps) is a
// *Error; otherwise it returns ok=false.
func KindOf(err error) (Kind, bool) {
	var bayErr *Error
	if errors.As(err, &bayErr) {
		return bayErr.Kind, true
	}
	return 0, false
}

// UploadStatusFromMessage maps an upload ForwardError's Ship-side error
// message to the HTTP status the API layer should surface. The Ship is a
// black box; these substrings are the only contract its worker gives us.
func UploadStatusFromMessage(message string) int {
	lower := strings.ToLower(message)
	switch {
	case strings.Contains(lower, "size"):
		return http.StatusRequestEntityTooLarge
	case strings.Contains(lower, "not found"):
		return http.StatusNotFound
	case strings.Contains(lower, "access"):
		return http.StatusForbidden
	default:
		return http.StatusBadRequest
	}
}
