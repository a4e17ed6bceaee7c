package faceblade

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/flarexio/faceblade/embedding"
	"github.com/flarexio/faceblade/vector"
)

// StatusCode maps a service error onto the HTTP status transports report.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK

	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, ErrInvalidScope),
		errors.Is(err, ErrNoImages),
		errors.Is(err, ErrEmptyImage),
		errors.Is(err, ErrInvalidThreshold),
		errors.Is(err, ErrInvalidPolicy):
		return http.StatusBadRequest

	case errors.Is(err, ErrFaceNotFound),
		errors.Is(err, vector.ErrCollectionNotFound):
		return http.StatusNotFound

	case errors.Is(err, vector.ErrDimensionMismatch),
		errors.Is(err, embedding.ErrDetectionFailed),
		errors.Is(err, embedding.ErrEmbeddingFailed):
		return http.StatusUnprocessableEntity

	case errors.Is(err, ErrCollaboratorUnavailable):
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}

// FromStatusCode rebuilds a service error from a status reported by a remote
// transport, so callers can keep using errors.Is.
func FromStatusCode(code int, msg string) error {
	var sentinel error
	switch code {
	case http.StatusBadRequest:
		sentinel = ErrInvalidRequest
	case http.StatusNotFound:
		sentinel = ErrFaceNotFound
	case http.StatusUnprocessableEntity:
		sentinel = vector.ErrDimensionMismatch
	case http.StatusServiceUnavailable:
		sentinel = ErrCollaboratorUnavailable
	default:
		return errors.New(msg)
	}

	return fmt.Errorf("%w: %s", sentinel, msg)
}

// errorKinds names every sentinel a remote caller can tell apart. The
// order matters when an error wraps more than one of them.
var errorKinds = []struct {
	kind string
	err  error
}{
	{"invalid_scope", ErrInvalidScope},
	{"no_images", ErrNoImages},
	{"empty_image", ErrEmptyImage},
	{"invalid_threshold", ErrInvalidThreshold},
	{"invalid_policy", ErrInvalidPolicy},
	{"face_not_found", ErrFaceNotFound},
	{"collaborator_unavailable", ErrCollaboratorUnavailable},
	{"collection_not_found", vector.ErrCollectionNotFound},
	{"collection_exists", vector.ErrCollectionExists},
	{"dimension_mismatch", vector.ErrDimensionMismatch},
	{"invalid_config", vector.ErrInvalidConfig},
	{"detection_failed", embedding.ErrDetectionFailed},
	{"embedding_failed", embedding.ErrEmbeddingFailed},
	{"invalid_request", ErrInvalidRequest},
}

// ErrorKind returns the machine readable kind of err, or "" when err wraps
// no known sentinel.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}

	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}

	return ""
}

type remoteError struct {
	kind error
	msg  string
}

func (e *remoteError) Error() string { return e.msg }
func (e *remoteError) Unwrap() error { return e.kind }

// FromErrorKind rebuilds the error a remote service reported. The message is
// kept verbatim and errors.Is matches the sentinel named by kind. An unknown
// kind falls back to FromStatusCode.
func FromErrorKind(kind string, code int, msg string) error {
	for _, k := range errorKinds {
		if k.kind == kind {
			return &remoteError{kind: k.err, msg: msg}
		}
	}

	return FromStatusCode(code, msg)
}
