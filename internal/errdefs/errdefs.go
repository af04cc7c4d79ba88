// Package errdefs defines the error taxonomy shared by ingestion, tools,
// the orchestrator and the HTTP layer. Packages wrap these sentinels with
// fmt.Errorf("...: %w", ...) and callers test them with errors.Is.
package errdefs

import (
	"context"
	"errors"
	"net/http"
)

var (
	// ErrUnsupportedFileType is returned when an ingestion input has an
	// extension other than .csv or .xlsx.
	ErrUnsupportedFileType = errors.New("unsupported file type")

	// ErrInvalidInput is returned for malformed or empty caller input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrResourceNotFound is returned when a relational store, table or
	// vector collection does not exist.
	ErrResourceNotFound = errors.New("resource not found")

	// ErrDuplicateResource is returned when a create-only operation targets a
	// name that already exists.
	ErrDuplicateResource = errors.New("resource already exists")

	// ErrExternalCapability is returned when an embedding, LLM or web search
	// call fails remotely.
	ErrExternalCapability = errors.New("external capability failure")
)

// Code returns a stable machine-readable code for err.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnsupportedFileType):
		return "unsupported_file_type"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrResourceNotFound):
		return "resource_not_found"
	case errors.Is(err, ErrDuplicateResource):
		return "duplicate_resource"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrExternalCapability):
		return "external_failure"
	default:
		return "internal_error"
	}
}

// HTTPStatus maps err to the status code the API returns for it.
func HTTPStatus(err error) int {
	return StatusForCode(Code(err))
}

// StatusForCode maps a code returned by Code to an HTTP status.
func StatusForCode(code string) int {
	switch code {
	case "":
		return http.StatusOK
	case "unsupported_file_type", "invalid_input":
		return http.StatusBadRequest
	case "resource_not_found":
		return http.StatusNotFound
	case "duplicate_resource":
		return http.StatusConflict
	case "timeout":
		return http.StatusGatewayTimeout
	case "external_failure":
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// External marks err as an external capability failure while keeping the
// original error in the chain.
func External(op string, err error) error {
	if err == nil {
		return nil
	}
	return &externalError{op: op, err: err}
}

type externalError struct {
	op  string
	err error
}

func (e *externalError) Error() string { return e.op + ": " + e.err.Error() }

func (e *externalError) Unwrap() []error { return []error{ErrExternalCapability, e.err} }
