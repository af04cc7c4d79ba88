package errdefs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestCodeAndStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		code   string
		status int
	}{
		{"nil", nil, "", http.StatusOK},
		{"unsupported", fmt.Errorf("loading notes.txt: %w", ErrUnsupportedFileType), "unsupported_file_type", http.StatusBadRequest},
		{"invalid", fmt.Errorf("chat: %w", ErrInvalidInput), "invalid_input", http.StatusBadRequest},
		{"not found", fmt.Errorf("collection x: %w", ErrResourceNotFound), "resource_not_found", http.StatusNotFound},
		{"duplicate", fmt.Errorf("collection x: %w", ErrDuplicateResource), "duplicate_resource", http.StatusConflict},
		{"external", External("embedding", errors.New("boom")), "external_failure", http.StatusBadGateway},
		{"timeout", External("web search", context.DeadlineExceeded), "timeout", http.StatusGatewayTimeout},
		{"other", errors.New("disk on fire"), "internal_error", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Code(tt.err); got != tt.code {
				t.Errorf("Code() = %q, want %q", got, tt.code)
			}
			if got := HTTPStatus(tt.err); got != tt.status {
				t.Errorf("HTTPStatus() = %d, want %d", got, tt.status)
			}
		})
	}
}

func TestExternal_KeepsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := External("embed", cause)
	if !errors.Is(err, ErrExternalCapability) {
		t.Error("expected ErrExternalCapability in chain")
	}
	if !errors.Is(err, cause) {
		t.Error("expected cause in chain")
	}
	if err.Error() != "embed: connection refused" {
		t.Errorf("Error() = %q", err.Error())
	}
	if External("embed", nil) != nil {
		t.Error("External(nil) should be nil")
	}
}

func TestStatusForCode_Unknown(t *testing.T) {
	if got := StatusForCode("something_new"); got != http.StatusInternalServerError {
		t.Errorf("StatusForCode(unknown) = %d, want 500", got)
	}
}
