package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestNew(t *testing.T) {
	err := New(ErrCodeTemplateNotFound, "no such template")

	if err.Code != ErrCodeTemplateNotFound {
		t.Errorf("expected code %s, got %s", ErrCodeTemplateNotFound, err.Code)
	}

	if err.Message != "no such template" {
		t.Errorf("expected message 'no such template', got '%s'", err.Message)
	}

	if err.Cause != nil {
		t.Errorf("expected nil cause, got %v", err.Cause)
	}
}

func TestWrap(t *testing.T) {
	cause := fmt.Errorf("underlying error")
	err := Wrap(ErrCodeStoreGet, "failed to load instance", cause)

	if err.Code != ErrCodeStoreGet {
		t.Errorf("expected code %s, got %s", ErrCodeStoreGet, err.Code)
	}

	if err.Cause != cause {
		t.Errorf("expected cause to be set")
	}

	// Test unwrapping
	if !errors.Is(err, cause) {
		t.Errorf("Wrap should support errors.Is")
	}
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{
			name: "direct hub error",
			err:  New(ErrCodeLockConflict, "task locked"),
			want: ErrCodeLockConflict,
		},
		{
			name: "wrapped hub error",
			err:  fmt.Errorf("while processing: %w", New(ErrCodeRateExceeded, "too fast")),
			want: ErrCodeRateExceeded,
		},
		{
			name: "plain error",
			err:  fmt.Errorf("boom"),
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CodeOf(tt.err); got != tt.want {
				t.Errorf("CodeOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want int
	}{
		{ErrCodeLockConflict, http.StatusLocked},
		{ErrCodeUserNotInGroup, http.StatusForbidden},
		{ErrCodeTemplateNotFound, http.StatusNotFound},
		{ErrCodeRateExceeded, http.StatusTooManyRequests},
		{ErrCodeMissingProcessor, http.StatusBadRequest},
		{ErrCodeHubInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := HTTPStatus(tt.code); got != tt.want {
			t.Errorf("HTTPStatus(%s) = %d, want %d", tt.code, got, tt.want)
		}
	}
}

func TestErrorFormatting(t *testing.T) {
	err := Wrap(ErrCodeStoreSet, "persist failed", fmt.Errorf("disk full"))
	want := "[STORE-002] persist failed: disk full"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
