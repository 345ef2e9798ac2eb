package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("pain_level out of range: %w", ErrValidation), http.StatusBadRequest},
		{ErrNotFound, http.StatusNotFound},
		{ErrQueueEmpty, http.StatusNotFound},
		{ErrUnauthorized, http.StatusForbidden},
		{ErrNotEligible, http.StatusConflict},
		{ErrActiveSessionConflict, http.StatusConflict},
		{ErrDuplicateActiveEntry, http.StatusConflict},
		{ErrInvalidTransition, http.StatusConflict},
		{ErrAlreadyCompleted, http.StatusConflict},
		{fmt.Errorf("head contended: %w", ErrServiceUnavailable), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := Status(tt.err); got != tt.want {
			t.Errorf("Status(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestHTTPError_HidesInternalErrors(t *testing.T) {
	he := HTTPError(errors.New("pq: connection refused"))
	if he.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", he.Code)
	}
	if he.Message != "internal server error" {
		t.Errorf("expected generic message, got %v", he.Message)
	}
	if he.Internal == nil {
		t.Error("expected internal error to be retained for logging")
	}
}

func TestHTTPError_KeepsDomainMessage(t *testing.T) {
	he := HTTPError(fmt.Errorf("doctor is not available: %w", ErrNotEligible))
	if he.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", he.Code)
	}
	if he.Message != "doctor is not available: not eligible" {
		t.Errorf("unexpected message: %v", he.Message)
	}
}
