package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	apperrors "github.com/3leaps/deploybot/internal/errors"
)

func TestSetHTTPErrorResponder(t *testing.T) {
	t.Cleanup(ResetHTTPErrorResponder)

	var captured error
	SetHTTPErrorResponder(func(w http.ResponseWriter, r *http.Request, err error) {
		captured = err
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	respondWithError(rec, httptest.NewRequest(http.MethodPost, "/hooks/jenkins", nil), assert.AnError)

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, assert.AnError, captured)
}

func TestDefaultResponderMapsErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", apperrors.NewValidationError("bad payload"), http.StatusBadRequest, apperrors.CodeBadRequest},
		{"forbidden", apperrors.NewForbiddenError("invalid webhook token"), http.StatusUnauthorized, apperrors.CodeUnauthorized},
		{"external", apperrors.NewExternalServiceError("ci down"), http.StatusServiceUnavailable, apperrors.CodeUnavailable},
		{"internal", assert.AnError, http.StatusInternalServerError, apperrors.CodeInternal},
	}

	for _, setNil := range []bool{false, true} {
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				if setNil {
					SetHTTPErrorResponder(func(w http.ResponseWriter, r *http.Request, err error) {})
					SetHTTPErrorResponder(nil)
				} else {
					ResetHTTPErrorResponder()
				}

				rec := httptest.NewRecorder()
				respondWithError(rec, httptest.NewRequest(http.MethodGet, "/", nil), tt.err)

				assert.Equal(t, tt.status, rec.Code)
				assert.Contains(t, rec.Body.String(), tt.code)
			})
		}
	}
}
