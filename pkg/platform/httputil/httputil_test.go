package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/pkg/platform/sentinel"
)

func TestWriteError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		wantDesc   bool
	}{
		{"internal error omits description", errors.New("db failed"), http.StatusInternalServerError, "internal_error", false},
		{"bad request includes description", fmt.Errorf("invalid limit: %w", sentinel.ErrInvalidInput), http.StatusBadRequest, "bad_request", true},
		{"not found", fmt.Errorf("audit record x: %w", sentinel.ErrNotFound), http.StatusNotFound, "not_found", true},
		{"unavailable", sentinel.ErrUnavailable, http.StatusServiceUnavailable, "unavailable", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, tc.err)

			assert.Equal(t, tc.wantStatus, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

			var body map[string]string
			require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
			assert.Equal(t, tc.wantCode, body["error"])
			if tc.wantDesc {
				assert.Equal(t, tc.err.Error(), body["error_description"])
			} else {
				assert.NotContains(t, body, "error_description")
			}
		})
	}
}
