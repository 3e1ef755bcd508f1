package endpoints

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusEndpoint(t *testing.T) {
	recorder := httptest.NewRecorder()
	NewStatusEndpoint("")(recorder, httptest.NewRequest("GET", "/status", nil), nil)
	assert.Equal(t, http.StatusNoContent, recorder.Code)
	assert.Empty(t, recorder.Body.String())

	recorder = httptest.NewRecorder()
	NewStatusEndpoint("ready")(recorder, httptest.NewRequest("GET", "/status", nil), nil)
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "ready", recorder.Body.String())
}
