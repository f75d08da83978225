package gateway

import (
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWriteJSON_KeepsHTMLCharacters(t *testing.T) {
	g := &Gateway{}
	rec := httptest.NewRecorder()
	g.writeJSON(rec, http.StatusAccepted, map[string]string{"text": "a <b> & c"})

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "{\"text\":\"a <b> & c\"}\n", rec.Body.String())
}

func TestWriteError_Shape(t *testing.T) {
	g := &Gateway{}
	rec := httptest.NewRecorder()
	g.writeError(rec, "cost > limit", http.StatusTooManyRequests)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "{\"error\":{\"message\":\"cost > limit\",\"type\":\"gateway_error\"}}\n", rec.Body.String())
}

func TestWriteJSON_EncodeFailure(t *testing.T) {
	g := &Gateway{}
	rec := httptest.NewRecorder()
	g.writeJSON(rec, http.StatusOK, map[string]float64{"cost": math.NaN()})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "failed to encode response")
}
