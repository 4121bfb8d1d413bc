package web

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mscottkey/fable-engine/internal/engine"
	"github.com/mscottkey/fable-engine/internal/narrative"
	"github.com/mscottkey/fable-engine/internal/pipeline"
	"github.com/mscottkey/fable-engine/internal/story"
)

func TestParsePhase(t *testing.T) {
	phase, ok := parsePhase("3")
	assert.True(t, ok)
	assert.Equal(t, story.PhaseFactions, phase)

	_, ok = parsePhase("0")
	assert.False(t, ok)
	_, ok = parsePhase("7")
	assert.False(t, ok)
	_, ok = parsePhase("factions")
	assert.False(t, ok)
}

func TestRespondErrorMapping(t *testing.T) {
	h := NewHandlers(nil, nil, nil, nil, nil)

	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"campaign not found", pipeline.ErrCampaignNotFound, http.StatusNotFound},
		{"session not found", narrative.ErrSessionNotFound, http.StatusNotFound},
		{"phase locked", pipeline.ErrPhaseLocked, http.StatusConflict},
		{"already approved", pipeline.ErrPhaseAlreadyApproved, http.StatusConflict},
		{"invalid target", &engine.Failure{Kind: engine.ErrInvalidTarget}, http.StatusUnprocessableEntity},
		{"parse failed", &engine.Failure{Kind: engine.ErrParseFailed}, http.StatusBadGateway},
		{"schema invalid", &engine.Failure{Kind: engine.ErrSchemaInvalid}, http.StatusBadGateway},
		{"upstream unavailable", &engine.Failure{Kind: engine.ErrUpstreamUnavailable}, http.StatusServiceUnavailable},
		{"persistence failed", &engine.Failure{Kind: engine.ErrPersistenceFailed}, http.StatusInternalServerError},
		{"unknown", assertError{}, http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.respondError(rec, tc.err)
			assert.Equal(t, tc.status, rec.Code)
			assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")
		})
	}
}

type assertError struct{}

func (assertError) Error() string { return "boom" }

func TestHealthRoute(t *testing.T) {
	h := NewHandlers(nil, nil, nil, nil, nil)
	router := NewRouter(h, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "fable-engine")
}

func TestSessionFeedRoute(t *testing.T) {
	h := NewHandlers(nil, nil, nil, nil, nil)
	router := NewRouter(h, nil)

	// A plain GET reaches the handler and is rejected by the upgrader,
	// not the router.
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/sessions/s1/feed", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
