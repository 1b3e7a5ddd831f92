package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guileen/heimdall/llm"
	"github.com/guileen/heimdall/optimizer"
	"github.com/guileen/heimdall/plan"
	"github.com/guileen/heimdall/prompt"
	"github.com/guileen/heimdall/validator"
)

type noopCosts struct{}

func (noopCosts) Estimate(context.Context, *plan.LogicalPlan, any) (float64, error) {
	return 0, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	extractor := plan.NewPGQueryExtractor()
	o := optimizer.New(optimizer.Options{
		Extractor: extractor,
		Validator: validator.New(extractor, nil, validator.Strict),
		Client:    llm.NewClient(4),
		Prompts:   prompt.NewBuilder(prompt.GoalBalanced),
		Costs:     noopCosts{},
	})
	return NewServer(o)
}

func TestHealthEndpoint(t *testing.T) {
	server := newTestServer(t)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, true, body["enabled"])
}

func TestStatsEndpoint(t *testing.T) {
	server := newTestServer(t)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var stats optimizer.StatisticsSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, uint64(0), stats.TotalQueries)
}

func TestStrategyEndpoint(t *testing.T) {
	server := newTestServer(t)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/strategy", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "best_cost", body["selection_mode"])
	assert.Equal(t, 1.2, body["min_improvement_ratio"])
}

func TestEnabledToggle(t *testing.T) {
	server := newTestServer(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/enabled", strings.NewReader(`{"enabled":false}`))
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, false, body["enabled"])
}

func TestEnabledRejectsBadBody(t *testing.T) {
	server := newTestServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/enabled", strings.NewReader("not json"))
	server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatsReset(t *testing.T) {
	server := newTestServer(t)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/stats/reset", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
