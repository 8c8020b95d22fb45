package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"advisor/internal/cache"
	"advisor/internal/clients/marketdata"
	"advisor/internal/config"
	"advisor/internal/domain"
	"advisor/internal/modules/assemble"
	"advisor/internal/modules/explain"
	"advisor/internal/modules/factors"
	"advisor/internal/modules/optimization"
	"advisor/internal/modules/policy"
	"advisor/internal/modules/recommend"
	"advisor/internal/modules/risk"
	"advisor/internal/modules/suitability"
)

func newTestHandler(t *testing.T) (*handler, func()) {
	t.Helper()
	cfg, err := config.Load()
	require.NoError(t, err)
	cfg.Risk.LookbackDays = 120

	log := zerolog.Nop()
	gateway := marketdata.NewGateway(marketdata.NewSyntheticProvider(), cache.New(nil, log), cfg.Gateway, log)
	pool := optimization.NewPool(
		optimization.NewOptimizer(
			optimization.NewPenaltySolver(cfg.Optimizer.MaxIterations, log),
			cfg.Optimizer.SolveTimeout, log),
		2, log)

	service := recommend.NewService(
		gateway,
		policy.NewEngine(log),
		suitability.NewFilter(log),
		factors.NewModel(cfg.Factors, log),
		risk.NewModel(cfg.Risk, log),
		pool,
		assemble.NewAssembler(explain.NewExplainer(log), log),
		cfg,
		log,
	)
	return newHandler(service, log), pool.Close
}

func TestHealthEndpoint(t *testing.T) {
	h, done := newTestHandler(t)
	defer done()

	rec := httptest.NewRecorder()
	h.health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestRecommendationsEndpoint(t *testing.T) {
	h, done := newTestHandler(t)
	defer done()

	body, err := json.Marshal(recommend.Request{
		Profile: domain.InvestorProfile{
			Age:            35,
			AnnualIncome:   40_000,
			RiskTolerance:  domain.RiskHigh,
			HorizonYears:   10,
			Jurisdiction:   "US",
			PortfolioValue: 25_000,
		},
		Universe: []string{"AAPL", "MSFT", "NVDA", "JNJ", "JPM", "XOM", "PG", "CAT"},
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.recommendations(rec, httptest.NewRequest(http.MethodPost, "/api/recommendations", bytes.NewReader(body)))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp domain.RecommendationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "v1", resp.SchemaVersion)
	assert.NotEmpty(t, resp.Recommendations)
}

func TestRecommendationsEndpointInvalidProfile(t *testing.T) {
	h, done := newTestHandler(t)
	defer done()

	body, err := json.Marshal(recommend.Request{
		Profile: domain.InvestorProfile{Age: 10, RiskTolerance: domain.RiskLow, HorizonYears: 5},
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.recommendations(rec, httptest.NewRequest(http.MethodPost, "/api/recommendations", bytes.NewReader(body)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid investor profile")
}

func TestRecommendationsEndpointMalformedBody(t *testing.T) {
	h, done := newTestHandler(t)
	defer done()

	rec := httptest.NewRecorder()
	h.recommendations(rec, httptest.NewRequest(http.MethodPost, "/api/recommendations", bytes.NewReader([]byte("{not json"))))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "malformed request body")
}
