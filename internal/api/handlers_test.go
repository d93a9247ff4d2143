package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptops/whetstone/internal/improve"
	"github.com/promptops/whetstone/internal/provider"
	"github.com/promptops/whetstone/internal/ratelimit"
	"github.com/promptops/whetstone/internal/store"
	"github.com/promptops/whetstone/pkg/config"
	"github.com/promptops/whetstone/pkg/models"
)

func newTestServer(t *testing.T, cfg *config.Config) (http.Handler, store.Store) {
	t.Helper()
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	s := store.NewMemoryStore()
	gen := improve.NewGenerator(s, provider.NewMockProvider(), improve.GeneratorOptions{
		FeedbackSampleCap: cfg.Improvement.FeedbackSampleCap,
		PreviewLength:     cfg.Improvement.PreviewLength,
	})
	orch := improve.NewOrchestrator(s, improve.NewEvaluator(improve.Policy{}), gen, nil, nil)

	var limiter ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.NewMemoryLimiter(ratelimit.Config{
			MaxRequests: cfg.RateLimit.MaxRequests,
			Window:      cfg.RateLimit.Window,
		})
	}

	srv := NewServer(orch, s, limiter, nil, cfg)
	return srv.SetupRoutes(), s
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func decodeResult(t *testing.T, w *httptest.ResponseRecorder) improve.Result {
	t.Helper()
	var result improve.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	return result
}

func seedSkillHTTP(t *testing.T, handler http.Handler) string {
	t.Helper()
	w := doJSON(t, handler, http.MethodPost, "/api/v1/skills", map[string]interface{}{
		"name":                 "Market Analysis",
		"system_instruction":   "You are an analyst.",
		"user_prompt_template": "Analyze {{company}}.",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var skill models.Skill
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &skill))
	require.NotEmpty(t, skill.ID)
	return skill.ID
}

func TestHealthEndpoint(t *testing.T) {
	handler, _ := newTestServer(t, nil)
	w := doJSON(t, handler, http.MethodGet, "/api/v1/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ok")
}

func TestCreateSkillValidation(t *testing.T) {
	handler, _ := newTestServer(t, nil)
	w := doJSON(t, handler, http.MethodPost, "/api/v1/skills", map[string]interface{}{
		"name": "incomplete",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateSkillAppliesDefaults(t *testing.T) {
	handler, s := newTestServer(t, nil)
	id := seedSkillHTTP(t, handler)

	skill, err := s.GetSkill(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 50, skill.MinGradesForImprovement)
	assert.Equal(t, 3.5, skill.ImprovementThreshold)
	assert.Equal(t, 1, skill.CurrentVersion)
}

func TestImproverUnknownAction(t *testing.T) {
	handler, _ := newTestServer(t, nil)
	w := doJSON(t, handler, http.MethodPost, "/api/v1/improver", map[string]string{"action": "optimize"})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	result := decodeResult(t, w)
	assert.False(t, result.Success)
	assert.Equal(t, improve.KindInvalidRequest, result.Code)
}

func TestImproverNotFoundMapsTo404(t *testing.T) {
	handler, _ := newTestServer(t, nil)
	w := doJSON(t, handler, http.MethodPost, "/api/v1/improver", map[string]string{
		"action": "status", "skillId": "missing",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestImproverLifecycleOverHTTP(t *testing.T) {
	handler, s := newTestServer(t, nil)
	skillID := seedSkillHTTP(t, handler)

	// Push weak scores from the grading pipeline.
	w := doJSON(t, handler, http.MethodPut, "/api/v1/skills/"+skillID+"/scores", map[string]interface{}{
		"total_grades": 60,
		"overall":      3.0,
		"accuracy":     2.5,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// Trigger.
	w = doJSON(t, handler, http.MethodPost, "/api/v1/improver", map[string]string{
		"action": "trigger", "skillId": skillID,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var trigger struct {
		Data struct {
			Eligible  bool   `json:"eligible"`
			RequestID string `json:"request_id"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &trigger))
	require.True(t, trigger.Data.Eligible)
	reqID := trigger.Data.RequestID

	// Generate, approve, apply.
	for _, action := range []string{"generate", "approve", "apply"} {
		w = doJSON(t, handler, http.MethodPost, "/api/v1/improver", map[string]string{
			"action": action, "requestId": reqID,
		})
		require.Equal(t, http.StatusOK, w.Code, "action %s: %s", action, w.Body.String())
	}

	skill, err := s.GetSkill(context.Background(), skillID)
	require.NoError(t, err)
	assert.Equal(t, 2, skill.CurrentVersion)

	// Applying twice maps InvalidState to 409.
	w = doJSON(t, handler, http.MethodPost, "/api/v1/improver", map[string]string{
		"action": "apply", "requestId": reqID,
	})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestScoresFeedbackReachesRequest(t *testing.T) {
	handler, s := newTestServer(t, nil)
	skillID := seedSkillHTTP(t, handler)

	w := doJSON(t, handler, http.MethodPut, "/api/v1/skills/"+skillID+"/scores", map[string]interface{}{
		"total_grades": 60,
		"overall":      3.0,
		"accuracy":     2.5,
		"feedback":     []string{"numbers were wrong", "missed the ask"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	skill, err := s.GetSkill(context.Background(), skillID)
	require.NoError(t, err)
	require.Equal(t, []string{"numbers were wrong", "missed the ask"}, skill.RecentFeedback)

	// The trigger snapshots the stored sample onto the request.
	w = doJSON(t, handler, http.MethodPost, "/api/v1/improver", map[string]string{
		"action": "trigger", "skillId": skillID,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var trigger struct {
		Data struct {
			RequestID string `json:"request_id"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &trigger))
	require.NotEmpty(t, trigger.Data.RequestID)

	req, err := s.GetRequest(context.Background(), trigger.Data.RequestID)
	require.NoError(t, err)
	assert.Equal(t, []string{"numbers were wrong", "missed the ask"}, req.SampleFeedback)
}

func TestCreateSkillDuplicateID(t *testing.T) {
	handler, _ := newTestServer(t, nil)
	body := map[string]interface{}{
		"id":                   "skill-dup",
		"name":                 "Market Analysis",
		"system_instruction":   "You are an analyst.",
		"user_prompt_template": "Analyze {{company}}.",
	}
	w := doJSON(t, handler, http.MethodPost, "/api/v1/skills", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = doJSON(t, handler, http.MethodPost, "/api/v1/skills", body)
	assert.Equal(t, http.StatusConflict, w.Code)
	result := decodeResult(t, w)
	assert.False(t, result.Success)
	assert.Equal(t, improve.KindInvalidState, result.Code)
}

func TestScoresUnknownSkill(t *testing.T) {
	handler, _ := newTestServer(t, nil)
	w := doJSON(t, handler, http.MethodPut, "/api/v1/skills/missing/scores", map[string]interface{}{
		"total_grades": 10,
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAPIKeyAuth(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Security.EnableAuth = true
	cfg.Security.APIKeys = []string{"secret-key"}
	handler, _ := newTestServer(t, cfg)

	// Health stays open.
	w := doJSON(t, handler, http.MethodGet, "/api/v1/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// Missing key.
	w = doJSON(t, handler, http.MethodGet, "/api/v1/skills", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Wrong key.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/skills", nil)
	req.Header.Set("X-API-Key", "wrong")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Valid key.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/skills", nil)
	req.Header.Set("X-API-Key", "secret-key")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimitHeadersAndRejection(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RateLimit.MaxRequests = 2
	cfg.RateLimit.Window = time.Minute
	handler, _ := newTestServer(t, cfg)

	for i := 0; i < 2; i++ {
		w := doJSON(t, handler, http.MethodGet, "/api/v1/skills", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
	}

	w := doJSON(t, handler, http.MethodGet, "/api/v1/skills", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	// Health is exempt.
	w = doJSON(t, handler, http.MethodGet, "/api/v1/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	handler, _ := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/improver", nil)
	req.Header.Set("Origin", "https://admin.example.com")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestImproverMethodNotAllowed(t *testing.T) {
	handler, _ := newTestServer(t, nil)
	w := doJSON(t, handler, http.MethodGet, "/api/v1/improver", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
