package simulator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nebulablock/rpdprobe/common/config"
	"github.com/nebulablock/rpdprobe/common/logger"
	"github.com/nebulablock/rpdprobe/prober"
	relaymodel "github.com/nebulablock/rpdprobe/relay/model"
)

const (
	limitedKey   = "sk-limited-0123456789"
	unlimitedKey = "sk-unlimited-0123456789"
	brokenKey    = "sk-broken-0123456789"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	logger.SetupLogger()
	config.ApproximateTokenEnabled = true
	os.Exit(m.Run())
}

func newTestServer(t *testing.T, keys string, opts ...Option) *Server {
	t.Helper()
	parsed, err := ParseKeys(keys)
	require.NoError(t, err)
	srv, err := New(NewQuota(parsed), opts...)
	require.NoError(t, err)
	return srv
}

func postChat(router http.Handler, key string, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

const chatBody = `{"model":"sim","messages":[{"role":"user","content":"Hi"}],"max_tokens":5}`

func TestParseKeys(t *testing.T) {
	keys, err := ParseKeys("sk-a=200, sk-b=Unlimited;sk-c=fail:503")
	require.NoError(t, err)
	require.Len(t, keys, 3)

	n, finite := keys["sk-a"].Limit.Value()
	assert.True(t, finite)
	assert.Equal(t, 200, n)
	assert.True(t, keys["sk-b"].Limit.IsUnlimited())
	assert.Equal(t, 503, keys["sk-c"].FailStatus)

	for _, bad := range []string{"sk-a", "=5", "sk-a=", "sk-a=lots", "sk-a=-1", "sk-a=fail:200", "sk-a=1,sk-a=2"} {
		_, err := ParseKeys(bad)
		assert.Error(t, err, bad)
	}
}

func TestQuotaRollsOverAtUTCMidnight(t *testing.T) {
	q := NewQuota(map[string]KeyPolicy{"k": {Limit: prober.Finite(1)}})
	now := time.Date(2025, 7, 1, 23, 59, 0, 0, time.UTC)
	q.now = func() time.Time { return now }
	q.day = "20250701"

	v, _ := q.Admit("k")
	require.Equal(t, VerdictAllowed, v)
	v, _ = q.Admit("k")
	require.Equal(t, VerdictRateLimited, v)
	require.Equal(t, 1, q.Used("k"))

	now = now.Add(2 * time.Minute)
	v, _ = q.Admit("k")
	require.Equal(t, VerdictAllowed, v)
	require.Equal(t, 1, q.Used("k"))
}

func TestChatCompletionsEnforcesDailyLimit(t *testing.T) {
	srv := newTestServer(t, limitedKey+"=2")
	router := srv.Router()

	for i := range 2 {
		w := postChat(router, limitedKey, chatBody)
		require.Equal(t, http.StatusOK, w.Code, "request %d", i+1)
		assert.NotEmpty(t, w.Header().Get(RequestIdKey))

		var resp relaymodel.TextResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.Len(t, resp.Choices, 1)
		assert.Equal(t, "sim", resp.Model)
		assert.True(t, strings.HasPrefix(resp.Id, "chatcmpl-"))
	}

	w := postChat(router, limitedKey, chatBody)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	var errResp relaymodel.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &errResp))
	assert.Equal(t, "rate_limit_exceeded", errResp.Error.Code)
	assert.Equal(t, 2, srv.Quota().Used(limitedKey))

	req := httptest.NewRequest(http.MethodPost, "/admin/reset", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, srv.Quota().Used(limitedKey))

	w = postChat(router, limitedKey, chatBody)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestChatCompletionsRejectsBadRequests(t *testing.T) {
	router := newTestServer(t, limitedKey+"=5,"+brokenKey+"=fail:502").Router()

	assert.Equal(t, http.StatusUnauthorized, postChat(router, "", chatBody).Code)
	assert.Equal(t, http.StatusUnauthorized, postChat(router, "sk-nobody", chatBody).Code)
	assert.Equal(t, http.StatusBadRequest, postChat(router, limitedKey, `{"model":`).Code)
	assert.Equal(t, http.StatusBadRequest, postChat(router, limitedKey, `{"model":"m","messages":[]}`).Code)
	assert.Equal(t, http.StatusBadRequest,
		postChat(router, limitedKey, `{"model":"m","stream":true,"messages":[{"role":"user","content":"x"}]}`).Code)
	assert.Equal(t, http.StatusBadGateway, postChat(router, brokenKey, chatBody).Code)
}

func TestUsageEndpointMasksKeys(t *testing.T) {
	srv := newTestServer(t, limitedKey+"=5")
	router := srv.Router()
	require.Equal(t, http.StatusOK, postChat(router, limitedKey, chatBody).Code)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/usage", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), limitedKey)

	var body struct {
		Data map[string]int `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Data, 1)
	for _, v := range body.Data {
		assert.Equal(t, 1, v)
	}
}

func TestMetricsCountVerdicts(t *testing.T) {
	reg := prometheus.NewRegistry()
	srv := newTestServer(t, limitedKey+"=1", WithRegisterer(reg))
	router := srv.Router()

	postChat(router, limitedKey, chatBody)
	postChat(router, limitedKey, chatBody)
	postChat(router, "sk-nobody", chatBody)

	assert.Equal(t, 1.0, testutil.ToFloat64(srv.metrics.requests.WithLabelValues("allowed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(srv.metrics.requests.WithLabelValues("rate_limited")))
	assert.Equal(t, 1.0, testutil.ToFloat64(srv.metrics.requests.WithLabelValues("unknown_key")))

	_, err := New(NewQuota(nil), WithRegisterer(reg))
	assert.Error(t, err, "duplicate registration")
}

// The remaining tests drive the real HTTP dispatcher through the validator.

func newValidator(endpoint string, concurrency int) *prober.Validator {
	dispatcher := prober.NewHTTPDispatcher(endpoint, prober.WithRequestTimeout(5*time.Second))
	runner := prober.NewRunner(dispatcher)
	return prober.NewValidator(runner,
		prober.WithCredentials(prober.StaticCredentials{
			"SIM_LIMITED":   limitedKey,
			"SIM_UNLIMITED": unlimitedKey,
			"SIM_BROKEN":    brokenKey,
		}),
		prober.WithDefaultConcurrency(prober.ConcurrencyConfig{MaxConcurrent: concurrency}),
		prober.WithUnlimitedVolume(40),
	)
}

func TestValidatorAgainstSimulator(t *testing.T) {
	srv := newTestServer(t, limitedKey+"=12,"+unlimitedKey+"=unlimited,"+brokenKey+"=fail:500")
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	v := newValidator(ts.URL+"/v1/chat/completions", 4)
	ctx := context.Background()

	t.Run("finite tier validates at its boundary", func(t *testing.T) {
		report, err := v.ValidateTier(ctx, prober.TierPolicy{
			Name: "Sim Tier", RequestsPerDay: prober.Finite(12), CredentialRef: "SIM_LIMITED",
		})
		require.NoError(t, err)
		require.Equal(t, prober.StateValidated, report.State, report.Reason)
		require.Len(t, report.Phases, 3)
		assert.Equal(t, 11, report.Phases[0].Result.Successful)
		assert.Equal(t, 1, report.Phases[1].Result.Successful)
		assert.Equal(t, 1, report.Phases[2].Result.FirstRateLimitedIndex)
		assert.Equal(t, 12, srv.Quota().Used(limitedKey))
	})

	t.Run("spent quota fails the first phase", func(t *testing.T) {
		report, err := v.ValidateTier(ctx, prober.TierPolicy{
			Name: "Sim Tier", RequestsPerDay: prober.Finite(12), CredentialRef: "SIM_LIMITED",
		})
		require.NoError(t, err)
		assert.Equal(t, prober.StateFailed, report.State)
		require.NotEmpty(t, report.Phases)
		assert.Equal(t, prober.PhaseBelowLimit, report.Phases[0].Phase)
		assert.Equal(t, 11, report.Phases[0].Result.RateLimited)
	})

	t.Run("unlimited tier absorbs its volume", func(t *testing.T) {
		report, err := v.ValidateTier(ctx, prober.TierPolicy{
			Name: "Sim Unlimited", RequestsPerDay: prober.Unlimited(), CredentialRef: "SIM_UNLIMITED",
		})
		require.NoError(t, err)
		require.Equal(t, prober.StateValidated, report.State, report.Reason)
		assert.Equal(t, 40, report.TotalRequests())
		assert.Equal(t, 40, srv.Quota().Used(unlimitedKey))
	})

	t.Run("failing upstream trips the breaker", func(t *testing.T) {
		report, err := v.ValidateTier(ctx, prober.TierPolicy{
			Name: "Sim Broken", RequestsPerDay: prober.Finite(100), CredentialRef: "SIM_BROKEN",
		})
		require.NoError(t, err)
		assert.Equal(t, prober.StateFailed, report.State)
		require.NotEmpty(t, report.Phases)
		res := report.Phases[0].Result
		assert.True(t, res.Aborted)
		assert.Equal(t, prober.AbortFailureThreshold, res.AbortReason)
		assert.Greater(t, res.Failed, prober.DefaultFailureThreshold)
		assert.Less(t, res.Completed(), 99)
	})
}
