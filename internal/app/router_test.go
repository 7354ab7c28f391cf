package app

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KantanPro/ktp-ledger/internal/observability"
	"github.com/KantanPro/ktp-ledger/internal/shared"
	"github.com/KantanPro/ktp-ledger/jobs"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRouterHealthMetricsAndSession(t *testing.T) {
	nonces := shared.NewNonceManager("test-secret", time.Hour)
	router := NewRouter(RouterParams{
		Logger:     quietLogger(),
		Config:     &Config{AppEnv: "test", AjaxRateLimit: 100},
		Nonces:     nonces,
		JobHandler: jobs.NewHandler(nil, quietLogger()),
		Metrics:    observability.NewMetrics(),
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/session", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.True(t, env.Success)
	var grant SessionGrant
	require.NoError(t, json.Unmarshal(env.Data, &grant))
	require.NotEmpty(t, grant.SessionID)
	require.NoError(t, nonces.Verify(grant.SessionID, shared.LedgerNonceAction, grant.Nonce))

	req := httptest.NewRequest(http.MethodPost, "/session", nil)
	req.Header.Set(shared.SessionHeader, grant.SessionID)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	var renewed SessionGrant
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.NoError(t, json.Unmarshal(env.Data, &renewed))
	require.Equal(t, grant.SessionID, renewed.SessionID)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"queue":"default"`)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "ktp_http_requests_total")
}

func TestNonceMiddleware(t *testing.T) {
	nonces := shared.NewNonceManager("test-secret", time.Hour)
	var seenSession string
	r := chi.NewRouter()
	r.Use(NonceMiddleware(nonces, quietLogger()))
	r.Post("/ajax", func(w http.ResponseWriter, r *http.Request) {
		seenSession = shared.SessionIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	r.Get("/download", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	nonce := nonces.Issue("sess-1", shared.LedgerNonceAction)
	post := func(session string, values url.Values, header string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/ajax", strings.NewReader(values.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		if session != "" {
			req.Header.Set(shared.SessionHeader, session)
		}
		if header != "" {
			req.Header.Set(NonceHeader, header)
		}
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	rec := post("sess-1", url.Values{"action": {"ktp_list_items"}, shared.NonceFormField: {nonce}}, "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "sess-1", seenSession)

	rec = post("sess-1", url.Values{"action": {"ktp_list_items"}}, nonce)
	require.Equal(t, http.StatusNoContent, rec.Code)

	cases := map[string]*httptest.ResponseRecorder{
		"missing nonce":   post("sess-1", url.Values{"action": {"ktp_list_items"}}, ""),
		"missing session": post("", url.Values{shared.NonceFormField: {nonce}}, ""),
		"other session":   post("sess-2", url.Values{shared.NonceFormField: {nonce}}, ""),
	}
	for name, rec := range cases {
		t.Run(name, func(t *testing.T) {
			require.Equal(t, http.StatusUnauthorized, rec.Code)
			var env envelope
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
			require.False(t, env.Success)
			require.Contains(t, string(env.Data), `"code":"unauthorized"`)
		})
	}

	query := url.Values{SessionQueryParam: {"sess-1"}, shared.NonceFormField: {nonce}}
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/download?"+query.Encode(), nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestAjaxRateLimitUsesEnvelope(t *testing.T) {
	r := chi.NewRouter()
	r.Use(AjaxRateLimit(1))
	r.Post("/ajax", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/ajax", nil)
		req.Header.Set(shared.SessionHeader, "sess-9")
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}
	require.Equal(t, http.StatusNoContent, send().Code)
	rec := send()
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Contains(t, rec.Body.String(), `"rate_limited"`)
}
