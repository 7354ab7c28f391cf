package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/KantanPro/ktp-ledger/internal/ledger"
)

func TestMetricsHandlerExposesPrometheusMetrics(t *testing.T) {
	metrics := NewMetrics()
	NewLedgerRecorder(metrics.Registerer()).ObserveSync("create", ledger.ItemTypeCost, nil)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)

	metrics.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}

	body := rr.Body.String()
	if !strings.Contains(body, `ktp_ledger_sync_total{op="create",outcome="ok",type="cost"} 1`) {
		t.Fatalf("expected body to contain ktp_ledger_sync_total, got: %s", body)
	}
	if !strings.Contains(body, "go_goroutines") {
		t.Fatalf("expected runtime collectors, got: %s", body)
	}
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		SetAction(r.Context(), "ktp_update_item")
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/ajax")

	req := httptest.NewRequest(http.MethodPost, "/ajax", nil)
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx)
	req = req.WithContext(ctx)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusTeapot {
		t.Fatalf("expected status %d, got %d", http.StatusTeapot, rr.Code)
	}

	metricsRR := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(metricsRR, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	metricsBody := metricsRR.Body.String()
	if !strings.Contains(metricsBody, "ktp_http_requests_total{action=\"ktp_update_item\",code=\"418\",route=\"/ajax\"} 1") {
		t.Fatalf("expected metrics to record request, got: %s", metricsBody)
	}
	if !strings.Contains(metricsBody, "ktp_http_request_duration_seconds_bucket{route=\"/ajax\"") {
		t.Fatalf("expected duration histogram to be present, got: %s", metricsBody)
	}
}

func TestLedgerRecorderOutcomes(t *testing.T) {
	metrics := NewMetrics()
	recorder := NewLedgerRecorder(metrics.Registerer())

	recorder.ObserveSync("update", ledger.ItemTypeInvoice, nil)
	recorder.ObserveSync("update", ledger.ItemTypeInvoice, errors.New("timeout"))
	recorder.ObserveSync("update", ledger.ItemTypeInvoice, fmt.Errorf("tax rate: %w", ledger.ErrValidation))

	for outcome, want := range map[string]float64{"ok": 1, "failed": 1, "rejected": 1} {
		got := testutil.ToFloat64(recorder.calls.WithLabelValues("update", "invoice", outcome))
		if got != want {
			t.Fatalf("outcome %s: expected %v, got %v", outcome, want, got)
		}
	}

	var nilRecorder *LedgerRecorder
	nilRecorder.ObserveSync("delete", ledger.ItemTypeCost, nil)
}

func TestSetActionWithoutMiddlewareIsNoop(t *testing.T) {
	SetAction(context.Background(), "ktp_list_items")
}
