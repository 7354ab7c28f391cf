package observability

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/KantanPro/ktp-ledger/internal/ledger"
)

// LedgerRecorder counts synchronizer calls by operation, table and outcome.
type LedgerRecorder struct {
	calls *prometheus.CounterVec
}

var _ ledger.Recorder = (*LedgerRecorder)(nil)

// NewLedgerRecorder registers the ledger collectors. A nil registerer uses the default one.
func NewLedgerRecorder(registerer prometheus.Registerer) *LedgerRecorder {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	calls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ktp_ledger_sync_total",
		Help: "Line-item persistence calls by operation, item type and outcome.",
	}, []string{"op", "type", "outcome"})
	registerer.MustRegister(calls)
	return &LedgerRecorder{calls: calls}
}

// ObserveSync implements ledger.Recorder.
func (r *LedgerRecorder) ObserveSync(op string, itemType ledger.ItemType, err error) {
	if r == nil {
		return
	}
	r.calls.WithLabelValues(op, string(itemType), outcome(err)).Inc()
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ledger.ErrValidation):
		return "rejected"
	default:
		return "failed"
	}
}
