package app

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/KantanPro/ktp-ledger/internal/platform/httpx"
	"github.com/KantanPro/ktp-ledger/internal/shared"
)

// SessionGrant is returned by POST /session.
type SessionGrant struct {
	SessionID string `json:"session_id"`
	Nonce     string `json:"nonce"`
}

// sessionHandler issues a nonce for the caller's session, minting a new
// session id when the request carries none.
func sessionHandler(nonces *shared.NonceManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.Header.Get(shared.SessionHeader)
		if _, err := uuid.Parse(sessionID); err != nil {
			sessionID = uuid.NewString()
		}
		httpx.Success(w, SessionGrant{
			SessionID: sessionID,
			Nonce:     nonces.Issue(sessionID, shared.LedgerNonceAction),
		})
	}
}
