package shared

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strconv"
	"time"
)

const (
	// NonceFormField is the form field carrying the request nonce.
	NonceFormField = "nonce"
	// SessionHeader carries the opaque session identifier the nonce is bound to.
	SessionHeader = "X-KTP-Session"
	// LedgerNonceAction scopes nonces issued for line-item AJAX calls.
	LedgerNonceAction = "ktp_ajax_nonce"

	nonceLength = 16
)

// NonceManager issues and verifies short-lived action tokens bound to a session.
// A nonce stays valid for at least half and at most the whole TTL.
type NonceManager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewNonceManager returns a NonceManager using the provided secret key.
func NewNonceManager(secret string, ttl time.Duration) *NonceManager {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &NonceManager{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue creates a nonce for the session and action.
func (m *NonceManager) Issue(sessionID, action string) string {
	return m.sign(m.tick(), sessionID, action)
}

// Verify accepts nonces from the current or previous tick.
func (m *NonceManager) Verify(sessionID, action, nonce string) error {
	if sessionID == "" || nonce == "" {
		return ErrNonceMissing
	}
	tick := m.tick()
	for _, candidate := range []int64{tick, tick - 1} {
		if hmac.Equal([]byte(m.sign(candidate, sessionID, action)), []byte(nonce)) {
			return nil
		}
	}
	return ErrNonceInvalid
}

func (m *NonceManager) tick() int64 {
	half := int64(m.ttl / 2)
	if half <= 0 {
		half = 1
	}
	return m.now().UnixNano()/half + 1
}

func (m *NonceManager) sign(tick int64, sessionID, action string) string {
	mac := hmac.New(sha256.New, m.secret)
	_, _ = mac.Write([]byte(strconv.FormatInt(tick, 10)))
	_, _ = mac.Write([]byte{'|'})
	_, _ = mac.Write([]byte(action))
	_, _ = mac.Write([]byte{'|'})
	_, _ = mac.Write([]byte(sessionID))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))[:nonceLength]
}
