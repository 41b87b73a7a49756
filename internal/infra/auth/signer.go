// Package auth derives per-request authentication material from a credential.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/coachpo/venuelink/internal/domain/schema"
)

// Header names attached to signed REST requests.
const (
	HeaderAPIKey    = "X-API-Key"
	HeaderClientID  = "X-Client-Id"
	HeaderTimestamp = "X-Timestamp"
	HeaderSignature = "X-Signature"
)

// Signer computes HMAC-SHA256 signatures. It holds no state; the zero value is ready to use.
type Signer struct{}

// Sign derives the session signature for timestamp and credential.
// The MAC covers the millisecond timestamp, the key and the client id.
func (Signer) Sign(timestamp time.Time, cred schema.Credential) (string, error) {
	if err := cred.Validate(); err != nil {
		return "", err
	}
	return signPayload(Timestamp(timestamp)+cred.Key()+cred.ClientID(), cred.Secret()), nil
}

// SignRequest binds method, path and body into the signature for a REST call.
func (Signer) SignRequest(timestamp time.Time, cred schema.Credential, method, path string, body []byte) (string, error) {
	if err := cred.Validate(); err != nil {
		return "", err
	}
	var b strings.Builder
	b.Grow(32 + len(method) + len(path) + len(body))
	b.WriteString(Timestamp(timestamp))
	b.WriteString(cred.Key())
	b.WriteString(cred.ClientID())
	b.WriteString(strings.ToUpper(method))
	b.WriteString(path)
	b.Write(body)
	return signPayload(b.String(), cred.Secret()), nil
}

// Headers returns the full header set for a signed REST call.
func (s Signer) Headers(timestamp time.Time, cred schema.Credential, method, path string, body []byte) (http.Header, error) {
	signature, err := s.SignRequest(timestamp, cred, method, path, body)
	if err != nil {
		return nil, err
	}
	h := make(http.Header, 4)
	h.Set(HeaderAPIKey, cred.Key())
	if cred.ClientID() != "" {
		h.Set(HeaderClientID, cred.ClientID())
	}
	h.Set(HeaderTimestamp, Timestamp(timestamp))
	h.Set(HeaderSignature, signature)
	return h, nil
}

// Timestamp renders t the way it is signed and sent: unix milliseconds.
func Timestamp(t time.Time) string {
	return strconv.FormatInt(t.UTC().UnixMilli(), 10)
}

func signPayload(payload, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
