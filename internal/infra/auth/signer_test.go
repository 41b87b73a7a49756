package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/venuelink/errs"
	"github.com/coachpo/venuelink/internal/domain/schema"
)

var fixedTS = time.UnixMilli(1_700_000_000_123)

func TestSignIsDeterministic(t *testing.T) {
	cred := schema.NewCredential("key", "secret", "client")
	var s Signer

	first, err := s.Sign(fixedTS, cred)
	require.NoError(t, err)
	second, err := s.Sign(fixedTS, cred)
	require.NoError(t, err)
	require.Equal(t, first, second)

	mac := hmac.New(sha256.New, []byte("secret"))
	mac.Write([]byte("1700000000123keyclient"))
	require.Equal(t, hex.EncodeToString(mac.Sum(nil)), first)
}

func TestSignVariesWithInputs(t *testing.T) {
	var s Signer
	base, err := s.Sign(fixedTS, schema.NewCredential("key", "secret", ""))
	require.NoError(t, err)

	later, err := s.Sign(fixedTS.Add(time.Millisecond), schema.NewCredential("key", "secret", ""))
	require.NoError(t, err)
	require.NotEqual(t, base, later)

	otherSecret, err := s.Sign(fixedTS, schema.NewCredential("key", "other", ""))
	require.NoError(t, err)
	require.NotEqual(t, base, otherSecret)
}

func TestSignRejectsIncompleteCredential(t *testing.T) {
	var s Signer
	_, err := s.Sign(fixedTS, schema.NewCredential("", "secret", ""))
	require.True(t, errs.IsCode(err, errs.CodeConfiguration))

	_, err = s.Headers(fixedTS, schema.NewCredential("key", "", ""), http.MethodGet, "/api/v1/positions", nil)
	require.True(t, errs.IsCode(err, errs.CodeConfiguration))
}

func TestSignRequestBindsMethodPathAndBody(t *testing.T) {
	var s Signer
	cred := schema.NewCredential("key", "secret", "")

	get, err := s.SignRequest(fixedTS, cred, http.MethodGet, "/api/v1/orders", nil)
	require.NoError(t, err)
	post, err := s.SignRequest(fixedTS, cred, http.MethodPost, "/api/v1/orders", nil)
	require.NoError(t, err)
	withBody, err := s.SignRequest(fixedTS, cred, http.MethodPost, "/api/v1/orders", []byte(`{"symbol":"EURUSD"}`))
	require.NoError(t, err)

	require.NotEqual(t, get, post)
	require.NotEqual(t, post, withBody)
}

func TestHeaders(t *testing.T) {
	var s Signer
	h, err := s.Headers(fixedTS, schema.NewCredential("key", "secret", "client-7"), http.MethodGet, "/api/v1/account", nil)
	require.NoError(t, err)
	require.Equal(t, "key", h.Get(HeaderAPIKey))
	require.Equal(t, "client-7", h.Get(HeaderClientID))
	require.Equal(t, "1700000000123", h.Get(HeaderTimestamp))
	require.Len(t, h.Get(HeaderSignature), 64)

	noClient, err := s.Headers(fixedTS, schema.NewCredential("key", "secret", ""), http.MethodGet, "/", nil)
	require.NoError(t, err)
	require.Empty(t, noClient.Get(HeaderClientID))
}
