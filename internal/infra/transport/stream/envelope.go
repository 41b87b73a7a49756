package stream

import (
	"errors"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/coachpo/venuelink/internal/domain/schema"
	"github.com/coachpo/venuelink/internal/infra/auth"
)

var errMalformedEnvelope = errors.New("malformed envelope")

type inboundEnvelope struct {
	Type      schema.EventType `json:"type"`
	Data      json.RawMessage  `json:"data"`
	Payload   json.RawMessage  `json:"payload"`
	Timestamp string           `json:"timestamp"`
}

func (e inboundEnvelope) body() json.RawMessage {
	if len(e.Data) > 0 {
		return e.Data
	}
	return e.Payload
}

func (e inboundEnvelope) time(fallback time.Time) time.Time {
	if e.Timestamp == "" {
		return fallback
	}
	if ts, err := time.Parse(time.RFC3339Nano, e.Timestamp); err == nil {
		return ts
	}
	return fallback
}

func decodeEnvelope(raw []byte) (inboundEnvelope, error) {
	var env inboundEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return env, errors.Join(errMalformedEnvelope, err)
	}
	env.Type = schema.EventType(strings.ToLower(strings.TrimSpace(string(env.Type))))
	if env.Type == "" {
		return env, errMalformedEnvelope
	}
	return env, nil
}

type authRequest struct {
	Type schema.EventType `json:"type"`
	Data authRequestData  `json:"data"`
}

type authRequestData struct {
	APIKey    string `json:"apiKey"`
	ClientID  string `json:"clientId,omitempty"`
	Timestamp string `json:"timestamp"`
	Signature string `json:"signature"`
}

type authAck struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func encodeAuth(signer auth.Signer, cred schema.Credential, now time.Time) ([]byte, error) {
	signature, err := signer.Sign(now, cred)
	if err != nil {
		return nil, err
	}
	return json.Marshal(authRequest{
		Type: schema.EventTypeAuth,
		Data: authRequestData{
			APIKey:    cred.Key(),
			ClientID:  cred.ClientID(),
			Timestamp: auth.Timestamp(now),
			Signature: signature,
		},
	})
}
