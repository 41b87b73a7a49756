package rest

import (
	"fmt"

	json "github.com/goccy/go-json"

	"github.com/coachpo/venuelink/errs"
)

// Envelope is the venue's REST response wrapper.
type Envelope[T any] struct {
	Success   bool   `json:"success"`
	Data      T      `json:"data"`
	Error     string `json:"error,omitempty"`
	Code      string `json:"code,omitempty"`
	Timestamp string `json:"timestamp"`
}

// Decode parses an enveloped body. A success=false envelope is reported as an ApiError
// carrying the response status.
func Decode[T any](resp *Response) (T, error) {
	var zero T
	if resp == nil {
		return zero, errs.New(component, errs.CodeInvalid, errs.WithMessage("nil response"))
	}
	return DecodeBody[T](resp.StatusCode, resp.Body)
}

// DecodeBody parses an enveloped body held outside a Response, e.g. a cached payload.
func DecodeBody[T any](status int, body []byte) (T, error) {
	var env Envelope[T]
	if err := json.Unmarshal(body, &env); err != nil {
		var zero T
		return zero, fmt.Errorf("decode envelope: %w", err)
	}
	if !env.Success {
		var zero T
		return zero, errs.API(component, status, env.Code, env.Error)
	}
	return env.Data, nil
}
