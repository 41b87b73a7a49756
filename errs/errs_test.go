package errs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorStringIncludesFields(t *testing.T) {
	err := API("rest", http.StatusBadRequest, "E42", `{"error":"bad volume"}`)

	str := err.Error()
	require.Contains(t, str, "component=rest")
	require.Contains(t, str, "code=exchange_error")
	require.Contains(t, str, "http=400")
	require.Contains(t, str, `raw_code="E42"`)
}

func TestNilEnvelopeString(t *testing.T) {
	var e *E
	require.Equal(t, "<nil>", e.Error())
	require.False(t, e.Retryable())
}

func TestUnwrapExposesCause(t *testing.T) {
	err := Timeout("rest", context.DeadlineExceeded)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.True(t, strings.Contains(err.Error(), "deadline"))
}

func TestRetryableClassification(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"timeout", Timeout("rest", context.DeadlineExceeded), true},
		{"server error", API("rest", http.StatusBadGateway, "", ""), true},
		{"rate limited", API("rest", http.StatusTooManyRequests, "", ""), true},
		{"client error", API("rest", http.StatusNotFound, "", ""), false},
		{"configuration", Configuration("auth", "missing key"), false},
		{"fatal", Fatal("stream", "attempts exhausted", nil), false},
		{"plain error", errors.New("boom"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, Retryable(tc.err))
		})
	}
}

func TestIsCodeThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("submit order: %w", Configuration("venue", "api secret missing"))
	require.True(t, IsCode(wrapped, CodeConfiguration))
	require.False(t, IsCode(wrapped, CodeTimeout))
	require.False(t, IsCode(errors.New("plain"), CodeConfiguration))
}

func TestHTTPStatus(t *testing.T) {
	require.Equal(t, http.StatusServiceUnavailable, HTTPStatus(fmt.Errorf("x: %w", API("rest", 503, "", ""))))
	require.Zero(t, HTTPStatus(errors.New("plain")))
}

func TestNilOptionIgnored(t *testing.T) {
	err := New("venue", CodeInvalid, nil, WithMessage("  spaced  "))
	require.Equal(t, "spaced", err.Message)
}
