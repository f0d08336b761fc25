package pipeline

import (
	"errors"
	"testing"
	"time"

	"netdiag-mcp/internal/types"
)

func TestClassify_ExplicitCodeWins(t *testing.T) {
	// The typed code takes priority even when the message would match a
	// different substring rule.
	err := &types.TimeoutError{Operation: "probe with invalid connection", Limit: time.Second}

	if got := Classify(err); got != types.CodeTimeout {
		t.Errorf("Classify = %s, want %s", got, types.CodeTimeout)
	}
}

func TestClassify_OuterCoderWinsOverWrapped(t *testing.T) {
	inner := &types.RateLimitError{Operation: "speed_test", Reason: "token_bucket", WaitTime: time.Second}
	wrapped := &types.ProbeError{Message: "outer", Err: inner}

	// ProbeError itself is a Coder, so it wins over the wrapped error.
	if got := Classify(wrapped); got != types.CodeNetwork {
		t.Errorf("Classify = %s, want %s", got, types.CodeNetwork)
	}
}

func TestClassify_SubstringFallback(t *testing.T) {
	cases := []struct {
		msg  string
		want string
	}{
		{"operation timeout while waiting", types.CodeTimeout},
		{"upstream rate limit hit", types.CodeRateLimit},
		{"invalid parameter shape", types.CodeValidation},
		{"validation rejected input", types.CodeValidation},
		{"network unreachable", types.CodeNetwork},
		{"connection reset by peer", types.CodeNetwork},
		{"something else entirely", types.CodeExecution},
	}

	for _, tc := range cases {
		t.Run(tc.msg, func(t *testing.T) {
			if got := Classify(errors.New(tc.msg)); got != tc.want {
				t.Errorf("Classify(%q) = %s, want %s", tc.msg, got, tc.want)
			}
		})
	}
}

func TestErrorBody_RateLimitDetails(t *testing.T) {
	err := &types.RateLimitError{Operation: "speed_test", Reason: "daily_limit", WaitTime: 90 * time.Second}

	body := errorBody(err)

	if body.Code != types.CodeRateLimit {
		t.Errorf("code = %s", body.Code)
	}
	if body.Details["reason"] != "daily_limit" {
		t.Errorf("reason = %v", body.Details["reason"])
	}
	if body.Details["waitTimeMs"] != int64(90000) {
		t.Errorf("waitTimeMs = %v", body.Details["waitTimeMs"])
	}
}

func TestErrorBody_PlainError(t *testing.T) {
	body := errorBody(errors.New("boom"))

	if body.Code != types.CodeExecution || body.Message != "boom" || body.Details != nil {
		t.Errorf("unexpected body: %+v", body)
	}
}
