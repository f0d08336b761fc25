package pipeline

import (
	"errors"
	"strings"

	"netdiag-mcp/internal/types"
)

// Classify derives the stable envelope code for an error. Priority: an
// explicit code on the error itself, then message substrings, then the
// catch-all execution code.
func Classify(err error) string {
	var coder types.Coder
	if errors.As(err, &coder) {
		return coder.Code()
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"):
		return types.CodeTimeout
	case strings.Contains(msg, "rate limit"):
		return types.CodeRateLimit
	case strings.Contains(msg, "validation"), strings.Contains(msg, "invalid"):
		return types.CodeValidation
	case strings.Contains(msg, "network"), strings.Contains(msg, "connection"):
		return types.CodeNetwork
	}
	return types.CodeExecution
}

// errorBody shapes an error into the envelope's error block, attaching
// retry details for admission denials.
func errorBody(err error) *ErrorBody {
	body := &ErrorBody{
		Code:    Classify(err),
		Message: err.Error(),
	}

	var rle *types.RateLimitError
	if errors.As(err, &rle) {
		body.Details = map[string]any{
			"reason":     rle.Reason,
			"waitTimeMs": rle.WaitTime.Milliseconds(),
		}
	}
	var te *types.TimeoutError
	if errors.As(err, &te) && te.Limit > 0 {
		body.Details = map[string]any{
			"limitMs": te.Limit.Milliseconds(),
		}
	}
	var ve *types.ValidationError
	if errors.As(err, &ve) && ve.Field != "" {
		body.Details = map[string]any{
			"field": ve.Field,
		}
	}
	return body
}
