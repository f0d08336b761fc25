package pipeline

import (
	"encoding/json"
	"time"
)

// ErrorBody carries a classified failure inside the envelope.
type ErrorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Envelope is the single JSON payload emitted for every invocation
// outcome. Success envelopes carry data; failure envelopes carry the error
// plus the tool name and the isError marker.
type Envelope struct {
	Success       bool       `json:"success"`
	Data          any        `json:"data,omitempty"`
	Error         *ErrorBody `json:"error,omitempty"`
	ExecutionTime int64      `json:"executionTime"`
	Timestamp     string     `json:"timestamp"`
	ToolName      string     `json:"toolName,omitempty"`
	IsError       bool       `json:"isError,omitempty"`
}

// JSON serializes the envelope as one canonical JSON text block.
func (e *Envelope) JSON() (string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func successEnvelope(data any, started time.Time, elapsed time.Duration) *Envelope {
	return &Envelope{
		Success:       true,
		Data:          data,
		ExecutionTime: elapsed.Milliseconds(),
		Timestamp:     started.UTC().Format(time.RFC3339Nano),
	}
}

// ErrorEnvelope shapes a failure that occurred before any tool lifecycle
// could start, such as an unknown tool name.
func ErrorEnvelope(toolName string, err error, at time.Time) *Envelope {
	return errorEnvelope(toolName, errorBody(err), at, 0)
}

func errorEnvelope(toolName string, body *ErrorBody, started time.Time, elapsed time.Duration) *Envelope {
	return &Envelope{
		Success:       false,
		Error:         body,
		ExecutionTime: elapsed.Milliseconds(),
		Timestamp:     started.UTC().Format(time.RFC3339Nano),
		ToolName:      toolName,
		IsError:       true,
	}
}
