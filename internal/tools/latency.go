package tools

import (
	"context"
	"time"

	"github.com/google/jsonschema-go/jsonschema"

	"netdiag-mcp/internal/domain"
	"netdiag-mcp/internal/pipeline"
	"netdiag-mcp/internal/probe"
	"netdiag-mcp/internal/ratelimit"
)

const (
	defaultLatencyPackets = 10
	latencyTimeout        = 30 * time.Second
)

func (d deps) latencyTool() *pipeline.Tool {
	return &pipeline.Tool{
		Name:        ToolTestLatency,
		Description: "Measure round-trip latency and jitter to the nearest edge server",
		Class:       ratelimit.ClassLatencyTest,
		Schema: objectSchema(withCommon(map[string]*jsonschema.Schema{
			"packetCount": {
				Type:        "integer",
				Minimum:     fptr(1),
				Maximum:     fptr(100),
				Description: "Number of latency samples to collect",
			},
			"measurementType": {
				Type:        "string",
				Enum:        []any{"unloaded", "loaded"},
				Description: "Accepts unloaded or loaded; both are measured the same way, on an idle connection with no load generated",
			},
		})),
		DefaultTimeout: latencyTimeout,
		Run:            d.runLatency,
	}
}

func (d deps) runLatency(ctx context.Context, args map[string]any) (any, error) {
	count := intArg(args, "packetCount", defaultLatencyPackets)

	results, err := d.probe.RunProbe(ctx, domain.ProbeLatency, &probe.Options{
		PacketCount: count,
		Server:      strArg(args, "serverLocation", ""),
	})
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"latency":         floatOrZero(results.UnloadedLatencyMs),
		"jitter":          floatOrZero(results.Summary.JitterMs),
		"packetsSent":     results.Summary.PacketsSent,
		"packetsReceived": results.Summary.PacketsReceived,
		"packetLoss":      0,
	}, nil
}

// floatOrZero keeps numeric result fields present with a zero sentinel
// when the probe omits a measurement.
func floatOrZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
