package tools

import (
	"context"
	"time"

	"github.com/google/jsonschema-go/jsonschema"

	"netdiag-mcp/internal/domain"
	"netdiag-mcp/internal/pipeline"
	"netdiag-mcp/internal/probe"
	"netdiag-mcp/internal/ratelimit"
	"netdiag-mcp/internal/types"
)

const (
	defaultLossPackets   = 100
	defaultLossBatchSize = 10
	defaultBatchWaitMs   = 1000
	packetLossTimeout    = 60 * time.Second
)

func (d deps) packetLossTool() *pipeline.Tool {
	return &pipeline.Tool{
		Name:        ToolTestPacketLoss,
		Description: "Measure packet loss against the edge network in batches",
		Class:       ratelimit.ClassPacketLossTest,
		Schema: objectSchema(withCommon(map[string]*jsonschema.Schema{
			"packetCount": {
				Type:        "integer",
				Minimum:     fptr(10),
				Maximum:     fptr(1000),
				Description: "Total number of probes to send",
			},
			"batchSize": {
				Type:        "integer",
				Minimum:     fptr(1),
				Maximum:     fptr(50),
				Description: "Probes sent concurrently per batch",
			},
			"batchWaitTime": {
				Type:        "integer",
				Minimum:     fptr(100),
				Maximum:     fptr(5000),
				Description: "Pause between batches, in milliseconds",
			},
		})),
		DefaultTimeout: packetLossTimeout,
		Run:            d.runPacketLoss,
	}
}

func (d deps) runPacketLoss(ctx context.Context, args map[string]any) (any, error) {
	packetCount := intArg(args, "packetCount", defaultLossPackets)
	batchSize := intArg(args, "batchSize", defaultLossBatchSize)
	batchWait := time.Duration(intArg(args, "batchWaitTime", defaultBatchWaitMs)) * time.Millisecond

	if batchSize > packetCount {
		return nil, types.NewValidationError("batchSize", "must not exceed packetCount")
	}

	results, err := d.probe.RunProbe(ctx, domain.ProbePacketLoss, &probe.Options{
		PacketCount: packetCount,
		BatchSize:   batchSize,
		BatchWait:   batchWait,
		Server:      strArg(args, "serverLocation", ""),
	})
	if err != nil {
		return nil, err
	}

	sent := results.Summary.PacketsSent
	lost := sent - results.Summary.PacketsReceived
	return map[string]any{
		"packetLoss":   floatOrZero(results.PacketLossFraction) * 100,
		"totalPackets": sent,
		"lostPackets":  lost,
		"batchResults": batchResults(results.Summary.Batches),
	}, nil
}

func batchResults(batches []domain.BatchResult) []map[string]any {
	out := make([]map[string]any, len(batches))
	for i, b := range batches {
		out[i] = map[string]any{
			"batch": b.Batch,
			"sent":  b.Sent,
			"lost":  b.Lost,
		}
	}
	return out
}
