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
	defaultTransferBytes = 10 << 20 // 10 MiB
	bandwidthTimeout     = 30 * time.Second
)

func bandwidthProperties() map[string]*jsonschema.Schema {
	return withCommon(map[string]*jsonschema.Schema{
		"duration": {
			Type:        "integer",
			Minimum:     fptr(5),
			Maximum:     fptr(60),
			Description: "Measurement duration in seconds; accepted but not used, the transfer is sized by measurementBytes alone",
		},
		"measurementBytes": {
			Type:        "integer",
			Minimum:     fptr(1024),
			Maximum:     fptr(1 << 30),
			Description: "Number of bytes to transfer",
		},
	})
}

func (d deps) downloadTool() *pipeline.Tool {
	return &pipeline.Tool{
		Name:           ToolTestDownloadSpeed,
		Description:    "Measure download bandwidth from the edge network",
		Class:          ratelimit.ClassDownloadTest,
		Schema:         objectSchema(bandwidthProperties()),
		DefaultTimeout: bandwidthTimeout,
		Run: func(ctx context.Context, args map[string]any) (any, error) {
			return d.runBandwidth(ctx, args, domain.ProbeDownload)
		},
	}
}

func (d deps) uploadTool() *pipeline.Tool {
	return &pipeline.Tool{
		Name:           ToolTestUploadSpeed,
		Description:    "Measure upload bandwidth to the edge network",
		Class:          ratelimit.ClassUploadTest,
		Schema:         objectSchema(bandwidthProperties()),
		DefaultTimeout: bandwidthTimeout,
		Run: func(ctx context.Context, args map[string]any) (any, error) {
			return d.runBandwidth(ctx, args, domain.ProbeUpload)
		},
	}
}

func (d deps) runBandwidth(ctx context.Context, args map[string]any, shape domain.ProbeShape) (any, error) {
	results, err := d.probe.RunProbe(ctx, shape, &probe.Options{
		TransferBytes: int64(intArg(args, "measurementBytes", defaultTransferBytes)),
		Server:        strArg(args, "serverLocation", ""),
	})
	if err != nil {
		return nil, err
	}

	bandwidth := floatOrZero(results.DownloadBandwidthBps)
	if shape == domain.ProbeUpload {
		bandwidth = floatOrZero(results.UploadBandwidthBps)
	}

	return map[string]any{
		"bandwidth":  bandwidth,
		"bytes":      results.Summary.BytesTransferred,
		"duration":   results.Summary.Duration.Seconds(),
		"throughput": bandwidth / 8,
	}, nil
}
