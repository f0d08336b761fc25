package tools

import (
	"context"
	"math"
	"time"

	"github.com/google/jsonschema-go/jsonschema"

	"netdiag-mcp/internal/domain"
	"netdiag-mcp/internal/pipeline"
	"netdiag-mcp/internal/probe"
	"netdiag-mcp/internal/ratelimit"
)

const speedTestTimeout = 120 * time.Second

// Component names accepted in testTypes.
const (
	componentLatency    = "latency"
	componentDownload   = "download"
	componentUpload     = "upload"
	componentPacketLoss = "packetLoss"
)

func (d deps) speedTestTool() *pipeline.Tool {
	componentEnum := []any{componentLatency, componentDownload, componentUpload, componentPacketLoss}
	return &pipeline.Tool{
		Name:        ToolRunSpeedTest,
		Description: "Run a comprehensive speed test and score the connection",
		Class:       ratelimit.ClassSpeedTest,
		Schema: objectSchema(withCommon(map[string]*jsonschema.Schema{
			"testTypes": {
				Type:        "array",
				Items:       &jsonschema.Schema{Type: "string", Enum: componentEnum},
				MinItems:    iptr(1),
				UniqueItems: true,
				Description: "Which measurements to run; defaults to all four",
			},
			"latency": objectSchema(map[string]*jsonschema.Schema{
				"packetCount": {Type: "integer", Minimum: fptr(1), Maximum: fptr(100)},
			}),
			"download": objectSchema(map[string]*jsonschema.Schema{
				"measurementBytes": {Type: "integer", Minimum: fptr(1024), Maximum: fptr(1 << 30)},
			}),
			"upload": objectSchema(map[string]*jsonschema.Schema{
				"measurementBytes": {Type: "integer", Minimum: fptr(1024), Maximum: fptr(1 << 30)},
			}),
			"packetLoss": objectSchema(map[string]*jsonschema.Schema{
				"packetCount":   {Type: "integer", Minimum: fptr(10), Maximum: fptr(1000)},
				"batchSize":     {Type: "integer", Minimum: fptr(1), Maximum: fptr(50)},
				"batchWaitTime": {Type: "integer", Minimum: fptr(100), Maximum: fptr(5000)},
			}),
		})),
		DefaultTimeout: speedTestTimeout,
		Run:            d.runSpeedTest,
	}
}

func (d deps) runSpeedTest(ctx context.Context, args map[string]any) (any, error) {
	requested := stringsArg(args, "testTypes")
	if len(requested) == 0 {
		requested = []string{componentLatency, componentDownload, componentUpload, componentPacketLoss}
	}
	wants := make(map[string]bool, len(requested))
	for _, c := range requested {
		wants[c] = true
	}

	server := strArg(args, "serverLocation", "")
	data := map[string]any{}
	var scores []float64
	var recommendations []string

	// Components run sequentially so measurements do not contend for the
	// link.
	if wants[componentLatency] {
		opts := nestedArgs(args, "latency")
		results, err := d.probe.RunProbe(ctx, domain.ProbeLatency, &probe.Options{
			PacketCount: intArg(opts, "packetCount", defaultLatencyPackets),
			Server:      server,
		})
		if err != nil {
			return nil, err
		}
		ms := floatOrZero(results.UnloadedLatencyMs)
		data[componentLatency] = map[string]any{
			"latency":         ms,
			"jitter":          floatOrZero(results.Summary.JitterMs),
			"packetsSent":     results.Summary.PacketsSent,
			"packetsReceived": results.Summary.PacketsReceived,
		}
		scores = append(scores, latencyScore(ms))
		if ms > 100 {
			recommendations = append(recommendations, "High latency detected; prefer a closer edge server or a wired connection")
		}
	}

	if wants[componentDownload] {
		opts := nestedArgs(args, "download")
		results, err := d.probe.RunProbe(ctx, domain.ProbeDownload, &probe.Options{
			TransferBytes: int64(intArg(opts, "measurementBytes", defaultTransferBytes)),
			Server:        server,
		})
		if err != nil {
			return nil, err
		}
		bps := floatOrZero(results.DownloadBandwidthBps)
		data[componentDownload] = map[string]any{
			"bandwidth": bps,
			"bytes":     results.Summary.BytesTransferred,
		}
		scores = append(scores, downloadScore(bps))
		if bps/1e6 < 25 {
			recommendations = append(recommendations, "Download bandwidth below 25 Mbps; streaming and large transfers will suffer")
		}
	}

	if wants[componentUpload] {
		opts := nestedArgs(args, "upload")
		results, err := d.probe.RunProbe(ctx, domain.ProbeUpload, &probe.Options{
			TransferBytes: int64(intArg(opts, "measurementBytes", defaultTransferBytes)),
			Server:        server,
		})
		if err != nil {
			return nil, err
		}
		bps := floatOrZero(results.UploadBandwidthBps)
		data[componentUpload] = map[string]any{
			"bandwidth": bps,
			"bytes":     results.Summary.BytesTransferred,
		}
		scores = append(scores, uploadScore(bps))
		if bps/1e6 < 10 {
			recommendations = append(recommendations, "Upload bandwidth below 10 Mbps; video calls and backups will suffer")
		}
	}

	if wants[componentPacketLoss] {
		opts := nestedArgs(args, "packetLoss")
		results, err := d.probe.RunProbe(ctx, domain.ProbePacketLoss, &probe.Options{
			PacketCount: intArg(opts, "packetCount", defaultLossPackets),
			BatchSize:   intArg(opts, "batchSize", defaultLossBatchSize),
			BatchWait:   time.Duration(intArg(opts, "batchWaitTime", defaultBatchWaitMs)) * time.Millisecond,
			Server:      server,
		})
		if err != nil {
			return nil, err
		}
		lossPct := floatOrZero(results.PacketLossFraction) * 100
		data[componentPacketLoss] = map[string]any{
			"packetLoss":   lossPct,
			"totalPackets": results.Summary.PacketsSent,
		}
		scores = append(scores, lossScore(lossPct))
		if lossPct > 1 {
			recommendations = append(recommendations, "Packet loss above 1%; check local network equipment and interference")
		}
	}

	overall := overallScore(scores)
	data["summary"] = map[string]any{
		"overallScore":    overall,
		"classification":  classify(overall),
		"recommendations": recommendations,
	}
	return data, nil
}

// Component scores per the documented scoring model.

func latencyScore(ms float64) float64 {
	return math.Max(0, 100-ms/10)
}

func downloadScore(bps float64) float64 {
	return math.Min(100, bps/1e6/100*100)
}

func uploadScore(bps float64) float64 {
	return math.Min(100, bps/1e6/25*100)
}

func lossScore(lossPct float64) float64 {
	return math.Max(0, 100-lossPct*10)
}

// overallScore is the mean of available component scores, rounded to the
// nearest integer.
func overallScore(scores []float64) int {
	if len(scores) == 0 {
		return 0
	}
	var sum float64
	for _, s := range scores {
		sum += s
	}
	return int(math.Round(sum / float64(len(scores))))
}

func classify(score int) string {
	switch {
	case score >= 80:
		return "excellent"
	case score >= 60:
		return "good"
	case score >= 40:
		return "fair"
	default:
		return "poor"
	}
}
