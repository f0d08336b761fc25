package tools

import (
	"context"
	"time"

	"github.com/google/jsonschema-go/jsonschema"

	"netdiag-mcp/internal/pipeline"
	"netdiag-mcp/internal/ratelimit"
)

const connectionInfoTimeout = 30 * time.Second

// hiddenISP replaces the provider name when the caller opts out.
const hiddenISP = "Hidden"

func (d deps) connectionInfoTool() *pipeline.Tool {
	return &pipeline.Tool{
		Name:        ToolGetConnectionInfo,
		Description: "Look up the caller's public connection details as seen by the edge network",
		Class:       ratelimit.ClassConnectionInfo,
		Schema: objectSchema(withCommon(map[string]*jsonschema.Schema{
			"includeLocation": {
				Type:        "boolean",
				Description: "Include the resolved geographic location",
			},
			"includeISP": {
				Type:        "boolean",
				Description: "Include the provider name; when false it is reported as Hidden",
			},
		})),
		DefaultTimeout: connectionInfoTimeout,
		Run:            d.runConnectionInfo,
	}
}

func (d deps) runConnectionInfo(ctx context.Context, args map[string]any) (any, error) {
	includeLocation := boolArg(args, "includeLocation", true)
	includeISP := boolArg(args, "includeISP", true)

	trace, err := d.probe.GetTrace(ctx)
	if err != nil {
		return nil, err
	}

	isp := trace.ISP
	organization := trace.ISP
	if !includeISP {
		isp = hiddenISP
		organization = hiddenISP
	}

	data := map[string]any{
		"ip":  trace.IP,
		"isp": isp,
		// The trace endpoint does not expose link type or ASN; the fields
		// stay present with the unknown sentinel.
		"connection": map[string]any{
			"type":         "unknown",
			"asn":          "unknown",
			"organization": organization,
		},
	}
	if includeLocation {
		data["location"] = map[string]any{
			"country":  trace.Country,
			"region":   trace.Region,
			"city":     trace.City,
			"timezone": trace.Timezone,
		}
	}
	return data, nil
}
