// Package tools defines the seven network-diagnostic tools and the
// registry that executes them by name. Every tool is a pipeline.Tool
// record; the shared lifecycle lives in the pipeline, not here.
package tools

import (
	"context"

	"netdiag-mcp/internal/catalog"
	"netdiag-mcp/internal/pipeline"
	"netdiag-mcp/internal/probe"
	"netdiag-mcp/internal/types"
)

// Stable tool names.
const (
	ToolTestLatency       = "test_latency"
	ToolTestDownloadSpeed = "test_download_speed"
	ToolTestUploadSpeed   = "test_upload_speed"
	ToolTestPacketLoss    = "test_packet_loss"
	ToolRunSpeedTest      = "run_speed_test"
	ToolGetConnectionInfo = "get_connection_info"
	ToolGetServerInfo     = "get_server_info"
)

// deps bundles what tool implementations reach for.
type deps struct {
	probe   probe.Client
	catalog *catalog.Catalog
}

// Registry holds the tool catalog and routes execution through the
// pipeline.
type Registry struct {
	pipe  *pipeline.Pipeline
	tools map[string]*pipeline.Tool
	order []string
}

// New registers the seven tools.
func New(pipe *pipeline.Pipeline, probeClient probe.Client, cat *catalog.Catalog) *Registry {
	d := deps{probe: probeClient, catalog: cat}
	r := &Registry{
		pipe:  pipe,
		tools: make(map[string]*pipeline.Tool),
	}
	for _, t := range []*pipeline.Tool{
		d.latencyTool(),
		d.downloadTool(),
		d.uploadTool(),
		d.packetLossTool(),
		d.speedTestTool(),
		d.connectionInfoTool(),
		d.serverInfoTool(),
	} {
		r.tools[t.Name] = t
		r.order = append(r.order, t.Name)
	}
	return r
}

// Tools enumerates the registered tools in registration order.
func (r *Registry) Tools() []*pipeline.Tool {
	out := make([]*pipeline.Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (*pipeline.Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Execute runs the named tool through the pipeline. Unknown names yield an
// error envelope rather than a transport-level failure.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) *pipeline.Envelope {
	t, ok := r.tools[name]
	if !ok {
		return pipeline.ErrorEnvelope(name, &types.ToolNotFoundError{Name: name}, r.pipe.Now())
	}
	return r.pipe.Execute(ctx, t, args)
}
