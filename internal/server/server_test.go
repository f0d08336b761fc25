package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"netdiag-mcp/internal/catalog"
	"netdiag-mcp/internal/pipeline"
	"netdiag-mcp/internal/probe"
	"netdiag-mcp/internal/ratelimit"
	"netdiag-mcp/internal/tools"
)

// edgeHandler mimics the edge network endpoints the probe client consumes.
func edgeHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/__down", func(w http.ResponseWriter, r *http.Request) {
		n, _ := strconv.ParseInt(r.URL.Query().Get("bytes"), 10, 64)
		w.WriteHeader(http.StatusOK)
		if n > 0 {
			w.Write(make([]byte, n))
		}
	})
	mux.HandleFunc("/__up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/cdn-cgi/trace", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "ip=1.2.3.4\nisp=Test ISP\nloc=US\nregion=CA\ncity=San Francisco\ntimezone=America/Los_Angeles")
	})
	mux.HandleFunc("/locations", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"iata":"SJC","city":"San Jose","region":"California","country":"US","lat":37.36,"lon":-121.93}]`)
	})
	return mux
}

// newSession wires the full stack behind in-memory transports and returns
// a connected client session.
func newSession(t *testing.T) *mcp.ClientSession {
	t.Helper()

	upstream := httptest.NewServer(edgeHandler())
	t.Cleanup(upstream.Close)

	limiter := ratelimit.New(ratelimit.DefaultConfigs(), ratelimit.DefaultBackoff())
	probeClient := probe.NewHTTPClient(probe.Config{BaseURL: upstream.URL})
	cat := catalog.New(probeClient, limiter)
	registry := tools.New(pipeline.New(limiter), probeClient, cat)
	srv := New(registry, "netdiag-mcp", "test")

	clientTransport, serverTransport := mcp.NewInMemoryTransports()

	ctx := context.Background()
	serverSession, err := srv.MCP().Connect(ctx, serverTransport, nil)
	if err != nil {
		t.Fatalf("server connect: %v", err)
	}
	t.Cleanup(func() { serverSession.Wait() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "test"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })

	return session
}

func TestListTools(t *testing.T) {
	session := newSession(t)

	res, err := session.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatalf("list tools: %v", err)
	}

	if len(res.Tools) != 7 {
		t.Fatalf("expected 7 tools, got %d", len(res.Tools))
	}
	names := map[string]bool{}
	for _, tool := range res.Tools {
		names[tool.Name] = true
		if tool.Description == "" || tool.InputSchema == nil {
			t.Errorf("tool %s missing description or schema", tool.Name)
		}
	}
	for _, want := range []string{
		"test_latency", "test_download_speed", "test_upload_speed",
		"test_packet_loss", "run_speed_test", "get_connection_info", "get_server_info",
	} {
		if !names[want] {
			t.Errorf("missing tool %s", want)
		}
	}
}

func callEnvelope(t *testing.T, session *mcp.ClientSession, name string, args map[string]any) (map[string]any, *mcp.CallToolResult) {
	t.Helper()
	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("call %s: %v", name, err)
	}
	if len(res.Content) != 1 {
		t.Fatalf("expected one content block, got %d", len(res.Content))
	}
	text, ok := res.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("expected text content, got %T", res.Content[0])
	}
	var env map[string]any
	if err := json.Unmarshal([]byte(text.Text), &env); err != nil {
		t.Fatalf("envelope does not parse: %v", err)
	}
	return env, res
}

func TestCallTool_ConnectionInfo(t *testing.T) {
	session := newSession(t)

	env, res := callEnvelope(t, session, "get_connection_info", nil)

	if res.IsError {
		t.Fatalf("unexpected error result: %v", env)
	}
	if env["success"] != true {
		t.Fatalf("expected success envelope: %v", env)
	}
	data := env["data"].(map[string]any)
	if data["ip"] != "1.2.3.4" || data["isp"] != "Test ISP" {
		t.Errorf("unexpected data: %v", data)
	}
}

func TestCallTool_Latency(t *testing.T) {
	session := newSession(t)

	env, res := callEnvelope(t, session, "test_latency", map[string]any{"packetCount": 3})

	if res.IsError {
		t.Fatalf("unexpected error result: %v", env)
	}
	data := env["data"].(map[string]any)
	if data["packetsSent"] != float64(3) {
		t.Errorf("packetsSent = %v", data["packetsSent"])
	}
	if data["latency"].(float64) <= 0 {
		t.Errorf("latency = %v", data["latency"])
	}
}

func TestCallTool_ServerInfo(t *testing.T) {
	session := newSession(t)

	env, res := callEnvelope(t, session, "get_server_info", map[string]any{"country": "US"})

	if res.IsError {
		t.Fatalf("unexpected error result: %v", env)
	}
	data := env["data"].(map[string]any)
	if data["totalServers"] != float64(1) {
		t.Errorf("totalServers = %v", data["totalServers"])
	}
}

func TestCallTool_RateLimitEnvelope(t *testing.T) {
	session := newSession(t)

	// speed_test carries a 2-token burst; the third call hits the token
	// gate.
	callEnvelope(t, session, "run_speed_test", map[string]any{"testTypes": []any{"latency"}, "latency": map[string]any{"packetCount": 1}})
	callEnvelope(t, session, "run_speed_test", map[string]any{"testTypes": []any{"latency"}, "latency": map[string]any{"packetCount": 1}})

	env, res := callEnvelope(t, session, "run_speed_test", map[string]any{"testTypes": []any{"latency"}})

	if !res.IsError {
		t.Fatal("expected error result after bucket drain")
	}
	if env["isError"] != true || env["success"] != false {
		t.Errorf("envelope markers wrong: %v", env)
	}
	errBody := env["error"].(map[string]any)
	if errBody["code"] != "RATE_LIMIT_ERROR" {
		t.Errorf("code = %v", errBody["code"])
	}
	details := errBody["details"].(map[string]any)
	if details["reason"] != "token_bucket" {
		t.Errorf("reason = %v", details["reason"])
	}
	if details["waitTimeMs"].(float64) <= 0 {
		t.Errorf("waitTimeMs = %v", details["waitTimeMs"])
	}
}

func TestCallTool_TimeoutEnvelope(t *testing.T) {
	// An upstream that never answers; the invocation deadline must fire
	// and classify as TIMEOUT_ERROR.
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	upstream := httptest.NewServer(mux)
	t.Cleanup(upstream.Close)

	limiter := ratelimit.New(ratelimit.DefaultConfigs(), ratelimit.DefaultBackoff())
	probeClient := probe.NewHTTPClient(probe.Config{BaseURL: upstream.URL})
	cat := catalog.New(probeClient, limiter)
	registry := tools.New(pipeline.New(limiter), probeClient, cat)
	srv := New(registry, "netdiag-mcp", "test")

	clientTransport, serverTransport := mcp.NewInMemoryTransports()
	ctx := context.Background()
	if _, err := srv.MCP().Connect(ctx, serverTransport, nil); err != nil {
		t.Fatalf("server connect: %v", err)
	}
	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "test"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })

	start := time.Now()
	env, res := callEnvelope(t, session, "test_latency", map[string]any{"timeout": 1, "packetCount": 1})

	if !res.IsError {
		t.Fatal("expected error result")
	}
	errBody := env["error"].(map[string]any)
	if errBody["code"] != "TIMEOUT_ERROR" {
		t.Errorf("code = %v", errBody["code"])
	}
	if env["executionTime"].(float64) < 1 {
		t.Errorf("executionTime = %v, want >= 1ms", env["executionTime"])
	}
	if time.Since(start) < time.Second {
		t.Error("call returned before the 1s deadline")
	}
}
