package probe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"netdiag-mcp/internal/domain"
	"netdiag-mcp/internal/metrics"
	"netdiag-mcp/internal/types"
)

// HTTPClient measures against the edge network over plain HTTP. It holds no
// admission state: rate limiting is the pipeline's decision, made before a
// probe ever starts.
type HTTPClient struct {
	baseURL      string
	locationsURL string
	httpc        *http.Client
}

// NewHTTPClient builds the production probe client.
func NewHTTPClient(cfg Config) *HTTPClient {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	locations := cfg.LocationsURL
	if locations == "" {
		locations = base + "/locations"
	}
	httpc := cfg.HTTPClient
	if httpc == nil {
		// Deadlines come from the caller's context, not a client-wide
		// timeout.
		httpc = &http.Client{}
	}
	return &HTTPClient{
		baseURL:      base,
		locationsURL: locations,
		httpc:        httpc,
	}
}

// RunProbe executes one measurement of the given shape and returns whatever
// metrics that shape produces.
func (c *HTTPClient) RunProbe(ctx context.Context, shape domain.ProbeShape, opts *Options) (*domain.ProbeResults, error) {
	start := time.Now()
	results, err := c.runProbe(ctx, shape, opts)
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	metrics.ProbeDuration.WithLabelValues(string(shape), outcome).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	results.Summary.Duration = time.Since(start)
	return results, nil
}

func (c *HTTPClient) runProbe(ctx context.Context, shape domain.ProbeShape, opts *Options) (*domain.ProbeResults, error) {
	switch shape {
	case domain.ProbeLatency:
		return c.measureLatency(ctx, opts)
	case domain.ProbeDownload:
		return c.measureDownload(ctx, opts)
	case domain.ProbeUpload:
		return c.measureUpload(ctx, opts)
	case domain.ProbePacketLoss:
		return c.measurePacketLoss(ctx, opts)
	case domain.ProbeFull:
		return c.measureFull(ctx, opts)
	default:
		return nil, &types.ProbeError{Message: fmt.Sprintf("unknown probe shape %q", shape)}
	}
}

// measureLatency times a series of zero-byte downloads and reports the
// median round trip plus jitter (mean absolute successive difference).
func (c *HTTPClient) measureLatency(ctx context.Context, opts *Options) (*domain.ProbeResults, error) {
	count := opts.packetCount(DefaultLatencyCount)

	var rtts []float64
	for i := 0; i < count; i++ {
		if err := ctx.Err(); err != nil {
			return nil, c.deadline(ctx, "latency probe", err)
		}
		rtt, err := c.ping(ctx)
		if err != nil {
			if timedOut(ctx, err) {
				return nil, c.deadline(ctx, "latency probe", err)
			}
			continue // a lost ping is data, not a failure
		}
		rtts = append(rtts, rtt)
	}
	if len(rtts) == 0 {
		return nil, &types.ProbeError{Message: "latency probe: no responses", Retryable: true}
	}

	return &domain.ProbeResults{
		UnloadedLatencyMs: domain.Float(median(rtts)),
		Summary: domain.ProbeSummary{
			JitterMs:        domain.Float(jitter(rtts)),
			PacketsSent:     count,
			PacketsReceived: len(rtts),
		},
	}, nil
}

// ping issues one small timed request within its own budget.
func (c *HTTPClient) ping(ctx context.Context) (ms float64, err error) {
	pctx, cancel := context.WithTimeout(ctx, pingBudget)
	defer cancel()

	start := time.Now()
	if err := c.fetchDiscard(pctx, c.downURL(0, "")); err != nil {
		return 0, err
	}
	return float64(time.Since(start)) / float64(time.Millisecond), nil
}

// measureDownload times one sized transfer from the edge.
func (c *HTTPClient) measureDownload(ctx context.Context, opts *Options) (*domain.ProbeResults, error) {
	size := opts.transferBytes()

	start := time.Now()
	n, err := c.download(ctx, size, opts.server())
	if err != nil {
		if timedOut(ctx, err) {
			return nil, c.deadline(ctx, "download probe", err)
		}
		return nil, &types.ProbeError{Message: "download probe", Retryable: isRetryable(err), Err: err}
	}
	elapsed := time.Since(start)

	bps := float64(n*8) / elapsed.Seconds()
	return &domain.ProbeResults{
		DownloadBandwidthBps: domain.Float(bps),
		Summary: domain.ProbeSummary{
			BytesTransferred: n,
		},
	}, nil
}

func (c *HTTPClient) download(ctx context.Context, size int64, server string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.downURL(size, server), nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("download: unexpected status %d", resp.StatusCode)
	}
	return io.Copy(io.Discard, resp.Body)
}

// measureUpload times one sized transfer to the edge.
func (c *HTTPClient) measureUpload(ctx context.Context, opts *Options) (*domain.ProbeResults, error) {
	size := opts.transferBytes()
	payload := bytes.Repeat([]byte{'0'}, int(size))

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/__up", bytes.NewReader(payload))
	if err != nil {
		return nil, &types.ProbeError{Message: "upload probe", Err: err}
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	resp, err := c.httpc.Do(req)
	if err != nil {
		if timedOut(ctx, err) {
			return nil, c.deadline(ctx, "upload probe", err)
		}
		return nil, &types.ProbeError{Message: "upload probe", Retryable: isRetryable(err), Err: err}
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, &types.ProbeError{Message: fmt.Sprintf("upload probe: unexpected status %d", resp.StatusCode)}
	}
	elapsed := time.Since(start)

	bps := float64(size*8) / elapsed.Seconds()
	return &domain.ProbeResults{
		UploadBandwidthBps: domain.Float(bps),
		Summary: domain.ProbeSummary{
			BytesTransferred: size,
		},
	}, nil
}

// measurePacketLoss sends small probes in batches and counts failures as
// lost packets.
func (c *HTTPClient) measurePacketLoss(ctx context.Context, opts *Options) (*domain.ProbeResults, error) {
	total := opts.packetCount(DefaultPacketCount)
	batchSize := opts.batchSize()
	wait := opts.batchWait()

	var (
		mu       sync.Mutex
		received int
		batches  []domain.BatchResult
	)

	sent := 0
	for batch := 0; sent < total; batch++ {
		if err := ctx.Err(); err != nil {
			return nil, c.deadline(ctx, "packet loss probe", err)
		}

		n := batchSize
		if remaining := total - sent; n > remaining {
			n = remaining
		}

		var wg sync.WaitGroup
		batchReceived := 0
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := c.ping(ctx); err == nil {
					mu.Lock()
					received++
					batchReceived++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		sent += n

		mu.Lock()
		batches = append(batches, domain.BatchResult{Batch: batch, Sent: n, Lost: n - batchReceived})
		mu.Unlock()

		if sent < total {
			select {
			case <-ctx.Done():
				return nil, c.deadline(ctx, "packet loss probe", ctx.Err())
			case <-time.After(wait):
			}
		}
	}

	loss := float64(sent-received) / float64(sent)
	return &domain.ProbeResults{
		PacketLossFraction: domain.Float(loss),
		Summary: domain.ProbeSummary{
			PacketsSent:     sent,
			PacketsReceived: received,
			Batches:         batches,
		},
	}, nil
}

// measureFull runs every shape sequentially so measurements do not contend
// for the link, then merges the results.
func (c *HTTPClient) measureFull(ctx context.Context, opts *Options) (*domain.ProbeResults, error) {
	latency, err := c.measureLatency(ctx, opts)
	if err != nil {
		return nil, err
	}
	download, err := c.measureDownload(ctx, opts)
	if err != nil {
		return nil, err
	}
	upload, err := c.measureUpload(ctx, opts)
	if err != nil {
		return nil, err
	}
	loss, err := c.measurePacketLoss(ctx, opts)
	if err != nil {
		return nil, err
	}

	merged := &domain.ProbeResults{
		UnloadedLatencyMs:    latency.UnloadedLatencyMs,
		DownloadBandwidthBps: download.DownloadBandwidthBps,
		UploadBandwidthBps:   upload.UploadBandwidthBps,
		PacketLossFraction:   loss.PacketLossFraction,
		Summary: domain.ProbeSummary{
			JitterMs:         latency.Summary.JitterMs,
			PacketsSent:      latency.Summary.PacketsSent + loss.Summary.PacketsSent,
			PacketsReceived:  latency.Summary.PacketsReceived + loss.Summary.PacketsReceived,
			BytesTransferred: download.Summary.BytesTransferred + upload.Summary.BytesTransferred,
			Batches:          loss.Summary.Batches,
		},
	}
	return merged, nil
}

// GetTrace fetches and parses the plaintext connection trace.
func (c *HTTPClient) GetTrace(ctx context.Context) (*domain.TraceInfo, error) {
	var body []byte
	err := c.withRetry(ctx, "trace", func() error {
		var err error
		body, err = c.fetch(ctx, c.baseURL+"/cdn-cgi/trace")
		return err
	})
	if err != nil {
		if timedOut(ctx, err) {
			return nil, c.deadline(ctx, "trace", err)
		}
		return nil, &types.ProbeError{Message: "trace fetch", Retryable: isRetryable(err), Err: err}
	}
	return ParseTrace(body), nil
}

// ListServers fetches the raw location catalog.
func (c *HTTPClient) ListServers(ctx context.Context) ([]domain.ServerEntry, error) {
	var body []byte
	err := c.withRetry(ctx, "locations", func() error {
		var err error
		body, err = c.fetch(ctx, c.locationsURL)
		return err
	})
	if err != nil {
		if timedOut(ctx, err) {
			return nil, c.deadline(ctx, "locations", err)
		}
		return nil, &types.ProbeError{Message: "locations fetch", Retryable: isRetryable(err), Err: err}
	}
	entries, err := parseLocations(body)
	if err != nil {
		return nil, &types.ProbeError{Message: "locations parse", Err: err}
	}
	return entries, nil
}

// HealthCheck reports upstream reachability. It never returns an error.
func (c *HTTPClient) HealthCheck(ctx context.Context) bool {
	hctx, cancel := context.WithTimeout(ctx, pingBudget)
	defer cancel()
	if err := c.fetchDiscard(hctx, c.baseURL+"/cdn-cgi/trace"); err != nil {
		slog.Debug("health check failed", "error", err)
		return false
	}
	return true
}

func (c *HTTPClient) downURL(size int64, server string) string {
	url := fmt.Sprintf("%s/__down?bytes=%d", c.baseURL, size)
	if server != "" {
		url += "&colo=" + server
	}
	return url
}

func (c *HTTPClient) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: unexpected status %d", url, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (c *HTTPClient) fetchDiscard(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch %s: unexpected status %d", url, resp.StatusCode)
	}
	_, err = io.Copy(io.Discard, resp.Body)
	return err
}

// deadline converts a context expiry into the typed timeout error.
func (c *HTTPClient) deadline(ctx context.Context, op string, err error) error {
	limit := time.Duration(0)
	if dl, ok := ctx.Deadline(); ok {
		limit = time.Until(dl)
		if limit < 0 {
			limit = -limit
		}
	}
	if errors.Is(err, context.Canceled) && ctx.Err() == context.Canceled {
		return err
	}
	return &types.TimeoutError{Operation: op, Limit: limit}
}

// timedOut reports whether err stems from the caller's deadline rather
// than an upstream failure.
func timedOut(ctx context.Context, err error) bool {
	if ctx.Err() == context.DeadlineExceeded {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func median(values []float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

// jitter is the mean absolute difference between successive round trips.
func jitter(rtts []float64) float64 {
	if len(rtts) < 2 {
		return 0
	}
	var sum float64
	for i := 1; i < len(rtts); i++ {
		d := rtts[i] - rtts[i-1]
		if d < 0 {
			d = -d
		}
		sum += d
	}
	return sum / float64(len(rtts)-1)
}
