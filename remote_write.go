package cytoqc

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/golang/snappy"
	"github.com/prometheus/prometheus/prompb"
)

// Series names pushed by RemoteWriter.
const (
	SeriesWindowFlagged  = "cytoqc_window_flagged"
	SeriesWindowITScore  = "cytoqc_window_it_score"
	SeriesRemovedPercent = "cytoqc_run_removed_percent"
)

// RemoteWriteConfig configures pushing run diagnostics to a Prometheus
// remote-write endpoint.
type RemoteWriteConfig struct {
	URL     string            `yaml:"url"`
	Timeout time.Duration     `yaml:"timeout"`
	Headers map[string]string `yaml:"headers"`
	// ExtraLabels are attached to every series.
	ExtraLabels map[string]string `yaml:"extra_labels"`
	MaxRetries  int               `yaml:"max_retries"`
}

// RemoteWriter pushes per-window verdicts and run totals as Prometheus
// time series.
type RemoteWriter struct {
	cfg     RemoteWriteConfig
	client  *http.Client
	retryer *Retryer
	breaker *CircuitBreaker
}

// NewRemoteWriter validates cfg and returns a writer.
func NewRemoteWriter(cfg RemoteWriteConfig) (*RemoteWriter, error) {
	if cfg.URL == "" {
		return nil, configError("remote write url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	return &RemoteWriter{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		retryer: NewRetryer(RetryConfig{
			MaxAttempts:    cfg.MaxRetries,
			InitialBackoff: 200 * time.Millisecond,
			MaxBackoff:     5 * time.Second,
			RetryIf:        IsRetryable,
		}),
		breaker: NewCircuitBreaker(5, 30*time.Second),
	}, nil
}

// BuildWriteRequest converts res into a remote-write request. Each window
// becomes a flagged series (0 or 1) and, when the isolation forest ran, a
// score series; the run adds one removed-percentage series. All samples
// carry the timestamp at.
func BuildWriteRequest(res *Result, source string, at time.Time, extra map[string]string) *prompb.WriteRequest {
	ts := at.UnixMilli()
	base := map[string]string{"run_id": res.RunID}
	if source != "" {
		base["source"] = source
	}
	for k, v := range extra {
		base[k] = v
	}

	req := &prompb.WriteRequest{}
	add := func(name string, extraLabels map[string]string, v float64) {
		req.Timeseries = append(req.Timeseries, prompb.TimeSeries{
			Labels:  seriesLabels(name, base, extraLabels),
			Samples: []prompb.Sample{{Value: v, Timestamp: ts}},
		})
	}

	for i, bad := range res.Stages.Final {
		w := map[string]string{"window": strconv.Itoa(i)}
		v := 0.0
		if bad {
			v = 1
		}
		add(SeriesWindowFlagged, w, v)
		if i < len(res.ITScores) {
			add(SeriesWindowITScore, w, res.ITScores[i])
		}
	}
	add(SeriesRemovedPercent, nil, res.PercentageRemoved)
	return req
}

// seriesLabels merges label sets and sorts them by name, as remote-write
// receivers require.
func seriesLabels(name string, sets ...map[string]string) []prompb.Label {
	merged := map[string]string{"__name__": name}
	for _, s := range sets {
		for k, v := range s {
			merged[k] = v
		}
	}
	labels := make([]prompb.Label, 0, len(merged))
	for k, v := range merged {
		labels = append(labels, prompb.Label{Name: k, Value: v})
	}
	sort.Slice(labels, func(i, j int) bool { return labels[i].Name < labels[j].Name })
	return labels
}

// Push sends the diagnostics of res. Server errors and throttling are
// retried; other client errors are not.
func (w *RemoteWriter) Push(ctx context.Context, res *Result, source string) error {
	req := BuildWriteRequest(res, source, time.Now(), w.cfg.ExtraLabels)
	raw, err := req.Marshal()
	if err != nil {
		return fmt.Errorf("remote write: encode: %w", err)
	}
	body := snappy.Encode(nil, raw)

	return w.breaker.Execute(func() error {
		return w.retryer.Do(ctx, func() error { return w.send(ctx, body) }).LastErr
	})
}

func (w *RemoteWriter) send(ctx context.Context, body []byte) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Encoding", "snappy")
	httpReq.Header.Set("Content-Type", "application/x-protobuf")
	httpReq.Header.Set("X-Prometheus-Remote-Write-Version", "0.1.0")
	for k, v := range w.cfg.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := w.client.Do(httpReq)
	if err != nil {
		return &recoverableError{fmt.Errorf("remote write: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	switch {
	case resp.StatusCode/100 == 2:
		return nil
	case resp.StatusCode/100 == 5 || resp.StatusCode == http.StatusTooManyRequests:
		return &recoverableError{fmt.Errorf("remote write: status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))}
	default:
		return fmt.Errorf("remote write: status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
}
