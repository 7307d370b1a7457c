package cytoqc

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang/snappy"
	"github.com/prometheus/prometheus/prompb"
)

func remoteResult() *Result {
	return &Result{
		RunID:             "run-7",
		PercentageRemoved: 25,
		Stages:            StageMasks{Final: []bool{false, true, false}},
		ITScores:          []float64{0.4, 0.8, 0.5},
	}
}

func labelValue(ts prompb.TimeSeries, name string) string {
	for _, l := range ts.Labels {
		if l.Name == name {
			return l.Value
		}
	}
	return ""
}

func TestBuildWriteRequest(t *testing.T) {
	at := time.UnixMilli(1700000000000)
	req := BuildWriteRequest(remoteResult(), "tube.csv", at, map[string]string{"lab": "b2"})

	if len(req.Timeseries) != 7 {
		t.Fatalf("expected 7 series, got %d", len(req.Timeseries))
	}
	counts := map[string]int{}
	for _, ts := range req.Timeseries {
		name := labelValue(ts, "__name__")
		counts[name]++
		for i := 1; i < len(ts.Labels); i++ {
			if ts.Labels[i-1].Name >= ts.Labels[i].Name {
				t.Fatalf("labels not sorted: %v", ts.Labels)
			}
		}
		if labelValue(ts, "run_id") != "run-7" || labelValue(ts, "lab") != "b2" || labelValue(ts, "source") != "tube.csv" {
			t.Errorf("missing labels: %v", ts.Labels)
		}
		if ts.Samples[0].Timestamp != 1700000000000 {
			t.Errorf("timestamp = %d", ts.Samples[0].Timestamp)
		}
		if name == SeriesWindowFlagged && labelValue(ts, "window") == "1" && ts.Samples[0].Value != 1 {
			t.Errorf("window 1 should be flagged")
		}
	}
	if counts[SeriesWindowFlagged] != 3 || counts[SeriesWindowITScore] != 3 || counts[SeriesRemovedPercent] != 1 {
		t.Errorf("series counts = %v", counts)
	}
}

func TestRemoteWriter_Push(t *testing.T) {
	var got prompb.WriteRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Encoding") != "snappy" {
			http.Error(w, "bad encoding", http.StatusBadRequest)
			return
		}
		body, _ := io.ReadAll(r.Body)
		decoded, err := snappy.Decode(nil, body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := got.Unmarshal(decoded); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	rw, err := NewRemoteWriter(RemoteWriteConfig{URL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	if err := rw.Push(context.Background(), remoteResult(), ""); err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	if len(got.Timeseries) != 7 {
		t.Errorf("server received %d series", len(got.Timeseries))
	}
}

func TestRemoteWriter_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	rw, _ := NewRemoteWriter(RemoteWriteConfig{URL: srv.URL, MaxRetries: 3})
	if err := rw.Push(context.Background(), remoteResult(), ""); err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 calls, got %d", calls.Load())
	}
}

func TestRemoteWriter_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "out of order sample", http.StatusBadRequest)
	}))
	defer srv.Close()

	rw, _ := NewRemoteWriter(RemoteWriteConfig{URL: srv.URL})
	if err := rw.Push(context.Background(), remoteResult(), ""); err == nil {
		t.Fatal("expected an error")
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 call, got %d", calls.Load())
	}
}

func TestNewRemoteWriter_RequiresURL(t *testing.T) {
	if _, err := NewRemoteWriter(RemoteWriteConfig{}); !errors.Is(err, ErrConfig) {
		t.Errorf("expected ErrConfig, got %v", err)
	}
}
