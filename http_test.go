package cytoqc

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/goccy/go-json"
)

func burstCSV(t *testing.T) string {
	t.Helper()
	ds := burstDataset(t)
	values, _ := ds.ChannelValues("FL1-A")
	var b strings.Builder
	b.WriteString("FL1-A,FSC-A\n")
	for _, v := range values {
		b.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
		b.WriteString(",50000\n")
	}
	return b.String()
}

func newTestServer(t *testing.T, cfg ServerConfig, opts ...ServerOption) (*Server, *MemoryBackend) {
	t.Helper()
	backend := NewMemoryBackend()
	srv, err := NewServer(cfg, NewReportStore(backend, nil, nil), opts...)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return srv, backend
}

func doRequest(h http.Handler, method, target, contentType string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestServer_Health(t *testing.T) {
	srv, _ := newTestServer(t, ServerConfig{})
	rec := doRequest(srv.Handler(), http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("health = %d %s", rec.Code, rec.Body.String())
	}
}

func TestServer_RunLifecycle(t *testing.T) {
	srv, backend := newTestServer(t, ServerConfig{})
	h := srv.Handler()

	rec := doRequest(h, http.MethodPost, "/api/v1/runs?mode=mad&source=tube-3", "text/csv", []byte(burstCSV(t)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create = %d %s", rec.Code, rec.Body.String())
	}
	var created runResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}
	if created.ID == "" || created.EventCount != 10000 || created.WindowCount != 39 {
		t.Errorf("created = %+v", created)
	}
	if created.Summary.PercentageRemoved <= 0 || created.Source != "tube-3" {
		t.Errorf("summary = %+v", created.Summary)
	}
	if backend.Size() != 1 {
		t.Errorf("expected one stored report, got %d", backend.Size())
	}

	rec = doRequest(h, http.MethodGet, "/api/v1/runs/"+created.ID, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get = %d", rec.Code)
	}
	var rep Report
	if err := json.Unmarshal(rec.Body.Bytes(), &rep); err != nil {
		t.Fatal(err)
	}
	if len(rep.Channels) != 1 || rep.Channels[0] != "FL1-A" {
		t.Errorf("channels = %v, want only the fluorescence channel", rep.Channels)
	}

	rec = doRequest(h, http.MethodGet, "/api/v1/runs/"+created.ID+"/mask.csv?format=numeric", "", nil)
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	if rec.Code != http.StatusOK || len(lines) != 10001 || lines[0] != DefaultMaskColumn {
		t.Fatalf("mask = %d, %d lines", rec.Code, len(lines))
	}
	if lines[5001] != "6000" {
		t.Errorf("burst event should be marked bad, got %s", lines[5001])
	}

	rec = doRequest(h, http.MethodGet, "/api/v1/runs", "", nil)
	if !strings.Contains(rec.Body.String(), created.ID) {
		t.Errorf("list lacks run: %s", rec.Body.String())
	}

	rec = doRequest(h, http.MethodDelete, "/api/v1/runs/"+created.ID, "", nil)
	if rec.Code != http.StatusNoContent {
		t.Errorf("delete = %d", rec.Code)
	}
	rec = doRequest(h, http.MethodGet, "/api/v1/runs/"+created.ID, "", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("get after delete = %d", rec.Code)
	}
	rec = doRequest(h, http.MethodDelete, "/api/v1/runs/"+created.ID, "", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("second delete = %d", rec.Code)
	}
}

func TestServer_JSONRunWithIndex(t *testing.T) {
	idx := openTestIndex(t)
	srv, _ := newTestServer(t, ServerConfig{}, WithIndex(idx))
	h := srv.Handler()

	body, _ := json.Marshal(map[string]any{
		"source": "json-upload",
		"config": map[string]any{"channels": []string{"FL1-A"}, "mode": "mad"},
		"csv":    burstCSV(t),
	})
	rec := doRequest(h, http.MethodPost, "/api/v1/runs", "application/json", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create = %d %s", rec.Code, rec.Body.String())
	}
	var created runResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &created)

	entry, err := idx.Get(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("run not indexed: %v", err)
	}
	if entry.Source != "json-upload" || entry.MADPercent == nil || entry.ITPercent != nil {
		t.Errorf("entry = %+v", entry)
	}

	rec = doRequest(h, http.MethodGet, "/api/v1/runs?limit=5", "", nil)
	var list struct {
		Runs []IndexEntry `json:"runs"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil || len(list.Runs) != 1 {
		t.Errorf("list = %s", rec.Body.String())
	}
}

func TestServer_RunErrors(t *testing.T) {
	srv, _ := newTestServer(t, ServerConfig{})
	h := srv.Handler()

	tests := []struct {
		name   string
		target string
		body   string
		want   int
	}{
		{"bad csv", "/api/v1/runs", "A\nnot-a-number\n", http.StatusBadRequest},
		{"bad mode", "/api/v1/runs?mode=fast", "A\n1\n", http.StatusBadRequest},
		{"duplicate channel", "/api/v1/runs?channels=A,A", "A\n1\n2\n3\n", http.StatusBadRequest},
		{"missing channel", "/api/v1/runs?channels=B", "A\n1\n2\n3\n", http.StatusUnprocessableEntity},
		{"too few events", "/api/v1/runs?channels=A", "A\n1\n2\n", http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(h, http.MethodPost, tt.target, "text/csv", []byte(tt.body))
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestServer_Auth(t *testing.T) {
	srv, _ := newTestServer(t, ServerConfig{Auth: AuthConfig{APIKeys: []string{"rw"}, ReadOnlyKeys: []string{"ro"}}})
	h := srv.Handler()

	if rec := doRequest(h, http.MethodGet, "/health", "", nil); rec.Code != http.StatusOK {
		t.Errorf("health should skip auth, got %d", rec.Code)
	}
	if rec := doRequest(h, http.MethodGet, "/api/v1/runs", "", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("missing key = %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil)
	req.Header.Set("X-API-Key", "ro")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("read-only GET = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/runs", strings.NewReader("A\n1\n"))
	req.Header.Set("Authorization", "Bearer ro")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("read-only POST = %d", rec.Code)
	}
}

func TestServer_RateLimit(t *testing.T) {
	srv, _ := newTestServer(t, ServerConfig{RateLimit: 1, RateBurst: 2})
	h := srv.Handler()

	codes := make([]int, 3)
	for i := range codes {
		codes[i] = doRequest(h, http.MethodGet, "/health", "", nil).Code
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Errorf("codes = %v", codes)
	}
}

func TestServer_Metrics(t *testing.T) {
	srv, _ := newTestServer(t, ServerConfig{})
	h := srv.Handler()
	doRequest(h, http.MethodPost, "/api/v1/runs?mode=mad", "text/csv", []byte(burstCSV(t)))

	rec := doRequest(h, http.MethodGet, "/metrics", "", nil)
	if !strings.Contains(rec.Body.String(), `cytoqc_runs_total{outcome="ok"} 1`) {
		t.Errorf("metrics missing run counter")
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{configError("x"), http.StatusBadRequest},
		{channelNotFound("A"), http.StatusBadRequest},
		{insufficientData("x", 2, 1), http.StatusUnprocessableEntity},
		{newError(KindStats, "x", nil), http.StatusInternalServerError},
		{context.Canceled, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got, _ := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
