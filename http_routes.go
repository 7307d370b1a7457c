package cytoqc

import (
	"bytes"
	"errors"
	"io"
	"mime"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
)

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(authMiddleware(newAuthenticator(s.cfg.Auth)))
	if s.limiter != nil {
		r.Use(rateLimitMiddleware(s.limiter))
	}

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/runs", s.handleCreateRun).Methods(http.MethodPost)
	api.HandleFunc("/runs", s.handleListRuns).Methods(http.MethodGet)
	api.HandleFunc("/runs/{id}", s.handleGetRun).Methods(http.MethodGet)
	api.HandleFunc("/runs/{id}", s.handleDeleteRun).Methods(http.MethodDelete)
	api.HandleFunc("/runs/{id}/mask.csv", s.handleMask).Methods(http.MethodGet)
	api.HandleFunc("/stream", s.hub.WebSocketHandler())
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.logger, map[string]string{"status": "ok"})
}

// runRequest is the JSON form of POST /api/v1/runs.
type runRequest struct {
	Source string          `json:"source"`
	Config json.RawMessage `json:"config"`
	CSV    string          `json:"csv"`
}

// runResponse summarises a finished run.
type runResponse struct {
	ID          string   `json:"id"`
	Source      string   `json:"source,omitempty"`
	EventCount  int      `json:"event_count"`
	WindowSize  int      `json:"window_size"`
	WindowCount int      `json:"window_count"`
	Summary     Summary  `json:"summary"`
	Warnings    []string `json:"warnings,omitempty"`
}

func newRunResponse(rep *Report) runResponse {
	return runResponse{
		ID:          rep.ID,
		Source:      rep.Source,
		EventCount:  rep.EventCount,
		WindowSize:  rep.WindowSize,
		WindowCount: rep.WindowCount,
		Summary:     rep.Summary,
		Warnings:    rep.Warnings,
	}
}

// handleCreateRun accepts either a CSV body configured by query parameters
// or a JSON runRequest.
func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodySize))
	if err != nil {
		jsonError(w, s.logger, http.StatusRequestEntityTooLarge, "body", err.Error())
		return
	}

	cfg := s.base
	cfg.Channels = slices.Clone(s.base.Channels)
	source := r.URL.Query().Get("source")
	csvData := body

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var req runRequest
		if err := json.Unmarshal(body, &req); err != nil {
			jsonError(w, s.logger, http.StatusBadRequest, "body", "invalid JSON: "+err.Error())
			return
		}
		if len(req.Config) > 0 {
			if err := json.Unmarshal(req.Config, &cfg); err != nil {
				jsonError(w, s.logger, http.StatusBadRequest, KindConfig.String(), err.Error())
				return
			}
		}
		if req.Source != "" {
			source = req.Source
		}
		csvData = []byte(req.CSV)
	}
	if err := applyQueryConfig(&cfg, r); err != nil {
		jsonError(w, s.logger, http.StatusBadRequest, KindConfig.String(), err.Error())
		return
	}

	ds, err := ReadCSV(bytes.NewReader(csvData))
	if err != nil {
		jsonError(w, s.logger, http.StatusBadRequest, "csv", err.Error())
		return
	}
	if len(cfg.Channels) == 0 {
		cfg.Channels = ds.FluorescenceChannelNames()
	}

	engine, err := New(cfg, WithLogger(s.logger), WithObserver(Observers{s.metrics, s.hub}))
	if err != nil {
		status, kind := statusFor(err)
		jsonError(w, s.logger, status, kind, err.Error())
		return
	}
	res, err := engine.Run(ds)
	if err != nil {
		status, kind := statusFor(err)
		jsonError(w, s.logger, status, kind, err.Error())
		return
	}
	s.metrics.ObserveResult(res)

	rep := NewReport(ds, cfg, res)
	rep.Source = source
	if err := s.store.Save(r.Context(), rep); err != nil {
		jsonError(w, s.logger, http.StatusInternalServerError, "storage", err.Error())
		return
	}
	if s.index != nil {
		if err := s.index.Insert(r.Context(), EntryFromReport(rep)); err != nil {
			s.logger.Warn("failed to index run", "id", rep.ID, "err", err)
		}
	}
	if s.remote != nil {
		if err := s.remote.Push(r.Context(), res, source); err != nil {
			s.logger.Warn("remote write failed", "id", rep.ID, "err", err)
		}
	}

	w.Header().Set("Location", "/api/v1/runs/"+rep.ID)
	writeJSONStatus(w, s.logger, http.StatusCreated, newRunResponse(rep))
}

// applyQueryConfig overrides cfg with the recognised query parameters.
func applyQueryConfig(cfg *Config, r *http.Request) error {
	q := r.URL.Query()
	if v := q.Get("channels"); v != "" {
		cfg.Channels = strings.Split(v, ",")
	}
	if v := q.Get("mode"); v != "" {
		m, err := ParseMode(v)
		if err != nil {
			return err
		}
		cfg.Mode = m
	}
	ints := map[string]*int{
		"events_per_window":   &cfg.EventsPerWindow,
		"consecutive_windows": &cfg.ConsecutiveWindows,
		"force_it":            &cfg.ForceIT,
	}
	for name, dst := range ints {
		if v := q.Get(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return configError("%s: %v", name, err)
			}
			*dst = n
		}
	}
	floats := map[string]*float64{
		"mad_threshold": &cfg.MADThreshold,
		"it_limit":      &cfg.ITLimit,
	}
	for name, dst := range floats {
		if v := q.Get(name); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return configError("%s: %v", name, err)
			}
			*dst = f
		}
	}
	if v := q.Get("seed"); v != "" {
		seed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return configError("seed: %v", err)
		}
		cfg.Seed = seed
	}
	if v := q.Get("remove_zeros"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return configError("remove_zeros: %v", err)
		}
		cfg.RemoveZeros = b
	}
	return nil
}

// handleListRuns serves the index when one is configured, most recent
// first, and the stored report IDs otherwise.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if s.index == nil {
		ids, err := s.store.List(r.Context())
		if err != nil {
			jsonError(w, s.logger, http.StatusInternalServerError, "storage", err.Error())
			return
		}
		writeJSON(w, s.logger, map[string]any{"runs": ids})
		return
	}

	var (
		entries []IndexEntry
		err     error
	)
	if fp := q.Get("fingerprint"); fp != "" {
		n, perr := strconv.ParseUint(fp, 16, 64)
		if perr != nil {
			jsonError(w, s.logger, http.StatusBadRequest, "query", "fingerprint must be hexadecimal")
			return
		}
		entries, err = s.index.ByFingerprint(r.Context(), n)
	} else {
		limit, _ := strconv.Atoi(q.Get("limit"))
		entries, err = s.index.List(r.Context(), limit)
	}
	if err != nil {
		jsonError(w, s.logger, http.StatusInternalServerError, "index", err.Error())
		return
	}
	if entries == nil {
		entries = []IndexEntry{}
	}
	writeJSON(w, s.logger, map[string]any{"runs": entries})
}

func (s *Server) loadReport(w http.ResponseWriter, r *http.Request) (*Report, bool) {
	id := mux.Vars(r)["id"]
	rep, err := s.store.Load(r.Context(), id)
	switch {
	case err == nil:
		return rep, true
	case IsBlobNotFound(err):
		jsonError(w, s.logger, http.StatusNotFound, "not_found", "run "+id+" not found")
	case errors.Is(err, ErrConfig):
		jsonError(w, s.logger, http.StatusBadRequest, KindConfig.String(), err.Error())
	default:
		jsonError(w, s.logger, http.StatusInternalServerError, "storage", err.Error())
	}
	return nil, false
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if rep, ok := s.loadReport(w, r); ok {
		writeJSON(w, s.logger, rep)
	}
}

// handleMask streams the event mask; format=numeric selects the 2000/6000
// encoding and column renames the header.
func (s *Server) handleMask(w http.ResponseWriter, r *http.Request) {
	rep, ok := s.loadReport(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="`+rep.ID+`_mask.csv"`)

	column := r.URL.Query().Get("column")
	write := WriteMaskCSV
	if r.URL.Query().Get("format") == "numeric" {
		write = WriteMaskCSVNumeric
	}
	if err := write(w, rep.GoodEvents(), column); err != nil {
		s.logger.Warn("failed to write mask", "id", rep.ID, "err", err)
	}
}

func (s *Server) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if ok, err := s.store.Exists(r.Context(), id); err == nil && !ok {
		jsonError(w, s.logger, http.StatusNotFound, "not_found", "run "+id+" not found")
		return
	}
	if err := s.store.Delete(r.Context(), id); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrConfig) {
			status = http.StatusBadRequest
		}
		jsonError(w, s.logger, status, "storage", err.Error())
		return
	}
	if s.index != nil {
		if err := s.index.Delete(r.Context(), id); err != nil {
			s.logger.Warn("failed to remove run from index", "id", id, "err", err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}
