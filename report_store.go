package cytoqc

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"slices"
	"strings"

	"github.com/goccy/go-json"
)

const reportPrefix = "reports/"

// ReportStore persists reports as JSON objects in a StorageBackend,
// optionally sealed by an Encryptor.
type ReportStore struct {
	backend   StorageBackend
	encryptor *Encryptor
	logger    *slog.Logger
}

// NewReportStore creates a store over backend. A nil encryptor stores
// plain JSON.
func NewReportStore(backend StorageBackend, encryptor *Encryptor, logger *slog.Logger) *ReportStore {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &ReportStore{backend: backend, encryptor: encryptor, logger: logger}
}

func reportKey(id string) string {
	return reportPrefix + id + ".json"
}

func validReportID(id string) bool {
	return id != "" && !strings.ContainsAny(id, `/\`) && id != "." && id != ".."
}

// Save writes rep under reports/<id>.json.
func (s *ReportStore) Save(ctx context.Context, rep *Report) error {
	if !validReportID(rep.ID) {
		return configError("invalid report id %q", rep.ID)
	}
	data, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("encode report %s: %w", rep.ID, err)
	}
	if s.encryptor != nil {
		if data, err = s.encryptor.Seal(data); err != nil {
			return fmt.Errorf("encrypt report %s: %w", rep.ID, err)
		}
	}
	if err := s.backend.Write(ctx, reportKey(rep.ID), data); err != nil {
		return fmt.Errorf("write report %s: %w", rep.ID, err)
	}
	s.logger.Debug("report saved", "id", rep.ID, "bytes", len(data))
	return nil
}

// Load reads the report with the given id. A missing report yields an
// error matching ErrBlobNotFound.
func (s *ReportStore) Load(ctx context.Context, id string) (*Report, error) {
	if !validReportID(id) {
		return nil, configError("invalid report id %q", id)
	}
	data, err := s.backend.Read(ctx, reportKey(id))
	if err != nil {
		return nil, fmt.Errorf("read report %s: %w", id, err)
	}
	if IsSealed(data) {
		if s.encryptor == nil {
			return nil, fmt.Errorf("report %s is encrypted and no key is configured", id)
		}
		if data, err = s.encryptor.Open(data); err != nil {
			return nil, fmt.Errorf("decrypt report %s: %w", id, err)
		}
	}
	var rep Report
	if err := json.Unmarshal(data, &rep); err != nil {
		return nil, fmt.Errorf("decode report %s: %w", id, err)
	}
	return &rep, nil
}

// List returns the stored report IDs in lexical order.
func (s *ReportStore) List(ctx context.Context) ([]string, error) {
	keys, err := s.backend.List(ctx, reportPrefix)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		name := path.Base(k)
		if id, ok := strings.CutSuffix(name, ".json"); ok {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

// Exists reports whether a report with the given id is stored.
func (s *ReportStore) Exists(ctx context.Context, id string) (bool, error) {
	if !validReportID(id) {
		return false, configError("invalid report id %q", id)
	}
	return s.backend.Exists(ctx, reportKey(id))
}

// Delete removes the report with the given id.
func (s *ReportStore) Delete(ctx context.Context, id string) error {
	if !validReportID(id) {
		return configError("invalid report id %q", id)
	}
	return s.backend.Delete(ctx, reportKey(id))
}
