package cytoqc

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	// PostgreSQL driver
	_ "github.com/lib/pq"
	// SQLite driver using pure Go implementation
	_ "modernc.org/sqlite"
)

// Index drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// ErrRunNotIndexed is returned when a run ID is not in the index.
var ErrRunNotIndexed = errors.New("run not indexed")

// ReportIndexConfig configures the run index.
type ReportIndexConfig struct {
	// Driver is DriverSQLite or DriverPostgres. Default: sqlite.
	Driver string `yaml:"driver"`
	// DSN is a file path for SQLite or a connection string for PostgreSQL.
	DSN string `yaml:"dsn"`
	// BusyTimeout applies to SQLite only. Default: 5s.
	BusyTimeout time.Duration `yaml:"busy_timeout"`
	// MaxConnections bounds open connections. SQLite always uses one.
	MaxConnections int `yaml:"max_connections"`
}

// IndexEntry is one row of the run index.
type IndexEntry struct {
	ID             string    `json:"id"`
	CreatedAt      time.Time `json:"created_at"`
	Source         string    `json:"source,omitempty"`
	Fingerprint    uint64    `json:"fingerprint"`
	Events         int       `json:"events"`
	Windows        int       `json:"windows"`
	RemovedPercent float64   `json:"removed_pct"`
	ITPercent      *float64  `json:"it_pct"`
	MADPercent     *float64  `json:"mad_pct"`
}

// EntryFromReport extracts the index row of rep.
func EntryFromReport(rep *Report) IndexEntry {
	return IndexEntry{
		ID:             rep.ID,
		CreatedAt:      rep.CreatedAt,
		Source:         rep.Source,
		Fingerprint:    rep.Fingerprint,
		Events:         rep.EventCount,
		Windows:        rep.WindowCount,
		RemovedPercent: rep.Summary.PercentageRemoved,
		ITPercent:      rep.Summary.ITPercentage,
		MADPercent:     rep.Summary.MADPercentage,
	}
}

// ReportIndex keeps a queryable SQL table of run summaries next to the
// report blobs.
type ReportIndex struct {
	db     *sql.DB
	driver string
}

// OpenReportIndex opens the database and creates the runs table.
func OpenReportIndex(ctx context.Context, cfg ReportIndexConfig) (*ReportIndex, error) {
	if cfg.Driver == "" {
		cfg.Driver = DriverSQLite
	}
	if cfg.DSN == "" {
		return nil, configError("index dsn is required")
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 10
	}

	dsn := cfg.DSN
	switch cfg.Driver {
	case DriverSQLite:
		dsn = fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)",
			cfg.DSN, cfg.BusyTimeout.Milliseconds())
	case DriverPostgres:
	default:
		return nil, configError("unknown index driver %q", cfg.Driver)
	}

	db, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open index database: %w", err)
	}
	if cfg.Driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(cfg.MaxConnections)
		db.SetMaxIdleConns(cfg.MaxConnections / 2)
	}

	idx := &ReportIndex{db: db, driver: cfg.Driver}
	if err := idx.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize index schema: %w", err)
	}
	return idx, nil
}

func (x *ReportIndex) initSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS qc_runs (
			id TEXT PRIMARY KEY,
			created_at BIGINT NOT NULL,
			source TEXT NOT NULL,
			fingerprint TEXT NOT NULL,
			events BIGINT NOT NULL,
			windows BIGINT NOT NULL,
			removed_pct DOUBLE PRECISION NOT NULL,
			it_pct DOUBLE PRECISION,
			mad_pct DOUBLE PRECISION
		)`,
		`CREATE INDEX IF NOT EXISTS idx_qc_runs_fingerprint ON qc_runs(fingerprint)`,
		`CREATE INDEX IF NOT EXISTS idx_qc_runs_created ON qc_runs(created_at)`,
	}
	for _, s := range stmts {
		if _, err := x.db.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

// rebind rewrites ? placeholders as $1, $2, ... for PostgreSQL.
func (x *ReportIndex) rebind(query string) string {
	if x.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func fingerprintKey(fp uint64) string {
	return fmt.Sprintf("%016x", fp)
}

// Insert adds or replaces the row of e.
func (x *ReportIndex) Insert(ctx context.Context, e IndexEntry) error {
	q := x.rebind(`INSERT INTO qc_runs
		(id, created_at, source, fingerprint, events, windows, removed_pct, it_pct, mad_pct)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			created_at = excluded.created_at,
			source = excluded.source,
			fingerprint = excluded.fingerprint,
			events = excluded.events,
			windows = excluded.windows,
			removed_pct = excluded.removed_pct,
			it_pct = excluded.it_pct,
			mad_pct = excluded.mad_pct`)
	_, err := x.db.ExecContext(ctx, q,
		e.ID, e.CreatedAt.UnixNano(), e.Source, fingerprintKey(e.Fingerprint),
		e.Events, e.Windows, e.RemovedPercent, nullFloat(e.ITPercent), nullFloat(e.MADPercent))
	if err != nil {
		return fmt.Errorf("index run %s: %w", e.ID, err)
	}
	return nil
}

const selectEntry = `SELECT id, created_at, source, fingerprint, events, windows, removed_pct, it_pct, mad_pct FROM qc_runs`

// Get returns the row for id, or ErrRunNotIndexed.
func (x *ReportIndex) Get(ctx context.Context, id string) (IndexEntry, error) {
	rows, err := x.query(ctx, selectEntry+` WHERE id = ?`, id)
	if err != nil {
		return IndexEntry{}, err
	}
	if len(rows) == 0 {
		return IndexEntry{}, fmt.Errorf("%s: %w", id, ErrRunNotIndexed)
	}
	return rows[0], nil
}

// List returns the most recent runs first. A limit of 0 or less returns
// every run.
func (x *ReportIndex) List(ctx context.Context, limit int) ([]IndexEntry, error) {
	if limit <= 0 {
		return x.query(ctx, selectEntry+` ORDER BY created_at DESC, id`)
	}
	return x.query(ctx, selectEntry+` ORDER BY created_at DESC, id LIMIT ?`, limit)
}

// ByFingerprint returns the runs made on the same acquisition, most recent
// first.
func (x *ReportIndex) ByFingerprint(ctx context.Context, fp uint64) ([]IndexEntry, error) {
	return x.query(ctx, selectEntry+` WHERE fingerprint = ? ORDER BY created_at DESC, id`, fingerprintKey(fp))
}

// Delete removes the row for id. Missing rows are ignored.
func (x *ReportIndex) Delete(ctx context.Context, id string) error {
	_, err := x.db.ExecContext(ctx, x.rebind(`DELETE FROM qc_runs WHERE id = ?`), id)
	return err
}

// Close closes the database.
func (x *ReportIndex) Close() error {
	return x.db.Close()
}

func (x *ReportIndex) query(ctx context.Context, q string, args ...any) ([]IndexEntry, error) {
	rows, err := x.db.QueryContext(ctx, x.rebind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("query index: %w", err)
	}
	defer rows.Close()

	var out []IndexEntry
	for rows.Next() {
		var (
			e       IndexEntry
			created int64
			fp      string
			it, mad sql.NullFloat64
		)
		if err := rows.Scan(&e.ID, &created, &e.Source, &fp, &e.Events, &e.Windows, &e.RemovedPercent, &it, &mad); err != nil {
			return nil, err
		}
		e.CreatedAt = time.Unix(0, created).UTC()
		if e.Fingerprint, err = strconv.ParseUint(fp, 16, 64); err != nil {
			return nil, fmt.Errorf("index row %s: bad fingerprint %q", e.ID, fp)
		}
		e.ITPercent = floatPtr(it)
		e.MADPercent = floatPtr(mad)
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}
