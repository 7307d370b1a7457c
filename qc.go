package cytoqc

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/cytoqc/cytoqc/internal/binning"
	"github.com/cytoqc/cytoqc/internal/consecutive"
	"github.com/cytoqc/cytoqc/internal/density"
	"github.com/cytoqc/cytoqc/internal/iforest"
	"github.com/cytoqc/cytoqc/internal/mad"
	"github.com/cytoqc/cytoqc/internal/peaks"
)

// highRemovalPercent is the removal share above which a run logs a warning.
const highRemovalPercent = 70.0

// StageMasks holds the window verdicts (true = bad) produced by each stage.
// A stage that did not run leaves its mask nil.
type StageMasks struct {
	// Forest holds the windows flagged by the isolation forest.
	Forest []bool `json:"isolation_forest,omitempty"`
	// MAD holds the windows flagged by the MAD detector alone.
	MAD []bool `json:"mad,omitempty"`
	// Final holds the merged verdict after the consecutive filter.
	Final []bool `json:"final"`
}

// Result is the outcome of a QC run.
type Result struct {
	RunID string `json:"run_id"`

	// GoodEvents holds one entry per event; true keeps the event.
	GoodEvents []bool `json:"-"`

	// PercentageRemoved is the share of events discarded.
	PercentageRemoved float64 `json:"percentage_removed"`
	// ITPercentage is the share of windows flagged by the isolation forest,
	// nil when it did not run successfully.
	ITPercentage *float64 `json:"it_percentage"`
	// MADPercentage is the share of windows flagged once the MAD detector
	// has run, isolation forest flags included. Nil when MAD did not run.
	MADPercentage *float64 `json:"mad_percentage"`
	// ConsecutivePercentage is PercentageRemoved minus MADPercentage.
	ConsecutivePercentage float64 `json:"consecutive_percentage"`

	Peaks           map[string]*ChannelPeakSet `json:"peaks"`
	Windows         []Window                   `json:"windows"`
	WindowCount     int                        `json:"window_count"`
	EventsPerWindow int                        `json:"events_per_window"`
	Stages          StageMasks                 `json:"stages"`
	Features        []FeatureColumn            `json:"features,omitempty"`
	ITScores        []float64                  `json:"it_scores,omitempty"`
	// MADContribution is the share of windows each channel flagged.
	MADContribution map[string]float64 `json:"mad_contribution,omitempty"`
	Warnings        []string           `json:"warnings,omitempty"`
}

// KeptEvents returns the number of events kept.
func (r *Result) KeptEvents() int {
	return binning.CountTrue(r.GoodEvents)
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger used by the engine. By default nothing is
// logged.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithObserver registers an observer for stage events.
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.observer = o
		}
	}
}

// Engine runs QC with a fixed configuration. It is safe for concurrent use.
type Engine struct {
	cfg      Config
	logger   *slog.Logger
	observer Observer
}

// New validates cfg and returns an engine.
func New(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:      cfg,
		logger:   slog.New(slog.DiscardHandler),
		observer: NopObserver{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.cfg }

// Run is a convenience wrapper creating an engine for a single run.
func Run(src EventSource, cfg Config) (*Result, error) {
	e, err := New(cfg)
	if err != nil {
		return nil, err
	}
	return e.Run(src)
}

// run carries the state of one invocation.
type run struct {
	*Engine
	id    string
	res   *Result
	start time.Time
}

func (r *run) observe(stage string, started time.Time, bad []bool, err error) {
	r.observer.ObserveStage(StageEvent{
		RunID:    r.id,
		Stage:    stage,
		Duration: time.Since(started),
		Flagged:  binning.CountTrue(bad),
		Windows:  r.res.WindowCount,
		Err:      err,
	})
}

func (r *run) warn(msg string, args ...any) {
	r.logger.Warn(msg, append([]any{"run_id", r.id}, args...)...)
	var b strings.Builder
	b.WriteString(msg)
	for i := 0; i+1 < len(args); i += 2 {
		fmt.Fprintf(&b, " %v=%v", args[i], args[i+1])
	}
	r.res.Warnings = append(r.res.Warnings, b.String())
}

func (r *run) fail(err error) (*Result, error) {
	r.observe(StageRun, r.start, nil, err)
	return nil, err
}

// Run executes the pipeline on src.
func (e *Engine) Run(src EventSource) (*Result, error) {
	r := &run{
		Engine: e,
		id:     uuid.NewString(),
		start:  time.Now(),
	}
	r.res = &Result{RunID: r.id}

	n := src.EventCount()
	if n == 0 {
		return r.fail(insufficientData("no events", 1, 0))
	}

	size := e.cfg.EventsPerWindow
	if size == 0 {
		size = binning.EventsPerWindow(n, e.cfg.MinEventsPerWindow, e.cfg.MaxWindows, binning.DefaultStep)
	}
	windows := binning.Split(n, size)
	r.res.Windows = windows
	r.res.WindowCount = len(windows)
	r.res.EventsPerWindow = size
	nw := len(windows)
	e.logger.Debug("windows computed", "run_id", r.id, "events", n, "events_per_window", size, "windows", nw)

	started := time.Now()
	sets, err := r.extractPeaks(src, windows)
	r.observe(StagePeaks, started, nil, err)
	if err != nil {
		return r.fail(err)
	}

	bad := make([]bool, nw)

	if e.cfg.Mode.runsForest() {
		started = time.Now()
		flags, err := r.forest(sets, nw)
		if err != nil {
			r.warn("isolation forest skipped", "err", err)
		} else {
			merge(bad, flags)
		}
		r.observe(StageForest, started, flags, err)
	}

	if e.cfg.Mode.runsMAD() {
		started = time.Now()
		res, err := mad.Detect(sets, r.res.Stages.Forest, nw, mad.Config{
			Threshold: e.cfg.MADThreshold,
			Spar:      e.cfg.Smoothing,
		})
		if err != nil {
			err = newError(KindStats, "MAD detection failed", err)
			r.observe(StageMAD, started, nil, err)
			return r.fail(err)
		}
		merge(bad, res.Flagged)
		r.res.Stages.MAD = res.Flagged
		r.res.MADContribution = res.Contribution
		pct := percent(binning.CountTrue(bad), nw)
		r.res.MADPercentage = &pct
		r.observe(StageMAD, started, res.Flagged, nil)
	}

	if e.cfg.Mode != ModeNone {
		started = time.Now()
		bad = consecutive.Fill(bad, e.cfg.ConsecutiveWindows)
		r.observe(StageConsecutive, started, bad, nil)
	}
	r.res.Stages.Final = bad

	keep := binning.ExpandMask(bad, windows, n)
	r.res.GoodEvents = keep
	r.res.PercentageRemoved = percent(n-binning.CountTrue(keep), n)
	r.res.ConsecutivePercentage = r.res.PercentageRemoved
	if r.res.MADPercentage != nil {
		r.res.ConsecutivePercentage -= *r.res.MADPercentage
	}

	if r.res.PercentageRemoved > highRemovalPercent {
		r.warn("more than 70% of events removed", "removed_pct", r.res.PercentageRemoved)
	}
	e.logger.Info("qc run complete",
		"run_id", r.id,
		"mode", e.cfg.Mode.String(),
		"windows", nw,
		"removed_pct", r.res.PercentageRemoved,
	)
	r.observe(StageRun, r.start, bad, nil)
	return r.res, nil
}

// extractPeaks processes every configured channel in parallel. Channels that
// fail are logged and skipped.
func (r *run) extractPeaks(src EventSource, windows []Window) ([]*peaks.ChannelPeakSet, error) {
	channels := r.cfg.Channels
	sets := make([]*peaks.ChannelPeakSet, len(channels))
	errs := make([]error, len(channels))
	opts := peaks.Options{
		Adjust:      1,
		GridSize:    density.DefaultGridSize,
		Removal:     r.cfg.PeakRemoval,
		RemoveZeros: r.cfg.RemoveZeros,
		MinCoverage: r.cfg.MinClusterCoverage,
	}
	n := src.EventCount()

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, ch := range channels {
		g.Go(func() error {
			values, err := src.ChannelValues(ch)
			if err != nil {
				errs[i] = err
				return nil
			}
			if len(values) != n {
				e := lengthMismatch("channel length", n, len(values))
				e.Channel = ch
				errs[i] = e
				return nil
			}
			set, err := peaks.Extract(ch, values, windows, opts)
			if err != nil {
				errs[i] = channelError(ch, err)
				return nil
			}
			sets[i] = set
			return nil
		})
	}
	// Per-channel failures are collected in errs and reported below.
	_ = g.Wait()

	var kept []*peaks.ChannelPeakSet
	r.res.Peaks = make(map[string]*ChannelPeakSet, len(channels))
	for i, ch := range channels {
		if errs[i] != nil {
			r.warn("channel skipped", "channel", ch, "err", errs[i])
			continue
		}
		kept = append(kept, sets[i])
		r.res.Peaks[ch] = sets[i]
	}
	if len(kept) == 0 {
		return nil, &Error{
			Kind:    KindNoPeaks,
			Message: "no channel produced peaks",
			Cause:   errors.Join(errs...),
		}
	}
	return kept, nil
}

func channelError(ch string, err error) error {
	var qcErr *Error
	if errors.As(err, &qcErr) {
		return err
	}
	kind := KindStats
	if errors.Is(err, peaks.ErrNoPeaks) {
		kind = KindNoPeaks
	}
	return &Error{Kind: kind, Message: "peak extraction failed", Channel: ch, Cause: err}
}

func (r *run) forest(sets []*peaks.ChannelPeakSet, nw int) ([]bool, error) {
	matrix, cols := peaks.FeatureMatrix(sets, nw)
	res, err := iforest.Detect(matrix, iforest.Config{
		Trees:      r.cfg.Trees,
		SampleSize: r.cfg.SampleSize,
		MaxDepth:   r.cfg.MaxDepth,
		MinWindows: r.cfg.ForceIT,
		Limit:      r.cfg.ITLimit,
		Seed:       r.cfg.Seed,
	}, nil)
	if err != nil {
		var short *iforest.InsufficientDataError
		switch {
		case errors.As(err, &short):
			return nil, &Error{
				Kind:     KindInsufficientData,
				Message:  "too few windows for the isolation forest",
				Required: short.Required,
				Actual:   short.Actual,
			}
		case errors.Is(err, iforest.ErrNoFeatures):
			return nil, newError(KindNoPeaks, "no features for the isolation forest", err)
		}
		return nil, newError(KindStats, "isolation forest failed", err)
	}

	r.res.Features = cols
	r.res.ITScores = res.Scores
	r.res.Stages.Forest = res.Flagged
	pct := percent(res.FlaggedCount(), nw)
	r.res.ITPercentage = &pct
	return res.Flagged, nil
}

func merge(dst, src []bool) {
	for i, b := range src {
		if b && i < len(dst) {
			dst[i] = true
		}
	}
}

func percent(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return 100 * float64(part) / float64(total)
}
