package cytoqc

// ConfigBuilder provides a fluent API for constructing a [Config].
// It starts from [DefaultConfig] defaults, so only fields that differ
// from the defaults need to be set.
//
//	cfg, err := cytoqc.NewConfigBuilder("FL1-A", "FL2-A").
//	    WithMode(cytoqc.ModeMAD).
//	    WithMADThreshold(5).
//	    WithSeed(7).
//	    Build()
type ConfigBuilder struct {
	cfg Config
}

// NewConfigBuilder creates a builder pre-populated with [DefaultConfig] values.
func NewConfigBuilder(channels ...string) *ConfigBuilder {
	return &ConfigBuilder{cfg: DefaultConfig(channels...)}
}

// WithChannels replaces the examined channels.
func (b *ConfigBuilder) WithChannels(channels ...string) *ConfigBuilder {
	b.cfg.Channels = channels
	return b
}

// WithMode selects the detectors.
func (b *ConfigBuilder) WithMode(m Mode) *ConfigBuilder {
	b.cfg.Mode = m
	return b
}

// Window settings

// WithEventsPerWindow fixes the window size. 0 derives it from the data.
func (b *ConfigBuilder) WithEventsPerWindow(n int) *ConfigBuilder {
	b.cfg.EventsPerWindow = n
	return b
}

// WithMinEventsPerWindow sets the smallest derived window size.
func (b *ConfigBuilder) WithMinEventsPerWindow(n int) *ConfigBuilder {
	b.cfg.MinEventsPerWindow = n
	return b
}

// WithMaxWindows bounds the number of derived windows.
func (b *ConfigBuilder) WithMaxWindows(n int) *ConfigBuilder {
	b.cfg.MaxWindows = n
	return b
}

// Peak settings

// WithRemoveZeros drops exact zeros before density estimation.
func (b *ConfigBuilder) WithRemoveZeros(v bool) *ConfigBuilder {
	b.cfg.RemoveZeros = v
	return b
}

// WithPeakRemoval sets the relative density a peak must exceed.
func (b *ConfigBuilder) WithPeakRemoval(f float64) *ConfigBuilder {
	b.cfg.PeakRemoval = f
	return b
}

// WithMinClusterCoverage sets the reference peak count coverage in percent.
func (b *ConfigBuilder) WithMinClusterCoverage(pct float64) *ConfigBuilder {
	b.cfg.MinClusterCoverage = pct
	return b
}

// Detector settings

// WithMADThreshold sets the number of scaled MADs tolerated.
func (b *ConfigBuilder) WithMADThreshold(k float64) *ConfigBuilder {
	b.cfg.MADThreshold = k
	return b
}

// WithSmoothing sets the spline smoothing parameter.
func (b *ConfigBuilder) WithSmoothing(spar float64) *ConfigBuilder {
	b.cfg.Smoothing = spar
	return b
}

// WithITLimit sets the isolation score above which a window is flagged.
func (b *ConfigBuilder) WithITLimit(limit float64) *ConfigBuilder {
	b.cfg.ITLimit = limit
	return b
}

// WithForceIT sets the smallest window count the isolation forest runs on.
func (b *ConfigBuilder) WithForceIT(n int) *ConfigBuilder {
	b.cfg.ForceIT = n
	return b
}

// WithForest shapes the isolation forest.
func (b *ConfigBuilder) WithForest(trees, sampleSize, maxDepth int) *ConfigBuilder {
	b.cfg.Trees = trees
	b.cfg.SampleSize = sampleSize
	b.cfg.MaxDepth = maxDepth
	return b
}

// WithSeed seeds the isolation forest.
func (b *ConfigBuilder) WithSeed(seed uint64) *ConfigBuilder {
	b.cfg.Seed = seed
	return b
}

// WithConsecutiveWindows sets the shortest good run kept between bad windows.
func (b *ConfigBuilder) WithConsecutiveWindows(k int) *ConfigBuilder {
	b.cfg.ConsecutiveWindows = k
	return b
}

// Build validates and returns the configuration.
func (b *ConfigBuilder) Build() (Config, error) {
	if err := b.cfg.Validate(); err != nil {
		return Config{}, err
	}
	return b.cfg, nil
}

// MustBuild is like [ConfigBuilder.Build] but panics on validation errors.
func (b *ConfigBuilder) MustBuild() Config {
	cfg, err := b.Build()
	if err != nil {
		panic("cytoqc: invalid config: " + err.Error())
	}
	return cfg
}
