package cytoqc

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

// AuthConfig lists the accepted API keys. Empty lists disable
// authentication.
type AuthConfig struct {
	APIKeys      []string `yaml:"api_keys"`
	ReadOnlyKeys []string `yaml:"read_only_keys"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	// Addr is the listen address. Default: 127.0.0.1:8086.
	Addr string `yaml:"addr"`
	// RateLimit is the requests per second allowed per client; 0 disables
	// limiting. Default: 50.
	RateLimit float64 `yaml:"rate_limit"`
	// RateBurst is the token bucket size. Default: RateLimit.
	RateBurst int `yaml:"rate_burst"`
	// MaxBodySize bounds uploaded event tables. Default: 256 MiB.
	MaxBodySize int64 `yaml:"max_body_size"`
	// ReadTimeout and WriteTimeout bound each request. Default: 5m.
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	Auth         AuthConfig    `yaml:"auth"`
	Stream       StreamConfig  `yaml:"stream"`
}

// DefaultServerConfig returns the default server configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:         "127.0.0.1:8086",
		RateLimit:    50,
		MaxBodySize:  256 << 20,
		ReadTimeout:  5 * time.Minute,
		WriteTimeout: 5 * time.Minute,
		Stream:       DefaultStreamConfig(),
	}
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerLogger sets the logger for request errors and run warnings.
func WithServerLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithIndex records every run in idx and serves listings from it.
func WithIndex(idx *ReportIndex) ServerOption {
	return func(s *Server) { s.index = idx }
}

// WithRemoteWriter pushes the diagnostics of every run.
func WithRemoteWriter(rw *RemoteWriter) ServerOption {
	return func(s *Server) { s.remote = rw }
}

// WithMetrics replaces the server's metrics collectors.
func WithMetrics(m *Metrics) ServerOption {
	return func(s *Server) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithBaseConfig sets the QC configuration requests start from.
func WithBaseConfig(cfg Config) ServerOption {
	return func(s *Server) { s.base = cfg }
}

// Server exposes QC runs over HTTP.
type Server struct {
	cfg     ServerConfig
	base    Config
	store   *ReportStore
	index   *ReportIndex
	remote  *RemoteWriter
	metrics *Metrics
	hub     *StreamHub
	logger  *slog.Logger
	limiter *rateLimiter
	router  *mux.Router
	srv     *http.Server
}

// NewServer builds the API over store.
func NewServer(cfg ServerConfig, store *ReportStore, opts ...ServerOption) (*Server, error) {
	if store == nil {
		return nil, configError("server needs a report store")
	}
	def := DefaultServerConfig()
	if cfg.Addr == "" {
		cfg.Addr = def.Addr
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = def.MaxBodySize
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}

	s := &Server{
		cfg:     cfg,
		base:    DefaultConfig(),
		store:   store,
		metrics: NewMetrics(),
		hub:     NewStreamHub(cfg.Stream),
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	if cfg.RateLimit > 0 {
		s.limiter = newRateLimiter(cfg.RateLimit, cfg.RateBurst)
	}
	s.router = s.routes()
	return s, nil
}

// Handler returns the HTTP handler of the API.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub returns the stream hub receiving stage events.
func (s *Server) Hub() *StreamHub {
	return s.hub
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.srv = &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	s.logger.Info("cytoqc API listening", "addr", ln.Addr().String())

	errc := make(chan error, 1)
	go func() { errc <- s.srv.Serve(ln) }()

	sweep := time.NewTicker(time.Minute)
	defer sweep.Stop()
	for {
		select {
		case err := <-errc:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case now := <-sweep.C:
			if s.limiter != nil {
				s.limiter.sweep(now)
			}
		case <-ctx.Done():
			return s.Close()
		}
	}
}

// Close shuts the server down, waiting up to five seconds for requests.
func (s *Server) Close() error {
	if s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
