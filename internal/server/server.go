// server.go - router assembly and the HTTP server lifecycle.

package server

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/Cyxzhar/quickdrop/internal/logging"
	"github.com/Cyxzhar/quickdrop/internal/metrics"
	"github.com/Cyxzhar/quickdrop/internal/storage"
	"github.com/Cyxzhar/quickdrop/internal/upload"
)

const (
	defaultRawCacheMaxAge = 5 * time.Minute
	defaultStorageTimeout = 30 * time.Second
	defaultMaxUploadBytes = 10 << 20
	preflightMaxAge       = 86400
)

var (
	corsMethods = []string{"GET", "PUT", "OPTIONS"}
	corsHeaders = []string{"Content-Type", "X-Amz-Date", "X-Amz-Content-SHA256", "Authorization"}
)

type Config struct {
	Addr      string // e.g. ":8080"
	PublicURL string // used for links when the request carries no usable host

	DefaultTTL     time.Duration
	RawCacheMaxAge time.Duration
	StorageTimeout time.Duration
	MaxUploadBytes int64
	RateLimit      int
	RateWindow     time.Duration
	Version        string

	Store storage.Store
	// Uploads enables POST /api/upload when set.
	Uploads *upload.Pipeline
	// Breaker, when Store is wrapped in one, is reported by /health.
	Breaker *storage.Breaker
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time
}

type Server struct {
	cfg        Config
	store      storage.Store
	uploads    *upload.Pipeline
	log        *zap.Logger
	metrics    *metrics.Metrics
	limiter    *rateLimiter
	now        func() time.Time
	handler    http.Handler
	httpServer *http.Server
}

func New(cfg Config) *Server {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = upload.DefaultTTL
	}
	if cfg.RawCacheMaxAge <= 0 {
		cfg.RawCacheMaxAge = defaultRawCacheMaxAge
	}
	if cfg.StorageTimeout <= 0 {
		cfg.StorageTimeout = defaultStorageTimeout
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 120
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	s := &Server{
		cfg:     cfg,
		store:   cfg.Store,
		uploads: cfg.Uploads,
		log:     cfg.Logger,
		metrics: cfg.Metrics,
		limiter: newRateLimiter(cfg.RateLimit, cfg.RateWindow),
		now:     cfg.Now,
	}
	s.handler = s.routes()
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	// requestID -> logging -> recover -> compress -> headers -> cors -> routes
	r.Use(requestIDMiddleware)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.GetHead)
	// Images are already compressed; only pages and JSON are worth it.
	r.Use(middleware.Compress(5, "text/html", "application/json"))
	r.Use(securityHeadersMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: corsMethods,
		AllowedHeaders: corsHeaders,
		MaxAge:         preflightMaxAge,
	}))

	// Preflights carrying Origin are answered by the cors handler; this
	// covers bare OPTIONS probes.
	r.Options("/*", handlePreflight)

	r.Get("/", s.handleLanding)
	r.Get("/healthz", s.HandleLive)
	r.Get("/readyz", s.HandleReady)
	r.Get("/health", s.HandleHealth)
	r.Handle("/metrics", s.metrics.Handler())

	if s.uploads != nil {
		r.With(s.limiter.middleware).Post("/api/upload", s.handleUpload)
	}

	r.Get("/{name}", s.handleObject)

	// Anything that is not a known route is treated as a malformed id.
	invalid := func(w http.ResponseWriter, r *http.Request) {
		s.renderError(w, r, http.StatusBadRequest, msgInvalidID)
	}
	r.NotFound(invalid)
	r.MethodNotAllowed(invalid)
	return r
}

func handlePreflight(w http.ResponseWriter, _ *http.Request) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, PUT, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type, X-Amz-Date, X-Amz-Content-SHA256, Authorization")
	h.Set("Access-Control-Max-Age", "86400")
	w.WriteHeader(http.StatusOK)
}

// Handler exposes the routed handler to tests and embedding servers.
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	return s.httpServer.Serve(ln)
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.limiter.stop()
	return s.httpServer.Shutdown(ctx)
}
