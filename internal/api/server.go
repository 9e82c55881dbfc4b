package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/smazurov/edgerelay/internal/api/models"
	"github.com/smazurov/edgerelay/internal/events"
	"github.com/smazurov/edgerelay/internal/logging"
	"github.com/smazurov/edgerelay/internal/pipeline"
	"github.com/smazurov/edgerelay/internal/relay"
	"github.com/smazurov/edgerelay/internal/version"
)

// DefaultMaxBodyBytes bounds an upload body.
const DefaultMaxBodyBytes int64 = 10 << 20

const (
	defaultPreviewQuality = 80
	shutdownTimeout       = 5 * time.Second
)

// PipelineService is the running capture pipeline as seen by the API.
type PipelineService interface {
	Snapshot() pipeline.Snapshot
	SetEdgeDetection(enabled bool)
	SetUploadTarget(enabled bool, url string)
	PreviewJPEG(quality int) ([]byte, bool, error)
}

// Options configures a Server. Relay and Pipeline select which routes are
// mounted; either may be nil.
type Options struct {
	Relay             *relay.State
	Pipeline          PipelineService
	EventBus          *events.Bus
	MaxBodyBytes      int64
	PreviewQuality    int
	PrometheusHandler http.Handler // Optional Prometheus metrics handler
	OnListening       func()       // Called once the listener is bound
}

// Server is the HTTP surface of the relay and of the capture command.
type Server struct {
	api        huma.API
	mux        *http.ServeMux
	mu         sync.Mutex
	httpServer *http.Server
	stopped    bool
	relay      *relay.State
	pipeline   PipelineService
	eventBus   *events.Bus
	options    Options
	logger     *slog.Logger
}

// NewServer creates a new API server with Huma v2 using Go 1.22+ native routing
func NewServer(opts *Options) *Server {
	o := *opts
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if o.PreviewQuality <= 0 {
		o.PreviewQuality = defaultPreviewQuality
	}
	if o.EventBus == nil {
		o.EventBus = events.New()
	}

	mux := http.NewServeMux()

	corsConfig := DefaultCORSConfig()

	// Add CORS preflight handler for all OPTIONS requests
	AddCORSHandler(mux, corsConfig)

	config := huma.DefaultConfig("EdgeRelay API", "1.0.0")
	config.Info.Description = "Frame relay and edge-detection capture pipeline"
	// Empty servers list will make OpenAPI use relative paths, working with any host
	config.Servers = []*huma.Server{}

	api := humago.New(mux, config)

	server := &Server{
		api:      api,
		mux:      mux,
		relay:    o.Relay,
		pipeline: o.Pipeline,
		eventBus: o.EventBus,
		options:  o,
		logger:   logging.GetLogger("api"),
	}

	api.UseMiddleware(NewCORSMiddleware(corsConfig))
	api.UseMiddleware(HTTPLoggingMiddleware)

	if o.PrometheusHandler != nil {
		mux.Handle("GET /metrics", o.PrometheusHandler)
	}

	server.registerRoutes()

	return server
}

// GetMux returns the underlying HTTP ServeMux for additional setup
func (s *Server) GetMux() *http.ServeMux {
	return s.mux
}

// GetAPI returns the Huma API instance
func (s *Server) GetAPI() huma.API {
	return s.api
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start listens on addr and blocks until the server stops.
func (s *Server) Start(addr string) error {
	s.logger.Info("Starting EdgeRelay API server", "addr", addr)
	s.logger.Info("OpenAPI documentation available", "url", "http://"+addr+"/docs")

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return http.ErrServerClosed
	}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	httpServer := s.httpServer
	s.mu.Unlock()

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	if s.options.OnListening != nil {
		s.options.OnListening()
	}
	return httpServer.Serve(ln)
}

// Stop disconnects push subscribers and shuts the listener down, waiting a
// bounded time for in-flight uploads.
func (s *Server) Stop() error {
	s.logger.Info("Stopping API server")

	var relayErr error
	if s.relay != nil {
		relayErr = s.relay.Close()
	}

	s.mu.Lock()
	s.stopped = true
	httpServer := s.httpServer
	s.mu.Unlock()
	if httpServer == nil {
		return relayErr
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := httpServer.Shutdown(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		err = httpServer.Close()
	}
	return errors.Join(err, relayErr)
}

// registerRoutes sets up all API endpoints
func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "health-check",
		Method:      http.MethodGet,
		Path:        "/api/health",
		Summary:     "Health",
		Description: "Check API health status",
		Tags:        []string{"health"},
	}, func(ctx context.Context, input *struct{}) (*models.HealthResponse, error) {
		return &models.HealthResponse{
			Body: models.HealthData{
				Status:  "ok",
				Message: "API is healthy",
			},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-version",
		Method:      http.MethodGet,
		Path:        "/api/version",
		Summary:     "Version",
		Description: "Get application version information",
		Tags:        []string{"system"},
	}, func(ctx context.Context, input *struct{}) (*models.VersionResponse, error) {
		versionInfo := version.Get()
		return &models.VersionResponse{
			Body: models.VersionData{
				Version:   versionInfo.Version,
				GitCommit: versionInfo.GitCommit,
				BuildDate: versionInfo.BuildDate,
				BuildID:   versionInfo.BuildID,
				GoVersion: versionInfo.GoVersion,
				Compiler:  versionInfo.Compiler,
				Platform:  versionInfo.Platform,
			},
		}, nil
	})

	s.registerLogRoutes()
	s.registerSSERoutes()

	if s.relay != nil {
		s.registerRelayRoutes()
	}
	if s.pipeline != nil {
		s.registerPipelineRoutes()
		s.registerDeviceRoutes()
	}
}
