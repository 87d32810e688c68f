package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/mikhailv/syncslides/internal/log"
	"github.com/mikhailv/syncslides/internal/stream"
	"github.com/mikhailv/syncslides/syncslides/internal/db"
	"github.com/mikhailv/syncslides/syncslides/internal/discovery"
	"github.com/mikhailv/syncslides/syncslides/internal/metrics"
	"github.com/mikhailv/syncslides/syncslides/internal/projection"
	"github.com/mikhailv/syncslides/syncslides/internal/types"
)

type FilterFunc[T any] func(val T) bool

type HTTPServer struct {
	logger        *slog.Logger
	server        http.Server
	loop          *projection.Loop
	db            *db.DB
	presentations *projection.List[types.PresentationAd]
	advertiser    *discovery.Advertiser
	presenter     types.Person
	logStream     *stream.Buffered[log.Entry]

	baseCtx    context.Context //nolint:containedctx // advertisements outlive the request starting them
	presenting struct {
		sync.Mutex
		cancel map[string]context.CancelFunc
	}
}

func NewHTTPServer(
	addr string,
	logger *slog.Logger,
	loop *projection.Loop,
	database *db.DB,
	presentations *projection.List[types.PresentationAd],
	advertiser *discovery.Advertiser,
	presenter types.Person,
	logStream *stream.Buffered[log.Entry],
) *HTTPServer {
	s := &HTTPServer{
		logger: logger,
		server: http.Server{
			Addr:              addr,
			ReadHeaderTimeout: 10 * time.Second,
		},
		loop:          loop,
		db:            database,
		presentations: presentations,
		advertiser:    advertiser,
		presenter:     presenter,
		logStream:     logStream,
		baseCtx:       context.Background(),
	}
	s.presenting.cancel = map[string]context.CancelFunc{}
	return s
}

func (s *HTTPServer) Serve(ctx context.Context) {
	s.baseCtx = ctx
	s.server.Handler = s.createHandler()

	context.AfterFunc(ctx, func() {
		s.logger.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("failed to shutdown server", "err", err)
		}
	})

	s.logger.Info("server starting...", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error("failed to start server", "err", err)
		os.Exit(1)
	}
}

func (s *HTTPServer) createHandler() http.Handler {
	wsLogger := log.WithPrefix(s.logger, "ws")

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.Handle("GET /api/logs", s.wrapHandler(s.handleLogs))
	mux.Handle("GET /api/logs/ws", s.handleLogsStream(wsLogger))

	mux.Handle("GET /api/decks/ws", s.handleDecksStream(wsLogger))
	mux.Handle("PUT /api/decks/{deck}", s.wrapHandler(s.handlePutDeck))
	mux.Handle("DELETE /api/decks/{deck}", s.wrapHandler(s.handleDeleteDeck))
	mux.Handle("GET /api/decks/{deck}/slides/ws", s.handleSlidesStream(wsLogger))
	mux.Handle("PUT /api/decks/{deck}/slides/{slide}", s.wrapHandler(s.handlePutSlide))
	mux.Handle("PUT /api/decks/{deck}/slides/{slide}/notes", s.wrapHandler(s.handlePutNotes))

	mux.Handle("POST /api/sessions", s.wrapHandler(s.handleCreateSession))
	mux.Handle("GET /api/sessions/{session}", s.wrapHandler(s.handleGetSession))
	mux.Handle("PUT /api/sessions/{session}/slide", s.wrapHandler(s.handleSetLocalSlide))
	mux.Handle("GET /api/sessions/{session}/slide/ws", s.handleSlideNumberStream(wsLogger))
	mux.Handle("POST /api/sessions/{session}/present", s.wrapHandler(s.handleStartPresentation))
	mux.Handle("DELETE /api/sessions/{session}/present", s.wrapHandler(s.handleStopPresentation))
	mux.Handle("PUT /api/sessions/{session}/current-slide", s.wrapHandler(s.handleSetCurrentSlide))

	mux.Handle("GET /api/presentations/ws", s.handlePresentationsStream(wsLogger))
	mux.Handle("POST /api/presentations/{ad}/join", s.wrapHandler(s.handleJoinPresentation))

	return cors.New(cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
	}).Handler(mux)
}

func (s *HTTPServer) wrapHandler(handler func(w http.ResponseWriter, req *http.Request) (statusCode int, err error)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, path := r.Method, r.URL.Path
		operation := r.Pattern
		defer metrics.TrackDuration(operation)()
		statusCode, err := handler(w, r)
		if err != nil {
			http.Error(w, err.Error(), statusCode)
			s.logger.Error(err.Error(), "method", method, "path", path, "statusCode", statusCode)
		}
		metrics.TrackStatus(operation, strconv.Itoa(statusCode))
	})
}
