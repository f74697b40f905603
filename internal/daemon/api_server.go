package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"recast/internal/api"
	"recast/internal/config"
	"recast/internal/logging"
	"recast/internal/recording"
	"recast/internal/services"
	"recast/internal/store"
	"recast/internal/workflow"
)

const maxRequestBody = 1 << 20

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	srv := &apiServer{
		bind:   strings.TrimSpace(cfg.API.Bind),
		logger: logging.NewComponentLogger(logger, "api"),
		daemon: d,
	}
	srv.server = &http.Server{
		Handler:           srv.routes(cfg),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

func (s *apiServer) routes(cfg *config.Config) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.observe)

	if cfg.Metrics.Enabled && s.daemon.scrape != nil {
		r.Handle(cfg.Metrics.Path, s.daemon.scrape)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(authMiddleware(cfg.API.Token))
		r.Get("/status", s.handleStatus)
		r.Route("/recordings", func(r chi.Router) {
			r.Post("/", s.handleCreate)
			r.Get("/", s.handleList)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGet)
				r.Post("/run", s.handleRun)
				r.Post("/retry", s.handleRetry)
				r.Post("/targets/{platform}/retry", s.handleRetryTarget)
				r.Post("/pause", s.handlePause)
				r.Post("/reset", s.handleReset)
				r.Post("/source-ready", s.handleSourceReady)
			})
		})
	})
	return r
}

// observe records request metrics keyed by route pattern and tags the
// request context with the chi request id.
func (s *apiServer) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		ctx := r.Context()
		if rid := middleware.GetReqID(ctx); rid != "" {
			ctx = services.WithRequestID(ctx, rid)
			r = r.WithContext(ctx)
		}
		next.ServeHTTP(ww, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.daemon.metrics.ObserveHTTP(status, r.Method, path, time.Since(start))
		s.log(r.Context()).Debug("api request",
			logging.String(logging.FieldEventType, "api_request"),
			logging.String("method", r.Method),
			logging.String("path", path),
			logging.Int("status", status),
			logging.Duration("duration", time.Since(start)),
		)
	})
}

func (s *apiServer) start(ctx context.Context) error {
	if s.bind == "" {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.ErrorWithContext(s.logger, "api server error", "api_serve_failed", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening",
		logging.String(logging.FieldEventType, "api_listening"),
		logging.String("address", listener.Addr().String()),
	)
	return nil
}

func (s *apiServer) stop() {
	if s.listener == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)
	_ = s.listener.Close()
	s.listener = nil
}

func (s *apiServer) address() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := s.daemon.Status(r.Context())
	writeJSON(w, http.StatusOK, api.DaemonStatus{
		Running:      status.Running,
		PID:          status.PID,
		DatabasePath: status.DatabasePath,
		LockFilePath: status.LockFilePath,
		Workflow:     api.FromStatusSummary(status.Workflow),
	})
}

func (s *apiServer) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req api.CreateRecordingRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	newRec, err := api.ToNewRecording(req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	view, err := s.daemon.workflow.Create(r.Context(), newRec)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.log(r.Context()).Info("recording registered",
		logging.String(logging.FieldEventType, "recording_created"),
		logging.Int64(logging.FieldRecordingID, view.Recording.ID),
		logging.String(logging.FieldTenant, view.Recording.Tenant),
	)
	writeJSON(w, http.StatusCreated, api.FromView(view))
}

func (s *apiServer) handleList(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := store.Filter{Tenant: strings.TrimSpace(query.Get("tenant"))}
	for _, value := range query["status"] {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		status, ok := recording.ParseStatus(trimmed)
		if !ok {
			s.writeError(w, r, services.Wrap(services.ErrValidation, "", "list recordings", "unknown status "+strconv.Quote(trimmed), nil))
			return
		}
		filter.Statuses = append(filter.Statuses, status)
	}
	views, err := s.daemon.workflow.List(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.RecordingListResponse{Recordings: api.FromViews(views)})
}

func (s *apiServer) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := s.recordingID(w, r)
	if !ok {
		return
	}
	view, err := s.daemon.workflow.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.FromView(view))
}

func (s *apiServer) handleRun(w http.ResponseWriter, r *http.Request) {
	id, ok := s.recordingID(w, r)
	if !ok {
		return
	}
	run, err := s.daemon.workflow.Run(r.Context(), id)
	s.writeRun(w, r, run, err)
}

func (s *apiServer) handleRetry(w http.ResponseWriter, r *http.Request) {
	id, ok := s.recordingID(w, r)
	if !ok {
		return
	}
	run, err := s.daemon.workflow.Retry(r.Context(), id)
	s.writeRun(w, r, run, err)
}

func (s *apiServer) handleRetryTarget(w http.ResponseWriter, r *http.Request) {
	id, ok := s.recordingID(w, r)
	if !ok {
		return
	}
	raw := chi.URLParam(r, "platform")
	platform, ok := recording.ParsePlatform(raw)
	if !ok {
		s.writeError(w, r, services.Wrap(services.ErrValidation, "", "retry target", "unknown platform "+strconv.Quote(raw), nil))
		return
	}
	run, err := s.daemon.workflow.RetryTarget(r.Context(), id, platform)
	s.writeRun(w, r, run, err)
}

func (s *apiServer) handlePause(w http.ResponseWriter, r *http.Request) {
	s.recordingAction(w, r, s.daemon.workflow.Pause)
}

func (s *apiServer) handleReset(w http.ResponseWriter, r *http.Request) {
	s.recordingAction(w, r, s.daemon.workflow.Reset)
}

func (s *apiServer) handleSourceReady(w http.ResponseWriter, r *http.Request) {
	var req api.SourceReadyRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.recordingAction(w, r, func(ctx context.Context, id int64) (*recording.Recording, error) {
		return s.daemon.workflow.MarkSourceReady(ctx, id, req.Blank)
	})
}

// recordingAction runs a state-changing operation and replies with the
// refreshed recording view.
func (s *apiServer) recordingAction(w http.ResponseWriter, r *http.Request, action func(context.Context, int64) (*recording.Recording, error)) {
	id, ok := s.recordingID(w, r)
	if !ok {
		return
	}
	if _, err := action(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	view, err := s.daemon.workflow.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.FromView(view))
}

func (s *apiServer) writeRun(w http.ResponseWriter, r *http.Request, run *recording.StageRun, err error) {
	switch {
	case errors.Is(err, workflow.ErrAlreadyComplete):
		writeJSON(w, http.StatusOK, api.RunResponse{AlreadyComplete: true})
	case err != nil:
		s.writeError(w, r, err)
	default:
		dto := api.FromRun(run)
		writeJSON(w, http.StatusAccepted, api.RunResponse{Run: &dto})
	}
}

func (s *apiServer) recordingID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		s.writeError(w, r, services.Wrap(services.ErrValidation, "", "parse recording id", "invalid recording id "+strconv.Quote(raw), nil))
		return 0, false
	}
	return id, true
}

func (s *apiServer) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := api.Classify(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		logging.ErrorWithContext(s.log(r.Context()), "api request failed", "api_request_failed",
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Error(err),
		)
		message = "internal error"
	}
	writeJSON(w, status, api.ErrorResponse{Error: message, Code: code})
}

func (s *apiServer) log(ctx context.Context) *slog.Logger {
	return logging.WithContext(ctx, s.logger)
}

func decodeBody(r *http.Request, out any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return services.Wrap(services.ErrValidation, "", "decode request", "invalid request body", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
