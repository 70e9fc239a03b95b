package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bnema/warmpool/internal/application"
	"github.com/bnema/warmpool/internal/domain"
)

const (
	defaultMaxBodyBytes    = 32 << 20
	defaultShutdownTimeout = 30 * time.Second
	readHeaderTimeout      = 10 * time.Second
)

type Invoker interface {
	Invoke(ctx context.Context, call domain.Call, onChunk domain.ChunkFunc) (domain.Artifact, error)
}

type Pool interface {
	Snapshot() domain.PoolSnapshot
	Rotate(ctx context.Context) (*application.Session, error)
}

type RequestRecorder interface {
	RecordHTTPRequest(method string, route string, status int, elapsed time.Duration)
}

type Options struct {
	RateLimit       float64
	RateBurst       int
	MaxBodyBytes    int64
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	// Metrics is mounted on GET /metrics when set.
	Metrics  http.Handler
	Recorder RequestRecorder
	Logger   *zap.Logger
}

type Server struct {
	invoker Invoker
	pool    Pool
	opts    Options
	logger  *zap.Logger
	mux     *http.ServeMux
	handler http.Handler
}

type invokeRequest struct {
	Prompt   string           `json:"prompt"`
	Messages []domain.Message `json:"messages"`
	Model    string           `json:"model"`
	Options  map[string]any   `json:"options"`
	Input    string           `json:"input"`
	Stream   bool             `json:"stream"`
}

type invokeResponse struct {
	Capability domain.Capability `json:"capability"`
	Artifact   domain.Artifact   `json:"artifact"`
	RequestID  string            `json:"request_id,omitempty"`
}

type healthResponse struct {
	Status    string           `json:"status"`
	Mode      domain.PoolMode  `json:"mode"`
	Active    domain.SessionID `json:"active,omitempty"`
	Rotations int64            `json:"rotations"`
}

func NewServer(invoker Invoker, pool Pool, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = defaultShutdownTimeout
	}

	s := &Server{
		invoker: invoker,
		pool:    pool,
		opts:    opts,
		logger:  opts.Logger.With(zap.String("component", "httpapi")),
		mux:     http.NewServeMux(),
	}

	routes := []struct {
		path       string
		capability domain.Capability
	}{
		{"/v1/chat", domain.CapabilityChat},
		{"/v1/images", domain.CapabilityImage},
		{"/v1/speech", domain.CapabilityTextToSpeech},
		{"/v1/transcriptions", domain.CapabilitySpeechToText},
		{"/v1/speech-to-speech", domain.CapabilitySpeechToSpeech},
		{"/v1/search", domain.CapabilitySearch},
		{"/v1/videos", domain.CapabilityVideo},
	}
	for _, route := range routes {
		s.mux.HandleFunc("POST "+route.path, s.handleInvoke(route.capability))
	}

	s.mux.HandleFunc("GET /v1/pool", s.handlePool)
	s.mux.HandleFunc("POST /v1/pool/rotate", s.handleRotate)
	s.mux.HandleFunc("GET /v1/health", s.handleHealth)
	if opts.Metrics != nil {
		s.mux.Handle("GET /metrics", opts.Metrics)
	}

	s.handler = Chain(s.mux,
		Recovery(s.logger),
		RequestID(),
		AccessLog(s.logger, opts.Recorder),
		RateLimit(opts.RateLimit, opts.RateBurst),
	)

	return s
}

// Handler returns the routed handler with its middleware chain.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, listener)
}

// Serve blocks until ctx is done, then shuts down gracefully within the
// configured shutdown timeout.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		s.logger.Info("listening", zap.String("addr", listener.Addr().String()))
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http: %w", err)
		}
		return nil
	})

	return group.Wait()
}

func (s *Server) handleInvoke(capability domain.Capability) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req invokeRequest
		r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes)
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeBadRequest(w, fmt.Sprintf("decode request body: %v", err))
			return
		}

		call := domain.Call{
			Capability: capability,
			Prompt:     req.Prompt,
			Messages:   req.Messages,
			Model:      req.Model,
			Options:    req.Options,
			Input:      req.Input,
			Stream:     req.Stream && capability == domain.CapabilityChat,
		}

		ctx := r.Context()
		if s.opts.RequestTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.opts.RequestTimeout)
			defer cancel()
		}
		requestID := RequestIDFromContext(ctx)

		if call.Stream {
			s.streamInvoke(ctx, w, call, requestID)
			return
		}

		artifact, err := s.invoker.Invoke(ctx, call, nil)
		if err != nil {
			s.logFailure(call, requestID, err)
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, invokeResponse{Capability: capability, Artifact: artifact, RequestID: requestID})
	}
}

func (s *Server) streamInvoke(ctx context.Context, w http.ResponseWriter, call domain.Call, requestID string) {
	stream := newEventStream(w)

	artifact, err := s.invoker.Invoke(ctx, call, stream.Chunk)
	if err != nil {
		s.logFailure(call, requestID, err)
		if !stream.Started() {
			writeError(w, err)
			return
		}
		_, body := classify(err)
		if writeErr := stream.Finish("error", errorResponse{Error: body}); writeErr != nil {
			s.logger.Debug("stream error event not delivered", zap.Error(writeErr))
		}
		return
	}

	if err := stream.Finish("done", invokeResponse{Capability: call.Capability, Artifact: artifact, RequestID: requestID}); err != nil {
		s.logger.Debug("stream done event not delivered", zap.Error(err))
	}
}

func (s *Server) logFailure(call domain.Call, requestID string, err error) {
	s.logger.Warn("invocation failed",
		zap.String("capability", string(call.Capability)),
		zap.String("request_id", requestID),
		zap.Error(err),
	)
}

func (s *Server) handlePool(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.pool.Snapshot())
}

func (s *Server) handleRotate(w http.ResponseWriter, r *http.Request) {
	if _, err := s.pool.Rotate(r.Context()); err != nil {
		s.logger.Warn("manual rotation failed", zap.Error(err))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.pool.Snapshot())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	snapshot := s.pool.Snapshot()
	resp := healthResponse{Status: "warming", Mode: snapshot.Mode, Rotations: snapshot.Rotations}

	active, ok := snapshot.Active()
	if ok && active.State == domain.StateReady {
		resp.Status = "ok"
		resp.Active = active.ID
		writeJSON(w, http.StatusOK, resp)
		return
	}

	writeJSON(w, http.StatusServiceUnavailable, resp)
}
