package api

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/VenkatGGG/gpu-reserve/pkg/httpx"
)

type Server struct {
	board   *Board
	metrics *Metrics
	logger  *zap.Logger
}

func NewServer(board *Board, metrics *Metrics, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{board: board, metrics: metrics, logger: logger}
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/v1/reservations", s.handleReservations)
	mux.HandleFunc("/v1/watch", s.handleWatch)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}

	return s.withRequestLog(mux)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReservations(w http.ResponseWriter, r *http.Request) {
	if !httpx.AllowMethods(w, r, http.MethodGet) {
		return
	}
	status, ok := s.board.Latest()
	if !ok {
		httpx.WriteError(w, http.StatusServiceUnavailable, "not_ready", "no scheduler cycle has completed yet")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, NewStatusView(status))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The websocket handshake needs the raw writer for hijacking.
		if r.URL.Path == "/v1/watch" {
			next.ServeHTTP(w, r)
			return
		}
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", time.Since(started)))
	})
}
