package router

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	domain "github.com/oshokin/mqtt-alarm/internal/domain/alarm"
	"github.com/oshokin/mqtt-alarm/internal/logger"
)

// requestTimeout bounds a single request.
const requestTimeout = 10 * time.Second

// StatusSource provides the current alarm status.
type StatusSource interface {
	Status() *domain.Status
}

// actorResponse is the JSON form of domain.Actor.
type actorResponse struct {
	Hostname string `json:"hostname"`
	Username string `json:"username"`
}

// statusResponse is the JSON body of GET /status.
type statusResponse struct {
	domain.StatusMessage

	Timestamp time.Time      `json:"timestamp"`
	LastActor *actorResponse `json:"lastActor,omitempty"`
}

// New builds the HTTP router. A nil gatherer leaves /metrics unmounted.
func New(source StatusSource, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
		current := source.Status()
		if current == nil {
			http.Error(w, "status is not available", http.StatusServiceUnavailable)

			return
		}

		response := statusResponse{
			StatusMessage: current.Message(),
			Timestamp:     current.Timestamp,
		}

		if current.LastActor != nil {
			response.LastActor = &actorResponse{
				Hostname: current.LastActor.Hostname,
				Username: current.LastActor.Username,
			}
		}

		w.Header().Set("Content-Type", "application/json")

		if err := json.NewEncoder(w).Encode(response); err != nil {
			logger.ErrorKV(req.Context(), "Failed to write status response", "error", err)
		}
	})

	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	return r
}

// requestLogger logs requests through the context logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := logger.WithFields(logger.WithName(r.Context(), "http"),
			"request_id", middleware.GetReqID(r.Context()),
		)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		started := time.Now()

		next.ServeHTTP(ww, r.WithContext(ctx))

		logger.DebugKV(ctx, "HTTP request served",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(started),
		)
	})
}
