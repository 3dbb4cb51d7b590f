package http

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"asr-call-monitor/internal/service/monitor"
)

// Readiness reports whether a recognizer session is currently usable.
type Readiness interface {
	Ready() bool
}

// Deps are the collaborators the routes read from.
type Deps struct {
	Readiness Readiness
	Records   *monitor.Store
	Gatherer  prometheus.Gatherer // defaults to prometheus.DefaultGatherer
}

type callRecordResponse struct {
	SessionID    string `json:"sessionId"`
	Utterances   int    `json:"utterances"`
	UpdatedAt    int64  `json:"updatedAt"`
	CallerName   string `json:"callerName"`
	Location     string `json:"location"`
	CaseCategory string `json:"caseCategory"`
	Description  string `json:"description"`
}

// NewRouter constructs the HTTP router for the service.
func NewRouter(deps Deps) http.Handler {
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()

	// Basic middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	// Health endpoints
	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", func(w http.ResponseWriter, _ *http.Request) {
		if deps.Readiness == nil || !deps.Readiness.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	// API routes
	r.Route("/v1", func(r chi.Router) {
		r.Get("/call-record", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			var u monitor.Update
			ok := false
			if deps.Records != nil {
				u, ok = deps.Records.Latest()
			}
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				_, _ = w.Write([]byte(`{"error":"no call record yet"}`))
				return
			}
			w.WriteHeader(http.StatusOK)
			_ = json.NewEncoder(w).Encode(callRecordResponse{
				SessionID:    u.SessionID,
				Utterances:   u.Utterances,
				UpdatedAt:    u.At.UnixMilli(),
				CallerName:   u.Snapshot.CallerName,
				Location:     u.Snapshot.Location,
				CaseCategory: u.Snapshot.CaseCategory,
				Description:  u.Snapshot.Description,
			})
		})
	})

	return r
}
