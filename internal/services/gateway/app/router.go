package app

import (
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter wires every route. gatherer serves /metrics (the default registry when nil).
func (g *Gateway) NewRouter(gatherer prometheus.Gatherer) http.Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r := mux.NewRouter()
	r.Use(g.metrics.Middleware)

	r.HandleFunc("/healthz", g.HandleHealth).Methods(http.MethodGet)
	r.HandleFunc("/readyz", g.HandleReady).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	r.HandleFunc("/api/sensors", g.HandleSensors).Methods(http.MethodGet)
	r.HandleFunc("/api/sensors/tiles", g.HandleTiles).Methods(http.MethodGet)
	r.HandleFunc("/api/experiment", g.HandleExperiment).Methods(http.MethodGet)
	r.HandleFunc("/api/experiment", g.HandleStartExperiment).Methods(http.MethodPost)
	r.HandleFunc("/api/experiment/stop", g.HandleStopExperiment).Methods(http.MethodPost)
	r.HandleFunc("/api/experiments/history", g.HandleHistory).Methods(http.MethodGet)
	r.HandleFunc("/api/pump", g.HandlePump).Methods(http.MethodPost)
	if g.events.Enabled() {
		r.HandleFunc("/api/events", g.HandleEvents).Methods(http.MethodGet)
	}

	origins := g.cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return handlers.CORS(
		handlers.AllowedOrigins(origins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
	)(r)
}
