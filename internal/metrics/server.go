package metrics

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Readiness flips /readyz to 200 once the process has finished starting.
type Readiness struct {
	ready atomic.Bool
}

func (r *Readiness) SetReady() { r.ready.Store(true) }

func (r *Readiness) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	if !r.ready.Load() {
		http.Error(w, "starting", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ready"))
}

// Handler serves /metrics (Prometheus), /healthz and, when readiness is
// non-nil, /readyz.
func Handler(readiness *Readiness) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	if readiness != nil {
		mux.Handle("/readyz", readiness)
	}
	return mux
}

// NewServer creates the HTTP server for Handler.
func NewServer(addr string, readiness *Readiness) *http.Server {
	return &http.Server{
		Addr:    addr,
		Handler: Handler(readiness),
	}
}
