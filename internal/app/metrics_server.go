package app

import (
	"net/http"

	"github.com/nyxhq/ravel/internal/core/ports"
)

// newMetricsServer builds the external metrics endpoint: a single plaintext
// GET /metrics route rendering the C5 sink's Prometheus text exposition,
// addressed separately from the proxy's own listener per SPEC_FULL.md's
// metrics_listen setting.
func newMetricsServer(addr string, sink ports.MetricsSink) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		if err := sink.WriteText(w); err != nil {
			http.Error(w, "failed to render metrics", http.StatusInternalServerError)
		}
	})
	return &http.Server{
		Addr:    addr,
		Handler: mux,
	}
}
