package main

import (
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Decode metrics. Counters only, so the single-threaded hot path pays
// one atomic add per event; the listener is optional and off by default.
var (
	metricSamples = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sondescan_samples_total",
		Help: "Input samples processed at the IF rate.",
	})
	metricCandidates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sondescan_candidates_total",
		Help: "Sync detections that passed the header check.",
	}, []string{"family"})
	metricFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sondescan_frames_total",
		Help: "Frames emitted, by family and integrity verdict.",
	}, []string{"family", "status"})
	metricRSCorrected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sondescan_rs_corrected_bytes_total",
		Help: "Bytes repaired by Reed-Solomon across all frames.",
	})
)

// serveMetrics exposes /metrics on addr in the background. Failures are
// logged, not fatal: a decoder without metrics still decodes.
func serveMetrics(addr string, logger *log.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("metrics listener failed", "addr", addr, "err", err)
		}
	}()
	logger.Info("metrics listening", "addr", addr)
}

func frameStatus(ok bool) string {
	if ok {
		return "ok"
	}
	return "bad"
}
