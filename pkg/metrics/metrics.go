// Package metrics provides Prometheus metrics for the connection pool and
// transfer engine.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Pool metrics
	poolSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sftpdeck_pool_sessions",
			Help: "Number of authenticated sessions held by the connection pool",
		},
	)

	poolHandshakes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sftpdeck_pool_handshakes_total",
			Help: "Total number of SSH authentication handshakes",
		},
		[]string{"result"},
	)

	// Transfer metrics
	transfersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sftpdeck_transfers_total",
			Help: "Total number of file transfers",
		},
		[]string{"direction", "status"},
	)

	transferBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sftpdeck_transfer_bytes_total",
			Help: "Total bytes moved by completed transfers",
		},
		[]string{"direction"},
	)

	transferDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sftpdeck_transfer_duration_seconds",
			Help:    "File transfer duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"direction"},
	)

	compressionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sftpdeck_compressions_total",
			Help: "Total number of pre-upload compressions",
		},
		[]string{"status"},
	)

	listingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sftpdeck_listings_total",
			Help: "Total number of directory listings",
		},
		[]string{"source", "status"},
	)
)

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// SessionOpened records a session entering the pool.
func SessionOpened() {
	poolSessions.Inc()
}

// SessionClosed records a session leaving the pool.
func SessionClosed() {
	poolSessions.Dec()
}

// RecordHandshake records the outcome of one authentication handshake.
func RecordHandshake(err error) {
	poolHandshakes.WithLabelValues(status(err)).Inc()
}

// RecordTransfer records one finished transfer.
func RecordTransfer(direction string, size int64, duration time.Duration, err error) {
	transfersTotal.WithLabelValues(direction, status(err)).Inc()
	transferDuration.WithLabelValues(direction).Observe(duration.Seconds())
	if err == nil {
		transferBytes.WithLabelValues(direction).Add(float64(size))
	}
}

// RecordCompression records one compression attempt.
func RecordCompression(err error) {
	compressionsTotal.WithLabelValues(status(err)).Inc()
}

// RecordListing records one listing call. Source is "local" or "remote".
func RecordListing(source string, err error) {
	listingsTotal.WithLabelValues(source, status(err)).Inc()
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
