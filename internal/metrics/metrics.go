// Package metrics exposes orchestration counters and timings to Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

var (
	transitionMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bmtf_session_transitions_total",
		Help: "Boot state transitions entered, by board type and state",
	}, []string{"board_type", "state"})
	reservationMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bmtf_reservations_total",
		Help: "Reservation attempts by outcome (acquired, refused, released, release_failed)",
	}, []string{"outcome"})
	phaseMetric = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bmtf_phase_seconds",
		Help:    "Seconds spent in each session phase",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 3600},
	}, []string{"phase", "result"})
	testOutcomeMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bmtf_test_outcomes_total",
		Help: "Parsed test outcomes by suite and outcome",
	}, []string{"suite", "outcome"})
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bmtf_active_sessions",
		Help: "Board sessions currently holding a reservation",
	})
)

// Transition counts a state entered by a board of boardType.
func Transition(boardType, state string) {
	transitionMetric.WithLabelValues(boardType, state).Inc()
}

// Reservation counts a reservation outcome.
func Reservation(outcome string) {
	reservationMetric.WithLabelValues(outcome).Inc()
}

// ObservePhase records how long a phase took and whether it failed.
func ObservePhase(phase string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	phaseMetric.WithLabelValues(phase, result).Observe(time.Since(start).Seconds())
}

// TestOutcome counts one parsed test outcome.
func TestOutcome(suite, outcome string) {
	testOutcomeMetric.WithLabelValues(suite, outcome).Inc()
}

// SessionStarted and SessionEnded track the live session gauge.
func SessionStarted() { activeSessions.Inc() }

func SessionEnded() { activeSessions.Dec() }

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("metrics server shutdown")
		}
	}()

	log.Infof("serving metrics on %s/metrics", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
