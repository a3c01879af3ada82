// Package metrics exposes miner counters to Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bardlex/goore/internal/events"
	"github.com/bardlex/goore/internal/telemetry"
	"github.com/bardlex/goore/pkg/circuit"
	"github.com/bardlex/goore/pkg/log"
)

const namespace = "goore"

// Metrics holds the miner's collectors on a private registry
type Metrics struct {
	registry *prometheus.Registry

	solutions      *prometheus.CounterVec
	hashrate       *prometheus.GaugeVec
	searchDuration prometheus.Histogram
	submissions    *prometheus.CounterVec
	claimed        *prometheus.CounterVec
	cycle          prometheus.Gauge
	rewardRate     prometheus.Gauge
	breakerState   *prometheus.GaugeVec
}

var _ telemetry.Sink = (*Metrics)(nil)

// New registers every collector on a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		solutions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pow",
			Name:      "solutions_total",
			Help:      "Hashes found meeting the difficulty target",
		}, []string{"signer"}),
		hashrate: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pow",
			Name:      "hashrate",
			Help:      "Hashes per second of the last search",
		}, []string{"signer"}),
		searchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pow",
			Name:      "search_duration_seconds",
			Help:      "Time to find a solution",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		submissions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "submit",
			Name:      "transactions_total",
			Help:      "Submitted transactions by outcome",
		}, []string{"operation", "strategy", "status"}),
		claimed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rewards",
			Name:      "claimed_base_units_total",
			Help:      "Rewards claimed in base units",
		}, []string{"signer"}),
		cycle: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "miner",
			Name:      "cycle",
			Help:      "Current mining cycle",
		}),
		rewardRate: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "miner",
			Name:      "reward_rate",
			Help:      "Treasury reward rate observed at the last cycle",
		}),
		breakerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "circuit",
			Name:      "state",
			Help:      "Circuit breaker state (0 closed, 1 open, 2 half-open)",
		}, []string{"breaker"}),
	}
}

// Registry returns the registry holding the collectors
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Name implements telemetry.Sink
func (m *Metrics) Name() string { return "prometheus" }

// Record implements telemetry.Sink
func (m *Metrics) Record(_ context.Context, e *events.Event) error {
	switch e.Kind {
	case events.KindSolution:
		m.solutions.WithLabelValues(e.Signer).Inc()
		m.hashrate.WithLabelValues(e.Signer).Set(e.Hashrate())
		m.searchDuration.Observe(e.Elapsed.Seconds())
	case events.KindSubmission:
		m.submissions.WithLabelValues(e.Operation, e.Strategy, "landed").Inc()
	case events.KindSubmissionFailed:
		m.submissions.WithLabelValues(e.Operation, e.Strategy, "failed").Inc()
	case events.KindClaim:
		m.claimed.WithLabelValues(e.Signer).Add(float64(e.Amount))
	case events.KindCycle:
		m.cycle.Set(float64(e.Cycle))
		m.rewardRate.Set(float64(e.RewardRate))
	}
	return nil
}

// Close implements telemetry.Sink
func (m *Metrics) Close() error { return nil }

// ObserveBreaker matches circuit.Config.OnStateChange
func (m *Metrics) ObserveBreaker(name string, _, to circuit.State) {
	m.breakerState.WithLabelValues(name).Set(float64(to))
}

// Serve exposes /metrics on addr until ctx is done
func (m *Metrics) Serve(ctx context.Context, addr string, logger *log.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("serving metrics", "addr", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
