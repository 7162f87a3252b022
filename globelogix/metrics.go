package globelogix

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/heroiclabs/nakama-common/runtime"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var _ Publisher = &MetricsPublisher{}

// MetricsPublisher turns publisher events into Prometheus metrics.
type MetricsPublisher struct {
	registry *prometheus.Registry

	events            *prometheus.CounterVec
	distributedAmount *prometheus.CounterVec
	collectedAmount   prometheus.Counter
	lastReset         *prometheus.GaugeVec
}

func NewMetricsPublisher() *MetricsPublisher {
	m := &MetricsPublisher{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "globelogix",
				Name:      "events_total",
				Help:      "Total number of events emitted by the systems.",
			},
			[]string{"system", "name"},
		),
		distributedAmount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "globelogix",
				Subsystem: "rewards",
				Name:      "distributed_amount_total",
				Help:      "Total reward amount successfully paid out.",
			},
			[]string{"symbol"},
		),
		collectedAmount: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "globelogix",
				Subsystem: "collection",
				Name:      "collected_amount_total",
				Help:      "Total amount pulled from player spend permissions.",
			},
		),
		lastReset: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "globelogix",
				Subsystem: "leaderboards",
				Name:      "last_reset_timestamp_seconds",
				Help:      "Unix time of the last leaderboard reset.",
			},
			[]string{"timeframe"},
		),
	}

	m.registry.MustRegister(
		m.events,
		m.distributedAmount,
		m.collectedAmount,
		m.lastReset,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
	return m
}

// Registry returns the collector registry backing this publisher.
func (m *MetricsPublisher) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler exposing the registered metrics.
func (m *MetricsPublisher) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *MetricsPublisher) Send(ctx context.Context, logger runtime.Logger, userID string, events []*PublisherEvent) {
	for _, event := range events {
		if event == nil {
			continue
		}
		system := SystemTypeUnknown.String()
		if event.System != nil {
			system = event.System.GetType().String()
		}
		m.events.WithLabelValues(system, event.Name).Inc()

		switch event.Name {
		case EventDistributionExecuted:
			if amount, err := strconv.ParseFloat(event.Value, 64); err == nil && amount > 0 {
				m.distributedAmount.WithLabelValues(event.Metadata["symbol"]).Add(amount)
			}
		case EventContributionCollected:
			if amount, err := strconv.ParseFloat(event.Value, 64); err == nil && amount > 0 {
				m.collectedAmount.Add(amount)
			}
		case EventLeaderboardReset:
			m.lastReset.WithLabelValues(event.Metadata["timeframe"]).Set(float64(event.Timestamp))
		}
	}
}

// Serve exposes the metrics on addr until ctx is done.
func (m *MetricsPublisher) Serve(ctx context.Context, logger runtime.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
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

	go func() {
		logger.Info("Serving metrics on %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server stopped: %v", err)
		}
	}()
}
