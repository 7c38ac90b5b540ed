package observability

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

var (
	// Global logger instance, swapped for the production logger by Init.
	// Hot paths log through this one to keep allocations off the event loop.
	Logger = zap.NewNop()

	infractionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "infractions_total",
			Help: "Total number of infraction records created, by resulting kind",
		},
		[]string{"kind"},
	)

	sanctionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sanctions_applied_total",
			Help: "Total number of sanctions successfully applied on the platform",
		},
		[]string{"kind"},
	)

	provisioningOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provisioning_operations_total",
			Help: "Event space provisioning and teardown operations",
		},
		[]string{"op", "result"},
	)

	driftRepairsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "drift_repairs_total",
			Help: "Resources re-created after drift was detected",
		},
	)

	eventProcessingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "event_processing_duration_seconds",
			Help:    "Time spent processing gateway events",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)
)

func Init(ctx context.Context, metricsAddr string) error {
	var err error
	Logger, err = zap.NewProduction()
	if err != nil {
		return err
	}

	prometheus.MustRegister(infractionsTotal)
	prometheus.MustRegister(sanctionsTotal)
	prometheus.MustRegister(provisioningOpsTotal)
	prometheus.MustRegister(driftRepairsTotal)
	prometheus.MustRegister(eventProcessingDuration)

	tp := trace.NewTracerProvider()
	otel.SetTracerProvider(tp)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			log.WithError(err).Error("metrics server failed")
		}
	}()

	return nil
}

func RecordInfraction(kind string) {
	infractionsTotal.WithLabelValues(kind).Inc()
}

func RecordSanction(kind string) {
	sanctionsTotal.WithLabelValues(kind).Inc()
}

func RecordProvisioningOp(op, result string) {
	provisioningOpsTotal.WithLabelValues(op, result).Inc()
}

func RecordDriftRepair() {
	driftRepairsTotal.Inc()
}

// StartEventProcessing returns a func to observe the processing duration of
// one gateway event.
func StartEventProcessing(kind string) func() {
	timer := prometheus.NewTimer(eventProcessingDuration.WithLabelValues(kind))
	return func() {
		timer.ObserveDuration()
	}
}
