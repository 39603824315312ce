package scheduler

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	otelprometheus "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/sdk/metric"
)

// metricsListener serves /metrics over plain HTTP as a
// transport.Listener. It registers an OpenTelemetry meter provider
// backed by the Prometheus exporter, so metrics recorded through the
// standard otel API show up on the same endpoint. No host component
// (registry, reaper, watch supervisors) records metrics of its own;
// the endpoint serves what the exporter and the default Prometheus
// registry provide.
type metricsListener struct {
	addr   string
	server *http.Server
}

func newMetricsListener(addr string) (*metricsListener, error) {
	exporter, err := otelprometheus.New()
	if err != nil {
		return nil, err
	}
	otel.SetMeterProvider(metric.NewMeterProvider(metric.WithReader(exporter)))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	return &metricsListener{
		addr:   addr,
		server: &http.Server{Addr: addr, Handler: mux},
	}, nil
}

func (l *metricsListener) Start(ctx context.Context) error {
	err := l.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (l *metricsListener) Stop(ctx context.Context) error {
	return l.server.Shutdown(ctx)
}
