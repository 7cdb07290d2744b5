package instrumentation

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/alexandreLamarre/lockstate/pkg/logger"
	"github.com/alexandreLamarre/lockstate/pkg/util"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelprometheus "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/sdk/metric"
)

// MetricsServer exposes the metrics of its meter provider in the prometheus text format.
type MetricsServer struct {
	lg *slog.Logger

	registry *prometheus.Registry
	provider *metric.MeterProvider
	addr     string
}

func NewMetricsServer(addr string, lg *slog.Logger) *MetricsServer {
	registry := prometheus.NewRegistry()
	exporter := util.Must(otelprometheus.New(otelprometheus.WithRegisterer(registry)))
	provider := metric.NewMeterProvider(metric.WithReader(exporter))
	return &MetricsServer{
		lg:       lg.With("component", "metrics-server"),
		registry: registry,
		provider: provider,
		addr:     addr,
	}
}

func (s *MetricsServer) Provider() *metric.MeterProvider {
	return s.provider
}

func (s *MetricsServer) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

// ListenAndServe serves /metrics until ctx is done.
func (s *MetricsServer) ListenAndServe(ctx context.Context) error {
	s.lg.With("addr", s.addr).Info("starting metrics server...")
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.Handler())
	httpServer := &http.Server{
		Addr:              s.addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, ca := context.WithTimeout(context.Background(), 5*time.Second)
		defer ca()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			s.lg.With(logger.Err(err)).Warn("failed to shutdown metrics server")
		}
	}()
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
