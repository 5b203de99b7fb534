package metrics

import (
	"context"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds the synchronization and HTTP instruments. All Record
// methods are safe on a nil receiver so components can run without metrics.
type Metrics struct {
	HTTPRequests    metric.Int64Counter
	HTTPDuration    metric.Float64Histogram
	RemoteWrites    metric.Int64Counter
	RemoteSkips     metric.Int64Counter
	RemoteFailures  metric.Int64Counter
	BackupSnapshots metric.Int64Counter
	BackupAdoptions metric.Int64Counter
	CrashRecoveries metric.Int64Counter
	ActiveSessions  metric.Int64UpDownCounter
}

// Setup exports to a dedicated Prometheus registry and returns the handler
// serving it.
func Setup(serviceName string) (*Metrics, http.Handler, error) {
	registry := promclient.NewRegistry()
	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	m, err := New(provider, serviceName)
	if err != nil {
		return nil, nil, err
	}

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return m, handler, nil
}

// New creates the instruments on provider.
func New(provider metric.MeterProvider, serviceName string) (*Metrics, error) {
	meter := provider.Meter(serviceName)
	m := &Metrics{}
	var err error

	m.HTTPRequests, err = meter.Int64Counter(
		"rdb_http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	)
	if err != nil {
		return nil, err
	}

	m.HTTPDuration, err = meter.Float64Histogram(
		"rdb_http_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
	)
	if err != nil {
		return nil, err
	}

	m.RemoteWrites, err = meter.Int64Counter(
		"rdb_remote_writes_total",
		metric.WithDescription("Records written to the remote store"),
	)
	if err != nil {
		return nil, err
	}

	m.RemoteSkips, err = meter.Int64Counter(
		"rdb_remote_writes_skipped_total",
		metric.WithDescription("Checkpoint saves skipped because the remote copy was already current"),
	)
	if err != nil {
		return nil, err
	}

	m.RemoteFailures, err = meter.Int64Counter(
		"rdb_remote_failures_total",
		metric.WithDescription("Remote store failures by operation and kind"),
	)
	if err != nil {
		return nil, err
	}

	m.BackupSnapshots, err = meter.Int64Counter(
		"rdb_backup_snapshots_total",
		metric.WithDescription("Records written to the local backup file"),
	)
	if err != nil {
		return nil, err
	}

	m.BackupAdoptions, err = meter.Int64Counter(
		"rdb_backup_adoptions_total",
		metric.WithDescription("Loads that adopted the local backup over the remote copy"),
	)
	if err != nil {
		return nil, err
	}

	m.CrashRecoveries, err = meter.Int64Counter(
		"rdb_crash_recoveries_total",
		metric.WithDescription("Live sessions started from a crashed backup"),
	)
	if err != nil {
		return nil, err
	}

	m.ActiveSessions, err = meter.Int64UpDownCounter(
		"rdb_active_sessions",
		metric.WithDescription("Open mapping sessions"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

func nsAttrs(namespace, key string) attribute.Set {
	return attribute.NewSet(
		attribute.String("namespace", namespace),
		attribute.String("key", key),
	)
}

func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labels := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.Int("status", status),
	)

	m.HTTPRequests.Add(ctx, 1, labels)
	m.HTTPDuration.Record(ctx, duration.Seconds(), labels)
}

func (m *Metrics) RecordRemoteWrite(ctx context.Context, namespace, key string) {
	if m == nil {
		return
	}
	m.RemoteWrites.Add(ctx, 1, metric.WithAttributeSet(nsAttrs(namespace, key)))
}

func (m *Metrics) RecordRemoteSkip(ctx context.Context, namespace, key string) {
	if m == nil {
		return
	}
	m.RemoteSkips.Add(ctx, 1, metric.WithAttributeSet(nsAttrs(namespace, key)))
}

func (m *Metrics) RecordRemoteFailure(ctx context.Context, op, kind string) {
	if m == nil {
		return
	}
	m.RemoteFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("kind", kind),
	))
}

func (m *Metrics) RecordBackupSnapshot(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.BackupSnapshots.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *Metrics) RecordBackupAdoption(ctx context.Context, namespace, key string) {
	if m == nil {
		return
	}
	m.BackupAdoptions.Add(ctx, 1, metric.WithAttributeSet(nsAttrs(namespace, key)))
}

func (m *Metrics) RecordCrashRecovery(ctx context.Context, namespace, key string) {
	if m == nil {
		return
	}
	m.CrashRecoveries.Add(ctx, 1, metric.WithAttributeSet(nsAttrs(namespace, key)))
}

func (m *Metrics) SessionOpened(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveSessions.Add(ctx, 1)
}

func (m *Metrics) SessionClosed(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveSessions.Add(ctx, -1)
}
