package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	totals := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					totals[m.Name] += dp.Value
				}
			}
		}
	}
	return totals
}

func TestCounters(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	m, err := New(provider, "test")
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordRemoteWrite(ctx, "bot", "bot")
	m.RecordRemoteWrite(ctx, "bot", "bot")
	m.RecordRemoteSkip(ctx, "bot", "bot")
	m.RecordRemoteFailure(ctx, "hset", "network")
	m.RecordBackupSnapshot(ctx, "write_failed")
	m.RecordCrashRecovery(ctx, "bot", "bot")
	m.SessionOpened(ctx)
	m.SessionOpened(ctx)
	m.SessionClosed(ctx)
	m.RecordHTTPRequest(ctx, "GET", "/v1/record", 200, time.Millisecond)

	totals := collect(t, reader)
	assert.Equal(t, int64(2), totals["rdb_remote_writes_total"])
	assert.Equal(t, int64(1), totals["rdb_remote_writes_skipped_total"])
	assert.Equal(t, int64(1), totals["rdb_remote_failures_total"])
	assert.Equal(t, int64(1), totals["rdb_backup_snapshots_total"])
	assert.Equal(t, int64(1), totals["rdb_crash_recoveries_total"])
	assert.Equal(t, int64(1), totals["rdb_active_sessions"])
	assert.Equal(t, int64(1), totals["rdb_http_requests_total"])
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	assert.NotPanics(t, func() {
		m.RecordRemoteWrite(ctx, "a", "b")
		m.RecordRemoteFailure(ctx, "hset", "auth")
		m.RecordHTTPRequest(ctx, "GET", "/", 200, time.Second)
		m.SessionOpened(ctx)
	})
}

func TestSetupServesPrometheus(t *testing.T) {
	m, handler, err := Setup("rdb-test")
	require.NoError(t, err)

	m.RecordRemoteWrite(context.Background(), "bot", "bot")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), "rdb_remote_writes_total")
}
