package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/leafsii/redisdb/internal/backup"
	"github.com/leafsii/redisdb/internal/record"
	"github.com/leafsii/redisdb/internal/syncmap"
	"github.com/leafsii/redisdb/pkg/kv/kvtest"
	"github.com/leafsii/redisdb/pkg/kv/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockMapping lets tests inject Set failures.
type MockMapping struct {
	mock.Mock
}

func (m *MockMapping) Get(key string) (any, error) {
	args := m.Called(key)
	return args.Get(0), args.Error(1)
}

func (m *MockMapping) Set(ctx context.Context, key string, value any) error {
	return m.Called(ctx, key, value).Error(0)
}

func (m *MockMapping) Contains(key string) bool {
	return m.Called(key).Bool(0)
}

func (m *MockMapping) Keys() []string {
	return m.Called().Get(0).([]string)
}

func (m *MockMapping) Snapshot() record.Record {
	return m.Called().Get(0).(record.Record)
}

var _ Mapping = (*MockMapping)(nil)

func newCheckpointMapping(t *testing.T) (*syncmap.Mapping, *kvtest.Flaky) {
	t.Helper()
	store := kvtest.NewFlaky(memory.New())
	m, err := syncmap.New(context.Background(), syncmap.Options{
		Namespace: "app",
		Store:     store,
		Backup:    backup.Open(filepath.Join(t.TempDir(), "backup.json"), nil),
	})
	require.NoError(t, err)
	return m, store
}

func newLiveMapping(t *testing.T) *syncmap.Live {
	t.Helper()
	l, err := syncmap.NewLive(context.Background(), syncmap.Options{
		Namespace: "app",
		Store:     kvtest.NewFlaky(memory.New()),
		Backup:    backup.Open(filepath.Join(t.TempDir(), "backup.json"), nil),
	})
	require.NoError(t, err)
	return l
}

func newTestRouter(mapping Mapping) http.Handler {
	h := NewHandler(mapping, nil)
	return h.Routes(NewMiddleware(nil, nil), RouteOptions{})
}

func do(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestPutThenGet(t *testing.T) {
	m, _ := newCheckpointMapping(t)
	router := newTestRouter(m)

	rec := do(t, router, http.MethodPut, "/v1/record/count", `1`)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, router, http.MethodPut, "/v1/record/profile", `{"name":"bot","tags":["a","b"]}`)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, router, http.MethodGet, "/v1/record/count", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var kvResp KeyValueDTO
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&kvResp))
	assert.Equal(t, "count", kvResp.Key)
	assert.Equal(t, float64(1), kvResp.Value)

	rec = do(t, router, http.MethodGet, "/v1/record", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var whole map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&whole))
	assert.Equal(t, map[string]any{
		"count":   float64(1),
		"profile": map[string]any{"name": "bot", "tags": []any{"a", "b"}},
	}, whole)

	rec = do(t, router, http.MethodGet, "/v1/keys", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var keys KeysDTO
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&keys))
	assert.Equal(t, []string{"count", "profile"}, keys.Keys)
	assert.Equal(t, 2, keys.Count)
}

func TestGetMissingKey(t *testing.T) {
	m, _ := newCheckpointMapping(t)
	router := newTestRouter(m)

	rec := do(t, router, http.MethodGet, "/v1/record/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, CodeKeyNotFound, decodeError(t, rec).Code)

	rec = do(t, router, http.MethodHead, "/v1/record/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPutInvalidJSON(t *testing.T) {
	m, _ := newCheckpointMapping(t)
	router := newTestRouter(m)

	rec := do(t, router, http.MethodPut, "/v1/record/k", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeInvalidJSON, decodeError(t, rec).Code)
	assert.False(t, m.Contains("k"))
}

func TestPutErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantBody string
	}{
		{"unserializable", record.ErrUnserializable, http.StatusBadRequest, CodeUnserializable},
		{"closed", syncmap.ErrClosed, http.StatusServiceUnavailable, CodeMappingClosed},
		{"reserved key", syncmap.ErrReservedKey, http.StatusBadRequest, CodeReservedKey},
		{"backup write failed", errors.New("write backup: disk full"), http.StatusInternalServerError, CodeWriteFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mm := &MockMapping{}
			mm.On("Set", mock.Anything, "k", "v").Return(tt.err)
			router := newTestRouter(mm)

			rec := do(t, router, http.MethodPut, "/v1/record/k", `"v"`)
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantBody, decodeError(t, rec).Code)
			mm.AssertExpectations(t)
		})
	}
}

func TestPutCrashedKeyIsRejected(t *testing.T) {
	m, _ := newCheckpointMapping(t)
	router := newTestRouter(m)

	rec := do(t, router, http.MethodPut, "/v1/record/"+record.CrashedKey, `"user-data"`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeReservedKey, decodeError(t, rec).Code)
	assert.False(t, m.Contains(record.CrashedKey))
}

func TestPutRejectsOversizeBody(t *testing.T) {
	mm := &MockMapping{}
	router := newTestRouter(mm)

	rec := do(t, router, http.MethodPut, "/v1/record/k", strings.Repeat("1", maxBodyBytes+1))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, CodeBodyTooLarge, decodeError(t, rec).Code)
	mm.AssertNotCalled(t, "Set", mock.Anything, mock.Anything, mock.Anything)
}

func TestPutWhileRemoteDownStillSucceeds(t *testing.T) {
	m, store := newCheckpointMapping(t)
	router := newTestRouter(m)

	store.SetDown(true)
	rec := do(t, router, http.MethodPut, "/v1/record/k", `"offline"`)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, router, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	store.SetDown(false)
	rec = do(t, router, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestFlush(t *testing.T) {
	t.Run("checkpoint", func(t *testing.T) {
		m, store := newCheckpointMapping(t)
		router := newTestRouter(m)
		before := store.HSetCalls()

		rec := do(t, router, http.MethodPost, "/v1/flush", "")
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, before, store.HSetCalls())
	})

	t.Run("live", func(t *testing.T) {
		router := newTestRouter(newLiveMapping(t))

		rec := do(t, router, http.MethodPost, "/v1/flush", "")
		assert.Equal(t, http.StatusNotImplemented, rec.Code)
		assert.Equal(t, CodeNotSupported, decodeError(t, rec).Code)
	})
}

func TestStatus(t *testing.T) {
	router := newTestRouter(newLiveMapping(t))

	rec := do(t, router, http.MethodGet, "/v1/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var st syncmap.Status
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&st))
	assert.Equal(t, "app", st.Namespace)
	assert.Equal(t, "live", st.Mode)
	assert.Equal(t, "live", st.State)
	assert.Equal(t, "remote_authoritative", st.Source)
}

func TestStatusWithoutStater(t *testing.T) {
	mm := &MockMapping{}
	mm.On("Keys").Return([]string{"a", "b"})
	router := newTestRouter(mm)

	rec := do(t, router, http.MethodGet, "/v1/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var st syncmap.Status
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&st))
	assert.Equal(t, 2, st.Entries)
}

func TestHealthz(t *testing.T) {
	router := newTestRouter(&MockMapping{})

	rec := do(t, router, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	// MockMapping has no Ping, so readiness is unconditional.
	rec = do(t, router, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
