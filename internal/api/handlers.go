package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/leafsii/redisdb/internal/record"
	"github.com/leafsii/redisdb/internal/syncmap"
	"go.uber.org/zap"
)

// maxBodyBytes bounds PUT bodies.
const maxBodyBytes = 1 << 20

// Mapping is the record surface the handlers need. Both syncmap.Mapping
// and syncmap.Live satisfy it.
type Mapping interface {
	Get(key string) (any, error)
	Set(ctx context.Context, key string, value any) error
	Contains(key string) bool
	Keys() []string
	Snapshot() record.Record
}

// Flusher is implemented by checkpoint-mode mappings.
type Flusher interface {
	Flush(ctx context.Context) error
}

// Stater reports mapping status.
type Stater interface {
	Status() syncmap.Status
}

// Pinger checks the remote store for readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	mapping      Mapping
	logger       *zap.SugaredLogger
	readyTimeout time.Duration
}

func NewHandler(mapping Mapping, logger *zap.SugaredLogger) *Handler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Handler{
		mapping:      mapping,
		logger:       logger,
		readyTimeout: 2 * time.Second,
	}
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// Readyz reports 503 while the remote store does not answer. Writes keep
// working in that state; they land in the local backup.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	p, ok := h.mapping.(Pinger)
	if !ok {
		h.writeJSON(w, http.StatusOK, HealthDTO{Status: "ready"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.readyTimeout)
	defer cancel()
	if err := p.Ping(ctx); err != nil {
		h.logger.Warnw("Readiness check failed", "error", err)
		h.writeJSON(w, http.StatusServiceUnavailable, HealthDTO{
			Status:  "degraded",
			Reasons: []string{CodeRemoteUnavailable},
		})
		return
	}
	h.writeJSON(w, http.StatusOK, HealthDTO{Status: "ready"})
}

func (h *Handler) GetRecord(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.mapping.Snapshot())
}

func (h *Handler) ListKeys(w http.ResponseWriter, r *http.Request) {
	keys := h.mapping.Keys()
	h.writeJSON(w, http.StatusOK, KeysDTO{Keys: keys, Count: len(keys)})
}

func (h *Handler) GetKey(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	value, err := h.mapping.Get(key)
	if errors.Is(err, syncmap.ErrKeyNotFound) {
		h.writeError(w, http.StatusNotFound, CodeKeyNotFound, "no value stored under "+key)
		return
	}
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, CodeWriteFailed, err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, KeyValueDTO{Key: key, Value: value})
}

func (h *Handler) HeadKey(w http.ResponseWriter, r *http.Request) {
	if !h.mapping.Contains(chi.URLParam(r, "key")) {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// PutKey stores the JSON request body under the key.
func (h *Handler) PutKey(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	requestID := middleware.GetReqID(r.Context())

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, http.StatusRequestEntityTooLarge, CodeBodyTooLarge,
				fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
			return
		}
		h.writeError(w, http.StatusBadRequest, CodeInvalidJSON, "failed to read request body")
		return
	}

	var value any
	if err := json.Unmarshal(body, &value); err != nil {
		h.writeError(w, http.StatusBadRequest, CodeInvalidJSON, err.Error())
		return
	}

	if err := h.mapping.Set(r.Context(), key, value); err != nil {
		switch {
		case errors.Is(err, record.ErrUnserializable):
			h.writeError(w, http.StatusBadRequest, CodeUnserializable, err.Error())
		case errors.Is(err, syncmap.ErrReservedKey):
			h.writeError(w, http.StatusBadRequest, CodeReservedKey, err.Error())
		case errors.Is(err, syncmap.ErrClosed):
			h.writeError(w, http.StatusServiceUnavailable, CodeMappingClosed, err.Error())
		default:
			h.writeError(w, http.StatusInternalServerError, CodeWriteFailed, err.Error())
		}
		return
	}

	h.logger.Debugw("Value stored", "key", key, "request_id", requestID)
	w.WriteHeader(http.StatusNoContent)
}

// Flush runs a checkpoint save. Live mappings write through on every set
// and answer 501.
func (h *Handler) Flush(w http.ResponseWriter, r *http.Request) {
	f, ok := h.mapping.(Flusher)
	if !ok {
		h.writeError(w, http.StatusNotImplemented, CodeNotSupported, "mapping writes through on every set")
		return
	}
	if err := f.Flush(r.Context()); err != nil {
		h.writeError(w, http.StatusInternalServerError, CodeFlushFailed, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	if s, ok := h.mapping.(Stater); ok {
		h.writeJSON(w, http.StatusOK, s.Status())
		return
	}
	h.writeJSON(w, http.StatusOK, syncmap.Status{Entries: len(h.mapping.Keys())})
}

// Utility methods
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message string) {
	if status >= http.StatusInternalServerError {
		h.logger.Errorw("API error", "code", code, "message", message, "status", status)
	} else {
		h.logger.Debugw("API error", "code", code, "message", message, "status", status)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	err := ErrorResponse{
		Code:    code,
		Message: message,
	}
	json.NewEncoder(w).Encode(err)
}
