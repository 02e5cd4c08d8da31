// Package ipc exposes the receiver over HTTP: the proto intake endpoint
// devices post to and a few read-only inspection endpoints.
package ipc

import (
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/devicefleet/mitmcore/internal/domain"
	"github.com/devicefleet/mitmcore/internal/intake"
	"github.com/devicefleet/mitmcore/internal/store"
)

// maxBodyBytes caps a single POST body.
const maxBodyBytes = 64 << 20

// Fleet requests detection cycles on running devices.
type Fleet interface {
	Trigger(origin string) error
}

// Handler holds all dependencies for the HTTP handlers. Fleet may be nil
// when the process only receives protos.
type Handler struct {
	Dispatcher *intake.Dispatcher
	Fleet      Fleet
	DB         *sql.DB
	DeviceRepo *store.DeviceRepo
	Logger     *zap.Logger
}

// LatestProtoView is one row of GET /api/v1/latest/{origin}.
type LatestProtoView struct {
	Key               string  `json:"key"`
	TimestampRaw      int64   `json:"timestamp_raw"`
	TimestampReceived int64   `json:"timestamp_received"`
	Lat               float64 `json:"lat"`
	Lng               float64 `json:"lng"`
	Payload           []byte  `json:"payload"`
}

// DeviceView is one row of GET /api/v1/devices.
type DeviceView struct {
	DeviceID        int64  `json:"device_id"`
	Origin          string `json:"origin"`
	LastScreen      string `json:"last_screen"`
	LastCycleAtUnix int64  `json:"last_cycle_at_unix"`
}

// APIError is a structured error response.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ReceiveProtos handles POST /. The body is one proto object or an array of
// them; the device is identified by the Origin header. Successful posts are
// acknowledged with an empty 200 whatever happened to the individual protos.
func (h *Handler) ReceiveProtos(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		writeError(w, domain.ErrMissingOrigin)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, domain.WrapEngineError(domain.ErrMalformedBody.Code, "read body", err))
		return
	}

	if _, err := h.Dispatcher.Receive(r.Context(), origin, body); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// Health handles GET /api/v1/health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"queue_len": h.Dispatcher.QueueLen(),
	})
}

// GetLatest handles GET /api/v1/latest/{origin}.
func (h *Handler) GetLatest(w http.ResponseWriter, r *http.Request) {
	origin := r.PathValue("origin")
	rows, err := h.Dispatcher.Latest(r.Context(), origin)
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]LatestProtoView, 0, len(rows))
	for _, row := range rows {
		views = append(views, LatestProtoView{
			Key:               row.Key,
			TimestampRaw:      row.TimestampRaw,
			TimestampReceived: row.TimestampReceived,
			Lat:               row.Location.Lat,
			Lng:               row.Location.Lng,
			Payload:           row.Payload,
		})
	}
	writeJSON(w, http.StatusOK, views)
}

// ListDevices handles GET /api/v1/devices.
func (h *Handler) ListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := h.DeviceRepo.List(r.Context(), h.DB)
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]DeviceView, 0, len(devices))
	for _, d := range devices {
		views = append(views, DeviceView{
			DeviceID:        d.DeviceID,
			Origin:          d.Origin,
			LastScreen:      string(d.LastScreen),
			LastCycleAtUnix: d.LastCycleAtUnix,
		})
	}
	writeJSON(w, http.StatusOK, views)
}

// TriggerDetection handles POST /api/v1/devices/{origin}/detect.
func (h *Handler) TriggerDetection(w http.ResponseWriter, r *http.Request) {
	if h.Fleet == nil {
		writeError(w, domain.ErrDeviceNotFound)
		return
	}
	origin := r.PathValue("origin")
	if err := h.Fleet.Trigger(origin); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"origin": origin, "status": "triggered"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	var engErr *domain.EngineError
	if errors.As(err, &engErr) {
		status := http.StatusInternalServerError
		switch engErr.Code {
		case domain.ErrMissingOrigin.Code, domain.ErrMalformedBody.Code:
			status = http.StatusBadRequest
		case domain.ErrDeviceNotFound.Code:
			status = http.StatusNotFound
		case domain.ErrRateLimitExceeded.Code:
			status = http.StatusTooManyRequests
		}
		writeJSON(w, status, APIError{Code: engErr.Code, Message: engErr.Message})
		return
	}
	writeJSON(w, http.StatusInternalServerError, APIError{Code: -1, Message: err.Error()})
}
