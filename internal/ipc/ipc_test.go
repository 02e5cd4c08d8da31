package ipc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/devicefleet/mitmcore/internal/account"
	"github.com/devicefleet/mitmcore/internal/domain"
	"github.com/devicefleet/mitmcore/internal/intake"
	"github.com/devicefleet/mitmcore/internal/protos/protostest"
	"github.com/devicefleet/mitmcore/internal/store"
)

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := store.NewDB(dbPath)
	if err != nil {
		t.Fatalf("create db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	accounts := account.NewHandler(db, zap.NewNop())
	logins := account.NewLoginLimiter(db, 1, time.Hour)
	d := intake.NewDispatcher(db, accounts, logins, intake.NewQueue(16), zap.NewNop(), intake.Options{})

	return &Handler{
		Dispatcher: d,
		DB:         db,
		DeviceRepo: &store.DeviceRepo{},
		Logger:     zap.NewNop(),
	}
}

func gmoBody(cells int) string {
	return fmt.Sprintf(`{"type":106,"timestamp":%d,"lat":95,"lng":10,"raw":true,"payload":%q}`,
		time.Now().Unix(), protostest.Base64(protostest.GMO(cells)))
}

func TestReceiveProtos_SingleObject(t *testing.T) {
	h := newTestHandler(t)
	mux := NewMux(h)

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(gmoBody(1)))
	req.Header.Set("Origin", "pixel-1")
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if w.Body.Len() != 0 {
		t.Errorf("expected empty body, got %q", w.Body.String())
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}
	if got := h.Dispatcher.QueueLen(); got != 1 {
		t.Errorf("queue len = %d, want 1", got)
	}
}

func TestReceiveProtos_ArrayWithDrops(t *testing.T) {
	h := newTestHandler(t)
	mux := NewMux(h)

	body := "[" + gmoBody(1) + `,{"type":0},` + gmoBody(0) + "]"
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(body))
	req.Header.Set("Origin", "pixel-1")
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	// Dropped protos do not change the acknowledgement.
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got := h.Dispatcher.QueueLen(); got != 1 {
		t.Errorf("queue len = %d, want 1", got)
	}
}

func TestReceiveProtos_MissingOrigin(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(gmoBody(1)))
	w := httptest.NewRecorder()

	h.ReceiveProtos(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	var apiErr APIError
	json.NewDecoder(w.Body).Decode(&apiErr)
	if apiErr.Code != domain.ErrMissingOrigin.Code {
		t.Errorf("expected code %d, got %d", domain.ErrMissingOrigin.Code, apiErr.Code)
	}
}

func TestReceiveProtos_InvalidBody(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString("not json"))
	req.Header.Set("Origin", "pixel-1")
	w := httptest.NewRecorder()

	h.ReceiveProtos(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestGetLatest(t *testing.T) {
	h := newTestHandler(t)
	mux := NewMux(h)

	post := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(gmoBody(2)))
	post.Header.Set("Origin", "pixel-1")
	mux.ServeHTTP(httptest.NewRecorder(), post)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/latest/pixel-1", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var views []LatestProtoView
	if err := json.NewDecoder(w.Body).Decode(&views); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("expected 1 row, got %d", len(views))
	}
	if views[0].Key != "106" {
		t.Errorf("key = %q, want 106", views[0].Key)
	}
	if views[0].Lat != 0 || views[0].Lng != 0 {
		t.Errorf("location = (%v,%v), want normalized (0,0)", views[0].Lat, views[0].Lng)
	}
	if !bytes.Equal(views[0].Payload, protostest.GMO(2)) {
		t.Error("payload mismatch")
	}
}

func TestGetLatest_UnknownOrigin(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/latest/nobody", nil)
	w := httptest.NewRecorder()
	NewMux(h).ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got := w.Body.String(); got != "[]\n" {
		t.Errorf("body = %q, want empty list", got)
	}
}

func TestHealth(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	w := httptest.NewRecorder()

	h.Health(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp map[string]any
	json.NewDecoder(w.Body).Decode(&resp)
	if resp["status"] != "ok" {
		t.Errorf("expected status=ok, got %v", resp["status"])
	}
}

func TestListDevices(t *testing.T) {
	h := newTestHandler(t)
	ctx := context.Background()
	id, err := h.DeviceRepo.Create(ctx, h.DB, "pixel-1")
	if err != nil {
		t.Fatalf("create device: %v", err)
	}
	if err := h.DeviceRepo.UpdateLastScreen(ctx, h.DB, id, domain.ScreenPogo, 100); err != nil {
		t.Fatalf("update screen: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/devices", nil)
	w := httptest.NewRecorder()
	NewMux(h).ServeHTTP(w, req)

	var views []DeviceView
	json.NewDecoder(w.Body).Decode(&views)
	if len(views) != 1 || views[0].LastScreen != string(domain.ScreenPogo) {
		t.Errorf("devices = %+v", views)
	}
}

func TestWriteError_Mapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrMissingOrigin, http.StatusBadRequest},
		{domain.ErrMalformedBody, http.StatusBadRequest},
		{fmt.Errorf("wrapped: %w", domain.ErrDeviceNotFound), http.StatusNotFound},
		{domain.ErrRateLimitExceeded, http.StatusTooManyRequests},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		writeError(w, tt.err)
		if w.Code != tt.want {
			t.Errorf("writeError(%v) = %d, want %d", tt.err, w.Code, tt.want)
		}
	}
}

type fakeFleet struct {
	triggered []string
}

func (f *fakeFleet) Trigger(origin string) error {
	if origin != "pixel-1" {
		return domain.ErrDeviceNotFound
	}
	f.triggered = append(f.triggered, origin)
	return nil
}

func TestTriggerDetection(t *testing.T) {
	h := newTestHandler(t)
	fleet := &fakeFleet{}
	h.Fleet = fleet
	mux := NewMux(h)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/devices/pixel-1/detect", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	if len(fleet.triggered) != 1 {
		t.Errorf("triggered = %v", fleet.triggered)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/devices/pixel-9/detect", nil)
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown device, got %d", w.Code)
	}
}

func TestTriggerDetection_NoFleet(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/devices/pixel-1/detect", nil)
	w := httptest.NewRecorder()
	NewMux(h).ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 without fleet, got %d", w.Code)
	}
}

func TestFormatListenURL(t *testing.T) {
	tests := map[string]string{
		":8000":          "http://localhost:8000",
		"0.0.0.0:9000":   "http://localhost:9000",
		"10.0.0.2:8000":  "http://10.0.0.2:8000",
		"not-an-address": "http://not-an-address",
	}
	for addr, want := range tests {
		if got := FormatListenURL(addr); got != want {
			t.Errorf("FormatListenURL(%q) = %q, want %q", addr, got, want)
		}
	}
}
