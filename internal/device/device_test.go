package device

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devicefleet/mitmcore/internal/devicesettings"
	"github.com/devicefleet/mitmcore/internal/domain"
	"github.com/devicefleet/mitmcore/internal/screen"
)

type recordingRunner struct {
	mu      sync.Mutex
	calls   []string
	outputs map[string][]byte
	err     error
}

func (r *recordingRunner) run(_ context.Context, name string, args ...string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	line := name + " " + strings.Join(args, " ")
	r.calls = append(r.calls, line)
	if r.err != nil {
		return nil, r.err
	}
	for suffix, out := range r.outputs {
		if strings.HasSuffix(line, suffix) {
			return out, nil
		}
	}
	return nil, nil
}

func TestADB_InputCommands(t *testing.T) {
	r := &recordingRunner{}
	a := NewADB("", "emulator-5554", r.run)
	ctx := context.Background()

	require.NoError(t, a.Click(ctx, 10, 20))
	require.NoError(t, a.TouchAndHold(ctx, 1, 2, 3, 4, 1500*time.Millisecond))
	require.NoError(t, a.EnterText(ctx, "hello world"))
	require.NoError(t, a.BackButton(ctx))
	require.NoError(t, a.RestartApp(ctx, screen.DefaultTargetPackage))
	require.NoError(t, a.ResetAppData(ctx, screen.DefaultTargetPackage))

	want := []string{
		"adb -s emulator-5554 shell input tap 10 20",
		"adb -s emulator-5554 shell input swipe 1 2 3 4 1500",
		"adb -s emulator-5554 shell input text 'hello%sworld'",
		"adb -s emulator-5554 shell input keyevent 4",
		"adb -s emulator-5554 shell am force-stop com.nianticlabs.pokemongo",
		"adb -s emulator-5554 shell monkey -p com.nianticlabs.pokemongo -c android.intent.category.LAUNCHER 1",
		"adb -s emulator-5554 shell pm clear com.nianticlabs.pokemongo",
	}
	if diff := cmp.Diff(want, r.calls); diff != "" {
		t.Fatalf("commands mismatch (-want +got):\n%s", diff)
	}
}

func TestADB_TopmostApp(t *testing.T) {
	r := &recordingRunner{outputs: map[string][]byte{
		"dumpsys window windows": []byte("  mFocusedApp=foo\n  mCurrentFocus=Window{1f u0 com.nianticlabs.pokemongo/com.unity3d.player.UnityPlayerActivity}\n"),
	}}
	a := NewADB("adb", "serial", r.run)

	app, err := a.TopmostApp(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Window{1f u0 com.nianticlabs.pokemongo/com.unity3d.player.UnityPlayerActivity}", app)
}

func TestADB_PTCLoginStatus(t *testing.T) {
	r := &recordingRunner{outputs: map[string][]byte{ptcLoginURL: []byte("403\n")}}
	a := NewADB("adb", "serial", r.run)

	code, err := a.PTCLoginStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 403, code)

	r.outputs[ptcLoginURL] = []byte("garbage")
	_, err = a.PTCLoginStatus(context.Background())
	assert.Error(t, err)
}

func TestADB_CommandFailure(t *testing.T) {
	r := &recordingRunner{err: errors.New("device offline")}
	a := NewADB("adb", "serial", r.run)

	err := a.Click(context.Background(), 1, 1)
	assert.ErrorIs(t, err, domain.ErrDeviceCommand)
}

func TestADB_ScreenshotAsJPEG(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	r := &recordingRunner{outputs: map[string][]byte{"exec-out screencap -p": buf.Bytes()}}
	a := NewADB("adb", "serial", r.run)
	dir := t.TempDir()

	jpgPath := filepath.Join(dir, "shot.jpg")
	require.NoError(t, a.GetScreenshot(context.Background(), jpgPath, 80, screen.ScreenshotJPEG))
	data, err := os.ReadFile(jpgPath)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFF, 0xD8}, data[:2])

	pngPath := filepath.Join(dir, "shot.png")
	require.NoError(t, a.GetScreenshot(context.Background(), pngPath, 80, screen.ScreenshotPNG))
	data, err = os.ReadFile(pngPath)
	require.NoError(t, err)
	assert.Equal(t, buf.Bytes(), data)
}

func TestDrivers_SerialFromSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devices.yaml")
	require.NoError(t, os.WriteFile(path, []byte("devices:\n  dev1:\n    adb_serial: 192.168.1.5:5555\n"), 0o644))
	settings, err := devicesettings.Load(path, nil)
	require.NoError(t, err)

	d := &Drivers{Settings: settings, OCR: NewOCRClient("")}
	act, ana, err := d.Open("dev1")
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.5:5555", act.(*ADB).Serial)
	assert.Same(t, d.OCR, ana)

	act, _, err = d.Open("dev2")
	require.NoError(t, err)
	assert.Equal(t, "dev2", act.(*ADB).Serial)
}

func TestOCRClient(t *testing.T) {
	var seen []ocrRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ocrRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		seen = append(seen, req)
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/analyze":
			_, _ = w.Write([]byte(`{"screen_type":"LOGINSELECT","boxes":[{"text":"Google","left":1,"top":2,"width":3,"height":4}],"width":720,"height":1280,"scale_factor":1.5}`))
		case "/text":
			_, _ = w.Write([]byte(`{"boxes":[{"text":"FIELD"}]}`))
		case "/colour":
			_, _ = w.Write([]byte(`{"found":true,"r":16,"g":24,"b":33}`))
		case "/button":
			_, _ = w.Write([]byte(`{"found":false}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewOCRClient(srv.URL)
	ctx := context.Background()

	rec, err := c.AnalyzeScreen(ctx, "/tmp/s.jpg", "dev1")
	require.NoError(t, err)
	assert.Equal(t, domain.ScreenLoginSelect, rec.ScreenType)
	assert.Equal(t, []domain.TextBox{{Text: "Google", Left: 1, Top: 2, Width: 3, Height: 4}}, rec.TextBoxes)
	assert.Equal(t, 1.5, rec.ScaleFactor)

	boxes, err := c.ScreenText(ctx, "/tmp/s.jpg", "dev1")
	require.NoError(t, err)
	assert.Equal(t, "FIELD", boxes[0].Text)

	colour, err := c.MostFrequentColour(ctx, "/tmp/s.jpg", "dev1", 40)
	require.NoError(t, err)
	assert.Equal(t, &domain.RGB{R: 16, G: 24, B: 33}, colour)

	pt, err := c.LookForButton(ctx, "/tmp/s.jpg", 2.2, 3.01, true)
	require.NoError(t, err)
	assert.Nil(t, pt)

	require.Len(t, seen, 4)
	assert.Equal(t, 40, seen[2].YOffset)
	assert.True(t, seen[3].Upper)
}

func TestOCRClient_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewOCRClient(srv.URL).ScreenText(context.Background(), "/tmp/s.jpg", "dev1")
	assert.ErrorIs(t, err, domain.ErrAnalyzer)
	assert.Contains(t, err.Error(), "503")
}
