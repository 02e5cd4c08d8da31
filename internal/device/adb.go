// Package device talks to physical devices: an Actuator driving the device
// through the adb CLI and an Analyzer backed by an OCR sidecar.
package device

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/devicefleet/mitmcore/internal/domain"
	"github.com/devicefleet/mitmcore/internal/screen"
)

const (
	uiDumpPath     = "/sdcard/window_dump.xml"
	externalIPURL  = "https://api.ipify.org"
	ptcLoginURL    = "https://access.pokemon.com/login"
	defaultTimeout = 60 * time.Second
	keycodeBack    = 4
)

// Runner executes a command and returns its stdout.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs the command as a subprocess.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return out, fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}

// ADB drives one device by serial through the adb binary.
type ADB struct {
	Path    string
	Serial  string
	Timeout time.Duration
	run     Runner
}

var _ screen.Actuator = (*ADB)(nil)

// NewADB creates an actuator for serial. run may be nil to use ExecRunner.
func NewADB(path, serial string, run Runner) *ADB {
	if path == "" {
		path = "adb"
	}
	if run == nil {
		run = ExecRunner
	}
	return &ADB{Path: path, Serial: serial, Timeout: defaultTimeout, run: run}
}

func (a *ADB) exec(ctx context.Context, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, a.Timeout)
	defer cancel()
	full := append([]string{"-s", a.Serial}, args...)
	out, err := a.run(ctx, a.Path, full...)
	if err != nil {
		return out, domain.WrapEngineError(domain.ErrDeviceCommand.Code, domain.ErrDeviceCommand.Message, err)
	}
	return out, nil
}

func (a *ADB) shell(ctx context.Context, args ...string) (string, error) {
	out, err := a.exec(ctx, append([]string{"shell"}, args...)...)
	return strings.TrimSpace(string(out)), err
}

func (a *ADB) Click(ctx context.Context, x, y int) error {
	_, err := a.shell(ctx, "input", "tap", strconv.Itoa(x), strconv.Itoa(y))
	return err
}

func (a *ADB) TouchAndHold(ctx context.Context, x1, y1, x2, y2 int, d time.Duration) error {
	_, err := a.shell(ctx, "input", "swipe",
		strconv.Itoa(x1), strconv.Itoa(y1), strconv.Itoa(x2), strconv.Itoa(y2),
		strconv.FormatInt(d.Milliseconds(), 10))
	return err
}

// EnterText types text into the focused field. Spaces become %s as input
// text requires.
func (a *ADB) EnterText(ctx context.Context, text string) error {
	escaped := strings.ReplaceAll(text, " ", "%s")
	_, err := a.shell(ctx, "input", "text", shellQuote(escaped))
	return err
}

// GetScreenshot captures the screen with screencap and writes it to path,
// re-encoding as JPEG when asked to.
func (a *ADB) GetScreenshot(ctx context.Context, path string, quality int, format screen.ScreenshotFormat) error {
	raw, err := a.exec(ctx, "exec-out", "screencap", "-p")
	if err != nil {
		return err
	}
	if len(raw) == 0 {
		return fmt.Errorf("screencap returned no data")
	}
	data := raw
	if format != screen.ScreenshotPNG {
		data, err = toJPEG(raw, quality)
		if err != nil {
			return err
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write screenshot: %w", err)
	}
	return nil
}

func toJPEG(pngData []byte, quality int) ([]byte, error) {
	img, err := png.Decode(bytes.NewReader(pngData))
	if err != nil {
		return nil, fmt.Errorf("decode screencap: %w", err)
	}
	return encodeJPEG(img, quality)
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	if quality <= 0 || quality > 100 {
		quality = jpeg.DefaultQuality
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// TopmostApp returns the focused window, e.g.
// "Window{1f u0 com.nianticlabs.pokemongo/com.unity3d.player.UnityPlayerActivity}".
func (a *ADB) TopmostApp(ctx context.Context) (string, error) {
	out, err := a.shell(ctx, "dumpsys", "window", "windows")
	if err != nil {
		return "", err
	}
	return parseFocus(out), nil
}

func parseFocus(dumpsys string) string {
	for _, line := range strings.Split(dumpsys, "\n") {
		if _, after, ok := strings.Cut(line, "mCurrentFocus="); ok {
			return strings.TrimSpace(after)
		}
	}
	return ""
}

func (a *ADB) UIAutomatorDump(ctx context.Context) (string, error) {
	if _, err := a.shell(ctx, "uiautomator", "dump", uiDumpPath); err != nil {
		return "", err
	}
	return a.shell(ctx, "cat", uiDumpPath)
}

func (a *ADB) RestartApp(ctx context.Context, pkg string) error {
	if err := a.StopApp(ctx, pkg); err != nil {
		return err
	}
	return a.StartApp(ctx, pkg)
}

func (a *ADB) StartApp(ctx context.Context, pkg string) error {
	_, err := a.shell(ctx, "monkey", "-p", pkg, "-c", "android.intent.category.LAUNCHER", "1")
	return err
}

func (a *ADB) StopApp(ctx context.Context, pkg string) error {
	_, err := a.shell(ctx, "am", "force-stop", pkg)
	return err
}

func (a *ADB) ResetAppData(ctx context.Context, pkg string) error {
	_, err := a.shell(ctx, "pm", "clear", pkg)
	return err
}

// Passthrough runs cmd verbatim in the device shell.
func (a *ADB) Passthrough(ctx context.Context, cmd string) (string, error) {
	return a.shell(ctx, cmd)
}

// ExternalIP asks a public echo service from the device, so the answer is
// the device's egress address. "" means unknown.
func (a *ADB) ExternalIP(ctx context.Context) (string, error) {
	out, err := a.shell(ctx, "curl", "-s", "-m", "10", externalIPURL)
	if err != nil {
		return "", err
	}
	return out, nil
}

// PTCLoginStatus returns the HTTP status of the PTC login page as seen from
// the device.
func (a *ADB) PTCLoginStatus(ctx context.Context) (int, error) {
	out, err := a.shell(ctx, "curl", "-s", "-o", "/dev/null", "-m", "10", "-w", shellQuote("%{http_code}"), ptcLoginURL)
	if err != nil {
		return 0, err
	}
	code, err := strconv.Atoi(out)
	if err != nil {
		return 0, fmt.Errorf("parse status %q: %w", out, err)
	}
	return code, nil
}

func (a *ADB) BackButton(ctx context.Context) error {
	_, err := a.shell(ctx, "input", "keyevent", strconv.Itoa(keycodeBack))
	return err
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
