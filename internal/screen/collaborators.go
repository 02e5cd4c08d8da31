package screen

import (
	"context"
	"time"

	"github.com/devicefleet/mitmcore/internal/domain"
)

// ScreenshotFormat is the image encoding requested from the device.
type ScreenshotFormat string

const (
	ScreenshotJPEG ScreenshotFormat = "jpeg"
	ScreenshotPNG  ScreenshotFormat = "png"
)

// Actuator drives one device. Every call may block for seconds.
type Actuator interface {
	Click(ctx context.Context, x, y int) error
	TouchAndHold(ctx context.Context, x1, y1, x2, y2 int, duration time.Duration) error
	EnterText(ctx context.Context, text string) error
	GetScreenshot(ctx context.Context, path string, quality int, format ScreenshotFormat) error
	TopmostApp(ctx context.Context) (string, error)
	// UIAutomatorDump returns the UI hierarchy XML, or "" when unavailable.
	UIAutomatorDump(ctx context.Context) (string, error)
	RestartApp(ctx context.Context, pkg string) error
	StartApp(ctx context.Context, pkg string) error
	StopApp(ctx context.Context, pkg string) error
	ResetAppData(ctx context.Context, pkg string) error
	Passthrough(ctx context.Context, cmd string) (string, error)
	ExternalIP(ctx context.Context) (string, error)
	PTCLoginStatus(ctx context.Context) (int, error)
	BackButton(ctx context.Context) error
}

// Analyzer extracts text and colour signals from screenshots on disk.
type Analyzer interface {
	// AnalyzeScreen classifies a screenshot. The result carries the text
	// boxes, the screenshot dimensions and the scale factor.
	AnalyzeScreen(ctx context.Context, path, origin string) (*domain.RecognitionResult, error)
	ScreenText(ctx context.Context, path, origin string) ([]domain.TextBox, error)
	// MostFrequentColour returns nil when no colour could be sampled.
	MostFrequentColour(ctx context.Context, path, origin string, yOffset int) (*domain.RGB, error)
	// LookForButton returns nil when no button matches the ratio window.
	LookForButton(ctx context.Context, path string, minRatio, maxRatio float64, upper bool) (*domain.Point, error)
}

// Accounts is the account collaborator. Implementations must be safe for
// concurrent use by many automatons.
type Accounts interface {
	FetchAuthDetails(ctx context.Context, state *domain.WorkerState) error
	MarkBurnt(ctx context.Context, deviceID int64, reason domain.BurnType) error
	NotifyLogout(ctx context.Context, deviceID int64) error
}

// Settings reads per-device settings.
type Settings interface {
	GetInt(origin, key string, def int) int
	GetFloat(origin, key string, def float64) float64
	GetBool(origin, key string, def bool) bool
	GetString(origin, key string, def string) string
}

// LoginLimiter decides whether a PTC login may happen from an IP.
type LoginLimiter interface {
	HandleLoginRequest(ctx context.Context, ip, origin string, increment bool) (bool, error)
	RemoveTracking(ctx context.Context, origin string) error
}
