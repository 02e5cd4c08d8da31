// Package screen recognises which screen the game client is showing on a
// device and performs the interaction that moves it towards the map.
package screen

import (
	"context"
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/devicefleet/mitmcore/internal/devicesettings"
	"github.com/devicefleet/mitmcore/internal/domain"
	"github.com/devicefleet/mitmcore/internal/logging"
)

// DefaultTargetPackage is the game client's Android package.
const DefaultTargetPackage = "com.nianticlabs.pokemongo"

const defaultScreenshotQuality = 80

// Options holds the process-wide switches the automaton honours.
type Options struct {
	TempPath                        string
	TargetPackage                   string
	EnableLoginTracking             bool
	EnableEarlyMaintenanceDetection bool
}

// Deps bundles the collaborators of an Automaton.
type Deps struct {
	Actuator Actuator
	Analyzer Analyzer
	Accounts Accounts
	Settings Settings
	Logins   LoginLimiter
	Logger   *zap.Logger
}

// Automaton drives one device. It is not safe for concurrent use: exactly
// one goroutine owns an Automaton and its WorkerState.
type Automaton struct {
	state    *domain.WorkerState
	actuator Actuator
	analyzer Analyzer
	accounts Accounts
	settings Settings
	logins   LoginLimiter
	opts     Options
	logger   *zap.Logger
	handlers map[domain.ScreenType]handler

	accountIndex int

	sleep func(ctx context.Context, d time.Duration)
	intn  func(n int) int
	now   func() time.Time
}

// New creates the automaton for state's device and reads its account index.
func New(state *domain.WorkerState, deps Deps, opts Options) *Automaton {
	if opts.TargetPackage == "" {
		opts.TargetPackage = DefaultTargetPackage
	}
	a := &Automaton{
		state:    state,
		actuator: deps.Actuator,
		analyzer: deps.Analyzer,
		accounts: deps.Accounts,
		settings: deps.Settings,
		logins:   deps.Logins,
		opts:     opts,
		logger:   logging.ForOrigin(deps.Logger, state.Origin, "screen"),
		handlers: handlerTable(),
		sleep:    sleepCtx,
		intn:     rand.IntN,
		now:      time.Now,
	}
	a.accountIndex = a.settings.GetInt(state.Origin, devicesettings.KeyAccountIndex, 0)
	// Pixels hidden by the status or navigation bar.
	state.Resolution.YOffset = a.settings.GetInt(state.Origin, devicesettings.KeyYOffset, state.Resolution.YOffset)
	a.logger.Info("Starting screen detector")
	return a
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// State returns the worker state owned by this automaton.
func (a *Automaton) State() *domain.WorkerState { return a.state }

// AccountIndex is the device's configured account index.
func (a *Automaton) AccountIndex() int { return a.accountIndex }

// Detect runs one full cycle: classify the current screen, act on it and
// return the screen type to report. It never panics.
func (a *Automaton) Detect(ctx context.Context, yOffset int) (result domain.ScreenType) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("Screen cycle panicked", zap.Any("panic", r))
			result = domain.ScreenError
		}
	}()

	app, err := a.actuator.TopmostApp(ctx)
	if err != nil || app == "" {
		a.logger.Warn("Failed getting the topmost app", zap.Error(err))
		return domain.ScreenError
	}

	screen, rec := a.classify(ctx, app)
	a.logger.Info("Processing screen", zap.String("screen", string(screen)))
	return a.act(ctx, screen, rec, yOffset)
}

// classify maps the foreground app, then the pending hint, then a fresh
// screenshot analysis onto a screen type. rec is nil unless a screenshot
// was analysed.
func (a *Automaton) classify(ctx context.Context, app string) (domain.ScreenType, *domain.RecognitionResult) {
	switch {
	case strings.Contains(app, "ExternalAppBrowserActivity") || strings.Contains(app, "CustomTabActivity"):
		return domain.ScreenPTC, nil
	case strings.Contains(app, "AccountPickerActivity") || strings.Contains(app, "SignInActivity"):
		return domain.ScreenGGL, nil
	case strings.Contains(app, "GrantPermissionsActivity"):
		return domain.ScreenPermission, nil
	case strings.Contains(app, "GrantCredentials"):
		return domain.ScreenCredentials, nil
	case strings.Contains(app, "ConsentActivity"):
		return domain.ScreenConsent, nil
	case strings.Contains(app, "/a.m"):
		a.logger.Error("Likely found 'not responding' popup - reboot device", zap.String("topmost_app", app))
		return domain.ScreenNotResponding, nil
	case !strings.Contains(app, a.opts.TargetPackage):
		a.logger.Warn("Game is not opened", zap.String("topmost_app", app))
		return domain.ScreenClose, nil
	}

	if a.hasHint() {
		return a.state.PendingNextScreen, nil
	}
	if !a.settings.GetBool(a.state.Origin, devicesettings.KeyScreenDetection, true) {
		a.logger.Info("Screen detection is disabled")
		return domain.ScreenDisabled, nil
	}

	rec, err := a.takeAndAnalyze(ctx)
	if err != nil {
		a.logger.Error("Failed getting/analyzing screenshot", zap.Error(err))
		return domain.ScreenError, nil
	}
	if len(rec.TextBoxes) == 0 {
		a.clearHint()
		a.logger.Warn("Could not understand any text on screen - starting next round")
		return domain.ScreenError, rec
	}
	a.logger.Debug("Screen ratio", zap.Float64("xy_ratio", a.state.Resolution.XYRatio))

	if (rec.ScreenType == domain.ScreenUndefined || rec.ScreenType == "") && strings.Contains(app, a.opts.TargetPackage) {
		return domain.ScreenPogo, rec
	}
	return rec.ScreenType, rec
}

func (a *Automaton) hasHint() bool {
	h := a.state.PendingNextScreen
	return h != "" && h != domain.ScreenUndefined
}

func (a *Automaton) clearHint() {
	a.state.PendingNextScreen = domain.ScreenUndefined
}

func (a *Automaton) setHint(s domain.ScreenType) {
	a.state.PendingNextScreen = s
}

// act dispatches to the handler registered for screen.
func (a *Automaton) act(ctx context.Context, screen domain.ScreenType, rec *domain.RecognitionResult, yOffset int) domain.ScreenType {
	h, ok := a.handlers[screen]
	if !ok {
		a.logger.Error("No handler for screen", zap.String("screen", string(screen)), zap.Error(domain.ErrNoHandler))
		return domain.ScreenError
	}
	in := cycle{screen: screen, diff: 1, yOffset: yOffset}
	if rec != nil {
		in.boxes = rec.TextBoxes
		if rec.ScaleFactor > 0 {
			in.diff = rec.ScaleFactor
		}
	}
	return h(ctx, a, in)
}

// ScreenshotPath is where this device's screenshot is written. debug adds a
// timestamp so the file is kept apart from the rolling screenshot.
func (a *Automaton) ScreenshotPath(debug bool) string {
	ext := ".jpg"
	if a.screenshotFormat() == ScreenshotPNG {
		ext = ".png"
	}
	addon := ""
	if debug {
		addon = "_" + strconv.FormatInt(a.now().Unix(), 10)
	}
	name := fmt.Sprintf("screenshot_%s%s%s", a.state.Origin, addon, ext)
	if debug {
		a.logger.Info("Creating debug screen", zap.String("file", name))
	}
	return filepath.Join(a.opts.TempPath, name)
}

func (a *Automaton) screenshotFormat() ScreenshotFormat {
	if a.settings.GetString(a.state.Origin, devicesettings.KeyScreenshotType, string(ScreenshotJPEG)) == string(ScreenshotPNG) {
		return ScreenshotPNG
	}
	return ScreenshotJPEG
}

func (a *Automaton) postScreenshotDelay() time.Duration {
	sec := a.settings.GetFloat(a.state.Origin, devicesettings.KeyPostScreenshotDelay, 1)
	return time.Duration(sec * float64(time.Second))
}

func (a *Automaton) takeScreenshot(ctx context.Context, before, after time.Duration, debug bool) error {
	a.logger.Debug("Taking screenshot")
	a.sleep(ctx, before)
	quality := a.settings.GetInt(a.state.Origin, devicesettings.KeyScreenshotQuality, defaultScreenshotQuality)
	if err := a.actuator.GetScreenshot(ctx, a.ScreenshotPath(debug), quality, a.screenshotFormat()); err != nil {
		return domain.WrapEngineError(domain.ErrScreenshot.Code, domain.ErrScreenshot.Message, err)
	}
	a.state.LastScreenshotAt = a.now()
	a.sleep(ctx, after)
	return nil
}

// takeAndAnalyze captures a screenshot, analyses it and records the
// screen dimensions on the worker state.
func (a *Automaton) takeAndAnalyze(ctx context.Context) (*domain.RecognitionResult, error) {
	if err := a.takeScreenshot(ctx, a.postScreenshotDelay(), 2*time.Second, false); err != nil {
		return nil, err
	}
	rec, err := a.analyzer.AnalyzeScreen(ctx, a.ScreenshotPath(false), a.state.Origin)
	if err != nil {
		return nil, domain.WrapEngineError(domain.ErrScreenAnalysis.Code, domain.ErrScreenAnalysis.Message, err)
	}
	if rec == nil {
		return nil, domain.ErrScreenAnalysis
	}
	res := &a.state.Resolution
	res.ScreenWidth = rec.Width
	res.ScreenHeight = rec.Height
	if rec.Height > 0 {
		res.XYRatio = float64(rec.Width) / float64(rec.Height)
	}
	return rec, nil
}

func (a *Automaton) fetchAuth(ctx context.Context) {
	if err := a.accounts.FetchAuthDetails(ctx, a.state); err != nil {
		a.logger.Warn("Failed fetching auth details", zap.Error(err))
	}
}

func (a *Automaton) markBurnt(ctx context.Context, reason domain.BurnType) {
	if err := a.accounts.MarkBurnt(ctx, a.state.DeviceID, reason); err != nil {
		a.logger.Error("Failed marking account burnt", zap.String("reason", string(reason)), zap.Error(err))
	}
}

func (a *Automaton) click(ctx context.Context, x, y int) {
	if err := a.actuator.Click(ctx, x, y); err != nil {
		a.logger.Warn("Click failed", zap.Int("x", x), zap.Int("y", y), zap.Error(err))
	}
}

func (a *Automaton) swipe(ctx context.Context, x1, y1, x2, y2 int, d time.Duration) {
	if err := a.actuator.TouchAndHold(ctx, x1, y1, x2, y2, d); err != nil {
		a.logger.Warn("Touch and hold failed", zap.Error(err))
	}
}

func (a *Automaton) enterText(ctx context.Context, text string) {
	if err := a.actuator.EnterText(ctx, text); err != nil {
		a.logger.Warn("Entering text failed", zap.Error(err))
	}
}

func (a *Automaton) passthrough(ctx context.Context, cmd string) {
	if _, err := a.actuator.Passthrough(ctx, cmd); err != nil {
		a.logger.Warn("Passthrough failed", zap.String("cmd", cmd), zap.Error(err))
	}
}

func (a *Automaton) appAction(ctx context.Context, name string, fn func(context.Context, string) error) {
	if err := fn(ctx, a.opts.TargetPackage); err != nil {
		a.logger.Warn("App action failed", zap.String("action", name), zap.Error(err))
	}
}

// clickBox clicks the centre of a text box, converted by the scale factor.
func (a *Automaton) clickBox(ctx context.Context, b domain.TextBox, diff float64) {
	if diff <= 0 {
		diff = 1
	}
	x := (float64(b.Left) + float64(b.Width)/2) / diff
	y := (float64(b.Top) + float64(b.Height)/2) / diff
	a.click(ctx, int(x), int(y))
}

// randInt returns a uniform integer in [lo, hi].
func (a *Automaton) randInt(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + a.intn(hi-lo+1)
}

func (a *Automaton) width() int  { return a.state.Resolution.ScreenWidth }
func (a *Automaton) height() int { return a.state.Resolution.ScreenHeight }

// CensorAccount masks an account name for log output.
func CensorAccount(name string, isPTC bool) string {
	if isPTC {
		r := []rune(name)
		head, tail := r, r
		if len(r) > 2 {
			head, tail = r[:2], r[len(r)-2:]
		}
		return string(head) + "***" + string(tail)
	}
	user, host, ok := strings.Cut(name, "@")
	if !ok {
		return name
	}
	switch {
	case len(user) > 6:
		return user[:2] + "***" + user[len(user)-2:] + "@" + host
	case user == "":
		return name
	default:
		return strings.Repeat("*", len(user)) + "@" + host
	}
}
