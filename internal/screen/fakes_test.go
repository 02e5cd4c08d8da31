package screen

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/devicefleet/mitmcore/internal/domain"
)

const (
	pogoActivity = DefaultTargetPackage + "/com.unity3d.player.UnityPlayerActivity"
	testOrigin   = "dev1"
)

type fakeActuator struct {
	mu      sync.Mutex
	calls   []string
	topmost string
	topErr  error
	dump    string
	ip      string
	status  int
	shotErr error
	panics  bool
}

func (f *fakeActuator) record(format string, args ...any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

func (f *fakeActuator) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeActuator) Click(_ context.Context, x, y int) error {
	f.record("click %d,%d", x, y)
	return nil
}

func (f *fakeActuator) TouchAndHold(_ context.Context, x1, y1, x2, y2 int, d time.Duration) error {
	f.record("swipe %d,%d->%d,%d %s", x1, y1, x2, y2, d)
	return nil
}

func (f *fakeActuator) EnterText(_ context.Context, text string) error {
	f.record("text %s", text)
	return nil
}

func (f *fakeActuator) GetScreenshot(_ context.Context, path string, _ int, _ ScreenshotFormat) error {
	f.record("screenshot %s", path)
	return f.shotErr
}

func (f *fakeActuator) TopmostApp(context.Context) (string, error) {
	if f.panics {
		panic("adb went away")
	}
	return f.topmost, f.topErr
}

func (f *fakeActuator) UIAutomatorDump(context.Context) (string, error) { return f.dump, nil }

func (f *fakeActuator) RestartApp(_ context.Context, pkg string) error {
	f.record("restart %s", pkg)
	return nil
}

func (f *fakeActuator) StartApp(_ context.Context, pkg string) error {
	f.record("start %s", pkg)
	return nil
}

func (f *fakeActuator) StopApp(_ context.Context, pkg string) error {
	f.record("stop %s", pkg)
	return nil
}

func (f *fakeActuator) ResetAppData(_ context.Context, pkg string) error {
	f.record("reset %s", pkg)
	return nil
}

func (f *fakeActuator) Passthrough(_ context.Context, cmd string) (string, error) {
	f.record("shell %s", cmd)
	return "", nil
}

func (f *fakeActuator) ExternalIP(context.Context) (string, error) { return f.ip, nil }

func (f *fakeActuator) PTCLoginStatus(context.Context) (int, error) { return f.status, nil }

func (f *fakeActuator) BackButton(context.Context) error {
	f.record("back")
	return nil
}

func (f *fakeActuator) screenshots() int {
	return len(f.Calls()) - len(f.actions())
}

// actions returns the recorded calls other than screenshots.
func (f *fakeActuator) actions() []string {
	var out []string
	for _, c := range f.Calls() {
		if !strings.HasPrefix(c, "screenshot ") {
			out = append(out, c)
		}
	}
	return out
}

type fakeAnalyzer struct {
	rec      *domain.RecognitionResult
	recErr   error
	text     []domain.TextBox
	colour   *domain.RGB
	button   *domain.Point
	analyses int
}

func (f *fakeAnalyzer) AnalyzeScreen(context.Context, string, string) (*domain.RecognitionResult, error) {
	f.analyses++
	return f.rec, f.recErr
}

func (f *fakeAnalyzer) ScreenText(context.Context, string, string) ([]domain.TextBox, error) {
	return f.text, nil
}

func (f *fakeAnalyzer) MostFrequentColour(context.Context, string, string, int) (*domain.RGB, error) {
	return f.colour, nil
}

func (f *fakeAnalyzer) LookForButton(context.Context, string, float64, float64, bool) (*domain.Point, error) {
	return f.button, nil
}

type fakeAccounts struct {
	account *domain.Account
	burns   []domain.BurnType
	logouts int
	fetches int
}

func (f *fakeAccounts) FetchAuthDetails(_ context.Context, state *domain.WorkerState) error {
	f.fetches++
	if state.ActiveAccount == nil && f.account != nil {
		acc := *f.account
		state.ActiveAccount = &acc
	}
	return nil
}

func (f *fakeAccounts) MarkBurnt(_ context.Context, _ int64, reason domain.BurnType) error {
	f.burns = append(f.burns, reason)
	return nil
}

func (f *fakeAccounts) NotifyLogout(context.Context, int64) error {
	f.logouts++
	return nil
}

type fakeSettings map[string]any

func (s fakeSettings) GetInt(_, key string, def int) int {
	if v, ok := s[key].(int); ok {
		return v
	}
	return def
}

func (s fakeSettings) GetFloat(_, key string, def float64) float64 {
	if v, ok := s[key].(float64); ok {
		return v
	}
	return def
}

func (s fakeSettings) GetBool(_, key string, def bool) bool {
	if v, ok := s[key].(bool); ok {
		return v
	}
	return def
}

func (s fakeSettings) GetString(_, key string, def string) string {
	if v, ok := s[key].(string); ok {
		return v
	}
	return def
}

type fakeLimiter struct {
	allow    bool
	requests int
	removed  int
}

func (f *fakeLimiter) HandleLoginRequest(context.Context, string, string, bool) (bool, error) {
	f.requests++
	return f.allow, nil
}

func (f *fakeLimiter) RemoveTracking(context.Context, string) error {
	f.removed++
	return nil
}

type fixture struct {
	act      *fakeActuator
	ana      *fakeAnalyzer
	accounts *fakeAccounts
	settings fakeSettings
	limiter  *fakeLimiter
	state    *domain.WorkerState
	logs     *observer.ObservedLogs
	slept    time.Duration
}

func newFixture() *fixture {
	return &fixture{
		act:      &fakeActuator{topmost: pogoActivity},
		ana:      &fakeAnalyzer{},
		accounts: &fakeAccounts{},
		settings: fakeSettings{},
		limiter:  &fakeLimiter{allow: true},
		state: &domain.WorkerState{
			Origin:     testOrigin,
			DeviceID:   1,
			Resolution: domain.Resolution{ScreenWidth: 720, ScreenHeight: 1280},
		},
	}
}

func (f *fixture) automaton(t *testing.T, opts Options) *Automaton {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	f.logs = logs
	if opts.TempPath == "" {
		opts.TempPath = t.TempDir()
	}
	a := New(f.state, Deps{
		Actuator: f.act,
		Analyzer: f.ana,
		Accounts: f.accounts,
		Settings: f.settings,
		Logins:   f.limiter,
		Logger:   zap.New(core),
	}, opts)
	a.sleep = func(_ context.Context, d time.Duration) { f.slept += d }
	a.intn = func(int) int { return 0 }
	a.now = func() time.Time { return time.Unix(1700000000, 0) }
	return a
}

// recognised makes the next analysis return screen with the given texts.
func (f *fixture) recognised(screen domain.ScreenType, texts ...string) {
	boxes := make([]domain.TextBox, len(texts))
	for i, t := range texts {
		boxes[i] = domain.TextBox{Text: t, Left: 100, Top: 200 + 100*i, Width: 200, Height: 40}
	}
	f.ana.rec = &domain.RecognitionResult{
		ScreenType:  screen,
		TextBoxes:   boxes,
		Width:       720,
		Height:      1280,
		ScaleFactor: 1,
	}
}
