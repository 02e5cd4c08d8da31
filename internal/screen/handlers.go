package screen

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/devicefleet/mitmcore/internal/domain"
)

// cycle is the input a handler works from.
type cycle struct {
	screen  domain.ScreenType
	boxes   []domain.TextBox
	diff    float64
	yOffset int
}

// handler acts on one screen type and returns the screen to report.
type handler func(ctx context.Context, a *Automaton, in cycle) domain.ScreenType

// Phrases clicked on the simple text-button screens.
var (
	strikePhrases       = []string{"GOT IT", "ALLES KLAR"}
	marketingPhrases    = []string{"ERLAUBEN", "ALLOW", "AUTORISER"}
	loginTimeoutPhrases = []string{"SIGNOUT", "SIGN", "ABMELDEN", "_DECONNECTER"}
	// Only the English label is known; matched case-sensitively.
	hardwareUnityPhrases = []string{"CONTINUE"}

	welcomeTexts = []string{"Willkommen", "Welcome"}
)

// Background colours of the loading, strike and welcome screens.
var (
	colourBlack    = domain.RGB{R: 0, G: 0, B: 0}
	colourStrike   = domain.RGB{R: 16, G: 24, B: 33}
	colourWelcome1 = domain.RGB{R: 18, G: 46, B: 86}
	colourWelcome2 = domain.RGB{R: 55, G: 72, B: 88}
)

func handlerTable() map[domain.ScreenType]handler {
	return map[domain.ScreenType]handler{
		domain.ScreenUndefined: logOnly(zap.WarnLevel, "Undefined screen type, abandon ship"),

		domain.ScreenGameData: resetHint,
		domain.ScreenSN:       resetHint,
		domain.ScreenUpdate:   resetHint,
		domain.ScreenNoGGL:    resetHint,

		domain.ScreenBirthdate:   withAuth(handleBirthdate),
		domain.ScreenLoginSelect: withAuth(handleLoginSelect),
		domain.ScreenPTC:         withAuth(handlePTCLogin),
		domain.ScreenGGL:         withAuth(handleGoogleLogin),
		domain.ScreenConsent:     withAuth(handleConsent),

		domain.ScreenReturning: handleReturning,
		domain.ScreenFailure:   handleReturning,
		domain.ScreenWrong:     handleWrong,
		domain.ScreenRetry:     handleRetry,

		domain.ScreenPermission:    handlePermission,
		domain.ScreenCredentials:   handlePermission,
		domain.ScreenAdventureSync: handleAdventureSync,

		domain.ScreenSuspended:   burn(domain.BurnSuspended, true, zap.WarnLevel, "Account temporarily banned"),
		domain.ScreenTerminated:  burn(domain.BurnBan, true, zap.ErrorLevel, "Account permabanned"),
		domain.ScreenMaintenance: burn(domain.BurnMaintenance, false, zap.WarnLevel, "Account saw maintenance warning"),
		domain.ScreenLimitations: burn(domain.BurnMaintenance, false, zap.WarnLevel, "Account saw limitations/maintenance warning"),

		domain.ScreenPogo: handlePogo,

		domain.ScreenStrike:                   clickText(domain.ScreenUndefined, strikePhrases, false, "Got a black strike warning"),
		domain.ScreenMarketing:                clickText(domain.ScreenPogo, marketingPhrases, false, ""),
		domain.ScreenLoginTimeout:             clickText(domain.ScreenUndefined, loginTimeoutPhrases, false, ""),
		domain.ScreenHardwareUnityUnsupported: clickText(domain.ScreenUndefined, hardwareUnityPhrases, true, "Detected unsupported hardware screen"),

		domain.ScreenWelcome:     handleWelcome,
		domain.ScreenTOS:         handleTOS,
		domain.ScreenPrivacy:     handlePrivacy,
		domain.ScreenWillowChar:  handleCharacterSelection,
		domain.ScreenWillowCatch: handleCatchTutorial,
		domain.ScreenWillowName:  handleName,
		domain.ScreenWillowGo:    handleTutorialEnd,

		domain.ScreenQuest: func(_ context.Context, a *Automaton, in cycle) domain.ScreenType {
			a.logger.Warn("Already on quest screen")
			a.clearHint()
			return in.screen
		},
		domain.ScreenGPS: func(_ context.Context, a *Automaton, in cycle) domain.ScreenType {
			a.clearHint()
			a.logger.Warn("In game error detected")
			return in.screen
		},
		domain.ScreenBlack:         logOnly(zap.WarnLevel, "Screen is black, sleeping a couple seconds for another check"),
		domain.ScreenClose:         logOnly(zap.DebugLevel, "Detected game not open"),
		domain.ScreenDisabled:      logOnly(zap.WarnLevel, "Screen detection disabled"),
		domain.ScreenError:         logOnly(zap.ErrorLevel, "Error during screen type detection"),
		domain.ScreenNotResponding: logOnly(zap.DebugLevel, "Not responding popup reported"),
	}
}

func logOnly(lvl zapcore.Level, msg string) handler {
	return func(_ context.Context, a *Automaton, in cycle) domain.ScreenType {
		if ce := a.logger.Check(lvl, msg); ce != nil {
			ce.Write()
		}
		return in.screen
	}
}

func resetHint(_ context.Context, a *Automaton, in cycle) domain.ScreenType {
	a.clearHint()
	return in.screen
}

func withAuth(h handler) handler {
	return func(ctx context.Context, a *Automaton, in cycle) domain.ScreenType {
		a.fetchAuth(ctx)
		return h(ctx, a, in)
	}
}

// burn marks the account burnt. Suspensions and bans report ERROR so the
// caller stops driving the device.
func burn(reason domain.BurnType, asError bool, lvl zapcore.Level, msg string) handler {
	return func(ctx context.Context, a *Automaton, in cycle) domain.ScreenType {
		a.clearHint()
		if ce := a.logger.Check(lvl, msg); ce != nil {
			ce.Write()
		}
		a.markBurnt(ctx, reason)
		if asError {
			return domain.ScreenError
		}
		return in.screen
	}
}

// clickText sets the hint, then clicks the first text box containing one of
// phrases.
func clickText(hint domain.ScreenType, phrases []string, caseSensitive bool, warn string) handler {
	return func(ctx context.Context, a *Automaton, in cycle) domain.ScreenType {
		if warn != "" {
			a.logger.Warn(warn)
		}
		a.setHint(hint)
		if i := findBox(in.boxes, phrases, caseSensitive); i >= 0 {
			a.clickBox(ctx, in.boxes[i], in.diff)
			a.sleep(ctx, 2*time.Second)
		}
		return in.screen
	}
}

// findBox returns the index of the first box whose text contains a phrase, or -1.
func findBox(boxes []domain.TextBox, phrases []string, caseSensitive bool) int {
	for i, b := range boxes {
		text := b.Text
		if !caseSensitive {
			text = strings.ToLower(text)
		}
		for _, p := range phrases {
			if !caseSensitive {
				p = strings.ToLower(p)
			}
			if strings.Contains(text, p) {
				return i
			}
		}
	}
	return -1
}

func anyTextIn(boxes []domain.TextBox, candidates []string, match func(text, candidate string) bool) bool {
	for _, b := range boxes {
		for _, c := range candidates {
			if match(b.Text, c) {
				return true
			}
		}
	}
	return false
}

func textEquals(text, c string) bool { return text == c }

// handlePogo looks at the background colour and text of the running game
// to spot the loading, strike and welcome screens.
func handlePogo(ctx context.Context, a *Automaton, in cycle) domain.ScreenType {
	path := a.ScreenshotPath(false)
	colour, err := a.analyzer.MostFrequentColour(ctx, path, a.state.Origin, in.yOffset)
	if err != nil {
		a.logger.Warn("Sampling background colour failed", zap.Error(err))
		colour = nil
	}
	boxes, err := a.analyzer.ScreenText(ctx, path, a.state.Origin)
	if err != nil {
		a.logger.Warn("Reading screen text failed", zap.Error(err))
	}
	if colour == nil {
		return in.screen
	}
	switch {
	case *colour == colourBlack:
		return domain.ScreenBlack
	case *colour == colourStrike:
		return domain.ScreenStrike
	case anyTextIn(boxes, welcomeTexts, strings.Contains),
		*colour == colourWelcome1,
		*colour == colourWelcome2:
		return domain.ScreenWelcome
	}
	return in.screen
}

func handleReturning(ctx context.Context, a *Automaton, in cycle) domain.ScreenType {
	a.clearHint()
	pt, err := a.analyzer.LookForButton(ctx, a.ScreenshotPath(false), 2.20, 3.01, true)
	if err != nil {
		a.logger.Warn("Looking for button failed", zap.Error(err))
		return in.screen
	}
	if pt != nil {
		x := a.width() / 2
		y := int(float64(a.height())*0.7 - float64(a.state.Resolution.YOffset))
		a.click(ctx, x, y)
		a.sleep(ctx, 2*time.Second)
	}
	return in.screen
}

func handleWrong(ctx context.Context, a *Automaton, in cycle) domain.ScreenType {
	handleReturning(ctx, a, in)
	return domain.ScreenError
}

func handleRetry(ctx context.Context, a *Automaton, in cycle) domain.ScreenType {
	if a.opts.EnableEarlyMaintenanceDetection && a.state.MaintenanceEarlyTrigger {
		a.logger.Warn("Seen RETRY screen after multiple proto timeouts - most likely MAINTENANCE")
		a.markBurnt(ctx, domain.BurnMaintenance)
	}
	a.clearHint()
	a.ClearGameData(ctx)
	return in.screen
}

// ClearGameData wipes the game's app data and releases the active account.
func (a *Automaton) ClearGameData(ctx context.Context) {
	a.appAction(ctx, "reset app data", a.actuator.ResetAppData)
	if err := a.accounts.NotifyLogout(ctx, a.state.DeviceID); err != nil {
		a.logger.Warn("Failed notifying logout", zap.Error(err))
	}
	a.state.ActiveAccount = nil
}

// researchPhrases identify the research menu in CheckQuest.
var researchPhrases = []string{"FIELD", "SPECIAL", "FELD", "SPEZIAL", "SPECIALES", "TERRAIN"}

// CheckQuest inspects a screenshot taken after opening the quest menu.
func (a *Automaton) CheckQuest(ctx context.Context, path string) domain.ScreenType {
	if path == "" {
		a.logger.Error("Invalid screen path")
		return domain.ScreenError
	}
	boxes, err := a.analyzer.ScreenText(ctx, path, a.state.Origin)
	if err != nil || len(boxes) == 0 {
		return domain.ScreenError
	}
	if findBox(boxes, researchPhrases, true) >= 0 {
		a.logger.Info("Found research menu")
		a.click(ctx, 100, 100)
		return domain.ScreenQuest
	}

	a.logger.Info("Listening to the professor - please wait")
	if err := a.actuator.BackButton(ctx); err != nil {
		a.logger.Warn("Back button failed", zap.Error(err))
	}
	a.sleep(ctx, 3*time.Second)
	return domain.ScreenUndefined
}
