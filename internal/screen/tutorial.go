package screen

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/devicefleet/mitmcore/internal/domain"
)

var (
	starterNames = []string{
		"Bulbasaur", "Charmander", "Squirtle",
		"Bisasam", "Glumanda", "Schiggy",
		"Bulbizarre", "Salameche", "Carapuce",
	}
	nameTakenTexts = []string{"available.", "verfugbar.", "disponible."}
)

// tapCorner taps the top left corner n times to skip dialogue.
func (a *Automaton) tapCorner(ctx context.Context, n int, pause time.Duration) {
	for i := 0; i < n; i++ {
		a.click(ctx, 100, 100)
		if pause > 0 {
			a.sleep(ctx, pause)
		}
	}
}

// findButton looks for the tutorial's confirm button on the last screenshot.
func (a *Automaton) findButton(ctx context.Context) *domain.Point {
	pt, err := a.analyzer.LookForButton(ctx, a.ScreenshotPath(false), 2.20, 3.01, true)
	if err != nil {
		a.logger.Warn("Looking for button failed", zap.Error(err))
		return nil
	}
	return pt
}

func handleWelcome(ctx context.Context, a *Automaton, _ cycle) domain.ScreenType {
	a.logger.Info("Solving tutorial")
	pt := a.findButton(ctx)
	if pt == nil {
		return domain.ScreenNotResponding
	}
	a.click(ctx, pt.X, pt.Y)
	a.sleep(ctx, 2*time.Second)
	return domain.ScreenTOS
}

func handleTOS(ctx context.Context, a *Automaton, _ cycle) domain.ScreenType {
	a.logger.Info("Accepting TOS")
	a.click(ctx, a.width()/2, int(float64(a.height())*0.47))
	pt := a.findButton(ctx)
	if pt == nil {
		return domain.ScreenNotResponding
	}
	a.click(ctx, pt.X, pt.Y)
	a.sleep(ctx, 2*time.Second)
	return domain.ScreenPrivacy
}

func handlePrivacy(ctx context.Context, a *Automaton, _ cycle) domain.ScreenType {
	a.logger.Info("Accepting privacy policy")
	pt := a.findButton(ctx)
	if pt == nil {
		return domain.ScreenNotResponding
	}
	a.click(ctx, pt.X, pt.Y)
	a.sleep(ctx, 3*time.Second)
	return domain.ScreenWillowChar
}

// handleCharacterSelection skips the professor's intro, picks the default
// avatar and confirms it.
func handleCharacterSelection(ctx context.Context, a *Automaton, _ cycle) domain.ScreenType {
	a.logger.Info("Selecting character")
	w, h := float64(a.width()), float64(a.height())
	a.tapCorner(ctx, 9, time.Second)
	a.sleep(ctx, time.Second)
	a.click(ctx, int(w/4), int(h/2))
	a.sleep(ctx, 2*time.Second)
	for i := 0; i < 3; i++ {
		a.click(ctx, int(w*0.91), int(h*0.94))
		a.sleep(ctx, 2*time.Second)
	}

	if err := a.takeScreenshot(ctx, a.postScreenshotDelay(), 2*time.Second, false); err != nil {
		a.logger.Error("Failed getting screenshot", zap.Error(err))
		return domain.ScreenError
	}
	pt := a.findButton(ctx)
	if pt == nil {
		return domain.ScreenNotResponding
	}
	a.click(ctx, pt.X, pt.Y)
	a.sleep(ctx, 5*time.Second)
	return domain.ScreenWillowCatch
}

// handleCatchTutorial sweeps the map for the starter, then throws up to
// three balls at it.
func handleCatchTutorial(ctx context.Context, a *Automaton, _ cycle) domain.ScreenType {
	a.logger.Info("Catching starter")
	w, h := float64(a.width()), float64(a.height())
	a.tapCorner(ctx, 2, 0)

sweep:
	for x := 1; x < 10; x++ {
		for y := 1; y < 10; y++ {
			a.click(ctx, int(w*float64(x)/10), int(h*float64(y)/20+h/2))
		}
		a.sleep(ctx, 5*time.Second)
		if err := a.takeScreenshot(ctx, a.postScreenshotDelay(), 2*time.Second, false); err != nil {
			a.logger.Error("Failed getting screenshot", zap.Error(err))
			return domain.ScreenError
		}
		boxes, err := a.analyzer.ScreenText(ctx, a.ScreenshotPath(false), a.state.Origin)
		if err != nil {
			a.logger.Warn("Reading screen text failed", zap.Error(err))
			continue
		}
		if anyTextIn(boxes, starterNames, textEquals) {
			a.logger.Debug("Found starter encounter", zap.Int("column", x))
			break sweep
		}
	}

	for throw := 0; throw < 3; throw++ {
		a.logger.Info("Throwing ball", zap.Int("attempt", throw+1))
		x := int(w / 2)
		y := int(h * 0.93)
		a.swipe(ctx, x, y, x, int(float64(y)-h/2), 200*time.Millisecond)
		a.sleep(ctx, 15*time.Second)
		if err := a.takeScreenshot(ctx, a.postScreenshotDelay(), 2*time.Second, false); err != nil {
			a.logger.Error("Failed getting screenshot", zap.Error(err))
			return domain.ScreenError
		}
		if pt := a.findButton(ctx); pt != nil {
			a.click(ctx, pt.X, pt.Y)
			a.sleep(ctx, 12*time.Second)
			a.click(ctx, x, y)
			a.sleep(ctx, 2*time.Second)
			return domain.ScreenUndefined
		}
	}
	return domain.ScreenNotResponding
}

// handleName enters the account name as the trainer name. A taken name
// retires the account.
func handleName(ctx context.Context, a *Automaton, _ cycle) domain.ScreenType {
	a.logger.Info("Entering trainer name")
	a.tapCorner(ctx, 2, time.Second)
	a.sleep(ctx, 5*time.Second)
	if a.state.ActiveAccount == nil {
		a.logger.Error("No account set for device, cannot enter name")
		return domain.ScreenError
	}
	a.enterText(ctx, a.state.ActiveAccount.Username)
	a.click(ctx, 100, 100)
	a.sleep(ctx, 2*time.Second)

	w, h := float64(a.width()), float64(a.height())
	a.click(ctx, int(w/2), int(h*0.66))
	a.click(ctx, int(w/2), int(h*0.51))
	a.sleep(ctx, 2*time.Second)

	if err := a.takeScreenshot(ctx, a.postScreenshotDelay(), 2*time.Second, false); err != nil {
		a.logger.Error("Failed getting screenshot", zap.Error(err))
		return domain.ScreenError
	}
	boxes, err := a.analyzer.ScreenText(ctx, a.ScreenshotPath(false), a.state.Origin)
	if err != nil {
		a.logger.Warn("Reading screen text failed", zap.Error(err))
	}
	if anyTextIn(boxes, nameTakenTexts, textEquals) {
		a.logger.Error("Trainer name is not available, marking account burnt")
		a.markBurnt(ctx, domain.BurnBan)
		return domain.ScreenMaintenance
	}
	a.tapCorner(ctx, 2, 0)
	a.sleep(ctx, 5*time.Second)
	return domain.ScreenAdventureSync
}

func handleTutorialEnd(ctx context.Context, a *Automaton, _ cycle) domain.ScreenType {
	a.logger.Info("Finishing tutorial")
	a.tapCorner(ctx, 4, 0)
	a.sleep(ctx, time.Second)
	return domain.ScreenPogo
}
