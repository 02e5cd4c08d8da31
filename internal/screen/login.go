package screen

import (
	"context"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/devicefleet/mitmcore/internal/devicesettings"
	"github.com/devicefleet/mitmcore/internal/domain"
)

// Shell commands toggling the on-device hook service around a login.
const (
	cmdHookStopIntentOn  = "su -c 'am broadcast -a com.mad.pogodroid.SET_INTENTIONAL_STOP -c android.intent.category.DEFAULT -n com.mad.pogodroid/.IntentionalStopSetterReceiver --ez value true'"
	cmdHookStopIntentOff = "su -c 'am broadcast -a com.mad.pogodroid.SET_INTENTIONAL_STOP -c android.intent.category.DEFAULT -n com.mad.pogodroid/.IntentionalStopSetterReceiver --ez value false'"
	cmdHookServiceStart  = "su -c 'am start-foreground-service -n com.mad.pogodroid/.services.HookReceiverService'"
	cmdHookServiceStop   = "su -c 'am stopservice -n com.mad.pogodroid/.services.HookReceiverService'"
)

const (
	googleAccountNameID = "com.google.android.gms:id/account_name"
	defaultSwipe        = 3000 * time.Millisecond
)

var (
	permissionPhrases    = []string{"ZUGRIFF NUR", "ZULASSEN", "ALLOW", "AUTORISER", "OK"}
	adventureSyncPhrases = []string{"MAYBE LATER", "VIELLEICHT SPATER", "PEUT-ETRE PLUS TARD", "OK"}
	ptcLoginButtonTexts  = []string{"Anmelden", "Log In"}
)

func (a *Automaton) extendedLogin() bool {
	return a.settings.GetBool(a.state.Origin, devicesettings.KeyExtendedLogin, false)
}

// restartWithHook brings the hook service back and restarts the game after
// an extended login.
func (a *Automaton) restartWithHook(ctx context.Context) {
	a.passthrough(ctx, cmdHookStopIntentOff)
	a.sleep(ctx, 2*time.Second)
	a.passthrough(ctx, cmdHookServiceStart)
	a.sleep(ctx, 5*time.Second)
	a.appAction(ctx, "stop app", a.actuator.StopApp)
	a.sleep(ctx, 10*time.Second)
	a.appAction(ctx, "start app", a.actuator.StartApp)
	a.sleep(ctx, 120*time.Second)
}

func (a *Automaton) isPTC() bool {
	return a.state.ActiveAccount != nil && a.state.ActiveAccount.LoginType == domain.LoginPTC
}

// handleLoginSelect picks the login provider on the provider selection
// screen. Buttons that were not recognised are located relative to the
// ones that were.
func handleLoginSelect(ctx context.Context, a *Automaton, in cycle) domain.ScreenType {
	if a.state.ActiveAccount == nil {
		a.logger.Error("No account set for device, sleeping 30s")
		a.sleep(ctx, 30*time.Second)
		return in.screen
	}

	diff := in.diff
	w := float64(a.width())
	h := float64(a.height())
	anchors := make(map[string]float64)

	clickAt := func(x, y float64, variant string) domain.ScreenType {
		a.logger.Info("Selecting login", zap.String("variant", variant), zap.Bool("ptc", a.isPTC()))
		a.click(ctx, int(x), int(y))
		a.sleep(ctx, 5*time.Second)
		return in.screen
	}

	for _, box := range in.boxes {
		top := float64(box.Top) / diff
		if strings.Contains(box.Text, "Facebook") {
			anchors["Facebook"] = top
		}
		if strings.Contains(box.Text, "CLUB") || strings.Contains(box.Text, "DRESSEURS") {
			anchors["CLUB"] = top
		}
		if strings.Contains(box.Text, "Google") {
			anchors["Google"] = top
		}
		fb, hasFB := anchors["Facebook"]
		club, hasClub := anchors["CLUB"]
		ggl, hasGgl := anchors["Google"]

		if a.isPTC() {
			a.setHint(domain.ScreenPTC)
			switch {
			case strings.Contains(box.Text, "CLUB"):
				a.logger.Info("Selecting login", zap.String("variant", "c"), zap.Bool("ptc", true))
				a.clickBox(ctx, box, diff)
				a.sleep(ctx, 5*time.Second)
				return in.screen
			case hasFB:
				return clickAt(w/2, fb+2*h/10.11, "f")
			case hasGgl:
				return clickAt(w/2, ggl+h/10.11, "g")
			}
			continue
		}

		a.clearHint()
		switch {
		case strings.Contains(box.Text, "Google"):
			a.logger.Info("Selecting login", zap.String("variant", "g"), zap.Bool("ptc", false))
			a.clickBox(ctx, box, diff)
			a.sleep(ctx, 5*time.Second)
			return in.screen
		case hasFB && hasClub:
			return clickAt(w/2, fb+(club-fb)/2, "fc")
		case hasFB:
			return clickAt(w/2, fb+h/10.11, "f")
		case hasClub:
			return clickAt(w/2, club-h/10.11, "c")
		}
	}
	return in.screen
}

// CheckPTCLoginBan reports whether a PTC login is currently permissible
// from the device's external IP.
func (a *Automaton) CheckPTCLoginBan(ctx context.Context, increment bool) bool {
	a.logger.Debug("Checking for PTC login permission")
	ip, err := a.actuator.ExternalIP(ctx)
	if err != nil || ip == "" {
		a.logger.Warn("Unable to get IP from device. Deny PTC login request", zap.Error(err))
		return false
	}
	code, err := a.actuator.PTCLoginStatus(ctx)
	if err != nil || code == 0 {
		code = 500
	}
	switch code {
	case 200:
		a.logger.Debug("PTC login server reachable", zap.Int("code", code), zap.String("ip", ip))
		if a.logins == nil {
			return true
		}
		ok, err := a.logins.HandleLoginRequest(ctx, ip, a.state.Origin, increment)
		if err != nil {
			a.logger.Warn("Login rate check failed", zap.Error(err))
			return false
		}
		return ok
	case 403:
		a.logger.Warn("PTC ban is active", zap.Int("code", code), zap.String("ip", ip))
		return false
	default:
		a.logger.Info("PTC login server returned unexpected code - do not log in", zap.Int("code", code), zap.String("ip", ip))
		return false
	}
}

// handlePTCLogin fills in the PTC web login form found in the UI dump.
func handlePTCLogin(ctx context.Context, a *Automaton, in cycle) domain.ScreenType {
	a.clearHint()
	acc := a.state.ActiveAccount
	if acc == nil {
		a.logger.Error("No PTC username and password is set")
		return domain.ScreenError
	}
	if acc.LoginType == domain.LoginGoogle {
		a.logger.Warn("PTC login was opened but google login is expected, restarting game")
		a.appAction(ctx, "restart app", a.actuator.RestartApp)
		a.sleep(ctx, 50*time.Second)
		return domain.ScreenGGL
	}

	nodes, ok := a.uiNodes(ctx)
	if !ok {
		return domain.ScreenError
	}

	exitKeyboard := domain.Point{X: 300, Y: 300}
	var accept *domain.Point

	for _, n := range nodes {
		switch {
		case strings.Contains(n.Class, "android.widget.ProgressBar"):
			a.logger.Warn("PTC page still loading, sleeping for extra 12 seconds")
			a.sleep(ctx, 12*time.Second)
			return domain.ScreenPTC
		case strings.Contains(n.Text, "Access denied"):
			a.logger.Warn("WAF on PTC login attempt detected")
			reloads := a.randInt(1, 3)
			for i := 0; i < reloads; i++ {
				a.logger.Info("Reloading PTC page", zap.Int("attempt", i))
				a.reloadPTCPage(ctx)
			}
			return domain.ScreenPTC
		case n.Class == "android.widget.Image":
			exitKeyboard = n.Bounds.Center()
		case n.ResourceID == "email" || (strings.Contains(n.Class, "EditText") && n.Index == 0):
			a.logger.Info("Found email/login field, clicking, filling, clicking")
			a.fillField(ctx, n, acc.Username, exitKeyboard)
		case n.ResourceID == "password" || (strings.Contains(n.Class, "EditText") && n.Index == 1):
			a.logger.Info("Found password field, clicking, filling, clicking")
			a.fillField(ctx, n, acc.Password, exitKeyboard)
		case strings.Contains(n.Class, "Button") && (n.ResourceID == "accept" || slices.Contains(ptcLoginButtonTexts, n.Text)):
			a.logger.Info("Found Log In button")
			c := n.Bounds.Center()
			accept = &c
			if a.opts.EnableLoginTracking && acc.LoginType == domain.LoginPTC {
				a.logger.Debug("Login tracking enabled")
				if !a.CheckPTCLoginBan(ctx, true) {
					a.logger.Warn("Potential PTC ban, aborting PTC login for now. Sleeping 30s")
					a.sleep(ctx, 30*time.Second)
					a.appAction(ctx, "stop app", a.actuator.StopApp)
					return domain.ScreenError
				}
				if a.logins != nil {
					if err := a.logins.RemoveTracking(ctx, a.state.Origin); err != nil {
						a.logger.Warn("Failed removing login tracking", zap.Error(err))
					}
				}
				a.logger.Info("Received permission for (potential) PTC login")
			}
		}
	}

	if accept == nil || accept.X == 0 || accept.Y == 0 {
		a.logger.Error("Log in button not found")
		return domain.ScreenError
	}
	a.click(ctx, accept.X, accept.Y)
	a.logger.Info("Clicking Log In and sleeping 50 seconds - please wait")
	a.sleep(ctx, 50*time.Second)
	if a.extendedLogin() {
		a.restartWithHook(ctx)
	}
	return domain.ScreenPTC
}

func (a *Automaton) fillField(ctx context.Context, n Node, value string, exitKeyboard domain.Point) {
	c := n.Bounds.Center()
	a.click(ctx, c.X, c.Y)
	a.sleep(ctx, 2*time.Second)
	a.enterText(ctx, value)
	a.click(ctx, exitKeyboard.X, exitKeyboard.Y)
	a.sleep(ctx, 2*time.Second)
}

// reloadPTCPage pulls the page down with a randomised swipe around the
// screen centre to trigger a reload.
func (a *Automaton) reloadPTCPage(ctx context.Context) {
	centerX := a.width() / 2
	h := float64(a.height())
	upperX := a.randInt(int(float64(centerX)*0.9), int(float64(centerX)*1.1))
	lowerX := a.randInt(int(float64(centerX)*0.9), int(float64(centerX)*1.1))
	upperY := a.randInt(int(h*0.2), int(h*0.35))
	lowerY := a.randInt(int(h*0.5), int(h*0.65))
	d := time.Duration(a.randInt(800, 1500)) * time.Millisecond
	a.swipe(ctx, upperX, upperY, lowerX, lowerY, d)
}

// uiNodes fetches and parses the UI dump. ok is false when the dump is
// missing or malformed; the failure is logged.
func (a *Automaton) uiNodes(ctx context.Context) ([]Node, bool) {
	dump, err := a.actuator.UIAutomatorDump(ctx)
	if err != nil || dump == "" {
		a.logger.Warn("UI automator dump unavailable", zap.Error(err))
		return nil, false
	}
	nodes, err := ParseUITree(dump)
	if err != nil {
		a.logger.Error("Something wrong while parsing xml", zap.Error(err))
		return nil, false
	}
	return nodes, true
}

// handleGoogleLogin picks the device's google account in the account picker.
func handleGoogleLogin(ctx context.Context, a *Automaton, in cycle) domain.ScreenType {
	a.clearHint()
	acc := a.state.ActiveAccount
	if acc == nil {
		a.logger.Error("No account set for device, sleeping 30s")
		a.sleep(ctx, 30*time.Second)
		return domain.ScreenError
	}
	if acc.LoginType == domain.LoginPTC {
		a.logger.Warn("Google login was opened but PTC login is expected, restarting game")
		a.appAction(ctx, "restart app", a.actuator.RestartApp)
		a.sleep(ctx, 50*time.Second)
		return domain.ScreenPTC
	}
	if acc.Username == "" {
		a.logger.Error("Failed determining which google account to use")
		return domain.ScreenError
	}

	if !a.pickGoogleAccount(ctx, strings.Split(acc.Username, ",")) {
		return domain.ScreenError
	}
	a.logger.Info("Sleeping 120 seconds after clicking the account to login with - please wait")
	a.sleep(ctx, 120*time.Second)
	if a.extendedLogin() {
		a.logger.Info("Extended login enabled. Restarting game with hook fully enabled again")
		a.restartWithHook(ctx)
	}
	return in.screen
}

func (a *Automaton) pickGoogleAccount(ctx context.Context, mails []string) bool {
	nodes, ok := a.uiNodes(ctx)
	if !ok {
		return false
	}
	for _, n := range nodes {
		for _, mail := range mails {
			match := mail != "" && strings.Contains(strings.ToLower(n.Text), strings.ToLower(mail))
			if mail == "" {
				match = n.ResourceID == googleAccountNameID || strings.Contains(n.Text, "@")
			}
			if !match {
				continue
			}
			a.logger.Info("Found mail", zap.String("mail", CensorAccount(n.Text, false)))
			c := n.Bounds.Center()
			a.click(ctx, c.X, c.Y)
			a.sleep(ctx, 5*time.Second)
			return true
		}
	}
	a.sleep(ctx, 2*time.Second)
	a.logger.Warn("Could not find any mail address")
	return false
}

// handlePermission grants an Android permission or credential prompt.
func handlePermission(ctx context.Context, a *Automaton, in cycle) domain.ScreenType {
	a.clearHint()
	screen := in.screen
	if !a.clickPermission(ctx) {
		screen = domain.ScreenError
	}
	a.sleep(ctx, 4*time.Second)
	return screen
}

// clickPermission clicks the last node, in document order, whose upper-cased
// text contains a permission phrase.
func (a *Automaton) clickPermission(ctx context.Context) bool {
	nodes, ok := a.uiNodes(ctx)
	if !ok {
		return false
	}
	for i := len(nodes) - 1; i >= 0; i-- {
		text := strings.ToUpper(nodes[i].Text)
		for _, p := range permissionPhrases {
			if strings.Contains(text, p) {
				c := nodes[i].Bounds.Center()
				a.click(ctx, c.X, c.Y)
				a.sleep(ctx, 2*time.Second)
				return true
			}
		}
	}
	a.sleep(ctx, 2*time.Second)
	a.logger.Warn("Could not find any button")
	return false
}

func handleAdventureSync(ctx context.Context, a *Automaton, in cycle) domain.ScreenType {
	screen := in.screen
	if !a.clickAdventureSync(ctx) {
		screen = domain.ScreenError
	}
	a.sleep(ctx, 5*time.Second)
	return screen
}

func (a *Automaton) clickAdventureSync(ctx context.Context) bool {
	nodes, ok := a.uiNodes(ctx)
	if !ok {
		return false
	}
	for _, n := range nodes {
		if slices.Contains(adventureSyncPhrases, strings.ToUpper(n.Text)) {
			c := n.Bounds.Center()
			a.click(ctx, c.X, c.Y)
			a.sleep(ctx, 5*time.Second)
			return true
		}
	}
	a.sleep(ctx, 2*time.Second)
	a.logger.Warn("Could not find any button")
	return false
}

// consentGestures holds the accept swipe and click per supported resolution.
var consentGestures = map[[2]int]struct {
	swipe [4]int
	click domain.Point
}{
	{720, 1280}:  {swipe: [4]int{360, 1080, 360, 500}, click: domain.Point{X: 480, Y: 1080}},
	{1080, 1920}: {swipe: [4]int{360, 1800, 360, 400}, click: domain.Point{X: 830, Y: 1638}},
	{1440, 2560}: {swipe: [4]int{360, 2100, 360, 400}, click: domain.Point{X: 976, Y: 2180}},
}

// handleConsent accepts the google consent screen on known resolutions.
func handleConsent(ctx context.Context, a *Automaton, in cycle) domain.ScreenType {
	if a.width() == 0 && a.height() == 0 {
		a.logger.Warn("Screen width and height are zero - try to get real values from new screenshot")
		if _, err := a.takeAndAnalyze(ctx); err != nil {
			a.logger.Error("Failed getting/analyzing screenshot", zap.Error(err))
			return domain.ScreenError
		}
	}
	g, ok := consentGestures[[2]int{a.width(), a.height()}]
	if !ok {
		a.logger.Warn("The google consent screen can only be handled on 720x1280, 1080x1920 and 1440x2560 screens",
			zap.Int("width", a.width()), zap.Int("height", a.height()))
		return domain.ScreenError
	}
	a.logger.Info("Click accept button")
	a.swipe(ctx, g.swipe[0], g.swipe[1], g.swipe[2], g.swipe[3], defaultSwipe)
	a.click(ctx, g.click.X, g.click.Y)
	a.sleep(ctx, 10*time.Second)
	return domain.ScreenUndefined
}

// handleBirthdate scrolls the year wheel and confirms the birth date.
func handleBirthdate(ctx context.Context, a *Automaton, in cycle) domain.ScreenType {
	if a.extendedLogin() {
		a.logger.Info("Extended login, stopping hook entirely and restarting game")
		a.passthrough(ctx, cmdHookStopIntentOn)
		a.sleep(ctx, 5*time.Second)
		a.passthrough(ctx, cmdHookServiceStop)
		a.appAction(ctx, "stop app", a.actuator.StopApp)
		a.sleep(ctx, 10*time.Second)
		a.appAction(ctx, "start app", a.actuator.StartApp)
	}
	a.sleep(ctx, 30*time.Second)

	a.setHint(domain.ScreenReturning)
	w, h := float64(a.width()), float64(a.height())
	x := int(w/2 + w/4)
	y := int(h / 1.69)
	up := int(float64(y) - h/2)

	a.click(ctx, x, y)
	a.swipe(ctx, x, y, x, up, 200*time.Millisecond)
	a.sleep(ctx, time.Second)
	a.swipe(ctx, x, y, x, up, 200*time.Millisecond)
	a.sleep(ctx, time.Second)
	a.click(ctx, x, y)
	a.sleep(ctx, time.Second)

	confirmY := int(float64(y) + h/8.53)
	a.click(ctx, int(w/2), confirmY)
	a.sleep(ctx, time.Second)
	return in.screen
}
