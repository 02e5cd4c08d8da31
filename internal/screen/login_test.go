package screen

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"

	"github.com/devicefleet/mitmcore/internal/devicesettings"
	"github.com/devicefleet/mitmcore/internal/domain"
)

const (
	customTabActivity = "com.android.chrome/org.chromium.chrome.browser.customtabs.CustomTabActivity"
	accountPicker     = "com.google.android.gms/.common.account.AccountPickerActivity"
	permissionPrompt  = "com.google.android.permissioncontroller/.permission.ui.GrantPermissionsActivity"
	consentActivity   = "com.google.android.gms/.auth.uiflows.consent.ConsentActivity"
)

const ptcForm = `<?xml version='1.0' encoding='UTF-8' standalone='yes' ?>
<hierarchy rotation="0">
  <node index="0" text="" resource-id="" class="android.widget.FrameLayout" bounds="[0,0][720,1280]">
    <node index="0" text="" resource-id="" class="android.widget.Image" bounds="[10,10][110,60]" />
    <node index="0" text="" resource-id="email" class="android.widget.EditText" bounds="[100,400][600,480]" />
    <node index="1" text="" resource-id="password" class="android.widget.EditText" bounds="[100,500][600,580]" />
    <node index="2" text="Log In" resource-id="accept" class="android.widget.Button" bounds="[200,700][500,780]" />
  </node>
</hierarchy>`

func ptcAccount() *domain.Account {
	return &domain.Account{AccountID: 7, Username: "trainer", Password: "secret", LoginType: domain.LoginPTC}
}

func TestPTCLogin_FillsForm(t *testing.T) {
	f := newFixture()
	f.act.topmost = customTabActivity
	f.act.dump = ptcForm
	f.accounts.account = ptcAccount()
	a := f.automaton(t, Options{})

	assert.Equal(t, domain.ScreenPTC, a.Detect(context.Background(), 0))

	want := []string{
		"click 350,440", "text trainer", "click 60,35",
		"click 350,540", "text secret", "click 60,35",
		"click 350,740",
	}
	if diff := cmp.Diff(want, f.act.Calls()); diff != "" {
		t.Fatalf("actuator calls mismatch (-want +got):\n%s", diff)
	}
	assert.Zero(t, f.limiter.requests)
	assert.GreaterOrEqual(t, f.slept, 50*time.Second)
}

func TestPTCLogin_RateLimitDenied(t *testing.T) {
	f := newFixture()
	f.act.topmost = customTabActivity
	f.act.dump = ptcForm
	f.act.ip = "10.0.0.1"
	f.act.status = 200
	f.accounts.account = ptcAccount()
	f.limiter.allow = false
	a := f.automaton(t, Options{EnableLoginTracking: true})

	assert.Equal(t, domain.ScreenError, a.Detect(context.Background(), 0))
	assert.Equal(t, 1, f.limiter.requests)
	assert.Zero(t, f.limiter.removed)
	assert.Contains(t, f.act.Calls(), "stop "+DefaultTargetPackage)
	assert.NotContains(t, f.act.Calls(), "click 350,740")
}

func TestPTCLogin_RateLimitAllowed(t *testing.T) {
	f := newFixture()
	f.act.topmost = customTabActivity
	f.act.dump = ptcForm
	f.act.ip = "10.0.0.1"
	f.act.status = 200
	f.accounts.account = ptcAccount()
	a := f.automaton(t, Options{EnableLoginTracking: true})

	assert.Equal(t, domain.ScreenPTC, a.Detect(context.Background(), 0))
	assert.Equal(t, 1, f.limiter.removed)
	assert.Contains(t, f.act.Calls(), "click 350,740")
}

func TestPTCLogin_ExtendedLoginRestartsHook(t *testing.T) {
	f := newFixture()
	f.act.topmost = customTabActivity
	f.act.dump = ptcForm
	f.accounts.account = ptcAccount()
	f.settings[devicesettings.KeyExtendedLogin] = true
	a := f.automaton(t, Options{})

	assert.Equal(t, domain.ScreenPTC, a.Detect(context.Background(), 0))
	calls := f.act.Calls()
	assert.Contains(t, calls, "shell "+cmdHookStopIntentOff)
	assert.Contains(t, calls, "shell "+cmdHookServiceStart)
	assert.Contains(t, calls, "start "+DefaultTargetPackage)
}

func TestPTCLogin_EdgeCases(t *testing.T) {
	tests := []struct {
		name    string
		account *domain.Account
		dump    string
		want    domain.ScreenType
	}{
		{"no account", nil, ptcForm, domain.ScreenError},
		{"google account", &domain.Account{Username: "a@b.c", LoginType: domain.LoginGoogle}, ptcForm, domain.ScreenGGL},
		{"empty dump", ptcAccount(), "", domain.ScreenError},
		{"broken dump", ptcAccount(), "<hierarchy><node", domain.ScreenError},
		{"loading", ptcAccount(), `<hierarchy><node class="android.widget.ProgressBar" bounds="[0,0][1,1]"/></hierarchy>`, domain.ScreenPTC},
		{"no button", ptcAccount(), `<hierarchy><node resource-id="email" class="android.widget.EditText" bounds="[0,0][10,10]"/></hierarchy>`, domain.ScreenError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.act.topmost = customTabActivity
			f.act.dump = tt.dump
			f.accounts.account = tt.account
			a := f.automaton(t, Options{})
			assert.Equal(t, tt.want, a.Detect(context.Background(), 0))
		})
	}
}

func TestPTCLogin_AccessDeniedReloads(t *testing.T) {
	f := newFixture()
	f.act.topmost = customTabActivity
	f.act.dump = `<hierarchy><node text="Access denied" class="android.view.View" bounds="[0,0][720,100]"/></hierarchy>`
	f.accounts.account = ptcAccount()
	a := f.automaton(t, Options{})

	assert.Equal(t, domain.ScreenPTC, a.Detect(context.Background(), 0))
	// intn always returns 0, so one reload at the lower bounds.
	assert.Equal(t, []string{"swipe 324,256->324,640 800ms"}, f.act.Calls())
}

func TestCheckPTCLoginBan(t *testing.T) {
	tests := []struct {
		name     string
		ip       string
		status   int
		allow    bool
		want     bool
		requests int
	}{
		{"no ip", "", 200, true, false, 0},
		{"reachable", "10.0.0.1", 200, true, true, 1},
		{"reachable but limited", "10.0.0.1", 200, false, false, 1},
		{"banned", "10.0.0.1", 403, true, false, 0},
		{"no status", "10.0.0.1", 0, true, false, 0},
		{"server error", "10.0.0.1", 502, true, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.act.ip = tt.ip
			f.act.status = tt.status
			f.limiter.allow = tt.allow
			a := f.automaton(t, Options{})

			assert.Equal(t, tt.want, a.CheckPTCLoginBan(context.Background(), true))
			assert.Equal(t, tt.requests, f.limiter.requests)
		})
	}
}

func TestGoogleLogin_PicksAccount(t *testing.T) {
	f := newFixture()
	f.act.topmost = accountPicker
	f.act.dump = `<hierarchy>
  <node text="Choose an account" class="android.widget.TextView" bounds="[0,100][720,200]"/>
  <node text="Someone@Gmail.com" resource-id="com.google.android.gms:id/account_name" class="android.widget.TextView" bounds="[0,300][720,400]"/>
</hierarchy>`
	f.accounts.account = &domain.Account{Username: "someone@gmail.com", LoginType: domain.LoginGoogle}
	a := f.automaton(t, Options{})

	assert.Equal(t, domain.ScreenGGL, a.Detect(context.Background(), 0))
	assert.Equal(t, []string{"click 360,350"}, f.act.Calls())
	assert.GreaterOrEqual(t, f.slept, 125*time.Second)
}

func TestGoogleLogin_Mismatches(t *testing.T) {
	f := newFixture()
	f.act.topmost = accountPicker
	f.accounts.account = ptcAccount()
	a := f.automaton(t, Options{})
	assert.Equal(t, domain.ScreenPTC, a.Detect(context.Background(), 0))
	assert.Equal(t, []string{"restart " + DefaultTargetPackage}, f.act.Calls())

	f = newFixture()
	f.act.topmost = accountPicker
	f.act.dump = `<hierarchy><node text="other@gmail.com" class="android.widget.TextView" bounds="[0,0][1,1]"/></hierarchy>`
	f.accounts.account = &domain.Account{Username: "someone@gmail.com", LoginType: domain.LoginGoogle}
	a = f.automaton(t, Options{})
	assert.Equal(t, domain.ScreenError, a.Detect(context.Background(), 0))
	assert.Empty(t, f.act.Calls())
}

func TestPermission_ClicksLastMatch(t *testing.T) {
	f := newFixture()
	f.act.topmost = permissionPrompt
	f.act.dump = `<hierarchy>
  <node index="0" text="Allow" class="android.widget.Button" bounds="[0,0][100,100]"/>
  <node index="1" text="Deny" class="android.widget.Button" bounds="[0,100][100,200]"/>
  <node index="2" text="ok" class="android.widget.Button" bounds="[0,200][100,300]"/>
</hierarchy>`
	f.state.PendingNextScreen = domain.ScreenLoginSelect
	a := f.automaton(t, Options{})

	assert.Equal(t, domain.ScreenPermission, a.Detect(context.Background(), 0))
	assert.Equal(t, []string{"click 50,250"}, f.act.Calls())
	assert.Equal(t, domain.ScreenUndefined, f.state.PendingNextScreen)
}

func TestPermission_NoMatch(t *testing.T) {
	f := newFixture()
	f.act.topmost = permissionPrompt
	f.act.dump = `<hierarchy><node text="Deny" class="android.widget.Button" bounds="[0,0][100,100]"/></hierarchy>`
	a := f.automaton(t, Options{})

	assert.Equal(t, domain.ScreenError, a.Detect(context.Background(), 0))
	assert.Empty(t, f.act.Calls())
}

func TestAdventureSync(t *testing.T) {
	f := newFixture()
	f.state.PendingNextScreen = domain.ScreenAdventureSync
	f.act.dump = `<hierarchy>
  <node text="Turn on" class="android.widget.Button" bounds="[0,0][100,100]"/>
  <node text="Maybe later" class="android.widget.Button" bounds="[0,100][100,200]"/>
</hierarchy>`
	a := f.automaton(t, Options{})

	assert.Equal(t, domain.ScreenAdventureSync, a.Detect(context.Background(), 0))
	assert.Equal(t, []string{"click 50,150"}, f.act.Calls())
}

func TestConsent(t *testing.T) {
	tests := []struct {
		name          string
		width, height int
		want          domain.ScreenType
		calls         []string
	}{
		{"720p", 720, 1280, domain.ScreenUndefined, []string{"swipe 360,1080->360,500 3s", "click 480,1080"}},
		{"1080p", 1080, 1920, domain.ScreenUndefined, []string{"swipe 360,1800->360,400 3s", "click 830,1638"}},
		{"1440p", 1440, 2560, domain.ScreenUndefined, []string{"swipe 360,2100->360,400 3s", "click 976,2180"}},
		{"unsupported", 800, 600, domain.ScreenError, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.act.topmost = consentActivity
			f.state.Resolution = domain.Resolution{ScreenWidth: tt.width, ScreenHeight: tt.height}
			a := f.automaton(t, Options{})

			assert.Equal(t, tt.want, a.Detect(context.Background(), 0))
			if diff := cmp.Diff(tt.calls, f.act.Calls()); diff != "" {
				t.Fatalf("actuator calls mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestConsent_UnknownResolutionTakesScreenshot(t *testing.T) {
	f := newFixture()
	f.act.topmost = consentActivity
	f.state.Resolution = domain.Resolution{}
	f.recognised(domain.ScreenConsent, "consent")
	a := f.automaton(t, Options{})

	assert.Equal(t, domain.ScreenUndefined, a.Detect(context.Background(), 0))
	assert.Equal(t, 1, f.ana.analyses)
	assert.Contains(t, f.act.Calls(), "click 480,1080")
}

func TestConsent_FetchesAuthDetails(t *testing.T) {
	f := newFixture()
	f.act.topmost = consentActivity
	f.accounts.account = &domain.Account{Username: "a@b.c", LoginType: domain.LoginGoogle}
	a := f.automaton(t, Options{})

	assert.Equal(t, domain.ScreenUndefined, a.Detect(context.Background(), 0))
	assert.Equal(t, 1, f.accounts.fetches)
	if assert.NotNil(t, f.state.ActiveAccount) {
		assert.Equal(t, "a@b.c", f.state.ActiveAccount.Username)
	}
}

func TestLoginSelect(t *testing.T) {
	t.Run("ptc clicks trainer club", func(t *testing.T) {
		f := newFixture()
		f.recognised(domain.ScreenLoginSelect, "POKEMON TRAINER CLUB")
		f.accounts.account = ptcAccount()
		a := f.automaton(t, Options{})

		assert.Equal(t, domain.ScreenLoginSelect, a.Detect(context.Background(), 0))
		assert.Equal(t, []string{"click 200,220"}, f.act.actions())
		assert.Equal(t, domain.ScreenPTC, f.state.PendingNextScreen)
	})
	t.Run("google clicks google", func(t *testing.T) {
		f := newFixture()
		f.recognised(domain.ScreenLoginSelect, "CONTINUE WITH Google")
		f.accounts.account = &domain.Account{Username: "a@b.c", LoginType: domain.LoginGoogle}
		a := f.automaton(t, Options{})

		assert.Equal(t, domain.ScreenLoginSelect, a.Detect(context.Background(), 0))
		assert.Equal(t, []string{"click 200,220"}, f.act.actions())
		assert.Equal(t, domain.ScreenUndefined, f.state.PendingNextScreen)
	})
	t.Run("ptc derives club from facebook", func(t *testing.T) {
		f := newFixture()
		f.recognised(domain.ScreenLoginSelect, "Facebook")
		f.accounts.account = ptcAccount()
		a := f.automaton(t, Options{})

		a.Detect(context.Background(), 0)
		// 200 + 2*1280/10.11
		assert.Equal(t, []string{"click 360,453"}, f.act.actions())
	})
	t.Run("no account waits", func(t *testing.T) {
		f := newFixture()
		f.recognised(domain.ScreenLoginSelect, "Google")
		a := f.automaton(t, Options{})

		assert.Equal(t, domain.ScreenLoginSelect, a.Detect(context.Background(), 0))
		assert.Empty(t, f.act.actions())
		assert.GreaterOrEqual(t, f.slept, 30*time.Second)
	})
}

func TestBirthdate(t *testing.T) {
	f := newFixture()
	f.recognised(domain.ScreenBirthdate, "birthday")
	a := f.automaton(t, Options{})

	assert.Equal(t, domain.ScreenBirthdate, a.Detect(context.Background(), 0))
	assert.Equal(t, domain.ScreenReturning, f.state.PendingNextScreen)
	want := []string{
		"click 540,757",
		"swipe 540,757->540,117 200ms",
		"swipe 540,757->540,117 200ms",
		"click 540,757",
		"click 360,907",
	}
	if diff := cmp.Diff(want, f.act.actions()); diff != "" {
		t.Fatalf("actuator calls mismatch (-want +got):\n%s", diff)
	}
}
