// Package domain defines the core types shared by the proto intake pipeline
// and the screen automaton.
package domain

import "time"

// MethodID identifies the game RPC a proto payload belongs to.
type MethodID int

const (
	MethodGetHoloInventory MethodID = 4
	MethodFortSearch       MethodID = 101
	MethodEncounter        MethodID = 102
	MethodFortDetails      MethodID = 104
	MethodGMO              MethodID = 106
	MethodDiskEncounter    MethodID = 145
	MethodGymGetInfo       MethodID = 156
	MethodGetRoutes        MethodID = 1405
)

// Location is a WGS84 coordinate pair.
type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether both coordinates are within range.
func (l Location) Valid() bool {
	return l.Lat >= -90 && l.Lat <= 90 && l.Lng >= -180 && l.Lng <= 180
}

// Normalized returns l, or the origin (0,0) when either coordinate is out of range.
func (l Location) Normalized() Location {
	if !l.Valid() {
		return Location{}
	}
	return l
}

// ProtoEnvelope is one intercepted proto as posted by a device.
type ProtoEnvelope struct {
	Type       MethodID `json:"type"`
	Timestamp  int64    `json:"timestamp"`
	Lat        float64  `json:"lat"`
	Lng        float64  `json:"lng"`
	Raw        bool     `json:"raw"`
	Payload    string   `json:"payload"`
	QuestsHeld []int    `json:"quests_held,omitempty"`

	// Set by the receiver, never by the device.
	ReceivedAt int64  `json:"-"`
	Origin     string `json:"-"`
	Decoded    []byte `json:"-"`
}

// Location returns the raw, un-normalized location carried by the envelope.
func (e ProtoEnvelope) Location() Location {
	return Location{Lat: e.Lat, Lng: e.Lng}
}

// QueueItem is what the intake hands to downstream processing.
type QueueItem struct {
	Timestamp int64
	Envelope  ProtoEnvelope
	Origin    string
}

// LatestProto is one row of the latest-proto-by-type tracking table.
type LatestProto struct {
	Origin            string
	Key               string
	TimestampRaw      int64
	TimestampReceived int64
	Payload           []byte
	Location          Location
}

// ScreenType classifies what the game client is currently showing.
type ScreenType string

const (
	ScreenUndefined                ScreenType = "UNDEFINED"
	ScreenBirthdate                ScreenType = "BIRTHDATE"
	ScreenReturning                ScreenType = "RETURNING"
	ScreenLoginSelect              ScreenType = "LOGINSELECT"
	ScreenPTC                      ScreenType = "PTC"
	ScreenFailure                  ScreenType = "FAILURE"
	ScreenRetry                    ScreenType = "RETRY"
	ScreenWrong                    ScreenType = "WRONG"
	ScreenGameData                 ScreenType = "GAMEDATA"
	ScreenGGL                      ScreenType = "GGL"
	ScreenPermission               ScreenType = "PERMISSION"
	ScreenMarketing                ScreenType = "MARKETING"
	ScreenConsent                  ScreenType = "CONSENT"
	ScreenSN                       ScreenType = "SN"
	ScreenUpdate                   ScreenType = "UPDATE"
	ScreenStrike                   ScreenType = "STRIKE"
	ScreenSuspended                ScreenType = "SUSPENDED"
	ScreenTerminated               ScreenType = "TERMINATED"
	ScreenQuest                    ScreenType = "QUEST"
	ScreenGPS                      ScreenType = "GPS"
	ScreenCredentials              ScreenType = "CREDENTIALS"
	ScreenNoGGL                    ScreenType = "NOGGL"
	ScreenWelcome                  ScreenType = "WELCOME"
	ScreenTOS                      ScreenType = "TOS"
	ScreenPrivacy                  ScreenType = "PRIVACY"
	ScreenWillowChar               ScreenType = "WILLOWCHAR"
	ScreenWillowCatch              ScreenType = "WILLOWCATCH"
	ScreenWillowName               ScreenType = "WILLOWNAME"
	ScreenAdventureSync            ScreenType = "ADVENTURESYNC"
	ScreenWillowGo                 ScreenType = "WILLOWGO"
	ScreenLimitations              ScreenType = "LIMITATIONS"
	ScreenLoginTimeout             ScreenType = "LOGINTIMEOUT"
	ScreenMaintenance              ScreenType = "MAINTENANCE"
	ScreenHardwareUnityUnsupported ScreenType = "HARDWARE_UNITY_UNSUPPORTED"
	ScreenPogo                     ScreenType = "POGO"
	ScreenNotResponding            ScreenType = "NOTRESPONDING"
	ScreenBlack                    ScreenType = "BLACK"
	ScreenClose                    ScreenType = "CLOSE"
	ScreenDisabled                 ScreenType = "DISABLED"
	ScreenError                    ScreenType = "ERROR"
)

// TextBox is one OCR hit in raw screenshot pixel space.
type TextBox struct {
	Text   string
	Left   int
	Top    int
	Width  int
	Height int
}

// RecognitionResult is the output of one screenshot analysis.
type RecognitionResult struct {
	ScreenType  ScreenType
	TextBoxes   []TextBox
	Width       int
	Height      int
	ScaleFactor float64
}

// Texts returns the text of every box in order.
func (r *RecognitionResult) Texts() []string {
	if r == nil {
		return nil
	}
	out := make([]string, len(r.TextBoxes))
	for i, b := range r.TextBoxes {
		out[i] = b.Text
	}
	return out
}

// RGB is a sampled background colour.
type RGB struct {
	R, G, B int
}

// Point is a logical tap coordinate.
type Point struct {
	X, Y int
}

// LoginType is how an account authenticates.
type LoginType string

const (
	LoginUnknown LoginType = ""
	LoginGoogle  LoginType = "google"
	LoginPTC     LoginType = "ptc"
)

// BurnType is the reason an account was marked unusable.
type BurnType string

const (
	BurnSuspended   BurnType = "suspended"
	BurnBan         BurnType = "ban"
	BurnMaintenance BurnType = "maintenance"
)

// Account is a game account that may be assigned to a device.
type Account struct {
	AccountID         int64
	Username          string
	Password          string
	LoginType         LoginType
	DeviceID          int64
	BurnType          BurnType
	BurnedAtUnix      int64
	LastSoftbanLat    float64
	LastSoftbanLng    float64
	LastSoftbanAtUnix int64
	LastLogoutAtUnix  int64
}

// Device is a registered physical device.
type Device struct {
	DeviceID        int64
	Origin          string
	LastScreen      ScreenType
	LastCycleAtUnix int64
}

// Resolution describes the device screen in logical pixels.
type Resolution struct {
	ScreenWidth  int
	ScreenHeight int
	XYRatio      float64
	YOffset      int
}

// WorkerState is the per-device mutable state owned by exactly one automaton.
type WorkerState struct {
	Origin                  string
	DeviceID                int64
	ActiveAccount           *Account
	Resolution              Resolution
	PendingNextScreen       ScreenType
	MaintenanceEarlyTrigger bool
	LastScreenshotAt        time.Time
}
