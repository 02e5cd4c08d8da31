package device

import (
	"github.com/devicefleet/mitmcore/internal/devicesettings"
	"github.com/devicefleet/mitmcore/internal/screen"
)

// SerialSource resolves per-device settings.
type SerialSource interface {
	GetString(origin, key, def string) string
}

// Drivers opens the actuator and analyzer for a device. The adb serial is
// the device setting adb_serial, falling back to the origin itself.
type Drivers struct {
	ADBPath  string
	Settings SerialSource
	OCR      *OCRClient
	Run      Runner
}

// Open returns the collaborators for origin. The analyzer is shared.
func (d *Drivers) Open(origin string) (screen.Actuator, screen.Analyzer, error) {
	serial := origin
	if d.Settings != nil {
		serial = d.Settings.GetString(origin, devicesettings.KeyADBSerial, origin)
	}
	return NewADB(d.ADBPath, serial, d.Run), d.OCR, nil
}
