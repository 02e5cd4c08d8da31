// Package fleet runs one screen automaton per registered device and
// supervises their lifecycles.
package fleet

import (
	"context"
	"database/sql"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/devicefleet/mitmcore/internal/domain"
	"github.com/devicefleet/mitmcore/internal/store"
)

// Detector is the per-device screen automaton.
type Detector interface {
	Detect(ctx context.Context, yOffset int) domain.ScreenType
	State() *domain.WorkerState
}

// Actor owns one device's automaton and runs its detection cycles, one at
// a time, on a ticker or when triggered.
type Actor struct {
	Origin   string
	DeviceID int64

	detector Detector
	db       *sql.DB
	devices  *store.DeviceRepo
	interval time.Duration
	logger   *zap.Logger

	last      atomic.Value // domain.ScreenType
	cycles    atomic.Int64
	triggerCh chan struct{}
	stopCh    chan struct{}
	stopOnce  sync.Once
	now       func() time.Time
}

// NewActor creates an actor for dev. interval <= 0 disables the ticker so
// cycles only run on Trigger.
func NewActor(dev *domain.Device, detector Detector, db *sql.DB, interval time.Duration, logger *zap.Logger) *Actor {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Actor{
		Origin:    dev.Origin,
		DeviceID:  dev.DeviceID,
		detector:  detector,
		db:        db,
		devices:   &store.DeviceRepo{},
		interval:  interval,
		logger:    logger.With(zap.String("origin", dev.Origin), zap.String("name", "actor")),
		triggerCh: make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
		now:       time.Now,
	}
	a.last.Store(dev.LastScreen)
	return a
}

// Run drives cycles until Stop is called or ctx is done.
func (a *Actor) Run(ctx context.Context) error {
	var tick <-chan time.Time
	if a.interval > 0 {
		ticker := time.NewTicker(a.interval)
		defer ticker.Stop()
		tick = ticker.C
	}
	a.logger.Info("Device actor started", zap.Duration("interval", a.interval))
	defer a.logger.Info("Device actor stopped")

	for {
		select {
		case <-a.stopCh:
			return nil
		case <-ctx.Done():
			return nil
		case <-tick:
		case <-a.triggerCh:
		}
		a.cycle(ctx)
	}
}

// cycle runs one detection and records the result. A panic escaping the
// automaton is reported as ERROR.
func (a *Actor) cycle(ctx context.Context) {
	screen := domain.ScreenError
	func() {
		defer func() {
			if r := recover(); r != nil {
				a.logger.Error("Detection cycle panicked", zap.Any("panic", r))
			}
		}()
		screen = a.detector.Detect(ctx, a.detector.State().Resolution.YOffset)
	}()

	a.last.Store(screen)
	a.cycles.Add(1)
	if err := a.devices.UpdateLastScreen(ctx, a.db, a.DeviceID, screen, a.now().Unix()); err != nil {
		a.logger.Warn("Failed to record last screen", zap.String("screen", string(screen)), zap.Error(err))
	}
}

// Trigger requests an immediate cycle. Requests made while one is pending
// are coalesced.
func (a *Actor) Trigger() {
	select {
	case a.triggerCh <- struct{}{}:
	default:
	}
}

// Stop ends Run after the current cycle. Safe to call multiple times.
func (a *Actor) Stop() {
	a.stopOnce.Do(func() { close(a.stopCh) })
}

// LastScreen is the result of the latest cycle.
func (a *Actor) LastScreen() domain.ScreenType {
	s, _ := a.last.Load().(domain.ScreenType)
	return s
}

// Cycles counts completed cycles.
func (a *Actor) Cycles() int64 {
	return a.cycles.Load()
}
