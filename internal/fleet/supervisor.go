package fleet

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/devicefleet/mitmcore/internal/domain"
	"github.com/devicefleet/mitmcore/internal/screen"
	"github.com/devicefleet/mitmcore/internal/store"
)

// Drivers opens the device-facing collaborators for an origin.
type Drivers interface {
	Open(origin string) (screen.Actuator, screen.Analyzer, error)
}

// Shared holds the collaborators every automaton shares.
type Shared struct {
	Accounts screen.Accounts
	Settings screen.Settings
	Logins   screen.LoginLimiter
}

// SupervisorConfig holds tunable parameters for the supervisor.
type SupervisorConfig struct {
	CycleIntervalSec int
	Screen           screen.Options
}

// Supervisor starts one actor per registered device and stops them all on
// shutdown.
type Supervisor struct {
	DB         *sql.DB
	DeviceRepo *store.DeviceRepo
	Drivers    Drivers
	Shared     Shared
	Config     SupervisorConfig
	Logger     *zap.Logger

	mu       sync.RWMutex
	actors   map[string]*Actor
	stopCh   chan struct{}
	stopOnce sync.Once

	newDetector func(state *domain.WorkerState, deps screen.Deps, opts screen.Options) Detector
}

// NewSupervisor creates a Supervisor with defaults for zero-value config fields.
func NewSupervisor(db *sql.DB, drivers Drivers, shared Shared, cfg SupervisorConfig, logger *zap.Logger) *Supervisor {
	if cfg.CycleIntervalSec == 0 {
		cfg.CycleIntervalSec = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Supervisor{
		DB:          db,
		DeviceRepo:  &store.DeviceRepo{},
		Drivers:     drivers,
		Shared:      shared,
		Config:      cfg,
		Logger:      logger,
		actors:      make(map[string]*Actor),
		stopCh:      make(chan struct{}),
		newDetector: newAutomaton,
	}
}

func newAutomaton(state *domain.WorkerState, deps screen.Deps, opts screen.Options) Detector {
	return screen.New(state, deps, opts)
}

// Run starts an actor for every device in the store and blocks until Stop
// is called or ctx is cancelled, then waits for the actors to finish.
func (s *Supervisor) Run(ctx context.Context) error {
	devices, err := s.DeviceRepo.List(ctx, s.DB)
	if err != nil {
		return fmt.Errorf("list devices: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, dev := range devices {
		actor, err := s.startActor(dev)
		if err != nil {
			s.Logger.Error("Failed to open device", zap.String("origin", dev.Origin), zap.Error(err))
			continue
		}
		g.Go(func() error { return actor.Run(gctx) })
	}
	s.Logger.Info("Fleet started", zap.Int("devices", s.Len()))

	select {
	case <-s.stopCh:
	case <-gctx.Done():
	}

	s.mu.RLock()
	for _, a := range s.actors {
		a.Stop()
	}
	s.mu.RUnlock()
	return g.Wait()
}

func (s *Supervisor) startActor(dev *domain.Device) (*Actor, error) {
	act, ana, err := s.Drivers.Open(dev.Origin)
	if err != nil {
		return nil, err
	}
	state := &domain.WorkerState{
		Origin:            dev.Origin,
		DeviceID:          dev.DeviceID,
		PendingNextScreen: domain.ScreenUndefined,
	}
	det := s.newDetector(state, screen.Deps{
		Actuator: act,
		Analyzer: ana,
		Accounts: s.Shared.Accounts,
		Settings: s.Shared.Settings,
		Logins:   s.Shared.Logins,
		Logger:   s.Logger,
	}, s.Config.Screen)

	interval := time.Duration(s.Config.CycleIntervalSec) * time.Second
	actor := NewActor(dev, det, s.DB, interval, s.Logger)

	s.mu.Lock()
	s.actors[dev.Origin] = actor
	s.mu.Unlock()
	return actor, nil
}

// Trigger requests an immediate detection cycle for origin.
func (s *Supervisor) Trigger(origin string) error {
	s.mu.RLock()
	a, ok := s.actors[origin]
	s.mu.RUnlock()
	if !ok {
		return domain.ErrDeviceNotFound
	}
	a.Trigger()
	return nil
}

// Actor returns the running actor for origin.
func (s *Supervisor) Actor(origin string) (*Actor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.actors[origin]
	return a, ok
}

// Origins lists the origins with a running actor.
func (s *Supervisor) Origins() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.actors))
	for o := range s.actors {
		out = append(out, o)
	}
	sort.Strings(out)
	return out
}

// Len reports how many actors were started.
func (s *Supervisor) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.actors)
}

// Stop signals Run to stop every actor. Safe to call multiple times.
func (s *Supervisor) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}
