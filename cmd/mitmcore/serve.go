package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/devicefleet/mitmcore/internal/account"
	"github.com/devicefleet/mitmcore/internal/device"
	"github.com/devicefleet/mitmcore/internal/devicesettings"
	"github.com/devicefleet/mitmcore/internal/domain"
	"github.com/devicefleet/mitmcore/internal/fleet"
	"github.com/devicefleet/mitmcore/internal/intake"
	"github.com/devicefleet/mitmcore/internal/ipc"
	"github.com/devicefleet/mitmcore/internal/screen"
	"github.com/devicefleet/mitmcore/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Receive protos and, when enabled, drive the device fleet",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func serve(ctx context.Context) error {
	db, err := store.NewDB(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	settings, err := devicesettings.Load(cfg.DeviceSettingsPath, logger)
	if err != nil {
		return fmt.Errorf("load device settings: %w", err)
	}
	if err := settings.Watch(ctx); err != nil {
		logger.Warn("Device settings will not be reloaded", zap.Error(err))
	}
	defer settings.Stop()

	accounts := account.NewHandler(db, logger)
	window := time.Duration(cfg.LoginRateLimit.WindowSec) * time.Second
	logins := account.NewLoginLimiter(db, cfg.LoginRateLimit.MaxLogins, window)

	queue := intake.NewQueue(cfg.QueueSize)
	dispatcher := intake.NewDispatcher(db, accounts, logins, queue, logger, intake.Options{
		IgnorePreBoot: cfg.IgnorePreBoot,
		StartedAt:     time.Now(),
		Workers:       cfg.DecodeWorkers,
	})

	handler := &ipc.Handler{
		Dispatcher: dispatcher,
		DB:         db,
		DeviceRepo: &store.DeviceRepo{},
		Logger:     logger,
	}

	var supervisor *fleet.Supervisor
	if cfg.EnableFleet {
		drivers := &device.Drivers{
			ADBPath:  cfg.ADBPath,
			Settings: settings,
			OCR:      device.NewOCRClient(cfg.OCRURL),
		}
		supervisor = fleet.NewSupervisor(db, drivers, fleet.Shared{
			Accounts: accounts,
			Settings: settings,
			Logins:   logins,
		}, fleet.SupervisorConfig{
			CycleIntervalSec: cfg.CycleIntervalSec,
			Screen: screen.Options{
				TempPath:                        cfg.TempPath,
				TargetPackage:                   cfg.TargetPackage,
				EnableLoginTracking:             cfg.EnableLoginTracking,
				EnableEarlyMaintenanceDetection: cfg.EnableEarlyMaintenanceDetection,
			},
		}, logger)
		handler.Fleet = supervisor
	}

	srv := ipc.NewServer(handler, cfg.ListenAddr)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Receiver listening", zap.String("url", ipc.FormatListenURL(cfg.ListenAddr)))
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return consume(gctx, queue)
	})
	if supervisor != nil {
		g.Go(func() error { return supervisor.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Server shutdown", zap.Error(err))
		}
		if supervisor != nil {
			supervisor.Stop()
		}
		queue.Close()
		return nil
	})

	return g.Wait()
}

// consume drains forwarded protos. Downstream processing attaches here; until
// then each item is logged at debug level.
func consume(ctx context.Context, queue *intake.Queue) error {
	err := queue.Consume(ctx, func(_ context.Context, item domain.QueueItem) {
		logger.Debug("Proto forwarded",
			zap.String("origin", item.Origin),
			zap.Int("method", int(item.Envelope.Type)),
			zap.Int64("timestamp", item.Timestamp))
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
