package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/lcalzada-xor/mlomgr/internal/adapters/objmgr"
	"github.com/lcalzada-xor/mlomgr/internal/adapters/storage"
	"github.com/lcalzada-xor/mlomgr/internal/adapters/transport"
	webserver "github.com/lcalzada-xor/mlomgr/internal/adapters/web/server"
	"github.com/lcalzada-xor/mlomgr/internal/config"
	"github.com/lcalzada-xor/mlomgr/internal/core/domain"
	"github.com/lcalzada-xor/mlomgr/internal/core/ports"
	"github.com/lcalzada-xor/mlomgr/internal/core/services/journal"
	"github.com/lcalzada-xor/mlomgr/internal/core/services/peer"
	"github.com/lcalzada-xor/mlomgr/internal/core/services/registry"
	"github.com/lcalzada-xor/mlomgr/internal/core/services/setup"
	"github.com/lcalzada-xor/mlomgr/internal/telemetry"
)

// Application holds the core components of the MLO manager daemon.
type Application struct {
	Config    *config.Config
	Store     *storage.SQLiteAdapter
	Journal   *journal.Journal
	Objects   *objmgr.Arena
	Manager   *registry.Manager
	Peers     *peer.Coordinator
	Setup     *setup.Coordinator
	Notifier  *transport.Notifier
	Radio     *transport.RadioLoopback
	WebServer *webserver.Server

	hooks *ports.DataPlaneHooks
}

// New creates a new Application instance and bootstraps its components.
func New(cfg *config.Config) (*Application, error) {
	app := &Application{
		Config: cfg,
	}

	if err := app.bootstrap(); err != nil {
		return nil, fmt.Errorf("application bootstrap failed: %w", err)
	}

	return app, nil
}

func (app *Application) bootstrap() error {
	telemetry.InitMetrics()

	if err := app.initStorage(); err != nil {
		return err
	}
	app.Journal = journal.New(app.Store, app.Config.JournalBuffer)
	app.Journal.SetBatching(app.Config.JournalBatch, app.Config.JournalInterval)

	app.hooks = dataPlaneHooks()
	app.Objects = objmgr.New()
	app.Manager = registry.NewManager(registry.Config{
		Features:   app.Config.Features,
		AIDStart:   app.Config.AIDStart,
		AIDMax:     app.Config.AIDMax,
		MaxDevices: app.Config.MaxDevices,
	}, app.Objects, app.hooks, app.Journal)
	app.Manager.RegisterExtOps(mlmeHooks())

	app.Notifier = transport.NewNotifier(app.Manager, app.Config.NotifyQueue, app.Config.NotifyWorkers)
	policy := peer.DefaultPolicy{ChipCapacity: app.Config.ChipCapacity}
	if app.Config.ForcePrimaryChip >= 0 {
		policy.Force = true
		policy.ForceChip = uint8(app.Config.ForcePrimaryChip)
	}
	app.Peers = peer.NewCoordinator(app.Manager, app.Notifier, policy)

	app.Radio = transport.NewRadioLoopback(app.Config.RadioLatency, 0)
	sc, err := setup.New(app.Config.Features, setup.Config{
		Groups:          app.Config.Groups,
		TeardownTimeout: app.Config.TeardownTimeout,
	}, app.Radio, app.hooks, app.Journal)
	if err != nil {
		return fmt.Errorf("multi-chip setup: %w", err)
	}
	app.Setup = sc
	app.Manager.AddObserver(linkStateObserver{radio: app.Radio})

	app.WebServer = webserver.NewServer(app.Config.Addr, app.Manager, app.Setup, app.Journal)
	return nil
}

func (app *Application) initStorage() error {
	if err := os.MkdirAll(filepath.Dir(app.Config.DBPath), 0755); err != nil {
		return fmt.Errorf("failed to create DB directory: %w", err)
	}
	store, err := storage.NewSQLiteAdapter(app.Config.DBPath)
	if err != nil {
		return fmt.Errorf("failed to init journal storage: %w", err)
	}
	app.Store = store
	return nil
}

// Run starts the workers and the diagnostics server and blocks until ctx is
// cancelled. Groups are torn down before the workers stop.
func (app *Application) Run(ctx context.Context) error {
	slog.Info("Starting MLO manager components...")

	workCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	app.Journal.Start(workCtx)
	app.Notifier.Start(workCtx)
	app.Radio.Start(workCtx, app.Setup)

	if app.Config.Simulate {
		if err := app.simulate(ctx); err != nil {
			slog.Error("Simulated bring-up failed", "error", err)
		}
	}

	errChan := make(chan error, 1)
	go func() {
		if err := app.WebServer.Run(ctx); err != nil {
			errChan <- fmt.Errorf("web server error: %w", err)
		}
	}()

	slog.Info("MLO manager ready. Press Ctrl+C to terminate.")

	var runErr error
	select {
	case <-ctx.Done():
		slog.Info("Termination signal received")
	case runErr = <-errChan:
	}

	app.cleanup(stopWorkers)
	return runErr
}

func (app *Application) cleanup(stopWorkers context.CancelFunc) {
	slog.Info("Cleaning up resources...")

	for _, g := range app.Setup.Snapshots() {
		if g.ProbedLinks == 0 {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), app.Config.TeardownTimeout+time.Second)
		if err := app.Setup.Teardown(ctx, g.ID, domain.TeardownNormal); err != nil {
			slog.Warn("Group teardown incomplete", "group", g.ID, "error", err)
		}
		cancel()
	}

	stopWorkers()
	app.Notifier.Wait()
	<-app.Radio.Done()
	<-app.Journal.Done()

	if err := app.Store.Close(); err != nil {
		slog.Error("Failed to close journal storage", "error", err)
	}
}

// linkStateObserver routes firmware link state queries of STA MLDs to the
// radio.
type linkStateObserver struct {
	radio ports.RadioTransport
}

func (o linkStateObserver) OnDeviceAdded(ctx context.Context, dev *registry.Device) {
	if dev.IsAP() {
		return
	}
	err := dev.SetLinkStateHandler(func(vdev domain.VdevHandle) error {
		return o.radio.RequestLinkStateInfo(context.Background(), vdev)
	})
	if err != nil {
		slog.Warn("link state handler not installed", "mld", dev.MLDAddr(), "error", err)
	}
}

func (linkStateObserver) OnDeviceRemoved(context.Context, domain.MAC, domain.OpMode) {}

// mlmeHooks logs the notifications the MLO manager hands to the MLME layer.
// There is no MLME above the daemon; a driver integration replaces them.
func mlmeHooks() *ports.MlmeExtOps {
	logNotification := func(n domain.Notification) error {
		slog.Debug("MLME notification",
			"kind", n.Kind, "vdev", n.Vdev, "peer_mld", n.PeerMLD, "aid", n.AID, "link_addr", n.LinkAddr)
		return nil
	}
	return &ports.MlmeExtOps{
		PeerCreate:          logNotification,
		PeerAssoc:           logNotification,
		PeerAssocFail:       logNotification,
		PeerDeauth:          logNotification,
		PeerDisconnect:      logNotification,
		ProcessDeferredAuth: logNotification,
		SendAssocResponse: func(vdev domain.VdevHandle, p domain.PeerHandle, frame []byte) error {
			slog.Debug("MLME association response", "vdev", vdev, "link_peer", p, "len", len(frame))
			return nil
		},
	}
}

func dataPlaneHooks() *ports.DataPlaneHooks {
	return &ports.DataPlaneHooks{
		MLOCtxtAttach: func(groupID uint8) error {
			slog.Debug("data path: MLO context attached", "group", groupID)
			return nil
		},
		MLOCtxtDetach: func(groupID uint8) error {
			slog.Debug("data path: MLO context detached", "group", groupID)
			return nil
		},
		SocSetup: func(groupID, chipID uint8) error {
			slog.Debug("data path: SoC set up", "group", groupID, "chip", chipID)
			return nil
		},
		SocTeardown: func(groupID, chipID uint8, forced bool) error {
			slog.Debug("data path: SoC torn down", "group", groupID, "chip", chipID, "forced", forced)
			return nil
		},
	}
}
