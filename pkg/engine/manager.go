package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pricehelm/pricehelm/pkg/feed"
	"github.com/pricehelm/pricehelm/pkg/log"
	"github.com/pricehelm/pricehelm/pkg/storage"
	"github.com/pricehelm/pricehelm/pkg/types"
)

// Manager lazily builds one Engine per paired device and owns their
// lifecycle. The server asks the Manager for engines, never constructs its
// own.
type Manager struct {
	db    storage.Database
	feeds *feed.Map

	mu      sync.Mutex
	engines map[string]*Engine
	// runCtx is set once StartAll has run; engines created after that point
	// start their timers immediately under it
	runCtx context.Context
}

// NewManager creates a Manager.
func NewManager(db storage.Database, feeds *feed.Map) *Manager {
	return &Manager{
		db:      db,
		feeds:   feeds,
		engines: make(map[string]*Engine),
	}
}

// Engine returns the engine for deviceID, creating it on first use. Creation
// loads and migrates the device's settings and seeds the engine from the last
// persisted price set so queries work before the first refresh completes.
func (m *Manager) Engine(ctx context.Context, deviceID string) (*Engine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.engines[deviceID]; ok {
		return e, nil
	}

	if _, err := m.db.GetDevice(ctx, deviceID); err != nil {
		return nil, err
	}

	settings, version, err := m.db.GetSettings(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to get settings for %s: %w", deviceID, err)
	}
	settings, changed, err := types.MigrateSettings(settings, version)
	if err != nil {
		return nil, fmt.Errorf("failed to migrate settings for %s: %w", deviceID, err)
	}
	if changed {
		if err := m.db.SetSettings(ctx, deviceID, settings, types.CurrentSettingsVersion); err != nil {
			// migrated settings still apply in memory, retry persisting next time
			log.Ctx(ctx).WarnContext(ctx, "failed to persist migrated settings", slog.String("deviceID", deviceID), slog.Any("error", err))
		}
	}

	e := New(deviceID, m.db, m.feeds, settings)

	last, err := m.db.GetLatestPriceSet(ctx, deviceID)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to load last price set", slog.String("deviceID", deviceID), slog.Any("error", err))
	} else if last != nil {
		e.current.Store(last)
	}

	m.engines[deviceID] = e
	if m.runCtx != nil {
		e.Start(m.runCtx)
	}
	return e, nil
}

// StartAll creates and starts an engine for every paired device. Engines
// created later (newly paired devices) start immediately.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	m.runCtx = ctx
	m.mu.Unlock()

	devices, err := m.db.ListDevices(ctx)
	if err != nil {
		return fmt.Errorf("failed to list devices: %w", err)
	}
	for _, d := range devices {
		// Engine starts the timers itself now that runCtx is set
		if _, err := m.Engine(ctx, d.ID); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to build engine", slog.String("deviceID", d.ID), slog.Any("error", err))
		}
	}
	log.Ctx(ctx).InfoContext(ctx, "engines started", slog.Int("devices", len(devices)))
	return nil
}

// RefreshAll refreshes every known engine, logging per-device failures and
// returning how many succeeded.
func (m *Manager) RefreshAll(ctx context.Context, reason string) int {
	m.mu.Lock()
	engines := make([]*Engine, 0, len(m.engines))
	for _, e := range m.engines {
		engines = append(engines, e)
	}
	m.mu.Unlock()

	ok := 0
	for _, e := range engines {
		if err := e.Refresh(ctx, reason); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "refresh failed", slog.String("deviceID", e.DeviceID()), slog.Any("error", err))
			continue
		}
		ok++
	}
	return ok
}

// StopAll stops every engine's timers.
func (m *Manager) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.engines {
		e.Stop()
	}
}
