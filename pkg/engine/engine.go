// Package engine orchestrates the per-device price pipeline: fetch the day's
// raw prices, apply the distribution tariff, classify tiers, and publish the
// finished set atomically. One Engine exists per device; nothing in here is
// shared across devices.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pricehelm/pricehelm/pkg/classify"
	"github.com/pricehelm/pricehelm/pkg/feed"
	"github.com/pricehelm/pricehelm/pkg/lock"
	"github.com/pricehelm/pricehelm/pkg/log"
	"github.com/pricehelm/pricehelm/pkg/scheduler"
	"github.com/pricehelm/pricehelm/pkg/storage"
	"github.com/pricehelm/pricehelm/pkg/tariff"
	"github.com/pricehelm/pricehelm/pkg/types"
	"github.com/pricehelm/pricehelm/pkg/windows"
)

const (
	fetchAttempts = 3
	fetchBackoff  = 5 * time.Second

	hourlyRefreshKey = "hourly-refresh"
	windowCheckKey   = "window-check"
	tariffCheckKey   = "tariff-check"

	hourlyRefreshPeriod = time.Hour
	windowCheckPeriod   = 15 * time.Minute
	tariffCheckPeriod   = time.Hour
)

// Engine runs the refresh cycle for a single device and answers price and
// window queries against the last published set.
type Engine struct {
	deviceID string
	db       storage.Database
	feeds    *feed.Map

	mu       sync.Mutex
	settings types.Settings

	classifier *classify.Classifier
	averager   *windows.Averager
	locks      *lock.Table
	sched      *scheduler.Scheduler

	current atomic.Pointer[types.PriceSet]

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates an Engine for the given device. Settings are the device's
// already-migrated settings.
func New(deviceID string, db storage.Database, feeds *feed.Map, settings types.Settings) *Engine {
	return &Engine{
		deviceID:   deviceID,
		db:         db,
		feeds:      feeds,
		settings:   settings,
		classifier: classify.New(),
		averager:   windows.New(),
		locks:      lock.NewTable(0),
		sched:      scheduler.New(),
		now:        time.Now,
		sleep:      sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// DeviceID returns the device this engine serves.
func (e *Engine) DeviceID() string { return e.deviceID }

// Settings returns a copy of the engine's current settings.
func (e *Engine) Settings() types.Settings {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settings
}

// Current returns the last published price set, or nil if nothing has been
// published yet.
func (e *Engine) Current() *types.PriceSet {
	return e.current.Load()
}

// Refresh runs a full recompute: fetch, adjust, classify, publish, persist.
// Only one refresh may run per device at a time; a concurrent attempt fails
// fast with ErrLockContention and leaves the published set untouched. Any
// failure before the publish step also leaves the last published set intact.
func (e *Engine) Refresh(ctx context.Context, reason string) error {
	opID := uuid.NewString()
	if !e.locks.Acquire(e.deviceID, opID) {
		log.Ctx(ctx).WarnContext(
			ctx,
			"refresh already in progress",
			slog.String("deviceID", e.deviceID),
			slog.String("reason", reason),
			slog.String("holder", e.locks.Holder(e.deviceID)),
		)
		return fmt.Errorf("%w: device %s", types.ErrLockContention, e.deviceID)
	}
	defer e.locks.Release(e.deviceID, opID)

	settings := e.Settings()
	if settings.Pause {
		log.Ctx(ctx).InfoContext(ctx, "refresh skipped, device paused", slog.String("deviceID", e.deviceID))
		return nil
	}

	log.Ctx(ctx).DebugContext(
		ctx,
		"refresh started",
		slog.String("deviceID", e.deviceID),
		slog.String("reason", reason),
		slog.String("operationID", opID),
	)

	provider, err := e.feeds.Device(ctx, e.deviceID, settings)
	if err != nil {
		return fmt.Errorf("failed to get feed provider: %w", err)
	}

	day := truncateDay(e.now())
	raw, err := e.fetchDailyPrices(ctx, provider, day)
	if err != nil {
		return fmt.Errorf("failed to fetch prices for %s: %w", day.Format(time.DateOnly), err)
	}

	schedule := settings.Schedule()
	hours := make([]types.HourlyPrice, 0, types.HoursPerDay)
	for h := 0; h < types.HoursPerDay; h++ {
		hp := types.HourlyPrice{
			Hour:     h,
			RawPrice: raw.Prices[h],
			Tier:     raw.Tiers[h],
		}
		if low, err := tariff.IsLowTariff(h, schedule); err == nil {
			hp.LowTariff = low
		}
		adjusted, err := tariff.Adjust(raw.Prices[h], h, schedule)
		if err != nil {
			// hour not published by the feed yet, leave it at the raw value
			log.Ctx(ctx).DebugContext(ctx, "hour has no usable price", slog.Int("hour", h))
		}
		hp.AdjustedPrice = adjusted
		hours = append(hours, hp)
	}

	classified, err := e.classifier.Classify(ctx, hours, settings.LowTierHours, settings.HighTierHours, settings.TrustFeedTiers)
	if err != nil {
		// an incomplete day can't be tiered but its present hours are still
		// usable for price and window queries
		log.Ctx(ctx).WarnContext(
			ctx,
			"classification failed, publishing with unknown tiers",
			slog.String("deviceID", e.deviceID),
			slog.Any("error", err),
		)
		classified = classify.WithUnknownTiers(hours)
	}

	set := &types.PriceSet{
		Day:       day,
		FetchedAt: e.now(),
	}
	for _, p := range classified {
		set.Hours[p.Hour] = p
	}
	if err := set.Validate(); err != nil {
		return fmt.Errorf("refusing to publish invalid price set: %w", err)
	}

	// single pointer swap, readers see the old complete set or this one
	e.current.Store(set)
	e.averager.Invalidate()

	log.Ctx(ctx).InfoContext(
		ctx,
		"published price set",
		slog.String("deviceID", e.deviceID),
		slog.String("reason", reason),
		slog.String("operationID", opID),
		slog.Time("day", day),
	)

	if err := e.db.PublishPriceSet(ctx, e.deviceID, *set, types.CurrentPriceSetVersion); err != nil {
		// the in-memory set is authoritative, persistence is best-effort
		log.Ctx(ctx).ErrorContext(ctx, "failed to persist price set", slog.Any("error", err))
	}
	return nil
}

func (e *Engine) fetchDailyPrices(ctx context.Context, provider feed.Provider, day time.Time) (types.RawDailyPrices, error) {
	var lastErr error
	for attempt := 1; attempt <= fetchAttempts; attempt++ {
		raw, err := provider.GetDailyPrices(ctx, day)
		if err == nil {
			return raw, nil
		}
		lastErr = err
		log.Ctx(ctx).WarnContext(
			ctx,
			"fetch attempt failed",
			slog.String("deviceID", e.deviceID),
			slog.Int("attempt", attempt),
			slog.Any("error", err),
		)
		if attempt < fetchAttempts {
			if err := e.sleep(ctx, time.Duration(attempt)*fetchBackoff); err != nil {
				return types.RawDailyPrices{}, err
			}
		}
	}
	return types.RawDailyPrices{}, fmt.Errorf("all %d attempts failed: %w", fetchAttempts, lastErr)
}

// BestWindow returns the contiguous block of hours with the lowest (or, with
// highest set, the highest) average adjusted price. The boolean is false when
// there is no published set or no complete window of that length, which
// callers must treat as "no recommendation".
func (e *Engine) BestWindow(ctx context.Context, length, startFrom int, highest bool) (types.WindowCombination, bool, error) {
	set := e.Current()
	if set == nil {
		return types.WindowCombination{}, false, nil
	}
	combos, err := e.averager.Combinations(ctx, set, length, startFrom)
	if err != nil {
		return types.WindowCombination{}, false, err
	}
	best, ok := windows.Best(combos, highest)
	return best, ok, nil
}

// ApplySettings swaps in new settings and triggers a refresh so the published
// set reflects them. The refresh error (including lock contention) is
// returned; the settings swap itself always takes effect.
func (e *Engine) ApplySettings(ctx context.Context, settings types.Settings) error {
	e.mu.Lock()
	e.settings = settings
	e.mu.Unlock()
	return e.Refresh(ctx, "settings-change")
}

// Start schedules the recurring work: an hourly refresh and tariff check
// phase-aligned to the next hour boundary, a 15-minute window check, and the
// cache sweep loops. Everything stops when ctx is canceled or Stop is called.
func (e *Engine) Start(ctx context.Context) {
	go e.classifier.Cache().Run(ctx)
	go e.averager.Cache().Run(ctx)

	delay := scheduler.DelayToNextHour(e.now())
	e.sched.Schedule(ctx, hourlyRefreshKey, func(ctx context.Context) {
		if err := e.Refresh(ctx, "scheduled"); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "scheduled refresh failed", slog.String("deviceID", e.deviceID), slog.Any("error", err))
		}
	}, hourlyRefreshPeriod, delay)

	e.sched.Schedule(ctx, windowCheckKey, func(ctx context.Context) {
		e.checkWindows(ctx)
	}, windowCheckPeriod, 0)

	e.sched.Schedule(ctx, tariffCheckKey, func(ctx context.Context) {
		e.checkTariff(ctx)
	}, tariffCheckPeriod, delay)
}

// Stop cancels the recurring timers. The cache sweep loops stop with the
// context passed to Start.
func (e *Engine) Stop() {
	e.sched.Stop()
}

// checkWindows keeps the default-length window result warm so interactive
// queries hit the cache.
func (e *Engine) checkWindows(ctx context.Context) {
	settings := e.Settings()
	length := settings.DefaultWindowHours
	if length < 1 {
		return
	}
	best, ok, err := e.BestWindow(ctx, length, e.now().Hour(), false)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "window check failed", slog.String("deviceID", e.deviceID), slog.Any("error", err))
		return
	}
	if !ok {
		log.Ctx(ctx).DebugContext(ctx, "no complete window available", slog.String("deviceID", e.deviceID), slog.Int("length", length))
		return
	}
	log.Ctx(ctx).DebugContext(
		ctx,
		"window check",
		slog.String("deviceID", e.deviceID),
		slog.Int("startHour", best.StartHour),
		slog.Float64("average", best.Average),
	)
}

// checkTariff verifies the published adjustments still match the tariff
// schedule and triggers a refresh if they've drifted, e.g. after a settings
// write that bypassed ApplySettings.
func (e *Engine) checkTariff(ctx context.Context) {
	set := e.Current()
	if set == nil {
		return
	}
	schedule := e.Settings().Schedule()
	for _, p := range set.Hours {
		if !p.HasPrice() {
			continue
		}
		want, err := tariff.Adjust(p.RawPrice, p.Hour, schedule)
		if err != nil {
			continue
		}
		if want != p.AdjustedPrice {
			log.Ctx(ctx).InfoContext(
				ctx,
				"tariff schedule drifted, refreshing",
				slog.String("deviceID", e.deviceID),
				slog.Int("hour", p.Hour),
			)
			if err := e.Refresh(ctx, "tariff-drift"); err != nil {
				log.Ctx(ctx).WarnContext(ctx, "tariff-drift refresh failed", slog.Any("error", err))
			}
			return
		}
	}
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
