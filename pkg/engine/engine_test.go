package engine

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/pricehelm/pricehelm/pkg/feed"
	"github.com/pricehelm/pricehelm/pkg/feed/feedmock"
	"github.com/pricehelm/pricehelm/pkg/storage/storagemock"
	"github.com/pricehelm/pricehelm/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testDeviceID = "test-device"

func testSettings() types.Settings {
	s, _, err := types.MigrateSettings(types.Settings{}, 0)
	if err != nil {
		panic(err)
	}
	return s
}

func newTestEngine(t *testing.T, settings types.Settings) (*Engine, *feedmock.MockProvider, *storagemock.MockDatabase) {
	t.Helper()
	mp := &feedmock.MockProvider{}
	mp.On("ApplySettings", mock.Anything, mock.Anything).Return(nil).Maybe()

	feeds := feed.NewMap()
	feeds.SetProvider(settings.FeedProvider, testDeviceID, mp)

	db := &storagemock.MockDatabase{}

	e := New(testDeviceID, db, feeds, settings)
	e.now = func() time.Time {
		return time.Date(2025, 6, 1, 10, 30, 0, 0, time.UTC)
	}
	e.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return e, mp, db
}

func rawPricesAll(price float64) types.RawDailyPrices {
	var raw types.RawDailyPrices
	for h := 0; h < types.HoursPerDay; h++ {
		raw.Prices[h] = price
	}
	return raw
}

func TestRefresh(t *testing.T) {
	ctx := context.Background()

	t.Run("PublishesClassifiedSet", func(t *testing.T) {
		settings := testSettings()
		e, mp, db := newTestEngine(t, settings)

		raw := rawPricesAll(0.10)
		mp.On("GetDailyPrices", mock.Anything, mock.Anything).Return(raw, nil).Once()
		db.On("PublishPriceSet", mock.Anything, testDeviceID, mock.AnythingOfType("types.PriceSet"), types.CurrentPriceSetVersion).Return(nil).Once()

		require.NoError(t, e.Refresh(ctx, "test"))

		set := e.Current()
		require.NotNil(t, set)
		require.NoError(t, set.Validate())
		assert.True(t, set.Day.Equal(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)))

		for h := 0; h < types.HoursPerDay; h++ {
			hp := set.Hours[h]
			assert.Equal(t, 0.10, hp.RawPrice)
			assert.NotEqual(t, types.TierUnknown, hp.Tier)
			assert.NotEqual(t, types.Tier(""), hp.Tier)
			if hp.LowTariff {
				assert.InDelta(t, 0.10+settings.LowSurchargePerKWh, hp.AdjustedPrice, 1e-9)
			} else {
				assert.InDelta(t, 0.10+settings.HighSurchargePerKWh, hp.AdjustedPrice, 1e-9)
			}
		}

		// night hours carry the low-tariff flag
		assert.True(t, set.Hours[23].LowTariff)
		assert.True(t, set.Hours[3].LowTariff)
		assert.False(t, set.Hours[12].LowTariff)

		mp.AssertExpectations(t)
		db.AssertExpectations(t)
	})

	t.Run("TieBreakByHour", func(t *testing.T) {
		// three cheap hours and twenty-one identical expensive ones: with
		// lowCount=8 the five remaining low slots go to the earliest tied
		// hours, and the high tier takes the latest eight.
		settings := testSettings()
		settings.LowSurchargePerKWh = 0
		settings.HighSurchargePerKWh = 0
		e, mp, db := newTestEngine(t, settings)

		raw := rawPricesAll(2.0)
		raw.Prices[0] = 1.5
		raw.Prices[1] = 1.5
		raw.Prices[2] = 1.5
		mp.On("GetDailyPrices", mock.Anything, mock.Anything).Return(raw, nil).Once()
		db.On("PublishPriceSet", mock.Anything, testDeviceID, mock.Anything, types.CurrentPriceSetVersion).Return(nil).Once()

		require.NoError(t, e.Refresh(ctx, "test"))

		set := e.Current()
		require.NotNil(t, set)
		for h := 0; h < 8; h++ {
			assert.Equal(t, types.TierLow, set.Hours[h].Tier, "hour %d", h)
		}
		for h := 8; h < 16; h++ {
			assert.Equal(t, types.TierMedium, set.Hours[h].Tier, "hour %d", h)
		}
		for h := 16; h < 24; h++ {
			assert.Equal(t, types.TierHigh, set.Hours[h].Tier, "hour %d", h)
		}
	})

	t.Run("IncompleteDayGetsUnknownTiers", func(t *testing.T) {
		e, mp, db := newTestEngine(t, testSettings())

		raw := rawPricesAll(0.10)
		raw.Prices[20] = math.NaN()
		mp.On("GetDailyPrices", mock.Anything, mock.Anything).Return(raw, nil).Once()
		db.On("PublishPriceSet", mock.Anything, testDeviceID, mock.Anything, types.CurrentPriceSetVersion).Return(nil).Once()

		require.NoError(t, e.Refresh(ctx, "test"))

		set := e.Current()
		require.NotNil(t, set)
		assert.False(t, set.Hours[20].HasPrice())
		assert.True(t, set.Hours[0].HasPrice())
		for h := 0; h < types.HoursPerDay; h++ {
			assert.Equal(t, types.TierUnknown, set.Hours[h].Tier)
		}
	})

	t.Run("ContentionLeavesPublishedSetIntact", func(t *testing.T) {
		e, mp, _ := newTestEngine(t, testSettings())

		require.True(t, e.locks.Acquire(testDeviceID, "other-op"))

		err := e.Refresh(ctx, "test")
		require.ErrorIs(t, err, types.ErrLockContention)
		assert.Nil(t, e.Current())
		mp.AssertNotCalled(t, "GetDailyPrices", mock.Anything, mock.Anything)
	})

	t.Run("FetchFailurePreservesLastKnownGood", func(t *testing.T) {
		e, mp, db := newTestEngine(t, testSettings())

		mp.On("GetDailyPrices", mock.Anything, mock.Anything).Return(rawPricesAll(0.10), nil).Once()
		db.On("PublishPriceSet", mock.Anything, testDeviceID, mock.Anything, types.CurrentPriceSetVersion).Return(nil).Once()
		require.NoError(t, e.Refresh(ctx, "test"))
		published := e.Current()
		require.NotNil(t, published)

		mp.On("GetDailyPrices", mock.Anything, mock.Anything).Return(types.RawDailyPrices{}, errors.New("feed down")).Times(3)
		err := e.Refresh(ctx, "test")
		require.Error(t, err)
		assert.Same(t, published, e.Current())
	})

	t.Run("RetryBacksOffPerAttempt", func(t *testing.T) {
		e, mp, db := newTestEngine(t, testSettings())

		var slept []time.Duration
		e.sleep = func(ctx context.Context, d time.Duration) error {
			slept = append(slept, d)
			return nil
		}

		mp.On("GetDailyPrices", mock.Anything, mock.Anything).Return(types.RawDailyPrices{}, errors.New("flaky")).Twice()
		mp.On("GetDailyPrices", mock.Anything, mock.Anything).Return(rawPricesAll(0.10), nil).Once()
		db.On("PublishPriceSet", mock.Anything, testDeviceID, mock.Anything, types.CurrentPriceSetVersion).Return(nil).Once()

		require.NoError(t, e.Refresh(ctx, "test"))
		assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second}, slept)
	})

	t.Run("Paused", func(t *testing.T) {
		settings := testSettings()
		settings.Pause = true
		e, mp, _ := newTestEngine(t, settings)

		require.NoError(t, e.Refresh(ctx, "test"))
		assert.Nil(t, e.Current())
		mp.AssertNotCalled(t, "GetDailyPrices", mock.Anything, mock.Anything)
	})
}

func TestBestWindow(t *testing.T) {
	ctx := context.Background()
	e, mp, db := newTestEngine(t, testSettings())

	t.Run("NoPublishedSet", func(t *testing.T) {
		_, ok, err := e.BestWindow(ctx, 3, 0, false)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	raw := rawPricesAll(0.20)
	// hours 10-12 are the cheap block
	raw.Prices[10] = 0.05
	raw.Prices[11] = 0.05
	raw.Prices[12] = 0.05
	mp.On("GetDailyPrices", mock.Anything, mock.Anything).Return(raw, nil).Once()
	db.On("PublishPriceSet", mock.Anything, testDeviceID, mock.Anything, types.CurrentPriceSetVersion).Return(nil).Once()
	require.NoError(t, e.Refresh(ctx, "test"))

	t.Run("Cheapest", func(t *testing.T) {
		best, ok, err := e.BestWindow(ctx, 3, 0, false)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, 10, best.StartHour)
		assert.Equal(t, 3, best.Length)
	})

	t.Run("StartFromExcludesWinner", func(t *testing.T) {
		best, ok, err := e.BestWindow(ctx, 3, 11, false)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, 11, best.StartHour)
	})

	t.Run("InvalidLength", func(t *testing.T) {
		_, _, err := e.BestWindow(ctx, 0, 0, false)
		require.ErrorIs(t, err, types.ErrInvalidPriceData)
	})
}

func TestApplySettings(t *testing.T) {
	ctx := context.Background()
	e, mp, db := newTestEngine(t, testSettings())

	raw := rawPricesAll(0.10)
	mp.On("GetDailyPrices", mock.Anything, mock.Anything).Return(raw, nil)
	db.On("PublishPriceSet", mock.Anything, testDeviceID, mock.Anything, types.CurrentPriceSetVersion).Return(nil)

	require.NoError(t, e.Refresh(ctx, "test"))
	before := e.Current()
	require.NotNil(t, before)

	updated := testSettings()
	updated.HighSurchargePerKWh = 0.10
	require.NoError(t, e.ApplySettings(ctx, updated))

	assert.Equal(t, updated, e.Settings())
	after := e.Current()
	require.NotNil(t, after)
	assert.NotSame(t, before, after)
	assert.InDelta(t, 0.20, after.Hours[12].AdjustedPrice, 1e-9)
}

func TestRefreshReleasesLock(t *testing.T) {
	ctx := context.Background()
	e, mp, db := newTestEngine(t, testSettings())

	mp.On("GetDailyPrices", mock.Anything, mock.Anything).Return(rawPricesAll(0.10), nil)
	db.On("PublishPriceSet", mock.Anything, testDeviceID, mock.Anything, types.CurrentPriceSetVersion).Return(nil)

	require.NoError(t, e.Refresh(ctx, "test"))
	assert.Empty(t, e.locks.Holder(testDeviceID))

	// lock is also released on failure
	mp.ExpectedCalls = nil
	mp.On("ApplySettings", mock.Anything, mock.Anything).Return(nil).Maybe()
	mp.On("GetDailyPrices", mock.Anything, mock.Anything).Return(types.RawDailyPrices{}, errors.New("down"))
	require.Error(t, e.Refresh(ctx, "test"))
	assert.Empty(t, e.locks.Holder(testDeviceID))
}
