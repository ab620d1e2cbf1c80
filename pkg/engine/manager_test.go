package engine

import (
	"context"
	"testing"
	"time"

	"github.com/pricehelm/pricehelm/pkg/feed"
	"github.com/pricehelm/pricehelm/pkg/storage/storagemock"
	"github.com/pricehelm/pricehelm/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestManagerEngine(t *testing.T) {
	ctx := context.Background()

	t.Run("CreatesAndMigrates", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		m := NewManager(db, feed.NewMap())

		db.On("GetDevice", mock.Anything, testDeviceID).Return(types.Device{ID: testDeviceID}, nil).Once()
		// fresh device, version 0 settings get migrated and written back
		db.On("GetSettings", mock.Anything, testDeviceID).Return(types.Settings{}, 0, nil).Once()
		db.On("SetSettings", mock.Anything, testDeviceID, mock.AnythingOfType("types.Settings"), types.CurrentSettingsVersion).Return(nil).Once()
		db.On("GetLatestPriceSet", mock.Anything, testDeviceID).Return(nil, nil).Once()

		e, err := m.Engine(ctx, testDeviceID)
		require.NoError(t, err)
		require.NotNil(t, e)

		settings := e.Settings()
		assert.Equal(t, 8, settings.LowTierHours)
		assert.Equal(t, 8, settings.HighTierHours)
		assert.Equal(t, "dayahead", settings.FeedProvider)
		assert.Equal(t, 3, settings.DefaultWindowHours)
		assert.Nil(t, e.Current())

		// second call reuses the cached engine, no extra db reads
		again, err := m.Engine(ctx, testDeviceID)
		require.NoError(t, err)
		assert.Same(t, e, again)

		db.AssertExpectations(t)
	})

	t.Run("SeedsFromLastPublishedSet", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		m := NewManager(db, feed.NewMap())

		day := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
		last := &types.PriceSet{Day: day}
		for h := 0; h < types.HoursPerDay; h++ {
			last.Hours[h] = types.HourlyPrice{Hour: h, RawPrice: 0.1, AdjustedPrice: 0.12, Tier: types.TierMedium}
		}

		db.On("GetDevice", mock.Anything, testDeviceID).Return(types.Device{ID: testDeviceID}, nil).Once()
		db.On("GetSettings", mock.Anything, testDeviceID).Return(testSettings(), types.CurrentSettingsVersion, nil).Once()
		db.On("GetLatestPriceSet", mock.Anything, testDeviceID).Return(last, nil).Once()

		e, err := m.Engine(ctx, testDeviceID)
		require.NoError(t, err)

		set := e.Current()
		require.NotNil(t, set)
		assert.True(t, set.Day.Equal(day))
		db.AssertExpectations(t)
	})

	t.Run("UnknownDevice", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		m := NewManager(db, feed.NewMap())

		db.On("GetDevice", mock.Anything, "nope").Return(types.Device{}, types.ErrDeviceNotFound).Once()

		_, err := m.Engine(ctx, "nope")
		require.ErrorIs(t, err, types.ErrDeviceNotFound)
	})
}
