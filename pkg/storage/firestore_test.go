package storage

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/pricehelm/pricehelm/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFirestoreProvider(t *testing.T) {
	// Check if emulator is running or configured
	// We assume it is running on localhost:8087 as per task
	os.Setenv("FIRESTORE_EMULATOR_HOST", "127.0.0.1:8087")

	// Use a test project ID
	projectID := "test-project-id"

	// Use a random database for isolation
	randDB := fmt.Sprintf("test-db-%d", time.Now().UnixNano())
	f := &FirestoreProvider{
		projectID: projectID,
		database:  randDB,
	}

	ctx := context.Background()
	require.NoError(t, f.Init(ctx))
	defer f.Close()

	t.Run("Validate", func(t *testing.T) {
		require.NoError(t, f.Validate())
	})

	t.Run("Settings", func(t *testing.T) {
		settings := types.Settings{
			FeedProvider:        "dayahead",
			FeedArea:            "NL",
			LowTariffHours:      []int{23, 0, 1, 2, 3, 4, 5, 6},
			LowSurchargePerKWh:  0.02,
			HighSurchargePerKWh: 0.05,
			LowTierHours:        8,
			HighTierHours:       8,
			DefaultWindowHours:  3,
		}
		require.NoError(t, f.SetSettings(ctx, "test-device", settings, types.CurrentSettingsVersion))

		gotSettings, version, err := f.GetSettings(ctx, "test-device")
		require.NoError(t, err)
		assert.Equal(t, types.CurrentSettingsVersion, version)
		assert.Equal(t, settings.FeedProvider, gotSettings.FeedProvider)
		assert.Equal(t, settings.FeedArea, gotSettings.FeedArea)
		assert.Equal(t, settings.LowTariffHours, gotSettings.LowTariffHours)
		assert.Equal(t, settings.LowSurchargePerKWh, gotSettings.LowSurchargePerKWh)
		assert.Equal(t, settings.HighSurchargePerKWh, gotSettings.HighSurchargePerKWh)
	})

	t.Run("SettingsNotFound", func(t *testing.T) {
		gotSettings, version, err := f.GetSettings(ctx, "never-seen-device")
		require.NoError(t, err)
		assert.Equal(t, 0, version)
		assert.Equal(t, types.Settings{}, gotSettings)
	})

	t.Run("EmptyDeviceID", func(t *testing.T) {
		_, _, err := f.GetSettings(ctx, "")
		assert.ErrorContains(t, err, "deviceID cannot be empty")
	})

	t.Run("PriceSets", func(t *testing.T) {
		day := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
		set := makeTestPriceSet(day, 0.10)

		require.NoError(t, f.PublishPriceSet(ctx, "test-device", set, types.CurrentPriceSetVersion))

		t.Run("GetLatest", func(t *testing.T) {
			got, err := f.GetLatestPriceSet(ctx, "test-device")
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.True(t, got.Day.Equal(day))
			assert.Equal(t, set.Hours[0].RawPrice, got.Hours[0].RawPrice)
			assert.Equal(t, set.Hours[23].Tier, got.Hours[23].Tier)
		})

		t.Run("GetLatestNone", func(t *testing.T) {
			got, err := f.GetLatestPriceSet(ctx, "device-without-prices")
			require.NoError(t, err)
			assert.Nil(t, got)
		})

		t.Run("PublishSupersedes", func(t *testing.T) {
			updated := makeTestPriceSet(day, 0.42)
			require.NoError(t, f.PublishPriceSet(ctx, "test-device", updated, types.CurrentPriceSetVersion))

			got, err := f.GetLatestPriceSet(ctx, "test-device")
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, 0.42, got.Hours[0].RawPrice)
		})

		t.Run("History", func(t *testing.T) {
			day2 := day.Add(24 * time.Hour)
			day3 := day.Add(48 * time.Hour)
			require.NoError(t, f.PublishPriceSet(ctx, "test-device", makeTestPriceSet(day2, 0.20), types.CurrentPriceSetVersion))
			require.NoError(t, f.PublishPriceSet(ctx, "test-device", makeTestPriceSet(day3, 0.30), types.CurrentPriceSetVersion))

			// half-open range: day and day2 in, day3 out
			sets, err := f.GetPriceSetHistory(ctx, "test-device", day, day3)
			require.NoError(t, err)
			require.Len(t, sets, 2)
			assert.True(t, sets[0].Day.Equal(day))
			assert.True(t, sets[1].Day.Equal(day2))
		})

		t.Run("MissingDay", func(t *testing.T) {
			err := f.PublishPriceSet(ctx, "test-device", types.PriceSet{}, types.CurrentPriceSetVersion)
			assert.ErrorContains(t, err, "missing day")
		})
	})

	t.Run("Devices", func(t *testing.T) {
		device := types.Device{
			ID:       "device-crud",
			Name:     "Living Room Meter",
			PairedAt: time.Now().Truncate(time.Second).UTC(),
		}

		t.Run("Create", func(t *testing.T) {
			require.NoError(t, f.CreateDevice(ctx, device))

			got, err := f.GetDevice(ctx, "device-crud")
			require.NoError(t, err)
			assert.Equal(t, device.ID, got.ID)
			assert.Equal(t, device.Name, got.Name)
			assert.True(t, device.PairedAt.Equal(got.PairedAt))
		})

		t.Run("CreateDuplicate", func(t *testing.T) {
			// Create uses Firestore's Create which should fail on duplicates
			err := f.CreateDevice(ctx, device)
			assert.Error(t, err)
		})

		t.Run("GetNotFound", func(t *testing.T) {
			_, err := f.GetDevice(ctx, "nonexistent-device")
			assert.ErrorIs(t, err, types.ErrDeviceNotFound)
		})

		t.Run("List", func(t *testing.T) {
			device2 := types.Device{ID: "device-crud-2", Name: "Garage Meter"}
			require.NoError(t, f.CreateDevice(ctx, device2))

			devices, err := f.ListDevices(ctx)
			require.NoError(t, err)

			found1 := false
			found2 := false
			for _, d := range devices {
				if d.ID == "device-crud" {
					found1 = true
				}
				if d.ID == "device-crud-2" {
					found2 = true
				}
			}
			assert.True(t, found1, "ListDevices did not return device-crud")
			assert.True(t, found2, "ListDevices did not return device-crud-2")
		})
	})
}

func makeTestPriceSet(day time.Time, basePrice float64) types.PriceSet {
	set := types.PriceSet{
		Day:       day,
		FetchedAt: time.Now().Truncate(time.Second).UTC(),
	}
	for h := 0; h < types.HoursPerDay; h++ {
		tier := types.TierMedium
		if h < 8 {
			tier = types.TierLow
		} else if h >= 16 {
			tier = types.TierHigh
		}
		set.Hours[h] = types.HourlyPrice{
			Hour:          h,
			RawPrice:      basePrice + float64(h)*0.001,
			AdjustedPrice: basePrice + float64(h)*0.001 + 0.02,
			Tier:          tier,
		}
	}
	return set
}
