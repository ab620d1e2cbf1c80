package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrateSettings(t *testing.T) {
	t.Run("v1: initial defaults", func(t *testing.T) {
		s, changed, err := MigrateSettings(Settings{}, 0)
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, 8, s.LowTierHours)
		assert.Equal(t, 8, s.HighTierHours)
		assert.Equal(t, []int{23, 0, 1, 2, 3, 4, 5, 6}, s.LowTariffHours)
	})

	t.Run("v1 to v2: default window length", func(t *testing.T) {
		s, changed, err := MigrateSettings(Settings{}, 1)
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, 3, s.DefaultWindowHours)
	})

	t.Run("v2 to v3: feed provider default", func(t *testing.T) {
		s, changed, err := MigrateSettings(Settings{DefaultWindowHours: 4}, 2)
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, "dayahead", s.FeedProvider)
		assert.Equal(t, 4, s.DefaultWindowHours)
	})

	t.Run("no change: current version", func(t *testing.T) {
		current := Settings{
			FeedProvider:       "dayahead",
			LowTierHours:       8,
			HighTierHours:      8,
			DefaultWindowHours: 3,
		}
		s, changed, err := MigrateSettings(current, CurrentSettingsVersion)
		require.NoError(t, err)
		assert.False(t, changed)
		assert.Equal(t, current, s)
	})
}

func TestSettingsSchedule(t *testing.T) {
	s := Settings{
		LowTariffHours:      []int{0, 1, 2},
		LowSurchargePerKWh:  0.5,
		HighSurchargePerKWh: 1.0,
	}
	sched := s.Schedule()
	assert.True(t, sched.LowTariffHours[1])
	assert.False(t, sched.LowTariffHours[3])
	assert.Equal(t, 0.5, sched.LowSurchargePerKWh)
	assert.Equal(t, 1.0, sched.HighSurchargePerKWh)
}
