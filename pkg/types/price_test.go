package types

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriceSetValidate(t *testing.T) {
	var set PriceSet
	set.Day = time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)
	for i := range set.Hours {
		set.Hours[i] = HourlyPrice{Hour: i, RawPrice: 0.1, AdjustedPrice: 0.1}
	}
	require.NoError(t, set.Validate())

	// a slot carrying the wrong hour is invalid
	set.Hours[5].Hour = 6
	err := set.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidPriceData)
}

func TestPriceSetHour(t *testing.T) {
	var set PriceSet
	for i := range set.Hours {
		set.Hours[i] = HourlyPrice{Hour: i, AdjustedPrice: float64(i)}
	}

	h, err := set.Hour(7)
	require.NoError(t, err)
	assert.Equal(t, 7, h.Hour)
	assert.Equal(t, 7.0, h.AdjustedPrice)

	_, err = set.Hour(24)
	assert.ErrorIs(t, err, ErrInvalidHour)
	_, err = set.Hour(-1)
	assert.ErrorIs(t, err, ErrInvalidHour)
}

func TestHourlyPriceHasPrice(t *testing.T) {
	assert.True(t, HourlyPrice{AdjustedPrice: 0.25}.HasPrice())
	assert.True(t, HourlyPrice{AdjustedPrice: -0.05}.HasPrice())
	assert.False(t, HourlyPrice{AdjustedPrice: math.NaN()}.HasPrice())
	assert.False(t, HourlyPrice{AdjustedPrice: math.Inf(1)}.HasPrice())
}
