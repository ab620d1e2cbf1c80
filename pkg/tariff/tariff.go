// Package tariff applies the day/night distribution tariff to raw spot
// prices. All functions are pure; the schedule is supplied by the caller.
package tariff

import (
	"fmt"
	"math"

	"github.com/pricehelm/pricehelm/pkg/types"
)

// IsLowTariff reports whether the hour falls in the low-tariff schedule.
func IsLowTariff(hour int, schedule types.TariffSchedule) (bool, error) {
	if hour < 0 || hour >= types.HoursPerDay {
		return false, fmt.Errorf("%w: %d", types.ErrInvalidHour, hour)
	}
	return schedule.LowTariffHours[hour], nil
}

// Adjust returns the raw price plus the surcharge for the hour's tariff
// class. On any failure it returns the raw price unchanged so a single bad
// hour never blanks out the rest of the day; the error tells the caller what
// went wrong.
func Adjust(rawPrice float64, hour int, schedule types.TariffSchedule) (float64, error) {
	if math.IsNaN(rawPrice) || math.IsInf(rawPrice, 0) {
		return rawPrice, fmt.Errorf("%w: %f", types.ErrInvalidPrice, rawPrice)
	}
	low, err := IsLowTariff(hour, schedule)
	if err != nil {
		return rawPrice, err
	}
	if low {
		return rawPrice + schedule.LowSurchargePerKWh, nil
	}
	return rawPrice + schedule.HighSurchargePerKWh, nil
}

// Convert converts a price to EUR/kWh when toPerKWh is set, assuming the
// input is EUR/MWh. It is the identity otherwise. Non-finite input is
// returned unchanged alongside an error.
func Convert(price float64, toPerKWh bool) (float64, error) {
	if math.IsNaN(price) || math.IsInf(price, 0) {
		return price, fmt.Errorf("%w: %f", types.ErrInvalidPrice, price)
	}
	if !toPerKWh {
		return price, nil
	}
	return price / 1000, nil
}
