package types

import (
	"fmt"
	"math"
	"time"
)

// CurrentPriceSetVersion is the stored version of published price sets.
const CurrentPriceSetVersion = 1

// HoursPerDay is the number of hourly slots in a daily price set.
const HoursPerDay = 24

// Tier classifies an hour's price relative to the day's distribution.
type Tier string

const (
	TierUnknown Tier = "unknown"
	TierLow     Tier = "low"
	TierMedium  Tier = "medium"
	TierHigh    Tier = "high"
)

// HourlyPrice represents the price of electricity for a single hour of the day.
type HourlyPrice struct {
	Hour int `json:"hour"`

	// RawPrice is the spot price as reported by the feed, in EUR/kWh.
	RawPrice float64 `json:"rawPrice"`

	// AdjustedPrice is RawPrice plus the distribution tariff surcharge.
	AdjustedPrice float64 `json:"adjustedPrice"`

	Tier Tier `json:"tier"`

	// LowTariff records whether the hour fell in the low-tariff schedule when
	// it was adjusted, so consumers don't have to re-derive it.
	LowTariff bool `json:"lowTariff"`
}

// HasPrice reports whether the hour carries a usable price value.
func (h HourlyPrice) HasPrice() bool {
	return !math.IsNaN(h.AdjustedPrice) && !math.IsInf(h.AdjustedPrice, 0)
}

// PriceSet is a complete day of hourly prices. It is built fresh on every
// successful refresh and swapped in whole; readers never see a partially
// updated day.
type PriceSet struct {
	// Day is midnight of the day the prices cover, in the feed's location.
	Day       time.Time                `json:"day"`
	Hours     [HoursPerDay]HourlyPrice `json:"hours"`
	FetchedAt time.Time                `json:"fetchedAt"`
}

// Validate enforces the price set invariant: 24 slots, each carrying its own
// hour. The fixed array rules out duplicates as long as every slot matches
// its index.
func (p *PriceSet) Validate() error {
	for i, h := range p.Hours {
		if h.Hour != i {
			return fmt.Errorf("%w: slot %d carries hour %d", ErrInvalidPriceData, i, h.Hour)
		}
	}
	return nil
}

// Hour returns the entry for the given hour.
func (p *PriceSet) Hour(hour int) (HourlyPrice, error) {
	if hour < 0 || hour >= HoursPerDay {
		return HourlyPrice{}, fmt.Errorf("%w: %d", ErrInvalidHour, hour)
	}
	return p.Hours[hour], nil
}

// TariffSchedule describes the day/night distribution tariff. It is supplied
// by settings and read-only to the price pipeline.
type TariffSchedule struct {
	LowTariffHours      map[int]bool `json:"lowTariffHours"`
	LowSurchargePerKWh  float64      `json:"lowSurchargePerKWh"`
	HighSurchargePerKWh float64      `json:"highSurchargePerKWh"`
}

// WindowCombination is a candidate contiguous block of hours and its average
// adjusted price.
type WindowCombination struct {
	StartHour int           `json:"startHour"`
	Length    int           `json:"length"`
	Average   float64       `json:"average"`
	Members   []HourlyPrice `json:"members"`
}
