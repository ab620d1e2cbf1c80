package types

import (
	"fmt"
)

// CurrentSettingsVersion is the current version of the settings struct.
// Increment this value when adding new fields that require default values.
const CurrentSettingsVersion = 3

// Settings represents the per-device configuration stored in the database.
// These are dynamic settings that can be changed without redeploying.
type Settings struct {
	// Pause refreshes
	Pause bool `json:"pause"`

	// Feed Provider
	FeedProvider string `json:"feedProvider"`
	// FeedArea is the bidding zone the feed should report prices for.
	FeedArea string `json:"feedArea"`

	// Tariff Settings
	// Hours of the day that fall under the low (night) distribution tariff.
	LowTariffHours []int `json:"lowTariffHours"`
	// Surcharge added to the raw price during low-tariff hours (in EUR/kWh).
	LowSurchargePerKWh float64 `json:"lowSurchargePerKWh"`
	// Surcharge added to the raw price during high-tariff hours (in EUR/kWh).
	HighSurchargePerKWh float64 `json:"highSurchargePerKWh"`

	// Tier Settings
	// How many hours of the day get the low tier.
	LowTierHours int `json:"lowTierHours"`
	// How many hours of the day get the high tier.
	HighTierHours int `json:"highTierHours"`

	// TrustFeedTiers accepts tier values supplied by the feed verbatim,
	// skipping the local count-based classification. When false (the default)
	// the LowTierHours/HighTierHours counts always take effect.
	TrustFeedTiers bool `json:"trustFeedTiers"`

	// Window Settings
	// Default length for best-window queries (in hours).
	DefaultWindowHours int `json:"defaultWindowHours"`
}

// Schedule builds the TariffSchedule the price pipeline reads.
func (s Settings) Schedule() TariffSchedule {
	hours := make(map[int]bool, len(s.LowTariffHours))
	for _, h := range s.LowTariffHours {
		hours[h] = true
	}
	return TariffSchedule{
		LowTariffHours:      hours,
		LowSurchargePerKWh:  s.LowSurchargePerKWh,
		HighSurchargePerKWh: s.HighSurchargePerKWh,
	}
}

// MigrateSettings migrates the settings to the current version.
// It returns the migrated settings, a boolean indicating if changes were made, and an error if migration failed.
func MigrateSettings(s Settings, currentVersion int) (Settings, bool, error) {
	if currentVersion >= CurrentSettingsVersion {
		return s, false, nil
	}

	migrated := false
	// Loop through versions to apply migrations sequentially
	for version := currentVersion + 1; version <= CurrentSettingsVersion; version++ {
		switch version {
		case 1:
			// version 1: initial
			if s.LowTierHours == 0 {
				s.LowTierHours = 8
				migrated = true
			}
			if s.HighTierHours == 0 {
				s.HighTierHours = 8
				migrated = true
			}
			if len(s.LowTariffHours) == 0 {
				// 23:00-07:00 night tariff
				s.LowTariffHours = []int{23, 0, 1, 2, 3, 4, 5, 6}
				migrated = true
			}
		case 2:
			// version 2: add default window length
			if s.DefaultWindowHours == 0 {
				s.DefaultWindowHours = 3
				migrated = true
			}
		case 3:
			// version 3: add feed provider
			if s.FeedProvider == "" {
				s.FeedProvider = "dayahead"
				migrated = true
			}
		default:
			return s, false, fmt.Errorf("unknown settings version: %d", version)
		}
	}

	return s, migrated, nil
}
