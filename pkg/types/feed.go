package types

// FeedProviderInfo provides metadata about a price feed provider.
type FeedProviderInfo struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Areas []FeedAreaInfo `json:"areas"`
}

// FeedAreaInfo describes a bidding zone a feed can report prices for.
type FeedAreaInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// RawDailyPrices is what a feed returns for one day: raw hourly prices in
// EUR/kWh, indexed by hour, plus optional feed-supplied tiers. A missing hour
// is NaN.
type RawDailyPrices struct {
	Area   string               `json:"area"`
	Prices [HoursPerDay]float64 `json:"prices"`
	// Tiers carries feed-supplied classifications when the feed provides them.
	// Empty otherwise. Only honored when Settings.TrustFeedTiers is set.
	Tiers [HoursPerDay]Tier `json:"tiers,omitempty"`
}
