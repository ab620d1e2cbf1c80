// Package classify assigns low/medium/high tiers to a day of hourly prices.
// Tiers follow price, not position: the cheapest lowCount hours are low, the
// most expensive highCount hours are high, the remainder medium.
package classify

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pricehelm/pricehelm/pkg/cache"
	"github.com/pricehelm/pricehelm/pkg/log"
	"github.com/pricehelm/pricehelm/pkg/types"
)

// CacheTTL is how long a classification result stays valid.
const CacheTTL = time.Hour

// Classifier classifies price sets, caching results so repeated calls with
// the same inputs within the TTL don't re-sort.
type Classifier struct {
	cache      *cache.Cache[[]types.HourlyPrice]
	recomputes atomic.Int64
}

// New creates a Classifier with an empty cache.
func New() *Classifier {
	return &Classifier{
		cache: cache.New[[]types.HourlyPrice](CacheTTL),
	}
}

// Cache exposes the classification cache so its sweep loop can be run.
func (c *Classifier) Cache() *cache.Cache[[]types.HourlyPrice] { return c.cache }

// Recomputes returns how many times Classify actually ran the algorithm
// rather than serving a cached result.
func (c *Classifier) Recomputes() int64 { return c.recomputes.Load() }

// Classify returns the 24 entries with tiers assigned, ordered by hour.
// Entries are stable-sorted by ascending price with ties broken by hour
// number, so tiering is deterministic across equal prices and invariant
// under permutation of the input order. When trustGivenTiers is set and
// every entry already carries a tier, the given tiers pass through
// unchanged.
//
// The input must contain exactly 24 entries covering hours 0..23 with finite
// prices; otherwise ErrInvalidPriceData is returned and the output must not
// be used. Callers that want the degrade-to-unknown fallback instead wrap
// with WithUnknownTiers.
func (c *Classifier) Classify(ctx context.Context, prices []types.HourlyPrice, lowCount, highCount int, trustGivenTiers bool) ([]types.HourlyPrice, error) {
	if err := validate(prices); err != nil {
		return nil, err
	}
	if lowCount < 0 || highCount < 0 {
		return nil, fmt.Errorf("%w: negative tier count", types.ErrInvalidPriceData)
	}

	key := cacheKey(prices, lowCount, highCount, trustGivenTiers)
	if cached, ok := c.cache.Get(key); ok {
		log.Ctx(ctx).DebugContext(ctx, "classification cache hit", slog.String("key", key))
		out := make([]types.HourlyPrice, len(cached))
		copy(out, cached)
		return out, nil
	}

	c.recomputes.Add(1)

	if trustGivenTiers && allTiered(prices) {
		// the feed already classified every hour, pass it through
		out := byHour(prices)
		c.cache.Put(key, out)
		result := make([]types.HourlyPrice, len(out))
		copy(result, out)
		return result, nil
	}

	sorted := byHour(prices)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].AdjustedPrice < sorted[j].AdjustedPrice
	})

	tiers := make(map[int]types.Tier, types.HoursPerDay)
	for _, p := range sorted {
		tiers[p.Hour] = types.TierMedium
	}
	for i := 0; i < lowCount && i < len(sorted); i++ {
		tiers[sorted[i].Hour] = types.TierLow
	}
	// tail assignment runs last so on a defensive lowCount+highCount overflow
	// the overlapping hours end up high
	for i := len(sorted) - highCount; i < len(sorted); i++ {
		if i < 0 {
			continue
		}
		tiers[sorted[i].Hour] = types.TierHigh
	}

	out := byHour(prices)
	for i := range out {
		out[i].Tier = tiers[out[i].Hour]
	}

	c.cache.Put(key, out)
	log.Ctx(ctx).DebugContext(
		ctx,
		"classified price set",
		slog.Int("lowCount", lowCount),
		slog.Int("highCount", highCount),
	)

	result := make([]types.HourlyPrice, len(out))
	copy(result, out)
	return result, nil
}

// WithUnknownTiers returns the input re-tagged with TierUnknown for every
// hour, ordered by hour. It is the safe fallback when classification fails:
// downstream consumers always receive a complete 24-entry structure.
func WithUnknownTiers(prices []types.HourlyPrice) []types.HourlyPrice {
	out := byHour(prices)
	for i := range out {
		out[i].Tier = types.TierUnknown
	}
	return out
}

func validate(prices []types.HourlyPrice) error {
	if len(prices) != types.HoursPerDay {
		return fmt.Errorf("%w: got %d entries, want %d", types.ErrInvalidPriceData, len(prices), types.HoursPerDay)
	}
	var seen [types.HoursPerDay]bool
	for _, p := range prices {
		if p.Hour < 0 || p.Hour >= types.HoursPerDay {
			return fmt.Errorf("%w: hour %d out of range", types.ErrInvalidPriceData, p.Hour)
		}
		if seen[p.Hour] {
			return fmt.Errorf("%w: duplicate hour %d", types.ErrInvalidPriceData, p.Hour)
		}
		seen[p.Hour] = true
		if math.IsNaN(p.AdjustedPrice) || math.IsInf(p.AdjustedPrice, 0) {
			return fmt.Errorf("%w: hour %d has no usable price", types.ErrInvalidPriceData, p.Hour)
		}
	}
	return nil
}

func allTiered(prices []types.HourlyPrice) bool {
	for _, p := range prices {
		if p.Tier == "" || p.Tier == types.TierUnknown {
			return false
		}
	}
	return true
}

// byHour returns a copy of prices ordered by hour number.
func byHour(prices []types.HourlyPrice) []types.HourlyPrice {
	out := make([]types.HourlyPrice, len(prices))
	copy(out, prices)
	sort.Slice(out, func(i, j int) bool {
		return out[i].Hour < out[j].Hour
	})
	return out
}

func cacheKey(prices []types.HourlyPrice, lowCount, highCount int, trustGivenTiers bool) string {
	var b strings.Builder
	b.WriteString(strconv.Itoa(lowCount))
	b.WriteByte(':')
	b.WriteString(strconv.Itoa(highCount))
	b.WriteByte(':')
	b.WriteString(strconv.FormatBool(trustGivenTiers))
	// the cached value carries the whole entry, so the key has to cover every
	// field a caller could vary, not just the price the sort runs on
	for _, p := range byHour(prices) {
		b.WriteByte('|')
		b.WriteString(strconv.FormatFloat(p.RawPrice, 'g', -1, 64))
		b.WriteByte(',')
		b.WriteString(strconv.FormatFloat(p.AdjustedPrice, 'g', -1, 64))
		b.WriteByte(',')
		b.WriteString(strconv.FormatBool(p.LowTariff))
		if trustGivenTiers {
			b.WriteByte('/')
			b.WriteString(string(p.Tier))
		}
	}
	return b.String()
}
