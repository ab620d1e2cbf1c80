// Package windows enumerates contiguous hour windows over a daily price set
// and their average adjusted prices. It only enumerates; picking the winner
// (cheapest or most expensive) is the caller's sort+pick, so the winner
// policy stays with the caller.
package windows

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/pricehelm/pricehelm/pkg/cache"
	"github.com/pricehelm/pricehelm/pkg/log"
	"github.com/pricehelm/pricehelm/pkg/types"
)

// CacheTTL is how long window results stay valid. The cache key also embeds
// the wall-clock hour, so results are implicitly invalidated whenever the
// hour advances, independent of the TTL.
const CacheTTL = 15 * time.Minute

// Averager computes hour-window averages over a price set.
type Averager struct {
	cache *cache.Cache[[]types.WindowCombination]
	now   func() time.Time
}

// New creates an Averager with an empty cache.
func New() *Averager {
	return &Averager{
		cache: cache.New[[]types.WindowCombination](CacheTTL),
		now:   time.Now,
	}
}

// Cache exposes the window cache so its sweep loop can be run.
func (a *Averager) Cache() *cache.Cache[[]types.WindowCombination] { return a.cache }

// Invalidate drops all cached window results. Called after a new price set
// is published so queries never see windows computed from the superseded set.
func (a *Averager) Invalidate() {
	a.cache.Clear()
}

// Combinations returns every valid window of the given length whose start
// lies in [startFrom, 24-length]. Windows never wrap past midnight. A window
// with any missing price is skipped, never returned partially.
func (a *Averager) Combinations(ctx context.Context, set *types.PriceSet, length, startFrom int) ([]types.WindowCombination, error) {
	if set == nil {
		return nil, fmt.Errorf("%w: no price set", types.ErrInvalidPriceData)
	}
	if length < 1 || length > types.HoursPerDay {
		return nil, fmt.Errorf("%w: window length %d", types.ErrInvalidPriceData, length)
	}
	if startFrom < 0 {
		startFrom = 0
	}

	key := strconv.Itoa(length) + ":" + strconv.Itoa(startFrom) + ":" + strconv.Itoa(a.now().Hour())
	if cached, ok := a.cache.Get(key); ok {
		log.Ctx(ctx).DebugContext(ctx, "window cache hit", slog.String("key", key))
		out := make([]types.WindowCombination, len(cached))
		copy(out, cached)
		return out, nil
	}

	var combos []types.WindowCombination
	for start := startFrom; start <= types.HoursPerDay-length; start++ {
		members := make([]types.HourlyPrice, 0, length)
		sum := 0.0
		complete := true
		for h := start; h < start+length; h++ {
			p := set.Hours[h]
			if !p.HasPrice() {
				complete = false
				break
			}
			members = append(members, p)
			sum += p.AdjustedPrice
		}
		if !complete {
			continue
		}
		combos = append(combos, types.WindowCombination{
			StartHour: start,
			Length:    length,
			Average:   sum / float64(length),
			Members:   members,
		})
	}

	a.cache.Put(key, combos)
	log.Ctx(ctx).DebugContext(
		ctx,
		"computed window combinations",
		slog.Int("length", length),
		slog.Int("startFrom", startFrom),
		slog.Int("count", len(combos)),
	)

	out := make([]types.WindowCombination, len(combos))
	copy(out, combos)
	return out, nil
}

// SortByAverage stable-sorts combinations by average price, ascending or
// descending. Stability means equal averages keep their enumeration order,
// so the earliest start wins ties under either comparator.
func SortByAverage(combos []types.WindowCombination, ascending bool) {
	sort.SliceStable(combos, func(i, j int) bool {
		if ascending {
			return combos[i].Average < combos[j].Average
		}
		return combos[i].Average > combos[j].Average
	})
}

// Best returns the winning combination under the caller's policy: the lowest
// average when highest is false, the highest otherwise. The second return is
// false when there are no valid windows, which callers must treat as "no
// actionable recommendation".
func Best(combos []types.WindowCombination, highest bool) (types.WindowCombination, bool) {
	if len(combos) == 0 {
		return types.WindowCombination{}, false
	}
	sorted := make([]types.WindowCombination, len(combos))
	copy(sorted, combos)
	SortByAverage(sorted, !highest)
	return sorted[0], true
}
