package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/pricehelm/pricehelm/pkg/common"
	"github.com/pricehelm/pricehelm/pkg/log"
	"github.com/pricehelm/pricehelm/pkg/tariff"
	"github.com/pricehelm/pricehelm/pkg/types"
)

// DayAhead fetches day-ahead auction prices from an hourly pricing API.
// Responses are cached briefly because the auction results only change once
// a day but several devices may refresh around the same tick.
type DayAhead struct {
	apiURL string
	client *http.Client

	mu         sync.Mutex
	lastFetch  map[string]time.Time
	cachedDays map[string]types.RawDailyPrices
}

// configuredDayAhead sets up flags for the day-ahead feed and returns the instance.
func configuredDayAhead() *DayAhead {
	d := &DayAhead{
		client:     common.HTTPClient(10 * time.Second),
		lastFetch:  make(map[string]time.Time),
		cachedDays: make(map[string]types.RawDailyPrices),
	}
	apiURL := lflag.String("dayahead-api-url", "https://api.energy-charts.info/price", "URL for the day-ahead price API")

	lflag.Do(func() {
		d.apiURL = *apiURL
	})

	return d
}

// Validate ensures the configuration is valid.
func (d *DayAhead) Validate() error {
	if d.apiURL == "" {
		return fmt.Errorf("dayahead-api-url is required")
	}
	if _, err := url.Parse(d.apiURL); err != nil {
		return fmt.Errorf("failed to parse dayahead url (%s): %w", d.apiURL, err)
	}
	return nil
}

// Info returns metadata describing the provider.
func (d *DayAhead) Info() types.FeedProviderInfo {
	return types.FeedProviderInfo{
		ID:   "dayahead",
		Name: "Day-Ahead Auction",
		Areas: []types.FeedAreaInfo{
			{ID: "NL", Name: "Netherlands"},
			{ID: "BE", Name: "Belgium"},
			{ID: "DE-LU", Name: "Germany-Luxembourg"},
		},
	}
}

// dayAheadEntry represents a single row of the JSON returned by the API.
type dayAheadEntry struct {
	HourUTC        string  `json:"hourUTC"`
	PriceEURPerMWh float64 `json:"priceEURPerMWh"`
	Level          string  `json:"level,omitempty"`
}

// fetchDay retrieves the full day of prices for an area, caching per
// (area, day) for 5 minutes.
func (d *DayAhead) fetchDay(ctx context.Context, area string, day time.Time) (types.RawDailyPrices, error) {
	day = truncateDay(day)
	key := area + "/" + day.Format("2006-01-02")
	now := time.Now()

	d.mu.Lock()
	if last, ok := d.lastFetch[key]; ok && now.Sub(last) < 5*time.Minute {
		cached := d.cachedDays[key]
		d.mu.Unlock()
		return cached, nil
	}
	d.mu.Unlock()

	u, err := url.Parse(d.apiURL)
	if err != nil {
		return types.RawDailyPrices{}, fmt.Errorf("invalid api url: %w", err)
	}
	params := url.Values{}
	params.Set("area", area)
	params.Set("date", day.Format("2006-01-02"))
	params.Set("format", "json")
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, "GET", u.String(), nil)
	if err != nil {
		return types.RawDailyPrices{}, fmt.Errorf("failed to create request: %w", err)
	}
	log.Ctx(ctx).DebugContext(ctx, "fetching day-ahead prices", "url", u.String())

	resp, err := d.client.Do(req)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to fetch day-ahead prices", "error", err)
		return types.RawDailyPrices{}, fmt.Errorf("failed to fetch prices: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return types.RawDailyPrices{}, fmt.Errorf("day-ahead api returned status: %d", resp.StatusCode)
	}

	var data []dayAheadEntry
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to decode day-ahead response", slog.Any("error", err))
		return types.RawDailyPrices{}, fmt.Errorf("failed to decode response: %w", err)
	}

	raw := types.RawDailyPrices{Area: area}
	for i := range raw.Prices {
		raw.Prices[i] = math.NaN()
	}

	for _, item := range data {
		ts, err := time.Parse(time.RFC3339, item.HourUTC)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to parse day-ahead hour", slog.String("value", item.HourUTC), slog.Any("error", err))
			continue
		}
		ts = ts.In(day.Location())
		if !truncateDay(ts).Equal(day) {
			continue
		}
		hour := ts.Hour()

		// the auction publishes EUR/MWh
		perKWh, err := tariff.Convert(item.PriceEURPerMWh, true)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "skipping non-finite day-ahead price", slog.Int("hour", hour), slog.Any("error", err))
			continue
		}
		raw.Prices[hour] = perKWh
		raw.Tiers[hour] = levelToTier(item.Level)
	}

	d.mu.Lock()
	d.lastFetch[key] = now
	d.cachedDays[key] = raw
	d.mu.Unlock()

	log.Ctx(ctx).DebugContext(
		ctx,
		"fetched day-ahead prices",
		slog.String("area", area),
		slog.Time("day", day),
		slog.Int("rows", len(data)),
	)
	return raw, nil
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func levelToTier(level string) types.Tier {
	switch level {
	case "low":
		return types.TierLow
	case "medium":
		return types.TierMedium
	case "high":
		return types.TierHigh
	default:
		return ""
	}
}

// deviceDayAhead binds the shared DayAhead client to one device's area.
type deviceDayAhead struct {
	base *DayAhead
	area string
}

var _ Provider = (*deviceDayAhead)(nil)

func (p *deviceDayAhead) GetDailyPrices(ctx context.Context, day time.Time) (types.RawDailyPrices, error) {
	if p.area == "" {
		return types.RawDailyPrices{}, fmt.Errorf("no feed area configured")
	}
	return p.base.fetchDay(ctx, p.area, day)
}

func (p *deviceDayAhead) ApplySettings(_ context.Context, settings types.Settings) error {
	p.area = settings.FeedArea
	return nil
}

func (p *deviceDayAhead) Info() types.FeedProviderInfo {
	return p.base.Info()
}
