package feed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pricehelm/pricehelm/pkg/types"
)

// Provider defines the interface for an upstream spot-price feed.
type Provider interface {
	// GetDailyPrices returns the raw hourly prices for the given day, in
	// EUR/kWh. Hours the feed has not published yet are NaN.
	GetDailyPrices(ctx context.Context, day time.Time) (types.RawDailyPrices, error)

	// ApplySettings updates the provider using the given device settings.
	ApplySettings(ctx context.Context, settings types.Settings) error

	// Info returns metadata describing the provider.
	Info() types.FeedProviderInfo
}

// Configured sets up the feed providers and returns a Map.
func Configured() *Map {
	m := NewMap()
	m.baseDayAhead = configuredDayAhead()
	return m
}

// Map manages feed providers.
type Map struct {
	mu           sync.Mutex
	baseDayAhead *DayAhead
	feeds        map[string]Provider
}

// NewMap creates a new feed Map.
func NewMap() *Map {
	return &Map{
		feeds: make(map[string]Provider),
	}
}

// Device returns the feed provider for the given device based on settings.
func (m *Map) Device(ctx context.Context, deviceID string, settings types.Settings) (Provider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := settings.FeedProvider + "/" + deviceID
	if p, ok := m.feeds[key]; ok {
		if err := p.ApplySettings(ctx, settings); err != nil {
			return nil, err
		}
		return p, nil
	}

	switch settings.FeedProvider {
	case "dayahead":
		if m.baseDayAhead == nil {
			return nil, fmt.Errorf("dayahead provider not configured")
		}
		p := &deviceDayAhead{
			base: m.baseDayAhead,
			area: settings.FeedArea,
		}
		if err := p.ApplySettings(ctx, settings); err != nil {
			return nil, err
		}
		m.feeds[key] = p
		return p, nil
	default:
		return nil, fmt.Errorf("unknown feed provider: %s", settings.FeedProvider)
	}
}

// SetProvider sets a mock provider for testing.
func (m *Map) SetProvider(name, deviceID string, provider Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.feeds[name+"/"+deviceID] = provider
}

// List returns metadata for the configured providers.
func (m *Map) List() []types.FeedProviderInfo {
	var infos []types.FeedProviderInfo
	if m.baseDayAhead != nil {
		infos = append(infos, m.baseDayAhead.Info())
	}
	return infos
}
