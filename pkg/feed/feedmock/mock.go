package feedmock

import (
	"context"
	"time"

	"github.com/pricehelm/pricehelm/pkg/feed"
	"github.com/pricehelm/pricehelm/pkg/types"
	"github.com/stretchr/testify/mock"
)

type MockProvider struct {
	mock.Mock
}

var _ feed.Provider = (*MockProvider)(nil)

func (m *MockProvider) GetDailyPrices(ctx context.Context, day time.Time) (types.RawDailyPrices, error) {
	args := m.Called(ctx, day)
	if len(args) > 0 {
		return args.Get(0).(types.RawDailyPrices), args.Error(1)
	}
	return types.RawDailyPrices{}, nil
}

func (m *MockProvider) ApplySettings(ctx context.Context, settings types.Settings) error {
	args := m.Called(ctx, settings)
	return args.Error(0)
}

func (m *MockProvider) Info() types.FeedProviderInfo {
	args := m.Called()
	if len(args) > 0 {
		return args.Get(0).(types.FeedProviderInfo)
	}
	return types.FeedProviderInfo{}
}
