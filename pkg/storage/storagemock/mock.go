package storagemock

import (
	"context"
	"time"

	"github.com/pricehelm/pricehelm/pkg/storage"
	"github.com/pricehelm/pricehelm/pkg/types"
	"github.com/stretchr/testify/mock"
)

type MockDatabase struct {
	mock.Mock
}

var _ storage.Database = (*MockDatabase)(nil)

func (m *MockDatabase) GetSettings(ctx context.Context, deviceID string) (types.Settings, int, error) {
	args := m.Called(ctx, deviceID)
	// return empty if not specified, or checks args
	if len(args) > 0 {
		return args.Get(0).(types.Settings), args.Int(1), args.Error(2)
	}
	return types.Settings{}, 0, nil
}

func (m *MockDatabase) SetSettings(ctx context.Context, deviceID string, settings types.Settings, version int) error {
	args := m.Called(ctx, deviceID, settings, version)
	return args.Error(0)
}

func (m *MockDatabase) PublishPriceSet(ctx context.Context, deviceID string, set types.PriceSet, version int) error {
	args := m.Called(ctx, deviceID, set, version)
	return args.Error(0)
}

func (m *MockDatabase) GetLatestPriceSet(ctx context.Context, deviceID string) (*types.PriceSet, error) {
	args := m.Called(ctx, deviceID)
	val := args.Get(0)
	if val == nil {
		return nil, args.Error(1)
	}
	return val.(*types.PriceSet), args.Error(1)
}

func (m *MockDatabase) GetPriceSetHistory(ctx context.Context, deviceID string, start, end time.Time) ([]types.PriceSet, error) {
	args := m.Called(ctx, deviceID, start, end)
	if len(args) > 0 {
		return args.Get(0).([]types.PriceSet), args.Error(1)
	}
	return nil, nil
}

func (m *MockDatabase) GetDevice(ctx context.Context, deviceID string) (types.Device, error) {
	args := m.Called(ctx, deviceID)
	if len(args) > 0 {
		return args.Get(0).(types.Device), args.Error(1)
	}
	return types.Device{}, nil
}

func (m *MockDatabase) ListDevices(ctx context.Context) ([]types.Device, error) {
	args := m.Called(ctx)
	if len(args) > 0 {
		return args.Get(0).([]types.Device), args.Error(1)
	}
	return nil, nil
}

func (m *MockDatabase) CreateDevice(ctx context.Context, device types.Device) error {
	args := m.Called(ctx, device)
	return args.Error(0)
}

func (m *MockDatabase) Close() error {
	args := m.Called()
	return args.Error(0)
}
