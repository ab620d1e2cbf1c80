package storage

import (
	"context"
	"time"

	"github.com/pricehelm/pricehelm/pkg/types"
)

// Database defines the interface for persisting data and retrieving settings.
type Database interface {
	// Settings
	GetSettings(ctx context.Context, deviceID string) (types.Settings, int, error)
	SetSettings(ctx context.Context, deviceID string, settings types.Settings, version int) error

	// Price Sets
	// PublishPriceSet stores a complete classified day of prices.
	PublishPriceSet(ctx context.Context, deviceID string, set types.PriceSet, version int) error
	GetLatestPriceSet(ctx context.Context, deviceID string) (*types.PriceSet, error)
	GetPriceSetHistory(ctx context.Context, deviceID string, start, end time.Time) ([]types.PriceSet, error)

	// Devices
	GetDevice(ctx context.Context, deviceID string) (types.Device, error)
	ListDevices(ctx context.Context) ([]types.Device, error)
	CreateDevice(ctx context.Context, device types.Device) error

	// Lifecycle
	Close() error
}
