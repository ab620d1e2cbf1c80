package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/levenlabs/go-lflag"
	"github.com/pricehelm/pricehelm/pkg/log"
	"github.com/pricehelm/pricehelm/pkg/types"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreProvider implements the Database interface using Google Cloud
// Firestore. It persists settings and published price sets per device.
type FirestoreProvider struct {
	client    *firestore.Client
	projectID string
	database  string
}

// configuredFirestore sets up the Firestore provider.
// It registers flags for configuration.
func configuredFirestore() *FirestoreProvider {
	projectID := lflag.String("firestore-project-id", "", "Google Cloud Project ID for Firestore")
	database := lflag.String("firestore-database", "", "Google Cloud Firestore Database")
	emulator := lflag.String("firestore-emulator", "", "Use Firestore emulator")

	f := &FirestoreProvider{}

	lflag.Do(func() {
		f.projectID = *projectID
		f.database = *database

		// set this because that's how firestore client expects it
		if *emulator != "" {
			os.Setenv("FIRESTORE_EMULATOR_HOST", *emulator)
		}
	})

	return f
}

// Validate checks if the provider is properly configured.
func (f *FirestoreProvider) Validate() error {
	// Project ID verification could be here, but we allow empty if inferred.
	return nil
}

// Init initializes the Firestore client.
// This must be called before using the provider methods.
func (f *FirestoreProvider) Init(ctx context.Context) error {
	projectID := f.projectID
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}
	database := f.database
	if database == "" {
		database = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, database)
	if err != nil {
		return fmt.Errorf("failed to create firestore client (project=%s, database=%s): %w", projectID, database, err)
	}
	f.client = client
	return nil
}

// Close closes the Firestore client connection.
func (f *FirestoreProvider) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

func (f *FirestoreProvider) getCollection(deviceID, name string) (*firestore.CollectionRef, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("deviceID cannot be empty")
	}
	return f.client.Collection("devices").Doc(deviceID).Collection(name), nil
}

// GetSettings retrieves the device configuration from the "config/settings" document.
func (f *FirestoreProvider) GetSettings(ctx context.Context, deviceID string) (types.Settings, int, error) {
	coll, err := f.getCollection(deviceID, "config")
	if err != nil {
		return types.Settings{}, 0, err
	}
	doc, err := coll.Doc("settings").Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			// Return default settings if not found
			return types.Settings{}, 0, nil
		}
		return types.Settings{}, 0, fmt.Errorf("failed to fetch settings doc: %w", err)
	}

	// Read version if available (default 0)
	var version int
	if v, err := doc.DataAt("version"); err == nil {
		if vInt, ok := v.(int64); ok {
			version = int(vInt)
		}
	}

	val, err := doc.DataAt("json")
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "settings doc missing json", slog.String("deviceID", deviceID))
		return types.Settings{}, 0, fmt.Errorf("settings document missing 'json' field: %w", err)
	}

	jsonStr, ok := val.(string)
	if !ok {
		log.Ctx(ctx).WarnContext(ctx, "settings doc json not string", slog.String("deviceID", deviceID))
		return types.Settings{}, 0, fmt.Errorf("settings 'json' field is not a string")
	}

	var s types.Settings
	if err := json.Unmarshal([]byte(jsonStr), &s); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal settings json", slog.String("deviceID", deviceID), slog.Any("err", err))
		return types.Settings{}, 0, fmt.Errorf("failed to unmarshal settings json: %w", err)
	}
	return s, version, nil
}

// SetSettings saves the device configuration to the "config/settings" document.
// It stores the settings as a JSON string for portability.
func (f *FirestoreProvider) SetSettings(ctx context.Context, deviceID string, settings types.Settings, version int) error {
	jsonBytes, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	coll, err := f.getCollection(deviceID, "config")
	if err != nil {
		return err
	}
	_, err = coll.Doc("settings").Set(ctx, map[string]interface{}{
		"json":    string(jsonBytes),
		"version": version,
	})
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

// PublishPriceSet stores a classified price set in the "price_sets" collection.
// The document ID is the RFC3339 day for efficient range queries; publishing
// the same day twice supersedes the stored set.
func (f *FirestoreProvider) PublishPriceSet(ctx context.Context, deviceID string, set types.PriceSet, version int) error {
	if set.Day.IsZero() {
		return fmt.Errorf("price set missing day")
	}
	jsonBytes, err := json.Marshal(set)
	if err != nil {
		return fmt.Errorf("failed to marshal price set: %w", err)
	}

	coll, err := f.getCollection(deviceID, "price_sets")
	if err != nil {
		return err
	}
	docID := set.Day.UTC().Format(time.RFC3339)
	_, err = coll.Doc(docID).Set(ctx, map[string]interface{}{
		"json":      string(jsonBytes),
		"timestamp": set.Day,
		"version":   version,
	})
	if err != nil {
		return fmt.Errorf("failed to publish price set: %w", err)
	}
	return nil
}

// GetLatestPriceSet retrieves the most recently published price set, or nil
// when the device has none.
func (f *FirestoreProvider) GetLatestPriceSet(ctx context.Context, deviceID string) (*types.PriceSet, error) {
	coll, err := f.getCollection(deviceID, "price_sets")
	if err != nil {
		return nil, err
	}
	iter := coll.
		OrderBy("timestamp", firestore.Desc).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	doc, err := iter.Next()
	if err == iterator.Done {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest price set doc: %w", err)
	}

	set, err := decodePriceSet(ctx, doc, deviceID)
	if err != nil {
		return nil, err
	}
	return set, nil
}

// GetPriceSetHistory retrieves price sets whose day falls within the range.
// Uses document ID range queries for efficient filtering without reading all
// documents.
func (f *FirestoreProvider) GetPriceSetHistory(ctx context.Context, deviceID string, start, end time.Time) ([]types.PriceSet, error) {
	startDocID := start.UTC().Format(time.RFC3339)
	endDocID := end.UTC().Format(time.RFC3339)

	coll, err := f.getCollection(deviceID, "price_sets")
	if err != nil {
		return nil, err
	}
	iter := coll.
		Where(firestore.DocumentID, ">=", coll.Doc(startDocID)).
		Where(firestore.DocumentID, "<", coll.Doc(endDocID)).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	var sets []types.PriceSet
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating price sets: %w", err)
		}

		set, err := decodePriceSet(ctx, doc, deviceID)
		if err != nil {
			return nil, err
		}
		sets = append(sets, *set)
	}
	return sets, nil
}

func decodePriceSet(ctx context.Context, doc *firestore.DocumentSnapshot, deviceID string) (*types.PriceSet, error) {
	val, err := doc.DataAt("json")
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "price set doc missing json", slog.String("docID", doc.Ref.ID), slog.String("deviceID", deviceID), slog.Any("err", err))
		return nil, fmt.Errorf("price set document %s missing 'json' field: %w", doc.Ref.ID, err)
	}

	jsonStr, ok := val.(string)
	if !ok {
		log.Ctx(ctx).WarnContext(ctx, "price set doc json not string", slog.String("docID", doc.Ref.ID), slog.String("deviceID", deviceID))
		return nil, fmt.Errorf("price set document %s 'json' field is not string", doc.Ref.ID)
	}

	var set types.PriceSet
	if err := json.Unmarshal([]byte(jsonStr), &set); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal price set", slog.String("docID", doc.Ref.ID), slog.String("deviceID", deviceID), slog.Any("err", err))
		return nil, fmt.Errorf("failed to unmarshal price set (id=%s): %w", doc.Ref.ID, err)
	}
	return &set, nil
}

// GetDevice retrieves a device from the "devices" collection.
func (f *FirestoreProvider) GetDevice(ctx context.Context, deviceID string) (types.Device, error) {
	doc, err := f.client.Collection("devices").Doc(deviceID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return types.Device{}, fmt.Errorf("%w: %s", types.ErrDeviceNotFound, deviceID)
		}
		return types.Device{}, fmt.Errorf("failed to get device %s: %w", deviceID, err)
	}

	val, err := doc.DataAt("json")
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "device doc missing json", slog.String("deviceID", deviceID))
		return types.Device{}, fmt.Errorf("device %s missing json: %w", deviceID, err)
	}
	jsonStr, ok := val.(string)
	if !ok {
		log.Ctx(ctx).WarnContext(ctx, "device doc json not string", slog.String("deviceID", deviceID))
		return types.Device{}, fmt.Errorf("device %s json not string", deviceID)
	}

	var device types.Device
	if err := json.Unmarshal([]byte(jsonStr), &device); err != nil {
		return types.Device{}, fmt.Errorf("failed to unmarshal device %s: %w", deviceID, err)
	}
	return device, nil
}

// ListDevices retrieves all devices from the "devices" collection.
func (f *FirestoreProvider) ListDevices(ctx context.Context) ([]types.Device, error) {
	iter := f.client.Collection("devices").Documents(ctx)
	defer iter.Stop()

	var devices []types.Device
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating devices: %w", err)
		}

		val, err := doc.DataAt("json")
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "device doc missing json", slog.String("deviceID", doc.Ref.ID))
			// Skip malformed documents
			continue
		}
		jsonStr, ok := val.(string)
		if !ok {
			log.Ctx(ctx).WarnContext(ctx, "device doc json not string", slog.String("deviceID", doc.Ref.ID))
			continue
		}

		var device types.Device
		if err := json.Unmarshal([]byte(jsonStr), &device); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal device", slog.String("deviceID", doc.Ref.ID), slog.Any("err", err))
			// Skip malformed JSON
			continue
		}
		devices = append(devices, device)
	}
	return devices, nil
}

// CreateDevice creates a new device document in the "devices" collection.
func (f *FirestoreProvider) CreateDevice(ctx context.Context, device types.Device) error {
	deviceJSON, err := json.Marshal(device)
	if err != nil {
		return fmt.Errorf("failed to marshal device %s: %w", device.ID, err)
	}
	_, err = f.client.Collection("devices").Doc(device.ID).Create(ctx, map[string]interface{}{
		"json": string(deviceJSON),
	})
	if err != nil {
		return fmt.Errorf("failed to create device %s: %w", device.ID, err)
	}
	return nil
}
