package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"

	"github.com/pricehelm/pricehelm/pkg/log"
	"github.com/pricehelm/pricehelm/pkg/types"
)

// handleGetSettings returns the device's settings, migrated to the current
// version.
func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	deviceID := s.getDeviceID(r)
	if deviceID == "" {
		writeJSONError(w, "deviceID required", http.StatusBadRequest)
		return
	}

	e, err := s.manager.Engine(ctx, deviceID)
	if err != nil {
		if errors.Is(err, types.ErrDeviceNotFound) {
			writeJSONError(w, "device not found", http.StatusNotFound)
			return
		}
		log.Ctx(ctx).ErrorContext(ctx, "failed to get engine", slog.Any("error", err))
		writeJSONError(w, "failed to get settings", http.StatusInternalServerError)
		return
	}
	writeJSON(w, e.Settings())
}

// handleUpdateSettings validates and persists new settings, then applies them
// to the running engine, which triggers a refresh so the published prices
// reflect them.
func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	deviceID := s.getDeviceID(r)
	if deviceID == "" {
		writeJSONError(w, "deviceID required", http.StatusBadRequest)
		return
	}

	var req struct {
		DeviceID string         `json:"deviceID"`
		Settings types.Settings `json:"settings"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		// since we failed to read, don't return JSON error
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	if err := validateSettings(req.Settings); err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	e, err := s.manager.Engine(ctx, deviceID)
	if err != nil {
		if errors.Is(err, types.ErrDeviceNotFound) {
			writeJSONError(w, "device not found", http.StatusNotFound)
			return
		}
		log.Ctx(ctx).ErrorContext(ctx, "failed to get engine", slog.Any("error", err))
		writeJSONError(w, "failed to update settings", http.StatusInternalServerError)
		return
	}

	if err := s.storage.SetSettings(ctx, deviceID, req.Settings, types.CurrentSettingsVersion); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to save settings", slog.Any("error", err))
		writeJSONError(w, "failed to save settings", http.StatusInternalServerError)
		return
	}

	status := "success"
	if err := e.ApplySettings(ctx, req.Settings); err != nil {
		// settings are saved either way, the refresh just didn't happen yet
		log.Ctx(ctx).WarnContext(ctx, "post-settings refresh failed", slog.Any("error", err))
		status = "saved, refresh pending"
	}

	writeJSON(w, map[string]interface{}{
		"status":   status,
		"settings": e.Settings(),
	})
}

func validateSettings(settings types.Settings) error {
	if settings.LowTierHours < 0 || settings.LowTierHours > types.HoursPerDay {
		return fmt.Errorf("lowTierHours must be 0-%d", types.HoursPerDay)
	}
	if settings.HighTierHours < 0 || settings.HighTierHours > types.HoursPerDay {
		return fmt.Errorf("highTierHours must be 0-%d", types.HoursPerDay)
	}
	seen := make(map[int]bool, len(settings.LowTariffHours))
	for _, h := range settings.LowTariffHours {
		if h < 0 || h >= types.HoursPerDay {
			return fmt.Errorf("lowTariffHours entry %d out of range", h)
		}
		if seen[h] {
			return fmt.Errorf("lowTariffHours entry %d duplicated", h)
		}
		seen[h] = true
	}
	if math.IsNaN(settings.LowSurchargePerKWh) || math.IsInf(settings.LowSurchargePerKWh, 0) {
		return errors.New("lowSurchargePerKWh must be finite")
	}
	if math.IsNaN(settings.HighSurchargePerKWh) || math.IsInf(settings.HighSurchargePerKWh, 0) {
		return errors.New("highSurchargePerKWh must be finite")
	}
	if settings.DefaultWindowHours < 1 || settings.DefaultWindowHours > types.HoursPerDay {
		return fmt.Errorf("defaultWindowHours must be 1-%d", types.HoursPerDay)
	}
	if settings.FeedProvider == "" {
		return errors.New("feedProvider required")
	}
	return nil
}
