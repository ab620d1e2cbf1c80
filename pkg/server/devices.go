package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/pricehelm/pricehelm/pkg/log"
	"github.com/pricehelm/pricehelm/pkg/types"
)

// handleListDevices returns every paired device.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	devices, err := s.storage.ListDevices(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to list devices", slog.Any("error", err))
		writeJSONError(w, "failed to list devices", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]interface{}{
		"devices": devices,
	})
}

// handleCreateDevice pairs a new device, writes its default settings, and
// starts its engine.
func (s *Server) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		// since we failed to read, don't return JSON error
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		writeJSONError(w, "name required", http.StatusBadRequest)
		return
	}

	device := types.Device{
		ID:       uuid.NewString(),
		Name:     req.Name,
		PairedAt: time.Now(),
	}
	if err := s.storage.CreateDevice(ctx, device); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to create device", slog.Any("error", err))
		writeJSONError(w, "failed to create device", http.StatusInternalServerError)
		return
	}

	settings, _, err := types.MigrateSettings(types.Settings{}, 0)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to build default settings", slog.Any("error", err))
		writeJSONError(w, "failed to create device", http.StatusInternalServerError)
		return
	}
	if err := s.storage.SetSettings(ctx, device.ID, settings, types.CurrentSettingsVersion); err != nil {
		// engine creation migrates and persists again, so just log
		log.Ctx(ctx).WarnContext(ctx, "failed to save default settings", slog.Any("error", err))
	}

	// build the engine now so its timers start without waiting for a query
	if _, err := s.manager.Engine(ctx, device.ID); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to build engine for new device", slog.Any("error", err))
	}

	log.Ctx(ctx).InfoContext(ctx, "device paired", slog.String("deviceID", device.ID), slog.String("name", device.Name))
	writeJSON(w, device)
}
