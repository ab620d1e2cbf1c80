package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/pricehelm/pricehelm/pkg/log"
	"github.com/pricehelm/pricehelm/pkg/types"
)

// handleUpdate triggers a full refresh: fetch, adjust, classify, publish. With
// a deviceID it refreshes that device; without one it refreshes every paired
// device. External schedulers hit this hourly as a backstop for the in-process
// timers.
func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	deviceID := s.getDeviceID(r)

	if deviceID == "" {
		devices, err := s.storage.ListDevices(ctx)
		if err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to list devices", slog.Any("error", err))
			writeJSONError(w, "failed to list devices", http.StatusInternalServerError)
			return
		}
		for _, d := range devices {
			if _, err := s.manager.Engine(ctx, d.ID); err != nil {
				log.Ctx(ctx).WarnContext(ctx, "failed to build engine", slog.String("deviceID", d.ID), slog.Any("error", err))
			}
		}
		refreshed := s.manager.RefreshAll(ctx, "api-update")
		writeJSON(w, map[string]interface{}{
			"status":    "success",
			"devices":   len(devices),
			"refreshed": refreshed,
		})
		return
	}

	e, err := s.manager.Engine(ctx, deviceID)
	if err != nil {
		if errors.Is(err, types.ErrDeviceNotFound) {
			writeJSONError(w, "device not found", http.StatusNotFound)
			return
		}
		log.Ctx(ctx).ErrorContext(ctx, "failed to get engine", slog.Any("error", err))
		writeJSONError(w, "failed to get engine", http.StatusInternalServerError)
		return
	}

	if e.Settings().Pause {
		log.Ctx(ctx).InfoContext(ctx, "update: paused")
		// We return 200 OK so the scheduler doesn't think it failed
		writeJSON(w, map[string]interface{}{
			"status": "paused",
		})
		return
	}

	if err := e.Refresh(ctx, "api-update"); err != nil {
		if errors.Is(err, types.ErrLockContention) {
			// another refresh is mid-flight, this one aborts instead of queuing
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusConflict)
			writeJSON(w, map[string]interface{}{
				"status": "locked",
			})
			return
		}
		log.Ctx(ctx).ErrorContext(ctx, "refresh failed", slog.Any("error", err))
		writeJSONError(w, "refresh failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]interface{}{
		"status": "success",
		"prices": e.Current(),
	})
}
