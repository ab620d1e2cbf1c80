package server

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/pricehelm/pricehelm/pkg/log"
	"github.com/pricehelm/pricehelm/pkg/types"
)

// handlePrices returns the device's currently published price set.
func (s *Server) handlePrices(w http.ResponseWriter, r *http.Request) {
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
		writeJSONError(w, "failed to get engine", http.StatusInternalServerError)
		return
	}

	set := e.Current()
	if set == nil {
		writeJSONError(w, "no prices published yet", http.StatusNotFound)
		return
	}
	writeJSON(w, set)
}

// handleHistoryPrices returns the persisted price sets in a day range. The
// range defaults to the last 7 days and is capped at 31.
func (s *Server) handleHistoryPrices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	deviceID := s.getDeviceID(r)
	if deviceID == "" {
		writeJSONError(w, "deviceID required", http.StatusBadRequest)
		return
	}

	now := time.Now()
	start := truncateDay(now.Add(-7 * 24 * time.Hour))
	end := truncateDay(now).Add(24 * time.Hour)

	if v := r.URL.Query().Get("start"); v != "" {
		t, err := time.Parse(time.DateOnly, v)
		if err != nil {
			writeJSONError(w, "invalid start date", http.StatusBadRequest)
			return
		}
		start = t
	}
	if v := r.URL.Query().Get("end"); v != "" {
		t, err := time.Parse(time.DateOnly, v)
		if err != nil {
			writeJSONError(w, "invalid end date", http.StatusBadRequest)
			return
		}
		end = t
	}
	if !end.After(start) {
		writeJSONError(w, "end must be after start", http.StatusBadRequest)
		return
	}
	if end.Sub(start) > 31*24*time.Hour {
		writeJSONError(w, "range too large", http.StatusBadRequest)
		return
	}

	sets, err := s.storage.GetPriceSetHistory(ctx, deviceID, start, end)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get price history", slog.Any("error", err))
		writeJSONError(w, "failed to get price history", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]interface{}{
		"priceSets": sets,
	})
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
