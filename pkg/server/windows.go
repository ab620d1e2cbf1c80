package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/pricehelm/pricehelm/pkg/log"
	"github.com/pricehelm/pricehelm/pkg/types"
)

// handleWindows returns the best contiguous window of hours for the device:
// the cheapest by default, the most expensive with highest=true. An empty
// result (404) means no complete window exists, not an error.
func (s *Server) handleWindows(w http.ResponseWriter, r *http.Request) {
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

	length := e.Settings().DefaultWindowHours
	if v := r.URL.Query().Get("length"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeJSONError(w, "invalid length", http.StatusBadRequest)
			return
		}
		length = n
	}
	startFrom := 0
	if v := r.URL.Query().Get("from"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeJSONError(w, "invalid from", http.StatusBadRequest)
			return
		}
		startFrom = n
	}
	highest := r.URL.Query().Get("highest") == "true"

	best, ok, err := e.BestWindow(ctx, length, startFrom, highest)
	if err != nil {
		if errors.Is(err, types.ErrInvalidPriceData) {
			writeJSONError(w, "invalid window query", http.StatusBadRequest)
			return
		}
		log.Ctx(ctx).ErrorContext(ctx, "window query failed", slog.Any("error", err))
		writeJSONError(w, "window query failed", http.StatusInternalServerError)
		return
	}
	if !ok {
		writeJSONError(w, "no complete window available", http.StatusNotFound)
		return
	}
	writeJSON(w, best)
}
