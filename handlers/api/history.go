package api

import (
	"net/http"
	"time"

	apperrors "github.com/nijaru/scriptparser/errors"
	"github.com/nijaru/scriptparser/middleware"
	"github.com/nijaru/scriptparser/utils"
	"github.com/nijaru/scriptparser/workflow"
)

const (
	defaultStatsWindow = 24 * time.Hour
	maxStatsWindow     = 90 * 24 * time.Hour
)

// handleHistoryStats handles GET /history/stats?window=24h
func (s *Server) handleHistoryStats(w http.ResponseWriter, r *http.Request) {
	const op = "Server.handleHistoryStats"
	started := time.Now()

	window := defaultStatsWindow
	if raw := r.URL.Query().Get("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 || d > maxStatsWindow {
			result, status := workflow.Fail(apperrors.ValidationFailed(op, err, "window must be a positive duration up to 2160h"), started)
			utils.WriteJSON(w, status, result)
			return
		}
		window = d
	}

	stats, err := s.history.Stats(r.Context(), time.Now().Add(-window))
	if err != nil {
		middleware.GetLogger(r.Context()).WithError(err).Error("Failed to load history stats")
		result, status := workflow.Fail(apperrors.E(apperrors.KindUnknown, op, err, "history query failed"), started)
		utils.WriteJSON(w, status, result)
		return
	}

	utils.WriteJSON(w, http.StatusOK, stats)
}
