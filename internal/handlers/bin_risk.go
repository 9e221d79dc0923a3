package handlers

import (
	"log"
	"net/http"
	"time"

	"binfleet-backend/internal/forecast"
	"binfleet-backend/internal/store"
	"binfleet-backend/pkg/utils"
)

// GetBinRisk returns a page of the bin risk view
// Query params:
//   - page: 1-based, clamped to the last page
//   - sort: fill (default), growth, days
//   - dir: desc (default), asc
//   - risk: All (default), High, Medium, Low
//   - timeframe: All (default), 3, 7
func GetBinRisk(repo store.Repository, pageSize int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q, err := forecast.ParseViewQuery(r.URL.Query(), pageSize)
		if err != nil {
			utils.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}

		now := time.Now()
		histories, err := forecast.LoadHistories(r.Context(), repo, now)
		if err != nil {
			log.Printf("❌ [BIN-RISK] Failed to load histories: %v", err)
			utils.RespondError(w, http.StatusInternalServerError, "Failed to load bin risk")
			return
		}

		utils.RespondJSON(w, http.StatusOK, forecast.BuildView(forecast.EvaluateAll(histories, now), q))
	}
}

// GetPriorityFeed returns the fresh, positive-growth bins handed to routing
func GetPriorityFeed(repo store.Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		now := time.Now()
		histories, err := forecast.LoadHistories(r.Context(), repo, now)
		if err != nil {
			log.Printf("❌ [PRIORITY-FEED] Failed to load histories: %v", err)
			utils.RespondError(w, http.StatusInternalServerError, "Failed to load priority feed")
			return
		}

		feed := forecast.Feed(histories, now)
		if feed == nil {
			feed = []forecast.PriorityEntry{}
		}
		utils.RespondJSON(w, http.StatusOK, feed)
	}
}
