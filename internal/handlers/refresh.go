package handlers

import (
	"log"
	"net/http"

	"binfleet-backend/internal/services"
	"binfleet-backend/pkg/utils"
)

// RefreshPredictions runs one refresh pass. Per-bin failures are part of the
// 200 response body; only a failed pass is an error.
func RefreshPredictions(refresher *services.Refresher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, err := refresher.Refresh(r.Context())
		if err != nil {
			log.Printf("❌ [REFRESH] Pass failed: %v", err)
			utils.RespondError(w, http.StatusInternalServerError, "Failed to refresh predictions")
			return
		}
		utils.RespondJSON(w, http.StatusOK, result)
	}
}
