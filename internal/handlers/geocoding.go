package handlers

import (
	"log"
	"net/http"

	"binfleet-backend/internal/services"
	"binfleet-backend/internal/store"
	"binfleet-backend/pkg/utils"
)

// GeocodeMissingBins looks up coordinates for active bins that have none so
// they can enter the distance matrix on the next plan.
func GeocodeMissingBins(repo store.Repository, geocoder services.Geocoder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		results, err := services.GeocodeMissing(r.Context(), repo, geocoder)
		if err != nil {
			log.Printf("❌ [GEOCODE] %v", err)
			utils.RespondError(w, http.StatusInternalServerError, "Failed to geocode bins")
			return
		}

		succeeded := 0
		for _, res := range results {
			if res.GeocodeSuccess {
				succeeded++
			}
		}
		utils.RespondJSON(w, http.StatusOK, map[string]interface{}{
			"processed": len(results),
			"succeeded": succeeded,
			"results":   results,
		})
	}
}
