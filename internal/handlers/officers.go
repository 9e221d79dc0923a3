package handlers

import (
	"log"
	"net/http"

	"binfleet-backend/internal/store"
	"binfleet-backend/pkg/utils"
)

// GetOfficers lists users who can be assigned a route
func GetOfficers(repo store.Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		officers, err := repo.Officers(r.Context())
		if err != nil {
			log.Printf("❌ [OFFICERS] Failed to load officers: %v", err)
			utils.RespondError(w, http.StatusInternalServerError, "Failed to load officers")
			return
		}
		utils.RespondJSON(w, http.StatusOK, officers)
	}
}
