package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"binfleet-backend/internal/middleware"
	"binfleet-backend/internal/models"
	"binfleet-backend/internal/store"
	"binfleet-backend/pkg/utils"
)

type RecordCollectionRequest struct {
	FillPercentage *int   `json:"fill_percentage"`
	CollectedAt    *int64 `json:"collected_at,omitempty"` // Unix timestamp, defaults to now
}

// RecordCollection appends a collection event for bin {id}. The bin's
// prediction becomes stale until the next refresh pass.
func RecordCollection(repo store.Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		binID := chi.URLParam(r, "id")

		var req RecordCollectionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		if req.FillPercentage == nil || *req.FillPercentage < 0 || *req.FillPercentage > 100 {
			utils.RespondError(w, http.StatusBadRequest, "fill_percentage must be between 0 and 100")
			return
		}

		event := models.CollectionEvent{
			BinID:          binID,
			CollectedAt:    time.Now().Unix(),
			FillPercentage: *req.FillPercentage,
		}
		if req.CollectedAt != nil {
			event.CollectedAt = *req.CollectedAt
		}

		if err := repo.RecordCollection(r.Context(), &event); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				utils.RespondError(w, http.StatusNotFound, "Bin not found")
				return
			}
			log.Printf("❌ [COLLECTIONS] %v", err)
			utils.RespondError(w, http.StatusInternalServerError, "Failed to record collection")
			return
		}

		utils.RespondJSON(w, http.StatusCreated, event)
	}
}

type RegisterDeviceRequest struct {
	Token      string `json:"token"`
	DeviceType string `json:"device_type"` // "ios" or "android"
}

// RegisterDevice stores the caller's FCM token for route notifications
func RegisterDevice(repo store.Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetUserFromContext(r)
		if !ok {
			utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		var req RegisterDeviceRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
			utils.RespondError(w, http.StatusBadRequest, "token is required")
			return
		}
		if req.DeviceType != "ios" && req.DeviceType != "android" {
			utils.RespondError(w, http.StatusBadRequest, "device_type must be 'ios' or 'android'")
			return
		}

		token := models.FCMToken{UserID: claims.UserID, Token: req.Token, DeviceType: req.DeviceType}
		if err := repo.RegisterFCMToken(r.Context(), &token); err != nil {
			log.Printf("❌ [FCM-TOKEN] %v", err)
			utils.RespondError(w, http.StatusInternalServerError, "Failed to register device")
			return
		}
		utils.RespondJSON(w, http.StatusOK, map[string]interface{}{"success": true})
	}
}
