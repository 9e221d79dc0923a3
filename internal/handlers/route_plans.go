package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"binfleet-backend/internal/lock"
	"binfleet-backend/internal/middleware"
	"binfleet-backend/internal/services"
	"binfleet-backend/pkg/utils"
)

// AssignRoutesRequest maps officer slots ("1", "2", ...) to officer ids
type AssignRoutesRequest struct {
	Assignments map[string]string `json:"assignments"`
}

// SolveRoutePlan returns the plan preview for {date}
func SolveRoutePlan(planner *services.Planner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		date := chi.URLParam(r, "date")

		preview, err := planner.Preview(r.Context(), date)
		if err != nil {
			respondPlanError(w, "PLAN-ROUTES", err)
			return
		}
		utils.RespondJSON(w, http.StatusOK, preview)
	}
}

// AssignRoutePlan persists the plan for {date} and attaches officers by slot
func AssignRoutePlan(planner *services.Planner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		date := chi.URLParam(r, "date")

		var req AssignRoutesRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		assignments := make(map[int]string, len(req.Assignments))
		for key, officerID := range req.Assignments {
			slot, err := strconv.Atoi(key)
			if err != nil {
				log.Printf("⚠️  [ASSIGN-ROUTES] Ignoring non-numeric slot %q", key)
				continue
			}
			assignments[slot] = officerID
		}

		assignedBy := ""
		if claims, ok := middleware.GetUserFromContext(r); ok {
			assignedBy = claims.UserID
		}

		result, err := planner.Assign(r.Context(), date, assignments, assignedBy)
		if err != nil {
			respondPlanError(w, "ASSIGN-ROUTES", err)
			return
		}
		utils.RespondJSON(w, http.StatusOK, result)
	}
}

// GetRoutePlan returns the persisted groups for {date}
func GetRoutePlan(planner *services.Planner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		groups, err := planner.Plan(r.Context(), chi.URLParam(r, "date"))
		if err != nil {
			respondPlanError(w, "GET-ROUTES", err)
			return
		}
		utils.RespondJSON(w, http.StatusOK, groups)
	}
}

func respondPlanError(w http.ResponseWriter, tag string, err error) {
	switch {
	case errors.Is(err, services.ErrInvalidPlanDate), errors.Is(err, services.ErrUnknownOfficer):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, lock.ErrLocked):
		utils.RespondError(w, http.StatusConflict, "Route plan for this date is being saved, try again")
	default:
		log.Printf("❌ [%s] %v", tag, err)
		utils.RespondError(w, http.StatusInternalServerError, "Failed to process route plan")
	}
}
