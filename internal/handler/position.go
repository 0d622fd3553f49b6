package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nbno/geotag-api/internal/middleware"
)

// ListPositions handles GET /geotags/{geotagID}/positions.
// The history is a privileged view; non-admin callers get 403.
func (s *Server) ListPositions(w http.ResponseWriter, r *http.Request) {
	caller := middleware.CallerFromContext(r.Context())
	positions, err := s.geotags.Positions(r.Context(), chi.URLParam(r, "geotagID"), caller)
	if err != nil {
		writeError(w, r, err, "geotag not found")
		return
	}
	writeJSON(w, r, http.StatusOK, positions)
}

// GetPosition handles GET /geotags/{geotagID}/positions/{posID}.
func (s *Server) GetPosition(w http.ResponseWriter, r *http.Request) {
	caller := middleware.CallerFromContext(r.Context())
	pos, err := s.geotags.FindOnePosition(r.Context(), chi.URLParam(r, "geotagID"), chi.URLParam(r, "posID"), caller)
	if err != nil {
		writeError(w, r, err, "position not found")
		return
	}
	writeJSON(w, r, http.StatusOK, pos)
}

// CreatePosition handles POST /geotags/{geotagID}/positions: appends a
// supplementary position to the history without touching the current one.
func (s *Server) CreatePosition(w http.ResponseWriter, r *http.Request) {
	var req positionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeRequestError(w, r, "invalid request body")
		return
	}

	geotagID := chi.URLParam(r, "geotagID")
	caller := middleware.CallerFromContext(r.Context())
	pos, err := s.geotags.SavePosition(r.Context(), geotagID, req.toDomain(), caller)
	if err != nil {
		writeError(w, r, err, "geotag not found")
		return
	}

	w.Header().Set("Location", "/geotags/"+geotagID+"/positions/"+pos.ID)
	writeJSON(w, r, http.StatusCreated, pos)
}

// DeletePosition handles DELETE /geotags/{geotagID}/positions/{posID}:
// admin-only single position removal.
func (s *Server) DeletePosition(w http.ResponseWriter, r *http.Request) {
	caller := middleware.CallerFromContext(r.Context())
	err := s.geotags.DeletePosition(r.Context(), chi.URLParam(r, "geotagID"), chi.URLParam(r, "posID"), caller)
	if err != nil {
		writeError(w, r, err, "geotag not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
