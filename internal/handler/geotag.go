package handler

import (
	"encoding/json"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nbno/geotag-api/internal/domain"
	"github.com/nbno/geotag-api/internal/middleware"
)

// expandHistory is the expand token that keeps positionHistory in responses.
const expandHistory = "positionHistory"

// positionRequest is the client-controlled part of a position submission.
// Provenance fields are not accepted; the service stamps them.
type positionRequest struct {
	Position    []float64 `json:"position"`
	UserComment string    `json:"userComment"`
}

func (p positionRequest) toDomain() domain.Position {
	return domain.Position{Coordinates: p.Position, UserComment: p.UserComment}
}

// createGeoTagRequest is the body of POST /geotags.
type createGeoTagRequest struct {
	URN             string          `json:"urn"`
	Title           string          `json:"title"`
	CurrentPosition positionRequest `json:"currentPosition"`
}

// patchGeoTagRequest is the body of PATCH /geotags/{geotagID}.
type patchGeoTagRequest struct {
	Sticky          *bool            `json:"sticky"`
	Dirty           *bool            `json:"dirty"`
	CurrentPosition *positionRequest `json:"currentPosition"`
}

// pageResponse wraps one page of geotags with pagination metadata.
type pageResponse struct {
	Data []domain.GeoTag `json:"data"`
	Page pageMeta        `json:"page"`
}

type pageMeta struct {
	Number        int   `json:"number"`
	Size          int   `json:"size"`
	TotalElements int64 `json:"totalElements"`
	TotalPages    int64 `json:"totalPages"`
}

func toPageResponse(p domain.Page) pageResponse {
	items := p.Items
	if items == nil {
		items = []domain.GeoTag{}
	}
	return pageResponse{
		Data: items,
		Page: pageMeta{
			Number:        p.Number,
			Size:          p.Size,
			TotalElements: p.TotalElements,
			TotalPages:    p.TotalPages(),
		},
	}
}

// ListGeoTags handles GET /geotags. Supports filtering by urn, user, email,
// updatedSince, dirty and sticky; paging via page/size; and
// ?expand=positionHistory for the privileged history view.
func (s *Server) ListGeoTags(w http.ResponseWriter, r *http.Request) {
	q, err := parseGeoQuery(r)
	if err != nil {
		writeRequestError(w, r, err.Error())
		return
	}

	page, err := parsePagination(r)
	if err != nil {
		writeRequestError(w, r, err.Error())
		return
	}

	caller := middleware.CallerFromContext(r.Context())
	result, err := s.geotags.Query(r.Context(), q, page, hasExpand(r, expandHistory), caller)
	if err != nil {
		writeError(w, r, err, "geotag not found")
		return
	}
	writeJSON(w, r, http.StatusOK, toPageResponse(result))
}

// GetGeoTag handles GET /geotags/{geotagID}.
func (s *Server) GetGeoTag(w http.ResponseWriter, r *http.Request) {
	caller := middleware.CallerFromContext(r.Context())
	tag, err := s.geotags.FindOne(r.Context(), chi.URLParam(r, "geotagID"), hasExpand(r, expandHistory), caller)
	if err != nil {
		writeError(w, r, err, "geotag not found")
		return
	}
	writeJSON(w, r, http.StatusOK, tag)
}

// CreateGeoTag handles POST /geotags: createOrUpdate keyed on the URN.
// Returns 201 with the created or mutated geotag.
func (s *Server) CreateGeoTag(w http.ResponseWriter, r *http.Request) {
	var req createGeoTagRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeRequestError(w, r, "invalid request body")
		return
	}

	in := domain.GeoTag{
		URN:             req.URN,
		Title:           req.Title,
		CurrentPosition: req.CurrentPosition.toDomain(),
	}

	caller := middleware.CallerFromContext(r.Context())
	tag, err := s.geotags.Save(r.Context(), in, caller)
	if err != nil {
		writeError(w, r, err, "geotag not found")
		return
	}

	w.Header().Set("Location", "/geotags/"+tag.ID)
	writeJSON(w, r, http.StatusCreated, tag)
}

// PatchGeoTag handles PATCH /geotags/{geotagID}: partial update of sticky,
// dirty (admin-only) and/or the current position.
func (s *Server) PatchGeoTag(w http.ResponseWriter, r *http.Request) {
	var req patchGeoTagRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeRequestError(w, r, "invalid request body")
		return
	}

	patch := domain.GeoTagPatch{Sticky: req.Sticky, Dirty: req.Dirty}
	if req.CurrentPosition != nil {
		pos := req.CurrentPosition.toDomain()
		patch.CurrentPosition = &pos
	}

	caller := middleware.CallerFromContext(r.Context())
	tag, err := s.geotags.Patch(r.Context(), chi.URLParam(r, "geotagID"), patch, caller)
	if err != nil {
		writeError(w, r, err, "geotag not found")
		return
	}
	writeJSON(w, r, http.StatusOK, tag)
}

// UpdateGeoTag handles PUT /geotags/{geotagID}: admin-only full replacement.
func (s *Server) UpdateGeoTag(w http.ResponseWriter, r *http.Request) {
	var in domain.GeoTag
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeRequestError(w, r, "invalid request body")
		return
	}

	caller := middleware.CallerFromContext(r.Context())
	tag, err := s.geotags.Update(r.Context(), chi.URLParam(r, "geotagID"), in, caller)
	if err != nil {
		writeError(w, r, err, "geotag not found")
		return
	}
	writeJSON(w, r, http.StatusOK, tag)
}

// DeleteGeoTag handles DELETE /geotags/{geotagID}: admin-only.
func (s *Server) DeleteGeoTag(w http.ResponseWriter, r *http.Request) {
	caller := middleware.CallerFromContext(r.Context())
	if err := s.geotags.Delete(r.Context(), chi.URLParam(r, "geotagID"), caller); err != nil {
		writeError(w, r, err, "geotag not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetNearby handles GET /geotags/nearby?lon=&lat=&maxDistance= (km).
func (s *Server) GetNearby(w http.ResponseWriter, r *http.Request) {
	lon, err := parseFloatParam(r, "lon")
	if err != nil {
		writeRequestError(w, r, err.Error())
		return
	}
	lat, err := parseFloatParam(r, "lat")
	if err != nil {
		writeRequestError(w, r, err.Error())
		return
	}
	maxDistance, err := parseFloatParam(r, "maxDistance")
	if err != nil {
		writeRequestError(w, r, err.Error())
		return
	}
	page, err := parsePagination(r)
	if err != nil {
		writeRequestError(w, r, err.Error())
		return
	}

	caller := middleware.CallerFromContext(r.Context())
	result, err := s.geotags.Nearby(r.Context(), domain.Point{Longitude: lon, Latitude: lat}, maxDistance, page, caller)
	if err != nil {
		writeError(w, r, err, "geotag not found")
		return
	}
	writeJSON(w, r, http.StatusOK, toPageResponse(result))
}

// GetWithin handles GET /geotags/within?lon=&lat=&secondLon=&secondLat=,
// the two corners of the bounding box.
func (s *Server) GetWithin(w http.ResponseWriter, r *http.Request) {
	var box domain.Box
	var err error
	if box.LowerLeft.Longitude, err = parseFloatParam(r, "lon"); err != nil {
		writeRequestError(w, r, err.Error())
		return
	}
	if box.LowerLeft.Latitude, err = parseFloatParam(r, "lat"); err != nil {
		writeRequestError(w, r, err.Error())
		return
	}
	if box.UpperRight.Longitude, err = parseFloatParam(r, "secondLon"); err != nil {
		writeRequestError(w, r, err.Error())
		return
	}
	if box.UpperRight.Latitude, err = parseFloatParam(r, "secondLat"); err != nil {
		writeRequestError(w, r, err.Error())
		return
	}
	page, err := parsePagination(r)
	if err != nil {
		writeRequestError(w, r, err.Error())
		return
	}

	caller := middleware.CallerFromContext(r.Context())
	result, err := s.geotags.Within(r.Context(), box, page, caller)
	if err != nil {
		writeError(w, r, err, "geotag not found")
		return
	}
	writeJSON(w, r, http.StatusOK, toPageResponse(result))
}

// ---- query parameter parsing -----------------------------------------------

func parseGeoQuery(r *http.Request) (domain.GeoQuery, error) {
	values := r.URL.Query()
	q := domain.GeoQuery{
		URN:    values.Get("urn"),
		UserID: values.Get("user"),
		Email:  values.Get("email"),
	}

	if raw := values.Get("updatedSince"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return domain.GeoQuery{}, errInvalidParam("updatedSince", "an RFC 3339 timestamp")
		}
		q.UpdatedSince = &t
	}

	var err error
	if q.Dirty, err = parseOptionalBool(values.Get("dirty"), "dirty"); err != nil {
		return domain.GeoQuery{}, err
	}
	if q.Sticky, err = parseOptionalBool(values.Get("sticky"), "sticky"); err != nil {
		return domain.GeoQuery{}, err
	}
	return q, nil
}

func parsePagination(r *http.Request) (domain.PaginationParams, error) {
	page, err := parseOptionalInt(r.URL.Query().Get("page"), "page")
	if err != nil {
		return domain.PaginationParams{}, err
	}
	size, err := parseOptionalInt(r.URL.Query().Get("size"), "size")
	if err != nil {
		return domain.PaginationParams{}, err
	}
	return domain.NewPaginationParams(page, size), nil
}

func hasExpand(r *http.Request, token string) bool {
	raw := r.URL.Query().Get("expand")
	if raw == "" {
		return false
	}
	return slices.Contains(strings.Split(raw, ","), token)
}

func parseOptionalInt(raw, name string) (*int, error) {
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil, errInvalidParam(name, "an integer")
	}
	return &n, nil
}

func parseOptionalBool(raw, name string) (*bool, error) {
	if raw == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, errInvalidParam(name, "a boolean")
	}
	return &b, nil
}

func parseFloatParam(r *http.Request, name string) (float64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, errInvalidParam(name, "required")
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, errInvalidParam(name, "a number")
	}
	return f, nil
}

type paramError struct{ msg string }

func (e paramError) Error() string { return e.msg }

func errInvalidParam(name, expected string) error {
	if expected == "required" {
		return paramError{msg: name + " is required"}
	}
	return paramError{msg: name + " must be " + expected}
}
