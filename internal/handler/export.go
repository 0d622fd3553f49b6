package handler

import (
	"bytes"
	"encoding/csv"
	"net/http"
	"strconv"
	"time"

	"github.com/nbno/geotag-api/internal/domain"
	"github.com/nbno/geotag-api/internal/middleware"
)

// csvHeaders defines the column names written as the first row of any CSV
// export.
var csvHeaders = []string{
	"id", "urn", "title", "sticky",
	"longitude", "latitude", "date",
	"user_id", "user_display_name", "user_email", "user_comment",
}

// featureCollection is a minimal GeoJSON FeatureCollection.
type featureCollection struct {
	Type     string    `json:"type"`
	Features []feature `json:"features"`
}

type feature struct {
	Type       string         `json:"type"`
	Geometry   geometry       `json:"geometry"`
	Properties map[string]any `json:"properties"`
}

type geometry struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

// GetExport implements GET /geotags/export.
// Use ?format=csv to receive CSV; default is GeoJSON.
func (s *Server) GetExport(w http.ResponseWriter, r *http.Request) {
	caller := middleware.CallerFromContext(r.Context())
	tags, err := s.geotags.Export(r.Context(), caller)
	if err != nil {
		writeError(w, r, err, "geotag not found")
		return
	}

	if r.URL.Query().Get("format") == "csv" {
		writeCSV(w, tags)
		return
	}
	writeJSON(w, r, http.StatusOK, buildFeatureCollection(tags))
}

// buildFeatureCollection maps each geotag's current position onto a GeoJSON
// point feature.
func buildFeatureCollection(tags []domain.GeoTag) featureCollection {
	features := make([]feature, 0, len(tags))
	for _, t := range tags {
		props := map[string]any{
			"id":     t.ID,
			"urn":    t.URN,
			"sticky": t.Sticky,
			"date":   t.CurrentPosition.Date.Format(time.RFC3339),
			"userId": t.CurrentPosition.UserID,
		}
		if t.Title != "" {
			props["title"] = t.Title
		}
		if t.CurrentPosition.UserDisplayName != "" {
			props["userDisplayName"] = t.CurrentPosition.UserDisplayName
		}
		if t.CurrentPosition.UserComment != "" {
			props["userComment"] = t.CurrentPosition.UserComment
		}
		features = append(features, feature{
			Type: "Feature",
			Geometry: geometry{
				Type:        "Point",
				Coordinates: []float64{t.CurrentPosition.Longitude(), t.CurrentPosition.Latitude()},
			},
			Properties: props,
		})
	}
	return featureCollection{Type: "FeatureCollection", Features: features}
}

// writeCSV encodes one row per geotag's current position.
func writeCSV(w http.ResponseWriter, tags []domain.GeoTag) {
	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)

	// bytes.Buffer writes never fail.
	//nolint:errcheck
	cw.Write(csvHeaders)
	for _, t := range tags {
		//nolint:errcheck
		cw.Write(csvRecord(t))
	}
	cw.Flush()

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="geotags.csv"`)
	w.WriteHeader(http.StatusOK)
	//nolint:errcheck
	w.Write(buf.Bytes())
}

func csvRecord(t domain.GeoTag) []string {
	return []string{
		t.ID,
		t.URN,
		t.Title,
		strconv.FormatBool(t.Sticky),
		strconv.FormatFloat(t.CurrentPosition.Longitude(), 'f', -1, 64),
		strconv.FormatFloat(t.CurrentPosition.Latitude(), 'f', -1, 64),
		t.CurrentPosition.Date.Format(time.RFC3339),
		t.CurrentPosition.UserID,
		t.CurrentPosition.UserDisplayName,
		t.CurrentPosition.UserEmail,
		t.CurrentPosition.UserComment,
	}
}
