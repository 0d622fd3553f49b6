// Package handler implements the HTTP layer of the geotag API.
// All handlers are methods on Server and are split into domain-specific
// files (geotag.go, position.go, export.go, health.go) sharing the same
// struct. Handlers translate HTTP to service calls and map the domain
// sentinels onto status codes; no business rules live here.
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nbno/geotag-api/internal/domain"
	"github.com/nbno/geotag-api/internal/middleware"
)

// GeoTagServicer defines the business operations the handlers depend on.
// Declaring the interface here, in the consumer package, lets handler tests
// inject a mock without touching the service or the database.
type GeoTagServicer interface {
	Save(ctx context.Context, in domain.GeoTag, caller domain.User) (domain.GeoTag, error)
	Query(ctx context.Context, q domain.GeoQuery, page domain.PaginationParams, expand bool, caller domain.User) (domain.Page, error)
	FindOne(ctx context.Context, id string, expand bool, caller domain.User) (domain.GeoTag, error)
	FindOnePosition(ctx context.Context, id, posID string, caller domain.User) (domain.Position, error)
	Positions(ctx context.Context, id string, caller domain.User) ([]domain.Position, error)
	Delete(ctx context.Context, id string, caller domain.User) error
	DeletePosition(ctx context.Context, id, posID string, caller domain.User) error
	SavePosition(ctx context.Context, id string, pos domain.Position, caller domain.User) (domain.Position, error)
	Patch(ctx context.Context, id string, patch domain.GeoTagPatch, caller domain.User) (domain.GeoTag, error)
	Update(ctx context.Context, id string, in domain.GeoTag, caller domain.User) (domain.GeoTag, error)
	Nearby(ctx context.Context, pt domain.Point, radiusKm float64, page domain.PaginationParams, caller domain.User) (domain.Page, error)
	Within(ctx context.Context, box domain.Box, page domain.PaginationParams, caller domain.User) (domain.Page, error)
	Export(ctx context.Context, caller domain.User) ([]domain.GeoTag, error)
}

// Server carries the handler dependencies.
type Server struct {
	geotags GeoTagServicer
	openapi []byte
}

// NewServer constructs the Server. openapi is the raw spec document served
// at /openapi.yaml; pass nil to disable the route.
func NewServer(geotags GeoTagServicer, openapi []byte) *Server {
	return &Server{geotags: geotags, openapi: openapi}
}

// Routes builds the route tree. Authentication is expected to be applied
// globally by the caller (so reads can resolve the privileged role too);
// mutating routes additionally require an authenticated caller.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/healthz", s.GetHealth)
	if s.openapi != nil {
		r.Get("/openapi.yaml", s.GetOpenAPI)
	}

	r.Route("/geotags", func(r chi.Router) {
		r.Get("/", s.ListGeoTags)
		r.Get("/nearby", s.GetNearby)
		r.Get("/within", s.GetWithin)
		r.Get("/export", s.GetExport)
		r.Get("/{geotagID}", s.GetGeoTag)
		r.Get("/{geotagID}/positions", s.ListPositions)
		r.Get("/{geotagID}/positions/{posID}", s.GetPosition)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireUser)
			r.Post("/", s.CreateGeoTag)
			r.Patch("/{geotagID}", s.PatchGeoTag)
			r.Put("/{geotagID}", s.UpdateGeoTag)
			r.Delete("/{geotagID}", s.DeleteGeoTag)
			r.Post("/{geotagID}/positions", s.CreatePosition)
			r.Delete("/{geotagID}/positions/{posID}", s.DeletePosition)
		})
	})

	return r
}

// GetOpenAPI serves the embedded OpenAPI document.
func (s *Server) GetOpenAPI(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	//nolint:errcheck
	w.Write(s.openapi)
}
