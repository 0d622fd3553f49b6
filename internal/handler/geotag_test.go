package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nbno/geotag-api/internal/domain"
	"github.com/nbno/geotag-api/internal/handler"
	"github.com/nbno/geotag-api/internal/middleware"
)

// mockGeoTagServicer is a function-field test double for handler.GeoTagServicer.
type mockGeoTagServicer struct {
	save            func(ctx context.Context, in domain.GeoTag, caller domain.User) (domain.GeoTag, error)
	query           func(ctx context.Context, q domain.GeoQuery, page domain.PaginationParams, expand bool, caller domain.User) (domain.Page, error)
	findOne         func(ctx context.Context, id string, expand bool, caller domain.User) (domain.GeoTag, error)
	findOnePosition func(ctx context.Context, id, posID string, caller domain.User) (domain.Position, error)
	positions       func(ctx context.Context, id string, caller domain.User) ([]domain.Position, error)
	delete          func(ctx context.Context, id string, caller domain.User) error
	deletePosition  func(ctx context.Context, id, posID string, caller domain.User) error
	savePosition    func(ctx context.Context, id string, pos domain.Position, caller domain.User) (domain.Position, error)
	patch           func(ctx context.Context, id string, patch domain.GeoTagPatch, caller domain.User) (domain.GeoTag, error)
	update          func(ctx context.Context, id string, in domain.GeoTag, caller domain.User) (domain.GeoTag, error)
	nearby          func(ctx context.Context, pt domain.Point, radiusKm float64, page domain.PaginationParams, caller domain.User) (domain.Page, error)
	within          func(ctx context.Context, box domain.Box, page domain.PaginationParams, caller domain.User) (domain.Page, error)
	export          func(ctx context.Context, caller domain.User) ([]domain.GeoTag, error)
}

func (m *mockGeoTagServicer) Save(ctx context.Context, in domain.GeoTag, caller domain.User) (domain.GeoTag, error) {
	return m.save(ctx, in, caller)
}
func (m *mockGeoTagServicer) Query(ctx context.Context, q domain.GeoQuery, page domain.PaginationParams, expand bool, caller domain.User) (domain.Page, error) {
	return m.query(ctx, q, page, expand, caller)
}
func (m *mockGeoTagServicer) FindOne(ctx context.Context, id string, expand bool, caller domain.User) (domain.GeoTag, error) {
	return m.findOne(ctx, id, expand, caller)
}
func (m *mockGeoTagServicer) FindOnePosition(ctx context.Context, id, posID string, caller domain.User) (domain.Position, error) {
	return m.findOnePosition(ctx, id, posID, caller)
}
func (m *mockGeoTagServicer) Positions(ctx context.Context, id string, caller domain.User) ([]domain.Position, error) {
	return m.positions(ctx, id, caller)
}
func (m *mockGeoTagServicer) Delete(ctx context.Context, id string, caller domain.User) error {
	return m.delete(ctx, id, caller)
}
func (m *mockGeoTagServicer) DeletePosition(ctx context.Context, id, posID string, caller domain.User) error {
	return m.deletePosition(ctx, id, posID, caller)
}
func (m *mockGeoTagServicer) SavePosition(ctx context.Context, id string, pos domain.Position, caller domain.User) (domain.Position, error) {
	return m.savePosition(ctx, id, pos, caller)
}
func (m *mockGeoTagServicer) Patch(ctx context.Context, id string, patch domain.GeoTagPatch, caller domain.User) (domain.GeoTag, error) {
	return m.patch(ctx, id, patch, caller)
}
func (m *mockGeoTagServicer) Update(ctx context.Context, id string, in domain.GeoTag, caller domain.User) (domain.GeoTag, error) {
	return m.update(ctx, id, in, caller)
}
func (m *mockGeoTagServicer) Nearby(ctx context.Context, pt domain.Point, radiusKm float64, page domain.PaginationParams, caller domain.User) (domain.Page, error) {
	return m.nearby(ctx, pt, radiusKm, page, caller)
}
func (m *mockGeoTagServicer) Within(ctx context.Context, box domain.Box, page domain.PaginationParams, caller domain.User) (domain.Page, error) {
	return m.within(ctx, box, page, caller)
}
func (m *mockGeoTagServicer) Export(ctx context.Context, caller domain.User) ([]domain.GeoTag, error) {
	return m.export(ctx, caller)
}

var _ handler.GeoTagServicer = (*mockGeoTagServicer)(nil)

// stubValidator resolves the two fixed test tokens. Anything else is
// rejected, exactly like an expired or forged JWT would be.
type stubValidator struct{}

func (stubValidator) ValidateToken(token string) (domain.User, error) {
	switch token {
	case "user-token":
		return domain.User{
			ID:          "carol",
			DisplayName: "Carol",
			Email:       "carol@example.org",
			Roles:       []string{domain.RoleUser},
		}, nil
	case "admin-token":
		return domain.User{
			ID:          "root",
			DisplayName: "Root",
			Email:       "root@example.org",
			Roles:       []string{domain.RoleUser, domain.RoleAdmin},
		}, nil
	}
	return domain.User{}, errors.New("unknown token")
}

// newTestHandler wires Routes behind the authentication middleware, the same
// shape as the production router.
func newTestHandler(svc handler.GeoTagServicer) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	authn := middleware.Authenticate(stubValidator{}, logger)
	return authn(handler.NewServer(svc, []byte("openapi: 3.0.3\n")).Routes())
}

// doRequest performs a request against h. A string body is sent verbatim;
// any other non-nil body is JSON-encoded. token selects the caller via
// stubValidator; empty means anonymous.
func doRequest(t *testing.T, h http.Handler, method, target, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, target, rd)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) (code, message string) {
	t.Helper()
	body := decodeBody(t, rec)
	detail, ok := body["error"].(map[string]any)
	require.True(t, ok, "expected error body, got %s", rec.Body.String())
	code, _ = detail["code"].(string)
	message, _ = detail["message"].(string)
	return code, message
}

func sampleTag() domain.GeoTag {
	return domain.GeoTag{
		ID:    "tag-1",
		URN:   "URN:NBN:no-nb_digibok_2014062307158",
		Title: "Norske gaardnavne",
		Dirty: domain.BoolPtr(true),
		CurrentPosition: domain.Position{
			ID:          "pos-1",
			Coordinates: []float64{10.0, 60.0},
			Date:        time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
			UserID:      "alice",
		},
		Version: 7,
	}
}

// ---- listing ----------------------------------------------------------------

func TestListGeoTags(t *testing.T) {
	var gotQuery domain.GeoQuery
	var gotPage domain.PaginationParams
	var gotExpand bool
	svc := &mockGeoTagServicer{
		query: func(_ context.Context, q domain.GeoQuery, page domain.PaginationParams, expand bool, _ domain.User) (domain.Page, error) {
			gotQuery, gotPage, gotExpand = q, page, expand
			return domain.Page{Items: []domain.GeoTag{sampleTag()}, Number: page.Page, Size: page.Size, TotalElements: 11}, nil
		},
	}
	h := newTestHandler(svc)

	rec := doRequest(t, h, http.MethodGet,
		"/geotags?urn=URN:NBN:x&user=alice&dirty=true&updatedSince=2025-01-02T15:04:05Z&page=2&size=5&expand=positionHistory",
		"", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "URN:NBN:x", gotQuery.URN)
	assert.Equal(t, "alice", gotQuery.UserID)
	require.NotNil(t, gotQuery.Dirty)
	assert.True(t, *gotQuery.Dirty)
	require.NotNil(t, gotQuery.UpdatedSince)
	assert.Equal(t, time.Date(2025, 1, 2, 15, 4, 5, 0, time.UTC), gotQuery.UpdatedSince.UTC())
	assert.Equal(t, 2, gotPage.Page)
	assert.Equal(t, 5, gotPage.Size)
	assert.True(t, gotExpand)

	body := decodeBody(t, rec)
	page, ok := body["page"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(2), page["number"])
	assert.Equal(t, float64(11), page["totalElements"])
	assert.Equal(t, float64(3), page["totalPages"])
}

func TestListGeoTags_InvalidBoolParam(t *testing.T) {
	h := newTestHandler(&mockGeoTagServicer{})

	rec := doRequest(t, h, http.MethodGet, "/geotags?dirty=banana", "", nil)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	code, message := errorCode(t, rec)
	assert.Equal(t, "validation_error", code)
	assert.Equal(t, "dirty must be a boolean", message)
}

func TestListGeoTags_InvalidUpdatedSince(t *testing.T) {
	h := newTestHandler(&mockGeoTagServicer{})

	rec := doRequest(t, h, http.MethodGet, "/geotags?updatedSince=yesterday", "", nil)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestListGeoTags_EmptyPageSerializesAsArray(t *testing.T) {
	svc := &mockGeoTagServicer{
		query: func(_ context.Context, _ domain.GeoQuery, page domain.PaginationParams, _ bool, _ domain.User) (domain.Page, error) {
			return domain.Page{Number: page.Page, Size: page.Size}, nil
		},
	}
	h := newTestHandler(svc)

	rec := doRequest(t, h, http.MethodGet, "/geotags", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"data":[]`)
}

// ---- single geotag ----------------------------------------------------------

func TestGetGeoTag(t *testing.T) {
	svc := &mockGeoTagServicer{
		findOne: func(_ context.Context, id string, _ bool, _ domain.User) (domain.GeoTag, error) {
			assert.Equal(t, "tag-1", id)
			return sampleTag(), nil
		},
	}
	h := newTestHandler(svc)

	rec := doRequest(t, h, http.MethodGet, "/geotags/tag-1", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "URN:NBN:no-nb_digibok_2014062307158", body["urn"])
	// The revision counter stays internal.
	assert.NotContains(t, rec.Body.String(), "version")
}

func TestGetGeoTag_NotFound(t *testing.T) {
	svc := &mockGeoTagServicer{
		findOne: func(context.Context, string, bool, domain.User) (domain.GeoTag, error) {
			return domain.GeoTag{}, fmt.Errorf("lookup: %w", domain.ErrNotFound)
		},
	}
	h := newTestHandler(svc)

	rec := doRequest(t, h, http.MethodGet, "/geotags/missing", "", nil)

	require.Equal(t, http.StatusNotFound, rec.Code)
	code, message := errorCode(t, rec)
	assert.Equal(t, "not_found", code)
	assert.Equal(t, "geotag not found", message)
}

func TestGetGeoTag_UnexpectedErrorIs500(t *testing.T) {
	svc := &mockGeoTagServicer{
		findOne: func(context.Context, string, bool, domain.User) (domain.GeoTag, error) {
			return domain.GeoTag{}, errors.New("connection reset")
		},
	}
	h := newTestHandler(svc)

	rec := doRequest(t, h, http.MethodGet, "/geotags/tag-1", "", nil)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	code, message := errorCode(t, rec)
	assert.Equal(t, "internal_error", code)
	// Internal detail never leaks into the response.
	assert.NotContains(t, message, "connection reset")
}

// ---- create ----------------------------------------------------------------

func TestCreateGeoTag(t *testing.T) {
	var gotIn domain.GeoTag
	var gotCaller domain.User
	svc := &mockGeoTagServicer{
		save: func(_ context.Context, in domain.GeoTag, caller domain.User) (domain.GeoTag, error) {
			gotIn, gotCaller = in, caller
			return sampleTag(), nil
		},
	}
	h := newTestHandler(svc)

	rec := doRequest(t, h, http.MethodPost, "/geotags", "user-token", map[string]any{
		"urn":   "URN:NBN:no-nb_digibok_2014062307158",
		"title": "Norske gaardnavne",
		"currentPosition": map[string]any{
			"position":    []float64{10.0, 60.0},
			"userComment": "main entrance",
		},
	})

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "/geotags/tag-1", rec.Header().Get("Location"))
	assert.Equal(t, "URN:NBN:no-nb_digibok_2014062307158", gotIn.URN)
	assert.Equal(t, []float64{10.0, 60.0}, gotIn.CurrentPosition.Coordinates)
	assert.Equal(t, "main entrance", gotIn.CurrentPosition.UserComment)
	assert.Equal(t, "carol", gotCaller.ID)
}

func TestCreateGeoTag_RequiresAuth(t *testing.T) {
	h := newTestHandler(&mockGeoTagServicer{})

	rec := doRequest(t, h, http.MethodPost, "/geotags", "", map[string]any{"urn": "URN:NBN:x"})

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateGeoTag_InvalidBody(t *testing.T) {
	h := newTestHandler(&mockGeoTagServicer{})

	rec := doRequest(t, h, http.MethodPost, "/geotags", "user-token", "{not json")

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestCreateGeoTag_ValidationError(t *testing.T) {
	svc := &mockGeoTagServicer{
		save: func(context.Context, domain.GeoTag, domain.User) (domain.GeoTag, error) {
			return domain.GeoTag{}, fmt.Errorf("%w: urn must match URN:NBN:*", domain.ErrValidation)
		},
	}
	h := newTestHandler(svc)

	rec := doRequest(t, h, http.MethodPost, "/geotags", "user-token", map[string]any{"urn": "nope"})

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	code, message := errorCode(t, rec)
	assert.Equal(t, "validation_error", code)
	assert.Equal(t, "urn must match URN:NBN:*", message)
}

func TestCreateGeoTag_StickyForbidden(t *testing.T) {
	svc := &mockGeoTagServicer{
		save: func(context.Context, domain.GeoTag, domain.User) (domain.GeoTag, error) {
			return domain.GeoTag{}, fmt.Errorf("%w: geotag is sticky", domain.ErrForbidden)
		},
	}
	h := newTestHandler(svc)

	rec := doRequest(t, h, http.MethodPost, "/geotags", "user-token", map[string]any{"urn": "URN:NBN:x"})

	require.Equal(t, http.StatusForbidden, rec.Code)
	code, message := errorCode(t, rec)
	assert.Equal(t, "forbidden", code)
	assert.Equal(t, "geotag is sticky", message)
}

func TestCreateGeoTag_Conflict(t *testing.T) {
	svc := &mockGeoTagServicer{
		save: func(context.Context, domain.GeoTag, domain.User) (domain.GeoTag, error) {
			return domain.GeoTag{}, fmt.Errorf("save: %w", domain.ErrConflict)
		},
	}
	h := newTestHandler(svc)

	rec := doRequest(t, h, http.MethodPost, "/geotags", "user-token", map[string]any{"urn": "URN:NBN:x"})

	require.Equal(t, http.StatusConflict, rec.Code)
	code, _ := errorCode(t, rec)
	assert.Equal(t, "conflict", code)
}

// ---- patch / put / delete ----------------------------------------------------

func TestPatchGeoTag(t *testing.T) {
	var gotPatch domain.GeoTagPatch
	svc := &mockGeoTagServicer{
		patch: func(_ context.Context, id string, patch domain.GeoTagPatch, _ domain.User) (domain.GeoTag, error) {
			assert.Equal(t, "tag-1", id)
			gotPatch = patch
			return sampleTag(), nil
		},
	}
	h := newTestHandler(svc)

	rec := doRequest(t, h, http.MethodPatch, "/geotags/tag-1", "admin-token", map[string]any{"sticky": true})

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, gotPatch.Sticky)
	assert.True(t, *gotPatch.Sticky)
	assert.Nil(t, gotPatch.Dirty)
	assert.Nil(t, gotPatch.CurrentPosition)
}

func TestPatchGeoTag_WithPosition(t *testing.T) {
	var gotPatch domain.GeoTagPatch
	svc := &mockGeoTagServicer{
		patch: func(_ context.Context, _ string, patch domain.GeoTagPatch, _ domain.User) (domain.GeoTag, error) {
			gotPatch = patch
			return sampleTag(), nil
		},
	}
	h := newTestHandler(svc)

	rec := doRequest(t, h, http.MethodPatch, "/geotags/tag-1", "user-token", map[string]any{
		"currentPosition": map[string]any{"position": []float64{11.0, 61.0}},
	})

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, gotPatch.CurrentPosition)
	assert.Equal(t, []float64{11.0, 61.0}, gotPatch.CurrentPosition.Coordinates)
}

func TestUpdateGeoTag(t *testing.T) {
	var gotIn domain.GeoTag
	svc := &mockGeoTagServicer{
		update: func(_ context.Context, id string, in domain.GeoTag, _ domain.User) (domain.GeoTag, error) {
			assert.Equal(t, "tag-1", id)
			gotIn = in
			return sampleTag(), nil
		},
	}
	h := newTestHandler(svc)

	rec := doRequest(t, h, http.MethodPut, "/geotags/tag-1", "admin-token", sampleTag())

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "URN:NBN:no-nb_digibok_2014062307158", gotIn.URN)
	assert.True(t, *gotIn.Dirty)
}

func TestDeleteGeoTag(t *testing.T) {
	svc := &mockGeoTagServicer{
		delete: func(_ context.Context, id string, caller domain.User) error {
			assert.Equal(t, "tag-1", id)
			assert.Equal(t, "root", caller.ID)
			return nil
		},
	}
	h := newTestHandler(svc)

	rec := doRequest(t, h, http.MethodDelete, "/geotags/tag-1", "admin-token", nil)

	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestDeleteGeoTag_Forbidden(t *testing.T) {
	svc := &mockGeoTagServicer{
		delete: func(context.Context, string, domain.User) error {
			return fmt.Errorf("%w: admin role required", domain.ErrForbidden)
		},
	}
	h := newTestHandler(svc)

	rec := doRequest(t, h, http.MethodDelete, "/geotags/tag-1", "user-token", nil)

	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestDeleteGeoTag_RequiresAuth(t *testing.T) {
	h := newTestHandler(&mockGeoTagServicer{})

	rec := doRequest(t, h, http.MethodDelete, "/geotags/tag-1", "", nil)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

// ---- geo queries ------------------------------------------------------------

func TestGetNearby(t *testing.T) {
	var gotPt domain.Point
	var gotRadius float64
	svc := &mockGeoTagServicer{
		nearby: func(_ context.Context, pt domain.Point, radiusKm float64, page domain.PaginationParams, _ domain.User) (domain.Page, error) {
			gotPt, gotRadius = pt, radiusKm
			return domain.Page{Items: []domain.GeoTag{sampleTag()}, Number: page.Page, Size: page.Size, TotalElements: 1}, nil
		},
	}
	h := newTestHandler(svc)

	rec := doRequest(t, h, http.MethodGet, "/geotags/nearby?lon=10.5&lat=59.9&maxDistance=5", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 10.5, gotPt.Longitude)
	assert.Equal(t, 59.9, gotPt.Latitude)
	assert.Equal(t, 5.0, gotRadius)
}

func TestGetNearby_MissingParam(t *testing.T) {
	h := newTestHandler(&mockGeoTagServicer{})

	rec := doRequest(t, h, http.MethodGet, "/geotags/nearby?lon=10.5&lat=59.9", "", nil)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	_, message := errorCode(t, rec)
	assert.Equal(t, "maxDistance is required", message)
}

func TestGetNearby_ValidationFromService(t *testing.T) {
	svc := &mockGeoTagServicer{
		nearby: func(context.Context, domain.Point, float64, domain.PaginationParams, domain.User) (domain.Page, error) {
			return domain.Page{}, fmt.Errorf("%w: maxDistance must be positive", domain.ErrValidation)
		},
	}
	h := newTestHandler(svc)

	rec := doRequest(t, h, http.MethodGet, "/geotags/nearby?lon=10&lat=60&maxDistance=0", "", nil)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestGetWithin(t *testing.T) {
	var gotBox domain.Box
	svc := &mockGeoTagServicer{
		within: func(_ context.Context, box domain.Box, page domain.PaginationParams, _ domain.User) (domain.Page, error) {
			gotBox = box
			return domain.Page{Number: page.Page, Size: page.Size}, nil
		},
	}
	h := newTestHandler(svc)

	rec := doRequest(t, h, http.MethodGet, "/geotags/within?lon=9&lat=59&secondLon=11&secondLat=61", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.Point{Longitude: 9, Latitude: 59}, gotBox.LowerLeft)
	assert.Equal(t, domain.Point{Longitude: 11, Latitude: 61}, gotBox.UpperRight)
}

// ---- authentication edge cases -----------------------------------------------

func TestInvalidToken(t *testing.T) {
	h := newTestHandler(&mockGeoTagServicer{})

	rec := doRequest(t, h, http.MethodGet, "/geotags/tag-1", "forged", nil)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMalformedAuthorizationHeader(t *testing.T) {
	h := newTestHandler(&mockGeoTagServicer{})

	req := httptest.NewRequest(http.MethodGet, "/geotags/tag-1", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
