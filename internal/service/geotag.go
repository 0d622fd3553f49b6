// Package service contains the business logic of the geotag API: the tag
// lifecycle rules, the sticky lock, owner deduplication, and visibility
// redaction. Services depend on repo interfaces, never on the driver, and
// receive the caller identity explicitly on every operation.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nbno/geotag-api/internal/domain"
	"github.com/nbno/geotag-api/internal/metrics"
	"github.com/nbno/geotag-api/internal/repo"
)

// RoleChecker is the capability check injected into the service. It answers
// whether a caller holds a role; the service never inspects role slices
// itself. Wire domain.HasRole in production.
type RoleChecker func(u domain.User, role string) bool

// GeoTagService implements the tag lifecycle: create-or-update with history
// merge, queries with visibility redaction, and privileged deletion.
type GeoTagService struct {
	repo    repo.GeoTagRepo
	hasRole RoleChecker
	metrics *metrics.Metrics

	// now and newID are indirected for deterministic stamping in tests.
	now   func() time.Time
	newID func() string
}

// NewGeoTagService constructs a GeoTagService. metrics may be nil, in which
// case no instrumentation is recorded (tests).
func NewGeoTagService(r repo.GeoTagRepo, hasRole RoleChecker, m *metrics.Metrics) *GeoTagService {
	return &GeoTagService{
		repo:    r,
		hasRole: hasRole,
		metrics: m,
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// isAdmin reports whether the caller holds the privileged role. An
// unauthenticated caller never does.
func (s *GeoTagService) isAdmin(caller domain.User) bool {
	return !caller.Anonymous() && s.hasRole(caller, domain.RoleAdmin)
}

// stamp builds the authoritative position for a submission: fresh id,
// server time, and the caller's identity. Whatever the client supplied for
// these fields is discarded; only coordinates and comment survive.
func (s *GeoTagService) stamp(p domain.Position, caller domain.User) domain.Position {
	return domain.Position{
		ID:              s.newID(),
		Coordinates:     p.Coordinates,
		Date:            s.now().UTC(),
		UserID:          caller.ID,
		UserDisplayName: caller.DisplayName,
		UserEmail:       caller.Email,
		UserComment:     p.UserComment,
	}
}

// Save is createOrUpdate: the first submission for a URN creates the
// geotag, every later submission supersedes the current position.
//
// On update the old current position is demoted into the history, the
// stamped submission becomes current, dirty is set, and every history entry
// owned by the caller (including the one just demoted, if it was theirs)
// is removed, keeping at most one position per user per geotag.
//
// A sticky geotag rejects non-admin submissions with ErrForbidden and is
// left untouched. Concurrent writers for the same URN serialize through the
// version check; the loser gets ErrConflict and may retry.
func (s *GeoTagService) Save(ctx context.Context, in domain.GeoTag, caller domain.User) (domain.GeoTag, error) {
	if caller.Anonymous() {
		return domain.GeoTag{}, fmt.Errorf("%w: authentication required", domain.ErrForbidden)
	}
	if err := in.Validate(); err != nil {
		return domain.GeoTag{}, err
	}

	stamped := s.stamp(in.CurrentPosition, caller)

	existing, err := s.repo.FindByURN(ctx, in.URN)
	if errors.Is(err, domain.ErrNotFound) {
		tag := domain.GeoTag{
			ID:              s.newID(),
			URN:             in.URN,
			Title:           in.Title,
			Sticky:          false,
			Dirty:           domain.BoolPtr(true),
			CurrentPosition: stamped,
		}
		if err := s.repo.Insert(ctx, tag); err != nil {
			s.countConflict(err)
			return domain.GeoTag{}, fmt.Errorf("service.GeoTagService.Save: %w", err)
		}
		if s.metrics != nil {
			s.metrics.TagsCreated.Inc()
		}
		return tag, nil
	}
	if err != nil {
		return domain.GeoTag{}, fmt.Errorf("service.GeoTagService.Save: %w", err)
	}

	if existing.Sticky && !s.isAdmin(caller) {
		return domain.GeoTag{}, fmt.Errorf("%w: geotag is sticky", domain.ErrForbidden)
	}

	existing.Dirty = domain.BoolPtr(true)
	existing.AddHistory(existing.CurrentPosition)
	existing.CurrentPosition = stamped
	existing.RemovePositionsByUser(caller.ID)

	updated, err := s.repo.Update(ctx, existing)
	if err != nil {
		s.countConflict(err)
		return domain.GeoTag{}, fmt.Errorf("service.GeoTagService.Save: %w", err)
	}
	if s.metrics != nil {
		s.metrics.TagsUpdated.Inc()
	}
	return updated, nil
}

// Query returns one page of geotags matching q, ordered by current position
// date descending. History is dropped unless expand; non-admin callers get
// masked results. Redaction changes field contents only, never membership
// or ordering. An empty result is a valid empty page.
func (s *GeoTagService) Query(ctx context.Context, q domain.GeoQuery, page domain.PaginationParams, expand bool, caller domain.User) (domain.Page, error) {
	if s.metrics != nil {
		defer s.metrics.ObserveQuery(time.Now())
	}

	items, total, err := s.repo.FindAll(ctx, q, page)
	if err != nil {
		return domain.Page{}, fmt.Errorf("service.GeoTagService.Query: %w", err)
	}
	s.present(items, expand, caller)
	return domain.Page{Items: items, Number: page.Page, Size: page.Size, TotalElements: total}, nil
}

// FindOne returns a single geotag by id, with the same expansion and
// redaction rules as Query. Returns ErrNotFound if absent.
func (s *GeoTagService) FindOne(ctx context.Context, id string, expand bool, caller domain.User) (domain.GeoTag, error) {
	tag, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return domain.GeoTag{}, fmt.Errorf("service.GeoTagService.FindOne: %w", err)
	}
	one := []domain.GeoTag{tag}
	s.present(one, expand, caller)
	return one[0], nil
}

// FindOnePosition looks up a single position by id within a geotag.
// Redaction applies first, so a non-admin caller can only reach the current
// position, with the email cleared. Returns ErrNotFound when the geotag or
// the position does not exist.
func (s *GeoTagService) FindOnePosition(ctx context.Context, id, posID string, caller domain.User) (domain.Position, error) {
	tag, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return domain.Position{}, fmt.Errorf("service.GeoTagService.FindOnePosition: %w", err)
	}
	if !s.isAdmin(caller) {
		tag.Mask()
	}
	pos, ok := tag.FindPosition(posID)
	if !ok {
		return domain.Position{}, fmt.Errorf("service.GeoTagService.FindOnePosition: position: %w", domain.ErrNotFound)
	}
	return pos, nil
}

// Positions returns the history of a geotag, admin only: the history is a
// privileged view by the visibility rules.
func (s *GeoTagService) Positions(ctx context.Context, id string, caller domain.User) ([]domain.Position, error) {
	if !s.isAdmin(caller) {
		return nil, fmt.Errorf("%w: admin role required", domain.ErrForbidden)
	}
	tag, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service.GeoTagService.Positions: %w", err)
	}
	if tag.PositionHistory == nil {
		return []domain.Position{}, nil
	}
	return tag.PositionHistory, nil
}

// Delete removes a whole geotag. Admin only; ErrNotFound if absent.
func (s *GeoTagService) Delete(ctx context.Context, id string, caller domain.User) error {
	if !s.isAdmin(caller) {
		return fmt.Errorf("%w: admin role required", domain.ErrForbidden)
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("service.GeoTagService.Delete: %w", err)
	}
	if s.metrics != nil {
		s.metrics.TagsDeleted.Inc()
	}
	return nil
}

// DeletePosition removes one position from a geotag. Admin only.
//
// Removing the current position promotes the most recently added history
// entry; removing the last remaining position deletes the geotag itself, so
// no geotag ever exists without a current position. An unknown position id
// leaves the geotag unchanged; only a missing geotag is an error.
func (s *GeoTagService) DeletePosition(ctx context.Context, id, posID string, caller domain.User) error {
	if !s.isAdmin(caller) {
		return fmt.Errorf("%w: admin role required", domain.ErrForbidden)
	}

	tag, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return fmt.Errorf("service.GeoTagService.DeletePosition: %w", err)
	}

	removed := tag.RemovePositionByID(posID)
	if tag.CurrentPosition.ID == posID {
		removed = true
		if !tag.PromoteLastHistory() {
			// Last position gone: the geotag cannot remain without a
			// current position, so it goes with it.
			if err := s.repo.Delete(ctx, id); err != nil {
				return fmt.Errorf("service.GeoTagService.DeletePosition: %w", err)
			}
			if s.metrics != nil {
				s.metrics.PositionsDeleted.Inc()
				s.metrics.TagsDeleted.Inc()
			}
			return nil
		}
	}

	if _, err := s.repo.Update(ctx, tag); err != nil {
		s.countConflict(err)
		return fmt.Errorf("service.GeoTagService.DeletePosition: %w", err)
	}
	if removed && s.metrics != nil {
		s.metrics.PositionsDeleted.Inc()
	}
	return nil
}

// SavePosition appends a stamped supplementary position to the history
// without touching the current position. Deliberately exempt from the
// one-position-per-user rule: these are non-authoritative recordings, not
// claims on the current position. Returns the stored position.
func (s *GeoTagService) SavePosition(ctx context.Context, id string, pos domain.Position, caller domain.User) (domain.Position, error) {
	if caller.Anonymous() {
		return domain.Position{}, fmt.Errorf("%w: authentication required", domain.ErrForbidden)
	}
	if err := pos.Validate(); err != nil {
		return domain.Position{}, err
	}

	tag, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return domain.Position{}, fmt.Errorf("service.GeoTagService.SavePosition: %w", err)
	}

	stamped := s.stamp(pos, caller)
	tag.AddHistory(stamped)

	if _, err := s.repo.Update(ctx, tag); err != nil {
		s.countConflict(err)
		return domain.Position{}, fmt.Errorf("service.GeoTagService.SavePosition: %w", err)
	}
	return stamped, nil
}

// Patch applies a partial update. Sticky and dirty are admin-only knobs; a
// non-admin supplying either gets ErrForbidden, as does any non-admin patch
// of a sticky geotag. An included position is stamped and merged exactly
// like Save. A position change always forces dirty, regardless of what the
// patch says: superseding the current position is what dirty records.
func (s *GeoTagService) Patch(ctx context.Context, id string, patch domain.GeoTagPatch, caller domain.User) (domain.GeoTag, error) {
	if caller.Anonymous() {
		return domain.GeoTag{}, fmt.Errorf("%w: authentication required", domain.ErrForbidden)
	}
	if patch.CurrentPosition != nil {
		if err := patch.CurrentPosition.Validate(); err != nil {
			return domain.GeoTag{}, err
		}
	}

	tag, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return domain.GeoTag{}, fmt.Errorf("service.GeoTagService.Patch: %w", err)
	}

	admin := s.isAdmin(caller)
	if !admin {
		if patch.Sticky != nil || patch.Dirty != nil {
			return domain.GeoTag{}, fmt.Errorf("%w: sticky and dirty are admin-only", domain.ErrForbidden)
		}
		if tag.Sticky {
			return domain.GeoTag{}, fmt.Errorf("%w: geotag is sticky", domain.ErrForbidden)
		}
	}

	if patch.Sticky != nil {
		tag.Sticky = *patch.Sticky
	}
	if patch.Dirty != nil {
		tag.Dirty = patch.Dirty
	}

	if patch.CurrentPosition != nil {
		stamped := s.stamp(*patch.CurrentPosition, caller)
		tag.Dirty = domain.BoolPtr(true)
		tag.AddHistory(tag.CurrentPosition)
		tag.CurrentPosition = stamped
		tag.RemovePositionsByUser(caller.ID)
	}

	updated, err := s.repo.Update(ctx, tag)
	if err != nil {
		s.countConflict(err)
		return domain.GeoTag{}, fmt.Errorf("service.GeoTagService.Patch: %w", err)
	}
	if s.metrics != nil {
		s.metrics.TagsUpdated.Inc()
	}
	return updated, nil
}

// Update replaces a geotag wholesale, keeping its id and version chain.
// Admin only: this is the arbitrary-overwrite escape hatch, so the body is
// stored as supplied apart from id and version.
func (s *GeoTagService) Update(ctx context.Context, id string, in domain.GeoTag, caller domain.User) (domain.GeoTag, error) {
	if !s.isAdmin(caller) {
		return domain.GeoTag{}, fmt.Errorf("%w: admin role required", domain.ErrForbidden)
	}
	if err := in.Validate(); err != nil {
		return domain.GeoTag{}, err
	}

	existing, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return domain.GeoTag{}, fmt.Errorf("service.GeoTagService.Update: %w", err)
	}

	in.ID = id
	in.Version = existing.Version

	updated, err := s.repo.Update(ctx, in)
	if err != nil {
		s.countConflict(err)
		return domain.GeoTag{}, fmt.Errorf("service.GeoTagService.Update: %w", err)
	}
	if s.metrics != nil {
		s.metrics.TagsUpdated.Inc()
	}
	return updated, nil
}

// Nearby returns geotags whose current position lies within radiusKm of pt,
// nearest first, masked for non-admin callers.
func (s *GeoTagService) Nearby(ctx context.Context, pt domain.Point, radiusKm float64, page domain.PaginationParams, caller domain.User) (domain.Page, error) {
	if radiusKm <= 0 {
		return domain.Page{}, fmt.Errorf("%w: maxDistance must be positive", domain.ErrValidation)
	}
	if err := validatePoint(pt); err != nil {
		return domain.Page{}, err
	}
	if s.metrics != nil {
		defer s.metrics.ObserveQuery(time.Now())
	}

	items, total, err := s.repo.FindNear(ctx, pt, radiusKm, page)
	if err != nil {
		return domain.Page{}, fmt.Errorf("service.GeoTagService.Nearby: %w", err)
	}
	s.maskAll(items, caller)
	return domain.Page{Items: items, Number: page.Page, Size: page.Size, TotalElements: total}, nil
}

// Within returns geotags whose current position lies inside the bounding
// box, masked for non-admin callers.
func (s *GeoTagService) Within(ctx context.Context, box domain.Box, page domain.PaginationParams, caller domain.User) (domain.Page, error) {
	if err := validatePoint(box.LowerLeft); err != nil {
		return domain.Page{}, err
	}
	if err := validatePoint(box.UpperRight); err != nil {
		return domain.Page{}, err
	}
	if s.metrics != nil {
		defer s.metrics.ObserveQuery(time.Now())
	}

	items, total, err := s.repo.FindWithin(ctx, box, page)
	if err != nil {
		return domain.Page{}, fmt.Errorf("service.GeoTagService.Within: %w", err)
	}
	s.maskAll(items, caller)
	return domain.Page{Items: items, Number: page.Page, Size: page.Size, TotalElements: total}, nil
}

// Export returns every geotag, fetched page by page, with the caller's
// visibility applied. Feeds the GeoJSON/CSV export endpoint.
func (s *GeoTagService) Export(ctx context.Context, caller domain.User) ([]domain.GeoTag, error) {
	const batch = 500

	var all []domain.GeoTag
	for pageNum := 1; ; pageNum++ {
		items, total, err := s.repo.FindAll(ctx, domain.GeoQuery{}, domain.PaginationParams{Page: pageNum, Size: batch})
		if err != nil {
			return nil, fmt.Errorf("service.GeoTagService.Export: %w", err)
		}
		all = append(all, items...)
		if len(items) == 0 || int64(len(all)) >= total {
			break
		}
	}

	s.maskAll(all, caller)
	if all == nil {
		all = []domain.GeoTag{}
	}
	return all, nil
}

// present applies history expansion and visibility redaction in place.
func (s *GeoTagService) present(tags []domain.GeoTag, expand bool, caller domain.User) {
	admin := s.isAdmin(caller)
	for i := range tags {
		if !expand {
			tags[i].PositionHistory = nil
		}
		if !admin {
			tags[i].Mask()
		}
	}
}

// maskAll redacts every geotag for non-admin callers.
func (s *GeoTagService) maskAll(tags []domain.GeoTag, caller domain.User) {
	if s.isAdmin(caller) {
		return
	}
	for i := range tags {
		tags[i].Mask()
	}
}

// countConflict bumps the conflict counter when a write lost a race.
func (s *GeoTagService) countConflict(err error) {
	if s.metrics != nil && errors.Is(err, domain.ErrConflict) {
		s.metrics.WriteConflicts.Inc()
	}
}

func validatePoint(pt domain.Point) error {
	if pt.Longitude < -180 || pt.Longitude > 180 {
		return fmt.Errorf("%w: longitude must be between -180 and 180", domain.ErrValidation)
	}
	if pt.Latitude < -90 || pt.Latitude > 90 {
		return fmt.Errorf("%w: latitude must be between -90 and 90", domain.ErrValidation)
	}
	return nil
}
