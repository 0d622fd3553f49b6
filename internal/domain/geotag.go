// Package domain contains the core entities of the geotag API, their
// invariant-preserving mutators, and the sentinel errors shared by all layers.
// No persistence or HTTP concerns live here; repos and handlers depend on
// this package, never the other way around.
package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// MaxURNLength, MaxTitleLength and MaxCommentLength bound the free-text
// fields of a geotag submission.
const (
	MaxURNLength     = 100
	MaxTitleLength   = 160
	MaxCommentLength = 1000
)

// urnPattern matches the persistent identifiers handed out by the national
// URN:NBN resolver. Anything after the prefix is opaque to this service.
var urnPattern = regexp.MustCompile(`^URN:NBN:.+`)

// Position is a single user's claimed coordinate for a geotag, with
// provenance metadata. The server is authoritative for ID, Date and the
// User* fields; values submitted by clients are overwritten on write.
type Position struct {
	// ID is assigned once by the service and never changes while the
	// position lives inside its owning geotag.
	ID string `bson:"posId" json:"posId,omitempty"`

	// Coordinates holds [longitude, latitude], in that order, matching the
	// GeoJSON convention the storage layer indexes.
	Coordinates []float64 `bson:"position" json:"position"`

	// Date is the server-side submission time.
	Date time.Time `bson:"date" json:"date"`

	UserID          string `bson:"userId" json:"userId,omitempty"`
	UserDisplayName string `bson:"userDisplayName,omitempty" json:"userDisplayName,omitempty"`
	UserEmail       string `bson:"userEmail,omitempty" json:"userEmail,omitempty"`

	// UserComment is free text supplied by the submitting user.
	UserComment string `bson:"userComment,omitempty" json:"userComment,omitempty"`
}

// Longitude returns the first coordinate, or 0 if the pair is malformed.
func (p Position) Longitude() float64 {
	if len(p.Coordinates) == 2 {
		return p.Coordinates[0]
	}
	return 0
}

// Latitude returns the second coordinate, or 0 if the pair is malformed.
func (p Position) Latitude() float64 {
	if len(p.Coordinates) == 2 {
		return p.Coordinates[1]
	}
	return 0
}

// Validate checks the parts of a position that clients control: the
// coordinate pair and the comment. Provenance fields are not checked because
// the service overwrites them anyway.
func (p Position) Validate() error {
	if len(p.Coordinates) != 2 {
		return fmt.Errorf("%w: position must be a [longitude, latitude] pair", ErrValidation)
	}
	if lon := p.Coordinates[0]; lon < -180 || lon > 180 {
		return fmt.Errorf("%w: longitude must be between -180 and 180", ErrValidation)
	}
	if lat := p.Coordinates[1]; lat < -90 || lat > 90 {
		return fmt.Errorf("%w: latitude must be between -90 and 90", ErrValidation)
	}
	if len(p.UserComment) > MaxCommentLength {
		return fmt.Errorf("%w: userComment must be at most %d characters", ErrValidation, MaxCommentLength)
	}
	return nil
}

// GeoTag is the per-resource aggregate: one current position plus the
// history of prior or supplementary positions other users have submitted
// for the same URN. Exactly one GeoTag exists per URN.
type GeoTag struct {
	ID    string `bson:"_id" json:"id"`
	URN   string `bson:"urn" json:"urn"`
	Title string `bson:"title,omitempty" json:"title,omitempty"`

	// Sticky locks the current position: only an admin may mutate a sticky
	// geotag or toggle the flag itself. Never redacted.
	Sticky bool `bson:"sticky" json:"sticky"`

	// Dirty records that the current position has been superseded at least
	// once since creation. Nil means "not visible to this caller".
	Dirty *bool `bson:"dirty,omitempty" json:"dirty,omitempty"`

	CurrentPosition Position `bson:"currentPosition" json:"currentPosition"`

	// PositionHistory is ordered oldest-first. May be empty, never contains
	// more than one entry per user (SavePosition excepted).
	PositionHistory []Position `bson:"positionHistory,omitempty" json:"positionHistory,omitempty"`

	// Version is the optimistic concurrency revision. Mutating writes are
	// conditional on it and bump it by one. Never serialized to clients.
	Version int64 `bson:"version" json:"-"`
}

// ValidateURN checks the URN against the resolver pattern and length bound.
func ValidateURN(urn string) error {
	if strings.TrimSpace(urn) == "" {
		return fmt.Errorf("%w: urn is required", ErrValidation)
	}
	if len(urn) > MaxURNLength {
		return fmt.Errorf("%w: urn must be at most %d characters", ErrValidation, MaxURNLength)
	}
	if !urnPattern.MatchString(urn) {
		return fmt.Errorf("%w: urn must match URN:NBN:*", ErrValidation)
	}
	return nil
}

// Validate checks the aggregate-level fields plus the current position.
func (g GeoTag) Validate() error {
	if err := ValidateURN(g.URN); err != nil {
		return err
	}
	if len(g.Title) > MaxTitleLength {
		return fmt.Errorf("%w: title must be at most %d characters", ErrValidation, MaxTitleLength)
	}
	return g.CurrentPosition.Validate()
}

// AddHistory appends a position to the history, preserving insertion order.
func (g *GeoTag) AddHistory(p Position) {
	g.PositionHistory = append(g.PositionHistory, p)
}

// RemovePositionsByUser returns the history with every entry owned by
// userID filtered out. A fresh slice is built rather than removing in place.
func (g *GeoTag) RemovePositionsByUser(userID string) {
	if len(g.PositionHistory) == 0 {
		return
	}
	kept := make([]Position, 0, len(g.PositionHistory))
	for _, p := range g.PositionHistory {
		if p.UserID != userID {
			kept = append(kept, p)
		}
	}
	g.PositionHistory = kept
}

// RemovePositionByID filters the history entry with the given position id,
// if present. Reports whether an entry was removed.
func (g *GeoTag) RemovePositionByID(posID string) bool {
	kept := make([]Position, 0, len(g.PositionHistory))
	removed := false
	for _, p := range g.PositionHistory {
		if p.ID == posID {
			removed = true
			continue
		}
		kept = append(kept, p)
	}
	g.PositionHistory = kept
	return removed
}

// PromoteLastHistory moves the most recently added history entry into
// CurrentPosition. Reports false if the history is empty.
func (g *GeoTag) PromoteLastHistory() bool {
	n := len(g.PositionHistory)
	if n == 0 {
		return false
	}
	g.CurrentPosition = g.PositionHistory[n-1]
	g.PositionHistory = g.PositionHistory[:n-1]
	return true
}

// FindPosition looks up a position by id across the current position and
// the history. Reports false if no position has that id.
func (g GeoTag) FindPosition(posID string) (Position, bool) {
	if g.CurrentPosition.ID == posID {
		return g.CurrentPosition, true
	}
	for _, p := range g.PositionHistory {
		if p.ID == posID {
			return p, true
		}
	}
	return Position{}, false
}

// Mask redacts the fields a non-privileged caller must not see: the current
// position's email, the entire history, and the dirty flag. Sticky, owner id,
// display name and coordinates stay visible. Mask mutates the receiver, so
// callers must apply it to a copy headed for serialization. A masked geotag
// must never be written back to storage.
func (g *GeoTag) Mask() {
	g.CurrentPosition.UserEmail = ""
	g.PositionHistory = nil
	g.Dirty = nil
}

// BoolPtr is a small helper for the nullable Dirty/Sticky patch fields.
func BoolPtr(b bool) *bool { return &b }
