package domain

import "time"

// GeoQuery is the structured query the predicate builder translates into a
// storage filter. Zero/blank fields contribute no clause; all present
// clauses are conjunctive except Email, which matches the current position
// OR any history entry.
type GeoQuery struct {
	// URN filters on exact identifier equality.
	URN string
	// UserID filters on the current position's owner only; history owners
	// do not match.
	UserID string
	// Email matches the current position's email or any history entry's.
	Email string
	// UpdatedSince keeps geotags whose current position is strictly newer.
	UpdatedSince *time.Time
	Dirty        *bool
	Sticky       *bool
}

// Point is a longitude/latitude pair for proximity search.
type Point struct {
	Longitude float64
	Latitude  float64
}

// Box is an axis-aligned bounding box given by two opposite corners.
type Box struct {
	LowerLeft  Point
	UpperRight Point
}
