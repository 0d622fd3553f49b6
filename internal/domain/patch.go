package domain

// GeoTagPatch is a partial update of a geotag. Nil fields are left alone.
// Sticky and Dirty are admin-only; a non-privileged caller supplying either
// gets ErrForbidden. CurrentPosition, when present, goes through the same
// demote/stamp/dedup path as a full submission.
type GeoTagPatch struct {
	Sticky          *bool
	Dirty           *bool
	CurrentPosition *Position
}

// Empty reports whether the patch changes nothing.
func (p GeoTagPatch) Empty() bool {
	return p.Sticky == nil && p.Dirty == nil && p.CurrentPosition == nil
}
