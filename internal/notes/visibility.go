package notes

// Viewer carries the identity facts the visibility policy needs.
type Viewer struct {
	ID    uint
	Class string
}

// CanView decides whether a viewer may read a note. Author self-view is not
// handled here; callers owning that bypass issue an author-scoped query or
// check ownership before consulting the policy.
//
// Legacy rows may carry empty status, visibility, or class values; each of
// those passes through rather than hiding old data.
func CanView(viewer Viewer, note *Note) bool {
	if note == nil {
		return false
	}
	if !note.Status.IsPublished() {
		return false
	}
	switch note.Visibility {
	case VisibilityClass:
		if note.AuthorClass == "" || viewer.Class == "" {
			return true
		}
		return viewer.Class == note.AuthorClass
	default:
		// VisibilityEveryone and the legacy empty value.
		return true
	}
}
