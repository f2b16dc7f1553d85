package catalog

import "context"

// Item is the subset of a catalog entity the engine needs.
type Item struct {
	ID   string
	Name string
	Kind Kind
	Path string

	// Virtual items have no backing media (placeholders for missing episodes).
	Virtual bool

	// InChannel is set for items that live under a channel subtree.
	InChannel bool

	// SeriesID and SeasonNumber are populated for seasons.
	SeriesID     string
	SeasonNumber *int
}

// Ancestor is one entry of an item's parent chain, nearest parent first.
type Ancestor struct {
	ID   string
	Kind Kind
	Path string
}

// Mount is a library root configured on the host.
type Mount struct {
	ItemID    string
	Name      string
	Locations []string
}

// HasLocation reports whether path is one of the mount's locations.
func (m Mount) HasLocation(path string) bool {
	for _, loc := range m.Locations {
		if loc == path {
			return true
		}
	}
	return false
}

// Host is the adapter through which the engine reads host state. Host
// variants differ only in their implementation of this interface.
type Host interface {
	// LibraryMounts returns every configured library root.
	LibraryMounts(ctx context.Context) ([]Mount, error)

	// UserExists reports whether userID names a known account.
	UserExists(ctx context.Context, userID string) (bool, error)
}

// FolderAccess is implemented by hosts that can restrict library visibility
// per user.
type FolderAccess interface {
	// UserMounts returns the library roots visible to userID.
	UserMounts(ctx context.Context, userID string) ([]Mount, error)
}
