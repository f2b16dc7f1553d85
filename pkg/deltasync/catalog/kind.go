// Package catalog defines the boundary between deltasync and the media
// library host: the entity kinds the engine tracks, the change notifications
// it consumes and the narrow Host adapter it queries.
package catalog

import "strings"

// Kind is the entity type of a catalog item.
type Kind int

const (
	KindUnknown Kind = iota
	KindMovie
	KindBoxSet
	KindSeries
	KindSeason
	KindEpisode
	KindVideo
	KindMusicVideo
	KindCollectionFolder
	KindFolder
	KindPlaylist
)

var kindNames = map[Kind]string{
	KindMovie:            "Movie",
	KindBoxSet:           "BoxSet",
	KindSeries:           "Series",
	KindSeason:           "Season",
	KindEpisode:          "Episode",
	KindVideo:            "Video",
	KindMusicVideo:       "MusicVideo",
	KindCollectionFolder: "CollectionFolder",
	KindFolder:           "Folder",
	KindPlaylist:         "Playlist",
}

var kindsByName = func() map[string]Kind {
	m := make(map[string]Kind, len(kindNames))
	for k, name := range kindNames {
		m[strings.ToLower(name)] = k
	}
	return m
}()

// String returns the host's type tag for the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "Unknown"
}

// ParseKind converts a host type tag to a Kind. Matching ignores case;
// unrecognized tags yield KindUnknown and false.
func ParseKind(s string) (Kind, bool) {
	k, ok := kindsByName[strings.ToLower(strings.TrimSpace(s))]
	return k, ok
}

// ParseKinds converts a list of type tags, skipping unrecognized entries and
// duplicates.
func ParseKinds(tags []string) []Kind {
	var out []Kind
	seen := make(map[Kind]bool, len(tags))
	for _, tag := range tags {
		k, ok := ParseKind(tag)
		if !ok || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out
}

// SyncKinds are the kinds whose changes are captured.
var SyncKinds = []Kind{
	KindMovie,
	KindBoxSet,
	KindSeries,
	KindSeason,
	KindEpisode,
	KindVideo,
	KindMusicVideo,
}

// VideoKinds are the playable kinds counted as videos in sync statistics.
var VideoKinds = []Kind{KindVideo, KindMusicVideo, KindMovie, KindEpisode}

// IsSyncKind reports whether changes to items of kind k are captured.
func IsSyncKind(k Kind) bool {
	for _, s := range SyncKinds {
		if s == k {
			return true
		}
	}
	return false
}
