package player

import (
	"regexp"
	"strings"
)

// QueryType classifies a raw search query by URL shape / pattern. Detection
// is pure string matching, never a network probe.
type QueryType int

const (
	QueryAuto QueryType = iota
	QueryVideo
	QueryVideoSearch
	QueryPlaylist
	QueryAlbum
	QueryTrack
	QuerySearch
)

func (q QueryType) String() string {
	switch q {
	case QueryVideo:
		return "video"
	case QueryVideoSearch:
		return "video_search"
	case QueryPlaylist:
		return "playlist"
	case QueryAlbum:
		return "album"
	case QueryTrack:
		return "track"
	case QuerySearch:
		return "search"
	default:
		return "auto"
	}
}

// Prefix routing for free text, same convention the bot exposes in
// autocomplete: "yt:" forces a plain YouTube video search.
const videoSearchPrefix = "yt:"

var (
	reVideo    = regexp.MustCompile(`^(https?://)?(www\.|m\.|music\.)?(youtube\.com/watch\?\S*v=[\w-]+|youtu\.be/[\w-]+)`)
	rePlaylist = regexp.MustCompile(`^(https?://)?(www\.|m\.|music\.)?youtube\.com/(playlist\?\S*list=|watch\?\S*list=)[\w-]+`)
	reAlbum    = regexp.MustCompile(`^(https?://)?(music\.youtube\.com/(browse/MPREb_[\w-]+|playlist\?\S*list=OLAK5uy_[\w-]+)|open\.spotify\.com/(intl-[\w-]+/)?album/\w+)`)
	reTrack    = regexp.MustCompile(`^(https?://)?(open\.spotify\.com/(intl-[\w-]+/)?track/\w+|music\.youtube\.com/watch\?\S*v=[\w-]+)`)
)

// DetectQueryType maps a raw query string onto one of the known source
// kinds. Link shapes are tested most-specific first so a watch URL carrying
// a list parameter classifies as a playlist.
func DetectQueryType(query string) QueryType {
	q := strings.TrimSpace(query)
	switch {
	case reAlbum.MatchString(q):
		return QueryAlbum
	case rePlaylist.MatchString(q):
		return QueryPlaylist
	case reTrack.MatchString(q):
		return QueryTrack
	case reVideo.MatchString(q):
		return QueryVideo
	case strings.HasPrefix(strings.ToLower(q), videoSearchPrefix):
		return QueryVideoSearch
	default:
		return QuerySearch
	}
}

// stripSearchPrefix removes the "yt:" routing prefix from a free-text query.
func stripSearchPrefix(query string) string {
	q := strings.TrimSpace(query)
	if strings.HasPrefix(strings.ToLower(q), videoSearchPrefix) {
		return strings.TrimSpace(q[len(videoSearchPrefix):])
	}
	return q
}
