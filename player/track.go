package player

import (
	"context"
	"io"

	"github.com/disgoorg/snowflake/v2"
	"github.com/google/uuid"
)

// Source tags which resolver family produced a track.
type Source string

const (
	SourceYouTube   Source = "youtube"
	SourceYTMusic   Source = "ytmusic"
	SourceSpotify   Source = "spotify"
	SourceArbitrary Source = "arbitrary"
)

// StreamFunc opens the opaque audio byte stream for a track. The bytes are
// expected to be an Ogg/Opus stream; the dispatcher only frames them, it
// never transcodes.
type StreamFunc func(ctx context.Context) (io.ReadCloser, error)

// TrackData carries the resolver-specific fields NewTrack normalizes.
// Either Duration (colon-separated text) or DurationMS may be set; the
// other is derived.
type TrackData struct {
	Title       string
	Author      string
	URL         string
	Thumbnail   string
	Duration    string
	DurationMS  int64
	Views       int64
	RequestedBy snowflake.ID
	Source      Source
	Playlist    *Playlist
	Raw         map[string]any
	Stream      StreamFunc
}

// Track is one playable item, normalized from resolver-specific data.
// Immutable after construction; the ID is unique for the process lifetime.
type Track struct {
	ID          string
	Title       string
	Author      string
	URL         string
	Thumbnail   string
	Duration    string
	DurationMS  int64
	Views       int64
	RequestedBy snowflake.ID
	Source      Source
	Playlist    *Playlist

	raw    map[string]any
	stream StreamFunc
}

// NewTrack is the shared constructor every resolver result passes through.
// Title and author are escaped against Discord emphasis markup before
// storage, duration text is normalized to one format, and a missing source
// tag falls back to SourceArbitrary.
func NewTrack(d TrackData) *Track {
	ms := d.DurationMS
	if ms == 0 && d.Duration != "" {
		ms = ParseDuration(d.Duration)
	}
	src := d.Source
	if src == "" {
		src = SourceArbitrary
	}
	return &Track{
		ID:          uuid.NewString(),
		Title:       EscapeMarkdown(d.Title, DefaultEscape),
		Author:      EscapeMarkdown(d.Author, DefaultEscape),
		URL:         d.URL,
		Thumbnail:   d.Thumbnail,
		Duration:    FormatDuration(ms),
		DurationMS:  ms,
		Views:       d.Views,
		RequestedBy: d.RequestedBy,
		Source:      src,
		Playlist:    d.Playlist,
		raw:         d.Raw,
		stream:      d.Stream,
	}
}

// Raw returns a resolver-specific value preserved at construction. The bag
// is excluded from serialization and equality.
func (t *Track) Raw(key string) (any, bool) {
	v, ok := t.raw[key]
	return v, ok
}

// OpenStream opens the track's audio byte stream. Tracks without a
// resolver-supplied StreamFunc fall back to the yt-dlp opener.
func (t *Track) OpenStream(ctx context.Context) (io.ReadCloser, error) {
	if t.stream != nil {
		return t.stream(ctx)
	}
	return openYtdlpStream(ctx, t.URL)
}

// TrackRecord is the plain serialized form of a Track.
type TrackRecord struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Author      string          `json:"author"`
	URL         string          `json:"url"`
	Thumbnail   string          `json:"thumbnail,omitempty"`
	Duration    string          `json:"duration"`
	DurationMS  int64           `json:"duration_ms"`
	Views       int64           `json:"views,omitempty"`
	RequestedBy snowflake.ID    `json:"requested_by,omitempty"`
	Source      Source          `json:"source"`
	Playlist    *PlaylistRecord `json:"playlist,omitempty"`
}

// Record serializes the track to a plain record, optionally omitting the
// nested playlist detail.
func (t *Track) Record(withPlaylist bool) TrackRecord {
	r := TrackRecord{
		ID:          t.ID,
		Title:       t.Title,
		Author:      t.Author,
		URL:         t.URL,
		Thumbnail:   t.Thumbnail,
		Duration:    t.Duration,
		DurationMS:  t.DurationMS,
		Views:       t.Views,
		RequestedBy: t.RequestedBy,
		Source:      t.Source,
	}
	if withPlaylist && t.Playlist != nil {
		pr := t.Playlist.Record()
		r.Playlist = &pr
	}
	return r
}
