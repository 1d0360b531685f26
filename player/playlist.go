package player

// PlaylistType distinguishes single-source collections.
type PlaylistType string

const (
	PlaylistTypePlaylist PlaylistType = "playlist"
	PlaylistTypeAlbum    PlaylistType = "album"
)

// PlaylistAuthor describes who owns a collection on its source platform.
type PlaylistAuthor struct {
	Name string `json:"name"`
	URL  string `json:"url,omitempty"`
}

// PlaylistData carries the fields NewPlaylist normalizes.
type PlaylistData struct {
	ID          string
	Title       string
	Description string
	Thumbnail   string
	URL         string
	Type        PlaylistType
	Source      Source
	Author      PlaylistAuthor
}

// Playlist is an ordered collection of tracks plus collection metadata.
// It is constructed empty first so every member track can be built with its
// back-reference already pointing here, then back-filled via SetTracks.
// Only the producing resolver and the orchestrator mutate the sequence,
// never a session.
type Playlist struct {
	ID          string
	Title       string
	Description string
	Thumbnail   string
	URL         string
	Type        PlaylistType
	Source      Source
	Author      PlaylistAuthor

	tracks []*Track
}

func NewPlaylist(d PlaylistData) *Playlist {
	typ := d.Type
	if typ == "" {
		typ = PlaylistTypePlaylist
	}
	src := d.Source
	if src == "" {
		src = SourceArbitrary
	}
	return &Playlist{
		ID:          d.ID,
		Title:       EscapeMarkdown(d.Title, DefaultEscape),
		Description: d.Description,
		Thumbnail:   d.Thumbnail,
		URL:         d.URL,
		Type:        typ,
		Source:      src,
		Author:      d.Author,
	}
}

// SetTracks back-fills the collection after its member tracks have been
// constructed with their Playlist reference set to this instance.
func (p *Playlist) SetTracks(tracks []*Track) {
	p.tracks = append(p.tracks[:0], tracks...)
}

// Tracks returns the ordered sequence. The returned slice is a copy; the
// collection itself stays under resolver/orchestrator control.
func (p *Playlist) Tracks() []*Track {
	out := make([]*Track, len(p.tracks))
	copy(out, p.tracks)
	return out
}

// Len reports the number of tracks in the collection.
func (p *Playlist) Len() int { return len(p.tracks) }

// PlaylistRecord is the plain serialized form of a Playlist.
type PlaylistRecord struct {
	ID          string         `json:"id,omitempty"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Thumbnail   string         `json:"thumbnail,omitempty"`
	URL         string         `json:"url,omitempty"`
	Type        PlaylistType   `json:"type"`
	Source      Source         `json:"source"`
	Author      PlaylistAuthor `json:"author"`
	TrackCount  int            `json:"track_count"`
}

func (p *Playlist) Record() PlaylistRecord {
	return PlaylistRecord{
		ID:          p.ID,
		Title:       p.Title,
		Description: p.Description,
		Thumbnail:   p.Thumbnail,
		URL:         p.URL,
		Type:        p.Type,
		Source:      p.Source,
		Author:      p.Author,
		TrackCount:  len(p.tracks),
	}
}
