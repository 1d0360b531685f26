package player

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/lrstanley/go-ytdlp"
	"github.com/ppalone/ytsearch"
	"github.com/raitonoberu/ytmusic"

	"github.com/leeineian/hibiki/sys"
)

// searchBuiltin routes a query to the built-in handler for its kind. Every
// branch tolerates the underlying network call failing and reports an empty
// result instead of propagating the raw error.
func (o *Orchestrator) searchBuiltin(ctx context.Context, query string, kind QueryType, requestedBy snowflake.ID) SearchResult {
	switch kind {
	case QueryVideo:
		return o.lookupVideo(ctx, query, requestedBy)
	case QueryVideoSearch:
		return o.searchVideos(ctx, stripSearchPrefix(query), requestedBy)
	case QueryPlaylist:
		return o.expandCollection(ctx, query, PlaylistTypePlaylist, requestedBy)
	case QueryAlbum:
		return o.expandCollection(ctx, query, PlaylistTypeAlbum, requestedBy)
	case QueryTrack:
		return o.lookupTrackLink(ctx, query, requestedBy)
	default:
		return o.searchTracks(ctx, query, requestedBy)
	}
}

// lookupVideo resolves one video link into a single track.
func (o *Orchestrator) lookupVideo(ctx context.Context, link string, requestedBy snowflake.ID) SearchResult {
	if err := o.limiter.Wait(ctx); err != nil {
		return SearchResult{}
	}
	meta, err := ytdlpLookup(ctx, link)
	if err != nil {
		sys.LogResolver("Video lookup failed for %s: %v", link, err)
		return SearchResult{}
	}
	track := NewTrack(TrackData{
		Title:       meta.Title,
		Author:      meta.Uploader,
		URL:         meta.URL,
		Thumbnail:   meta.Thumbnail,
		DurationMS:  meta.Duration.Milliseconds(),
		Views:       meta.Views,
		RequestedBy: requestedBy,
		Source:      SourceYouTube,
	})
	return SearchResult{Tracks: []*Track{track}}
}

// searchVideos runs a free-text video search and returns a ranked list.
func (o *Orchestrator) searchVideos(ctx context.Context, text string, requestedBy snowflake.ID) SearchResult {
	if text == "" {
		return SearchResult{}
	}
	if err := o.limiter.Wait(ctx); err != nil {
		return SearchResult{}
	}
	c := ytsearch.NewClient(nil)
	res, err := c.Search(ctx, text)
	if err != nil {
		sys.LogResolver("Video search failed for %q: %v", text, err)
		return SearchResult{}
	}
	var tracks []*Track
	for _, v := range res.Results {
		if v.VideoID == "" {
			continue
		}
		tracks = append(tracks, NewTrack(TrackData{
			Title:       v.Title,
			URL:         "https://www.youtube.com/watch?v=" + v.VideoID,
			RequestedBy: requestedBy,
			Source:      SourceYouTube,
		}))
		if len(tracks) >= o.opts.SearchLimit {
			break
		}
	}
	return SearchResult{Tracks: tracks}
}

// searchTracks runs a free-text song search against YouTube Music.
func (o *Orchestrator) searchTracks(ctx context.Context, text string, requestedBy snowflake.ID) SearchResult {
	if err := o.limiter.Wait(ctx); err != nil {
		return SearchResult{}
	}
	s := ytmusic.TrackSearch(text)
	res, err := s.Next()
	if err != nil {
		sys.LogResolver("Track search failed for %q: %v", text, err)
		return SearchResult{}
	}
	var tracks []*Track
	for _, t := range res.Tracks {
		if t.VideoID == "" {
			continue
		}
		author := ""
		if len(t.Artists) > 0 {
			author = t.Artists[0].Name
		}
		thumb := ""
		if n := len(t.Thumbnails); n > 0 {
			thumb = t.Thumbnails[n-1].URL
		}
		tracks = append(tracks, NewTrack(TrackData{
			Title:       t.Title,
			Author:      author,
			URL:         "https://music.youtube.com/watch?v=" + t.VideoID,
			Thumbnail:   thumb,
			DurationMS:  int64(t.Duration) * 1000,
			RequestedBy: requestedBy,
			Source:      SourceYTMusic,
		}))
		if len(tracks) >= o.opts.SearchLimit {
			break
		}
	}
	return SearchResult{Tracks: tracks}
}

// lookupTrackLink resolves a hosted track link. Spotify links carry no
// playable stream, so the title is fetched from the public oEmbed endpoint
// and re-searched on YouTube Music; the returned track keeps its Spotify
// source tag.
func (o *Orchestrator) lookupTrackLink(ctx context.Context, link string, requestedBy snowflake.ID) SearchResult {
	if !strings.Contains(link, "spotify.com") {
		res := o.searchTracks(ctx, link, requestedBy)
		if len(res.Tracks) > 0 {
			return SearchResult{Tracks: res.Tracks[:1]}
		}
		return o.lookupVideo(ctx, link, requestedBy)
	}

	title, thumb, ok := o.spotifyOEmbed(ctx, link)
	if !ok {
		return SearchResult{}
	}
	// The oEmbed title is usually "Track by Artist"; flatten it for search.
	query := strings.Replace(title, " by ", " ", 1)
	res := o.searchTracks(ctx, query, requestedBy)
	if len(res.Tracks) == 0 {
		return SearchResult{}
	}
	found := res.Tracks[0]
	track := NewTrack(TrackData{
		Title:       title,
		Author:      found.Author,
		URL:         found.URL,
		Thumbnail:   thumb,
		DurationMS:  found.DurationMS,
		RequestedBy: requestedBy,
		Source:      SourceSpotify,
		Raw:         map[string]any{"spotify_url": link},
	})
	return SearchResult{Tracks: []*Track{track}}
}

// spotifyOEmbed fetches track metadata from Spotify's public oEmbed
// endpoint.
func (o *Orchestrator) spotifyOEmbed(ctx context.Context, link string) (title, thumbnail string, ok bool) {
	if err := o.limiter.Wait(ctx); err != nil {
		return "", "", false
	}
	req, err := newJSONRequest(ctx, "https://open.spotify.com/oembed?url="+url.QueryEscape(link))
	if err != nil {
		return "", "", false
	}
	resp, err := o.http.Do(req)
	if err != nil {
		sys.LogResolver("Spotify oEmbed failed for %s: %v", link, err)
		return "", "", false
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return "", "", false
	}
	var data struct {
		Title        string `json:"title"`
		ThumbnailURL string `json:"thumbnail_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil || data.Title == "" {
		return "", "", false
	}
	return data.Title, data.ThumbnailURL, true
}

func newJSONRequest(ctx context.Context, link string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// expandCollection resolves a playlist or album link. The playlist is
// constructed first with an empty track list, each track is constructed
// with its back-reference pointing at that instance, and the sequence is
// back-filled last, so a half-initialized back-reference is never
// observable.
func (o *Orchestrator) expandCollection(ctx context.Context, link string, typ PlaylistType, requestedBy snowflake.ID) SearchResult {
	if err := o.limiter.Wait(ctx); err != nil {
		return SearchResult{}
	}
	entries, meta, err := ytdlpExpand(ctx, link, o.opts.SearchLimit*4)
	if err != nil || len(entries) == 0 {
		if err != nil {
			sys.LogResolver("Collection expansion failed for %s: %v", link, err)
		}
		return SearchResult{}
	}

	source := SourceYouTube
	if typ == PlaylistTypeAlbum {
		source = SourceYTMusic
	}
	pl := NewPlaylist(PlaylistData{
		ID:     meta.ID,
		Title:  meta.Title,
		URL:    link,
		Type:   typ,
		Source: source,
		Author: PlaylistAuthor{Name: meta.Uploader},
	})

	tracks := make([]*Track, 0, len(entries))
	for _, e := range entries {
		tracks = append(tracks, NewTrack(TrackData{
			Title:       e.Title,
			Author:      e.Uploader,
			URL:         e.URL,
			DurationMS:  e.Duration.Milliseconds(),
			RequestedBy: requestedBy,
			Source:      source,
			Playlist:    pl,
		}))
	}
	pl.SetTracks(tracks)
	return SearchResult{Playlist: pl, Tracks: tracks}
}

// ytdlpMetadata is a single-item lookup result.
type ytdlpMetadata struct {
	URL       string
	Title     string
	Uploader  string
	Thumbnail string
	Duration  time.Duration
	Views     int64
}

// ytdlpLookup fetches metadata for one media URL without downloading.
func ytdlpLookup(ctx context.Context, link string) (*ytdlpMetadata, error) {
	res, err := ytdlp.New().
		Print("%(webpage_url)s\t%(title)s\t%(uploader)s\t%(duration)s\t%(view_count)s\t%(thumbnail)s").
		NoPlaylist().
		NoWarnings().
		IgnoreConfig().
		Run(ctx, "--skip-download", link)
	if err != nil {
		return nil, err
	}
	for _, l := range strings.Split(strings.TrimSpace(res.Stdout), "\n") {
		ps := strings.Split(l, "\t")
		if len(ps) < 6 {
			continue
		}
		d, _ := time.ParseDuration(ps[3] + "s")
		views, _ := strconv.ParseInt(ps[4], 10, 64)
		return &ytdlpMetadata{
			URL:       ps[0],
			Title:     ps[1],
			Uploader:  ps[2],
			Duration:  d,
			Views:     views,
			Thumbnail: ps[5],
		}, nil
	}
	return nil, fmt.Errorf("no metadata for %s", link)
}

// ytdlpEntry is one flat-playlist row.
type ytdlpEntry struct {
	URL      string
	Title    string
	Uploader string
	Duration time.Duration
}

// ytdlpCollection is the collection metadata repeated on every flat row.
type ytdlpCollection struct {
	ID       string
	Title    string
	Uploader string
}

// ytdlpExpand lists a playlist or album without downloading its items.
func ytdlpExpand(ctx context.Context, link string, limit int) ([]ytdlpEntry, ytdlpCollection, error) {
	res, err := ytdlp.New().
		FlatPlaylist().
		Print("%(url)s\t%(title)s\t%(uploader)s\t%(duration)s\t%(playlist_id)s\t%(playlist_title)s\t%(playlist_uploader)s").
		PlaylistItems(fmt.Sprintf("1-%d", limit)).
		NoWarnings().
		IgnoreConfig().
		Run(ctx, link)
	if err != nil {
		return nil, ytdlpCollection{}, err
	}
	var entries []ytdlpEntry
	var meta ytdlpCollection
	for _, l := range strings.Split(strings.TrimSpace(res.Stdout), "\n") {
		ps := strings.Split(l, "\t")
		if len(ps) < 7 {
			continue
		}
		d, _ := time.ParseDuration(ps[3] + "s")
		entries = append(entries, ytdlpEntry{URL: ps[0], Title: ps[1], Uploader: ps[2], Duration: d})
		meta = ytdlpCollection{ID: ps[4], Title: ps[5], Uploader: ps[6]}
	}
	return entries, meta, nil
}
