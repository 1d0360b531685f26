package player

import "testing"

func TestDetectQueryType(t *testing.T) {
	cases := []struct {
		query string
		want  QueryType
	}{
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ", QueryVideo},
		{"https://youtu.be/dQw4w9WgXcQ", QueryVideo},
		{"https://m.youtube.com/watch?v=dQw4w9WgXcQ", QueryVideo},
		{"youtube.com/watch?v=dQw4w9WgXcQ", QueryVideo},

		{"https://www.youtube.com/playlist?list=PLx65qkgCWNJIs3FPVyoDgnMxQgXUm2zBa", QueryPlaylist},
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ&list=PLx65qkgCWNJIs3FPVyoDgnMxQgXUm2zBa", QueryPlaylist},
		{"https://music.youtube.com/playlist?list=PLx65qkgCWNJIs3FPVyoDgnMxQgXUm2zBa", QueryPlaylist},

		{"https://music.youtube.com/browse/MPREb_abc123XYZ", QueryAlbum},
		{"https://music.youtube.com/playlist?list=OLAK5uy_abc123XYZ", QueryAlbum},
		{"https://open.spotify.com/album/4aawyAB9vmqN3uQ7FjRGTy", QueryAlbum},
		{"https://open.spotify.com/intl-de/album/4aawyAB9vmqN3uQ7FjRGTy", QueryAlbum},

		{"https://open.spotify.com/track/11dFghVXANMlKmJXsNCbNl", QueryTrack},
		{"https://open.spotify.com/intl-ja/track/11dFghVXANMlKmJXsNCbNl", QueryTrack},
		{"https://music.youtube.com/watch?v=dQw4w9WgXcQ", QueryTrack},

		{"yt: never gonna give you up", QueryVideoSearch},
		{"YT:lofi beats", QueryVideoSearch},

		{"never gonna give you up", QuerySearch},
		{"", QuerySearch},
		{"  spaced out query  ", QuerySearch},
		{"https://example.com/watch?v=nope", QuerySearch},
	}
	for _, c := range cases {
		if got := DetectQueryType(c.query); got != c.want {
			t.Errorf("DetectQueryType(%q) = %s, want %s", c.query, got, c.want)
		}
	}
}

func TestStripSearchPrefix(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"yt: never gonna", "never gonna"},
		{"yt:tight", "tight"},
		{"YT: upper", "upper"},
		{"no prefix here", "no prefix here"},
		{"  yt: padded  ", "padded"},
	}
	for _, c := range cases {
		if got := stripSearchPrefix(c.in); got != c.want {
			t.Errorf("stripSearchPrefix(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
