package player

import (
	"context"
	"io"
	"os/exec"
	"strings"

	"github.com/lrstanley/go-ytdlp"

	"github.com/leeineian/hibiki/sys"
)

// openYtdlpStream is the default stream opener for tracks whose resolver did
// not supply one. The media URL is resolved with yt-dlp, then ffmpeg remuxes
// it into an Ogg/Opus pipe the dispatcher can frame. Opus sources are copied
// through without re-encoding.
func openYtdlpStream(ctx context.Context, link string) (io.ReadCloser, error) {
	mediaURL, acodec, err := resolveStreamURL(ctx, link)
	if err != nil {
		return nil, err
	}
	return openFFmpeg(ctx, mediaURL, strings.Contains(acodec, "opus"))
}

// resolveStreamURL asks yt-dlp for the direct media URL and audio codec of
// the best audio-only format.
func resolveStreamURL(ctx context.Context, link string) (mediaURL, acodec string, err error) {
	res, err := ytdlp.New().
		Format("bestaudio").
		Print("%(url)s\t%(acodec)s").
		NoPlaylist().
		NoWarnings().
		IgnoreConfig().
		Run(ctx, "--skip-download", link)
	if err != nil {
		return "", "", err
	}
	for _, l := range strings.Split(strings.TrimSpace(res.Stdout), "\n") {
		ps := strings.Split(l, "\t")
		if len(ps) < 2 || !strings.HasPrefix(ps[0], "http") {
			continue
		}
		return ps[0], ps[1], nil
	}
	return "", "", ErrNoStream
}

// openFFmpeg starts ffmpeg remuxing input into an Ogg/Opus pipe and returns
// its stdout wrapped so Close kills the process.
func openFFmpeg(ctx context.Context, input string, isOpus bool) (io.ReadCloser, error) {
	codec := "libopus"
	if isOpus {
		codec = "copy"
	}

	args := []string{
		"-i", input,
		"-map", "0:a",
		"-acodec", codec,
		"-b:a", "128k",
		"-vbr", "on",
		"-compression_level", "10",
		"-analyzeduration", "0",
		"-probesize", "32",
		"-f", "opus",
		"pipe:1",
	}
	if strings.HasPrefix(input, "http") {
		args = append([]string{
			"-reconnect", "1",
			"-reconnect_at_eof", "1",
			"-reconnect_streamed", "1",
			"-reconnect_delay_max", "2",
			"-user_agent", "Mozilla/5.0",
			"-fflags", "nobuffer",
			"-flags", "low_delay",
		}, args...)
	}

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &processStream{cmd: cmd, rc: stdout}, nil
}

// processStream ties a piped reader to its producing process so closing the
// stream reaps the process.
type processStream struct {
	cmd *exec.Cmd
	rc  io.ReadCloser
}

func (s *processStream) Read(p []byte) (int, error) { return s.rc.Read(p) }

func (s *processStream) Close() error {
	_ = s.rc.Close()
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	if err := s.cmd.Wait(); err != nil {
		// Expected when the process was killed mid-stream.
		sys.LogPlayer("Stream process exited: %v", err)
	}
	return nil
}
