package background

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/realtime-ai/workout-audio/pkg/audio"
)

// Browser user agents rotated across download attempts.
var browserUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:109.0) Gecko/20100101 Firefox/115.0",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
}

func randomUserAgent() string {
	return browserUserAgents[rand.IntN(len(browserUserAgents))]
}

// FileDecoder decodes a downloaded audio file.
type FileDecoder interface {
	DecodeFile(ctx context.Context, path string) (*audio.Segment, error)
}

// Runner executes an external command and returns its stderr.
type Runner func(ctx context.Context, name string, args ...string) (stderr []byte, err error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stderr.Bytes(), err
}

// YtDLP downloads audio with the yt-dlp command line tool. The variants
// differ only in the flags they pass.
type YtDLP struct {
	name    string
	flags   func() []string
	binary  string
	tempDir string
	decoder FileDecoder
	run     Runner
}

// YtDLPConfig holds settings shared by every yt-dlp variant.
type YtDLPConfig struct {
	Binary  string // default "yt-dlp"
	TempDir string // default os.TempDir()
	Decoder FileDecoder
	Runner  Runner // default runs the binary
}

func newYtDLP(name string, cfg YtDLPConfig, flags func() []string) *YtDLP {
	y := &YtDLP{
		name:    name,
		flags:   flags,
		binary:  cfg.Binary,
		tempDir: cfg.TempDir,
		decoder: cfg.Decoder,
		run:     cfg.Runner,
	}
	if y.binary == "" {
		y.binary = "yt-dlp"
	}
	if y.tempDir == "" {
		y.tempDir = os.TempDir()
	}
	if y.run == nil {
		y.run = execRunner
	}
	return y
}

// NewYtDLPPrimary is the default download: 128K MP3 over IPv4 with a
// random browser user agent.
func NewYtDLPPrimary(cfg YtDLPConfig) *YtDLP {
	return newYtDLP("ytdlp-primary", cfg, func() []string {
		return []string{
			"--extract-audio",
			"--audio-format", "mp3",
			"--audio-quality", "128K",
			"--force-ipv4",
			"--socket-timeout", "30",
			"--retries", "3",
			"--user-agent", randomUserAgent(),
		}
	})
}

// NewYtDLPBrowser mimics a desktop browser session and asks for the
// android player client, which sidesteps some bot checks.
func NewYtDLPBrowser(cfg YtDLPConfig) *YtDLP {
	return newYtDLP("ytdlp-browser", cfg, func() []string {
		return []string{
			"--user-agent", randomUserAgent(),
			"--referer", "https://www.youtube.com/",
			"--add-header", "Accept:text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
			"--add-header", "Accept-Language:en-US,en;q=0.5",
			"--add-header", "DNT:1",
			"--geo-bypass",
			"--socket-timeout", "30",
			"--format", "bestaudio",
			"--extractor-args", "youtube:player_client=android",
			"--extract-audio",
			"--audio-format", "mp3",
			"--audio-quality", "192K",
		}
	})
}

// NewYtDLPMinimal runs yt-dlp with as few options as possible.
func NewYtDLPMinimal(cfg YtDLPConfig) *YtDLP {
	return newYtDLP("ytdlp-minimal", cfg, func() []string {
		return []string{"--extract-audio", "--audio-format", "mp3"}
	})
}

// NewYtDLPLowest fetches the smallest audio-only stream available.
func NewYtDLPLowest(cfg YtDLPConfig) *YtDLP {
	return newYtDLP("ytdlp-lowest", cfg, func() []string {
		return []string{
			"--format", "worstaudio",
			"--extract-audio",
			"--audio-format", "mp3",
			"--audio-quality", "9",
		}
	})
}

// Name returns the strategy name.
func (y *YtDLP) Name() string {
	return y.name
}

// Fetch downloads url to a temporary MP3 and decodes it.
func (y *YtDLP) Fetch(ctx context.Context, url string) (*audio.Segment, error) {
	if y.decoder == nil {
		return nil, fmt.Errorf("%s: no decoder configured", y.name)
	}
	base := filepath.Join(y.tempDir, "workout-bg-"+uuid.NewString())
	output := base + ".mp3"
	defer os.Remove(output)

	args := append([]string{"--no-playlist", "--quiet", "--no-progress"}, y.flags()...)
	args = append(args, "--output", base+".%(ext)s", url)

	stderr, err := y.run(ctx, y.binary, args...)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var execErr *exec.Error
		if errors.As(err, &execErr) {
			return nil, fmt.Errorf("%s: %w", y.name, err)
		}
		return nil, &ToolError{Tool: y.name, Stderr: string(stderr), Err: err}
	}

	info, err := os.Stat(output)
	if err != nil || info.Size() == 0 {
		return nil, fmt.Errorf("%s produced no file: %w", y.name, ErrNoAudio)
	}

	seg, err := y.decoder.DecodeFile(ctx, output)
	if err != nil {
		return nil, fmt.Errorf("decode download: %w", err)
	}
	return seg, nil
}
