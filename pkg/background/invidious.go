package background

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/realtime-ai/workout-audio/pkg/audio"
)

// DefaultInvidiousInstances are public Invidious API servers, tried in order.
var DefaultInvidiousInstances = []string{
	"https://invidious.protokolla.fi",
	"https://invidious.slipfox.xyz",
	"https://invidio.xamh.de",
}

// ErrNoVideoID is returned for URLs that do not name a YouTube video.
var ErrNoVideoID = errors.New("no video id in url")

// ErrStreamTooLarge is returned when a download exceeds the size limit.
var ErrStreamTooLarge = errors.New("stream too large")

// maxAPIBytes bounds an Invidious API response.
const maxAPIBytes = 8 << 20

// BytesDecoder decodes an in-memory audio file.
type BytesDecoder interface {
	Decode(ctx context.Context, data []byte) (*audio.Segment, error)
}

// Invidious resolves the video through the Invidious API and downloads its
// lowest-bitrate audio-only stream directly.
type Invidious struct {
	instances  []string
	decoder    BytesDecoder
	httpClient *http.Client
	maxBytes   int64
}

// NewInvidious creates the strategy. An empty instance list uses
// DefaultInvidiousInstances.
func NewInvidious(instances []string, decoder BytesDecoder) *Invidious {
	if len(instances) == 0 {
		instances = DefaultInvidiousInstances
	}
	return &Invidious{
		instances:  instances,
		decoder:    decoder,
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		maxBytes:   512 << 20,
	}
}

// Name returns the strategy name.
func (i *Invidious) Name() string {
	return "invidious"
}

// Fetch tries every instance in order. The error is transient when any
// instance failed transiently.
func (i *Invidious) Fetch(ctx context.Context, rawURL string) (*audio.Segment, error) {
	if i.decoder == nil {
		return nil, errors.New("invidious: no decoder configured")
	}
	id, err := VideoID(rawURL)
	if err != nil {
		return nil, err
	}

	var errs []error
	transient := false
	for _, instance := range i.instances {
		seg, err := i.fetchFrom(ctx, strings.TrimRight(instance, "/"), id)
		if err == nil {
			return seg, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		transient = transient || IsTransient(err)
		errs = append(errs, fmt.Errorf("%s: %w", instance, err))
	}
	if transient {
		return nil, &transientError{err: errors.Join(errs...)}
	}
	return nil, errors.Join(errs...)
}

func (i *Invidious) fetchFrom(ctx context.Context, instance, id string) (*audio.Segment, error) {
	body, err := i.get(ctx, instance+"/api/v1/videos/"+url.PathEscape(id), "application/json", maxAPIBytes)
	if err != nil {
		return nil, err
	}

	streamURL := lowestBitrateAudio(body)
	if streamURL == "" {
		return nil, fmt.Errorf("no audio stream: %w", ErrNoAudio)
	}

	data, err := i.get(ctx, streamURL, "*/*", i.maxBytes)
	if err != nil {
		return nil, err
	}
	seg, err := i.decoder.Decode(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("decode stream: %w", err)
	}
	return seg, nil
}

// get downloads target, failing with ErrStreamTooLarge past limit bytes
// rather than handing back a truncated body.
func (i *Invidious) get(ctx context.Context, target, accept string, limit int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", randomUserAgent())
	req.Header.Set("Accept", accept)
	req.Header.Set("Referer", "https://www.google.com/")

	resp, err := i.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPStatusError{URL: target, Code: resp.StatusCode}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: %s is over %d bytes", ErrStreamTooLarge, req.URL.Host, limit)
	}
	return data, nil
}

// lowestBitrateAudio picks the audio-only adaptive format with the smallest
// bitrate from an Invidious video response.
func lowestBitrateAudio(body []byte) string {
	var best string
	var bestRate int64 = -1
	gjson.GetBytes(body, "adaptiveFormats").ForEach(func(_, f gjson.Result) bool {
		if !strings.HasPrefix(f.Get("type").String(), "audio/") {
			return true
		}
		u := f.Get("url").String()
		if u == "" {
			return true
		}
		// Some instances send the bitrate as a string.
		rate := f.Get("bitrate").Int()
		if bestRate < 0 || rate < bestRate {
			best, bestRate = u, rate
		}
		return true
	})
	return best
}

// VideoID extracts the YouTube video id from watch, short-link, shorts and
// embed URLs.
func VideoID(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoVideoID, err)
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	host = strings.TrimPrefix(host, "m.")
	path := strings.Trim(u.Path, "/")

	var id string
	switch {
	case host == "youtu.be":
		id = strings.SplitN(path, "/", 2)[0]
	case strings.HasSuffix(host, "youtube.com"):
		if v := u.Query().Get("v"); v != "" {
			id = v
		} else if rest, ok := strings.CutPrefix(path, "shorts/"); ok {
			id = rest
		} else if rest, ok := strings.CutPrefix(path, "embed/"); ok {
			id = rest
		}
	}
	if id == "" {
		return "", fmt.Errorf("%w: %s", ErrNoVideoID, rawURL)
	}
	return id, nil
}
