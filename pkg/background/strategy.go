// Package background acquires the optional music bed: every source URL is
// tried against an ordered fallback chain of download strategies, and the
// surviving tracks are joined into one audio.Bed.
package background

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/realtime-ai/workout-audio/pkg/audio"
)

// ErrNoAudio is returned when a strategy finishes without usable audio.
var ErrNoAudio = errors.New("no audio")

// Strategy fetches the audio of one remote source.
type Strategy interface {
	Name() string
	Fetch(ctx context.Context, url string) (*audio.Segment, error)
}

// HTTPStatusError is an unexpected HTTP response from a remote service.
type HTTPStatusError struct {
	URL  string
	Code int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("GET %s: status %d", e.URL, e.Code)
}

// ToolError is a non-zero exit of an external downloader. Stderr is kept
// for classification and logging.
type ToolError struct {
	Tool   string
	Stderr string
	Err    error
}

func (e *ToolError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if i := strings.LastIndex(msg, "\n"); i >= 0 {
		msg = msg[i+1:]
	}
	if msg == "" {
		return fmt.Sprintf("%s: %v", e.Tool, e.Err)
	}
	return fmt.Sprintf("%s: %v: %s", e.Tool, e.Err, msg)
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

// Messages yt-dlp prints for failures that may succeed on a later attempt.
var transientToolMessages = []string{
	"timed out",
	"connection reset",
	"connection refused",
	"temporary failure in name resolution",
	"http error 429",
	"http error 500",
	"http error 502",
	"http error 503",
	"http error 504",
	"unable to download webpage",
	"read timed out",
	"remote end closed connection",
}

// Messages that no retry will fix.
var permanentToolMessages = []string{
	"video unavailable",
	"private video",
	"unsupported url",
	"http error 403",
	"http error 404",
	"is not a valid url",
	"requested format is not available",
	"sign in to confirm your age",
}

// IsTransient reports whether err is worth retrying with the same strategy:
// timeouts, dropped connections, HTTP 5xx/429 and yt-dlp network failures.
// Everything else (malformed URLs, 403/404, missing videos or audio streams)
// is permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var marked *transientError
	if errors.As(err, &marked) {
		return true
	}
	if errors.Is(err, ErrNoAudio) || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code == 429 || statusErr.Code >= 500
	}

	var toolErr *ToolError
	if errors.As(err, &toolErr) {
		stderr := strings.ToLower(toolErr.Stderr)
		for _, m := range permanentToolMessages {
			if strings.Contains(stderr, m) {
				return false
			}
		}
		for _, m := range transientToolMessages {
			if strings.Contains(stderr, m) {
				return true
			}
		}
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}

// transientError marks an aggregate failure as retryable as a whole.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// StrategyFailure is the last error one strategy returned for a source.
type StrategyFailure struct {
	Strategy string
	Err      error
}

// AcquisitionError reports a source that every strategy failed on. It is
// logged and counted, never returned to the caller of Acquire.
type AcquisitionError struct {
	URL      string
	Failures []StrategyFailure
}

func (e *AcquisitionError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %v", f.Strategy, f.Err))
	}
	return fmt.Sprintf("acquire %s: all strategies failed (%s)", e.URL, strings.Join(parts, "; "))
}

func (e *AcquisitionError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}
