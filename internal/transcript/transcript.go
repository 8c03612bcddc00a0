// Package transcript reads recognised utterances, one per line, from an
// external speech recogniser and hands them to a feed function.
//
// A line is either plain text or a recogniser result object such as
// {"text": "open the door"}. Partial results ({"partial": ...}) are skipped.
package transcript

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/afero"
)

const (
	DefaultRetryDelay  = 500 * time.Millisecond
	DefaultReopenDelay = 200 * time.Millisecond

	maxLine = 1 << 20
)

// FeedFunc receives one utterance. A non-nil error stops the source.
type FeedFunc func(text string) error

// Options tunes a path Source. Zero values select defaults.
type Options struct {
	Logger      hclog.Logger
	RetryDelay  time.Duration // after a failed open
	ReopenDelay time.Duration // after the writer closes the file
}

// Source produces utterances from a reader or from a path that is reopened
// whenever the writer goes away, so a FIFO survives recogniser restarts.
type Source struct {
	r      io.Reader
	fs     afero.Fs
	path   string
	logger hclog.Logger

	retryDelay  time.Duration
	reopenDelay time.Duration
}

// NewReaderSource reads r until EOF.
func NewReaderSource(r io.Reader, logger hclog.Logger) *Source {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Source{r: r, logger: logger}
}

// NewPathSource reads path on fs, reopening it after EOF.
func NewPathSource(fs afero.Fs, path string, opts Options) *Source {
	if opts.Logger == nil {
		opts.Logger = hclog.NewNullLogger()
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.ReopenDelay <= 0 {
		opts.ReopenDelay = DefaultReopenDelay
	}
	return &Source{
		fs:          fs,
		path:        path,
		logger:      opts.Logger.With("path", path),
		retryDelay:  opts.RetryDelay,
		reopenDelay: opts.ReopenDelay,
	}
}

// Run feeds utterances until ctx is done, the reader is exhausted, or feed
// returns an error, which is passed through.
func (s *Source) Run(ctx context.Context, feed FeedFunc) error {
	if s.path == "" {
		return s.consume(ctx, s.r, feed)
	}
	for {
		f, err := s.fs.Open(s.path)
		if err != nil {
			s.logger.Warn("open failed", "error", err)
			if !sleep(ctx, s.retryDelay) {
				return nil
			}
			continue
		}
		s.logger.Debug("opened")
		err = s.consume(ctx, f, feed)
		f.Close()
		if err != nil {
			return err
		}
		if !sleep(ctx, s.reopenDelay) {
			return nil
		}
	}
}

func (s *Source) consume(ctx context.Context, r io.Reader, feed FeedFunc) error {
	if r == nil {
		return nil
	}
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 0, 64*1024), maxLine)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := sc.Err(); err != nil {
			s.logger.Warn("read failed", "error", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			text, ok := ParseLine(line)
			if !ok {
				continue
			}
			s.logger.Debug("utterance", "text", text)
			if err := feed(text); err != nil {
				return err
			}
		}
	}
}

type result struct {
	Text    string `json:"text"`
	Partial string `json:"partial"`
}

// ParseLine extracts the utterance from one line. The second result is false
// for blank lines and partial results.
func ParseLine(line string) (string, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", false
	}
	if strings.HasPrefix(line, "{") {
		var res result
		if err := json.Unmarshal([]byte(line), &res); err == nil {
			text := strings.TrimSpace(res.Text)
			return text, text != ""
		}
	}
	return line, true
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
