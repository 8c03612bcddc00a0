package transcript

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		line   string
		want   string
		wantOK bool
	}{
		{"open the door", "open the door", true},
		{"  padded  ", "padded", true},
		{"", "", false},
		{"   ", "", false},
		{`{"text": "stop now"}`, "stop now", true},
		{`{"text": ""}`, "", false},
		{`{"partial": "sto"}`, "", false},
		{`{not json`, `{not json`, true},
	}
	for _, tt := range tests {
		got, ok := ParseLine(tt.line)
		assert.Equal(t, tt.wantOK, ok, "line %q", tt.line)
		assert.Equal(t, tt.want, got, "line %q", tt.line)
	}
}

func TestReaderSource(t *testing.T) {
	in := strings.NewReader("one\n\n{\"partial\":\"tw\"}\n{\"text\":\"two\"}\nthree\n")
	var got []string
	err := NewReaderSource(in, nil).Run(context.Background(), func(text string) error {
		got = append(got, text)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two", "three"}, got)
}

func TestReaderSourceFeedError(t *testing.T) {
	stop := errors.New("closed")
	calls := 0
	err := NewReaderSource(strings.NewReader("a\nb\nc\n"), nil).Run(context.Background(), func(string) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestPathSourceReopens(t *testing.T) {
	fs := afero.NewMemMapFs()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu  sync.Mutex
		got []string
	)
	src := NewPathSource(fs, "/run/asr.fifo", Options{RetryDelay: time.Millisecond, ReopenDelay: time.Millisecond})
	done := make(chan error, 1)
	go func() {
		done <- src.Run(ctx, func(text string) error {
			mu.Lock()
			got = append(got, text)
			n := len(got)
			mu.Unlock()
			if n == 4 {
				cancel()
			}
			return nil
		})
	}()

	// Missing at first; the source keeps retrying.
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, afero.WriteFile(fs, "/run/asr.fifo", []byte("open\nclose\n"), 0o644))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("source did not stop")
	}

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(got), 4)
	assert.Equal(t, []string{"open", "close", "open", "close"}, got[:4])
}
