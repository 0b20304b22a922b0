package ui

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func answerWithin(t *testing.T, ch <-chan bool) bool {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("no answer")
		return false
	}
}

func TestConfirmResumeParsesAnswer(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{"yes", "y\n", true},
		{"yes long form", "YES\n", true},
		{"no", "n\n", false},
		{"empty line rejects", "\n", false},
		{"closed input rejects", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := &bytes.Buffer{}
			c := &Console{out: out, in: strings.NewReader(tt.input)}

			ch := c.ConfirmResume("big.bin", 4_000_000, 10_000_000, time.Now().Add(25*time.Second))
			assert.Equal(t, tt.want, answerWithin(t, ch))

			prompt := out.String()
			assert.Contains(t, prompt, "big.bin")
			assert.Contains(t, prompt, "40%")
		})
	}
}

func TestUploadFailedMessages(t *testing.T) {
	out := &bytes.Buffer{}
	c := &Console{out: out}

	c.UploadFailed("huge.bin", 413)
	assert.Contains(t, out.String(), "too large")

	out.Reset()
	c.UploadFailed("bad.bin", 500)
	assert.Contains(t, out.String(), "status 500")
}

func TestQueueSummaryFormatsBytes(t *testing.T) {
	out := &bytes.Buffer{}
	c := &Console{out: out}

	c.QueueSummary(3, 10*1024*1024, 1)
	s := out.String()
	assert.Contains(t, s, "3 file(s)")
	assert.Contains(t, s, "10.0 MB")
	assert.Contains(t, s, "1 error(s)")
}

func TestWatchingFlag(t *testing.T) {
	c := NewConsole()
	require.False(t, c.Watching())
	c.SetWatching(true)
	assert.True(t, c.Watching())
	c.SetWatching(false)
	assert.False(t, c.Watching())
}
