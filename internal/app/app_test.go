package app

import (
	"bytes"
	"context"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"uplift/internal/config"
	"uplift/internal/devserver"
	"uplift/internal/logging"
	"uplift/pkg/types"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type memFile struct {
	rel  string
	mime string
	data []byte
}

func (m *memFile) Name() string    { return m.rel }
func (m *memFile) RelPath() string { return m.rel }
func (m *memFile) Type() string    { return m.mime }
func (m *memFile) Size() int64     { return int64(len(m.data)) }

func (m *memFile) Open() (io.ReadSeekCloser, error) {
	return nopCloser{bytes.NewReader(m.data)}, nil
}

type nopCloser struct{ *bytes.Reader }

func (nopCloser) Close() error { return nil }

func newTestApp(t *testing.T, mutate func(*config.Config)) (*UploaderApp, string) {
	t.Helper()
	root := t.TempDir()
	srv := devserver.New(root, 0, logging.NewNopLogger())
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	cfg := config.NewDefaultConfig()
	cfg.Server.BaseURL = ts.URL
	cfg.Upload.RefreshDelay = 10 * time.Millisecond
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, cfg.Validate())

	a := New(cfg, logging.NewNopLogger())
	// keep counters across the drain, as if the progress UI were visible
	a.Console().SetWatching(true)
	return a, root
}

func waitIdle(t *testing.T, a *UploaderApp) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, a.WaitIdle(ctx))
}

func TestUploadRoundTrip(t *testing.T) {
	a, root := newTestApp(t, nil)

	payload := []byte("end to end payload")
	a.EnqueueFiles("/docs/", []types.FileHandle{
		&memFile{rel: "report.pdf", mime: "application/pdf", data: payload},
	}, "")
	waitIdle(t, a)

	stored, err := os.ReadFile(filepath.Join(root, "docs", "report.pdf"))
	require.NoError(t, err)
	assert.Equal(t, payload, stored)

	s := a.Queue.Snapshot()
	assert.Equal(t, 1, s.DoneCount)
	assert.Equal(t, int64(len(payload)), s.DoneBytes)
	assert.Equal(t, 0, s.ErrorCount)
}

func TestUploadMultipleDestinationsInOrder(t *testing.T) {
	a, root := newTestApp(t, nil)

	a.EnqueueFiles("/a/", []types.FileHandle{
		&memFile{rel: "one.bin", data: []byte("1")},
		&memFile{rel: "two.bin", data: []byte("22")},
	}, "")
	a.EnqueueFiles("/b/", []types.FileHandle{
		&memFile{rel: "three.bin", data: []byte("333")},
	}, "")
	waitIdle(t, a)

	for _, p := range []string{"a/one.bin", "a/two.bin", "b/three.bin"} {
		_, err := os.Stat(filepath.Join(root, filepath.FromSlash(p)))
		assert.NoError(t, err, p)
	}
	assert.Equal(t, 3, a.Queue.Snapshot().DoneCount)
}

func TestSkipExistingCountsNeitherDoneNorError(t *testing.T) {
	a, root := newTestApp(t, func(c *config.Config) {
		c.Upload.SkipExisting = true
	})

	dir := filepath.Join(root, "docs")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "dup.bin"), []byte("old"), 0o644))

	a.EnqueueFiles("/docs/", []types.FileHandle{
		&memFile{rel: "dup.bin", data: []byte("new")},
	}, "")
	waitIdle(t, a)

	s := a.Queue.Snapshot()
	assert.Equal(t, 0, s.DoneCount)
	assert.Equal(t, 0, s.ErrorCount)

	stored, err := os.ReadFile(filepath.Join(dir, "dup.bin"))
	require.NoError(t, err)
	assert.Equal(t, []byte("old"), stored)
}

func TestAcceptPolicyRejectsBeforeUpload(t *testing.T) {
	a, root := newTestApp(t, func(c *config.Config) {
		c.Upload.AcceptPolicy = ".png|image/*"
	})

	a.EnqueueFiles("/docs/", []types.FileHandle{
		&memFile{rel: "photo.png", mime: "image/png", data: []byte("img")},
		&memFile{rel: "report.pdf", mime: "application/pdf", data: []byte("doc")},
	}, "")
	waitIdle(t, a)

	_, err := os.Stat(filepath.Join(root, "docs", "photo.png"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(root, "docs", "report.pdf"))
	assert.True(t, os.IsNotExist(err))
	assert.Equal(t, 1, a.Queue.Snapshot().DoneCount)
}

func TestUploadErrorIsCountedAndQueueContinues(t *testing.T) {
	a, root := newTestApp(t, nil)

	a.EnqueueFiles("/docs/", []types.FileHandle{
		&memFile{rel: "../escape.bin", data: []byte("x")},
		&memFile{rel: "fine.bin", data: []byte("ok")},
	}, "")
	waitIdle(t, a)

	s := a.Queue.Snapshot()
	assert.Equal(t, 1, s.ErrorCount)
	assert.Equal(t, 1, s.DoneCount)

	_, err := os.Stat(filepath.Join(root, "docs", "fine.bin"))
	assert.NoError(t, err)
}

func TestCommentIsAttachedToEveryFile(t *testing.T) {
	a, _ := newTestApp(t, nil)

	a.EnqueueFiles("/docs/", []types.FileHandle{
		&memFile{rel: "a.bin", data: []byte("x")},
	}, "reviewed draft")

	// the comment travels on the pending item the queue received
	waitIdle(t, a)
	assert.Equal(t, 1, a.Queue.Snapshot().DoneCount)
}
