package intake

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"uplift/pkg/types"
)

type memFile struct {
	name string
	rel  string
	mime string
	data []byte
}

func (m *memFile) Name() string    { return m.name }
func (m *memFile) RelPath() string { return m.rel }
func (m *memFile) Type() string    { return m.mime }
func (m *memFile) Size() int64     { return int64(len(m.data)) }

func (m *memFile) Open() (io.ReadSeekCloser, error) {
	return nopCloser{bytes.NewReader(m.data)}, nil
}

type nopCloser struct{ *bytes.Reader }

func (nopCloser) Close() error { return nil }

func handle(name, mime string) types.FileHandle {
	return &memFile{name: name, rel: name, mime: mime}
}

type recordingNotifier struct {
	calls    int
	rejected int
}

func (r *recordingNotifier) FilesRejected(count int) {
	r.calls++
	r.rejected += count
}

func TestAddAcceptsMatchingFiles(t *testing.T) {
	n := &recordingNotifier{}
	in := New(CompilePolicy(".png|image/*"), n)

	accepted := in.Add([]types.FileHandle{
		handle("photo.png", "image/png"),
		handle("scan.jpeg", "image/jpeg"),
	})

	assert.Equal(t, 2, accepted)
	assert.Len(t, in.Pending(), 2)
	assert.Equal(t, 0, n.calls)
}

func TestAddRejectsAndNotifiesOncePerBatch(t *testing.T) {
	n := &recordingNotifier{}
	in := New(CompilePolicy(".png"), n)

	accepted := in.Add([]types.FileHandle{
		handle("report.pdf", "application/pdf"),
		handle("notes.txt", "text/plain"),
		handle("photo.png", "image/png"),
	})

	assert.Equal(t, 1, accepted)
	require.Len(t, in.Pending(), 1)
	assert.Equal(t, "photo.png", in.Pending()[0].File.RelPath())

	// one notice for the whole batch, carrying both rejects
	assert.Equal(t, 1, n.calls)
	assert.Equal(t, 2, n.rejected)
}

func TestAddAllRejectedStagesNothing(t *testing.T) {
	n := &recordingNotifier{}
	in := New(CompilePolicy(".png"), n)

	accepted := in.Add([]types.FileHandle{handle("report.pdf", "application/pdf")})

	assert.Equal(t, 0, accepted)
	assert.Empty(t, in.Pending())
	assert.Equal(t, 1, n.calls)
}

func TestCommitDrainsAddingSet(t *testing.T) {
	in := New(Policy{}, nil)
	in.Add([]types.FileHandle{handle("a.bin", ""), handle("b.bin", "")})

	items := in.Commit()
	require.Len(t, items, 2)
	assert.Equal(t, "a.bin", items[0].File.RelPath())
	assert.Equal(t, "b.bin", items[1].File.RelPath())
	assert.Empty(t, in.Pending())
}

func TestSetCommentAndRemove(t *testing.T) {
	in := New(Policy{}, nil)
	in.Add([]types.FileHandle{handle("a.bin", ""), handle("b.bin", "")})

	in.SetComment("a.bin", "first half")
	in.Remove("b.bin")

	items := in.Commit()
	require.Len(t, items, 1)
	assert.Equal(t, "a.bin", items[0].File.RelPath())
	assert.Equal(t, "first half", items[0].Comment)
}
