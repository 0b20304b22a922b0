// Package types holds the data model shared between the upload engine's
// components: file handles, pending items, transfer requests and results,
// and the payloads carried on the notification channel.
package types

import (
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// FileHandle describes one file offered for upload. The relative path is the
// file's stable identity within a destination; the declared type is whatever
// the picker reported and is only used for accept-policy matching.
type FileHandle interface {
	// Name returns the file's base name.
	Name() string
	// RelPath returns the path relative to the picked root, using forward slashes.
	RelPath() string
	// Type returns the declared MIME type, possibly empty.
	Type() string
	// Size returns the file size in bytes.
	Size() int64
	// Open opens the file content for reading.
	Open() (io.ReadSeekCloser, error)
}

// PendingItem is a file waiting in the queue, with an optional user comment
// forwarded to the server.
type PendingItem struct {
	File    FileHandle
	Comment string
}

// OSFile implements FileHandle over a file on disk, rooted at the directory
// the user picked so RelPath stays stable across folders.
type OSFile struct {
	path string
	rel  string
	mime string
	size int64
}

// NewOSFile stats path and derives its relative identity from root. An empty
// root makes the base name the relative path, matching a flat file picker.
func NewOSFile(root, path string) (*OSFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	rel := filepath.Base(path)
	if root != "" {
		if r, err := filepath.Rel(root, path); err == nil {
			rel = r
		}
	}

	return &OSFile{
		path: path,
		rel:  filepath.ToSlash(rel),
		mime: mime.TypeByExtension(filepath.Ext(path)),
		size: info.Size(),
	}, nil
}

func (f *OSFile) Name() string    { return filepath.Base(f.path) }
func (f *OSFile) RelPath() string { return f.rel }
func (f *OSFile) Size() int64     { return f.size }

// Type strips any parameters the mime package attaches (e.g. "; charset=utf-8").
func (f *OSFile) Type() string {
	t, _, _ := strings.Cut(f.mime, ";")
	return strings.TrimSpace(t)
}

func (f *OSFile) Open() (io.ReadSeekCloser, error) {
	return os.Open(f.path)
}

// Transfer status codes. The engine reuses HTTP status codes end to end; zero
// is the transport-aborted marker used for pause-for-resume handoffs.
const (
	StatusAborted  = 0
	StatusConflict = http.StatusConflict
	StatusTooLarge = http.StatusRequestEntityTooLarge
)

// IsSuccess reports whether code is a 2xx upload result.
func IsSuccess(code int) bool { return code >= 200 && code < 300 }

// IsError reports whether code counts as an upload error. The conflict code is
// the server declining a skip-existing upload and is neither success nor error.
func IsError(code int) bool { return code >= 400 && code != StatusConflict }

// Notification channel event names.
const (
	EventResumable = "upload.resumable"
	EventStatus    = "upload.status"
)

// ResumeOffer is the server-pushed hint that a partial upload exists for a
// relative path. Expires is a unix timestamp; zero means no expiry was given.
type ResumeOffer struct {
	Size    int64 `json:"size"`
	Expires int64 `json:"expires,omitempty"`
}

// UploadRequest describes one transfer attempt of a pending item.
type UploadRequest struct {
	Item         PendingItem
	Destination  string
	ResumeOffset int64
	ChannelID    string
	SkipExisting bool
}

// UploadResult is the terminal outcome of one transfer attempt. Status 0 with
// Handoff set means the request was aborted to restart at a new offset and the
// queue must not advance. Err is set only for transport-level failures.
type UploadResult struct {
	Status  int
	Sent    int64
	Err     error
	Handoff bool
}

// ProgressUpdate is published while a transfer is running. PartialBytes
// includes the resume offset so progress stays continuous across restarts.
type ProgressUpdate struct {
	PartialBytes int64
	Fraction     float64
	Delta        int64
}

// Snapshot is a point-in-time view of the shared upload state, consumed by
// the console reporter and the estimator.
type Snapshot struct {
	ActiveName   string
	ActiveSize   int64
	PartialBytes int64
	Fraction     float64
	QueuedItems  int
	QueuedBytes  int64
	Paused       bool
	SkipExisting bool
	DoneCount    int
	DoneBytes    int64
	ErrorCount   int
	Speed        float64
	ETASeconds   float64
}
