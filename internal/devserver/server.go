// Package devserver is a local implementation of the collaborator endpoints
// the engine talks to: the resumable upload endpoint, the notification
// channel and folder creation. It exists for manual testing and integration
// tests; uploads land under a root directory on disk.
//
// Partial uploads are kept as "<name>.part" files. When a later upload of the
// same relative path arrives with a lower resume offset, the server pushes a
// resume offer on the request's notification channel, mirroring the
// production server's behavior.
package devserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"uplift/internal/logging"
	"uplift/pkg/types"
)

// offerTTL is how long a pushed resume offer stays valid.
const offerTTL = 30 * time.Second

// Server serves uploads rooted at a directory.
type Server struct {
	root    string
	maxSize int64
	log     logging.Logger

	mu       sync.Mutex
	channels map[string]map[chan sseMsg]struct{}
}

type sseMsg struct {
	event string
	data  []byte
}

// New creates a dev server storing files under root. maxSize of 0 accepts
// uploads of any size.
func New(root string, maxSize int64, log logging.Logger) *Server {
	return &Server{
		root:     root,
		maxSize:  maxSize,
		log:      log,
		channels: make(map[string]map[chan sseMsg]struct{}),
	}
}

// Router builds the gin handler.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/events", s.handleEvents)
	r.POST("/folders", s.handleCreateFolder)
	r.GET("/list", s.handleList)
	r.POST("/push", s.handlePush)

	// uploads POST to arbitrary destination paths
	r.NoRoute(func(c *gin.Context) {
		if c.Request.Method == http.MethodPost {
			s.handleUpload(c)
			return
		}
		c.Status(http.StatusNotFound)
	})
	return r
}

// handleUpload implements the resumable upload endpoint. The body is a
// single-part form whose part filename is the file's relative path; bytes are
// appended to a .part file at the resume offset and the file is renamed into
// place on completion.
func (s *Server) handleUpload(c *gin.Context) {
	dest := c.Request.URL.Path
	channel := c.Query("channel")
	skipExisting := c.Query("skipExisting") == "1"
	resume, err := strconv.ParseInt(c.DefaultQuery("resume", "0"), 10, 64)
	if err != nil || resume < 0 {
		c.String(http.StatusBadRequest, "bad resume offset")
		return
	}

	mr, err := c.Request.MultipartReader()
	if err != nil {
		c.String(http.StatusBadRequest, "bad multipart body")
		return
	}
	part, err := nextFilePart(mr)
	if err != nil {
		c.String(http.StatusBadRequest, "missing file part")
		return
	}
	defer part.Close()

	rel := partFileName(part)
	if rel == "" || strings.Contains(rel, "..") {
		c.String(http.StatusBadRequest, "bad relative path")
		return
	}

	final, err := s.securePath(dest, rel)
	if err != nil {
		c.String(http.StatusBadRequest, "bad destination path")
		return
	}
	partial := final + ".part"

	if skipExisting {
		if _, err := os.Stat(final); err == nil {
			c.Status(http.StatusConflict)
			return
		}
	}

	// a larger partial than the client's offset means it can resume instead
	// of re-sending; tell it out of band and keep accepting this request
	if info, err := os.Stat(partial); err == nil && info.Size() > resume && channel != "" {
		s.publishResumable(channel, rel, info.Size())
	}

	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		c.String(http.StatusInternalServerError, "failed to create destination")
		return
	}

	f, err := os.OpenFile(partial, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		c.String(http.StatusInternalServerError, "failed to open partial file")
		return
	}
	defer f.Close()

	if err := f.Truncate(resume); err != nil {
		c.String(http.StatusInternalServerError, "failed to truncate partial file")
		return
	}
	if _, err := f.Seek(resume, io.SeekStart); err != nil {
		c.String(http.StatusInternalServerError, "failed to seek partial file")
		return
	}

	written, err := io.Copy(f, s.limit(part, resume))
	if err != nil {
		if errors.Is(err, errTooLarge) {
			c.Status(http.StatusRequestEntityTooLarge)
			return
		}
		// client went away mid-body; keep the partial for a later resume
		s.log.Warn(c.Request.Context(), "upload interrupted",
			"path", rel, "received", written, "err", err)
		c.Status(http.StatusBadRequest)
		return
	}

	if err := os.Rename(partial, final); err != nil {
		c.String(http.StatusInternalServerError, "failed to finalize upload")
		return
	}

	s.log.Info(c.Request.Context(), "upload stored",
		"path", rel, "destination", dest, "bytes", resume+written,
		"comment", c.Query("comment"))
	c.Status(http.StatusOK)
}

var errTooLarge = errors.New("upload exceeds size cap")

// limit enforces the size cap counting from the resume offset.
func (s *Server) limit(r io.Reader, offset int64) io.Reader {
	if s.maxSize <= 0 {
		return r
	}
	return &cappedReader{r: r, remaining: s.maxSize - offset}
}

type cappedReader struct {
	r         io.Reader
	remaining int64
}

func (c *cappedReader) Read(p []byte) (int, error) {
	if c.remaining <= 0 {
		return 0, errTooLarge
	}
	if int64(len(p)) > c.remaining {
		p = p[:c.remaining]
	}
	n, err := c.r.Read(p)
	c.remaining -= int64(n)
	return n, err
}

// nextFilePart skips form fields until the file part.
func nextFilePart(mr *multipart.Reader) (*multipart.Part, error) {
	for {
		part, err := mr.NextPart()
		if err != nil {
			return nil, err
		}
		if partFileName(part) != "" {
			return part, nil
		}
	}
}

// partFileName reads the raw filename parameter. Part.FileName passes the
// value through filepath.Base, which would strip the relative path the client
// encodes there.
func partFileName(p *multipart.Part) string {
	_, params, err := mime.ParseMediaType(p.Header.Get("Content-Disposition"))
	if err != nil {
		return ""
	}
	return params["filename"]
}

// handleEvents is the notification channel: a server-sent-events stream
// scoped to the client-chosen channel id.
func (s *Server) handleEvents(c *gin.Context) {
	channel := c.Query("channel")
	if channel == "" {
		c.String(http.StatusBadRequest, "missing channel id")
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Writer.Flush()

	ch := make(chan sseMsg, 8)
	s.mu.Lock()
	if s.channels[channel] == nil {
		s.channels[channel] = make(map[chan sseMsg]struct{})
	}
	s.channels[channel][ch] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.channels[channel], ch)
		if len(s.channels[channel]) == 0 {
			delete(s.channels, channel)
		}
		s.mu.Unlock()
	}()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case msg := <-ch:
			fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", msg.event, msg.data)
			c.Writer.Flush()
		}
	}
}

// Publish fans one event out to every subscriber of a channel.
func (s *Server) Publish(channel, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.channels[channel] {
		select {
		case ch <- sseMsg{event: event, data: data}:
		default:
		}
	}
}

func (s *Server) publishResumable(channel, rel string, size int64) {
	s.Publish(channel, types.EventResumable, map[string]types.ResumeOffer{
		rel: {Size: size, Expires: time.Now().Add(offerTTL).Unix()},
	})
}

// handlePush lets tests and tooling inject events into a channel.
func (s *Server) handlePush(c *gin.Context) {
	var req struct {
		Channel string          `json:"channel"`
		Event   string          `json:"event"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.String(http.StatusBadRequest, "bad push request")
		return
	}
	var payload any
	if err := json.Unmarshal(req.Payload, &payload); err != nil {
		c.String(http.StatusBadRequest, "bad push payload")
		return
	}
	s.Publish(req.Channel, req.Event, payload)
	c.Status(http.StatusAccepted)
}

// handleCreateFolder creates a directory under the root; an existing one is
// the conflict status, not an error.
func (s *Server) handleCreateFolder(c *gin.Context) {
	var req struct {
		URI  string `json:"uri"`
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Name == "" {
		c.String(http.StatusBadRequest, "bad folder request")
		return
	}

	dir, err := s.securePath(req.URI, req.Name)
	if err != nil {
		c.String(http.StatusBadRequest, "bad folder path")
		return
	}
	if _, err := os.Stat(dir); err == nil {
		c.Status(http.StatusConflict)
		return
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		c.String(http.StatusInternalServerError, "failed to create folder")
		return
	}
	c.Status(http.StatusCreated)
}

// handleList returns the finished files under a destination; .part files are
// in-progress uploads and stay hidden.
func (s *Server) handleList(c *gin.Context) {
	dir, err := s.securePath(c.Query("path"), "")
	if err != nil {
		c.String(http.StatusBadRequest, "bad path")
		return
	}

	files := []string{}
	filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || strings.HasSuffix(d.Name(), ".part") {
			return nil
		}
		if rel, err := filepath.Rel(dir, path); err == nil {
			files = append(files, filepath.ToSlash(rel))
		}
		return nil
	})
	c.JSON(http.StatusOK, gin.H{"files": files})
}

// securePath joins parts under the root and rejects escapes.
func (s *Server) securePath(parts ...string) (string, error) {
	p := filepath.Join(append([]string{s.root}, parts...)...)
	if p != s.root && !strings.HasPrefix(p, s.root+string(os.PathSeparator)) {
		return "", errors.New("path escapes root")
	}
	return p, nil
}
