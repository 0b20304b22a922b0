// Package transfer executes one resumable HTTP upload at a time. The body is
// a single-part form streaming the file's tail from the resume offset, tagged
// with the relative path; progress is reported as the body is consumed.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"

	"uplift/internal/logging"
	"uplift/pkg/types"
)

// Service builds and runs single transfers against the upload endpoint.
// It implements the queue's Runner.
type Service struct {
	baseURL string
	client  *http.Client
	log     logging.Logger
}

// NewService creates a transfer service posting to baseURL.
func NewService(baseURL string, client *http.Client, log logging.Logger) *Service {
	if client == nil {
		client = http.DefaultClient
	}
	return &Service{baseURL: baseURL, client: client, log: log}
}

// Start launches req in its own goroutine and returns its handle. onDone is
// called exactly once with the terminal result; onProgress may be called any
// number of times before that.
func (s *Service) Start(req types.UploadRequest, onProgress func(types.ProgressUpdate), onDone func(types.UploadResult)) *Transfer {
	ctx, cancel := context.WithCancel(context.Background())
	t := &Transfer{svc: s, req: req, cancel: cancel}
	go func() {
		onDone(t.run(ctx, onProgress))
	}()
	return t
}

// Transfer is one attempt of one item. It is restartable: the queue creates a
// fresh Transfer with a nonzero resume offset after a handoff abort.
type Transfer struct {
	svc     *Service
	req     types.UploadRequest
	cancel  context.CancelFunc
	handoff atomic.Bool
}

// Abort terminates the underlying request. With handoff set the result is
// marked so the queue restarts the same item instead of advancing.
func (t *Transfer) Abort(handoff bool) {
	if handoff {
		t.handoff.Store(true)
	}
	t.cancel()
}

func (t *Transfer) run(ctx context.Context, onProgress func(types.ProgressUpdate)) types.UploadResult {
	defer t.cancel()

	res, err := t.post(ctx, onProgress)
	if err != nil {
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			// transport aborted by the client: status 0, neither success nor error
			return types.UploadResult{Status: types.StatusAborted, Handoff: t.handoff.Load()}
		}
		return types.UploadResult{Status: types.StatusAborted, Err: err}
	}
	return res
}

func (t *Transfer) post(ctx context.Context, onProgress func(types.ProgressUpdate)) (types.UploadResult, error) {
	item := t.req.Item
	total := item.File.Size()
	offset := t.req.ResumeOffset

	f, err := item.File.Open()
	if err != nil {
		return types.UploadResult{}, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			return types.UploadResult{}, fmt.Errorf("failed to seek to resume offset: %w", err)
		}
	}

	counter := &countingReader{r: f, offset: offset, total: total, report: onProgress}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile("file", item.File.RelPath())
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, counter); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.uploadURL(), pr)
	if err != nil {
		return types.UploadResult{}, fmt.Errorf("failed to build upload request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := t.svc.client.Do(httpReq)
	if err != nil {
		return types.UploadResult{}, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return types.UploadResult{Status: resp.StatusCode, Sent: counter.sent}, nil
}

// uploadURL composes POST <base><destination>?channel=..&resume=..&comment=..
// with skipExisting=1 when the policy flag is set.
func (t *Transfer) uploadURL() string {
	v := url.Values{}
	v.Set("channel", t.req.ChannelID)
	v.Set("resume", strconv.FormatInt(t.req.ResumeOffset, 10))
	if t.req.Item.Comment != "" {
		v.Set("comment", t.req.Item.Comment)
	}
	if t.req.SkipExisting {
		v.Set("skipExisting", "1")
	}
	return t.svc.baseURL + t.req.Destination + "?" + v.Encode()
}

// countingReader feeds progress as the request body drains. Partial bytes
// include the resume offset so progress and speed stay continuous across a
// restart.
type countingReader struct {
	r      io.Reader
	offset int64
	total  int64
	sent   int64
	report func(types.ProgressUpdate)
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.sent += int64(n)
		if c.report != nil {
			partial := c.offset + c.sent
			var fraction float64
			if c.total > 0 {
				fraction = float64(partial) / float64(c.total)
			}
			if fraction > 1 {
				fraction = 1
			}
			c.report(types.ProgressUpdate{
				PartialBytes: partial,
				Fraction:     fraction,
				Delta:        int64(n),
			})
		}
	}
	return n, err
}
