package ui

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"uplift/pkg/utils"
)

// Console implements the engine's user-facing surfaces on a terminal: batch
// rejection notices, per-batch error messages, the drain summary and the
// timed resume confirmation.
type Console struct {
	out      io.Writer
	in       io.Reader
	watching atomic.Bool
}

// NewConsole creates a console bound to stdin/stdout.
func NewConsole() *Console {
	return &Console{out: os.Stdout, in: os.Stdin}
}

// SetWatching records whether the progress display is currently active.
func (c *Console) SetWatching(v bool) { c.watching.Store(v) }

// Watching reports whether the user is viewing the transfer UI; the queue
// only prints the terminal summary when they are not.
func (c *Console) Watching() bool { return c.watching.Load() }

// FilesRejected prints the once-per-batch accept-policy notice.
func (c *Console) FilesRejected(count int) {
	fmt.Fprintf(c.out, "%d file(s) were not accepted by the destination and were skipped\n", count)
}

// UploadFailed surfaces the first failed upload of a batch. Payload-too-large
// gets its own message; every other status shares the generic one.
func (c *Console) UploadFailed(name string, status int) {
	if status == http.StatusRequestEntityTooLarge {
		fmt.Fprintf(c.out, "Upload of %q failed: file is too large for the server\n", name)
		return
	}
	fmt.Fprintf(c.out, "Upload of %q failed (status %d); further errors in this batch are counted silently\n", name, status)
}

// QueueSummary prints the terminal summary after the queue drains.
func (c *Console) QueueSummary(done int, bytes int64, errors int) {
	fmt.Fprintf(c.out, "Uploads finished: %d file(s), %s transferred, %d error(s)\n",
		done, utils.FormatFileSize(bytes), errors)
}

// ConfirmResume prompts for a resume decision with a countdown derived from
// the offer's expiry. The answer channel yields at most once; no input before
// the deadline counts as a rejection upstream.
func (c *Console) ConfirmResume(name string, offset, total int64, deadline time.Time) <-chan bool {
	answer := make(chan bool, 1)

	percent := 0.0
	if total > 0 {
		percent = float64(offset) / float64(total) * 100
	}
	remaining := time.Until(deadline).Round(time.Second)
	fmt.Fprintf(c.out, "A partial upload of %q exists on the server.\n", name)
	fmt.Fprintf(c.out, "Resume from %.0f%% (%s)? [y/N] (offer expires in %s): ",
		percent, utils.FormatFileSize(offset), remaining)

	go func() {
		scanner := bufio.NewScanner(c.in)
		if scanner.Scan() {
			reply := strings.ToLower(strings.TrimSpace(scanner.Text()))
			answer <- reply == "y" || reply == "yes"
			return
		}
		answer <- false
	}()

	return answer
}
