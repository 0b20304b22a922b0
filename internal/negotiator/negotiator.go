// Package negotiator interprets server-pushed resume offers and status
// overrides racing the in-flight upload, and drives the timed user
// confirmation for resuming from a partial upload.
package negotiator

import (
	"context"
	"sync/atomic"
	"time"

	"uplift/internal/logging"
	"uplift/internal/push"
	"uplift/pkg/types"
)

// QueueControl is the slice of the upload queue the negotiator acts on. Every
// action re-checks the active item so a push event can never affect a
// transfer it did not target or one that has been superseded.
type QueueControl interface {
	ActiveItem() (destination, relPath string, size int64, ok bool)
	ResumeActive(destination, relPath string, offset int64)
	OverrideStatus(destination, relPath string, code int)
}

// Confirmer presents the resume confirmation to the user. The returned
// channel yields the answer once; the negotiator stops listening at deadline.
type Confirmer interface {
	ConfirmResume(name string, offset, total int64, deadline time.Time) <-chan bool
}

// Negotiator consumes push events while transfers run.
type Negotiator struct {
	queue     QueueControl
	confirmer Confirmer
	log       logging.Logger

	// defaultTimeout bounds confirmations when the offer has no expiry
	defaultTimeout time.Duration
	// recheck paces the auto-dismiss poll while a confirmation is pending
	recheck time.Duration
	now     func() time.Time

	pending atomic.Bool
}

// New creates a negotiator driving confirmations through confirmer.
func New(q QueueControl, c Confirmer, defaultTimeout time.Duration, log logging.Logger) *Negotiator {
	return &Negotiator{
		queue:          q,
		confirmer:      c,
		log:            log,
		defaultTimeout: defaultTimeout,
		recheck:        200 * time.Millisecond,
		now:            time.Now,
	}
}

// Run consumes events until ctx is cancelled or the channel closes.
func (n *Negotiator) Run(ctx context.Context, events <-chan push.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			n.Handle(ctx, ev)
		}
	}
}

// Handle dispatches one push event.
func (n *Negotiator) Handle(ctx context.Context, ev push.Event) {
	switch ev.Name {
	case types.EventResumable:
		n.handleResumable(ctx, ev.Resumable)
	case types.EventStatus:
		n.handleStatus(ctx, ev.Status)
	}
}

// handleResumable reacts to "a partial upload exists" hints. Offers for
// anything but the active item are dropped, as are stale offers reporting
// more bytes than the file holds.
func (n *Negotiator) handleResumable(ctx context.Context, offers map[string]types.ResumeOffer) {
	dest, rel, size, ok := n.queue.ActiveItem()
	if !ok {
		return
	}
	offer, ok := offers[rel]
	if !ok {
		return
	}
	if offer.Size > size {
		n.log.Warn(ctx, "ignoring stale resume offer", "path", rel, "offered", offer.Size, "size", size)
		return
	}
	if !n.pending.CompareAndSwap(false, true) {
		return
	}

	deadline := n.now().Add(n.defaultTimeout)
	if offer.Expires > 0 {
		deadline = time.Unix(offer.Expires, 0)
	}

	answer := n.confirmer.ConfirmResume(rel, offer.Size, size, deadline)
	go n.await(ctx, dest, rel, offer.Size, deadline, answer)
}

// await waits for the user's answer, the offer's expiry, or the transfer
// finishing on its own, whichever comes first. Only an accepted offer for the
// still-active item, matched on destination and relative path, triggers the
// handoff.
func (n *Negotiator) await(ctx context.Context, dest, rel string, offset int64, deadline time.Time, answer <-chan bool) {
	defer n.pending.Store(false)

	expire := time.NewTimer(time.Until(deadline))
	defer expire.Stop()
	ticker := time.NewTicker(n.recheck)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-expire.C:
			n.log.Info(ctx, "resume offer expired", "path", rel)
			return
		case <-ticker.C:
			// auto-dismiss once the upload finished through its current request
			if d, active, _, ok := n.queue.ActiveItem(); !ok || d != dest || active != rel {
				return
			}
		case accepted := <-answer:
			if !accepted {
				return
			}
			if d, active, _, ok := n.queue.ActiveItem(); !ok || d != dest || active != rel {
				return
			}
			n.log.Info(ctx, "resuming from partial upload", "path", rel, "offset", offset)
			n.queue.ResumeActive(dest, rel, offset)
			return
		}
	}
}

// handleStatus applies out-of-band status overrides, covering cases where the
// response socket cannot carry the real status. Only error-class codes abort
// the active transfer.
func (n *Negotiator) handleStatus(ctx context.Context, statuses map[string]int) {
	dest, rel, _, ok := n.queue.ActiveItem()
	if !ok {
		return
	}
	code, ok := statuses[rel]
	if !ok {
		return
	}
	if !types.IsError(code) {
		return
	}
	n.log.Warn(ctx, "server pushed status override", "path", rel, "status", code)
	n.queue.OverrideStatus(dest, rel, code)
}
