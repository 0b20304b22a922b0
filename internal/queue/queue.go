// Package queue owns the shared upload state: the per-destination FIFO of
// pending files, the single active transfer, the pause and skip-existing
// policy flags and the cumulative counters. All mutation funnels through
// UploadQueue's methods under one mutex, because the invariants span multiple
// fields (active item and queue consistency, entry pruning, counter updates).
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"uplift/internal/logging"
	"uplift/pkg/types"
)

// Runner starts one transfer attempt. The implementation owns the transport;
// exactly one attempt is in flight at any time and the queue starts the next
// one only from the previous attempt's completion callback.
type Runner interface {
	Start(req types.UploadRequest, onProgress func(types.ProgressUpdate), onDone func(types.UploadResult)) Handle
}

// Handle controls an in-flight transfer. Abort with handoff set marks the
// abort as a resume handoff: the completion carries Handoff and the queue
// restarts the same item instead of advancing.
type Handle interface {
	Abort(handoff bool)
}

// Notifier surfaces user-visible queue events. Errors are surfaced only for
// the first failure in a batch to avoid flooding; later ones are counted
// silently.
type Notifier interface {
	FilesRejected(count int)
	UploadFailed(name string, status int)
	QueueSummary(done int, bytes int64, errors int)
}

// entry groups the pending items of one destination. An entry with no items
// is pruned within the same update that emptied it.
type entry struct {
	destination string
	items       []types.PendingItem
}

// UploadQueue drains destinations in the order their first file was queued
// and files within a destination in enqueue order.
type UploadQueue struct {
	mu       sync.Mutex
	runner   Runner
	notifier Notifier
	log      logging.Logger

	policy interface {
		Match(name, mimeType string) bool
	}

	entries []*entry

	active       *types.PendingItem
	activeDest   string
	activeSeq    uint64
	activeHandle Handle

	// abort requested before the runner returned its handle
	abortPending bool
	abortHandoff bool

	partialBytes int64
	fraction     float64
	resumeNext   int64 // offset for the next start of the active item
	override     int   // out-of-band status replacing an aborted attempt's code

	paused       bool
	skipExisting bool

	doneCount    int
	doneBytes    int64
	errorCount   int
	batchFailed  bool // first error of the batch already surfaced
	cycleStarted bool

	sentTotal int64 // monotonic, feeds the estimator

	speed float64
	eta   float64

	channelID string
	channelCh chan string

	refreshFn    func()
	refreshDelay time.Duration
	refreshTimer *time.Timer

	watching func() bool
}

// Option configures an UploadQueue.
type Option func(*UploadQueue)

// WithNotifier sets the user-notification sink.
func WithNotifier(n Notifier) Option {
	return func(q *UploadQueue) { q.notifier = n }
}

// WithPolicy installs the accept policy the queue re-checks defensively on
// every enqueue.
func WithPolicy(p interface {
	Match(name, mimeType string) bool
}) Option {
	return func(q *UploadQueue) { q.policy = p }
}

// WithRefresh installs the listing-refresh callback fired (debounced by delay)
// when the queue drains.
func WithRefresh(fn func(), delay time.Duration) Option {
	return func(q *UploadQueue) {
		q.refreshFn = fn
		q.refreshDelay = delay
	}
}

// WithWatching tells the queue whether the transfer UI is currently visible;
// the terminal summary is only shown, and counters only reset, when it is not.
func WithWatching(fn func() bool) Option {
	return func(q *UploadQueue) { q.watching = fn }
}

// WithSkipExisting sets the initial skip-existing policy flag.
func WithSkipExisting(v bool) Option {
	return func(q *UploadQueue) { q.skipExisting = v }
}

// New creates an idle queue with a fresh notification-channel id.
func New(runner Runner, log logging.Logger, opts ...Option) *UploadQueue {
	q := &UploadQueue{
		runner:       runner,
		log:          log,
		channelID:    uuid.NewString(),
		channelCh:    make(chan string, 4),
		refreshDelay: 500 * time.Millisecond,
		watching:     func() bool { return true },
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// ChannelID returns the current notification-channel id. A fresh id is chosen
// at the start of each queue cycle so stale push events cannot cross cycles.
func (q *UploadQueue) ChannelID() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.channelID
}

// ChannelChanges delivers the new channel id whenever the queue drains and
// regenerates it.
func (q *UploadQueue) ChannelChanges() <-chan string {
	return q.channelCh
}

// Enqueue filters items through the accept policy, deduplicates them against
// the destination's existing entries by relative path and appends the rest,
// creating the destination's entry if needed. Filtered items trigger the same
// rejection notice as intake.
func (q *UploadQueue) Enqueue(destination string, items []types.PendingItem) {
	q.mu.Lock()
	rejected := 0
	added := 0
	for _, it := range items {
		if q.policy != nil && !q.policy.Match(it.File.Name(), it.File.Type()) {
			rejected++
			continue
		}
		if q.containsLocked(destination, it.File.RelPath()) {
			continue
		}
		e := q.entryForLocked(destination)
		e.items = append(e.items, it)
		added++
	}
	notifier := q.notifier
	q.mu.Unlock()

	if rejected > 0 && notifier != nil {
		notifier.FilesRejected(rejected)
	}
	if added > 0 {
		q.schedule()
	}
}

// TogglePause flips the pause flag. Pausing never cancels the in-flight
// transfer; it only blocks starting the next one.
func (q *UploadQueue) TogglePause() {
	q.mu.Lock()
	q.paused = !q.paused
	paused := q.paused
	q.mu.Unlock()

	q.log.Info(context.Background(), "queue pause toggled", "paused", paused)
	if !paused {
		q.schedule()
	}
}

// Paused reports the pause flag.
func (q *UploadQueue) Paused() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.paused
}

// SetSkipExisting sets the policy flag sent with every transfer request.
func (q *UploadQueue) SetSkipExisting(v bool) {
	q.mu.Lock()
	q.skipExisting = v
	q.mu.Unlock()
}

// Clear drops the whole queue and aborts the active transfer if one exists.
// The abort completes with status 0 and touches no counters.
func (q *UploadQueue) Clear() {
	q.mu.Lock()
	q.entries = nil
	abort := q.abortActiveLocked(false)
	q.mu.Unlock()

	if abort != nil {
		abort()
	}
	q.schedule()
}

// Remove takes one item out of the queue. Removing the active item is
// equivalent to aborting it; the queue then advances. Removing a queued item
// prunes its entry if that empties it.
func (q *UploadQueue) Remove(destination, relPath string) {
	q.mu.Lock()
	if q.active != nil && q.activeDest == destination && q.active.File.RelPath() == relPath {
		abort := q.abortActiveLocked(false)
		q.mu.Unlock()
		if abort != nil {
			abort()
		}
		return
	}

	for i, e := range q.entries {
		if e.destination != destination {
			continue
		}
		for j, it := range e.items {
			if it.File.RelPath() == relPath {
				e.items = append(e.items[:j], e.items[j+1:]...)
				break
			}
		}
		if len(e.items) == 0 {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
		}
		break
	}
	q.mu.Unlock()
	q.schedule()
}

// ActiveItem identifies the in-flight item for the conflict negotiator; a
// push event naming any other item must be ignored.
func (q *UploadQueue) ActiveItem() (destination, relPath string, size int64, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.active == nil {
		return "", "", 0, false
	}
	return q.activeDest, q.active.File.RelPath(), q.active.File.Size(), true
}

// ResumeActive aborts the current request as a handoff and restarts the same
// item from offset. The old attempt completes with status 0 before the new
// one starts, so no byte range is ever double-counted. The identity check
// happens under the queue lock, so a completion racing the caller's own
// active-item check can never hand the offset to a different item.
func (q *UploadQueue) ResumeActive(destination, relPath string, offset int64) {
	q.mu.Lock()
	if q.active == nil || q.activeDest != destination || q.active.File.RelPath() != relPath {
		q.mu.Unlock()
		return
	}
	q.resumeNext = offset
	abort := q.abortActiveLocked(true)
	q.mu.Unlock()

	if abort != nil {
		abort()
	}
}

// OverrideStatus records a server-pushed status for the active item and
// aborts its transport; the completion is reported under code instead of the
// transport's own status.
func (q *UploadQueue) OverrideStatus(destination, relPath string, code int) {
	q.mu.Lock()
	if q.active == nil || q.activeDest != destination || q.active.File.RelPath() != relPath {
		q.mu.Unlock()
		return
	}
	q.override = code
	abort := q.abortActiveLocked(false)
	q.mu.Unlock()

	if abort != nil {
		abort()
	}
}

// Snapshot returns a consistent view of the upload state.
func (q *UploadQueue) Snapshot() types.Snapshot {
	q.mu.Lock()
	defer q.mu.Unlock()

	s := types.Snapshot{
		PartialBytes: q.partialBytes,
		Fraction:     q.fraction,
		Paused:       q.paused,
		SkipExisting: q.skipExisting,
		DoneCount:    q.doneCount,
		DoneBytes:    q.doneBytes,
		ErrorCount:   q.errorCount,
		Speed:        q.speed,
		ETASeconds:   q.eta,
	}
	if q.active != nil {
		s.ActiveName = q.active.File.Name()
		s.ActiveSize = q.active.File.Size()
	}
	for _, e := range q.entries {
		for _, it := range e.items {
			s.QueuedItems++
			s.QueuedBytes += it.File.Size()
		}
	}
	// the active item sits at the head of its entry until it completes;
	// queued counts report only what is still waiting
	if q.active != nil && len(q.entries) > 0 {
		head := q.entries[0]
		if head.destination == q.activeDest && len(head.items) > 0 &&
			head.items[0].File.RelPath() == q.active.File.RelPath() {
			s.QueuedItems--
			s.QueuedBytes -= head.items[0].File.Size()
		}
	}
	return s
}

// CumulativeBytes is the monotonic count of payload bytes sent, sampled by
// the estimator.
func (q *UploadQueue) CumulativeBytes() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.sentTotal
}

// RemainingBytes sums the not-yet-sent bytes across every queued item.
func (q *UploadQueue) RemainingBytes() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()

	var total int64
	for _, e := range q.entries {
		for _, it := range e.items {
			total += it.File.Size()
		}
	}
	// the active item sits at the head of its entry; discount what was sent
	if q.active != nil {
		total -= q.partialBytes
	}
	if total < 0 {
		total = 0
	}
	return total
}

// SetRates stores the estimator's derived speed and ETA.
func (q *UploadQueue) SetRates(speed, etaSeconds float64) {
	q.mu.Lock()
	q.speed = speed
	q.eta = etaSeconds
	q.mu.Unlock()
}

// Idle reports whether nothing is queued or transferring.
func (q *UploadQueue) Idle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active == nil && len(q.entries) == 0
}

func (q *UploadQueue) containsLocked(destination, relPath string) bool {
	for _, e := range q.entries {
		if e.destination != destination {
			continue
		}
		for _, it := range e.items {
			if it.File.RelPath() == relPath {
				return true
			}
		}
	}
	return false
}

func (q *UploadQueue) entryForLocked(destination string) *entry {
	for _, e := range q.entries {
		if e.destination == destination {
			return e
		}
	}
	e := &entry{destination: destination}
	q.entries = append(q.entries, e)
	return e
}

// abortActiveLocked requests an abort of the active transfer and returns the
// call to make after unlocking, or nil when there is nothing to abort. When
// the runner has not handed back its handle yet the abort is deferred to the
// moment it does.
func (q *UploadQueue) abortActiveLocked(handoff bool) func() {
	if q.active == nil {
		return nil
	}
	if q.activeHandle == nil {
		q.abortPending = true
		q.abortHandoff = handoff
		return nil
	}
	h := q.activeHandle
	return func() { h.Abort(handoff) }
}

// schedule starts the head item's transfer when no transfer is active and the
// queue is not paused; otherwise it checks whether the queue just drained.
func (q *UploadQueue) schedule() {
	q.mu.Lock()
	if q.active != nil || q.paused || len(q.entries) == 0 {
		drained := q.active == nil && len(q.entries) == 0 && q.cycleStarted
		var finish func()
		if drained {
			finish = q.finishCycleLocked()
		}
		q.mu.Unlock()
		if finish != nil {
			finish()
		}
		return
	}

	head := q.entries[0]
	item := head.items[0]
	q.active = &item
	q.activeDest = head.destination
	q.activeSeq++
	q.activeHandle = nil
	q.abortPending = false
	q.cycleStarted = true

	offset := q.resumeNext
	q.resumeNext = 0
	q.override = 0
	q.partialBytes = offset
	if size := item.File.Size(); size > 0 {
		q.fraction = float64(offset) / float64(size)
	} else {
		q.fraction = 0
	}

	req := types.UploadRequest{
		Item:         item,
		Destination:  head.destination,
		ResumeOffset: offset,
		ChannelID:    q.channelID,
		SkipExisting: q.skipExisting,
	}
	seq := q.activeSeq
	q.mu.Unlock()

	q.log.Info(context.Background(), "starting transfer",
		"path", item.File.RelPath(), "destination", head.destination, "resume", offset)

	h := q.runner.Start(req,
		func(u types.ProgressUpdate) { q.onProgress(seq, u) },
		func(r types.UploadResult) { q.onDone(seq, r) },
	)

	q.mu.Lock()
	if q.activeSeq == seq && q.active != nil {
		q.activeHandle = h
		if q.abortPending {
			q.abortPending = false
			handoff := q.abortHandoff
			q.mu.Unlock()
			h.Abort(handoff)
			return
		}
	}
	q.mu.Unlock()
}

// onProgress publishes partial bytes and fraction for the active attempt.
// Updates from a superseded attempt are dropped.
func (q *UploadQueue) onProgress(seq uint64, u types.ProgressUpdate) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if seq != q.activeSeq || q.active == nil {
		return
	}
	q.partialBytes = u.PartialBytes
	q.fraction = u.Fraction
	q.sentTotal += u.Delta
}

// onDone applies one attempt's terminal result: counters by status class,
// shift-and-prune on advance, then re-evaluation. Handoff completions leave
// the item in place so the restarted attempt picks it up again.
func (q *UploadQueue) onDone(seq uint64, r types.UploadResult) {
	q.mu.Lock()
	if seq != q.activeSeq || q.active == nil {
		q.mu.Unlock()
		return
	}

	item := *q.active
	dest := q.activeDest
	status := r.Status
	if q.override != 0 && status == types.StatusAborted {
		status = q.override
	}
	q.override = 0

	var failedName string
	advance := true
	switch {
	case r.Handoff:
		advance = false
	case status == types.StatusAborted && r.Err == nil:
		// user abort: advances silently, no counters
	case types.IsSuccess(status):
		q.doneCount++
		q.doneBytes += item.File.Size()
	case status == types.StatusConflict:
		// skip-existing: neither success nor error
	case types.IsError(status) || r.Err != nil:
		q.errorCount++
		if !q.batchFailed {
			q.batchFailed = true
			failedName = item.File.Name()
		}
	}

	if advance {
		// a resume offset recorded against this attempt is void once the item
		// leaves the queue; it must never leak into the next item's start
		q.resumeNext = 0
		q.shiftLocked(dest, item.File.RelPath())
	}
	q.active = nil
	q.activeDest = ""
	q.activeHandle = nil
	q.partialBytes = 0
	q.fraction = 0

	notifier := q.notifier
	q.mu.Unlock()

	q.log.Info(context.Background(), "transfer finished",
		"path", item.File.RelPath(), "status", status, "handoff", r.Handoff, "err", r.Err)

	if failedName != "" && notifier != nil {
		notifier.UploadFailed(failedName, status)
	}
	q.schedule()
}

// shiftLocked removes the completed item from the head entry and prunes the
// entry when emptied. Clear may already have dropped the entries; the guard
// keeps the shift idempotent.
func (q *UploadQueue) shiftLocked(destination, relPath string) {
	if len(q.entries) == 0 {
		return
	}
	head := q.entries[0]
	if head.destination != destination || len(head.items) == 0 ||
		head.items[0].File.RelPath() != relPath {
		return
	}
	head.items = head.items[1:]
	if len(head.items) == 0 {
		q.entries = q.entries[1:]
	}
}

// finishCycleLocked ends a queue cycle: debounced listing refresh, terminal
// summary when the UI is not being watched (then counter reset), and a fresh
// channel id so stale push events cannot reach the next cycle.
func (q *UploadQueue) finishCycleLocked() func() {
	q.cycleStarted = false
	q.batchFailed = false
	q.resumeNext = 0

	q.channelID = uuid.NewString()
	select {
	case q.channelCh <- q.channelID:
	default:
	}

	if q.refreshFn != nil {
		if q.refreshTimer != nil {
			q.refreshTimer.Stop()
		}
		q.refreshTimer = time.AfterFunc(q.refreshDelay, q.refreshFn)
	}

	done, bytes, errs := q.doneCount, q.doneBytes, q.errorCount
	notifier := q.notifier
	watching := q.watching()
	if !watching {
		q.doneCount = 0
		q.doneBytes = 0
		q.errorCount = 0
	}

	return func() {
		q.log.Info(context.Background(), "queue drained",
			"done", done, "bytes", bytes, "errors", errs)
		if !watching && notifier != nil {
			notifier.QueueSummary(done, bytes, errs)
		}
	}
}
