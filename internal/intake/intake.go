// Package intake accepts files from drag-and-drop or the file and folder
// pickers, filters them against the destination's accept policy and stages
// the survivors until they are committed to the upload queue.
package intake

import (
	"sync"

	"uplift/pkg/types"
)

// Notifier receives the one-per-batch rejection notice.
type Notifier interface {
	// FilesRejected is called once per batch when at least one file failed
	// the accept policy.
	FilesRejected(count int)
}

// Intake stages accepted files in an "adding" set. Nothing here touches the
// network; the set only becomes queue entries on Commit.
type Intake struct {
	mu       sync.Mutex
	policy   Policy
	notifier Notifier
	adding   []types.PendingItem
}

// New creates an intake filtering against the given policy.
func New(policy Policy, notifier Notifier) *Intake {
	return &Intake{policy: policy, notifier: notifier}
}

// Add filters handles through the accept policy and appends the accepted ones
// to the adding set as comment-less pending items. Handles failing the policy
// are silently dropped; a single rejection notice fires if any were. Returns
// the number of accepted handles.
func (i *Intake) Add(handles []types.FileHandle) int {
	i.mu.Lock()
	defer i.mu.Unlock()

	accepted := 0
	for _, h := range handles {
		if !i.policy.Match(h.Name(), h.Type()) {
			continue
		}
		i.adding = append(i.adding, types.PendingItem{File: h})
		accepted++
	}

	if rejected := len(handles) - accepted; rejected > 0 && i.notifier != nil {
		i.notifier.FilesRejected(rejected)
	}
	return accepted
}

// SetComment attaches a comment to a staged item, identified by relative path.
func (i *Intake) SetComment(relPath, comment string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	for idx := range i.adding {
		if i.adding[idx].File.RelPath() == relPath {
			i.adding[idx].Comment = comment
			return
		}
	}
}

// Remove drops a staged item by relative path.
func (i *Intake) Remove(relPath string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	for idx := range i.adding {
		if i.adding[idx].File.RelPath() == relPath {
			i.adding = append(i.adding[:idx], i.adding[idx+1:]...)
			return
		}
	}
}

// Pending returns a copy of the adding set.
func (i *Intake) Pending() []types.PendingItem {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]types.PendingItem, len(i.adding))
	copy(out, i.adding)
	return out
}

// Commit drains the adding set, returning the staged items in order.
func (i *Intake) Commit() []types.PendingItem {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := i.adding
	i.adding = nil
	return out
}
