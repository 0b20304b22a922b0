package ui

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"

	"uplift/pkg/types"
	"uplift/pkg/utils"
)

// StateSource yields the snapshots the progress display renders.
type StateSource interface {
	Snapshot() types.Snapshot
}

// ProgressReporter renders the engine state as a console progress bar with
// live speed and ETA.
type ProgressReporter struct {
	src      StateSource
	console  *Console
	interval time.Duration

	bar     *progressbar.ProgressBar
	current string
}

// NewProgressReporter creates a reporter polling src.
func NewProgressReporter(src StateSource, console *Console) *ProgressReporter {
	return &ProgressReporter{src: src, console: console, interval: 200 * time.Millisecond}
}

// Run redraws until ctx is cancelled.
func (p *ProgressReporter) Run(ctx context.Context) {
	p.console.SetWatching(true)
	defer p.console.SetWatching(false)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.finish()
			return
		case <-ticker.C:
			p.render(p.src.Snapshot())
		}
	}
}

func (p *ProgressReporter) render(s types.Snapshot) {
	if s.ActiveName == "" {
		p.finish()
		return
	}

	if p.bar == nil || p.current != s.ActiveName {
		p.current = s.ActiveName
		p.bar = progressbar.NewOptions64(s.ActiveSize,
			progressbar.OptionSetDescription(fmt.Sprintf("Uploading %s", s.ActiveName)),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowBytes(true),
			progressbar.OptionSetWidth(50),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionSpinnerType(14),
			progressbar.OptionSetRenderBlankState(true),
			progressbar.OptionClearOnFinish(),
			progressbar.OptionSetPredictTime(false),
		)
	}

	_ = p.bar.Set64(s.PartialBytes)

	desc := fmt.Sprintf("Uploading %s (%.1f%%", s.ActiveName, s.Fraction*100)
	if s.Speed > 0 {
		desc += fmt.Sprintf(", %s/s, ETA %s", utils.FormatFileSize(int64(s.Speed)), utils.FormatETA(s.ETASeconds))
	}
	desc += ")"
	if s.Paused {
		desc += " [paused after current file]"
	}
	p.bar.Describe(desc)
}

func (p *ProgressReporter) finish() {
	if p.bar != nil {
		_ = p.bar.Finish()
		p.bar = nil
		p.current = ""
	}
}
