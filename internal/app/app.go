// Package app wires the upload engine together: intake feeding the queue,
// the transfer service running uploads, the push channel feeding the conflict
// negotiator and the estimator refreshing speed and ETA.
package app

import (
	"context"
	"net/http"
	"sync"
	"time"

	"uplift/internal/api"
	"uplift/internal/config"
	"uplift/internal/estimator"
	"uplift/internal/intake"
	"uplift/internal/logging"
	"uplift/internal/negotiator"
	"uplift/internal/push"
	"uplift/internal/queue"
	"uplift/internal/transfer"
	"uplift/internal/ui"
	"uplift/pkg/types"
)

// runnerAdapter narrows *transfer.Service to the queue's Runner interface.
type runnerAdapter struct {
	svc *transfer.Service
}

func (r runnerAdapter) Start(req types.UploadRequest, onProgress func(types.ProgressUpdate), onDone func(types.UploadResult)) queue.Handle {
	return r.svc.Start(req, onProgress, onDone)
}

// UploaderApp is the programmatic surface the hosting layer drives: enqueue,
// pause, clear, plus the background loops that keep the engine reactive.
type UploaderApp struct {
	cfg     *config.Config
	log     logging.Logger
	console *ui.Console

	mu    sync.Mutex
	dests map[string]struct{}

	Intake *intake.Intake
	Queue  *queue.UploadQueue
	API    *api.Client

	pushClient *push.Client
	negotiator *negotiator.Negotiator
	estimator  *estimator.Estimator
}

// New builds a fully wired engine.
func New(cfg *config.Config, log logging.Logger) *UploaderApp {
	console := ui.NewConsole()
	policy := intake.CompilePolicy(cfg.Upload.AcceptPolicy)

	httpc := &http.Client{Timeout: cfg.Upload.RequestTimeout}
	transferSvc := transfer.NewService(cfg.Server.BaseURL, httpc, log)
	apiClient := api.NewClient(cfg.Server.BaseURL, httpc, log)

	// the push stream must outlive individual upload requests, so it never
	// inherits the request timeout
	pushClient := push.NewClient(cfg.Server.BaseURL, &http.Client{}, log)

	a := &UploaderApp{
		cfg:        cfg,
		log:        log,
		console:    console,
		API:        apiClient,
		pushClient: pushClient,
		dests:      make(map[string]struct{}),
	}

	a.Queue = queue.New(runnerAdapter{transferSvc}, log,
		queue.WithNotifier(console),
		queue.WithPolicy(policy),
		queue.WithSkipExisting(cfg.Upload.SkipExisting),
		queue.WithWatching(console.Watching),
		queue.WithRefresh(a.refreshListing, cfg.Upload.RefreshDelay),
	)
	a.Intake = intake.New(policy, console)
	a.negotiator = negotiator.New(a.Queue, console, cfg.Upload.ConfirmTimeout, log)
	a.estimator = estimator.New(a.Queue, a.Queue, cfg.Upload.SampleInterval)

	return a
}

// Console exposes the terminal surfaces for the CLI layer.
func (a *UploaderApp) Console() *ui.Console { return a.console }

// Run starts the background loops: the estimator and the notification-channel
// subscription, which is re-established whenever the queue drains and rotates
// its channel id. Run blocks until ctx is cancelled.
func (a *UploaderApp) Run(ctx context.Context) error {
	go a.estimator.Run(ctx)

	channelID := a.Queue.ChannelID()
	for {
		subCtx, cancel := context.WithCancel(ctx)
		events := a.pushClient.Subscribe(subCtx, channelID)
		go a.negotiator.Run(subCtx, events)

		select {
		case <-ctx.Done():
			cancel()
			return ctx.Err()
		case channelID = <-a.Queue.ChannelChanges():
			cancel()
		}
	}
}

// EnqueueFiles stages handles through intake and commits them to destination,
// attaching comment to every accepted file when it is non-empty.
func (a *UploaderApp) EnqueueFiles(destination string, handles []types.FileHandle, comment string) {
	a.mu.Lock()
	a.dests[destination] = struct{}{}
	a.mu.Unlock()

	a.Intake.Add(handles)
	if comment != "" {
		for _, h := range handles {
			a.Intake.SetComment(h.RelPath(), comment)
		}
	}
	a.Queue.Enqueue(destination, a.Intake.Commit())
}

// WaitIdle blocks until the queue has drained or ctx is cancelled.
func (a *UploaderApp) WaitIdle(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if a.Queue.Idle() {
				return nil
			}
		}
	}
}

// refreshListing re-reads every destination touched this cycle once the
// debounce fires.
func (a *UploaderApp) refreshListing() {
	a.mu.Lock()
	dests := make([]string, 0, len(a.dests))
	for d := range a.dests {
		dests = append(dests, d)
	}
	a.dests = make(map[string]struct{})
	a.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, d := range dests {
		if _, err := a.API.RefreshListing(ctx, d); err != nil {
			a.log.Warn(ctx, "listing refresh failed", "destination", d, "err", err)
		}
	}
}
