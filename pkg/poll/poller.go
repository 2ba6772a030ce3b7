package poll

import (
	"context"
	"errors"
	"time"

	"draftforge/pkg/domain"
	"draftforge/pkg/status"
)

// ErrTimeout is returned when readiness was not observed within the
// configured attempt budget.
var ErrTimeout = errors.New("timed out waiting for stage readiness")

// Progress curve for non-ready ticks. The backend exposes no fractional
// progress signal, so the reported percentage is a reassuring estimate that
// climbs with attempts and is capped below completion; only actual readiness
// reports 100.
const (
	progressBaseline = 20
	progressRange    = 70
	progressCeiling  = 90
)

// StatusFunc fetches the current status snapshot for a project. Implemented
// by the status.Projector directly or by an HTTP client against the status
// endpoint.
type StatusFunc func(ctx context.Context, projectID string) (status.Snapshot, error)

// Options tunes one poll run.
type Options struct {
	MaxAttempts int
	Interval    time.Duration

	// OnProgress, when set, receives the estimated completion percentage
	// after every tick: the fake climbing estimate while waiting, 100 on
	// success, 0 when the attempt budget is exhausted.
	OnProgress func(percent int)
}

// DefaultOptions returns the per-stage tuning. Content generation runs one
// model call per chapter sequentially, so its window is several times longer
// than the single-call stages.
func DefaultOptions(stage domain.Stage) Options {
	if stage == domain.StageContent {
		return Options{MaxAttempts: 60, Interval: 10 * time.Second}
	}
	return Options{MaxAttempts: 30, Interval: 7 * time.Second}
}

// Result is the terminal outcome of one poll run. Exactly one of the payload
// fields is populated on success, matching the awaited stage.
type Result struct {
	Success   bool
	Questions []string
	Chapters  []domain.ChapterOutline
	Content   *domain.ArtifactProject
	Err       error
}

// Poller watches a project until an awaited stage becomes ready. It is
// purely client-side: abandoning a poll (context cancellation) stops the
// watching, never the underlying worker.
type Poller struct {
	fetch StatusFunc
}

// New builds a poller over a status source.
func New(fetch StatusFunc) *Poller {
	return &Poller{fetch: fetch}
}

// Poll checks the project's status once per interval until the awaited stage
// is ready, the attempt budget runs out, or ctx is canceled. Each check is
// awaited before the next tick is considered, so a single check is in flight
// at any time. A transport error on a tick consumes an attempt but does not
// end the run.
func (p *Poller) Poll(ctx context.Context, projectID string, awaited domain.Stage, opts Options) Result {
	if opts.MaxAttempts <= 0 || opts.Interval <= 0 {
		def := DefaultOptions(awaited)
		if opts.MaxAttempts <= 0 {
			opts.MaxAttempts = def.MaxAttempts
		}
		if opts.Interval <= 0 {
			opts.Interval = def.Interval
		}
	}

	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	attempts := 0
	for {
		select {
		case <-ctx.Done():
			return Result{Err: ctx.Err()}
		case <-ticker.C:
		}

		snap, err := p.fetch(ctx, projectID)
		if err == nil {
			if res, ready := readyResult(snap, awaited); ready {
				report(opts, 100)
				res.Success = true
				return res
			}
		}

		attempts++
		if attempts >= opts.MaxAttempts {
			report(opts, 0)
			return Result{Err: ErrTimeout}
		}
		report(opts, estimate(attempts, opts.MaxAttempts))
	}
}

// readyResult interprets a snapshot against the awaited stage and extracts
// the stage payload when ready.
func readyResult(snap status.Snapshot, awaited domain.Stage) (Result, bool) {
	switch awaited {
	case domain.StageQuestions:
		if snap.HasQuestions && len(snap.Questions) > 0 {
			return Result{Questions: snap.Questions}, true
		}
	case domain.StageChapters:
		if snap.HasChapters && len(snap.Chapters) > 0 {
			return Result{Chapters: snap.Chapters}, true
		}
	case domain.StageContent:
		if snap.HasContent && snap.Content != nil {
			return Result{Content: snap.Content}, true
		}
	}
	return Result{}, false
}

func estimate(attempts, maxAttempts int) int {
	percent := progressBaseline + attempts*progressRange/maxAttempts
	if percent > progressCeiling {
		percent = progressCeiling
	}
	return percent
}

func report(opts Options, percent int) {
	if opts.OnProgress != nil {
		opts.OnProgress(percent)
	}
}
