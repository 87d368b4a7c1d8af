package scheduler

import (
	"context"
	"math/rand"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/molflow/microq/internal/interfaces"
	"github.com/molflow/microq/internal/models"
)

// DefaultMeanTime is the assumed per-job processing time, in seconds, for
// projects without history. It is deliberately large so a brand-new project
// is likely to be chosen at least once and yield a real sample.
const DefaultMeanTime = 3600.0

// Weight computes a project's priority weight from its current counters.
// Projects with nothing left to hand out weigh zero and are never chosen.
func Weight(p *models.Project, now time.Time) float64 {
	remaining := p.NrAdded - p.NrClaimed
	if remaining <= 0 {
		return 0
	}
	if p.Deadline == nil {
		return 1
	}

	processed := p.NrFinished + p.NrFailed
	meanTime := DefaultMeanTime
	if p.ProcessingTimeTotal > 0 && processed > 0 {
		meanTime = p.ProcessingTimeTotal / float64(processed)
	}

	numerator := float64(remaining) * meanTime
	secondsLeft := p.Deadline.Sub(now).Seconds()
	if secondsLeft <= 0 {
		// Past deadline: maximally urgent, undivided.
		return numerator
	}
	return numerator / secondsLeft
}

// Scheduler picks which project serves the next cross-project job fetch
// and draws an unclaimed job from it.
type Scheduler struct {
	projects interfaces.ProjectStore
	jobs     interfaces.JobStore
	logger   arbor.ILogger
	window   int
}

// New creates a scheduler. window bounds the random-draw prefix used when
// fetching an unclaimed job from the chosen project.
func New(projects interfaces.ProjectStore, jobs interfaces.JobStore,
	logger arbor.ILogger, window int) *Scheduler {
	return &Scheduler{
		projects: projects,
		jobs:     jobs,
		logger:   logger,
		window:   window,
	}
}

// Window returns the configured fetch window size.
func (s *Scheduler) Window() int {
	return s.window
}

// NextJob samples a project proportional to its weight and returns one of
// its unclaimed jobs. ErrNotFound when no project has work.
func (s *Scheduler) NextJob(ctx context.Context, now time.Time) (*models.Project, *models.Job, error) {
	candidates, err := s.projects.List(ctx, interfaces.ProjectFilter{OnlyActive: true})
	if err != nil {
		return nil, nil, err
	}

	weights := make([]float64, len(candidates))
	for i, p := range candidates {
		weights[i] = Weight(p, now)
	}

	// Counters can briefly run ahead of the job rows, so a chosen project may
	// turn out empty. Zero it out and redraw from the rest.
	for {
		i := sample(weights)
		if i < 0 {
			return nil, nil, interfaces.ErrNotFound
		}
		project := candidates[i]

		job, err := s.jobs.FetchUnclaimed(ctx, project.ID, s.window)
		if err == interfaces.ErrNotFound {
			weights[i] = 0
			continue
		}
		if err != nil {
			return nil, nil, err
		}

		s.logger.Debug().Str("project", project.ID).Str("job_id", job.ID).
			Msg("Scheduled job for fetch")
		return project, job, nil
	}
}

// sample draws an index proportional to the weights via a linear walk over
// the cumulative sum. Returns -1 when the total weight is zero.
func sample(weights []float64) int {
	var total float64
	for _, w := range weights {
		total += w
	}
	if total <= 0 {
		return -1
	}

	r := rand.Float64() * total
	var cumulative float64
	for i, w := range weights {
		if w <= 0 {
			continue
		}
		cumulative += w
		if cumulative >= r {
			return i
		}
	}
	return len(weights) - 1
}
