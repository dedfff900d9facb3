package worker

import (
	"time"

	"project-vinyl/internal/cache"
	"project-vinyl/internal/media"
)

// tryStartStage runs the start protocol both stages share. The cell is
// the single point of mutual exclusion per key: whoever moves it from
// None or Failed to Queued owns the task until its terminal transition.
//
// The stage-specific pieces are injected: shared resolves the embedded
// WorkerState, probeFinished consults the index for a finished row with
// an existing artifact, insertQueued overwrites the row, and submit
// hands the worker body to a pool.
//
// Any failure between claiming the cell and handing off the body rolls
// the cell back to None so a later call can retry.
func tryStartStage[S any](
	cell *cache.Cell[S],
	shared func(*S) *WorkerState,
	probeFinished func() (bool, error),
	insertQueued func() error,
	submit func(),
) (media.WorkerStatus, error) {
	var prior media.WorkerStatus
	cell.Update(func(s *S) bool {
		prior = shared(s).Status
		if prior.IsBusy() || prior == media.StatusFinished {
			return false
		}
		// Claim the key with a fresh state; stale progress and
		// fail_reason from an earlier attempt must not leak through.
		var fresh S
		*s = fresh
		*shared(s) = newWorkerState(media.StatusQueued)
		return true
	})
	if prior.IsBusy() || prior == media.StatusFinished {
		return prior, nil
	}

	enqueued := false
	defer func() {
		if enqueued {
			return
		}
		cell.Update(func(s *S) bool {
			shared(s).Status = media.StatusNone
			return true
		})
	}()

	finished, err := probeFinished()
	if err != nil {
		return media.StatusNone, err
	}
	if finished {
		// The artifact survived a restart; hydrate the cell without
		// re-running the subprocess.
		cell.Update(func(s *S) bool {
			ws := shared(s)
			ws.Status = media.StatusFinished
			ws.EndTimeUnix = time.Now().Unix()
			return true
		})
		enqueued = true
		return media.StatusFinished, nil
	}

	if err := insertQueued(); err != nil {
		return media.StatusNone, err
	}
	submit()
	enqueued = true
	return media.StatusQueued, nil
}
