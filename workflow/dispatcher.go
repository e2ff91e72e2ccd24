package workflow

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Branch is a resolved unit of a batch, ready to be run by the Dispatcher.
type Branch struct {
	Spec BranchSpec
	Run  func(ctx context.Context) (Delta, error)
}

// BranchResult is the outcome of one branch.
type BranchResult struct {
	Index    int           `json:"index"`
	Key      string        `json:"key"`
	Step     string        `json:"step"`
	Delta    Delta         `json:"delta,omitempty"`
	Err      error         `json:"-"`
	Duration time.Duration `json:"duration"`
}

// OK reports whether the branch produced a delta.
func (r BranchResult) OK() bool {
	return r.Err == nil
}

// Dispatcher runs the branches of a batch concurrently.
type Dispatcher struct {
	maxConcurrency int
	logger         *zap.Logger
}

// NewDispatcher creates a dispatcher. maxConcurrency <= 0 means no limit.
func NewDispatcher(maxConcurrency int, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		maxConcurrency: maxConcurrency,
		logger:         logger.With(zap.String("component", "dispatcher")),
	}
}

// Dispatch runs every branch and returns one result per branch, in submission
// order. A failing or panicking branch never cancels its siblings. When ctx is
// done, finished results are kept and the remaining branches are reported as
// failed with the context error.
func (d *Dispatcher) Dispatch(ctx context.Context, branches []Branch) []BranchResult {
	results := make([]BranchResult, len(branches))
	for i, b := range branches {
		results[i] = BranchResult{Index: i, Key: b.Spec.ID(), Step: b.Spec.Step}
	}
	if len(branches) == 0 {
		return results
	}

	var sem *semaphore.Weighted
	if d.maxConcurrency > 0 && d.maxConcurrency < len(branches) {
		sem = semaphore.NewWeighted(int64(d.maxConcurrency))
	}

	resultCh := make(chan BranchResult, len(branches))
	done := make([]bool, len(branches))
	launched := 0

	for i := range branches {
		if ctx.Err() != nil {
			break
		}
		if sem != nil {
			if err := sem.Acquire(ctx, 1); err != nil {
				break
			}
		}
		launched++
		go func(idx int) {
			if sem != nil {
				defer sem.Release(1)
			}
			resultCh <- d.runBranch(ctx, idx, branches[idx])
		}(i)
	}

	received := 0
collect:
	for received < launched {
		select {
		case r := <-resultCh:
			results[r.Index] = r
			done[r.Index] = true
			received++
		case <-ctx.Done():
			// drain whatever already finished
			for {
				select {
				case r := <-resultCh:
					results[r.Index] = r
					done[r.Index] = true
					received++
				default:
					break collect
				}
			}
		}
	}

	for i := range results {
		if done[i] {
			continue
		}
		cause := ctx.Err()
		if cause == nil {
			cause = context.Canceled
		}
		results[i].Err = stepFailure(results[i].Step, fmt.Errorf("branch %s abandoned: %w", results[i].Key, cause))
		d.logger.Warn("branch abandoned",
			zap.String("branch", results[i].Key),
			zap.String("step", results[i].Step),
			zap.Error(cause),
		)
	}
	return results
}

func (d *Dispatcher) runBranch(ctx context.Context, idx int, b Branch) (res BranchResult) {
	res = BranchResult{Index: idx, Key: b.Spec.ID(), Step: b.Spec.Step}
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res.Delta = nil
			res.Err = stepFailure(b.Spec.Step, fmt.Errorf("panic in branch %s: %v", res.Key, r))
		}
		res.Duration = time.Since(start)
		if res.Err != nil {
			d.logger.Debug("branch failed",
				zap.String("branch", res.Key),
				zap.Duration("duration", res.Duration),
				zap.Error(res.Err),
			)
		}
	}()

	delta, err := b.Run(ctx)
	if err != nil {
		if GetErrorCode(err) == "" {
			err = stepFailure(b.Spec.Step, err)
		}
		res.Err = err
		return res
	}
	res.Delta = delta
	return res
}
