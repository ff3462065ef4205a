// Package report implements the lifecycle state machine for one asynchronous
// report run on the remote insights API. An AsyncJob is a single-threaded
// state machine: it is not safe for unsynchronized concurrent mutation, and
// an orchestrator polling many jobs must own each one exclusively.
package report

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hamisB/reportrunner/internal/insights"
	"github.com/hamisB/reportrunner/internal/retry"
)

// AsyncJob wraps one remote report computation together with its retry
// policy. Exactly one of three shapes holds at any time: never started
// (run == nil, finishTime == nil), running (run != nil, finishTime == nil),
// or finished (run != nil, finishTime != nil).
type AsyncJob struct {
	client insights.Client
	policy retry.Policy
	params insights.ReportParams

	run        *insights.ReportRun
	startTime  time.Time
	finishTime *time.Time
	failed     bool
}

// New creates a job holding params only; nothing is sent to the remote
// service until Start.
func New(client insights.Client, policy retry.Policy, params insights.ReportParams) *AsyncJob {
	return &AsyncJob{
		client: client,
		policy: policy,
		params: params,
	}
}

// Start kicks off the remote computation with the stored params. It may only
// be called on a job that has never started; restarting a failed run goes
// through Restart.
func (j *AsyncJob) Start(ctx context.Context) error {
	if j.run != nil {
		return fmt.Errorf("%w: %s already started, use Restart", ErrInvalidUsage, j)
	}

	var run *insights.ReportRun
	err := j.policy.Do(ctx, func(ctx context.Context) error {
		r, err := j.client.StartReport(ctx, j.params)
		if err != nil {
			return err
		}
		run = r
		return nil
	})
	if err != nil {
		return fmt.Errorf("starting report run: %w", err)
	}

	j.run = run
	j.startTime = time.Now()
	slog.Info("started report run",
		"run_id", run.ID,
		"time_range", j.params.TimeRange.String(),
		"breakdowns", j.params.Breakdowns,
	)
	return nil
}

// Restart discards the failed run and starts a fresh one with the same
// params. Only a job whose last observed status is a failure terminal may be
// restarted; a still-running or succeeded job is left alone.
func (j *AsyncJob) Restart(ctx context.Context) error {
	if j.run == nil || !j.failed {
		return fmt.Errorf("%w: %s is not a failed run, only failed runs can be restarted", ErrInvalidUsage, j)
	}

	j.run = nil
	j.failed = false
	j.startTime = time.Time{}
	j.finishTime = nil

	if err := j.Start(ctx); err != nil {
		return err
	}
	slog.Info("restarted report run", "run_id", j.run.ID)
	return nil
}

// Completed refreshes the run's status and reports whether it reached a
// terminal state. Once a terminal status has been observed the answer is
// memoized and no further remote calls are made; use Failed to tell success
// from failure.
func (j *AsyncJob) Completed(ctx context.Context) (bool, error) {
	if j.finishTime != nil {
		return true, nil
	}
	if err := j.refresh(ctx); err != nil {
		return false, err
	}
	return j.checkStatus(), nil
}

// refresh re-fetches the run snapshot, wrapped in the retry policy. A failed
// refresh leaves the job's logical state exactly as it was.
func (j *AsyncJob) refresh(ctx context.Context) error {
	if j.run == nil {
		return fmt.Errorf("%w: %s is not started", ErrInvalidUsage, j)
	}

	var run *insights.ReportRun
	err := j.policy.Do(ctx, func(ctx context.Context) error {
		r, err := j.client.GetReport(ctx, j.run.ID)
		if err != nil {
			return err
		}
		run = r
		return nil
	})
	if err != nil {
		return fmt.Errorf("refreshing report run %s: %w", j.run.ID, err)
	}

	j.run = run
	return nil
}

// BatchUpdateRequest returns the deferred status-check request for this job,
// for coalescing into a multi-job batch call. It returns nil when the job is
// already finished (nothing left to poll) or was never started.
func (j *AsyncJob) BatchUpdateRequest() *insights.BatchRequest {
	if j.run == nil || j.finishTime != nil {
		return nil
	}
	req := insights.StatusRequest(j.run)
	return &req
}

// ProcessBatchResult consumes the batch response element matching this job's
// deferred request. The new snapshot replaces the old one wholesale (fields
// the response omitted are carried over from the prior snapshot) and the same
// transition rule as Completed is applied.
func (j *AsyncJob) ProcessBatchResult(resp insights.BatchResponse) error {
	if j.run == nil {
		return fmt.Errorf("%w: %s is not started", ErrInvalidUsage, j)
	}

	merged, err := insights.MergeRun(j.run, resp)
	if err != nil {
		return fmt.Errorf("processing batch result for run %s: %w", j.run.ID, err)
	}

	j.run = merged
	j.checkStatus()
	return nil
}

// checkStatus applies the transition rule to the current snapshot. It is the
// single place terminal state is recorded, for both the direct and the batch
// polling paths.
func (j *AsyncJob) checkStatus() bool {
	status, ok := ParseStatus(j.run.Status)
	if !ok {
		slog.Warn("report run reported unknown status",
			"run_id", j.run.ID, "status", j.run.Status)
		return false
	}

	slog.Info("report run progress",
		"run_id", j.run.ID,
		"status", string(status),
		"percent_complete", j.run.PercentComplete,
	)

	switch status {
	case StatusCompleted:
		// Stamped at poll time, so this is an upper bound: the remote
		// side finished at some point since the previous check.
		now := time.Now()
		j.finishTime = &now
		return true
	case StatusFailed, StatusSkipped:
		now := time.Now()
		j.finishTime = &now
		j.failed = true
		slog.Info("report run ended without result",
			"run_id", j.run.ID,
			"status", string(status),
			"elapsed_seconds", int(now.Sub(j.startTime).Seconds()),
		)
		return true
	case StatusNotStarted, StatusStarted, StatusRunning:
		return false
	}
	return false
}

// FetchResult retrieves the output of a successfully completed run. It may
// not be called on a job that never started or whose run failed.
func (j *AsyncJob) FetchResult(ctx context.Context) (*insights.Result, error) {
	if j.run == nil || j.failed {
		return nil, fmt.Errorf("%w: %s is not started or failed, cannot fetch result", ErrInvalidUsage, j)
	}

	var result *insights.Result
	err := j.policy.Do(ctx, func(ctx context.Context) error {
		r, err := j.client.FetchResult(ctx, j.run.ID)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetching result for run %s: %w", j.run.ID, err)
	}
	return result, nil
}

// Failed reports whether the last observed status was a failure terminal.
func (j *AsyncJob) Failed() bool {
	return j.failed
}

// ElapsedTime returns the time since Start, frozen at finishTime once a
// terminal status has been observed, or nil if the job never started. Because
// finishTime is stamped by the poll that first saw the terminal status, the
// value is an upper bound on the actual remote running time.
func (j *AsyncJob) ElapsedTime() *time.Duration {
	if j.startTime.IsZero() {
		return nil
	}
	end := time.Now()
	if j.finishTime != nil {
		end = *j.finishTime
	}
	d := end.Sub(j.startTime)
	return &d
}

// String renders the job for diagnostics only; it is not part of the state
// contract.
func (j *AsyncJob) String() string {
	id := "<none>"
	if j.run != nil {
		id = j.run.ID
	}
	return fmt.Sprintf("AsyncJob(run=%s, time_range=%s, breakdowns=%v)",
		id, j.params.TimeRange.String(), j.params.Breakdowns)
}
