// Package runner drives submitted report jobs through their remote lifecycle.
// A single sweeper goroutine owns every live AsyncJob, so each state machine
// is only ever touched from one goroutine while all jobs progress together.
package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hamisB/reportrunner/internal/cache"
	"github.com/hamisB/reportrunner/internal/config"
	"github.com/hamisB/reportrunner/internal/insights"
	"github.com/hamisB/reportrunner/internal/report"
	"github.com/hamisB/reportrunner/internal/retry"
	"github.com/hamisB/reportrunner/internal/store"
	"github.com/hamisB/reportrunner/pkg/models"
)

const submitQueueSize = 128

// Service accepts report submissions and sweeps all in-flight runs on a
// fixed interval, coalescing their status checks into one batched call per
// tick.
type Service struct {
	client insights.Client
	store  store.Store
	cache  cache.Cache
	policy retry.Policy

	pollInterval time.Duration
	maxRestarts  int
	statusTTL    time.Duration

	submissions chan *trackedJob
	stop        chan struct{}
	done        chan struct{}
}

// trackedJob pairs a persisted job record with its live state machine.
type trackedJob struct {
	id       uuid.UUID
	job      *report.AsyncJob
	restarts int
	started  bool
}

// NewService creates a Service. Call Start to begin sweeping.
func NewService(client insights.Client, st store.Store, ca cache.Cache, policy retry.Policy, cfg config.RunnerConfig) *Service {
	return &Service{
		client:       client,
		store:        st,
		cache:        ca,
		policy:       policy,
		pollInterval: cfg.PollInterval,
		maxRestarts:  cfg.MaxRestarts,
		statusTTL:    cfg.JobStatusTTL,
		submissions:  make(chan *trackedJob, submitQueueSize),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Start launches the sweeper goroutine.
func (s *Service) Start() {
	go s.sweepLoop()
}

// Stop shuts the sweeper down and waits for the current tick to finish.
// In-flight remote runs keep running server-side; nothing here can abort
// them.
func (s *Service) Stop() {
	close(s.stop)
	<-s.done
}

// SubmitReport persists a pending job, registers it with the sweeper, and
// returns immediately. The caller polls the job id for progress.
func (s *Service) SubmitReport(ctx context.Context, tenantID uuid.UUID, params insights.ReportParams) (*models.ReportJob, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encoding report params: %w", err)
	}

	job := &models.ReportJob{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Params:    raw,
		Status:    models.ReportJobStatusPending,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}

	if err := s.store.CreateReportJob(ctx, job); err != nil {
		return nil, fmt.Errorf("creating report job: %w", err)
	}

	_ = s.cache.SetJobStatus(ctx, job.ID, models.ReportJobStatusPending, s.statusTTL)

	tracked := &trackedJob{
		id:  job.ID,
		job: report.New(s.client, s.policy, params),
	}

	select {
	case s.submissions <- tracked:
	default:
		_ = s.store.UpdateReportJobStatus(ctx, job.ID, models.ReportJobStatusFailed,
			store.WithErrorMessage("runner queue full"))
		_ = s.cache.SetJobStatus(ctx, job.ID, models.ReportJobStatusFailed, s.statusTTL)
		return nil, fmt.Errorf("runner queue full, rejecting job %s", job.ID)
	}

	slog.Info("report job submitted", "job_id", job.ID, "tenant_id", tenantID)
	return job, nil
}

func (s *Service) sweepLoop() {
	defer close(s.done)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	jobs := make(map[uuid.UUID]*trackedJob)

	for {
		select {
		case t := <-s.submissions:
			jobs[t.id] = t
		case <-ticker.C:
			s.sweep(context.Background(), jobs)
		case <-s.stop:
			slog.Info("runner stopping", "jobs_in_flight", len(jobs))
			return
		}
	}
}

// sweep advances every tracked job one step: starts the pending ones, polls
// the running ones (batched into one round trip where possible), restarts or
// finalizes the finished ones.
func (s *Service) sweep(ctx context.Context, jobs map[uuid.UUID]*trackedJob) {
	for _, t := range jobs {
		if t.started {
			continue
		}
		if err := t.job.Start(ctx); err != nil {
			slog.Error("report run failed to start", "job_id", t.id, "error", err)
			s.finalizeFailed(ctx, t, fmt.Sprintf("starting report run: %v", err))
			delete(jobs, t.id)
			continue
		}
		t.started = true
		_ = s.store.UpdateReportJobStatus(ctx, t.id, models.ReportJobStatusRunning, store.WithAttempts(1))
		_ = s.cache.SetJobStatus(ctx, t.id, models.ReportJobStatusRunning, s.statusTTL)
	}

	finished := s.poll(ctx, jobs)

	for _, t := range finished {
		if t.job.Failed() && t.restarts < s.maxRestarts {
			if err := t.job.Restart(ctx); err != nil {
				slog.Error("report run failed to restart", "job_id", t.id, "error", err)
				s.finalizeFailed(ctx, t, fmt.Sprintf("restarting report run: %v", err))
				delete(jobs, t.id)
				continue
			}
			t.restarts++
			_ = s.store.UpdateReportJobStatus(ctx, t.id, models.ReportJobStatusRunning,
				store.WithAttempts(t.restarts+1))
			continue
		}

		if t.job.Failed() {
			s.finalizeFailed(ctx, t,
				fmt.Sprintf("report run failed after %d attempts", t.restarts+1))
		} else {
			s.finalizeCompleted(ctx, t)
		}
		delete(jobs, t.id)
	}
}

// poll refreshes the status of every started, unfinished job and returns the
// ones that reached a terminal state this tick. With more than one live job
// the checks are coalesced into a single batch round trip.
func (s *Service) poll(ctx context.Context, jobs map[uuid.UUID]*trackedJob) []*trackedJob {
	var live []*trackedJob
	var reqs []insights.BatchRequest
	for _, t := range jobs {
		if !t.started {
			continue
		}
		req := t.job.BatchUpdateRequest()
		if req == nil {
			// Already terminal; picked up below without a remote call.
			live = append(live, t)
			continue
		}
		reqs = append(reqs, *req)
		live = append(live, t)
	}

	if len(reqs) == 1 {
		// A batch of one buys nothing; poll directly.
		for _, t := range live {
			if t.job.BatchUpdateRequest() == nil {
				continue
			}
			if _, err := t.job.Completed(ctx); err != nil {
				slog.Warn("report status refresh failed", "job_id", t.id, "error", err)
			}
		}
	} else if len(reqs) > 1 {
		var resps []insights.BatchResponse
		err := s.policy.Do(ctx, func(ctx context.Context) error {
			r, err := s.client.ExecuteBatch(ctx, reqs)
			if err != nil {
				return err
			}
			resps = r
			return nil
		})
		if err != nil {
			slog.Warn("batch status sweep failed", "jobs", len(reqs), "error", err)
		} else {
			i := 0
			for _, t := range live {
				if t.job.BatchUpdateRequest() == nil {
					continue
				}
				if perr := t.job.ProcessBatchResult(resps[i]); perr != nil {
					slog.Warn("batch result rejected", "job_id", t.id, "error", perr)
				}
				i++
			}
		}
	}

	var finished []*trackedJob
	for _, t := range live {
		if t.job.BatchUpdateRequest() == nil {
			finished = append(finished, t)
		}
	}
	return finished
}

func (s *Service) finalizeCompleted(ctx context.Context, t *trackedJob) {
	result, err := t.job.FetchResult(ctx)
	if err != nil {
		s.finalizeFailed(ctx, t, fmt.Sprintf("fetching result: %v", err))
		return
	}

	raw, err := json.Marshal(result.Rows)
	if err != nil {
		s.finalizeFailed(ctx, t, fmt.Sprintf("encoding result: %v", err))
		return
	}

	if err := s.store.CreateReportResult(ctx, &models.ReportResult{
		JobID:     t.id,
		Rows:      raw,
		RowCount:  len(result.Rows),
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		s.finalizeFailed(ctx, t, fmt.Sprintf("storing result: %v", err))
		return
	}

	_ = s.store.UpdateReportJobStatus(ctx, t.id, models.ReportJobStatusCompleted)
	_ = s.cache.SetJobStatus(ctx, t.id, models.ReportJobStatusCompleted, s.statusTTL)
	_ = s.cache.Set(ctx, cache.ResultKey(t.id), raw, s.statusTTL)

	elapsed := t.job.ElapsedTime()
	slog.Info("report job completed",
		"job_id", t.id,
		"rows", len(result.Rows),
		"elapsed_seconds", int(elapsed.Seconds()),
	)
}

func (s *Service) finalizeFailed(ctx context.Context, t *trackedJob, msg string) {
	_ = s.store.UpdateReportJobStatus(ctx, t.id, models.ReportJobStatusFailed,
		store.WithErrorMessage(msg))
	_ = s.cache.SetJobStatus(ctx, t.id, models.ReportJobStatusFailed, s.statusTTL)
	slog.Error("report job failed", "job_id", t.id, "error", msg)
}
