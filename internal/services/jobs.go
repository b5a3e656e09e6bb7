package services

import (
	"errors"
	"time"

	"github.com/hibiken/asynq"
	"gorm.io/gorm"

	repojobs "github.com/aerodocs/techpubs-backend/internal/data/repos/jobs"

	"github.com/aerodocs/techpubs-backend/internal/data/repos"
	types "github.com/aerodocs/techpubs-backend/internal/domain"
	domjobs "github.com/aerodocs/techpubs-backend/internal/domain/jobs"
	"github.com/aerodocs/techpubs-backend/internal/platform/apperr"
	"github.com/aerodocs/techpubs-backend/internal/platform/dbctx"
	"github.com/aerodocs/techpubs-backend/internal/platform/logger"
	"github.com/aerodocs/techpubs-backend/internal/queue"
)

type JobListFilter struct {
	Status       string
	StartDate    *time.Time
	StaleMinutes int
}

type JobView struct {
	ID                int64      `json:"id"`
	DocumentVersionID int64      `json:"document_version_id"`
	DocumentName      string     `json:"document_name"`
	JobType           string     `json:"job_type"`
	Status            string     `json:"status"`
	ErrorMessage      *string    `json:"error_message"`
	StartedAt         *time.Time `json:"started_at"`
	CompletedAt       *time.Time `json:"completed_at"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

type JobListResponse struct {
	Jobs           []JobView `json:"jobs"`
	Total          int       `json:"total"`
	PendingCount   int64     `json:"pending_count"`
	RunningCount   int64     `json:"running_count"`
	CompletedCount int64     `json:"completed_count"`
	FailedCount    int64     `json:"failed_count"`
	CancelledCount int64     `json:"cancelled_count"`
}

type JobActionResponse struct {
	Success bool    `json:"success"`
	Message string  `json:"message"`
	Job     JobView `json:"job"`
}

type ClearQueueResponse struct {
	Queue         string `json:"queue"`
	TasksDeleted  int    `json:"tasks_deleted"`
	JobsCancelled int64  `json:"jobs_cancelled"`
	TasksPending  int    `json:"tasks_pending"`
}

// JobService is the admin surface over the job ledger.
type JobService interface {
	List(dbc dbctx.Context, filter JobListFilter) (*JobListResponse, error)
	Get(dbc dbctx.Context, jobID int64) (*types.DocumentJob, error)
	Cancel(dbc dbctx.Context, jobID int64) (*JobActionResponse, error)
	Requeue(dbc dbctx.Context, jobID int64) (*JobActionResponse, error)
	ClearQueue(dbc dbctx.Context, queueName string) (*ClearQueueResponse, error)
}

type jobService struct {
	db        *gorm.DB
	log       *logger.Logger
	jobs      repos.DocumentJobRepo
	pipeline  PipelineService
	enqueuer  queue.Enqueuer
	inspector queue.Inspector
}

func NewJobService(
	db *gorm.DB,
	baseLog *logger.Logger,
	jobs repos.DocumentJobRepo,
	pipeline PipelineService,
	enqueuer queue.Enqueuer,
	inspector queue.Inspector,
) JobService {
	return &jobService{
		db:        db,
		log:       baseLog.With("service", "JobService"),
		jobs:      jobs,
		pipeline:  pipeline,
		enqueuer:  enqueuer,
		inspector: inspector,
	}
}

func (s *jobService) List(dbc dbctx.Context, filter JobListFilter) (*JobListResponse, error) {
	// Default window: the previous two days, matching the admin monitor.
	if filter.StartDate == nil && filter.StaleMinutes == 0 {
		d := time.Now().AddDate(0, 0, -2)
		filter.StartDate = &d
	}

	rows, totals, err := s.jobs.ListParents(dbc, repojobs.ParentJobFilter{
		Status:       filter.Status,
		StartDate:    filter.StartDate,
		StaleMinutes: filter.StaleMinutes,
	})
	if err != nil {
		return nil, err
	}

	out := &JobListResponse{
		Jobs:           make([]JobView, 0, len(rows)),
		Total:          len(rows),
		PendingCount:   totals.Pending,
		RunningCount:   totals.Running,
		CompletedCount: totals.Completed,
		FailedCount:    totals.Failed,
		CancelledCount: totals.Cancelled,
	}
	for _, row := range rows {
		v := jobToView(&row.DocumentJob)
		v.DocumentName = row.DocumentName
		out.Jobs = append(out.Jobs, v)
	}
	return out, nil
}

func jobToView(j *types.DocumentJob) JobView {
	return JobView{
		ID:                j.ID,
		DocumentVersionID: j.DocumentVersionID,
		JobType:           j.JobType,
		Status:            j.Status,
		ErrorMessage:      j.ErrorMessage,
		StartedAt:         j.StartedAt,
		CompletedAt:       j.CompletedAt,
		CreatedAt:         j.CreatedAt,
		UpdatedAt:         j.UpdatedAt,
	}
}

func (s *jobService) Get(dbc dbctx.Context, jobID int64) (*types.DocumentJob, error) {
	job, err := s.jobs.GetWithChildren(dbc, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, apperr.NotFound("job %d not found", jobID)
	}
	// Parent status is derived, so reads re-derive before returning in case a
	// child transition raced the last persisted value.
	if job.ParentJobID == nil && len(job.ChildJobs) > 0 {
		derived, err := s.pipeline.RefreshParentStatus(dbc, jobID)
		if err != nil {
			return nil, err
		}
		job.Status = derived
	}
	return job, nil
}

func (s *jobService) Cancel(dbc dbctx.Context, jobID int64) (*JobActionResponse, error) {
	job, err := s.jobs.GetByID(dbc, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, apperr.NotFound("job %d not found", jobID)
	}
	if job.Status != domjobs.StatusPending && job.Status != domjobs.StatusRunning {
		return nil, apperr.Validation("cannot cancel job with status %q; only pending or running jobs can be cancelled", job.Status)
	}

	now := time.Now()
	transaction := dbc.Tx
	if transaction == nil {
		transaction = s.db
	}
	err = transaction.WithContext(dbc.Ctx).Transaction(func(tx *gorm.DB) error {
		txc := dbctx.Context{Ctx: dbc.Ctx, Tx: tx}

		applied, err := s.jobs.UpdateFieldsUnlessStatus(txc, jobID,
			[]string{domjobs.StatusCompleted, domjobs.StatusFailed, domjobs.StatusCancelled},
			map[string]interface{}{
				"status":       domjobs.StatusCancelled,
				"completed_at": now,
			})
		if err != nil {
			return err
		}
		if !applied {
			return apperr.Conflict("job %d reached a terminal status concurrently", jobID)
		}

		// A parent cancel cascades to every non-terminal child. Running
		// children observe the cancel at their next checkpoint.
		if job.ParentJobID == nil {
			children, err := s.jobs.Children(txc, jobID)
			if err != nil {
				return err
			}
			for _, c := range children {
				if domjobs.IsTerminalStatus(c.Status) {
					continue
				}
				if _, err := s.jobs.UpdateFieldsUnlessStatus(txc, c.ID,
					[]string{domjobs.StatusCompleted, domjobs.StatusFailed, domjobs.StatusCancelled},
					map[string]interface{}{
						"status":       domjobs.StatusCancelled,
						"completed_at": now,
					}); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if job.ParentJobID != nil {
		if _, err := s.pipeline.RefreshParentStatus(dbc, *job.ParentJobID); err != nil {
			return nil, err
		}
	}

	updated, err := s.jobs.GetByID(dbc, jobID)
	if err != nil {
		return nil, err
	}
	s.log.Info("Job cancelled", "job_id", jobID, "job_type", job.JobType)
	return &JobActionResponse{
		Success: true,
		Message: "Job cancelled successfully",
		Job:     jobToView(updated),
	}, nil
}

func (s *jobService) Requeue(dbc dbctx.Context, jobID int64) (*JobActionResponse, error) {
	job, err := s.jobs.GetByID(dbc, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, apperr.NotFound("job %d not found", jobID)
	}
	if job.Status != domjobs.StatusFailed && job.Status != domjobs.StatusCancelled {
		return nil, apperr.Validation("cannot re-queue job with status %q; only failed or cancelled jobs can be re-queued", job.Status)
	}

	// The same ledger row is reset rather than replaced, so the job id an
	// operator is watching stays valid across the retry.
	reset := map[string]interface{}{
		"status":        domjobs.StatusPending,
		"error_message": gorm.Expr("NULL"),
		"started_at":    gorm.Expr("NULL"),
		"completed_at":  gorm.Expr("NULL"),
	}

	var toEnqueue []*types.DocumentJob

	transaction := dbc.Tx
	if transaction == nil {
		transaction = s.db
	}
	err = transaction.WithContext(dbc.Ctx).Transaction(func(tx *gorm.DB) error {
		txc := dbctx.Context{Ctx: dbc.Ctx, Tx: tx}

		if err := s.jobs.UpdateFields(txc, jobID, reset); err != nil {
			return err
		}

		switch {
		case job.ParentJobID == nil:
			// Parent requeue also resets its failed/cancelled children.
			children, err := s.jobs.Children(txc, jobID)
			if err != nil {
				return err
			}
			for _, c := range children {
				if c.Status != domjobs.StatusFailed && c.Status != domjobs.StatusCancelled {
					continue
				}
				if err := s.jobs.UpdateFields(txc, c.ID, map[string]interface{}{
					"status":        domjobs.StatusPending,
					"error_message": gorm.Expr("NULL"),
					"started_at":    gorm.Expr("NULL"),
					"completed_at":  gorm.Expr("NULL"),
				}); err != nil {
					return err
				}
				toEnqueue = append(toEnqueue, c)
			}
		default:
			toEnqueue = append(toEnqueue, job)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, c := range toEnqueue {
		var enqErr error
		switch c.JobType {
		case domjobs.JobTypeChunking:
			enqErr = s.enqueuer.EnqueueChunking(dbc.Ctx, c.ID)
		case domjobs.JobTypeEmbedding:
			enqErr = s.enqueuer.EnqueueEmbedding(dbc.Ctx, c.ID)
		}
		if enqErr != nil {
			s.log.Error("Failed to re-enqueue job", "job_id", c.ID, "error", enqErr)
		}
	}

	if job.ParentJobID != nil {
		if _, err := s.pipeline.RefreshParentStatus(dbc, *job.ParentJobID); err != nil {
			return nil, err
		}
	}

	updated, err := s.jobs.GetByID(dbc, jobID)
	if err != nil {
		return nil, err
	}
	s.log.Info("Job re-queued", "job_id", jobID, "job_type", job.JobType)
	return &JobActionResponse{
		Success: true,
		Message: "Job re-queued successfully",
		Job:     jobToView(updated),
	}, nil
}

func (s *jobService) ClearQueue(dbc dbctx.Context, queueName string) (*ClearQueueResponse, error) {
	if !queue.IsKnownQueue(queueName) {
		return nil, apperr.Validation("unknown queue %q", queueName)
	}

	deleted, err := s.inspector.ClearPending(queueName)
	if err != nil && !errors.Is(err, asynq.ErrQueueNotFound) {
		return nil, apperr.External("failed to clear queue", err)
	}

	// The ledger mirrors the drain: a task that will never run again must not
	// sit pending forever, and the parents of the cancelled rows re-derive in
	// the same transaction so the listing never shows them stale.
	var cancelled int64
	transaction := dbc.Tx
	if transaction == nil {
		transaction = s.db
	}
	err = transaction.WithContext(dbc.Ctx).Transaction(func(tx *gorm.DB) error {
		txc := dbctx.Context{Ctx: dbc.Ctx, Tx: tx}
		n, parentIDs, err := s.jobs.CancelPendingByType(txc, queueName)
		if err != nil {
			return err
		}
		cancelled = n
		for _, parentID := range parentIDs {
			if _, err := s.pipeline.RefreshParentStatus(txc, parentID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Tasks enqueued while the drain ran are still there; report them so the
	// operator knows a second clear may be needed.
	remaining, err := s.inspector.PendingCount(queueName)
	if err != nil && !errors.Is(err, asynq.ErrQueueNotFound) {
		s.log.Warn("Could not read pending count after clear", "queue", queueName, "error", err)
		remaining = 0
	}

	s.log.Info("Queue cleared", "queue", queueName, "tasks_deleted", deleted, "jobs_cancelled", cancelled)
	return &ClearQueueResponse{
		Queue:         queueName,
		TasksDeleted:  deleted,
		JobsCancelled: cancelled,
		TasksPending:  remaining,
	}, nil
}
