package services

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/aerodocs/techpubs-backend/internal/data/repos"
	types "github.com/aerodocs/techpubs-backend/internal/domain"
	domjobs "github.com/aerodocs/techpubs-backend/internal/domain/jobs"
	"github.com/aerodocs/techpubs-backend/internal/platform/apperr"
	"github.com/aerodocs/techpubs-backend/internal/platform/dbctx"
	"github.com/aerodocs/techpubs-backend/internal/platform/envutil"
	"github.com/aerodocs/techpubs-backend/internal/platform/logger"
	"github.com/aerodocs/techpubs-backend/internal/queue"
)

// DefaultEmbeddingBatchSize is the chunk-range width of one embedding job.
const DefaultEmbeddingBatchSize = 500

// PipelineService owns job state transitions and the chunking-to-embedding
// fan-out. Workers and the jobs API both go through it; nothing else writes
// job statuses.
type PipelineService interface {
	// ClaimJob moves a pending job to running. Returns false when the job was
	// already claimed, cancelled, or finished.
	ClaimJob(dbc dbctx.Context, jobID int64) (*types.DocumentJob, bool, error)
	// IsCancelled is the workers' cooperative cancellation checkpoint.
	IsCancelled(dbc dbctx.Context, jobID int64) (bool, error)
	CompleteJob(dbc dbctx.Context, jobID int64) error
	FailJob(dbc dbctx.Context, jobID int64, msg string) error
	// AfterChildTerminal recomputes the parent's status and, when the chunking
	// stage just finished cleanly, fans out the embedding jobs.
	AfterChildTerminal(dbc dbctx.Context, childID int64) error
	RefreshParentStatus(dbc dbctx.Context, parentID int64) (string, error)
	Reprocess(dbc dbctx.Context, documentGUID uuid.UUID) (*types.DocumentJob, error)
}

type pipelineService struct {
	db        *gorm.DB
	log       *logger.Logger
	jobs      repos.DocumentJobRepo
	chunks    repos.DocumentChunkRepo
	documents repos.DocumentRepo
	versions  repos.DocumentVersionRepo
	enqueuer  queue.Enqueuer
	batchSize int
}

func NewPipelineService(
	db *gorm.DB,
	baseLog *logger.Logger,
	jobs repos.DocumentJobRepo,
	chunks repos.DocumentChunkRepo,
	documents repos.DocumentRepo,
	versions repos.DocumentVersionRepo,
	enqueuer queue.Enqueuer,
) PipelineService {
	log := baseLog.With("service", "PipelineService")
	return &pipelineService{
		db:        db,
		log:       log,
		jobs:      jobs,
		chunks:    chunks,
		documents: documents,
		versions:  versions,
		enqueuer:  enqueuer,
		batchSize: envutil.GetEnvAsInt("EMBEDDING_BATCH_SIZE", DefaultEmbeddingBatchSize, log),
	}
}

func (s *pipelineService) ClaimJob(dbc dbctx.Context, jobID int64) (*types.DocumentJob, bool, error) {
	claimed, err := s.jobs.UpdateFieldsUnlessStatus(dbc, jobID,
		[]string{domjobs.StatusRunning, domjobs.StatusCompleted, domjobs.StatusFailed, domjobs.StatusCancelled},
		map[string]interface{}{
			"status":     domjobs.StatusRunning,
			"started_at": time.Now(),
		})
	if err != nil {
		return nil, false, err
	}
	if !claimed {
		return nil, false, nil
	}
	job, err := s.jobs.GetByID(dbc, jobID)
	if err != nil {
		return nil, false, err
	}
	if job == nil {
		return nil, false, apperr.NotFound("job %d not found", jobID)
	}
	if job.ParentJobID != nil {
		if _, err := s.RefreshParentStatus(dbc, *job.ParentJobID); err != nil {
			return nil, false, err
		}
	}
	return job, true, nil
}

func (s *pipelineService) IsCancelled(dbc dbctx.Context, jobID int64) (bool, error) {
	status, err := s.jobs.GetStatus(dbc, jobID)
	if err != nil {
		return false, err
	}
	return status == domjobs.StatusCancelled, nil
}

func (s *pipelineService) CompleteJob(dbc dbctx.Context, jobID int64) error {
	// A cancelled or failed job must never flip to completed.
	applied, err := s.jobs.UpdateFieldsUnlessStatus(dbc, jobID,
		[]string{domjobs.StatusCancelled, domjobs.StatusFailed},
		map[string]interface{}{
			"status":       domjobs.StatusCompleted,
			"completed_at": time.Now(),
		})
	if err != nil {
		return err
	}
	if !applied {
		s.log.Info("Skipped completion for job no longer running", "job_id", jobID)
	}
	return s.AfterChildTerminal(dbc, jobID)
}

func (s *pipelineService) FailJob(dbc dbctx.Context, jobID int64, msg string) error {
	applied, err := s.jobs.UpdateFieldsUnlessStatus(dbc, jobID,
		[]string{domjobs.StatusCancelled},
		map[string]interface{}{
			"status":        domjobs.StatusFailed,
			"error_message": msg,
			"completed_at":  time.Now(),
		})
	if err != nil {
		return err
	}
	if !applied {
		s.log.Info("Skipped failure mark for cancelled job", "job_id", jobID)
	}
	return s.AfterChildTerminal(dbc, jobID)
}

func (s *pipelineService) AfterChildTerminal(dbc dbctx.Context, childID int64) error {
	child, err := s.jobs.GetByID(dbc, childID)
	if err != nil {
		return err
	}
	if child == nil || child.ParentJobID == nil {
		return nil
	}
	parentID := *child.ParentJobID

	if child.JobType == domjobs.JobTypeChunking && child.Status == domjobs.StatusCompleted {
		if err := s.maybeFanOutEmbedding(dbc, parentID); err != nil {
			return err
		}
	}

	_, err = s.RefreshParentStatus(dbc, parentID)
	return err
}

// maybeFanOutEmbedding creates the embedding children once every chunking
// child of the parent has completed. Idempotent: once embedding children
// exist, nothing more is created.
func (s *pipelineService) maybeFanOutEmbedding(dbc dbctx.Context, parentID int64) error {
	chunkingCounts, err := s.jobs.ChildStatusCounts(dbc, parentID, domjobs.JobTypeChunking)
	if err != nil {
		return err
	}
	if chunkingCounts.Total() == 0 || chunkingCounts.Completed != chunkingCounts.Total() {
		return nil
	}
	embeddingCounts, err := s.jobs.ChildStatusCounts(dbc, parentID, domjobs.JobTypeEmbedding)
	if err != nil {
		return err
	}
	if embeddingCounts.Total() > 0 {
		return nil
	}

	parent, err := s.jobs.GetByID(dbc, parentID)
	if err != nil {
		return err
	}
	if parent == nil {
		return apperr.NotFound("parent job %d not found", parentID)
	}

	agg, err := s.chunks.Aggregates(dbc, parent.DocumentVersionID)
	if err != nil {
		return err
	}
	if agg.TotalChunks == 0 {
		s.log.Warn("Chunking finished with zero chunks; nothing to embed",
			"parent_job_id", parentID, "version_id", parent.DocumentVersionID)
		return nil
	}

	ranges := PartitionChunkRanges(int(agg.TotalChunks), s.batchSize)
	children := make([]*types.DocumentJob, 0, len(ranges))
	for _, rng := range ranges {
		start, end := rng[0], rng[1]
		children = append(children, &types.DocumentJob{
			DocumentVersionID: parent.DocumentVersionID,
			JobType:           domjobs.JobTypeEmbedding,
			Status:            domjobs.StatusPending,
			ParentJobID:       &parent.ID,
			ChunkStartIndex:   &start,
			ChunkEndIndex:     &end,
		})
	}
	if _, err := s.jobs.Create(dbc, children); err != nil {
		return err
	}
	for _, c := range children {
		if err := s.enqueuer.EnqueueEmbedding(dbc.Ctx, c.ID); err != nil {
			s.log.Error("Failed to enqueue embedding task; job stays pending for requeue",
				"job_id", c.ID, "error", err)
		}
	}
	s.log.Info("Fanned out embedding jobs",
		"parent_job_id", parentID, "total_chunks", agg.TotalChunks, "jobs", len(children))
	return nil
}

// PartitionChunkRanges splits [0, total) into half-open ranges of at most
// batchSize indices. Ranges are contiguous and non-overlapping.
func PartitionChunkRanges(total, batchSize int) [][2]int {
	if total <= 0 {
		return nil
	}
	if batchSize <= 0 {
		batchSize = DefaultEmbeddingBatchSize
	}
	var out [][2]int
	for start := 0; start < total; start += batchSize {
		end := start + batchSize
		if end > total {
			end = total
		}
		out = append(out, [2]int{start, end})
	}
	return out
}

func (s *pipelineService) RefreshParentStatus(dbc dbctx.Context, parentID int64) (string, error) {
	parent, err := s.jobs.GetByID(dbc, parentID)
	if err != nil {
		return "", err
	}
	if parent == nil {
		return "", apperr.NotFound("parent job %d not found", parentID)
	}

	counts, err := s.jobs.ChildStatusCounts(dbc, parentID, "")
	if err != nil {
		return "", err
	}
	derived := domjobs.DeriveParentStatus(parent.Status == domjobs.StatusCancelled, counts)
	if derived == parent.Status {
		return derived, nil
	}

	updates := map[string]interface{}{"status": derived}
	if derived == domjobs.StatusRunning && parent.StartedAt == nil {
		updates["started_at"] = time.Now()
	}
	if domjobs.IsTerminalStatus(derived) && parent.CompletedAt == nil {
		updates["completed_at"] = time.Now()
	}
	if err := s.jobs.UpdateFields(dbc, parentID, updates); err != nil {
		return "", err
	}
	s.log.Info("Parent status derived", "parent_job_id", parentID, "from", parent.Status, "to", derived)
	return derived, nil
}

func (s *pipelineService) Reprocess(dbc dbctx.Context, documentGUID uuid.UUID) (*types.DocumentJob, error) {
	doc, err := s.documents.GetByGUID(dbc, documentGUID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, apperr.NotFound("document %s not found", documentGUID)
	}
	version, err := s.versions.GetLatestByDocumentID(dbc, doc.ID)
	if err != nil {
		return nil, err
	}
	if version == nil {
		return nil, apperr.NotFound("document %s has no versions", documentGUID)
	}

	var parent, child *types.DocumentJob

	transaction := dbc.Tx
	if transaction == nil {
		transaction = s.db
	}
	err = transaction.WithContext(dbc.Ctx).Transaction(func(tx *gorm.DB) error {
		txc := dbctx.Context{Ctx: dbc.Ctx, Tx: tx}

		// Serialize run creation per version: concurrent reprocess requests
		// both pass a plain COUNT under READ COMMITTED, so the active-parent
		// check is only sound behind the row lock.
		locked, err := s.versions.LockByID(txc, version.ID)
		if err != nil {
			return err
		}
		if locked == nil {
			return apperr.NotFound("document version %d not found", version.ID)
		}

		active, err := s.jobs.HasActiveParentForVersion(txc, version.ID)
		if err != nil {
			return err
		}
		if active {
			return apperr.Conflict("ingestion already in progress for document %s", documentGUID)
		}

		// Prior runs stay in the ledger; only the chunk rows are rebuilt.
		if err := s.chunks.DeleteByVersion(txc, version.ID); err != nil {
			return err
		}

		parent = &types.DocumentJob{
			DocumentVersionID: version.ID,
			JobType:           domjobs.JobTypeIngestion,
			Status:            domjobs.StatusPending,
		}
		if _, err := s.jobs.Create(txc, []*types.DocumentJob{parent}); err != nil {
			return err
		}
		child = &types.DocumentJob{
			DocumentVersionID: version.ID,
			JobType:           domjobs.JobTypeChunking,
			Status:            domjobs.StatusPending,
			ParentJobID:       &parent.ID,
		}
		_, err = s.jobs.Create(txc, []*types.DocumentJob{child})
		return err
	})
	if err != nil {
		return nil, err
	}

	if err := s.enqueuer.EnqueueChunking(dbc.Ctx, child.ID); err != nil {
		s.log.Error("Failed to enqueue chunking task; job stays pending for requeue",
			"job_id", child.ID, "error", err)
	}

	s.log.Info("Reprocess started", "document_guid", documentGUID, "parent_job_id", parent.ID)
	return parent, nil
}
