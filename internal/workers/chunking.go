package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/hibiken/asynq"
	"gorm.io/gorm"

	"github.com/aerodocs/techpubs-backend/internal/clients/gcp"
	"github.com/aerodocs/techpubs-backend/internal/data/repos"
	types "github.com/aerodocs/techpubs-backend/internal/domain"
	"github.com/aerodocs/techpubs-backend/internal/platform/dbctx"
	"github.com/aerodocs/techpubs-backend/internal/platform/envutil"
	"github.com/aerodocs/techpubs-backend/internal/platform/logger"
	"github.com/aerodocs/techpubs-backend/internal/queue"
	"github.com/aerodocs/techpubs-backend/internal/services"
)

// errJobCancelled aborts the page loop when an operator cancels mid-run.
var errJobCancelled = fmt.Errorf("job cancelled")

// ChunkingProcessor downloads a publication PDF and turns it into stored
// chunks. The insert is all-or-nothing: a failure leaves no partial chunk
// runs behind.
type ChunkingProcessor struct {
	db        *gorm.DB
	log       *logger.Logger
	pipeline  services.PipelineService
	jobs      repos.DocumentJobRepo
	versions  repos.DocumentVersionRepo
	chunks    repos.DocumentChunkRepo
	bucket    gcp.BucketService
	maxTokens int
}

func NewChunkingProcessor(
	db *gorm.DB,
	baseLog *logger.Logger,
	pipeline services.PipelineService,
	jobs repos.DocumentJobRepo,
	versions repos.DocumentVersionRepo,
	chunks repos.DocumentChunkRepo,
	bucket gcp.BucketService,
) *ChunkingProcessor {
	log := baseLog.With("worker", "ChunkingProcessor")
	return &ChunkingProcessor{
		db:        db,
		log:       log,
		pipeline:  pipeline,
		jobs:      jobs,
		versions:  versions,
		chunks:    chunks,
		bucket:    bucket,
		maxTokens: envutil.GetEnvAsInt("CHUNK_MAX_TOKENS", MaxChunkTokens, log),
	}
}

func (p *ChunkingProcessor) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload queue.JobPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}
	dbc := dbctx.Context{Ctx: ctx}

	job, claimed, err := p.pipeline.ClaimJob(dbc, payload.JobID)
	if err != nil {
		return err
	}
	if !claimed {
		p.log.Info("Skipping chunking job not in pending state", "job_id", payload.JobID)
		return nil
	}
	p.log.Info("Chunking job started", "job_id", job.ID, "version_id", job.DocumentVersionID)

	if err := p.run(dbc, job); err != nil {
		if err == errJobCancelled {
			p.log.Info("Chunking job cancelled mid-run", "job_id", job.ID)
			return p.pipeline.AfterChildTerminal(dbc, job.ID)
		}
		p.log.Error("Chunking job failed", "job_id", job.ID, "error", err)
		return p.pipeline.FailJob(dbc, job.ID, err.Error())
	}
	return p.pipeline.CompleteJob(dbc, job.ID)
}

func (p *ChunkingProcessor) run(dbc dbctx.Context, job *types.DocumentJob) error {
	version, err := p.versions.GetByID(dbc, job.DocumentVersionID)
	if err != nil {
		return err
	}
	if version == nil {
		return fmt.Errorf("document version %d not found", job.DocumentVersionID)
	}
	if version.BlobPath == nil || *version.BlobPath == "" {
		return fmt.Errorf("document version %d has no blob path", version.ID)
	}

	path, cleanup, err := p.downloadToTemp(dbc.Ctx, *version.BlobPath)
	if err != nil {
		return fmt.Errorf("download blob %q: %w", *version.BlobPath, err)
	}
	defer cleanup()

	extracted, err := p.extractWithCancel(dbc, job.ID, path)
	if err != nil {
		return err
	}
	p.log.Info("Extraction finished", "job_id", job.ID, "chunks", len(extracted))

	totalTokens := 0
	rows := make([]*types.DocumentChunk, 0, len(extracted))
	for _, c := range extracted {
		chunk := c
		rows = append(rows, &types.DocumentChunk{
			DocumentVersionID: version.ID,
			ChunkIndex:        chunk.ChunkIndex,
			Content:           chunk.Content,
			TokenCount:        &chunk.TokenCount,
			PageNumber:        &chunk.PageNumber,
		})
		totalTokens += chunk.TokenCount
	}

	return p.db.WithContext(dbc.Ctx).Transaction(func(tx *gorm.DB) error {
		txc := dbctx.Context{Ctx: dbc.Ctx, Tx: tx}
		if err := p.chunks.CreateChunks(txc, rows); err != nil {
			return err
		}
		if err := p.versions.UpdateFields(txc, version.ID, map[string]interface{}{
			"total_token_count": totalTokens,
		}); err != nil {
			return err
		}
		return p.jobs.UpdateFields(txc, job.ID, map[string]interface{}{
			"chunk_start_index": 0,
			"chunk_end_index":   len(rows),
		})
	})
}

// extractWithCancel runs the extraction with a cancellation checkpoint
// between pages, so a cancel lands within one page's worth of work.
func (p *ChunkingProcessor) extractWithCancel(dbc dbctx.Context, jobID int64, path string) ([]ExtractedChunk, error) {
	return ExtractPDFChunks(path, p.maxTokens, func() error {
		cancelled, err := p.pipeline.IsCancelled(dbc, jobID)
		if err != nil {
			return err
		}
		if cancelled {
			return errJobCancelled
		}
		return nil
	})
}

func (p *ChunkingProcessor) downloadToTemp(ctx context.Context, blobPath string) (string, func(), error) {
	r, err := p.bucket.DownloadFile(ctx, blobPath)
	if err != nil {
		return "", nil, err
	}
	defer r.Close()

	tmp, err := os.CreateTemp("", "techpubs-*.pdf")
	if err != nil {
		return "", nil, err
	}
	cleanup := func() { _ = os.Remove(tmp.Name()) }

	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		cleanup()
		return "", nil, err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", nil, err
	}
	return tmp.Name(), cleanup, nil
}
