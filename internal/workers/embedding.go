package workers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/aerodocs/techpubs-backend/internal/clients/openai"
	"github.com/aerodocs/techpubs-backend/internal/data/repos"
	types "github.com/aerodocs/techpubs-backend/internal/domain"
	"github.com/aerodocs/techpubs-backend/internal/platform/dbctx"
	"github.com/aerodocs/techpubs-backend/internal/platform/envutil"
	"github.com/aerodocs/techpubs-backend/internal/platform/logger"
	"github.com/aerodocs/techpubs-backend/internal/queue"
	"github.com/aerodocs/techpubs-backend/internal/services"
)

// DefaultEmbedCallBatch is how many chunk texts go into a single embeddings
// API call. Distinct from the per-job batch, which bounds how many chunks one
// embedding job covers.
const DefaultEmbedCallBatch = 32

// EmbeddingProcessor embeds one contiguous chunk range of a document
// version. Each embedded chunk is persisted immediately, so a retry after a
// partial failure only pays for the chunks still missing vectors.
type EmbeddingProcessor struct {
	log       *logger.Logger
	pipeline  services.PipelineService
	chunks    repos.DocumentChunkRepo
	embedder  openai.Client
	callBatch int
}

func NewEmbeddingProcessor(
	baseLog *logger.Logger,
	pipeline services.PipelineService,
	chunks repos.DocumentChunkRepo,
	embedder openai.Client,
) *EmbeddingProcessor {
	log := baseLog.With("worker", "EmbeddingProcessor")
	return &EmbeddingProcessor{
		log:       log,
		pipeline:  pipeline,
		chunks:    chunks,
		embedder:  embedder,
		callBatch: envutil.GetEnvAsInt("EMBED_CALL_BATCH_SIZE", DefaultEmbedCallBatch, log),
	}
}

func (p *EmbeddingProcessor) ProcessTask(ctx context.Context, t *asynq.Task) error {
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
		p.log.Info("Skipping embedding job not in pending state", "job_id", payload.JobID)
		return nil
	}
	p.log.Info("Embedding job started",
		"job_id", job.ID,
		"version_id", job.DocumentVersionID,
		"model", p.embedder.Model())

	if err := p.run(dbc, job); err != nil {
		if err == errJobCancelled {
			p.log.Info("Embedding job cancelled mid-run", "job_id", job.ID)
			return p.pipeline.AfterChildTerminal(dbc, job.ID)
		}
		p.log.Error("Embedding job failed", "job_id", job.ID, "error", err)
		return p.pipeline.FailJob(dbc, job.ID, err.Error())
	}
	return p.pipeline.CompleteJob(dbc, job.ID)
}

func (p *EmbeddingProcessor) run(dbc dbctx.Context, job *types.DocumentJob) error {
	if job.ChunkStartIndex == nil || job.ChunkEndIndex == nil {
		return fmt.Errorf("embedding job %d has no chunk range", job.ID)
	}
	start, end := *job.ChunkStartIndex, *job.ChunkEndIndex

	pending, err := p.chunks.GetRangeMissingEmbeddings(dbc, job.DocumentVersionID, start, end)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		p.log.Info("No chunks missing embeddings in range",
			"job_id", job.ID, "start", start, "end", end)
		return nil
	}

	for offset := 0; offset < len(pending); offset += p.callBatch {
		cancelled, err := p.pipeline.IsCancelled(dbc, job.ID)
		if err != nil {
			return err
		}
		if cancelled {
			return errJobCancelled
		}

		batch := pending[offset:min(offset+p.callBatch, len(pending))]
		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Content
		}

		vectors, err := p.embedder.Embed(dbc.Ctx, texts)
		if err != nil {
			return fmt.Errorf("embedding provider: %w", err)
		}
		if len(vectors) != len(batch) {
			return fmt.Errorf("embedding provider returned %d vectors for %d inputs", len(vectors), len(batch))
		}
		for i, c := range batch {
			if err := p.chunks.AttachEmbedding(dbc, job.DocumentVersionID, c.ChunkIndex, vectors[i], p.embedder.Model()); err != nil {
				return err
			}
		}
		p.log.Debug("Embedded batch",
			"job_id", job.ID,
			"batch_size", len(batch),
			"done", offset+len(batch),
			"total", len(pending))
	}
	return nil
}
