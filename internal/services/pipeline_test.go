package services

import (
	"context"
	"testing"
	"time"

	"github.com/aerodocs/techpubs-backend/internal/data/repos"
	"github.com/aerodocs/techpubs-backend/internal/data/repos/docs"
	"github.com/aerodocs/techpubs-backend/internal/data/repos/testutil"
	types "github.com/aerodocs/techpubs-backend/internal/domain"
	domjobs "github.com/aerodocs/techpubs-backend/internal/domain/jobs"
	"github.com/aerodocs/techpubs-backend/internal/platform/apperr"
	"github.com/aerodocs/techpubs-backend/internal/platform/dbctx"
	"github.com/aerodocs/techpubs-backend/internal/platform/logger"
)

// memJobRepo is an in-memory ledger for exercising job state transitions
// without a database. Only the methods the pipeline touches are implemented.
type memJobRepo struct {
	repos.DocumentJobRepo
	nextID int64
	jobs   map[int64]*types.DocumentJob
}

func newMemJobRepo() *memJobRepo {
	return &memJobRepo{jobs: map[int64]*types.DocumentJob{}}
}

func (m *memJobRepo) Create(_ dbctx.Context, jobs []*types.DocumentJob) ([]*types.DocumentJob, error) {
	for _, j := range jobs {
		m.nextID++
		j.ID = m.nextID
		j.CreatedAt = time.Now()
		m.jobs[j.ID] = j
	}
	return jobs, nil
}

func (m *memJobRepo) GetByID(_ dbctx.Context, id int64) (*types.DocumentJob, error) {
	j, ok := m.jobs[id]
	if !ok {
		return nil, nil
	}
	copied := *j
	return &copied, nil
}

func (m *memJobRepo) GetStatus(_ dbctx.Context, id int64) (string, error) {
	j, ok := m.jobs[id]
	if !ok {
		return "", nil
	}
	return j.Status, nil
}

func (m *memJobRepo) ChildStatusCounts(_ dbctx.Context, parentID int64, jobType string) (types.StatusCounts, error) {
	var counts types.StatusCounts
	for _, j := range m.jobs {
		if j.ParentJobID == nil || *j.ParentJobID != parentID {
			continue
		}
		if jobType != "" && j.JobType != jobType {
			continue
		}
		switch j.Status {
		case domjobs.StatusPending:
			counts.Pending++
		case domjobs.StatusRunning:
			counts.Running++
		case domjobs.StatusCompleted:
			counts.Completed++
		case domjobs.StatusFailed:
			counts.Failed++
		case domjobs.StatusCancelled:
			counts.Cancelled++
		}
	}
	return counts, nil
}

func (m *memJobRepo) UpdateFields(_ dbctx.Context, id int64, updates map[string]interface{}) error {
	if j, ok := m.jobs[id]; ok {
		applyJobUpdates(j, updates)
	}
	return nil
}

func (m *memJobRepo) UpdateFieldsUnlessStatus(_ dbctx.Context, id int64, disallowed []string, updates map[string]interface{}) (bool, error) {
	j, ok := m.jobs[id]
	if !ok {
		return false, nil
	}
	for _, s := range disallowed {
		if j.Status == s {
			return false, nil
		}
	}
	applyJobUpdates(j, updates)
	return true, nil
}

func applyJobUpdates(j *types.DocumentJob, updates map[string]interface{}) {
	for k, v := range updates {
		switch k {
		case "status":
			j.Status = v.(string)
		case "error_message":
			s := v.(string)
			j.ErrorMessage = &s
		case "started_at":
			ts := v.(time.Time)
			j.StartedAt = &ts
		case "completed_at":
			ts := v.(time.Time)
			j.CompletedAt = &ts
		}
	}
}

func (m *memJobRepo) embeddingChildren(parentID int64) []*types.DocumentJob {
	var out []*types.DocumentJob
	for _, j := range m.jobs {
		if j.ParentJobID != nil && *j.ParentJobID == parentID && j.JobType == domjobs.JobTypeEmbedding {
			out = append(out, j)
		}
	}
	return out
}

type fakeAggChunkRepo struct {
	repos.DocumentChunkRepo
	agg docs.ChunkAggregates
}

func (f *fakeAggChunkRepo) Aggregates(_ dbctx.Context, _ int64) (docs.ChunkAggregates, error) {
	return f.agg, nil
}

type fakeTaskQueue struct {
	chunking  []int64
	embedding []int64
}

func (f *fakeTaskQueue) EnqueueChunking(_ context.Context, jobID int64) error {
	f.chunking = append(f.chunking, jobID)
	return nil
}

func (f *fakeTaskQueue) EnqueueEmbedding(_ context.Context, jobID int64) error {
	f.embedding = append(f.embedding, jobID)
	return nil
}

func (f *fakeTaskQueue) Close() error { return nil }

type fakeQueueInspector struct {
	deleted int
}

func (f *fakeQueueInspector) ClearPending(string) (int, error) { return f.deleted, nil }
func (f *fakeQueueInspector) PendingCount(string) (int, error) { return 0, nil }
func (f *fakeQueueInspector) Close() error                     { return nil }

// seedRun puts one pending ingestion parent with one pending chunking child
// into the in-memory ledger.
func seedRun(t *testing.T, repo *memJobRepo, versionID int64) (parent, chunking *types.DocumentJob) {
	t.Helper()
	dbc := dbctx.Context{Ctx: context.Background()}
	parent = &types.DocumentJob{
		DocumentVersionID: versionID,
		JobType:           domjobs.JobTypeIngestion,
		Status:            domjobs.StatusPending,
	}
	if _, err := repo.Create(dbc, []*types.DocumentJob{parent}); err != nil {
		t.Fatalf("seed parent: %v", err)
	}
	chunking = &types.DocumentJob{
		DocumentVersionID: versionID,
		JobType:           domjobs.JobTypeChunking,
		Status:            domjobs.StatusPending,
		ParentJobID:       &parent.ID,
	}
	if _, err := repo.Create(dbc, []*types.DocumentJob{chunking}); err != nil {
		t.Fatalf("seed chunking child: %v", err)
	}
	return parent, chunking
}

func newPipelineFixture(t *testing.T, totalChunks int64) (*pipelineService, *memJobRepo, *fakeTaskQueue) {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	jobRepo := newMemJobRepo()
	chunkRepo := &fakeAggChunkRepo{agg: docs.ChunkAggregates{TotalChunks: totalChunks}}
	q := &fakeTaskQueue{}
	svc := NewPipelineService(nil, log, jobRepo, chunkRepo, nil, nil, q)
	return svc.(*pipelineService), jobRepo, q
}

func TestPipelineFanOutAfterChunkingCompletes(t *testing.T) {
	t.Setenv("EMBEDDING_BATCH_SIZE", "2")
	svc, jobRepo, q := newPipelineFixture(t, 5)
	dbc := dbctx.Context{Ctx: context.Background()}
	parent, chunking := seedRun(t, jobRepo, 1)

	job, claimed, err := svc.ClaimJob(dbc, chunking.ID)
	if err != nil || !claimed {
		t.Fatalf("ClaimJob: claimed=%v err=%v", claimed, err)
	}
	if job.Status != domjobs.StatusRunning {
		t.Fatalf("claimed job status: expected running, got %q", job.Status)
	}
	if got := jobRepo.jobs[parent.ID].Status; got != domjobs.StatusRunning {
		t.Fatalf("parent should run once a child runs, got %q", got)
	}

	if err := svc.CompleteJob(dbc, chunking.ID); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}

	// 5 chunks at batch size 2 fan out into three embedding jobs with
	// contiguous half-open ranges.
	children := jobRepo.embeddingChildren(parent.ID)
	if len(children) != 3 {
		t.Fatalf("expected 3 embedding children, got %d", len(children))
	}
	seen := map[[2]int]bool{}
	for _, c := range children {
		if c.Status != domjobs.StatusPending {
			t.Fatalf("embedding child %d: expected pending, got %q", c.ID, c.Status)
		}
		if c.ChunkStartIndex == nil || c.ChunkEndIndex == nil {
			t.Fatalf("embedding child %d missing chunk range", c.ID)
		}
		seen[[2]int{*c.ChunkStartIndex, *c.ChunkEndIndex}] = true
	}
	for _, want := range [][2]int{{0, 2}, {2, 4}, {4, 5}} {
		if !seen[want] {
			t.Fatalf("missing embedding range %v, got %v", want, seen)
		}
	}
	if len(q.embedding) != 3 {
		t.Fatalf("expected 3 embedding enqueues, got %d", len(q.embedding))
	}
	if got := jobRepo.jobs[parent.ID].Status; got != domjobs.StatusRunning {
		t.Fatalf("parent should stay running while embedding is outstanding, got %q", got)
	}

	// A second terminal notification must not fan out again.
	if err := svc.AfterChildTerminal(dbc, chunking.ID); err != nil {
		t.Fatalf("AfterChildTerminal (repeat): %v", err)
	}
	if got := len(jobRepo.embeddingChildren(parent.ID)); got != 3 {
		t.Fatalf("fan-out must be idempotent: expected 3 children, got %d", got)
	}
	if len(q.embedding) != 3 {
		t.Fatalf("repeat notification must not enqueue again, got %d", len(q.embedding))
	}

	for _, c := range children {
		if _, _, err := svc.ClaimJob(dbc, c.ID); err != nil {
			t.Fatalf("ClaimJob embedding %d: %v", c.ID, err)
		}
		if err := svc.CompleteJob(dbc, c.ID); err != nil {
			t.Fatalf("CompleteJob embedding %d: %v", c.ID, err)
		}
	}
	final := jobRepo.jobs[parent.ID]
	if final.Status != domjobs.StatusCompleted {
		t.Fatalf("parent after all children complete: expected completed, got %q", final.Status)
	}
	if final.CompletedAt == nil {
		t.Fatalf("completed parent must carry completed_at")
	}
}

func TestPipelineNoFanOutWhileChunkingOutstanding(t *testing.T) {
	svc, jobRepo, q := newPipelineFixture(t, 10)
	dbc := dbctx.Context{Ctx: context.Background()}
	parent, first := seedRun(t, jobRepo, 1)
	second := &types.DocumentJob{
		DocumentVersionID: 1,
		JobType:           domjobs.JobTypeChunking,
		Status:            domjobs.StatusPending,
		ParentJobID:       &parent.ID,
	}
	if _, err := jobRepo.Create(dbc, []*types.DocumentJob{second}); err != nil {
		t.Fatalf("seed second chunking child: %v", err)
	}

	if _, _, err := svc.ClaimJob(dbc, first.ID); err != nil {
		t.Fatalf("ClaimJob: %v", err)
	}
	if err := svc.CompleteJob(dbc, first.ID); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}

	if got := len(jobRepo.embeddingChildren(parent.ID)); got != 0 {
		t.Fatalf("no embedding children until every chunking child completes, got %d", got)
	}
	if len(q.embedding) != 0 {
		t.Fatalf("no enqueues expected, got %d", len(q.embedding))
	}
}

func TestPipelineFailedChildFailsParent(t *testing.T) {
	svc, jobRepo, _ := newPipelineFixture(t, 5)
	dbc := dbctx.Context{Ctx: context.Background()}
	parent, chunking := seedRun(t, jobRepo, 1)

	if _, _, err := svc.ClaimJob(dbc, chunking.ID); err != nil {
		t.Fatalf("ClaimJob: %v", err)
	}
	if err := svc.FailJob(dbc, chunking.ID, "pdf is encrypted"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}

	child := jobRepo.jobs[chunking.ID]
	if child.Status != domjobs.StatusFailed {
		t.Fatalf("child status: expected failed, got %q", child.Status)
	}
	if child.ErrorMessage == nil || *child.ErrorMessage != "pdf is encrypted" {
		t.Fatalf("child error message not recorded: %+v", child.ErrorMessage)
	}
	p := jobRepo.jobs[parent.ID]
	if p.Status != domjobs.StatusFailed {
		t.Fatalf("parent status: expected failed, got %q", p.Status)
	}
	if p.CompletedAt == nil {
		t.Fatalf("failed parent must carry completed_at")
	}
}

func TestPipelineCompleteNeverOverridesCancel(t *testing.T) {
	svc, jobRepo, _ := newPipelineFixture(t, 5)
	dbc := dbctx.Context{Ctx: context.Background()}
	parent, chunking := seedRun(t, jobRepo, 1)

	if _, _, err := svc.ClaimJob(dbc, chunking.ID); err != nil {
		t.Fatalf("ClaimJob: %v", err)
	}
	// Operator cancels while the worker is mid-run.
	now := time.Now()
	jobRepo.jobs[chunking.ID].Status = domjobs.StatusCancelled
	jobRepo.jobs[chunking.ID].CompletedAt = &now

	cancelled, err := svc.IsCancelled(dbc, chunking.ID)
	if err != nil || !cancelled {
		t.Fatalf("IsCancelled: expected true, got %v err=%v", cancelled, err)
	}

	// A worker that raced past the checkpoint still cannot flip the status.
	if err := svc.CompleteJob(dbc, chunking.ID); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}
	if got := jobRepo.jobs[chunking.ID].Status; got != domjobs.StatusCancelled {
		t.Fatalf("cancel must stick: expected cancelled, got %q", got)
	}
	if got := jobRepo.jobs[parent.ID].Status; got != domjobs.StatusCancelled {
		t.Fatalf("parent with only cancelled children: expected cancelled, got %q", got)
	}
	if got := len(jobRepo.embeddingChildren(parent.ID)); got != 0 {
		t.Fatalf("cancelled chunking must not fan out, got %d embedding children", got)
	}
}

func TestPipelineClaimOnlyPendingJobs(t *testing.T) {
	svc, jobRepo, _ := newPipelineFixture(t, 5)
	dbc := dbctx.Context{Ctx: context.Background()}
	_, chunking := seedRun(t, jobRepo, 1)

	if _, claimed, err := svc.ClaimJob(dbc, chunking.ID); err != nil || !claimed {
		t.Fatalf("first claim: claimed=%v err=%v", claimed, err)
	}
	// A duplicate task delivery finds the job already running.
	if _, claimed, err := svc.ClaimJob(dbc, chunking.ID); err != nil || claimed {
		t.Fatalf("second claim: expected no-op, claimed=%v err=%v", claimed, err)
	}

	jobRepo.jobs[chunking.ID].Status = domjobs.StatusCancelled
	if _, claimed, err := svc.ClaimJob(dbc, chunking.ID); err != nil || claimed {
		t.Fatalf("claim of cancelled job: expected no-op, claimed=%v err=%v", claimed, err)
	}
}

func TestReprocessExclusiveWhileRunActive(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	log := testutil.Logger(t)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}

	docRepo := repos.NewDocumentRepo(db, log)
	verRepo := repos.NewDocumentVersionRepo(db, log)
	chunkRepo := repos.NewDocumentChunkRepo(db, log)
	jobRepo := repos.NewDocumentJobRepo(db, log)
	q := &fakeTaskQueue{}
	svc := NewPipelineService(db, log, jobRepo, chunkRepo, docRepo, verRepo, q)

	doc, err := docRepo.Create(dbc, &types.Document{Name: "A320 AMM"})
	if err != nil {
		t.Fatalf("seed document: %v", err)
	}
	version, err := verRepo.Create(dbc, &types.DocumentVersion{Name: "Rev 41", FileName: "amm_rev41.pdf", DocumentID: doc.ID})
	if err != nil {
		t.Fatalf("seed version: %v", err)
	}
	if err := chunkRepo.CreateChunks(dbc, []*types.DocumentChunk{
		{DocumentVersionID: version.ID, ChunkIndex: 0, Content: "stale chunk from the previous run"},
	}); err != nil {
		t.Fatalf("seed chunk: %v", err)
	}

	parent, err := svc.Reprocess(dbc, doc.GUID)
	if err != nil {
		t.Fatalf("Reprocess: %v", err)
	}
	if parent.Status != domjobs.StatusPending || parent.JobType != domjobs.JobTypeIngestion {
		t.Fatalf("unexpected parent %+v", parent)
	}
	children, err := jobRepo.Children(dbc, parent.ID)
	if err != nil {
		t.Fatalf("Children: %v", err)
	}
	if len(children) != 1 || children[0].JobType != domjobs.JobTypeChunking {
		t.Fatalf("expected one chunking child, got %+v", children)
	}
	if len(q.chunking) != 1 || q.chunking[0] != children[0].ID {
		t.Fatalf("chunking child not enqueued: %v", q.chunking)
	}
	agg, err := chunkRepo.Aggregates(dbc, version.ID)
	if err != nil {
		t.Fatalf("Aggregates: %v", err)
	}
	if agg.TotalChunks != 0 {
		t.Fatalf("stale chunks must be deleted before a new run, found %d", agg.TotalChunks)
	}

	// A second request while the run is active must conflict, not start a
	// duplicate run.
	if _, err := svc.Reprocess(dbc, doc.GUID); !apperr.IsConflict(err) {
		t.Fatalf("expected conflict while run active, got %v", err)
	}

	// Once the run reaches a terminal status the exclusion lifts.
	if err := jobRepo.UpdateFields(dbc, parent.ID, map[string]interface{}{"status": domjobs.StatusFailed}); err != nil {
		t.Fatalf("mark parent failed: %v", err)
	}
	second, err := svc.Reprocess(dbc, doc.GUID)
	if err != nil {
		t.Fatalf("Reprocess after terminal run: %v", err)
	}
	if second.ID == parent.ID {
		t.Fatalf("expected a fresh parent job, got the same id %d", second.ID)
	}
}

func TestClearQueueRefreshesAffectedParents(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	log := testutil.Logger(t)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}

	docRepo := repos.NewDocumentRepo(db, log)
	verRepo := repos.NewDocumentVersionRepo(db, log)
	chunkRepo := repos.NewDocumentChunkRepo(db, log)
	jobRepo := repos.NewDocumentJobRepo(db, log)
	q := &fakeTaskQueue{}
	pipeline := NewPipelineService(db, log, jobRepo, chunkRepo, docRepo, verRepo, q)
	jobSvc := NewJobService(db, log, jobRepo, pipeline, q, &fakeQueueInspector{deleted: 2})

	doc, err := docRepo.Create(dbc, &types.Document{Name: "B737 SRM"})
	if err != nil {
		t.Fatalf("seed document: %v", err)
	}
	version, err := verRepo.Create(dbc, &types.DocumentVersion{Name: "Rev 3", FileName: "srm_rev3.pdf", DocumentID: doc.ID})
	if err != nil {
		t.Fatalf("seed version: %v", err)
	}

	parent := &types.DocumentJob{
		DocumentVersionID: version.ID,
		JobType:           domjobs.JobTypeIngestion,
		Status:            domjobs.StatusRunning,
	}
	if _, err := jobRepo.Create(dbc, []*types.DocumentJob{parent}); err != nil {
		t.Fatalf("seed parent: %v", err)
	}
	chunking := &types.DocumentJob{
		DocumentVersionID: version.ID,
		JobType:           domjobs.JobTypeChunking,
		Status:            domjobs.StatusCompleted,
		ParentJobID:       &parent.ID,
	}
	start, end := 0, 40
	embedding := &types.DocumentJob{
		DocumentVersionID: version.ID,
		JobType:           domjobs.JobTypeEmbedding,
		Status:            domjobs.StatusPending,
		ParentJobID:       &parent.ID,
		ChunkStartIndex:   &start,
		ChunkEndIndex:     &end,
	}
	if _, err := jobRepo.Create(dbc, []*types.DocumentJob{chunking, embedding}); err != nil {
		t.Fatalf("seed children: %v", err)
	}

	resp, err := jobSvc.ClearQueue(dbc, "embedding")
	if err != nil {
		t.Fatalf("ClearQueue: %v", err)
	}
	if resp.JobsCancelled != 1 {
		t.Fatalf("expected 1 cancelled ledger row, got %d", resp.JobsCancelled)
	}
	if resp.TasksDeleted != 2 {
		t.Fatalf("expected tasks_deleted from the inspector, got %d", resp.TasksDeleted)
	}

	// The drain must leave the parent's stored status consistent with its
	// children: completed chunking plus a cancelled embedding child derives
	// to cancelled.
	child, err := jobRepo.GetByID(dbc, embedding.ID)
	if err != nil {
		t.Fatalf("GetByID child: %v", err)
	}
	if child.Status != domjobs.StatusCancelled {
		t.Fatalf("pending embedding child: expected cancelled, got %q", child.Status)
	}
	refreshed, err := jobRepo.GetByID(dbc, parent.ID)
	if err != nil {
		t.Fatalf("GetByID parent: %v", err)
	}
	if refreshed.Status != domjobs.StatusCancelled {
		t.Fatalf("parent stored status after drain: expected cancelled, got %q", refreshed.Status)
	}
}
