package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/aerodocs/techpubs-backend/internal/data/repos/testutil"
	types "github.com/aerodocs/techpubs-backend/internal/domain"
	domjobs "github.com/aerodocs/techpubs-backend/internal/domain/jobs"
	"github.com/aerodocs/techpubs-backend/internal/platform/dbctx"
)

func TestDocumentJobRepo(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)

	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}
	repo := NewDocumentJobRepo(db, testutil.Logger(t))

	doc := &types.Document{Name: "A320 AMM"}
	if err := tx.Create(doc).Error; err != nil {
		t.Fatalf("seed document: %v", err)
	}
	version := &types.DocumentVersion{Name: "Rev 41", FileName: "amm_rev41.pdf", DocumentID: doc.ID}
	if err := tx.Create(version).Error; err != nil {
		t.Fatalf("seed version: %v", err)
	}

	parent := &types.DocumentJob{
		DocumentVersionID: version.ID,
		JobType:           domjobs.JobTypeIngestion,
		Status:            domjobs.StatusPending,
	}
	if _, err := repo.Create(dbc, []*types.DocumentJob{parent}); err != nil {
		t.Fatalf("Create parent: %v", err)
	}
	if parent.ID == 0 {
		t.Fatalf("Create parent: id not assigned")
	}

	chunking := &types.DocumentJob{
		DocumentVersionID: version.ID,
		JobType:           domjobs.JobTypeChunking,
		Status:            domjobs.StatusPending,
		ParentJobID:       &parent.ID,
	}
	start, mid, end := 0, 500, 900
	embedA := &types.DocumentJob{
		DocumentVersionID: version.ID,
		JobType:           domjobs.JobTypeEmbedding,
		Status:            domjobs.StatusPending,
		ParentJobID:       &parent.ID,
		ChunkStartIndex:   &start,
		ChunkEndIndex:     &mid,
	}
	embedB := &types.DocumentJob{
		DocumentVersionID: version.ID,
		JobType:           domjobs.JobTypeEmbedding,
		Status:            domjobs.StatusPending,
		ParentJobID:       &parent.ID,
		ChunkStartIndex:   &mid,
		ChunkEndIndex:     &end,
	}
	if _, err := repo.Create(dbc, []*types.DocumentJob{chunking, embedA, embedB}); err != nil {
		t.Fatalf("Create children: %v", err)
	}

	got, err := repo.GetWithChildren(dbc, parent.ID)
	if err != nil {
		t.Fatalf("GetWithChildren: %v", err)
	}
	if got == nil || len(got.ChildJobs) != 3 {
		t.Fatalf("GetWithChildren: expected 3 children, got %+v", got)
	}

	active, err := repo.HasActiveParentForVersion(dbc, version.ID)
	if err != nil {
		t.Fatalf("HasActiveParentForVersion: %v", err)
	}
	if !active {
		t.Fatalf("HasActiveParentForVersion: expected true while parent pending")
	}

	// Chunking child finishes; one embedding batch fails.
	if err := repo.UpdateFields(dbc, chunking.ID, map[string]interface{}{"status": domjobs.StatusCompleted}); err != nil {
		t.Fatalf("UpdateFields chunking: %v", err)
	}
	if err := repo.UpdateFields(dbc, embedA.ID, map[string]interface{}{"status": domjobs.StatusFailed, "error_message": "embedder unavailable"}); err != nil {
		t.Fatalf("UpdateFields embedA: %v", err)
	}

	counts, err := repo.ChildStatusCounts(dbc, parent.ID, "")
	if err != nil {
		t.Fatalf("ChildStatusCounts: %v", err)
	}
	if counts.Completed != 1 || counts.Failed != 1 || counts.Pending != 1 {
		t.Fatalf("ChildStatusCounts: unexpected %+v", counts)
	}

	embedOnly, err := repo.ChildStatusCounts(dbc, parent.ID, domjobs.JobTypeEmbedding)
	if err != nil {
		t.Fatalf("ChildStatusCounts (embedding): %v", err)
	}
	if embedOnly.Total() != 2 || embedOnly.Completed != 0 {
		t.Fatalf("ChildStatusCounts (embedding): unexpected %+v", embedOnly)
	}

	// A terminal write must not overwrite an operator cancel.
	if err := repo.UpdateFields(dbc, embedB.ID, map[string]interface{}{"status": domjobs.StatusCancelled}); err != nil {
		t.Fatalf("cancel embedB: %v", err)
	}
	applied, err := repo.UpdateFieldsUnlessStatus(dbc, embedB.ID,
		[]string{domjobs.StatusCancelled}, map[string]interface{}{"status": domjobs.StatusCompleted})
	if err != nil {
		t.Fatalf("UpdateFieldsUnlessStatus: %v", err)
	}
	if applied {
		t.Fatalf("UpdateFieldsUnlessStatus: write applied over cancelled status")
	}
	status, err := repo.GetStatus(dbc, embedB.ID)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if status != domjobs.StatusCancelled {
		t.Fatalf("GetStatus: expected cancelled, got %q", status)
	}

	applied, err = repo.UpdateFieldsUnlessStatus(dbc, embedA.ID,
		[]string{domjobs.StatusCancelled}, map[string]interface{}{"status": domjobs.StatusRunning})
	if err != nil {
		t.Fatalf("UpdateFieldsUnlessStatus (allowed): %v", err)
	}
	if !applied {
		t.Fatalf("UpdateFieldsUnlessStatus (allowed): expected write to apply")
	}

	// CancelPendingByType drains only pending jobs of the given type and
	// reports the parents whose children it touched.
	pendingEmbed := &types.DocumentJob{
		DocumentVersionID: version.ID,
		JobType:           domjobs.JobTypeEmbedding,
		Status:            domjobs.StatusPending,
		ParentJobID:       &parent.ID,
	}
	if _, err := repo.Create(dbc, []*types.DocumentJob{pendingEmbed}); err != nil {
		t.Fatalf("seed pending embed: %v", err)
	}
	n, touchedParents, err := repo.CancelPendingByType(dbc, domjobs.JobTypeEmbedding)
	if err != nil {
		t.Fatalf("CancelPendingByType: %v", err)
	}
	if n != 1 {
		t.Fatalf("CancelPendingByType: expected 1, got %d", n)
	}
	if len(touchedParents) != 1 || touchedParents[0] != parent.ID {
		t.Fatalf("CancelPendingByType: expected parent %d reported, got %v", parent.ID, touchedParents)
	}
	status, _ = repo.GetStatus(dbc, pendingEmbed.ID)
	if status != domjobs.StatusCancelled {
		t.Fatalf("CancelPendingByType: job left in %q", status)
	}

	staleStart := time.Now().Add(-2 * time.Hour)
	if err := repo.UpdateFields(dbc, parent.ID, map[string]interface{}{
		"status":     domjobs.StatusRunning,
		"started_at": staleStart,
	}); err != nil {
		t.Fatalf("mark parent running: %v", err)
	}

	rows, totals, err := repo.ListParents(dbc, ParentJobFilter{})
	if err != nil {
		t.Fatalf("ListParents: %v", err)
	}
	if totals.Running < 1 {
		t.Fatalf("ListParents: expected at least one running parent, got %+v", totals)
	}
	foundParent := false
	for _, row := range rows {
		if row.ID == parent.ID {
			foundParent = true
			if row.DocumentName != doc.Name {
				t.Fatalf("ListParents: expected document name %q, got %q", doc.Name, row.DocumentName)
			}
			if row.ParentJobID != nil {
				t.Fatalf("ListParents: child job leaked into parent listing")
			}
		}
	}
	if !foundParent {
		t.Fatalf("ListParents: parent not in listing")
	}

	running := domjobs.StatusRunning
	filtered, _, err := repo.ListParents(dbc, ParentJobFilter{Status: running})
	if err != nil {
		t.Fatalf("ListParents (status): %v", err)
	}
	for _, row := range filtered {
		if row.Status != running {
			t.Fatalf("ListParents (status): got status %q", row.Status)
		}
	}

	// Status totals follow the listing's date window: nothing was created
	// after tomorrow, so a future window counts zero.
	future := time.Now().Add(24 * time.Hour)
	_, windowed, err := repo.ListParents(dbc, ParentJobFilter{StartDate: &future})
	if err != nil {
		t.Fatalf("ListParents (windowed): %v", err)
	}
	if windowed.Pending != 0 || windowed.Running != 0 || windowed.Completed != 0 ||
		windowed.Failed != 0 || windowed.Cancelled != 0 {
		t.Fatalf("ListParents (windowed): expected zero totals, got %+v", windowed)
	}

	staleRows, _, err := repo.ListParents(dbc, ParentJobFilter{StaleMinutes: 60})
	if err != nil {
		t.Fatalf("ListParents (stale): %v", err)
	}
	foundParent = false
	for _, row := range staleRows {
		if row.ID == parent.ID {
			foundParent = true
		}
	}
	if !foundParent {
		t.Fatalf("ListParents (stale): parent not flagged stale")
	}

	history, err := repo.ListByVersion(dbc, version.ID)
	if err != nil {
		t.Fatalf("ListByVersion: %v", err)
	}
	if len(history) != 5 {
		t.Fatalf("ListByVersion: expected 5 jobs, got %d", len(history))
	}
}
