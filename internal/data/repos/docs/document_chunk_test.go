package docs

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/aerodocs/techpubs-backend/internal/data/repos/testutil"
	types "github.com/aerodocs/techpubs-backend/internal/domain"
	"github.com/aerodocs/techpubs-backend/internal/platform/apperr"
	"github.com/aerodocs/techpubs-backend/internal/platform/dbctx"
)

func TestDocumentChunkRepo(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)

	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}
	repo := NewDocumentChunkRepo(db, testutil.Logger(t))

	model := &types.AircraftModel{Code: "A320", Name: "Airbus A320"}
	category := &types.Category{Name: "Maintenance"}
	if err := tx.Create(model).Error; err != nil {
		t.Fatalf("seed aircraft model: %v", err)
	}
	if err := tx.Create(category).Error; err != nil {
		t.Fatalf("seed category: %v", err)
	}
	doc := &types.Document{GUID: uuid.New(), Name: "A320 AMM", AircraftModelID: &model.ID, CategoryID: &category.ID}
	if err := tx.Create(doc).Error; err != nil {
		t.Fatalf("seed document: %v", err)
	}
	version := &types.DocumentVersion{Name: "Rev 41", FileName: "amm_rev41.pdf", DocumentID: doc.ID}
	if err := tx.Create(version).Error; err != nil {
		t.Fatalf("seed version: %v", err)
	}

	tokens := func(n int) *int { return &n }
	page := 3
	chunks := []*types.DocumentChunk{
		{DocumentVersionID: version.ID, ChunkIndex: 0, Content: "Before each flight inspect the pitot covers.", TokenCount: tokens(9), PageNumber: &page},
		{DocumentVersionID: version.ID, ChunkIndex: 1, Content: "Hydraulic reservoir levels are checked cold.", TokenCount: tokens(7)},
		{DocumentVersionID: version.ID, ChunkIndex: 2, Content: "Torque values for wheel nuts appear in table 32-41.", TokenCount: tokens(11)},
	}
	if err := repo.CreateChunks(dbc, chunks); err != nil {
		t.Fatalf("CreateChunks: %v", err)
	}

	// Re-inserting an existing (version, index) pair must surface as a
	// conflict. The failed insert poisons the wrapping transaction, so run it
	// under a savepoint.
	dup := []*types.DocumentChunk{
		{DocumentVersionID: version.ID, ChunkIndex: 1, Content: "duplicate"},
	}
	tx.SavePoint("dup")
	if err := repo.CreateChunks(dbc, dup); !apperr.IsConflict(err) {
		t.Fatalf("CreateChunks duplicate: expected conflict, got %v", err)
	}
	tx.RollbackTo("dup")

	listed, err := repo.ListByVersion(dbc, version.ID, 0, 0)
	if err != nil {
		t.Fatalf("ListByVersion: %v", err)
	}
	if len(listed) != 3 {
		t.Fatalf("ListByVersion: expected 3, got %d", len(listed))
	}
	for i, c := range listed {
		if c.ChunkIndex != i {
			t.Fatalf("ListByVersion: chunk %d out of order (index %d)", i, c.ChunkIndex)
		}
	}
	paged, err := repo.ListByVersion(dbc, version.ID, 1, 1)
	if err != nil {
		t.Fatalf("ListByVersion (paged): %v", err)
	}
	if len(paged) != 1 || paged[0].ChunkIndex != 1 {
		t.Fatalf("ListByVersion (paged): unexpected %+v", paged)
	}

	if err := repo.AttachEmbedding(dbc, version.ID, 0, []float32{0.1, 0.2, 0.3}, "text-embedding-3-small"); err != nil {
		t.Fatalf("AttachEmbedding: %v", err)
	}
	if err := repo.AttachEmbedding(dbc, version.ID, 1, []float32{0.3, 0.2, 0.1}, "text-embedding-3-small"); err != nil {
		t.Fatalf("AttachEmbedding #2: %v", err)
	}
	if err := repo.AttachEmbedding(dbc, version.ID, 99, []float32{0.1}, "text-embedding-3-small"); !apperr.IsNotFound(err) {
		t.Fatalf("AttachEmbedding missing chunk: expected not found, got %v", err)
	}
	if err := repo.AttachEmbedding(dbc, version.ID, 0, nil, "text-embedding-3-small"); !apperr.IsValidation(err) {
		t.Fatalf("AttachEmbedding empty vector: expected validation error, got %v", err)
	}

	missing, err := repo.GetRangeMissingEmbeddings(dbc, version.ID, 0, 3)
	if err != nil {
		t.Fatalf("GetRangeMissingEmbeddings: %v", err)
	}
	if len(missing) != 1 || missing[0].ChunkIndex != 2 {
		t.Fatalf("GetRangeMissingEmbeddings: unexpected %+v", missing)
	}

	agg, err := repo.Aggregates(dbc, version.ID)
	if err != nil {
		t.Fatalf("Aggregates: %v", err)
	}
	if agg.TotalChunks != 3 || agg.EmbeddedChunks != 2 || agg.TotalTokens != 27 {
		t.Fatalf("Aggregates: unexpected %+v", agg)
	}
	if agg.EmbeddingModel == nil || *agg.EmbeddingModel != "text-embedding-3-small" {
		t.Fatalf("Aggregates: expected uniform model, got %v", agg.EmbeddingModel)
	}

	candidates, err := repo.FindEmbedded(dbc, EmbeddedChunkFilter{Model: "text-embedding-3-small"})
	if err != nil {
		t.Fatalf("FindEmbedded: %v", err)
	}
	if len(candidates) != 2 {
		t.Fatalf("FindEmbedded: expected 2 candidates, got %d", len(candidates))
	}
	first := candidates[0]
	if first.DocumentName != doc.Name || first.DocumentGUID != doc.GUID {
		t.Fatalf("FindEmbedded: document metadata not joined: %+v", first)
	}
	if first.AircraftModelCode == nil || *first.AircraftModelCode != "A320" {
		t.Fatalf("FindEmbedded: expected aircraft model code, got %v", first.AircraftModelCode)
	}
	vec, err := first.Vector()
	if err != nil {
		t.Fatalf("FindEmbedded: decode vector: %v", err)
	}
	if len(vec) != 3 {
		t.Fatalf("FindEmbedded: expected 3-dim vector, got %d", len(vec))
	}

	if byCategory, err := repo.FindEmbedded(dbc, EmbeddedChunkFilter{
		Model:      "text-embedding-3-small",
		CategoryID: &category.ID,
	}); err != nil || len(byCategory) != 2 {
		t.Fatalf("FindEmbedded (category): err=%v len=%d", err, len(byCategory))
	}
	otherModel := int64(999999)
	if none, err := repo.FindEmbedded(dbc, EmbeddedChunkFilter{
		Model:           "text-embedding-3-small",
		AircraftModelID: &otherModel,
	}); err != nil || len(none) != 0 {
		t.Fatalf("FindEmbedded (mismatched filter): err=%v len=%d", err, len(none))
	}
	if none, err := repo.FindEmbedded(dbc, EmbeddedChunkFilter{Model: "other-model"}); err != nil || len(none) != 0 {
		t.Fatalf("FindEmbedded (other model): err=%v len=%d", err, len(none))
	}

	if err := repo.DeleteByVersion(dbc, version.ID); err != nil {
		t.Fatalf("DeleteByVersion: %v", err)
	}
	agg, err = repo.Aggregates(dbc, version.ID)
	if err != nil {
		t.Fatalf("Aggregates after delete: %v", err)
	}
	if agg.TotalChunks != 0 {
		t.Fatalf("DeleteByVersion: %d chunks remain", agg.TotalChunks)
	}
}
