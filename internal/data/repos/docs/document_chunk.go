package docs

import (
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/aerodocs/techpubs-backend/internal/domain"
	"github.com/aerodocs/techpubs-backend/internal/platform/apperr"
	"github.com/aerodocs/techpubs-backend/internal/platform/dbctx"
	"github.com/aerodocs/techpubs-backend/internal/platform/logger"
)

// ChunkAggregates summarizes a version's chunk state for the chunk listing.
// EmbeddingModel is set only when every embedded chunk used the same model.
type ChunkAggregates struct {
	TotalChunks    int64
	EmbeddedChunks int64
	TotalTokens    int64
	EmbeddingModel *string
}

// EmbeddedChunkFilter restricts the similarity-search candidate set. Filters
// intersect (AND). Model is mandatory: chunks embedded by a different model
// are never scored against each other.
type EmbeddedChunkFilter struct {
	Model           string
	CategoryID      *int64
	AircraftModelID *int64
}

// EmbeddedChunk is a candidate row joined with its owning document's display
// metadata, as needed for deep-linking search results.
type EmbeddedChunk struct {
	types.DocumentChunk
	DocumentGUID      uuid.UUID `gorm:"column:document_guid"`
	DocumentName      string    `gorm:"column:document_name"`
	AircraftModelCode *string   `gorm:"column:aircraft_model_code"`
	CategoryName      *string   `gorm:"column:category_name"`
}

type DocumentChunkRepo interface {
	CreateChunks(dbc dbctx.Context, chunks []*types.DocumentChunk) error
	AttachEmbedding(dbc dbctx.Context, versionID int64, chunkIndex int, vector []float32, modelID string) error
	ListByVersion(dbc dbctx.Context, versionID int64, offset, limit int) ([]*types.DocumentChunk, error)
	Aggregates(dbc dbctx.Context, versionID int64) (ChunkAggregates, error)
	GetRangeMissingEmbeddings(dbc dbctx.Context, versionID int64, startIndex, endIndex int) ([]*types.DocumentChunk, error)
	DeleteByVersion(dbc dbctx.Context, versionID int64) error
	FindEmbedded(dbc dbctx.Context, filter EmbeddedChunkFilter) ([]*EmbeddedChunk, error)
}

type documentChunkRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDocumentChunkRepo(db *gorm.DB, baseLog *logger.Logger) DocumentChunkRepo {
	return &documentChunkRepo{db: db, log: baseLog.With("repo", "DocumentChunkRepo")}
}

func (r *documentChunkRepo) CreateChunks(dbc dbctx.Context, chunks []*types.DocumentChunk) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(chunks) == 0 {
		return nil
	}

	// Content is large; keep insert batches small.
	const batchSize = 100

	err := transaction.WithContext(dbc.Ctx).CreateInBatches(chunks, batchSize).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return apperr.Conflict("chunk index already exists for version %d", chunks[0].DocumentVersionID)
		}
		return err
	}
	return nil
}

func (r *documentChunkRepo) AttachEmbedding(dbc dbctx.Context, versionID int64, chunkIndex int, vector []float32, modelID string) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(vector) == 0 {
		return apperr.Validation("embedding vector must not be empty")
	}
	if modelID == "" {
		return apperr.Validation("embedding model id is required")
	}
	encoded, err := json.Marshal(vector)
	if err != nil {
		return err
	}
	res := transaction.WithContext(dbc.Ctx).
		Model(&types.DocumentChunk{}).
		Where("document_version_id = ? AND chunk_index = ?", versionID, chunkIndex).
		Updates(map[string]interface{}{
			"embedding":       encoded,
			"embedding_model": modelID,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("chunk %d not found for version %d", chunkIndex, versionID)
	}
	return nil
}

func (r *documentChunkRepo) ListByVersion(dbc dbctx.Context, versionID int64, offset, limit int) ([]*types.DocumentChunk, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.DocumentChunk
	q := transaction.WithContext(dbc.Ctx).
		Where("document_version_id = ?", versionID).
		Order("chunk_index ASC")
	if offset > 0 {
		q = q.Offset(offset)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *documentChunkRepo) Aggregates(dbc dbctx.Context, versionID int64) (ChunkAggregates, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var agg ChunkAggregates

	type row struct {
		TotalChunks    int64
		EmbeddedChunks int64
		TotalTokens    int64
	}
	var rr row
	err := transaction.WithContext(dbc.Ctx).
		Model(&types.DocumentChunk{}).
		Select(`COUNT(*) AS total_chunks,
			COUNT(embedding) AS embedded_chunks,
			COALESCE(SUM(token_count), 0) AS total_tokens`).
		Where("document_version_id = ?", versionID).
		Scan(&rr).Error
	if err != nil {
		return agg, err
	}
	agg.TotalChunks = rr.TotalChunks
	agg.EmbeddedChunks = rr.EmbeddedChunks
	agg.TotalTokens = rr.TotalTokens

	var models []string
	err = transaction.WithContext(dbc.Ctx).
		Model(&types.DocumentChunk{}).
		Where("document_version_id = ? AND embedding_model IS NOT NULL", versionID).
		Distinct("embedding_model").
		Pluck("embedding_model", &models).Error
	if err != nil {
		return agg, err
	}
	if len(models) == 1 {
		agg.EmbeddingModel = &models[0]
	}
	return agg, nil
}

func (r *documentChunkRepo) GetRangeMissingEmbeddings(dbc dbctx.Context, versionID int64, startIndex, endIndex int) ([]*types.DocumentChunk, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.DocumentChunk
	err := transaction.WithContext(dbc.Ctx).
		Where("document_version_id = ? AND chunk_index >= ? AND chunk_index < ? AND embedding IS NULL",
			versionID, startIndex, endIndex).
		Order("chunk_index ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *documentChunkRepo) DeleteByVersion(dbc dbctx.Context, versionID int64) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(dbc.Ctx).
		Where("document_version_id = ?", versionID).
		Delete(&types.DocumentChunk{}).Error
}

func (r *documentChunkRepo) FindEmbedded(dbc dbctx.Context, filter EmbeddedChunkFilter) ([]*EmbeddedChunk, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if filter.Model == "" {
		return nil, apperr.Validation("embedding model is required for candidate lookup")
	}
	q := transaction.WithContext(dbc.Ctx).
		Table("document_chunks AS c").
		Select(`c.*,
			d.guid AS document_guid,
			d.name AS document_name,
			am.code AS aircraft_model_code,
			cat.name AS category_name`).
		Joins("JOIN document_versions v ON v.id = c.document_version_id AND v.deleted_at IS NULL").
		Joins("JOIN documents d ON d.id = v.document_id AND d.deleted_at IS NULL").
		Joins("LEFT JOIN aircraft_models am ON am.id = d.aircraft_model_id").
		Joins("LEFT JOIN categories cat ON cat.id = d.category_id").
		Where("c.embedding IS NOT NULL AND c.embedding_model = ?", filter.Model)
	if filter.CategoryID != nil {
		q = q.Where("d.category_id = ?", *filter.CategoryID)
	}
	if filter.AircraftModelID != nil {
		q = q.Where("d.aircraft_model_id = ?", *filter.AircraftModelID)
	}

	var out []*EmbeddedChunk
	if err := q.Order("c.id ASC").Scan(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Vector decodes the stored embedding. Returns nil for unembedded chunks.
func (c *EmbeddedChunk) Vector() ([]float32, error) {
	if !c.HasEmbedding() {
		return nil, nil
	}
	var v []float32
	if err := json.Unmarshal(c.Embedding, &v); err != nil {
		return nil, err
	}
	return v, nil
}
