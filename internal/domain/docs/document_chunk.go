package docs

import (
	"time"

	"gorm.io/datatypes"
)

// DocumentChunk is one contiguous slice of a version's extracted text.
// Embedding and EmbeddingModel are set together by an embedding job and are
// never present one without the other. ChunkIndex is zero-based and contiguous
// per version.
type DocumentChunk struct {
	ID                int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	DocumentVersionID int64          `gorm:"column:document_version_id;not null;uniqueIndex:idx_chunk_version_index,priority:1" json:"document_version_id"`
	ChunkIndex        int            `gorm:"column:chunk_index;not null;uniqueIndex:idx_chunk_version_index,priority:2" json:"chunk_index"`
	Content           string         `gorm:"column:content;type:text;not null" json:"content"`
	Embedding         datatypes.JSON `gorm:"type:jsonb;column:embedding" json:"embedding,omitempty"`
	EmbeddingModel    *string        `gorm:"column:embedding_model;size:100;index" json:"embedding_model,omitempty"`
	TokenCount        *int           `gorm:"column:token_count" json:"token_count,omitempty"`
	PageNumber        *int           `gorm:"column:page_number" json:"page_number,omitempty"`
	ChapterTitle      *string        `gorm:"column:chapter_title;size:500" json:"chapter_title,omitempty"`
	CreatedAt         time.Time      `gorm:"not null;default:now()" json:"created_at"`

	DocumentVersion *DocumentVersion `gorm:"foreignKey:DocumentVersionID;references:ID" json:"document_version,omitempty"`
}

func (DocumentChunk) TableName() string { return "document_chunks" }

func (c *DocumentChunk) HasEmbedding() bool {
	return len(c.Embedding) > 0 && string(c.Embedding) != "null"
}
