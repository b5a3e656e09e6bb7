package docs

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DocumentVersion is one uploaded file for a document. Immutable after upload
// apart from derived chunk/embedding state; the unit ingestion jobs operate on.
type DocumentVersion struct {
	ID              int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	GUID            uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex" json:"guid"`
	Name            string         `gorm:"column:name;size:255;not null" json:"name"`
	FileName        string         `gorm:"column:file_name;size:255;not null" json:"file_name"`
	DocumentID      int64          `gorm:"column:document_id;not null;index" json:"document_id"`
	ContentType     *string        `gorm:"column:content_type;size:50" json:"content_type,omitempty"`
	FileSize        *int64         `gorm:"column:file_size" json:"file_size,omitempty"`
	BlobPath        *string        `gorm:"column:blob_path;size:1024" json:"blob_path,omitempty"`
	TotalTokenCount *int64         `gorm:"column:total_token_count" json:"total_token_count,omitempty"`
	CreatedAt       time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	Document *Document `gorm:"foreignKey:DocumentID;references:ID" json:"document,omitempty"`
}

func (DocumentVersion) TableName() string { return "document_versions" }
