package docs

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Document struct {
	ID              int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	GUID            uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex" json:"guid"`
	Name            string         `gorm:"column:name;size:255;not null" json:"name"`
	AircraftModelID *int64         `gorm:"column:aircraft_model_id;index" json:"aircraft_model_id,omitempty"`
	CategoryID      *int64         `gorm:"column:category_id;index" json:"category_id,omitempty"`
	PlatformID      *int64         `gorm:"column:platform_id;index" json:"platform_id,omitempty"`
	GenerationID    *int64         `gorm:"column:generation_id;index" json:"generation_id,omitempty"`
	DocumentTypeID  *int64         `gorm:"column:document_type_id;index" json:"document_type_id,omitempty"`
	CreatedAt       time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	AircraftModel *AircraftModel    `gorm:"foreignKey:AircraftModelID;references:ID" json:"aircraft_model,omitempty"`
	Category      *Category         `gorm:"foreignKey:CategoryID;references:ID" json:"category,omitempty"`
	Versions      []DocumentVersion `gorm:"foreignKey:DocumentID;references:ID" json:"versions,omitempty"`
	SerialRanges  []SerialRange     `gorm:"foreignKey:DocumentID;references:ID" json:"serial_ranges,omitempty"`
}

func (Document) TableName() string { return "documents" }

const (
	SerialRangeSingle  = "single"
	SerialRangeRange   = "range"
	SerialRangeAndSubs = "and_subs"
)

// SerialRange records serial-number applicability for a document:
// one airframe ("single"), a closed range ("range"), or a starting serial
// and all subsequent ("and_subs", EndSerial nil).
type SerialRange struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	DocumentID  int64     `gorm:"column:document_id;not null;index" json:"document_id"`
	Kind        string    `gorm:"column:kind;size:20;not null" json:"kind"`
	StartSerial string    `gorm:"column:start_serial;size:50;not null" json:"start_serial"`
	EndSerial   *string   `gorm:"column:end_serial;size:50" json:"end_serial,omitempty"`
	CreatedAt   time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (SerialRange) TableName() string { return "serial_ranges" }
