package docs

import (
	"time"

	"gorm.io/gorm"
)

// Classification lookup tables used by the upload wizard and search filters.

type AircraftModel struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Code      string    `gorm:"column:code;size:20;not null;uniqueIndex" json:"code"`
	Name      string    `gorm:"column:name;size:100;not null" json:"name"`
	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (AircraftModel) TableName() string { return "aircraft_models" }

type Category struct {
	ID        int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	Name      string         `gorm:"column:name;size:255;not null" json:"name"`
	CreatedAt time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Category) TableName() string { return "categories" }

type Platform struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Name      string    `gorm:"column:name;size:100;not null" json:"name"`
	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (Platform) TableName() string { return "platforms" }

type Generation struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	PlatformID int64     `gorm:"column:platform_id;not null;index" json:"platform_id"`
	Name       string    `gorm:"column:name;size:100;not null" json:"name"`
	CreatedAt  time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (Generation) TableName() string { return "generations" }

type DocumentType struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Name      string    `gorm:"column:name;size:100;not null" json:"name"`
	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (DocumentType) TableName() string { return "document_types" }
