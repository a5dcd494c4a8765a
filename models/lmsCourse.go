package models

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// LmsCourse is the local copy of an Acadio course.
type LmsCourse struct {
	ID              string          `gorm:"primaryKey;size:64" json:"id"`
	Name            string          `gorm:"size:255" json:"name"`
	Code            string          `gorm:"size:100;index" json:"code"`
	Category        string          `gorm:"size:100" json:"category"`
	Active          bool            `json:"active"`
	Credits         decimal.Decimal `gorm:"type:decimal(7,2)" json:"credits"`
	SourceUpdatedAt *time.Time      `json:"source_updated_at"`
	Raw             []byte          `gorm:"type:json" json:"-"`
	SyncedAt        time.Time       `json:"synced_at"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func GetAllCourseIDs(ctx context.Context, db *gorm.DB) ([]string, error) {
	var ids []string
	err := db.WithContext(ctx).
		Model(&LmsCourse{}).
		Order("id").
		Pluck("id", &ids).Error
	return ids, err
}

// LmsCourseProperty is one key/value attribute attached to a course. The
// property set is small and fetched per course; no incremental mode exists.
type LmsCourseProperty struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	CourseId  string    `gorm:"index;size:64;not null" json:"course_id"`
	Name      string    `gorm:"size:100" json:"name"`
	Value     string    `gorm:"type:text" json:"value"`
	SyncedAt  time.Time `json:"synced_at"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
