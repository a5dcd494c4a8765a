package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// LmsEnrollment is one user-course transcript entry from Acadio. Transcripts
// are fetched per user (the endpoint is user-keyed, not globally paginable by
// modification time), so the "incremental" mode for enrollments means "users
// active within the last N days", not a server-side timestamp filter.
type LmsEnrollment struct {
	ID              string          `gorm:"primaryKey;size:64" json:"id"`
	UserId          string          `gorm:"index;size:64;not null" json:"user_id"`
	CourseId        string          `gorm:"index;size:64;not null" json:"course_id"`
	Status          string          `gorm:"size:50" json:"status"`
	Score           decimal.Decimal `gorm:"type:decimal(7,2)" json:"score"`
	Progress        decimal.Decimal `gorm:"type:decimal(5,2)" json:"progress"`
	EnrolledAt      *time.Time      `json:"enrolled_at"`
	CompletedAt     *time.Time      `json:"completed_at"`
	SourceUpdatedAt *time.Time      `json:"source_updated_at"`
	Raw             []byte          `gorm:"type:json" json:"-"`
	SyncedAt        time.Time       `json:"synced_at"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}
