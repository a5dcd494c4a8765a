package models

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// LmsUser is the local copy of an Acadio user. The Acadio id is the primary
// key; rows are only ever created or refreshed by sync runs.
type LmsUser struct {
	ID              string     `gorm:"primaryKey;size:64" json:"id"`
	Email           string     `gorm:"size:255;index" json:"email"`
	FirstName       string     `gorm:"size:100" json:"first_name"`
	LastName        string     `gorm:"size:100" json:"last_name"`
	Department      string     `gorm:"size:100" json:"department"`
	Active          bool       `json:"active"`
	LastLoginAt     *time.Time `gorm:"index" json:"last_login_at"`
	SourceUpdatedAt *time.Time `json:"source_updated_at"`
	Raw             []byte     `gorm:"type:json" json:"-"`
	SyncedAt        time.Time  `json:"synced_at"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// GetActiveUserIDs lists users seen logging in since the cutoff; a nil cutoff
// means every known user. Used to bound the per-user transcript fetch.
func GetActiveUserIDs(ctx context.Context, db *gorm.DB, since *time.Time) ([]string, error) {
	query := db.WithContext(ctx).Model(&LmsUser{})
	if since != nil {
		query = query.Where("last_login_at >= ?", *since)
	}
	var ids []string
	err := query.Order("id").Pluck("id", &ids).Error
	return ids, err
}
