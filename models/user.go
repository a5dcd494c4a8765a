package models

import "time"

const (
	UserRoleAdmin  = "admin"
	UserRoleViewer = "viewer"
)

// User is a dashboard user, kept minimal here: the sync engine only needs it
// to resolve the session token on trigger requests. Account management lives
// in the admin service.
type User struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Username  string    `gorm:"size:100;uniqueIndex;not null" json:"username"`
	Role      string    `gorm:"size:20" json:"role"`
	Email     string    `gorm:"size:255" json:"email"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
