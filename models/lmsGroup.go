package models

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// LmsGroup is the local copy of an Acadio training group. PartnerId links the
// group to a CRM partner account; the sync engine sets it at most once and
// never overwrites an existing link (only a human or a higher-confidence
// re-match through the admin UI may change it).
type LmsGroup struct {
	ID              string     `gorm:"primaryKey;size:64" json:"id"`
	Name            string     `gorm:"size:255;index" json:"name"`
	Description     string     `gorm:"type:text" json:"description"`
	MemberCount     int        `json:"member_count"`
	PartnerId       *uint      `gorm:"index" json:"partner_id"`
	SourceUpdatedAt *time.Time `json:"source_updated_at"`
	Raw             []byte     `gorm:"type:json" json:"-"`
	SyncedAt        time.Time  `json:"synced_at"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// LmsGroupMembership associates a user with a group. The source API has no
// incremental membership delta, so memberships are replaced wholesale per
// group (delete-then-insert) on every membership sync.
type LmsGroupMembership struct {
	GroupId   string    `gorm:"primaryKey;size:64" json:"group_id"`
	UserId    string    `gorm:"primaryKey;size:64" json:"user_id"`
	SyncedAt  time.Time `json:"synced_at"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func GetUnlinkedGroups(ctx context.Context, db *gorm.DB) ([]LmsGroup, error) {
	var groups []LmsGroup
	err := db.WithContext(ctx).
		Where("partner_id IS NULL").
		Order("name").
		Find(&groups).Error
	return groups, err
}

func GetGroupByID(ctx context.Context, db *gorm.DB, id string) (*LmsGroup, error) {
	var group LmsGroup
	if err := db.WithContext(ctx).Where("id = ?", id).Take(&group).Error; err != nil {
		return nil, err
	}
	return &group, nil
}

func GetAllGroupIDs(ctx context.Context, db *gorm.DB) ([]string, error) {
	var ids []string
	err := db.WithContext(ctx).
		Model(&LmsGroup{}).
		Order("id").
		Pluck("id", &ids).Error
	return ids, err
}

// LinkGroupToPartner sets the partner link only when none exists yet. Returns
// false when the group was already linked (or does not exist); the caller
// treats that as "skipped", not as an error.
func LinkGroupToPartner(ctx context.Context, db *gorm.DB, groupId string, partnerId uint) (bool, error) {
	res := db.WithContext(ctx).
		Model(&LmsGroup{}).
		Where("id = ? AND partner_id IS NULL", groupId).
		Update("partner_id", partnerId)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
