package models

import (
	"context"
	"time"

	"gorm.io/gorm"
)

const (
	PartnerStatusActive   = "active"
	PartnerStatusInactive = "inactive"
)

// PartnerAccount rows are owned by the CRM import pipeline. The sync engine
// only reads them (for match-candidate lookup); the one mutation it performs
// lives on the group side of the link (LmsGroup.PartnerId).
type PartnerAccount struct {
	ID        uint      `gorm:"primary_key" json:"id"`
	Name      string    `gorm:"size:255;index;not null" json:"name"`
	CrmId     string    `gorm:"size:100;uniqueIndex" json:"crm_id"`
	Status    string    `gorm:"size:20" json:"status"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func GetActivePartnerAccounts(ctx context.Context, db *gorm.DB) ([]PartnerAccount, error) {
	var partners []PartnerAccount
	err := db.WithContext(ctx).
		Where("status = ?", PartnerStatusActive).
		Order("name").
		Find(&partners).Error
	return partners, err
}
