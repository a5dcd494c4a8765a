package models

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/novalearn/partnerhub_backend/utils"
	"gorm.io/gorm"
)

const (
	SyncStatusRunning   = "running"
	SyncStatusCompleted = "completed"
	SyncStatusFailed    = "failed"
)

const (
	SyncModeFull        = "full"
	SyncModeIncremental = "incremental"
)

const (
	SyncEntityUsers            = "users"
	SyncEntityGroups           = "groups"
	SyncEntityCourses          = "courses"
	SyncEntityCourseProperties = "course-properties"
	SyncEntityGroupMemberships = "group-memberships"
	SyncEntityEnrollments      = "enrollments"
)

// maxSyncErrorLen bounds the error text stored on a sync log row.
const maxSyncErrorLen = 2000

type SyncLog struct {
	ID               uint       `gorm:"primary_key" json:"id"`
	EntityType       string     `gorm:"index;size:50;not null" json:"entity_type"`
	Status           string     `gorm:"size:20;not null" json:"status"`
	Mode             string     `gorm:"size:20" json:"mode"`
	StartedAt        time.Time  `json:"started_at"`
	CompletedAt      *time.Time `gorm:"index" json:"completed_at"`
	RecordsProcessed int        `json:"records_processed"`
	RecordsCreated   int        `json:"records_created"`
	RecordsUpdated   int        `json:"records_updated"`
	RecordsFailed    int        `json:"records_failed"`
	ErrorMessage     string     `gorm:"type:text" json:"error_message"`
	DetailsJSON      []byte     `gorm:"type:json" json:"details"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// SyncCounts is the per-run record tally shared by the writer and the log row.
// Created is approximated as Processed-Failed on the bulk upsert path: the
// multi-row ON DUPLICATE KEY statement cannot report which rows were new.
type SyncCounts struct {
	Processed int `json:"processed"`
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Failed    int `json:"failed"`
}

func (c *SyncCounts) Add(other SyncCounts) {
	c.Processed += other.Processed
	c.Created += other.Created
	c.Updated += other.Updated
	c.Failed += other.Failed
}

// StartSyncLog inserts the status=running row that marks a sync as in flight.
func StartSyncLog(ctx context.Context, db *gorm.DB, entityType string, mode string) (*SyncLog, error) {
	row := SyncLog{
		EntityType: entityType,
		Status:     SyncStatusRunning,
		Mode:       mode,
		StartedAt:  time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

// FinishSyncLog stamps the terminal state exactly once. Both the success and
// failure paths go through here. details (run diagnostics such as duration and
// cancellation) is marshalled into the JSON blob; nil leaves it empty.
func FinishSyncLog(ctx context.Context, db *gorm.DB, row *SyncLog, status string, counts SyncCounts, errMsg string, details interface{}) error {
	if row == nil {
		return errors.New("sync log row is nil")
	}
	now := time.Now().UTC()
	updates := map[string]interface{}{
		"status":            status,
		"completed_at":      now,
		"records_processed": counts.Processed,
		"records_created":   counts.Created,
		"records_updated":   counts.Updated,
		"records_failed":    counts.Failed,
		"error_message":     utils.TruncateError(errMsg, maxSyncErrorLen),
	}
	if details != nil {
		if blob, err := json.Marshal(details); err == nil {
			updates["details_json"] = blob
		}
	}
	return db.WithContext(ctx).Model(row).Updates(updates).Error
}

// GetLastCompletedSync returns the most recent completed run for the entity
// type, or nil when no prior run ever completed (first sync is a full fetch).
func GetLastCompletedSync(ctx context.Context, db *gorm.DB, entityType string) (*SyncLog, error) {
	var row SyncLog
	err := db.WithContext(ctx).
		Where("entity_type = ? AND status = ?", entityType, SyncStatusCompleted).
		Order("completed_at DESC").
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

func GetRecentSyncLogs(ctx context.Context, db *gorm.DB, entityType string, limit int) ([]SyncLog, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	query := db.WithContext(ctx).Model(&SyncLog{})
	if entityType != "" {
		query = query.Where("entity_type = ?", entityType)
	}
	var rows []SyncLog
	err := query.Order("id DESC").Limit(limit).Find(&rows).Error
	return rows, err
}

func GetSyncLogByID(ctx context.Context, db *gorm.DB, id uint) (*SyncLog, error) {
	var row SyncLog
	if err := db.WithContext(ctx).Where("id = ?", id).Take(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

// SyncErrorRecord is one failed record inside a run: a row the writer could not
// upsert, or a payload the decoder could not parse. The run itself keeps going.
type SyncErrorRecord struct {
	ID          uint      `gorm:"primary_key" json:"id"`
	SyncLogId   uint      `gorm:"index;not null" json:"sync_log_id"`
	EntityType  string    `gorm:"size:50" json:"entity_type"`
	ExternalId  string    `gorm:"size:128" json:"external_id"`
	ErrorCode   string    `gorm:"size:64" json:"error_code"`
	Message     string    `gorm:"type:text" json:"message"`
	PayloadJSON []byte    `gorm:"type:json" json:"payload"`
	Retryable   bool      `gorm:"default:false" json:"retryable"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func CreateSyncErrorRecord(ctx context.Context, db *gorm.DB, syncLogId uint, entityType string, externalId string, code string, message string, payload []byte, retryable bool) error {
	rec := SyncErrorRecord{
		SyncLogId:   syncLogId,
		EntityType:  entityType,
		ExternalId:  externalId,
		ErrorCode:   code,
		Message:     utils.TruncateError(message, maxSyncErrorLen),
		PayloadJSON: payload,
		Retryable:   retryable,
	}
	return db.WithContext(ctx).Create(&rec).Error
}

func GetSyncErrorRecords(ctx context.Context, db *gorm.DB, syncLogId uint) ([]SyncErrorRecord, error) {
	var rows []SyncErrorRecord
	err := db.WithContext(ctx).
		Where("sync_log_id = ?", syncLogId).
		Order("id DESC").
		Find(&rows).Error
	return rows, err
}
