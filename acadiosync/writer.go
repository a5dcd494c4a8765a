package acadiosync

import (
	"context"
	"encoding/json"

	"github.com/novalearn/partnerhub_backend/config"
	"github.com/novalearn/partnerhub_backend/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const defaultBatchSize = 100

func chunkSlice[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = defaultBatchSize
	}
	var chunks [][]T
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[start:end])
	}
	return chunks
}

// upsertColumns builds the conflict clause for an entity: insert, overwrite
// the named mutable columns on primary-key conflict. Columns stay explicit so
// a refresh can never clobber locally-owned fields (partner_id, created_at).
func upsertColumns(cols ...string) clause.OnConflict {
	return clause.OnConflict{DoUpdates: clause.AssignmentColumns(cols)}
}

// upsertInBatches persists records as fixed-size multi-row upserts. A failing
// batch is re-issued row by row so one bad record only costs itself: each
// individual failure is counted and recorded, and the sync keeps going.
//
// The multi-row ON DUPLICATE KEY form cannot report which rows were new, so
// created is approximated as processed-failed and updated stays zero.
func upsertInBatches[T any](ctx context.Context, db *gorm.DB, logger *logrus.Logger, syncLogId uint, entityType string, records []T, externalId func(T) string, onConflict clause.OnConflict, onBatch func(written, total int)) models.SyncCounts {
	var counts models.SyncCounts
	total := len(records)
	written := 0

	for _, batch := range chunkSlice(records, defaultBatchSize) {
		batch := batch
		err := db.WithContext(ctx).
			Clauses(onConflict).
			Create(&batch).Error
		if err != nil {
			logger.WithFields(logrus.Fields{
				"entity_type": entityType,
				"batch_size":  len(batch),
				"sync_log_id": syncLogId,
			}).Warn("batch upsert failed; retrying records individually: " + err.Error())

			for i := range batch {
				rec := batch[i]
				rerr := db.WithContext(ctx).
					Clauses(onConflict).
					Create(&rec).Error
				if rerr != nil {
					counts.Failed++
					payload, _ := json.Marshal(rec)
					_ = models.CreateSyncErrorRecord(ctx, db, syncLogId, entityType, externalId(rec), "upsert_failed", rerr.Error(), payload, true)
				}
			}
		}

		counts.Processed += len(batch)
		written += len(batch)
		if onBatch != nil {
			onBatch(written, total)
		}
	}

	counts.Created = counts.Processed - counts.Failed
	return counts
}

// replaceGroupMemberships swaps a single group's membership set wholesale.
// The source API has no incremental membership delta, so diffing is not an
// option; the blast radius of the delete is bounded to the one group.
func replaceGroupMemberships(ctx context.Context, db *gorm.DB, syncLogId uint, groupId string, memberships []models.LmsGroupMembership) (models.SyncCounts, error) {
	logger := config.GetLogger()

	if err := db.WithContext(ctx).
		Where("group_id = ?", groupId).
		Delete(&models.LmsGroupMembership{}).Error; err != nil {
		return models.SyncCounts{}, err
	}

	counts := upsertInBatches(ctx, db, logger, syncLogId, models.SyncEntityGroupMemberships, memberships,
		func(m models.LmsGroupMembership) string { return m.GroupId + ":" + m.UserId },
		upsertColumns("synced_at"), nil)
	return counts, nil
}
