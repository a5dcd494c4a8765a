package acadiosync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/novalearn/partnerhub_backend/config"
	"github.com/novalearn/partnerhub_backend/models"
	"github.com/novalearn/partnerhub_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// syncEntityOrder is the dependency order a scheduled pass runs in:
// memberships join users to groups, enrollments join users to courses, so the
// base entities always land first.
var syncEntityOrder = []string{
	models.SyncEntityUsers,
	models.SyncEntityGroups,
	models.SyncEntityCourses,
	models.SyncEntityCourseProperties,
	models.SyncEntityGroupMemberships,
	models.SyncEntityEnrollments,
}

func IsValidEntityType(entityType string) bool {
	for _, e := range syncEntityOrder {
		if e == entityType {
			return true
		}
	}
	return false
}

// SupportsIncremental reports whether the entity type has a server-side
// modified-since filter. Course properties and memberships do not: both are
// refetched per parent on every run.
func SupportsIncremental(entityType string) bool {
	switch entityType {
	case models.SyncEntityUsers, models.SyncEntityGroups, models.SyncEntityCourses, models.SyncEntityEnrollments:
		return true
	default:
		return false
	}
}

// SyncRequest is a validated ask for one entity sync run.
type SyncRequest struct {
	EntityType string
	Mode       string
	Progress   ProgressFunc
}

func (r *SyncRequest) normalize() error {
	r.EntityType = strings.TrimSpace(strings.ToLower(r.EntityType))
	r.Mode = strings.TrimSpace(strings.ToLower(r.Mode))
	if r.Mode == "" {
		r.Mode = models.SyncModeFull
	}
	if !IsValidEntityType(r.EntityType) {
		return fmt.Errorf("unknown entity type %q", r.EntityType)
	}
	if r.Mode != models.SyncModeFull && r.Mode != models.SyncModeIncremental {
		return fmt.Errorf("unknown sync mode %q", r.Mode)
	}
	if r.Mode == models.SyncModeIncremental && !SupportsIncremental(r.EntityType) {
		return fmt.Errorf("entity type %q has no incremental mode", r.EntityType)
	}
	return nil
}

// StartEntitySync acquires the sync slot and launches the run in the
// background, returning the id of its sync log row. The lock is acquired with
// a background parent on purpose: the run must outlive the HTTP request that
// triggered it.
func StartEntitySync(db *gorm.DB, logger *logrus.Logger, lock *SyncLock, req SyncRequest) (uint, error) {
	if err := req.normalize(); err != nil {
		return 0, err
	}

	run, err := lock.Acquire(context.Background(), req.EntityType)
	if err != nil {
		return 0, err
	}

	client, err := newAcadioClient()
	if err != nil {
		run.Release()
		return 0, err
	}
	logRow, err := models.StartSyncLog(run.Context(), db, req.EntityType, req.Mode)
	if err != nil {
		run.Release()
		return 0, err
	}

	go func() {
		defer run.Release()
		runEntitySync(run.Context(), db, logger, client, logRow, req)
	}()
	return logRow.ID, nil
}

// RunEntitySync is the synchronous form used by the scheduler worker and the
// CLI tools. Same lock, same logging, but the caller blocks until the run
// finishes.
func RunEntitySync(ctx context.Context, db *gorm.DB, logger *logrus.Logger, lock *SyncLock, req SyncRequest) (*models.SyncLog, error) {
	if err := req.normalize(); err != nil {
		return nil, err
	}

	run, err := lock.Acquire(ctx, req.EntityType)
	if err != nil {
		return nil, err
	}
	defer run.Release()

	client, err := newAcadioClient()
	if err != nil {
		return nil, err
	}
	logRow, err := models.StartSyncLog(run.Context(), db, req.EntityType, req.Mode)
	if err != nil {
		return nil, err
	}

	runEntitySync(run.Context(), db, logger, client, logRow, req)
	return models.GetSyncLogByID(context.Background(), db, logRow.ID)
}

// runEntitySync drives one sync run to its terminal log state. It never
// returns an error: every outcome, including a forced cancellation, ends as a
// completed or failed sync log row.
func runEntitySync(ctx context.Context, db *gorm.DB, logger *logrus.Logger, client *acadioClient, logRow *models.SyncLog, req SyncRequest) {
	progress := req.Progress
	if progress == nil {
		progress = func(string, int, int) {}
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			config.LogError(logger, "worker.go", "runEntitySync", "panic", req.EntityType, fmt.Errorf("%v", r))
			finishRun(db, logger, logRow, models.SyncCounts{}, fmt.Errorf("sync panicked: %v", r), runDetails(req, start, false))
		}
	}()

	var counts models.SyncCounts
	var runErr error

	switch req.EntityType {
	case models.SyncEntityUsers:
		counts, runErr = syncUsers(ctx, db, logger, client, logRow, req.Mode, progress)
	case models.SyncEntityGroups:
		counts, runErr = syncGroups(ctx, db, logger, client, logRow, req.Mode, progress)
	case models.SyncEntityCourses:
		counts, runErr = syncCourses(ctx, db, logger, client, logRow, req.Mode, progress)
	case models.SyncEntityCourseProperties:
		counts, runErr = syncCourseProperties(ctx, db, logger, client, logRow, progress)
	case models.SyncEntityGroupMemberships:
		counts, runErr = syncGroupMemberships(ctx, db, logger, client, logRow, progress)
	case models.SyncEntityEnrollments:
		counts, runErr = syncEnrollments(ctx, db, logger, client, logRow, req.Mode, progress)
	default:
		runErr = fmt.Errorf("unknown entity type %q", req.EntityType)
	}

	if runErr == nil && ctx.Err() != nil {
		runErr = fmt.Errorf("sync cancelled: %w", ctx.Err())
	}
	finishRun(db, logger, logRow, counts, runErr, runDetails(req, start, ctx.Err() != nil))

	logger.WithFields(logrus.Fields{
		"entity_type": req.EntityType,
		"mode":        req.Mode,
		"sync_log_id": logRow.ID,
		"processed":   counts.Processed,
		"failed":      counts.Failed,
		"duration_ms": time.Since(start).Milliseconds(),
		"success":     runErr == nil,
	}).Info("sync run finished")
}

// syncRunDetails is the diagnostic blob stamped on the finished log row.
type syncRunDetails struct {
	Mode       string `json:"mode"`
	DurationMs int64  `json:"duration_ms"`
	Cancelled  bool   `json:"cancelled"`
}

func runDetails(req SyncRequest, start time.Time, cancelled bool) syncRunDetails {
	return syncRunDetails{
		Mode:       req.Mode,
		DurationMs: time.Since(start).Milliseconds(),
		Cancelled:  cancelled,
	}
}

// finishRun writes the terminal log state on a fresh context: the run context
// may already be cancelled (forced reset, shutdown) and the terminal write
// must still land.
func finishRun(db *gorm.DB, logger *logrus.Logger, logRow *models.SyncLog, counts models.SyncCounts, runErr error, details interface{}) {
	status := models.SyncStatusCompleted
	errMsg := ""
	if runErr != nil {
		status = models.SyncStatusFailed
		errMsg = runErr.Error()
	}
	if err := models.FinishSyncLog(context.Background(), db, logRow, status, counts, errMsg, details); err != nil {
		config.LogError(logger, "worker.go", "finishRun", "FinishSyncLog", logRow.ID, err)
	}
}

// incrementalFilter resolves the modified-since window for the entity, or nil
// when the run is full or no prior run ever completed.
func incrementalFilter(ctx context.Context, db *gorm.DB, entityType string, mode string) (url.Values, error) {
	if mode != models.SyncModeIncremental {
		return nil, nil
	}
	return ResolveSyncWindow(ctx, db, entityType)
}

func syncUsers(ctx context.Context, db *gorm.DB, logger *logrus.Logger, client *acadioClient, logRow *models.SyncLog, mode string, progress ProgressFunc) (models.SyncCounts, error) {
	filter, err := incrementalFilter(ctx, db, models.SyncEntityUsers, mode)
	if err != nil {
		return models.SyncCounts{}, err
	}

	var counts models.SyncCounts
	pages := 0
	fetchErr := client.fetchAllPages(ctx, "/v1/users", filter, func(records []json.RawMessage) error {
		pages++
		progress("fetch", pages, 0)

		now := time.Now().UTC()
		rows := make([]models.LmsUser, 0, len(records))
		for _, raw := range records {
			var u acadioUser
			if err := json.Unmarshal(raw, &u); err != nil {
				counts.Failed++
				_ = models.CreateSyncErrorRecord(ctx, db, logRow.ID, models.SyncEntityUsers, "", "invalid_payload", err.Error(), raw, true)
				continue
			}
			if strings.TrimSpace(u.ID) == "" {
				counts.Failed++
				_ = models.CreateSyncErrorRecord(ctx, db, logRow.ID, models.SyncEntityUsers, "", "missing_id", "user record has no id", raw, false)
				continue
			}
			rows = append(rows, models.LmsUser{
				ID:              strings.TrimSpace(u.ID),
				Email:           strings.TrimSpace(u.Email),
				FirstName:       u.FirstName,
				LastName:        u.LastName,
				Department:      u.Department,
				Active:          u.Active,
				LastLoginAt:     utils.ParseAPITime(u.LastLoginAt),
				SourceUpdatedAt: utils.ParseAPITime(u.UpdatedAt),
				Raw:             raw,
				SyncedAt:        now,
			})
		}

		base := counts.Processed
		counts.Add(upsertInBatches(ctx, db, logger, logRow.ID, models.SyncEntityUsers, rows,
			func(r models.LmsUser) string { return r.ID },
			upsertColumns("email", "first_name", "last_name", "department", "active",
				"last_login_at", "source_updated_at", "raw", "synced_at", "updated_at"),
			func(written, total int) { progress("write", base+written, 0) }))
		return nil
	})
	return counts, fetchErr
}

func syncGroups(ctx context.Context, db *gorm.DB, logger *logrus.Logger, client *acadioClient, logRow *models.SyncLog, mode string, progress ProgressFunc) (models.SyncCounts, error) {
	filter, err := incrementalFilter(ctx, db, models.SyncEntityGroups, mode)
	if err != nil {
		return models.SyncCounts{}, err
	}

	var counts models.SyncCounts
	pages := 0
	fetchErr := client.fetchAllPages(ctx, "/v1/groups", filter, func(records []json.RawMessage) error {
		pages++
		progress("fetch", pages, 0)

		now := time.Now().UTC()
		rows := make([]models.LmsGroup, 0, len(records))
		for _, raw := range records {
			var g acadioGroup
			if err := json.Unmarshal(raw, &g); err != nil {
				counts.Failed++
				_ = models.CreateSyncErrorRecord(ctx, db, logRow.ID, models.SyncEntityGroups, "", "invalid_payload", err.Error(), raw, true)
				continue
			}
			if strings.TrimSpace(g.ID) == "" {
				counts.Failed++
				_ = models.CreateSyncErrorRecord(ctx, db, logRow.ID, models.SyncEntityGroups, "", "missing_id", "group record has no id", raw, false)
				continue
			}
			rows = append(rows, models.LmsGroup{
				ID:              strings.TrimSpace(g.ID),
				Name:            strings.TrimSpace(g.Name),
				Description:     g.Description,
				MemberCount:     g.MemberCount,
				SourceUpdatedAt: utils.ParseAPITime(g.UpdatedAt),
				Raw:             raw,
				SyncedAt:        now,
			})
		}

		// partner_id is deliberately absent from the update set: a refresh
		// must never undo a linkage made by the matcher or an operator.
		base := counts.Processed
		counts.Add(upsertInBatches(ctx, db, logger, logRow.ID, models.SyncEntityGroups, rows,
			func(r models.LmsGroup) string { return r.ID },
			upsertColumns("name", "description", "member_count",
				"source_updated_at", "raw", "synced_at", "updated_at"),
			func(written, total int) { progress("write", base+written, 0) }))
		return nil
	})
	return counts, fetchErr
}

func syncCourses(ctx context.Context, db *gorm.DB, logger *logrus.Logger, client *acadioClient, logRow *models.SyncLog, mode string, progress ProgressFunc) (models.SyncCounts, error) {
	filter, err := incrementalFilter(ctx, db, models.SyncEntityCourses, mode)
	if err != nil {
		return models.SyncCounts{}, err
	}

	var counts models.SyncCounts
	pages := 0
	fetchErr := client.fetchAllPages(ctx, "/v1/courses", filter, func(records []json.RawMessage) error {
		pages++
		progress("fetch", pages, 0)

		now := time.Now().UTC()
		rows := make([]models.LmsCourse, 0, len(records))
		for _, raw := range records {
			var c acadioCourse
			if err := json.Unmarshal(raw, &c); err != nil {
				counts.Failed++
				_ = models.CreateSyncErrorRecord(ctx, db, logRow.ID, models.SyncEntityCourses, "", "invalid_payload", err.Error(), raw, true)
				continue
			}
			if strings.TrimSpace(c.ID) == "" {
				counts.Failed++
				_ = models.CreateSyncErrorRecord(ctx, db, logRow.ID, models.SyncEntityCourses, "", "missing_id", "course record has no id", raw, false)
				continue
			}
			rows = append(rows, models.LmsCourse{
				ID:              strings.TrimSpace(c.ID),
				Name:            strings.TrimSpace(c.Name),
				Code:            c.Code,
				Category:        c.Category,
				Active:          c.Active,
				Credits:         decimalFromNumber(c.Credits),
				SourceUpdatedAt: utils.ParseAPITime(c.UpdatedAt),
				Raw:             raw,
				SyncedAt:        now,
			})
		}

		base := counts.Processed
		counts.Add(upsertInBatches(ctx, db, logger, logRow.ID, models.SyncEntityCourses, rows,
			func(r models.LmsCourse) string { return r.ID },
			upsertColumns("name", "code", "category", "active", "credits",
				"source_updated_at", "raw", "synced_at", "updated_at"),
			func(written, total int) { progress("write", base+written, 0) }))
		return nil
	})
	return counts, fetchErr
}

// syncCourseProperties refetches the property set of every known course. The
// per-course payload is tiny, so the whole child fetch is simpler and safer
// than tracking property-level deltas.
func syncCourseProperties(ctx context.Context, db *gorm.DB, logger *logrus.Logger, client *acadioClient, logRow *models.SyncLog, progress ProgressFunc) (models.SyncCounts, error) {
	courseIDs, err := models.GetAllCourseIDs(ctx, db)
	if err != nil {
		return models.SyncCounts{}, err
	}

	var counts models.SyncCounts
	for i, courseID := range courseIDs {
		records, err := client.fetchAll(ctx, "/v1/courses/"+url.PathEscape(courseID)+"/properties", nil)
		if err != nil {
			return counts, fmt.Errorf("course %s properties: %w", courseID, err)
		}

		now := time.Now().UTC()
		rows := make([]models.LmsCourseProperty, 0, len(records))
		for _, raw := range records {
			var p acadioCourseProperty
			if err := json.Unmarshal(raw, &p); err != nil {
				counts.Failed++
				_ = models.CreateSyncErrorRecord(ctx, db, logRow.ID, models.SyncEntityCourseProperties, courseID, "invalid_payload", err.Error(), raw, true)
				continue
			}
			if strings.TrimSpace(p.ID) == "" {
				counts.Failed++
				_ = models.CreateSyncErrorRecord(ctx, db, logRow.ID, models.SyncEntityCourseProperties, courseID, "missing_id", "property record has no id", raw, false)
				continue
			}
			rows = append(rows, models.LmsCourseProperty{
				ID:       strings.TrimSpace(p.ID),
				CourseId: courseID,
				Name:     p.Name,
				Value:    p.Value,
				SyncedAt: now,
			})
		}

		base := counts.Processed
		counts.Add(upsertInBatches(ctx, db, logger, logRow.ID, models.SyncEntityCourseProperties, rows,
			func(r models.LmsCourseProperty) string { return r.ID },
			upsertColumns("course_id", "name", "value", "synced_at", "updated_at"),
			func(written, total int) { progress("write", base+written, 0) }))
		progress("courses", i+1, len(courseIDs))
	}
	return counts, nil
}

// syncGroupMemberships refetches and replaces the member list of every known
// group. One failing group aborts the run so the error surfaces in the log;
// already-replaced groups keep their fresh state.
func syncGroupMemberships(ctx context.Context, db *gorm.DB, logger *logrus.Logger, client *acadioClient, logRow *models.SyncLog, progress ProgressFunc) (models.SyncCounts, error) {
	groupIDs, err := models.GetAllGroupIDs(ctx, db)
	if err != nil {
		return models.SyncCounts{}, err
	}

	var counts models.SyncCounts
	for i, groupID := range groupIDs {
		records, err := client.fetchAll(ctx, "/v1/groups/"+url.PathEscape(groupID)+"/members", nil)
		if err != nil {
			return counts, fmt.Errorf("group %s members: %w", groupID, err)
		}

		now := time.Now().UTC()
		memberships := make([]models.LmsGroupMembership, 0, len(records))
		for _, raw := range records {
			var m acadioGroupMember
			if err := json.Unmarshal(raw, &m); err != nil {
				counts.Failed++
				_ = models.CreateSyncErrorRecord(ctx, db, logRow.ID, models.SyncEntityGroupMemberships, groupID, "invalid_payload", err.Error(), raw, true)
				continue
			}
			if strings.TrimSpace(m.UserID) == "" {
				counts.Failed++
				_ = models.CreateSyncErrorRecord(ctx, db, logRow.ID, models.SyncEntityGroupMemberships, groupID, "missing_id", "member record has no user_id", raw, false)
				continue
			}
			memberships = append(memberships, models.LmsGroupMembership{
				GroupId:  groupID,
				UserId:   strings.TrimSpace(m.UserID),
				SyncedAt: now,
			})
		}

		replaced, err := replaceGroupMemberships(ctx, db, logRow.ID, groupID, memberships)
		if err != nil {
			return counts, fmt.Errorf("group %s membership replace: %w", groupID, err)
		}
		counts.Add(replaced)
		progress("groups", i+1, len(groupIDs))
	}
	return counts, nil
}

// syncEnrollments pulls per-user transcripts. A full run walks every known
// user; an incremental run only the users active inside the recency window,
// which is what keeps the nightly pass affordable.
func syncEnrollments(ctx context.Context, db *gorm.DB, logger *logrus.Logger, client *acadioClient, logRow *models.SyncLog, mode string, progress ProgressFunc) (models.SyncCounts, error) {
	var since *time.Time
	if mode == models.SyncModeIncremental {
		days := utils.IntFromEnv("ACADIO_ENROLLMENT_ACTIVE_DAYS", 30)
		cutoff := time.Now().UTC().AddDate(0, 0, -days)
		since = &cutoff
	}
	userIDs, err := models.GetActiveUserIDs(ctx, db, since)
	if err != nil {
		return models.SyncCounts{}, err
	}

	var counts models.SyncCounts
	for i, userID := range userIDs {
		records, err := client.fetchAll(ctx, "/v1/users/"+url.PathEscape(userID)+"/transcript", nil)
		if err != nil {
			return counts, fmt.Errorf("user %s transcript: %w", userID, err)
		}

		now := time.Now().UTC()
		rows := make([]models.LmsEnrollment, 0, len(records))
		for _, raw := range records {
			var e acadioEnrollment
			if err := json.Unmarshal(raw, &e); err != nil {
				counts.Failed++
				_ = models.CreateSyncErrorRecord(ctx, db, logRow.ID, models.SyncEntityEnrollments, userID, "invalid_payload", err.Error(), raw, true)
				continue
			}
			if strings.TrimSpace(e.ID) == "" {
				counts.Failed++
				_ = models.CreateSyncErrorRecord(ctx, db, logRow.ID, models.SyncEntityEnrollments, userID, "missing_id", "enrollment record has no id", raw, false)
				continue
			}
			enrollmentUser := strings.TrimSpace(e.UserID)
			if enrollmentUser == "" {
				enrollmentUser = userID
			}
			rows = append(rows, models.LmsEnrollment{
				ID:              strings.TrimSpace(e.ID),
				UserId:          enrollmentUser,
				CourseId:        strings.TrimSpace(e.CourseID),
				Status:          e.Status,
				Score:           decimalFromNumber(e.Score),
				Progress:        decimalFromNumber(e.Progress),
				EnrolledAt:      utils.ParseAPITime(e.EnrolledAt),
				CompletedAt:     utils.ParseAPITime(e.CompletedAt),
				SourceUpdatedAt: utils.ParseAPITime(e.UpdatedAt),
				Raw:             raw,
				SyncedAt:        now,
			})
		}

		base := counts.Processed
		counts.Add(upsertInBatches(ctx, db, logger, logRow.ID, models.SyncEntityEnrollments, rows,
			func(r models.LmsEnrollment) string { return r.ID },
			upsertColumns("user_id", "course_id", "status", "score", "progress",
				"enrolled_at", "completed_at", "source_updated_at", "raw", "synced_at", "updated_at"),
			func(written, total int) { progress("write", base+written, 0) }))
		progress("users", i+1, len(userIDs))
	}
	return counts, nil
}

// RunScheduledPass executes one ordered sweep over every entity type and then
// an auto-match pass. A lock conflict aborts the sweep (someone else is
// syncing); an individual entity failure is logged on its own sync log row and
// the sweep moves on, so one flaky endpoint cannot starve the others.
func RunScheduledPass(ctx context.Context, db *gorm.DB, logger *logrus.Logger, lock *SyncLock, mode string) error {
	for _, entityType := range syncEntityOrder {
		entityMode := mode
		if !SupportsIncremental(entityType) {
			entityMode = models.SyncModeFull
		}
		row, err := RunEntitySync(ctx, db, logger, lock, SyncRequest{
			EntityType: entityType,
			Mode:       entityMode,
			Progress:   RedisProgress(entityType),
		})
		if err != nil {
			var conflict *SyncInProgressError
			if errors.As(err, &conflict) {
				return err
			}
			config.LogError(logger, "worker.go", "RunScheduledPass", "RunEntitySync", entityType, err)
			continue
		}
		if row != nil && row.Status == models.SyncStatusFailed {
			logger.WithFields(logrus.Fields{
				"entity_type": entityType,
				"sync_log_id": row.ID,
			}).Warn("scheduled sync entity failed; continuing with remaining entities")
		}
	}

	if _, err := AutoMatchGroups(ctx, db, logger, AutoMatchOptions{}); err != nil {
		config.LogError(logger, "worker.go", "RunScheduledPass", "AutoMatchGroups", nil, err)
	}
	return nil
}
