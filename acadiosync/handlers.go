package acadiosync

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/novalearn/partnerhub_backend/config"
	"github.com/novalearn/partnerhub_backend/models"
	"github.com/novalearn/partnerhub_backend/utils"
	"gorm.io/gorm"
)

// TriggerSyncHandler starts a sync run for one entity type. Responds 202 with
// the sync log id; 409 when a run already holds the slot.
func TriggerSyncHandler(lock *SyncLock) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body TriggerSyncRequest
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "entityType is required"})
			return
		}

		db := config.GetDB()
		logger := config.GetLogger()
		req := SyncRequest{
			EntityType: body.EntityType,
			Mode:       body.Mode,
			Progress:   RedisProgress(body.EntityType),
		}

		id, err := StartEntitySync(db, logger, lock, req)
		if err != nil {
			var conflict *SyncInProgressError
			if errors.As(err, &conflict) {
				c.JSON(http.StatusConflict, gin.H{
					"error":   err.Error(),
					"current": conflict.Slot,
					"hint":    "POST /api/lms/sync/reset clears a stuck sync",
				})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"id": id, "status": models.SyncStatusRunning})
	}
}

// StatusHandler reports the current slot plus the latest progress tuple.
func StatusHandler(lock *SyncLock) gin.HandlerFunc {
	return func(c *gin.Context) {
		slot, stale := lock.Current()
		resp := StatusResponse{Status: "idle"}
		if slot != nil {
			resp.Status = slot.Status
			resp.Current = slot
			resp.Stale = stale
			if snap, ok := GetProgressSnapshot(); ok {
				resp.Progress = snap
			}
		}
		c.JSON(http.StatusOK, resp)
	}
}

// ResetSyncHandler is the operator escape hatch for a stuck slot. The in-flight
// run (if any) is cancelled and will record itself as failed.
func ResetSyncHandler(lock *SyncLock) gin.HandlerFunc {
	return func(c *gin.Context) {
		cleared := lock.ForceClear()
		if cleared {
			config.GetLogger().Warn("sync lock force-cleared by operator")
		}
		c.JSON(http.StatusOK, gin.H{"cleared": cleared})
	}
}

// SyncHistoryHandler lists recent sync log rows, optionally filtered by
// entity type (?entityType=users&limit=20).
func SyncHistoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.Query("limit"))
		rows, err := models.GetRecentSyncLogs(c.Request.Context(), config.GetDB(), c.Query("entityType"), limit)
		if err != nil {
			config.LogError(config.GetLogger(), "handlers.go", "SyncHistoryHandler", "GetRecentSyncLogs", nil, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load sync logs"})
			return
		}

		out := make([]SyncLogResponse, 0, len(rows))
		for i := range rows {
			out = append(out, toSyncLogResponse(&rows[i]))
		}
		c.JSON(http.StatusOK, gin.H{"logs": out})
	}
}

// SyncLogDetailHandler returns one sync log row plus its per-record errors.
func SyncLogDetailHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid sync log id"})
			return
		}

		db := config.GetDB()
		row, err := models.GetSyncLogByID(c.Request.Context(), db, uint(id))
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": utils.ErrorRecordNotFound.Error()})
				return
			}
			config.LogError(config.GetLogger(), "handlers.go", "SyncLogDetailHandler", "GetSyncLogByID", id, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load sync log"})
			return
		}

		errRows, err := models.GetSyncErrorRecords(c.Request.Context(), db, row.ID)
		if err != nil {
			config.LogError(config.GetLogger(), "handlers.go", "SyncLogDetailHandler", "GetSyncErrorRecords", row.ID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load sync errors"})
			return
		}

		detail := SyncLogDetailResponse{
			SyncLogResponse: toSyncLogResponse(row),
			Errors:          make([]SyncErrorResponse, 0, len(errRows)),
		}
		for _, e := range errRows {
			detail.Errors = append(detail.Errors, SyncErrorResponse{
				ID:         e.ID,
				EntityType: e.EntityType,
				ExternalId: e.ExternalId,
				ErrorCode:  e.ErrorCode,
				Message:    e.Message,
				Retryable:  e.Retryable,
			})
		}
		c.JSON(http.StatusOK, detail)
	}
}

// AutoMatchHandler runs the group-to-partner matcher. Defaults to dry run so
// an accidental POST from the admin UI cannot link anything.
func AutoMatchHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var body AutoMatchRequest
		if err := c.ShouldBindJSON(&body); err != nil && c.Request.ContentLength > 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		dryRun := true
		if body.DryRun != nil {
			dryRun = *body.DryRun
		}

		result, err := AutoMatchGroups(c.Request.Context(), config.GetDB(), config.GetLogger(), AutoMatchOptions{
			DryRun:    dryRun,
			Threshold: body.Threshold,
		})
		if err != nil {
			config.LogError(config.GetLogger(), "handlers.go", "AutoMatchHandler", "AutoMatchGroups", body, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "auto match failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"dryRun": dryRun, "result": result})
	}
}

// MatchSuggestionsHandler lists partner candidates for one group, sorted best
// first, down to the suggestion threshold.
func MatchSuggestionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		db := config.GetDB()
		group, err := models.GetGroupByID(c.Request.Context(), db, c.Param("groupId"))
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": utils.ErrorRecordNotFound.Error()})
				return
			}
			config.LogError(config.GetLogger(), "handlers.go", "MatchSuggestionsHandler", "GetGroupByID", c.Param("groupId"), err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load group"})
			return
		}

		partners, err := models.GetActivePartnerAccounts(c.Request.Context(), db)
		if err != nil {
			config.LogError(config.GetLogger(), "handlers.go", "MatchSuggestionsHandler", "GetActivePartnerAccounts", nil, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load partners"})
			return
		}

		suggestions := SuggestMatches(group.Name, partners, SuggestionThreshold())
		for i := range suggestions {
			suggestions[i].GroupId = group.ID
		}
		c.JSON(http.StatusOK, gin.H{
			"groupId":     group.ID,
			"groupName":   group.Name,
			"linked":      group.PartnerId != nil,
			"suggestions": suggestions,
		})
	}
}

func toSyncLogResponse(row *models.SyncLog) SyncLogResponse {
	resp := SyncLogResponse{
		ID:               row.ID,
		EntityType:       row.EntityType,
		Status:           row.Status,
		Mode:             row.Mode,
		StartedAt:        row.StartedAt.UTC().Format(time.RFC3339),
		RecordsProcessed: row.RecordsProcessed,
		RecordsCreated:   row.RecordsCreated,
		RecordsUpdated:   row.RecordsUpdated,
		RecordsFailed:    row.RecordsFailed,
		ErrorMessage:     row.ErrorMessage,
	}
	if row.CompletedAt != nil {
		completed := row.CompletedAt.UTC().Format(time.RFC3339)
		resp.CompletedAt = &completed
	}
	return resp
}
