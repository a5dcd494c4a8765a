package acadiosync

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/novalearn/partnerhub_backend/config"
	"github.com/novalearn/partnerhub_backend/models"
	"github.com/novalearn/partnerhub_backend/utils"
)

func syncTopicName() string {
	return utils.StringFromEnv("ACADIO_SYNC_TOPIC", "lms-sync")
}

// PublishScheduledSync enqueues one scheduled pass. Cloud Scheduler calls this
// indirectly (it publishes to the topic itself in production); the function
// exists for manual and test triggering.
func PublishScheduledSync(ctx context.Context, mode string) (string, error) {
	if mode == "" {
		mode = models.SyncModeIncremental
	}
	return config.PublishJSON(ctx, syncTopicName(), ScheduledSyncPayload{Mode: mode})
}

// PubSubPushHandler is the push-subscription endpoint for scheduled syncs. It
// runs the full ordered pass inline; Cloud Run keeps the instance alive for
// the duration of the request.
//
// Every outcome acks with 204. A nack would make Pub/Sub redeliver, and
// redelivering a sync that failed halfway (or lost the lock to a manual run)
// only piles more load on the source API.
func PubSubPushHandler(lock *SyncLock) gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()

		var envelope PubSubPushEnvelope
		if err := c.ShouldBindJSON(&envelope); err != nil {
			logger.Warn("pubsub push with unparseable envelope: " + err.Error())
			c.Status(http.StatusNoContent)
			return
		}

		var payload ScheduledSyncPayload
		if len(envelope.Message.Data) > 0 {
			if err := json.Unmarshal(envelope.Message.Data, &payload); err != nil {
				logger.Warn("pubsub push with unparseable payload: " + err.Error())
				c.Status(http.StatusNoContent)
				return
			}
		}
		if payload.Mode == "" {
			payload.Mode = models.SyncModeIncremental
		}

		logger.WithField("mode", payload.Mode).Info("scheduled sync pass starting")
		err := RunScheduledPass(c.Request.Context(), config.GetDB(), logger, lock, payload.Mode)
		if err != nil {
			var conflict *SyncInProgressError
			if errors.As(err, &conflict) {
				logger.WithField("current", conflict.Slot).Info("scheduled sync pass skipped; a sync is already running")
			} else {
				config.LogError(logger, "pubsub.go", "PubSubPushHandler", "RunScheduledPass", payload, err)
			}
		}
		c.Status(http.StatusNoContent)
	}
}
