package acadiosync

import (
	"time"

	"github.com/novalearn/partnerhub_backend/config"
)

// ProgressFunc receives a (stage, current, total) tuple at every page and
// batch boundary. Advisory only: never persisted transactionally, and the
// engine has no opinion on how it is displayed.
type ProgressFunc func(stage string, current, total int)

type ProgressSnapshot struct {
	EntityType string    `json:"entityType"`
	Stage      string    `json:"stage"`
	Current    int       `json:"current"`
	Total      int       `json:"total"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

const progressRedisKey = "acadio:sync-progress"

// RedisProgress persists the latest tuple to Redis so the dashboard's status
// poll can show it. Write failures are ignored; progress is best-effort.
func RedisProgress(entityType string) ProgressFunc {
	return func(stage string, current, total int) {
		_ = config.SetRedisObject(progressRedisKey, ProgressSnapshot{
			EntityType: entityType,
			Stage:      stage,
			Current:    current,
			Total:      total,
			UpdatedAt:  time.Now().UTC(),
		}, time.Hour)
	}
}

func GetProgressSnapshot() (*ProgressSnapshot, bool) {
	var snap ProgressSnapshot
	ok, err := config.GetRedisObject(progressRedisKey, &snap)
	if err != nil || !ok {
		return nil, false
	}
	return &snap, true
}
