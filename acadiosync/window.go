package acadiosync

import (
	"context"
	"net/url"
	"time"

	"github.com/novalearn/partnerhub_backend/models"
	"gorm.io/gorm"
)

// ResolveSyncWindow returns the server-side filter for an incremental run:
// "modified at or after the last completed sync of this entity type". A nil
// result means no prior run ever completed and the caller must fetch
// everything. Pure read; never mutates the sync log.
func ResolveSyncWindow(ctx context.Context, db *gorm.DB, entityType string) (url.Values, error) {
	last, err := models.GetLastCompletedSync(ctx, db, entityType)
	if err != nil {
		return nil, err
	}
	if last == nil || last.CompletedAt == nil {
		return nil, nil
	}
	return updatedSinceFilter(*last.CompletedAt), nil
}

// updatedSinceFilter renders the window in the Acadio query dialect.
func updatedSinceFilter(since time.Time) url.Values {
	filter := url.Values{}
	filter.Set("updated_since", since.UTC().Format(time.RFC3339))
	return filter
}
