package acadiosync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/novalearn/partnerhub_backend/config"
	"github.com/novalearn/partnerhub_backend/models"
	"github.com/novalearn/partnerhub_backend/utils"
	"github.com/sirupsen/logrus"
)

const redisLockKey = "acadio:sync-lock"

// SyncSlot is the single process-wide "current sync" slot.
type SyncSlot struct {
	EntityType string    `json:"entityType"`
	Status     string    `json:"status"`
	StartedAt  time.Time `json:"startedAt"`
}

// SyncInProgressError reports a trigger that lost to an occupied, non-stale
// slot. Handlers turn it into a 409 with the slot contents and a reset hint.
type SyncInProgressError struct {
	Slot SyncSlot
}

func (e *SyncInProgressError) Error() string {
	return fmt.Sprintf("a %s sync is already running (started %s)",
		e.Slot.EntityType, e.Slot.StartedAt.UTC().Format(time.RFC3339))
}

// SyncLock is the in-process single-slot lock that keeps at most one sync in
// flight. A slot older than staleAfter is presumed crashed and silently
// replaced, so a dead run cannot block syncs forever.
//
// When Redis is configured, a redislock is obtained alongside as a
// best-effort guard against two replicas syncing at once. Reliability must
// not depend on Redis: the in-process slot stays authoritative, and a Redis
// outage degrades to in-process-only exclusion.
type SyncLock struct {
	mu        sync.Mutex
	slot      *SyncSlot
	gen       uint64
	cancel    context.CancelFunc
	redisLock *redislock.Lock

	staleAfter time.Duration
	now        func() time.Time
	lockerFn   func() *redislock.Client
	logger     *logrus.Logger
}

// SyncRun is the holder's handle on the slot. The generation stamp ties the
// handle to one specific occupancy: a Release arriving after a forced clear or
// a stale takeover finds a newer generation and leaves the new holder alone.
type SyncRun struct {
	lock *SyncLock
	gen  uint64
	ctx  context.Context
}

// Context is the run context the sync loop must thread through its fetch and
// write calls. ForceClear cancels it.
func (r *SyncRun) Context() context.Context {
	return r.ctx
}

// Release empties the slot, but only while this run is still the current
// holder. Called on both the success and the failure path, always deferred.
func (r *SyncRun) Release() {
	l := r.lock
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.gen != r.gen {
		// Superseded by ForceClear or a stale takeover; the slot belongs to a
		// newer run now.
		return
	}
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
	l.releaseRedisLocked()
	l.slot = nil
}

func NewSyncLock(staleAfter time.Duration) *SyncLock {
	return &SyncLock{
		staleAfter: staleAfter,
		now:        time.Now,
		lockerFn:   config.GetRedisLock,
		logger:     config.GetLogger(),
	}
}

func NewSyncLockFromEnv() *SyncLock {
	minutes := utils.IntFromEnv("ACADIO_SYNC_LOCK_STALE_MINUTES", 30)
	return NewSyncLock(time.Duration(minutes) * time.Minute)
}

// Acquire occupies the slot for entityType and returns the holder's run
// handle. ForceClear cancels the run context, so a forcibly cleared run stops
// after its current page instead of racing the cleared state.
func (l *SyncLock) Acquire(parent context.Context, entityType string) (*SyncRun, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if l.slot != nil {
		if now.Sub(l.slot.StartedAt) < l.staleAfter {
			return nil, &SyncInProgressError{Slot: *l.slot}
		}
		// Stale holder, presumed crashed. Cancel whatever is left and take over.
		if l.cancel != nil {
			l.cancel()
			l.cancel = nil
		}
		l.releaseRedisLocked()
		if l.logger != nil {
			l.logger.WithFields(logrus.Fields{
				"entity_type": l.slot.EntityType,
				"started_at":  l.slot.StartedAt,
			}).Warn("replacing stale sync lock")
		}
		l.slot = nil
	}

	if l.lockerFn != nil {
		if locker := l.lockerFn(); locker != nil {
			rl, err := locker.Obtain(parent, redisLockKey, l.staleAfter, nil)
			switch {
			case err == redislock.ErrNotObtained:
				return nil, &SyncInProgressError{Slot: SyncSlot{
					EntityType: "unknown",
					Status:     models.SyncStatusRunning,
					StartedAt:  now,
				}}
			case err != nil:
				if l.logger != nil {
					l.logger.Warn("redis sync lock unavailable; continuing with in-process lock only: " + err.Error())
				}
			default:
				l.redisLock = rl
			}
		}
	}

	runCtx, cancel := context.WithCancel(parent)
	l.gen++
	l.slot = &SyncSlot{
		EntityType: entityType,
		Status:     models.SyncStatusRunning,
		StartedAt:  now,
	}
	l.cancel = cancel
	return &SyncRun{lock: l, gen: l.gen, ctx: runCtx}, nil
}

// ForceClear is the operator escape hatch: empty the slot unconditionally and
// cancel the in-flight run. Returns whether a run was actually cleared. The
// generation bump invalidates the cleared run's handle, so its deferred
// Release cannot touch whatever sync occupies the slot next.
func (l *SyncLock) ForceClear() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	cleared := l.slot != nil
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
	l.releaseRedisLocked()
	l.slot = nil
	l.gen++
	return cleared
}

// Current returns a snapshot of the slot plus whether the holder has gone
// stale (older than the timeout, presumed crashed).
func (l *SyncLock) Current() (*SyncSlot, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.slot == nil {
		return nil, false
	}
	snapshot := *l.slot
	return &snapshot, l.now().Sub(snapshot.StartedAt) >= l.staleAfter
}

func (l *SyncLock) releaseRedisLocked() {
	if l.redisLock != nil {
		_ = l.redisLock.Release(context.Background())
		l.redisLock = nil
	}
}
