package acadiosync

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/novalearn/partnerhub_backend/models"
)

func newTestRouter(lock *SyncLock) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/api/lms/sync", TriggerSyncHandler(lock))
	r.GET("/api/lms/sync/status", StatusHandler(lock))
	r.POST("/api/lms/sync/reset", ResetSyncHandler(lock))
	return r
}

func postJSON(r *gin.Engine, path string, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

func TestTriggerSyncRejectsBadRequests(t *testing.T) {
	lock, _ := testLock(30 * time.Minute)
	r := newTestRouter(lock)

	if w := postJSON(r, "/api/lms/sync", `{}`); w.Code != http.StatusBadRequest {
		t.Errorf("missing entityType: got %d, want 400", w.Code)
	}
	if w := postJSON(r, "/api/lms/sync", `{"entityType":"invoices"}`); w.Code != http.StatusBadRequest {
		t.Errorf("unknown entityType: got %d, want 400", w.Code)
	}
	if w := postJSON(r, "/api/lms/sync", `{"entityType":"group-memberships","mode":"incremental"}`); w.Code != http.StatusBadRequest {
		t.Errorf("incremental memberships: got %d, want 400", w.Code)
	}

	// nothing above may have occupied the slot
	if slot, _ := lock.Current(); slot != nil {
		t.Errorf("slot occupied after rejected requests: %+v", slot)
	}
}

func TestTriggerSyncConflictWhenSlotHeld(t *testing.T) {
	lock, _ := testLock(30 * time.Minute)
	if _, err := lock.Acquire(context.Background(), models.SyncEntityUsers); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	r := newTestRouter(lock)

	w := postJSON(r, "/api/lms/sync", `{"entityType":"groups"}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("got %d, want 409", w.Code)
	}

	var body struct {
		Error   string   `json:"error"`
		Current SyncSlot `json:"current"`
		Hint    string   `json:"hint"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Current.EntityType != models.SyncEntityUsers {
		t.Errorf("conflict slot entity: got %q, want users", body.Current.EntityType)
	}
	if !strings.Contains(body.Hint, "/api/lms/sync/reset") {
		t.Errorf("hint does not name the reset endpoint: %q", body.Hint)
	}
}

func TestStatusAndReset(t *testing.T) {
	lock, _ := testLock(30 * time.Minute)
	r := newTestRouter(lock)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/lms/sync/status", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	var idle StatusResponse
	if err := json.Unmarshal(w.Body.Bytes(), &idle); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if idle.Status != "idle" || idle.Current != nil {
		t.Errorf("idle status: got %+v", idle)
	}

	if _, err := lock.Acquire(context.Background(), models.SyncEntityCourses); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/lms/sync/status", nil))
	var running StatusResponse
	if err := json.Unmarshal(w.Body.Bytes(), &running); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if running.Status != models.SyncStatusRunning || running.Current == nil || running.Current.EntityType != models.SyncEntityCourses {
		t.Errorf("running status: got %+v", running)
	}

	w = postJSON(r, "/api/lms/sync/reset", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"cleared":true`) {
		t.Errorf("reset: got %d %s", w.Code, w.Body.String())
	}
	w = postJSON(r, "/api/lms/sync/reset", "")
	if !strings.Contains(w.Body.String(), `"cleared":false`) {
		t.Errorf("second reset: got %s", w.Body.String())
	}
	if slot, _ := lock.Current(); slot != nil {
		t.Errorf("slot occupied after reset: %+v", slot)
	}
}
