package acadiosync

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/novalearn/partnerhub_backend/config"
	"github.com/novalearn/partnerhub_backend/models"
)

func TestSyncWriterAndMatcherIntegration(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "partnerhub_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	db := config.GetDB()
	if db == nil {
		t.Fatalf("db is nil after ConnectDatabaseWithRetry")
	}
	logger := config.GetLogger()

	// 1) Batch upsert with per-row fallback: one row exceeds the department
	// column, the batch statement fails, the other rows must survive the
	// row-by-row retry.
	logRow, err := models.StartSyncLog(ctx, db, models.SyncEntityUsers, models.SyncModeFull)
	if err != nil {
		t.Fatalf("StartSyncLog: %v", err)
	}

	now := time.Now().UTC()
	users := []models.LmsUser{
		{ID: "u1", Email: "u1@acme.test", FirstName: "One", SyncedAt: now},
		{ID: "u2", Email: "u2@acme.test", Department: strings.Repeat("x", 300), SyncedAt: now},
		{ID: "u3", Email: "u3@acme.test", FirstName: "Three", SyncedAt: now},
	}
	type batchCall struct{ written, total int }
	var batchCalls []batchCall
	counts := upsertInBatches(ctx, db, logger, logRow.ID, models.SyncEntityUsers, users,
		func(r models.LmsUser) string { return r.ID },
		upsertColumns("email", "first_name", "last_name", "department", "active",
			"last_login_at", "source_updated_at", "raw", "synced_at", "updated_at"),
		func(written, total int) { batchCalls = append(batchCalls, batchCall{written, total}) })
	if counts.Processed != 3 || counts.Failed != 1 || counts.Created != 2 {
		t.Fatalf("fallback counts: got %+v, want processed=3 failed=1 created=2", counts)
	}
	if len(batchCalls) != 1 || batchCalls[0] != (batchCall{3, 3}) {
		t.Fatalf("batch progress calls: got %+v, want one (3,3) call", batchCalls)
	}

	var userCount int64
	if err := db.Model(&models.LmsUser{}).Count(&userCount).Error; err != nil {
		t.Fatalf("count users: %v", err)
	}
	if userCount != 2 {
		t.Fatalf("users persisted: got %d, want 2", userCount)
	}

	errRows, err := models.GetSyncErrorRecords(ctx, db, logRow.ID)
	if err != nil {
		t.Fatalf("GetSyncErrorRecords: %v", err)
	}
	if len(errRows) != 1 || errRows[0].ErrorCode != "upsert_failed" || errRows[0].ExternalId != "u2" {
		t.Fatalf("error records: got %+v", errRows)
	}

	// 2) Idempotence: re-upserting the surviving rows changes nothing.
	survivors := []models.LmsUser{users[0], users[2]}
	again := upsertInBatches(ctx, db, logger, logRow.ID, models.SyncEntityUsers, survivors,
		func(r models.LmsUser) string { return r.ID },
		upsertColumns("email", "first_name", "last_name", "department", "active",
			"last_login_at", "source_updated_at", "raw", "synced_at", "updated_at"),
		nil)
	if again.Failed != 0 {
		t.Fatalf("re-upsert failed rows: %+v", again)
	}
	if err := db.Model(&models.LmsUser{}).Count(&userCount).Error; err != nil {
		t.Fatalf("count users: %v", err)
	}
	if userCount != 2 {
		t.Fatalf("users after re-upsert: got %d, want 2", userCount)
	}

	// 3) Completed log row drives the incremental window.
	if err := models.FinishSyncLog(ctx, db, logRow, models.SyncStatusCompleted, counts, "", nil); err != nil {
		t.Fatalf("FinishSyncLog: %v", err)
	}
	filter, err := ResolveSyncWindow(ctx, db, models.SyncEntityUsers)
	if err != nil {
		t.Fatalf("ResolveSyncWindow: %v", err)
	}
	if filter == nil || filter.Get("updated_since") == "" {
		t.Fatalf("expected incremental window after completed run, got %v", filter)
	}
	if filter, err = ResolveSyncWindow(ctx, db, models.SyncEntityGroups); err != nil || filter != nil {
		t.Fatalf("groups window without completed run: filter=%v err=%v", filter, err)
	}

	// 4) Membership replacement is wholesale per group.
	seed := []models.LmsGroupMembership{
		{GroupId: "g1", UserId: "u1", SyncedAt: now},
		{GroupId: "g1", UserId: "u2", SyncedAt: now},
		{GroupId: "g2", UserId: "u1", SyncedAt: now},
	}
	if err := db.Create(&seed).Error; err != nil {
		t.Fatalf("seed memberships: %v", err)
	}
	if _, err := replaceGroupMemberships(ctx, db, logRow.ID, "g1", []models.LmsGroupMembership{
		{GroupId: "g1", UserId: "u2", SyncedAt: now},
		{GroupId: "g1", UserId: "u3", SyncedAt: now},
	}); err != nil {
		t.Fatalf("replaceGroupMemberships: %v", err)
	}

	var g1Users []string
	if err := db.Model(&models.LmsGroupMembership{}).Where("group_id = ?", "g1").Order("user_id").Pluck("user_id", &g1Users).Error; err != nil {
		t.Fatalf("load g1 members: %v", err)
	}
	if len(g1Users) != 2 || g1Users[0] != "u2" || g1Users[1] != "u3" {
		t.Fatalf("g1 members after replace: got %v, want [u2 u3]", g1Users)
	}
	var g2Count int64
	if err := db.Model(&models.LmsGroupMembership{}).Where("group_id = ?", "g2").Count(&g2Count).Error; err != nil {
		t.Fatalf("count g2 members: %v", err)
	}
	if g2Count != 1 {
		t.Fatalf("g2 members touched by g1 replace: got %d, want 1", g2Count)
	}

	// 5) Matcher links unlinked groups only, skips denylisted names, and never
	// overwrites an existing link.
	partner := models.PartnerAccount{Name: "Acme", CrmId: "crm-1", Status: models.PartnerStatusActive}
	if err := db.Create(&partner).Error; err != nil {
		t.Fatalf("create partner: %v", err)
	}
	groups := []models.LmsGroup{
		{ID: "grp-acme", Name: "ptr_Acme Inc", SyncedAt: now},
		{ID: "grp-admin", Name: "Admin Team", SyncedAt: now},
	}
	if err := db.Create(&groups).Error; err != nil {
		t.Fatalf("create groups: %v", err)
	}

	dry, err := AutoMatchGroups(ctx, db, logger, AutoMatchOptions{DryRun: true})
	if err != nil {
		t.Fatalf("AutoMatchGroups dry run: %v", err)
	}
	if dry.Linked != 0 || len(dry.Candidates) != 1 || dry.Skipped != 1 {
		t.Fatalf("dry run result: got %+v", dry)
	}

	applied, err := AutoMatchGroups(ctx, db, logger, AutoMatchOptions{})
	if err != nil {
		t.Fatalf("AutoMatchGroups apply: %v", err)
	}
	if applied.Linked != 1 {
		t.Fatalf("apply result: got %+v, want linked=1", applied)
	}

	linkedGroup, err := models.GetGroupByID(ctx, db, "grp-acme")
	if err != nil {
		t.Fatalf("GetGroupByID: %v", err)
	}
	if linkedGroup.PartnerId == nil || *linkedGroup.PartnerId != partner.ID {
		t.Fatalf("group link: got %v, want partner %d", linkedGroup.PartnerId, partner.ID)
	}

	// Already-linked groups drop out of the scan; a direct re-link reports
	// false instead of overwriting.
	rerun, err := AutoMatchGroups(ctx, db, logger, AutoMatchOptions{})
	if err != nil {
		t.Fatalf("AutoMatchGroups rerun: %v", err)
	}
	if rerun.Scanned != 1 || rerun.Linked != 0 {
		t.Fatalf("rerun result: got %+v, want scanned=1 linked=0", rerun)
	}
	other := models.PartnerAccount{Name: "Other Partner", CrmId: "crm-2", Status: models.PartnerStatusActive}
	if err := db.Create(&other).Error; err != nil {
		t.Fatalf("create second partner: %v", err)
	}
	changed, err := models.LinkGroupToPartner(ctx, db, "grp-acme", other.ID)
	if err != nil {
		t.Fatalf("LinkGroupToPartner: %v", err)
	}
	if changed {
		t.Fatal("existing link was overwritten")
	}

	// 6) An engine run against an empty source lands in the terminal completed
	// state: zero counts, a completion timestamp, and the run details blob.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(pageBody(0, ""))
	}))
	defer srv.Close()

	emptyRow, err := models.StartSyncLog(ctx, db, models.SyncEntityGroups, models.SyncModeIncremental)
	if err != nil {
		t.Fatalf("StartSyncLog groups: %v", err)
	}
	runEntitySync(ctx, db, logger, testClient(srv), emptyRow, SyncRequest{
		EntityType: models.SyncEntityGroups,
		Mode:       models.SyncModeIncremental,
	})

	finished, err := models.GetSyncLogByID(ctx, db, emptyRow.ID)
	if err != nil {
		t.Fatalf("GetSyncLogByID: %v", err)
	}
	if finished.Status != models.SyncStatusCompleted {
		t.Fatalf("empty run status: got %q, want completed", finished.Status)
	}
	if finished.RecordsProcessed != 0 || finished.RecordsFailed != 0 {
		t.Fatalf("empty run counts: got processed=%d failed=%d, want zeros",
			finished.RecordsProcessed, finished.RecordsFailed)
	}
	if finished.CompletedAt == nil {
		t.Fatal("empty run has no completion timestamp")
	}
	if len(finished.DetailsJSON) == 0 {
		t.Fatal("empty run has no details blob")
	}
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("partnerhub-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("partnerhub-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=partnerhub_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
