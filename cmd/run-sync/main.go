package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/novalearn/partnerhub_backend/acadiosync"
	"github.com/novalearn/partnerhub_backend/config"
	"github.com/novalearn/partnerhub_backend/models"
)

// One-shot sync run for operators and cron fallbacks. Runs a single entity
// type, or the whole ordered pass when -entity is omitted.
func main() {
	entity := flag.String("entity", "", "entity type to sync (empty = full ordered pass)")
	mode := flag.String("mode", models.SyncModeIncremental, "sync mode: full or incremental")
	flag.Parse()

	logger := config.GetLogger()
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()

	lock := acadiosync.NewSyncLockFromEnv()
	ctx := context.Background()

	if *entity == "" {
		if err := acadiosync.RunScheduledPass(ctx, db, logger, lock, *mode); err != nil {
			logger.Error("sync pass failed: " + err.Error())
			os.Exit(1)
		}
		fmt.Println("sync pass finished; see sync logs for per-entity results")
		return
	}

	row, err := acadiosync.RunEntitySync(ctx, db, logger, lock, acadiosync.SyncRequest{
		EntityType: *entity,
		Mode:       *mode,
	})
	if err != nil {
		logger.Error("sync failed: " + err.Error())
		os.Exit(1)
	}
	fmt.Printf("sync %s (%s): status=%s processed=%d created=%d failed=%d\n",
		row.EntityType, row.Mode, row.Status, row.RecordsProcessed, row.RecordsCreated, row.RecordsFailed)
}
