package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/novalearn/partnerhub_backend/acadiosync"
	"github.com/novalearn/partnerhub_backend/config"
)

// One-shot matcher run for operators: prints what would be (or was) linked.
// Dry run by default; pass -apply to actually write links.
func main() {
	apply := flag.Bool("apply", false, "write the links instead of only reporting them")
	threshold := flag.Float64("threshold", 0, "override the auto-link threshold (0 = configured default)")
	flag.Parse()

	logger := config.GetLogger()
	config.ConnectDatabaseWithRetry()

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()

	result, err := acadiosync.AutoMatchGroups(context.Background(), db, logger, acadiosync.AutoMatchOptions{
		DryRun:    !*apply,
		Threshold: *threshold,
	})
	if err != nil {
		logger.Error("auto match failed: " + err.Error())
		os.Exit(1)
	}

	mode := "dry-run"
	if *apply {
		mode = "apply"
	}
	fmt.Printf("auto match (%s): scanned=%d skipped=%d linked=%d candidates=%d\n",
		mode, result.Scanned, result.Skipped, result.Linked, len(result.Candidates))
	for _, cand := range result.Candidates {
		fmt.Printf("  group=%s %q -> partner=%d %q score=%.2f type=%s\n",
			cand.GroupId, cand.GroupName, cand.PartnerId, cand.PartnerName, cand.Score, cand.MatchType)
	}
}
