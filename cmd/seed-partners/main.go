// seed-partners imports partner accounts from a CSV export of the CRM
// (columns: crm_id,name,status). Existing rows are matched by crm_id and
// updated in place.
//
// Usage:
//   DB_USER=... DB_PASSWORD=... DB_HOST=... DB_NAME=... go run ./cmd/seed-partners -file partners.csv
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/novalearn/partnerhub_backend/config"
	"github.com/novalearn/partnerhub_backend/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func main() {
	file := flag.String("file", "", "CSV file with crm_id,name,status rows")
	flag.Parse()
	if *file == "" {
		fmt.Fprintln(os.Stderr, "usage: seed-partners -file partners.csv")
		os.Exit(2)
	}

	f, err := os.Open(*file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open %s: %v\n", *file, err)
		os.Exit(1)
	}
	defer f.Close()

	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}
	models.MigrateTable()

	reader := csv.NewReader(f)
	imported, skipped := 0, 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "csv read failed: %v\n", err)
			os.Exit(1)
		}
		if len(record) < 2 {
			skipped++
			continue
		}
		crmId := strings.TrimSpace(record[0])
		name := strings.TrimSpace(record[1])
		if crmId == "" || name == "" || strings.EqualFold(crmId, "crm_id") {
			skipped++
			continue
		}
		status := models.PartnerStatusActive
		if len(record) > 2 && strings.TrimSpace(record[2]) != "" {
			status = strings.ToLower(strings.TrimSpace(record[2]))
		}

		if err := upsertPartner(ctx, db, crmId, name, status); err != nil {
			fmt.Fprintf(os.Stderr, "failed to import partner %q: %v\n", name, err)
			os.Exit(1)
		}
		imported++
	}
	fmt.Printf("imported %d partner accounts (%d rows skipped)\n", imported, skipped)
}

func upsertPartner(ctx context.Context, db *gorm.DB, crmId, name, status string) error {
	row := models.PartnerAccount{CrmId: crmId, Name: name, Status: status}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "crm_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "status", "updated_at"}),
		}).
		Create(&row).Error
}
