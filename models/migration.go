package models

import (
	"log"

	"github.com/novalearn/partnerhub_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&User{},
		&PartnerAccount{},
		&LmsUser{}, &LmsGroup{}, &LmsGroupMembership{},
		&LmsCourse{}, &LmsCourseProperty{},
		&LmsEnrollment{},
		&SyncLog{}, &SyncErrorRecord{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
