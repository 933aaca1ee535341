package models

import (
	"log"

	"bitbucket.org/vaxsync/inventory_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Vaccine{}, &VaccineDoseDefinition{},
		&InventoryBatch{},
		&VaccinationSession{}, &VaccineRequest{},
		&MonthlyReport{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
