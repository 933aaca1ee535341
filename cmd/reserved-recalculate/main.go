package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"bitbucket.org/vaxsync/inventory_backend/config"
	"bitbucket.org/vaxsync/inventory_backend/models"
	"bitbucket.org/vaxsync/inventory_backend/utils"
	"bitbucket.org/vaxsync/inventory_backend/workflow"
)

type batchPair struct {
	BarangayId       int
	DoseDefinitionId int
}

func main() {
	barangayID := flag.Int("barangay-id", 0, "Optional: only this barangay.")
	doseDefinitionID := flag.Int("dose-definition-id", 0, "Optional: only this dose definition.")
	flag.Parse()

	ctx := utils.SetCorrelationIdInContext(context.Background(), utils.NewCorrelationId())
	ctx = utils.SetUserNameInContext(ctx, "ReservedRecalculate")

	logger := config.GetLogger()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil)")
		os.Exit(1)
	}

	ledger, err := workflow.NewLedgerFromEnv(models.NewGormStore(db), logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build ledger: %v\n", err)
		os.Exit(1)
	}

	query := db.WithContext(ctx).Model(&models.InventoryBatch{}).
		Distinct("barangay_id", "dose_definition_id")
	if *barangayID > 0 {
		query = query.Where("barangay_id = ?", *barangayID)
	}
	if *doseDefinitionID > 0 {
		query = query.Where("dose_definition_id = ?", *doseDefinitionID)
	}
	var pairs []batchPair
	if err := query.Order("barangay_id, dose_definition_id").Scan(&pairs).Error; err != nil {
		fmt.Fprintf(os.Stderr, "failed to list batch pairs: %v\n", err)
		os.Exit(1)
	}
	if len(pairs) == 0 {
		fmt.Println("no inventory batches matched")
		return
	}

	failed := 0
	for _, p := range pairs {
		result, err := ledger.RecalculateReserved(ctx, p.BarangayId, p.DoseDefinitionId)
		if err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "barangay %d dose definition %d: %v\n", p.BarangayId, p.DoseDefinitionId, err)
			continue
		}
		fmt.Printf("barangay %d dose definition %d: reserved %d, unplaced %d, batches changed %d\n",
			p.BarangayId, p.DoseDefinitionId, result.Requested-result.Remaining, result.Remaining, len(result.Batches))
	}
	if failed > 0 {
		fmt.Fprintf(os.Stderr, "%d of %d pairs failed\n", failed, len(pairs))
		os.Exit(1)
	}
}
