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

func main() {
	vaccineID := flag.Int("vaccine-id", 0, "Optional: reconcile only this vaccine. If 0, reconciles every vaccine.")
	flag.Parse()

	ctx := utils.SetCorrelationIdInContext(context.Background(), utils.NewCorrelationId())
	ctx = utils.SetUserNameInContext(ctx, "AggregateReconcile")

	logger := config.GetLogger()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil)")
		os.Exit(1)
	}
	store := models.NewGormStore(db)
	ledger, err := workflow.NewLedgerFromEnv(store, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build ledger: %v\n", err)
		os.Exit(1)
	}

	var ids []int
	if *vaccineID > 0 {
		ids = []int{*vaccineID}
	} else {
		vaccines, err := store.ListVaccines(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to list vaccines: %v\n", err)
			os.Exit(1)
		}
		for _, v := range vaccines {
			ids = append(ids, v.ID)
		}
	}

	failed := 0
	for _, id := range ids {
		result, err := ledger.ReconcileAggregate(ctx, id)
		if err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "vaccine %d: %v\n", id, err)
			continue
		}
		if result.Vaccine != nil && result.Vaccine.QuantityBefore != result.Vaccine.QuantityAfter {
			fmt.Printf("vaccine %d: %d -> %d doses (%d dose definitions drifted)\n",
				id, result.Vaccine.QuantityBefore, result.Vaccine.QuantityAfter, len(result.DoseDefinitions))
		} else {
			fmt.Printf("vaccine %d: in sync\n", id)
		}
	}
	if failed > 0 {
		fmt.Fprintf(os.Stderr, "%d of %d vaccines failed\n", failed, len(ids))
		os.Exit(1)
	}
}
