package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"bitbucket.org/vaxsync/inventory_backend/config"
	"bitbucket.org/vaxsync/inventory_backend/models"
	"bitbucket.org/vaxsync/inventory_backend/models/reports"
	"bitbucket.org/vaxsync/inventory_backend/utils"
	"bitbucket.org/vaxsync/inventory_backend/workflow"
)

func main() {
	monthFlag := flag.String("month", "", "Month to compute (YYYY-MM). Defaults to the previous month.")
	months := flag.Int("months", 1, "Number of consecutive months to compute, ending at -month, oldest first.")
	xlsxPath := flag.String("xlsx", "", "Optional: write the last computed month to this .xlsx file.")
	flag.Parse()

	if *months < 1 {
		fmt.Fprintln(os.Stderr, "-months must be at least 1")
		os.Exit(2)
	}
	last := utils.GetPreviousMonth(time.Now().UTC())
	if strings.TrimSpace(*monthFlag) != "" {
		m, err := utils.ParseMonth(*monthFlag)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		last = m
	}

	ctx := utils.SetCorrelationIdInContext(context.Background(), utils.NewCorrelationId())
	ctx = utils.SetUserNameInContext(ctx, "MonthlyReportJob")

	logger := config.GetLogger()
	config.ConnectDatabaseWithRetry()
	if config.RedisEnabled() {
		config.ConnectRedisWithRetry()
	}
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil)")
		os.Exit(1)
	}
	models.MigrateTable()

	ledger, err := workflow.NewLedgerFromEnv(models.NewGormStore(db), logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build ledger: %v\n", err)
		os.Exit(1)
	}

	failed := false
	var lastResult *workflow.MonthlyReportResult
	// oldest first so each month's initial inventory sees the previous ending
	for i := *months - 1; i >= 0; i-- {
		month := last.AddDate(0, -i, 0)
		result, err := ledger.ComputeMonthlyReport(ctx, month)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", month.Format("2006-01"), err)
			failed = true
			if result == nil || len(result.Reports) == 0 {
				continue
			}
		}
		lastResult = result
		fmt.Printf("%s: %d reports, %d skipped, %d fallbacks, %d failed\n",
			month.Format("2006-01"), len(result.Reports), len(result.Skipped), result.Fallbacks, len(result.Failed))
		for _, s := range result.Skipped {
			fmt.Printf("  skipped %s %d: %s\n", s.Source, s.Id, s.Reason)
		}
	}

	if *xlsxPath != "" && lastResult != nil {
		out, err := os.Create(*xlsxPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "create %s: %v\n", *xlsxPath, err)
			os.Exit(1)
		}
		if err := reports.WriteMonthlyStockReport(out, lastResult.Reports); err != nil {
			_ = out.Close()
			fmt.Fprintf(os.Stderr, "write %s: %v\n", *xlsxPath, err)
			os.Exit(1)
		}
		if err := out.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "close %s: %v\n", *xlsxPath, err)
			os.Exit(1)
		}
		fmt.Printf("wrote %s\n", *xlsxPath)
	}

	if failed {
		os.Exit(1)
	}
}
