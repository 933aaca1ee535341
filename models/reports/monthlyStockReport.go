package reports

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"bitbucket.org/vaxsync/inventory_backend/models"
)

const monthlyStockSheet = "Monthly Stock"

var monthlyStockHeadings = []string{
	"Vaccine", "Month", "Initial Inventory", "IN", "OUT", "Wastage",
	"Ending Inventory", "Vials Needed", "Max Allocation", "Stock Level %", "Status",
}

func monthlyStockCellValues(r *models.MonthlyReport) []interface{} {
	return []interface{}{
		r.VaccineName,
		r.Month.Format("2006-01"),
		r.InitialInventory,
		r.QuantitySupplied,
		r.QuantityUsed,
		r.QuantityWastage,
		r.EndingInventory,
		r.VialsNeeded,
		r.MaxAllocation,
		r.StockLevelPercentage,
		string(r.Status),
	}
}

// BuildMonthlyStockWorkbook lays out one row per report under a heading row.
func BuildMonthlyStockWorkbook(data []*models.MonthlyReport) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", monthlyStockSheet); err != nil {
		return nil, err
	}

	for i, h := range monthlyStockHeadings {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue(monthlyStockSheet, cell, h); err != nil {
			return nil, err
		}
	}

	rowNo := 2
	for _, d := range data {
		for i, value := range monthlyStockCellValues(d) {
			cell, err := excelize.CoordinatesToCellName(i+1, rowNo)
			if err != nil {
				return nil, err
			}
			if err := f.SetCellValue(monthlyStockSheet, cell, value); err != nil {
				return nil, err
			}
		}
		rowNo++
	}
	return f, nil
}

// WriteMonthlyStockReport streams the workbook to w.
func WriteMonthlyStockReport(w io.Writer, data []*models.MonthlyReport) error {
	f, err := BuildMonthlyStockWorkbook(data)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := f.Write(w); err != nil {
		return fmt.Errorf("write monthly stock workbook: %w", err)
	}
	return nil
}

func MonthlyStockReportFilename(data []*models.MonthlyReport) string {
	if len(data) == 0 {
		return "monthly-stock.xlsx"
	}
	return fmt.Sprintf("monthly-stock-%s.xlsx", data[0].Month.Format("2006-01"))
}
