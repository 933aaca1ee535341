package models

import (
	"time"
)

// MonthlyReport is unique per (vaccine_id, month). Quantities are doses.
type MonthlyReport struct {
	ID                   int              `gorm:"primary_key" json:"id"`
	VaccineId            int              `gorm:"uniqueIndex:idx_monthly_report_vaccine_month;not null" json:"vaccine_id"`
	VaccineName          string           `gorm:"size:100" json:"vaccine_name"`
	Month                time.Time        `gorm:"type:date;uniqueIndex:idx_monthly_report_vaccine_month;not null" json:"month"`
	InitialInventory     int              `gorm:"not null;default:0" json:"initial_inventory"`
	QuantitySupplied     int              `gorm:"not null;default:0" json:"quantity_supplied"`
	QuantityUsed         int              `gorm:"not null;default:0" json:"quantity_used"`
	QuantityWastage      int              `gorm:"not null;default:0" json:"quantity_wastage"`
	EndingInventory      int              `gorm:"not null;default:0" json:"ending_inventory"`
	VialsNeeded          int              `gorm:"not null;default:0" json:"vials_needed"`
	MaxAllocation        int              `gorm:"not null;default:0" json:"max_allocation"`
	StockLevelPercentage int64            `gorm:"not null;default:0" json:"stock_level_percentage"`
	Status               StockLevelStatus `gorm:"type:enum('STOCKOUT','UNDERSTOCK','GOOD','OVERSTOCK');default:STOCKOUT" json:"status"`
	CreatedAt            time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

// MonthStart truncates t to the first day of its month in UTC.
func MonthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
