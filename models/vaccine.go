package models

import (
	"time"
)

// Vaccine is the cross-barangay aggregate; QuantityAvailable is in doses.
type Vaccine struct {
	ID                int       `gorm:"primary_key" json:"id"`
	Name              string    `gorm:"index;size:100;not null" json:"name"`
	QuantityAvailable int       `gorm:"not null;default:0" json:"quantity_available"`
	CreatedAt         time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type VaccineDoseDefinition struct {
	ID         int    `gorm:"primary_key" json:"id"`
	VaccineId  int    `gorm:"index;not null" json:"vaccine_id"`
	DoseCode   string `gorm:"size:20;not null" json:"dose_code"`
	DoseLabel  string `gorm:"size:100" json:"dose_label"`
	DoseNumber int    `gorm:"not null;default:1" json:"dose_number"`
	// 0 means use the vial mapping table
	DosesPerVial      int       `gorm:"not null;default:0" json:"doses_per_vial"`
	QuantityAvailable int       `gorm:"not null;default:0" json:"quantity_available"`
	CreatedAt         time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// ResolveDosesPerVial prefers the stored figure and falls back to the mapping table.
func (d *VaccineDoseDefinition) ResolveDosesPerVial(vaccine *Vaccine, tables ReferenceTables) int {
	if d != nil && d.DosesPerVial > 0 {
		return d.DosesPerVial
	}
	if vaccine == nil {
		return 1
	}
	return tables.DosesPerVial(vaccine.Name)
}
