package models

import (
	"time"
)

// VaccineRequest moves stock to BarangayId, either from another barangay
// or, when SourceBarangayId is nil, from the municipal main stock.
type VaccineRequest struct {
	ID               int                  `gorm:"primary_key" json:"id"`
	VaccineId        int                  `gorm:"index;not null" json:"vaccine_id"`
	DoseDefinitionId int                  `gorm:"index;not null" json:"dose_definition_id"`
	BarangayId       int                  `gorm:"index;not null" json:"barangay_id"`
	SourceBarangayId *int                 `gorm:"index" json:"source_barangay_id"`
	QuantityDose     int                  `gorm:"not null;default:0" json:"quantity_dose"`
	QuantityVial     int                  `gorm:"not null;default:0" json:"quantity_vial"`
	Status           VaccineRequestStatus `gorm:"type:enum('Pending','Approved','Rejected','Released');default:Pending;index" json:"status"`
	ApprovedAt       *time.Time           `gorm:"index" json:"approved_at"`
	CreatedAt        time.Time            `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt        time.Time            `gorm:"autoUpdateTime" json:"updated_at"`
}
