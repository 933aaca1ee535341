package models

import (
	"time"
)

type VaccinationSession struct {
	ID               int           `gorm:"primary_key" json:"id"`
	BarangayId       int           `gorm:"index;not null" json:"barangay_id"`
	DoseDefinitionId int           `gorm:"index;not null" json:"dose_definition_id"`
	InventoryBatchId *int          `gorm:"index" json:"inventory_batch_id"`
	SessionDate      time.Time     `gorm:"index;not null" json:"session_date"`
	Target           int           `gorm:"not null;default:0" json:"target"`
	Administered     int           `gorm:"not null;default:0" json:"administered"`
	Wastage          int           `gorm:"not null;default:0" json:"wastage"`
	Status           SessionStatus `gorm:"type:enum('Scheduled','In-Progress','Completed','Cancelled');default:Scheduled;index" json:"status"`
	CreatedAt        time.Time     `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time     `gorm:"autoUpdateTime" json:"updated_at"`
}

// PendingVials is what an active session still needs reserved.
func (s *VaccinationSession) PendingVials() int {
	if !s.Status.IsActive() {
		return 0
	}
	return max(0, s.Target-s.Administered)
}
