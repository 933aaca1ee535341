package models

import (
	"sort"
	"time"

	"gorm.io/gorm"
)

type InventoryBatch struct {
	ID               int        `gorm:"primary_key" json:"id"`
	BarangayId       int        `gorm:"index:idx_batch_barangay_dose;not null" json:"barangay_id"`
	DoseDefinitionId int        `gorm:"index:idx_batch_barangay_dose;not null" json:"dose_definition_id"`
	QuantityVial     int        `gorm:"not null;default:0" json:"quantity_vial"`
	QuantityDose     int        `gorm:"not null;default:0" json:"quantity_dose"`
	ReservedVial     int        `gorm:"not null;default:0" json:"reserved_vial"`
	BatchNumber      string     `gorm:"size:100" json:"batch_number"`
	ExpiryDate       *time.Time `json:"expiry_date"`
	ReceivedDate     time.Time  `gorm:"index;not null" json:"received_date"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// AvailableVial is on-hand minus reserved, never negative.
func (b *InventoryBatch) AvailableVial() int {
	if b.ReservedVial >= b.QuantityVial {
		return 0
	}
	return b.QuantityVial - b.ReservedVial
}

// BeforeSave enforces the batch invariants:
// - quantity_vial, quantity_dose and reserved_vial are never negative
// - reserved_vial never exceeds quantity_vial
func (b *InventoryBatch) BeforeSave(tx *gorm.DB) error {
	_ = tx // signature required by gorm; tx may be nil in tests
	if b == nil {
		return nil
	}
	if b.QuantityVial < 0 {
		b.QuantityVial = 0
	}
	if b.QuantityDose < 0 {
		b.QuantityDose = 0
	}
	if b.ReservedVial < 0 {
		b.ReservedVial = 0
	}
	if b.ReservedVial > b.QuantityVial {
		b.ReservedVial = b.QuantityVial
	}
	return nil
}

// SortBatchesFIFO orders by received_date, then created_at, then id.
func SortBatchesFIFO(batches []*InventoryBatch) {
	sort.SliceStable(batches, func(i, j int) bool {
		a, b := batches[i], batches[j]
		if !a.ReceivedDate.Equal(b.ReceivedDate) {
			return a.ReceivedDate.Before(b.ReceivedDate)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// BatchChange is one touched batch with its before/after figures.
type BatchChange struct {
	BatchId            int    `json:"batch_id"`
	BatchNumber        string `json:"batch_number"`
	QuantityVialBefore int    `json:"quantity_vial_before"`
	QuantityVialAfter  int    `json:"quantity_vial_after"`
	QuantityDoseBefore int    `json:"quantity_dose_before"`
	QuantityDoseAfter  int    `json:"quantity_dose_after"`
	ReservedVialBefore int    `json:"reserved_vial_before"`
	ReservedVialAfter  int    `json:"reserved_vial_after"`
}

// DoseDefinitionChange is one touched aggregate child.
type DoseDefinitionChange struct {
	DoseDefinitionId int `json:"dose_definition_id"`
	QuantityBefore   int `json:"quantity_before"`
	QuantityAfter    int `json:"quantity_after"`
}
