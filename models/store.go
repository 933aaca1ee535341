package models

import (
	"context"
	"time"
)

// SessionProvider is the read/write surface over vaccination sessions.
type SessionProvider interface {
	GetSession(ctx context.Context, id int) (*VaccinationSession, error)
	// ListActiveSessions returns Scheduled and In-Progress sessions for the pair.
	ListActiveSessions(ctx context.Context, barangayId int, doseDefinitionId int) ([]*VaccinationSession, error)
	// ListSessionsBetween returns sessions with from <= session_date < to.
	ListSessionsBetween(ctx context.Context, from time.Time, to time.Time) ([]*VaccinationSession, error)
	UpdateSessionProgress(ctx context.Context, id int, administered int, wastage int, status SessionStatus) error
}

// RequestProvider is the read/write surface over vaccine requests.
type RequestProvider interface {
	GetVaccineRequest(ctx context.Context, id int) (*VaccineRequest, error)
	// ListRequestsBetween returns requests created or approved in [from, to).
	ListRequestsBetween(ctx context.Context, from time.Time, to time.Time) ([]*VaccineRequest, error)
	MarkRequestApproved(ctx context.Context, id int, approvedAt time.Time) error
}

// Store is everything the ledger reads and writes. Every call may block on
// network I/O and may fail; implementations wrap failures in StorageError
// and report missing keys as NotFoundError.
type Store interface {
	SessionProvider
	RequestProvider

	GetVaccine(ctx context.Context, id int) (*Vaccine, error)
	ListVaccines(ctx context.Context) ([]*Vaccine, error)
	UpdateVaccineQuantity(ctx context.Context, id int, quantity int) error

	GetDoseDefinition(ctx context.Context, id int) (*VaccineDoseDefinition, error)
	// ListDoseDefinitionsByVaccine orders by created_at, then id.
	ListDoseDefinitionsByVaccine(ctx context.Context, vaccineId int) ([]*VaccineDoseDefinition, error)
	UpdateDoseDefinitionQuantity(ctx context.Context, id int, quantity int) error

	GetInventoryBatch(ctx context.Context, id int) (*InventoryBatch, error)
	// ListInventoryBatches returns the pair's batches in FIFO order.
	ListInventoryBatches(ctx context.Context, barangayId int, doseDefinitionId int) ([]*InventoryBatch, error)
	ListInventoryBatchesByDoseDefinition(ctx context.Context, doseDefinitionId int) ([]*InventoryBatch, error)
	// ListInventoryBatchesReceivedBetween returns batches with from <= received_date < to.
	// A zero from means no lower bound.
	ListInventoryBatchesReceivedBetween(ctx context.Context, from time.Time, to time.Time) ([]*InventoryBatch, error)
	CreateInventoryBatch(ctx context.Context, batch *InventoryBatch) error
	// UpdateInventoryBatchQuantities writes quantity_vial, quantity_dose and reserved_vial.
	UpdateInventoryBatchQuantities(ctx context.Context, batch *InventoryBatch) error
	UpdateReservedVial(ctx context.Context, batchId int, reserved int) error
	// TryReserveVials adds vials to reserved_vial only if the result stays within
	// quantity_vial, as one conditional write. It reports whether the row changed.
	TryReserveVials(ctx context.Context, batchId int, vials int) (bool, error)

	GetMonthlyReport(ctx context.Context, vaccineId int, month time.Time) (*MonthlyReport, error)
	ListMonthlyReports(ctx context.Context, month time.Time) ([]*MonthlyReport, error)
	UpsertMonthlyReport(ctx context.Context, report *MonthlyReport) error
	// ReplaceMonthlyReport deletes the (vaccine, month) row and inserts report.
	ReplaceMonthlyReport(ctx context.Context, report *MonthlyReport) error

	// Transaction runs fn against a Store bound to one unit of work.
	Transaction(ctx context.Context, fn func(Store) error) error
}
