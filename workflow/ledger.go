package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"bitbucket.org/vaxsync/inventory_backend/models"
	"bitbucket.org/vaxsync/inventory_backend/utils"
)

// Ledger is the barangay inventory core: FIFO batches, reservations,
// the vaccine aggregate mirror and the monthly rollup.
type Ledger struct {
	store             models.Store
	tables            models.ReferenceTables
	logger            *logrus.Logger
	events            EventPublisher
	reports           *ReportCache
	strictReservation bool
	now               func() time.Time
}

type LedgerOption func(*Ledger)

func WithEventPublisher(p EventPublisher) LedgerOption {
	return func(l *Ledger) { l.events = p }
}

// WithStrictReservation makes Reserve a single conditional write.
func WithStrictReservation(strict bool) LedgerOption {
	return func(l *Ledger) { l.strictReservation = strict }
}

func WithReportCache(c *ReportCache) LedgerOption {
	return func(l *Ledger) { l.reports = c }
}

func WithClock(now func() time.Time) LedgerOption {
	return func(l *Ledger) { l.now = now }
}

func NewLedger(store models.Store, tables models.ReferenceTables, logger *logrus.Logger, opts ...LedgerOption) *Ledger {
	if logger == nil {
		logger = logrus.New()
	}
	l := &Ledger{
		store:  store,
		tables: tables,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.reports == nil {
		l.reports = NewReportCache(nil, 0)
	}
	if l.reports.logger == nil {
		l.reports.logger = logger
	}
	return l
}

// withStore returns a copy bound to a transaction store. Events are left to
// the caller so a multi-step operation publishes once.
func (l *Ledger) withStore(store models.Store) *Ledger {
	c := *l
	c.store = store
	c.events = nil
	return &c
}

func (l *Ledger) Tables() models.ReferenceTables {
	return l.tables
}

// ResultError is the failure half of a LedgerResult.
type ResultError struct {
	Kind    models.ErrorKind               `json:"kind"`
	Message string                         `json:"message"`
	Stock   *models.InsufficientStockError `json:"stock,omitempty"`
}

type VaccineChange struct {
	VaccineId      int `json:"vaccine_id"`
	QuantityBefore int `json:"quantity_before"`
	QuantityAfter  int `json:"quantity_after"`
}

// LedgerResult is returned by every ledger operation, failed or not, and
// lists the records already touched.
type LedgerResult struct {
	Success          bool                          `json:"success"`
	Operation        models.LedgerOperation        `json:"operation"`
	Error            *ResultError                  `json:"error,omitempty"`
	BarangayId       int                           `json:"barangay_id,omitempty"`
	DoseDefinitionId int                           `json:"dose_definition_id,omitempty"`
	VaccineId        int                           `json:"vaccine_id,omitempty"`
	Requested        int                           `json:"requested"`
	Remaining        int                           `json:"remaining"`
	NoOp             bool                          `json:"no_op,omitempty"`
	Batches          []models.BatchChange          `json:"batches,omitempty"`
	DoseDefinitions  []models.DoseDefinitionChange `json:"dose_definitions,omitempty"`
	Vaccine          *VaccineChange                `json:"vaccine,omitempty"`
	Steps            []string                      `json:"steps,omitempty"`
}

// Shortage is the part of the request that could not be satisfied.
func (r *LedgerResult) Shortage() int {
	if r == nil {
		return 0
	}
	return r.Remaining
}

// fail records err on the result and returns both for a one-line return.
func (r *LedgerResult) fail(err error) (*LedgerResult, error) {
	r.Success = false
	r.Error = &ResultError{
		Kind:    models.ErrorKindOf(err),
		Message: err.Error(),
	}
	var ise *models.InsufficientStockError
	if errors.As(err, &ise) {
		r.Error.Stock = ise
	}
	return r, err
}

func (r *LedgerResult) ok() (*LedgerResult, error) {
	r.Success = true
	r.Error = nil
	return r, nil
}

func (r *LedgerResult) step(name string) {
	r.Steps = append(r.Steps, name)
}

func (l *Ledger) entry(ctx context.Context, op models.LedgerOperation) *logrus.Entry {
	fields := logrus.Fields{"operation": op}
	if cid, ok := utils.GetCorrelationIdFromContext(ctx); ok {
		fields["correlation_id"] = cid
	}
	return l.logger.WithFields(fields)
}

func requirePositive(field string, v int) error {
	if v <= 0 {
		return models.NewValidationError(field, "must be a positive integer")
	}
	return nil
}

// dosesPerVial resolves the conversion for a dose definition; a missing
// vaccine falls back to the stored figure or 1.
func (l *Ledger) dosesPerVial(ctx context.Context, def *models.VaccineDoseDefinition) (int, error) {
	if def.DosesPerVial > 0 {
		return def.DosesPerVial, nil
	}
	vaccine, err := l.store.GetVaccine(ctx, def.VaccineId)
	if err != nil {
		if models.IsNotFound(err) {
			return def.ResolveDosesPerVial(nil, l.tables), nil
		}
		return 0, err
	}
	return def.ResolveDosesPerVial(vaccine, l.tables), nil
}

func batchChange(b *models.InventoryBatch) models.BatchChange {
	return models.BatchChange{
		BatchId:            b.ID,
		BatchNumber:        b.BatchNumber,
		QuantityVialBefore: b.QuantityVial,
		QuantityVialAfter:  b.QuantityVial,
		QuantityDoseBefore: b.QuantityDose,
		QuantityDoseAfter:  b.QuantityDose,
		ReservedVialBefore: b.ReservedVial,
		ReservedVialAfter:  b.ReservedVial,
	}
}

func recordAfter(c *models.BatchChange, b *models.InventoryBatch) {
	c.QuantityVialAfter = b.QuantityVial
	c.QuantityDoseAfter = b.QuantityDose
	c.ReservedVialAfter = b.ReservedVial
}
