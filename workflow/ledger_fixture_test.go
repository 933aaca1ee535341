package workflow

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"bitbucket.org/vaxsync/inventory_backend/models"
)

const (
	testBarangay      = 7
	otherTestBarangay = 8
)

var baseDay = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

func day(n int) time.Time {
	return baseDay.AddDate(0, 0, n-1)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []*LedgerEvent
}

func (p *recordingPublisher) Publish(_ context.Context, event *LedgerEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) operations() []models.LedgerOperation {
	p.mu.Lock()
	defer p.mu.Unlock()
	ops := make([]models.LedgerOperation, 0, len(p.events))
	for _, e := range p.events {
		ops = append(ops, e.Operation)
	}
	return ops
}

type ledgerFixture struct {
	t         *testing.T
	ctx       context.Context
	store     *models.MemoryStore
	ledger    *Ledger
	events    *recordingPublisher
	tables    models.ReferenceTables
	vaccine   *models.Vaccine
	doseDef   *models.VaccineDoseDefinition
	clockTime time.Time
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testTables() models.ReferenceTables {
	tables := models.DefaultReferenceTables()
	tables.VialMapping["testvax"] = 5
	tables.NIPVialsNeeded["testvax"] = 10
	tables.NIPMaxAllocation["testvax"] = 200
	return tables
}

// newLedgerFixture seeds one vaccine "TestVax" at 5 doses per vial with one dose definition.
func newLedgerFixture(t *testing.T, opts ...LedgerOption) *ledgerFixture {
	t.Helper()
	f := &ledgerFixture{
		t:         t,
		ctx:       context.Background(),
		store:     models.NewMemoryStore(),
		events:    &recordingPublisher{},
		tables:    testTables(),
		clockTime: day(20),
	}
	f.vaccine = f.store.AddVaccine(models.Vaccine{Name: "TestVax", CreatedAt: day(1)})
	f.doseDef = f.store.AddDoseDefinition(models.VaccineDoseDefinition{
		VaccineId:  f.vaccine.ID,
		DoseCode:   "TV1",
		DoseLabel:  "TestVax dose 1",
		DoseNumber: 1,
		CreatedAt:  day(1),
	})
	all := append([]LedgerOption{
		WithEventPublisher(f.events),
		WithClock(func() time.Time { return f.clockTime }),
	}, opts...)
	f.ledger = NewLedger(f.store, f.tables, quietLogger(), all...)
	return f
}

func (f *ledgerFixture) addBatch(barangayId int, received time.Time, vials int, reserved int, batchNumber string) *models.InventoryBatch {
	return f.store.AddInventoryBatch(models.InventoryBatch{
		BarangayId:       barangayId,
		DoseDefinitionId: f.doseDef.ID,
		QuantityVial:     vials,
		QuantityDose:     vials * 5,
		ReservedVial:     reserved,
		BatchNumber:      batchNumber,
		ReceivedDate:     received,
		CreatedAt:        received,
	})
}

func (f *ledgerFixture) batch(id int) *models.InventoryBatch {
	f.t.Helper()
	b, err := f.store.GetInventoryBatch(f.ctx, id)
	if err != nil {
		f.t.Fatalf("GetInventoryBatch(%d): %v", id, err)
	}
	return b
}

func (f *ledgerFixture) vaccineQuantity(id int) int {
	f.t.Helper()
	v, err := f.store.GetVaccine(f.ctx, id)
	if err != nil {
		f.t.Fatalf("GetVaccine(%d): %v", id, err)
	}
	return v.QuantityAvailable
}

func (f *ledgerFixture) doseDefQuantity(id int) int {
	f.t.Helper()
	d, err := f.store.GetDoseDefinition(f.ctx, id)
	if err != nil {
		f.t.Fatalf("GetDoseDefinition(%d): %v", id, err)
	}
	return d.QuantityAvailable
}

func (f *ledgerFixture) setAggregate(vaccineDoses int, doseDefDoses int) {
	f.t.Helper()
	if err := f.store.UpdateVaccineQuantity(f.ctx, f.vaccine.ID, vaccineDoses); err != nil {
		f.t.Fatalf("UpdateVaccineQuantity: %v", err)
	}
	if err := f.store.UpdateDoseDefinitionQuantity(f.ctx, f.doseDef.ID, doseDefDoses); err != nil {
		f.t.Fatalf("UpdateDoseDefinitionQuantity: %v", err)
	}
}

func totals(f *ledgerFixture, ids ...int) (vials int, doses int) {
	for _, id := range ids {
		b := f.batch(id)
		vials += b.QuantityVial
		doses += b.QuantityDose
	}
	return vials, doses
}

func intPtr(v int) *int {
	return &v
}

func timePtr(t time.Time) *time.Time {
	return &t
}
