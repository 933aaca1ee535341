package workflow

import (
	"errors"
	"testing"
	"time"

	"bitbucket.org/vaxsync/inventory_backend/models"
)

var (
	march    = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	february = time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
)

// seedMarch gives TestVax 100 doses received before March, 50 received in
// March, a session using 4 vials (1 wasted) and a 30-dose approved request,
// with 40 doses live on the vaccine.
func seedMarch(f *ledgerFixture) *models.InventoryBatch {
	f.addBatch(testBarangay, time.Date(2024, 2, 10, 9, 0, 0, 0, time.UTC), 20, 0, "LOT-FEB")
	marBatch := f.addBatch(testBarangay, time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC), 10, 0, "LOT-MAR")
	f.store.AddSession(models.VaccinationSession{
		BarangayId:       testBarangay,
		DoseDefinitionId: f.doseDef.ID,
		InventoryBatchId: intPtr(marBatch.ID),
		SessionDate:      time.Date(2024, 3, 12, 0, 0, 0, 0, time.UTC),
		Target:           10,
		Administered:     4,
		Wastage:          1,
		Status:           models.SessionStatusCompleted,
	})
	f.store.AddRequest(models.VaccineRequest{
		VaccineId:        f.vaccine.ID,
		DoseDefinitionId: f.doseDef.ID,
		BarangayId:       testBarangay,
		QuantityDose:     30,
		Status:           models.VaccineRequestStatusApproved,
		ApprovedAt:       timePtr(time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)),
		CreatedAt:        time.Date(2024, 3, 14, 0, 0, 0, 0, time.UTC),
	})
	f.setAggregate(40, 40)
	return marBatch
}

func TestStockLevelPercentage(t *testing.T) {
	cases := []struct {
		ending, max int
		want        int64
	}{
		{0, 100, 0},
		{50, 100, 50},
		{99, 200, 50},
		{1, 3, 33},
		{2, 3, 67},
		{150, 100, 150},
		{10, 0, 0},
	}
	for _, c := range cases {
		if got := StockLevelPercentage(c.ending, c.max); got != c.want {
			t.Fatalf("StockLevelPercentage(%d, %d) = %d, want %d", c.ending, c.max, got, c.want)
		}
	}
}

func TestComputeMonthlyReport_Figures(t *testing.T) {
	f := newLedgerFixture(t)
	seedMarch(f)

	res, err := f.ledger.ComputeMonthlyReport(f.ctx, time.Date(2024, 3, 18, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("ComputeMonthlyReport: %v", err)
	}
	if len(res.Reports) != 1 {
		t.Fatalf("expected one report, got %d", len(res.Reports))
	}
	r := res.Reports[0]
	if !r.Month.Equal(march) {
		t.Fatalf("expected month %v, got %v", march, r.Month)
	}
	if r.QuantityUsed != 20 || r.QuantityWastage != 5 {
		t.Fatalf("expected used 20 wastage 5, got %d/%d", r.QuantityUsed, r.QuantityWastage)
	}
	if r.QuantitySupplied != 120 {
		t.Fatalf("expected supplied 50 + 30 + 40 = 120, got %d", r.QuantitySupplied)
	}
	if r.InitialInventory != 100 {
		t.Fatalf("expected initial 100 from earlier receipts, got %d", r.InitialInventory)
	}
	if r.EndingInventory != 100 {
		t.Fatalf("expected ending 100, got %d", r.EndingInventory)
	}
	if r.MaxAllocation != 200 || r.VialsNeeded != 10 {
		t.Fatalf("unexpected reference figures: %+v", r)
	}
	if r.StockLevelPercentage != 50 || r.Status != models.StockLevelGood {
		t.Fatalf("expected 50%% GOOD, got %d%% %s", r.StockLevelPercentage, r.Status)
	}
}

func TestComputeMonthlyReport_IsIdempotent(t *testing.T) {
	f := newLedgerFixture(t)
	seedMarch(f)

	first, err := f.ledger.ComputeMonthlyReport(f.ctx, march)
	if err != nil {
		t.Fatalf("first ComputeMonthlyReport: %v", err)
	}
	second, err := f.ledger.ComputeMonthlyReport(f.ctx, march)
	if err != nil {
		t.Fatalf("second ComputeMonthlyReport: %v", err)
	}
	if f.store.ReportCount() != 1 {
		t.Fatalf("expected one stored row, got %d", f.store.ReportCount())
	}
	a, b := *first.Reports[0], *second.Reports[0]
	a.ID, b.ID = 0, 0
	if a != b {
		t.Fatalf("recompute changed the report:\n%+v\n%+v", a, b)
	}

	stored, err := f.ledger.MonthlyReports(f.ctx, march)
	if err != nil || len(stored) != 1 || stored[0].EndingInventory != 100 {
		t.Fatalf("expected stored report, got %+v err=%v", stored, err)
	}
}

func TestComputeMonthlyReport_MonthBoundaries(t *testing.T) {
	f := newLedgerFixture(t)
	f.store.AddSession(models.VaccinationSession{
		BarangayId:       testBarangay,
		DoseDefinitionId: f.doseDef.ID,
		SessionDate:      time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC),
		Administered:     3,
		Status:           models.SessionStatusCompleted,
	})
	f.store.AddSession(models.VaccinationSession{
		BarangayId:       testBarangay,
		DoseDefinitionId: f.doseDef.ID,
		SessionDate:      march,
		Administered:     2,
		Status:           models.SessionStatusCompleted,
	})

	res, err := f.ledger.ComputeMonthlyReport(f.ctx, march)
	if err != nil {
		t.Fatalf("ComputeMonthlyReport: %v", err)
	}
	if len(res.Reports) != 1 || res.Reports[0].QuantityUsed != 10 {
		t.Fatalf("expected only the March 1 session (10 doses), got %+v", res.Reports)
	}
	if res.Reports[0].EndingInventory != 0 || res.Reports[0].Status != models.StockLevelStockout {
		t.Fatalf("usage without supply should clamp to 0 STOCKOUT, got %+v", res.Reports[0])
	}
}

func TestComputeMonthlyReport_MergesDuplicateVaccineNames(t *testing.T) {
	f := newLedgerFixture(t)
	seedMarch(f)
	dup := f.store.AddVaccine(models.Vaccine{Name: " TESTVAX ", CreatedAt: day(2)})
	dupDef := f.store.AddDoseDefinition(models.VaccineDoseDefinition{VaccineId: dup.ID, DoseCode: "TVX", CreatedAt: day(2)})
	f.store.AddInventoryBatch(models.InventoryBatch{
		BarangayId:       testBarangay,
		DoseDefinitionId: dupDef.ID,
		QuantityVial:     4,
		QuantityDose:     20,
		ReceivedDate:     time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC),
	})

	res, err := f.ledger.ComputeMonthlyReport(f.ctx, march)
	if err != nil {
		t.Fatalf("ComputeMonthlyReport: %v", err)
	}
	if len(res.Reports) != 1 || f.store.ReportCount() != 1 {
		t.Fatalf("duplicate names should merge into one report, got %d", len(res.Reports))
	}
	r := res.Reports[0]
	if r.VaccineId != f.vaccine.ID || r.VaccineName != "TestVax" {
		t.Fatalf("expected canonical lowest id, got %d %q", r.VaccineId, r.VaccineName)
	}
	if r.QuantitySupplied != 140 || r.EndingInventory != 120 || r.StockLevelPercentage != 60 {
		t.Fatalf("expected merged 140 in / 120 ending / 60%%, got %+v", r)
	}
}

func TestComputeMonthlyReport_SkipsBrokenLinkage(t *testing.T) {
	f := newLedgerFixture(t)
	seedMarch(f)
	orphan := f.store.AddSession(models.VaccinationSession{
		BarangayId:       testBarangay,
		DoseDefinitionId: f.doseDef.ID,
		InventoryBatchId: intPtr(9999),
		SessionDate:      time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC),
		Administered:     7,
		Status:           models.SessionStatusCompleted,
	})
	f.store.AddSession(models.VaccinationSession{
		BarangayId:       testBarangay,
		DoseDefinitionId: 8888,
		SessionDate:      time.Date(2024, 3, 21, 0, 0, 0, 0, time.UTC),
		Administered:     7,
		Status:           models.SessionStatusCompleted,
	})

	res, err := f.ledger.ComputeMonthlyReport(f.ctx, march)
	if err != nil {
		t.Fatalf("ComputeMonthlyReport: %v", err)
	}
	if len(res.Skipped) != 2 || res.Skipped[0].Id != orphan.ID || res.Skipped[0].Source != "session" {
		t.Fatalf("expected two skipped sessions, got %+v", res.Skipped)
	}
	if res.Reports[0].QuantityUsed != 20 {
		t.Fatalf("skipped sessions must not count, got %d", res.Reports[0].QuantityUsed)
	}
}

func TestComputeMonthlyReport_PendingRequestOnlyMarksActivity(t *testing.T) {
	f := newLedgerFixture(t)
	f.setAggregate(40, 40)
	f.store.AddRequest(models.VaccineRequest{
		VaccineId:        f.vaccine.ID,
		DoseDefinitionId: f.doseDef.ID,
		BarangayId:       testBarangay,
		QuantityDose:     30,
		CreatedAt:        time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC),
	})

	res, err := f.ledger.ComputeMonthlyReport(f.ctx, march)
	if err != nil {
		t.Fatalf("ComputeMonthlyReport: %v", err)
	}
	if len(res.Reports) != 1 || res.Reports[0].QuantitySupplied != 0 {
		t.Fatalf("pending request should yield a zero-supply report, got %+v", res.Reports)
	}
}

func TestComputeMonthlyReport_InitialFromPreviousMonth(t *testing.T) {
	cache := NewReportCache(nil, 0)
	f := newLedgerFixture(t, WithReportCache(cache))
	seedMarch(f)
	cache.Put(february, []*models.MonthlyReport{{VaccineId: f.vaccine.ID, EndingInventory: 150}})

	res, err := f.ledger.ComputeMonthlyReport(f.ctx, march)
	if err != nil {
		t.Fatalf("ComputeMonthlyReport: %v", err)
	}
	if got := res.Reports[0].InitialInventory; got != 150 {
		t.Fatalf("expected initial 150 from previous ending, got %d", got)
	}
	if v, ok := cache.EndingInventory(march, f.vaccine.ID); !ok || v != 100 {
		t.Fatalf("expected March ending cached as 100, got %d %v", v, ok)
	}
}

func TestComputeMonthlyReport_PreviousMonthFromStore(t *testing.T) {
	f := newLedgerFixture(t)
	seedMarch(f)
	if err := f.store.UpsertMonthlyReport(f.ctx, &models.MonthlyReport{VaccineId: f.vaccine.ID, VaccineName: "TestVax", Month: february, EndingInventory: 60}); err != nil {
		t.Fatalf("seed February: %v", err)
	}

	res, err := f.ledger.ComputeMonthlyReport(f.ctx, march)
	if err != nil {
		t.Fatalf("ComputeMonthlyReport: %v", err)
	}
	if got := res.Reports[0].InitialInventory; got != 100 {
		t.Fatalf("expected max(60, 100 receipts) = 100, got %d", got)
	}
}

func TestComputeMonthlyReport_UpsertFallsBackToReplace(t *testing.T) {
	f := newLedgerFixture(t)
	seedMarch(f)
	f.store.FailOn("UpsertMonthlyReport", 0, errors.New("deadlock found"))

	res, err := f.ledger.ComputeMonthlyReport(f.ctx, march)
	if err != nil {
		t.Fatalf("ComputeMonthlyReport: %v", err)
	}
	if res.Fallbacks != 1 {
		t.Fatalf("expected one fallback, got %d", res.Fallbacks)
	}
	stored, err := f.store.GetMonthlyReport(f.ctx, f.vaccine.ID, march)
	if err != nil || stored.EndingInventory != 100 {
		t.Fatalf("expected replaced row, got %+v err=%v", stored, err)
	}
}

func TestComputeMonthlyReport_PersistFailureIsReported(t *testing.T) {
	f := newLedgerFixture(t)
	seedMarch(f)
	f.store.FailOn("UpsertMonthlyReport", 0, errors.New("read only"))
	f.store.FailOn("ReplaceMonthlyReport", 0, errors.New("read only"))

	res, err := f.ledger.ComputeMonthlyReport(f.ctx, march)
	if models.ErrorKindOf(err) != models.ErrorKindStorage {
		t.Fatalf("expected storage error, got %v", err)
	}
	if len(res.Reports) != 1 || len(res.Failed) != 1 || res.Failed[0] != f.vaccine.ID {
		t.Fatalf("expected computed report with one failed id, got %+v", res)
	}
}

func TestComputeMonthlyReport_ListFailureAborts(t *testing.T) {
	f := newLedgerFixture(t)
	seedMarch(f)
	f.store.FailOn("ListSessionsBetween", 0, errors.New("gone away"))

	if _, err := f.ledger.ComputeMonthlyReport(f.ctx, march); models.ErrorKindOf(err) != models.ErrorKindStorage {
		t.Fatalf("expected storage error, got %v", err)
	}
	if f.store.ReportCount() != 0 {
		t.Fatalf("nothing should be written on abort")
	}
}
