package workflow

import (
	"errors"
	"testing"

	"bitbucket.org/vaxsync/inventory_backend/models"
)

func TestDeduct_FIFOOrder(t *testing.T) {
	f := newLedgerFixture(t)
	b3 := f.addBatch(testBarangay, day(3), 5, 0, "LOT-3")
	b1 := f.addBatch(testBarangay, day(1), 5, 0, "LOT-1")
	b2 := f.addBatch(testBarangay, day(2), 5, 0, "LOT-2")

	res, err := f.ledger.Deduct(f.ctx, testBarangay, f.doseDef.ID, 8)
	if err != nil {
		t.Fatalf("Deduct: %v", err)
	}
	if !res.Success || res.Shortage() != 0 {
		t.Fatalf("expected full success, got %+v", res)
	}
	if got := f.batch(b1.ID).QuantityVial; got != 0 {
		t.Fatalf("batch1: expected 0 vials, got %d", got)
	}
	if got := f.batch(b2.ID).QuantityVial; got != 2 {
		t.Fatalf("batch2: expected 2 vials, got %d", got)
	}
	if got := f.batch(b3.ID).QuantityVial; got != 5 {
		t.Fatalf("batch3: expected untouched 5 vials, got %d", got)
	}
	if len(res.Batches) != 2 {
		t.Fatalf("expected 2 touched batches, got %d", len(res.Batches))
	}
}

func TestDeduct_TwoBatchScenario(t *testing.T) {
	f := newLedgerFixture(t)
	a := f.addBatch(testBarangay, day(1), 10, 0, "LOT-A")
	c := f.addBatch(testBarangay, day(5), 10, 0, "LOT-C")

	res, err := f.ledger.Deduct(f.ctx, testBarangay, f.doseDef.ID, 12)
	if err != nil {
		t.Fatalf("Deduct: %v", err)
	}

	gotA, gotC := f.batch(a.ID), f.batch(c.ID)
	if gotA.QuantityVial != 0 || gotA.QuantityDose != 0 {
		t.Fatalf("batch A: expected 0/0, got %d/%d", gotA.QuantityVial, gotA.QuantityDose)
	}
	if gotC.QuantityVial != 8 || gotC.QuantityDose != 40 {
		t.Fatalf("batch C: expected 8/40, got %d/%d", gotC.QuantityVial, gotC.QuantityDose)
	}

	if len(res.Batches) != 2 {
		t.Fatalf("expected 2 touched records, got %d", len(res.Batches))
	}
	first, second := res.Batches[0], res.Batches[1]
	if first.BatchId != a.ID || first.QuantityVialBefore != 10 || first.QuantityVialAfter != 0 ||
		first.QuantityDoseBefore != 50 || first.QuantityDoseAfter != 0 {
		t.Fatalf("unexpected first change: %+v", first)
	}
	if second.BatchId != c.ID || second.QuantityVialBefore != 10 || second.QuantityVialAfter != 8 ||
		second.QuantityDoseBefore != 50 || second.QuantityDoseAfter != 40 {
		t.Fatalf("unexpected second change: %+v", second)
	}
}

func TestDeduct_ExcessIsShortageNotNegative(t *testing.T) {
	f := newLedgerFixture(t)
	a := f.addBatch(testBarangay, day(1), 5, 0, "LOT-A")
	b := f.addBatch(testBarangay, day(2), 10, 0, "LOT-B")

	res, err := f.ledger.Deduct(f.ctx, testBarangay, f.doseDef.ID, 20)
	if err != nil {
		t.Fatalf("Deduct: %v", err)
	}
	if !res.Success {
		t.Fatalf("partial fill should still succeed: %+v", res)
	}
	if res.Shortage() != 5 {
		t.Fatalf("expected shortage 5, got %d", res.Shortage())
	}
	for _, id := range []int{a.ID, b.ID} {
		got := f.batch(id)
		if got.QuantityVial != 0 || got.QuantityDose != 0 {
			t.Fatalf("batch %d: expected 0/0, got %d/%d", id, got.QuantityVial, got.QuantityDose)
		}
	}

	// a second deduct on empty batches touches nothing and goes no lower
	res, err = f.ledger.Deduct(f.ctx, testBarangay, f.doseDef.ID, 3)
	if err != nil {
		t.Fatalf("Deduct on empty: %v", err)
	}
	if res.Shortage() != 3 || len(res.Batches) != 0 {
		t.Fatalf("expected untouched shortage 3, got %+v", res)
	}
}

func TestDeduct_ThenAddBack_SingleBatchRestores(t *testing.T) {
	f := newLedgerFixture(t)
	a := f.addBatch(testBarangay, day(1), 10, 0, "LOT-A")
	f.addBatch(testBarangay, day(5), 10, 0, "LOT-C")
	vBefore, dBefore := totals(f, a.ID)

	if _, err := f.ledger.Deduct(f.ctx, testBarangay, f.doseDef.ID, 4); err != nil {
		t.Fatalf("Deduct: %v", err)
	}
	if _, err := f.ledger.AddBack(f.ctx, testBarangay, f.doseDef.ID, 4); err != nil {
		t.Fatalf("AddBack: %v", err)
	}
	vAfter, dAfter := totals(f, a.ID)
	if vAfter != vBefore || dAfter != dBefore {
		t.Fatalf("expected %d/%d restored, got %d/%d", vBefore, dBefore, vAfter, dAfter)
	}
}

// Deduct spreads over batches but AddBack credits the oldest only, so a
// round trip across batches restores the totals and not the distribution.
func TestDeduct_AddBack_AsymmetricAcrossBatches(t *testing.T) {
	f := newLedgerFixture(t)
	a := f.addBatch(testBarangay, day(1), 5, 0, "LOT-A")
	b := f.addBatch(testBarangay, day(2), 5, 0, "LOT-B")

	if _, err := f.ledger.Deduct(f.ctx, testBarangay, f.doseDef.ID, 8); err != nil {
		t.Fatalf("Deduct: %v", err)
	}
	res, err := f.ledger.AddBack(f.ctx, testBarangay, f.doseDef.ID, 8)
	if err != nil {
		t.Fatalf("AddBack: %v", err)
	}
	if len(res.Batches) != 1 || res.Batches[0].BatchId != a.ID {
		t.Fatalf("expected add-back on oldest batch only, got %+v", res.Batches)
	}

	gotA, gotB := f.batch(a.ID), f.batch(b.ID)
	if gotA.QuantityVial != 8 || gotA.QuantityDose != 40 {
		t.Fatalf("batch A: expected 8/40, got %d/%d", gotA.QuantityVial, gotA.QuantityDose)
	}
	if gotB.QuantityVial != 2 || gotB.QuantityDose != 10 {
		t.Fatalf("batch B: expected 2/10, got %d/%d", gotB.QuantityVial, gotB.QuantityDose)
	}
	vials, doses := totals(f, a.ID, b.ID)
	if vials != 10 || doses != 50 {
		t.Fatalf("expected totals 10/50, got %d/%d", vials, doses)
	}
}

func TestDeduct_ClampsReservedToRemainingStock(t *testing.T) {
	f := newLedgerFixture(t)
	a := f.addBatch(testBarangay, day(1), 10, 8, "LOT-A")

	if _, err := f.ledger.Deduct(f.ctx, testBarangay, f.doseDef.ID, 6); err != nil {
		t.Fatalf("Deduct: %v", err)
	}
	got := f.batch(a.ID)
	if got.QuantityVial != 4 || got.ReservedVial != 4 {
		t.Fatalf("expected 4 vials with reserved clamped to 4, got %d/%d", got.QuantityVial, got.ReservedVial)
	}
}

func TestDeduct_UsesStoredDosesPerVial(t *testing.T) {
	f := newLedgerFixture(t)
	def := f.store.AddDoseDefinition(models.VaccineDoseDefinition{VaccineId: f.vaccine.ID, DoseCode: "TV2", DosesPerVial: 2, CreatedAt: day(2)})
	b := f.store.AddInventoryBatch(models.InventoryBatch{BarangayId: testBarangay, DoseDefinitionId: def.ID, QuantityVial: 6, QuantityDose: 12, ReceivedDate: day(1)})

	if _, err := f.ledger.Deduct(f.ctx, testBarangay, def.ID, 1); err != nil {
		t.Fatalf("Deduct: %v", err)
	}
	if got := f.batch(b.ID); got.QuantityDose != 10 {
		t.Fatalf("expected 10 doses at 2 per vial, got %d", got.QuantityDose)
	}
}

func TestDeduct_NotFound(t *testing.T) {
	f := newLedgerFixture(t)

	res, err := f.ledger.Deduct(f.ctx, testBarangay, 999, 1)
	if !models.IsNotFound(err) {
		t.Fatalf("expected NotFoundError for unknown dose definition, got %v", err)
	}
	if res.Success || res.Error == nil || res.Error.Kind != models.ErrorKindNotFound {
		t.Fatalf("expected failed result with NOT_FOUND, got %+v", res)
	}

	_, err = f.ledger.Deduct(f.ctx, testBarangay, f.doseDef.ID, 1)
	if !models.IsNotFound(err) {
		t.Fatalf("expected NotFoundError with no batches, got %v", err)
	}
}

func TestDeduct_Validation(t *testing.T) {
	f := newLedgerFixture(t)
	cases := []struct {
		barangay, doseDef, vials int
	}{
		{0, f.doseDef.ID, 1},
		{testBarangay, 0, 1},
		{testBarangay, f.doseDef.ID, 0},
		{testBarangay, f.doseDef.ID, -3},
	}
	for _, c := range cases {
		_, err := f.ledger.Deduct(f.ctx, c.barangay, c.doseDef, c.vials)
		if models.ErrorKindOf(err) != models.ErrorKindValidation {
			t.Fatalf("%+v: expected validation error, got %v", c, err)
		}
	}
}

func TestDeduct_StorageFailureReportsMutatedBatches(t *testing.T) {
	f := newLedgerFixture(t)
	a := f.addBatch(testBarangay, day(1), 5, 0, "LOT-A")
	b := f.addBatch(testBarangay, day(2), 5, 0, "LOT-B")
	f.store.FailOn("UpdateInventoryBatchQuantities", 1, errors.New("connection reset"))

	res, err := f.ledger.Deduct(f.ctx, testBarangay, f.doseDef.ID, 8)
	if models.ErrorKindOf(err) != models.ErrorKindStorage {
		t.Fatalf("expected storage error, got %v", err)
	}
	if res.Success {
		t.Fatalf("expected failed result")
	}
	if len(res.Batches) != 1 || res.Batches[0].BatchId != a.ID {
		t.Fatalf("expected only batch A reported as mutated, got %+v", res.Batches)
	}
	if res.Shortage() != 3 {
		t.Fatalf("expected 3 vials still outstanding, got %d", res.Shortage())
	}
	if got := f.batch(a.ID).QuantityVial; got != 0 {
		t.Fatalf("batch A should stay mutated, got %d", got)
	}
	if got := f.batch(b.ID).QuantityVial; got != 5 {
		t.Fatalf("batch B should be untouched, got %d", got)
	}
	if len(f.events.operations()) != 0 {
		t.Fatalf("failed deduct must not publish")
	}
}

func TestAddBack_GracefulNoOps(t *testing.T) {
	f := newLedgerFixture(t)

	res, err := f.ledger.AddBack(f.ctx, testBarangay, 999, 3)
	if err != nil || !res.Success || !res.NoOp {
		t.Fatalf("missing dose definition: expected no-op success, got %+v err=%v", res, err)
	}

	res, err = f.ledger.AddBack(f.ctx, testBarangay, f.doseDef.ID, 3)
	if err != nil || !res.Success || !res.NoOp {
		t.Fatalf("no batches: expected no-op success, got %+v err=%v", res, err)
	}

	a := f.addBatch(testBarangay, day(1), 5, 0, "LOT-A")
	f.store.DeleteVaccine(f.vaccine.ID)
	res, err = f.ledger.AddBack(f.ctx, testBarangay, f.doseDef.ID, 3)
	if err != nil || !res.Success || !res.NoOp {
		t.Fatalf("deleted vaccine: expected no-op success, got %+v err=%v", res, err)
	}
	if got := f.batch(a.ID).QuantityVial; got != 5 {
		t.Fatalf("no-op must not touch batches, got %d", got)
	}
}

func TestAddBack_StorageErrorSurfaces(t *testing.T) {
	f := newLedgerFixture(t)
	f.addBatch(testBarangay, day(1), 5, 0, "LOT-A")
	f.store.FailOn("ListInventoryBatches", 0, errors.New("timeout"))

	_, err := f.ledger.AddBack(f.ctx, testBarangay, f.doseDef.ID, 1)
	if models.ErrorKindOf(err) != models.ErrorKindStorage {
		t.Fatalf("expected storage error, got %v", err)
	}
}

func TestDeduct_PublishesLedgerEvent(t *testing.T) {
	f := newLedgerFixture(t)
	f.addBatch(testBarangay, day(1), 5, 0, "LOT-A")

	if _, err := f.ledger.Deduct(f.ctx, testBarangay, f.doseDef.ID, 2); err != nil {
		t.Fatalf("Deduct: %v", err)
	}
	ops := f.events.operations()
	if len(ops) != 1 || ops[0] != models.LedgerOperationDeduct {
		t.Fatalf("expected one DEDUCT event, got %v", ops)
	}
	event := f.events.events[0]
	if event.BarangayId != testBarangay || len(event.Batches) != 1 || !event.OccurredAt.Equal(f.clockTime) {
		t.Fatalf("unexpected event: %+v", event)
	}
}
