package workflow

import (
	"context"

	"github.com/sirupsen/logrus"

	"bitbucket.org/vaxsync/inventory_backend/config"
	"bitbucket.org/vaxsync/inventory_backend/models"
)

// Deduct walks the pair's batches oldest first and takes min(remaining, on-hand)
// vials from each until the request is met.
//
// A request larger than the stock is not an error: the result is successful and
// Remaining carries the unsatisfied vials. Callers check Shortage().
// If an update fails mid-walk the batches already written stay in Batches.
func (l *Ledger) Deduct(ctx context.Context, barangayId int, doseDefinitionId int, vials int) (*LedgerResult, error) {
	result := &LedgerResult{
		Operation:        models.LedgerOperationDeduct,
		BarangayId:       barangayId,
		DoseDefinitionId: doseDefinitionId,
		Requested:        vials,
		Remaining:        vials,
	}
	if err := validatePair(barangayId, doseDefinitionId); err != nil {
		return result.fail(err)
	}
	if err := requirePositive("vials", vials); err != nil {
		return result.fail(err)
	}

	def, err := l.store.GetDoseDefinition(ctx, doseDefinitionId)
	if err != nil {
		config.LogError(l.logger, "fifoLedger.go", "Deduct", "GetDoseDefinition", doseDefinitionId, err)
		return result.fail(err)
	}
	result.VaccineId = def.VaccineId
	dosesPerVial, err := l.dosesPerVial(ctx, def)
	if err != nil {
		config.LogError(l.logger, "fifoLedger.go", "Deduct", "GetVaccine", def.VaccineId, err)
		return result.fail(err)
	}

	batches, err := l.store.ListInventoryBatches(ctx, barangayId, doseDefinitionId)
	if err != nil {
		config.LogError(l.logger, "fifoLedger.go", "Deduct", "ListInventoryBatches", doseDefinitionId, err)
		return result.fail(err)
	}
	if len(batches) == 0 {
		return result.fail(models.NewNotFoundError("inventory batch", "barangay %d dose definition %d", barangayId, doseDefinitionId))
	}

	remaining := vials
	for _, batch := range batches {
		if remaining == 0 {
			break
		}
		if batch.QuantityVial <= 0 {
			continue
		}
		take := min(remaining, batch.QuantityVial)
		change := batchChange(batch)

		batch.QuantityVial -= take
		batch.QuantityDose = batch.QuantityVial * dosesPerVial
		if batch.ReservedVial > batch.QuantityVial {
			batch.ReservedVial = batch.QuantityVial
		}
		if err := l.store.UpdateInventoryBatchQuantities(ctx, batch); err != nil {
			config.LogError(l.logger, "fifoLedger.go", "Deduct", "UpdateInventoryBatchQuantities", batch.ID, err)
			result.Remaining = remaining
			return result.fail(err)
		}
		recordAfter(&change, batch)
		result.Batches = append(result.Batches, change)
		remaining -= take
	}
	result.Remaining = remaining

	if remaining > 0 {
		l.entry(ctx, result.Operation).WithFields(logrus.Fields{
			"barangay_id":        barangayId,
			"dose_definition_id": doseDefinitionId,
			"requested":          vials,
			"shortage":           remaining,
		}).Warn("ledger.deduct.shortage")
	}

	l.publish(ctx, result)
	return result.ok()
}

// AddBack returns vials to the oldest batch only; it does not spread them
// the way Deduct does. A deleted dose definition or vaccine, or a pair with
// no batches, is a successful no-op since add-back is usually compensating.
func (l *Ledger) AddBack(ctx context.Context, barangayId int, doseDefinitionId int, vials int) (*LedgerResult, error) {
	result := &LedgerResult{
		Operation:        models.LedgerOperationAddBack,
		BarangayId:       barangayId,
		DoseDefinitionId: doseDefinitionId,
		Requested:        vials,
		Remaining:        vials,
	}
	if err := validatePair(barangayId, doseDefinitionId); err != nil {
		return result.fail(err)
	}
	if err := requirePositive("vials", vials); err != nil {
		return result.fail(err)
	}

	noOp := func(reason string) (*LedgerResult, error) {
		l.entry(ctx, result.Operation).WithFields(logrus.Fields{
			"barangay_id":        barangayId,
			"dose_definition_id": doseDefinitionId,
			"vials":              vials,
		}).Warn("ledger.add_back.skipped: " + reason)
		result.NoOp = true
		return result.ok()
	}

	def, err := l.store.GetDoseDefinition(ctx, doseDefinitionId)
	if err != nil {
		if models.IsNotFound(err) {
			return noOp("dose definition not found")
		}
		config.LogError(l.logger, "fifoLedger.go", "AddBack", "GetDoseDefinition", doseDefinitionId, err)
		return result.fail(err)
	}
	result.VaccineId = def.VaccineId
	vaccine, err := l.store.GetVaccine(ctx, def.VaccineId)
	if err != nil {
		if models.IsNotFound(err) {
			return noOp("vaccine not found")
		}
		config.LogError(l.logger, "fifoLedger.go", "AddBack", "GetVaccine", def.VaccineId, err)
		return result.fail(err)
	}
	dosesPerVial := def.ResolveDosesPerVial(vaccine, l.tables)

	batches, err := l.store.ListInventoryBatches(ctx, barangayId, doseDefinitionId)
	if err != nil {
		config.LogError(l.logger, "fifoLedger.go", "AddBack", "ListInventoryBatches", doseDefinitionId, err)
		return result.fail(err)
	}
	if len(batches) == 0 {
		return noOp("no inventory batch")
	}

	oldest := batches[0]
	change := batchChange(oldest)
	oldest.QuantityVial += vials
	oldest.QuantityDose = oldest.QuantityVial * dosesPerVial
	if err := l.store.UpdateInventoryBatchQuantities(ctx, oldest); err != nil {
		config.LogError(l.logger, "fifoLedger.go", "AddBack", "UpdateInventoryBatchQuantities", oldest.ID, err)
		return result.fail(err)
	}
	recordAfter(&change, oldest)
	result.Batches = append(result.Batches, change)
	result.Remaining = 0

	l.publish(ctx, result)
	return result.ok()
}

func validatePair(barangayId int, doseDefinitionId int) error {
	if barangayId <= 0 {
		return models.NewValidationError("barangay_id", "is required")
	}
	if doseDefinitionId <= 0 {
		return models.NewValidationError("dose_definition_id", "is required")
	}
	return nil
}
