package workflow

import (
	"context"

	"github.com/sirupsen/logrus"

	"bitbucket.org/vaxsync/inventory_backend/config"
	"bitbucket.org/vaxsync/inventory_backend/models"
)

// Reserve holds vials on the pair's oldest batch for a scheduled session.
// When the batch looks short it rebuilds reserved counts from the active
// sessions once and checks again before giving up.
//
// By default the check and the increment are separate calls, so two callers
// can both pass the check. Strict mode folds them into one conditional write.
func (l *Ledger) Reserve(ctx context.Context, barangayId int, doseDefinitionId int, vials int) (*LedgerResult, error) {
	result := &LedgerResult{
		Operation:        models.LedgerOperationReserve,
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

	batch, err := l.oldestBatch(ctx, barangayId, doseDefinitionId)
	if err != nil {
		return result.fail(err)
	}
	applied, err := l.tryReserve(ctx, batch, vials)
	if err != nil {
		config.LogError(l.logger, "reservation.go", "Reserve", "tryReserve", batch.ID, err)
		return result.fail(err)
	}

	if !applied {
		l.entry(ctx, result.Operation).WithFields(logrus.Fields{
			"batch_id":      batch.ID,
			"requested":     vials,
			"available":     batch.AvailableVial(),
			"reserved_vial": batch.ReservedVial,
		}).Info("ledger.reserve.recalculate")

		if _, err := l.recalculate(ctx, barangayId, doseDefinitionId); err != nil {
			return result.fail(err)
		}
		batch, err = l.oldestBatch(ctx, barangayId, doseDefinitionId)
		if err != nil {
			return result.fail(err)
		}
		applied, err = l.tryReserve(ctx, batch, vials)
		if err != nil {
			config.LogError(l.logger, "reservation.go", "Reserve", "tryReserve retry", batch.ID, err)
			return result.fail(err)
		}
		if !applied {
			// figures as they stand after the failed retry
			if fresh, err := l.oldestBatch(ctx, barangayId, doseDefinitionId); err == nil {
				batch = fresh
			}
			return result.fail(&models.InsufficientStockError{
				Available:       batch.AvailableVial(),
				Requested:       vials,
				TotalVials:      batch.QuantityVial,
				AlreadyReserved: batch.ReservedVial,
			})
		}
	}

	change := batchChange(batch)
	batch.ReservedVial += vials
	if l.strictReservation {
		// the conditional write may have landed on a newer row than the one read
		if fresh, err := l.store.GetInventoryBatch(ctx, batch.ID); err == nil {
			batch = fresh
			change = batchChange(fresh)
			change.ReservedVialBefore = fresh.ReservedVial - vials
		}
	}
	recordAfter(&change, batch)
	result.Batches = append(result.Batches, change)
	result.Remaining = 0

	l.publish(ctx, result)
	return result.ok()
}

func (l *Ledger) oldestBatch(ctx context.Context, barangayId int, doseDefinitionId int) (*models.InventoryBatch, error) {
	batches, err := l.store.ListInventoryBatches(ctx, barangayId, doseDefinitionId)
	if err != nil {
		config.LogError(l.logger, "reservation.go", "oldestBatch", "ListInventoryBatches", doseDefinitionId, err)
		return nil, err
	}
	if len(batches) == 0 {
		return nil, models.NewNotFoundError("inventory batch", "barangay %d dose definition %d", barangayId, doseDefinitionId)
	}
	return batches[0], nil
}

// tryReserve reports whether vials were added to batch's reservation.
// batch is not modified.
func (l *Ledger) tryReserve(ctx context.Context, batch *models.InventoryBatch, vials int) (bool, error) {
	if l.strictReservation {
		return l.store.TryReserveVials(ctx, batch.ID, vials)
	}
	if batch.AvailableVial() < vials {
		return false, nil
	}
	if err := l.store.UpdateReservedVial(ctx, batch.ID, batch.ReservedVial+vials); err != nil {
		return false, err
	}
	return true, nil
}

// Release gives back min(vials, reserved) on one batch. A batch that no longer
// exists, or belongs to another barangay, is skipped as a success.
func (l *Ledger) Release(ctx context.Context, barangayId int, inventoryBatchId int, vials int) (*LedgerResult, error) {
	result := &LedgerResult{
		Operation:  models.LedgerOperationRelease,
		BarangayId: barangayId,
		Requested:  vials,
		Remaining:  vials,
	}
	if barangayId <= 0 {
		return result.fail(models.NewValidationError("barangay_id", "is required"))
	}
	if inventoryBatchId <= 0 {
		return result.fail(models.NewValidationError("inventory_batch_id", "is required"))
	}
	if err := requirePositive("vials", vials); err != nil {
		return result.fail(err)
	}

	batch, err := l.store.GetInventoryBatch(ctx, inventoryBatchId)
	if err != nil {
		if models.IsNotFound(err) {
			l.entry(ctx, result.Operation).WithField("batch_id", inventoryBatchId).Warn("ledger.release.skipped: batch not found")
			result.NoOp = true
			return result.ok()
		}
		config.LogError(l.logger, "reservation.go", "Release", "GetInventoryBatch", inventoryBatchId, err)
		return result.fail(err)
	}
	result.DoseDefinitionId = batch.DoseDefinitionId
	if batch.BarangayId != barangayId {
		l.entry(ctx, result.Operation).WithFields(logrus.Fields{
			"batch_id":          inventoryBatchId,
			"barangay_id":       barangayId,
			"batch_barangay_id": batch.BarangayId,
		}).Warn("ledger.release.skipped: batch belongs to another barangay")
		result.NoOp = true
		return result.ok()
	}

	released := min(vials, batch.ReservedVial)
	change := batchChange(batch)
	if released > 0 {
		batch.ReservedVial -= released
		if err := l.store.UpdateReservedVial(ctx, batch.ID, batch.ReservedVial); err != nil {
			config.LogError(l.logger, "reservation.go", "Release", "UpdateReservedVial", batch.ID, err)
			return result.fail(err)
		}
	}
	recordAfter(&change, batch)
	result.Batches = append(result.Batches, change)
	result.Remaining = vials - released

	l.publish(ctx, result)
	return result.ok()
}

// RecalculateReserved rebuilds reserved_vial for the pair from the active
// sessions: Σ max(0, target - administered) over Scheduled and In-Progress.
// The total is laid over the batches oldest first, each capped at its on-hand
// vials; Remaining is what could not be placed. Running it twice changes nothing.
func (l *Ledger) RecalculateReserved(ctx context.Context, barangayId int, doseDefinitionId int) (*LedgerResult, error) {
	if err := validatePair(barangayId, doseDefinitionId); err != nil {
		result := &LedgerResult{Operation: models.LedgerOperationRecalculate, BarangayId: barangayId, DoseDefinitionId: doseDefinitionId}
		return result.fail(err)
	}
	result, err := l.recalculate(ctx, barangayId, doseDefinitionId)
	if err != nil {
		return result, err
	}
	l.publish(ctx, result)
	return result, nil
}

func (l *Ledger) recalculate(ctx context.Context, barangayId int, doseDefinitionId int) (*LedgerResult, error) {
	result := &LedgerResult{
		Operation:        models.LedgerOperationRecalculate,
		BarangayId:       barangayId,
		DoseDefinitionId: doseDefinitionId,
	}

	sessions, err := l.store.ListActiveSessions(ctx, barangayId, doseDefinitionId)
	if err != nil {
		config.LogError(l.logger, "reservation.go", "recalculate", "ListActiveSessions", doseDefinitionId, err)
		return result.fail(err)
	}
	total := 0
	for _, s := range sessions {
		total += s.PendingVials()
	}
	result.Requested = total

	batches, err := l.store.ListInventoryBatches(ctx, barangayId, doseDefinitionId)
	if err != nil {
		config.LogError(l.logger, "reservation.go", "recalculate", "ListInventoryBatches", doseDefinitionId, err)
		return result.fail(err)
	}

	remaining := total
	for _, batch := range batches {
		want := min(remaining, max(batch.QuantityVial, 0))
		remaining -= want
		if batch.ReservedVial == want {
			continue
		}
		change := batchChange(batch)
		batch.ReservedVial = want
		if err := l.store.UpdateReservedVial(ctx, batch.ID, want); err != nil {
			config.LogError(l.logger, "reservation.go", "recalculate", "UpdateReservedVial", batch.ID, err)
			result.Remaining = remaining
			return result.fail(err)
		}
		recordAfter(&change, batch)
		result.Batches = append(result.Batches, change)
	}
	result.Remaining = remaining

	l.entry(ctx, result.Operation).WithFields(logrus.Fields{
		"barangay_id":        barangayId,
		"dose_definition_id": doseDefinitionId,
		"active_sessions":    len(sessions),
		"reserved_total":     total,
		"unplaced":           remaining,
		"batches_changed":    len(result.Batches),
	}).Info("ledger.reserved.recalculated")
	return result.ok()
}
