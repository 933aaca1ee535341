package workflow

import (
	"context"

	"github.com/sirupsen/logrus"

	"bitbucket.org/vaxsync/inventory_backend/config"
	"bitbucket.org/vaxsync/inventory_backend/models"
)

// RecordAdministration books vials given (and wasted) at a session: the vials
// leave the barangay batches FIFO, the session's reservation shrinks, the
// aggregate drops by the doses actually taken and the session's counters move.
// A stock shortage does not block the record; it is reported in Remaining.
func (l *Ledger) RecordAdministration(ctx context.Context, sessionId int, vials int, wastage int) (*LedgerResult, error) {
	result := &LedgerResult{
		Operation: models.LedgerOperationAdminister,
		Requested: vials + wastage,
		Remaining: vials + wastage,
	}
	if sessionId <= 0 {
		return result.fail(models.NewValidationError("session_id", "is required"))
	}
	if vials < 0 || wastage < 0 {
		return result.fail(models.NewValidationError("vials", "must not be negative"))
	}
	if err := requirePositive("vials", vials+wastage); err != nil {
		return result.fail(err)
	}

	session, err := l.store.GetSession(ctx, sessionId)
	if err != nil {
		config.LogError(l.logger, "sessionAdministration.go", "RecordAdministration", "GetSession", sessionId, err)
		return result.fail(err)
	}
	result.BarangayId = session.BarangayId
	result.DoseDefinitionId = session.DoseDefinitionId
	if !session.Status.IsActive() {
		return result.fail(models.NewValidationError("status", "session is "+string(session.Status)))
	}

	err = l.store.Transaction(ctx, func(tx models.Store) error {
		inner := l.withStore(tx)

		def, err := tx.GetDoseDefinition(ctx, session.DoseDefinitionId)
		if err != nil {
			return err
		}
		result.VaccineId = def.VaccineId
		dosesPerVial, err := inner.dosesPerVial(ctx, def)
		if err != nil {
			return err
		}

		deducted, err := inner.Deduct(ctx, session.BarangayId, session.DoseDefinitionId, vials+wastage)
		result.absorb(deducted)
		if err != nil {
			return err
		}
		result.Remaining = deducted.Shortage()
		result.step("deduct")
		consumed := vials + wastage - deducted.Shortage()

		// Deduct's cap on reserved_vial may already have freed part of the
		// session's hold on its batch; release only the rest.
		if session.InventoryBatchId != nil && vials > 0 {
			toRelease := vials - reservationFreed(deducted.Batches, *session.InventoryBatchId)
			if toRelease > 0 {
				released, err := inner.Release(ctx, session.BarangayId, *session.InventoryBatchId, toRelease)
				result.absorb(released)
				if err != nil {
					return err
				}
				result.step("release")
			}
		}

		if consumed > 0 {
			agg, err := inner.DeductAggregate(ctx, def.VaccineId, consumed*dosesPerVial)
			result.absorb(agg)
			if err != nil {
				return err
			}
			result.step("deduct_aggregate")
		}

		administered := session.Administered + vials
		status := models.SessionStatusInProgress
		if session.Target > 0 && administered >= session.Target {
			status = models.SessionStatusCompleted
		}
		if err := tx.UpdateSessionProgress(ctx, session.ID, administered, session.Wastage+wastage, status); err != nil {
			config.LogError(l.logger, "sessionAdministration.go", "RecordAdministration", "UpdateSessionProgress", session.ID, err)
			return err
		}
		result.step("session")

		// without a linked batch the reservation is rebuilt from the sessions
		if session.InventoryBatchId == nil {
			recalculated, err := inner.recalculate(ctx, session.BarangayId, session.DoseDefinitionId)
			result.absorb(recalculated)
			if err != nil {
				return err
			}
			result.step("recalculate_reserved")
		}
		return nil
	})
	if err != nil {
		l.entry(ctx, result.Operation).WithFields(logrus.Fields{
			"session_id": sessionId,
			"steps":      result.Steps,
		}).Warn("ledger.administer.failed")
		return result.fail(err)
	}

	l.publish(ctx, result)
	return result.ok()
}

// reservationFreed sums the reserved vials a deduction dropped on one batch.
func reservationFreed(changes []models.BatchChange, batchId int) int {
	freed := 0
	for _, c := range changes {
		if c.BatchId == batchId && c.ReservedVialBefore > c.ReservedVialAfter {
			freed += c.ReservedVialBefore - c.ReservedVialAfter
		}
	}
	return freed
}
