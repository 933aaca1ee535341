package workflow

import (
	"context"

	"github.com/sirupsen/logrus"

	"bitbucket.org/vaxsync/inventory_backend/config"
	"bitbucket.org/vaxsync/inventory_backend/models"
)

// The vaccine aggregate is denormalized, best-effort state. A missing vaccine
// or a vaccine with no dose definitions is logged and treated as a no-op.

// DeductAggregate lowers the vaccine's quantity_available (never below 0),
// then spreads the same doses over its dose definitions oldest first.
func (l *Ledger) DeductAggregate(ctx context.Context, vaccineId int, doses int) (*LedgerResult, error) {
	return l.adjustAggregate(ctx, models.LedgerOperationDeductAggregate, vaccineId, doses)
}

// AddBackAggregate raises quantity_available and credits the whole amount to
// the oldest dose definition.
func (l *Ledger) AddBackAggregate(ctx context.Context, vaccineId int, doses int) (*LedgerResult, error) {
	return l.adjustAggregate(ctx, models.LedgerOperationAddBackAggregate, vaccineId, doses)
}

func (l *Ledger) adjustAggregate(ctx context.Context, op models.LedgerOperation, vaccineId int, doses int) (*LedgerResult, error) {
	result := &LedgerResult{
		Operation: op,
		VaccineId: vaccineId,
		Requested: doses,
		Remaining: doses,
	}
	if vaccineId <= 0 {
		return result.fail(models.NewValidationError("vaccine_id", "is required"))
	}
	if err := requirePositive("doses", doses); err != nil {
		return result.fail(err)
	}
	deduct := op == models.LedgerOperationDeductAggregate
	log := l.entry(ctx, op).WithFields(logrus.Fields{"vaccine_id": vaccineId, "doses": doses})

	vaccine, err := l.store.GetVaccine(ctx, vaccineId)
	if err != nil {
		if models.IsNotFound(err) {
			log.Warn("ledger.aggregate.skipped: vaccine not found")
			result.NoOp = true
			return result.ok()
		}
		config.LogError(l.logger, "aggregateMirror.go", string(op), "GetVaccine", vaccineId, err)
		return result.fail(err)
	}

	before := vaccine.QuantityAvailable
	after := before + doses
	if deduct {
		after = max(before-doses, 0)
	}
	if err := l.store.UpdateVaccineQuantity(ctx, vaccineId, after); err != nil {
		config.LogError(l.logger, "aggregateMirror.go", string(op), "UpdateVaccineQuantity", vaccineId, err)
		return result.fail(err)
	}
	result.Vaccine = &VaccineChange{VaccineId: vaccineId, QuantityBefore: before, QuantityAfter: after}
	result.step("vaccine")

	children, err := l.store.ListDoseDefinitionsByVaccine(ctx, vaccineId)
	if err != nil {
		config.LogError(l.logger, "aggregateMirror.go", string(op), "ListDoseDefinitionsByVaccine", vaccineId, err)
		return result.fail(err)
	}
	if len(children) == 0 {
		log.Warn("ledger.aggregate.partial: vaccine has no dose definitions")
		result.Remaining = 0
		l.publish(ctx, result)
		return result.ok()
	}

	if !deduct {
		oldest := children[0]
		change := models.DoseDefinitionChange{DoseDefinitionId: oldest.ID, QuantityBefore: oldest.QuantityAvailable}
		change.QuantityAfter = oldest.QuantityAvailable + doses
		if err := l.store.UpdateDoseDefinitionQuantity(ctx, oldest.ID, change.QuantityAfter); err != nil {
			config.LogError(l.logger, "aggregateMirror.go", string(op), "UpdateDoseDefinitionQuantity", oldest.ID, err)
			return result.fail(err)
		}
		result.DoseDefinitions = append(result.DoseDefinitions, change)
		result.Remaining = 0
		result.step("dose_definitions")
		l.publish(ctx, result)
		return result.ok()
	}

	remaining := doses
	for _, child := range children {
		if remaining == 0 {
			break
		}
		if child.QuantityAvailable <= 0 {
			continue
		}
		take := min(remaining, child.QuantityAvailable)
		change := models.DoseDefinitionChange{
			DoseDefinitionId: child.ID,
			QuantityBefore:   child.QuantityAvailable,
			QuantityAfter:    child.QuantityAvailable - take,
		}
		if err := l.store.UpdateDoseDefinitionQuantity(ctx, child.ID, change.QuantityAfter); err != nil {
			config.LogError(l.logger, "aggregateMirror.go", string(op), "UpdateDoseDefinitionQuantity", child.ID, err)
			result.Remaining = remaining
			return result.fail(err)
		}
		result.DoseDefinitions = append(result.DoseDefinitions, change)
		remaining -= take
	}
	result.Remaining = remaining
	result.step("dose_definitions")
	if remaining > 0 {
		log.WithField("unapplied", remaining).Warn("ledger.aggregate.partial: dose definitions short")
	}

	l.publish(ctx, result)
	return result.ok()
}

// ReconcileAggregate recomputes the mirror from the batches: each dose
// definition gets Σ quantity_dose of its batches across barangays and the
// vaccine gets the sum of its dose definitions. The result shows the drift.
func (l *Ledger) ReconcileAggregate(ctx context.Context, vaccineId int) (*LedgerResult, error) {
	result := &LedgerResult{
		Operation: models.LedgerOperationReconcile,
		VaccineId: vaccineId,
	}
	if vaccineId <= 0 {
		return result.fail(models.NewValidationError("vaccine_id", "is required"))
	}

	vaccine, err := l.store.GetVaccine(ctx, vaccineId)
	if err != nil {
		config.LogError(l.logger, "aggregateMirror.go", "ReconcileAggregate", "GetVaccine", vaccineId, err)
		return result.fail(err)
	}
	children, err := l.store.ListDoseDefinitionsByVaccine(ctx, vaccineId)
	if err != nil {
		config.LogError(l.logger, "aggregateMirror.go", "ReconcileAggregate", "ListDoseDefinitionsByVaccine", vaccineId, err)
		return result.fail(err)
	}

	total := 0
	for _, child := range children {
		batches, err := l.store.ListInventoryBatchesByDoseDefinition(ctx, child.ID)
		if err != nil {
			config.LogError(l.logger, "aggregateMirror.go", "ReconcileAggregate", "ListInventoryBatchesByDoseDefinition", child.ID, err)
			return result.fail(err)
		}
		sum := 0
		for _, b := range batches {
			sum += b.QuantityDose
		}
		total += sum
		if sum == child.QuantityAvailable {
			continue
		}
		if err := l.store.UpdateDoseDefinitionQuantity(ctx, child.ID, sum); err != nil {
			config.LogError(l.logger, "aggregateMirror.go", "ReconcileAggregate", "UpdateDoseDefinitionQuantity", child.ID, err)
			return result.fail(err)
		}
		result.DoseDefinitions = append(result.DoseDefinitions, models.DoseDefinitionChange{
			DoseDefinitionId: child.ID,
			QuantityBefore:   child.QuantityAvailable,
			QuantityAfter:    sum,
		})
	}
	result.step("dose_definitions")

	result.Vaccine = &VaccineChange{VaccineId: vaccineId, QuantityBefore: vaccine.QuantityAvailable, QuantityAfter: total}
	if total != vaccine.QuantityAvailable {
		if err := l.store.UpdateVaccineQuantity(ctx, vaccineId, total); err != nil {
			config.LogError(l.logger, "aggregateMirror.go", "ReconcileAggregate", "UpdateVaccineQuantity", vaccineId, err)
			return result.fail(err)
		}
	}
	result.step("vaccine")
	result.Requested = total

	l.entry(ctx, result.Operation).WithFields(logrus.Fields{
		"vaccine_id":       vaccineId,
		"before":           vaccine.QuantityAvailable,
		"after":            total,
		"children_drifted": len(result.DoseDefinitions),
	}).Info("ledger.aggregate.reconciled")

	l.publish(ctx, result)
	return result.ok()
}
