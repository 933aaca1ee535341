package workflow

import (
	"context"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"bitbucket.org/vaxsync/inventory_backend/config"
	"bitbucket.org/vaxsync/inventory_backend/models"
	"bitbucket.org/vaxsync/inventory_backend/utils"
)

const requestLockTTL = 30 * time.Second

type ReceiveStockInput struct {
	BarangayId       int        `json:"barangay_id" binding:"required,gt=0"`
	DoseDefinitionId int        `json:"dose_definition_id" binding:"required,gt=0"`
	Vials            int        `json:"vials" binding:"required,gt=0"`
	BatchNumber      string     `json:"batch_number" binding:"max=100"`
	ExpiryDate       *time.Time `json:"expiry_date"`
	ReceivedDate     time.Time  `json:"received_date"`
}

// absorb folds a sub-operation's touched records into r.
func (r *LedgerResult) absorb(other *LedgerResult) {
	if other == nil {
		return
	}
	r.Batches = append(r.Batches, other.Batches...)
	r.DoseDefinitions = append(r.DoseDefinitions, other.DoseDefinitions...)
	if other.Vaccine != nil {
		if r.Vaccine == nil {
			v := *other.Vaccine
			r.Vaccine = &v
		} else {
			r.Vaccine.QuantityAfter = other.Vaccine.QuantityAfter
		}
	}
}

// ReceiveStock records a delivery as a new batch and credits the aggregate.
func (l *Ledger) ReceiveStock(ctx context.Context, in ReceiveStockInput) (*LedgerResult, error) {
	result := &LedgerResult{
		Operation:        models.LedgerOperationReceive,
		BarangayId:       in.BarangayId,
		DoseDefinitionId: in.DoseDefinitionId,
		Requested:        in.Vials,
		Remaining:        in.Vials,
	}
	if err := validatePair(in.BarangayId, in.DoseDefinitionId); err != nil {
		return result.fail(err)
	}
	if err := requirePositive("vials", in.Vials); err != nil {
		return result.fail(err)
	}

	err := l.store.Transaction(ctx, func(tx models.Store) error {
		return l.withStore(tx).receive(ctx, in, result)
	})
	if err != nil {
		return result.fail(err)
	}
	result.Remaining = 0
	if now := l.now(); !in.ReceivedDate.IsZero() && !models.MonthStart(in.ReceivedDate).After(models.MonthStart(now)) {
		l.reports.ForgetFrom(in.ReceivedDate, now)
	}
	l.publish(ctx, result)
	return result.ok()
}

func (l *Ledger) receive(ctx context.Context, in ReceiveStockInput, result *LedgerResult) error {
	def, err := l.store.GetDoseDefinition(ctx, in.DoseDefinitionId)
	if err != nil {
		config.LogError(l.logger, "requestTransfer.go", "receive", "GetDoseDefinition", in.DoseDefinitionId, err)
		return err
	}
	result.VaccineId = def.VaccineId
	dosesPerVial, err := l.dosesPerVial(ctx, def)
	if err != nil {
		return err
	}

	receivedDate := in.ReceivedDate
	if receivedDate.IsZero() {
		receivedDate = l.now()
	}
	batch := &models.InventoryBatch{
		BarangayId:       in.BarangayId,
		DoseDefinitionId: in.DoseDefinitionId,
		QuantityVial:     in.Vials,
		QuantityDose:     in.Vials * dosesPerVial,
		BatchNumber:      in.BatchNumber,
		ExpiryDate:       in.ExpiryDate,
		ReceivedDate:     receivedDate.UTC(),
	}
	if err := l.store.CreateInventoryBatch(ctx, batch); err != nil {
		config.LogError(l.logger, "requestTransfer.go", "receive", "CreateInventoryBatch", in, err)
		return err
	}
	result.Batches = append(result.Batches, models.BatchChange{
		BatchId:           batch.ID,
		BatchNumber:       batch.BatchNumber,
		QuantityVialAfter: batch.QuantityVial,
		QuantityDoseAfter: batch.QuantityDose,
	})
	result.step("create_batch")

	agg, err := l.AddBackAggregate(ctx, def.VaccineId, batch.QuantityDose)
	result.absorb(agg)
	if err != nil {
		return err
	}
	result.step("add_back_aggregate")
	return nil
}

// ApproveRequest moves the request's vials into the destination barangay.
//
// With a source barangay the vials are deducted FIFO from the source, taken
// off the aggregate, and received as a new destination batch carrying the
// source batch number. A source that cannot cover the request fails the
// approval with its batches untouched. Without a source the vials arrive from outside the
// barangays and are simply received.
//
// The steps run in one store transaction under a redis lock on the request.
// The result lists the steps that completed.
func (l *Ledger) ApproveRequest(ctx context.Context, requestId int) (*LedgerResult, error) {
	result := &LedgerResult{Operation: models.LedgerOperationTransfer}
	if requestId <= 0 {
		return result.fail(models.NewValidationError("request_id", "is required"))
	}

	release, err := utils.ObtainLock(ctx, "request_approval", strconv.Itoa(requestId), requestLockTTL, "requestTransfer.go", "ApproveRequest")
	if err != nil {
		return result.fail(err)
	}
	defer release()

	req, err := l.store.GetVaccineRequest(ctx, requestId)
	if err != nil {
		config.LogError(l.logger, "requestTransfer.go", "ApproveRequest", "GetVaccineRequest", requestId, err)
		return result.fail(err)
	}
	result.BarangayId = req.BarangayId
	result.DoseDefinitionId = req.DoseDefinitionId
	result.VaccineId = req.VaccineId
	if req.Status != models.VaccineRequestStatusPending {
		return result.fail(models.NewValidationError("status", "request is "+string(req.Status)+", not Pending"))
	}

	def, err := l.store.GetDoseDefinition(ctx, req.DoseDefinitionId)
	if err != nil {
		config.LogError(l.logger, "requestTransfer.go", "ApproveRequest", "GetDoseDefinition", req.DoseDefinitionId, err)
		return result.fail(err)
	}
	dosesPerVial, err := l.dosesPerVial(ctx, def)
	if err != nil {
		return result.fail(err)
	}
	vials := req.QuantityVial
	if vials <= 0 {
		vials = (req.QuantityDose + dosesPerVial - 1) / dosesPerVial
	}
	if err := requirePositive("quantity_vial", vials); err != nil {
		return result.fail(err)
	}
	result.Requested = vials
	result.Remaining = vials

	err = l.store.Transaction(ctx, func(tx models.Store) error {
		inner := l.withStore(tx)
		receive := ReceiveStockInput{
			BarangayId:       req.BarangayId,
			DoseDefinitionId: req.DoseDefinitionId,
			Vials:            vials,
			ReceivedDate:     l.now(),
		}

		if req.SourceBarangayId != nil {
			source := *req.SourceBarangayId
			if err := inner.checkSourceStock(ctx, source, req.DoseDefinitionId, vials); err != nil {
				return err
			}
			deducted, err := inner.Deduct(ctx, source, req.DoseDefinitionId, vials)
			result.absorb(deducted)
			if err != nil {
				return err
			}
			result.step("deduct_source")

			// stock left the source between the check and the walk
			if shortage := deducted.Shortage(); shortage > 0 {
				if err := inner.restoreBatches(ctx, deducted.Batches); err != nil {
					return err
				}
				result.step("restore_source")
				moved := vials - shortage
				return &models.InsufficientStockError{
					Available:  moved,
					Requested:  vials,
					TotalVials: moved,
				}
			}

			if len(deducted.Batches) > 0 {
				first := deducted.Batches[0]
				receive.BatchNumber = first.BatchNumber
				if src, err := inner.store.GetInventoryBatch(ctx, first.BatchId); err == nil {
					receive.ExpiryDate = src.ExpiryDate
				}
			}

			agg, err := inner.DeductAggregate(ctx, def.VaccineId, vials*dosesPerVial)
			result.absorb(agg)
			if err != nil {
				return err
			}
			result.step("deduct_aggregate")
		}

		received := &LedgerResult{}
		if err := inner.receive(ctx, receive, received); err != nil {
			result.absorb(received)
			return err
		}
		result.absorb(received)
		result.step("receive_destination")

		if err := tx.MarkRequestApproved(ctx, req.ID, l.now().UTC()); err != nil {
			config.LogError(l.logger, "requestTransfer.go", "ApproveRequest", "MarkRequestApproved", req.ID, err)
			return err
		}
		result.step("mark_approved")
		return nil
	})
	if err != nil {
		l.entry(ctx, result.Operation).WithFields(logrus.Fields{
			"request_id": requestId,
			"steps":      result.Steps,
		}).Warn("ledger.transfer.failed")
		return result.fail(err)
	}

	result.Remaining = 0
	l.publish(ctx, result)
	return result.ok()
}

// checkSourceStock rejects a transfer the source barangay cannot cover before
// any batch is touched.
func (l *Ledger) checkSourceStock(ctx context.Context, barangayId int, doseDefinitionId int, vials int) error {
	batches, err := l.store.ListInventoryBatches(ctx, barangayId, doseDefinitionId)
	if err != nil {
		config.LogError(l.logger, "requestTransfer.go", "checkSourceStock", "ListInventoryBatches", doseDefinitionId, err)
		return err
	}
	onHand, reserved := 0, 0
	for _, b := range batches {
		onHand += b.QuantityVial
		reserved += b.ReservedVial
	}
	if onHand < vials {
		return &models.InsufficientStockError{
			Available:       onHand,
			Requested:       vials,
			TotalVials:      onHand,
			AlreadyReserved: reserved,
		}
	}
	return nil
}

// restoreBatches writes back the before-figures of each touched batch.
func (l *Ledger) restoreBatches(ctx context.Context, changes []models.BatchChange) error {
	for _, c := range changes {
		batch, err := l.store.GetInventoryBatch(ctx, c.BatchId)
		if err != nil {
			config.LogError(l.logger, "requestTransfer.go", "restoreBatches", "GetInventoryBatch", c.BatchId, err)
			return err
		}
		batch.QuantityVial = c.QuantityVialBefore
		batch.QuantityDose = c.QuantityDoseBefore
		batch.ReservedVial = c.ReservedVialBefore
		if err := l.store.UpdateInventoryBatchQuantities(ctx, batch); err != nil {
			config.LogError(l.logger, "requestTransfer.go", "restoreBatches", "UpdateInventoryBatchQuantities", c.BatchId, err)
			return err
		}
	}
	return nil
}
