package main

import (
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"bitbucket.org/vaxsync/inventory_backend/models"
	"bitbucket.org/vaxsync/inventory_backend/models/reports"
	"bitbucket.org/vaxsync/inventory_backend/utils"
	"bitbucket.org/vaxsync/inventory_backend/workflow"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type stockRequest struct {
	BarangayId       int `json:"barangay_id" binding:"required,gt=0"`
	DoseDefinitionId int `json:"dose_definition_id" binding:"required,gt=0"`
	Vials            int `json:"vials" binding:"required,gt=0"`
}

type releaseRequest struct {
	BarangayId       int `json:"barangay_id" binding:"required,gt=0"`
	InventoryBatchId int `json:"inventory_batch_id" binding:"required,gt=0"`
	Vials            int `json:"vials" binding:"required,gt=0"`
}

type pairRequest struct {
	BarangayId       int `json:"barangay_id" binding:"required,gt=0"`
	DoseDefinitionId int `json:"dose_definition_id" binding:"required,gt=0"`
}

type aggregateRequest struct {
	VaccineId int `json:"vaccine_id" binding:"required,gt=0"`
	Doses     int `json:"doses" binding:"required,gt=0"`
}

type administerRequest struct {
	Vials   int `json:"vials" binding:"gte=0"`
	Wastage int `json:"wastage" binding:"gte=0"`
}

// ledgerHandler serves the ledger over HTTP. The ledger is stored once the
// database is up; until then every api route answers 503.
type ledgerHandler struct {
	ledger atomic.Pointer[workflow.Ledger]
	logger *logrus.Logger
}

func (h *ledgerHandler) ready(c *gin.Context) {
	if h.ledger.Load() == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "ledger not ready"})
		return
	}
	c.Next()
}

func bindJSON(c *gin.Context, dest any) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "errors": utils.ProcessValidationErrors(err)})
		return false
	}
	return true
}

func pathId(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "errors": gin.H{"id": "must be a positive integer"}})
		return 0, false
	}
	return id, true
}

// queryMonth reads ?month=YYYY-MM, defaulting to the current month.
func queryMonth(c *gin.Context) (time.Time, bool) {
	raw := c.Query("month")
	if raw == "" {
		return models.MonthStart(time.Now()), true
	}
	month, err := utils.ParseMonth(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "errors": gin.H{"month": err.Error()}})
		return time.Time{}, false
	}
	return month, true
}

// respondLedger writes a ledger result; failures keep the result body so the
// caller sees what was already touched.
func respondLedger(c *gin.Context, result *workflow.LedgerResult, err error) {
	if err != nil {
		_ = c.Error(err)
		c.JSON(utils.HTTPStatusForError(err), result)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *ledgerHandler) deduct(c *gin.Context) {
	var req stockRequest
	if !bindJSON(c, &req) {
		return
	}
	ctx, span := tracer.Start(c.Request.Context(), "ledger.deduct")
	defer span.End()
	result, err := h.ledger.Load().Deduct(ctx, req.BarangayId, req.DoseDefinitionId, req.Vials)
	respondLedger(c, result, err)
}

func (h *ledgerHandler) addBack(c *gin.Context) {
	var req stockRequest
	if !bindJSON(c, &req) {
		return
	}
	ctx, span := tracer.Start(c.Request.Context(), "ledger.add_back")
	defer span.End()
	result, err := h.ledger.Load().AddBack(ctx, req.BarangayId, req.DoseDefinitionId, req.Vials)
	respondLedger(c, result, err)
}

func (h *ledgerHandler) reserve(c *gin.Context) {
	var req stockRequest
	if !bindJSON(c, &req) {
		return
	}
	ctx, span := tracer.Start(c.Request.Context(), "ledger.reserve")
	defer span.End()
	result, err := h.ledger.Load().Reserve(ctx, req.BarangayId, req.DoseDefinitionId, req.Vials)
	respondLedger(c, result, err)
}

func (h *ledgerHandler) release(c *gin.Context) {
	var req releaseRequest
	if !bindJSON(c, &req) {
		return
	}
	ctx, span := tracer.Start(c.Request.Context(), "ledger.release")
	defer span.End()
	result, err := h.ledger.Load().Release(ctx, req.BarangayId, req.InventoryBatchId, req.Vials)
	respondLedger(c, result, err)
}

func (h *ledgerHandler) recalculateReserved(c *gin.Context) {
	var req pairRequest
	if !bindJSON(c, &req) {
		return
	}
	ctx, span := tracer.Start(c.Request.Context(), "ledger.recalculate_reserved")
	defer span.End()
	result, err := h.ledger.Load().RecalculateReserved(ctx, req.BarangayId, req.DoseDefinitionId)
	respondLedger(c, result, err)
}

func (h *ledgerHandler) receive(c *gin.Context) {
	var req workflow.ReceiveStockInput
	if !bindJSON(c, &req) {
		return
	}
	ctx, span := tracer.Start(c.Request.Context(), "ledger.receive")
	defer span.End()
	result, err := h.ledger.Load().ReceiveStock(ctx, req)
	respondLedger(c, result, err)
}

func (h *ledgerHandler) deductAggregate(c *gin.Context) {
	var req aggregateRequest
	if !bindJSON(c, &req) {
		return
	}
	ctx, span := tracer.Start(c.Request.Context(), "ledger.deduct_aggregate")
	defer span.End()
	result, err := h.ledger.Load().DeductAggregate(ctx, req.VaccineId, req.Doses)
	respondLedger(c, result, err)
}

func (h *ledgerHandler) addBackAggregate(c *gin.Context) {
	var req aggregateRequest
	if !bindJSON(c, &req) {
		return
	}
	ctx, span := tracer.Start(c.Request.Context(), "ledger.add_back_aggregate")
	defer span.End()
	result, err := h.ledger.Load().AddBackAggregate(ctx, req.VaccineId, req.Doses)
	respondLedger(c, result, err)
}

func (h *ledgerHandler) reconcileAggregate(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	ctx, span := tracer.Start(c.Request.Context(), "ledger.reconcile_aggregate")
	defer span.End()
	result, err := h.ledger.Load().ReconcileAggregate(ctx, id)
	respondLedger(c, result, err)
}

func (h *ledgerHandler) approveRequest(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	ctx, span := tracer.Start(c.Request.Context(), "ledger.approve_request")
	defer span.End()
	result, err := h.ledger.Load().ApproveRequest(ctx, id)
	respondLedger(c, result, err)
}

func (h *ledgerHandler) administer(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	var req administerRequest
	if !bindJSON(c, &req) {
		return
	}
	ctx, span := tracer.Start(c.Request.Context(), "ledger.administer")
	defer span.End()
	result, err := h.ledger.Load().RecordAdministration(ctx, id, req.Vials, req.Wastage)
	respondLedger(c, result, err)
}

func (h *ledgerHandler) monthlyReports(c *gin.Context) {
	month, ok := queryMonth(c)
	if !ok {
		return
	}
	ctx, span := tracer.Start(c.Request.Context(), "report.monthly")
	defer span.End()
	rows, err := h.ledger.Load().MonthlyReports(ctx, month)
	if err != nil {
		_ = c.Error(err)
		c.JSON(utils.HTTPStatusForError(err), gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"month": month.Format("2006-01"), "reports": rows})
}

func (h *ledgerHandler) computeMonthlyReport(c *gin.Context) {
	month, ok := queryMonth(c)
	if !ok {
		return
	}
	ctx, span := tracer.Start(c.Request.Context(), "report.monthly.compute")
	defer span.End()
	result, err := h.ledger.Load().ComputeMonthlyReport(ctx, month)
	if err != nil {
		_ = c.Error(err)
		c.JSON(utils.HTTPStatusForError(err), gin.H{"success": false, "error": err.Error(), "result": result})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *ledgerHandler) exportMonthlyReport(c *gin.Context) {
	month, ok := queryMonth(c)
	if !ok {
		return
	}
	ctx, span := tracer.Start(c.Request.Context(), "report.monthly.export")
	defer span.End()
	rows, err := h.ledger.Load().MonthlyReports(ctx, month)
	if err != nil {
		_ = c.Error(err)
		c.JSON(utils.HTTPStatusForError(err), gin.H{"success": false, "error": err.Error()})
		return
	}
	filename := reports.MonthlyStockReportFilename(rows)
	if len(rows) == 0 {
		filename = "monthly-stock-" + month.Format("2006-01") + ".xlsx"
	}
	c.Header("Content-Type", xlsxContentType)
	c.Header("Content-Disposition", "attachment; filename="+filename)
	c.Status(http.StatusOK)
	if err := reports.WriteMonthlyStockReport(c.Writer, rows); err != nil {
		_ = c.Error(err)
	}
}
