package workflow

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"bitbucket.org/vaxsync/inventory_backend/config"
	"bitbucket.org/vaxsync/inventory_backend/models"
	"bitbucket.org/vaxsync/inventory_backend/utils"
)

// SkippedContribution is a session, request or batch left out of the rollup
// because its vaccine could not be resolved.
type SkippedContribution struct {
	Source string `json:"source"`
	Id     int    `json:"id"`
	Reason string `json:"reason"`
}

type MonthlyReportResult struct {
	Month     time.Time               `json:"month"`
	Reports   []*models.MonthlyReport `json:"reports"`
	Skipped   []SkippedContribution   `json:"skipped,omitempty"`
	Fallbacks int                     `json:"fallbacks"`
	Failed    []int                   `json:"failed,omitempty"`
}

// vaccineTally accumulates one vaccine id's month, in doses.
type vaccineTally struct {
	vaccine         *models.Vaccine
	active          bool
	used            int
	wastage         int
	supplied        int
	receiptsBefore  int
	requestDoses    int
	approvedInMonth bool
}

// StockLevelPercentage is round(ending / max × 100), half away from zero,
// or 0 when there is no max allocation.
func StockLevelPercentage(ending int, maxAllocation int) int64 {
	if maxAllocation <= 0 {
		return 0
	}
	return decimal.NewFromInt(int64(ending)).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(int64(maxAllocation))).
		Round(0).
		IntPart()
}

// ComputeMonthlyReport rolls up every vaccine with activity in month across all
// barangays and upserts one report per vaccine name.
//
// Per vaccine: OUT is administered vials × doses per vial from sessions in the
// month; IN is doses of batches received in the month plus, when any request
// for the vaccine was approved in the month, those requests' doses and the
// vaccine's live quantity_available; ending is max(IN - OUT, 0).
// Rows with broken linkage are skipped and listed, never fatal.
// Recomputing an unchanged month yields the same rows.
func (l *Ledger) ComputeMonthlyReport(ctx context.Context, month time.Time) (*MonthlyReportResult, error) {
	start, end := utils.GetMonthRange(month)
	result := &MonthlyReportResult{Month: start}
	log := l.logger.WithFields(logrus.Fields{"month": start.Format("2006-01")})

	vaccines, err := l.store.ListVaccines(ctx)
	if err != nil {
		config.LogError(l.logger, "monthlyReport.go", "ComputeMonthlyReport", "ListVaccines", start, err)
		return result, err
	}
	tallies := make(map[int]*vaccineTally, len(vaccines))
	for _, v := range vaccines {
		tallies[v.ID] = &vaccineTally{vaccine: v}
	}

	defs := map[int]*models.VaccineDoseDefinition{}
	resolveDef := func(id int) (*models.VaccineDoseDefinition, error) {
		if def, ok := defs[id]; ok {
			return def, nil
		}
		def, err := l.store.GetDoseDefinition(ctx, id)
		if err != nil {
			if models.IsNotFound(err) {
				defs[id] = nil
				return nil, nil
			}
			return nil, err
		}
		defs[id] = def
		return def, nil
	}
	skip := func(source string, id int, reason string) {
		result.Skipped = append(result.Skipped, SkippedContribution{Source: source, Id: id, Reason: reason})
		log.WithFields(logrus.Fields{"source": source, "id": id}).Warn("monthly_report.skipped: " + reason)
	}
	// tallyFor follows dose definition -> vaccine; nil means skip.
	tallyFor := func(source string, id int, doseDefinitionId int) (*vaccineTally, int, error) {
		def, err := resolveDef(doseDefinitionId)
		if err != nil {
			return nil, 0, err
		}
		if def == nil {
			skip(source, id, "dose definition not found")
			return nil, 0, nil
		}
		t, ok := tallies[def.VaccineId]
		if !ok {
			skip(source, id, "vaccine not found")
			return nil, 0, nil
		}
		return t, def.ResolveDosesPerVial(t.vaccine, l.tables), nil
	}

	// OUT and wastage
	sessions, err := l.store.ListSessionsBetween(ctx, start, end)
	if err != nil {
		config.LogError(l.logger, "monthlyReport.go", "ComputeMonthlyReport", "ListSessionsBetween", start, err)
		return result, err
	}
	for _, s := range sessions {
		doseDefinitionId := s.DoseDefinitionId
		if s.InventoryBatchId != nil {
			batch, err := l.store.GetInventoryBatch(ctx, *s.InventoryBatchId)
			if err != nil {
				if models.IsNotFound(err) {
					skip("session", s.ID, "inventory batch not found")
					continue
				}
				config.LogError(l.logger, "monthlyReport.go", "ComputeMonthlyReport", "GetInventoryBatch", s.ID, err)
				return result, err
			}
			doseDefinitionId = batch.DoseDefinitionId
		}
		t, dosesPerVial, err := tallyFor("session", s.ID, doseDefinitionId)
		if err != nil {
			config.LogError(l.logger, "monthlyReport.go", "ComputeMonthlyReport", "GetDoseDefinition", s.ID, err)
			return result, err
		}
		if t == nil {
			continue
		}
		t.active = true
		t.used += s.Administered * dosesPerVial
		t.wastage += s.Wastage * dosesPerVial
	}

	// IN from requests
	requests, err := l.store.ListRequestsBetween(ctx, start, end)
	if err != nil {
		config.LogError(l.logger, "monthlyReport.go", "ComputeMonthlyReport", "ListRequestsBetween", start, err)
		return result, err
	}
	for _, r := range requests {
		t, ok := tallies[r.VaccineId]
		if !ok {
			skip("request", r.ID, "vaccine not found")
			continue
		}
		t.active = true
		approved := r.Status == models.VaccineRequestStatusApproved || r.Status == models.VaccineRequestStatusReleased
		if approved && r.ApprovedAt != nil && !r.ApprovedAt.Before(start) && r.ApprovedAt.Before(end) {
			t.requestDoses += r.QuantityDose
			t.approvedInMonth = true
		}
	}

	// IN from receipts, and receipts before the month for the initial figure
	received, err := l.store.ListInventoryBatchesReceivedBetween(ctx, start, end)
	if err != nil {
		config.LogError(l.logger, "monthlyReport.go", "ComputeMonthlyReport", "ListInventoryBatchesReceivedBetween", start, err)
		return result, err
	}
	for _, b := range received {
		t, _, err := tallyFor("batch", b.ID, b.DoseDefinitionId)
		if err != nil {
			return result, err
		}
		if t == nil {
			continue
		}
		t.active = true
		t.supplied += b.QuantityDose
	}
	earlier, err := l.store.ListInventoryBatchesReceivedBetween(ctx, time.Time{}, start)
	if err != nil {
		config.LogError(l.logger, "monthlyReport.go", "ComputeMonthlyReport", "ListInventoryBatchesReceivedBetween", "before "+start.Format("2006-01"), err)
		return result, err
	}
	for _, b := range earlier {
		def, err := resolveDef(b.DoseDefinitionId)
		if err != nil {
			return result, err
		}
		if def == nil {
			continue
		}
		if t, ok := tallies[def.VaccineId]; ok {
			t.receiptsBefore += b.QuantityDose
		}
	}

	// duplicate catalog names collapse onto the lowest vaccine id
	groups := map[string][]*vaccineTally{}
	var names []string
	for _, v := range vaccines {
		t := tallies[v.ID]
		if !t.active {
			continue
		}
		name := models.NormalizeVaccineName(v.Name)
		if _, ok := groups[name]; !ok {
			names = append(names, name)
		}
		groups[name] = append(groups[name], t)
	}
	sort.Strings(names)

	previous := utils.GetPreviousMonth(start)
	for _, name := range names {
		group := groups[name]
		sort.Slice(group, func(i, j int) bool { return group[i].vaccine.ID < group[j].vaccine.ID })
		canonical := group[0].vaccine

		var supplied, used, wastage, receiptsBefore int
		for _, t := range group {
			supplied += t.supplied
			used += t.used
			wastage += t.wastage
			receiptsBefore += t.receiptsBefore
			if t.approvedInMonth {
				supplied += t.requestDoses + t.vaccine.QuantityAvailable
			}
		}

		initial := receiptsBefore
		if prevEnding, ok := l.previousEnding(ctx, canonical.ID, previous); ok {
			initial = max(prevEnding, receiptsBefore)
		}
		ending := max(supplied-used, 0)
		maxAllocation := l.tables.MaxAllocation(canonical.Name)
		pct := StockLevelPercentage(ending, maxAllocation)

		result.Reports = append(result.Reports, &models.MonthlyReport{
			VaccineId:            canonical.ID,
			VaccineName:          canonical.Name,
			Month:                start,
			InitialInventory:     initial,
			QuantitySupplied:     supplied,
			QuantityUsed:         used,
			QuantityWastage:      wastage,
			EndingInventory:      ending,
			VialsNeeded:          l.tables.VialsNeeded(canonical.Name),
			MaxAllocation:        maxAllocation,
			StockLevelPercentage: pct,
			Status:               models.ClassifyStockLevel(pct),
		})
	}

	var firstErr error
	for _, report := range result.Reports {
		fallback, err := l.persistMonthlyReport(ctx, report)
		if fallback {
			result.Fallbacks++
		}
		if err != nil {
			result.Failed = append(result.Failed, report.VaccineId)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	l.reports.Put(start, result.Reports)

	log.WithFields(logrus.Fields{
		"reports":   len(result.Reports),
		"skipped":   len(result.Skipped),
		"fallbacks": result.Fallbacks,
		"failed":    len(result.Failed),
	}).Info("monthly_report.computed")

	if firstErr != nil {
		return result, &models.StorageError{
			Op:  "ComputeMonthlyReport",
			Err: fmt.Errorf("%d of %d reports not persisted: %w", len(result.Failed), len(result.Reports), firstErr),
		}
	}
	return result, nil
}

// persistMonthlyReport upserts and falls back to delete-then-insert.
func (l *Ledger) persistMonthlyReport(ctx context.Context, report *models.MonthlyReport) (bool, error) {
	err := l.store.UpsertMonthlyReport(ctx, report)
	if err == nil {
		return false, nil
	}
	config.LogError(l.logger, "monthlyReport.go", "persistMonthlyReport", "UpsertMonthlyReport", report.VaccineId, err)
	if err := l.store.ReplaceMonthlyReport(ctx, report); err != nil {
		config.LogError(l.logger, "monthlyReport.go", "persistMonthlyReport", "ReplaceMonthlyReport", report.VaccineId, err)
		return true, err
	}
	return true, nil
}

// previousEnding prefers the cache, then the stored report.
func (l *Ledger) previousEnding(ctx context.Context, vaccineId int, month time.Time) (int, bool) {
	if v, ok := l.reports.EndingInventory(month, vaccineId); ok {
		return v, true
	}
	report, err := l.store.GetMonthlyReport(ctx, vaccineId, month)
	if err != nil {
		if !models.IsNotFound(err) {
			config.LogError(l.logger, "monthlyReport.go", "previousEnding", "GetMonthlyReport", vaccineId, err)
		}
		return 0, false
	}
	return report.EndingInventory, true
}

// MonthlyReports reads the stored rows for month without recomputing.
func (l *Ledger) MonthlyReports(ctx context.Context, month time.Time) ([]*models.MonthlyReport, error) {
	reports, err := l.store.ListMonthlyReports(ctx, models.MonthStart(month))
	if err != nil {
		config.LogError(l.logger, "monthlyReport.go", "MonthlyReports", "ListMonthlyReports", month, err)
		return nil, err
	}
	return reports, nil
}
