package models

import (
	"context"
	"errors"
	"time"

	mysqlDriver "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

// GormStore is the MySQL-backed Store.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) DB() *gorm.DB {
	return s.db
}

func IsDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}

func gormErr(op string, entity string, key any, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return NewNotFoundError(entity, "%v", key)
	}
	return &StorageError{Op: op, Err: err}
}

func (s *GormStore) Transaction(ctx context.Context, fn func(Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx})
	})
}

// vaccines

func (s *GormStore) GetVaccine(ctx context.Context, id int) (*Vaccine, error) {
	var v Vaccine
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&v).Error
	if err != nil {
		return nil, gormErr("GetVaccine", "vaccine", id, err)
	}
	return &v, nil
}

func (s *GormStore) ListVaccines(ctx context.Context) ([]*Vaccine, error) {
	var vaccines []*Vaccine
	if err := s.db.WithContext(ctx).Order("id").Find(&vaccines).Error; err != nil {
		return nil, &StorageError{Op: "ListVaccines", Err: err}
	}
	return vaccines, nil
}

func (s *GormStore) UpdateVaccineQuantity(ctx context.Context, id int, quantity int) error {
	err := s.db.WithContext(ctx).Model(&Vaccine{}).
		Where("id = ?", id).
		UpdateColumn("quantity_available", quantity).Error
	return gormErr("UpdateVaccineQuantity", "vaccine", id, err)
}

// dose definitions

func (s *GormStore) GetDoseDefinition(ctx context.Context, id int) (*VaccineDoseDefinition, error) {
	var d VaccineDoseDefinition
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&d).Error
	if err != nil {
		return nil, gormErr("GetDoseDefinition", "dose definition", id, err)
	}
	return &d, nil
}

func (s *GormStore) ListDoseDefinitionsByVaccine(ctx context.Context, vaccineId int) ([]*VaccineDoseDefinition, error) {
	var defs []*VaccineDoseDefinition
	err := s.db.WithContext(ctx).
		Where("vaccine_id = ?", vaccineId).
		Order("created_at ASC, id ASC").
		Find(&defs).Error
	if err != nil {
		return nil, &StorageError{Op: "ListDoseDefinitionsByVaccine", Err: err}
	}
	return defs, nil
}

func (s *GormStore) UpdateDoseDefinitionQuantity(ctx context.Context, id int, quantity int) error {
	err := s.db.WithContext(ctx).Model(&VaccineDoseDefinition{}).
		Where("id = ?", id).
		UpdateColumn("quantity_available", quantity).Error
	return gormErr("UpdateDoseDefinitionQuantity", "dose definition", id, err)
}

// inventory batches

func (s *GormStore) GetInventoryBatch(ctx context.Context, id int) (*InventoryBatch, error) {
	var b InventoryBatch
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&b).Error
	if err != nil {
		return nil, gormErr("GetInventoryBatch", "inventory batch", id, err)
	}
	return &b, nil
}

func (s *GormStore) ListInventoryBatches(ctx context.Context, barangayId int, doseDefinitionId int) ([]*InventoryBatch, error) {
	var batches []*InventoryBatch
	err := s.db.WithContext(ctx).
		Where("barangay_id = ? AND dose_definition_id = ?", barangayId, doseDefinitionId).
		Order("received_date ASC, created_at ASC, id ASC").
		Find(&batches).Error
	if err != nil {
		return nil, &StorageError{Op: "ListInventoryBatches", Err: err}
	}
	return batches, nil
}

func (s *GormStore) ListInventoryBatchesByDoseDefinition(ctx context.Context, doseDefinitionId int) ([]*InventoryBatch, error) {
	var batches []*InventoryBatch
	err := s.db.WithContext(ctx).
		Where("dose_definition_id = ?", doseDefinitionId).
		Order("received_date ASC, created_at ASC, id ASC").
		Find(&batches).Error
	if err != nil {
		return nil, &StorageError{Op: "ListInventoryBatchesByDoseDefinition", Err: err}
	}
	return batches, nil
}

func (s *GormStore) ListInventoryBatchesReceivedBetween(ctx context.Context, from time.Time, to time.Time) ([]*InventoryBatch, error) {
	var batches []*InventoryBatch
	dbCtx := s.db.WithContext(ctx).Where("received_date < ?", to)
	if !from.IsZero() {
		dbCtx = dbCtx.Where("received_date >= ?", from)
	}
	err := dbCtx.Order("received_date ASC, created_at ASC, id ASC").Find(&batches).Error
	if err != nil {
		return nil, &StorageError{Op: "ListInventoryBatchesReceivedBetween", Err: err}
	}
	return batches, nil
}

func (s *GormStore) CreateInventoryBatch(ctx context.Context, batch *InventoryBatch) error {
	if err := s.db.WithContext(ctx).Create(batch).Error; err != nil {
		return &StorageError{Op: "CreateInventoryBatch", Err: err}
	}
	return nil
}

func (s *GormStore) UpdateInventoryBatchQuantities(ctx context.Context, batch *InventoryBatch) error {
	result := s.db.WithContext(ctx).Model(batch).
		Select("quantity_vial", "quantity_dose", "reserved_vial").
		Updates(batch)
	if result.Error != nil {
		return &StorageError{Op: "UpdateInventoryBatchQuantities", Err: result.Error}
	}
	return nil
}

func (s *GormStore) UpdateReservedVial(ctx context.Context, batchId int, reserved int) error {
	result := s.db.WithContext(ctx).Model(&InventoryBatch{}).
		Where("id = ?", batchId).
		UpdateColumn("reserved_vial", gorm.Expr("LEAST(GREATEST(?, 0), quantity_vial)", reserved))
	if result.Error != nil {
		return &StorageError{Op: "UpdateReservedVial", Err: result.Error}
	}
	if result.RowsAffected == 0 {
		// MySQL reports 0 rows for an unchanged value too
		var count int64
		if err := s.db.WithContext(ctx).Model(&InventoryBatch{}).Where("id = ?", batchId).Count(&count).Error; err != nil {
			return &StorageError{Op: "UpdateReservedVial", Err: err}
		}
		if count == 0 {
			return NewNotFoundError("inventory batch", "%d", batchId)
		}
	}
	return nil
}

func (s *GormStore) TryReserveVials(ctx context.Context, batchId int, vials int) (bool, error) {
	result := s.db.WithContext(ctx).Model(&InventoryBatch{}).
		Where("id = ? AND reserved_vial + ? <= quantity_vial", batchId, vials).
		UpdateColumn("reserved_vial", gorm.Expr("reserved_vial + ?", vials))
	if result.Error != nil {
		return false, &StorageError{Op: "TryReserveVials", Err: result.Error}
	}
	return result.RowsAffected == 1, nil
}

// sessions

func (s *GormStore) GetSession(ctx context.Context, id int) (*VaccinationSession, error) {
	var session VaccinationSession
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&session).Error
	if err != nil {
		return nil, gormErr("GetSession", "vaccination session", id, err)
	}
	return &session, nil
}

func (s *GormStore) ListActiveSessions(ctx context.Context, barangayId int, doseDefinitionId int) ([]*VaccinationSession, error) {
	var sessions []*VaccinationSession
	err := s.db.WithContext(ctx).
		Where("barangay_id = ? AND dose_definition_id = ?", barangayId, doseDefinitionId).
		Where("status IN ?", []SessionStatus{SessionStatusScheduled, SessionStatusInProgress}).
		Order("session_date ASC, id ASC").
		Find(&sessions).Error
	if err != nil {
		return nil, &StorageError{Op: "ListActiveSessions", Err: err}
	}
	return sessions, nil
}

func (s *GormStore) ListSessionsBetween(ctx context.Context, from time.Time, to time.Time) ([]*VaccinationSession, error) {
	var sessions []*VaccinationSession
	err := s.db.WithContext(ctx).
		Where("session_date >= ? AND session_date < ?", from, to).
		Order("session_date ASC, id ASC").
		Find(&sessions).Error
	if err != nil {
		return nil, &StorageError{Op: "ListSessionsBetween", Err: err}
	}
	return sessions, nil
}

func (s *GormStore) UpdateSessionProgress(ctx context.Context, id int, administered int, wastage int, status SessionStatus) error {
	result := s.db.WithContext(ctx).Model(&VaccinationSession{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"administered": administered,
			"wastage":      wastage,
			"status":       status,
		})
	if result.Error != nil {
		return &StorageError{Op: "UpdateSessionProgress", Err: result.Error}
	}
	return nil
}

// requests

func (s *GormStore) GetVaccineRequest(ctx context.Context, id int) (*VaccineRequest, error) {
	var r VaccineRequest
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&r).Error
	if err != nil {
		return nil, gormErr("GetVaccineRequest", "vaccine request", id, err)
	}
	return &r, nil
}

func (s *GormStore) ListRequestsBetween(ctx context.Context, from time.Time, to time.Time) ([]*VaccineRequest, error) {
	var requests []*VaccineRequest
	err := s.db.WithContext(ctx).
		Where("(created_at >= ? AND created_at < ?) OR (approved_at >= ? AND approved_at < ?)", from, to, from, to).
		Order("id ASC").
		Find(&requests).Error
	if err != nil {
		return nil, &StorageError{Op: "ListRequestsBetween", Err: err}
	}
	return requests, nil
}

func (s *GormStore) MarkRequestApproved(ctx context.Context, id int, approvedAt time.Time) error {
	result := s.db.WithContext(ctx).Model(&VaccineRequest{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":      VaccineRequestStatusApproved,
			"approved_at": approvedAt,
		})
	if result.Error != nil {
		return &StorageError{Op: "MarkRequestApproved", Err: result.Error}
	}
	return nil
}

// monthly reports

func (s *GormStore) GetMonthlyReport(ctx context.Context, vaccineId int, month time.Time) (*MonthlyReport, error) {
	var r MonthlyReport
	err := s.db.WithContext(ctx).
		Where("vaccine_id = ? AND month = ?", vaccineId, MonthStart(month)).
		First(&r).Error
	if err != nil {
		return nil, gormErr("GetMonthlyReport", "monthly report", vaccineId, err)
	}
	return &r, nil
}

func (s *GormStore) ListMonthlyReports(ctx context.Context, month time.Time) ([]*MonthlyReport, error) {
	var reports []*MonthlyReport
	err := s.db.WithContext(ctx).
		Where("month = ?", MonthStart(month)).
		Order("vaccine_name ASC, vaccine_id ASC").
		Find(&reports).Error
	if err != nil {
		return nil, &StorageError{Op: "ListMonthlyReports", Err: err}
	}
	return reports, nil
}

func (s *GormStore) UpsertMonthlyReport(ctx context.Context, r *MonthlyReport) error {
	err := s.db.WithContext(ctx).Exec(`
        INSERT INTO monthly_reports (vaccine_id, vaccine_name, month, initial_inventory, quantity_supplied,
            quantity_used, quantity_wastage, ending_inventory, vials_needed, max_allocation,
            stock_level_percentage, status, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NOW(), NOW())
        ON DUPLICATE KEY UPDATE
            vaccine_name = VALUES(vaccine_name),
            initial_inventory = VALUES(initial_inventory),
            quantity_supplied = VALUES(quantity_supplied),
            quantity_used = VALUES(quantity_used),
            quantity_wastage = VALUES(quantity_wastage),
            ending_inventory = VALUES(ending_inventory),
            vials_needed = VALUES(vials_needed),
            max_allocation = VALUES(max_allocation),
            stock_level_percentage = VALUES(stock_level_percentage),
            status = VALUES(status),
            updated_at = NOW()
    `, r.VaccineId, r.VaccineName, MonthStart(r.Month), r.InitialInventory, r.QuantitySupplied,
		r.QuantityUsed, r.QuantityWastage, r.EndingInventory, r.VialsNeeded, r.MaxAllocation,
		r.StockLevelPercentage, r.Status).Error
	if err != nil {
		return &StorageError{Op: "UpsertMonthlyReport", Err: err}
	}
	return nil
}

func (s *GormStore) ReplaceMonthlyReport(ctx context.Context, r *MonthlyReport) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("vaccine_id = ? AND month = ?", r.VaccineId, MonthStart(r.Month)).
			Delete(&MonthlyReport{}).Error; err != nil {
			return err
		}
		row := *r
		row.ID = 0
		row.Month = MonthStart(r.Month)
		if err := tx.Create(&row).Error; err != nil {
			if IsDuplicateKeyErr(err) {
				return errors.New("monthly report reinserted concurrently")
			}
			return err
		}
		r.ID = row.ID
		return nil
	})
	if err != nil {
		return &StorageError{Op: "ReplaceMonthlyReport", Err: err}
	}
	return nil
}
