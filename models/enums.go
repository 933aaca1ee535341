package models

import (
	"encoding/json"
	"errors"
)

type SessionStatus string

const (
	SessionStatusScheduled  SessionStatus = "Scheduled"
	SessionStatusInProgress SessionStatus = "In-Progress"
	SessionStatusCompleted  SessionStatus = "Completed"
	SessionStatusCancelled  SessionStatus = "Cancelled"
)

// IsActive reports whether a session still holds a reservation.
func (s SessionStatus) IsActive() bool {
	return s == SessionStatusScheduled || s == SessionStatusInProgress
}

func (s *SessionStatus) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return errors.New("session status must be string")
	}

	sessionStatus := map[string]SessionStatus{
		"Scheduled":   SessionStatusScheduled,
		"In-Progress": SessionStatusInProgress,
		"Completed":   SessionStatusCompleted,
		"Cancelled":   SessionStatusCancelled,
	}

	var ok bool
	*s, ok = sessionStatus[str]
	if !ok {
		return errors.New("invalid session status")
	}
	return nil
}

type VaccineRequestStatus string

const (
	VaccineRequestStatusPending  VaccineRequestStatus = "Pending"
	VaccineRequestStatusApproved VaccineRequestStatus = "Approved"
	VaccineRequestStatusRejected VaccineRequestStatus = "Rejected"
	VaccineRequestStatusReleased VaccineRequestStatus = "Released"
)

func (s *VaccineRequestStatus) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return errors.New("vaccine request status must be string")
	}

	requestStatus := map[string]VaccineRequestStatus{
		"Pending":  VaccineRequestStatusPending,
		"Approved": VaccineRequestStatusApproved,
		"Rejected": VaccineRequestStatusRejected,
		"Released": VaccineRequestStatusReleased,
	}

	var ok bool
	*s, ok = requestStatus[str]
	if !ok {
		return errors.New("invalid vaccine request status")
	}
	return nil
}

// StockLevelStatus is the NIP supply classification of a monthly report.
type StockLevelStatus string

const (
	StockLevelStockout   StockLevelStatus = "STOCKOUT"
	StockLevelUnderstock StockLevelStatus = "UNDERSTOCK"
	StockLevelGood       StockLevelStatus = "GOOD"
	StockLevelOverstock  StockLevelStatus = "OVERSTOCK"
)

// ClassifyStockLevel maps a stock-level percentage to a status.
// 50-75 inclusive is GOOD; the bands are kept exactly as the NIP sheet defines them.
func ClassifyStockLevel(percentage int64) StockLevelStatus {
	switch {
	case percentage == 0:
		return StockLevelStockout
	case percentage < 25:
		return StockLevelStockout
	case percentage < 50:
		return StockLevelUnderstock
	case percentage > 75:
		return StockLevelOverstock
	default:
		return StockLevelGood
	}
}

// LedgerOperation names a mutating ledger call, used in results and events.
type LedgerOperation string

const (
	LedgerOperationDeduct           LedgerOperation = "DEDUCT"
	LedgerOperationAddBack          LedgerOperation = "ADD_BACK"
	LedgerOperationReserve          LedgerOperation = "RESERVE"
	LedgerOperationRelease          LedgerOperation = "RELEASE"
	LedgerOperationRecalculate      LedgerOperation = "RECALCULATE_RESERVED"
	LedgerOperationDeductAggregate  LedgerOperation = "DEDUCT_AGGREGATE"
	LedgerOperationAddBackAggregate LedgerOperation = "ADD_BACK_AGGREGATE"
	LedgerOperationReconcile        LedgerOperation = "RECONCILE_AGGREGATE"
	LedgerOperationReceive          LedgerOperation = "RECEIVE"
	LedgerOperationTransfer         LedgerOperation = "TRANSFER"
	LedgerOperationAdminister       LedgerOperation = "ADMINISTER"
)
