package utils

import (
	"errors"
	"net/http"

	"bitbucket.org/vaxsync/inventory_backend/models"
)

// HTTPStatusForError maps the ledger error taxonomy onto response codes.
func HTTPStatusForError(err error) int {
	if errors.Is(err, ErrLockNotObtained) {
		return http.StatusConflict
	}
	switch models.ErrorKindOf(err) {
	case models.ErrorKindNone:
		return http.StatusOK
	case models.ErrorKindValidation:
		return http.StatusBadRequest
	case models.ErrorKindNotFound:
		return http.StatusNotFound
	case models.ErrorKindInsufficientStock:
		return http.StatusConflict
	case models.ErrorKindStorage:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
