package httpx

import (
	"errors"
	"net/http"
)

// Machine-readable failure codes exposed alongside HTTP statuses.
const (
	CodeInvalidPermission      = "invalid_permission"
	CodeDuplicateRole          = "duplicate_role"
	CodeReservedName           = "reserved_name"
	CodeProtectedRole          = "protected_role"
	CodeRoleNotFound           = "role_not_found"
	CodeAdminDowngrade         = "admin_downgrade"
	CodeDomainRestriction      = "domain_restriction"
	CodeIdentityProvider       = "identity_provider"
	CodeUserNotFound           = "user_not_found"
	CodeStorageUnavailable     = "storage_unavailable"
	CodeUnauthorized           = "unauthorized"
	CodeInsufficientRole       = "insufficient_role"
	CodeInsufficientPermission = "insufficient_permission"
	CodeManagerRestricted      = "manager_restricted"
	CodeValidation             = "validation_failed"
	CodeInternal               = "internal_error"
)

// ErrStorageUnavailable wraps infrastructure failures in the storage layer.
// Repositories wrap transport-level errors with it; validation failures are
// never tagged this way.
var ErrStorageUnavailable = errors.New("storage unavailable")

// RespondStorageError maps unexpected repository errors. Anything wrapped in
// ErrStorageUnavailable becomes a 503 so the caller knows to retry.
func RespondStorageError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrStorageUnavailable) {
		Problem(w, http.StatusServiceUnavailable, CodeStorageUnavailable, "Storage Unavailable", err.Error())
		return
	}
	Problem(w, http.StatusInternalServerError, CodeInternal, "Internal Error", "")
}
