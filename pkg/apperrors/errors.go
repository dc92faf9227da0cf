package apperrors

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrTenantRequired = errors.New("tenant context required")
	ErrQueryTimeout   = errors.New("query timed out")
	ErrToolBudget     = errors.New("tool call budget exhausted")
)
