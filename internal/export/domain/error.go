package domain

import "errors"

var (
	ErrInsufficientBalance = errors.New("insufficient_balance")
	ErrNotFound            = errors.New("export_not_found")
	ErrNoVerifiedEmail     = errors.New("no_verified_email")

	ErrPayloadTooLarge   = errors.New("payload_too_large")
	ErrEmptyRows         = errors.New("empty_rows")
	ErrTooManyRows       = errors.New("too_many_rows")
	ErrInvalidExportID   = errors.New("invalid_export_id")
	ErrDuplicateExportID = errors.New("duplicate_export_id")
	ErrNoValidRows       = errors.New("no_valid_rows")
	ErrTooManyColumns    = errors.New("too_many_columns")
	ErrDeliveryFailed    = errors.New("delivery_failed")
)
