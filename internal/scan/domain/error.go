package domain

import "errors"

var (
	ErrMissingFields = errors.New("missing_scan_fields")
	ErrInvalidScanID = errors.New("invalid_scan_id")
	ErrDuplicateScan = errors.New("duplicate_scan")
)
