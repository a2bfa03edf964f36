package domain

import "errors"

var (
	ErrInsufficientBalance = errors.New("insufficient_balance")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrAccountNotFound     = errors.New("ledger_account_not_found")
	ErrInvalidSource       = errors.New("invalid_source")
)
