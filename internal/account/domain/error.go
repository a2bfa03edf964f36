package domain

import "errors"

var (
	ErrAccountNotFound         = errors.New("account_not_found")
	ErrUsernameTaken           = errors.New("username_taken")
	ErrInvalidUsername         = errors.New("invalid_username")
	ErrInvalidCredentials      = errors.New("invalid_credentials")
	ErrInvalidEmail            = errors.New("invalid_email")
	ErrEmailNotFound           = errors.New("email_not_found")
	ErrInvalidVerificationCode = errors.New("invalid_verification_code")
	ErrNoVerifiedEmail         = errors.New("no_verified_email")
)
