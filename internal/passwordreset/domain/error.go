package domain

import "errors"

var (
	ErrInvalidToken = errors.New("invalid_reset_token")
)
