package authz

import "errors"

var (
	ErrInvalidInput     = errors.New("authz: invalid input")
	ErrInvalidCondition = errors.New("authz: invalid condition")
	ErrNotFound         = errors.New("authz: not found")
)
