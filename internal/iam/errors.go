package iam

import "errors"

var (
	ErrInvalidInput = errors.New("iam: invalid input")
	ErrNotFound     = errors.New("iam: not found")
	ErrConflict     = errors.New("iam: conflict")
)
