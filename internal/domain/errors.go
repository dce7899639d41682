package domain

import "errors"

// Error kinds returned by the metadata layer. Callers match them with errors.Is;
// the wrapping message carries the offending id or key.
var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidTarget   = errors.New("invalid target directory")
	ErrConflict        = errors.New("conflict")
	ErrStorage         = errors.New("blob storage operation failed")
	ErrInvalidArgument = errors.New("invalid argument")
)
