package batch

import "errors"

// Sentinel errors for the batch service layer.
var (
	ErrNotFound          = errors.New("batch not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrAlreadyTerminal   = errors.New("batch already completed or failed")
	ErrEmptyRecipients   = errors.New("batch has no recipients")
	ErrTooManyRecipients = errors.New("batch exceeds 100000 recipients")
)
