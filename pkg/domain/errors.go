package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrCreatorIncapable  = errors.New("creator incapable")
	ErrPoolExhausted     = errors.New("verse pool exhausted")
	// ErrUnknownJob is absorbed by the webhook receiver; providers retry on non-2xx.
	ErrUnknownJob    = errors.New("unknown job")
	ErrProviderError = errors.New("provider error")

	ErrForbidden    = errors.New("forbidden")
	ErrInvalidInput = errors.New("invalid input")
	ErrConflict     = errors.New("conflict")

	ErrCreatorNotFound = fmt.Errorf("creator %w", ErrNotFound)

	ErrAlreadySubmitted = fmt.Errorf("%w: content already submitted", ErrInvalidTransition)
	ErrAlreadyApproved  = fmt.Errorf("%w: content already approved", ErrInvalidTransition)
)
