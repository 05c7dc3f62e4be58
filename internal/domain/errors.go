package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrProviderFailure   = errors.New("provider failure")
	ErrInvalidConcept    = errors.New("invalid concept")
	ErrEmptyPlan         = errors.New("empty plan")
	ErrEmptyLibrary      = errors.New("empty asset library")
	ErrNoPlacements      = errors.New("no assets placed")
	ErrGateExhausted     = errors.New("quality gate exhausted")
	ErrMalformedVerdict  = errors.New("malformed verdict")
	ErrMalformedDecision = errors.New("malformed review decision")
	ErrUnknownTemplate   = errors.New("unknown asset template")
	ErrDuplicateInstance = errors.New("duplicate asset instance")
)
