package core

import "errors"

// Common errors.
var (
	// ErrSourceMissing is returned when the owning node of an association
	// event does not exist. It indicates repository inconsistency.
	ErrSourceMissing = errors.New("association owner node not found")

	ErrNotFound          = errors.New("node not found")
	ErrInvalidQName      = errors.New("invalid qualified name")
	ErrUnknownPrefix     = errors.New("namespace prefix is not registered")
	ErrTransactionClosed = errors.New("transaction closed")
	ErrReadOnly          = errors.New("repository is in read-only mode")
	ErrNoUnitOfWork      = errors.New("event dispatched outside a unit of work")
)
