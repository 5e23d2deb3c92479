package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and infrastructure
// layers return these (optionally wrapped) so transports can translate
// them into status codes without knowing which layer produced them.
//
// These represent factual states about resources, not validation
// failures:
// - ErrNotFound: no data exists for the requested tenant or entity
// - ErrInvalidState: entity in wrong state for requested operation
// - ErrUnavailable: dependency temporarily unavailable
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
