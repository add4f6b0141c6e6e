package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores, ledger adapters and other
// infrastructure layers return these (optionally wrapped) so components can
// decide between skipping, retrying and surfacing.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: record does not exist in a store or on the ledger
// - ErrConflict: write lost a check-and-set race
// - ErrInvalidState: entity in wrong state for requested operation
// - ErrUnavailable: ledger, store or broker temporarily unavailable (retryable)
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
