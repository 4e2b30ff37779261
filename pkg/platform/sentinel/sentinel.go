package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and the event log return
// these (optionally wrapped) so services can translate them into domain
// errors without string matching.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: entity or entry does not exist in the store
// - ErrConflict: unique constraint would be violated (duplicate subject)
// - ErrInvalidState: entity in wrong lifecycle state for the operation
// - ErrUnavailable: backing service (Redis, Postgres, Kafka) unreachable;
//   the consumer loop treats this as transient and leaves entries unacked
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
