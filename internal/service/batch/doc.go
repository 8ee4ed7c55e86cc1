// Package batch implements the batch lifecycle: the state machine of
// spec §4.1 (draft/scheduled/queued/processing/completed/failed/paused)
// and the recipient counters that drive completion.
//
// The service layer contains all business logic for creating, queuing,
// pausing, resuming, and completing batches. It depends on the
// Repository interface defined in this package and should never import
// from batchprocessor/, senderworker/, or reconciler/ — those depend on
// it, not the other way around.
//
// Repository implementations live in repository/postgres/.
package batch
