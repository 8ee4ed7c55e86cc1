// Package domain defines the core business types for the outbound delivery
// engine: users, send-configurations, batches, and recipients.
//
// Types in this package are pure value objects with no behavior beyond state
// machine helpers and validation, no database dependencies, and no HTTP
// concerns. They are the shared language between the batch processor, sender
// worker, reconciler, leader, webhook intake, and their repositories.
//
// Rules for this package:
//   - No imports from other internal/ packages
//   - No *sql.DB, no http.Request, no context.Context in struct fields
//   - JSON/DB tags are allowed (they're metadata, not behavior)
//   - Validation and state-machine methods are allowed (pure functions)
//   - Constants and enums belong here
package domain
