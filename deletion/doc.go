// Package deletion runs the account deletion workflow.
//
// An account moves through four states derived from its row:
//
//	active -> deletion_requested -> deletion_confirmed -> deleted
//
// [Workflow.Request] hands out a single-use token, [Workflow.Confirm] consumes
// it and schedules the deletion after a grace period, [Workflow.Cancel] backs
// out before that point, and [Workflow.ExecuteScheduled] performs due
// deletions. Executing a deletion soft-deletes the user, revokes its refresh
// tokens and soft-deletes its API keys in one transaction.
//
// Every transition re-reads the user inside a transaction and writes with a
// version compare-and-swap. A transition that loses a race reports
// [ErrInvalidState].
package deletion
