// Copyright 2025 ChillNote
// SPDX-License-Identifier: Apache-2.0

package notesync

// Entity kind constants for syncable entities
const (
	EntityNote = "note"
	EntityTag  = "tag"
)

// Operation constants for push change operations
const (
	OpCreate = "CREATE"
	OpUpdate = "UPDATE"
	OpDelete = "DELETE" // soft delete (tombstoned row, still synced)
	OpPurge  = "PURGE"  // hard delete (row removed, id permanently retired)
)

// Operation constants for sync log rows
const (
	LogOpCreate = "CREATE"
	LogOpUpdate = "UPDATE"
	LogOpDelete = "DELETE"
)

// Status constants for per-change push statuses
const (
	StApplied         = "applied"
	StConflictApplied = "conflict_applied"
	StInvalid         = "invalid"
)

// Invalid reason constants
const (
	ReasonBadPayload    = "bad_payload"
	ReasonUnknownEntity = "unknown_entity"
	ReasonTagCycle      = "tag_cycle"
	ReasonInternalError = "internal_error"
	ReasonBatchTooLarge = "batch_too_large"
)
