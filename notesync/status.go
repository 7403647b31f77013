// Copyright 2025 ChillNote
// SPDX-License-Identifier: Apache-2.0

package notesync

// statusApplied creates a status for a cleanly accepted write with its new version
func statusApplied(entity, id string, newVer int64) ChangePushStatus {
	return ChangePushStatus{
		Entity:     entity,
		ID:         id,
		Status:     StApplied,
		NewVersion: &newVer,
	}
}

// statusAppliedNoop creates a status for writes that changed nothing:
// tombstoned ids and replayed deletes. No version is assigned.
func statusAppliedNoop(entity, id string) ChangePushStatus {
	return ChangePushStatus{
		Entity: entity,
		ID:     id,
		Status: StApplied,
	}
}

// statusConflictApplied creates a status for a stale-base-version write that
// was still accepted and became the new canonical state (last writer wins).
func statusConflictApplied(entity, id string, newVer int64) ChangePushStatus {
	return ChangePushStatus{
		Entity:     entity,
		ID:         id,
		Status:     StConflictApplied,
		NewVersion: &newVer,
	}
}

// statusInvalid creates a status for a rejected record with a structured reason
func statusInvalid(entity, id, reason string, err error) ChangePushStatus {
	return ChangePushStatus{
		Entity:  entity,
		ID:      id,
		Status:  StInvalid,
		Message: err.Error(),
		Invalid: map[string]any{
			"reason":  reason,
			"details": map[string]any{"error": err.Error()},
		},
	}
}

// statusInvalidCycle creates a status for a tag parent assignment that would
// form a cycle; the parent is left unchanged and the client must not retry
// the same assignment unmodified.
func statusInvalidCycle(id string, err error) ChangePushStatus {
	return ChangePushStatus{
		Entity:  EntityTag,
		ID:      id,
		Status:  StInvalid,
		Message: err.Error(),
		Invalid: map[string]any{
			"reason":  ReasonTagCycle,
			"details": map[string]any{"error": err.Error()},
		},
	}
}
