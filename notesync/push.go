// Copyright 2025 ChillNote
// SPDX-License-Identifier: Apache-2.0

package notesync

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// applyChange processes one pushed change under a SAVEPOINT so that a
// rejected record rolls back alone and never blocks the rest of the batch.
//
// Order matters: the tombstone gate runs before any version logic. A change
// targeting a hard-deleted id is dropped without error so a stale client
// replaying an old queued change can never resurrect deleted data.
func (s *SyncService) applyChange(ctx context.Context, tx pgx.Tx, userID, deviceID string, idx int, change ChangePush) (ChangePushStatus, error) {
	if err := s.validateChange(&change); err != nil {
		reason := ReasonBadPayload
		if errors.Is(err, ErrUnknownEntity) {
			reason = ReasonUnknownEntity
		}
		s.logger.Error("Push validation failed",
			"user_id", userID,
			"device_id", deviceID,
			"op", change.Op,
			"entity", change.Entity,
			"id", change.ID,
			"reason", reason,
			"error", err,
		)
		return statusInvalid(change.Entity, change.ID, reason, err), nil
	}

	tombstoned, err := s.tombstoneExists(ctx, tx, userID, change.Entity, change.ID)
	if err != nil {
		return ChangePushStatus{}, fmt.Errorf("tombstone gate: %w", err)
	}
	if tombstoned {
		s.logger.Debug("Dropping change for hard-deleted id",
			"entity", change.Entity, "id", change.ID, "op", change.Op)
		return statusAppliedNoop(change.Entity, change.ID), nil
	}

	spName := fmt.Sprintf("sp_%d", idx)
	if _, err := tx.Exec(ctx, fmt.Sprintf("SAVEPOINT %s", pgx.Identifier{spName}.Sanitize())); err != nil {
		return ChangePushStatus{}, fmt.Errorf("failed to create savepoint: %w", err)
	}

	var status ChangePushStatus
	switch change.Op {
	case OpPurge:
		status, err = s.applyPurge(ctx, tx, userID, deviceID, change)
	case OpDelete:
		status, err = s.applySoftDelete(ctx, tx, userID, deviceID, change)
	default:
		status, err = s.applyUpsert(ctx, tx, userID, deviceID, change)
	}

	if err != nil {
		_, _ = tx.Exec(ctx, fmt.Sprintf("ROLLBACK TO SAVEPOINT %s", pgx.Identifier{spName}.Sanitize()))
		_, _ = tx.Exec(ctx, fmt.Sprintf("RELEASE SAVEPOINT %s", pgx.Identifier{spName}.Sanitize()))

		// Retryable transaction errors abort the whole batch; the client
		// resends with no partial effect.
		if isRetryablePGTxError(err) {
			return ChangePushStatus{}, err
		}

		switch {
		case errors.Is(err, ErrTagCycle):
			return statusInvalidCycle(change.ID, err), nil
		case errors.Is(err, ErrBadPayload):
			return statusInvalid(change.Entity, change.ID, ReasonBadPayload, err), nil
		}

		// Constraint violations are fatal for this record only.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			s.logger.Error("Change rejected by storage constraint",
				"entity", change.Entity, "id", change.ID, "op", change.Op,
				"sqlstate", pgErr.SQLState(), "error", err)
			return statusInvalid(change.Entity, change.ID, ReasonBadPayload, err), nil
		}

		return ChangePushStatus{}, err
	}

	if _, err := tx.Exec(ctx, fmt.Sprintf("RELEASE SAVEPOINT %s", pgx.Identifier{spName}.Sanitize())); err != nil {
		return ChangePushStatus{}, fmt.Errorf("failed to release savepoint: %w", err)
	}
	return status, nil
}

// applyUpsert handles CREATE and UPDATE operations.
//
// No row yet means create: the entity starts at version 1. An existing row
// goes through the version gate: a matching base version applies cleanly; a
// stale one takes the conflict path and is still accepted as a new version
// (last writer wins; never silently dropped), so the losing device sees its
// own write overtaken on the next pull.
func (s *SyncService) applyUpsert(ctx context.Context, tx pgx.Tx, userID, deviceID string, change ChangePush) (ChangePushStatus, error) {
	stored, _, found, err := s.lockEntityRow(ctx, tx, userID, change.Entity, change.ID)
	if err != nil {
		return ChangePushStatus{}, err
	}

	if !found {
		newVer := firstVersion
		switch change.Entity {
		case EntityNote:
			p, err := decodeNotePayload(change.Payload)
			if err != nil {
				return ChangePushStatus{}, err
			}
			if err := s.insertNote(ctx, tx, userID, deviceID, change.ID, p); err != nil {
				return ChangePushStatus{}, err
			}
			if err := s.replaceNoteTagLinks(ctx, tx, userID, change.ID, p.TagIDs); err != nil {
				return ChangePushStatus{}, err
			}
		case EntityTag:
			p, err := decodeTagPayload(change.Payload)
			if err != nil {
				return ChangePushStatus{}, err
			}
			if err := s.checkTagParent(ctx, tx, userID, change.ID, p.ParentID); err != nil {
				return ChangePushStatus{}, err
			}
			if err := s.insertTag(ctx, tx, userID, deviceID, change.ID, p); err != nil {
				return ChangePushStatus{}, err
			}
		}
		if err := s.recordChange(ctx, tx, userID, change.Entity, change.ID, newVer, LogOpCreate); err != nil {
			return ChangePushStatus{}, err
		}
		return statusApplied(change.Entity, change.ID, newVer), nil
	}

	conflict := change.BaseVersion != stored
	newVer := nextVersion(stored)

	switch change.Entity {
	case EntityNote:
		p, err := decodeNotePayload(change.Payload)
		if err != nil {
			return ChangePushStatus{}, err
		}
		if err := s.updateNote(ctx, tx, userID, deviceID, change.ID, p, newVer); err != nil {
			return ChangePushStatus{}, err
		}
		if err := s.replaceNoteTagLinks(ctx, tx, userID, change.ID, p.TagIDs); err != nil {
			return ChangePushStatus{}, err
		}
	case EntityTag:
		p, err := decodeTagPayload(change.Payload)
		if err != nil {
			return ChangePushStatus{}, err
		}
		if err := s.checkTagParent(ctx, tx, userID, change.ID, p.ParentID); err != nil {
			return ChangePushStatus{}, err
		}
		if err := s.updateTag(ctx, tx, userID, deviceID, change.ID, p, newVer); err != nil {
			return ChangePushStatus{}, err
		}
	}
	if err := s.recordChange(ctx, tx, userID, change.Entity, change.ID, newVer, LogOpUpdate); err != nil {
		return ChangePushStatus{}, err
	}

	if conflict {
		s.logger.Info("Conflict resolved last-writer-wins",
			"entity", change.Entity, "id", change.ID,
			"base_version", change.BaseVersion, "stored_version", stored, "new_version", newVer,
			"device_id", deviceID)
		return statusConflictApplied(change.Entity, change.ID, newVer), nil
	}
	return statusApplied(change.Entity, change.ID, newVer), nil
}

// applySoftDelete handles DELETE operations. The row is kept and marked so
// the deletion itself syncs to the user's other devices. Deleting a row the
// server has never seen is an idempotent no-op (client replay safety).
func (s *SyncService) applySoftDelete(ctx context.Context, tx pgx.Tx, userID, deviceID string, change ChangePush) (ChangePushStatus, error) {
	stored, _, found, err := s.lockEntityRow(ctx, tx, userID, change.Entity, change.ID)
	if err != nil {
		return ChangePushStatus{}, err
	}
	if !found {
		return statusAppliedNoop(change.Entity, change.ID), nil
	}

	p, err := decodeDeletePayload(change.Payload)
	if err != nil {
		return ChangePushStatus{}, err
	}

	conflict := change.BaseVersion != stored
	newVer := nextVersion(stored)

	switch change.Entity {
	case EntityNote:
		if err := s.softDeleteNote(ctx, tx, userID, deviceID, change.ID, p.DeletedAt, newVer); err != nil {
			return ChangePushStatus{}, err
		}
	case EntityTag:
		if err := s.softDeleteTag(ctx, tx, userID, deviceID, change.ID, p.DeletedAt, newVer); err != nil {
			return ChangePushStatus{}, err
		}
		// Children of a deleted parent become root-level, never cascade.
		if err := s.detachTagChildren(ctx, tx, userID, deviceID, change.ID); err != nil {
			return ChangePushStatus{}, err
		}
	}
	if err := s.recordChange(ctx, tx, userID, change.Entity, change.ID, newVer, LogOpDelete); err != nil {
		return ChangePushStatus{}, err
	}

	if conflict {
		return statusConflictApplied(change.Entity, change.ID, newVer), nil
	}
	return statusApplied(change.Entity, change.ID, newVer), nil
}
