// Copyright 2025 ChillNote
// SPDX-License-Identifier: Apache-2.0

package notesync

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Tombstones mark ids as hard-deleted forever. They are never garbage
// collected; a tombstoned id outlives every client queue that might still
// hold a change for it.

func (s *SyncService) tombstoneExists(ctx context.Context, tx pgx.Tx, userID, entityType, entityID string) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM sync.tombstones
			WHERE user_id = $1 AND entity_type = $2 AND entity_id = $3::uuid
		)`,
		userID, entityType, entityID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("tombstone lookup %s/%s: %w", entityType, entityID, err)
	}
	return exists, nil
}

// applyPurge handles PURGE operations: write the tombstone, remove the entity
// row and its relationships, and log a final DELETE so devices that already
// hold the row learn it is gone. Purging an id the server has never seen still
// writes the tombstone and reports success (replay safety).
func (s *SyncService) applyPurge(ctx context.Context, tx pgx.Tx, userID, deviceID string, change ChangePush) (ChangePushStatus, error) {
	stored, _, found, err := s.lockEntityRow(ctx, tx, userID, change.Entity, change.ID)
	if err != nil {
		return ChangePushStatus{}, err
	}

	// ON CONFLICT DO NOTHING makes a replayed purge idempotent.
	if _, err := tx.Exec(ctx, `
		INSERT INTO sync.tombstones (user_id, entity_type, entity_id, deleted_at)
		VALUES (@user_id, @entity_type, @entity_id::uuid, now())
		ON CONFLICT (user_id, entity_type, entity_id) DO NOTHING`,
		pgx.NamedArgs{
			"user_id":     userID,
			"entity_type": change.Entity,
			"entity_id":   change.ID,
		}); err != nil {
		return ChangePushStatus{}, fmt.Errorf("insert tombstone %s/%s: %w", change.Entity, change.ID, err)
	}

	if !found {
		return statusAppliedNoop(change.Entity, change.ID), nil
	}

	newVer := nextVersion(stored)

	switch change.Entity {
	case EntityNote:
		if err := s.deleteNoteRow(ctx, tx, userID, change.ID); err != nil {
			return ChangePushStatus{}, err
		}
	case EntityTag:
		// Same non-cascading rule as soft delete: children survive at root.
		if err := s.detachTagChildren(ctx, tx, userID, deviceID, change.ID); err != nil {
			return ChangePushStatus{}, err
		}
		if err := s.deleteTagRow(ctx, tx, userID, change.ID); err != nil {
			return ChangePushStatus{}, err
		}
	}

	if err := s.recordChange(ctx, tx, userID, change.Entity, change.ID, newVer, LogOpDelete); err != nil {
		return ChangePushStatus{}, err
	}

	s.logger.Info("Entity hard-deleted",
		"entity", change.Entity, "id", change.ID, "device_id", deviceID)

	if change.BaseVersion != stored {
		return statusConflictApplied(change.Entity, change.ID, newVer), nil
	}
	return statusApplied(change.Entity, change.ID, newVer), nil
}
