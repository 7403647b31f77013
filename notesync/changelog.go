// Copyright 2025 ChillNote
// SPDX-License-Identifier: Apache-2.0

package notesync

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// recordChange appends one row to the sync log. The log is append-only and
// server-authored; log_id is assigned by the sequence and establishes the
// total order of accepted writes per user.
func (s *SyncService) recordChange(ctx context.Context, tx pgx.Tx, userID, entityType, entityID string, version int64, op string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO sync.sync_log (user_id, entity_type, entity_id, version, op, created_at)
		VALUES (@user_id, @entity_type, @entity_id::uuid, @version, @op, now())`,
		pgx.NamedArgs{
			"user_id":     userID,
			"entity_type": entityType,
			"entity_id":   entityID,
			"version":     version,
			"op":          op,
		})
	if err != nil {
		return fmt.Errorf("record %s %s/%s v%d: %w", op, entityType, entityID, version, err)
	}
	return nil
}
