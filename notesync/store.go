// Copyright 2025 ChillNote
// SPDX-License-Identifier: Apache-2.0

package notesync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Entity store access. Every statement carries user_id as a hard filter;
// cross-user access is structurally impossible. All writes stamp
// server_updated_at with the server clock in the same statement that bumps
// the version, so "decide winner" and "persist" can never race.

// lockEntityRow locks the target row FOR UPDATE and returns its stored
// version and lifecycle state. Concurrent pushes touching the same entity id
// serialize here; the second to acquire the lock sees the first's committed
// version. Pushes touching disjoint ids proceed fully in parallel.
func (s *SyncService) lockEntityRow(ctx context.Context, tx pgx.Tx, userID, entity, id string) (int64, LifecycleState, bool, error) {
	var table string
	switch entity {
	case EntityNote:
		table = "sync.notes"
	case EntityTag:
		table = "sync.tags"
	default:
		return 0, "", false, fmt.Errorf("%w: %q", ErrUnknownEntity, entity)
	}

	var (
		version int64
		state   LifecycleState
	)
	err := tx.QueryRow(ctx,
		fmt.Sprintf(`SELECT version, state FROM %s WHERE user_id = $1 AND id = $2::uuid FOR UPDATE`, table),
		userID, id,
	).Scan(&version, &state)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, "", false, nil
		}
		return 0, "", false, fmt.Errorf("lock %s row %s: %w", entity, id, err)
	}
	return version, state, true, nil
}

func (s *SyncService) insertNote(ctx context.Context, tx pgx.Tx, userID, deviceID, id string, p *NotePayload) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO sync.notes
			(user_id, id, content, created_at, updated_at, pinned_at,
			 version, server_updated_at, last_device_id, state)
		VALUES
			(@user_id, @id::uuid, @content, @created_at, @updated_at, @pinned_at,
			 @version, now(), @device_id, 'active')`,
		pgx.NamedArgs{
			"user_id":    userID,
			"id":         id,
			"content":    p.Content,
			"created_at": p.CreatedAt,
			"updated_at": p.UpdatedAt,
			"pinned_at":  p.PinnedAt,
			"version":    firstVersion,
			"device_id":  deviceID,
		})
	if err != nil {
		return fmt.Errorf("insert note %s: %w", id, err)
	}
	return nil
}

// updateNote replaces the client-authored fields wholesale (entity-level
// conflict resolution makes partial diffs unsound) and clears any soft-delete
// marks, which is also the undelete path.
func (s *SyncService) updateNote(ctx context.Context, tx pgx.Tx, userID, deviceID, id string, p *NotePayload, newVersion int64) error {
	_, err := tx.Exec(ctx, `
		UPDATE sync.notes
		SET content = @content,
		    created_at = COALESCE(@created_at, created_at),
		    updated_at = @updated_at,
		    pinned_at = @pinned_at,
		    deleted_at = NULL,
		    server_deleted_at = NULL,
		    version = @version,
		    server_updated_at = now(),
		    last_device_id = @device_id,
		    state = 'active'
		WHERE user_id = @user_id AND id = @id::uuid`,
		pgx.NamedArgs{
			"user_id":    userID,
			"id":         id,
			"content":    p.Content,
			"created_at": p.CreatedAt,
			"updated_at": p.UpdatedAt,
			"pinned_at":  p.PinnedAt,
			"version":    newVersion,
			"device_id":  deviceID,
		})
	if err != nil {
		return fmt.Errorf("update note %s: %w", id, err)
	}
	return nil
}

func (s *SyncService) softDeleteNote(ctx context.Context, tx pgx.Tx, userID, deviceID, id string, clientDeletedAt *time.Time, newVersion int64) error {
	_, err := tx.Exec(ctx, `
		UPDATE sync.notes
		SET deleted_at = COALESCE(@deleted_at, now()),
		    server_deleted_at = now(),
		    version = @version,
		    server_updated_at = now(),
		    last_device_id = @device_id,
		    state = 'soft_deleted'
		WHERE user_id = @user_id AND id = @id::uuid`,
		pgx.NamedArgs{
			"user_id":    userID,
			"id":         id,
			"deleted_at": clientDeletedAt,
			"version":    newVersion,
			"device_id":  deviceID,
		})
	if err != nil {
		return fmt.Errorf("soft-delete note %s: %w", id, err)
	}
	return nil
}

func (s *SyncService) deleteNoteRow(ctx context.Context, tx pgx.Tx, userID, id string) error {
	if _, err := tx.Exec(ctx,
		`DELETE FROM sync.note_tags WHERE user_id = $1 AND note_id = $2::uuid`,
		userID, id); err != nil {
		return fmt.Errorf("delete note links %s: %w", id, err)
	}
	if _, err := tx.Exec(ctx,
		`DELETE FROM sync.notes WHERE user_id = $1 AND id = $2::uuid`,
		userID, id); err != nil {
		return fmt.Errorf("delete note row %s: %w", id, err)
	}
	return nil
}

// replaceNoteTagLinks replaces the note's tag set wholesale. Links carry no
// FK so a link may name a tag arriving later in the same batch or from
// another device; the pull path resolves links by join, so a dangling link
// is invisible to clients until its tag exists.
func (s *SyncService) replaceNoteTagLinks(ctx context.Context, tx pgx.Tx, userID, noteID string, tagIDs []string) error {
	if _, err := tx.Exec(ctx,
		`DELETE FROM sync.note_tags WHERE user_id = $1 AND note_id = $2::uuid`,
		userID, noteID); err != nil {
		return fmt.Errorf("clear note links %s: %w", noteID, err)
	}
	if len(tagIDs) == 0 {
		return nil
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO sync.note_tags (user_id, note_id, tag_id)
		SELECT @user_id, @note_id::uuid, unnest(@tag_ids::uuid[])
		ON CONFLICT DO NOTHING`,
		pgx.NamedArgs{
			"user_id": userID,
			"note_id": noteID,
			"tag_ids": tagIDs,
		}); err != nil {
		return fmt.Errorf("insert note links %s: %w", noteID, err)
	}
	return nil
}

func (s *SyncService) insertTag(ctx context.Context, tx pgx.Tx, userID, deviceID, id string, p *TagPayload) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO sync.tags
			(user_id, id, name, color, sort_order, parent_id, last_used_at,
			 created_at, updated_at, version, server_updated_at, last_device_id, state)
		VALUES
			(@user_id, @id::uuid, @name, @color, @sort_order, @parent_id::uuid, @last_used_at,
			 @created_at, @updated_at, @version, now(), @device_id, 'active')`,
		pgx.NamedArgs{
			"user_id":      userID,
			"id":           id,
			"name":         p.Name,
			"color":        p.Color,
			"sort_order":   p.SortOrder,
			"parent_id":    p.ParentID,
			"last_used_at": p.LastUsedAt,
			"created_at":   p.CreatedAt,
			"updated_at":   p.UpdatedAt,
			"version":      firstVersion,
			"device_id":    deviceID,
		})
	if err != nil {
		return fmt.Errorf("insert tag %s: %w", id, err)
	}
	return nil
}

func (s *SyncService) updateTag(ctx context.Context, tx pgx.Tx, userID, deviceID, id string, p *TagPayload, newVersion int64) error {
	_, err := tx.Exec(ctx, `
		UPDATE sync.tags
		SET name = @name,
		    color = @color,
		    sort_order = @sort_order,
		    parent_id = @parent_id::uuid,
		    last_used_at = @last_used_at,
		    created_at = COALESCE(@created_at, created_at),
		    updated_at = @updated_at,
		    deleted_at = NULL,
		    server_deleted_at = NULL,
		    version = @version,
		    server_updated_at = now(),
		    last_device_id = @device_id,
		    state = 'active'
		WHERE user_id = @user_id AND id = @id::uuid`,
		pgx.NamedArgs{
			"user_id":      userID,
			"id":           id,
			"name":         p.Name,
			"color":        p.Color,
			"sort_order":   p.SortOrder,
			"parent_id":    p.ParentID,
			"last_used_at": p.LastUsedAt,
			"created_at":   p.CreatedAt,
			"updated_at":   p.UpdatedAt,
			"version":      newVersion,
			"device_id":    deviceID,
		})
	if err != nil {
		return fmt.Errorf("update tag %s: %w", id, err)
	}
	return nil
}

func (s *SyncService) softDeleteTag(ctx context.Context, tx pgx.Tx, userID, deviceID, id string, clientDeletedAt *time.Time, newVersion int64) error {
	_, err := tx.Exec(ctx, `
		UPDATE sync.tags
		SET deleted_at = COALESCE(@deleted_at, now()),
		    server_deleted_at = now(),
		    version = @version,
		    server_updated_at = now(),
		    last_device_id = @device_id,
		    state = 'soft_deleted'
		WHERE user_id = @user_id AND id = @id::uuid`,
		pgx.NamedArgs{
			"user_id":    userID,
			"id":         id,
			"deleted_at": clientDeletedAt,
			"version":    newVersion,
			"device_id":  deviceID,
		})
	if err != nil {
		return fmt.Errorf("soft-delete tag %s: %w", id, err)
	}
	return nil
}

func (s *SyncService) deleteTagRow(ctx context.Context, tx pgx.Tx, userID, id string) error {
	if _, err := tx.Exec(ctx,
		`DELETE FROM sync.note_tags WHERE user_id = $1 AND tag_id = $2::uuid`,
		userID, id); err != nil {
		return fmt.Errorf("delete tag links %s: %w", id, err)
	}
	if _, err := tx.Exec(ctx,
		`DELETE FROM sync.tags WHERE user_id = $1 AND id = $2::uuid`,
		userID, id); err != nil {
		return fmt.Errorf("delete tag row %s: %w", id, err)
	}
	return nil
}

// detachTagChildren re-roots the children of a deleted tag. Each child is an
// accepted mutation in its own right: version bump, fresh server timestamp
// and a sync log row, so other devices pull the re-rooting.
func (s *SyncService) detachTagChildren(ctx context.Context, tx pgx.Tx, userID, deviceID, tagID string) error {
	rows, err := tx.Query(ctx, `
		UPDATE sync.tags
		SET parent_id = NULL,
		    version = version + 1,
		    server_updated_at = now(),
		    last_device_id = @device_id
		WHERE user_id = @user_id AND parent_id = @parent_id::uuid
		RETURNING id::text, version`,
		pgx.NamedArgs{
			"user_id":   userID,
			"parent_id": tagID,
			"device_id": deviceID,
		})
	if err != nil {
		return fmt.Errorf("detach children of tag %s: %w", tagID, err)
	}

	type childBump struct {
		id      string
		version int64
	}
	var bumped []childBump
	for rows.Next() {
		var b childBump
		if err := rows.Scan(&b.id, &b.version); err != nil {
			rows.Close()
			return fmt.Errorf("scan detached child of tag %s: %w", tagID, err)
		}
		bumped = append(bumped, b)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("detach children of tag %s: %w", tagID, err)
	}
	rows.Close()

	for _, b := range bumped {
		if err := s.recordChange(ctx, tx, userID, EntityTag, b.id, b.version, LogOpUpdate); err != nil {
			return err
		}
	}
	return nil
}
