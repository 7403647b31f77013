// Copyright 2025 ChillNote
// SPDX-License-Identifier: Apache-2.0

package notesync

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ProcessPull returns every row of the caller's dataset whose server_updated_at
// is strictly after since, soft-deleted rows included. A nil since means full
// resync. The returned ServerTime is read inside the same transaction as the
// row snapshot and is the watermark for the client's next incremental pull.
//
// Hard-deleted entities have no row and simply stop appearing; a client that
// needs to reconcile them does a full resync and drops ids the response no
// longer contains.
func (s *SyncService) ProcessPull(ctx context.Context, userID string, since *time.Time) (*PullResponse, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}

	resp := &PullResponse{
		Notes: []NoteRecord{},
		Tags:  []TagRecord{},
	}

	fetchStart := s.stageStart()
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadOnly}, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `SELECT now()`).Scan(&resp.ServerTime); err != nil {
			return fmt.Errorf("failed to read server time: %w", err)
		}

		notes, err := s.fetchNotes(ctx, tx, userID, since)
		if err != nil {
			return err
		}
		resp.Notes = notes

		tags, err := s.fetchTags(ctx, tx, userID, since)
		if err != nil {
			return err
		}
		resp.Tags = tags
		return nil
	})
	s.observeStage(ctx, MetricsOpPull, MetricsStagePullFetch, fetchStart, len(resp.Notes)+len(resp.Tags), 1, err != nil)

	if err != nil {
		if isRetryablePGTxError(err) {
			return nil, fmt.Errorf("%w: %v", ErrRetryable, err)
		}
		return nil, fmt.Errorf("failed to process pull: %w", err)
	}

	resp.ServerTime = resp.ServerTime.UTC()
	s.logger.Debug("Pull completed",
		"user_id", userID,
		"notes", len(resp.Notes),
		"tags", len(resp.Tags),
		"full_resync", since == nil,
	)
	return resp, nil
}

// fetchNotes returns changed note rows with their tag id sets resolved by
// join. A link whose tag row has not arrived yet is filtered out here rather
// than rejected at push time.
func (s *SyncService) fetchNotes(ctx context.Context, tx pgx.Tx, userID string, since *time.Time) ([]NoteRecord, error) {
	rows, err := tx.Query(ctx, `
		SELECT n.id::text, n.content, n.created_at, n.updated_at, n.deleted_at, n.pinned_at,
		       COALESCE(
		           array_agg(nt.tag_id::text ORDER BY nt.tag_id)
		               FILTER (WHERE t.id IS NOT NULL),
		           '{}'
		       ),
		       n.version, n.server_updated_at, n.server_deleted_at, n.last_device_id, n.state
		FROM sync.notes n
		LEFT JOIN sync.note_tags nt ON nt.user_id = n.user_id AND nt.note_id = n.id
		LEFT JOIN sync.tags t ON t.user_id = nt.user_id AND t.id = nt.tag_id
		WHERE n.user_id = $1
		  AND ($2::timestamptz IS NULL OR n.server_updated_at > $2)
		GROUP BY n.user_id, n.id
		ORDER BY n.server_updated_at, n.id`,
		userID, since)
	if err != nil {
		return nil, fmt.Errorf("fetch notes: %w", err)
	}
	defer rows.Close()

	notes := []NoteRecord{}
	for rows.Next() {
		var n NoteRecord
		if err := rows.Scan(
			&n.ID, &n.Content, &n.CreatedAt, &n.UpdatedAt, &n.DeletedAt, &n.PinnedAt,
			&n.TagIDs,
			&n.Version, &n.ServerUpdatedAt, &n.ServerDeletedAt, &n.LastDeviceID, &n.State,
		); err != nil {
			return nil, fmt.Errorf("scan note row: %w", err)
		}
		notes = append(notes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fetch notes: %w", err)
	}
	return notes, nil
}

func (s *SyncService) fetchTags(ctx context.Context, tx pgx.Tx, userID string, since *time.Time) ([]TagRecord, error) {
	rows, err := tx.Query(ctx, `
		SELECT id::text, name, color, sort_order, parent_id::text, last_used_at,
		       created_at, updated_at, deleted_at,
		       version, server_updated_at, server_deleted_at, last_device_id, state
		FROM sync.tags
		WHERE user_id = $1
		  AND ($2::timestamptz IS NULL OR server_updated_at > $2)
		ORDER BY server_updated_at, id`,
		userID, since)
	if err != nil {
		return nil, fmt.Errorf("fetch tags: %w", err)
	}
	defer rows.Close()

	tags := []TagRecord{}
	for rows.Next() {
		var t TagRecord
		if err := rows.Scan(
			&t.ID, &t.Name, &t.Color, &t.SortOrder, &t.ParentID, &t.LastUsedAt,
			&t.CreatedAt, &t.UpdatedAt, &t.DeletedAt,
			&t.Version, &t.ServerUpdatedAt, &t.ServerDeletedAt, &t.LastDeviceID, &t.State,
		); err != nil {
			return nil, fmt.Errorf("scan tag row: %w", err)
		}
		tags = append(tags, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fetch tags: %w", err)
	}
	return tags, nil
}
