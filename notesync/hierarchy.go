// Copyright 2025 ChillNote
// SPDX-License-Identifier: Apache-2.0

package notesync

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// maxTagDepth bounds the ancestor walk. Any chain longer than this is treated
// as a cycle; no real tag tree comes close.
const maxTagDepth = 64

// rowQuerier is the slice of pgx.Tx the ancestor walk needs.
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// checkTagParent rejects a parent assignment that would make the tag its own
// ancestor. The walk runs inside the push transaction and takes a row lock on
// every ancestor it visits. Two pushes reparenting tags into each other's
// subtrees therefore deadlock instead of both committing a cycle: one aborts
// with a retryable error, and its resend sees the committed chain and is
// rejected here.
func (s *SyncService) checkTagParent(ctx context.Context, q rowQuerier, userID, tagID string, parentID *string) error {
	if parentID == nil {
		return nil
	}
	if *parentID == tagID {
		return fmt.Errorf("%w: tag %s cannot be its own parent", ErrTagCycle, tagID)
	}

	current := *parentID
	for depth := 0; depth < maxTagDepth; depth++ {
		var next *string
		err := q.QueryRow(ctx,
			`SELECT parent_id::text FROM sync.tags WHERE user_id = $1 AND id = $2::uuid FOR UPDATE`,
			userID, current,
		).Scan(&next)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				// Parent not synced yet; links to not-yet-known tags are
				// allowed and cannot form a cycle through existing rows.
				return nil
			}
			return fmt.Errorf("walk ancestors of tag %s: %w", tagID, err)
		}
		if next == nil {
			return nil
		}
		if *next == tagID {
			return fmt.Errorf("%w: parent %s is a descendant of tag %s", ErrTagCycle, *parentID, tagID)
		}
		current = *next
	}
	return fmt.Errorf("%w: ancestor chain of tag %s exceeds depth %d", ErrTagCycle, tagID, maxTagDepth)
}
