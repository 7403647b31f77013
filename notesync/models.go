// Copyright 2025 ChillNote
// SPDX-License-Identifier: Apache-2.0

package notesync

import (
	"time"
)

// Database entity models for the sync schema.
// The server owns version, server_* timestamps, last_device_id and state;
// the remaining fields are client-authored payload data.

// LifecycleState is the explicit per-entity lifecycle from the engine's
// perspective: absent -> active -> soft_deleted -> hard_deleted.
// hard_deleted rows no longer exist in the entity tables; they are
// represented solely by a tombstone row and are terminal.
type LifecycleState string

const (
	StateActive      LifecycleState = "active"
	StateSoftDeleted LifecycleState = "soft_deleted"
	StateHardDeleted LifecycleState = "hard_deleted"
)

// NoteEntity represents a row in sync.notes
type NoteEntity struct {
	UserID          string         `db:"user_id"`           // Owning user (from JWT sub)
	ID              string         `db:"id"`                // Client-generated UUID, stable across devices
	Content         string         `db:"content"`           // Opaque text blob
	CreatedAt       *time.Time     `db:"created_at"`        // Client creation time
	UpdatedAt       *time.Time     `db:"updated_at"`        // Client last-modified time
	DeletedAt       *time.Time     `db:"deleted_at"`        // Client soft-delete time
	PinnedAt        *time.Time     `db:"pinned_at"`         // Pin time, nil when unpinned
	Version         int64          `db:"version"`           // Server-assigned, strictly increasing
	ServerUpdatedAt time.Time      `db:"server_updated_at"` // Server-authoritative last-modified time
	ServerDeletedAt *time.Time     `db:"server_deleted_at"` // Server-authoritative soft-delete time
	LastDeviceID    string         `db:"last_device_id"`    // Device that made the last accepted write
	State           LifecycleState `db:"state"`             // active | soft_deleted
}

// TagEntity represents a row in sync.tags
type TagEntity struct {
	UserID          string         `db:"user_id"`
	ID              string         `db:"id"`
	Name            string         `db:"name"`
	Color           string         `db:"color"`
	SortOrder       int64          `db:"sort_order"`
	ParentID        *string        `db:"parent_id"` // At most one parent; tree, never a cycle
	LastUsedAt      *time.Time     `db:"last_used_at"`
	CreatedAt       *time.Time     `db:"created_at"`
	UpdatedAt       *time.Time     `db:"updated_at"`
	DeletedAt       *time.Time     `db:"deleted_at"`
	Version         int64          `db:"version"`
	ServerUpdatedAt time.Time      `db:"server_updated_at"`
	ServerDeletedAt *time.Time     `db:"server_deleted_at"`
	LastDeviceID    string         `db:"last_device_id"`
	State           LifecycleState `db:"state"`
}

// SyncLogEntity represents a row in sync.sync_log.
// Rows are append-only and never mutated after insertion.
type SyncLogEntity struct {
	LogID      int64     `db:"log_id"`      // BIGSERIAL ordering key
	UserID     string    `db:"user_id"`     // Owning user
	EntityType string    `db:"entity_type"` // note | tag
	EntityID   string    `db:"entity_id"`   // UUID as string
	Version    int64     `db:"version"`     // Entity version at time of logging
	Op         string    `db:"op"`         // CREATE | UPDATE | DELETE
	CreatedAt  time.Time `db:"created_at"` // Server timestamp
}

// TombstoneEntity represents a row in sync.tombstones.
// Unique per (user, entity type, entity id); once present the id can never
// be recreated or resurrected for that user.
type TombstoneEntity struct {
	UserID     string    `db:"user_id"`
	EntityType string    `db:"entity_type"`
	EntityID   string    `db:"entity_id"`
	DeletedAt  time.Time `db:"deleted_at"`
}
