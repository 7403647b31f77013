// Copyright 2025 ChillNote
// SPDX-License-Identifier: Apache-2.0

package notesync

import (
	"encoding/json"
	"time"
)

// REST/JSON models for the sync HTTP API.
// User and device identity come from the JWT (sub/did claims), never from
// the request body.

// PushRequest represents a batch of locally made changes from one device
type PushRequest struct {
	Changes []ChangePush `json:"changes"`
}

// ChangePush represents a single change in a push request
type ChangePush struct {
	Entity      string          `json:"entity"`            // "note" or "tag"
	ID          string          `json:"id"`                // Client-generated UUID as string
	Op          string          `json:"op"`                // CREATE, UPDATE, DELETE (soft), PURGE (hard)
	BaseVersion int64           `json:"base_version"`      // Version the client last saw (0 for create)
	Payload     json.RawMessage `json:"payload,omitempty"` // Full entity fields; optional for DELETE, absent for PURGE
}

// PushResponse represents the server response to a push request
type PushResponse struct {
	Accepted   bool               `json:"accepted"`    // False only for whole-batch rejections
	Statuses   []ChangePushStatus `json:"statuses"`    // Per-change results, in request order
	ServerTime time.Time          `json:"server_time"` // Server clock at completion
}

// ChangePushStatus represents the result of processing a single change
type ChangePushStatus struct {
	Entity     string         `json:"entity"`                // Echo back the entity kind
	ID         string         `json:"id"`                    // Echo back the entity id
	Status     string         `json:"status"`                // "applied", "conflict_applied", "invalid"
	NewVersion *int64         `json:"new_version,omitempty"` // Version assigned when a write was accepted
	Message    string         `json:"message,omitempty"`     // Optional details for errors
	Invalid    map[string]any `json:"invalid,omitempty"`     // Structured reason and details
}

// PullResponse represents the server response to a pull request.
// Rows are full current state, soft-deleted rows included; the client
// replaces its local copy wholesale.
type PullResponse struct {
	Notes      []NoteRecord `json:"notes"`
	Tags       []TagRecord  `json:"tags"`
	ServerTime time.Time    `json:"server_time"` // New watermark for the next pull
}

// NoteRecord is the wire form of a note row
type NoteRecord struct {
	ID              string         `json:"id"`
	Content         string         `json:"content"`
	CreatedAt       *time.Time     `json:"created_at,omitempty"`
	UpdatedAt       *time.Time     `json:"updated_at,omitempty"`
	DeletedAt       *time.Time     `json:"deleted_at,omitempty"`
	PinnedAt        *time.Time     `json:"pinned_at,omitempty"`
	TagIDs          []string       `json:"tag_ids"`
	Version         int64          `json:"version"`
	ServerUpdatedAt time.Time      `json:"server_updated_at"`
	ServerDeletedAt *time.Time     `json:"server_deleted_at,omitempty"`
	LastDeviceID    string         `json:"last_device_id"`
	State           LifecycleState `json:"state"`
}

// TagRecord is the wire form of a tag row
type TagRecord struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	Color           string         `json:"color"`
	SortOrder       int64          `json:"sort_order"`
	ParentID        *string        `json:"parent_id,omitempty"`
	LastUsedAt      *time.Time     `json:"last_used_at,omitempty"`
	CreatedAt       *time.Time     `json:"created_at,omitempty"`
	UpdatedAt       *time.Time     `json:"updated_at,omitempty"`
	DeletedAt       *time.Time     `json:"deleted_at,omitempty"`
	Version         int64          `json:"version"`
	ServerUpdatedAt time.Time      `json:"server_updated_at"`
	ServerDeletedAt *time.Time     `json:"server_deleted_at,omitempty"`
	LastDeviceID    string         `json:"last_device_id"`
	State           LifecycleState `json:"state"`
}

// SyncRequest represents a combined push+pull cycle
type SyncRequest struct {
	Since   *time.Time   `json:"since,omitempty"` // Absent means full resync
	Changes []ChangePush `json:"changes"`
}

// SyncResponse represents the server response to a combined sync cycle
type SyncResponse struct {
	Accepted   bool               `json:"accepted"`
	Statuses   []ChangePushStatus `json:"statuses"`
	Notes      []NoteRecord       `json:"notes"`
	Tags       []TagRecord        `json:"tags"`
	ServerTime time.Time          `json:"server_time"`
}

// NotePayload carries the client-authored fields of a note in a push.
// The full tag id set rides along; note/tag links are replaced wholesale.
type NotePayload struct {
	Content   string     `json:"content"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	PinnedAt  *time.Time `json:"pinned_at,omitempty"`
	TagIDs    []string   `json:"tag_ids,omitempty"`
}

// TagPayload carries the client-authored fields of a tag in a push
type TagPayload struct {
	Name       string     `json:"name"`
	Color      string     `json:"color"`
	SortOrder  int64      `json:"sort_order"`
	ParentID   *string    `json:"parent_id,omitempty"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	CreatedAt  *time.Time `json:"created_at,omitempty"`
	UpdatedAt  *time.Time `json:"updated_at,omitempty"`
	DeletedAt  *time.Time `json:"deleted_at,omitempty"`
}

// Common response models

// SchemaVersionResponse represents the current schema version
type SchemaVersionResponse struct {
	Version int `json:"schema_version"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
