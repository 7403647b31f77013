// Copyright 2025 ChillNote
// SPDX-License-Identifier: Apache-2.0

package notesync

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Validation error sentinels for better error mapping
var (
	ErrBadPayload    = errors.New("bad_payload")
	ErrUnknownEntity = errors.New("unknown_entity")
	ErrTagCycle      = errors.New("tag_cycle")
)

// reservedPayloadKeys are server-owned fields that must never arrive from a
// client. The server is the sole authority for versions and server timestamps.
var reservedPayloadKeys = []string{
	"version",
	"server_updated_at",
	"server_deleted_at",
	"state",
	"last_device_id",
}

// validateChange validates and normalizes a single pushed change.
// The entity id is canonicalized to lowercase UUID form so that two devices
// writing the same logical entity always hit the same row.
func (s *SyncService) validateChange(change *ChangePush) error {
	change.Entity = strings.ToLower(strings.TrimSpace(change.Entity))
	change.Op = strings.ToUpper(strings.TrimSpace(change.Op))

	switch change.Entity {
	case EntityNote, EntityTag:
	default:
		return fmt.Errorf("%w: unknown entity kind %q", ErrUnknownEntity, change.Entity)
	}

	switch change.Op {
	case OpCreate, OpUpdate, OpDelete, OpPurge:
	default:
		return fmt.Errorf("%w: invalid operation %q", ErrBadPayload, change.Op)
	}

	parsed, err := uuid.Parse(change.ID)
	if err != nil {
		return fmt.Errorf("%w: invalid UUID %q", ErrBadPayload, change.ID)
	}
	change.ID = parsed.String()

	if change.BaseVersion < 0 {
		return fmt.Errorf("%w: base_version must be >= 0", ErrBadPayload)
	}

	// Payload rules
	switch change.Op {
	case OpCreate, OpUpdate:
		if len(change.Payload) == 0 {
			return fmt.Errorf("%w: payload required for %s operation", ErrBadPayload, change.Op)
		}
	case OpDelete:
		// Optional payload may carry the client's deleted_at only.
	case OpPurge:
		if len(change.Payload) != 0 {
			return fmt.Errorf("%w: PURGE must not include payload", ErrBadPayload)
		}
		return nil
	}

	if len(change.Payload) == 0 {
		return nil
	}

	if s.config.MaxPayloadBytes > 0 && len(change.Payload) > s.config.MaxPayloadBytes {
		return fmt.Errorf("%w: payload too large: %d > %d", ErrBadPayload, len(change.Payload), s.config.MaxPayloadBytes)
	}

	// Must be a JSON object, and must not claim server-owned fields.
	var obj map[string]any
	if err := json.Unmarshal(change.Payload, &obj); err != nil || obj == nil {
		return fmt.Errorf("%w: invalid JSON payload", ErrBadPayload)
	}
	for _, key := range reservedPayloadKeys {
		if _, ok := obj[key]; ok {
			return fmt.Errorf("%w: payload may not contain %s", ErrBadPayload, key)
		}
	}

	return nil
}

// decodeNotePayload parses a note payload and canonicalizes its tag ids
func decodeNotePayload(raw json.RawMessage) (*NotePayload, error) {
	var p NotePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	for i, tagID := range p.TagIDs {
		parsed, err := uuid.Parse(tagID)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid tag id %q", ErrBadPayload, tagID)
		}
		p.TagIDs[i] = parsed.String()
	}
	return &p, nil
}

// decodeTagPayload parses a tag payload and canonicalizes its parent id
func decodeTagPayload(raw json.RawMessage) (*TagPayload, error) {
	var p TagPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if p.ParentID != nil {
		parsed, err := uuid.Parse(*p.ParentID)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid parent id %q", ErrBadPayload, *p.ParentID)
		}
		canonical := parsed.String()
		p.ParentID = &canonical
	}
	return &p, nil
}

// decodeDeletePayload extracts the client's deleted_at from an optional
// soft-delete payload. A missing payload is fine; the server clock is used.
func decodeDeletePayload(raw json.RawMessage) (*NotePayload, error) {
	if len(raw) == 0 {
		return &NotePayload{}, nil
	}
	var p NotePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	return &p, nil
}
