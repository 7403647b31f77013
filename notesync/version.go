// Copyright 2025 ChillNote
// SPDX-License-Identifier: Apache-2.0

package notesync

// Versions are per entity, assigned only by the server and only for accepted
// writes. A rejected record never consumes a version, so the sequence a
// client observes for any entity is dense: 1, 2, 3, ...

const firstVersion int64 = 1

func nextVersion(current int64) int64 {
	return current + 1
}
