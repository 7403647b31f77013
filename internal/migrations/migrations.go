// Copyright 2025 ChillNote
// SPDX-License-Identifier: Apache-2.0

// Package migrations embeds the sync schema migrations.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
