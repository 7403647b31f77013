// Copyright 2025 ChillNote
// SPDX-License-Identifier: Apache-2.0

package notesync

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrRetryable marks a whole-batch failure the client should simply resend.
// Nothing was committed; the HTTP layer maps it to 503.
var ErrRetryable = errors.New("retryable")

func isRetryablePGTxError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.SQLState() {
	case "40001", // serialization_failure
		"40P01", // deadlock_detected
		"55P03": // lock_not_available (incl. lock_timeout)
		return true
	default:
		return false
	}
}
