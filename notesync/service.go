// Copyright 2025 ChillNote
// SPDX-License-Identifier: Apache-2.0

package notesync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SyncService provides the core synchronization functionality: one push/pull
// cycle per inbound request, storage-only, no background tasks.
type SyncService struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
	config *ServiceConfig

	// Cleanup tracking
	mu     sync.RWMutex
	closed bool
}

// ServiceConfig holds configuration for the sync service
type ServiceConfig struct {
	SchemaVersion int    // Current sync schema version to report to clients
	AppName       string // Application name for connection tracking

	MaxPushBatchSize int // Maximum number of changes in a single push (0 = unlimited)
	MaxPayloadBytes  int // Maximum JSON payload size per change in bytes (0 = unlimited)

	DisableAutoMigrate bool // Skip running embedded migrations on startup

	StageMetrics    StageMetricsRecorder // Optional stage timing sink
	LogStageTimings bool                 // Mirror stage timings to debug logs
}

// NewSyncService creates a new sync service instance from an existing pool.
// Unless disabled, embedded migrations are applied before the service is
// returned, so a successfully constructed service always has its schema.
func NewSyncService(pool *pgxpool.Pool, config *ServiceConfig, logger *slog.Logger) (*SyncService, error) {
	if config == nil {
		config = &ServiceConfig{
			SchemaVersion: 1,
			AppName:       "go-notesync-app",
		}
	}
	if logger == nil {
		logger = slog.Default()
	}

	service := &SyncService{
		pool:   pool,
		logger: logger,
		config: config,
	}

	if !config.DisableAutoMigrate {
		ctx := context.Background()
		if err := runMigrations(ctx, pool.Config().ConnString(), logger); err != nil {
			return nil, fmt.Errorf("failed to initialize sync service: %w", err)
		}
		logger.Debug("Sync schema migrations applied")
	}

	return service, nil
}

// Close gracefully shuts down the sync service.
// Safe to call multiple times. It does NOT close the database pool - the
// caller is responsible for pool lifecycle.
func (s *SyncService) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.logger.Debug("Shutting down sync service")
	s.closed = true
	return nil
}

// Pool returns the underlying database connection pool.
// This allows advanced users to execute custom queries.
func (s *SyncService) Pool() *pgxpool.Pool {
	return s.pool
}

// GetSchemaVersion returns the current sync schema version
func (s *SyncService) GetSchemaVersion() int {
	return s.config.SchemaVersion
}

// checkClosed returns an error if the service has been closed
func (s *SyncService) checkClosed() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return errors.New("sync service has been closed")
	}
	return nil
}

// serverNow reads the database clock. Every server_time a client sees comes
// from this clock, the same one that stamps server_updated_at, so watermarks
// never mix clock sources.
func (s *SyncService) serverNow(ctx context.Context) (time.Time, error) {
	var now time.Time
	if err := s.pool.QueryRow(ctx, `SELECT now()`).Scan(&now); err != nil {
		return time.Time{}, fmt.Errorf("failed to read server time: %w", err)
	}
	return now.UTC(), nil
}

// ProcessPush handles a batch push request: tombstone gate, version gate and
// conflict resolution per record, all within one transaction. Per-record
// failures are independent; a storage-level failure aborts the whole batch
// with no partial application.
func (s *SyncService) ProcessPush(ctx context.Context, userID, deviceID string, req *PushRequest) (*PushResponse, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}

	if len(req.Changes) == 0 {
		serverTime, err := s.serverNow(ctx)
		if err != nil {
			return nil, err
		}
		return &PushResponse{
			Accepted:   true,
			Statuses:   []ChangePushStatus{},
			ServerTime: serverTime,
		}, nil
	}

	// Enforce push batch size limit; the entire batch is rejected so clients
	// do not drop pending changes.
	if s.config.MaxPushBatchSize > 0 && len(req.Changes) > s.config.MaxPushBatchSize {
		serverTime, err := s.serverNow(ctx)
		if err != nil {
			return nil, err
		}
		statuses := make([]ChangePushStatus, len(req.Changes))
		for i, ch := range req.Changes {
			err := fmt.Errorf("batch too large: changes=%d limit=%d", len(req.Changes), s.config.MaxPushBatchSize)
			statuses[i] = statusInvalid(ch.Entity, ch.ID, ReasonBatchTooLarge, err)
		}
		return &PushResponse{
			Accepted:   false,
			Statuses:   statuses,
			ServerTime: serverTime,
		}, nil
	}

	var (
		statuses   []ChangePushStatus
		serverTime time.Time
	)

	txStart := s.stageStart()
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite}, func(tx pgx.Tx) error {
		// Bound lock wait times so a stuck row lock surfaces as a retryable
		// failure instead of hanging the request.
		_, _ = tx.Exec(ctx, "SET LOCAL lock_timeout = '3s'")

		statuses = make([]ChangePushStatus, 0, len(req.Changes))
		for i := range req.Changes {
			change := req.Changes[i]

			status, err := s.applyChange(ctx, tx, userID, deviceID, i, change)
			if err != nil {
				return fmt.Errorf("failed to apply change %s/%s: %w", change.Entity, change.ID, err)
			}
			statuses = append(statuses, status)
		}

		// Transaction-stable server clock reported back as the push timestamp.
		if err := tx.QueryRow(ctx, `SELECT now()`).Scan(&serverTime); err != nil {
			return fmt.Errorf("failed to read server time: %w", err)
		}
		return nil
	})
	s.observeStage(ctx, MetricsOpPush, MetricsStagePushTx, txStart, len(req.Changes), 1, err != nil)

	if err != nil {
		if isRetryablePGTxError(err) {
			return nil, fmt.Errorf("%w: %v", ErrRetryable, err)
		}
		return nil, fmt.Errorf("failed to process push transaction: %w", err)
	}

	return &PushResponse{
		Accepted:   true,
		Statuses:   statuses,
		ServerTime: serverTime.UTC(),
	}, nil
}

// ProcessSync handles a combined cycle: push first, then pull the delta since
// the client's watermark so the response already reflects the pushed writes.
func (s *SyncService) ProcessSync(ctx context.Context, userID, deviceID string, req *SyncRequest) (*SyncResponse, error) {
	pushResp, err := s.ProcessPush(ctx, userID, deviceID, &PushRequest{Changes: req.Changes})
	if err != nil {
		return nil, err
	}

	pullResp, err := s.ProcessPull(ctx, userID, req.Since)
	if err != nil {
		return nil, err
	}

	return &SyncResponse{
		Accepted:   pushResp.Accepted,
		Statuses:   pushResp.Statuses,
		Notes:      pullResp.Notes,
		Tags:       pullResp.Tags,
		ServerTime: pullResp.ServerTime,
	}, nil
}
