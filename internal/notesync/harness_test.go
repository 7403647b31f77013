package notesync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/chillnote/go-notesync/notesync"
)

// Harness wires a real SyncService to the database named by TEST_DATABASE_URL.
// Tests are skipped when the variable is not set.
type Harness struct {
	t       *testing.T
	ctx     context.Context
	pool    *pgxpool.Pool
	service *notesync.SyncService
}

func testLogger() *slog.Logger {
	if os.Getenv("TEST_VERBOSE") != "" {
		return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func NewHarness(t *testing.T) *Harness {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set; skipping storage integration test")
	}

	ctx := context.Background()
	logger := testLogger()

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)

	service, err := notesync.NewSyncService(pool, &notesync.ServiceConfig{
		SchemaVersion:    1,
		AppName:          "notesync-test",
		MaxPushBatchSize: 1000,
		MaxPayloadBytes:  1 << 20,
	}, logger)
	require.NoError(t, err)

	h := &Harness{t: t, ctx: ctx, pool: pool, service: service}
	h.Reset()
	return h
}

func (h *Harness) Cleanup() {
	_ = h.service.Close()
	h.pool.Close()
}

// Reset truncates all sync tables so scenarios start from a clean slate.
func (h *Harness) Reset() {
	h.t.Helper()
	_, err := h.pool.Exec(h.ctx,
		`TRUNCATE sync.notes, sync.tags, sync.note_tags, sync.sync_log, sync.tombstones`)
	require.NoError(h.t, err)
}

// MakeUUID builds a deterministic UUID from a short label for readable tests.
func (h *Harness) MakeUUID(label string) string {
	h.t.Helper()
	hexed := fmt.Sprintf("%x", label)
	require.LessOrEqual(h.t, len(hexed), 12, "label too long: %s", label)
	hexed = strings.Repeat("0", 12-len(hexed)) + hexed
	id, err := uuid.Parse("00000000-0000-4000-8000-" + hexed)
	require.NoError(h.t, err)
	return id.String()
}

func (h *Harness) Push(userID, deviceID string, changes ...notesync.ChangePush) *notesync.PushResponse {
	h.t.Helper()
	resp, err := h.service.ProcessPush(h.ctx, userID, deviceID, &notesync.PushRequest{Changes: changes})
	require.NoError(h.t, err)
	return resp
}

func (h *Harness) Pull(userID string) *notesync.PullResponse {
	h.t.Helper()
	resp, err := h.service.ProcessPull(h.ctx, userID, nil)
	require.NoError(h.t, err)
	return resp
}

func noteChange(op, id string, baseVersion int64, fields map[string]any) notesync.ChangePush {
	return change(notesync.EntityNote, op, id, baseVersion, fields)
}

func tagChange(op, id string, baseVersion int64, fields map[string]any) notesync.ChangePush {
	return change(notesync.EntityTag, op, id, baseVersion, fields)
}

func change(entity, op, id string, baseVersion int64, fields map[string]any) notesync.ChangePush {
	var payload json.RawMessage
	if fields != nil {
		raw, err := json.Marshal(fields)
		if err != nil {
			panic(err)
		}
		payload = raw
	}
	return notesync.ChangePush{
		Entity:      entity,
		ID:          id,
		Op:          op,
		BaseVersion: baseVersion,
		Payload:     payload,
	}
}

func requireApplied(t *testing.T, st notesync.ChangePushStatus, wantVersion int64) {
	t.Helper()
	require.Equal(t, notesync.StApplied, st.Status, "message: %s", st.Message)
	require.NotNil(t, st.NewVersion)
	require.Equal(t, wantVersion, *st.NewVersion)
}

func requireConflictApplied(t *testing.T, st notesync.ChangePushStatus, wantVersion int64) {
	t.Helper()
	require.Equal(t, notesync.StConflictApplied, st.Status, "message: %s", st.Message)
	require.NotNil(t, st.NewVersion)
	require.Equal(t, wantVersion, *st.NewVersion)
}

func requireAppliedNoop(t *testing.T, st notesync.ChangePushStatus) {
	t.Helper()
	require.Equal(t, notesync.StApplied, st.Status, "message: %s", st.Message)
	require.Nil(t, st.NewVersion)
}

func requireInvalid(t *testing.T, st notesync.ChangePushStatus, reason string) {
	t.Helper()
	require.Equal(t, notesync.StInvalid, st.Status)
	require.Equal(t, reason, st.Invalid["reason"])
}

func findNote(resp *notesync.PullResponse, id string) *notesync.NoteRecord {
	for i := range resp.Notes {
		if resp.Notes[i].ID == id {
			return &resp.Notes[i]
		}
	}
	return nil
}

func findTag(resp *notesync.PullResponse, id string) *notesync.TagRecord {
	for i := range resp.Tags {
		if resp.Tags[i].ID == id {
			return &resp.Tags[i]
		}
	}
	return nil
}
