package notesync

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chillnote/go-notesync/notesync"
)

type httpHarness struct {
	*Harness
	server  *httptest.Server
	jwtAuth *notesync.JWTAuth
}

func newHTTPHarness(t *testing.T) *httpHarness {
	t.Helper()
	h := NewHarness(t)

	jwtAuth := notesync.NewJWTAuth("integration-test-secret")
	server := httptest.NewServer(notesync.NewRouter(h.service, jwtAuth, testLogger()))

	return &httpHarness{Harness: h, server: server, jwtAuth: jwtAuth}
}

func (h *httpHarness) Close() {
	h.server.Close()
	h.Cleanup()
}

func (h *httpHarness) token(userID, deviceID string) string {
	h.t.Helper()
	tok, err := h.jwtAuth.GenerateToken(userID, deviceID, time.Hour)
	require.NoError(h.t, err)
	return tok
}

func (h *httpHarness) do(method, path, token string, body any) *http.Response {
	h.t.Helper()

	var reqBody *bytes.Buffer = bytes.NewBuffer(nil)
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(h.t, err)
		reqBody = bytes.NewBuffer(raw)
	}

	req, err := http.NewRequest(method, h.server.URL+path, reqBody)
	require.NoError(h.t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(h.t, err)
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) *T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return &out
}

func TestHTTP_RequiresAuth(t *testing.T) {
	h := newHTTPHarness(t)
	defer h.Close()

	for _, tc := range []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/sync"},
		{http.MethodPost, "/sync/push"},
		{http.MethodGet, "/sync/pull"},
		{http.MethodGet, "/sync/schema-version"},
	} {
		resp := h.do(tc.method, tc.path, "", nil)
		resp.Body.Close()
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode, "%s %s", tc.method, tc.path)
	}
}

func TestHTTP_HealthIsOpen(t *testing.T) {
	h := newHTTPHarness(t)
	defer h.Close()

	resp := h.do(http.MethodGet, "/health", "", nil)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHTTP_PushPullCycle(t *testing.T) {
	h := newHTTPHarness(t)
	defer h.Close()

	token := h.token("http-user", "http-device")
	noteID := h.MakeUUID("b001")

	resp := h.do(http.MethodPost, "/sync/push", token, &notesync.PushRequest{
		Changes: []notesync.ChangePush{
			noteChange(notesync.OpCreate, noteID, 0, map[string]any{"content": "over http"}),
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	pushResp := decodeBody[notesync.PushResponse](t, resp)
	require.True(t, pushResp.Accepted)
	requireApplied(t, pushResp.Statuses[0], 1)

	resp = h.do(http.MethodGet, "/sync/pull", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	pullResp := decodeBody[notesync.PullResponse](t, resp)
	note := findNote(pullResp, noteID)
	require.NotNil(t, note)
	require.Equal(t, "over http", note.Content)
	require.Equal(t, "http-device", note.LastDeviceID)

	// Incremental pull with the returned watermark comes back empty.
	since := pullResp.ServerTime.Format(time.RFC3339Nano)
	resp = h.do(http.MethodGet, "/sync/pull?since="+since, token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	delta := decodeBody[notesync.PullResponse](t, resp)
	require.Empty(t, delta.Notes)
}

func TestHTTP_PullRejectsBadSince(t *testing.T) {
	h := newHTTPHarness(t)
	defer h.Close()

	token := h.token("http-user", "http-device")
	resp := h.do(http.MethodGet, "/sync/pull?since=yesterday", token, nil)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHTTP_CombinedSync(t *testing.T) {
	h := newHTTPHarness(t)
	defer h.Close()

	token := h.token("http-user", "http-device")
	noteID := h.MakeUUID("b002")

	resp := h.do(http.MethodPost, "/sync", token, &notesync.SyncRequest{
		Changes: []notesync.ChangePush{
			noteChange(notesync.OpCreate, noteID, 0, map[string]any{"content": "one round"}),
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	syncResp := decodeBody[notesync.SyncResponse](t, resp)
	require.True(t, syncResp.Accepted)
	require.NotNil(t, findNote(&notesync.PullResponse{Notes: syncResp.Notes, Tags: syncResp.Tags}, noteID))
}

func TestHTTP_SchemaVersion(t *testing.T) {
	h := newHTTPHarness(t)
	defer h.Close()

	token := h.token("http-user", "http-device")
	resp := h.do(http.MethodGet, "/sync/schema-version", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	ver := decodeBody[notesync.SchemaVersionResponse](t, resp)
	require.Equal(t, 1, ver.Version)
}

func TestHTTP_MalformedPushBody(t *testing.T) {
	h := newHTTPHarness(t)
	defer h.Close()

	token := h.token("http-user", "http-device")

	req, err := http.NewRequest(http.MethodPost, h.server.URL+"/sync/push", bytes.NewBufferString("{broken"))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
