// Copyright 2025 ChillNote
// SPDX-License-Identifier: Apache-2.0

package notesync

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/chillnote/go-notesync/internal/auth"
)

// ClientAuthenticator extracts both user and device identity from HTTP requests.
// Implementations should validate auth (e.g., JWT) and provide both identifiers.
type ClientAuthenticator interface {
	GetUserID(r *http.Request) (string, error)
	GetDeviceID(r *http.Request) (string, error)
}

// HTTPSyncHandlers provides HTTP handlers for the two-way sync API
type HTTPSyncHandlers struct {
	service       *SyncService
	authenticator ClientAuthenticator
	logger        *slog.Logger
}

// NewHTTPSyncHandlers creates a new instance of sync handlers
func NewHTTPSyncHandlers(service *SyncService, authenticator ClientAuthenticator, logger *slog.Logger) *HTTPSyncHandlers {
	return &HTTPSyncHandlers{
		service:       service,
		authenticator: authenticator,
		logger:        logger,
	}
}

// identity resolves the caller. Behind the middleware the identity is already
// on the request context from the one token parse there; the authenticator is
// only consulted when the handler is mounted without it.
func (h *HTTPSyncHandlers) identity(w http.ResponseWriter, r *http.Request) (userID, deviceID string, ok bool) {
	if ctxUser, found := auth.GetUserID(r.Context()); found {
		if ctxDevice, foundDev := auth.GetDeviceID(r.Context()); foundDev {
			return ctxUser, ctxDevice, true
		}
	}

	userID, err := h.authenticator.GetUserID(r)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "authentication_failed", err.Error())
		return "", "", false
	}
	deviceID, err = h.authenticator.GetDeviceID(r)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "authentication_failed", err.Error())
		return "", "", false
	}
	return userID, deviceID, true
}

// HandleSync processes a combined push+pull cycle
func (h *HTTPSyncHandlers) HandleSync(w http.ResponseWriter, r *http.Request) {
	userID, deviceID, ok := h.identity(w, r)
	if !ok {
		return
	}

	var syncReq SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&syncReq); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Failed to parse sync request")
		return
	}

	response, err := h.service.ProcessSync(r.Context(), userID, deviceID, &syncReq)
	if err != nil {
		h.writeServiceError(w, err, "sync_failed", "Failed to process sync", userID, deviceID)
		return
	}

	h.writeJSON(w, response, userID, deviceID)
}

// HandlePush processes batch push requests with conflict resolution
func (h *HTTPSyncHandlers) HandlePush(w http.ResponseWriter, r *http.Request) {
	userID, deviceID, ok := h.identity(w, r)
	if !ok {
		return
	}

	var pushReq PushRequest
	if err := json.NewDecoder(r.Body).Decode(&pushReq); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Failed to parse push request")
		return
	}

	response, err := h.service.ProcessPush(r.Context(), userID, deviceID, &pushReq)
	if err != nil {
		h.writeServiceError(w, err, "push_failed", "Failed to process push", userID, deviceID)
		return
	}

	h.writeJSON(w, response, userID, deviceID)
}

// HandlePull processes incremental pull requests. The optional since query
// parameter is RFC 3339; absent means full resync.
func (h *HTTPSyncHandlers) HandlePull(w http.ResponseWriter, r *http.Request) {
	userID, deviceID, ok := h.identity(w, r)
	if !ok {
		return
	}

	var since *time.Time
	if sinceStr := r.URL.Query().Get("since"); sinceStr != "" {
		parsed, err := time.Parse(time.RFC3339Nano, sinceStr)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "since must be an RFC 3339 timestamp")
			return
		}
		since = &parsed
	}

	response, err := h.service.ProcessPull(r.Context(), userID, since)
	if err != nil {
		h.writeServiceError(w, err, "pull_failed", "Failed to process pull", userID, deviceID)
		return
	}

	h.writeJSON(w, response, userID, deviceID)
}

// HandleSchemaVersion returns the current schema version
func (h *HTTPSyncHandlers) HandleSchemaVersion(w http.ResponseWriter, r *http.Request) {
	response := SchemaVersionResponse{
		Version: h.service.GetSchemaVersion(),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func (h *HTTPSyncHandlers) writeJSON(w http.ResponseWriter, response any, userID, deviceID string) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.Error("Failed to encode response", "error", err, "user_id", userID, "device_id", deviceID)
	}
}

// writeServiceError maps service failures to HTTP statuses. Retryable storage
// failures become 503 so clients back off and resend the same batch.
func (h *HTTPSyncHandlers) writeServiceError(w http.ResponseWriter, err error, errorCode, message, userID, deviceID string) {
	if errors.Is(err, ErrRetryable) {
		h.logger.Warn("Transient storage contention", "error", err, "user_id", userID, "device_id", deviceID)
		w.Header().Set("Retry-After", "1")
		h.writeError(w, http.StatusServiceUnavailable, "retry", "Temporary contention, retry the request")
		return
	}
	h.logger.Error(message, "error", err, "user_id", userID, "device_id", deviceID)
	h.writeError(w, http.StatusInternalServerError, errorCode, message)
}

// writeError writes a standardized error response
func (h *HTTPSyncHandlers) writeError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errorResponse := ErrorResponse{
		Error:   errorCode,
		Message: message,
	}
	json.NewEncoder(w).Encode(errorResponse)

	h.logger.Debug("HTTP error response",
		"status_code", statusCode,
		"error_code", errorCode,
		"message", message)
}

// NewRouter wires the sync API onto a ServeMux. All sync endpoints sit behind
// JWT; health stays open for load balancer probes.
func NewRouter(service *SyncService, jwtAuth *JWTAuth, logger *slog.Logger) http.Handler {
	handlers := NewHTTPSyncHandlers(service, jwtAuth, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /sync", handlers.HandleSync)
	mux.HandleFunc("POST /sync/push", handlers.HandlePush)
	mux.HandleFunc("GET /sync/pull", handlers.HandlePull)
	mux.HandleFunc("GET /sync/schema-version", handlers.HandleSchemaVersion)

	protected := jwtAuth.Middleware(mux)

	root := http.NewServeMux()
	root.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	root.Handle("/", protected)
	return root
}
