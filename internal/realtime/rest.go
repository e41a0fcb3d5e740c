package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"clause/internal/files"
	"clause/internal/protocol"
	"clause/internal/session"
)

type sendRequest struct {
	Message string `json:"message"`
	WorkDir string `json:"workDir"`
	Context string `json:"context"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: message, Code: code})
}

func (h *Hub) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, protocol.ErrInvalidMessage, "invalid request body")
		return
	}

	if req.Message == "" {
		writeError(w, http.StatusBadRequest, protocol.ErrInvalidMessage, "message is required")
		return
	}
	if req.WorkDir == "" {
		writeError(w, http.StatusBadRequest, protocol.ErrInvalidMessage, "workDir is required")
		return
	}

	sessionID, err := h.sender.Send(session.Request{
		Message: req.Message,
		WorkDir: req.WorkDir,
		Context: req.Context,
	})
	if err != nil {
		h.logger.Warn("send to claude failed", "error", err)
		code := sendErrorCode(err)
		status := http.StatusInternalServerError
		if code == protocol.ErrSpawnFailed {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, code, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, protocol.ClaudeSentPayload{SessionID: sessionID})
}

func (h *Hub) handleAvailable(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
	defer cancel()

	writeJSON(w, http.StatusOK, protocol.ClaudeAvailablePayload{
		Available: h.available(ctx, h.claudePath),
	})
}

func (h *Hub) handleSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sessions.Snapshot())
}

func (h *Hub) handleListFiles(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, http.StatusBadRequest, protocol.ErrInvalidMessage, "path is required")
		return
	}

	entries, err := files.List(path)
	if err != nil {
		writeError(w, fileErrorStatus(err), protocol.ErrFileError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, protocol.FilesEntriesPayload{Path: path, Entries: entries})
}

func (h *Hub) handleReadFile(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, http.StatusBadRequest, protocol.ErrInvalidMessage, "path is required")
		return
	}

	content, err := files.Read(path)
	if err != nil {
		writeError(w, fileErrorStatus(err), protocol.ErrFileError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, protocol.FileContentPayload{Path: path, Content: content})
}

func (h *Hub) handleWriteFile(w http.ResponseWriter, r *http.Request) {
	var req protocol.FileWritePayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, protocol.ErrInvalidMessage, "invalid request body")
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, protocol.ErrInvalidMessage, "path is required")
		return
	}

	if err := files.Write(req.Path, req.Content); err != nil {
		writeError(w, http.StatusInternalServerError, protocol.ErrFileError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "written"})
}

func (h *Hub) handleWatch(w http.ResponseWriter, r *http.Request) {
	var req protocol.PathPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, protocol.ErrInvalidMessage, "invalid request body")
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, protocol.ErrInvalidMessage, "path is required")
		return
	}

	if err := h.watch(req.Path); err != nil {
		writeError(w, http.StatusBadRequest, protocol.ErrWatchFailed, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "watching"})
}

func fileErrorStatus(err error) int {
	switch {
	case errors.Is(err, files.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, files.ErrNotDir), errors.Is(err, files.ErrNotFile), errors.Is(err, files.ErrNotText):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
