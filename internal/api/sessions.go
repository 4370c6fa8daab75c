package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/user/devdeck/internal/controller"
	"github.com/user/devdeck/internal/session"
)

type createSessionRequest struct {
	WorkingDir string `json:"working_dir,omitempty"`
	ProjectID  string `json:"project_id,omitempty"`
	Command    string `json:"command,omitempty"`
	Title      string `json:"title,omitempty"`
}

type writeSessionRequest struct {
	Data string `json:"data"`
}

type resizeSessionRequest struct {
	Cols int `json:"cols"`
	Rows int `json:"rows"`
}

type okResponse struct {
	OK bool `json:"ok"`
}

func (h *handler) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	sess, err := h.registry.Create(session.CreateRequest{
		WorkingDir: req.WorkingDir,
		ProjectID:  req.ProjectID,
		Command:    req.Command,
		Title:      req.Title,
	})
	if err != nil {
		var spawnErr *session.SpawnError
		if errors.As(err, &spawnErr) {
			jsonError(w, http.StatusInternalServerError, spawnErr.Error())
			return
		}
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}

	jsonResponse(w, http.StatusCreated, sess)
}

func (h *handler) listSessions(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, h.registry.List(r.URL.Query().Get("project_id")))
}

func (h *handler) getSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.registry.Get(r.PathValue("id"))
	if !ok {
		jsonError(w, http.StatusNotFound, "session not found")
		return
	}
	jsonResponse(w, http.StatusOK, sess)
}

// writeSession forwards input to the session's stdin. Unknown or exited
// sessions report ok=false; that is a no-op, not an error.
func (h *handler) writeSession(w http.ResponseWriter, r *http.Request) {
	var req writeSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	ok := h.registry.Write(r.PathValue("id"), []byte(req.Data))
	jsonResponse(w, http.StatusOK, okResponse{OK: ok})
}

func (h *handler) resizeSession(w http.ResponseWriter, r *http.Request) {
	var req resizeSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Cols < 1 || req.Rows < 1 {
		jsonError(w, http.StatusBadRequest, "cols and rows must be positive")
		return
	}
	ok := h.registry.Resize(r.PathValue("id"), req.Cols, req.Rows)
	jsonResponse(w, http.StatusOK, okResponse{OK: ok})
}

func (h *handler) killSession(w http.ResponseWriter, r *http.Request) {
	ok := h.registry.Kill(r.PathValue("id"))
	jsonResponse(w, http.StatusOK, okResponse{OK: ok})
}

func (h *handler) getSessionOutput(w http.ResponseWriter, r *http.Request) {
	maxLines := 0
	if raw := r.URL.Query().Get("lines"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			jsonError(w, http.StatusBadRequest, "lines must be a non-negative integer")
			return
		}
		maxLines = n
	}

	out, err := h.controller.ProcessOutput(r.PathValue("id"), maxLines)
	if err != nil {
		if errors.Is(err, controller.ErrSessionNotFound) {
			jsonError(w, http.StatusNotFound, "session not found")
			return
		}
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	jsonResponse(w, http.StatusOK, out)
}
