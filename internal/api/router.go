// Package api exposes the session and project process control surface
// over HTTP. The live streaming paths are WebSocket endpoints mounted
// by the server, not here.
package api

import (
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/user/devdeck/internal/controller"
	"github.com/user/devdeck/internal/db"
	"github.com/user/devdeck/internal/session"
)

type handler struct {
	registry     *session.Registry
	controller   *controller.Controller
	projectRepo  *db.ProjectRepo
	startRepo    *db.StartProcessRepo
	settingsRepo *db.SettingsRepo
}

func NewRouter(conn *sql.DB, registry *session.Registry, ctrl *controller.Controller, token string) http.Handler {
	h := &handler{
		registry:     registry,
		controller:   ctrl,
		projectRepo:  db.NewProjectRepo(conn),
		startRepo:    db.NewStartProcessRepo(conn),
		settingsRepo: db.NewSettingsRepo(conn),
	}

	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/sessions", h.createSession)
	mux.HandleFunc("GET /api/sessions", h.listSessions)
	mux.HandleFunc("GET /api/sessions/{id}", h.getSession)
	mux.HandleFunc("POST /api/sessions/{id}/input", h.writeSession)
	mux.HandleFunc("POST /api/sessions/{id}/resize", h.resizeSession)
	mux.HandleFunc("GET /api/sessions/{id}/output", h.getSessionOutput)
	mux.HandleFunc("DELETE /api/sessions/{id}", h.killSession)

	mux.HandleFunc("POST /api/projects", h.createProject)
	mux.HandleFunc("GET /api/projects", h.listProjects)
	mux.HandleFunc("GET /api/projects/{id}", h.getProject)
	mux.HandleFunc("PATCH /api/projects/{id}", h.updateProject)
	mux.HandleFunc("DELETE /api/projects/{id}", h.deleteProject)

	mux.HandleFunc("GET /api/projects/{id}/start-processes", h.listStartProcesses)
	mux.HandleFunc("PUT /api/projects/{id}/start-processes", h.replaceStartProcesses)

	mux.HandleFunc("POST /api/projects/{id}/processes/start", h.startProjectProcesses)
	mux.HandleFunc("POST /api/projects/{id}/processes/stop", h.stopProjectProcesses)
	mux.HandleFunc("GET /api/projects/{id}/processes", h.getProjectStatus)
	mux.HandleFunc("GET /api/processes", h.getAllProjectStatuses)

	mux.HandleFunc("GET /api/settings", h.listSettings)
	mux.HandleFunc("PUT /api/settings/{key}", h.putSetting)

	return authMiddleware(token)(jsonMiddleware(corsMiddleware(mux)))
}

func authMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
			if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
				if strings.TrimSpace(authHeader[7:]) == token {
					next.ServeHTTP(w, r)
					return
				}
			}

			if r.URL.Query().Get("token") == token {
				next.ServeHTTP(w, r)
				return
			}

			jsonError(w, http.StatusUnauthorized, "unauthorized")
		})
	}
}

func jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,PUT,DELETE,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization,Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func decodeJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return io.ErrUnexpectedEOF
	}
	return nil
}

func jsonResponse(w http.ResponseWriter, status int, data any) {
	w.WriteHeader(status)
	if data == nil || status == http.StatusNoContent {
		return
	}
	_ = json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, struct {
		Error string `json:"error"`
	}{Error: message})
}
