package api

import (
	"net/http"
	"strings"

	"github.com/user/devdeck/internal/db"
)

type projectRequest struct {
	Name  string `json:"name"`
	Path  string `json:"path"`
	Color string `json:"color,omitempty"`
}

func (h *handler) createProject(w http.ResponseWriter, r *http.Request) {
	var req projectRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.Path) == "" {
		jsonError(w, http.StatusBadRequest, "name and path are required")
		return
	}

	project := &db.Project{Name: req.Name, Path: req.Path, Color: req.Color}
	if err := h.projectRepo.Create(r.Context(), project); err != nil {
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	jsonResponse(w, http.StatusCreated, project)
}

func (h *handler) listProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.projectRepo.List(r.Context(), db.ProjectFilter{
		Query: r.URL.Query().Get("q"),
	})
	if err != nil {
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	jsonResponse(w, http.StatusOK, projects)
}

func (h *handler) getProject(w http.ResponseWriter, r *http.Request) {
	project, err := h.projectRepo.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if project == nil {
		jsonError(w, http.StatusNotFound, "project not found")
		return
	}
	jsonResponse(w, http.StatusOK, project)
}

func (h *handler) updateProject(w http.ResponseWriter, r *http.Request) {
	project, err := h.projectRepo.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if project == nil {
		jsonError(w, http.StatusNotFound, "project not found")
		return
	}

	var req projectRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Name != "" {
		project.Name = req.Name
	}
	if req.Path != "" {
		project.Path = req.Path
	}
	if req.Color != "" {
		project.Color = req.Color
	}

	if err := h.projectRepo.Update(r.Context(), project); err != nil {
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	jsonResponse(w, http.StatusOK, project)
}

func (h *handler) deleteProject(w http.ResponseWriter, r *http.Request) {
	if err := h.projectRepo.Delete(r.Context(), r.PathValue("id")); err != nil {
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	jsonResponse(w, http.StatusNoContent, nil)
}

type startProcessRequest struct {
	Name     string   `json:"name"`
	Commands []string `json:"commands"`
	WorkDir  string   `json:"working_dir,omitempty"`
	Color    string   `json:"color,omitempty"`
	URL      string   `json:"url,omitempty"`
}

func (h *handler) listStartProcesses(w http.ResponseWriter, r *http.Request) {
	procs, err := h.startRepo.ListByProject(r.Context(), r.PathValue("id"))
	if err != nil {
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	jsonResponse(w, http.StatusOK, procs)
}

func (h *handler) replaceStartProcesses(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("id")
	project, err := h.projectRepo.Get(r.Context(), projectID)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if project == nil {
		jsonError(w, http.StatusNotFound, "project not found")
		return
	}

	var reqs []startProcessRequest
	if err := decodeJSON(r, &reqs); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	procs := make([]*db.StartProcess, 0, len(reqs))
	for _, req := range reqs {
		if strings.TrimSpace(req.Name) == "" {
			jsonError(w, http.StatusBadRequest, "every start process needs a name")
			return
		}
		procs = append(procs, &db.StartProcess{
			Name:     req.Name,
			Commands: req.Commands,
			WorkDir:  req.WorkDir,
			Color:    req.Color,
			URL:      req.URL,
		})
	}

	if err := h.startRepo.Replace(r.Context(), projectID, procs); err != nil {
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	jsonResponse(w, http.StatusOK, procs)
}

func (h *handler) listSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.settingsRepo.All(r.Context())
	if err != nil {
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	jsonResponse(w, http.StatusOK, settings)
}

type settingRequest struct {
	Value string `json:"value"`
}

func (h *handler) putSetting(w http.ResponseWriter, r *http.Request) {
	var req settingRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	key := r.PathValue("key")
	if err := h.settingsRepo.Set(r.Context(), key, req.Value); err != nil {
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	jsonResponse(w, http.StatusOK, map[string]string{key: req.Value})
}
