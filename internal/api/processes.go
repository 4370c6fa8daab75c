package api

import (
	"errors"
	"net/http"

	"github.com/user/devdeck/internal/controller"
)

// startProjectProcesses loads the project's start-process definitions
// and runs them. A project with nothing configured is a caller error,
// distinguishable from a project that ran nothing successfully.
func (h *handler) startProjectProcesses(w http.ResponseWriter, r *http.Request) {
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

	procs, err := h.startRepo.ListByProject(r.Context(), projectID)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}

	defs := make([]controller.Definition, 0, len(procs))
	for _, sp := range procs {
		defs = append(defs, controller.Definition{
			ID:       sp.ID,
			Name:     sp.Name,
			Commands: sp.Commands,
			WorkDir:  sp.WorkDir,
			Color:    sp.Color,
			URL:      sp.URL,
		})
	}

	result, err := h.controller.StartProjectProcesses(projectID, project.Path, defs)
	if err != nil {
		if errors.Is(err, controller.ErrNoStartProcesses) {
			jsonError(w, http.StatusBadRequest, "no start processes configured")
			return
		}
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	jsonResponse(w, http.StatusOK, result)
}

type stopResponse struct {
	Stopped int `json:"stopped"`
}

func (h *handler) stopProjectProcesses(w http.ResponseWriter, r *http.Request) {
	stopped := h.controller.StopProjectProcesses(r.PathValue("id"))
	jsonResponse(w, http.StatusOK, stopResponse{Stopped: stopped})
}

func (h *handler) getProjectStatus(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, h.controller.ProjectStatus(r.PathValue("id")))
}

func (h *handler) getAllProjectStatuses(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, h.controller.ProjectStatuses())
}
