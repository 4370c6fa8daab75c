// Package controller orchestrates multi-step project start sequences
// on top of the session registry and reports aggregate status.
package controller

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/user/devdeck/internal/session"
)

// ErrNoStartProcesses reports that a project has no start-process
// definitions. Callers must be able to tell "nothing configured" apart
// from "ran nothing".
var ErrNoStartProcesses = errors.New("no start processes configured")

// ErrSessionNotFound reports an operation against an unknown or
// already-removed session. Never fatal; callers treat it as gone.
var ErrSessionNotFound = errors.New("session not found")

// Definition is one declared sub-process of a project's start sequence:
// an ordered list of shell commands run serially within one session.
type Definition struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Commands []string `json:"commands"`
	WorkDir  string   `json:"workingDir,omitempty"`
	Color    string   `json:"color,omitempty"`
	URL      string   `json:"url,omitempty"`
}

// ProcessStatus is one entry of a project status snapshot.
type ProcessStatus struct {
	ProcessID string `json:"processId"`
	Name      string `json:"name"`
	Status    string `json:"status"`
}

// StartResult reports the outcome of starting a project's processes.
type StartResult struct {
	ProjectID string          `json:"projectId"`
	Processes []ProcessStatus `json:"processes"`
}

// ProjectSnapshot is a pure read of every session tracked for a project.
type ProjectSnapshot struct {
	ProjectID string          `json:"projectId"`
	Processes []ProcessStatus `json:"processes"`
}

// Output is the pull-based view of a session's retained output.
type Output struct {
	Output string   `json:"output"`
	Lines  []string `json:"lines"`
}

// Controller drives start sequences. It holds no state of its own
// beyond the registry handle; the registry stays the single source of
// truth for what is running.
type Controller struct {
	registry *session.Registry
}

// New creates a Controller over the given registry.
func New(registry *session.Registry) *Controller {
	return &Controller{registry: registry}
}

// StartProjectProcesses spawns one session per definition. Within a
// definition the commands run serially, each starting only after the
// previous one exited zero; the first non-zero exit aborts the rest of
// the sequence and becomes the session's exit code. Definitions run
// concurrently with each other. A definition with no commands, or only
// blank ones, is skipped as an exited no-op. defaultDir is used when a
// definition does not declare its own working directory.
func (c *Controller) StartProjectProcesses(projectID, defaultDir string, defs []Definition) (StartResult, error) {
	if len(defs) == 0 {
		return StartResult{}, fmt.Errorf("project %q: %w", projectID, ErrNoStartProcesses)
	}

	result := StartResult{ProjectID: projectID, Processes: make([]ProcessStatus, 0, len(defs))}
	for _, def := range defs {
		name := def.Name
		if name == "" {
			name = def.ID
		}

		// All-blank commands chain to nothing; spawning with an empty
		// command would mean an interactive shell, not the requested
		// no-op.
		command := chainCommands(def.Commands)
		if command == "" {
			result.Processes = append(result.Processes, ProcessStatus{
				ProcessID: def.ID,
				Name:      name,
				Status:    string(session.StatusExited),
			})
			continue
		}

		workDir := def.WorkDir
		if workDir == "" {
			workDir = defaultDir
		}

		sess, err := c.registry.Create(session.CreateRequest{
			WorkingDir: workDir,
			ProjectID:  projectID,
			Command:    command,
			Title:      name,
		})
		if err != nil {
			slog.Error("start process spawn failed",
				"project_id", projectID, "process", name, "error", err)
			result.Processes = append(result.Processes, ProcessStatus{
				ProcessID: def.ID,
				Name:      name,
				Status:    "failed",
			})
			continue
		}

		result.Processes = append(result.Processes, ProcessStatus{
			ProcessID: sess.ID,
			Name:      name,
			Status:    string(sess.Status),
		})
	}

	return result, nil
}

// chainCommands joins a sequence into a single shell command where step
// i+1 runs only if step i exited zero, and the chain's exit code is the
// first failing step's code.
func chainCommands(commands []string) string {
	parts := make([]string, 0, len(commands))
	for _, cmd := range commands {
		cmd = strings.TrimSpace(cmd)
		if cmd == "" {
			continue
		}
		parts = append(parts, "{ "+cmd+"; }")
	}
	return strings.Join(parts, " && ")
}

// StopProjectProcesses kills every session registered to the project.
// Already-exited sessions count as stopped; nothing aborts the sweep.
func (c *Controller) StopProjectProcesses(projectID string) int {
	stopped := 0
	for _, sess := range c.registry.List(projectID) {
		if c.registry.Kill(sess.ID) {
			stopped++
		}
	}
	return stopped
}

// StopProcess kills one session. Unknown ids are already gone and
// report ErrSessionNotFound; killing twice is safe.
func (c *Controller) StopProcess(sessionID string) error {
	if !c.registry.Kill(sessionID) {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return nil
}

// ProjectStatus returns the status snapshot for one project. Pure read.
func (c *Controller) ProjectStatus(projectID string) ProjectSnapshot {
	snap := ProjectSnapshot{ProjectID: projectID, Processes: []ProcessStatus{}}
	for _, sess := range c.registry.List(projectID) {
		snap.Processes = append(snap.Processes, ProcessStatus{
			ProcessID: sess.ID,
			Name:      sess.Title,
			Status:    string(sess.Status),
		})
	}
	return snap
}

// ProjectStatuses returns snapshots for every tracked project.
func (c *Controller) ProjectStatuses() []ProjectSnapshot {
	byProject := make(map[string]*ProjectSnapshot)
	order := []string{}
	for _, sess := range c.registry.List("") {
		if sess.ProjectID == "" {
			continue
		}
		snap, ok := byProject[sess.ProjectID]
		if !ok {
			snap = &ProjectSnapshot{ProjectID: sess.ProjectID, Processes: []ProcessStatus{}}
			byProject[sess.ProjectID] = snap
			order = append(order, sess.ProjectID)
		}
		snap.Processes = append(snap.Processes, ProcessStatus{
			ProcessID: sess.ID,
			Name:      sess.Title,
			Status:    string(sess.Status),
		})
	}

	out := make([]ProjectSnapshot, 0, len(order))
	for _, id := range order {
		out = append(out, *byProject[id])
	}
	return out
}

// ProcessOutput returns the session's current output tail, joined and
// split, for polling clients that do not use the socket gateway.
func (c *Controller) ProcessOutput(sessionID string, maxLines int) (Output, error) {
	joined, lines, ok := c.registry.Output(sessionID, maxLines)
	if !ok {
		return Output{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if lines == nil {
		lines = []string{}
	}
	return Output{Output: joined, Lines: lines}, nil
}
