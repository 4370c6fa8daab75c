package controller

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/user/devdeck/internal/session"
)

func newTestController(t *testing.T) (*Controller, *session.Registry) {
	t.Helper()
	reg := session.NewRegistry(session.WithShell("/bin/sh"), session.WithKillGrace(time.Second))
	t.Cleanup(reg.Close)
	return New(reg), reg
}

func waitForExit(t *testing.T, reg *session.Registry, id string) session.Session {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		sess, ok := reg.Get(id)
		if !ok {
			t.Fatalf("session %s disappeared while waiting for exit", id)
		}
		if sess.Status == session.StatusExited {
			return sess
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("session %s did not exit in time", id)
	return session.Session{}
}

func TestStartProjectProcessesRunsCommandsInOrder(t *testing.T) {
	ctrl, reg := newTestController(t)
	dir := t.TempDir()

	res, err := ctrl.StartProjectProcesses("p1", dir, []Definition{{
		ID:       "build",
		Name:     "build",
		Commands: []string{"echo one", "echo two", "echo three"},
	}})
	if err != nil {
		t.Fatalf("StartProjectProcesses: %v", err)
	}
	if len(res.Processes) != 1 {
		t.Fatalf("got %d processes, want 1", len(res.Processes))
	}

	final := waitForExit(t, reg, res.Processes[0].ProcessID)
	if final.ExitCode == nil || *final.ExitCode != 0 {
		t.Fatalf("exit code = %v, want 0", final.ExitCode)
	}

	out, err := ctrl.ProcessOutput(final.ID, 0)
	if err != nil {
		t.Fatalf("ProcessOutput: %v", err)
	}
	idxOne := strings.Index(out.Output, "one")
	idxTwo := strings.Index(out.Output, "two")
	idxThree := strings.Index(out.Output, "three")
	if idxOne < 0 || idxTwo < idxOne || idxThree < idxTwo {
		t.Errorf("commands ran out of order: %q", out.Output)
	}
}

func TestStartProjectProcessesStopsAtFirstFailure(t *testing.T) {
	ctrl, reg := newTestController(t)
	dir := t.TempDir()
	marker := filepath.Join(dir, "ran-third")

	res, err := ctrl.StartProjectProcesses("p1", dir, []Definition{{
		ID:   "seq",
		Name: "seq",
		Commands: []string{
			"echo starting",
			"exit 7",
			"touch " + marker,
		},
	}})
	if err != nil {
		t.Fatalf("StartProjectProcesses: %v", err)
	}

	final := waitForExit(t, reg, res.Processes[0].ProcessID)
	if final.ExitCode == nil || *final.ExitCode != 7 {
		t.Errorf("exit code = %v, want the first failing command's 7", final.ExitCode)
	}
	if _, err := os.Stat(marker); !os.IsNotExist(err) {
		t.Error("command after the failing one still ran")
	}
}

func TestStartProjectProcessesNoDefinitions(t *testing.T) {
	ctrl, _ := newTestController(t)

	_, err := ctrl.StartProjectProcesses("p1", t.TempDir(), nil)
	if !errors.Is(err, ErrNoStartProcesses) {
		t.Fatalf("err = %v, want ErrNoStartProcesses", err)
	}
}

func TestStartProjectProcessesSkipsEmptyDefinition(t *testing.T) {
	ctrl, reg := newTestController(t)

	res, err := ctrl.StartProjectProcesses("p1", t.TempDir(), []Definition{
		{ID: "noop", Name: "noop"},
		{ID: "real", Name: "real", Commands: []string{"echo hi"}},
	})
	if err != nil {
		t.Fatalf("StartProjectProcesses: %v", err)
	}
	if len(res.Processes) != 2 {
		t.Fatalf("got %d processes, want 2", len(res.Processes))
	}
	if res.Processes[0].ProcessID != "noop" || res.Processes[0].Status != string(session.StatusExited) {
		t.Errorf("empty definition = %+v, want exited no-op", res.Processes[0])
	}
	waitForExit(t, reg, res.Processes[1].ProcessID)
}

// A definition whose commands are all blank chains to an empty shell
// command; it must be skipped like the zero-commands case, never
// handed to the registry where an empty command means an interactive
// shell.
func TestStartProjectProcessesSkipsBlankCommands(t *testing.T) {
	ctrl, reg := newTestController(t)

	res, err := ctrl.StartProjectProcesses("p1", t.TempDir(), []Definition{
		{ID: "blank", Name: "blank", Commands: []string{"   ", "", "\t"}},
	})
	if err != nil {
		t.Fatalf("StartProjectProcesses: %v", err)
	}
	if len(res.Processes) != 1 {
		t.Fatalf("got %d processes, want 1", len(res.Processes))
	}
	got := res.Processes[0]
	if got.ProcessID != "blank" || got.Status != string(session.StatusExited) {
		t.Errorf("blank definition = %+v, want exited no-op", got)
	}
	if sessions := reg.List("p1"); len(sessions) != 0 {
		t.Errorf("a session was spawned for blank commands: %+v", sessions)
	}
}

func TestStartProjectProcessesRunConcurrently(t *testing.T) {
	ctrl, reg := newTestController(t)

	res, err := ctrl.StartProjectProcesses("p1", t.TempDir(), []Definition{
		{ID: "a", Name: "a", Commands: []string{"echo a"}},
		{ID: "b", Name: "b", Commands: []string{"echo b"}},
	})
	if err != nil {
		t.Fatalf("StartProjectProcesses: %v", err)
	}
	if len(res.Processes) != 2 {
		t.Fatalf("got %d processes, want 2", len(res.Processes))
	}
	// Both sessions exist immediately; neither waited for the other.
	for _, p := range res.Processes {
		if _, ok := reg.Get(p.ProcessID); !ok {
			t.Errorf("process %s not registered", p.Name)
		}
	}
}

func TestStopProjectProcesses(t *testing.T) {
	ctrl, reg := newTestController(t)

	res, err := ctrl.StartProjectProcesses("p1", t.TempDir(), []Definition{
		{ID: "a", Name: "a", Commands: []string{"sleep 30"}},
		{ID: "b", Name: "b", Commands: []string{"sleep 30"}},
	})
	if err != nil {
		t.Fatalf("StartProjectProcesses: %v", err)
	}

	stopped := ctrl.StopProjectProcesses("p1")
	if stopped != 2 {
		t.Errorf("stopped %d processes, want 2", stopped)
	}
	for _, p := range res.Processes {
		waitForExit(t, reg, p.ProcessID)
	}
}

func TestStopProcessUnknownID(t *testing.T) {
	ctrl, _ := newTestController(t)

	err := ctrl.StopProcess("no-such-session")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestProjectStatusGroupsByProject(t *testing.T) {
	ctrl, _ := newTestController(t)

	if _, err := ctrl.StartProjectProcesses("p1", t.TempDir(), []Definition{
		{ID: "a", Name: "a", Commands: []string{"sleep 30"}},
	}); err != nil {
		t.Fatalf("StartProjectProcesses: %v", err)
	}
	if _, err := ctrl.StartProjectProcesses("p2", t.TempDir(), []Definition{
		{ID: "b", Name: "b", Commands: []string{"sleep 30"}},
	}); err != nil {
		t.Fatalf("StartProjectProcesses: %v", err)
	}

	snap := ctrl.ProjectStatus("p1")
	if len(snap.Processes) != 1 || snap.Processes[0].Name != "a" {
		t.Errorf("ProjectStatus(p1) = %+v", snap)
	}

	all := ctrl.ProjectStatuses()
	if len(all) != 2 {
		t.Errorf("ProjectStatuses returned %d projects, want 2", len(all))
	}
}

func TestProcessOutputUnknownSession(t *testing.T) {
	ctrl, _ := newTestController(t)

	_, err := ctrl.ProcessOutput("missing", 0)
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestChainCommands(t *testing.T) {
	got := chainCommands([]string{"npm install", "", "npm run dev"})
	want := "{ npm install; } && { npm run dev; }"
	if got != want {
		t.Errorf("chainCommands = %q, want %q", got, want)
	}
}
