package session

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry(WithShell("/bin/sh"), WithKillGrace(time.Second))
	t.Cleanup(r.Close)
	return r
}

// waitForExit polls until the session reports Exited or the deadline
// passes.
func waitForExit(t *testing.T, r *Registry, id string) Session {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		sess, ok := r.Get(id)
		if !ok {
			t.Fatalf("session %s disappeared while waiting for exit", id)
		}
		if sess.Status == StatusExited {
			return sess
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("session %s did not exit in time", id)
	return Session{}
}

func TestCreateCommandSessionExitCodeAndOutput(t *testing.T) {
	r := newTestRegistry(t)

	sess, err := r.Create(CreateRequest{
		WorkingDir: t.TempDir(),
		Command:    "echo hello && exit 3",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if sess.Status != StatusRunning {
		t.Fatalf("new session status = %q, want %q", sess.Status, StatusRunning)
	}
	if sess.ExitCode != nil {
		t.Errorf("running session advertises exit code %d", *sess.ExitCode)
	}

	final := waitForExit(t, r, sess.ID)
	if final.ExitCode == nil || *final.ExitCode != 3 {
		t.Errorf("exit code = %v, want 3", final.ExitCode)
	}

	joined, _, ok := r.Output(sess.ID, 0)
	if !ok {
		t.Fatal("Output: session not found")
	}
	if !strings.Contains(joined, "hello") {
		t.Errorf("output %q does not contain %q", joined, "hello")
	}
}

func TestStatusTransitionsOnce(t *testing.T) {
	r := newTestRegistry(t)

	sess, err := r.Create(CreateRequest{Command: "true"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	waitForExit(t, r, sess.ID)

	// Force repeated exit observations; the guard must keep the first
	// recorded code and emit no second exit chunk.
	r.mu.RLock()
	h := r.handles[sess.ID]
	r.mu.RUnlock()
	h.markExited(42)
	h.markExited(43)

	final, _ := r.Get(sess.ID)
	if final.Status != StatusExited || final.ExitCode == nil || *final.ExitCode != 0 {
		t.Errorf("status/exit after duplicate notifications = %q/%v, want exited/0", final.Status, final.ExitCode)
	}

	exitChunks := 0
	for _, c := range h.buf.Snapshot() {
		if c.Stream == StreamExit {
			exitChunks++
		}
	}
	if exitChunks != 1 {
		t.Errorf("found %d exit chunks, want exactly 1", exitChunks)
	}
}

func TestWriteToExitedSessionIsNoOp(t *testing.T) {
	r := newTestRegistry(t)

	sess, err := r.Create(CreateRequest{Command: "true"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	waitForExit(t, r, sess.ID)

	if r.Write(sess.ID, []byte("anything\n")) {
		t.Error("Write to exited session reported true")
	}
	if r.Write("unknown-id", []byte("x")) {
		t.Error("Write to unknown session reported true")
	}
}

func TestWriteReachesProcessStdin(t *testing.T) {
	r := newTestRegistry(t)

	sess, err := r.Create(CreateRequest{Command: "read line; echo got:$line"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if !r.Write(sess.ID, []byte("ping\n")) {
		t.Fatal("Write returned false for a running session")
	}

	final := waitForExit(t, r, sess.ID)
	if final.ExitCode == nil || *final.ExitCode != 0 {
		t.Fatalf("exit code = %v", final.ExitCode)
	}
	joined, _, _ := r.Output(sess.ID, 0)
	if !strings.Contains(joined, "got:ping") {
		t.Errorf("output %q does not contain written data", joined)
	}
}

func TestKillIsIdempotent(t *testing.T) {
	r := newTestRegistry(t)

	sess, err := r.Create(CreateRequest{Command: "sleep 30"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if !r.Kill(sess.ID) {
		t.Fatal("first Kill returned false")
	}
	if !r.Kill(sess.ID) {
		t.Error("second Kill returned false")
	}
	if r.Kill("unknown-id") {
		t.Error("Kill of unknown id returned true")
	}
}

func TestKillRemovesExitedSession(t *testing.T) {
	r := newTestRegistry(t)

	sess, err := r.Create(CreateRequest{Command: "true"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	waitForExit(t, r, sess.ID)

	if !r.Kill(sess.ID) {
		t.Fatal("Kill of exited session returned false")
	}
	if _, ok := r.Get(sess.ID); ok {
		t.Error("session still present after acknowledged kill")
	}
	if r.Kill(sess.ID) {
		t.Error("Kill after removal returned true")
	}
}

func TestListFiltersByProject(t *testing.T) {
	r := newTestRegistry(t)

	a, err := r.Create(CreateRequest{Command: "sleep 30", ProjectID: "p1"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := r.Create(CreateRequest{Command: "sleep 30", ProjectID: "p2"}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	all := r.List("")
	if len(all) != 2 {
		t.Fatalf("List(\"\") returned %d sessions, want 2", len(all))
	}

	p1 := r.List("p1")
	if len(p1) != 1 || p1[0].ID != a.ID {
		t.Fatalf("List(p1) = %+v, want only session %s", p1, a.ID)
	}
}

func TestResizeIsAcceptedWithoutEffect(t *testing.T) {
	r := newTestRegistry(t)

	sess, err := r.Create(CreateRequest{Command: "sleep 30"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if !r.Resize(sess.ID, 80, 24) {
		t.Error("Resize of existing session reported false")
	}
	if r.Resize("unknown-id", 80, 24) {
		t.Error("Resize of unknown session reported true")
	}
}

func TestSubscribeReplaysBacklogThenLive(t *testing.T) {
	r := newTestRegistry(t)

	sess, err := r.Create(CreateRequest{Command: "echo first; read line; echo second; echo done"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Let the first line land in the buffer before attaching.
	deadline := time.Now().Add(5 * time.Second)
	for {
		if joined, _, _ := r.Output(sess.ID, 0); strings.Contains(joined, "first") {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("first line never appeared")
		}
		time.Sleep(10 * time.Millisecond)
	}

	subID, ch, backlog, ok := r.Subscribe(sess.ID)
	if !ok {
		t.Fatal("Subscribe failed")
	}
	defer r.Unsubscribe(sess.ID, subID)

	var replayed strings.Builder
	for _, c := range backlog {
		replayed.WriteString(c.Data)
	}
	if !strings.Contains(replayed.String(), "first\n") {
		t.Fatalf("backlog %q missing the pre-attach output", replayed.String())
	}

	r.Write(sess.ID, []byte("\n"))

	var live strings.Builder
	timeout := time.After(10 * time.Second)
	for {
		select {
		case chunk := <-ch:
			if chunk.Stream == StreamExit {
				if chunk.Data != "0" {
					t.Fatalf("exit chunk data = %q, want 0", chunk.Data)
				}
				got := live.String()
				idxSecond := strings.Index(got, "second\n")
				idxDone := strings.Index(got, "done\n")
				if idxSecond < 0 || idxDone < idxSecond {
					t.Fatalf("live output %q, want second then done", got)
				}
				if strings.Contains(got, "first") {
					t.Fatalf("live output %q repeats the backlog", got)
				}
				return
			}
			live.WriteString(chunk.Data)
		case <-timeout:
			t.Fatal("timed out waiting for live chunks")
		}
	}
}

// TestPartialOutputDeliveredImmediately covers the interactive case: a
// prompt written without a trailing newline must reach subscribers and
// the buffer while the process is still running, not at exit.
func TestPartialOutputDeliveredImmediately(t *testing.T) {
	r := newTestRegistry(t)

	sess, err := r.Create(CreateRequest{Command: "printf 'ready> '; read line"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	subID, ch, backlog, ok := r.Subscribe(sess.ID)
	if !ok {
		t.Fatal("Subscribe failed")
	}
	defer r.Unsubscribe(sess.ID, subID)

	var got strings.Builder
	for _, c := range backlog {
		got.WriteString(c.Data)
	}
	timeout := time.After(5 * time.Second)
	for !strings.Contains(got.String(), "ready> ") {
		select {
		case chunk := <-ch:
			got.WriteString(chunk.Data)
		case <-timeout:
			t.Fatalf("prompt not delivered while process alive; saw %q", got.String())
		}
	}

	if s, _ := r.Get(sess.ID); s.Status != StatusRunning {
		t.Fatal("process exited before the prompt was checked")
	}
	if joined, _, _ := r.Output(sess.ID, 0); !strings.Contains(joined, "ready> ") {
		t.Errorf("buffer %q missing the unterminated prompt", joined)
	}

	r.Write(sess.ID, []byte("\n"))
	waitForExit(t, r, sess.ID)
}

// TestKillMarksSessionSynchronously: a read taken right after Kill
// returns must already see the session as exited, even though the OS
// process is still being reaped.
func TestKillMarksSessionSynchronously(t *testing.T) {
	r := newTestRegistry(t)

	sess, err := r.Create(CreateRequest{Command: "sleep 30"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if !r.Kill(sess.ID) {
		t.Fatal("Kill returned false")
	}

	got, ok := r.Get(sess.ID)
	if !ok {
		t.Fatal("killed session disappeared before acknowledgment")
	}
	if got.Status != StatusExited {
		t.Fatalf("status right after Kill = %q, want %q", got.Status, StatusExited)
	}
	if got.ExitCode != nil {
		t.Errorf("exit code %d reported before the process was reaped", *got.ExitCode)
	}
	if r.Write(sess.ID, []byte("x")) {
		t.Error("write accepted after kill")
	}

	// The real exit code lands once the process is reaped.
	deadline := time.Now().Add(10 * time.Second)
	for {
		got, _ = r.Get(sess.ID)
		if got.ExitCode != nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("exit code never recorded after kill")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestSpawnFailure(t *testing.T) {
	r := NewRegistry(WithShell("/nonexistent/shell"))
	t.Cleanup(r.Close)

	_, err := r.Create(CreateRequest{Command: "true"})
	if err == nil {
		t.Fatal("expected SpawnError, got nil")
	}
	var spawnErr *SpawnError
	if !errors.As(err, &spawnErr) {
		t.Fatalf("error %v is not a SpawnError", err)
	}
	if spawnErr.Command != "true" {
		t.Errorf("SpawnError.Command = %q, want %q", spawnErr.Command, "true")
	}
}
