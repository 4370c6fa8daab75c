package session

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a session. A session transitions
// Running -> Exited exactly once and never reverts.
type Status string

const (
	StatusRunning Status = "running"
	StatusExited  Status = "exited"
)

// Session is a read-only snapshot of one tracked child process. The
// registry owns the live record; callers only ever see copies.
// ExitCode is nil until the process has been reaped: a Running session
// has no code, and neither does a killed one whose exit is still being
// collected.
type Session struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	WorkingDir string    `json:"working_dir"`
	ProjectID  string    `json:"project_id,omitempty"`
	Command    string    `json:"command,omitempty"`
	Status     Status    `json:"status"`
	ExitCode   *int      `json:"exit_code,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Stream distinguishes which pipe (or lifecycle event) a chunk came from.
type Stream string

const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
	// StreamExit is a synthetic final chunk; Data carries the exit code
	// as a decimal string.
	StreamExit Stream = "exit"
)

// Chunk is one piece of output produced by a session's process, sized
// by whatever the pipe read returned. Data is verbatim bytes; nothing
// waits for a newline.
type Chunk struct {
	SessionID string    `json:"session_id"`
	Stream    Stream    `json:"stream"`
	Data      string    `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// CreateRequest describes a session to spawn. If Command is empty an
// interactive login shell is started in WorkingDir; otherwise the shell
// runs Command non-interactively and the session exits with it.
type CreateRequest struct {
	WorkingDir string
	ProjectID  string
	Command    string
	Title      string
}

// SpawnError reports that the OS refused to create a process. It is
// fatal to the create call that triggered it and nothing else.
type SpawnError struct {
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to spawn %q: %v", e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }
