// Package bashtool implements the bash tool (C5): the single tool exposed
// to the model, wiring together a shell-session registry, a permission
// gate, the sandbox primitive, the output store, and the job registry
// into the execution algorithm spec §4.5 describes.
package bashtool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/nexus-core/internal/jobs"
	"github.com/haasonsaas/nexus-core/internal/output"
	"github.com/haasonsaas/nexus-core/internal/sandbox"
)

// BashTool is the primary interface to all system capabilities available
// to the model. A shared working directory persists across every
// execution; each execution gets a fresh sandbox.
type BashTool struct {
	workingDir string

	sessions      *SessionRegistry
	autoOpenLocal bool
	permission    Handler
	spawner       *sandbox.Spawner
	store         *output.Store
	jobs          *jobs.Registry
	executionKey  string
	writablePaths []string
	readablePaths []string

	completedCh chan CompletedTask

	logger *slog.Logger
}

// New creates a BashTool rooted at workingDir (which must already exist;
// callers typically derive it from output.NewStore's own directory
// creation, or a four-word directory per spec §4.5's "shared working
// directory").
func New(workingDir string, permission Handler, jobsReg *jobs.Registry, logger *slog.Logger) (*BashTool, error) {
	if logger == nil {
		logger = slog.Default()
	}
	store, err := output.NewStore(workingDir)
	if err != nil {
		return nil, fmt.Errorf("bashtool: create output store: %w", err)
	}
	if permission == nil {
		permission = DefaultPolicy()
	}
	return &BashTool{
		workingDir:    workingDir,
		sessions:      NewSessionRegistry(),
		autoOpenLocal: false,
		permission:    permission,
		spawner:       sandbox.NewSpawner(logger),
		store:         store,
		jobs:          jobsReg,
		executionKey:  uuid.NewString(),
		completedCh:   make(chan CompletedTask, 64),
		logger:        logger.With("component", "bashtool"),
	}, nil
}

// WithAutoOpenDefaultSession controls whether bash auto-opens a default
// Local/Sandboxed session on a missing/stale shell_id.
func (t *BashTool) WithAutoOpenDefaultSession(enabled bool) *BashTool {
	t.autoOpenLocal = enabled
	return t
}

// WithWritablePaths adds additional writable paths to the sandbox config.
func (t *BashTool) WithWritablePaths(paths ...string) *BashTool {
	t.writablePaths = append(t.writablePaths, paths...)
	return t
}

// WithReadablePaths adds additional readable (not writable) paths.
func (t *BashTool) WithReadablePaths(paths ...string) *BashTool {
	t.readablePaths = append(t.readablePaths, paths...)
	return t
}

// WorkingDir returns the shared working directory.
func (t *BashTool) WorkingDir() string { return t.workingDir }

// OutputStore returns the underlying output store.
func (t *BashTool) OutputStore() *output.Store { return t.store }

// Sessions returns the shell session registry.
func (t *BashTool) Sessions() *SessionRegistry { return t.sessions }

// Child returns a clone sharing the working directory, permission
// handler, output store, and job registry, but with an independent
// completed-task channel so sub-agent background output never crosses
// into the parent's channel (spec §4.5 "Child factory").
func (t *BashTool) Child() *BashTool {
	return &BashTool{
		workingDir:    t.workingDir,
		sessions:      t.sessions,
		autoOpenLocal: t.autoOpenLocal,
		permission:    t.permission,
		spawner:       t.spawner,
		store:         t.store,
		jobs:          t.jobs,
		executionKey:  uuid.NewString(),
		writablePaths: append([]string(nil), t.writablePaths...),
		readablePaths: append([]string(nil), t.readablePaths...),
		completedCh:   make(chan CompletedTask, 64),
		logger:        t.logger,
	}
}

// Close kills every job still running under this tool's execution key,
// blocking until each kill has been issued. Call this when a BashTool (or
// one of its children) goes out of scope, the idiomatic-Go stand-in for
// the original's Drop impl (spec §5's "dropping a BashTool calls
// kill_by_execution_key_blocking").
func (t *BashTool) Close() int {
	if t.jobs == nil {
		return 0
	}
	return t.jobs.KillByExecutionKeyBlocking(t.executionKey)
}

// TakeCompleted drains every completed background task without blocking.
func (t *BashTool) TakeCompleted() []CompletedTask {
	var out []CompletedTask
	for {
		select {
		case c := <-t.completedCh:
			out = append(out, c)
		default:
			return out
		}
	}
}

// HasPendingTasks reports whether any background task has completed but
// not yet been drained, or is registered under this execution key.
func (t *BashTool) HasPendingTasks() bool {
	if len(t.completedCh) > 0 {
		return true
	}
	if t.jobs == nil {
		return false
	}
	for _, info := range t.jobs.List() {
		if info.ExecutionKey == t.executionKey && info.Status.Phase == jobs.PhaseRunning {
			return true
		}
	}
	return false
}

// Call executes args.Script per spec §4.5's algorithm and returns the
// tool-result JSON string the model sees.
func (t *BashTool) Call(ctx context.Context, args Args) (string, error) {
	sess, err := t.resolveSession(args.ShellID)
	if err != nil {
		return "", err
	}

	allowed, err := t.permission.Check(ctx, sess.Mode, args.Script)
	if err != nil {
		return "", fmt.Errorf("bashtool: permission check: %w", err)
	}
	if !allowed {
		return "", &ErrPermissionDenied{Mode: sess.Mode}
	}

	taskID := RandomTaskID()
	timeout := args.Timeout
	if sess.Backend == BackendContainer && looksStdinBlocking(args.Script) {
		timeout = 0 // auto-promote to background, per spec §4.5 step 3a
	}

	replyCh := make(chan Result, 1)
	errCh := make(chan error, 1)

	go t.runDetached(context.Background(), taskID, args.Script, sess, args.Expect, replyCh, errCh)

	if timeout == 0 {
		return marshalResult(runningResult(taskID))
	}

	select {
	case result := <-replyCh:
		return marshalResult(result)
	case err := <-errCh:
		return "", err
	case <-time.After(time.Duration(timeout) * time.Second):
		// The task keeps running; it is NOT cancelled (spec §4.5 step 4).
		return marshalResult(runningResult(taskID))
	}
}

func (t *BashTool) resolveSession(shellID string) (Session, error) {
	if shellID == "" {
		if !t.autoOpenLocal {
			return Session{}, fmt.Errorf("bashtool: shell_id is required; open a shell first with open_shell")
		}
		return t.sessions.Open(BackendLocal, ModeSandboxed, t.workingDir, "", "")
	}
	if sess, ok := t.sessions.Get(shellID); ok {
		return sess, nil
	}
	if !t.autoOpenLocal {
		return Session{}, fmt.Errorf("bashtool: unknown shell_id; session may be closed or disconnected")
	}
	return t.sessions.Open(BackendLocal, ModeSandboxed, t.workingDir, "", "")
}

// runDetached spawns, awaits, classifies, and reports — the heart of spec
// §4.5 step 3. It never holds t's lock: everything it touches (spawner,
// store, jobs) is independently synchronized.
func (t *BashTool) runDetached(ctx context.Context, taskID, script string, sess Session, expect output.Format, replyCh chan<- Result, errCh chan<- error) {
	var stdoutBuf, stderrBuf bytes.Buffer
	var mu sync.Mutex
	appendStdout := func(chunk []byte) {
		mu.Lock()
		stdoutBuf.Write(chunk)
		mu.Unlock()
		if t.jobs != nil {
			t.jobs.AppendOutput(taskID, jobs.Stdout, chunk)
		}
	}
	appendStderr := func(chunk []byte) {
		mu.Lock()
		stderrBuf.Write(chunk)
		mu.Unlock()
		if t.jobs != nil {
			t.jobs.AppendOutput(taskID, jobs.Stderr, chunk)
		}
	}

	handle, err := t.spawnForSession(ctx, script, sess, appendStdout, appendStderr)
	if err != nil {
		t.fail(taskID, script, err, errCh)
		return
	}

	if t.jobs != nil {
		t.jobs.Register(jobs.Info{
			TaskID:       taskID,
			PID:          handle.PID(),
			ExecutionKey: t.executionKey,
			Script:       script,
			Mode:         string(sess.Mode),
			StartedAt:    time.Now(),
		})
		t.jobs.AttachKillSwitch(taskID, handle.Kill)
		t.jobs.AttachInput(taskID)
	}

	waitErr := handle.Wait()
	if t.jobs != nil {
		t.jobs.CloseStream(taskID, jobs.Stdout)
		t.jobs.CloseStream(taskID, jobs.Stderr)
	}

	exitCode := handle.ExitCode()

	stdoutEntry, err := t.classify(stdoutBuf.Bytes(), expect)
	if err != nil {
		t.fail(taskID, script, err, errCh)
		return
	}
	var stderrEntry *output.OutputEntry
	if stderrBuf.Len() > 0 {
		entry, err := t.classify(stderrBuf.Bytes(), output.FormatText)
		if err != nil {
			t.fail(taskID, script, err, errCh)
			return
		}
		stderrEntry = &entry
	}

	result := Result{Stdout: stdoutEntry, Stderr: stderrEntry, ExitCode: exitCode}

	if t.jobs != nil {
		if waitErr != nil && exitCode < 0 {
			t.jobs.Fail(taskID, waitErr.Error())
		} else {
			t.jobs.Complete(taskID, exitCode, stdoutEntry.URL())
		}
	}

	select {
	case replyCh <- result:
	default:
	}
	t.completedCh <- CompletedTask{TaskID: taskID, Script: script, Result: result}
}

func (t *BashTool) classify(raw []byte, expect output.Format) (output.OutputEntry, error) {
	if expect == "" {
		expect = output.FormatAuto
	}
	return t.store.Save(raw, expect)
}

func (t *BashTool) fail(taskID, script string, err error, errCh chan<- error) {
	if t.jobs != nil {
		t.jobs.Fail(taskID, err.Error())
	}
	select {
	case errCh <- err:
	default:
	}
	t.completedCh <- CompletedTask{TaskID: taskID, Script: script, Err: err}
}

// spawnForSession chooses the execution path by (backend, mode), per spec
// §4.5 step 3a.
func (t *BashTool) spawnForSession(ctx context.Context, script string, sess Session, stdout, stderr sandbox.OutputSink) (*sandbox.Handle, error) {
	fs := sandbox.FSConfig{
		WorkingDir:            t.workingDir,
		WritablePaths:         t.writablePaths,
		ReadablePaths:         t.readablePaths,
		DenyReadOutsidePolicy: sess.Mode != ModeUnsafe,
	}

	switch sess.Backend {
	case BackendSSH:
		argv := []string{"ssh", sess.SSHTarget, "bash", "-c", script}
		return t.spawner.SpawnArgv(ctx, argv, sandbox.Policy{Network: sandbox.NetworkAllowAll, FS: fs, InheritEnv: true}, stdout, stderr)

	case BackendContainer:
		argv := []string{"docker", "exec", "-i", sess.Container, "bash", "-c", script}
		return t.spawner.SpawnArgv(ctx, argv, sandbox.Policy{Network: sandbox.NetworkAllowAll, FS: fs, InheritEnv: true}, stdout, stderr)

	default: // BackendLocal
		switch sess.Mode {
		case ModeSandboxed:
			policy := sandbox.Policy{Network: sandbox.NetworkDenyAll, FS: fs}
			return t.spawner.Spawn(ctx, script, policy, stdout, stderr)
		case ModeNetwork:
			policy := sandbox.Policy{Network: sandbox.NetworkAllowAll, FS: fs}
			return t.spawner.Spawn(ctx, script, policy, stdout, stderr)
		case ModeUnsafe:
			policy := sandbox.Policy{Network: sandbox.NetworkAllowAll, FS: fs, InheritEnv: true}
			return t.spawner.Spawn(ctx, script, policy, stdout, stderr)
		default:
			return nil, fmt.Errorf("bashtool: unknown mode %q", sess.Mode)
		}
	}
}

func marshalResult(r Result) (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("bashtool: marshal result: %w", err)
	}
	return string(data), nil
}

var stdinBlockingPattern = regexp.MustCompile(`(?m)^\s*read\b[^<]*$`)

// looksStdinBlocking heuristically detects a bare `read` invocation with
// no input redirection, the signal the original's container-exec probe
// uses to auto-promote a job to background rather than hang the
// foreground reply channel on a read(0,...) that will never unblock.
func looksStdinBlocking(script string) bool {
	for _, line := range strings.Split(script, "\n") {
		if stdinBlockingPattern.MatchString(line) {
			return true
		}
	}
	return false
}
