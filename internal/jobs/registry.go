// Package jobs implements the background job registry (C3): a single
// actor, reached through a command channel, tracking live and finished
// script executions, buffering their stdout/stderr, and carrying the
// kill switches and stdin senders background tasks need.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Stream identifies which output buffer a chunk belongs to.
type Stream int

const (
	Stdout Stream = iota
	Stderr
)

// RunStatus is the terminal-or-not state of a job. Terminal states are
// sticky: once a job reaches Completed/Failed/Killed, further completion
// commands are dropped (spec §4.3's invariant).
type RunStatus struct {
	Phase    Phase
	ExitCode int    // valid when Phase == Completed
	Err      string // valid when Phase == Failed
}

type Phase string

const (
	PhaseRunning   Phase = "running"
	PhaseCompleted Phase = "completed"
	PhaseFailed    Phase = "failed"
	PhaseKilled    Phase = "killed"
)

func (s RunStatus) IsTerminal() bool { return s.Phase != PhaseRunning }

// Info is the public, copyable snapshot of a job, per spec §3's JobInfo.
type Info struct {
	TaskID       string
	PID          int
	ExecutionKey string
	Script       string
	Mode         string
	StartedAt    time.Time
	FinishedAt   time.Time
	Status       RunStatus
	OutputPath   string
}

// KillFunc terminates the underlying execution. For PID-backed runtimes
// this wraps a sandbox.Handle.Kill; for runtimes without a host-visible
// PID (container exec, SSH) it closes a kill-switch channel instead.
type KillFunc func() error

// state is the registry's internal, non-copyable record for one job.
type state struct {
	info Info

	stdoutBuf []byte
	stderrBuf []byte

	stdoutClosed bool
	stderrClosed bool

	inputTx  chan []byte
	killFn   KillFunc
	redirect *redirect
}

type redirect struct {
	path  string
	write func([]byte) error
}

// command is the single message type flowing through the registry's
// channel; exactly one of its fields beyond task/reply is meaningful,
// selected by which constructor built it.
type command struct {
	kind cmdKind

	info         Info
	taskID       string
	executionKey string
	stream       Stream
	chunk        []byte
	exitCode     int
	errMsg       string
	input        []byte
	killFn       KillFunc
	path         string
	writeFn      func([]byte) error

	reply chan any
}

type cmdKind int

const (
	cmdRegister cmdKind = iota
	cmdAttachKillSwitch
	cmdAttachInput
	cmdAppendOutput
	cmdCloseStream
	cmdComplete
	cmdFail
	cmdList
	cmdGet
	cmdKill
	cmdKillByTaskID
	cmdKillByExecutionKey
	cmdInputTerminal
	cmdStartOutputRedirect
	cmdFormatRunning
	cmdHasRunning
)

// Registry is the cloneable, caller-facing handle: it holds only the
// command channel, matching spec §3's "job registry is shared; access is
// single-writer via a command channel."
type Registry struct {
	cmds chan command
}

// Service owns the receive side and runs the single-writer actor loop.
type Service struct {
	cmds    chan command
	logger  *slog.Logger
	metrics *Metrics
}

// NewService creates a linked (Registry, Service) pair. Call Serve in its
// own goroutine to start processing commands.
func NewService(logger *slog.Logger) (*Registry, *Service) {
	if logger == nil {
		logger = slog.Default()
	}
	ch := make(chan command, 64)
	return &Registry{cmds: ch}, &Service{cmds: ch, logger: logger.With("component", "jobs"), metrics: NewMetrics()}
}

// Serve runs the actor loop until ctx is cancelled. It must run in exactly
// one goroutine; that goroutine is the single writer to the jobs map.
func (s *Service) Serve(ctx context.Context) {
	jobs := make(map[string]*state)
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-s.cmds:
			s.handle(jobs, cmd)
		}
	}
}

func (s *Service) handle(jobs map[string]*state, cmd command) {
	switch cmd.kind {
	case cmdRegister:
		jobs[cmd.info.TaskID] = &state{info: cmd.info}
		s.metrics.onRegister()
		reply(cmd.reply, nil)

	case cmdAttachKillSwitch:
		if j, ok := jobs[cmd.taskID]; ok {
			j.killFn = cmd.killFn
		}
		reply(cmd.reply, nil)

	case cmdAttachInput:
		if j, ok := jobs[cmd.taskID]; ok {
			j.inputTx = make(chan []byte, 16)
		}
		reply(cmd.reply, nil)

	case cmdAppendOutput:
		j, ok := jobs[cmd.taskID]
		if !ok {
			reply(cmd.reply, nil)
			return
		}
		switch cmd.stream {
		case Stdout:
			j.stdoutBuf = append(j.stdoutBuf, cmd.chunk...)
		case Stderr:
			j.stderrBuf = append(j.stderrBuf, cmd.chunk...)
		}
		if j.redirect != nil {
			_ = j.redirect.write(cmd.chunk)
		}
		reply(cmd.reply, nil)

	case cmdCloseStream:
		if j, ok := jobs[cmd.taskID]; ok {
			switch cmd.stream {
			case Stdout:
				j.stdoutClosed = true
			case Stderr:
				j.stderrClosed = true
			}
		}
		reply(cmd.reply, nil)

	case cmdComplete:
		if j, ok := jobs[cmd.taskID]; ok && !j.info.Status.IsTerminal() {
			j.info.Status = RunStatus{Phase: PhaseCompleted, ExitCode: cmd.exitCode}
			j.info.FinishedAt = time.Now()
			j.info.OutputPath = cmd.path
			s.metrics.onTerminal(PhaseCompleted)
		} else if ok {
			s.logger.Debug("jobs: ignoring Complete on terminal job", "task_id", cmd.taskID, "phase", j.info.Status.Phase)
		}
		reply(cmd.reply, nil)

	case cmdFail:
		if j, ok := jobs[cmd.taskID]; ok && !j.info.Status.IsTerminal() {
			j.info.Status = RunStatus{Phase: PhaseFailed, Err: cmd.errMsg}
			j.info.FinishedAt = time.Now()
			s.metrics.onTerminal(PhaseFailed)
		} else if ok {
			s.logger.Debug("jobs: ignoring Fail on terminal job", "task_id", cmd.taskID, "phase", j.info.Status.Phase)
		}
		reply(cmd.reply, nil)

	case cmdList:
		out := make([]Info, 0, len(jobs))
		for _, j := range jobs {
			out = append(out, j.info)
		}
		reply(cmd.reply, out)

	case cmdGet:
		if j, ok := jobs[cmd.taskID]; ok {
			reply(cmd.reply, j.info)
		} else {
			reply(cmd.reply, nil)
		}

	case cmdKill:
		reply(cmd.reply, s.kill(jobs, cmd.taskID))

	case cmdKillByTaskID:
		reply(cmd.reply, s.kill(jobs, cmd.taskID))

	case cmdKillByExecutionKey:
		count := 0
		for taskID, j := range jobs {
			if j.info.ExecutionKey != cmd.executionKey || j.info.Status.Phase != PhaseRunning {
				continue
			}
			if s.kill(jobs, taskID) == nil {
				count++
			}
		}
		reply(cmd.reply, count)

	case cmdInputTerminal:
		j, ok := jobs[cmd.taskID]
		if !ok || j.info.Status.Phase != PhaseRunning {
			reply(cmd.reply, fmt.Errorf("jobs: %q is not running", cmd.taskID))
			return
		}
		if j.inputTx == nil {
			reply(cmd.reply, fmt.Errorf("jobs: %q has no attached input channel", cmd.taskID))
			return
		}
		select {
		case j.inputTx <- cmd.input:
			reply(cmd.reply, nil)
		default:
			reply(cmd.reply, fmt.Errorf("jobs: input channel full for %q", cmd.taskID))
		}

	case cmdStartOutputRedirect:
		j, ok := jobs[cmd.taskID]
		if !ok {
			reply(cmd.reply, fmt.Errorf("jobs: unknown task %q", cmd.taskID))
			return
		}
		if j.redirect != nil {
			if j.redirect.path != cmd.path {
				reply(cmd.reply, fmt.Errorf("jobs: output redirect already active at %q", j.redirect.path))
				return
			}
			reply(cmd.reply, append([]byte(nil), j.stdoutBuf...))
			return
		}
		j.redirect = &redirect{path: cmd.path, write: cmd.writeFn}
		if err := cmd.writeFn(j.stdoutBuf); err != nil {
			reply(cmd.reply, err)
			return
		}
		reply(cmd.reply, append([]byte(nil), j.stdoutBuf...))

	case cmdFormatRunning:
		reply(cmd.reply, formatRunning(jobs))

	case cmdHasRunning:
		has := false
		for _, j := range jobs {
			if j.info.Status.Phase == PhaseRunning {
				has = true
				break
			}
		}
		reply(cmd.reply, has)
	}
}

func (s *Service) kill(jobs map[string]*state, taskID string) error {
	j, ok := jobs[taskID]
	if !ok {
		return fmt.Errorf("jobs: unknown task %q", taskID)
	}
	if j.info.Status.IsTerminal() {
		return nil
	}
	var err error
	if j.killFn != nil {
		err = j.killFn()
	}
	j.info.Status = RunStatus{Phase: PhaseKilled}
	j.info.FinishedAt = time.Now()
	s.metrics.onTerminal(PhaseKilled)
	return err
}

func formatRunning(jobs map[string]*state) string {
	var out string
	for _, j := range jobs {
		if j.info.Status.Phase != PhaseRunning {
			continue
		}
		script := j.info.Script
		if len(script) > 50 {
			script = script[:50] + "..."
		}
		out += fmt.Sprintf("[%s] %s\n", j.info.TaskID, script)
	}
	return out
}

func reply(ch chan any, v any) {
	if ch == nil {
		return
	}
	select {
	case ch <- v:
	default:
	}
}

// --- Registry: caller-facing API, each call round-trips through the command channel. ---

func (r *Registry) send(cmd command) any {
	cmd.reply = make(chan any, 1)
	r.cmds <- cmd
	return <-cmd.reply
}

// Register records a newly-started job.
func (r *Registry) Register(info Info) {
	if info.Status.Phase == "" {
		info.Status = RunStatus{Phase: PhaseRunning}
	}
	r.send(command{kind: cmdRegister, info: info})
}

// AttachKillSwitch records the kill function to use for taskID, for
// runtimes without a host-visible PID.
func (r *Registry) AttachKillSwitch(taskID string, fn KillFunc) {
	r.send(command{kind: cmdAttachKillSwitch, taskID: taskID, killFn: fn})
}

// AttachInput opens an input channel for taskID so InputTerminal can
// forward bytes to it.
func (r *Registry) AttachInput(taskID string) {
	r.send(command{kind: cmdAttachInput, taskID: taskID})
}

// AppendOutput appends chunk to taskID's stdout or stderr buffer.
func (r *Registry) AppendOutput(taskID string, stream Stream, chunk []byte) {
	r.send(command{kind: cmdAppendOutput, taskID: taskID, stream: stream, chunk: chunk})
}

// CloseStream marks a stream closed for taskID.
func (r *Registry) CloseStream(taskID string, stream Stream) {
	r.send(command{kind: cmdCloseStream, taskID: taskID, stream: stream})
}

// Complete marks taskID Completed, unless it is already terminal.
func (r *Registry) Complete(taskID string, exitCode int, outputPath string) {
	r.send(command{kind: cmdComplete, taskID: taskID, exitCode: exitCode, path: outputPath})
}

// Fail marks taskID Failed, unless it is already terminal.
func (r *Registry) Fail(taskID string, errMsg string) {
	r.send(command{kind: cmdFail, taskID: taskID, errMsg: errMsg})
}

// List returns a snapshot of every job.
func (r *Registry) List() []Info {
	v := r.send(command{kind: cmdList})
	out, _ := v.([]Info)
	return out
}

// Get returns taskID's info, or ok=false if unknown.
func (r *Registry) Get(taskID string) (Info, bool) {
	v := r.send(command{kind: cmdGet, taskID: taskID})
	if v == nil {
		return Info{}, false
	}
	info, ok := v.(Info)
	return info, ok
}

// Kill terminates taskID.
func (r *Registry) Kill(taskID string) error {
	v := r.send(command{kind: cmdKill, taskID: taskID})
	err, _ := v.(error)
	return err
}

// KillByExecutionKey kills every Running job with the given execution key
// and returns the count killed.
func (r *Registry) KillByExecutionKey(executionKey string) int {
	v := r.send(command{kind: cmdKillByExecutionKey, executionKey: executionKey})
	n, _ := v.(int)
	return n
}

// KillByExecutionKeyBlocking is KillByExecutionKey under a name matching
// spec §5/§9 supplemented feature 3: the blocking helper a BashTool's
// Close() calls synchronously (Go's Drop substitute) so background
// children never leak past their owner's lifetime. It is identical to
// KillByExecutionKey in Go — there is no separate async/blocking variant
// since Registry calls are always synchronous round-trips on the command
// channel — the name is kept to make the call site's intent match the
// original's.
func (r *Registry) KillByExecutionKeyBlocking(executionKey string) int {
	return r.KillByExecutionKey(executionKey)
}

// InputTerminal forwards input to taskID's stdin. Errors if the job isn't
// Running or has no attached input channel, never silently succeeding
// (spec §4.3).
func (r *Registry) InputTerminal(taskID string, input []byte) error {
	v := r.send(command{kind: cmdInputTerminal, taskID: taskID, input: input})
	err, _ := v.(error)
	return err
}

// StartOutputRedirect begins teeing taskID's stdout to path, writing the
// current buffer snapshot immediately via writeFn and returning it.
// Idempotent for the same path; errors for a different one while active.
func (r *Registry) StartOutputRedirect(taskID, path string, writeFn func([]byte) error) ([]byte, error) {
	v := r.send(command{kind: cmdStartOutputRedirect, taskID: taskID, path: path, writeFn: writeFn})
	switch t := v.(type) {
	case []byte:
		return t, nil
	case error:
		return nil, t
	default:
		return nil, nil
	}
}

// FormatRunning renders every Running job as "[task_id] script..." for
// injection into a compressed context as preserved content.
func (r *Registry) FormatRunning() string {
	v := r.send(command{kind: cmdFormatRunning})
	s, _ := v.(string)
	return s
}

// HasRunning reports whether any job is still Running.
func (r *Registry) HasRunning() bool {
	v := r.send(command{kind: cmdHasRunning})
	b, _ := v.(bool)
	return b
}
