package bashtool

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Backend selects where a shell session's scripts actually run.
type Backend string

const (
	BackendLocal     Backend = "local"
	BackendContainer Backend = "container"
	BackendSSH       Backend = "ssh"
)

// Session is an open shell: a backend, a permission mode, and (for
// Container/SSH) the remote target. Every bash call on a session inherits
// its Mode, per spec §4.5.
type Session struct {
	ID        string
	Backend   Backend
	Mode      Mode
	WorkingDir string

	// Container is the container name/id, set when Backend == BackendContainer.
	Container string
	// SSHTarget is the `user@host` target, set when Backend == BackendSSH.
	SSHTarget string
}

// SessionRegistry tracks open shell sessions, keyed by a random id.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]Session

	availLocal     bool
	availContainer bool
	availSSH       bool
}

// NewSessionRegistry returns a registry with only the Local backend
// available, matching the teacher's default ShellRuntimeAvailability.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		sessions:   make(map[string]Session),
		availLocal: true,
	}
}

// SetAvailability toggles which backends open_shell will accept.
func (r *SessionRegistry) SetAvailability(local, container, ssh bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.availLocal, r.availContainer, r.availSSH = local, container, ssh
}

// Open creates and registers a new session.
func (r *SessionRegistry) Open(backend Backend, mode Mode, workingDir, container, sshTarget string) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch backend {
	case BackendLocal:
		if !r.availLocal {
			return Session{}, fmt.Errorf("bashtool: local shell backend is not available")
		}
	case BackendContainer:
		if !r.availContainer {
			return Session{}, fmt.Errorf("bashtool: container shell backend is not available")
		}
		if container == "" {
			return Session{}, fmt.Errorf("bashtool: container backend requires a container name")
		}
	case BackendSSH:
		if !r.availSSH {
			return Session{}, fmt.Errorf("bashtool: ssh shell backend is not available")
		}
		if sshTarget == "" {
			return Session{}, fmt.Errorf("bashtool: ssh backend requires a target")
		}
	default:
		return Session{}, fmt.Errorf("bashtool: unknown shell backend %q", backend)
	}

	sess := Session{
		ID:         uuid.NewString(),
		Backend:    backend,
		Mode:       mode,
		WorkingDir: workingDir,
		Container:  container,
		SSHTarget:  sshTarget,
	}
	r.sessions[sess.ID] = sess
	return sess, nil
}

// Get returns the session for id, if open.
func (r *SessionRegistry) Get(id string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[id]
	return sess, ok
}

// Close removes a session.
func (r *SessionRegistry) Close(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// List returns every open session.
func (r *SessionRegistry) List() []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}
