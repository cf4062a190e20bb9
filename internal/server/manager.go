package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"
)

// State is the lifecycle phase of a managed server.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

var ErrAlreadyRunning = errors.New("server is already running")

// Status is a point-in-time snapshot for the host's UI.
type Status struct {
	State       State
	Addr        string
	WorkerAlive bool
}

// Manager runs the sync HTTP server in the background of a larger host
// process. Start binds the listener synchronously so port collisions and
// permission errors surface to the caller immediately; only the serve
// loop runs on a goroutine.
type Manager struct {
	handler         http.Handler
	shutdownTimeout time.Duration

	mu       sync.Mutex
	state    State
	srv      *http.Server
	listener net.Listener
	done     chan struct{}
}

func NewManager(handler http.Handler, shutdownTimeout time.Duration) *Manager {
	return &Manager{
		handler:         handler,
		shutdownTimeout: shutdownTimeout,
		state:           StateStopped,
	}
}

// Start binds host:port and begins serving. It returns the address
// actually bound, which matters when port 0 asks the OS to pick.
func (m *Manager) Start(host string, port int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateStopped {
		return "", fmt.Errorf("%w (state %s)", ErrAlreadyRunning, m.state)
	}
	m.state = StateStarting

	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		m.state = StateStopped
		return "", fmt.Errorf("bind %s: %w", addr, err)
	}

	srv := &http.Server{Handler: m.handler}
	done := make(chan struct{})

	m.srv = srv
	m.listener = listener
	m.done = done
	m.state = StateRunning

	go func() {
		defer close(done)
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("sync server terminated", "error", err)
		}
	}()

	bound := listener.Addr().String()
	slog.Info("sync server started", "addr", bound)
	return bound, nil
}

// Stop shuts the server down, waiting up to the configured timeout for
// in-flight requests. A timeout is reported but not fatal: the listener
// is closed either way and the manager returns to Stopped.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if m.state != StateRunning {
		m.mu.Unlock()
		return nil
	}
	m.state = StateStopping
	srv := m.srv
	done := m.done
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.shutdownTimeout)
	defer cancel()

	err := srv.Shutdown(ctx)
	if err != nil {
		slog.Warn("sync server shutdown timed out, closing", "error", err)
		srv.Close()
	}
	<-done

	m.mu.Lock()
	m.state = StateStopped
	m.srv = nil
	m.listener = nil
	m.done = nil
	m.mu.Unlock()

	slog.Info("sync server stopped")
	return err
}

// Status reports the current lifecycle snapshot.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Status{State: m.state}
	if m.listener != nil {
		st.Addr = m.listener.Addr().String()
	}
	if m.done != nil {
		select {
		case <-m.done:
			st.WorkerAlive = false
		default:
			st.WorkerAlive = true
		}
	}
	return st
}
