// connection/manager.go
package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gewnthar/lobbying/models"
)

// Handle is an open destination. It is owned by one pipeline run and closed
// when the run ends.
type Handle interface {
	Strategy() string
	EnsureTable(ctx context.Context, table string, columns, indexColumns []string, recreate bool) error
	InsertBatch(ctx context.Context, table string, batch models.Batch) error
	Close() error
}

// Strategy is one way of reaching the destination.
type Strategy interface {
	Name() string
	Connect(ctx context.Context) (Handle, error)
}

// UnavailableError means one strategy could not connect. The manager moves on
// to the next strategy.
type UnavailableError struct {
	Strategy string
	Err      error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s connection unavailable: %v", e.Strategy, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// AllFailedError lists every attempt, in the order tried.
type AllFailedError struct {
	Attempts []*UnavailableError
}

func (e *AllFailedError) Error() string {
	if len(e.Attempts) == 0 {
		return "all connection strategies failed: no strategies configured"
	}
	parts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		parts[i] = fmt.Sprintf("%s: %v", a.Strategy, a.Err)
	}
	return "all connection strategies failed: " + strings.Join(parts, "; ")
}

func (e *AllFailedError) Unwrap() []error {
	errs := make([]error, len(e.Attempts))
	for i, a := range e.Attempts {
		errs[i] = a
	}
	return errs
}

// StateKind enumerates the manager states.
type StateKind int

const (
	Unattempted StateKind = iota
	Trying
	Connected
	AllFailed
)

// State is a manager state. Strategy is set for Trying and Connected.
type State struct {
	Kind     StateKind
	Strategy string
}

func (s State) String() string {
	switch s.Kind {
	case Unattempted:
		return "Unattempted"
	case Trying:
		return "Trying(" + s.Strategy + ")"
	case Connected:
		return "Connected(" + s.Strategy + ")"
	case AllFailed:
		return "AllFailed"
	default:
		return fmt.Sprintf("State(%d)", int(s.Kind))
	}
}

// Manager acquires a handle by trying its strategies in order. The first
// success wins; a handle is never replaced mid-run.
type Manager struct {
	Strategies []Strategy
	// Timeout bounds each attempt.
	Timeout time.Duration
	Logger  *slog.Logger
	// OnTransition, if set, is called on every state change.
	OnTransition func(from, to State)

	state   State
	history []State
}

func NewManager(strategies []Strategy, timeout time.Duration, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{
		Strategies: strategies,
		Timeout:    timeout,
		Logger:     logger,
		history:    []State{{Kind: Unattempted}},
	}
}

// State returns the current state.
func (m *Manager) State() State { return m.state }

// History returns every state the manager has been in, starting with
// Unattempted.
func (m *Manager) History() []State {
	if len(m.history) == 0 {
		return []State{{Kind: Unattempted}}
	}
	return append([]State(nil), m.history...)
}

func (m *Manager) transition(to State) {
	if len(m.history) == 0 {
		m.history = []State{{Kind: Unattempted}}
	}
	from := m.state
	m.state = to
	m.history = append(m.history, to)
	m.Logger.Debug("connection state", slog.String("from", from.String()), slog.String("to", to.String()))
	if m.OnTransition != nil {
		m.OnTransition(from, to)
	}
}

// Acquire tries each strategy under its own timeout and returns the first
// handle obtained. If every strategy fails it returns an *AllFailedError. A
// cancelled ctx stops the chain and is returned as-is.
func (m *Manager) Acquire(ctx context.Context) (Handle, error) {
	var attempts []*UnavailableError

	for _, s := range m.Strategies {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		m.transition(State{Kind: Trying, Strategy: s.Name()})
		m.Logger.Info("trying connection", slog.String("strategy", s.Name()))

		h, err := m.attempt(ctx, s)
		if err == nil {
			m.transition(State{Kind: Connected, Strategy: s.Name()})
			m.Logger.Info("connected", slog.String("strategy", s.Name()))
			return h, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		var unavailable *UnavailableError
		if !errors.As(err, &unavailable) {
			unavailable = &UnavailableError{Strategy: s.Name(), Err: err}
		}
		attempts = append(attempts, unavailable)
		m.Logger.Warn("connection failed", slog.String("strategy", s.Name()), slog.Any("error", unavailable.Err))
	}

	m.transition(State{Kind: AllFailed})
	return nil, &AllFailedError{Attempts: attempts}
}

func (m *Manager) attempt(ctx context.Context, s Strategy) (Handle, error) {
	if m.Timeout > 0 {
		budget := m.Timeout
		if me, ok := s.(multiEndpoint); ok {
			budget *= time.Duration(max(me.Endpoints(), 1))
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, budget)
		defer cancel()
	}
	return s.Connect(ctx)
}

// multiEndpoint is implemented by strategies that try several endpoints in
// turn. Each endpoint gets the full Timeout.
type multiEndpoint interface {
	Endpoints() int
}
