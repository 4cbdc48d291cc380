package session

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Rrens/postbot/internal/domain"
	"github.com/go-playground/validator/v10"
)

const (
	// DefaultTimeout is how long an awaiting state survives without activity
	DefaultTimeout = 5 * time.Minute
	// DefaultMaxInputChars caps free-text replies
	DefaultMaxInputChars = 500
)

// ErrNoTransition means the event is not legal in the current state.
// The session is left untouched.
var ErrNoTransition = errors.New("no transition for event")

// Machine applies events to sessions
type Machine struct {
	timeout  time.Duration
	maxInput int
	validate *validator.Validate
	now      func() time.Time
}

// NewMachine creates a state machine. Non-positive values fall back to defaults.
func NewMachine(timeout time.Duration, maxInput int) *Machine {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if maxInput <= 0 {
		maxInput = DefaultMaxInputChars
	}
	return &Machine{
		timeout:  timeout,
		maxInput: maxInput,
		validate: validator.New(),
		now:      time.Now,
	}
}

// WithClock replaces the time source
func (m *Machine) WithClock(now func() time.Time) *Machine {
	m.now = now
	return m
}

// Timeout returns the inactivity window
func (m *Machine) Timeout() time.Duration {
	return m.timeout
}

// MaxInput returns the free-text ceiling in characters
func (m *Machine) MaxInput() int {
	return m.maxInput
}

// Now returns the machine's current time
func (m *Machine) Now() time.Time {
	return m.now()
}

// Expired reports whether the session's last activity is older than the window.
// Exactly at the window boundary the session is still alive. A session
// with no recorded activity is expired.
func (m *Machine) Expired(s *domain.Session, now time.Time) bool {
	if s == nil || s.LastActivity.IsZero() {
		return true
	}
	return now.Sub(s.LastActivity) > m.timeout
}

// CheckTimeout resets a stale awaiting state to idle and returns ErrSessionTimeout
func (m *Machine) CheckTimeout(s *domain.Session) error {
	if s.State.IsIdle() {
		return nil
	}
	if !m.Expired(s, m.now()) {
		return nil
	}
	s.Reset()
	return domain.ErrSessionTimeout
}

// ValidateFreeText rejects blank input and input longer than the ceiling
func (m *Machine) ValidateFreeText(text string) error {
	if err := m.validate.Var(strings.TrimSpace(text), "required"); err != nil {
		return domain.ErrEmptyInput
	}
	if err := m.validate.Var(text, fmt.Sprintf("max=%d", m.maxInput)); err != nil {
		return fmt.Errorf("%w (limit %d characters)", domain.ErrInputTooLong, m.maxInput)
	}
	return nil
}

// Apply checks the timeout, finds the transition and validates free text.
// On success the session has entered the target state. On any error the
// state is unchanged, except a timeout which resets it to idle.
func (m *Machine) Apply(s *domain.Session, ev Event) (Transition, error) {
	t, ok, wildcard := Lookup(s.State, ev)

	if err := m.CheckTimeout(s); err != nil {
		// Wildcard events do not consume the stale state; they restart the flow.
		if !ok || !wildcard {
			return Transition{}, err
		}
	}
	if !ok {
		return Transition{}, ErrNoTransition
	}

	if ev.Kind == EventFreeText {
		if err := m.ValidateFreeText(ev.Text); err != nil {
			return Transition{}, err
		}
	}

	s.Enter(t.To, m.now())
	return t, nil
}
