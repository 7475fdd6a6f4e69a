// Package session drives one board from power-on to a network-reachable,
// logged-in OS through an explicit boot state machine.
package session

import (
	"sync"
	"time"

	"github.com/buckleypaul/bmtf/internal/board"
	"github.com/buckleypaul/bmtf/internal/reserve"
)

// State is a boot state of a board session.
type State string

const (
	PoweredOff        State = "PoweredOff"
	ConsoleConnecting State = "ConsoleConnecting"
	BootloaderPrompt  State = "BootloaderPrompt"
	OSLoginPrompt     State = "OSLoginPrompt"
	OSConsoleReady    State = "OSConsoleReady"
	IPAcquired        State = "IPAcquired"
	Ready             State = "Ready"
	Failed            State = "Failed"
)

// Terminal reports whether no further transition can leave s.
func (s State) Terminal() bool {
	return s == Ready || s == Failed
}

// Transition is one recorded state change.
type Transition struct {
	SessionID string    `json:"session_id"`
	Board     string    `json:"board"`
	State     State     `json:"state"`
	At        time.Time `json:"at"`
	Reason    string    `json:"reason,omitempty"`
}

// Session is the live state of one reserved board. Exactly one Session
// exists per reserved board; the reservation manager enforces that.
type Session struct {
	ID          string
	Board       board.Board
	Role        string
	Descriptor  *board.Descriptor
	Reservation *reserve.Reservation

	mu          sync.Mutex
	state       State
	address     string
	hasResults  bool
	transitions []Transition
	err         error
}

// New returns a session in PoweredOff.
func New(id string, b board.Board, role string, desc *board.Descriptor, res *reserve.Reservation) *Session {
	return &Session{
		ID:          id,
		Board:       b,
		Role:        role,
		Descriptor:  desc,
		Reservation: res,
		state:       PoweredOff,
	}
}

// State returns the current boot state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Address returns the discovered network address, empty until IPAcquired.
func (s *Session) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.address
}

// HasResults reports whether result files were fetched from the board.
func (s *Session) HasResults() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasResults
}

// SetHasResults records the outcome of result retrieval.
func (s *Session) SetHasResults(v bool) {
	s.mu.Lock()
	s.hasResults = v
	s.mu.Unlock()
}

// Err returns the failure that moved the session to Failed, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Transitions returns a copy of the recorded transitions.
func (s *Session) Transitions() []Transition {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Transition(nil), s.transitions...)
}

// IPMIManaged reports whether the board bypasses console boot.
func (s *Session) IPMIManaged() bool {
	return s.Descriptor.Attributes.IPMIManaged
}

func (s *Session) record(t Transition, address string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = t.State
	if address != "" {
		s.address = address
	}
	if err != nil {
		s.err = err
	}
	s.transitions = append(s.transitions, t)
}
