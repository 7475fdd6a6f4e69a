package store

import (
	"time"

	"github.com/buckleypaul/bmtf/internal/session"
)

// SessionRecord captures one board session from reservation to release.
type SessionRecord struct {
	ID          string               `json:"id"`
	Request     string               `json:"request"`
	Board       string               `json:"board"`
	BoardType   string               `json:"board_type"`
	Role        string               `json:"role"`
	BootMethod  string               `json:"boot_method,omitempty"`
	State       session.State        `json:"state"`
	Address     string               `json:"address,omitempty"`
	HasResults  bool                 `json:"has_results"`
	Started     time.Time            `json:"started"`
	Duration    string               `json:"duration"`
	Transitions []session.Transition `json:"transitions"`
	Reports     []string             `json:"reports,omitempty"`
	Errors      []string             `json:"errors,omitempty"`
}

// ReservationRecord captures the lifetime of one reservation.
type ReservationRecord struct {
	Board    string    `json:"board"`
	Token    string    `json:"token"`
	Acquired time.Time `json:"acquired"`
	Released time.Time `json:"released"`
	Error    string    `json:"error,omitempty"`
}
