// Package reserve serialises board reservations. It owns the only shared
// mutable state of the orchestrator: the table of boards held by live
// sessions.
package reserve

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.chromium.org/luci/common/clock"
	"go.chromium.org/luci/common/retry"

	"github.com/buckleypaul/bmtf/internal/fault"
	"github.com/buckleypaul/bmtf/internal/metrics"
)

const (
	DefaultAttempts = 3
	DefaultBackoff  = 2 * time.Second
)

// ErrHeld is returned when another session of this process holds the board.
var ErrHeld = errors.New("board is held by another session")

// Allocator is the external allocation service.
type Allocator interface {
	Allocate(ctx context.Context, board string) (string, error)
	Deallocate(ctx context.Context, board, token string) error
}

// Options tune retries and release behaviour.
type Options struct {
	Attempts int
	Backoff  time.Duration
	// PowerOff, when set, is called before a reservation is released.
	PowerOff func(ctx context.Context, board string) error
}

// Manager hands out reservations, at most one per board name.
type Manager struct {
	alloc Allocator
	opts  Options

	mu    sync.Mutex
	table map[string]*Reservation
}

// NewManager returns a Manager backed by alloc.
func NewManager(alloc Allocator, opts Options) *Manager {
	if opts.Attempts <= 0 {
		opts.Attempts = DefaultAttempts
	}
	if opts.Backoff <= 0 {
		opts.Backoff = DefaultBackoff
	}
	return &Manager{
		alloc: alloc,
		opts:  opts,
		table: map[string]*Reservation{},
	}
}

// Reservation is an exclusively owned claim on one board.
type Reservation struct {
	Board      string
	Token      string
	AcquiredAt time.Time

	mgr  *Manager
	once sync.Once
	err  error
}

// Reserve claims board. A board already held in this process fails at once
// with ReservationFailure; refusals by the allocation tool are retried with
// backoff until the attempts run out.
func (m *Manager) Reserve(ctx context.Context, board string) (*Reservation, error) {
	m.mu.Lock()
	if _, held := m.table[board]; held {
		m.mu.Unlock()
		metrics.Reservation("refused")
		return nil, fault.New(fault.ReservationFailure, board, fault.PhaseReserve, ErrHeld)
	}
	// A nil entry marks the board pending while the external call runs.
	m.table[board] = nil
	m.mu.Unlock()

	token, err := m.allocate(ctx, board)
	if err != nil {
		m.mu.Lock()
		delete(m.table, board)
		m.mu.Unlock()
		metrics.Reservation("refused")
		return nil, fault.New(fault.ReservationFailure, board, fault.PhaseReserve, err)
	}

	r := &Reservation{Board: board, Token: token, AcquiredAt: clock.Now(ctx), mgr: m}
	m.mu.Lock()
	m.table[board] = r
	m.mu.Unlock()
	metrics.Reservation("acquired")
	log.WithFields(log.Fields{"board": board, "token": token}).Info("board reserved")
	return r, nil
}

// retryParams doubles the wait after every refusal.
func (m *Manager) retryParams() retry.Iterator {
	return &retry.ExponentialBackoff{
		Limited: retry.Limited{
			Delay:   m.opts.Backoff,
			Retries: m.opts.Attempts - 1,
		},
		Multiplier: 2,
	}
}

func (m *Manager) allocate(ctx context.Context, board string) (string, error) {
	var token string
	attempts := 0
	err := retry.Retry(ctx, m.retryParams, func() error {
		attempts++
		var err error
		token, err = m.alloc.Allocate(ctx, board)
		return err
	}, func(err error, wait time.Duration) {
		log.WithFields(log.Fields{"board": board, "attempt": attempts}).WithError(err).
			Warnf("reservation refused, retrying in %s", wait)
	})
	switch {
	case err == nil:
		return token, nil
	case ctx.Err() != nil:
		return "", pkgerrors.Wrap(ctx.Err(), "waiting to retry reservation")
	default:
		return "", pkgerrors.Wrapf(err, "giving up after %d attempts", attempts)
	}
}

// ReserveAny reserves the first board of boards that can be claimed.
func (m *Manager) ReserveAny(ctx context.Context, boards []string) (*Reservation, error) {
	if len(boards) == 0 {
		return nil, fault.Newf(fault.ReservationFailure, "", fault.PhaseReserve, "no candidate boards")
	}
	var errs []error
	for _, b := range boards {
		r, err := m.Reserve(ctx, b)
		if err == nil {
			return r, nil
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	return nil, errors.Join(errs...)
}

// Held lists the boards currently reserved through m, sorted.
func (m *Manager) Held() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for b, r := range m.table {
		if r != nil {
			out = append(out, b)
		}
	}
	sort.Strings(out)
	return out
}

// Release gives the board back. Only the first call does any work; later
// calls return the first call's result. The board leaves the local table
// even when the allocation tool fails to release it.
func (r *Reservation) Release(ctx context.Context) error {
	r.once.Do(func() {
		r.err = r.mgr.release(ctx, r)
	})
	return r.err
}

func (m *Manager) release(ctx context.Context, r *Reservation) error {
	logger := log.WithFields(log.Fields{"board": r.Board, "token": r.Token})
	var errs []error
	if m.opts.PowerOff != nil {
		if err := m.opts.PowerOff(ctx, r.Board); err != nil {
			logger.WithError(err).Warn("power off before release failed")
			errs = append(errs, err)
		}
	}
	if err := m.alloc.Deallocate(ctx, r.Board, r.Token); err != nil {
		logger.WithError(err).Error("release failed")
		errs = append(errs, fault.New(fault.ReservationFailure, r.Board, fault.PhaseRelease, err))
		metrics.Reservation("release_failed")
	} else {
		logger.Info("board released")
		metrics.Reservation("released")
	}

	m.mu.Lock()
	if m.table[r.Board] == r {
		delete(m.table, r.Board)
	}
	m.mu.Unlock()
	return errors.Join(errs...)
}
