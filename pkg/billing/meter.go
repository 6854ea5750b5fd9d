package billing

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// secondsPerDebit is the metering boundary: one debit per whole minute of
// connected time. Partial minutes are free.
const secondsPerDebit = 60

// TickResult tells the caller whether the call may continue.
type TickResult int

const (
	// Continue means the tick was metered (and possibly debited) fine.
	Continue TickResult = iota

	// Stop means a debit failed; the caller should hang up gracefully.
	Stop
)

// MeterConfig configures a Meter.
type MeterConfig struct {
	Store  CreditStore
	UserID string

	// OnDebit is invoked after each successful debit with the fresh
	// profile, so the UI can refresh the displayed balance. Optional.
	OnDebit func(*Profile)

	Logger *slog.Logger
}

// Meter counts connected seconds and debits CostPerMinute at every whole
// minute. It is passive: the session calls Tick once per connected second.
// Muted time still counts; time spent connecting does not.
type Meter struct {
	store   CreditStore
	userID  string
	onDebit func(*Profile)
	logger  *slog.Logger

	mu      sync.Mutex
	seconds int64
}

// NewMeter creates a meter at zero elapsed seconds.
func NewMeter(cfg MeterConfig) *Meter {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Meter{
		store:   cfg.Store,
		userID:  cfg.UserID,
		onDebit: cfg.OnDebit,
		logger:  logger,
	}
}

// Tick records one connected second. On a whole-minute boundary it debits
// the store; a failed debit returns Stop and the reason.
func (m *Meter) Tick(ctx context.Context) (TickResult, error) {
	m.mu.Lock()
	m.seconds++
	seconds := m.seconds
	m.mu.Unlock()

	if seconds%secondsPerDebit != 0 {
		return Continue, nil
	}

	profile, err := m.store.Debit(ctx, m.userID, CostPerMinute)
	if err != nil {
		if errors.Is(err, ErrInsufficientFunds) {
			m.logger.Info("balance exhausted", "user_id", m.userID, "connected_seconds", seconds)
		} else {
			m.logger.Error("debit failed", "user_id", m.userID, "error", err)
		}
		return Stop, err
	}

	m.logger.Debug("debited connected minute",
		"user_id", m.userID,
		"connected_seconds", seconds,
		"credits_left", profile.Credits)
	if m.onDebit != nil {
		m.onDebit(profile)
	}
	return Continue, nil
}

// Elapsed returns the connected seconds metered so far.
func (m *Meter) Elapsed() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seconds
}

// Reset zeroes the elapsed counter for the next call.
func (m *Meter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seconds = 0
}
