package call

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/parlato-app/parlato/pkg/audio"
	"github.com/parlato-app/parlato/pkg/audio/capture"
	"github.com/parlato-app/parlato/pkg/billing"
	"github.com/parlato-app/parlato/pkg/gemini"
)

// LiveConn is the model transport, satisfied by *gemini.Client.
type LiveConn interface {
	SendAudio(data string) error
	SendTurn(text string) error
	Events() <-chan gemini.Event
	Err() error
	Close() error
}

// Dialer opens one connection with one credential. Each session dials its
// own connection; nothing is shared between calls.
type Dialer func(ctx context.Context, apiKey string) (LiveConn, error)

// Microphone is the capture tap, satisfied by *capture.Tap.
type Microphone interface {
	Start(onBlock func(capture.Block)) error
	Close() error
}

// Player is the playback side, satisfied by *playback.Scheduler.
type Player interface {
	Enqueue(samples []float32) time.Time
	Reset()
	Buffered() time.Duration
	Close() error
}

// TopUpLinker mints a checkout link, satisfied by *billing.TopUp (nil-safe).
type TopUpLinker interface {
	CheckoutLink(ctx context.Context, userID string) (string, error)
}

// Config configures a session.
type Config struct {
	UserID string

	// Credentials is the API key pool for rotation. At least one required.
	Credentials []string

	// TriggerText is the one-shot user turn sent right after setup so the
	// tutor speaks first.
	TriggerText string

	// LevelStride subsamples the level meter. Defaults to 4.
	LevelStride int

	// ConnectTimeout bounds the wait for the setup acknowledgement per
	// attempt. Defaults to 15s.
	ConnectTimeout time.Duration
}

// Dependencies carries the session's collaborators. Dial, Mic, Speaker, and
// Store are required.
type Dependencies struct {
	Dial    Dialer
	Mic     Microphone
	Speaker Player
	Store   billing.CreditStore

	// TopUp is optional; without it billing notices carry no payment link.
	TopUp TopUpLinker

	// OnStatus and OnNotice push observable state to the UI. Optional;
	// called from session goroutines and must not block.
	OnStatus func(Status)
	OnNotice func(Notice)

	Logger *slog.Logger

	// Ticks drives the billing meter, one tick per second. Defaults to a
	// real ticker; tests inject their own channel.
	Ticks <-chan time.Time
}

const (
	defaultTriggerText    = "Please greet me briefly in the target language and start our conversation."
	defaultLevelStride    = 4
	defaultConnectTimeout = 15 * time.Second
)

// Session is one call. It is single-use: once terminal it cannot restart.
type Session struct {
	id     string
	cfg    Config
	deps   Dependencies
	logger *slog.Logger
	meter  *billing.Meter

	mu        sync.Mutex
	phase     Phase
	starting  bool
	conn      LiveConn
	triggered bool
	cancel    context.CancelFunc
	termErr   error

	closed    atomic.Bool
	muted     atomic.Bool
	speaking  atomic.Bool
	levelBits atomic.Uint64
}

// New creates an idle session.
func New(cfg Config, deps Dependencies) (*Session, error) {
	if len(cfg.Credentials) == 0 {
		return nil, errors.New("call: at least one credential required")
	}
	if cfg.UserID == "" {
		return nil, errors.New("call: user id required")
	}
	if deps.Dial == nil || deps.Mic == nil || deps.Speaker == nil || deps.Store == nil {
		return nil, errors.New("call: dial, mic, speaker, and store are required")
	}
	if cfg.TriggerText == "" {
		cfg.TriggerText = defaultTriggerText
	}
	if cfg.LevelStride <= 0 {
		cfg.LevelStride = defaultLevelStride
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}

	id := uuid.NewString()
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("session_id", id, "user_id", cfg.UserID)

	s := &Session{
		id:     id,
		cfg:    cfg,
		deps:   deps,
		logger: logger,
	}
	s.meter = billing.NewMeter(billing.MeterConfig{
		Store:  deps.Store,
		UserID: cfg.UserID,
		Logger: logger,
		OnDebit: func(p *billing.Profile) {
			s.notify(fmt.Sprintf("%d credits remaining", p.Credits), SeverityInfo, "")
		},
	})
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Start checks funds and begins connecting. It returns once the session has
// entered Connecting; the rest of the lifecycle is asynchronous and surfaces
// through OnStatus/OnNotice.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.phase != PhaseIdle || s.starting {
		s.mu.Unlock()
		return fmt.Errorf("call: cannot start from %s", s.phase)
	}
	s.starting = true
	s.mu.Unlock()

	ok, err := s.deps.Store.CanAfford(ctx, s.cfg.UserID, billing.MinimumStartBalance)
	if err != nil {
		s.clearStarting()
		s.notify("Could not verify your balance. Try again.", SeverityError, "")
		return &BillingError{Err: err}
	}
	if !ok {
		s.clearStarting()
		link := s.paymentLink(ctx)
		s.notify(fmt.Sprintf("You need at least %d credits to start a call.", billing.MinimumStartBalance),
			SeverityWarning, link)
		return &BillingError{Err: billing.ErrInsufficientFunds}
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancel = cancel
	s.starting = false
	s.phase = PhaseConnecting
	s.mu.Unlock()
	s.emitStatus()
	s.logger.Info("call starting")

	go s.run(sessCtx)
	return nil
}

func (s *Session) clearStarting() {
	s.mu.Lock()
	s.starting = false
	s.mu.Unlock()
}

// run drives the call from Connecting to a terminal phase.
func (s *Session) run(ctx context.Context) {
	conn, err := s.connect(ctx)
	if err != nil {
		if !s.closed.Load() {
			s.setErr(err)
			s.logger.Error("connect failed", "error", err)
			s.notify("Could not reach the tutoring service.", SeverityError, "")
			s.shutdown(PhaseError)
		}
		return
	}

	s.mu.Lock()
	if s.closed.Load() {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.conn = conn
	trigger := !s.triggered
	s.triggered = true
	s.mu.Unlock()

	// The tutor speaks first: one user turn, sent exactly once per session.
	if trigger {
		if err := conn.SendTurn(s.cfg.TriggerText); err != nil {
			s.logger.Warn("trigger turn failed", "error", err)
		}
	}

	s.setPhase(PhaseConnected)
	s.logger.Info("call connected")

	if err := s.deps.Mic.Start(s.onBlock); err != nil {
		derr := &DeviceError{Err: err}
		s.setErr(derr)
		s.logger.Error("microphone failed", "error", derr)
		s.notify("Microphone unavailable. Check your input device.", SeverityError, "")
		s.shutdown(PhaseError)
		return
	}

	go s.meterLoop(ctx)
	s.eventLoop(ctx, conn)
}

// connect walks the credential pool, one dial plus setup-ack wait per
// attempt, at most len(pool) attempts.
func (s *Session) connect(ctx context.Context) (LiveConn, error) {
	var lastErr error
	attempts := len(s.cfg.Credentials)

	for attempt := 0; attempt < attempts; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		key := SelectCredential(s.cfg.Credentials, attempt)
		conn, err := s.deps.Dial(ctx, key)
		if err != nil {
			lastErr = err
			s.logger.Warn("dial failed, rotating credential", "attempt", attempt+1, "error", err)
			continue
		}

		if s.awaitSetup(ctx, conn) {
			return conn, nil
		}
		lastErr = conn.Err()
		if lastErr == nil {
			lastErr = errors.New("setup not acknowledged")
		}
		s.logger.Warn("setup not acknowledged, rotating credential", "attempt", attempt+1, "error", lastErr)
		_ = conn.Close()
	}

	return nil, &ConnectionError{Err: lastErr, Attempts: attempts}
}

// awaitSetup waits for the setup acknowledgement on a fresh connection.
func (s *Session) awaitSetup(ctx context.Context, conn LiveConn) bool {
	timer := time.NewTimer(s.cfg.ConnectTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
			return false
		case ev, ok := <-conn.Events():
			if !ok {
				return false
			}
			if ev.SetupComplete {
				return true
			}
		}
	}
}

// onBlock handles one microphone block: meter it, and unless muted,
// downsample, encode, and forward. Every block is metered and forwarded,
// silence included.
func (s *Session) onBlock(b capture.Block) {
	level := audio.Level(b.Samples, s.cfg.LevelStride)
	s.levelBits.Store(math.Float64bits(level))
	s.emitStatus()

	if s.muted.Load() || s.Phase() != PhaseConnected {
		return
	}

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return
	}

	samples := audio.Downsample(b.Samples, b.Rate, audio.ModelInputRate)
	if err := conn.SendAudio(audio.EncodePCM16(samples)); err != nil {
		// Send faults are swallowed: during teardown they are expected, and
		// mid-call the receive side surfaces the real failure.
		if !s.closed.Load() {
			s.logger.Warn("audio send failed", "error", err)
		}
	}
}

// eventLoop consumes server events until the transport ends or the session
// is torn down.
func (s *Session) eventLoop(ctx context.Context, conn LiveConn) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-conn.Events():
			if !ok {
				if s.closed.Load() {
					return
				}
				err := conn.Err()
				if err == nil {
					err = errors.New("connection closed by peer")
				}
				s.setErr(&ConnectionError{Err: err})
				s.logger.Error("connection lost", "error", err)
				s.notify("Connection to the tutoring service was lost.", SeverityError, "")
				s.shutdown(PhaseError)
				return
			}
			s.handleEvent(ev)
		}
	}
}

func (s *Session) handleEvent(ev gemini.Event) {
	for _, payload := range ev.Audio {
		samples, err := audio.DecodePCM16(payload)
		if err != nil {
			// Malformed chunk: drop it, keep the call.
			s.logger.Warn("dropping malformed audio chunk", "error", err)
			continue
		}
		s.deps.Speaker.Enqueue(samples)
		s.speaking.Store(true)
	}

	if ev.Interrupted {
		// The student talked over the tutor; stale speech must stop now.
		s.deps.Speaker.Reset()
		s.speaking.Store(false)
	}
	if ev.TurnComplete {
		s.speaking.Store(false)
	}
	if ev.GoAway {
		s.notify("The tutoring service is ending this session.", SeverityWarning, "")
	}
	if ev.Interrupted || ev.TurnComplete || len(ev.Audio) > 0 {
		s.emitStatus()
	}
}

// meterLoop ticks the billing meter once per second, only while Connected.
func (s *Session) meterLoop(ctx context.Context) {
	ticks := s.deps.Ticks
	if ticks == nil {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		ticks = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticks:
			if s.Phase() != PhaseConnected {
				continue
			}
			result, err := s.meter.Tick(ctx)
			if result == billing.Stop {
				s.handleBillingStop(ctx, err)
				return
			}
			s.emitStatus()
		}
	}
}

// handleBillingStop ends the call gracefully when a debit fails.
func (s *Session) handleBillingStop(ctx context.Context, err error) {
	if err != nil {
		s.setErr(&BillingError{Err: err})
	}
	link := ""
	if errors.Is(err, billing.ErrInsufficientFunds) {
		link = s.paymentLink(ctx)
		s.notify("You're out of credits. Top up to keep talking.", SeverityWarning, link)
	} else {
		s.notify("Billing is unavailable; the call has ended.", SeverityWarning, "")
	}
	s.logger.Info("call ended by billing", "error", err)
	s.shutdown(PhaseTerminated)
}

func (s *Session) paymentLink(ctx context.Context) string {
	if s.deps.TopUp == nil {
		return ""
	}
	link, err := s.deps.TopUp.CheckoutLink(ctx, s.cfg.UserID)
	if err != nil {
		if !errors.Is(err, billing.ErrTopUpUnavailable) {
			s.logger.Warn("checkout link failed", "error", err)
		}
		return ""
	}
	return link
}

// Hangup ends the call normally. Safe to call in any phase, any number of
// times.
func (s *Session) Hangup() {
	s.shutdown(PhaseTerminated)
}

// Close releases everything the session holds. Identical to Hangup; the
// unmount path and the hangup button converge here.
func (s *Session) Close() error {
	s.shutdown(PhaseTerminated)
	return nil
}

// shutdown releases all resources exactly once and settles on final. The
// first caller wins; later callers are no-ops.
func (s *Session) shutdown(final Phase) {
	if s.closed.Swap(true) {
		return
	}

	s.mu.Lock()
	cancel := s.cancel
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if err := s.deps.Mic.Close(); err != nil {
		s.logger.Debug("mic close", "error", err)
	}
	s.deps.Speaker.Reset()
	if err := s.deps.Speaker.Close(); err != nil {
		s.logger.Debug("speaker close", "error", err)
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			s.logger.Debug("conn close", "error", err)
		}
	}

	s.speaking.Store(false)
	s.meter.Reset()
	s.setPhase(final)
	s.logger.Info("call ended", "phase", final.String())
}

// SetMuted toggles outbound forwarding. Level metering continues; the
// capture device stays open.
func (s *Session) SetMuted(muted bool) {
	s.muted.Store(muted)
	s.emitStatus()
}

// ToggleMute flips the mute flag and returns the new value.
func (s *Session) ToggleMute() bool {
	muted := !s.muted.Load()
	s.SetMuted(muted)
	return muted
}

// Muted reports the forwarding flag.
func (s *Session) Muted() bool { return s.muted.Load() }

// Err reports the fault that ended the call, classified per the taxonomy in
// errors.go. Nil while the call is live and after a normal hangup.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.termErr
}

// setErr records the first fault; later faults are teardown noise.
func (s *Session) setErr(err error) {
	s.mu.Lock()
	if s.termErr == nil {
		s.termErr = err
	}
	s.mu.Unlock()
}

// Phase returns the current lifecycle phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

func (s *Session) setPhase(p Phase) {
	s.mu.Lock()
	if s.phase.Terminal() {
		s.mu.Unlock()
		return
	}
	s.phase = p
	s.mu.Unlock()
	s.emitStatus()
}

// Status snapshots the observable state.
func (s *Session) Status() Status {
	return Status{
		Phase:      s.Phase(),
		Elapsed:    s.meter.Elapsed(),
		Level:      math.Float64frombits(s.levelBits.Load()),
		Speaking:   s.speaking.Load(),
		BufferedMS: s.deps.Speaker.Buffered().Milliseconds(),
		Muted:      s.muted.Load(),
	}
}

func (s *Session) emitStatus() {
	if s.deps.OnStatus != nil {
		s.deps.OnStatus(s.Status())
	}
}

func (s *Session) notify(message string, severity Severity, paymentURL string) {
	if s.deps.OnNotice != nil {
		s.deps.OnNotice(Notice{Message: message, Severity: severity, PaymentURL: paymentURL})
	}
}
