// Package capture owns the microphone. It opens the default capture device
// through miniaudio, assembles fixed-size float blocks, and hands them to a
// callback tagged with the rate the device actually delivered.
package capture

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/parlato-app/parlato/pkg/audio"
)

// ErrMicrophoneUnavailable is returned when the capture device cannot be
// opened or started. It is fatal to the call; there is no automatic retry.
var ErrMicrophoneUnavailable = errors.New("capture: microphone unavailable")

// Block is one fixed-size run of mono float samples from the device.
type Block struct {
	// Samples holds exactly the configured block size, in [-1, 1].
	Samples []float32

	// Rate is the sample rate the device actually delivered. It can differ
	// from the requested rate and is what downstream resampling must use.
	Rate int
}

// Config configures the capture tap.
type Config struct {
	// RequestedRate is the rate asked of the device. The device may ignore
	// it; Block.Rate is authoritative.
	RequestedRate int

	// BlockSamples is the block size delivered to the callback.
	// Defaults to audio.CaptureBlockSamples.
	BlockSamples int

	// PeriodMS is the device callback period. Defaults to 20.
	PeriodMS int

	Logger *slog.Logger
}

// Tap is a microphone capture device feeding fixed-size blocks to a callback.
type Tap struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	ctx     *malgo.AllocatedContext
	device  *malgo.Device
	pending []float32
	onBlock func(Block)
	rate    int
	closed  bool
}

// New creates an unstarted tap.
func New(cfg Config) *Tap {
	if cfg.RequestedRate <= 0 {
		cfg.RequestedRate = audio.ModelInputRate
	}
	if cfg.BlockSamples <= 0 {
		cfg.BlockSamples = audio.CaptureBlockSamples
	}
	if cfg.PeriodMS <= 0 {
		cfg.PeriodMS = 20
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Tap{cfg: cfg, logger: logger}
}

// Start opens the default capture device in f32 mono and begins delivering
// blocks. onBlock is invoked synchronously from the device thread; it must
// not block. Every block is forwarded, silence included.
func (t *Tap) Start(onBlock func(Block)) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return fmt.Errorf("%w: tap closed", ErrMicrophoneUnavailable)
	}
	if t.device != nil {
		return fmt.Errorf("capture: already started")
	}
	t.onBlock = onBlock
	t.pending = make([]float32, 0, t.cfg.BlockSamples*2)

	ctxConfig := malgo.ContextConfig{}
	ctxConfig.ThreadPriority = malgo.ThreadPriorityRealtime

	mctx, err := malgo.InitContext(nil, ctxConfig, nil)
	if err != nil {
		return fmt.Errorf("%w: init context: %v", ErrMicrophoneUnavailable, err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = uint32(t.cfg.RequestedRate)
	deviceConfig.PeriodSizeInMilliseconds = uint32(t.cfg.PeriodMS)

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, pInputSamples []byte, _ uint32) {
			t.onData(pInputSamples)
		},
	}

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, callbacks)
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return fmt.Errorf("%w: init device: %v", ErrMicrophoneUnavailable, err)
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		_ = mctx.Uninit()
		mctx.Free()
		return fmt.Errorf("%w: start device: %v", ErrMicrophoneUnavailable, err)
	}

	t.ctx = mctx
	t.device = device
	// The rate the backend actually settled on, not the requested one.
	t.rate = int(device.SampleRate())
	if t.rate <= 0 {
		t.rate = t.cfg.RequestedRate
	}

	t.logger.Info("capture started",
		"requested_rate", t.cfg.RequestedRate,
		"device_rate", t.rate,
		"block_samples", t.cfg.BlockSamples)
	return nil
}

// DeviceRate returns the rate the open device delivers, or 0 before Start.
func (t *Tap) DeviceRate() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rate
}

func (t *Tap) onData(raw []byte) {
	t.mu.Lock()
	if t.closed || t.onBlock == nil {
		t.mu.Unlock()
		return
	}

	for i := 0; i+4 <= len(raw); i += 4 {
		bits := binary.LittleEndian.Uint32(raw[i:])
		t.pending = append(t.pending, math.Float32frombits(bits))
	}

	var blocks []Block
	for len(t.pending) >= t.cfg.BlockSamples {
		block := make([]float32, t.cfg.BlockSamples)
		copy(block, t.pending[:t.cfg.BlockSamples])
		t.pending = t.pending[:copy(t.pending, t.pending[t.cfg.BlockSamples:])]
		blocks = append(blocks, Block{Samples: block, Rate: t.rate})
	}
	onBlock := t.onBlock
	t.mu.Unlock()

	for _, b := range blocks {
		onBlock(b)
	}
}

// Close stops and releases the device. Idempotent: the second and later
// calls are no-ops.
func (t *Tap) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.onBlock = nil
	t.pending = nil
	device, mctx := t.device, t.ctx
	t.device, t.ctx = nil, nil
	// Stop outside the lock: the device thread may be waiting on it in onData.
	t.mu.Unlock()

	if device != nil {
		_ = device.Stop()
		device.Uninit()
	}
	if mctx != nil {
		_ = mctx.Uninit()
		mctx.Free()
	}

	t.logger.Debug("capture closed")
	return nil
}
