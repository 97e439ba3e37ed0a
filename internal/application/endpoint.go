package application

import (
	"math"
	"sync"
	"time"

	"voice-session/internal/domain"
)

type EndReason int

const (
	EndSilence EndReason = iota + 1
	EndMaxDuration
	EndForced
)

func (r EndReason) String() string {
	switch r {
	case EndSilence:
		return "silence"
	case EndMaxDuration:
		return "max_duration"
	case EndForced:
		return "forced"
	default:
		return "unknown"
	}
}

type EndpointConfig struct {
	// SilenceTimeout is how long the turn may go without voiced chunks.
	SilenceTimeout time.Duration
	// MaxDuration caps a single turn; zero disables the cap.
	MaxDuration time.Duration
	// EnergyThreshold is the normalized RMS level (0-1) a chunk needs to count
	// as speech. Zero treats any chunk that is not digital silence as activity.
	EnergyThreshold float64
}

func DefaultEndpointConfig() EndpointConfig {
	return EndpointConfig{
		SilenceTimeout:  1500 * time.Millisecond,
		MaxDuration:     30 * time.Second,
		EnergyThreshold: 0.01,
	}
}

// EndpointDetector decides when the user stopped speaking. onEnd is called at
// most once, from a timer goroutine, and never after Stop has returned true.
type EndpointDetector struct {
	cfg   EndpointConfig
	onEnd func(EndReason)

	mu      sync.Mutex
	seq     uint64
	silence *time.Timer
	limit   *time.Timer
	heard   bool
	done    bool
}

func NewEndpointDetector(cfg EndpointConfig, onEnd func(EndReason)) *EndpointDetector {
	if cfg.SilenceTimeout <= 0 {
		cfg.SilenceTimeout = DefaultEndpointConfig().SilenceTimeout
	}
	return &EndpointDetector{
		cfg:   cfg,
		onEnd: onEnd,
	}
}

// Start arms the max-duration limit. The silence countdown only starts with
// the first voiced chunk.
func (d *EndpointDetector) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.done || d.limit != nil || d.cfg.MaxDuration <= 0 {
		return
	}
	d.limit = time.AfterFunc(d.cfg.MaxDuration, func() {
		d.fire(0, EndMaxDuration)
	})
}

// Observe feeds one chunk and returns true when it is the first voiced chunk
// of the turn.
func (d *EndpointDetector) Observe(chunk domain.AudioChunk) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.done || !d.voiced(chunk.Samples) {
		return false
	}

	first := !d.heard
	d.heard = true

	d.seq++
	seq := d.seq
	if d.silence != nil {
		d.silence.Stop()
	}
	d.silence = time.AfterFunc(d.cfg.SilenceTimeout, func() {
		d.fire(seq, EndSilence)
	})

	return first
}

// Stop disarms the detector. It returns false if the end was already signalled.
func (d *EndpointDetector) Stop() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.done {
		return false
	}
	d.done = true
	d.stopTimers()
	return true
}

func (d *EndpointDetector) fire(seq uint64, reason EndReason) {
	d.mu.Lock()
	if d.done || (reason == EndSilence && seq != d.seq) {
		d.mu.Unlock()
		return
	}
	d.done = true
	d.stopTimers()
	d.mu.Unlock()

	d.onEnd(reason)
}

// Must be called with mu held.
func (d *EndpointDetector) stopTimers() {
	if d.silence != nil {
		d.silence.Stop()
	}
	if d.limit != nil {
		d.limit.Stop()
	}
}

func (d *EndpointDetector) voiced(samples []int16) bool {
	if len(samples) == 0 {
		return false
	}
	if d.cfg.EnergyThreshold <= 0 {
		for _, v := range samples {
			if v != 0 {
				return true
			}
		}
		return false
	}
	return Level(samples) >= d.cfg.EnergyThreshold
}

// Level returns the RMS of PCM16 samples normalized to 0-1.
func Level(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s) / 32768
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}
