package realtime

import (
	"context"
	"errors"
	"sync"
)

// PCM16 mono at 24 kHz, the upstream's pcm16 format.
const (
	SampleRate     = 24000
	BytesPerSample = 2
	Channels       = 1
	// CaptureFrames is the capture chunk size in frames.
	CaptureFrames = 1024
)

// ErrCapabilityUnavailable is returned when an optional host capability
// (audio capture or playback) is absent. Sessions continue text-only.
var ErrCapabilityUnavailable = errors.New("capability unavailable")

// PCMDuration returns the playback duration in seconds of n bytes of PCM16 mono.
func PCMDuration(n int) float64 {
	if n <= 0 {
		return 0
	}
	return float64(n) / float64(SampleRate*BytesPerSample*Channels)
}

// AudioDevice is the optional audio capability of the host.
// Callers check Available once and branch on it.
type AudioDevice interface {
	Available() bool
	OpenCapture(ctx context.Context) (AudioCapture, error)
	Play(pcm []byte) error
}

// AudioCapture yields PCM16 chunks until closed.
type AudioCapture interface {
	Read(ctx context.Context) ([]byte, error)
	Close() error
}

// NoAudio is the AudioDevice of a host without audio.
type NoAudio struct{}

func (NoAudio) Available() bool { return false }

func (NoAudio) OpenCapture(context.Context) (AudioCapture, error) {
	return nil, ErrCapabilityUnavailable
}

func (NoAudio) Play([]byte) error { return ErrCapabilityUnavailable }

// ProbeAudio returns dev when it reports itself available and NoAudio otherwise.
func ProbeAudio(dev AudioDevice) AudioDevice {
	if dev == nil || !dev.Available() {
		return NoAudio{}
	}
	return dev
}

// =============================================================================
// PIPE AUDIO
// =============================================================================

// ErrCaptureClosed is returned by PipeAudio reads after the capture was closed.
var ErrCaptureClosed = errors.New("audio capture closed")

// PipeAudio is an AudioDevice fed from the outside, e.g. with PCM frames a
// browser streams to the gateway. Frames fed while no capture is open are
// dropped. Playback is a no-op: output audio reaches clients as events.
type PipeAudio struct {
	mu      sync.Mutex
	current *pipeCapture
	buffer  int
}

// NewPipeAudio creates a PipeAudio that buffers up to buffer chunks.
func NewPipeAudio(buffer int) *PipeAudio {
	if buffer <= 0 {
		buffer = 64
	}
	return &PipeAudio{buffer: buffer}
}

func (p *PipeAudio) Available() bool { return true }

func (p *PipeAudio) Play([]byte) error { return nil }

// OpenCapture starts a capture. Only one capture is open at a time; opening a
// new one closes the previous.
func (p *PipeAudio) OpenCapture(context.Context) (AudioCapture, error) {
	c := &pipeCapture{owner: p, frames: make(chan []byte, p.buffer), closed: make(chan struct{})}
	p.mu.Lock()
	prev := p.current
	p.current = c
	p.mu.Unlock()
	if prev != nil {
		_ = prev.Close()
	}
	return c, nil
}

// Feed hands a PCM chunk to the open capture. It reports whether the chunk
// was accepted.
func (p *PipeAudio) Feed(pcm []byte) bool {
	p.mu.Lock()
	c := p.current
	p.mu.Unlock()
	if c == nil {
		return false
	}
	return c.push(pcm)
}

// Capturing reports whether a capture is open.
func (p *PipeAudio) Capturing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current != nil
}

type pipeCapture struct {
	owner     *PipeAudio
	frames    chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func (c *pipeCapture) push(pcm []byte) bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.frames <- pcm:
		return true
	default:
		return false
	}
}

func (c *pipeCapture) Read(ctx context.Context) ([]byte, error) {
	select {
	case pcm := <-c.frames:
		return pcm, nil
	case <-c.closed:
		return nil, ErrCaptureClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *pipeCapture) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.owner.mu.Lock()
		if c.owner.current == c {
			c.owner.current = nil
		}
		c.owner.mu.Unlock()
	})
	return nil
}
