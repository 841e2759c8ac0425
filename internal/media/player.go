// Package media loads the delivery media asset and plays it on the active audio
// output route.
package media

import (
	"context"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/sirupsen/logrus"

	"github.com/srg/blecast/internal/device"
	"github.com/srg/blecast/internal/groutine"
)

// Nop is the sink used when no media is configured or loading failed.
type Nop struct{}

func (Nop) Play() error { return nil }

// output is a started playback device.
type output interface {
	Start() error
	Stop() error
	Uninit()
}

// opener creates a playback device for clip whose data callback is fill.
type opener func(clip *Clip, fill func(out []byte)) (output, error)

// Player plays a Clip from the start on every Play. Play returns once playback
// has started; a Play during playback rewinds it.
type Player struct {
	clip   *Clip
	pcm    []byte
	open   opener
	closer func() error
	logger *logrus.Logger

	mu       sync.Mutex
	out      output
	gen      uint64
	pos      int
	finished bool
}

// NewPlayer loads the WAV at path and prepares the default playback device.
// Errors match device.ErrMediaLoadFailed.
func NewPlayer(path string, logger *logrus.Logger) (*Player, error) {
	clip, err := Load(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", device.ErrMediaLoadFailed, path, err)
	}

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: initializing audio context: %v", device.ErrMediaLoadFailed, err)
	}

	open := func(clip *Clip, fill func(out []byte)) (output, error) {
		cfg := malgo.DefaultDeviceConfig(malgo.Playback)
		cfg.Playback.Format = malgo.FormatS16
		cfg.Playback.Channels = uint32(clip.Channels)
		cfg.SampleRate = uint32(clip.SampleRate)

		callbacks := malgo.DeviceCallbacks{
			Data: func(out, _ []byte, _ uint32) { fill(out) },
		}
		dev, err := malgo.InitDevice(ctx.Context, cfg, callbacks)
		if err != nil {
			return nil, fmt.Errorf("initializing playback device: %w", err)
		}
		return dev, nil
	}
	closer := func() error {
		if err := ctx.Uninit(); err != nil {
			return fmt.Errorf("uninitializing audio context: %w", err)
		}
		ctx.Free()
		return nil
	}

	p := newPlayer(clip, open, closer, logger)
	logger.WithFields(logrus.Fields{
		"media":       path,
		"duration":    clip.Duration(),
		"sample_rate": clip.SampleRate,
		"channels":    clip.Channels,
	}).Info("Media loaded")
	return p, nil
}

func newPlayer(clip *Clip, open opener, closer func() error, logger *logrus.Logger) *Player {
	if logger == nil {
		logger = logrus.New()
	}
	return &Player{
		clip:   clip,
		pcm:    clip.PCM(),
		open:   open,
		closer: closer,
		logger: logger,
	}
}

// Play starts playback from the beginning.
func (p *Player) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.pos = 0
	p.finished = false
	if p.out != nil {
		return nil
	}

	p.gen++
	gen := p.gen
	out, err := p.open(p.clip, func(buf []byte) { p.fill(gen, buf) })
	if err != nil {
		return err
	}
	if err := out.Start(); err != nil {
		out.Uninit()
		return fmt.Errorf("starting playback device: %w", err)
	}
	p.out = out
	return nil
}

// playing reports whether a playback device is running.
func (p *Player) playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.out != nil
}

// fill is the device data callback. It must not stop the device itself, so the
// end of the clip hands teardown to a goroutine.
func (p *Player) fill(gen uint64, buf []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if gen != p.gen || p.out == nil {
		clear(buf)
		return
	}
	n := copy(buf, p.pcm[p.pos:])
	p.pos += n
	clear(buf[n:])

	if p.pos >= len(p.pcm) && !p.finished {
		p.finished = true
		groutine.Go(context.Background(), "media-finish", func(context.Context) { p.finish(gen) })
	}
}

func (p *Player) finish(gen uint64) {
	p.mu.Lock()
	if gen != p.gen || !p.finished || p.out == nil {
		p.mu.Unlock()
		return
	}
	out := p.out
	p.out = nil
	p.gen++
	p.mu.Unlock()

	p.release(out)
}

func (p *Player) release(out output) {
	if err := out.Stop(); err != nil {
		p.logger.WithError(err).Debug("Failed to stop playback device")
	}
	out.Uninit()
}

// Close stops playback and releases the audio context.
func (p *Player) Close() error {
	p.mu.Lock()
	out := p.out
	p.out = nil
	p.gen++
	p.mu.Unlock()

	if out != nil {
		p.release(out)
	}
	if p.closer != nil {
		return p.closer()
	}
	return nil
}
