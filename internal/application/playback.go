package application

import (
	"context"
	"errors"
	"sync"
)

// ErrInterrupted resolves a playback that was cancelled or replaced before it
// finished.
var ErrInterrupted = errors.New("playback interrupted")

// PlaybackRequest is the argument to Speak. OnEnd, if set, runs once when the
// playback ends naturally or fails; it does not run for interrupted playbacks.
type PlaybackRequest struct {
	Text  string
	OnEnd func(err error)
}

// Playback is the asynchronous result of Speak.
type Playback struct {
	done chan struct{}
	once sync.Once
	err  error
}

func newPlayback() *Playback {
	return &Playback{done: make(chan struct{})}
}

func (p *Playback) Done() <-chan struct{} {
	return p.done
}

// Err returns the outcome once Done is closed, nil before that.
func (p *Playback) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

func (p *Playback) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Playback) resolve(err error) {
	p.once.Do(func() {
		p.err = err
		close(p.done)
	})
}
