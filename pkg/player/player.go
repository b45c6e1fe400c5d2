package player

import (
	"errors"
	"sync"

	"github.com/akashmore/aika/pkg/history"
)

// DefaultVolume is the volume a fresh player starts with.
const DefaultVolume = 0.7

var ErrNoTrack = errors.New("player: no track loaded")

// State is the externally visible playback state. It is owned exclusively
// by the Player and changes only through actions.
type State struct {
	IsPlaying   bool
	CurrentTime float64
	Duration    float64
	Volume      float64
}

// Action is a tagged playback transition consumed by apply.
type Action interface {
	isAction()
}

type play struct{}
type pause struct{}
type setCurrentTime struct{ t float64 }
type setDuration struct{ d float64 }
type setVolume struct{ v float64 }

// reset is applied when the active track changes: back to paused with
// zeroed position and duration, volume untouched.
type reset struct{}

func (play) isAction() {}
func (pause) isAction() {}
func (setCurrentTime) isAction() {}
func (setDuration) isAction() {}
func (setVolume) isAction() {}
func (reset) isAction() {}

// apply is the pure transition function over the player state.
func apply(s State, a Action) State {
	switch a := a.(type) {
	case play:
		s.IsPlaying = true
	case pause:
		s.IsPlaying = false
	case setCurrentTime:
		s.CurrentTime = a.t
	case setDuration:
		s.Duration = a.d
	case setVolume:
		s.Volume = clamp(a.v)
	case reset:
		s.IsPlaying = false
		s.CurrentTime = 0
		s.Duration = 0
	}
	return s
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Output is the audio backend driven by the player. Play may fail, the
// playing transition only happens on acceptance. Pause is assumed
// synchronous and non-failing.
type Output interface {
	Play(url string, from, volume float64) error
	Pause()
	Seek(t float64)
	SetVolume(v float64)
}

// Discard is an Output that swallows every command, for surfaces where
// playback happens elsewhere (e.g. the browser audio element).
var Discard Output = discard{}

type discard struct{}

func (discard) Play(url string, from, volume float64) error { return nil }
func (discard) Pause() {}
func (discard) Seek(t float64) {}
func (discard) SetVolume(v float64) {}

// Player tracks playback for one active track and drives an Output. It
// lives for the whole session; there is no terminal state.
type Player struct {
	mu    sync.Mutex
	out   Output
	state State
	track *history.Entry
}

func New(out Output) *Player {
	if out == nil {
		out = Discard
	}
	return &Player{
		out: out,
		state: State{
			Volume: DefaultVolume,
		},
	}
}

// State returns a copy of the current playback state.
func (p *Player) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Track returns the active track, nil if none is loaded.
func (p *Player) Track() *history.Entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.track
}

// Load replaces the active track and resets position and duration. The
// volume is a player-level setting and survives track changes. A nil
// track clears the player.
func (p *Player) Load(track *history.Entry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state.IsPlaying {
		p.out.Pause()
	}
	p.track = track
	p.state = apply(p.state, reset{})
}

// Toggle starts playback when paused and pauses when playing.
func (p *Player) Toggle() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state.IsPlaying {
		p.out.Pause()
		p.state = apply(p.state, pause{})
		return nil
	}
	if p.track == nil {
		return ErrNoTrack
	}
	if err := p.out.Play(p.track.AudioURL, p.state.CurrentTime, p.state.Volume); err != nil {
		return err
	}
	p.state = apply(p.state, play{})
	return nil
}

// Seek moves the playback position without changing the play state.
func (p *Player) Seek(t float64) {
	if t < 0 {
		t = 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.out.Seek(t)
	p.state = apply(p.state, setCurrentTime{t: t})
}

// SetVolume clamps v to [0,1] and applies it.
func (p *Player) SetVolume(v float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = apply(p.state, setVolume{v: v})
	p.out.SetVolume(p.state.Volume)
}

// OnTimeUpdate is fed by the output while playing.
func (p *Player) OnTimeUpdate(t float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = apply(p.state, setCurrentTime{t: t})
}

// OnDurationKnown is fed by the output once metadata loads.
func (p *Player) OnDurationKnown(d float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = apply(p.state, setDuration{d: d})
}

// OnEnded forces the player back to paused at the start of the track.
func (p *Player) OnEnded() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = apply(p.state, pause{})
	p.state = apply(p.state, setCurrentTime{t: 0})
}

// OnError pauses as a fail-safe; position and duration are kept.
func (p *Player) OnError() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = apply(p.state, pause{})
}
