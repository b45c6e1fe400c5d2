package player

import (
	"errors"
	"testing"

	"github.com/akashmore/aika/pkg/history"
)

type fakeOutput struct {
	playErr error
	played  []string
	paused  int
	seeked  []float64
	volumes []float64
}

func (o *fakeOutput) Play(url string, from, volume float64) error {
	if o.playErr != nil {
		return o.playErr
	}
	o.played = append(o.played, url)
	return nil
}

func (o *fakeOutput) Pause() {
	o.paused++
}

func (o *fakeOutput) Seek(t float64) {
	o.seeked = append(o.seeked, t)
}

func (o *fakeOutput) SetVolume(v float64) {
	o.volumes = append(o.volumes, v)
}

func testTrack(id string) *history.Entry {
	e := &history.Entry{
		ID: id,
	}
	e.AudioURL = "https://x/" + id + ".wav"
	return e
}

func TestLoadResetsState(t *testing.T) {
	out := &fakeOutput{}
	p := New(out)
	p.Load(testTrack("a"))
	if err := p.Toggle(); err != nil {
		t.Fatalf("Toggle: %v", err)
	}
	p.OnDurationKnown(120)
	p.OnTimeUpdate(42)
	p.SetVolume(0.3)

	p.Load(testTrack("b"))
	got := p.State()
	want := State{IsPlaying: false, CurrentTime: 0, Duration: 0, Volume: 0.3}
	if got != want {
		t.Errorf("State() after Load = %+v; want %+v", got, want)
	}
	if out.paused != 1 {
		t.Errorf("output paused %d times; want 1", out.paused)
	}
	if p.Track().ID != "b" {
		t.Errorf("Track().ID = %q; want %q", p.Track().ID, "b")
	}
}

func TestToggle(t *testing.T) {
	out := &fakeOutput{}
	p := New(out)

	// No track loaded.
	if err := p.Toggle(); !errors.Is(err, ErrNoTrack) {
		t.Fatalf("Toggle() error = %v; want ErrNoTrack", err)
	}

	p.Load(testTrack("a"))
	if err := p.Toggle(); err != nil {
		t.Fatalf("Toggle: %v", err)
	}
	if !p.State().IsPlaying {
		t.Error("IsPlaying = false after toggle; want true")
	}
	if len(out.played) != 1 || out.played[0] != "https://x/a.wav" {
		t.Errorf("played = %v; want the track url", out.played)
	}

	if err := p.Toggle(); err != nil {
		t.Fatalf("Toggle: %v", err)
	}
	if p.State().IsPlaying {
		t.Error("IsPlaying = true after second toggle; want false")
	}
	if out.paused != 1 {
		t.Errorf("output paused %d times; want 1", out.paused)
	}
}

func TestToggleRejectedPlay(t *testing.T) {
	out := &fakeOutput{playErr: errors.New("device busy")}
	p := New(out)
	p.Load(testTrack("a"))
	if err := p.Toggle(); err == nil {
		t.Fatal("Toggle() error = nil; want play error")
	}
	if p.State().IsPlaying {
		t.Error("IsPlaying = true after rejected play; want false")
	}
}

func TestSeekAndVolume(t *testing.T) {
	out := &fakeOutput{}
	p := New(out)
	p.Load(testTrack("a"))

	p.Seek(33.5)
	if got := p.State().CurrentTime; got != 33.5 {
		t.Errorf("CurrentTime = %v; want 33.5", got)
	}
	if p.State().IsPlaying {
		t.Error("Seek changed play state")
	}
	p.Seek(-5)
	if got := p.State().CurrentTime; got != 0 {
		t.Errorf("CurrentTime after negative seek = %v; want 0", got)
	}

	tests := []struct {
		in   float64
		want float64
	}{
		{in: 0.5, want: 0.5},
		{in: -1, want: 0},
		{in: 1.5, want: 1},
	}
	for _, tt := range tests {
		p.SetVolume(tt.in)
		if got := p.State().Volume; got != tt.want {
			t.Errorf("SetVolume(%v): Volume = %v; want %v", tt.in, got, tt.want)
		}
	}
}

func TestOnEnded(t *testing.T) {
	out := &fakeOutput{}
	p := New(out)
	p.Load(testTrack("a"))
	if err := p.Toggle(); err != nil {
		t.Fatalf("Toggle: %v", err)
	}
	p.OnTimeUpdate(100)
	p.OnEnded()
	got := p.State()
	if got.IsPlaying {
		t.Error("IsPlaying = true after OnEnded; want false")
	}
	if got.CurrentTime != 0 {
		t.Errorf("CurrentTime = %v after OnEnded; want 0", got.CurrentTime)
	}
}

func TestOnError(t *testing.T) {
	out := &fakeOutput{}
	p := New(out)
	p.Load(testTrack("a"))
	if err := p.Toggle(); err != nil {
		t.Fatalf("Toggle: %v", err)
	}
	p.OnDurationKnown(120)
	p.OnTimeUpdate(42)
	p.OnError()
	got := p.State()
	if got.IsPlaying {
		t.Error("IsPlaying = true after OnError; want false")
	}
	if got.CurrentTime != 42 || got.Duration != 120 {
		t.Errorf("OnError cleared position or duration: %+v", got)
	}
}

func TestDefaultVolume(t *testing.T) {
	p := New(nil)
	if got := p.State().Volume; got != DefaultVolume {
		t.Errorf("Volume = %v; want %v", got, DefaultVolume)
	}
}
