package player

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/hajimehoshi/go-mp3"
)

// Events receives playback events emitted by an output backend.
type Events interface {
	OnTimeUpdate(t float64)
	OnDurationKnown(d float64)
	OnEnded()
	OnError()
}

// FFPlay plays audio by shelling out to ffplay. Pausing kills the process
// and resuming restarts it at the last reported position.
type FFPlay struct {
	bin    string
	debug  bool
	client *http.Client
	events Events

	mu         sync.Mutex
	cancel     context.CancelFunc
	doneC      chan struct{}
	url        string
	probed     string
	from       float64
	lastVolume float64
	started    time.Time
}

type FFPlayConfig struct {
	Bin    string
	Debug  bool
	Client *http.Client
}

func NewFFPlay(cfg *FFPlayConfig) *FFPlay {
	bin := cfg.Bin
	if bin == "" {
		bin = "ffplay"
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{
			Timeout: 2 * time.Minute,
		}
	}
	return &FFPlay{
		bin:    bin,
		debug:  cfg.Debug,
		client: client,
	}
}

// Bind registers the event sink. Must be called before Play.
func (f *FFPlay) Bind(events Events) {
	f.events = events
}

func (f *FFPlay) log(format string, args ...interface{}) {
	if f.debug {
		format += "\n"
		log.Printf(format, args...)
	}
}

func (f *FFPlay) Play(url string, from, volume float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.play(url, from, volume)
}

func (f *FFPlay) Pause() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stop()
}

func (f *FFPlay) Seek(t float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancel == nil {
		return
	}
	if err := f.play(f.url, t, f.lastVolume); err != nil {
		f.log("player: couldn't seek: %v", err)
	}
}

func (f *FFPlay) SetVolume(v float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancel == nil {
		f.lastVolume = v
		return
	}
	// ffplay has no live volume control, restart at the current position.
	if err := f.play(f.url, f.position(), v); err != nil {
		f.log("player: couldn't set volume: %v", err)
	}
}

// Wait blocks until the current playback ends or ctx is cancelled.
func (f *FFPlay) Wait(ctx context.Context) error {
	f.mu.Lock()
	done := f.doneC
	f.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// play starts a new ffplay process. Must be called with the lock held.
func (f *FFPlay) play(url string, from, volume float64) error {
	f.stop()
	ctx, cancel := context.WithCancel(context.Background())
	args := []string{
		"-nodisp",
		"-autoexit",
		"-loglevel", "quiet",
		"-volume", strconv.Itoa(int(volume * 100)),
		"-ss", strconv.FormatFloat(from, 'f', 3, 64),
		url,
	}
	f.log("player: %s %v", f.bin, args)
	cmd := exec.CommandContext(ctx, f.bin, args...)
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("player: couldn't start %s: %w", f.bin, err)
	}
	f.cancel = cancel
	f.url = url
	f.from = from
	f.lastVolume = volume
	f.started = time.Now()
	done := make(chan struct{})
	f.doneC = done
	go f.watch(ctx, cmd, from, done)
	if f.probed != url {
		f.probed = url
		go f.probe(url)
	}
	return nil
}

// stop kills the current process if any. Must be called with the lock
// held.
func (f *FFPlay) stop() {
	if f.cancel == nil {
		return
	}
	f.cancel()
	f.cancel = nil
}

// position estimates the current playback position. Must be called with
// the lock held.
func (f *FFPlay) position() float64 {
	if f.cancel == nil {
		return f.from
	}
	return f.from + time.Since(f.started).Seconds()
}

func (f *FFPlay) watch(ctx context.Context, cmd *exec.Cmd, from float64, done chan struct{}) {
	defer close(done)
	waitC := make(chan error, 1)
	go func() {
		waitC <- cmd.Wait()
	}()
	start := time.Now()
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case err := <-waitC:
			if ctx.Err() != nil {
				// Deliberate pause or seek, not an end of track.
				return
			}
			if err != nil {
				f.log("player: %s exited: %v", f.bin, err)
				if f.events != nil {
					f.events.OnError()
				}
				return
			}
			if f.events != nil {
				f.events.OnEnded()
			}
			return
		case <-ticker.C:
			if f.events != nil {
				f.events.OnTimeUpdate(from + time.Since(start).Seconds())
			}
		}
	}
}

// probe downloads the track and decodes it to report its duration. Only
// mp3 payloads are probed; anything else leaves the duration unknown.
func (f *FFPlay) probe(url string) {
	resp, err := f.client.Get(url)
	if err != nil {
		f.log("player: couldn't probe %s: %v", url, err)
		return
	}
	defer resp.Body.Close()
	d, err := mp3.NewDecoder(resp.Body)
	if err != nil {
		f.log("player: couldn't decode %s: %v", url, err)
		return
	}
	// Samples are 16 bit and stereo, 4 bytes each.
	seconds := float64(d.Length()) / 4 / float64(d.SampleRate())
	if f.events != nil {
		f.events.OnDurationKnown(seconds)
	}
}
