package aika

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/akashmore/aika/pkg/acestep"
	"github.com/akashmore/aika/pkg/history"
	"github.com/akashmore/aika/pkg/player"
)

// DefaultTimeout is the soft client-side budget for one generation call.
// The underlying request is not cancelled when it fires, its eventual
// result is simply discarded.
const DefaultTimeout = 300 * time.Second

var (
	ErrTimeout = errors.New("aika: generation timed out")
	ErrBusy    = errors.New("aika: a generation is already in progress")
)

type Config struct {
	Debug   bool
	Timeout time.Duration
	Proxy   string
	Wait    time.Duration
	// Endpoints overrides the per-type deployment URLs.
	Endpoints map[acestep.Type]string
	// OnProgress, if set, receives the simulated progress percentage.
	OnProgress func(float64)
}

// Generator ties the pipeline together: it validates requests, calls the
// generation service under the soft timeout, stores results and keeps the
// player pointed at the active track.
type Generator struct {
	client     *acestep.Client
	httpClient *http.Client
	store      *history.Store
	player     *player.Player
	timeout    time.Duration
	onProgress func(float64)

	mu       sync.Mutex
	busy     bool
	progress float64
	current  *history.Entry
}

func New(cfg *Config, store *history.Store, p *player.Player) (*Generator, error) {
	httpClient := &http.Client{}
	if cfg.Proxy != "" {
		u, err := url.Parse(cfg.Proxy)
		if err != nil {
			return nil, fmt.Errorf("aika: invalid proxy URL: %w", err)
		}
		httpClient.Transport = &http.Transport{
			Proxy: http.ProxyURL(u),
		}
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	if p == nil {
		p = player.New(nil)
	}
	return &Generator{
		client: acestep.New(&acestep.Config{
			Wait:      cfg.Wait,
			Debug:     cfg.Debug,
			Client:    httpClient,
			Endpoints: cfg.Endpoints,
		}),
		httpClient: httpClient,
		store:      store,
		player:     p,
		timeout:    timeout,
		onProgress: cfg.OnProgress,
	}, nil
}

// Client returns the underlying generation client.
func (g *Generator) Client() *acestep.Client {
	return g.client
}

// Player returns the playback state machine.
func (g *Generator) Player() *player.Player {
	return g.player
}

// Current returns the active track, nil if none.
func (g *Generator) Current() *history.Entry {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.current
}

// Busy reports whether a generation call is in flight.
func (g *Generator) Busy() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.busy
}

// Progress returns the simulated progress percentage of the in-flight
// call, 0 when idle.
func (g *Generator) Progress() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.progress
}

// Generate runs the whole pipeline for one request. On success the result
// is saved to history and loaded into the player. Errors are classified
// by UserMessage; validation failures never reach the network.
func (g *Generator) Generate(ctx context.Context, req acestep.Request) (*history.Entry, error) {
	g.mu.Lock()
	if g.busy {
		g.mu.Unlock()
		return nil, ErrBusy
	}
	g.busy = true
	g.progress = 0
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		g.busy = false
		g.progress = 0
		g.mu.Unlock()
	}()

	if err := check(req); err != nil {
		return nil, err
	}

	stop := make(chan struct{})
	defer close(stop)
	go g.tickProgress(stop)

	music, err := g.race(ctx, req)
	if err != nil {
		return nil, err
	}
	g.setProgress(100)

	now := time.Now()
	entry, err := g.store.Save(ctx, music, req)
	if err != nil {
		// Persistence is best effort, the result is still usable.
		log.Printf("aika: couldn't save track to history: %v\n", err)
		entry = &history.Entry{
			GeneratedMusic: *music,
			Timestamp:      now.UnixMilli(),
			Title:          history.Title(req.Type(), req.Text(), now),
			Type:           req.Type(),
		}
	}

	g.mu.Lock()
	g.current = entry
	g.mu.Unlock()
	g.player.Load(entry)
	return entry, nil
}

// check runs the pre-network validation: variant text fields, sampler
// ranges and the final shape check.
func check(req acestep.Request) error {
	if err := req.Check(); err != nil {
		return err
	}
	if err := req.Sampler().Check(); err != nil {
		return err
	}
	if !acestep.Validate(req.Type(), req) {
		return acestep.ValidationError("the request is missing required fields")
	}
	return nil
}

// race runs the generation call against the soft timeout. The losing side
// is discarded, not cancelled: a timed out call keeps running on the
// server and its eventual result is dropped.
func (g *Generator) race(ctx context.Context, req acestep.Request) (*acestep.GeneratedMusic, error) {
	type result struct {
		music *acestep.GeneratedMusic
		err   error
	}
	resC := make(chan result, 1)
	go func() {
		music, err := g.client.Generate(ctx, req)
		resC <- result{music: music, err: err}
	}()
	t := time.NewTimer(g.timeout)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.C:
		return nil, ErrTimeout
	case r := <-resC:
		return r.music, r.err
	}
}

// tickProgress drives the cosmetic progress value from 0 towards 90 while
// the call is in flight. It is not tied to actual remote progress.
func (g *Generator) tickProgress(stop <-chan struct{}) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			g.mu.Lock()
			if g.progress < 90 {
				g.progress += rand.Float64() * 10
				if g.progress > 90 {
					g.progress = 90
				}
			}
			p := g.progress
			cb := g.onProgress
			g.mu.Unlock()
			if cb != nil {
				cb(p)
			}
		}
	}
}

func (g *Generator) setProgress(p float64) {
	g.mu.Lock()
	g.progress = p
	cb := g.onProgress
	g.mu.Unlock()
	if cb != nil {
		cb(p)
	}
}

// History returns the stored tracks, most recent first.
func (g *Generator) History(ctx context.Context) []*history.Entry {
	return g.store.List(ctx)
}

// Load makes the stored track with the given id the active one and resets
// the player.
func (g *Generator) Load(ctx context.Context, id string) (*history.Entry, error) {
	entry, err := g.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	g.current = entry
	g.mu.Unlock()
	g.player.Load(entry)
	return entry, nil
}

// Delete removes the stored track. If it is the active one, the active
// track is cleared and the player reset. Storage failures are logged and
// leave the state untouched.
func (g *Generator) Delete(ctx context.Context, id string) {
	if err := g.store.Delete(ctx, id); err != nil {
		log.Printf("aika: couldn't delete track %s: %v\n", id, err)
		return
	}
	g.mu.Lock()
	active := g.current != nil && g.current.ID == id
	if active {
		g.current = nil
	}
	g.mu.Unlock()
	if active {
		g.player.Load(nil)
	}
}

// Clear empties the history and clears the active track.
func (g *Generator) Clear(ctx context.Context) {
	if err := g.store.Clear(ctx); err != nil {
		log.Printf("aika: couldn't clear tracks: %v\n", err)
		return
	}
	g.mu.Lock()
	g.current = nil
	g.mu.Unlock()
	g.player.Load(nil)
}

// Download fetches the generated audio to a local file.
func (g *Generator) Download(ctx context.Context, url, output string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("aika: couldn't create request: %w", err)
	}
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("aika: couldn't download track: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("aika: download returned status %d", resp.StatusCode)
	}
	f, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("aika: couldn't create %s: %w", output, err)
	}
	defer f.Close()
	if _, err := io.Copy(f, resp.Body); err != nil {
		return fmt.Errorf("aika: couldn't write to %s: %w", output, err)
	}
	return nil
}

// UserMessage converts any error from the pipeline into a single
// user-facing string. Known kinds map to fixed messages so internal error
// chains never leak to the UI.
func UserMessage(err error) string {
	var validation acestep.ValidationError
	var status *acestep.StatusError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &validation):
		return string(validation)
	case errors.Is(err, ErrTimeout):
		return "generation is taking longer than usual, please try again in a moment"
	case errors.Is(err, ErrBusy):
		return "a generation is already in progress"
	case errors.Is(err, acestep.ErrIncomplete):
		return "the service returned an incomplete result, please try again"
	case errors.As(err, &status):
		return fmt.Sprintf("the generation service returned an error (%d): %s", status.Code, status.Body)
	case errors.Is(err, context.Canceled):
		return "generation was cancelled"
	default:
		return "couldn't reach the generation service, please check your connection"
	}
}
