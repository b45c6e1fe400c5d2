package aika

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/akashmore/aika/pkg/acestep"
	"github.com/akashmore/aika/pkg/history"
	"github.com/akashmore/aika/pkg/player"
)

func newTestGenerator(t *testing.T, endpoint string, timeout time.Duration) *Generator {
	t.Helper()
	backend, err := history.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	g, err := New(&Config{
		Timeout: timeout,
		Wait:    time.Millisecond,
		Endpoints: map[acestep.Type]string{
			acestep.TypeDescription:     endpoint,
			acestep.TypeCustomLyrics:    endpoint,
			acestep.TypeDescribedLyrics: endpoint,
		},
	}, history.New(backend), player.New(nil))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return g
}

func newMusicServer(t *testing.T, calls *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		_, _ = w.Write([]byte(`{"cloudinary_url":"https://x/a.wav","cover_image_cloudinary_url":"https://x/a.jpg","categories":["Piano","Calm"]}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func descriptionRequest(text string) acestep.Request {
	return &acestep.DescriptionRequest{
		FullDescribedSong: text,
		GenerationConfig:  acestep.DefaultConfig(),
	}
}

func TestGenerate(t *testing.T) {
	var calls int32
	srv := newMusicServer(t, &calls)
	g := newTestGenerator(t, srv.URL, time.Minute)
	ctx := context.Background()

	entry, err := g.Generate(ctx, descriptionRequest("A calm piano piece"))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if entry.AudioURL != "https://x/a.wav" {
		t.Errorf("AudioURL = %q; want %q", entry.AudioURL, "https://x/a.wav")
	}
	if !strings.HasPrefix(entry.Title, "A calm piano piece...") {
		t.Errorf("Title = %q; want prefix %q", entry.Title, "A calm piano piece...")
	}

	tracks := g.History(ctx)
	if len(tracks) != 1 {
		t.Fatalf("History() = %d tracks; want 1", len(tracks))
	}
	if tracks[0].ID != entry.ID {
		t.Errorf("History()[0].ID = %q; want %q", tracks[0].ID, entry.ID)
	}

	// The stored entry becomes the active track and the player is reset.
	if g.Current() == nil || g.Current().ID != entry.ID {
		t.Error("Current() is not the stored entry")
	}
	track := g.Player().Track()
	if track == nil || track.ID != entry.ID {
		t.Error("Player().Track() is not the stored entry")
	}
	state := g.Player().State()
	if state.IsPlaying || state.CurrentTime != 0 || state.Duration != 0 {
		t.Errorf("player state after generate = %+v; want paused at zero", state)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("service called %d times; want 1", calls)
	}
}

func TestGenerateValidation(t *testing.T) {
	var calls int32
	srv := newMusicServer(t, &calls)
	g := newTestGenerator(t, srv.URL, time.Minute)
	ctx := context.Background()

	badConfig := acestep.DefaultConfig()
	badConfig.AudioDuration = 10

	tests := []struct {
		name string
		req  acestep.Request
	}{
		{name: "short description", req: descriptionRequest("short")},
		{name: "empty description", req: descriptionRequest("   ")},
		{name: "bad duration", req: &acestep.DescriptionRequest{FullDescribedSong: "A calm piano piece", GenerationConfig: badConfig}},
		{name: "missing lyrics", req: &acestep.CustomLyricsRequest{Prompt: "dreamy indie pop", GenerationConfig: acestep.DefaultConfig()}},
		{name: "short described lyrics", req: &acestep.DescribedLyricsRequest{Prompt: "upbeat electronic", DescribedLyrics: "summer", GenerationConfig: acestep.DefaultConfig()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := g.Generate(ctx, tt.req)
			var validation acestep.ValidationError
			if !errors.As(err, &validation) {
				t.Fatalf("Generate() error = %v; want ValidationError", err)
			}
		})
	}
	if atomic.LoadInt32(&calls) != 0 {
		t.Errorf("service called %d times; want 0", calls)
	}
	if got := len(g.History(ctx)); got != 0 {
		t.Errorf("History() = %d tracks; want 0", got)
	}
}

func TestGenerateEviction(t *testing.T) {
	var calls int32
	srv := newMusicServer(t, &calls)
	g := newTestGenerator(t, srv.URL, time.Minute)
	ctx := context.Background()

	var ids []string
	for i := 0; i < history.MaxStoredTracks+1; i++ {
		entry, err := g.Generate(ctx, descriptionRequest(fmt.Sprintf("A calm piano piece number %d", i)))
		if err != nil {
			t.Fatalf("Generate %d: %v", i, err)
		}
		ids = append(ids, entry.ID)
	}
	tracks := g.History(ctx)
	if len(tracks) != history.MaxStoredTracks {
		t.Fatalf("History() = %d tracks; want %d", len(tracks), history.MaxStoredTracks)
	}
	// The oldest entry is gone, the rest are most recent first.
	for _, track := range tracks {
		if track.ID == ids[0] {
			t.Errorf("oldest entry %q still stored", ids[0])
		}
	}
	if tracks[0].ID != ids[len(ids)-1] {
		t.Errorf("History()[0].ID = %q; want %q", tracks[0].ID, ids[len(ids)-1])
	}
}

func TestGenerateTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		_, _ = w.Write([]byte(`{"cloudinary_url":"https://x/a.wav"}`))
	}))
	defer srv.Close()
	defer close(release)

	g := newTestGenerator(t, srv.URL, 50*time.Millisecond)
	_, err := g.Generate(context.Background(), descriptionRequest("A calm piano piece"))
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Generate() error = %v; want ErrTimeout", err)
	}
	if got := len(g.History(context.Background())); got != 0 {
		t.Errorf("History() = %d tracks; want 0", got)
	}
}

func TestGenerateBusy(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		_, _ = w.Write([]byte(`{"cloudinary_url":"https://x/a.wav"}`))
	}))
	defer srv.Close()

	g := newTestGenerator(t, srv.URL, time.Minute)
	errC := make(chan error, 1)
	go func() {
		_, err := g.Generate(context.Background(), descriptionRequest("A calm piano piece"))
		errC <- err
	}()
	for i := 0; i < 100 && !g.Busy(); i++ {
		time.Sleep(10 * time.Millisecond)
	}
	if !g.Busy() {
		t.Fatal("generator never became busy")
	}
	if _, err := g.Generate(context.Background(), descriptionRequest("Another calm piano piece")); !errors.Is(err, ErrBusy) {
		t.Fatalf("Generate() while busy: error = %v; want ErrBusy", err)
	}
	close(release)
	if err := <-errC; err != nil {
		t.Fatalf("first Generate: %v", err)
	}
	if g.Busy() {
		t.Error("Busy() = true after completion")
	}
}

func TestDeleteActiveTrack(t *testing.T) {
	var calls int32
	srv := newMusicServer(t, &calls)
	g := newTestGenerator(t, srv.URL, time.Minute)
	ctx := context.Background()

	entry, err := g.Generate(ctx, descriptionRequest("A calm piano piece"))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	g.Delete(ctx, entry.ID)
	if g.Current() != nil {
		t.Error("Current() != nil after deleting the active track")
	}
	if g.Player().Track() != nil {
		t.Error("Player().Track() != nil after deleting the active track")
	}
	if got := len(g.History(ctx)); got != 0 {
		t.Errorf("History() = %d tracks; want 0", got)
	}
}

func TestDeleteOtherTrack(t *testing.T) {
	var calls int32
	srv := newMusicServer(t, &calls)
	g := newTestGenerator(t, srv.URL, time.Minute)
	ctx := context.Background()

	first, err := g.Generate(ctx, descriptionRequest("A calm piano piece"))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	second, err := g.Generate(ctx, descriptionRequest("An upbeat guitar riff"))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	g.Delete(ctx, first.ID)
	if g.Current() == nil || g.Current().ID != second.ID {
		t.Error("deleting a non-active track changed the active one")
	}
	if got := len(g.History(ctx)); got != 1 {
		t.Errorf("History() = %d tracks; want 1", got)
	}
}

func TestClear(t *testing.T) {
	var calls int32
	srv := newMusicServer(t, &calls)
	g := newTestGenerator(t, srv.URL, time.Minute)
	ctx := context.Background()

	if _, err := g.Generate(ctx, descriptionRequest("A calm piano piece")); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	g.Clear(ctx)
	if got := len(g.History(ctx)); got != 0 {
		t.Errorf("History() = %d tracks; want 0", got)
	}
	if g.Current() != nil {
		t.Error("Current() != nil after Clear")
	}
	if g.Player().Track() != nil {
		t.Error("Player().Track() != nil after Clear")
	}
}

func TestLoad(t *testing.T) {
	var calls int32
	srv := newMusicServer(t, &calls)
	g := newTestGenerator(t, srv.URL, time.Minute)
	ctx := context.Background()

	first, err := g.Generate(ctx, descriptionRequest("A calm piano piece"))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if _, err := g.Generate(ctx, descriptionRequest("An upbeat guitar riff")); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	entry, err := g.Load(ctx, first.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if entry.ID != first.ID {
		t.Errorf("Load() = %q; want %q", entry.ID, first.ID)
	}
	if g.Player().Track().ID != first.ID {
		t.Error("Player().Track() is not the loaded entry")
	}
	if _, err := g.Load(ctx, "no-such-id"); !errors.Is(err, history.ErrNotFound) {
		t.Fatalf("Load() error = %v; want ErrNotFound", err)
	}
}

func TestUserMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: ""},
		{name: "validation", err: acestep.ValidationError("a song description is required"), want: "a song description is required"},
		{name: "timeout", err: ErrTimeout, want: "generation is taking longer than usual, please try again in a moment"},
		{name: "busy", err: ErrBusy, want: "a generation is already in progress"},
		{name: "incomplete", err: fmt.Errorf("wrapped: %w", acestep.ErrIncomplete), want: "the service returned an incomplete result, please try again"},
		{name: "status", err: fmt.Errorf("wrapped: %w", &acestep.StatusError{Code: 502, Body: "boom"}), want: "the generation service returned an error (502): boom"},
		{name: "network", err: errors.New("dial tcp: connection refused"), want: "couldn't reach the generation service, please check your connection"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := UserMessage(tt.err); got != tt.want {
				t.Errorf("UserMessage() = %q; want %q", got, tt.want)
			}
		})
	}
}
