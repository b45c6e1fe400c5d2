package generate

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/akashmore/aika"
	"github.com/akashmore/aika/pkg/acestep"
	"github.com/akashmore/aika/pkg/history"
	"github.com/akashmore/aika/pkg/player"
)

type Config struct {
	Debug   bool
	DBType  string
	DBConn  string
	Proxy   string
	Timeout time.Duration

	Type            string
	Description     string
	Prompt          string
	Lyrics          string
	DescribedLyrics string

	Duration      int
	Seed          int
	GuidanceScale float64
	InferStep     int
	Instrumental  bool

	Output    string
	Play      bool
	PlayerBin string

	DescriptionEndpoint     string
	CustomLyricsEndpoint    string
	DescribedLyricsEndpoint string
}

// Run launches a single orchestrated generation.
func Run(ctx context.Context, cfg *Config) error {
	log.Println("generate: process started")
	defer log.Println("generate: process ended")

	req, err := newRequest(cfg)
	if err != nil {
		return err
	}

	backend, err := history.NewBackend(ctx, cfg.DBType, cfg.DBConn, cfg.Debug)
	if err != nil {
		return fmt.Errorf("generate: couldn't create history backend: %w", err)
	}
	store := history.New(backend)

	var out player.Output = player.Discard
	var ff *player.FFPlay
	if cfg.Play {
		ff = player.NewFFPlay(&player.FFPlayConfig{
			Bin:   cfg.PlayerBin,
			Debug: cfg.Debug,
		})
		out = ff
	}
	p := player.New(out)
	if ff != nil {
		ff.Bind(p)
	}

	g, err := aika.New(&aika.Config{
		Debug:     cfg.Debug,
		Timeout:   cfg.Timeout,
		Proxy:     cfg.Proxy,
		Endpoints: endpoints(cfg),
		OnProgress: func(v float64) {
			log.Printf("generate: progress %.0f%%\n", v)
		},
	}, store, p)
	if err != nil {
		return err
	}

	start := time.Now()
	entry, err := g.Generate(ctx, req)
	if err != nil {
		return errors.New(aika.UserMessage(err))
	}
	log.Printf("generate: done in %s\n", time.Since(start))
	log.Println("id:", entry.ID)
	log.Println("title:", entry.Title)
	log.Println("url:", entry.AudioURL)
	log.Println("image:", entry.CoverURL)
	log.Println("categories:", strings.Join(entry.Categories, ", "))

	if cfg.Output != "" {
		if err := g.Download(ctx, entry.AudioURL, cfg.Output); err != nil {
			return err
		}
		log.Println("generate: saved to", cfg.Output)
	}
	if cfg.Play {
		if err := p.Toggle(); err != nil {
			return fmt.Errorf("generate: couldn't start playback: %w", err)
		}
		if err := ff.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

func newRequest(cfg *Config) (acestep.Request, error) {
	gen := acestep.GenerationConfig{
		AudioDuration: cfg.Duration,
		Seed:          cfg.Seed,
		GuidanceScale: cfg.GuidanceScale,
		InferStep:     cfg.InferStep,
		Instrumental:  cfg.Instrumental,
	}
	switch acestep.Type(cfg.Type) {
	case acestep.TypeDescription:
		return &acestep.DescriptionRequest{
			FullDescribedSong: strings.TrimSpace(cfg.Description),
			GenerationConfig:  gen,
		}, nil
	case acestep.TypeCustomLyrics:
		return &acestep.CustomLyricsRequest{
			Prompt:           strings.TrimSpace(cfg.Prompt),
			Lyrics:           strings.TrimSpace(cfg.Lyrics),
			GenerationConfig: gen,
		}, nil
	case acestep.TypeDescribedLyrics:
		return &acestep.DescribedLyricsRequest{
			Prompt:           strings.TrimSpace(cfg.Prompt),
			DescribedLyrics:  strings.TrimSpace(cfg.DescribedLyrics),
			GenerationConfig: gen,
		}, nil
	default:
		return nil, fmt.Errorf("generate: unknown type: %s", cfg.Type)
	}
}

func endpoints(cfg *Config) map[acestep.Type]string {
	endpoints := map[acestep.Type]string{}
	if cfg.DescriptionEndpoint != "" {
		endpoints[acestep.TypeDescription] = cfg.DescriptionEndpoint
	}
	if cfg.CustomLyricsEndpoint != "" {
		endpoints[acestep.TypeCustomLyrics] = cfg.CustomLyricsEndpoint
	}
	if cfg.DescribedLyricsEndpoint != "" {
		endpoints[acestep.TypeDescribedLyrics] = cfg.DescribedLyricsEndpoint
	}
	return endpoints
}
