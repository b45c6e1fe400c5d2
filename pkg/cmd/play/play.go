package play

import (
	"context"
	"fmt"
	"log"

	"github.com/akashmore/aika/pkg/history"
	"github.com/akashmore/aika/pkg/player"
)

type Config struct {
	Debug     bool
	DBType    string
	DBConn    string
	ID        string
	Volume    float64
	PlayerBin string
}

// Run plays a stored track, the most recent one if no id is given.
func Run(ctx context.Context, cfg *Config) error {
	backend, err := history.NewBackend(ctx, cfg.DBType, cfg.DBConn, cfg.Debug)
	if err != nil {
		return fmt.Errorf("play: couldn't create history backend: %w", err)
	}
	store := history.New(backend)

	var entry *history.Entry
	if cfg.ID != "" {
		entry, err = store.Get(ctx, cfg.ID)
		if err != nil {
			return fmt.Errorf("play: couldn't get track %s: %w", cfg.ID, err)
		}
	} else {
		tracks := store.List(ctx)
		if len(tracks) == 0 {
			return fmt.Errorf("play: no stored tracks")
		}
		entry = tracks[0]
	}

	ff := player.NewFFPlay(&player.FFPlayConfig{
		Bin:   cfg.PlayerBin,
		Debug: cfg.Debug,
	})
	p := player.New(ff)
	ff.Bind(p)

	p.Load(entry)
	if cfg.Volume > 0 {
		p.SetVolume(cfg.Volume)
	}
	log.Println("play:", entry.Title)
	if err := p.Toggle(); err != nil {
		return fmt.Errorf("play: couldn't start playback: %w", err)
	}
	if err := ff.Wait(ctx); err != nil {
		return err
	}
	return nil
}
