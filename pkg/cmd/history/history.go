package history

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/akashmore/aika/pkg/history"
	"github.com/gocarina/gocsv"
)

type Config struct {
	Debug  bool
	DBType string
	DBConn string
	Format string
	Output string
}

// Run lists the stored tracks in the requested format.
func Run(ctx context.Context, cfg *Config) error {
	store, err := newStore(ctx, cfg)
	if err != nil {
		return err
	}
	tracks := store.List(ctx)

	var w io.Writer = os.Stdout
	if cfg.Output != "" {
		f, err := os.Create(cfg.Output)
		if err != nil {
			return fmt.Errorf("history: couldn't create %s: %w", cfg.Output, err)
		}
		defer f.Close()
		w = f
	}

	switch cfg.Format {
	case "", "table":
		if len(tracks) == 0 {
			fmt.Fprintln(w, "no stored tracks")
			return nil
		}
		for _, track := range tracks {
			at := time.UnixMilli(track.Timestamp).Format("2006-01-02 15:04:05")
			fmt.Fprintf(w, "%s  %s  %-16s  %s  [%s]\n", track.ID, at, track.Type, track.Title, strings.Join(track.Categories, ", "))
		}
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(tracks); err != nil {
			return fmt.Errorf("history: couldn't encode tracks: %w", err)
		}
	case "csv":
		rows := make([]*row, 0, len(tracks))
		for _, track := range tracks {
			rows = append(rows, newRow(track))
		}
		if err := gocsv.Marshal(rows, w); err != nil {
			return fmt.Errorf("history: couldn't write csv: %w", err)
		}
	default:
		return fmt.Errorf("history: unknown format: %s", cfg.Format)
	}
	return nil
}

// Delete removes a single stored track.
func Delete(ctx context.Context, cfg *Config, id string) error {
	if id == "" {
		return fmt.Errorf("history: id is required")
	}
	store, err := newStore(ctx, cfg)
	if err != nil {
		return err
	}
	if err := store.Delete(ctx, id); err != nil {
		return err
	}
	log.Println("history: deleted", id)
	return nil
}

// Clear removes every stored track.
func Clear(ctx context.Context, cfg *Config) error {
	store, err := newStore(ctx, cfg)
	if err != nil {
		return err
	}
	if err := store.Clear(ctx); err != nil {
		return err
	}
	log.Println("history: cleared")
	return nil
}

func newStore(ctx context.Context, cfg *Config) (*history.Store, error) {
	backend, err := history.NewBackend(ctx, cfg.DBType, cfg.DBConn, cfg.Debug)
	if err != nil {
		return nil, fmt.Errorf("history: couldn't create backend: %w", err)
	}
	return history.New(backend), nil
}

type row struct {
	ID         string `csv:"id"`
	Title      string `csv:"title"`
	Type       string `csv:"type"`
	Timestamp  int64  `csv:"timestamp"`
	Text       string `csv:"text"`
	AudioURL   string `csv:"audio_url"`
	CoverURL   string `csv:"cover_url"`
	Categories string `csv:"categories"`
}

func newRow(track *history.Entry) *row {
	var text string
	if req, err := track.Request(); err == nil {
		text = req.Text()
	}
	return &row{
		ID:         track.ID,
		Title:      track.Title,
		Type:       string(track.Type),
		Timestamp:  track.Timestamp,
		Text:       text,
		AudioURL:   track.AudioURL,
		CoverURL:   track.CoverURL,
		Categories: strings.Join(track.Categories, "|"),
	}
}
