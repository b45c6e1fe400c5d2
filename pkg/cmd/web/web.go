package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/akashmore/aika"
	"github.com/akashmore/aika/pkg/acestep"
	"github.com/akashmore/aika/pkg/history"
	"github.com/akashmore/aika/pkg/player"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Config struct {
	Debug   bool
	DBType  string
	DBConn  string
	Proxy   string
	Timeout time.Duration

	Addr        string
	Credentials map[string]string

	DescriptionEndpoint     string
	CustomLyricsEndpoint    string
	DescribedLyricsEndpoint string
}

//go:embed static/*
var staticContent embed.FS

// Serve starts the local web UI.
func Serve(ctx context.Context, cfg *Config) error {
	log.Println("web: server started")
	defer log.Println("web: server ended")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	backend, err := history.NewBackend(ctx, cfg.DBType, cfg.DBConn, cfg.Debug)
	if err != nil {
		return fmt.Errorf("web: couldn't create history backend: %w", err)
	}
	store := history.New(backend)

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

	// Playback happens in the browser audio element, the server-side
	// player only mirrors which track is active.
	g, err := aika.New(&aika.Config{
		Debug:     cfg.Debug,
		Timeout:   cfg.Timeout,
		Proxy:     cfg.Proxy,
		Endpoints: endpoints,
	}, store, player.New(nil))
	if err != nil {
		return err
	}

	// Create static content
	staticFS, err := iofs.Sub(staticContent, "static")
	if err != nil {
		return fmt.Errorf("web: couldn't load static content: %w", err)
	}

	// Create router
	mux := chi.NewRouter()

	// Add middleware
	mux.Use(middleware.RealIP)
	mux.Use(middleware.Recoverer)

	// Add BasicAuth middleware
	if len(cfg.Credentials) > 0 {
		mux.Use(middleware.BasicAuth("private", cfg.Credentials))
	}

	// Create subrouter for api endpoints
	r := mux.Group(func(r chi.Router) {
		if cfg.Debug {
			r.Use(middleware.Logger)
		}
	})

	mux.Get("/*", http.StripPrefix("/", http.FileServer(http.FS(staticFS))).ServeHTTP)

	r.Get("/api/history", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, g.History(r.Context()))
	})

	r.Delete("/api/history/{id}", func(w http.ResponseWriter, r *http.Request) {
		g.Delete(r.Context(), chi.URLParam(r, "id"))
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	})

	r.Delete("/api/history", func(w http.ResponseWriter, r *http.Request) {
		g.Clear(r.Context())
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	})

	r.Get("/api/progress", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"busy":     g.Busy(),
			"progress": g.Progress(),
		})
	})

	r.Post("/api/generate", func(w http.ResponseWriter, r *http.Request) {
		var tagged struct {
			Type acestep.Type `json:"type"`
		}
		body, err := readBody(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "couldn't read the request")
			return
		}
		if err := json.Unmarshal(body, &tagged); err != nil {
			writeError(w, http.StatusBadRequest, "couldn't parse the request")
			return
		}
		req, err := acestep.UnmarshalRequest(tagged.Type, body)
		if err != nil {
			writeError(w, http.StatusBadRequest, "please select a generation method")
			return
		}
		// Don't tie the generation to the request context: the browser
		// may give up before the soft timeout does.
		entry, err := g.Generate(ctx, req)
		if err != nil {
			writeError(w, statusFor(err), aika.UserMessage(err))
			return
		}
		writeJSON(w, http.StatusOK, entry)
	})

	// Create server
	split := strings.Split(cfg.Addr, ":")
	if len(split) != 2 {
		return fmt.Errorf("web: invalid address: %s", cfg.Addr)
	}
	host := split[0]
	port, err := strconv.Atoi(split[1])
	if err != nil {
		return fmt.Errorf("web: invalid port: %s", split[1])
	}
	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", host, port),
		Handler: mux,
	}
	go func() {
		note := fmt.Sprintf("http://%s:%d", host, port)
		if host == "" {
			note = fmt.Sprintf("all interfaces http://localhost:%d", port)
		}
		log.Printf("Starting server on %s", note)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v\n", err)
			cancel()
		}
	}()

	<-ctx.Done()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("web: couldn't shut down server: %w", err)
	}
	return nil
}

func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(io.LimitReader(r.Body, 1<<20))
}

func statusFor(err error) int {
	var validation acestep.ValidationError
	switch {
	case errors.As(err, &validation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, aika.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, aika.ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Println("web: couldn't encode response:", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
