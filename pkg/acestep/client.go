package acestep

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/akashmore/aika/pkg/ratelimit"
)

// Fixed deployment endpoints, one per request variant.
const (
	descriptionEndpoint     = "https://akashmore83387--music-generator-musicgenserver-generate--8b9c2f.modal.run"
	customLyricsEndpoint    = "https://akashmore83387--music-generator-musicgenserver-generate--6c0770.modal.run"
	describedLyricsEndpoint = "https://akashmore83387--music-generator-musicgenserver-generate--7f4980.modal.run"
)

// ErrIncomplete is returned when the service answers 2xx but the body is
// missing the audio URL.
var ErrIncomplete = errors.New("acestep: response missing audio url")

// StatusError is returned when the service answers with a non-2xx status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%d: %s", e.Code, e.Body)
}

type Client struct {
	client    *http.Client
	debug     bool
	ratelimit ratelimit.Lock
	endpoints map[Type]string
}

type Config struct {
	Wait   time.Duration
	Debug  bool
	Client *http.Client
	// Endpoints overrides the per-type deployment URLs.
	Endpoints map[Type]string
}

func New(cfg *Config) *Client {
	wait := cfg.Wait
	if wait == 0 {
		wait = 1 * time.Second
	}
	client := cfg.Client
	if client == nil {
		// No transport timeout, generation calls run for minutes and the
		// deadline policy belongs to the caller.
		client = &http.Client{}
	}
	endpoints := map[Type]string{
		TypeDescription:     descriptionEndpoint,
		TypeCustomLyrics:    customLyricsEndpoint,
		TypeDescribedLyrics: describedLyricsEndpoint,
	}
	for t, u := range cfg.Endpoints {
		endpoints[t] = u
	}
	return &Client{
		client:    client,
		debug:     cfg.Debug,
		ratelimit: ratelimit.New(wait),
		endpoints: endpoints,
	}
}

func (c *Client) log(format string, args ...interface{}) {
	if c.debug {
		format += "\n"
		log.Printf(format, args...)
	}
}

// Generate sends req to the endpoint for its type and returns the result.
// A single attempt is made, there is no retry.
func (c *Client) Generate(ctx context.Context, req Request) (*GeneratedMusic, error) {
	u, ok := c.endpoints[req.Type()]
	if !ok {
		return nil, fmt.Errorf("acestep: unknown generation type: %s", req.Type())
	}
	var out GeneratedMusic
	if _, err := c.do(ctx, u, req, &out); err != nil {
		return nil, err
	}
	if out.AudioURL == "" {
		return nil, ErrIncomplete
	}
	return &out, nil
}

// Test sends a minimal instrumental request to verify the service is
// reachable.
func (c *Client) Test(ctx context.Context) error {
	req := &DescriptionRequest{
		FullDescribedSong: "test music generation",
		GenerationConfig: GenerationConfig{
			AudioDuration: 30,
			Seed:          -1,
			GuidanceScale: 15,
			InferStep:     20,
			Instrumental:  true,
		},
	}
	_, err := c.Generate(ctx, req)
	return err
}

func (c *Client) do(ctx context.Context, u string, in, out any) ([]byte, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("acestep: couldn't marshal request body: %w", err)
	}
	c.log("acestep: do POST %s %s", u, string(body))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("acestep: couldn't create request: %w", err)
	}
	req.Header.Set("content-type", "application/json")

	unlock := c.ratelimit.Lock(ctx)
	defer unlock()

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("acestep: couldn't POST %s: %w", u, err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("acestep: couldn't read response body: %w", err)
	}
	c.log("acestep: response POST %s %d %s", u, resp.StatusCode, string(respBody))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errMessage := string(respBody)
		if len(errMessage) > 200 {
			errMessage = errMessage[:200] + "..."
		}
		return nil, fmt.Errorf("acestep: POST %s failed: %w", u, &StatusError{Code: resp.StatusCode, Body: errMessage})
	}
	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return nil, fmt.Errorf("acestep: couldn't unmarshal response body (%T): %w", out, err)
		}
	}
	return respBody, nil
}
