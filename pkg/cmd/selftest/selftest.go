package selftest

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"

	"github.com/akashmore/aika/pkg/acestep"
)

type Config struct {
	Debug bool
	Proxy string

	DescriptionEndpoint string
}

// Run sends a minimal generation request to verify the service is
// reachable.
func Run(ctx context.Context, cfg *Config) error {
	httpClient := &http.Client{}
	if cfg.Proxy != "" {
		u, err := url.Parse(cfg.Proxy)
		if err != nil {
			return fmt.Errorf("selftest: invalid proxy URL: %w", err)
		}
		httpClient.Transport = &http.Transport{
			Proxy: http.ProxyURL(u),
		}
	}
	endpoints := map[acestep.Type]string{}
	if cfg.DescriptionEndpoint != "" {
		endpoints[acestep.TypeDescription] = cfg.DescriptionEndpoint
	}
	client := acestep.New(&acestep.Config{
		Debug:     cfg.Debug,
		Client:    httpClient,
		Endpoints: endpoints,
	})
	log.Println("selftest: sending test request, this can take a while")
	if err := client.Test(ctx); err != nil {
		return fmt.Errorf("selftest: service check failed: %w", err)
	}
	log.Println("selftest: service is reachable")
	return nil
}
