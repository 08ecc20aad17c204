package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	agenticrag "github.com/changxeokSong/agentic-rag"
	"github.com/changxeokSong/agentic-rag/internal/adapters"
)

// NewWeatherTool fetches current conditions for a location from a JSON
// weather service. baseURL points at the service root; the client may be nil
// for a default with a 10 second timeout.
func NewWeatherTool(baseURL string, client *http.Client) agenticrag.Tool {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return adapters.NewFuncTool("weather",
		func(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
			location, err := parseString(input, "location")
			if err != nil {
				return nil, err
			}

			endpoint := fmt.Sprintf("%s/current?location=%s", baseURL, url.QueryEscape(location))
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
			if err != nil {
				return nil, fmt.Errorf("building weather request: %w", err)
			}
			resp, err := client.Do(req)
			if err != nil {
				return nil, agenticrag.NewUnavailableError("tool", "weather service", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				return nil, agenticrag.NewUnavailableError("tool", "weather service",
					fmt.Errorf("unexpected status %s", resp.Status))
			}

			var conditions map[string]interface{}
			if err := json.NewDecoder(resp.Body).Decode(&conditions); err != nil {
				return nil, agenticrag.NewUnavailableError("tool", "weather service",
					fmt.Errorf("decoding response: %w", err))
			}

			return map[string]interface{}{
				"location":   location,
				"conditions": conditions,
			}, nil
		},
		adapters.WithDescription("Returns the current weather conditions for a location."),
		adapters.WithParameters(map[string]string{
			"location": "city or site name to look up",
		}),
		adapters.WithRequired("location"),
		adapters.WithReturns("the location and its current conditions"),
		adapters.WithCategory("information"),
	)
}
