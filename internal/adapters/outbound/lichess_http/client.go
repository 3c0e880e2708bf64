package lichess_http

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/charleschow/chess-tv/internal/telemetry"
)

const (
	defaultTimeout = 10 * time.Second
	maxErrBody     = 256
)

// Client talks to the lichess TV directory. Requests are paced by a shared
// limiter so a burst of finished games cannot hammer the API.
type Client struct {
	apiURL     string // JSON/NDJSON API root, e.g. https://lichess.org/api
	siteURL    string // site root serving the TV replacement route
	httpClient *http.Client
	limiter    *rate.Limiter
	listSize   int

	sfGroup singleflight.Group
}

// NewClient builds a directory client. The TV listing lives under apiURL,
// the replacement route under siteURL. rps <= 0 disables pacing.
func NewClient(apiURL, siteURL string, rps float64, listSize int) *Client {
	lim := rate.NewLimiter(rate.Inf, 1)
	if rps > 0 {
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(rps), burst)
	}
	if listSize <= 0 {
		listSize = 30
	}
	return &Client{
		apiURL:     apiURL,
		siteURL:    siteURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
		limiter:    lim,
		listSize:   listSize,
	}
}

func (c *Client) get(ctx context.Context, base, path, accept string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+path, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Accept", accept)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http do: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	elapsed := time.Since(start)
	telemetry.Metrics.DirectoryLatency.Record(elapsed)
	telemetry.Debugf("lichess_http: GET %s -> %d (%s)", path, resp.StatusCode, elapsed)

	if resp.StatusCode != http.StatusOK {
		if len(body) > maxErrBody {
			body = body[:maxErrBody]
		}
		return nil, fmt.Errorf("GET %s: status %d: %s", path, resp.StatusCode, body)
	}
	return body, nil
}
