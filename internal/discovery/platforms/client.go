package platforms

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/trendsift/trendsift-backend/internal/platform/ctxutil"
	"github.com/trendsift/trendsift-backend/internal/platform/envutil"
	"github.com/trendsift/trendsift-backend/internal/platform/httpx"
	"github.com/trendsift/trendsift-backend/internal/platform/logger"
)

// apiClient is the shared upstream HTTP client for the creator data provider.
// Transient upstream failures get a short in-client retry; rate limits are
// surfaced immediately so the task layer can honor the advised wait instead
// of burning the invocation's time budget sleeping here.
type apiClient struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	httpClient *http.Client
	maxRetries int
}

type clientConfig struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
}

func clientConfigFromEnv(platform string, timeout time.Duration) clientConfig {
	prefix := strings.ToUpper(platform)
	baseURL := envutil.String(prefix+"_API_BASE_URL", envutil.String("CREATOR_API_BASE_URL", "https://api.creatordata.io"))
	apiKey := strings.TrimSpace(os.Getenv(prefix + "_API_KEY"))
	if apiKey == "" {
		apiKey = strings.TrimSpace(os.Getenv("CREATOR_API_KEY"))
	}
	return clientConfig{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		APIKey:     apiKey,
		Timeout:    timeout,
		MaxRetries: envutil.Int("CREATOR_API_MAX_RETRIES", 2),
	}
}

func newAPIClient(log *logger.Logger, platform string, cfg clientConfig) *apiClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &apiClient{
		log:        log.With("client", platform+"APIClient"),
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		maxRetries: cfg.MaxRetries,
	}
}

func (c *apiClient) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	backoff := 500 * time.Millisecond

	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := c.getJSONOnce(ctx, path, query, out)
		if err == nil {
			return nil
		}

		kind := httpx.Classify(err)
		if kind != httpx.KindTransient || attempt == c.maxRetries {
			return err
		}

		sleepFor := httpx.JitterSleep(backoff)
		c.log.Warn("Upstream request retrying",
			"path", path,
			"attempt", attempt+1,
			"max_retries", c.maxRetries,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)
		select {
		case <-time.After(sleepFor):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
	}
}

func (c *apiClient) getJSONOnce(ctx context.Context, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctxutil.Default(ctx), http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return readErr
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return httpx.NewStatusError(resp, raw)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode upstream response: %w", err)
	}
	return nil
}
