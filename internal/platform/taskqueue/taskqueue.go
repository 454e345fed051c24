package taskqueue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/trendsift/trendsift-backend/internal/platform/ctxutil"
	"github.com/trendsift/trendsift-backend/internal/platform/envutil"
	"github.com/trendsift/trendsift-backend/internal/platform/httpx"
	"github.com/trendsift/trendsift-backend/internal/platform/logger"
)

// Client publishes task invocations to the external at-least-once scheduler.
// The scheduler stores the message and POSTs it back to our task endpoint,
// redelivering on non-2xx until its own retry budget runs out. When no
// scheduler is configured the in-process worker polls the queued_task table
// instead, which gives the same at-least-once delivery without the extra hop.
type Client struct {
	log         *logger.Logger
	baseURL     string
	token       string
	callbackURL string
	httpClient  *http.Client
	maxRetries  int
}

type Config struct {
	BaseURL     string
	Token       string
	CallbackURL string
	Timeout     time.Duration
	MaxRetries  int
}

type PublishRequest struct {
	Body          any
	Delay         time.Duration
	Deduplication string
}

func ConfigFromEnv() Config {
	return Config{
		BaseURL:     strings.TrimRight(envutil.String("TASK_SCHEDULER_BASE_URL", ""), "/"),
		Token:       strings.TrimSpace(os.Getenv("TASK_SCHEDULER_TOKEN")),
		CallbackURL: envutil.String("TASK_SCHEDULER_CALLBACK_URL", ""),
		Timeout:     envutil.Duration("TASK_SCHEDULER_TIMEOUT", 15*time.Second),
		MaxRetries:  envutil.Int("TASK_SCHEDULER_MAX_RETRIES", 2),
	}
}

func NewClient(log *logger.Logger, cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Client{
		log:         log.With("client", "TaskSchedulerClient"),
		baseURL:     cfg.BaseURL,
		token:       cfg.Token,
		callbackURL: cfg.CallbackURL,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		maxRetries:  cfg.MaxRetries,
	}
}

// Enabled reports whether a scheduler is configured at all.
func (c *Client) Enabled() bool {
	return c != nil && c.baseURL != "" && c.callbackURL != ""
}

// Publish hands the body to the scheduler and returns the scheduler's message
// id. Transient failures are retried with jittered backoff; a scheduler that
// stays down is surfaced to the caller, which still has the polled queue as
// its delivery path.
func (c *Client) Publish(ctx context.Context, req PublishRequest) (string, error) {
	if !c.Enabled() {
		return "", fmt.Errorf("task scheduler not configured")
	}

	payload, err := json.Marshal(req.Body)
	if err != nil {
		return "", fmt.Errorf("encode task body: %w", err)
	}

	backoff := 500 * time.Millisecond
	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		id, err := c.publishOnce(ctx, req, payload)
		if err == nil {
			return id, nil
		}
		if !httpx.IsRetryableError(err) || attempt == c.maxRetries {
			return "", err
		}

		sleepFor := httpx.JitterSleep(backoff)
		if wait, ok := httpx.AdvisedWait(err); ok {
			sleepFor = wait
		}
		c.log.Warn("Scheduler publish retrying",
			"attempt", attempt+1,
			"max_retries", c.maxRetries,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)
		select {
		case <-time.After(sleepFor):
		case <-ctx.Done():
			return "", ctx.Err()
		}
		backoff *= 2
	}
}

func (c *Client) publishOnce(ctx context.Context, req PublishRequest, payload []byte) (string, error) {
	u := c.baseURL + "/v2/publish/" + c.callbackURL
	httpReq, err := http.NewRequestWithContext(ctxutil.Default(ctx), http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.token)
	httpReq.Header.Set("Content-Type", "application/json")
	if req.Delay > 0 {
		httpReq.Header.Set("Upstash-Delay", fmt.Sprintf("%ds", int(req.Delay.Seconds())))
	}
	if req.Deduplication != "" {
		httpReq.Header.Set("Upstash-Deduplication-Id", req.Deduplication)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return "", readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", httpx.NewStatusError(resp, raw)
	}

	var out struct {
		MessageID string `json:"messageId"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode scheduler response: %w", err)
	}
	return out.MessageID, nil
}
