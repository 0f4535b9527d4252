package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"offlinesync/internal/config"
	"offlinesync/internal/models"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const maxErrorBody = 512

// HTTPExecutor replays operations against a REST backend:
// create is POST {base}/{type}, update is PUT {base}/{type}/{id},
// delete is DELETE {base}/{type}/{id}.
type HTTPExecutor struct {
	baseURL   string
	apiKey    string
	keyHeader string
	client    *http.Client
	limiter   *rate.Limiter
	logger    *zerolog.Logger
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("remote returned %d", e.StatusCode)
	}
	return fmt.Sprintf("remote returned %d: %s", e.StatusCode, e.Body)
}

func NewHTTPExecutor(cfg config.RemoteConfig, logger *zerolog.Logger) *HTTPExecutor {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	var limiter *rate.Limiter
	if cfg.RPS > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}

	timeout := cfg.TimeoutDuration()
	if timeout <= 0 {
		timeout = time.Duration(models.DefaultRemoteTimeout) * time.Second
	}

	return &HTTPExecutor{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:    cfg.APIKey,
		keyHeader: cfg.HeaderAPIKey,
		client:    &http.Client{Timeout: timeout},
		limiter:   limiter,
		logger:    logger,
	}
}

func (e *HTTPExecutor) Execute(ctx context.Context, op models.SyncOperation) error {
	method, target, err := e.route(op)
	if err != nil {
		return Permanent(err)
	}

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}

	var body io.Reader
	if op.Kind != models.KindDelete && len(op.Payload) > 0 {
		body = bytes.NewReader(op.Payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return Permanent(fmt.Errorf("build request: %w", err))
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Idempotency-Key", op.ID)
	if e.apiKey != "" && e.keyHeader != "" {
		req.Header.Set(e.keyHeader, e.apiKey)
	}

	start := time.Now()
	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, target, err)
	}
	defer resp.Body.Close()

	e.logger.Debug().
		Str("id", op.ID).
		Str("method", method).
		Str("url", target).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("Remote call finished")

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	statusErr := &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	if retryable(resp.StatusCode) {
		return statusErr
	}
	return Permanent(statusErr)
}

func (e *HTTPExecutor) route(op models.SyncOperation) (string, string, error) {
	if e.baseURL == "" {
		return "", "", fmt.Errorf("remote base url is not configured")
	}
	collection := e.baseURL + "/" + url.PathEscape(op.ResourceType)
	item := collection + "/" + url.PathEscape(op.ResourceID)

	switch op.Kind {
	case models.KindCreate:
		return http.MethodPost, collection, nil
	case models.KindUpdate:
		return http.MethodPut, item, nil
	case models.KindDelete:
		return http.MethodDelete, item, nil
	default:
		return "", "", fmt.Errorf("%w: unknown kind %q", models.ErrInvalidOperation, op.Kind)
	}
}

// retryable reports whether a status may succeed later. Other 4xx responses
// mean the request itself is wrong.
func retryable(code int) bool {
	switch {
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return true
	case code >= 400 && code < 500:
		return false
	default:
		return true
	}
}
