// Package request provides the instruction that performs an outbound HTTP request.
package request

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dukex/flowgate/pkg/expression"
	"github.com/dukex/flowgate/pkg/models"
	"github.com/dukex/flowgate/pkg/protocol"
)

const Type = "request"

const (
	defaultTimeout  = 30
	defaultAttempts = 1
)

var ErrMissingURL = errors.New("missing required field 'url'")

// HTTPError is a response with a status code outside 2xx.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// Request calls config "url". The url, body and header values are templates rendered
// against the execution scope. Server and network errors are retried per config
// "retries"; client errors fail the job at once.
type Request struct {
	client *http.Client
}

var _ protocol.Instruction = (*Request)(nil)

// New returns a Request using client, or a default client when nil. Per-node timeouts
// apply through the request context.
func New(client *http.Client) *Request {
	if client == nil {
		client = &http.Client{}
	}

	return &Request{client: client}
}

type config struct {
	url      string
	method   string
	headers  map[string]string
	body     string
	timeout  time.Duration
	attempts int
	delay    time.Duration
}

func parseConfig(node *models.Node, scope map[string]any) (*config, error) {
	url := node.ConfigString("url")
	if url == "" {
		return nil, ErrMissingURL
	}

	c := &config{
		url:      expression.Render(url, scope),
		method:   strings.ToUpper(node.ConfigString("method")),
		headers:  map[string]string{},
		body:     expression.Render(node.ConfigString("body"), scope),
		timeout:  time.Duration(node.ConfigInt("timeout", defaultTimeout)) * time.Second,
		attempts: defaultAttempts,
	}

	if c.method == "" {
		c.method = http.MethodGet
	}

	if headers, ok := node.Config["headers"].(map[string]any); ok {
		for key, value := range headers {
			if s, ok := value.(string); ok {
				c.headers[key] = expression.Render(s, scope)
			}
		}
	}

	if retries, ok := node.Config["retries"].(map[string]any); ok {
		settings := &models.Node{Config: retries}
		c.attempts = max(settings.ConfigInt("attempts", defaultAttempts), 1)
		c.delay = time.Duration(settings.ConfigInt("delay", 0)) * time.Millisecond
	}

	return c, nil
}

func (r *Request) Run(ctx context.Context, node *models.Node, _ *models.Job, p protocol.Processor) (*models.Job, error) {
	c, err := parseConfig(node, p.Scope())
	if err != nil {
		return nil, err
	}

	logger := p.Logger().With("node_key", node.Key, "method", c.method, "url", c.url)

	var lastErr error

	for attempt := 1; attempt <= c.attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return models.NewJob(models.JobFailed, ctx.Err().Error()), nil
			case <-time.After(c.delay):
			}
		}

		result, err := r.do(ctx, c)
		if err == nil {
			logger.DebugContext(ctx, "request completed", "attempt", attempt)

			return models.NewJob(models.JobResolved, result), nil
		}

		lastErr = err
		logger.WarnContext(ctx, "request failed", "attempt", attempt, "error", err)

		var httpErr *HTTPError
		if errors.As(err, &httpErr) && httpErr.StatusCode < http.StatusInternalServerError {
			break
		}
	}

	return models.NewJob(models.JobFailed, fmt.Sprintf("request failed: %v", lastErr)), nil
}

func (r *Request) Resume(_ context.Context, _ *models.Node, job *models.Job, _ protocol.Processor) (*models.Job, error) {
	return job, nil
}

func (r *Request) do(ctx context.Context, c *config) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if c.body != "" {
		body = strings.NewReader(c.body)
	}

	req, err := http.NewRequestWithContext(ctx, c.method, c.url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for key, value := range c.headers {
		req.Header.Set(key, value)
	}

	if c.body != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}

	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	headers := make(map[string]any, len(resp.Header))
	for key, values := range resp.Header {
		headers[key] = strings.Join(values, ", ")
	}

	return map[string]any{
		"status":  resp.StatusCode,
		"headers": headers,
		"data":    decodeBody(respBody),
	}, nil
}

// decodeBody returns the JSON document in body, or body as a string.
func decodeBody(body []byte) any {
	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return string(body)
	}

	return decoded
}

func (r *Request) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url":    map[string]any{"type": "string", "minLength": 1},
			"method": map[string]any{"type": "string", "enum": []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS", "get", "post", "put", "patch", "delete", "head", "options"}},
			"headers": map[string]any{
				"type":                 "object",
				"additionalProperties": map[string]any{"type": "string"},
			},
			"body":    map[string]any{"type": "string"},
			"timeout": map[string]any{"type": "integer", "minimum": 1, "maximum": 300},
			"retries": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"attempts": map[string]any{"type": "integer", "minimum": 1, "maximum": 10},
					"delay":    map[string]any{"type": "integer", "minimum": 0, "maximum": 30000},
				},
			},
		},
		"required": []string{"url"},
	}
}
