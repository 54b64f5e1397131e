package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// HTTPClient talks to an external LLM service exposing /agent/query and
// /agent/structured. The base URL comes from LLM_SERVICE_URL when not
// set explicitly.
type HTTPClient struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewHTTPClient creates a client for the LLM service at baseURL. An
// empty baseURL falls back to LLM_SERVICE_URL, then to the service's
// default in-cluster address. Call timeout is configurable via
// LLM_TIMEOUT_SECONDS (default 120s; research synthesis calls run long).
func NewHTTPClient(baseURL string, logger *zap.Logger) *HTTPClient {
	if baseURL == "" {
		baseURL = os.Getenv("LLM_SERVICE_URL")
	}
	if baseURL == "" {
		baseURL = "http://llm-service:8000"
	}
	timeoutSec := 120
	if v := os.Getenv("LLM_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			timeoutSec = n
		}
	}
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
		logger:  logger,
	}
}

type serviceResponse struct {
	Response     string `json:"response"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
	StopReason   string `json:"stop_reason"`
}

// Complete issues a free-text completion.
func (c *HTTPClient) Complete(ctx context.Context, req Request) (*Completion, error) {
	body := map[string]interface{}{
		"query":       req.User,
		"max_tokens":  req.MaxTokens,
		"temperature": req.Temperature,
		"model":       req.Model,
		"context": map[string]interface{}{
			"system_prompt": req.System,
		},
	}
	return c.post(ctx, "/agent/query", body)
}

// GenerateStructured asks the service for schema-constrained output.
func (c *HTTPClient) GenerateStructured(ctx context.Context, req Request, schemaJSON []byte) (*Completion, error) {
	body := map[string]interface{}{
		"query":       req.User,
		"max_tokens":  req.MaxTokens,
		"temperature": req.Temperature,
		"model":       req.Model,
		"schema":      json.RawMessage(schemaJSON),
		"context": map[string]interface{}{
			"system_prompt": req.System,
		},
	}
	return c.post(ctx, "/agent/structured", body)
}

func (c *HTTPClient) post(ctx context.Context, path string, body map[string]interface{}) (*Completion, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("llm service call: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read llm response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("llm service returned %d: %s", resp.StatusCode, truncateBody(data))
	}

	var sr serviceResponse
	if err := json.Unmarshal(data, &sr); err != nil {
		return nil, fmt.Errorf("decode llm response: %w", err)
	}

	c.logger.Debug("LLM call completed",
		zap.String("path", path),
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("input_tokens", sr.InputTokens),
		zap.Int("output_tokens", sr.OutputTokens),
	)

	return &Completion{
		Text:       sr.Response,
		Usage:      Usage{InputTokens: sr.InputTokens, OutputTokens: sr.OutputTokens},
		StopReason: sr.StopReason,
	}, nil
}

func truncateBody(b []byte) string {
	const max = 256
	if len(b) <= max {
		return string(b)
	}
	return string(b[:max]) + "..."
}
