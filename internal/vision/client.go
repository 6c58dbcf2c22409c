// Package vision provides the client for the vision grounding oracle. The
// oracle maps a screenshot plus a semantic intent ("phone number field") to
// a viewport coordinate and confidence.
package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/voxleads/chimera/internal/mission"
)

// Config controls the oracle endpoint and the per-call RPC deadline.
type Config struct {
	BaseURL    string
	RPCTimeout time.Duration
}

// Client is an HTTP client for the oracle. Every call is synchronous and
// bounded by the RPC deadline, composing into the worker's linear state
// machine without callback plumbing.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
}

// NewClient constructs a Client.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("vision.base_url is required")
	}
	if cfg.RPCTimeout <= 0 {
		cfg.RPCTimeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.RPCTimeout},
		logger: logger,
	}, nil
}

type processVisionRequest struct {
	Screenshot string `json:"screenshot"`
	Intent     string `json:"intent"`
}

// ProcessVision grounds an intent on a screenshot.
func (c *Client) ProcessVision(ctx context.Context, screenshot []byte, intent string) (mission.Grounding, error) {
	req := processVisionRequest{
		Screenshot: base64.StdEncoding.EncodeToString(screenshot),
		Intent:     intent,
	}
	var grounding mission.Grounding
	if err := c.post(ctx, "/v1/vision/process", req, &grounding); err != nil {
		return mission.Grounding{}, fmt.Errorf("process vision: %w", err)
	}
	c.logger.Debug("vision grounding",
		zap.String("intent", intent),
		zap.Bool("found", grounding.Found),
		zap.Float64("confidence", grounding.Confidence),
	)
	return grounding, nil
}

type predictPathRequest struct {
	Domain string `json:"domain"`
	Intent string `json:"intent"`
}

type predictPathResponse struct {
	Selector string `json:"selector"`
}

// PredictPath asks the oracle for a selector hint for a domain/intent pair.
func (c *Client) PredictPath(ctx context.Context, domain, intent string) (string, error) {
	var resp predictPathResponse
	if err := c.post(ctx, "/v1/vision/predict-path", predictPathRequest{Domain: domain, Intent: intent}, &resp); err != nil {
		return "", fmt.Errorf("predict path: %w", err)
	}
	return resp.Selector, nil
}

type storePatternRequest struct {
	Domain   string `json:"domain"`
	Selector string `json:"selector"`
	Outcome  string `json:"outcome"`
}

// StorePattern feeds an observed selector outcome back to the oracle.
func (c *Client) StorePattern(ctx context.Context, domain, selector, outcome string) error {
	if err := c.post(ctx, "/v1/vision/patterns", storePatternRequest{
		Domain:   domain,
		Selector: selector,
		Outcome:  outcome,
	}, nil); err != nil {
		return fmt.Errorf("store pattern: %w", err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RPCTimeout)
	defer cancel()

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("call oracle: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("oracle returned status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
