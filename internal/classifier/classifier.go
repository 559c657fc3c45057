// Package classifier calls the external expert diagnosis model that re-scores
// a raw acquisition payload. Calls are best effort: callers fall back to the
// site diagnosis on any error.
package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gridsense/pdmon/internal/config"
	"github.com/gridsense/pdmon/internal/utils"
	"go.uber.org/zap"
)

const diagnosePath = "/api/v1/diagnose"

// Result is the outcome of one diagnosis. Label is empty when the model found
// no partial-discharge class.
type Result struct {
	Label      string
	Confidence float64
	Raw        string
}

// Hit reports whether the model returned a discharge class
func (r *Result) Hit() bool {
	return r != nil && r.Label != ""
}

type diagnoseResponse struct {
	Code       int     `json:"code"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Message    string  `json:"message"`
}

// Client uploads payloads to the diagnosis service
type Client struct {
	http     *resty.Client
	negative map[string]struct{}
	tempDir  string
	logger   *utils.Logger
}

// NewClient creates a diagnosis client from configuration
func NewClient(cfg *config.ClassifierConfig, logger *utils.Logger) *Client {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.URL, "/")).
		SetTimeout(timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Accept", "application/json").
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500
		})

	negative := make(map[string]struct{}, len(cfg.NegativeLabels))
	for _, label := range cfg.NegativeLabels {
		negative[strings.ToLower(strings.TrimSpace(label))] = struct{}{}
	}

	return &Client{
		http:     httpClient,
		negative: negative,
		logger:   logger.Named("classifier"),
	}
}

// Classify writes the payload to a temporary file, uploads it and maps the
// response to a Result. The temporary file is removed before returning.
// Every failure wraps utils.ErrClassifier.
func (c *Client) Classify(ctx context.Context, payload []byte) (*Result, error) {
	path, err := c.writeTemp(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", utils.ErrClassifier, err)
	}
	defer os.Remove(path)

	resp, err := c.http.R().
		SetContext(ctx).
		SetFile("file", path).
		Post(diagnosePath)
	if err != nil {
		return nil, fmt.Errorf("%w: request failed: %w", utils.ErrClassifier, err)
	}

	if resp.IsError() {
		return nil, fmt.Errorf("%w: status %d", utils.ErrClassifier, resp.StatusCode())
	}

	var body diagnoseResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return nil, fmt.Errorf("%w: invalid response: %w", utils.ErrClassifier, err)
	}

	if body.Code != 0 {
		return nil, fmt.Errorf("%w: %s (code %d)", utils.ErrClassifier, body.Message, body.Code)
	}

	result := &Result{
		Label:      c.normalize(body.Label),
		Confidence: body.Confidence,
		Raw:        string(resp.Body()),
	}

	c.logger.Debug("Diagnosis completed",
		zap.String("label", result.Label),
		zap.Float64("confidence", result.Confidence),
	)

	return result, nil
}

// GetClient exposes the underlying resty client
func (c *Client) GetClient() *resty.Client {
	return c.http
}

func (c *Client) normalize(label string) string {
	label = strings.TrimSpace(label)
	if _, ok := c.negative[strings.ToLower(label)]; ok {
		return ""
	}
	return label
}

func (c *Client) writeTemp(payload []byte) (string, error) {
	f, err := os.CreateTemp(c.tempDir, "pd-sample-*.bin")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}

	if _, err := f.Write(payload); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("write temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("close temp file: %w", err)
	}

	return f.Name(), nil
}

// Disabled is used when no diagnosis service is configured
type Disabled struct{}

// Classify always returns an empty result
func (Disabled) Classify(context.Context, []byte) (*Result, error) {
	return &Result{}, nil
}
