package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gridsense/pdmon/internal/config"
	"github.com/gridsense/pdmon/internal/utils"
	"go.uber.org/zap"
)

// Client provides access to the telemetry source API
type Client struct {
	http   *resty.Client
	logger *utils.Logger
}

// NewClient creates a new telemetry API client
func NewClient(cfg *config.TelemetryConfig, logger *utils.Logger) *Client {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.URL, "/")+"/api/v1").
		SetTimeout(timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(2*time.Second).
		SetHeader("Accept", "application/json").
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return false
			}
			return err != nil || r.StatusCode() >= 500
		})

	if cfg.APIToken != "" {
		httpClient.SetAuthToken(cfg.APIToken)
	}

	return &Client{
		http:   httpClient,
		logger: logger.Named("telemetry_client"),
	}
}

// APIError represents an error response from the telemetry API
type APIError struct {
	StatusCode int
	Message    string
	Details    string
}

// Error returns the error message
func (e *APIError) Error() string {
	return fmt.Sprintf("telemetry API error (%d): %s - %s", e.StatusCode, e.Message, e.Details)
}

// Unwrap classifies every API error as a source error
func (e *APIError) Unwrap() error {
	return utils.ErrSource
}

// get performs a GET request against the telemetry API. Errors wrap
// utils.ErrSource and keep a context error in the chain.
func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", utils.ErrSource, err)
	}

	c.logger.Debug("Sending request to telemetry API",
		zap.String("path", path),
	)

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParamsFromValues(query).
		Get(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to send request: %w", utils.ErrSource, err)
	}

	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		var errResp struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(resp.Body(), &errResp); err != nil {
			return nil, &APIError{
				StatusCode: resp.StatusCode(),
				Message:    "Unknown error",
				Details:    resp.String(),
			}
		}
		return nil, &APIError{
			StatusCode: resp.StatusCode(),
			Message:    errResp.Error,
			Details:    errResp.Message,
		}
	}

	return resp.Body(), nil
}

type sampleIndexResponse struct {
	Timestamps []int64 `json:"timestamps"`
}

// GetSampleIndex returns the acquisition timestamps available for a point in
// [from, to], ascending, without duplicates, in UTC
func (c *Client) GetSampleIndex(ctx context.Context, externalID string, from, to time.Time) ([]time.Time, error) {
	path := fmt.Sprintf("/points/%s/samples", url.PathEscape(externalID))
	query := url.Values{}
	query.Set("from", strconv.FormatInt(from.Unix(), 10))
	query.Set("to", strconv.FormatInt(to.Unix(), 10))

	respBody, err := c.get(ctx, path, query)
	if err != nil {
		return nil, err
	}

	var index sampleIndexResponse
	if err := json.Unmarshal(respBody, &index); err != nil {
		return nil, fmt.Errorf("%w: failed to parse sample index: %w", utils.ErrSource, err)
	}

	sort.Slice(index.Timestamps, func(i, j int) bool { return index.Timestamps[i] < index.Timestamps[j] })

	timestamps := make([]time.Time, 0, len(index.Timestamps))
	for i, ts := range index.Timestamps {
		if i > 0 && ts == index.Timestamps[i-1] {
			continue
		}
		timestamps = append(timestamps, time.Unix(ts, 0).UTC())
	}

	return timestamps, nil
}

// GetSamplePayload returns the raw frame of one acquisition. A sample the
// source no longer holds yields an empty payload.
func (c *Client) GetSamplePayload(ctx context.Context, externalID string, ts time.Time) ([]byte, error) {
	path := fmt.Sprintf("/points/%s/samples/%d/payload", url.PathEscape(externalID), ts.Unix())

	payload, err := c.get(ctx, path, nil)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}

	return payload, nil
}

// PointDescriptor is the identity of a point as published by the source
type PointDescriptor struct {
	ID          string `json:"id"`
	KKSCode     string `json:"kks_code"`
	EquipmentID string `json:"equipment_id"`
	Name        string `json:"name"`
}

// ListPoints returns every point known to the source
func (c *Client) ListPoints(ctx context.Context) ([]PointDescriptor, error) {
	respBody, err := c.get(ctx, "/points", nil)
	if err != nil {
		return nil, err
	}

	var response struct {
		Items []PointDescriptor `json:"items"`
	}
	if err := json.Unmarshal(respBody, &response); err != nil {
		return nil, fmt.Errorf("%w: failed to parse point list: %w", utils.ErrSource, err)
	}

	return response.Items, nil
}
