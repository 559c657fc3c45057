package telemetry

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/gridsense/pdmon/internal/config"
	"github.com/gridsense/pdmon/internal/utils"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, retries int) *Client {
	c := NewClient(&config.TelemetryConfig{
		URL:        "http://telemetry.test/",
		APIToken:   "secret",
		Timeout:    2,
		RetryCount: retries,
	}, utils.NewNopLogger())
	c.http.SetRetryWaitTime(time.Millisecond).SetRetryMaxWaitTime(5 * time.Millisecond)

	httpmock.ActivateNonDefault(c.http.GetClient())
	t.Cleanup(httpmock.DeactivateAndReset)

	return c
}

func TestGetSampleIndex(t *testing.T) {
	c := newTestClient(t, 0)

	from := time.Unix(1700000000, 0)
	to := time.Unix(1700003600, 0)

	httpmock.RegisterResponderWithQuery(http.MethodGet, "http://telemetry.test/api/v1/points/ext-1/samples",
		map[string]string{"from": "1700000000", "to": "1700003600"},
		func(req *http.Request) (*http.Response, error) {
			if req.Header.Get("Authorization") != "Bearer secret" {
				return httpmock.NewStringResponse(http.StatusUnauthorized, `{"error":"unauthorized"}`), nil
			}
			return httpmock.NewStringResponse(http.StatusOK,
				`{"timestamps":[1700000300,1700000100,1700000300,1700000200]}`), nil
		})

	index, err := c.GetSampleIndex(context.Background(), "ext-1", from, to)
	require.NoError(t, err)
	require.Len(t, index, 3)
	assert.Equal(t, time.Unix(1700000100, 0).UTC(), index[0])
	assert.Equal(t, time.Unix(1700000300, 0).UTC(), index[2])
	assert.Equal(t, time.UTC, index[0].Location())
}

func TestGetSamplePayload(t *testing.T) {
	c := newTestClient(t, 0)
	ts := time.Unix(1700000100, 0)

	httpmock.RegisterResponder(http.MethodGet, "http://telemetry.test/api/v1/points/ext-1/samples/1700000100/payload",
		httpmock.NewBytesResponder(http.StatusOK, []byte{'P', 'D', 1}))
	httpmock.RegisterResponder(http.MethodGet, "http://telemetry.test/api/v1/points/ext-2/samples/1700000100/payload",
		httpmock.NewStringResponder(http.StatusNotFound, `{"error":"not_found"}`))
	httpmock.RegisterResponder(http.MethodGet, "http://telemetry.test/api/v1/points/ext-3/samples/1700000100/payload",
		httpmock.NewStringResponder(http.StatusBadGateway, "upstream down"))

	payload, err := c.GetSamplePayload(context.Background(), "ext-1", ts)
	require.NoError(t, err)
	assert.Equal(t, []byte{'P', 'D', 1}, payload)

	payload, err = c.GetSamplePayload(context.Background(), "ext-2", ts)
	require.NoError(t, err)
	assert.Empty(t, payload)

	_, err = c.GetSamplePayload(context.Background(), "ext-3", ts)
	require.Error(t, err)
	assert.ErrorIs(t, err, utils.ErrSource)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
}

func TestListPoints(t *testing.T) {
	c := newTestClient(t, 0)

	httpmock.RegisterResponder(http.MethodGet, "http://telemetry.test/api/v1/points",
		httpmock.NewStringResponder(http.StatusOK,
			`{"items":[{"id":"ext-1","kks_code":"10BAT01","equipment_id":"T1","name":"Main transformer"}]}`))

	points, err := c.ListPoints(context.Background())
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, "10BAT01", points[0].KKSCode)
	assert.Equal(t, "ext-1", points[0].ID)
}

func TestTransportError(t *testing.T) {
	c := newTestClient(t, 0)

	httpmock.RegisterResponder(http.MethodGet, "http://telemetry.test/api/v1/points",
		httpmock.NewErrorResponder(assert.AnError))

	_, err := c.ListPoints(context.Background())
	assert.ErrorIs(t, err, utils.ErrSource)
}

func TestRetryOnServerError(t *testing.T) {
	c := newTestClient(t, 2)

	calls := 0
	httpmock.RegisterResponder(http.MethodGet, "http://telemetry.test/api/v1/points",
		func(req *http.Request) (*http.Response, error) {
			calls++
			if calls == 1 {
				return httpmock.NewStringResponse(http.StatusBadGateway, "upstream down"), nil
			}
			return httpmock.NewStringResponse(http.StatusOK, `{"items":[{"id":"ext-1"}]}`), nil
		})

	points, err := c.ListPoints(context.Background())
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, 2, calls)
}

func TestNoRetryOnClientError(t *testing.T) {
	c := newTestClient(t, 2)

	httpmock.RegisterResponder(http.MethodGet, "http://telemetry.test/api/v1/points",
		httpmock.NewStringResponder(http.StatusUnauthorized, `{"error":"unauthorized","message":"bad token"}`))

	_, err := c.ListPoints(context.Background())

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "bad token", apiErr.Details)
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestCancelledContext(t *testing.T) {
	c := newTestClient(t, 2)

	httpmock.RegisterResponder(http.MethodGet, "http://telemetry.test/api/v1/points",
		httpmock.NewStringResponder(http.StatusOK, `{"items":[]}`))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.ListPoints(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, utils.ErrSource)
	assert.Zero(t, httpmock.GetTotalCallCount())
}
