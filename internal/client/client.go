package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/kjstillabower/weather-gateway/internal/models"
	"github.com/kjstillabower/weather-gateway/internal/observability"
)

type WeatherClient interface {
	FetchReport(ctx context.Context, city string) (models.WeatherReport, error)
	ValidateAPIKey(ctx context.Context) error
}

var (
	ErrInvalidAPIKey     = errors.New("invalid API key")
	ErrLocationNotFound  = errors.New("location not found")
	ErrRateLimited       = errors.New("rate limited")
	ErrUpstreamFailure   = errors.New("upstream failure")
	ErrMalformedResponse = errors.New("malformed upstream response")
)

// UpstreamError is returned when the provider answers with anything other than 200.
// The provider's error body is discarded; only the status code is kept.
type UpstreamError struct {
	StatusCode int
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream returned HTTP %d", e.StatusCode)
}

// Is lets callers match an UpstreamError against the package sentinels.
func (e *UpstreamError) Is(target error) bool {
	switch target {
	case ErrInvalidAPIKey:
		return e.StatusCode == http.StatusUnauthorized
	case ErrLocationNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrRateLimited:
		return e.StatusCode == http.StatusTooManyRequests
	case ErrUpstreamFailure:
		return e.StatusCode >= 500
	}
	return false
}

type OpenWeatherClient struct {
	apiKey string
	apiURL string
	client *http.Client
}

// NewOpenWeatherClient returns a client for the OpenWeatherMap current-weather endpoint.
// timeout bounds each call; there are no retries.
func NewOpenWeatherClient(apiKey, apiURL string, timeout time.Duration) (*OpenWeatherClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: API key is required", ErrInvalidAPIKey)
	}
	if len(apiKey) < 10 {
		return nil, fmt.Errorf("%w: API key appears invalid (too short)", ErrInvalidAPIKey)
	}
	if _, err := url.Parse(apiURL); err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}

	return &OpenWeatherClient{
		apiKey: apiKey,
		apiURL: apiURL,
		client: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// openWeatherResponse mirrors the provider payload. Only the weather list differs
// from the report: the provider may return several conditions.
type openWeatherResponse struct {
	Coord      json.RawMessage   `json:"coord"`
	Weather    []json.RawMessage `json:"weather"`
	Base       *string           `json:"base"`
	Main       json.RawMessage   `json:"main"`
	Visibility *int64            `json:"visibility"`
	Wind       json.RawMessage   `json:"wind"`
	Clouds     json.RawMessage   `json:"clouds"`
	Dt         *int64            `json:"dt"`
	Sys        json.RawMessage   `json:"sys"`
	Timezone   *int64            `json:"timezone"`
	ID         *int64            `json:"id"`
	Name       *string           `json:"name"`
	Cod        *int64            `json:"cod"`
}

// FetchReport makes exactly one provider call for city and reshapes the result.
func (c *OpenWeatherClient) FetchReport(ctx context.Context, city string) (models.WeatherReport, error) {
	start := time.Now()

	req, err := c.buildRequest(ctx, city)
	if err != nil {
		observability.WeatherAPICallsTotal.WithLabelValues("error").Inc()
		return models.WeatherReport{}, fmt.Errorf("build request: %w", err)
	}

	if corrID := extractCorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		observability.WeatherAPICallsTotal.WithLabelValues("error").Inc()
		observability.WeatherAPIDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return models.WeatherReport{}, fmt.Errorf("request timeout: %w", err)
		}
		return models.WeatherReport{}, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	status := statusLabel(resp.StatusCode)
	observability.WeatherAPICallsTotal.WithLabelValues(status).Inc()
	observability.WeatherAPIDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return models.WeatherReport{}, &UpstreamError{StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.WeatherReport{}, fmt.Errorf("read response body: %w", err)
	}

	var apiResp openWeatherResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return models.WeatherReport{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	return mapResponse(apiResp), nil
}

func (c *OpenWeatherClient) buildRequest(ctx context.Context, city string) (*http.Request, error) {
	baseURL, err := url.Parse(c.apiURL)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}

	params := baseURL.Query()
	params.Set("q", city)
	params.Set("appid", c.apiKey)
	baseURL.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	return req, nil
}

// mapResponse projects the provider payload onto the report schema field by field.
// Only the first weather entry is kept; an absent or empty list becomes null.
func mapResponse(apiResp openWeatherResponse) models.WeatherReport {
	var weather []json.RawMessage
	if len(apiResp.Weather) > 0 {
		weather = []json.RawMessage{apiResp.Weather[0]}
	}

	return models.WeatherReport{
		Coord:      apiResp.Coord,
		Weather:    weather,
		Base:       apiResp.Base,
		Main:       apiResp.Main,
		Visibility: apiResp.Visibility,
		Wind:       apiResp.Wind,
		Clouds:     apiResp.Clouds,
		Dt:         apiResp.Dt,
		Sys:        apiResp.Sys,
		Timezone:   apiResp.Timezone,
		ID:         apiResp.ID,
		Name:       apiResp.Name,
		Cod:        apiResp.Cod,
	}
}

func extractCorrelationID(ctx context.Context) string {
	if corrIDVal := ctx.Value("correlation_id"); corrIDVal != nil {
		if corrID, ok := corrIDVal.(string); ok {
			return corrID
		}
	}
	return ""
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}

// ValidateAPIKey probes the provider with a known city. Used by /health.
func (c *OpenWeatherClient) ValidateAPIKey(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := c.buildRequest(ctx, "London")
	if err != nil {
		return fmt.Errorf("build validation request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("validation request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%w: API key is invalid or not activated", ErrInvalidAPIKey)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("validation failed: HTTP %d", resp.StatusCode)
	}

	return nil
}
