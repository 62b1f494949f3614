package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-gateway/internal/client"
	"github.com/kjstillabower/weather-gateway/internal/models"
	"github.com/kjstillabower/weather-gateway/internal/observability"
)

// ErrCityRequired is returned when the requested city is empty.
var ErrCityRequired = errors.New("city is required")

// Auditor records who looked up which city. Called only after a successful fetch.
type Auditor interface {
	Record(ctx context.Context, identity, city string)
}

// LogAuditor writes audit records to the request-scoped zap logger (or its own
// logger when the context has none) and counts them.
type LogAuditor struct {
	logger *zap.Logger
}

// NewLogAuditor returns an Auditor backed by logger.
func NewLogAuditor(logger *zap.Logger) *LogAuditor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogAuditor{logger: logger.Named("audit")}
}

// Record implements Auditor.
func (a *LogAuditor) Record(ctx context.Context, identity, city string) {
	logger := a.logger
	if scoped := observability.LoggerFromContext(ctx, nil); scoped != nil {
		logger = scoped.Named("audit")
	}
	logger.Info("weather accessed", zap.String("user", identity), zap.String("city", city))
	observability.WeatherQueriesTotal.Inc()
}

// WeatherGateway serves weather reports to authenticated identities. It holds no
// mutable state; every call goes to the provider.
type WeatherGateway struct {
	client  client.WeatherClient
	auditor Auditor
}

// NewWeatherGateway creates a WeatherGateway. A nil auditor disables auditing.
func NewWeatherGateway(client client.WeatherClient, auditor Auditor) *WeatherGateway {
	return &WeatherGateway{client: client, auditor: auditor}
}

// Fetch returns the report for city on behalf of identity. Upstream status failures
// keep their *client.UpstreamError so callers can mirror the status code.
func (g *WeatherGateway) Fetch(ctx context.Context, city, identity string) (models.WeatherReport, error) {
	if city == "" {
		return models.WeatherReport{}, ErrCityRequired
	}
	start := time.Now()
	logger := observability.LoggerFromContext(ctx, nil)

	report, err := g.client.FetchReport(ctx, city)
	if err != nil {
		observability.RecordWeatherError(string(client.CategorizeError(err)))
		if logger != nil {
			logger.Debug("weather fetch failed", zap.String("city", city), zap.Error(err))
		}
		return models.WeatherReport{}, fmt.Errorf("fetch weather for %s: %w", city, err)
	}

	if g.auditor != nil {
		g.auditor.Record(ctx, identity, city)
	}
	if logger != nil {
		logger.Debug("weather served", zap.String("city", city), zap.Duration("duration", time.Since(start)))
	}
	return report, nil
}
