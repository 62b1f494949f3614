package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-gateway/internal/auth"
	"github.com/kjstillabower/weather-gateway/internal/client"
	"github.com/kjstillabower/weather-gateway/internal/config"
	httphandler "github.com/kjstillabower/weather-gateway/internal/http"
	"github.com/kjstillabower/weather-gateway/internal/lifecycle"
	"github.com/kjstillabower/weather-gateway/internal/observability"
	"github.com/kjstillabower/weather-gateway/internal/service"
)

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	credentials, err := auth.NewCredentialStore(authAccounts(cfg.Accounts))
	if err != nil {
		logger.Fatal("credential store", zap.Error(err))
	}
	tokens, err := auth.NewTokenService([]byte(cfg.SecretKey), cfg.TokenAlgorithm, cfg.TokenTTL)
	if err != nil {
		logger.Fatal("token service", zap.Error(err))
	}
	logger.Info("auth configured",
		zap.Int("accounts", len(cfg.Accounts)),
		zap.String("algorithm", tokens.Algorithm()),
		zap.Duration("token_ttl", cfg.TokenTTL))

	weatherClient, err := client.NewOpenWeatherClient(cfg.WeatherAPIKey, cfg.WeatherAPIURL, cfg.WeatherAPITimeout)
	if err != nil {
		logger.Fatal("weather client", zap.Error(err))
	}
	gateway := service.NewWeatherGateway(weatherClient, service.NewLogAuditor(logger))

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
		logger.Info("rate limit enabled", zap.Int("rps", cfg.RateLimitRPS), zap.Int("burst", cfg.RateLimitBurst))
	}
	if len(cfg.CORSAllowedOrigins) > 0 {
		logger.Info("cors enabled", zap.Strings("origins", cfg.CORSAllowedOrigins))
	}

	handler := httphandler.NewHandler(credentials, tokens, gateway, weatherClient, logger)
	router := httphandler.NewRouter(handler, httphandler.RouterOptions{
		RateLimiter:        limiter,
		WeatherTimeout:     cfg.WeatherAPITimeout,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      cfg.WeatherAPITimeout + 5*time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()
	lifecycle.MarkReady()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	lifecycle.SetShuttingDown(true)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	inFlight := httphandler.InFlightCount()
	logger.Info("waiting for in-flight requests", zap.Int64("count", inFlight))
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownInFlightTimeout)
	defer waitCancel()
	if err := httphandler.WaitForInFlight(waitCtx, cfg.ShutdownInFlightCheckInterval); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	logger.Info("shutdown complete", zap.Duration("uptime", lifecycle.Uptime()))
	if err := observability.Flush(logger); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
	}
}

func authAccounts(accounts []config.Account) []auth.Account {
	out := make([]auth.Account, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, auth.Account{
			Username:     a.Username,
			FullName:     a.FullName,
			Email:        a.Email,
			PasswordHash: a.HashedPassword,
		})
	}
	return out
}
