package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-gateway/internal/auth"
	"github.com/kjstillabower/weather-gateway/internal/client"
	"github.com/kjstillabower/weather-gateway/internal/lifecycle"
	"github.com/kjstillabower/weather-gateway/internal/models"
	"github.com/kjstillabower/weather-gateway/internal/observability"
	"github.com/kjstillabower/weather-gateway/internal/service"
)

const (
	welcomeMessage = "Welcome to the weather gateway"

	detailInvalidBody   = "Invalid request body"
	detailCityNotFound  = "City not found"
	detailInternalError = "Internal Server Error"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	credentials *auth.CredentialStore
	tokens      *auth.TokenService
	gateway     *service.WeatherGateway
	client      client.WeatherClient
	logger      *zap.Logger

	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler. client is used only for the /health key check.
func NewHandler(
	credentials *auth.CredentialStore,
	tokens *auth.TokenService,
	gateway *service.WeatherGateway,
	client client.WeatherClient,
	logger *zap.Logger,
) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		credentials: credentials,
		tokens:      tokens,
		gateway:     gateway,
		client:      client,
		logger:      logger,
	}
}

// RouterOptions configures the optional parts of the router.
type RouterOptions struct {
	// RateLimiter guards /weather; nil disables it.
	RateLimiter *rate.Limiter
	// WeatherTimeout bounds each /weather request; 0 disables it.
	WeatherTimeout time.Duration
	// CORSAllowedOrigins enables CORS for the listed origins.
	CORSAllowedOrigins []string
}

// NewRouter wires routes and middleware. Correlation, metrics and CORS wrap the router
// itself so unmatched paths get them too.
func NewRouter(h *Handler, opts RouterOptions) http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/", h.Home).Methods(http.MethodGet)
	router.HandleFunc("/login", h.Login).Methods(http.MethodPost)
	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)

	weatherRouter := router.PathPrefix("/weather").Subrouter()
	weatherRouter.Use(RateLimitMiddleware(opts.RateLimiter))
	weatherRouter.Use(RequireBearer(h.tokens))
	weatherRouter.Use(TimeoutMiddleware(opts.WeatherTimeout))
	weatherRouter.HandleFunc("/{city}", h.GetWeather).Methods(http.MethodGet)

	var handler http.Handler = router
	handler = MetricsMiddleware(handler)
	handler = CorrelationIDMiddleware(h.logger)(handler)
	handler = CORSMiddleware(opts.CORSAllowedOrigins)(handler)
	return handler
}

// Home handles GET /.
func (h *Handler) Home(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, welcomeMessage)
}

// Login handles POST /login.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	logger := requestLogger(r)

	req, err := decodeLoginRequest(r.Body)
	if err != nil {
		observability.RecordLogin("bad_request")
		logger.Debug("login body rejected", zap.Error(err))
		writeDetail(w, http.StatusUnprocessableEntity, detailInvalidBody)
		return
	}

	account, err := h.credentials.Verify(req.Username, req.Password)
	if err != nil {
		observability.RecordLogin("failure")
		writeAuthFailure(w, r, err)
		return
	}

	token, err := h.tokens.Issue(account)
	if err != nil {
		observability.RecordLogin("error")
		logger.Error("token issue failed", zap.String("user", account.Username), zap.Error(err))
		writeDetail(w, http.StatusInternalServerError, detailInternalError)
		return
	}

	observability.RecordLogin("success")
	logger.Info("login succeeded", zap.String("user", account.Username))
	writeJSON(w, http.StatusOK, models.TokenResponse{AccessToken: token, TokenType: auth.TokenType})
}

// loginFields mirrors models.LoginRequest with pointers so absent keys are detectable.
type loginFields struct {
	Username *string `json:"username"`
	Password *string `json:"password"`
}

// decodeLoginRequest requires a JSON object carrying both username and password as strings.
func decodeLoginRequest(body io.Reader) (models.LoginRequest, error) {
	var f *loginFields
	if err := json.NewDecoder(body).Decode(&f); err != nil {
		return models.LoginRequest{}, err
	}
	if f == nil {
		return models.LoginRequest{}, errors.New("body is null")
	}
	if f.Username == nil {
		return models.LoginRequest{}, errors.New("username is required")
	}
	if f.Password == nil {
		return models.LoginRequest{}, errors.New("password is required")
	}
	return models.LoginRequest{Username: *f.Username, Password: *f.Password}, nil
}

// GetWeather handles GET /weather/{city}. RequireBearer has already authenticated the caller.
func (h *Handler) GetWeather(w http.ResponseWriter, r *http.Request) {
	city := mux.Vars(r)["city"]

	report, err := h.gateway.Fetch(r.Context(), city, requestUsername(r))
	if err != nil {
		writeWeatherError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus(r)

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := map[string]string{"weatherApi": "healthy"}
	if result.reason == "api_key_invalid" {
		checks["weatherApi"] = "unhealthy"
	}
	writeJSON(w, result.statusCode, map[string]interface{}{
		"status":    result.status,
		"service":   observability.ServiceName,
		"version":   "dev",
		"phase":     lifecycle.Current().String(),
		"uptime":    lifecycle.Uptime().Round(time.Second).String(),
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// computeHealthStatus evaluates, in order: shutting-down > starting > API key invalid > healthy.
func (h *Handler) computeHealthStatus(r *http.Request) healthResult {
	switch lifecycle.Current() {
	case lifecycle.PhaseShuttingDown:
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	case lifecycle.PhaseStarting:
		return healthResult{"starting", http.StatusServiceUnavailable, "not_ready"}
	}
	if h.client != nil {
		if err := h.client.ValidateAPIKey(r.Context()); err != nil {
			requestLogger(r).Warn("weather API key check failed", zap.Error(err))
			return healthResult{"degraded", http.StatusServiceUnavailable, "api_key_invalid"}
		}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeDetail writes the {"detail": ...} error body.
func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, models.ErrorResponse{Detail: detail})
}

// writeWeatherError mirrors upstream status codes with a generic detail. Anything else is
// a server fault: logged with its cause, reported as a bare 500.
func writeWeatherError(w http.ResponseWriter, r *http.Request, err error) {
	logger := requestLogger(r)

	if errors.Is(err, service.ErrCityRequired) {
		writeDetail(w, http.StatusNotFound, detailCityNotFound)
		return
	}

	var upstream *client.UpstreamError
	if errors.As(err, &upstream) {
		logger.Debug("upstream rejected request", zap.Int("upstream_status", upstream.StatusCode), zap.Error(err))
		writeDetail(w, upstream.StatusCode, detailCityNotFound)
		return
	}

	logger.Error("weather request failed",
		zap.String("category", string(client.CategorizeError(err))),
		zap.Error(err))
	writeDetail(w, http.StatusInternalServerError, detailInternalError)
}
