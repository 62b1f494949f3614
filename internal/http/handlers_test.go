package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/crypto/bcrypt"

	"github.com/kjstillabower/weather-gateway/internal/auth"
	"github.com/kjstillabower/weather-gateway/internal/client"
	"github.com/kjstillabower/weather-gateway/internal/config"
	"github.com/kjstillabower/weather-gateway/internal/lifecycle"
	"github.com/kjstillabower/weather-gateway/internal/models"
	"github.com/kjstillabower/weather-gateway/internal/service"
)

const (
	testSecret   = "test-secret-key"
	testUser     = "alice"
	testPassword = "correct horse"
)

type mockWeatherClient struct {
	mu          sync.Mutex
	report      models.WeatherReport
	err         error
	validateErr error
	cities      []string
	block       chan struct{} // if set, FetchReport blocks until ctx.Done() or block is closed
}

func (m *mockWeatherClient) FetchReport(ctx context.Context, city string) (models.WeatherReport, error) {
	m.mu.Lock()
	m.cities = append(m.cities, city)
	m.mu.Unlock()
	if m.block != nil {
		select {
		case <-ctx.Done():
			return models.WeatherReport{}, ctx.Err()
		case <-m.block:
		}
	}
	return m.report, m.err
}

func (m *mockWeatherClient) ValidateAPIKey(ctx context.Context) error {
	return m.validateErr
}

func (m *mockWeatherClient) calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.cities...)
}

type testEnv struct {
	handler http.Handler
	tokens  *auth.TokenService
	client  *mockWeatherClient
	logs    *observer.ObservedLogs
}

func newTestEnv(t testing.TB, mock *mockWeatherClient, opts RouterOptions) *testEnv {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	accounts := []auth.Account{{Username: testUser, FullName: "Alice", Email: "alice@example.com", PasswordHash: string(hash)}}
	for _, a := range config.DefaultAccounts() {
		accounts = append(accounts, auth.Account{
			Username:     a.Username,
			FullName:     a.FullName,
			Email:        a.Email,
			PasswordHash: a.HashedPassword,
		})
	}
	store, err := auth.NewCredentialStore(accounts)
	if err != nil {
		t.Fatalf("NewCredentialStore() error = %v", err)
	}
	tokens, err := auth.NewTokenService([]byte(testSecret), "HS256", 0)
	if err != nil {
		t.Fatalf("NewTokenService() error = %v", err)
	}

	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)
	gateway := service.NewWeatherGateway(mock, service.NewLogAuditor(logger))
	h := NewHandler(store, tokens, gateway, mock, logger)
	return &testEnv{handler: NewRouter(h, opts), tokens: tokens, client: mock, logs: logs}
}

func (e *testEnv) do(method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func (e *testEnv) login(t *testing.T, username, password string) *httptest.ResponseRecorder {
	t.Helper()
	body, _ := json.Marshal(models.LoginRequest{Username: username, Password: password})
	return e.do(http.MethodPost, "/login", string(body), nil)
}

func (e *testEnv) issueToken(t testing.TB, username string) string {
	t.Helper()
	token, err := e.tokens.Issue(auth.Account{Username: username, Email: username + "@example.com"})
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	return token
}

func decodeDetail(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp models.ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return resp.Detail
}

func strPtr(s string) *string { return &s }

func TestHandler_Home(t *testing.T) {
	env := newTestEnv(t, &mockWeatherClient{}, RouterOptions{})

	w := env.do(http.MethodGet, "/", "", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var msg string
	if err := json.NewDecoder(w.Body).Decode(&msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg != welcomeMessage {
		t.Errorf("body = %q, want %q", msg, welcomeMessage)
	}
	if w.Header().Get("X-Correlation-ID") == "" {
		t.Error("missing X-Correlation-ID header")
	}
}

func TestHandler_Login_Success(t *testing.T) {
	env := newTestEnv(t, &mockWeatherClient{}, RouterOptions{})

	w := env.login(t, testUser, testPassword)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body = %s", w.Code, w.Body.String())
	}
	var resp models.TokenResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.TokenType != "bearer" {
		t.Errorf("token_type = %q, want bearer", resp.TokenType)
	}
	subject, err := env.tokens.Validate("Bearer " + resp.AccessToken)
	if err != nil {
		t.Fatalf("issued token does not validate: %v", err)
	}
	if subject != testUser {
		t.Errorf("subject = %q, want %q", subject, testUser)
	}
}

// TestHandler_Login_BuiltInAccount exercises the bundled ismayalegit account.
func TestHandler_Login_BuiltInAccount(t *testing.T) {
	env := newTestEnv(t, &mockWeatherClient{}, RouterOptions{})

	w := env.login(t, "ismayalegit", "password2024")
	if w.Code != http.StatusOK {
		t.Fatalf("correct password: status = %d, want 200", w.Code)
	}
	var resp models.TokenResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.AccessToken == "" {
		t.Error("access_token is empty")
	}

	w = env.login(t, "ismayalegit", "password2025")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("wrong password: status = %d, want 401", w.Code)
	}
}

// TestHandler_Login_FailuresIndistinguishable verifies that an unknown user and a wrong
// password produce the same status, headers and body bytes.
func TestHandler_Login_FailuresIndistinguishable(t *testing.T) {
	env := newTestEnv(t, &mockWeatherClient{}, RouterOptions{})

	unknown := env.login(t, "mallory", testPassword)
	wrong := env.login(t, testUser, "wrong")

	for name, w := range map[string]*httptest.ResponseRecorder{"unknown user": unknown, "wrong password": wrong} {
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s: status = %d, want 401", name, w.Code)
		}
		if got := w.Header().Get("WWW-Authenticate"); got != "Bearer" {
			t.Errorf("%s: WWW-Authenticate = %q, want Bearer", name, got)
		}
	}
	if unknown.Body.String() != wrong.Body.String() {
		t.Errorf("bodies differ:\nunknown: %s\nwrong:   %s", unknown.Body.String(), wrong.Body.String())
	}
	if detail := decodeDetail(t, unknown); detail != auth.MessageCredentials {
		t.Errorf("detail = %q, want %q", detail, auth.MessageCredentials)
	}
}

func TestHandler_Login_CaseSensitiveUsername(t *testing.T) {
	env := newTestEnv(t, &mockWeatherClient{}, RouterOptions{})

	w := env.login(t, strings.ToUpper(testUser), testPassword)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestHandler_Login_MalformedBody(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: "username=alice"},
		{name: "wrong types", body: `{"username": 1, "password": true}`},
		{name: "truncated", body: `{"username": "alice"`},
		{name: "missing password", body: `{"username": "alice"}`},
		{name: "missing username", body: `{"password": "correct horse"}`},
		{name: "null password", body: `{"username": "alice", "password": null}`},
		{name: "empty object", body: `{}`},
		{name: "null body", body: `null`},
		{name: "array body", body: `[]`},
	}

	env := newTestEnv(t, &mockWeatherClient{}, RouterOptions{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(http.MethodPost, "/login", tt.body, nil)
			if w.Code != http.StatusUnprocessableEntity {
				t.Fatalf("status = %d, want 422", w.Code)
			}
			if detail := decodeDetail(t, w); detail != detailInvalidBody {
				t.Errorf("detail = %q, want %q", detail, detailInvalidBody)
			}
		})
	}
}

// TestHandler_Login_EmptyFieldsAreCredentialFailures checks that present but empty
// fields reach credential verification instead of body validation.
func TestHandler_Login_EmptyFieldsAreCredentialFailures(t *testing.T) {
	env := newTestEnv(t, &mockWeatherClient{}, RouterOptions{})
	for _, body := range []string{
		`{"username": "", "password": ""}`,
		`{"username": "alice", "password": ""}`,
	} {
		w := env.do(http.MethodPost, "/login", body, nil)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("body %s: status = %d, want 401", body, w.Code)
		}
	}
}

// TestHandler_LoginThenWeather verifies a token from /login authenticates the same
// identity on /weather and that identity reaches the audit log.
func TestHandler_LoginThenWeather(t *testing.T) {
	mock := &mockWeatherClient{report: models.WeatherReport{Name: strPtr("Paris")}}
	env := newTestEnv(t, mock, RouterOptions{})

	lw := env.login(t, testUser, testPassword)
	var tok models.TokenResponse
	if err := json.NewDecoder(lw.Body).Decode(&tok); err != nil {
		t.Fatalf("decode login: %v", err)
	}

	w := env.do(http.MethodGet, "/weather/Paris", "", map[string]string{
		"Authorization": tok.TokenType + " " + tok.AccessToken,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body = %s", w.Code, w.Body.String())
	}
	if got := mock.calls(); len(got) != 1 || got[0] != "Paris" {
		t.Errorf("client calls = %v, want [Paris]", got)
	}

	audits := env.logs.FilterMessage("weather accessed").All()
	if len(audits) != 1 {
		t.Fatalf("audit entries = %d, want 1", len(audits))
	}
	fields := audits[0].ContextMap()
	if fields["user"] != testUser || fields["city"] != "Paris" {
		t.Errorf("audit fields = %v", fields)
	}
	if fields["correlation_id"] == nil {
		t.Error("audit entry missing correlation_id")
	}
}

func TestHandler_GetWeather_Success(t *testing.T) {
	mock := &mockWeatherClient{report: models.WeatherReport{
		Weather: []json.RawMessage{json.RawMessage(`{"id":800,"main":"Clear"}`)},
		Name:    strPtr("Jakarta"),
	}}
	env := newTestEnv(t, mock, RouterOptions{})

	w := env.do(http.MethodGet, "/weather/Jakarta", "", map[string]string{
		"Authorization": "Bearer " + env.issueToken(t, testUser),
	})

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	var body map[string]json.RawMessage
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, key := range []string{"coord", "weather", "base", "main", "visibility", "wind", "clouds", "dt", "sys", "timezone", "id", "name", "cod"} {
		if _, ok := body[key]; !ok {
			t.Errorf("response missing key %q", key)
		}
	}
	if string(body["name"]) != `"Jakarta"` {
		t.Errorf("name = %s, want \"Jakarta\"", body["name"])
	}
	if string(body["base"]) != "null" {
		t.Errorf("base = %s, want null", body["base"])
	}
}

func TestHandler_GetWeather_Unauthorized(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{name: "missing header", header: ""},
		{name: "token only", header: "sometoken"},
		{name: "wrong scheme", header: "Basic dXNlcjpwYXNz"},
		{name: "extra segment", header: "Bearer a b"},
		{name: "garbage token", header: "Bearer not.a.jwt"},
	}

	mock := &mockWeatherClient{}
	env := newTestEnv(t, mock, RouterOptions{})
	var firstBody string
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := map[string]string{}
			if tt.header != "" {
				header["Authorization"] = tt.header
			}
			w := env.do(http.MethodGet, "/weather/Paris", "", header)

			if w.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", w.Code)
			}
			if got := w.Header().Get("WWW-Authenticate"); got != "Bearer" {
				t.Errorf("WWW-Authenticate = %q, want Bearer", got)
			}
			body := w.Body.String()
			if firstBody == "" {
				firstBody = body
			} else if body != firstBody {
				t.Errorf("body = %s, want identical to %s", body, firstBody)
			}
			if !strings.Contains(body, auth.MessageToken) {
				t.Errorf("body = %s, want detail %q", body, auth.MessageToken)
			}
		})
	}
	if got := mock.calls(); len(got) != 0 {
		t.Errorf("client called %d times for unauthenticated requests", len(got))
	}
}

// TestHandler_GetWeather_UpstreamStatusMirrored verifies the upstream status is
// passed through with a generic detail.
func TestHandler_GetWeather_UpstreamStatusMirrored(t *testing.T) {
	tests := []struct {
		name   string
		status int
	}{
		{name: "not found", status: http.StatusNotFound},
		{name: "invalid key", status: http.StatusUnauthorized},
		{name: "rate limited", status: http.StatusTooManyRequests},
		{name: "bad gateway", status: http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &mockWeatherClient{err: &client.UpstreamError{StatusCode: tt.status}}
			env := newTestEnv(t, mock, RouterOptions{})

			w := env.do(http.MethodGet, "/weather/Nowhere", "", map[string]string{
				"Authorization": "Bearer " + env.issueToken(t, testUser),
			})

			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d", w.Code, tt.status)
			}
			if detail := decodeDetail(t, w); detail != detailCityNotFound {
				t.Errorf("detail = %q, want %q", detail, detailCityNotFound)
			}
			if n := env.logs.FilterMessage("weather accessed").Len(); n != 0 {
				t.Errorf("audit entries = %d, want 0 on failure", n)
			}
		})
	}
}

// TestHandler_GetWeather_InternalError verifies transport and parse failures become a
// bare 500 while the cause is logged at error level.
func TestHandler_GetWeather_InternalError(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "transport", err: errors.New("http request failed: connection refused")},
		{name: "parse", err: client.ErrMalformedResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, &mockWeatherClient{err: tt.err}, RouterOptions{})

			w := env.do(http.MethodGet, "/weather/Paris", "", map[string]string{
				"Authorization":    "Bearer " + env.issueToken(t, testUser),
				"X-Correlation-ID": "corr-500",
			})

			if w.Code != http.StatusInternalServerError {
				t.Fatalf("status = %d, want 500", w.Code)
			}
			body := w.Body.String()
			if strings.Contains(body, tt.err.Error()) {
				t.Errorf("body leaks cause: %s", body)
			}
			if detail := decodeDetail(t, w); detail != detailInternalError {
				t.Errorf("detail = %q, want %q", detail, detailInternalError)
			}

			entries := env.logs.FilterMessage("weather request failed").FilterField(zap.String("correlation_id", "corr-500")).All()
			if len(entries) != 1 {
				t.Fatalf("error log entries = %d, want 1", len(entries))
			}
			if entries[0].Level != zapcore.ErrorLevel {
				t.Errorf("level = %v, want error", entries[0].Level)
			}
		})
	}
}

// TestHandler_GetWeather_BlankCity verifies a whitespace city is forwarded verbatim
// and the provider's answer decides the response.
func TestHandler_GetWeather_BlankCity(t *testing.T) {
	tests := []struct {
		name       string
		mock       *mockWeatherClient
		wantStatus int
	}{
		{
			name:       "provider not found",
			mock:       &mockWeatherClient{err: &client.UpstreamError{StatusCode: http.StatusNotFound}},
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "provider answers",
			mock:       &mockWeatherClient{report: models.WeatherReport{Name: strPtr("Somewhere")}},
			wantStatus: http.StatusOK,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, tt.mock, RouterOptions{})

			w := env.do(http.MethodGet, "/weather/%20", "", map[string]string{
				"Authorization": "Bearer " + env.issueToken(t, testUser),
			})

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d; body = %s", w.Code, tt.wantStatus, w.Body.String())
			}
			if got := tt.mock.calls(); len(got) != 1 || got[0] != " " {
				t.Errorf("client calls = %q, want [\" \"]", got)
			}
		})
	}
}

func TestHandler_GetHealth(t *testing.T) {
	tests := []struct {
		name        string
		prepare     func()
		validateErr error
		wantCode    int
		wantStatus  string
	}{
		{
			name:       "healthy",
			prepare:    lifecycle.MarkReady,
			wantCode:   http.StatusOK,
			wantStatus: "healthy",
		},
		{
			name:        "invalid api key",
			prepare:     lifecycle.MarkReady,
			validateErr: client.ErrInvalidAPIKey,
			wantCode:    http.StatusServiceUnavailable,
			wantStatus:  "degraded",
		},
		{
			name:       "starting",
			prepare:    func() {},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "starting",
		},
		{
			name:       "shutting down",
			prepare:    func() { lifecycle.SetShuttingDown(true) },
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "shutting-down",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lifecycle.Reset()
			defer lifecycle.Reset()
			tt.prepare()

			env := newTestEnv(t, &mockWeatherClient{validateErr: tt.validateErr}, RouterOptions{})
			w := env.do(http.MethodGet, "/health", "", nil)

			if w.Code != tt.wantCode {
				t.Errorf("status code = %d, want %d", w.Code, tt.wantCode)
			}
			var resp map[string]interface{}
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp["status"] != tt.wantStatus {
				t.Errorf("status = %v, want %s", resp["status"], tt.wantStatus)
			}
			if resp["service"] != "weather-gateway" {
				t.Errorf("service = %v, want weather-gateway", resp["service"])
			}
		})
	}
}

// TestHandler_GetHealth_LogsTransition verifies a status change between two checks is
// logged once with both states.
func TestHandler_GetHealth_LogsTransition(t *testing.T) {
	lifecycle.Reset()
	lifecycle.MarkReady()
	defer lifecycle.Reset()

	mock := &mockWeatherClient{}
	env := newTestEnv(t, mock, RouterOptions{})

	env.do(http.MethodGet, "/health", "", nil)
	mock.validateErr = client.ErrInvalidAPIKey
	env.do(http.MethodGet, "/health", "", nil)

	entries := env.logs.FilterMessage("health status transition").All()
	if len(entries) != 1 {
		t.Fatalf("transition entries = %d, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["previous_status"] != "healthy" || fields["current_status"] != "degraded" {
		t.Errorf("transition fields = %v", fields)
	}
}

func TestHandler_Metrics(t *testing.T) {
	env := newTestEnv(t, &mockWeatherClient{}, RouterOptions{})
	env.login(t, "nobody", "x")

	w := env.do(http.MethodGet, "/metrics", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), `loginAttemptsTotal{outcome="failure"}`) {
		t.Error("metrics missing failed login series")
	}
}

func TestHandler_UnknownRouteHasCorrelationID(t *testing.T) {
	env := newTestEnv(t, &mockWeatherClient{}, RouterOptions{})

	w := env.do(http.MethodGet, "/nope", "", map[string]string{"X-Correlation-ID": "given-id"})

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
	if got := w.Header().Get("X-Correlation-ID"); got != "given-id" {
		t.Errorf("X-Correlation-ID = %q, want given-id", got)
	}
}
