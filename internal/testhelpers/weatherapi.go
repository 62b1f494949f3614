// Package testhelpers provides fixtures shared by package tests: a fake
// OpenWeatherMap endpoint and live-API configuration for integration runs.
package testhelpers

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// FakeAPIKey is long enough to pass client key validation.
const FakeAPIKey = "fake-owm-key-0123456789"

// FakeCityResponse is a canned provider answer.
type FakeCityResponse struct {
	Status int
	Body   string
}

// FakeWeatherAPI stands in for the OpenWeatherMap current-weather endpoint.
// Unknown cities get a 404 with the provider's error body.
type FakeWeatherAPI struct {
	Server *httptest.Server

	mu      sync.Mutex
	cities  map[string]FakeCityResponse
	queries []string
	keys    []string
}

// NewFakeWeatherAPI starts a fake provider answering for cities. It is closed when t ends.
func NewFakeWeatherAPI(t *testing.T, cities map[string]FakeCityResponse) *FakeWeatherAPI {
	t.Helper()
	f := &FakeWeatherAPI{cities: cities}
	f.Server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.Server.Close)
	return f
}

// URL is the endpoint to pass to client.NewOpenWeatherClient.
func (f *FakeWeatherAPI) URL() string {
	return f.Server.URL + "/data/2.5/weather"
}

// Queries returns the q parameters received so far.
func (f *FakeWeatherAPI) Queries() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.queries...)
}

// Keys returns the appid parameters received so far.
func (f *FakeWeatherAPI) Keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.keys...)
}

func (f *FakeWeatherAPI) serve(w http.ResponseWriter, r *http.Request) {
	city := r.URL.Query().Get("q")

	f.mu.Lock()
	f.queries = append(f.queries, city)
	f.keys = append(f.keys, r.URL.Query().Get("appid"))
	resp, ok := f.cities[city]
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"cod":"404","message":"city not found"}`))
		return
	}
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write([]byte(resp.Body))
}
