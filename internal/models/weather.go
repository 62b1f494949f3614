package models

import "encoding/json"

// WeatherReport is the fixed response schema for GET /weather/{city}.
// Object fields are carried through from the provider as raw JSON, and scalars are
// pointers, so a field the provider omits is encoded as null instead of failing.
type WeatherReport struct {
	Coord      json.RawMessage   `json:"coord"`
	Weather    []json.RawMessage `json:"weather"` // first provider entry only
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

// LoginRequest is the JSON body for POST /login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// TokenResponse is the JSON body returned by a successful POST /login.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// ErrorResponse is the JSON body for every non-2xx response.
type ErrorResponse struct {
	Detail string `json:"detail"`
}
