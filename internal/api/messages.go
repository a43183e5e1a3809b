// Package api defines the gophauth.v1.AuthService gRPC contract: request and
// response messages, the service descriptor and a client stub. Messages travel
// as JSON through a codec registered under CodecName.
//
// Message fields are limited to proto3 scalars (string, int64, bool) and each
// JSON name is the snake_case form of the Go field name, which is the name a
// .proto field would carry. Generated types can replace these structs without
// changing a field.
package api

type PingRequest struct{}

type PingResponse struct {
	Status string `json:"status"`
}

type RegisterRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name,omitempty"`
	Password string `json:"password"`
}

type RegisterResponse struct {
	UserID string `json:"user_id"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// TokenResponse answers Login and Refresh. ExpiresIn is the access token
// lifetime in seconds.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

type LogoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// LogoutAllRequest carries nothing: the user comes from the access token.
type LogoutAllRequest struct{}

type Empty struct{}
