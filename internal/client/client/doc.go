// Package client is the gRPC client for the gophauth AuthService.
//
// # Overview
//
// GRPCClient wraps api.AuthServiceClient and keeps the current token pair.
// Every outgoing call carries the access token in the access_token metadata
// key. When the server answers Unauthenticated with the "token expired"
// message, the client rotates the pair with its refresh token and repeats the
// call once.
//
// # Error Handling
//
// gRPC status codes are mapped to sentinel errors that callers can match with
// errors.Is: ErrUnauthorized, ErrUnavailable, ErrAlreadyExists and
// ErrInvalidArgument. The server's message is kept in the error text, so a
// revoked session reads "unauthorized: session revoked".
//
// # Concurrency
//
// GRPCClient is safe for concurrent use. Refreshes are serialised, and a call
// that fails with an expired token while another goroutine already rotated
// the pair retries with the new access token instead of spending the refresh
// token a second time.
package client
