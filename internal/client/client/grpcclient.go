package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/gophauth/internal/api"
	"github.com/dmitrijs2005/gophauth/internal/common"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// Tokens is the pair held by the client between calls.
type Tokens struct {
	AccessToken  string        `json:"access_token"`
	RefreshToken string        `json:"refresh_token"`
	ExpiresIn    time.Duration `json:"expires_in"`
}

type GRPCClient struct {
	endpointURL string
	conn        *grpc.ClientConn
	client      api.AuthServiceClient

	mu     sync.Mutex
	tokens Tokens

	// refreshMu serialises token rotation.
	refreshMu sync.Mutex
}

func withAccessToken(ctx context.Context, token string) context.Context {
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	if md == nil {
		md = metadata.MD{}
	}
	md.Delete(common.AccessTokenHeaderName)
	if token != "" {
		md.Set(common.AccessTokenHeaderName, token)
	}

	return metadata.NewOutgoingContext(ctx, md)
}

func isTokenExpired(err error) bool {
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	return st.Code() == codes.Unauthenticated && st.Message() == common.ErrTokenExpired.Error()
}

func (s *GRPCClient) accessTokenInterceptor(
	ctx context.Context,
	method string,
	req, reply interface{},
	cc *grpc.ClientConn,
	invoker grpc.UnaryInvoker,
	opts ...grpc.CallOption,
) error {

	sent := s.Tokens().AccessToken
	err := invoker(withAccessToken(ctx, sent), method, req, reply, cc, opts...)

	if err == nil || !isTokenExpired(err) || method == api.FullMethod("Refresh") {
		return err
	}

	access, rerr := s.refreshAfter(ctx, sent)
	if rerr != nil {
		// the caller sees why the original call failed
		return err
	}

	return invoker(withAccessToken(ctx, access), method, req, reply, cc, opts...)
}

// refreshAfter rotates the pair unless someone else already replaced the
// access token that was rejected, and returns the access token to retry with.
func (s *GRPCClient) refreshAfter(ctx context.Context, rejected string) (string, error) {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	current := s.Tokens()
	if current.AccessToken != rejected && current.AccessToken != "" {
		return current.AccessToken, nil
	}
	if current.RefreshToken == "" {
		return "", ErrNotLoggedIn
	}

	if _, err := s.Refresh(ctx); err != nil {
		return "", err
	}
	return s.Tokens().AccessToken, nil
}

// NewGRPCClient connects to endpointURL. Extra dial options are appended
// after the defaults, so tests can swap the dialer.
func NewGRPCClient(endpointURL string, opts ...grpc.DialOption) (*GRPCClient, error) {
	c := &GRPCClient{endpointURL: endpointURL}
	err := c.InitGRPCClient(opts...)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *GRPCClient) InitGRPCClient(opts ...grpc.DialOption) error {

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(s.accessTokenInterceptor),
	}, opts...)

	conn, err := grpc.NewClient(s.endpointURL, dialOpts...)
	if err != nil {
		return err
	}
	s.conn = conn
	s.client = api.NewAuthServiceClient(conn)
	return nil
}

func (s *GRPCClient) Close() error {
	return s.conn.Close()
}

// Tokens returns a copy of the current pair.
func (s *GRPCClient) Tokens() Tokens {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens
}

// SetTokens replaces the current pair, e.g. with one restored from disk.
func (s *GRPCClient) SetTokens(t Tokens) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = t
}

func (s *GRPCClient) storeTokens(resp *api.TokenResponse) Tokens {
	t := Tokens{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresIn:    time.Duration(resp.ExpiresIn) * time.Second,
	}
	s.SetTokens(t)
	return t
}

func (s *GRPCClient) Ping(ctx context.Context) error {

	resp, err := s.client.Ping(ctx, &api.PingRequest{})
	if err != nil {
		return s.mapError(err)
	}

	if resp.Status != "OK" {
		return ErrUnavailable
	}

	return nil
}

// Register creates an account and returns its id.
func (s *GRPCClient) Register(ctx context.Context, email, name string, password []byte) (string, error) {

	req := &api.RegisterRequest{Email: email, Name: name, Password: string(password)}

	resp, err := s.client.Register(ctx, req)
	if err != nil {
		return "", s.mapError(err)
	}

	return resp.UserID, nil
}

func (s *GRPCClient) Login(ctx context.Context, email string, password []byte) (Tokens, error) {

	req := &api.LoginRequest{Email: email, Password: string(password)}

	resp, err := s.client.Login(ctx, req)
	if err != nil {
		return Tokens{}, s.mapError(err)
	}

	return s.storeTokens(resp), nil
}

// Refresh spends the current refresh token for a new pair. A revoked or
// expired session clears the stored pair.
func (s *GRPCClient) Refresh(ctx context.Context) (Tokens, error) {
	current := s.Tokens()
	if current.RefreshToken == "" {
		return Tokens{}, ErrNotLoggedIn
	}

	resp, err := s.client.Refresh(ctx, &api.RefreshRequest{RefreshToken: current.RefreshToken})
	if err != nil {
		if status.Code(err) == codes.Unauthenticated {
			s.SetTokens(Tokens{})
		}
		return Tokens{}, s.mapError(err)
	}

	return s.storeTokens(resp), nil
}

// Logout revokes the current session and forgets the pair.
func (s *GRPCClient) Logout(ctx context.Context) error {
	current := s.Tokens()
	if current.RefreshToken == "" {
		return ErrNotLoggedIn
	}

	if _, err := s.client.Logout(ctx, &api.LogoutRequest{RefreshToken: current.RefreshToken}); err != nil {
		return s.mapError(err)
	}

	s.SetTokens(Tokens{})
	return nil
}

// LogoutAll revokes every session of the logged in user, this one included.
func (s *GRPCClient) LogoutAll(ctx context.Context) error {
	if s.Tokens().AccessToken == "" {
		return ErrNotLoggedIn
	}

	if _, err := s.client.LogoutAll(ctx, &api.LogoutAllRequest{}); err != nil {
		return s.mapError(err)
	}

	s.SetTokens(Tokens{})
	return nil
}

func (s *GRPCClient) mapError(err error) error {
	if err == nil {
		return nil
	}
	st, _ := status.FromError(err)
	switch st.Code() {
	case codes.Unauthenticated, codes.PermissionDenied:
		return fmt.Errorf("%w: %s", ErrUnauthorized, st.Message())
	case codes.Unavailable, codes.DeadlineExceeded:
		return ErrUnavailable
	case codes.AlreadyExists:
		return ErrAlreadyExists
	case codes.InvalidArgument:
		return fmt.Errorf("%w: %s", ErrInvalidArgument, st.Message())
	default:
		return fmt.Errorf("rpc error: %w", err)
	}
}
