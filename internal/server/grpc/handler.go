package grpc

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/gophauth/internal/api"
	"github.com/dmitrijs2005/gophauth/internal/common"
	"github.com/dmitrijs2005/gophauth/internal/server/services"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const tokenTypeBearer = "Bearer"

// authService adapts GRPCServer to api.AuthServiceServer.
type authService struct {
	*GRPCServer
}

func (s *authService) Ping(ctx context.Context, req *api.PingRequest) (*api.PingResponse, error) {
	return &api.PingResponse{Status: "OK"}, nil
}

func (s *authService) Register(ctx context.Context, req *api.RegisterRequest) (*api.RegisterResponse, error) {
	if req.Email == "" || req.Password == "" {
		return nil, status.Error(codes.InvalidArgument, "email and password are required")
	}

	user, err := s.users.Register(ctx, req.Email, req.Name, req.Password)
	if err != nil {
		s.logger.Warn(ctx, "registration failed", "error", err)
		return nil, toStatus(err)
	}

	s.logger.Info(ctx, "Registered", "user_id", user.ID)
	return &api.RegisterResponse{UserID: user.ID}, nil
}

func (s *authService) Login(ctx context.Context, req *api.LoginRequest) (*api.TokenResponse, error) {
	if req.Email == "" || req.Password == "" {
		return nil, status.Error(codes.InvalidArgument, "email and password are required")
	}

	pair, err := s.sessions.Login(ctx, req.Email, req.Password)
	if err != nil {
		return nil, toStatus(err)
	}
	return tokenResponse(pair), nil
}

func (s *authService) Refresh(ctx context.Context, req *api.RefreshRequest) (*api.TokenResponse, error) {
	if req.RefreshToken == "" {
		return nil, status.Error(codes.InvalidArgument, "refresh token is required")
	}

	pair, err := s.sessions.Refresh(ctx, req.RefreshToken)
	if err != nil {
		return nil, toStatus(err)
	}
	return tokenResponse(pair), nil
}

func (s *authService) Logout(ctx context.Context, req *api.LogoutRequest) (*api.Empty, error) {
	if err := s.sessions.Logout(ctx, req.RefreshToken); err != nil {
		return nil, toStatus(err)
	}
	return &api.Empty{}, nil
}

func (s *authService) LogoutAll(ctx context.Context, req *api.LogoutAllRequest) (*api.Empty, error) {
	userID, ok := UserIDFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "missing token")
	}

	if err := s.sessions.LogoutAll(ctx, userID); err != nil {
		return nil, toStatus(err)
	}
	return &api.Empty{}, nil
}

func tokenResponse(p *services.TokenPair) *api.TokenResponse {
	return &api.TokenResponse{
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		TokenType:    tokenTypeBearer,
		ExpiresIn:    int64(p.ExpiresIn.Seconds()),
	}
}

// toStatus maps service errors onto gRPC codes. Messages are the sentinel
// texts only, so driver details never reach the client.
func toStatus(err error) error {
	for _, e := range []error{
		common.ErrTokenExpired,
		common.ErrInvalidToken,
		common.ErrSessionRevoked,
		common.ErrorUnauthorized,
	} {
		if errors.Is(err, e) {
			return status.Error(codes.Unauthenticated, e.Error())
		}
	}

	switch {
	case errors.Is(err, common.ErrStoreUnavailable):
		return status.Error(codes.Unavailable, common.ErrStoreUnavailable.Error())
	case errors.Is(err, common.ErrorAlreadyExists):
		return status.Error(codes.AlreadyExists, common.ErrorAlreadyExists.Error())
	case errors.Is(err, common.ErrorValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	default:
		return status.Error(codes.Internal, common.ErrorInternal.Error())
	}
}
