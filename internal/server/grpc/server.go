// Package grpc exposes the session manager over gRPC.
package grpc

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/dmitrijs2005/gophauth/internal/api"
	"github.com/dmitrijs2005/gophauth/internal/logging"
	"github.com/dmitrijs2005/gophauth/internal/server/models"
	"github.com/dmitrijs2005/gophauth/internal/server/services"
	"google.golang.org/grpc"
)

// SessionService is what the handlers need from services.SessionManager.
type SessionService interface {
	Login(ctx context.Context, email, password string) (*services.TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (*services.TokenPair, error)
	Logout(ctx context.Context, refreshToken string) error
	LogoutAll(ctx context.Context, userID string) error
}

// UserRegistrar creates accounts; services.UserService implements it.
type UserRegistrar interface {
	Register(ctx context.Context, email, name, password string) (*models.User, error)
}

// AccessTokenVerifier checks the access token of protected calls.
type AccessTokenVerifier interface {
	VerifyAccessToken(token string) (*models.Claims, error)
}

type GRPCServer struct {
	address  string
	sessions SessionService
	users    UserRegistrar
	verifier AccessTokenVerifier
	logger   logging.Logger
}

func NewGRPCServer(a string, l logging.Logger, ss SessionService, ur UserRegistrar, v AccessTokenVerifier) *GRPCServer {
	return &GRPCServer{
		address:  a,
		logger:   l.With("module", "grpc_server"),
		sessions: ss,
		users:    ur,
		verifier: v,
	}
}

// NewServer builds a grpc.Server with the auth service and its interceptors
// registered, ready to Serve on any listener.
func (s *GRPCServer) NewServer(opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts, grpc.ChainUnaryInterceptor(s.recoveryInterceptor, s.accessTokenInterceptor))
	srv := grpc.NewServer(opts...)
	api.RegisterAuthServiceServer(srv, &authService{GRPCServer: s})
	return srv
}

// Run serves on the configured address until ctx is cancelled, then stops
// gracefully.
func (s *GRPCServer) Run(ctx context.Context) error {

	// announces address
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.address, err)
	}

	srv := s.NewServer()

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", listen.Addr().String())

	// starts accepting incoming connections
	if err := srv.Serve(listen); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}

	return nil
}
