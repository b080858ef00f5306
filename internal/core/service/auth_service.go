package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/rl1809/bookstore/internal/core/domain"
	"github.com/rl1809/bookstore/internal/port"
)

type LoginResult struct {
	Token     string      `json:"token"`
	TokenType string      `json:"tokenType"`
	ExpiresIn int64       `json:"expiresIn"`
	Subject   string      `json:"subject"`
	Role      domain.Role `json:"role"`
}

// AuthService exchanges credentials for an identity token.
type AuthService struct {
	creds  port.CredentialStore
	tokens port.TokenIssuer
	logger *zap.Logger
}

func NewAuthService(creds port.CredentialStore, tokens port.TokenIssuer, logger *zap.Logger) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthService{creds: creds, tokens: tokens, logger: logger}
}

func (s *AuthService) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	if username == "" || password == "" {
		return nil, fmt.Errorf("%w: username and password required", domain.ErrInvalidRequest)
	}

	subject, role, err := s.creds.Authenticate(ctx, username, password)
	if errors.Is(err, domain.ErrUnauthenticated) {
		s.logger.Info("login failed", zap.String("username", username))
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("authenticate %s: %w", username, err)
	}

	token, err := s.tokens.Issue(subject, role)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}

	s.logger.Info("login succeeded", zap.String("user_id", subject), zap.String("role", string(role)))
	return &LoginResult{
		Token:     token,
		TokenType: "Bearer",
		ExpiresIn: int64(s.tokens.TTL().Seconds()),
		Subject:   subject,
		Role:      role,
	}, nil
}
