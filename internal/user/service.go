package user

import (
	"context"

	"florahub-be/internal/auth"
	"florahub-be/internal/logger"

	"go.uber.org/zap"
)

type Service interface {
	Register(ctx context.Context, email, password, name string, role auth.Role) (*User, error)

	// Login verifies credentials and returns a signed token. The same
	// error covers an unknown email and a wrong password.
	Login(ctx context.Context, email, password string) (token string, u *User, err error)
}

type service struct {
	repo      Repository
	jwtSecret string
}

func NewService(repo Repository, jwtSecret string) Service {
	return &service{repo: repo, jwtSecret: jwtSecret}
}

func (s *service) Register(ctx context.Context, email, password, name string, role auth.Role) (*User, error) {
	if role != auth.RoleBuyer && role != auth.RoleFarmer {
		role = auth.RoleBuyer
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}

	u := &User{
		Email:        email,
		PasswordHash: hash,
		Name:         name,
		Role:         role,
	}
	if err := s.repo.Create(ctx, u); err != nil {
		return nil, err
	}

	logger.FromCtx(ctx).Info("user registered",
		zap.Int64("user_id", u.ID),
		zap.String("role", string(u.Role)),
	)
	return u, nil
}

func (s *service) Login(ctx context.Context, email, password string) (string, *User, error) {
	u, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		return "", nil, err
	}

	if !auth.CheckPasswordHash(password, u.PasswordHash) {
		return "", nil, ErrInvalidCredentials
	}

	token, err := auth.GenerateToken(s.jwtSecret, u.ID, u.Email, u.Role)
	if err != nil {
		return "", nil, err
	}

	logger.FromCtx(ctx).Info("user logged in", zap.Int64("user_id", u.ID))
	return token, u, nil
}
