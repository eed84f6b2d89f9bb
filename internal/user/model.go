package user

import (
	"errors"
	"time"

	"florahub-be/internal/auth"
)

type User struct {
	ID           int64
	Email        string
	PasswordHash string
	Name         string
	Role         auth.Role
	CreatedAt    time.Time
}

var (
	ErrEmailExists        = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
)
