package user

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"go-chat-sync/internal/chat"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const (
	issuer            = "go-chat-sync"
	minPasswordLength = 6
)

// Store is the persistence the service needs; *Repository implements it.
type Store interface {
	CreateUser(ctx context.Context, user *User) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	SearchUsers(ctx context.Context, query, exclude string) ([]chat.Profile, error)
	MarkActive(ctx context.Context, id string, at time.Time) error
	MarkInactive(ctx context.Context, id string, at time.Time) error
}

type Service struct {
	repo      Store
	jwtSecret string
	tokenTTL  time.Duration
	now       func() time.Time
}

type Claims struct {
	Name string `json:"name"`
	jwt.RegisteredClaims
}

func NewService(repo Store, secret string, tokenTTL time.Duration) *Service {
	return &Service{
		repo:      repo,
		jwtSecret: secret,
		tokenTTL:  tokenTTL,
		now:       time.Now,
	}
}

func (s *Service) Register(ctx context.Context, req *RegisterRequest) (*RegisterResponse, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	name := strings.TrimSpace(req.DisplayName)
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, fmt.Errorf("%w: email", ErrInvalidInput)
	}
	if name == "" {
		return nil, fmt.Errorf("%w: display name", ErrInvalidInput)
	}
	if len(req.Password) < minPasswordLength {
		return nil, fmt.Errorf("%w: password must have at least %d characters", ErrInvalidInput, minPasswordLength)
	}

	hashedPwd, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	u, err := s.repo.CreateUser(ctx, &User{
		Email:       email,
		DisplayName: name,
		Password:    string(hashedPwd),
	})
	if err != nil {
		return nil, err
	}
	return &RegisterResponse{ID: u.ID, Email: u.Email, DisplayName: u.DisplayName}, nil
}

func (s *Service) Login(ctx context.Context, req *LoginRequest) (*LoginResponse, error) {
	u, err := s.repo.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	expiresAt := s.now().Add(s.tokenTTL)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Name: u.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(s.now()),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})

	ss, err := token.SignedString([]byte(s.jwtSecret))
	if err != nil {
		return nil, err
	}

	return &LoginResponse{
		AccessToken: ss,
		ID:          u.ID,
		DisplayName: u.DisplayName,
		ExpiresAt:   expiresAt,
	}, nil
}

// ValidateToken returns the user id, display name and expiry of a token.
func (s *Service) ValidateToken(tokenString string) (string, string, time.Time, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(s.jwtSecret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return "", "", time.Time{}, err
	}
	if !token.Valid || claims.Subject == "" || claims.ExpiresAt == nil {
		return "", "", time.Time{}, ErrInvalidCredentials
	}
	return claims.Subject, claims.Name, claims.ExpiresAt.Time, nil
}

func (s *Service) SearchUsers(ctx context.Context, query, caller string) ([]chat.Profile, error) {
	return s.repo.SearchUsers(ctx, strings.TrimSpace(query), caller)
}

// MarkActive is the presence heartbeat of a connected user.
func (s *Service) MarkActive(ctx context.Context, id string) error {
	return s.repo.MarkActive(ctx, id, s.now())
}

// MarkInactive flips a user offline once their last connection is gone.
func (s *Service) MarkInactive(ctx context.Context, id string) error {
	return s.repo.MarkInactive(ctx, id, s.now())
}
