// Package auth registers account holders and issues the bearer tokens the
// ledger API authenticates callers with.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/spbu-ds-practicum-2025/ledger-service/internal/domain"
)

var tracer = otel.Tracer("github.com/spbu-ds-practicum-2025/ledger-service/internal/auth")

const (
	bcryptCost        = 12
	minPasswordLength = 8
	specialCharacters = "!@#$%^&*"
	tokenIssuer       = "ledger-service"
	tokenTypeAccess   = "access"
)

// SignupRequest is the input of Signup.
type SignupRequest struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// Token is an issued access token.
type Token struct {
	AccessToken string
	TokenType   string
	ExpiresAt   time.Time
}

// Claims are the custom claims of access tokens. Subject carries the user id.
type Claims struct {
	Type string `json:"type"`
	jwt.RegisteredClaims
}

// Service orchestrates signup, login and token validation.
type Service struct {
	users     domain.UserRepository
	jwtSecret []byte
	accessTTL time.Duration
	cost      int
	logger    *zap.Logger
}

// NewService creates a new auth service.
func NewService(users domain.UserRepository, jwtSecret string, accessTTL time.Duration, logger *zap.Logger) *Service {
	return &Service{
		users:     users,
		jwtSecret: []byte(jwtSecret),
		accessTTL: accessTTL,
		cost:      bcryptCost,
		logger:    logger,
	}
}

// WithCost overrides the bcrypt cost; tests use bcrypt.MinCost.
func (s *Service) WithCost(cost int) *Service {
	s.cost = cost
	return s
}

// ValidatePassword enforces the password rules: at least 8 characters with an
// uppercase letter, a digit and one of !@#$%^&*.
func ValidatePassword(password string) error {
	if len(password) < minPasswordLength {
		return domain.ErrWeakPassword
	}
	var upper, digit, special bool
	for _, c := range password {
		switch {
		case unicode.IsUpper(c):
			upper = true
		case unicode.IsDigit(c):
			digit = true
		case strings.ContainsRune(specialCharacters, c):
			special = true
		}
	}
	if !upper || !digit || !special {
		return domain.ErrWeakPassword
	}
	return nil
}

// Signup registers a new user.
func (s *Service) Signup(ctx context.Context, req SignupRequest) (*domain.User, error) {
	ctx, span := tracer.Start(ctx, "AuthService.Signup")
	defer span.End()

	if _, err := mail.ParseAddress(req.Email); err != nil {
		return nil, fmt.Errorf("%w: invalid email format", domain.ErrInvalidInput)
	}
	if err := ValidatePassword(req.Password); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := domain.NewUser(req.Email, string(hash), strings.TrimSpace(req.FirstName), strings.TrimSpace(req.LastName))
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.String("user_id", user.ID.String()))
	s.logger.Info("user registered", zap.String("user_id", user.ID.String()))
	return user, nil
}

// Login checks the credentials and issues an access token. Unknown emails,
// wrong passwords and inactive users all yield ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, email, password string) (*Token, error) {
	ctx, span := tracer.Start(ctx, "AuthService.Login")
	defer span.End()

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, domain.ErrInvalidCredentials
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		s.logger.Warn("login failed", zap.String("user_id", user.ID.String()))
		return nil, domain.ErrInvalidCredentials
	}
	if !user.Active {
		return nil, domain.ErrInvalidCredentials
	}
	return s.signAccessToken(user.ID)
}

// Me returns the user a token belongs to.
func (s *Service) Me(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	return s.users.GetByID(ctx, userID)
}

// ValidateToken parses an access token and returns the user id it was issued for.
func (s *Service) ValidateToken(tokenString string) (uuid.UUID, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithIssuer(tokenIssuer))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Type != tokenTypeAccess {
		return uuid.Nil, domain.ErrUnauthorized
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: bad subject", domain.ErrUnauthorized)
	}
	return userID, nil
}

func (s *Service) signAccessToken(userID uuid.UUID) (*Token, error) {
	now := time.Now()
	expires := now.Add(s.accessTTL)
	claims := Claims{
		Type: tokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
			Issuer:    tokenIssuer,
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	return &Token{AccessToken: signed, TokenType: "bearer", ExpiresAt: expires}, nil
}
