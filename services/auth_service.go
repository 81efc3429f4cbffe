package services

import (
	"chat-relay/auth"
	"chat-relay/domain"
	"chat-relay/errors"
	"chat-relay/repositories"
	"context"
	"fmt"
	"log/slog"
)

type IAuthService interface {
	Login(email, password string) (Token, error)
	Register(email, password string) (Token, error)
	Me(ctx context.Context, token string) (repositories.User, error)
	ValidateToken(ctx context.Context, token string) (domain.UserID, error)
}

type AuthService struct {
	log            *slog.Logger
	userRepository repositories.IUserRepository
	tokens         *auth.TokenManager
}

type Token string

func (t Token) String() string {
	return string(t)
}

func NewAuthService(log *slog.Logger, repo repositories.IUserRepository, tokens *auth.TokenManager) *AuthService {
	return &AuthService{log: log, userRepository: repo, tokens: tokens}
}

func (s *AuthService) Register(email, password string) (Token, error) {
	valReq := auth.RegisterRequest{
		Email:    email,
		Password: password,
	}

	// Cheap checks before any cryptographic operation
	if err := auth.ValidateRegister(valReq); err != nil {
		return "", err
	}

	// The repository never sees a plain password
	hashedPassword, err := auth.HashPassword(password)
	if err != nil {
		return "", fmt.Errorf("hashing failed: %w", err)
	}

	userID, err := s.userRepository.CreateUser(email, hashedPassword)
	if err != nil {
		return "", err // ErrUserAlreadyExists if email is taken
	}
	s.log.Info("User registered", "user_id", userID)

	token, err := s.tokens.GenerateToken(userID, []string{"user"})
	if err != nil {
		return "", errors.ErrTokenGeneration
	}

	return Token(token), nil
}

func (s *AuthService) Login(email, password string) (Token, error) {
	user, err := s.userRepository.GetUserByEmail(email)
	if err != nil {
		// Generic error to prevent user enumeration attacks
		return "", errors.ErrInvalidCredentials
	}

	match, err := auth.ComparePassword(password, user.PasswordHash)
	if err != nil || !match {
		return "", errors.ErrInvalidCredentials
	}

	token, err := s.tokens.GenerateToken(user.ID, user.Roles)
	if err != nil {
		return "", errors.ErrTokenGeneration
	}

	return Token(token), nil
}

// ValidateToken resolves a token to the user it was issued for.
// A token whose user has since disappeared is rejected as well. Any other
// lookup failure is returned as is, the client may retry it.
func (s *AuthService) ValidateToken(_ context.Context, token string) (domain.UserID, error) {
	claims, err := s.tokens.ValidateToken(token)
	if err != nil {
		return "", err
	}
	if _, err := s.userRepository.GetUserByID(claims.UserID); err != nil {
		if errors.Is(err, errors.ErrUserNotFound) {
			return "", fmt.Errorf("%w: %v", errors.ErrAuthFailed, err)
		}
		s.log.Error("Token user lookup failed", "user_id", claims.UserID, "error", err)
		return "", fmt.Errorf("resolving token user: %w", err)
	}
	return domain.UserID(claims.UserID), nil
}

func (s *AuthService) Me(ctx context.Context, token string) (repositories.User, error) {
	userID, err := s.ValidateToken(ctx, token)
	if err != nil {
		return repositories.User{}, err
	}
	user, err := s.userRepository.GetUserByID(string(userID))
	if err != nil {
		return repositories.User{}, fmt.Errorf("%w: %v", errors.ErrAuthFailed, err)
	}
	user.PasswordHash = ""
	return user, nil
}
