package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"warrn-service/database"
	"warrn-service/models"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// Service handles user registration, login and token validation
type Service struct {
	db          *database.Database
	jwtSecret   []byte
	tokenExpiry time.Duration
}

// NewService creates a new authentication service instance
func NewService(db *database.Database, jwtSecret string, tokenExpiry time.Duration) *Service {
	return &Service{
		db:          db,
		jwtSecret:   []byte(jwtSecret),
		tokenExpiry: tokenExpiry,
	}
}

// Register creates a new user account. The first account ever created is
// promoted to admin by the user store.
func (s *Service) Register(ctx context.Context, req models.RegisterRequest) (*models.User, error) {
	exists, err := s.db.UserExists(ctx, req.Username, req.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to check user existence: %w", err)
	}
	if exists {
		return nil, errors.New("user already exists")
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	return s.db.CreateUser(ctx, req.Username, req.Email, string(passwordHash), models.RoleResponder)
}

// Login verifies credentials and returns a signed access token.
func (s *Service) Login(ctx context.Context, req models.LoginRequest) (*models.TokenResponse, error) {
	user, err := s.db.GetUserByUsername(ctx, req.Username)
	if err != nil {
		return nil, errors.New("invalid credentials")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, errors.New("invalid credentials")
	}

	token, err := s.GenerateToken(user)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	return &models.TokenResponse{
		Token:     token,
		TokenType: "Bearer",
		ExpiresIn: int(s.tokenExpiry.Seconds()),
		User:      user,
	}, nil
}

// GenerateToken issues an HS256 JWT carrying the user id and role.
func (s *Service) GenerateToken(user *models.User) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id":  user.ID,
		"username": user.Username,
		"role":     user.Role,
		"exp":      now.Add(s.tokenExpiry).Unix(),
		"iat":      now.Unix(),
	})
	return token.SignedString(s.jwtSecret)
}

// Claims is the verified identity carried by an access token.
type Claims struct {
	UserID   int64
	Username string
	Role     string
}

// ValidateToken parses and verifies a token, returning its claims.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return s.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return nil, errors.New("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("invalid token claims")
	}

	userID, ok := claims["user_id"].(float64)
	if !ok {
		return nil, errors.New("invalid user id in token")
	}
	username, _ := claims["username"].(string)
	role, ok := claims["role"].(string)
	if !ok {
		return nil, errors.New("invalid role in token")
	}

	return &Claims{UserID: int64(userID), Username: username, Role: role}, nil
}
