// Package identity registers, authenticates and looks up accounts.
package identity

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"messenger-service/internal/models"
	"messenger-service/internal/repositories"
)

const (
	// SearchLimit caps search results.
	SearchLimit = 50

	publicIDMin = 100000
	publicIDMax = 999999
)

var (
	ErrInvalidPassword = errors.New("invalid password")
	ErrInvalidUsername = errors.New("username is required")
)

// RegisterInput carries the fields of a new account.
type RegisterInput struct {
	Username    string
	DisplayName string
	Avatar      string
	Password    string
}

// Service implements the identity store on top of a UserRepository.
type Service struct {
	users    repositories.UserRepository
	publicID func() string
	cost     int
}

// Option customizes a Service.
type Option func(*Service)

// WithPublicIDGenerator replaces the random public id source.
func WithPublicIDGenerator(gen func() string) Option {
	return func(s *Service) { s.publicID = gen }
}

// WithBcryptCost sets the hashing cost.
func WithBcryptCost(cost int) Option {
	return func(s *Service) { s.cost = cost }
}

// NewService constructs a Service.
func NewService(users repositories.UserRepository, opts ...Option) *Service {
	s := &Service{users: users, publicID: randomPublicID, cost: bcrypt.DefaultCost}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func randomPublicID() string {
	return strconv.Itoa(publicIDMin + rand.IntN(publicIDMax-publicIDMin+1))
}

// Register creates an account. Public id collisions are retried until the
// store accepts one or ctx is done.
func (s *Service) Register(ctx context.Context, in RegisterInput) (models.User, error) {
	username := strings.TrimSpace(in.Username)
	if username == "" {
		return models.User{}, ErrInvalidUsername
	}
	displayName := strings.TrimSpace(in.DisplayName)
	if displayName == "" {
		displayName = username
	}
	avatar := strings.TrimSpace(in.Avatar)
	if avatar == "" {
		avatar = models.DefaultAvatar(username)
	}

	var hash string
	if in.Password != "" {
		raw, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
		if err != nil {
			return models.User{}, fmt.Errorf("hash password: %w", err)
		}
		hash = string(raw)
	}

	for {
		user, err := s.users.CreateUser(ctx, models.User{
			Username:     username,
			DisplayName:  displayName,
			Avatar:       avatar,
			PublicID:     s.publicID(),
			PasswordHash: hash,
		})
		if errors.Is(err, repositories.ErrPublicIDTaken) {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return models.User{}, ctxErr
			}
			log.Debug().Str("username", username).Msg("public id collision, retrying")
			continue
		}
		if err != nil {
			return models.User{}, err
		}
		log.Info().Str("username", user.Username).Str("public_id", user.PublicID).Msg("user registered")
		return user, nil
	}
}

// Login verifies credentials. Accounts without a password accept only an
// empty one.
func (s *Service) Login(ctx context.Context, username, password string) (models.User, error) {
	user, err := s.users.GetUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return models.User{}, err
	}
	if user.PasswordHash == "" {
		if password != "" {
			return models.User{}, ErrInvalidPassword
		}
		return user, nil
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return models.User{}, ErrInvalidPassword
	}
	return user, nil
}

// FindByUsername looks up a user case-insensitively.
func (s *Service) FindByUsername(ctx context.Context, username string) (models.User, error) {
	return s.users.GetUserByUsername(ctx, strings.TrimSpace(username))
}

// Search matches query against username, display name and public id.
func (s *Service) Search(ctx context.Context, query string) ([]models.User, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []models.User{}, nil
	}
	return s.users.SearchUsers(ctx, query, SearchLimit)
}

// UpdatePushToken records the device token used for push delivery.
func (s *Service) UpdatePushToken(ctx context.Context, username, token string) error {
	return s.users.UpdatePushToken(ctx, strings.TrimSpace(username), strings.TrimSpace(token))
}
