// Package auth signs users in and issues their session tokens. Accounts are
// invite-only: a new email needs a pending invite whether it signs up with a
// password or arrives through the external identity provider.
package auth

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"farm-dashboard-backend/internal/invite"
	"farm-dashboard-backend/internal/model"
	"farm-dashboard-backend/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInviteRequired     = errors.New("an invite is required to create an account")
	ErrEmailTaken         = errors.New("an account with this email already exists")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
)

const (
	minPasswordLength = 8
	// bcrypt ignores input past 72 bytes.
	maxPasswordLength = 72
	providerPassword  = "credentials"
)

// SignIn is the outcome of a successful sign-in or sign-up.
type SignIn struct {
	User      *model.User `json:"user"`
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expiresAt"`
}

// Service implements sign-in, invite-gated sign-up and admin bootstrap.
type Service struct {
	users      store.UserStore
	invites    *invite.Service
	sessions   *Sessions
	bcryptCost int
	log        *zap.Logger
}

// NewService creates an auth service.
func NewService(users store.UserStore, invites *invite.Service, sessions *Sessions, bcryptCost int, log *zap.Logger) *Service {
	if bcryptCost == 0 {
		bcryptCost = bcrypt.DefaultCost
	}
	return &Service{
		users:      users,
		invites:    invites,
		sessions:   sessions,
		bcryptCost: bcryptCost,
		log:        log.Named("auth"),
	}
}

// Sessions returns the token issuer used by this service.
func (s *Service) Sessions() *Sessions {
	return s.sessions
}

func (s *Service) hashPassword(password string) ([]byte, error) {
	if len(password) < minPasswordLength {
		return nil, ErrWeakPassword
	}
	if len(password) > maxPasswordLength {
		return nil, errors.New("password must be at most 72 bytes")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return nil, errors.Wrap(err, "failed to hash password")
	}
	return hash, nil
}

func (s *Service) issue(user *model.User) (*SignIn, error) {
	token, expiresAt, err := s.sessions.Issue(user)
	if err != nil {
		return nil, err
	}
	return &SignIn{User: user, Token: token, ExpiresAt: expiresAt}, nil
}

// Authenticate resolves a session token against the current user record. A
// token whose user is gone is invalid; role and email come from the record,
// not from the token.
func (s *Service) Authenticate(ctx context.Context, token string) (*Session, error) {
	claimed, err := s.sessions.Parse(token)
	if err != nil {
		return nil, err
	}
	user, err := s.users.FindUser(ctx, claimed.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidSession
	}
	if err != nil {
		return nil, err
	}
	return &Session{UserID: user.ID, Email: user.Email, Role: user.Role}, nil
}

// Login checks an email and password.
func (s *Service) Login(ctx context.Context, email, password string) (*SignIn, error) {
	email, err := invite.NormalizeEmail(email)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	user, err := s.users.FindUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if len(user.PasswordHash) == 0 {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return s.issue(user)
}

// RegisterInput is a password sign-up backed by an invite token.
type RegisterInput struct {
	Email    string
	Name     string
	Password string
	Token    string
}

// Register creates an account from a valid invite and consumes the invite.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*SignIn, error) {
	email, err := invite.NormalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	inv, err := s.invites.Verify(ctx, email, in.Token)
	if err != nil {
		return nil, err
	}
	hash, err := s.hashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	user := &model.User{
		Email:        email,
		Name:         strings.TrimSpace(in.Name),
		Role:         inv.Role,
		PasswordHash: hash,
		Provider:     providerPassword,
	}
	if err := s.createWithInvite(ctx, user, inv.ID); err != nil {
		return nil, err
	}
	return s.issue(user)
}

// SignInExternal signs in an identity already verified by the external
// identity provider. Unknown emails need a pending invite, whose role the new
// account takes.
func (s *Service) SignInExternal(ctx context.Context, email, name, provider string) (*SignIn, error) {
	email, err := invite.NormalizeEmail(email)
	if err != nil {
		return nil, err
	}
	user, err := s.users.FindUserByEmail(ctx, email)
	if err == nil {
		return s.issue(user)
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	inv, err := s.invites.Pending(ctx, email)
	if errors.Is(err, invite.ErrInviteNotFound) || errors.Is(err, invite.ErrInviteExpired) {
		s.log.Info("external sign-in rejected without invite", zap.String("email", email))
		return nil, ErrInviteRequired
	}
	if err != nil {
		return nil, err
	}

	user = &model.User{
		Email:    email,
		Name:     strings.TrimSpace(name),
		Role:     inv.Role,
		Provider: provider,
	}
	if err := s.createWithInvite(ctx, user, inv.ID); err != nil {
		return nil, err
	}
	return s.issue(user)
}

func (s *Service) createWithInvite(ctx context.Context, user *model.User, inviteID string) error {
	err := s.users.CreateUserWithInvite(ctx, user, inviteID, time.Now().UTC())
	if errors.Is(err, store.ErrConflict) {
		// Either the email was registered or the invite consumed concurrently.
		if _, findErr := s.users.FindUserByEmail(ctx, user.Email); findErr == nil {
			return ErrEmailTaken
		}
		return invite.ErrInviteNotFound
	}
	if err != nil {
		return err
	}
	s.log.Info("account created",
		zap.String("user_id", user.ID),
		zap.String("email", user.Email),
		zap.String("role", string(user.Role)),
		zap.String("provider", user.Provider))
	return nil
}

// CreateAdmin bootstraps an administrator account without an invite.
func (s *Service) CreateAdmin(ctx context.Context, email, name, password string) (*model.User, error) {
	email, err := invite.NormalizeEmail(email)
	if err != nil {
		return nil, err
	}
	hash, err := s.hashPassword(password)
	if err != nil {
		return nil, err
	}
	user := &model.User{
		Email:        email,
		Name:         strings.TrimSpace(name),
		Role:         model.RoleAdmin,
		PasswordHash: hash,
		Provider:     providerPassword,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}
	s.log.Info("admin account created", zap.String("user_id", user.ID), zap.String("email", email))
	return user, nil
}
