// Package invite issues and checks single-use sign-up invitations.
package invite

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"farm-dashboard-backend/internal/model"
	"farm-dashboard-backend/internal/store"
)

var (
	ErrInviteNotFound = errors.New("no pending invite for this email")
	ErrInviteExpired  = errors.New("invite has expired")
	ErrInvalidToken   = errors.New("invite token does not match")
	ErrInvalidEmail   = errors.New("invalid email address")
	ErrInvalidRole    = errors.New("invalid role")
)

const tokenBytes = 32

// Service manages invites.
type Service struct {
	invites store.InviteStore
	ttl     time.Duration
	log     *zap.Logger
	now     func() time.Time
}

// NewService creates an invite service whose invites live for ttl.
func NewService(invites store.InviteStore, ttl time.Duration, log *zap.Logger) *Service {
	return &Service{
		invites: invites,
		ttl:     ttl,
		log:     log.Named("invite"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

var validate = validator.New()

// NormalizeEmail lower-cases and trims an address and checks its syntax.
func NormalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if err := validate.Var(email, "required,email,max=320"); err != nil {
		return "", ErrInvalidEmail
	}
	return email, nil
}

// HashToken returns the hex SHA-256 of a raw invite token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func newToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", errors.Wrap(err, "failed to generate invite token")
	}
	return hex.EncodeToString(b), nil
}

// Create issues an invite for email. The raw token is returned only here;
// the store keeps its hash. Any older pending invite for the email is revoked.
func (s *Service) Create(ctx context.Context, email string, role model.Role, invitedBy string) (string, *model.Invite, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return "", nil, err
	}
	if role == "" {
		role = model.RoleUser
	}
	if !role.Valid() {
		return "", nil, ErrInvalidRole
	}

	token, err := newToken()
	if err != nil {
		return "", nil, err
	}
	now := s.now()
	inv := &model.Invite{
		Email:     email,
		TokenHash: HashToken(token),
		Role:      role,
		Status:    model.InvitePending,
		ExpiresAt: now.Add(s.ttl),
		InvitedBy: invitedBy,
		CreatedAt: now,
	}
	if err := s.invites.CreateInvite(ctx, inv); err != nil {
		return "", nil, err
	}

	s.log.Info("invite created",
		zap.String("invite_id", inv.ID),
		zap.String("email", email),
		zap.String("role", string(role)),
		zap.String("invited_by", invitedBy))
	return token, inv, nil
}

// Pending returns the live invite for email without checking a token. Used
// for identities vouched for by the external identity provider.
func (s *Service) Pending(ctx context.Context, email string) (*model.Invite, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return nil, err
	}
	inv, err := s.invites.FindPendingInvite(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInviteNotFound
	}
	if err != nil {
		return nil, err
	}
	if inv.Expired(s.now()) {
		return nil, ErrInviteExpired
	}
	return inv, nil
}

// Verify checks that token matches the pending, unexpired invite for email.
func (s *Service) Verify(ctx context.Context, email, token string) (*model.Invite, error) {
	inv, err := s.Pending(ctx, email)
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare([]byte(HashToken(strings.TrimSpace(token))), []byte(inv.TokenHash)) != 1 {
		return nil, ErrInvalidToken
	}
	return inv, nil
}

// Consume marks an invite used. A second consume fails with ErrInviteNotFound.
func (s *Service) Consume(ctx context.Context, id string) error {
	err := s.invites.MarkInviteUsed(ctx, id, s.now())
	if errors.Is(err, store.ErrConflict) {
		return ErrInviteNotFound
	}
	return err
}

// Revoke cancels a pending invite.
func (s *Service) Revoke(ctx context.Context, id string) error {
	err := s.invites.RevokeInvite(ctx, id)
	if errors.Is(err, store.ErrConflict) {
		return ErrInviteNotFound
	}
	if err == nil {
		s.log.Info("invite revoked", zap.String("invite_id", id))
	}
	return err
}

func (s *Service) List(ctx context.Context) ([]model.Invite, error) {
	return s.invites.ListInvites(ctx)
}
