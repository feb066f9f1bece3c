package exam

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"
)

// ErrBadCredentials is returned by Authenticate for an unknown email or a
// wrong password.
var ErrBadCredentials = errors.New("invalid credentials")

const bcryptCost = 12

type NewProfile struct {
	ID       string `json:"id,omitempty"`
	Email    string `json:"email"`
	FullName string `json:"fullName,omitempty"`
	Role     Role   `json:"role,omitempty"`
	Class    string `json:"class,omitempty"`
	Password string `json:"password,omitempty"`
}

// UpsertProfile creates or updates a profile keyed by email. A password is
// required for new profiles; an empty one keeps the stored hash.
func (s *Service) UpsertProfile(ctx context.Context, in NewProfile) (p Profile, created bool, err error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if email == "" {
		return Profile{}, false, invalid("email is required")
	}
	role := in.Role
	if role == "" {
		role = RoleStudent
	}
	if !role.Valid() {
		return Profile{}, false, invalid("invalid role %q", role)
	}

	p, err = s.store.GetProfileByEmail(ctx, email)
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		if in.Password == "" {
			return Profile{}, false, invalid("password required for new user %s", email)
		}
		id := in.ID
		if id == "" {
			id = s.newID()
		}
		p = Profile{ID: id, CreatedAt: s.clock.Now()}
		created = true
	default:
		return Profile{}, false, err
	}

	p.Email = email
	p.FullName = strings.TrimSpace(in.FullName)
	p.Role = role
	p.Class = strings.TrimSpace(in.Class)
	if in.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcryptCost)
		if err != nil {
			return Profile{}, false, errors.Wrap(err, "hash password")
		}
		p.PasswordHash = string(hash)
	}
	if err := s.store.PutProfile(ctx, p); err != nil {
		return Profile{}, false, err
	}
	return p, created, nil
}

// GetProfile reads a profile, retrying transient storage failures.
func (s *Service) GetProfile(ctx context.Context, id string) (Profile, error) {
	var p Profile
	err := s.fetch(ctx, func(ctx context.Context) error {
		var err error
		p, err = s.store.GetProfile(ctx, id)
		return err
	})
	return p, err
}

func (s *Service) ListProfiles(ctx context.Context, role Role) ([]Profile, error) {
	return s.store.ListProfiles(ctx, role)
}

// Authenticate checks an email and password against the stored hash.
func (s *Service) Authenticate(ctx context.Context, email, password string) (Profile, error) {
	p, err := s.store.GetProfileByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, ErrNotFound) {
		return Profile{}, ErrBadCredentials
	}
	if err != nil {
		return Profile{}, err
	}
	if p.PasswordHash == "" || bcrypt.CompareHashAndPassword([]byte(p.PasswordHash), []byte(password)) != nil {
		return Profile{}, ErrBadCredentials
	}
	return p, nil
}

// ChangePassword verifies the old password before storing the new one.
func (s *Service) ChangePassword(ctx context.Context, id, oldPassword, newPassword string) error {
	if len(newPassword) < 6 {
		return invalid("new password must be at least 6 characters")
	}
	p, err := s.store.GetProfile(ctx, id)
	if err != nil {
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(p.PasswordHash), []byte(oldPassword)) != nil {
		return ErrBadCredentials
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcryptCost)
	if err != nil {
		return errors.Wrap(err, "hash password")
	}
	p.PasswordHash = string(hash)
	return s.store.PutProfile(ctx, p)
}

// EnsureAdmin creates the bootstrap admin from a pre-computed bcrypt hash
// unless a profile with that email exists.
func (s *Service) EnsureAdmin(ctx context.Context, email, passHash string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || passHash == "" {
		return nil
	}
	_, err := s.store.GetProfileByEmail(ctx, email)
	if err == nil || !errors.Is(err, ErrNotFound) {
		return err
	}
	return s.store.PutProfile(ctx, Profile{
		ID:           s.newID(),
		Email:        email,
		FullName:     "Administrator",
		Role:         RoleAdmin,
		PasswordHash: passHash,
		CreatedAt:    s.clock.Now(),
	})
}

// SetRole changes a profile's role. The last admin cannot be demoted.
func (s *Service) SetRole(ctx context.Context, id string, role Role) (Profile, error) {
	if !role.Valid() {
		return Profile{}, invalid("invalid role %q", role)
	}
	p, err := s.store.GetProfile(ctx, id)
	if err != nil {
		return Profile{}, err
	}
	if p.Role == RoleAdmin && role != RoleAdmin {
		admins, err := s.store.ListProfiles(ctx, RoleAdmin)
		if err != nil {
			return Profile{}, err
		}
		if len(admins) <= 1 {
			return Profile{}, invalid("cannot demote the last admin")
		}
	}
	p.Role = role
	if err := s.store.PutProfile(ctx, p); err != nil {
		return Profile{}, err
	}
	return p, nil
}
