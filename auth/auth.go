/*
auth.go - Identity & Role Provider

PURPOSE:
  Authenticates callers and yields principals (identity + role) for the
  engine. The engine itself never sees credentials; it only consumes
  engine.Principal values produced here.

TWO POPULATIONS:
  Clients:      Self-registered participants, unique by dni and email,
                role is always client.
  Admin actors: Provisioned out of band (seeded at startup), fixed role
                validator, responsable, or owner. Never created through
                the public API.

PASSWORDS:
  bcrypt with the default cost. Hashes are stored, never the password.

SEE ALSO:
  - token.go: JWT issue/verify
  - store/sqlite: IdentityStore implementation
*/
package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/promomundial/verification-engine/engine"
)

// =============================================================================
// TYPES
// =============================================================================

// User is a promotion participant. Never deleted; deactivation happens
// outside this system.
type User struct {
	ID           string
	DNI          string
	Email        string
	PasswordHash []byte

	Name       string
	Surname    string
	Phone      string
	Plan       string
	Address    string
	Locality   string
	PostalCode string

	CreatedAt time.Time
}

// AdminActor is a privileged identity with a fixed role.
type AdminActor struct {
	ID           string
	Username     string
	PasswordHash []byte
	Name         string
	Role         engine.Role
}

// IdentityStore persists users and admin actors.
type IdentityStore interface {
	// CreateUser inserts a user. Fails with engine.ErrConflict when the
	// dni or email is already taken.
	CreateUser(ctx context.Context, u User) error
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUserByID(ctx context.Context, id string) (*User, error)
	ListUsers(ctx context.Context) ([]User, error)
	CountUsers(ctx context.Context) (int, error)

	// SaveAdmin upserts an admin actor by username.
	SaveAdmin(ctx context.Context, a AdminActor) error
	GetAdminByUsername(ctx context.Context, username string) (*AdminActor, error)
}

// =============================================================================
// SERVICE
// =============================================================================

// Registration is the input to Register.
type Registration struct {
	DNI        string
	Email      string
	Password   string
	Name       string
	Surname    string
	Phone      string
	Plan       string
	Address    string
	Locality   string
	PostalCode string
}

// Service registers and authenticates callers.
type Service struct {
	Store IdentityStore
}

func NewService(store IdentityStore) *Service {
	return &Service{Store: store}
}

// Register creates a client account. DNI and email must be unique.
func (s *Service) Register(ctx context.Context, reg Registration) (*User, error) {
	if strings.TrimSpace(reg.DNI) == "" {
		return nil, &engine.ValidationError{Field: "dni", Message: "required"}
	}
	if strings.TrimSpace(reg.Email) == "" {
		return nil, &engine.ValidationError{Field: "email", Message: "required"}
	}
	if strings.TrimSpace(reg.Name) == "" {
		return nil, &engine.ValidationError{Field: "name", Message: "required"}
	}
	if len(reg.Password) < 6 {
		return nil, &engine.ValidationError{Field: "password", Message: "too short (min 6)"}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(reg.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("%w: hashing password: %v", engine.ErrInternal, err)
	}

	plan := reg.Plan
	if plan == "" {
		plan = "unspecified"
	}

	user := User{
		ID:           uuid.NewString(),
		DNI:          strings.TrimSpace(reg.DNI),
		Email:        strings.ToLower(strings.TrimSpace(reg.Email)),
		PasswordHash: hash,
		Name:         strings.TrimSpace(reg.Name),
		Surname:      strings.TrimSpace(reg.Surname),
		Phone:        reg.Phone,
		Plan:         plan,
		Address:      reg.Address,
		Locality:     reg.Locality,
		PostalCode:   reg.PostalCode,
		CreatedAt:    time.Now().UTC(),
	}

	if err := s.Store.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Login authenticates a client by email and password. Invalid email and
// invalid password are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, email, password string) (*User, error) {
	user, err := s.Store.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return nil, fmt.Errorf("%w: loading user: %v", engine.ErrInternal, err)
	}
	if user == nil {
		return nil, fmt.Errorf("%w: invalid credentials", engine.ErrUnauthenticated)
	}
	if err := bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(password)); err != nil {
		return nil, fmt.Errorf("%w: invalid credentials", engine.ErrUnauthenticated)
	}
	return user, nil
}

// AdminLogin authenticates an admin actor. The requested role must
// match the actor's provisioned role exactly.
func (s *Service) AdminLogin(ctx context.Context, username, password string, role engine.Role) (*AdminActor, error) {
	admin, err := s.Store.GetAdminByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return nil, fmt.Errorf("%w: loading admin: %v", engine.ErrInternal, err)
	}
	if admin == nil || admin.Role != role {
		return nil, fmt.Errorf("%w: invalid credentials", engine.ErrUnauthenticated)
	}
	if err := bcrypt.CompareHashAndPassword(admin.PasswordHash, []byte(password)); err != nil {
		return nil, fmt.Errorf("%w: invalid credentials", engine.ErrUnauthenticated)
	}
	return admin, nil
}

// =============================================================================
// ADMIN SEEDING
// =============================================================================

// AdminSeed is one out-of-band-provisioned actor.
type AdminSeed struct {
	Username string
	Password string
	Name     string
	Role     engine.Role
}

// SeedAdmins upserts the given actors. Idempotent: re-running with the
// same seeds changes nothing visible.
func (s *Service) SeedAdmins(ctx context.Context, seeds []AdminSeed) error {
	for _, seed := range seeds {
		if !seed.Role.IsAdmin() {
			return &engine.ValidationError{Field: "role", Message: fmt.Sprintf("%q is not an admin role", seed.Role)}
		}

		existing, err := s.Store.GetAdminByUsername(ctx, seed.Username)
		if err != nil {
			return fmt.Errorf("%w: loading admin: %v", engine.ErrInternal, err)
		}
		if existing != nil {
			continue
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(seed.Password), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("%w: hashing password: %v", engine.ErrInternal, err)
		}
		actor := AdminActor{
			ID:           uuid.NewString(),
			Username:     seed.Username,
			PasswordHash: hash,
			Name:         seed.Name,
			Role:         seed.Role,
		}
		if err := s.Store.SaveAdmin(ctx, actor); err != nil {
			return err
		}
		zap.L().Info("seeded admin actor",
			zap.String("username", actor.Username),
			zap.String("role", string(actor.Role)))
	}
	return nil
}

// DefaultAdminSeeds mirrors the promotion's provisioning: one actor per
// admin role. Passwords should come from the environment in production.
func DefaultAdminSeeds(validatorPw, responsablePw, ownerPw string) []AdminSeed {
	return []AdminSeed{
		{Username: "validador", Password: validatorPw, Name: "Validador", Role: engine.RoleValidator},
		{Username: "responsable", Password: responsablePw, Name: "Responsable", Role: engine.RoleResponsable},
		{Username: "owner", Password: ownerPw, Name: "Dueño", Role: engine.RoleOwner},
	}
}
