// Package operators manages the human reviewer and admin accounts that
// authenticate against the review service. Credentials are bcrypt
// hashes; authorization scopes are derived from the operator's role
// when a token is issued.
package operators

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// Role determines which scopes an operator's tokens carry.
type Role string

const (
	// RoleReviewer can submit tools and decide human reviews.
	RoleReviewer Role = "reviewer"
	// RoleAdmin additionally manages operators, corpus, and signing.
	RoleAdmin Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleReviewer || r == RoleAdmin
}

// minPasswordLen is deliberately stricter than a consumer product:
// these accounts approve code for signing.
const minPasswordLen = 12

// ErrNotFound is returned when an operator lookup finds no record.
var ErrNotFound = errors.New("operator not found")

// ErrDuplicateEmail is returned when an email is already registered.
var ErrDuplicateEmail = errors.New("email already registered")

// Operator is an authenticated reviewer or admin account.
type Operator struct {
	ID           uuid.UUID `json:"id"         db:"id"`
	Email        string    `json:"email"      db:"email"`
	Name         string    `json:"name"       db:"name"`
	PasswordHash string    `json:"-"          db:"password_hash"`
	Role         Role      `json:"role"       db:"role"`
	Active       bool      `json:"active"     db:"active"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// Repository is the storage contract consumed by Service.
type Repository interface {
	Create(ctx context.Context, op *Operator) error
	GetByID(ctx context.Context, id uuid.UUID) (*Operator, error)
	GetByEmail(ctx context.Context, email string) (*Operator, error)
	List(ctx context.Context) ([]*Operator, error)
	Update(ctx context.Context, op *Operator) error
}

// Service implements operator account management.
type Service struct {
	repo   Repository
	logger *zap.Logger
}

// NewService creates a Service.
func NewService(repo Repository, logger *zap.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// Create registers a new operator account.
func (s *Service) Create(ctx context.Context, email, name, password string, role Role) (*Operator, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("a valid email is required")
	}
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("name is required")
	}
	if len(password) < minPasswordLen {
		return nil, fmt.Errorf("password must be at least %d characters", minPasswordLen)
	}
	if !role.Valid() {
		return nil, fmt.Errorf("unknown role %q", role)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	op := &Operator{
		Email:        email,
		Name:         strings.TrimSpace(name),
		PasswordHash: string(hash),
		Role:         role,
		Active:       true,
	}
	if err := s.repo.Create(ctx, op); err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("create operator: %w", err)
	}

	s.logger.Info("operator created",
		zap.String("operator_id", op.ID.String()),
		zap.String("role", string(op.Role)),
	)
	return op, nil
}

// Authenticate verifies email/password credentials. Unknown accounts and
// wrong passwords return the same generic error.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*Operator, error) {
	op, err := s.repo.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("invalid credentials")
		}
		return nil, fmt.Errorf("lookup operator: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(op.PasswordHash), []byte(password)); err != nil {
		return nil, fmt.Errorf("invalid credentials")
	}
	if !op.Active {
		return nil, fmt.Errorf("account disabled")
	}
	return op, nil
}

// GetByID retrieves an operator by id.
func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*Operator, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns all operator accounts.
func (s *Service) List(ctx context.Context) ([]*Operator, error) {
	return s.repo.List(ctx)
}

// SetActive enables or disables an account. Disabled operators cannot
// authenticate; tokens already issued expire on their own schedule.
func (s *Service) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	op, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if op.Active == active {
		return nil
	}
	op.Active = active
	if err := s.repo.Update(ctx, op); err != nil {
		return fmt.Errorf("update operator: %w", err)
	}
	s.logger.Info("operator active flag changed",
		zap.String("operator_id", id.String()),
		zap.Bool("active", active),
	)
	return nil
}
